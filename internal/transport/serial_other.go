//go:build !linux

package transport

import "os"

const serialOpenFlags = os.O_RDWR

// configureTTY is a no-op off Linux; the device keeps its current line settings.
func configureTTY(_ *os.File, _ int) error {
	return nil
}
