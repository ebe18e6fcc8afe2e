package transport

import (
	"context"
	"fmt"
	"os"

	"github.com/danmuck/linectl/internal/protocol/session"
)

// Serial opens a local character device such as /dev/rfcomm0 or /dev/ttyUSB0.
// Terminal devices are switched to raw 8N1 at Baud; other files are used as-is.
type Serial struct {
	Baud int
}

func (s Serial) Dial(ctx context.Context, target Target) (session.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(target.Path, serialOpenFlags, 0)
	if err != nil {
		return nil, err
	}
	if err := configureTTY(f, s.Baud); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("transport: configure %s: %w", target.Path, err)
	}
	return f, nil
}
