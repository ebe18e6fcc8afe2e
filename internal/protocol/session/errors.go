package session

import (
	"errors"

	"github.com/danmuck/linectl/internal/protocol/line"
)

var (
	ErrTransportRequired   = errors.New("session: transport required")
	ErrTransportOpenFailed = errors.New("session: transport open failed")
	ErrTransportRead       = errors.New("session: transport read failed")
	ErrTransportWrite      = errors.New("session: transport write failed")
	ErrNotConnected        = errors.New("session: not connected")
	ErrAlreadyConnected    = errors.New("session: already connected")
	ErrSessionClosed       = errors.New("session: closed while connecting")

	// ErrInvalidTarget marks open failures that no retry can fix.
	ErrInvalidTarget = errors.New("session: invalid target")
)

// ErrorKind is a stable label for an error class, used in logs and metrics.
type ErrorKind string

const (
	KindInvalidTarget       ErrorKind = "invalid_target"
	KindTransportOpenFailed ErrorKind = "transport_open_failed"
	KindTransportRead       ErrorKind = "transport_read"
	KindTransportWrite      ErrorKind = "transport_write"
	KindDecode              ErrorKind = "decode"
	KindFrameTooLarge       ErrorKind = "frame_too_large"
	KindNotConnected        ErrorKind = "not_connected"
	KindUnknown             ErrorKind = "unknown"
)

func KindOf(err error) ErrorKind {
	switch {
	case errors.Is(err, ErrInvalidTarget):
		return KindInvalidTarget
	case errors.Is(err, ErrTransportOpenFailed):
		return KindTransportOpenFailed
	case errors.Is(err, ErrTransportRead):
		return KindTransportRead
	case errors.Is(err, ErrTransportWrite):
		return KindTransportWrite
	case errors.Is(err, line.ErrInvalidUTF8):
		return KindDecode
	case errors.Is(err, line.ErrFrameTooLarge):
		return KindFrameTooLarge
	case errors.Is(err, ErrNotConnected):
		return KindNotConnected
	default:
		return KindUnknown
	}
}

// Fatal reports whether err ended the session it was raised on.
func Fatal(err error) bool {
	return errors.Is(err, ErrTransportRead) || errors.Is(err, ErrTransportOpenFailed)
}
