package line

import (
	"errors"
	"strings"
)

const (
	DefaultDelimiter     byte = '\n'
	DefaultMaxFrameBytes      = 64 * 1024
)

var (
	ErrFrameTooLarge = errors.New("line: frame too large")
	ErrInvalidUTF8   = errors.New("line: invalid utf-8 in frame")
)

// Limits constrains decoder memory use.
type Limits struct {
	MaxFrameBytes int
}

func DefaultLimits() Limits {
	return Limits{MaxFrameBytes: DefaultMaxFrameBytes}
}

// Message is one decoded frame. Err is set when the frame was dropped.
type Message struct {
	Text string
	Err  error
}

// Codec pairs a delimiter with decoder limits for one session.
type Codec struct {
	Delimiter byte
	Limits    Limits
}

func DefaultCodec() Codec {
	return Codec{Delimiter: DefaultDelimiter, Limits: DefaultLimits()}
}

func (c Codec) NewDecoder() *Decoder {
	return NewDecoder(c.Delimiter, c.Limits)
}

func (c Codec) Encode(msg string) []byte {
	return Encode(msg, c.Delimiter)
}

// ContainsDelimiter reports whether msg would be split by a peer decoding with delim.
func ContainsDelimiter(msg string, delim byte) bool {
	return strings.IndexByte(msg, delim) >= 0
}
