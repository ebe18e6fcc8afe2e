package line

import (
	"fmt"
	"unicode/utf8"
)

// Decoder accumulates stream bytes and splits them into delimiter-terminated
// frames. It is not safe for concurrent use; each session owns one.
type Decoder struct {
	delim      byte
	max        int
	buf        []byte
	discarding bool
}

func NewDecoder(delim byte, limits Limits) *Decoder {
	limit := limits.MaxFrameBytes
	if limit <= 0 {
		limit = DefaultMaxFrameBytes
	}
	return &Decoder{delim: delim, max: limit}
}

// Feed consumes one chunk and returns the frames it completed, in stream order.
// A frame that overflows the limit yields one ErrFrameTooLarge entry and every
// byte up to the next delimiter is dropped.
func (d *Decoder) Feed(chunk []byte) []Message {
	var out []Message
	for _, b := range chunk {
		if b == d.delim {
			if d.discarding {
				d.discarding = false
				d.buf = d.buf[:0]
				continue
			}
			out = append(out, d.flush())
			continue
		}
		if d.discarding {
			continue
		}
		if len(d.buf)+1 > d.max {
			out = append(out, Message{
				Err: fmt.Errorf("%w: exceeds %d bytes", ErrFrameTooLarge, d.max),
			})
			d.buf = d.buf[:0]
			d.discarding = true
			continue
		}
		d.buf = append(d.buf, b)
	}
	return out
}

// Pending returns the number of buffered bytes of the incomplete frame.
func (d *Decoder) Pending() int {
	return len(d.buf)
}

// Reset drops any partial frame.
func (d *Decoder) Reset() {
	d.buf = d.buf[:0]
	d.discarding = false
}

func (d *Decoder) flush() Message {
	defer func() { d.buf = d.buf[:0] }()
	if !utf8.Valid(d.buf) {
		return Message{Err: fmt.Errorf("%w (%d bytes)", ErrInvalidUTF8, len(d.buf))}
	}
	return Message{Text: string(d.buf)}
}
