package sink

import (
	"fmt"
	"io"
	"sync"

	"github.com/danmuck/linectl/internal/protocol/session"
)

// Writer prints each message on its own line. Output is appended; earlier
// messages are never rewritten.
type Writer struct {
	mu     sync.Mutex
	out    io.Writer
	errOut io.Writer
	prefix string
}

// NewWriter writes messages to out and errors to errOut. A nil errOut drops errors.
func NewWriter(out, errOut io.Writer, prefix string) *Writer {
	return &Writer{out: out, errOut: errOut, prefix: prefix}
}

func (w *Writer) OnMessage(text string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	fmt.Fprintf(w.out, "%s%s\n", w.prefix, text)
}

func (w *Writer) OnError(err error) {
	if w.errOut == nil {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	fmt.Fprintf(w.errOut, "! %s: %v\n", session.KindOf(err), err)
}
