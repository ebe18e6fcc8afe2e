package sink

import "github.com/danmuck/linectl/internal/protocol/session"

// Outbound is implemented by sinks that also track lines written to the peer.
type Outbound interface {
	RecordSent(text string)
}

// Multi fans each callback out to every sink, in order.
type Multi []session.Sink

func NewMulti(sinks ...session.Sink) Multi {
	out := make(Multi, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

func (m Multi) OnMessage(text string) {
	for _, s := range m {
		s.OnMessage(text)
	}
}

func (m Multi) OnError(err error) {
	for _, s := range m {
		s.OnError(err)
	}
}

// RecordSent forwards to every member that implements Outbound.
func (m Multi) RecordSent(text string) {
	for _, s := range m {
		if o, ok := s.(Outbound); ok {
			o.RecordSent(text)
		}
	}
}
