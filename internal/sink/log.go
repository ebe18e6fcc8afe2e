package sink

import (
	"github.com/danmuck/linectl/internal/protocol/session"
	"github.com/rs/zerolog"
)

// Log records messages at debug level and errors at warn/error level.
type Log struct {
	logger zerolog.Logger
}

func NewLog(logger zerolog.Logger) *Log {
	return &Log{logger: logger}
}

func (l *Log) OnMessage(text string) {
	l.logger.Debug().Str("text", text).Int("bytes", len(text)).Msg("sink.Log message")
}

func (l *Log) OnError(err error) {
	event := l.logger.Warn()
	if session.Fatal(err) {
		event = l.logger.Error()
	}
	event.Str("kind", string(session.KindOf(err))).Err(err).Msg("sink.Log error")
}
