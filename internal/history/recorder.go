package history

import (
	"context"
	"sync"
	"time"

	"github.com/danmuck/linectl/internal/protocol/session"
	"github.com/rs/zerolog/log"
)

const writeTimeout = 2 * time.Second

// Recorder is a session.Sink that stores every callback. Store failures are
// logged; they never reach the session.
type Recorder struct {
	db *DB

	mu     sync.RWMutex
	target string
}

func NewRecorder(db *DB) *Recorder {
	return &Recorder{db: db}
}

// SetTarget tags subsequent rows with target.
func (r *Recorder) SetTarget(target string) {
	r.mu.Lock()
	r.target = target
	r.mu.Unlock()
}

func (r *Recorder) OnMessage(text string) {
	r.insert(Entry{Direction: DirectionIn, Text: text})
}

func (r *Recorder) OnError(err error) {
	r.insert(Entry{Direction: DirectionError, Text: err.Error(), Kind: string(session.KindOf(err))})
}

// RecordSent stores a line that was written to the peer.
func (r *Recorder) RecordSent(text string) {
	r.insert(Entry{Direction: DirectionOut, Text: text})
}

func (r *Recorder) insert(e Entry) {
	r.mu.RLock()
	e.Target = r.target
	r.mu.RUnlock()

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if _, err := r.db.Insert(ctx, e); err != nil {
		log.Warn().Err(err).Str("direction", string(e.Direction)).Msg("history.Recorder insert failed")
	}
}
