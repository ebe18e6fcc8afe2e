package session

import (
	"fmt"
	"time"

	"github.com/danmuck/linectl/internal/protocol/line"
)

// BackoffConfig defines retry backoff behavior.
type BackoffConfig struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	Jitter       bool
}

// Config defines framing and transport timing for one Session.
//
// Delimiter is used as given, including 0x00; start from DefaultConfig.
type Config struct {
	Delimiter       byte
	MaxFrameBytes   int
	ReadBufferBytes int
	// PollInterval bounds each read on conns that support read deadlines and
	// paces retries after zero-length reads.
	PollInterval   time.Duration
	ConnectTimeout time.Duration
	WriteTimeout   time.Duration
	// MaxConnectAttempts caps ConnectWithRetry; 0 retries until ctx is done.
	MaxConnectAttempts int
	Backoff            BackoffConfig
}

func DefaultConfig() Config {
	return Config{
		Delimiter:          line.DefaultDelimiter,
		MaxFrameBytes:      line.DefaultMaxFrameBytes,
		ReadBufferBytes:    1024,
		PollInterval:       250 * time.Millisecond,
		ConnectTimeout:     10 * time.Second,
		WriteTimeout:       5 * time.Second,
		MaxConnectAttempts: 1,
		Backoff: BackoffConfig{
			InitialDelay: 250 * time.Millisecond,
			Multiplier:   2.0,
			MaxDelay:     5 * time.Second,
			Jitter:       true,
		},
	}
}

// WithDefaults fills unset sizes and durations from DefaultConfig.
func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if c.MaxFrameBytes <= 0 {
		c.MaxFrameBytes = def.MaxFrameBytes
	}
	if c.ReadBufferBytes <= 0 {
		c.ReadBufferBytes = def.ReadBufferBytes
	}
	if c.PollInterval <= 0 {
		c.PollInterval = def.PollInterval
	}
	if c.Backoff.InitialDelay <= 0 {
		c.Backoff.InitialDelay = def.Backoff.InitialDelay
	}
	if c.Backoff.Multiplier <= 0 {
		c.Backoff.Multiplier = def.Backoff.Multiplier
	}
	if c.Backoff.MaxDelay <= 0 {
		c.Backoff.MaxDelay = def.Backoff.MaxDelay
	}
	return c
}

func (c Config) Validate() error {
	if c.MaxFrameBytes <= 0 {
		return fmt.Errorf("session: max_frame_bytes must be positive")
	}
	if c.ReadBufferBytes <= 0 {
		return fmt.Errorf("session: read_buffer_bytes must be positive")
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("session: poll_interval must be positive")
	}
	if c.ConnectTimeout < 0 || c.WriteTimeout < 0 {
		return fmt.Errorf("session: timeouts must not be negative")
	}
	if c.MaxConnectAttempts < 0 {
		return fmt.Errorf("session: max_connect_attempts must not be negative")
	}
	return nil
}

func (c Config) Codec() line.Codec {
	return line.Codec{
		Delimiter: c.Delimiter,
		Limits:    line.Limits{MaxFrameBytes: c.MaxFrameBytes},
	}
}
