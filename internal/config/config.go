// Package config loads linectl.toml onto defaults.
package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/linectl/internal/protocol/session"
	"github.com/danmuck/linectl/internal/transport"
)

var ErrInvalidDelimiter = errors.New("config: delimiter must be a single byte")

// Config is the resolved runtime configuration for linectl.
type Config struct {
	Target    string
	Reconnect bool
	Session   session.Config
	Transport transport.Config
	HTTP      HTTPConfig
	History   HistoryConfig
}

// HTTPConfig controls the console server. An empty Addr disables it.
type HTTPConfig struct {
	Addr        string
	CorsOrigins []string
}

// HistoryConfig controls message persistence. An empty Path disables it.
type HistoryConfig struct {
	Path string
}

func Default() Config {
	return Config{
		Session:   session.DefaultConfig(),
		Transport: transport.DefaultConfig(),
		HTTP: HTTPConfig{
			CorsOrigins: []string{"http://localhost:3000"},
		},
	}
}

// linectl.toml key mapping.
type fileConfig struct {
	Target             string        `toml:"target"`
	Reconnect          bool          `toml:"reconnect"`
	Delimiter          string        `toml:"delimiter"`
	MaxFrameBytes      int           `toml:"max_frame_bytes"`
	ReadBufferBytes    int           `toml:"read_buffer_bytes"`
	PollInterval       string        `toml:"poll_interval"`
	ConnectTimeout     string        `toml:"connect_timeout"`
	WriteTimeout       string        `toml:"write_timeout"`
	MaxConnectAttempts int           `toml:"max_connect_attempts"`
	Backoff            backoffFile   `toml:"backoff"`
	HTTP               httpFile      `toml:"http"`
	History            historyFile   `toml:"history"`
	Serial             serialFile    `toml:"serial"`
	SSH                sshFile       `toml:"ssh"`
	WebSocket          websocketFile `toml:"websocket"`
}

type backoffFile struct {
	InitialDelay string  `toml:"initial_delay"`
	Multiplier   float64 `toml:"multiplier"`
	MaxDelay     string  `toml:"max_delay"`
	Jitter       bool    `toml:"jitter"`
}

type httpFile struct {
	Addr        string   `toml:"addr"`
	CorsOrigins []string `toml:"cors_origins"`
}

type historyFile struct {
	Path string `toml:"path"`
}

type serialFile struct {
	Baud int `toml:"baud"`
}

type sshFile struct {
	User          string `toml:"user"`
	KeyPath       string `toml:"key_path"`
	KnownHosts    string `toml:"known_hosts"`
	Insecure      bool   `toml:"insecure_skip_host_key_checking"`
	RemoteCommand string `toml:"remote_command"`
	Timeout       string `toml:"timeout"`
}

type websocketFile struct {
	Binary           bool   `toml:"binary"`
	HandshakeTimeout string `toml:"handshake_timeout"`
}

// Load decodes path and overlays every defined key on Default. An empty path
// returns the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if strings.TrimSpace(path) == "" {
		return cfg, nil
	}

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("load linectl config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("load linectl config: unknown key %q", undecoded[0].String())
	}

	if meta.IsDefined("target") {
		cfg.Target = strings.TrimSpace(raw.Target)
	}
	if meta.IsDefined("reconnect") {
		cfg.Reconnect = raw.Reconnect
	}
	if meta.IsDefined("delimiter") {
		delim, err := ParseDelimiter(raw.Delimiter)
		if err != nil {
			return Config{}, fmt.Errorf("load linectl config: %w", err)
		}
		cfg.Session.Delimiter = delim
	}
	if meta.IsDefined("max_frame_bytes") {
		cfg.Session.MaxFrameBytes = raw.MaxFrameBytes
	}
	if meta.IsDefined("read_buffer_bytes") {
		cfg.Session.ReadBufferBytes = raw.ReadBufferBytes
	}
	if meta.IsDefined("max_connect_attempts") {
		cfg.Session.MaxConnectAttempts = raw.MaxConnectAttempts
	}
	if meta.IsDefined("backoff", "multiplier") {
		cfg.Session.Backoff.Multiplier = raw.Backoff.Multiplier
	}
	if meta.IsDefined("backoff", "jitter") {
		cfg.Session.Backoff.Jitter = raw.Backoff.Jitter
	}

	durations := []struct {
		key []string
		val string
		dst *time.Duration
	}{
		{[]string{"poll_interval"}, raw.PollInterval, &cfg.Session.PollInterval},
		{[]string{"connect_timeout"}, raw.ConnectTimeout, &cfg.Session.ConnectTimeout},
		{[]string{"write_timeout"}, raw.WriteTimeout, &cfg.Session.WriteTimeout},
		{[]string{"backoff", "initial_delay"}, raw.Backoff.InitialDelay, &cfg.Session.Backoff.InitialDelay},
		{[]string{"backoff", "max_delay"}, raw.Backoff.MaxDelay, &cfg.Session.Backoff.MaxDelay},
		{[]string{"ssh", "timeout"}, raw.SSH.Timeout, &cfg.Transport.SSH.Timeout},
		{[]string{"websocket", "handshake_timeout"}, raw.WebSocket.HandshakeTimeout, &cfg.Transport.WebSocket.HandshakeTimeout},
	}
	for _, d := range durations {
		if !meta.IsDefined(d.key...) {
			continue
		}
		parsed, err := time.ParseDuration(strings.TrimSpace(d.val))
		if err != nil {
			return Config{}, fmt.Errorf("load linectl config: %s: %w", strings.Join(d.key, "."), err)
		}
		*d.dst = parsed
	}
	if meta.IsDefined("connect_timeout") {
		cfg.Transport.DialTimeout = cfg.Session.ConnectTimeout
	}

	if meta.IsDefined("http", "addr") {
		cfg.HTTP.Addr = strings.TrimSpace(raw.HTTP.Addr)
	}
	if meta.IsDefined("http", "cors_origins") {
		cfg.HTTP.CorsOrigins = raw.HTTP.CorsOrigins
	}
	if meta.IsDefined("history", "path") {
		cfg.History.Path = strings.TrimSpace(raw.History.Path)
	}
	if meta.IsDefined("serial", "baud") {
		cfg.Transport.Serial.Baud = raw.Serial.Baud
	}
	if meta.IsDefined("ssh", "user") {
		cfg.Transport.SSH.User = strings.TrimSpace(raw.SSH.User)
	}
	if meta.IsDefined("ssh", "key_path") {
		cfg.Transport.SSH.KeyPath = strings.TrimSpace(raw.SSH.KeyPath)
	}
	if meta.IsDefined("ssh", "known_hosts") {
		cfg.Transport.SSH.KnownHostsPath = strings.TrimSpace(raw.SSH.KnownHosts)
	}
	if meta.IsDefined("ssh", "insecure_skip_host_key_checking") {
		cfg.Transport.SSH.InsecureSkipHostKeyChecking = raw.SSH.Insecure
	}
	if meta.IsDefined("ssh", "remote_command") {
		cfg.Transport.SSH.RemoteCommand = raw.SSH.RemoteCommand
	}
	if meta.IsDefined("websocket", "binary") {
		cfg.Transport.WebSocket.Binary = raw.WebSocket.Binary
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if err := c.Session.Validate(); err != nil {
		return fmt.Errorf("linectl config invalid: %w", err)
	}
	if c.Target != "" {
		if _, err := transport.ParseTarget(c.Target); err != nil {
			return fmt.Errorf("linectl config invalid: %w", err)
		}
	}
	if c.Transport.Serial.Baud < 0 {
		return fmt.Errorf("linectl config invalid: serial baud must not be negative")
	}
	return nil
}

// ParseDelimiter accepts a one-byte string, an escape name (\n, \r, \t, \0)
// or a hex byte such as 0x0a.
func ParseDelimiter(raw string) (byte, error) {
	switch raw {
	case `\n`:
		return '\n', nil
	case `\r`:
		return '\r', nil
	case `\t`:
		return '\t', nil
	case `\0`:
		return 0, nil
	}
	if len(raw) == 1 {
		return raw[0], nil
	}
	lower := strings.ToLower(strings.TrimSpace(raw))
	if strings.HasPrefix(lower, "0x") {
		v, err := strconv.ParseUint(lower[2:], 16, 8)
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrInvalidDelimiter, raw)
		}
		return byte(v), nil
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidDelimiter, raw)
}

// FormatDelimiter is the inverse of ParseDelimiter for template output.
func FormatDelimiter(b byte) string {
	switch b {
	case '\n':
		return `\n`
	case '\r':
		return `\r`
	case '\t':
		return `\t`
	case 0:
		return `\0`
	}
	if b >= 0x21 && b < 0x7f {
		return string([]byte{b})
	}
	return fmt.Sprintf("0x%02x", b)
}
