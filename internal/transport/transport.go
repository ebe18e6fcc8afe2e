// Package transport provides concrete session.Transport implementations and a
// scheme-dispatching Mux.
//
// Target forms:
//
//	host:port, tcp://host:port
//	/dev/rfcomm0, serial:///dev/rfcomm0
//	ssh://user@host[:port]/dev/rfcomm0
//	ws://host/path, wss://host/path
package transport

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/danmuck/linectl/internal/protocol/session"
)

// SPPUUID is the Bluetooth Serial Port Profile service class. RFCOMM devices
// bound to it (rfcomm bind) appear as /dev/rfcommN serial targets.
const SPPUUID = "00001101-0000-1000-8000-00805f9b34fb"

const (
	SchemeTCP       = "tcp"
	SchemeSerial    = "serial"
	SchemeSSH       = "ssh"
	SchemeWebSocket = "ws"
)

// Target parse errors also match session.ErrInvalidTarget, so the session
// does not retry them.
var (
	ErrTargetRequired    error = targetError("transport: target required")
	ErrUnsupportedScheme error = targetError("transport: unsupported target scheme")
	ErrInvalidTarget     error = targetError("transport: invalid target")
)

type targetError string

func (e targetError) Error() string { return string(e) }

func (e targetError) Is(target error) bool { return target == session.ErrInvalidTarget }

// Target is a parsed peer address.
type Target struct {
	Scheme  string
	Address string
	Path    string
	User    string
	Raw     string
}

func ParseTarget(raw string) (Target, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Target{}, ErrTargetRequired
	}
	if strings.HasPrefix(raw, "/") {
		return Target{Scheme: SchemeSerial, Path: raw, Raw: raw}, nil
	}
	if !strings.Contains(raw, "://") {
		if _, _, err := net.SplitHostPort(raw); err != nil {
			return Target{}, fmt.Errorf("%w: %q: %v", ErrInvalidTarget, raw, err)
		}
		return Target{Scheme: SchemeTCP, Address: raw, Raw: raw}, nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		return Target{}, fmt.Errorf("%w: %q: %v", ErrInvalidTarget, raw, err)
	}
	t := Target{Raw: raw}
	switch strings.ToLower(u.Scheme) {
	case "tcp":
		t.Scheme = SchemeTCP
		t.Address = u.Host
		if _, _, err := net.SplitHostPort(t.Address); err != nil {
			return Target{}, fmt.Errorf("%w: %q: %v", ErrInvalidTarget, raw, err)
		}
	case "serial", "file", "rfcomm":
		t.Scheme = SchemeSerial
		t.Path = u.Path
	case "ssh":
		t.Scheme = SchemeSSH
		t.Address = u.Host
		t.Path = u.Path
		if u.User != nil {
			t.User = u.User.Username()
		}
		if t.Address == "" {
			return Target{}, fmt.Errorf("%w: %q: missing host", ErrInvalidTarget, raw)
		}
	case "ws", "wss":
		t.Scheme = SchemeWebSocket
		t.Address = raw
	default:
		return Target{}, fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
	}
	if t.Scheme == SchemeSerial || t.Scheme == SchemeSSH {
		if t.Path == "" || t.Path == "/" {
			return Target{}, fmt.Errorf("%w: %q: missing device path", ErrInvalidTarget, raw)
		}
	}
	return t, nil
}

// Config carries per-transport settings for a Mux.
type Config struct {
	DialTimeout time.Duration
	Serial      Serial
	SSH         SSH
	WebSocket   WebSocket
}

func DefaultConfig() Config {
	return Config{
		DialTimeout: 10 * time.Second,
		Serial:      Serial{Baud: 9600},
		SSH:         SSH{Timeout: 10 * time.Second},
		WebSocket:   WebSocket{HandshakeTimeout: 10 * time.Second},
	}
}

// Mux opens targets by scheme. It implements session.Transport.
type Mux struct {
	tcp    TCP
	serial Serial
	ssh    SSH
	ws     WebSocket
}

func New(cfg Config) *Mux {
	return &Mux{
		tcp:    TCP{Timeout: cfg.DialTimeout},
		serial: cfg.Serial,
		ssh:    cfg.SSH,
		ws:     cfg.WebSocket,
	}
}

func (m *Mux) Open(ctx context.Context, raw string) (session.Conn, error) {
	target, err := ParseTarget(raw)
	if err != nil {
		return nil, err
	}
	switch target.Scheme {
	case SchemeTCP:
		return m.tcp.Dial(ctx, target)
	case SchemeSerial:
		return m.serial.Dial(ctx, target)
	case SchemeSSH:
		return m.ssh.Dial(ctx, target)
	case SchemeWebSocket:
		return m.ws.Dial(ctx, target)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, target.Scheme)
	}
}
