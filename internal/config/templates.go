package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/danmuck/linectl/internal/transport"
	"github.com/pelletier/go-toml/v2"
)

var templateHeader = `# linectl configuration.
# target forms: host:port, tcp://host:port, /dev/rfcomm0, serial:///dev/rfcomm0,
# ssh://user@host/dev/rfcomm0, ws://host/path
# Bluetooth peers: bind the device's Serial Port Profile channel
# (service ` + transport.SPPUUID + `) with rfcomm, then target /dev/rfcommN.
`

// Template renders the config for kind with every key set to its default.
func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "linectl", "":
	default:
		return "", fmt.Errorf("unknown config kind: %s", kind)
	}
	body, err := toml.Marshal(toFile(templateConfig()))
	if err != nil {
		return "", fmt.Errorf("render %s template: %w", kind, err)
	}
	return templateHeader + string(body), nil
}

func WriteTemplate(path, kind string, overwrite bool) error {
	template, err := Template(kind)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

func templateConfig() Config {
	cfg := Default()
	cfg.Target = "/dev/rfcomm0"
	cfg.HTTP.Addr = "127.0.0.1:9300"
	cfg.History.Path = "linectl.db"
	return cfg
}

func toFile(c Config) fileConfig {
	s := c.Session
	t := c.Transport
	return fileConfig{
		Target:             c.Target,
		Reconnect:          c.Reconnect,
		Delimiter:          FormatDelimiter(s.Delimiter),
		MaxFrameBytes:      s.MaxFrameBytes,
		ReadBufferBytes:    s.ReadBufferBytes,
		PollInterval:       s.PollInterval.String(),
		ConnectTimeout:     s.ConnectTimeout.String(),
		WriteTimeout:       s.WriteTimeout.String(),
		MaxConnectAttempts: s.MaxConnectAttempts,
		Backoff: backoffFile{
			InitialDelay: s.Backoff.InitialDelay.String(),
			Multiplier:   s.Backoff.Multiplier,
			MaxDelay:     s.Backoff.MaxDelay.String(),
			Jitter:       s.Backoff.Jitter,
		},
		HTTP:    httpFile{Addr: c.HTTP.Addr, CorsOrigins: c.HTTP.CorsOrigins},
		History: historyFile{Path: c.History.Path},
		Serial:  serialFile{Baud: t.Serial.Baud},
		SSH: sshFile{
			User:          t.SSH.User,
			KeyPath:       t.SSH.KeyPath,
			KnownHosts:    t.SSH.KnownHostsPath,
			Insecure:      t.SSH.InsecureSkipHostKeyChecking,
			RemoteCommand: t.SSH.RemoteCommand,
			Timeout:       t.SSH.Timeout.String(),
		},
		WebSocket: websocketFile{
			Binary:           t.WebSocket.Binary,
			HandshakeTimeout: t.WebSocket.HandshakeTimeout.String(),
		},
	}
}
