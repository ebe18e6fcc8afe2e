package transport

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/linectl/internal/protocol/session"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// DevicePlaceholder in SSH.RemoteCommand is replaced by the quoted device path.
const DevicePlaceholder = "{device}"

func joinCommand(cmd string, args []string) string {
	if len(args) == 0 {
		return shellEscape(cmd)
	}

	var builder strings.Builder
	builder.WriteString(shellEscape(cmd))
	for _, arg := range args {
		builder.WriteByte(' ')
		builder.WriteString(shellEscape(arg))
	}

	return builder.String()
}

func shellEscape(value string) string {
	if value == "" {
		return "''"
	}

	return "'" + strings.ReplaceAll(value, "'", `'"'"'`) + "'"
}

// SSH reaches a serial device on a remote host by running a relay command
// (socat by default) whose stdin/stdout carry the byte stream.
type SSH struct {
	User                        string
	KeyPath                     string
	Passphrase                  []byte
	KnownHostsPath              string
	InsecureSkipHostKeyChecking bool
	Timeout                     time.Duration
	RemoteCommand               string
}

func (r SSH) Dial(ctx context.Context, target Target) (session.Conn, error) {
	client, err := r.dial(ctx, target)
	if err != nil {
		return nil, err
	}

	sess, err := client.NewSession()
	if err != nil {
		client.Close()
		return nil, err
	}
	stdin, err := sess.StdinPipe()
	if err != nil {
		sess.Close()
		client.Close()
		return nil, err
	}
	stdout, err := sess.StdoutPipe()
	if err != nil {
		sess.Close()
		client.Close()
		return nil, err
	}
	if err := sess.Start(r.command(target.Path)); err != nil {
		sess.Close()
		client.Close()
		return nil, fmt.Errorf("transport: ssh start relay: %w", err)
	}
	return &sshConn{client: client, session: sess, stdin: stdin, stdout: stdout}, nil
}

func (r SSH) command(device string) string {
	if tmpl := strings.TrimSpace(r.RemoteCommand); tmpl != "" {
		return strings.ReplaceAll(tmpl, DevicePlaceholder, shellEscape(device))
	}
	return joinCommand("socat", []string{"-", "FILE:" + device + ",raw,echo=0"})
}

func (r SSH) dial(ctx context.Context, target Target) (*ssh.Client, error) {
	address, err := r.address(target.Address)
	if err != nil {
		return nil, err
	}

	user := target.User
	if user == "" {
		user = r.User
	}
	config, err := r.clientConfig(user)
	if err != nil {
		return nil, err
	}

	dialer := net.Dialer{Timeout: r.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, err
	}

	clientConn, chans, reqs, err := r.handshake(ctx, conn, address, config)
	if err != nil {
		conn.Close()
		return nil, err
	}

	return ssh.NewClient(clientConn, chans, reqs), nil
}

// handshake runs the SSH handshake on conn bounded by ctx and r.Timeout.
// Cancelling ctx expires the conn deadline, which aborts a stalled handshake.
func (r SSH) handshake(ctx context.Context, conn net.Conn, address string, config *ssh.ClientConfig) (ssh.Conn, <-chan ssh.NewChannel, <-chan *ssh.Request, error) {
	var deadline time.Time
	if r.Timeout > 0 {
		deadline = time.Now().Add(r.Timeout)
	}
	if d, ok := ctx.Deadline(); ok && (deadline.IsZero() || d.Before(deadline)) {
		deadline = d
	}
	_ = conn.SetDeadline(deadline)
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Unix(1, 0))
	})

	clientConn, chans, reqs, err := ssh.NewClientConn(conn, address, config)
	if !stop() || (err != nil && ctx.Err() != nil) {
		if err == nil {
			clientConn.Close()
		}
		return nil, nil, nil, fmt.Errorf("transport: ssh handshake %s: %w", address, context.Cause(ctx))
	}
	if err != nil {
		return nil, nil, nil, fmt.Errorf("transport: ssh handshake %s: %w", address, err)
	}
	_ = conn.SetDeadline(time.Time{})
	return clientConn, chans, reqs, nil
}

func (r SSH) address(host string) (string, error) {
	host = strings.TrimSpace(host)
	if host == "" {
		return "", fmt.Errorf("ssh host is required")
	}

	if _, _, err := net.SplitHostPort(host); err == nil {
		return host, nil
	}

	return net.JoinHostPort(host, "22"), nil
}

func (r SSH) clientConfig(user string) (*ssh.ClientConfig, error) {
	if user == "" {
		return nil, fmt.Errorf("ssh user is required")
	}

	signer, err := r.signer()
	if err != nil {
		return nil, err
	}

	var hostKeyCallback ssh.HostKeyCallback
	if r.InsecureSkipHostKeyChecking {
		hostKeyCallback = ssh.InsecureIgnoreHostKey()
	} else {
		callback, err := r.knownHostsCallback()
		if err != nil {
			return nil, err
		}
		hostKeyCallback = callback
	}

	return &ssh.ClientConfig{
		User:            user,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: hostKeyCallback,
		Timeout:         r.Timeout,
	}, nil
}

func (r SSH) signer() (ssh.Signer, error) {
	if r.KeyPath == "" {
		return nil, fmt.Errorf("transport: ssh key_path is required")
	}
	pem, err := os.ReadFile(r.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("transport: ssh key: %w", err)
	}
	parse := func() (ssh.Signer, error) { return ssh.ParsePrivateKey(pem) }
	if len(r.Passphrase) > 0 {
		parse = func() (ssh.Signer, error) { return ssh.ParsePrivateKeyWithPassphrase(pem, r.Passphrase) }
	}
	signer, err := parse()
	if err != nil {
		return nil, fmt.Errorf("transport: ssh key %s: %w", r.KeyPath, err)
	}
	return signer, nil
}

// knownHostsCallback verifies host keys against KnownHostsPath, or
// ~/.ssh/known_hosts when unset.
func (r SSH) knownHostsCallback() (ssh.HostKeyCallback, error) {
	path := strings.TrimSpace(r.KnownHostsPath)
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("transport: ssh known_hosts unset and no home dir: %w", err)
		}
		path = filepath.Join(home, ".ssh", "known_hosts")
	}
	callback, err := knownhosts.New(path)
	if err != nil {
		return nil, fmt.Errorf("transport: ssh known_hosts: %w", err)
	}
	return callback, nil
}

// sshConn is the relay's stdio. Closing the client unblocks a pending Read.
type sshConn struct {
	client  *ssh.Client
	session *ssh.Session
	stdin   io.WriteCloser
	stdout  io.Reader

	closeOnce sync.Once
	closeErr  error
}

func (c *sshConn) Read(p []byte) (int, error)  { return c.stdout.Read(p) }
func (c *sshConn) Write(p []byte) (int, error) { return c.stdin.Write(p) }

func (c *sshConn) Close() error {
	c.closeOnce.Do(func() {
		_ = c.stdin.Close()
		_ = c.session.Close()
		c.closeErr = c.client.Close()
	})
	return c.closeErr
}
