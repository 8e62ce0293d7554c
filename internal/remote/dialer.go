// Package remote connects to hosts over SSH with password authentication
// and provides command sessions, SCP and SFTP transfers on top of them.
package remote

import (
	"context"
	"fmt"
	"io"
	"net"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/msageha/workflowo/internal/task"
)

const defaultTimeout = 15 * time.Second

// Dialer opens SSH connections. It implements task.SSHDialer,
// task.SCPDialer and task.SFTPDialer.
type Dialer struct {
	Timeout        time.Duration
	KnownHostsPath string // empty accepts any host key
	Stdout         io.Writer
	Stderr         io.Writer
}

var (
	_ task.SSHDialer  = (*Dialer)(nil)
	_ task.SCPDialer  = (*Dialer)(nil)
	_ task.SFTPDialer = (*Dialer)(nil)
)

func (d *Dialer) timeout() time.Duration {
	if d.Timeout <= 0 {
		return defaultTimeout
	}
	return d.Timeout
}

func (d *Dialer) hostKeyCallback() (ssh.HostKeyCallback, error) {
	if d.KnownHostsPath == "" {
		return ssh.InsecureIgnoreHostKey(), nil
	}
	cb, err := knownhosts.New(d.KnownHostsPath)
	if err != nil {
		return nil, fmt.Errorf("load known hosts %s: %w", d.KnownHostsPath, err)
	}
	return cb, nil
}

// connect dials target and completes the SSH handshake within the dial
// timeout.
func (d *Dialer) connect(ctx context.Context, target task.Target) (*ssh.Client, error) {
	hostKey, err := d.hostKeyCallback()
	if err != nil {
		return nil, err
	}
	config := &ssh.ClientConfig{
		User: target.Username,
		Auth: []ssh.AuthMethod{
			ssh.Password(target.Password),
			ssh.KeyboardInteractive(func(_, _ string, questions []string, _ []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range answers {
					answers[i] = target.Password
				}
				return answers, nil
			}),
		},
		HostKeyCallback: hostKey,
		Timeout:         d.timeout(),
	}

	addr := target.HostPort()
	nd := net.Dialer{Timeout: d.timeout()}
	conn, err := nd.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	if err := conn.SetDeadline(time.Now().Add(d.timeout())); err != nil {
		conn.Close()
		return nil, err
	}
	c, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("ssh handshake: %w", err)
	}
	if err := conn.SetDeadline(time.Time{}); err != nil {
		c.Close()
		return nil, err
	}
	return ssh.NewClient(c, chans, reqs), nil
}

// DialSSH opens a command session to target.
func (d *Dialer) DialSSH(ctx context.Context, target task.Target) (task.SSHSession, error) {
	client, err := d.connect(ctx, target)
	if err != nil {
		return nil, err
	}
	return &Session{client: client, stdout: d.Stdout, stderr: d.Stderr}, nil
}

// DialSCP opens an SCP connection to target.
func (d *Dialer) DialSCP(ctx context.Context, target task.Target) (task.FileTransfer, error) {
	client, err := d.connect(ctx, target)
	if err != nil {
		return nil, err
	}
	return newSCPTransfer(client)
}

// DialSFTP opens an SFTP connection to target.
func (d *Dialer) DialSFTP(ctx context.Context, target task.Target) (task.FileTransfer, error) {
	client, err := d.connect(ctx, target)
	if err != nil {
		return nil, err
	}
	return newSFTPTransfer(client)
}
