package remote

import (
	"context"
	"errors"
	"io"

	"golang.org/x/crypto/ssh"
)

// Session runs commands over one SSH connection. Each command gets its own
// channel; output is streamed to the configured writers.
type Session struct {
	client *ssh.Client
	stdout io.Writer
	stderr io.Writer
}

// Run executes command and returns its exit status.
func (s *Session) Run(ctx context.Context, command string) (int, error) {
	sess, err := s.client.NewSession()
	if err != nil {
		return -1, err
	}
	defer sess.Close()
	sess.Stdout = s.stdout
	sess.Stderr = s.stderr

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			sess.Close()
		case <-done:
		}
	}()

	err = sess.Run(command)
	var exitErr *ssh.ExitError
	switch {
	case err == nil:
		return 0, nil
	case errors.As(err, &exitErr):
		return exitErr.ExitStatus(), nil
	case ctx.Err() != nil:
		return -1, ctx.Err()
	default:
		return -1, err
	}
}

// Close closes the underlying connection.
func (s *Session) Close() error {
	return s.client.Close()
}
