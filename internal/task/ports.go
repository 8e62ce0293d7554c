// Package task executes single expanded tasks: local interpreters, remote
// SSH commands, file transfers and prints.
package task

import (
	"context"
	"net"
	"strconv"
)

// ProcessResult is the outcome of a local process that started.
type ProcessResult struct {
	ExitCode int
	Stderr   string
}

// ProcessRunner starts a local program and waits for it. An error means the
// program could not be started or waited on; a non-zero exit is not an error.
type ProcessRunner interface {
	Run(ctx context.Context, program string, args []string, workDir string) (ProcessResult, error)
}

// Target is a resolved remote endpoint.
type Target struct {
	Address  string
	Port     int
	Username string
	Password string
}

// HostPort returns the dial address. An address that already carries a port
// is used unchanged.
func (t Target) HostPort() string {
	if _, _, err := net.SplitHostPort(t.Address); err == nil {
		return t.Address
	}
	return net.JoinHostPort(t.Address, strconv.Itoa(t.Port))
}

// SSHSession runs commands on one remote connection.
type SSHSession interface {
	// Run executes command and returns its exit status.
	Run(ctx context.Context, command string) (int, error)
	Close() error
}

type SSHDialer interface {
	DialSSH(ctx context.Context, target Target) (SSHSession, error)
}

// Transfer describes one copy between the local machine and a remote host.
type Transfer struct {
	Download   bool
	LocalPath  string
	RemotePath string
	Recursive  bool // directories are copied as trees
}

// FileTransfer copies files over an established connection.
type FileTransfer interface {
	Transfer(ctx context.Context, t Transfer) error
	Close() error
}

type SCPDialer interface {
	DialSCP(ctx context.Context, target Target) (FileTransfer, error)
}

type SFTPDialer interface {
	DialSFTP(ctx context.Context, target Target) (FileTransfer, error)
}
