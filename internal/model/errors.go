package model

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Category classifies a run failure. Each category maps to a distinct
// process exit code.
type Category string

const (
	CategoryConfig           Category = "config"
	CategoryUnknownReference Category = "unknown_reference"
	CategoryCycle            Category = "cycle"
	CategoryExitCode         Category = "exit_code"
	CategoryLaunch           Category = "launch"
	CategoryRemoteConnect    Category = "remote_connect"
	CategoryTransfer         Category = "transfer"
	CategoryIO               Category = "io"
	CategoryUnknown          Category = "unknown"
)

var categoryExitCodes = map[Category]int{
	CategoryConfig:           2,
	CategoryUnknownReference: 3,
	CategoryCycle:            4,
	CategoryExitCode:         5,
	CategoryLaunch:           6,
	CategoryRemoteConnect:    7,
	CategoryTransfer:         8,
	CategoryIO:               9,
}

// ExitCode returns the process exit code for the category.
func (c Category) ExitCode() int {
	if code, ok := categoryExitCodes[c]; ok {
		return code
	}
	return 1
}

// ConfigError reports a malformed document, task or tag.
type ConfigError struct {
	Line    int
	Column  int
	Message string
}

// ConfigErrorAt builds a ConfigError positioned at a document line/column.
func ConfigErrorAt(line, column int, format string, args ...any) *ConfigError {
	return &ConfigError{Line: line, Column: column, Message: fmt.Sprintf(format, args...)}
}

func (e *ConfigError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("line %d, column %d: %s", e.Line, e.Column, e.Message)
	}
	return e.Message
}

// UnknownReferenceError reports a job reference with no matching job.
type UnknownReferenceError struct {
	Name     string
	Referrer string
}

func (e *UnknownReferenceError) Error() string {
	if e.Referrer == "" {
		return fmt.Sprintf("job %q not found", e.Name)
	}
	return fmt.Sprintf("job %q referenced from %q not found", e.Name, e.Referrer)
}

// CycleError reports a job that references itself, directly or through
// other jobs. Chain is the expansion path ending with the repeated name.
type CycleError struct {
	Name  string
	Chain []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("circular job reference on %q: %s", e.Name, strings.Join(e.Chain, " -> "))
}

// ExitCodeError reports a command whose exit status is not in its allowed set.
type ExitCodeError struct {
	Command string
	Actual  int
	Allowed []int
	Stderr  string
}

func (e *ExitCodeError) Error() string {
	allowed := make([]string, 0, len(e.Allowed))
	for _, c := range e.Allowed {
		allowed = append(allowed, strconv.Itoa(c))
	}
	msg := fmt.Sprintf("command %q exited with %d (allowed: [%s])", e.Command, e.Actual, strings.Join(allowed, ", "))
	if stderr := strings.TrimSpace(e.Stderr); stderr != "" {
		msg += "\n" + stderr
	}
	return msg
}

// LaunchError reports an interpreter that could not be started.
type LaunchError struct {
	Program string
	Err     error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("launch %s: %v", e.Program, e.Err)
}

func (e *LaunchError) Unwrap() error { return e.Err }

// RemoteConnectError reports a failure to establish or use a remote session.
type RemoteConnectError struct {
	Address string
	Err     error
}

func (e *RemoteConnectError) Error() string {
	return fmt.Sprintf("connect %s: %v", e.Address, e.Err)
}

func (e *RemoteConnectError) Unwrap() error { return e.Err }

// TransferError reports a failed SCP/SFTP file transfer.
type TransferError struct {
	Op         string
	LocalPath  string
	RemotePath string
	Err        error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("%s (local %s, remote %s): %v", e.Op, e.LocalPath, e.RemotePath, e.Err)
}

func (e *TransferError) Unwrap() error { return e.Err }

// IOError reports a console or output stream failure.
type IOError struct {
	Op  string
	Err error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// Categorize returns the category of err. When the chain holds several
// taxonomy errors the one listed first in the Category constants wins.
func Categorize(err error) Category {
	if err == nil {
		return ""
	}
	var (
		configErr   *ConfigError
		unknownErr  *UnknownReferenceError
		cycleErr    *CycleError
		exitErr     *ExitCodeError
		launchErr   *LaunchError
		remoteErr   *RemoteConnectError
		transferErr *TransferError
		ioErr       *IOError
	)
	switch {
	case errors.As(err, &configErr):
		return CategoryConfig
	case errors.As(err, &unknownErr):
		return CategoryUnknownReference
	case errors.As(err, &cycleErr):
		return CategoryCycle
	case errors.As(err, &exitErr):
		return CategoryExitCode
	case errors.As(err, &launchErr):
		return CategoryLaunch
	case errors.As(err, &remoteErr):
		return CategoryRemoteConnect
	case errors.As(err, &transferErr):
		return CategoryTransfer
	case errors.As(err, &ioErr):
		return CategoryIO
	default:
		return CategoryUnknown
	}
}
