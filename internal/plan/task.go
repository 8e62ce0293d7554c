package plan

import (
	"fmt"
	"strings"

	"github.com/msageha/workflowo/internal/tag"
)

// Kind names a task type as written in documents.
type Kind string

const (
	KindBash         Kind = "bash"
	KindCmd          Kind = "cmd"
	KindOnLinux      Kind = "on-linux"
	KindOnWindows    Kind = "on-windows"
	KindSSH          Kind = "ssh"
	KindSCPDownload  Kind = "scp-download"
	KindSCPUpload    Kind = "scp-upload"
	KindSFTPDownload Kind = "sftp-download"
	KindSFTPUpload   Kind = "sftp-upload"
	KindPrint        Kind = "print"
	kindParallel     Kind = "parallel"
)

// DefaultExitCodes is the allowed exit code set when a task names none.
var DefaultExitCodes = []int{0}

// TaskSpec is one entry of a job's task list: a JobReference, a
// Conditional or an InlineTask.
type TaskSpec interface {
	isTaskSpec()
}

// JobReference names another job. The name may be a tag resolved when the
// reference is expanded.
type JobReference struct {
	Name tag.Value
	Line int
}

// Conditional wraps tasks that only run on one platform.
type Conditional struct {
	Target   Platform
	Children []TaskSpec
}

// InlineTask is a concrete, dispatchable task.
type InlineTask interface {
	TaskSpec
	Kind() Kind
}

// ShellTask runs a command through bash or cmd.
type ShellTask struct {
	Interpreter      Kind // KindBash or KindCmd
	Command          tag.Value
	WorkDir          tag.Value // nil when unset
	AllowedExitCodes []int
}

// Remote identifies a host and the password credentials for it.
type Remote struct {
	Address  tag.Value
	Username tag.Value
	Password tag.Value
	Port     int // 0 means the configured default
}

// CommandSpec is one command of an ssh task.
type CommandSpec struct {
	Command          tag.Value
	AllowedExitCodes []int
}

// SSHTask runs its commands in order over one SSH connection.
type SSHTask struct {
	Remote   Remote
	Commands []CommandSpec
}

// TransferTask copies a file (SCP) or a file or directory tree (SFTP)
// between the local machine and a remote host.
type TransferTask struct {
	Op         Kind // one of the scp-*/sftp-* kinds
	Remote     Remote
	RemotePath tag.Value
	LocalPath  tag.Value
}

// PrintTask writes a value to standard output.
type PrintTask struct {
	Value tag.Value
}

func (JobReference) isTaskSpec() {}
func (Conditional) isTaskSpec()  {}
func (ShellTask) isTaskSpec()    {}
func (SSHTask) isTaskSpec()      {}
func (TransferTask) isTaskSpec() {}
func (PrintTask) isTaskSpec()    {}

func (t ShellTask) Kind() Kind    { return t.Interpreter }
func (SSHTask) Kind() Kind        { return KindSSH }
func (t TransferTask) Kind() Kind { return t.Op }
func (PrintTask) Kind() Kind      { return KindPrint }

// Download reports whether the transfer copies from the remote host.
func (t TransferTask) Download() bool {
	return t.Op == KindSCPDownload || t.Op == KindSFTPDownload
}

// SFTP reports whether the transfer uses the SFTP subsystem.
func (t TransferTask) SFTP() bool {
	return t.Op == KindSFTPDownload || t.Op == KindSFTPUpload
}

// Describe renders a task for logs and verbose output. Passwords are never
// part of the description.
func Describe(t InlineTask) string {
	switch t := t.(type) {
	case ShellTask:
		return fmt.Sprintf("%s %s", t.Interpreter, show(t.Command))
	case SSHTask:
		cmds := make([]string, 0, len(t.Commands))
		for _, c := range t.Commands {
			cmds = append(cmds, show(c.Command))
		}
		return fmt.Sprintf("ssh %s@%s [%s]", show(t.Remote.Username), show(t.Remote.Address), strings.Join(cmds, "; "))
	case TransferTask:
		return fmt.Sprintf("%s %s@%s remote=%s local=%s", t.Op, show(t.Remote.Username), show(t.Remote.Address), show(t.RemotePath), show(t.LocalPath))
	case PrintTask:
		return fmt.Sprintf("print %s", show(t.Value))
	default:
		return string(t.Kind())
	}
}

func show(v tag.Value) string {
	if p, ok := v.(tag.Plain); ok {
		return p.Text
	}
	return v.String()
}
