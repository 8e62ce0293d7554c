package task

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"

	"github.com/msageha/workflowo/internal/model"
	"github.com/msageha/workflowo/internal/plan"
	"github.com/msageha/workflowo/internal/tag"
)

const defaultSSHPort = 22

var errNotAvailable = errors.New("not available in this build")

// Dispatcher runs one task at a time. Tag values inside a task are resolved
// immediately before the task starts, through the run's shared resolver.
type Dispatcher struct {
	Resolver  *tag.Resolver
	Stdout    io.Writer
	Processes ProcessRunner
	SSH       SSHDialer
	SCP       SCPDialer
	SFTP      SFTPDialer

	BashPath    string // defaults to "bash"
	CmdPath     string // defaults to "cmd"
	DefaultPort int    // defaults to 22
}

// Dispatch executes t and reports the first failure.
func (d *Dispatcher) Dispatch(ctx context.Context, t plan.InlineTask) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	switch t := t.(type) {
	case plan.ShellTask:
		return d.runShell(ctx, t)
	case plan.SSHTask:
		return d.runSSH(ctx, t)
	case plan.TransferTask:
		return d.runTransfer(ctx, t)
	case plan.PrintTask:
		return d.runPrint(t)
	default:
		return fmt.Errorf("unsupported task kind %q", t.Kind())
	}
}

func (d *Dispatcher) runShell(ctx context.Context, t plan.ShellTask) error {
	command, err := d.Resolver.Resolve(t.Command)
	if err != nil {
		return err
	}
	workDir, err := d.Resolver.ResolveOptional(t.WorkDir)
	if err != nil {
		return err
	}

	program, args := d.interpreter(t.Interpreter, command)
	if d.Processes == nil {
		return &model.LaunchError{Program: program, Err: errNotAvailable}
	}
	res, err := d.Processes.Run(ctx, program, args, workDir)
	if err != nil {
		return &model.LaunchError{Program: program, Err: err}
	}
	return checkExitCode(command, res.ExitCode, t.AllowedExitCodes, res.Stderr)
}

func (d *Dispatcher) interpreter(kind plan.Kind, command string) (string, []string) {
	if kind == plan.KindCmd {
		return orDefault(d.CmdPath, "cmd"), []string{"/C", command}
	}
	return orDefault(d.BashPath, "bash"), []string{"-c", command}
}

func (d *Dispatcher) runSSH(ctx context.Context, t plan.SSHTask) error {
	target, err := d.target(t.Remote)
	if err != nil {
		return err
	}
	if d.SSH == nil {
		return &model.RemoteConnectError{Address: target.HostPort(), Err: errNotAvailable}
	}
	session, err := d.SSH.DialSSH(ctx, target)
	if err != nil {
		return asRemoteError(target, err)
	}
	defer session.Close()

	for _, c := range t.Commands {
		command, err := d.Resolver.Resolve(c.Command)
		if err != nil {
			return err
		}
		code, err := session.Run(ctx, command)
		if err != nil {
			return asRemoteError(target, err)
		}
		if err := checkExitCode(command, code, c.AllowedExitCodes, ""); err != nil {
			return err
		}
	}
	return nil
}

func (d *Dispatcher) runTransfer(ctx context.Context, t plan.TransferTask) error {
	target, err := d.target(t.Remote)
	if err != nil {
		return err
	}
	remotePath, err := d.Resolver.Resolve(t.RemotePath)
	if err != nil {
		return err
	}
	localPath, err := d.Resolver.Resolve(t.LocalPath)
	if err != nil {
		return err
	}

	var conn FileTransfer
	switch {
	case t.SFTP() && d.SFTP != nil:
		conn, err = d.SFTP.DialSFTP(ctx, target)
	case !t.SFTP() && d.SCP != nil:
		conn, err = d.SCP.DialSCP(ctx, target)
	default:
		err = errNotAvailable
	}
	if err != nil {
		return asRemoteError(target, err)
	}
	defer conn.Close()

	req := Transfer{Download: t.Download(), LocalPath: localPath, RemotePath: remotePath, Recursive: t.SFTP()}
	if err := conn.Transfer(ctx, req); err != nil {
		var transferErr *model.TransferError
		if errors.As(err, &transferErr) {
			return err
		}
		return &model.TransferError{Op: string(t.Op), LocalPath: localPath, RemotePath: remotePath, Err: err}
	}
	return nil
}

func (d *Dispatcher) runPrint(t plan.PrintTask) error {
	text, err := d.Resolver.Resolve(t.Value)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintln(d.Stdout, text); err != nil {
		return &model.IOError{Op: "print", Err: err}
	}
	return nil
}

// target resolves a task's remote in field order: address, username,
// password.
func (d *Dispatcher) target(r plan.Remote) (Target, error) {
	var (
		t   Target
		err error
	)
	if t.Address, err = d.Resolver.Resolve(r.Address); err != nil {
		return Target{}, err
	}
	if t.Username, err = d.Resolver.Resolve(r.Username); err != nil {
		return Target{}, err
	}
	if t.Password, err = d.Resolver.Resolve(r.Password); err != nil {
		return Target{}, err
	}
	t.Port = r.Port
	if t.Port == 0 {
		t.Port = d.DefaultPort
	}
	if t.Port == 0 {
		t.Port = defaultSSHPort
	}
	return t, nil
}

func checkExitCode(command string, code int, allowed []int, stderr string) error {
	if len(allowed) == 0 {
		allowed = plan.DefaultExitCodes
	}
	if slices.Contains(allowed, code) {
		return nil
	}
	return &model.ExitCodeError{Command: command, Actual: code, Allowed: allowed, Stderr: stderr}
}

func asRemoteError(target Target, err error) error {
	var remoteErr *model.RemoteConnectError
	if errors.As(err, &remoteErr) {
		return err
	}
	return &model.RemoteConnectError{Address: target.HostPort(), Err: err}
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
