// Package shell starts local interpreter processes for bash and cmd tasks.
package shell

import (
	"context"
	"errors"
	"io"
	"os/exec"

	"github.com/msageha/workflowo/internal/task"
)

// stderrTail is how much trailing stderr is kept for error reports.
const stderrTail = 4096

// Runner runs programs with inherited stdio. Stderr is passed through and
// its tail is captured for the ProcessResult.
type Runner struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
	Env    []string // nil inherits the current environment
}

// Run starts program and waits for it. A program that exits non-zero is
// not an error; one that cannot be found or started is.
func (r *Runner) Run(ctx context.Context, program string, args []string, workDir string) (task.ProcessResult, error) {
	cmd := exec.CommandContext(ctx, program, args...)
	cmd.Dir = workDir
	cmd.Env = r.Env
	cmd.Stdin = r.Stdin
	cmd.Stdout = r.Stdout

	tail := &tailBuffer{limit: stderrTail}
	if r.Stderr != nil {
		cmd.Stderr = io.MultiWriter(r.Stderr, tail)
	} else {
		cmd.Stderr = tail
	}

	err := cmd.Run()
	if err == nil {
		return task.ProcessResult{ExitCode: 0, Stderr: tail.String()}, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return task.ProcessResult{}, ctxErr
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return task.ProcessResult{ExitCode: exitErr.ExitCode(), Stderr: tail.String()}, nil
	}
	return task.ProcessResult{}, err
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	limit int
	buf   []byte
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.buf = append(b.buf, p...)
	if over := len(b.buf) - b.limit; over > 0 {
		b.buf = b.buf[over:]
	}
	return len(p), nil
}

func (b *tailBuffer) String() string { return string(b.buf) }
