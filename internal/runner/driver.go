// Package runner drives a single job run: it expands the job, then
// dispatches the resulting steps one at a time and stops at the first
// failure.
package runner

import (
	"context"
	"fmt"
	"io"
	"maps"
	"runtime"
	"time"

	"github.com/msageha/workflowo/internal/events"
	"github.com/msageha/workflowo/internal/model"
	"github.com/msageha/workflowo/internal/plan"
	"github.com/msageha/workflowo/internal/tag"
	"github.com/msageha/workflowo/internal/task"
)

// CurrentPlatform returns the platform conditionals are evaluated against.
func CurrentPlatform() plan.Platform {
	return plan.Platform(runtime.GOOS)
}

// Options wires a Driver to its environment.
type Options struct {
	Console tag.Console // prompts for !Input and !HiddenInput
	Stdout  io.Writer   // print output and verbose step listing

	Processes task.ProcessRunner
	SSH       task.SSHDialer
	SCP       task.SCPDialer
	SFTP      task.SFTPDialer

	Shell       model.ShellConfig
	DefaultPort int
	Platform    plan.Platform // defaults to CurrentPlatform()

	Bus       *events.Bus
	LogLevel  string
	LogWriter io.Writer // defaults to io.Discard
	Verbose   bool
}

// Summary describes a finished run.
type Summary struct {
	RunID     string
	Job       string
	Steps     int
	Completed int
	Duration  time.Duration
}

// StepError attributes a task failure to its position in the run.
type StepError struct {
	Position int // zero-based
	Total    int
	Location string
	Task     string
	Err      error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %d of %d (%s) failed: %v", e.Position+1, e.Total, e.Location, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// Driver executes jobs. Each call to Run is an independent run with its own
// id cache.
type Driver struct {
	opts   Options
	logger *model.Logger
}

// New returns a Driver for opts.
func New(opts Options) *Driver {
	if opts.Stdout == nil {
		opts.Stdout = io.Discard
	}
	if opts.LogWriter == nil {
		opts.LogWriter = io.Discard
	}
	if opts.Platform == "" {
		opts.Platform = CurrentPlatform()
	}
	return &Driver{
		opts:   opts,
		logger: model.NewLogger("runner", opts.LogLevel, opts.LogWriter),
	}
}

// Run executes job from doc. Shared IGNORE values are resolved first, then
// the job is fully expanded; no task runs unless the whole expansion
// succeeds. Tasks run strictly in order and the first failure ends the run.
func (d *Driver) Run(ctx context.Context, doc *plan.Document, job string) (Summary, error) {
	started := time.Now()
	runID, err := model.GenerateID(model.IDTypeRun)
	if err != nil {
		return Summary{}, err
	}
	summary := Summary{RunID: runID, Job: job}

	err = d.run(ctx, doc, &summary)
	summary.Duration = time.Since(started)

	finished := map[string]any{
		"job":       job,
		"steps":     summary.Steps,
		"completed": summary.Completed,
		"duration":  summary.Duration.String(),
		"ok":        err == nil,
	}
	if err != nil {
		finished["error"] = err.Error()
		finished["category"] = string(model.Categorize(err))
		d.logger.Log(model.LogLevelError, "run=%s job=%s failed: %v", runID, job, err)
	} else {
		d.logger.Log(model.LogLevelInfo, "run=%s job=%s completed steps=%d duration=%s", runID, job, summary.Completed, summary.Duration)
	}
	d.opts.Bus.Publish(events.EventRunFinished, runID, finished)
	return summary, err
}

func (d *Driver) run(ctx context.Context, doc *plan.Document, summary *Summary) error {
	resolver := tag.NewResolver(d.opts.Console, nil)
	if doc.Ignore != nil {
		if err := resolver.ResolveTree(doc.Ignore); err != nil {
			return fmt.Errorf("resolve %s: %w", plan.IgnoreKey, err)
		}
		d.logger.Log(model.LogLevelDebug, "run=%s resolved %s ids=%d", summary.RunID, plan.IgnoreKey, resolver.Cache().Len())
	}

	steps, err := plan.NewExpander(doc, d.opts.Platform, resolver).Expand(summary.Job)
	if err != nil {
		return err
	}
	summary.Steps = len(steps)
	d.logger.Log(model.LogLevelInfo, "run=%s job=%s platform=%s steps=%d", summary.RunID, summary.Job, d.opts.Platform, len(steps))
	d.opts.Bus.Publish(events.EventRunStarted, summary.RunID, map[string]any{
		"job":      summary.Job,
		"platform": string(d.opts.Platform),
		"steps":    len(steps),
	})

	dispatcher := &task.Dispatcher{
		Resolver:    resolver,
		Stdout:      d.opts.Stdout,
		Processes:   d.opts.Processes,
		SSH:         d.opts.SSH,
		SCP:         d.opts.SCP,
		SFTP:        d.opts.SFTP,
		BashPath:    d.opts.Shell.Bash,
		CmdPath:     d.opts.Shell.Cmd,
		DefaultPort: d.opts.DefaultPort,
	}

	for i, step := range steps {
		desc := plan.Describe(step.Task)
		location := step.Location()
		data := map[string]any{"job": summary.Job, "step": i, "location": location, "kind": string(step.Task.Kind())}

		if d.opts.Verbose {
			if _, err := fmt.Fprintf(d.opts.Stdout, "[%d/%d] %s: %s\n", i+1, len(steps), location, desc); err != nil {
				return &model.IOError{Op: "write step listing", Err: err}
			}
		}
		d.logger.Log(model.LogLevelDebug, "run=%s step=%d/%d location=%s task=%s", summary.RunID, i+1, len(steps), location, desc)
		d.opts.Bus.Publish(events.EventStepStarted, summary.RunID, data)

		stepStart := time.Now()
		if err := dispatcher.Dispatch(ctx, step.Task); err != nil {
			failed := maps.Clone(data)
			failed["error"] = err.Error()
			failed["category"] = string(model.Categorize(err))
			d.opts.Bus.Publish(events.EventStepFailed, summary.RunID, failed)
			return &StepError{Position: i, Total: len(steps), Location: location, Task: desc, Err: err}
		}

		done := maps.Clone(data)
		done["duration"] = time.Since(stepStart).String()
		d.opts.Bus.Publish(events.EventStepCompleted, summary.RunID, done)
		summary.Completed++
	}
	return nil
}

// Expand returns the steps job would run on the driver's platform without
// running anything. Tagged job references prompt through the console.
func (d *Driver) Expand(doc *plan.Document, job string) ([]plan.Step, error) {
	resolver := tag.NewResolver(d.opts.Console, nil)
	if doc.Ignore != nil {
		if err := resolver.ResolveTree(doc.Ignore); err != nil {
			return nil, fmt.Errorf("resolve %s: %w", plan.IgnoreKey, err)
		}
	}
	return plan.NewExpander(doc, d.opts.Platform, resolver).Expand(job)
}
