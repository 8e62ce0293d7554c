package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/msageha/workflowo/internal/console"
	"github.com/msageha/workflowo/internal/events"
	"github.com/msageha/workflowo/internal/model"
	"github.com/msageha/workflowo/internal/plan"
	"github.com/msageha/workflowo/internal/remote"
	"github.com/msageha/workflowo/internal/runner"
	"github.com/msageha/workflowo/internal/shell"
	"github.com/msageha/workflowo/internal/watch"
	wfyaml "github.com/msageha/workflowo/internal/yaml"
)

type runOptions struct {
	verbose bool
	dryRun  bool
}

func (o *runOptions) bind(cmd *cobra.Command) {
	cmd.Flags().BoolVarP(&o.verbose, "verbose", "v", false, "list each task before it runs")
	cmd.Flags().BoolVar(&o.dryRun, "dry-run", false, "expand the job and list its tasks without running them")
}

func (a *app) runCommand() *cobra.Command {
	var opts runOptions
	cmd := &cobra.Command{
		Use:   "run <file> <job>",
		Short: "Run a job",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runJob(args[0], args[1], opts)
		},
	}
	opts.bind(cmd)
	return cmd
}

func (a *app) runJob(file, job string, opts runOptions) error {
	cfg, err := a.loadConfig()
	if err != nil {
		return err
	}
	doc, err := loadDocument(file)
	if err != nil {
		return err
	}
	driver, closeAudit, err := a.newDriver(cfg, opts.verbose)
	if err != nil {
		return err
	}

	if opts.dryRun {
		steps, err := driver.Expand(doc, job)
		if err := errors.Join(err, closeAudit()); err != nil {
			return err
		}
		for i, step := range steps {
			if _, err := fmt.Fprintf(a.stdout, "[%d/%d] %s: %s\n", i+1, len(steps), step.Location(), plan.Describe(step.Task)); err != nil {
				return &model.IOError{Op: "write step listing", Err: err}
			}
		}
		return nil
	}

	a.banner(color.FgCyan, "Executing job %s", job)
	summary, err := driver.Run(context.Background(), doc, job)
	if auditErr := closeAudit(); err == nil && auditErr != nil {
		return auditErr
	}
	if err != nil {
		return err
	}
	a.banner(color.FgGreen, "Job %s finished: %d task(s) in %s", job, summary.Completed, summary.Duration.Round(time.Millisecond))
	return nil
}

func (a *app) listCommand() *cobra.Command {
	var order bool
	cmd := &cobra.Command{
		Use:   "list <file>",
		Short: "List the jobs of a document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := loadDocument(args[0])
			if err != nil {
				return err
			}
			names := doc.Names
			if order {
				// a filter of "" follows both branches of every conditional
				if names, err = plan.DependencyOrder(doc, plan.Platform(a.flags.platform)); err != nil {
					return err
				}
			}
			for _, name := range names {
				j, _ := doc.Job(name)
				if _, err := fmt.Fprintf(a.stdout, "%s (%d task(s))\n", name, len(j.Tasks)); err != nil {
					return &model.IOError{Op: "write job list", Err: err}
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&order, "order", false, "list referenced jobs before the jobs that reference them")
	return cmd
}

func (a *app) validateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file>",
		Short: "Check a document for malformed tasks, unknown job references and cycles",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := loadDocument(args[0])
			if err != nil {
				return err
			}
			if ve := plan.ValidateReferences(doc, plan.Platform(a.flags.platform)); ve != nil {
				fmt.Fprint(a.stderr, ve.FormatStderr())
				return &model.ConfigError{Message: fmt.Sprintf("%s: %d problem(s) found", args[0], len(ve.Errors))}
			}
			_, err = fmt.Fprintf(a.stdout, "%s: ok (%d job(s))\n", args[0], len(doc.Names))
			return err
		},
	}
}

func (a *app) initCommand() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init <file>",
		Short: "Write an example workflow document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := wfyaml.WriteDocument(args[0], wfyaml.StarterDocument(), force); err != nil {
				return err
			}
			_, err := fmt.Fprintf(a.stdout, "wrote %s\n", args[0])
			return err
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "replace an existing file, keeping it as <file>.bak")
	return cmd
}

func (a *app) auditCommand() *cobra.Command {
	audit := &cobra.Command{
		Use:   "audit",
		Short: "Inspect audit logs",
	}
	audit.AddCommand(&cobra.Command{
		Use:   "verify [log]",
		Short: "Check the checksums of an audit log (default: the configured audit.path)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			path := cfg.Audit.Path
			if len(args) == 1 {
				path = args[0]
			}
			if path == "" {
				return errors.New("no audit log given and audit.path is not configured")
			}
			total, valid, err := events.VerifyLogIntegrity(path)
			if err != nil {
				return err
			}
			if _, err := fmt.Fprintf(a.stdout, "%s: %d entries, %d intact\n", path, total, valid); err != nil {
				return &model.IOError{Op: "write report", Err: err}
			}
			if valid != total {
				return fmt.Errorf("%s: %d entries failed verification", path, total-valid)
			}
			return nil
		},
	})
	return audit
}

func (a *app) watchCommand() *cobra.Command {
	var opts runOptions
	cmd := &cobra.Command{
		Use:   "watch <file> <job>",
		Short: "Run a job, then run it again whenever the file changes",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.watchJob(args[0], args[1], opts.verbose)
		},
	}
	cmd.Flags().BoolVarP(&opts.verbose, "verbose", "v", false, "list each task before it runs")
	return cmd
}

func (a *app) watchJob(file, job string, verbose bool) error {
	cfg, err := a.loadConfig()
	if err != nil {
		return err
	}
	driver, closeAudit, err := a.newDriver(cfg, verbose)
	if err != nil {
		return err
	}
	w, err := watch.New(file, cfg.Watcher.Debounce(), cfg.Logging.Level, a.stderr)
	if err != nil {
		return errors.Join(err, closeAudit())
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = w.Run(ctx, func(ctx context.Context) {
		doc, err := loadDocument(file)
		if err != nil {
			printErrorChain(a.stderr, err)
			return
		}
		a.banner(color.FgCyan, "Executing job %s", job)
		if _, err := driver.Run(ctx, doc, job); err != nil {
			printErrorChain(a.stderr, err)
			return
		}
		a.banner(color.FgGreen, "Job %s finished, waiting for changes", job)
	})
	return errors.Join(err, closeAudit())
}

// newDriver wires the production capabilities. The returned func flushes
// and closes the audit log, if one is configured, and reports the first
// audit write failure.
func (a *app) newDriver(cfg model.Config, verbose bool) (*runner.Driver, func() error, error) {
	bus := events.NewBus()
	closeAudit := func() error {
		bus.Close()
		return nil
	}
	if cfg.Audit.Path != "" {
		audit, err := events.NewAuditLogger(cfg.Audit.Path, cfg.Audit.MaxSizeBytes)
		if err != nil {
			return nil, nil, &model.IOError{Op: "open audit log", Err: err}
		}
		audit.EnableChecksum(cfg.Audit.Checksum)
		bus.Subscribe(events.AllEvents, audit.Handle)
		closeAudit = func() error {
			bus.Close()
			if err := errors.Join(audit.Err(), audit.Close()); err != nil {
				return &model.IOError{Op: "write audit log", Err: err}
			}
			return nil
		}
	}

	dialer := &remote.Dialer{
		Timeout:        cfg.SSH.ConnectTimeout(),
		KnownHostsPath: cfg.SSH.KnownHosts,
		Stdout:         a.stdout,
		Stderr:         a.stderr,
	}
	driver := runner.New(runner.Options{
		Console:     console.New(a.stdin, a.stderr),
		Stdout:      a.stdout,
		Processes:   &shell.Runner{Stdin: a.stdin, Stdout: a.stdout, Stderr: a.stderr},
		SSH:         dialer,
		SCP:         dialer,
		SFTP:        dialer,
		Shell:       cfg.Shell,
		DefaultPort: cfg.SSH.Port,
		Platform:    a.platform(),
		Bus:         bus,
		LogLevel:    cfg.Logging.Level,
		LogWriter:   a.stderr,
		Verbose:     verbose,
	})
	return driver, closeAudit, nil
}

func (a *app) banner(attr color.Attribute, format string, args ...any) {
	color.New(attr, color.Bold).Fprintf(a.stderr, format+"\n", args...)
}
