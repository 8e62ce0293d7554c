package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/msageha/workflowo/internal/model"
	"github.com/msageha/workflowo/internal/plan"
	"github.com/msageha/workflowo/internal/runner"
	wfyaml "github.com/msageha/workflowo/internal/yaml"
)

const version = "0.1.0"

func main() {
	os.Exit(execute(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath string
	logLevel   string
	auditPath  string
	platform   string
}

// app carries the process streams so commands can be driven from tests.
type app struct {
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
	flags  globalFlags
}

// execute runs the CLI and returns the process exit code.
func execute(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	a := &app{stdin: stdin, stdout: stdout, stderr: stderr}
	root := a.rootCommand()
	root.SetArgs(args)
	root.SetIn(stdin)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.Execute()
	if err == nil {
		return 0
	}
	printErrorChain(stderr, err)
	return model.Categorize(err).ExitCode()
}

func (a *app) rootCommand() *cobra.Command {
	var runFlags runOptions
	root := &cobra.Command{
		Use:   "workflowo [file job]",
		Short: "workflowo - run YAML-defined jobs locally and over SSH",
		Long: `workflowo runs a named job from a YAML workflow document.

A job is a sequence of tasks: shell commands (bash, cmd), remote commands
(ssh), file transfers (scp-*, sftp-*), print statements, platform
conditionals (on-linux, on-windows) and references to other jobs.

"workflowo <file> <job>" is shorthand for "workflowo run <file> <job>".`,
		Args:          cobra.MaximumNArgs(2),
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return cmd.Help()
			}
			if len(args) != 2 {
				return fmt.Errorf("expected <file> <job>, got %d argument(s)", len(args))
			}
			return a.runJob(args[0], args[1], runFlags)
		},
	}
	root.CompletionOptions.DisableDefaultCmd = true

	pf := root.PersistentFlags()
	pf.StringVar(&a.flags.configPath, "config", "", "config file (default $WORKFLOWO_CONFIG or ~/.config/workflowo/config.yaml)")
	pf.StringVar(&a.flags.logLevel, "log-level", "", "log level: debug, info, warn, error")
	pf.StringVar(&a.flags.auditPath, "audit-log", "", "append run events as JSON lines to this file")
	pf.StringVar(&a.flags.platform, "platform", "", "platform for on-linux/on-windows (default: this machine)")
	runFlags.bind(root)

	root.AddCommand(
		a.runCommand(),
		a.initCommand(),
		a.listCommand(),
		a.validateCommand(),
		a.watchCommand(),
		a.auditCommand(),
		a.versionCommand(),
	)
	return root
}

func (a *app) versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintf(a.stdout, "workflowo %s\n", version)
			return err
		},
	}
}

// loadConfig reads the --config file when given, otherwise the default
// location if it exists. Command line flags override file values.
func (a *app) loadConfig() (model.Config, error) {
	path, required := a.flags.configPath, true
	if path == "" {
		path, required = model.DefaultConfigPath(), false
	}
	cfg, err := model.LoadConfig(path, required)
	if err != nil {
		return model.Config{}, &model.ConfigError{Message: err.Error()}
	}
	if a.flags.logLevel != "" {
		cfg.Logging.Level = a.flags.logLevel
	}
	if a.flags.auditPath != "" {
		cfg.Audit.Path = a.flags.auditPath
	}
	return cfg, nil
}

func (a *app) platform() plan.Platform {
	if a.flags.platform != "" {
		return plan.Platform(strings.ToLower(a.flags.platform))
	}
	return runner.CurrentPlatform()
}

func loadDocument(path string) (*plan.Document, error) {
	root, err := wfyaml.LoadDocument(path)
	if err != nil {
		return nil, err
	}
	return plan.NewDocument(root)
}
