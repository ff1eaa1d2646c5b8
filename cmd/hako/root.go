package main

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/bdobrica/Hako/internal/hako/app"
	"github.com/bdobrica/Hako/internal/hako/config"
	"github.com/bdobrica/Hako/internal/hako/logging"
)

// cli holds state shared by the subcommands.
type cli struct {
	stdout io.Writer
	stderr io.Writer

	verbose   bool
	logLevel  string
	logFormat string

	loadSettings func() (config.Settings, error)
	openApp      func(config.Settings, *slog.Logger) (*app.App, error)

	settings config.Settings
	log      *slog.Logger
}

func newCLI(stdout, stderr io.Writer) *cli {
	return &cli{
		stdout:       stdout,
		stderr:       stderr,
		loadSettings: config.Load,
		openApp:      app.Open,
	}
}

func (c *cli) root() *cobra.Command {
	root := &cobra.Command{
		Use:   "hako",
		Short: "Run MCP servers in sandboxed containers",
		Long: `hako launches Model Context Protocol servers inside containers whose
filesystem and network access is limited by a permission profile.

Servers speak either sse (the container serves HTTP on a published port) or
stdio (hako bridges the container's standard streams to a local SSE endpoint).`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.setup()
		},
	}
	root.SetOut(c.stdout)
	root.SetErr(c.stderr)
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &usageError{err: err}
	})
	root.CompletionOptions.DisableDefaultCmd = true

	root.PersistentFlags().BoolVarP(&c.verbose, "verbose", "v", false, "Enable debug logging")
	root.PersistentFlags().StringVar(&c.logLevel, "log-level", "", "Log level: debug, info, warn or error")
	root.PersistentFlags().StringVar(&c.logFormat, "log-format", "", "Log format: text or json")

	root.AddCommand(
		c.runCmd(),
		c.listCmd(),
		c.stopCmd(),
		c.rmCmd(),
		c.logsCmd(),
		c.configCmd(),
		c.versionCmd(),
	)
	return root
}

// setup loads settings and installs the logger. Flags override settings.
func (c *cli) setup() error {
	s, err := c.loadSettings()
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}
	if c.logLevel != "" {
		s.LogLevel = c.logLevel
	}
	if c.verbose {
		s.LogLevel = "debug"
	}
	if c.logFormat != "" {
		s.LogFormat = c.logFormat
	}
	if err := s.Validate(); err != nil {
		return &usageError{err: err}
	}
	c.settings = s
	c.log = logging.Setup(s.LogLevel, s.LogFormat, c.stderr)
	return nil
}

// withApp opens the application for the duration of fn.
func (c *cli) withApp(fn func(a *app.App) error) error {
	a, err := c.openApp(c.settings, c.log)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}
