package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/bdobrica/Hako/common/environment"
	"github.com/bdobrica/Hako/internal/hako/app"
	"github.com/bdobrica/Hako/internal/hako/launch"
	"github.com/bdobrica/Hako/internal/hako/runtime"
)

type runFlags struct {
	transport string
	name      string
	port      int
	profile   string
	env       []string
	keep      bool
	detach    bool
}

func (c *cli) runCmd() *cobra.Command {
	var f runFlags
	cmd := &cobra.Command{
		Use:   "run --name NAME [flags] IMAGE [-- ARGS...]",
		Short: "Launch an MCP server in a sandboxed container",
		Long: `Launch an MCP server from IMAGE and wire a transport to it.

The permission profile is "stdio", "network" or the path to a YAML or JSON
profile file. Without --permission-profile the stored default is used, then
the built-in profile matching the transport.

hako stays in the foreground until interrupted or until the server exits,
then stops the container and removes it unless --keep is given. With
--detach (sse only) hako returns as soon as the server is reachable.`,
		Args: usageArgs(cobra.MinimumNArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, f, args)
		},
	}
	cmd.Flags().SetInterspersed(false)
	cmd.Flags().StringVar(&f.transport, "transport", "", "Transport: sse or stdio (default from config, else sse)")
	cmd.Flags().StringVar(&f.name, "name", "", "Server name, also used as the container name")
	cmd.Flags().IntVar(&f.port, "port", 0, "Port the server listens on (required for sse)")
	cmd.Flags().StringVar(&f.profile, "permission-profile", "", "Permission profile: stdio, network or a file path")
	cmd.Flags().StringArrayVarP(&f.env, "env", "e", nil, "Container environment variable KEY=VALUE (repeatable)")
	cmd.Flags().BoolVar(&f.keep, "keep", false, "Keep the container after the session ends")
	cmd.Flags().BoolVar(&f.detach, "detach", false, "Return after launch and leave the container running (sse only)")
	return cmd
}

// buildRunOptions turns flags and positional arguments into RunOptions.
func buildRunOptions(f runFlags, args []string) (app.RunOptions, error) {
	env, err := environment.ParsePairs(f.env)
	if err != nil {
		return app.RunOptions{}, fmt.Errorf("%w: %w", launch.ErrInvalidArgument, err)
	}
	return app.RunOptions{
		Request: launch.Request{
			Transport:         f.transport,
			Name:              f.name,
			Port:              f.port,
			PermissionProfile: f.profile,
			Image:             args[0],
			Args:              args[1:],
			Env:               env,
		},
		Keep:   f.keep,
		Detach: f.detach,
	}, nil
}

func (c *cli) run(cmd *cobra.Command, f runFlags, args []string) error {
	opts, err := buildRunOptions(f, args)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return c.withApp(func(a *app.App) error {
		if err := a.ApplyDefaults(ctx, &opts.Request); err != nil {
			return err
		}
		sess, err := a.Start(ctx, opts)
		if err != nil {
			return err
		}

		srv := sess.Server()
		fmt.Fprintf(c.stdout, "%s\t%s\n", srv.Name, srv.ContainerID)
		fmt.Fprintf(c.stderr, "%s listening at %s\n", srv.Name, srv.Endpoint)

		if opts.Detach {
			return sess.Detach(ctx)
		}

		fmt.Fprintln(c.stderr, "Press Ctrl+C to stop.")
		waitErr := sess.Wait(ctx)
		closeErr := sess.Close(context.Background())
		if waitErr != nil {
			return waitErr
		}
		if closeErr != nil && !errors.Is(closeErr, runtime.ErrContainerNotFound) {
			return closeErr
		}
		return nil
	})
}
