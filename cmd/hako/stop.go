package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bdobrica/Hako/internal/hako/app"
)

func (c *cli) stopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop NAME|CONTAINER",
		Short: "Stop a launched server",
		Args:  usageArgs(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(func(a *app.App) error {
				srv, err := a.Stop(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(c.stdout, "Stopped %s\n", srv.Name)
				return nil
			})
		},
	}
}

func (c *cli) rmCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:     "rm NAME|CONTAINER...",
		Aliases: []string{"remove"},
		Short:   "Remove launched servers and their containers",
		Args:    usageArgs(cobra.MinimumNArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(func(a *app.App) error {
				for _, ref := range args {
					srv, err := a.Remove(cmd.Context(), ref, force)
					if err != nil {
						return err
					}
					fmt.Fprintf(c.stdout, "Removed %s\n", srv.Name)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "Stop running servers before removing them")
	return cmd
}

func (c *cli) logsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logs NAME|CONTAINER",
		Short: "Print a server's container output",
		Args:  usageArgs(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(func(a *app.App) error {
				logs, err := a.Logs(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				_, err = fmt.Fprint(c.stdout, logs)
				return err
			})
		},
	}
}
