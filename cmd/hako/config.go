package main

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/bdobrica/Hako/internal/hako/app"
	"github.com/bdobrica/Hako/internal/hako/config"
)

func (c *cli) configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage run defaults",
		Long: "Manage the defaults applied to `hako run` flags that are not given.\n\nKeys: " +
			strings.Join(config.Keys(), ", "),
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "set KEY VALUE",
			Short: "Set a default",
			Args:  usageArgs(cobra.ExactArgs(2)),
			RunE: func(cmd *cobra.Command, args []string) error {
				return c.withApp(func(a *app.App) error {
					return a.Defaults().Set(cmd.Context(), args[0], args[1])
				})
			},
		},
		&cobra.Command{
			Use:   "get KEY",
			Short: "Print a default",
			Args:  usageArgs(cobra.ExactArgs(1)),
			RunE: func(cmd *cobra.Command, args []string) error {
				return c.withApp(func(a *app.App) error {
					v, err := a.Defaults().Get(cmd.Context(), args[0])
					if errors.Is(err, config.ErrNotFound) {
						return fmt.Errorf("%s is not set", args[0])
					}
					if err != nil {
						return err
					}
					fmt.Fprintln(c.stdout, v)
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "list",
			Short: "Print all defaults",
			Args:  usageArgs(cobra.NoArgs),
			RunE: func(cmd *cobra.Command, args []string) error {
				return c.withApp(func(a *app.App) error {
					m, err := a.Defaults().List(cmd.Context())
					if err != nil {
						return err
					}
					keys := make([]string, 0, len(m))
					for k := range m {
						keys = append(keys, k)
					}
					sort.Strings(keys)
					for _, k := range keys {
						fmt.Fprintf(c.stdout, "%s=%s\n", k, m[k])
					}
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "unset KEY",
			Short: "Remove a default",
			Args:  usageArgs(cobra.ExactArgs(1)),
			RunE: func(cmd *cobra.Command, args []string) error {
				return c.withApp(func(a *app.App) error {
					return a.Defaults().Delete(cmd.Context(), args[0])
				})
			},
		},
		&cobra.Command{
			Use:   "path",
			Short: "Print the settings file and registry locations",
			Args:  usageArgs(cobra.NoArgs),
			RunE: func(cmd *cobra.Command, args []string) error {
				settings := c.settings.Path
				if settings == "" {
					settings = "(none)"
				}
				fmt.Fprintf(c.stdout, "settings: %s\nregistry: %s\n", settings, c.settings.DBPath)
				return nil
			},
		},
	)
	return cmd
}
