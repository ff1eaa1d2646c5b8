package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bdobrica/Hako/common/version"
)

func (c *cli) versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		// Version needs neither settings nor the registry.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintln(c.stdout, version.String())
			return err
		},
	}
}
