package main

import (
	"fmt"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/bdobrica/Hako/internal/hako/app"
	"github.com/bdobrica/Hako/internal/hako/runtime"
	"github.com/bdobrica/Hako/internal/hako/store"
)

func (c *cli) listCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls", "ps"},
		Short:   "List launched servers",
		Args:    usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(func(a *app.App) error {
				servers, err := a.List(cmd.Context())
				if err != nil {
					return fmt.Errorf("failed to list servers: %w", err)
				}
				if len(servers) == 0 {
					fmt.Fprintln(c.stderr, "No servers found. Launch one with: hako run --name NAME --transport stdio IMAGE")
					return nil
				}
				return c.printServers(servers)
			})
		},
	}
}

func (c *cli) printServers(servers []*store.Server) error {
	w := tabwriter.NewWriter(c.stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tCONTAINER\tIMAGE\tTRANSPORT\tPORT\tSTATUS\tENDPOINT\tINTERNAL\tCOMMAND")
	for _, srv := range servers {
		port := "-"
		if srv.Port != 0 {
			port = strconv.Itoa(srv.Port)
		}
		status := srv.Status
		if srv.LastError != "" && srv.Status != store.StatusRunning {
			status += " (" + srv.LastError + ")"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			srv.Name, runtime.ShortID(srv.ContainerID), srv.Image, srv.Transport, port, status,
			orDash(srv.Endpoint), orDash(srv.InternalEndpoint), orDash(srv.Command))
	}
	return w.Flush()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
