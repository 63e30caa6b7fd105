package main

import (
	"fmt"
	"os"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

func newPsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ps",
		Short: "List running app processes and their resource usage",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := buildCoordinator()
			if err != nil {
				return err
			}
			procs, err := c.ScanProcesses(cmd.Context())
			if err != nil {
				return err
			}

			table := tablewriter.NewWriter(os.Stdout)
			table.SetHeader([]string{"APP", "TAG", "PID", "SOURCE"})
			for _, p := range procs {
				table.Append([]string{p.AppID, p.Tag, fmt.Sprint(p.PID), string(p.Source)})
			}
			table.Render()
			return nil
		},
	}
}
