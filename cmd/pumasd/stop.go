package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newStopCmd() *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "stop <app> <tag>",
		Short: "Stop a running app version",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := buildCoordinator()
			if err != nil {
				return err
			}
			if err := c.StopApp(cmd.Context(), args[0], args[1], timeout); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "stopped %s@%s\n", args[0], args[1])
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "grace period before a forceful kill")
	return cmd
}
