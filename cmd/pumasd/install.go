package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pumas-ai/pumas-launcher/internal/installer"
	"github.com/pumas-ai/pumas-launcher/pkg/models"
)

func newInstallCmd() *cobra.Command {
	var archiveURL, kind, requirements string
	cmd := &cobra.Command{
		Use:   "install <app> <tag>",
		Short: "Install one version of an app",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := buildCoordinator()
			if err != nil {
				return err
			}
			if archiveURL == "" {
				return fmt.Errorf("--archive-url is required")
			}

			events, err := c.InstallVersion(cmd.Context(), installer.Request{
				AppID:            args[0],
				Tag:              args[1],
				Kind:             models.AppKind(kind),
				ArchiveURL:       archiveURL,
				RequirementsPath: requirements,
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			var last models.ProgressEvent
			for ev := range events {
				last = ev
				fmt.Fprint(out, renderProgressLine(ev.Message, ev.Fraction))
			}
			fmt.Fprintln(out)
			if last.Kind == models.EventError {
				return fmt.Errorf("install failed: %s", last.Message)
			}
			fmt.Fprintf(out, "installed %s@%s\n", args[0], args[1])
			return nil
		},
	}
	cmd.Flags().StringVar(&archiveURL, "archive-url", "", "archive URL to install from (required)")
	cmd.Flags().StringVar(&kind, "kind", string(models.AppKindBinary), "app kind: python-venv, native-binary, or container")
	cmd.Flags().StringVar(&requirements, "requirements", "", "path to a requirements.txt (python-venv kind only)")
	return cmd
}
