package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/pumas-ai/pumas-launcher/pkg/models"
)

func newPullCmd() *cobra.Command {
	var modelType, family, name string
	cmd := &cobra.Command{
		Use:   "pull <repo_id>",
		Short: "Download a model from the hub into the content store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := buildCoordinator()
			if err != nil {
				return err
			}
			repoID := args[0]
			if family == "" || name == "" {
				return fmt.Errorf("--family and --name are required")
			}

			ids, err := c.PullModel(cmd.Context(), repoID, models.ModelType(modelType), family, name)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, id := range ids {
				for {
					prog, ok := c.DownloadProgress(id)
					if !ok || prog.Status == models.DownloadCompleted || prog.Status == models.DownloadError || prog.Status == models.DownloadCancelled {
						fmt.Fprintln(out, renderProgressLine(id, 1))
						break
					}
					frac := 0.0
					if prog.TotalBytes > 0 {
						frac = float64(prog.DownloadedBytes) / float64(prog.TotalBytes)
					}
					fmt.Fprint(out, renderProgressLine(id, frac))
					time.Sleep(200 * time.Millisecond)
				}
			}
			fmt.Fprintln(out)
			return nil
		},
	}
	cmd.Flags().StringVar(&modelType, "type", "llm", "model type to classify the download as")
	cmd.Flags().StringVar(&family, "family", "", "model family (required)")
	cmd.Flags().StringVar(&name, "name", "", "cleaned model name (required)")
	return cmd
}
