package main

import (
	"fmt"
	"os"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

func newModelsCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "models",
		Short: "Inspect and manage the local model library",
	}
	root.AddCommand(newModelsListCmd(), newModelsRmCmd(), newModelsSearchCmd())
	return root
}

func newModelsListCmd() *cobra.Command {
	var query, typeFilter, tagFilter string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List models in the local library",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := buildCoordinator()
			if err != nil {
				return err
			}
			res, err := c.SearchModels(cmd.Context(), query, typeFilter, tagFilter, 1000, 0)
			if err != nil {
				return err
			}

			table := tablewriter.NewWriter(os.Stdout)
			table.SetHeader([]string{"MODEL ID", "TYPE", "FAMILY", "NAME"})
			for _, r := range res.Rows {
				table.Append([]string{r.ModelID, string(r.ModelType), r.Family, r.CleanedName})
			}
			table.Render()
			return nil
		},
	}
	cmd.Flags().StringVar(&query, "query", "", "full-text search query")
	cmd.Flags().StringVar(&typeFilter, "type", "", "filter by model type")
	cmd.Flags().StringVar(&tagFilter, "tag", "", "filter by tag")
	return cmd
}

func newModelsRmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm <model_id>",
		Short: "Remove a model and every link into it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := buildCoordinator()
			if err != nil {
				return err
			}
			if err := c.DeleteModel(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", args[0])
			return nil
		},
	}
}

func newModelsSearchCmd() *cobra.Command {
	var kindFilter string
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search the hub's remote catalog",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := buildCoordinator()
			if err != nil {
				return err
			}
			results, err := c.SearchHub(cmd.Context(), args[0], kindFilter, 20, 0)
			if err != nil {
				return err
			}

			table := tablewriter.NewWriter(os.Stdout)
			table.SetHeader([]string{"REPO ID", "PIPELINE TAG", "TAGS"})
			for _, r := range results {
				table.Append([]string{r.RepoID, r.PipelineTag, fmt.Sprint(r.Tags)})
			}
			table.Render()
			return nil
		},
	}
	cmd.Flags().StringVar(&kindFilter, "kind", "", "filter by pipeline/kind")
	return cmd
}
