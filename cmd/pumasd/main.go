// Command pumasd is the CLI surface over the Pumas launcher core: serving
// the diagnostics API, pulling models from the hub, installing and
// running app versions, and inspecting the local library — the way
// ollama's cmd.go fronts the teacher's server package.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pumas-ai/pumas-launcher/internal/config"
	"github.com/pumas-ai/pumas-launcher/internal/coordinator"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// buildCoordinator loads the process config and wires a Coordinator for
// one command invocation. Commands that need background state (serve)
// call Start explicitly; one-shot commands (pull, install, ps, ...) skip
// the startup fan-out and talk to the subsystems directly.
func buildCoordinator() (*coordinator.Coordinator, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return coordinator.New(cfg)
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "pumasd",
		Short:         "Pumas launcher core daemon and CLI",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		newServeCmd(),
		newPullCmd(),
		newInstallCmd(),
		newPsCmd(),
		newStopCmd(),
		newModelsCmd(),
	)
	return root
}
