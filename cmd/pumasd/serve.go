package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the launcher core and its diagnostics HTTP surface",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := buildCoordinator()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if err := c.Start(ctx); err != nil {
				return fmt.Errorf("startup fan-out: %w", err)
			}

			srv := &http.Server{Addr: addr, Handler: c.DiagnosticsServer()}
			errCh := make(chan error, 1)
			go func() { errCh <- srv.ListenAndServe() }()

			fmt.Fprintf(cmd.OutOrStdout(), "pumasd listening on %s\n", addr)

			select {
			case <-ctx.Done():
			case err := <-errCh:
				if err != nil && err != http.ErrServerClosed {
					return err
				}
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
			c.Shutdown(shutdownCtx, 10*time.Second)
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:11535", "diagnostics HTTP listen address")
	return cmd
}
