// File: cmd/serve.go
package cmd

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/voxstay/browsergate/internal/broker"
	"github.com/voxstay/browsergate/internal/observability"
	"github.com/voxstay/browsergate/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the observer-facing HTTP and WebSocket service.",
	Long: `Starts the session service: pre-warms a headless browser session,
exposes action execution over POST /api/execute, still images over
GET /screenshot, and the live frame/input channel over GET /ws/browser.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := observability.GetLogger()

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		b := broker.NewBroker(cfg, logger)
		srv := server.New(cfg, b, logger)

		if err := srv.ListenAndServe(ctx); err != nil {
			logger.Error("Service exited with error", zap.Error(err))
			return err
		}
		logger.Info("Service stopped")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
