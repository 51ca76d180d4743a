package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/lumenca/holdfast/gate"
	"github.com/lumenca/holdfast/httpapi"
	"github.com/lumenca/holdfast/metrics"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the approval console (JSON API + /metrics)",
	RunE: func(cmd *cobra.Command, args []string) error {
		log := newLogger()
		g, cleanup, err := openGate(log, gate.WithRecorder(metrics.NewGateMetrics()))
		if err != nil {
			return err
		}
		defer cleanup()

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		srv := httpapi.NewServer(g, log)
		err = srv.ListenAndServe(ctx, viper.GetString("console.addr"))
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		log.Info("console_stopped")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
