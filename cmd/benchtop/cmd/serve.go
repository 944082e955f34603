/*
Copyright © 2024 Jonathan Taylor <jonrtaylor12@gmail.com>
*/

package cmd

import (
	"context"
	"errors"
	"github.com/jt05610/benchtop"
	"github.com/jt05610/benchtop/amqp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"net/http"
	"time"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Expose metrics and take remote commands over AMQP",
	Long: `serve keeps the rig open, exposes Prometheus metrics on METRICS_ADDR and,
when RABBITMQ_URI is set, runs commands published to <DEVICE_ID>.commands.<name>.`,
	Args: cobra.NoArgs,
	RunE: withRig(prometheus.DefaultRegisterer, func(ctx context.Context, cmd *cobra.Command, rig *benchtop.Rig, _ []string) error {
		logger, err := newLogger()
		if err != nil {
			return err
		}
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		srv := &http.Server{Addr: rig.Env.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			logger.Info("Serving metrics", zap.String("addr", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("Metrics server stopped", zap.Error(err))
			}
		}()
		defer func() {
			_ = srv.Shutdown(context.WithoutCancel(ctx))
		}()
		if err := rig.ApplyInit(ctx); err != nil {
			logger.Warn("Init G-code failed", zap.Error(err))
		}
		if rig.Env.URI == "" {
			logger.Info("RABBITMQ_URI not set, metrics only")
			<-ctx.Done()
			return nil
		}
		conn, err := amqp.Dial(rig.Env)
		if err != nil {
			return err
		}
		defer func() {
			_ = conn.Close()
		}()
		s := amqp.NewServer(conn.Channel, rig.Env.Exchange, rig.Env.DeviceID, rig.Dispatcher, logger.Named("amqp"))
		return s.Listen(ctx, conn.Channel)
	}),
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
