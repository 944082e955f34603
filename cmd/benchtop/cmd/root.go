/*
Copyright © 2024 Jonathan Taylor <jonrtaylor12@gmail.com>
*/

package cmd

import (
	"context"
	"github.com/jt05610/benchtop"
	"github.com/jt05610/benchtop/env"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"os"
	"os/signal"
)

var (
	envFile  string
	mode     string
	verbose  bool
	jsonLogs bool
)

// rootCmd represents the root command
var rootCmd = &cobra.Command{
	Use:          "benchtop",
	Short:        "benchtop drives a Marlin controlled lab bench",
	Long:         `benchtop sends named G-code commands to a Marlin board over USB serial or an ESP3D WiFi bridge and waits for them to finish.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&envFile, "env", "e", "", "dotenv file (default ./.env if present)")
	rootCmd.PersistentFlags().StringVarP(&mode, "mode", "m", "", "transport mode, wifi or serial (overrides BENCH_MODE)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	rootCmd.PersistentFlags().BoolVar(&jsonLogs, "json", false, "JSON logs")
}

func Execute() error {
	return rootCmd.Execute()
}

func newLogger() (*zap.Logger, error) {
	cfg := zap.NewDevelopmentConfig()
	if jsonLogs {
		cfg = zap.NewProductionConfig()
	}
	if verbose {
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	} else {
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	return cfg.Build()
}

func loadEnv(logger *zap.Logger) (*env.Environment, error) {
	var files []string
	if envFile != "" {
		files = append(files, envFile)
	}
	environ, err := env.LoadEnv(logger, files...)
	if err != nil {
		return nil, err
	}
	if mode != "" {
		environ.Mode = mode
	}
	return environ, nil
}

type rigFunc func(ctx context.Context, cmd *cobra.Command, rig *benchtop.Rig, args []string) error

// withRig builds the rig for one command run and closes it afterwards.
func withRig(reg prometheus.Registerer, f rigFunc) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		logger, err := newLogger()
		if err != nil {
			return err
		}
		defer func() {
			_ = logger.Sync()
		}()
		environ, err := loadEnv(logger)
		if err != nil {
			return err
		}
		rig, err := benchtop.New(environ, logger, reg)
		if err != nil {
			return err
		}
		defer func() {
			if err := rig.Close(); err != nil {
				logger.Warn("Close rig", zap.Error(err))
			}
		}()
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()
		return f(ctx, cmd, rig, args)
	}
}
