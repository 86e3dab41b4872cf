// Package realtime implements the command running the capture
// pipeline.
package realtime

import (
	"context"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tablecap/tablecap-go/internal/capture"
	"github.com/tablecap/tablecap-go/internal/conf"
	"github.com/tablecap/tablecap-go/internal/logging"
)

// Command creates the realtime capture command.
func Command(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "realtime",
		Short: "Run the realtime hand capture pipeline",
		Long: `Starts ingestion, fusion, failure detection and recording and runs
until interrupted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipeline(settings)
		},
	}
}

func runPipeline(settings *conf.Settings) error {
	logger := logging.ForService("realtime")

	if settings.Main.Log.Enabled {
		level := slog.LevelInfo
		if settings.Debug {
			level = slog.LevelDebug
		}
		fileLogger, closeLog, err := logging.NewFileLogger(settings.Main.Log.Path, settings.Main.Name, level)
		if err != nil {
			return err
		}
		defer func() { _ = closeLog() }()
		slog.SetDefault(fileLogger)
		logger = fileLogger.With("service", "realtime")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pipeline, err := capture.New(settings)
	if err != nil {
		return err
	}

	if err := pipeline.Start(ctx); err != nil {
		return err
	}

	<-ctx.Done()
	logger.Info("shutdown signal received")

	pipeline.Shutdown()
	return nil
}
