package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/care/postura/internal/config"
	"github.com/care/postura/internal/core"
)

const defaultConfigPath = "config/postura.yaml"

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	debug := flag.Bool("debug", false, "Enable debug logging")
	exercise := flag.String("exercise", "", "Exercise document, overrides exercise_path")
	clip := flag.String("clip", "", "Start a clip session over this video file on boot")
	synthetic := flag.Bool("synthetic", false, "Use synthetic media instead of GStreamer")
	flag.Parse()

	logLevel := slog.LevelInfo
	if *debug {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	slog.Info("starting posture coach",
		"config", *configPath,
		"debug", *debug,
		"exercise", *exercise,
		"clip", *clip,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	svc, err := core.NewServiceFromFile(*configPath, flagOverrides(*exercise, *clip, *synthetic))
	if err != nil {
		slog.Error("failed to create posture coach", "error", err)
		os.Exit(1)
	}

	errChan := make(chan error, 1)
	go func() {
		errChan <- svc.Run(ctx) // always send, even if nil
	}()

	exitCode := 0
	select {
	case sig := <-sigChan:
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
		if err := <-errChan; err != nil {
			slog.Error("service error", "error", err)
			exitCode = 1
		}
	case err := <-errChan:
		if err != nil {
			slog.Error("service error", "error", err)
			exitCode = 1
		} else {
			slog.Info("service stopped (via MQTT shutdown command)")
		}
	}

	shutdownTimeout := svc.ShutdownTimeout()
	slog.Info("shutting down gracefully", "timeout", shutdownTimeout)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := svc.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown failed", "error", err)
		exitCode = 1
	}

	slog.Info("posture coach stopped", "exit_code", exitCode)
	if exitCode != 0 {
		os.Exit(exitCode)
	}
}

// flagOverrides applies command line flags on top of the loaded config.
func flagOverrides(exercise, clip string, synthetic bool) func(*config.Config) {
	return func(cfg *config.Config) {
		if exercise != "" {
			cfg.ExercisePath = exercise
		}
		if clip != "" {
			cfg.Capture.AutoStart = "clip"
			cfg.Capture.AutoClip = clip
		}
		if synthetic {
			cfg.Capture.Backend = "synthetic"
		}
	}
}
