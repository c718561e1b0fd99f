// Command content-drop runs the HTTP content-drop service: POST a blob
// of bytes, receive a short key, GET the key to read it back until it
// expires.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/lmittmann/tint"
	"github.com/wolfeidau/content-drop/config"
	"github.com/wolfeidau/content-drop/server"
	"github.com/wolfeidau/content-drop/telemetry"
)

var version = "dev"

type cli struct {
	Config    string           `help:"Path to the JSON config file." default:"config.json"`
	LogLevel  string           `help:"Log level." enum:"debug,info,warn,error" default:"info"`
	LogFormat string           `help:"Log format." enum:"text,json" default:"text"`
	Version   kong.VersionFlag `help:"Print version and exit."`
}

func main() {
	var flags cli
	kong.Parse(&flags,
		kong.Name("content-drop"),
		kong.Description("HTTP content-drop service."),
		kong.Vars{"version": version},
	)

	if err := run(&flags); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(flags *cli) error {
	var level slog.Level
	switch flags.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	var handler slog.Handler
	switch flags.LogFormat {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	default:
		handler = tint.NewHandler(os.Stdout, &tint.Options{Level: level})
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)

	cfg, err := config.Load(flags.Config)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownMetrics, err := telemetry.InitMetrics(ctx, telemetry.MetricsConfig{
		ServiceName:      "content-drop",
		ServiceVersion:   version,
		EnablePrometheus: cfg.MetricsEnabled,
		OTLPEndpoint:     cfg.OTLPEndpoint,
	})
	if err != nil {
		return fmt.Errorf("initializing metrics: %w", err)
	}

	srv, err := server.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		logger.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(ctx)
	}()

	logger.Info("server started", "address", srv.Address(), "version", version)

	select {
	case <-ctx.Done():
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return shutdownMetrics(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
