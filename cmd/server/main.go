package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MostlyBuilds/op25-radio-stream/internal/audio"
	"github.com/MostlyBuilds/op25-radio-stream/internal/config"
	"github.com/MostlyBuilds/op25-radio-stream/internal/ingest"
	"github.com/MostlyBuilds/op25-radio-stream/internal/metrics"
	"github.com/MostlyBuilds/op25-radio-stream/internal/server"
	"github.com/MostlyBuilds/op25-radio-stream/internal/stream"
)

const (
	defaultConfigPath = "configs/config.yaml"
	serviceName       = "op25-radio-stream"
	serviceVersion    = "1.0.0"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration. A missing file at the default path is not an
	// error: the service runs fine on defaults alone.
	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger based on configuration
	logger := initLogger(cfg.Logging)

	// Log service startup
	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", *configPath),
	)

	// Log configuration summary
	logger.Info("Configuration loaded",
		slog.String("ingest_bind", cfg.Ingest.BindAddress),
		slog.Int("primary_port", cfg.Ingest.PrimaryPort),
		slog.Int("inject_port", cfg.Ingest.InjectPort),
		slog.String("output_bind", cfg.Output.BindAddress),
		slog.Int("output_port", cfg.Output.Port),
		slog.Float64("max_buffer_seconds", cfg.Buffering.MaxBufferSeconds),
		slog.Int("min_buffer_ms", cfg.Buffering.MinBufferMS),
		slog.Int("inject_hold_ms", cfg.Buffering.InjectHoldMS),
		slog.String("log_level", cfg.Logging.Level),
	)

	// Initialize Prometheus metrics
	appMetrics := metrics.New()
	logger.Info("Prometheus metrics initialized")

	// The safety cap bounds queued audio end to end, consumer or not.
	maxBufferBytes := audio.BytesForDuration(cfg.Buffering.GetMaxBufferDuration())

	// Start the primary UDP source (OP25 decoded audio).
	primary, err := ingest.Listen(metrics.SourcePrimary, cfg.Ingest.BindAddress,
		cfg.Ingest.PrimaryPort, cfg.Ingest.ReadBuffer, maxBufferBytes, logger, appMetrics)
	if err != nil {
		logger.Error("Failed to start primary source", slog.String("error", err.Error()))
		os.Exit(1)
	}
	sources := []*ingest.Source{primary}

	// Start the optional inject source. Audio arriving here overrides the
	// primary stream for as long as it keeps flowing.
	var inject stream.Drainer
	if cfg.Ingest.InjectPort > 0 {
		injectSrc, err := ingest.Listen(metrics.SourceInject, cfg.Ingest.BindAddress,
			cfg.Ingest.InjectPort, cfg.Ingest.ReadBuffer, maxBufferBytes, logger, appMetrics)
		if err != nil {
			logger.Error("Failed to start inject source", slog.String("error", err.Error()))
			primary.Close()
			os.Exit(1)
		}
		sources = append(sources, injectSrc)
		inject = injectSrc
	} else {
		logger.Info("Inject source disabled")
	}

	// Initialize the frame pacer
	pacer := stream.NewPacer(stream.Config{
		MaxBufferBytes: maxBufferBytes,
		MinBufferBytes: audio.BytesForDuration(cfg.Buffering.GetMinBufferDuration()),
		InjectHold:     cfg.Buffering.GetInjectHoldDuration(),
	}, primary, inject, logger, appMetrics)
	logger.Info("Frame pacer initialized",
		slog.Duration("frame_duration", audio.FrameDuration),
		slog.Duration("min_buffer", cfg.Buffering.GetMinBufferDuration()),
		slog.Duration("inject_hold", cfg.Buffering.GetInjectHoldDuration()),
	)

	// Initialize TCP stream server
	streamServer := server.NewStreamServer(&cfg.Output, pacer, logger, appMetrics)

	// Initialize HTTP API server (if enabled)
	var httpServer *server.HTTPServer
	if cfg.HTTP.Enabled {
		httpServer = server.NewHTTPServer(cfg.HTTP, logger, cfg, pacer, streamServer, sources, appMetrics)
		logger.Info("HTTP API server initialized",
			slog.String("address", fmt.Sprintf("%s:%d", cfg.HTTP.Address, cfg.HTTP.Port)),
		)
	}

	// Start TCP stream server
	if err := streamServer.Start(); err != nil {
		logger.Error("Failed to start stream server", slog.String("error", err.Error()))
		for _, src := range sources {
			src.Close()
		}
		os.Exit(1)
	}

	// Start HTTP server (if enabled)
	if httpServer != nil {
		if err := httpServer.Start(); err != nil {
			logger.Error("Failed to start HTTP server", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	logger.Info("Service started successfully, waiting for signals...",
		slog.String("stream_address", fmt.Sprintf("%s:%d", cfg.Output.BindAddress, cfg.Output.Port)),
	)

	sig := <-sigChan
	logger.Info("Received shutdown signal", slog.String("signal", sig.String()))

	logger.Info("Starting graceful shutdown...")

	// Stop HTTP server first (stop accepting new requests)
	if httpServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()

		if err := httpServer.Stop(shutdownCtx); err != nil {
			logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
		}
	}

	// Stop the stream server (ends the active session, if any)
	if err := streamServer.Stop(); err != nil {
		logger.Error("Error stopping stream server", slog.String("error", err.Error()))
	}

	// Stop the UDP sources last
	for _, src := range sources {
		if err := src.Close(); err != nil {
			logger.Error("Error closing source",
				slog.String("source", src.Name()),
				slog.String("error", err.Error()),
			)
		}
	}

	// Get final statistics
	stats := pacer.Stats()
	logger.Info("Final streaming statistics",
		slog.Uint64("sessions_served", stats.SessionsServed),
		slog.Uint64("frames_primary", stats.FramesPrimary),
		slog.Uint64("frames_inject", stats.FramesInject),
		slog.Uint64("frames_silence", stats.FramesSilence),
		slog.Uint64("bytes_sent", stats.BytesSent),
	)
	for _, src := range sources {
		srcStats := src.Stats()
		logger.Info("Final source statistics",
			slog.String("source", src.Name()),
			slog.Uint64("datagrams_received", srcStats.DatagramsReceived),
			slog.Uint64("datagrams_dropped", srcStats.DatagramsDropped),
			slog.Uint64("bytes_received", srcStats.BytesReceived),
		)
	}

	logger.Info("Service stopped")
}

// loadConfig loads the configuration file, falling back to defaults when the
// default config path does not exist. An explicit -config path must exist.
func loadConfig(path string) (*config.Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) && path == defaultConfigPath {
		return config.Default(), nil
	}
	return config.Load(path)
}

// initLogger creates and configures the structured logger based on configuration
func initLogger(cfg config.LoggingConfig) *slog.Logger {
	// Parse log level
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo // default fallback
	}

	// Configure handler options
	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug, // Add source info for debug level
	}

	// Determine output destination
	var output *os.File
	switch cfg.Output {
	case "stderr", "":
		output = os.Stderr
	case "stdout":
		output = os.Stdout
	default:
		// Assume it's a file path
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v, falling back to stderr\n", cfg.Output, err)
			output = os.Stderr
		} else {
			output = file
		}
	}

	// Create handler based on format
	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(output, opts)
	default:
		handler = slog.NewTextHandler(output, opts)
	}

	return slog.New(handler)
}
