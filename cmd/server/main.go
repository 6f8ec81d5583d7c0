package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/pflag"

	"github.com/skypro1111/sales-intake-service/internal/config"
	"github.com/skypro1111/sales-intake-service/internal/metrics"
	"github.com/skypro1111/sales-intake-service/internal/server"
	"github.com/skypro1111/sales-intake-service/internal/session"
	"github.com/skypro1111/sales-intake-service/internal/store"
)

const (
	serviceName    = "sales-intake-service"
	serviceVersion = "1.0.0"
)

// options holds command line flags
type options struct {
	configPath string
	listen     string
	dataDir    string
}

func main() {
	opts, err := parseFlags(os.Args[1:])
	if errors.Is(err, pflag.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	cfg, err := loadConfig(opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := initLogger(cfg.Logging)

	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", opts.configPath),
	)

	logger.Info("Configuration loaded",
		slog.String("listen_address", cfg.Server.Address()),
		slog.Int("frame_size", cfg.Server.FrameSize),
		slog.Int("max_sessions", cfg.Server.MaxSessions),
		slog.Duration("session_timeout", cfg.Server.GetSessionTimeoutDuration()),
		slog.String("data_dir", cfg.Storage.DataDir),
		slog.Bool("http_enabled", cfg.HTTP.Enabled),
		slog.String("log_level", cfg.Logging.Level),
	)

	// Metrics live on a private registry so /metrics shows only this service
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	appMetrics := metrics.NewMetrics(registry)

	// Branch store
	storeCfg, err := storeConfig(&cfg.Storage)
	if err != nil {
		logger.Error("Invalid storage configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}
	branchStore := store.New(storeCfg, logger)

	if err := branchStore.Init(); err != nil {
		logger.Error("Failed to create data directory", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Sessions
	sessionMgr := session.NewManager(logger, appMetrics)
	handler := session.NewHandler(session.Config{
		FrameSize: cfg.Server.FrameSize,
		Timeout:   cfg.Server.GetSessionTimeoutDuration(),
	}, branchStore, sessionMgr, logger)

	tcpServer := server.NewTCPServer(&cfg.Server, logger, handler, sessionMgr, appMetrics)
	if err := tcpServer.Listen(); err != nil {
		logger.Error("Failed to start TCP server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	if cfg.HTTP.Enabled {
		httpServer := server.NewHTTPServer(cfg, logger, sessionMgr, tcpServer, branchStore, appMetrics, registry)
		if err := httpServer.Start(); err != nil {
			logger.Error("Failed to start HTTP server", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	logger.Info("Server listening", slog.String("address", tcpServer.Addr().String()))

	// Runs until the process is killed
	if err := tcpServer.Serve(); err != nil {
		logger.Error("TCP server stopped", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

// parseFlags parses command line arguments
func parseFlags(args []string) (*options, error) {
	opts := &options{}

	flagSet := pflag.NewFlagSet(serviceName, pflag.ContinueOnError)
	flagSet.StringVarP(&opts.configPath, "config", "c", "", "path to a YAML or TOML configuration file (defaults apply when omitted)")
	flagSet.StringVarP(&opts.listen, "listen", "l", "", "TCP listen address as host:port, overrides server.bind_address and server.port")
	flagSet.StringVarP(&opts.dataDir, "data-dir", "d", "", "directory holding branch reports, overrides storage.data_dir")

	if err := flagSet.Parse(args); err != nil {
		return nil, err
	}

	if rest := flagSet.Args(); len(rest) > 0 {
		return nil, fmt.Errorf("unexpected argument: %s", rest[0])
	}

	return opts, nil
}

// loadConfig builds the effective configuration: defaults, then the
// config file if one was given, then flag overrides.
func loadConfig(opts *options) (*config.Config, error) {
	cfg := config.Default()

	if opts.configPath != "" {
		loaded, err := config.Load(opts.configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if opts.listen != "" {
		if err := cfg.Server.SetAddress(opts.listen); err != nil {
			return nil, err
		}
	}

	if opts.dataDir != "" {
		cfg.Storage.DataDir = opts.dataDir
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// storeConfig converts the storage section into store settings
func storeConfig(cfg *config.StorageConfig) (store.Config, error) {
	fileMode, err := cfg.GetFileMode()
	if err != nil {
		return store.Config{}, err
	}
	dirMode, err := cfg.GetDirMode()
	if err != nil {
		return store.Config{}, err
	}

	return store.Config{
		Root:       cfg.DataDir,
		ReportFile: cfg.ReportFile,
		FileMode:   fileMode,
		DirMode:    dirMode,
	}, nil
}

// initLogger creates and configures the structured logger based on configuration
func initLogger(cfg config.LoggingConfig) *slog.Logger {
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
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	var output *os.File
	switch cfg.Output {
	case "stderr":
		output = os.Stderr
	case "stdout", "":
		output = os.Stdout
	default:
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v, falling back to stdout\n", cfg.Output, err)
			output = os.Stdout
		} else {
			output = file
		}
	}

	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(output, opts)
	case "text", "":
		handler = slog.NewTextHandler(output, opts)
	default:
		// Default to text format
		handler = slog.NewTextHandler(output, opts)
	}

	return slog.New(handler)
}
