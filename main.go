package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"interviewlab/lsp-gateway/logger"
	"interviewlab/lsp-gateway/server"
	"interviewlab/lsp-gateway/session"
)

const shutdownGrace = 30 * time.Second

// tryLoadConfig attempts the configured path first, then fallback
// locations, then built-in defaults.
func tryLoadConfig(primaryPath string) *server.Config {
	paths := []string{primaryPath, "lsp_gateway.json", "example.lsp_gateway.json"}

	for _, path := range paths {
		if path == "" {
			continue
		}
		if cfg, err := server.LoadConfig(path); err == nil {
			fmt.Fprintf(os.Stderr, "INFO: loaded configuration from %s\n", path)
			return cfg
		}
	}

	fmt.Fprintln(os.Stderr, "NOTICE: no config file found, using defaults")

	return server.DefaultConfig()
}

func main() {
	var confPath string
	var addr string
	var logPath string
	var logLevel string
	flag.StringVar(&confPath, "config", "lsp_gateway.json", "Path to gateway configuration file")
	flag.StringVar(&confPath, "c", "lsp_gateway.json", "Path to gateway configuration file (short)")
	flag.StringVar(&addr, "addr", "", "Listen address (overrides config)")
	flag.StringVar(&logPath, "log-path", "", "Path to log file (overrides config)")
	flag.StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error (overrides config)")
	flag.Parse()

	cfg := tryLoadConfig(confPath)
	cfg.ApplyEnv()

	if addr != "" {
		cfg.Addr = addr
	}
	if logPath != "" {
		cfg.LogPath = logPath
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}

	if err := logger.Init(cfg.LoggerConfig()); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Close()

	logger.Info("Starting LSP gateway...")

	if err := cfg.ValidateJava(); err != nil {
		logger.Error(err)
		os.Exit(1)
	}

	resolver, err := cfg.CommandResolver()
	if err != nil {
		logger.Error(fmt.Sprintf("Language server discovery failed: %v", err))
		os.Exit(1)
	}

	if err := os.MkdirAll(cfg.WorkspaceDir, 0o755); err != nil {
		logger.Error(fmt.Sprintf("Failed to create workspace directory %s: %v", cfg.WorkspaceDir, err))
		os.Exit(1)
	}

	registry := session.NewRegistry()
	srv := server.New(cfg, registry, resolver)

	// The signal handler only cancels a context; all teardown I/O runs
	// on this goroutine.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() {
		logger.Info(fmt.Sprintf("Listening on %s", cfg.Addr))
		serveErr <- srv.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(fmt.Sprintf("Server error: %v", err))
			os.Exit(1)
		}
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()

	registry.ShutdownAll(shutdownCtx)

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn(fmt.Sprintf("HTTP shutdown: %v", err))
	}

	logger.Info("Gateway stopped")
}
