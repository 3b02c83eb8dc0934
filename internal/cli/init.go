// Package cli holds the start-up steps shared by the stockadmin commands.
package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"stockadmin/internal/config"
	"stockadmin/internal/log"
	"stockadmin/internal/store/sqlite"
)

// LoadEnvFile loads the .env file for local development.
// Errors are ignored silently as this is optional in production.
func LoadEnvFile() {
	_ = godotenv.Load()
}

// Bootstrap loads .env and the configuration, installs the logger and
// validates. It exits the process when the configuration is invalid.
func Bootstrap(component string) (*config.Config, *log.Logger) {
	LoadEnvFile()
	cfg := config.Load()
	logger := log.Setup(cfg.LogLevel, cfg.LogFormat, component)
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", log.FieldError, err)
		os.Exit(1)
	}
	return cfg, logger
}

// OpenSQLite opens the SQLite store at dbPath or exits the process.
func OpenSQLite(logger *log.Logger, dbPath string, opts sqlite.Options) *sqlite.Store {
	db, err := sqlite.New(dbPath, opts)
	if err != nil {
		logger.Error("Failed to open SQLite database", log.FieldError, err, "path", dbPath)
		os.Exit(1)
	}
	return db
}

// SignalContext is cancelled on SIGINT or SIGTERM. The signal is logged.
func SignalContext(logger *log.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigChan)
		select {
		case sig := <-sigChan:
			logger.Info("Shutdown signal received", "signal", sig.String())
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}
