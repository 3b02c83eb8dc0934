// Command seed loads a realtime database JSON export into the SQLite store.
package main

import (
	"context"
	"flag"
	"os"
	"time"

	"stockadmin/internal/cli"
	"stockadmin/internal/config"
	"stockadmin/internal/core"
	"stockadmin/internal/log"
	"stockadmin/internal/store"
	"stockadmin/internal/store/redisnotify"
	"stockadmin/internal/store/sqlite"
)

func main() {
	cli.LoadEnvFile()
	cfg := config.Load()

	file := flag.String("file", cfg.SeedFile, "JSON export to import")
	dbPath := flag.String("db", cfg.SQLiteDBPath, "SQLite database path")
	flag.Parse()

	logger := log.Setup(cfg.LogLevel, cfg.LogFormat, log.ComponentStore)

	if *file == "" {
		logger.Error("No export given: pass -file or set SEED_FILE")
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	exp, err := store.ReadExport(*file)
	if err != nil {
		logger.Error("Failed to read export", log.FieldError, err, "file", *file)
		os.Exit(1)
	}

	// Announce the import to running dashboards sharing the database.
	var opts sqlite.Options
	if cfg.RedisAddr != "" {
		n, err := redisnotify.Dial(ctx, cfg.RedisAddr, cfg.RedisChannel)
		if err != nil {
			logger.Warn("Redis unavailable, running dashboards will not refresh", log.FieldError, err)
		} else {
			defer n.Close()
			opts.Notifier = n
		}
	}

	db := cli.OpenSQLite(logger, *dbPath, opts)
	defer db.Close()

	if err := db.Import(ctx, exp); err != nil {
		logger.Error("Import failed", log.FieldError, err)
		os.Exit(1)
	}

	logger.Info("Import complete",
		log.FieldOperation, log.OpImport,
		"file", *file,
		"path", *dbPath,
		"users", len(exp[core.CollectionUsers]),
		"companies", len(exp[core.CollectionCompanies]),
		"transactions", len(exp[core.CollectionTransactions]))
}
