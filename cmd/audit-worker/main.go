package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"stockadmin/internal/amqp"
	"stockadmin/internal/cli"
	"stockadmin/internal/log"
	"stockadmin/internal/metrics"
	"stockadmin/internal/store/sqlite"
	"stockadmin/internal/worker"
)

func main() {
	cfg, logger := cli.Bootstrap(log.ComponentAudit)
	logger.Info("Starting audit-worker")

	if cfg.AMQPURL == "" {
		logger.Error("AMQP_URL is required for the audit worker")
		os.Exit(1)
	}

	// The audit log lives in SQLite whatever backend the dashboard uses.
	db := cli.OpenSQLite(logger, cfg.SQLiteDBPath, sqlite.Options{})
	defer db.Close()

	client, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
	if err != nil {
		logger.Error("Failed to initialize AMQP client", log.FieldError, err)
		os.Exit(1)
	}
	defer client.Close()

	m := metrics.New(nil)
	audit := worker.NewAuditWorker(db, m)

	ctx, stop := cli.SignalContext(logger)
	defer stop()

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", m.Handler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := db.Ping(r.Context()); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	srv := &http.Server{
		Addr:              ":" + getMetricsPort(),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return client.ConsumeUserChanges(gctx, audit.HandleUserChange)
	})
	g.Go(func() error {
		logger.Info("Serving worker metrics", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Audit worker stopped with error", log.FieldError, err)
		os.Exit(1)
	}
	logger.Info("Audit worker stopped gracefully")
}

func getMetricsPort() string {
	if p := os.Getenv("WORKER_METRICS_PORT"); p != "" {
		return p
	}
	return "9091"
}
