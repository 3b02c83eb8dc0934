package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"stockadmin/internal/backend"
	"stockadmin/internal/cache"
	"stockadmin/internal/cli"
	"stockadmin/internal/config"
	apphttp "stockadmin/internal/http"
	"stockadmin/internal/log"
	"stockadmin/internal/metrics"
	"stockadmin/internal/table"
)

func main() {
	cfg, logger := cli.Bootstrap(log.ComponentApp)

	ctx, stop := cli.SignalContext(logger)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("Server stopped with error", log.FieldError, err)
		os.Exit(1)
	}
	logger.Info("Server stopped gracefully")
}

func run(ctx context.Context, cfg *config.Config, logger *log.Logger) error {
	var sessions *table.Registry
	m := metrics.New(func() int { return sessions.Len() })

	bcfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		return err
	}
	res, err := backend.NewFactory(logger, m).Create(ctx, bcfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := res.Cleanup(); err != nil {
			logger.Warn("Backend cleanup failed", log.FieldError, err)
		}
	}()

	if res.Background != nil {
		go func() {
			if err := res.Background(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("Backend listener stopped", log.FieldError, err)
			}
		}()
	}

	sessions = table.NewRegistry(cfg.SessionMax, cfg.SessionTTL, table.Options{
		Updater:           res.Updater,
		HighlightDuration: cfg.HighlightDuration,
		Recorder:          m,
	})

	caches := cache.NewManager()
	caches.Register("sessions", sessions.Cache())
	go caches.Run(ctx, time.Minute)

	feed := apphttp.NewFeed(res.Store, m)
	if err := feed.Start(ctx); err != nil {
		return err
	}
	defer feed.Stop()

	checks := make(map[string]apphttp.Check, len(res.Checks))
	for name, check := range res.Checks {
		checks[name] = check
	}

	srv := apphttp.NewServer(apphttp.Options{
		Addr:     ":" + cfg.Port,
		Feed:     feed,
		Sessions: sessions,
		Metrics:  m,
		Logger:   logger.WithComponent(log.ComponentHTTP),
		Checks:   checks,
	})
	srv.MaxHeaderBytes = 1 << 16 // 64KB

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting stockadmin server",
			"port", cfg.Port,
			log.FieldBackend, cfg.DataBackend,
			"amqp_enabled", cfg.AMQPURL != "",
			"redis_enabled", cfg.RedisAddr != "")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown error", log.FieldError, err)
	}
	return nil
}
