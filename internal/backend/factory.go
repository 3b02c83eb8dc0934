package backend

import (
	"context"
	"errors"
	"fmt"

	"stockadmin/internal/amqp"
	"stockadmin/internal/log"
	"stockadmin/internal/store"
	"stockadmin/internal/store/memory"
	"stockadmin/internal/store/redisnotify"
	"stockadmin/internal/store/rtdb"
	"stockadmin/internal/store/sqlite"
)

// EventSource tags the change events published by the dashboard.
const EventSource = "stockadmin"

// DefaultFactory implements the Factory interface
type DefaultFactory struct {
	logger   *log.Logger
	recorder amqp.ChangeRecorder
}

// NewFactory creates a backend factory. recorder counts published change
// events and may be nil.
func NewFactory(logger *log.Logger, recorder amqp.ChangeRecorder) Factory {
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	return &DefaultFactory{
		logger:   logger.WithComponent(log.ComponentStore),
		recorder: recorder,
	}
}

// Create implements Factory.Create
func (f *DefaultFactory) Create(ctx context.Context, config Config) (*Result, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	var (
		res *Result
		err error
	)
	switch config.Type {
	case SQLite:
		res, err = f.createSQLite(ctx, config)
	case RTDB:
		res, err = f.createRTDB(ctx, config)
	case Memory:
		res, err = f.createMemory(config)
	default:
		return nil, fmt.Errorf("unsupported backend type: %s", config.Type)
	}
	if err != nil {
		return nil, err
	}

	f.attachPublisher(ctx, config, res)
	return res, nil
}

func (f *DefaultFactory) createMemory(config Config) (*Result, error) {
	st, err := memory.NewFromFile(config.SeedFile)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize memory store: %w", err)
	}

	f.logger.Info("Initialized memory backend", "seed_file", config.SeedFile)

	return &Result{
		Store:   st,
		Updater: st,
		Cleanup: st.Close,
	}, nil
}

func (f *DefaultFactory) createSQLite(ctx context.Context, config Config) (*Result, error) {
	var (
		notifier *redisnotify.Notifier
		opts     sqlite.Options
	)
	if config.RedisAddr != "" {
		n, err := redisnotify.Dial(ctx, config.RedisAddr, config.RedisChannel)
		if err != nil {
			f.logger.Warn("Failed to connect to Redis, changes stay local to this process",
				log.FieldError, err,
				"addr", config.RedisAddr)
		} else {
			notifier = n
			opts.Notifier = n
		}
	}

	st, err := sqlite.New(config.SQLiteDBPath, opts)
	if err != nil {
		if notifier != nil {
			notifier.Close()
		}
		return nil, fmt.Errorf("failed to initialize SQLite store: %w", err)
	}

	if config.SeedFile != "" {
		exp, err := store.ReadExport(config.SeedFile)
		if err != nil {
			st.Close()
			if notifier != nil {
				notifier.Close()
			}
			return nil, fmt.Errorf("read seed file: %w", err)
		}
		if err := st.Import(ctx, exp); err != nil {
			st.Close()
			if notifier != nil {
				notifier.Close()
			}
			return nil, fmt.Errorf("import seed file: %w", err)
		}
		f.logger.Info("Imported seed file", "seed_file", config.SeedFile)
	}

	f.logger.Info("Initialized SQLite backend",
		"db_path", config.SQLiteDBPath,
		"redis_enabled", notifier != nil)

	return &Result{
		Store:      st,
		Updater:    st,
		Background: st.Start,
		Checks:     map[string]func(context.Context) error{"database": st.Ping},
		Cleanup: func() error {
			var errs []error
			if notifier != nil {
				errs = append(errs, notifier.Close())
			}
			errs = append(errs, st.Close())
			return errors.Join(errs...)
		},
	}, nil
}

func (f *DefaultFactory) createRTDB(ctx context.Context, config Config) (*Result, error) {
	cli, err := rtdb.New(ctx, rtdb.Config{
		BaseURL:         config.RTDBURL,
		CredentialsFile: config.RTDBCredentialsFile,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize realtime database client: %w", err)
	}

	f.logger.Info("Initialized realtime database backend",
		"url", config.RTDBURL,
		"authenticated", config.RTDBCredentialsFile != "")

	return &Result{
		Store:   cli,
		Updater: cli,
		Cleanup: cli.Close,
	}, nil
}

// attachPublisher wraps the updater so committed user writes are announced
// on the broker. A broker that cannot be reached disables events only.
func (f *DefaultFactory) attachPublisher(ctx context.Context, config Config, res *Result) {
	if config.AMQPURL == "" {
		return
	}
	client, err := amqp.NewClient(config.AMQPURL, config.AMQPExchange, config.AMQPQueue)
	if err != nil {
		f.logger.WarnContext(ctx, "Failed to initialize AMQP client, continuing without change events",
			log.FieldError, err)
		return
	}
	f.logger.InfoContext(ctx, "Initialized AMQP client",
		"exchange", config.AMQPExchange,
		"queue", config.AMQPQueue)

	res.Updater = amqp.NewPublishingUpdater(res.Updater, client, EventSource, f.recorder)
	cleanup := res.Cleanup
	res.Cleanup = func() error {
		return errors.Join(client.Close(), cleanup())
	}
}
