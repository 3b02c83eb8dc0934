package backend

import (
	"context"

	"stockadmin/internal/store"
)

// CleanupFunc releases the resources held by a backend.
type CleanupFunc func() error

// Result is a ready-to-use store plus what the process must run and close
// alongside it.
type Result struct {
	// Store is what the dashboard subscribes to.
	Store store.Store
	// Updater receives every write. It wraps Store when change events are
	// published.
	Updater store.Updater
	// Background runs until ctx is done. It is nil when the backend has
	// nothing to run.
	Background func(ctx context.Context) error
	// Checks are readiness probes keyed by dependency name.
	Checks  map[string]func(ctx context.Context) error
	Cleanup CleanupFunc
}

// Factory creates backends based on configuration
type Factory interface {
	Create(ctx context.Context, config Config) (*Result, error)
}

// Config holds configuration for backend creation
type Config struct {
	Type Type

	// SeedFile is a JSON export loaded into memory and sqlite backends.
	SeedFile string

	SQLiteDBPath string
	RedisAddr    string
	RedisChannel string

	RTDBURL             string
	RTDBCredentialsFile string

	// Change events, optional for every backend.
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string
}

// Type represents the type of backend
type Type string

const (
	Memory Type = "memory"
	SQLite Type = "sqlite"
	RTDB   Type = "rtdb"
)

func (t Type) String() string {
	return string(t)
}

func (t Type) IsValid() bool {
	switch t {
	case Memory, SQLite, RTDB:
		return true
	default:
		return false
	}
}
