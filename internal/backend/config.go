package backend

import (
	"fmt"

	"stockadmin/internal/config"
)

// FromAppConfig converts the application config to backend config
func FromAppConfig(appConfig *config.Config) (Config, error) {
	if appConfig == nil {
		return Config{}, fmt.Errorf("app config is nil")
	}

	t := Type(appConfig.DataBackend)
	if !t.IsValid() {
		return Config{}, fmt.Errorf("invalid backend type in config: %s", appConfig.DataBackend)
	}

	return Config{
		Type:     t,
		SeedFile: appConfig.SeedFile,

		SQLiteDBPath: appConfig.SQLiteDBPath,
		RedisAddr:    appConfig.RedisAddr,
		RedisChannel: appConfig.RedisChannel,

		RTDBURL:             appConfig.RTDBURL,
		RTDBCredentialsFile: appConfig.RTDBCredentialsFile,

		AMQPURL:      appConfig.AMQPURL,
		AMQPExchange: appConfig.AMQPExchange,
		AMQPQueue:    appConfig.AMQPQueue,
	}, nil
}

// Validate validates the backend configuration
func (c Config) Validate() error {
	if !c.Type.IsValid() {
		return fmt.Errorf("invalid backend type: %s", c.Type)
	}

	switch c.Type {
	case SQLite:
		if c.SQLiteDBPath == "" {
			return fmt.Errorf("SQLite database path is required for sqlite backend")
		}
	case RTDB:
		if c.RTDBURL == "" {
			return fmt.Errorf("realtime database URL is required for rtdb backend")
		}
		if c.SeedFile != "" {
			return fmt.Errorf("seed file is not supported by the rtdb backend")
		}
	case Memory:
		// An empty SeedFile means the built-in demo data.
	}

	if c.AMQPURL != "" && c.AMQPQueue == "" {
		return fmt.Errorf("AMQP queue is required when AMQP URL is set")
	}
	return nil
}

// Types returns all valid backend types
func Types() []Type {
	return []Type{Memory, SQLite, RTDB}
}
