package persistence

import (
	"fmt"

	"go.uber.org/zap"
)

// New creates a Store based on the configuration
func New(config StoreConfig, logger *zap.Logger) (Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	switch config.Type {
	case StoreTypeMemory, "":
		logger.Info("using in-memory store")
		return NewMemoryStore(), nil
	case StoreTypeRedis:
		return NewRedisStore(config.Redis, logger)
	case StoreTypeDatabase:
		return OpenSQLStore(config.Database, logger)
	default:
		return nil, fmt.Errorf("unsupported store type: %s", config.Type)
	}
}
