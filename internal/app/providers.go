package app

import (
	"github.com/google/wire"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/notecompanion/server/internal/shared/cache"
	"github.com/notecompanion/server/internal/shared/config"
	"github.com/notecompanion/server/internal/shared/database"
	"github.com/notecompanion/server/internal/shared/logger"
	"github.com/notecompanion/server/internal/shared/metrics"
)

// ProvideLogger creates the application logger from configuration.
func ProvideLogger(cfg *config.Config) (*zap.Logger, error) {
	return logger.New(&logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
	})
}

// ProvideDatabase opens the Postgres connection pool.
func ProvideDatabase(cfg *config.Config) (*gorm.DB, error) {
	return database.New(&cfg.Database)
}

// ProvideRedis opens the Redis connection. Returns a nil client when
// Redis is not configured.
func ProvideRedis(cfg *config.Config) (goredis.UniversalClient, error) {
	if cfg.Redis.Address == "" {
		return nil, nil
	}
	return cache.NewRedisClient(&cfg.Redis)
}

// ProvideMetrics creates the Prometheus metrics registry.
func ProvideMetrics() *metrics.Metrics {
	return metrics.New("notecompanion")
}

// InfraSet provides infrastructure dependencies.
var InfraSet = wire.NewSet(
	ProvideLogger,
	ProvideDatabase,
	ProvideRedis,
	ProvideMetrics,
)

// AppSet provides the fully assembled application.
var AppSet = wire.NewSet(
	InfraSet,
	assemble,
)
