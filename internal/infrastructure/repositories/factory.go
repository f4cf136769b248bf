package repositories

import (
	"fmt"

	"duocall/internal/core/ports"
	"duocall/internal/infrastructure/repositories/memory"
	redisrepo "duocall/internal/infrastructure/repositories/redis"
	"duocall/pkg/config"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RepositoryFactory builds the registry repository from configuration:
// Redis-backed when redis is enabled, in-memory otherwise.
type RepositoryFactory struct {
	cfg         *config.Config
	redisClient *goredis.Client
	logger      *zap.SugaredLogger
}

func NewRepositoryFactory(cfg *config.Config, logger *zap.SugaredLogger) (*RepositoryFactory, error) {
	f := &RepositoryFactory{cfg: cfg, logger: logger}

	if cfg.Redis.Enabled {
		client, err := redisrepo.NewRedisClient(
			cfg.Redis.Address,
			cfg.Redis.Password,
			cfg.Redis.DB,
			cfg.Redis.PoolSize,
			logger,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create redis client: %w", err)
		}
		f.redisClient = client
	}

	return f, nil
}

func (f *RepositoryFactory) CreateRegistryRepository() ports.RegistryRepository {
	if f.redisClient != nil {
		f.logger.Infow("using redis registry repository", "address", f.cfg.Redis.Address)
		return redisrepo.NewRedisRegistryRepository(f.redisClient)
	}
	f.logger.Infow("using in-memory registry repository")
	return memory.NewMemoryRegistryRepository()
}

// RedisClient exposes the shared client for health checks. Nil when redis
// is disabled.
func (f *RepositoryFactory) RedisClient() *goredis.Client {
	return f.redisClient
}

func (f *RepositoryFactory) Close() error {
	if f.redisClient != nil {
		return redisrepo.CloseRedisClient(f.redisClient)
	}
	return nil
}
