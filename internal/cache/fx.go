package cache

import (
	"context"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/commissions/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("cache",
	fx.Provide(NewRedisClient),
	fx.Provide(NewMappingCache),
)

// NewRedisClient returns nil when no Redis address is configured.
func NewRedisClient(lc fx.Lifecycle, cfg config.Config, log *zap.Logger) *redis.Client {
	if !cfg.RedisEnabled() {
		return nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := client.Ping(ctx).Err(); err != nil {
				log.Warn("redis ping failed", zap.String("addr", cfg.RedisAddr), zap.Error(err))
			}
			return nil
		},
		OnStop: func(context.Context) error {
			return client.Close()
		},
	})
	return client
}

func NewMappingCache(cfg config.Config, client *redis.Client, log *zap.Logger) (MappingCache, error) {
	if cfg.Cache.Driver == config.CacheDriverRedis {
		if client == nil {
			log.Warn("redis cache driver selected without REDIS_ADDR, falling back to memory")
			return NewMemoryMappingCache(cfg.Cache.MappingTTL), nil
		}
		return NewRedisMappingCache(client, cfg.Cache.KeyPrefix, cfg.Cache.MappingTTL)
	}
	return NewMemoryMappingCache(cfg.Cache.MappingTTL), nil
}
