package worker

import (
	"context"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/commissions/internal/config"
	"github.com/smallbiznis/commissions/internal/pipeline"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("worker",
	fx.Provide(
		func(cfg config.Config) config.WorkerConfig { return cfg.Worker },
		func(client *redis.Client, cfg config.Config) *Locker {
			return NewLocker(client, cfg.Cache.KeyPrefix)
		},
		func(o *pipeline.Orchestrator) Processor { return o },
		New,
	),
	fx.Invoke(Start),
)

// Start runs the poll loop for the lifetime of the app when the worker is enabled.
func Start(lc fx.Lifecycle, cfg config.Config, w *Worker, log *zap.Logger) {
	if !cfg.Worker.Enabled {
		return
	}
	if cfg.Cache.Driver == config.CacheDriverMemory {
		log.Warn("worker uses a process-local mapping cache; mappings recorded elsewhere apply after the TTL",
			zap.Duration("mapping_ttl", cfg.Cache.MappingTTL),
		)
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			ctx, cancel := context.WithCancel(context.Background())
			done := make(chan struct{})

			go func() {
				defer close(done)
				w.RunForever(ctx)
			}()

			lc.Append(fx.Hook{
				OnStop: func(stopCtx context.Context) error {
					cancel()
					select {
					case <-done:
					case <-stopCtx.Done():
					}
					return nil
				},
			})
			return nil
		},
	})
}
