package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/phambaophuc/image-relay/internal/config"
	"github.com/phambaophuc/image-relay/internal/services/batch"
	"github.com/phambaophuc/image-relay/internal/services/claude"
	"github.com/phambaophuc/image-relay/internal/services/processor"
	"github.com/phambaophuc/image-relay/internal/services/queue"
	"github.com/phambaophuc/image-relay/internal/services/records"
	"github.com/phambaophuc/image-relay/internal/services/session"
	"github.com/phambaophuc/image-relay/internal/services/storage"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const connectTimeout = 5 * time.Second

// app wires the services shared by the commands.
type app struct {
	cfg    *config.Config
	logger *zap.Logger

	store   *storage.TempStore
	cache   storage.Cache
	redis   *redis.Client
	batch   *batch.Processor
	prober  *claude.Prober
	client  *claude.Client
	records *records.Store
	queue   *queue.QueueService
	manager *session.Manager
}

// newApp builds the services. With consumeQueue the caller runs a queue
// worker that persists published records, so the manager only publishes.
func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger, consumeQueue bool) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	store, err := storage.NewTempStore(cfg.Storage.TempDir, logger)
	if err != nil {
		return nil, err
	}
	a.store = store

	a.cache = storage.NewMemoryCache()
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
		err := client.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			logger.Warn("Redis unavailable, probe results cached in memory", zap.Error(err))
			client.Close()
		} else {
			a.redis = client
			a.cache = storage.NewRedisCache(client)
		}
	}

	if cfg.Records.DBPath != "" {
		rs, err := records.NewStore(cfg.Records.DBPath)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to open records database: %w", err)
		}
		a.records = rs
	}

	if cfg.RabbitMQ.URL != "" {
		q, err := queue.NewQueueService(cfg.RabbitMQ.URL, cfg.RabbitMQ.Queue, logger)
		if err != nil {
			// Continue without publishing records
			logger.Warn("Failed to initialize queue service", zap.Error(err))
		} else {
			a.queue = q
		}
	}

	images := processor.NewImageProcessor(processor.OptionsFromConfig(cfg.Image), store, nil, logger)
	a.batch = batch.NewProcessor(images, store, cfg.Session.BatchCap, logger)

	claudeOpts := claude.OptionsFromConfig(cfg)
	a.prober = claude.NewProber(claudeOpts, a.cache, cfg.Claude.ProbeTTL, logger)
	a.client = claude.NewClient(claudeOpts, a.prober, nil, logger)

	a.manager = session.NewManager(session.OptionsFromConfig(cfg), nil, a.batch, a.client, logger,
		session.WithRecorder(a.recorder(consumeQueue)))

	return a, nil
}

func (a *app) recorder(consumeQueue bool) session.Recorder {
	var sinks records.Multi
	if a.queue != nil {
		sinks = append(sinks, a.queue)
	}
	if a.records != nil && (a.queue == nil || !consumeQueue) {
		sinks = append(sinks, a.records)
	}
	if len(sinks) == 0 {
		return nil
	}
	return sinks
}

// health reports every optional dependency by name.
func (a *app) health(ctx context.Context) map[string]string {
	status := storage.HealthCheck(ctx, a.store, a.cache)
	status["rabbitmq"] = a.queue.HealthCheck()

	if a.records == nil {
		status["records"] = "not configured"
	} else if err := a.records.Ping(ctx); err != nil {
		status["records"] = "unhealthy: " + err.Error()
	} else {
		status["records"] = "healthy"
	}
	return status
}

// sweep removes expired temp files and, when a retention is set, purges old
// session records.
func (a *app) sweep(ctx context.Context) {
	removed, err := a.batch.Sweep(a.cfg.Storage.Retention)
	if err != nil {
		a.logger.Warn("Temp sweep failed", zap.Error(err))
	} else {
		a.logger.Debug("Temp sweep finished", zap.Int("removed", removed))
	}

	if a.queue != nil {
		if stats, err := a.queue.Stats(); err != nil {
			a.logger.Warn("Failed to inspect record queue", zap.Error(err))
		} else {
			a.logger.Info("Record queue backlog",
				zap.String("queue", stats.Name),
				zap.Int("messages", stats.Messages),
				zap.Int("consumers", stats.Consumers))
		}
	}

	if a.records == nil || a.cfg.Records.Retention <= 0 {
		return
	}
	purged, err := a.records.Purge(ctx, time.Now().Add(-a.cfg.Records.Retention))
	if err != nil {
		a.logger.Warn("Records purge failed", zap.Error(err))
		return
	}
	if purged > 0 {
		a.logger.Info("Records purged", zap.Int64("sessions", purged))
	}
}

func (a *app) runSweeper(ctx context.Context) {
	interval := a.cfg.Storage.SweepInterval
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.sweep(ctx)
		}
	}
}

func (a *app) Close() {
	if a.manager != nil {
		a.manager.Shutdown()
	}
	if a.queue != nil {
		a.queue.Close()
	}
	if a.records != nil {
		if err := a.records.Close(); err != nil {
			a.logger.Warn("Failed to close records database", zap.Error(err))
		}
	}
	if a.redis != nil {
		a.redis.Close()
	}
}
