package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/alanyoungcy/tickrl/internal/blob/s3"
	"github.com/alanyoungcy/tickrl/internal/cache/redis"
	"github.com/alanyoungcy/tickrl/internal/config"
	"github.com/alanyoungcy/tickrl/internal/domain"
	"github.com/alanyoungcy/tickrl/internal/notify"
	"github.com/alanyoungcy/tickrl/internal/server/handler"
	"github.com/alanyoungcy/tickrl/internal/store/postgres"
)

// Dependencies holds the optional external backends. A nil field means the
// backend is disabled.
type Dependencies struct {
	Store      domain.ExperienceStore
	BookCache  domain.BookCache
	SignalBus  domain.SignalBus
	BlobWriter domain.BlobWriter
	BlobReader domain.BlobReader

	Notifier *notify.Notifier

	// Health lists a reachability check per enabled backend.
	Health map[string]handler.Pinger
}

// Wire connects every enabled backend and returns them with a cleanup that
// releases them in reverse order.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	deps := &Dependencies{Health: map[string]handler.Pinger{}}

	if cfg.Postgres.Enabled {
		pg, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:        cfg.Postgres.DSN,
			Host:       cfg.Postgres.Host,
			Port:       cfg.Postgres.Port,
			Database:   cfg.Postgres.Database,
			User:       cfg.Postgres.User,
			Password:   cfg.Postgres.Password,
			SSLMode:    cfg.Postgres.SSLMode,
			MaxConns:   cfg.Postgres.PoolMaxConns,
			MinConns:   cfg.Postgres.PoolMinConns,
			PreferIPv4: cfg.Postgres.PreferIPv4,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: postgres: %w", err))
		}
		closers = append(closers, pg.Close)

		if cfg.Postgres.RunMigrations {
			if err := pg.RunMigrations(ctx); err != nil {
				return fail(fmt.Errorf("wire: postgres migrations: %w", err))
			}
		}
		deps.Store = postgres.NewExperienceStore(pg.Pool())
		deps.Health["postgres"] = pg
		logger.InfoContext(ctx, "postgres connected")
	}

	if cfg.Redis.Enabled {
		rc, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: redis: %w", err))
		}
		closers = append(closers, func() { _ = rc.Close() })

		deps.BookCache = redis.NewBookCache(rc, cfg.Redis.BookTTL.Duration)
		deps.SignalBus = redis.NewSignalBus(rc, cfg.Redis.StreamMaxLen)
		deps.Health["redis"] = rc
		logger.InfoContext(ctx, "redis connected")
	}

	if cfg.S3.Enabled {
		store, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			Prefix:         cfg.S3.Prefix,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: s3: %w", err))
		}
		deps.BlobWriter = store
		deps.BlobReader = store
		deps.Health["s3"] = handler.PingFunc(store.Health)
		logger.InfoContext(ctx, "s3 configured", slog.String("bucket", store.Bucket()))
	}

	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhook != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhook))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}
