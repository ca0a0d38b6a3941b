package commands

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Paddel87/AIMAlocal-sub001/internal/config"
	"github.com/Paddel87/AIMAlocal-sub001/internal/core/contracts"
	"github.com/Paddel87/AIMAlocal-sub001/internal/core/services"
	"github.com/Paddel87/AIMAlocal-sub001/internal/platform/logger"
	"github.com/Paddel87/AIMAlocal-sub001/internal/platform/telemetry"
	"github.com/Paddel87/AIMAlocal-sub001/internal/plugins/api"
	redisPlugin "github.com/Paddel87/AIMAlocal-sub001/internal/plugins/redis"
)

// AppContext holds what every command needs.
type AppContext struct {
	Config *config.Config
	Log    *slog.Logger
	Tokens *services.TokenService
	Token  string
	API    *api.Client

	// Redis-backed parts stay nil when REDIS_URL is empty.
	Redis     *redis.Client
	Snapshots *redisPlugin.RedisSnapshotStore
	Journal   *redisPlugin.RedisEventJournal

	otelShutdown telemetry.ShutdownFunc
}

// NewAppContext loads the config, then sets up logging, telemetry, the
// bearer token, the API client and the optional Redis cache.
func NewAppContext(ctx context.Context, envFile string) (*AppContext, error) {
	cfg, err := config.Load(envFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	log := logger.NewLogger(*cfg)

	otelShutdown, err := telemetry.InitTelemetry(ctx, *cfg)
	if err != nil {
		log.Error("failed to initialize telemetry", "err", err)
		otelShutdown = func(context.Context) error { return nil }
	}

	tokens := services.NewTokenService(cfg.Auth.Secret, cfg.Auth.Subject, cfg.Auth.TokenTTL)
	token, err := tokens.BearerToken(cfg.Auth.Token)
	if err != nil {
		_ = otelShutdown(ctx)
		return nil, fmt.Errorf("bearer token: %w", err)
	}

	app := &AppContext{
		Config:       cfg,
		Log:          log,
		Tokens:       tokens,
		Token:        token,
		API:          api.NewClient(log, *cfg.API, cfg.Service.Name, token),
		otelShutdown: otelShutdown,
	}

	if cfg.Redis.Enabled() {
		rdb, err := redisPlugin.NewRedisClient(ctx, *cfg.Redis)
		if err != nil {
			log.Warn("redis connection failed, running without cache", "err", err)
		} else {
			app.Redis = rdb
			app.Snapshots = redisPlugin.NewRedisSnapshotStore(rdb, cfg.Redis.SnapshotTTL)
			app.Journal = redisPlugin.NewRedisEventJournal(log, rdb, cfg.Redis.JournalLen)
			log.Info("redis connected")
		}
	}
	return app, nil
}

// SnapshotStore returns the snapshot store or a nil interface.
func (a *AppContext) SnapshotStore() contracts.SnapshotStore {
	if a.Snapshots == nil {
		return nil
	}
	return a.Snapshots
}

// EventJournal returns the journal or a nil interface.
func (a *AppContext) EventJournal() contracts.EventJournal {
	if a.Journal == nil {
		return nil
	}
	return a.Journal
}

func (a *AppContext) requireRedis() error {
	if a.Redis == nil {
		return fmt.Errorf("this command needs Redis; set REDIS_URL")
	}
	return nil
}

// Close releases Redis and flushes telemetry.
func (a *AppContext) Close() {
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			a.Log.Warn("redis close failed", "err", err)
		}
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.otelShutdown(shutdownCtx); err != nil {
		a.Log.Error("telemetry shutdown failed", "err", err)
	}
}
