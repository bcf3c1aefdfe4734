package app

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/suPer8Hu/roomstage/internal/ai"
	"github.com/suPer8Hu/roomstage/internal/config"
	"github.com/suPer8Hu/roomstage/internal/db"
	"github.com/suPer8Hu/roomstage/internal/notify"
	"github.com/suPer8Hu/roomstage/internal/routing"
	"github.com/suPer8Hu/roomstage/internal/staging"
	"github.com/suPer8Hu/roomstage/internal/storage"
	"github.com/suPer8Hu/roomstage/internal/store/rabbitmq"
	"github.com/suPer8Hu/roomstage/internal/store/redisstore"
	"gorm.io/gorm"
)

// App holds the wired staging service and the resources it owns.
type App struct {
	Cfg     config.Config
	DB      *gorm.DB
	Service *staging.Service
	Router  *routing.Router

	closers []func() error
}

// Options toggles pieces a short-lived CLI does not need.
type Options struct {
	// SkipPublisher uses log-only notifications instead of RabbitMQ.
	SkipPublisher bool
}

func Build(ctx context.Context, cfg config.Config, log zerolog.Logger, opt Options) (*App, error) {
	a := &App{Cfg: cfg}

	gdb, err := db.Connect(cfg.DBDSN)
	if err != nil {
		return nil, fmt.Errorf("db connect: %w", err)
	}
	a.DB = gdb
	if sqlDB, err := gdb.DB(); err == nil {
		a.closers = append(a.closers, sqlDB.Close)
	}
	if err := staging.AutoMigrate(gdb); err != nil {
		a.Close()
		return nil, fmt.Errorf("automigrate: %w", err)
	}

	reg, err := Providers(ctx, cfg)
	if err != nil {
		a.Close()
		return nil, err
	}

	cache, err := a.healthCache(ctx, cfg, log)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Router = routing.NewRouter(reg, cache, routing.Config{
		DefaultProvider:  cfg.DefaultProvider,
		FallbackProvider: cfg.FallbackProvider,
		FallbackEnabled:  cfg.FallbackEnabled,
		ProbeTimeout:     cfg.HealthProbeTimeout,
	}, log)

	mirror, err := storage.FromConfig(ctx, cfg)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("storage: %w", err)
	}

	notifier := a.notifier(cfg, log, opt)

	repo := staging.NewRepo(gdb)
	proc := staging.NewProcessor(repo, a.Router, mirror, notifier, staging.ProcessorConfig{
		CallbackBaseURL:  cfg.PublicBaseURL,
		SyncStageTimeout: cfg.SyncStageTimeout,
		MaxStyles:        cfg.MaxStylesPerRequest,
		Parallelism:      cfg.StageParallelism,
	}, log)
	detector := staging.NewDetector(repo, reg, mirror, notifier, cfg.PollInterval, log)
	versions := staging.NewVersionManager(repo, log)
	a.Service = staging.NewService(repo, proc, detector, versions, a.Router, log)
	return a, nil
}

// Providers registers every staging backend. Backends without credentials
// stay registered and report themselves unavailable.
func Providers(ctx context.Context, cfg config.Config) (*ai.Registry, error) {
	reg := ai.NewRegistry(
		ai.NewReplicateProvider(ai.ReplicateConfig{
			BaseURL:       cfg.ReplicateBaseURL,
			APIToken:      cfg.ReplicateAPIToken,
			ModelVersion:  cfg.ReplicateModelVersion,
			WebhookSecret: cfg.ReplicateWebhookSecret,
			Strength:      cfg.ReplicateStrength,
			Guidance:      cfg.ReplicateGuidance,
			Steps:         cfg.ReplicateSteps,
		}),
		ai.NewDecor8Provider(cfg.Decor8BaseURL, cfg.Decor8APIKey),
		ai.NewOpenRouterProvider(cfg.OpenRouterBaseURL, cfg.OpenRouterAPIKey, cfg.OpenRouterModel,
			cfg.OpenRouterSiteURL, cfg.OpenRouterAppName),
	)
	gem, err := ai.NewGeminiProvider(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
	if err != nil {
		return nil, fmt.Errorf("gemini: %w", err)
	}
	reg.Register(gem)
	return reg, nil
}

func (a *App) healthCache(ctx context.Context, cfg config.Config, log zerolog.Logger) (routing.HealthCache, error) {
	switch cfg.HealthCacheBackend {
	case "", "memory":
		return routing.NewMemoryCache(cfg.HealthCacheTTL), nil
	case "redis":
		rds := redisstore.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := rds.Ping(ctx); err != nil {
			_ = rds.Close()
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		a.closers = append(a.closers, rds.Close)
		log.Info().Str("addr", cfg.RedisAddr).Msg("provider health cached in redis")
		return redisstore.NewHealthCache(rds, cfg.HealthCacheTTL), nil
	default:
		return nil, fmt.Errorf("unsupported HEALTH_CACHE_BACKEND=%q", cfg.HealthCacheBackend)
	}
}

func (a *App) notifier(cfg config.Config, log zerolog.Logger, opt Options) notify.Notifier {
	if opt.SkipPublisher || cfg.RabbitURL == "" {
		return notify.NewLogNotifier(log)
	}
	pub, err := rabbitmq.NewPublisher(cfg.RabbitURL, cfg.RabbitQueue)
	if err != nil {
		log.Warn().Err(err).Msg("rabbitmq unavailable, staging events will only be logged")
		return notify.NewLogNotifier(log)
	}
	a.closers = append(a.closers, pub.Close)
	return notify.NewQueueNotifier(pub, log)
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		_ = a.closers[i]()
	}
	a.closers = nil
}
