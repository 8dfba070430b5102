package api

import (
	"context"
	"crypto/rand"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"cashflow-suite/settings/internal/common"
	"cashflow-suite/settings/internal/config"
	"cashflow-suite/settings/internal/constants"
	"cashflow-suite/settings/internal/db/repositories"
	"cashflow-suite/settings/internal/logging"
	"cashflow-suite/settings/internal/metrics"
	"cashflow-suite/settings/internal/providers"
	"cashflow-suite/settings/internal/registry"
	"cashflow-suite/settings/internal/secrets"
	"cashflow-suite/settings/internal/services"
)

type Repositories struct {
	Configs  *repositories.ProviderConfigRepo
	Statuses *repositories.StatusQueryRepo
	History  *repositories.VerificationHistoryRepo
}

type Services struct {
	Registry   *registry.Registry
	Testers    *providers.TesterSet
	Store      *services.ConfigurationStore
	Tester     *services.ConnectivityTester
	Gateway    *services.SettingsGateway
	Aggregator *services.StatusAggregator
	Connect    *services.CalendarConnectService
	Cache      common.CacheInterface
	Bus        common.InvalidationBus
}

type Dependencies struct {
	Config  *config.Config
	SQL     *sqlx.DB
	Redis   *redis.Client
	Metrics *metrics.MetricsRegistry
	UpSince time.Time

	Repo     *Repositories
	Services *Services
}

// Options carry the already opened connections. Redis may be nil; Testers
// defaults to the production tester set.
type Options struct {
	Config  *config.Config
	DB      *gorm.DB
	SQL     *sqlx.DB
	Redis   *redis.Client
	Metrics *metrics.MetricsRegistry
	Testers *providers.TesterSet
}

func InitDependencies(ctx context.Context, opts Options) (*Dependencies, error) {
	cfg := opts.Config

	reg, err := loadRegistry(cfg.Settings.CatalogPath)
	if err != nil {
		return nil, err
	}

	cipher, err := secrets.NewEncryptor(cfg.Settings.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize encryptor: %w", err)
	}
	if !cipher.Enabled() {
		logging.Warn("SETTINGS_ENCRYPTION_KEY is empty, secret fields are stored unencrypted")
	}

	signingKey, err := stateSigningKey(cfg.Settings.StateSigningKey)
	if err != nil {
		return nil, err
	}

	repos := &Repositories{
		Configs:  repositories.NewProviderConfigRepo(opts.DB),
		Statuses: repositories.NewStatusQueryRepo(opts.SQL),
		History:  repositories.NewVerificationHistoryRepo(opts.DB),
	}

	var (
		cache common.CacheInterface
		bus   common.InvalidationBus
	)
	if opts.Redis != nil {
		redisBus := common.NewRedisInvalidationBus(opts.Redis, constants.InvalidationChannel, opts.Metrics)
		if err := redisBus.Start(ctx); err != nil {
			return nil, err
		}
		cache = common.NewRedisCacheService(opts.Redis)
		bus = redisBus
	} else {
		cache = common.NewCacheService(cfg.Settings.StatusCacheTTL, time.Minute)
		bus = common.NewLocalInvalidationBus()
	}

	testers := opts.Testers
	if testers == nil {
		testers = providers.NewDefaultTesterSet(providers.Options{})
	}

	store := services.NewConfigurationStore(reg, repos.Configs, repos.Statuses, cipher, bus, opts.Metrics)
	tester := services.NewConnectivityTester(reg, testers, cfg.Settings.EffectiveTestTimeout(), opts.Metrics)
	gateway := services.NewSettingsGateway(store, tester, repos.History)
	aggregator := services.NewStatusAggregator(reg, store, cache, cfg.Settings.StatusCacheTTL, bus, opts.Metrics)
	connect := services.NewCalendarConnectService(reg, store, gateway, testers, common.NewStateSigner(signingKey), cfg.Settings.OAuthRedirectURL)

	logging.Info("Settings services initialized",
		"families", len(reg.Families()),
		"shared_cache", opts.Redis != nil,
		"test_timeout", tester.Timeout().String(),
	)

	return &Dependencies{
		Config:  cfg,
		SQL:     opts.SQL,
		Redis:   opts.Redis,
		Metrics: opts.Metrics,
		UpSince: time.Now(),
		Repo:    repos,
		Services: &Services{
			Registry:   reg,
			Testers:    testers,
			Store:      store,
			Tester:     tester,
			Gateway:    gateway,
			Aggregator: aggregator,
			Connect:    connect,
			Cache:      cache,
			Bus:        bus,
		},
	}, nil
}

// Close releases background goroutines and connections owned by the services.
func (d *Dependencies) Close() {
	d.Services.Connect.Close()
	d.Services.Aggregator.Close()
	if err := d.Services.Bus.Close(); err != nil {
		logging.Warn("Failed to close invalidation bus", "error", err)
	}
	if err := d.Services.Cache.Close(); err != nil {
		logging.Warn("Failed to close cache", "error", err)
	}
}

func loadRegistry(path string) (*registry.Registry, error) {
	if path == "" {
		return registry.NewDefault()
	}
	reg, err := registry.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load provider catalog %s: %w", path, err)
	}
	return reg, nil
}

// stateSigningKey falls back to a random per-process key, which invalidates
// pending OAuth connects on restart and across instances.
func stateSigningKey(configured string) ([]byte, error) {
	if configured != "" {
		return []byte(configured), nil
	}
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("failed to generate state signing key: %w", err)
	}
	logging.Warn("SETTINGS_STATE_SIGNING_KEY is empty, using a random key for this process")
	return key, nil
}
