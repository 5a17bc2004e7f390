// Package app wires configuration into the repositories, caches, catalog
// clients and services shared by the API server and the CLI.
package app

import (
	"context"
	"fmt"
	"strings"

	"brickcache-api/internal/cache"
	"brickcache-api/internal/catalog/market"
	"brickcache-api/internal/catalog/primary"
	"brickcache-api/internal/config"
	"brickcache-api/internal/repository"
	"brickcache-api/internal/service"

	"github.com/rs/zerolog/log"
)

// App holds the constructed components. Close releases them in reverse order.
type App struct {
	Config     *config.Config
	Repo       repository.Repository
	Cache      cache.Cache
	Store      *cache.MetadataStore
	Market     *market.Client
	Background *service.Background
	Catalog    *service.CatalogService
	Refresh    *service.RefreshService

	closers []func() error
}

// New builds every component from cfg. On error, whatever was already
// opened is closed.
func New(cfg *config.Config) (_ *App, err error) {
	a := &App{Config: cfg}
	defer func() {
		if err != nil {
			a.Close(context.Background())
		}
	}()

	repo, err := OpenRepository(cfg.MetadataDB)
	if err != nil {
		return nil, err
	}
	a.Repo = repo
	a.closers = append(a.closers, repo.Close)

	c := OpenCache(cfg.Cache)
	a.Cache = c
	if closer, ok := c.(interface{ Close() error }); ok {
		a.closers = append(a.closers, closer.Close)
	}
	a.Store = cache.NewMetadataStore(repo, c, cfg.Cache.TTL)

	var primaryClient primary.Fetcher
	if cfg.Catalog.PrimaryAPIKey != "" {
		p, err := primary.New(cfg.Catalog.PrimaryAPIKey, cfg.Catalog.PrimaryBaseURL,
			primary.WithTimeout(cfg.Catalog.FetchTimeout),
			primary.WithRateLimit(cfg.Catalog.RequestsPerSecond),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create primary catalog client: %w", err)
		}
		primaryClient = p
	} else {
		log.Warn().Msg("[App] PRIMARY_CATALOG_API_KEY not set, metadata misses will not be fetched")
	}

	marketClient, err := market.New(market.Options{
		BaseURL:           cfg.Catalog.MarketBaseURL,
		UserAgent:         cfg.Catalog.UserAgent,
		Currency:          cfg.Catalog.Currency,
		Layout:            market.ListingLayout{IDColumn: cfg.Catalog.IDColumn, LabelColumn: cfg.Catalog.LabelColumn},
		Timeout:           cfg.Catalog.FetchTimeout,
		RequestsPerSecond: cfg.Catalog.RequestsPerSecond,
		ListingCacheSize:  cfg.Catalog.ListingCacheSize,
		ListingCacheTTL:   cfg.Catalog.ListingCacheTTL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create marketplace client: %w", err)
	}

	a.Market = marketClient

	a.Background = service.NewBackground(cfg.Refresh.TaskTimeout)
	a.Catalog = service.NewCatalogService(a.Store, primaryClient, marketClient, a.Background,
		service.CatalogConfig{PriceTTL: cfg.Refresh.PriceTTL})

	a.Refresh = service.NewRefreshService(repo, a.Catalog, repo, service.RefreshConfig{
		Interval:     cfg.Refresh.Interval,
		BatchSize:    cfg.Refresh.BatchSize,
		BatchDelay:   cfg.Refresh.BatchDelay,
		StartupDelay: cfg.Refresh.StartupDelay,
	})
	return a, nil
}

// Close stops the refresher, drains background work until ctx is done, and
// closes the cache and repository.
func (a *App) Close(ctx context.Context) {
	if a.Refresh != nil {
		a.Refresh.Stop()
	}
	if a.Background != nil {
		if err := a.Background.Close(ctx); err != nil {
			log.Warn().Err(err).Msg("[App] Background tasks cancelled at shutdown")
		}
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			log.Warn().Err(err).Msg("[App] Close failed")
		}
	}
	a.closers = nil
}

// OpenRepository connects the durable store selected by cfg.Type.
func OpenRepository(cfg config.MetadataDBConfig) (repository.Repository, error) {
	tables := repository.Collections{
		Part:   cfg.PartCollection,
		Figure: cfg.FigureCollection,
		Price:  cfg.PriceCollection,
		Runs:   cfg.RunsCollection,
	}

	switch strings.ToLower(cfg.Type) {
	case "mongodb", "mongo":
		repo, err := repository.NewMongoDBMetadataRepository(cfg.MongoURI, cfg.MongoDatabase, tables)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize MongoDB: %w", err)
		}
		log.Info().Msg("[App] MongoDB metadata repository initialized")
		return repo, nil
	case "postgres", "postgresql":
		repo, err := repository.NewPostgresMetadataRepository(cfg.PostgresDSN(), tables)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize PostgreSQL: %w", err)
		}
		log.Info().Msg("[App] PostgreSQL metadata repository initialized")
		return repo, nil
	case "mysql":
		repo, err := repository.NewMySQLMetadataRepository(cfg.MySQLDSN(), tables)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize MySQL: %w", err)
		}
		log.Info().Msg("[App] MySQL metadata repository initialized")
		return repo, nil
	default:
		repo, err := repository.NewSQLiteMetadataRepository(cfg.Path, tables)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize SQLite: %w", err)
		}
		log.Info().Msg("[App] SQLite metadata repository initialized")
		return repo, nil
	}
}

// OpenCache builds the cache layer. An unreachable Redis falls back to memory.
func OpenCache(cfg config.CacheConfig) cache.Cache {
	if strings.ToLower(cfg.Type) == "redis" {
		rc, err := cache.NewRedisCache(cache.RedisCacheConfig{
			Addr:      cfg.RedisAddress(),
			Password:  cfg.RedisPassword,
			DB:        cfg.RedisDB,
			KeyPrefix: cfg.RedisKeyPrefix,
		})
		if err == nil {
			log.Info().Msgf("[App] Redis cache initialized at %s", cfg.RedisAddress())
			return rc
		}
		log.Warn().Err(err).Msg("[App] Redis cache unavailable, falling back to memory")
	}
	mc := cache.NewMemoryCache(cfg.CleanupInterval)
	log.Info().Msgf("[App] Memory cache initialized, ttl %v", cfg.TTL)
	return mc
}
