package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

func init() {
	// Load .env file if it exists (silent fail if not)
	_ = godotenv.Load()
}

// Config holds all application configuration loaded from environment variables.
type Config struct {
	Server     ServerConfig
	App        AppConfig
	Cache      CacheConfig
	MetadataDB MetadataDBConfig
	Catalog    CatalogConfig
	Refresh    RefreshConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string        `envconfig:"SERVER_HOST" default:"0.0.0.0"`
	Port            int           `envconfig:"SERVER_PORT" default:"8080"`
	ReadTimeout     time.Duration `envconfig:"SERVER_READ_TIMEOUT" default:"15s"`
	WriteTimeout    time.Duration `envconfig:"SERVER_WRITE_TIMEOUT" default:"120s"`
	ShutdownTimeout time.Duration `envconfig:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`
}

// AppConfig holds application-level settings.
type AppConfig struct {
	Name        string   `envconfig:"APP_NAME" default:"brickcache-api"`
	Environment string   `envconfig:"APP_ENV" default:"development"`
	Debug       bool     `envconfig:"APP_DEBUG" default:"false"`
	Version     string   `envconfig:"APP_VERSION" default:"1.0.0"`
	LogLevel    string   `envconfig:"LOG_LEVEL" default:"info"`
	APIKeys     []string `envconfig:"API_KEYS" default:""`
}

// CacheConfig holds the in-process (or shared) cache layer settings.
// TTL is minutes-scale and independent of the durable price expiry.
type CacheConfig struct {
	Type            string        `envconfig:"CACHE_TYPE" default:"memory"` // memory or redis
	TTL             time.Duration `envconfig:"CACHE_TTL" default:"5m"`
	CleanupInterval time.Duration `envconfig:"CACHE_CLEANUP_INTERVAL" default:"1m"`

	RedisHost      string `envconfig:"REDIS_HOST" default:"localhost"`
	RedisPort      int    `envconfig:"REDIS_PORT" default:"6379"`
	RedisPassword  string `envconfig:"REDIS_PASSWORD" default:""`
	RedisDB        int    `envconfig:"REDIS_DB" default:"0"`
	RedisKeyPrefix string `envconfig:"REDIS_KEY_PREFIX" default:"brickcache:meta"`
}

// MetadataDBConfig holds the durable metadata store settings.
type MetadataDBConfig struct {
	Type string `envconfig:"METADATA_DB_TYPE" default:"sqlite"` // sqlite, postgres, mysql or mongodb
	Path string `envconfig:"METADATA_DB_PATH" default:"./data/metadata.db"`
	// PostgreSQL / MySQL settings
	Host     string `envconfig:"METADATA_DB_HOST" default:"localhost"`
	Port     int    `envconfig:"METADATA_DB_PORT" default:"5432"`
	Name     string `envconfig:"METADATA_DB_NAME" default:"brickcache"`
	User     string `envconfig:"METADATA_DB_USER" default:"postgres"`
	Password string `envconfig:"METADATA_DB_PASS" default:""`
	SSLMode  string `envconfig:"METADATA_DB_SSLMODE" default:"disable"`
	// MongoDB settings
	MongoURI      string `envconfig:"MONGODB_URI" default:""`
	MongoDatabase string `envconfig:"MONGODB_DATABASE" default:"brickcache"`
	// Collection / table names
	PartCollection   string `envconfig:"PART_COLLECTION" default:"part_metadata"`
	FigureCollection string `envconfig:"FIGURE_COLLECTION" default:"figure_metadata"`
	PriceCollection  string `envconfig:"PRICE_COLLECTION" default:"price_metadata"`
	RunsCollection   string `envconfig:"RUNS_COLLECTION" default:"refresh_runs"`
}

// CatalogConfig holds settings for both external catalogs.
type CatalogConfig struct {
	PrimaryBaseURL string `envconfig:"PRIMARY_CATALOG_URL" default:"https://rebrickable.com/api/v3/lego"`
	PrimaryAPIKey  string `envconfig:"PRIMARY_CATALOG_API_KEY" default:""`

	MarketBaseURL string `envconfig:"MARKET_CATALOG_URL" default:"https://www.bricklink.com"`
	UserAgent     string `envconfig:"MARKET_USER_AGENT" default:"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"`
	Currency      string `envconfig:"MARKET_CURRENCY" default:"USD"`
	IDColumn      int    `envconfig:"MARKET_LISTING_ID_COLUMN" default:"2"`
	LabelColumn   int    `envconfig:"MARKET_LISTING_LABEL_COLUMN" default:"3"`

	FetchTimeout      time.Duration `envconfig:"CATALOG_FETCH_TIMEOUT" default:"15s"`
	RequestsPerSecond int           `envconfig:"CATALOG_REQUESTS_PER_SECOND" default:"2"`
	ListingCacheSize  int           `envconfig:"MARKET_LISTING_CACHE_SIZE" default:"256"`
	ListingCacheTTL   time.Duration `envconfig:"MARKET_LISTING_CACHE_TTL" default:"10m"`
}

// RefreshConfig holds batch price refresh settings.
type RefreshConfig struct {
	Enabled    bool          `envconfig:"REFRESH_ENABLED" default:"true"`
	Interval   time.Duration `envconfig:"REFRESH_INTERVAL" default:"24h"`
	BatchSize  int           `envconfig:"REFRESH_BATCH_SIZE" default:"5"`
	BatchDelay time.Duration `envconfig:"REFRESH_BATCH_DELAY" default:"3s"`
	PriceTTL   time.Duration `envconfig:"PRICE_TTL" default:"168h"`

	StartupDelay time.Duration `envconfig:"REFRESH_STARTUP_DELAY" default:"1m"`
	// TaskTimeout bounds each background fetch scheduled off the request path.
	TaskTimeout time.Duration `envconfig:"BACKGROUND_TASK_TIMEOUT" default:"1m"`
}

// PostgresDSN returns the PostgreSQL connection string.
func (m *MetadataDBConfig) PostgresDSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		m.User, m.Password, m.Host, m.Port, m.Name, m.SSLMode)
}

// MySQLDSN returns the MySQL data source name.
func (m *MetadataDBConfig) MySQLDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true",
		m.User, m.Password, m.Host, m.Port, m.Name)
}

// Address returns the server address in host:port format.
func (s *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// RedisAddress returns the Redis address in host:port format.
func (c *CacheConfig) RedisAddress() string {
	return fmt.Sprintf("%s:%d", c.RedisHost, c.RedisPort)
}

// IsDevelopment returns true if running in development mode.
func (a *AppConfig) IsDevelopment() bool {
	return a.Environment == "development"
}

// IsProduction returns true if running in production mode.
func (a *AppConfig) IsProduction() bool {
	return a.Environment == "production"
}

// Validate rejects settings the services cannot run with.
func (c *Config) Validate() error {
	if c.Cache.TTL <= 0 {
		return fmt.Errorf("CACHE_TTL must be positive")
	}
	if c.Refresh.BatchSize <= 0 {
		return fmt.Errorf("REFRESH_BATCH_SIZE must be positive")
	}
	if c.Refresh.PriceTTL < time.Hour {
		return fmt.Errorf("PRICE_TTL must be at least 1h, got %v", c.Refresh.PriceTTL)
	}
	if c.Catalog.IDColumn < 0 || c.Catalog.LabelColumn < 0 {
		return fmt.Errorf("MARKET_LISTING_ID_COLUMN and MARKET_LISTING_LABEL_COLUMN must not be negative")
	}
	switch strings.ToLower(c.MetadataDB.Type) {
	case "sqlite", "postgres", "postgresql", "mysql", "mongodb", "mongo":
	default:
		return fmt.Errorf("unsupported METADATA_DB_TYPE %q", c.MetadataDB.Type)
	}
	return nil
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config

	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// MustLoad loads configuration or panics on error.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}
