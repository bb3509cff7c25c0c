package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config aggregates application configuration values.
type Config struct {
	HTTP      HTTPConfig      `yaml:"http"`
	Graph     GraphConfig     `yaml:"graph"`
	Logging   LoggingConfig   `yaml:"logging"`
	Store     StoreConfig     `yaml:"store"`
	Processor ProcessorConfig `yaml:"processor"`
	Reconcile ReconcileConfig `yaml:"reconcile"`
	Auth      AuthConfig      `yaml:"auth"`
	Notify    NotifyConfig    `yaml:"notify"`
	Pricing   PricingConfig   `yaml:"pricing"`
	Catalog   CatalogConfig   `yaml:"catalog"`
}

// HTTPConfig governs HTTP server behaviour.
type HTTPConfig struct {
	Host              string        `yaml:"host"`
	Port              int           `yaml:"port"`
	ReadTimeout       time.Duration `yaml:"readTimeout"`
	WriteTimeout      time.Duration `yaml:"writeTimeout"`
	IdleTimeout       time.Duration `yaml:"idleTimeout"`
	ShutdownTimeout   time.Duration `yaml:"shutdownTimeout"`
	AllowedOriginsCSV string        `yaml:"allowedOrigins"`
}

// GraphConfig describes connectivity to the graph database (Neo4j).
type GraphConfig struct {
	URI            string `yaml:"uri"`
	Database       string `yaml:"database"`
	Username       string `yaml:"username"`
	Password       string `yaml:"password"`
	MaxConnections int    `yaml:"maxConnections"`
}

// LoggingConfig controls structured logging settings.
type LoggingConfig struct {
	Level         string `yaml:"level"`
	Format        string `yaml:"format"` // text|json
	IncludeCaller bool   `yaml:"includeCaller"`
}

// StoreConfig selects the order store backend.
type StoreConfig struct {
	Driver   string `yaml:"driver"` // memory|bolt|graph
	BoltPath string `yaml:"boltPath"`
}

// ProcessorConfig describes the external payment processor.
type ProcessorConfig struct {
	Mode          string        `yaml:"mode"` // simulator|http
	BaseURL       string        `yaml:"baseURL"`
	APIKey        string        `yaml:"apiKey"`
	WebhookSecret string        `yaml:"webhookSecret"`
	Timeout       time.Duration `yaml:"timeout"`
	RateLimit     float64       `yaml:"rateLimit"` // requests per second, 0 disables
	Burst         int           `yaml:"burst"`
	SessionTTL    time.Duration `yaml:"sessionTTL"`
}

// ReconcileConfig drives the background reconciliation sweep.
type ReconcileConfig struct {
	SweepInterval    time.Duration `yaml:"sweepInterval"`
	PendingThreshold time.Duration `yaml:"pendingThreshold"`
	AbandonAfter     time.Duration `yaml:"abandonAfter"` // 0 disables abandoned-order cancellation
	Workers          int           `yaml:"workers"`
	BatchSize        int           `yaml:"batchSize"`
}

// AuthConfig configures bearer token verification.
type AuthConfig struct {
	JWTSecret string        `yaml:"jwtSecret"`
	Issuer    string        `yaml:"issuer"`
	TokenTTL  time.Duration `yaml:"tokenTTL"`
}

// NotifyConfig configures the notification outbox.
type NotifyConfig struct {
	OutboxPath    string        `yaml:"outboxPath"` // empty logs events directly
	RelayInterval time.Duration `yaml:"relayInterval"`
	BatchSize     int           `yaml:"batchSize"`
}

// PricingConfig holds the storefront pricing policy, in minor units.
type PricingConfig struct {
	Currency              string `yaml:"currency"`
	FreeShippingThreshold int64  `yaml:"freeShippingThreshold"`
	FlatShipping          int64  `yaml:"flatShipping"`
	TaxBasisPoints        int64  `yaml:"taxBasisPoints"`
}

// CatalogConfig points at the catalog/cart dataset used by the static catalog.
type CatalogConfig struct {
	Path string `yaml:"path"`
}

const (
	defaultHost             = "0.0.0.0"
	defaultPort             = 8080
	defaultReadTimeout      = 10 * time.Second
	defaultWriteTimeout     = 15 * time.Second
	defaultIdleTimeout      = 60 * time.Second
	defaultShutdownTimeout  = 10 * time.Second
	defaultLoggingLevel     = "info"
	defaultLoggingFormat    = "text"
	defaultGraphMaxSessions = 10
	defaultStoreDriver      = "memory"
	defaultBoltPath         = "orders.db"
	defaultProcessorMode    = "simulator"
	defaultProcessorTimeout = 5 * time.Second
	defaultSessionTTL       = 30 * time.Minute
	defaultSweepInterval    = time.Minute
	defaultPendingThreshold = 2 * time.Minute
	defaultSweepWorkers     = 4
	defaultSweepBatch       = 100
	defaultTokenTTL         = 24 * time.Hour
	defaultRelayInterval    = 2 * time.Second
	defaultRelayBatch       = 50
	defaultCurrency         = "INR"
	defaultFreeShipping     = 200000 // 2000.00
	defaultFlatShipping     = 10000  // 100.00
	defaultTaxBasisPoints   = 1800   // 18% GST
)

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	return Config{
		HTTP: HTTPConfig{
			Host:            defaultHost,
			Port:            defaultPort,
			ReadTimeout:     defaultReadTimeout,
			WriteTimeout:    defaultWriteTimeout,
			IdleTimeout:     defaultIdleTimeout,
			ShutdownTimeout: defaultShutdownTimeout,
		},
		Logging: LoggingConfig{
			Level:  defaultLoggingLevel,
			Format: defaultLoggingFormat,
		},
		Graph: GraphConfig{
			MaxConnections: defaultGraphMaxSessions,
		},
		Store: StoreConfig{
			Driver:   defaultStoreDriver,
			BoltPath: defaultBoltPath,
		},
		Processor: ProcessorConfig{
			Mode:       defaultProcessorMode,
			Timeout:    defaultProcessorTimeout,
			SessionTTL: defaultSessionTTL,
		},
		Reconcile: ReconcileConfig{
			SweepInterval:    defaultSweepInterval,
			PendingThreshold: defaultPendingThreshold,
			Workers:          defaultSweepWorkers,
			BatchSize:        defaultSweepBatch,
		},
		Auth: AuthConfig{
			Issuer:   "checkout",
			TokenTTL: defaultTokenTTL,
		},
		Notify: NotifyConfig{
			RelayInterval: defaultRelayInterval,
			BatchSize:     defaultRelayBatch,
		},
		Pricing: PricingConfig{
			Currency:              defaultCurrency,
			FreeShippingThreshold: defaultFreeShipping,
			FlatShipping:          defaultFlatShipping,
			TaxBasisPoints:        defaultTaxBasisPoints,
		},
	}
}

// Load reads configuration from an optional YAML file named by CONFIG_FILE and
// then from environment variables, applying defaults for anything unset.
func Load() (Config, error) {
	cfg := Default()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) error {
	cfg.HTTP.Host = valueOrDefault("SERVER_HOST", cfg.HTTP.Host)
	cfg.HTTP.AllowedOriginsCSV = valueOrDefault("SERVER_ALLOWED_ORIGINS", cfg.HTTP.AllowedOriginsCSV)

	port, err := parsePort("SERVER_PORT", cfg.HTTP.Port)
	if err != nil {
		return err
	}
	cfg.HTTP.Port = port

	durations := []struct {
		key    string
		target *time.Duration
	}{
		{"SERVER_READ_TIMEOUT", &cfg.HTTP.ReadTimeout},
		{"SERVER_WRITE_TIMEOUT", &cfg.HTTP.WriteTimeout},
		{"SERVER_IDLE_TIMEOUT", &cfg.HTTP.IdleTimeout},
		{"SERVER_SHUTDOWN_TIMEOUT", &cfg.HTTP.ShutdownTimeout},
		{"PROCESSOR_TIMEOUT", &cfg.Processor.Timeout},
		{"PROCESSOR_SESSION_TTL", &cfg.Processor.SessionTTL},
		{"RECONCILE_SWEEP_INTERVAL", &cfg.Reconcile.SweepInterval},
		{"RECONCILE_PENDING_THRESHOLD", &cfg.Reconcile.PendingThreshold},
		{"RECONCILE_ABANDON_AFTER", &cfg.Reconcile.AbandonAfter},
		{"AUTH_TOKEN_TTL", &cfg.Auth.TokenTTL},
		{"NOTIFY_RELAY_INTERVAL", &cfg.Notify.RelayInterval},
	}
	for _, d := range durations {
		if err := parseDuration(d.key, d.target); err != nil {
			return err
		}
	}

	cfg.Logging.Level = valueOrDefault("LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.Format = valueOrDefault("LOG_FORMAT", cfg.Logging.Format)
	cfg.Logging.IncludeCaller = parseBoolWithDefault("LOG_INCLUDE_CALLER", cfg.Logging.IncludeCaller)

	cfg.Graph.URI = valueOrDefault("GRAPH_URI", cfg.Graph.URI)
	cfg.Graph.Database = valueOrDefault("GRAPH_DATABASE", cfg.Graph.Database)
	cfg.Graph.Username = valueOrDefault("GRAPH_USERNAME", cfg.Graph.Username)
	cfg.Graph.Password = valueOrDefault("GRAPH_PASSWORD", cfg.Graph.Password)
	cfg.Graph.MaxConnections = parseIntWithDefault("GRAPH_MAX_CONNECTIONS", cfg.Graph.MaxConnections)

	cfg.Store.Driver = valueOrDefault("STORE_DRIVER", cfg.Store.Driver)
	cfg.Store.BoltPath = valueOrDefault("STORE_BOLT_PATH", cfg.Store.BoltPath)

	cfg.Processor.Mode = valueOrDefault("PROCESSOR_MODE", cfg.Processor.Mode)
	cfg.Processor.BaseURL = valueOrDefault("PROCESSOR_BASE_URL", cfg.Processor.BaseURL)
	cfg.Processor.APIKey = valueOrDefault("PROCESSOR_API_KEY", cfg.Processor.APIKey)
	cfg.Processor.WebhookSecret = valueOrDefault("PROCESSOR_WEBHOOK_SECRET", cfg.Processor.WebhookSecret)
	cfg.Processor.RateLimit = parseFloatWithDefault("PROCESSOR_RATE_LIMIT", cfg.Processor.RateLimit)
	cfg.Processor.Burst = parseIntWithDefault("PROCESSOR_BURST", cfg.Processor.Burst)

	cfg.Reconcile.Workers = parseIntWithDefault("RECONCILE_WORKERS", cfg.Reconcile.Workers)
	cfg.Reconcile.BatchSize = parseIntWithDefault("RECONCILE_BATCH_SIZE", cfg.Reconcile.BatchSize)

	cfg.Auth.JWTSecret = valueOrDefault("AUTH_JWT_SECRET", cfg.Auth.JWTSecret)
	cfg.Auth.Issuer = valueOrDefault("AUTH_ISSUER", cfg.Auth.Issuer)

	cfg.Notify.OutboxPath = valueOrDefault("NOTIFY_OUTBOX_PATH", cfg.Notify.OutboxPath)
	cfg.Notify.BatchSize = parseIntWithDefault("NOTIFY_BATCH_SIZE", cfg.Notify.BatchSize)

	cfg.Pricing.Currency = valueOrDefault("PRICING_CURRENCY", cfg.Pricing.Currency)
	cfg.Pricing.FreeShippingThreshold = parseInt64WithDefault("PRICING_FREE_SHIPPING_THRESHOLD", cfg.Pricing.FreeShippingThreshold)
	cfg.Pricing.FlatShipping = parseInt64WithDefault("PRICING_FLAT_SHIPPING", cfg.Pricing.FlatShipping)
	cfg.Pricing.TaxBasisPoints = parseInt64WithDefault("PRICING_TAX_BASIS_POINTS", cfg.Pricing.TaxBasisPoints)

	cfg.Catalog.Path = valueOrDefault("CATALOG_PATH", cfg.Catalog.Path)
	return nil
}

func valueOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func parseBoolWithDefault(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		val, err := strconv.ParseBool(v)
		if err != nil {
			return fallback
		}
		return val
	}
	return fallback
}

func parseIntWithDefault(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if val, err := strconv.Atoi(v); err == nil {
			return val
		}
	}
	return fallback
}

func parseInt64WithDefault(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if val, err := strconv.ParseInt(v, 10, 64); err == nil {
			return val
		}
	}
	return fallback
}

func parseFloatWithDefault(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if val, err := strconv.ParseFloat(v, 64); err == nil {
			return val
		}
	}
	return fallback
}

func parseDuration(key string, target *time.Duration) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*target = d
	return nil
}

func parsePort(key string, fallback int) (int, error) {
	if v := os.Getenv(key); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("invalid %s value %q: %w", key, v, err)
		}
		if port <= 0 || port > 65535 {
			return 0, fmt.Errorf("port %d is out of range", port)
		}
		return port, nil
	}
	return fallback, nil
}
