// Package config loads and validates collector configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/AparnaKarve/aiops-data-collector/internal/collector"
)

// EnvPrefix namespaces every environment override, e.g. COLLECTOR_JOBS_CONCURRENCY.
const EnvPrefix = "COLLECTOR"

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Collector CollectorConfig `mapstructure:"collector"`
	Jobs      JobsConfig      `mapstructure:"jobs"`
	Transport TransportConfig `mapstructure:"transport"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Relay     RelayConfig     `mapstructure:"relay"`
	Download  DownloadConfig  `mapstructure:"download"`
	Inventory InventoryConfig `mapstructure:"inventory"`
	Archive   ArchiveConfig   `mapstructure:"archive"`
	Database  DatabaseConfig  `mapstructure:"database"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port                  int `mapstructure:"port"`
	RequestTimeoutSeconds int `mapstructure:"request_timeout_seconds"`
}

// AuthConfig toggles API key protection.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig selects the zap preset and minimum level.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// CollectorConfig selects the collection strategy.
type CollectorConfig struct {
	Strategy string `mapstructure:"strategy"`
}

// JobsConfig sizes the worker pool and its queue.
type JobsConfig struct {
	Concurrency        int `mapstructure:"concurrency"`
	QueueDepth         int `mapstructure:"queue_depth"`
	AdmissionTimeoutMs int `mapstructure:"admission_timeout_ms"`
	TimeoutSeconds     int `mapstructure:"timeout_seconds"`
}

// TransportConfig tunes outbound HTTP calls.
type TransportConfig struct {
	Attempts       int    `mapstructure:"attempts"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	UserAgent      string `mapstructure:"user_agent"`
}

// RateLimitConfig throttles outbound calls per host.
type RateLimitConfig struct {
	Enabled      bool    `mapstructure:"enabled"`
	DefaultRPS   float64 `mapstructure:"default_rps"`
	DefaultBurst int     `mapstructure:"default_burst"`
}

// RelayConfig names the downstream service.
type RelayConfig struct {
	Destination string `mapstructure:"destination"`
}

// DownloadConfig controls the download strategy's temp files.
type DownloadConfig struct {
	TempDir   string `mapstructure:"temp_dir"`
	ChunkSize int    `mapstructure:"chunk_size"`
}

// InventoryConfig points the inventory strategy at its upstream.
type InventoryConfig struct {
	Host         string `mapstructure:"host"`
	Path         string `mapstructure:"path"`
	AllTenants   bool   `mapstructure:"all_tenants"`
	TenantsURL   string `mapstructure:"tenants_url"`
	AppName      string `mapstructure:"app_name"`
	EntitiesFile string `mapstructure:"entities_file"`
}

// BaseURL joins host and path into the collection root.
func (c InventoryConfig) BaseURL() string {
	host := strings.TrimRight(c.Host, "/")
	path := strings.Trim(c.Path, "/")
	if path == "" {
		return host
	}
	return host + "/" + path
}

// ArchiveConfig selects where delivered payloads are copied.
type ArchiveConfig struct {
	Backend  string   `mapstructure:"backend"`
	Prefix   string   `mapstructure:"prefix"`
	LocalDir string   `mapstructure:"local_dir"`
	Bucket   string   `mapstructure:"bucket"`
	S3       S3Config `mapstructure:"s3"`
}

// S3Config configures the S3 compatible archive backend.
type S3Config struct {
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Region    string `mapstructure:"region"`
	UseSSL    bool   `mapstructure:"use_ssl"`
}

// DatabaseConfig configures the outcome ledger. Backend defaults to postgres
// when a DSN is set.
type DatabaseConfig struct {
	Backend         string        `mapstructure:"backend"`
	DSN             string        `mapstructure:"dsn"`
	OutcomeTable    string        `mapstructure:"outcome_table"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// PubSubConfig configures delivery notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// TelemetryConfig configures tracing.
type TelemetryConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	ServiceName string `mapstructure:"service_name"`
}

// Archive backends.
const (
	ArchiveNone   = "none"
	ArchiveMemory = "memory"
	ArchiveLocal  = "local"
	ArchiveGCS    = "gcs"
	ArchiveS3     = "s3"
)

// Outcome ledger backends.
const (
	LedgerPostgres = "postgres"
	LedgerMemory   = "memory"
)

// legacyEnv maps keys to the environment names the service has always read.
var legacyEnv = map[string]string{
	"relay.destination":     "NEXT_MICROSERVICE_HOST",
	"inventory.all_tenants": "ALL_TENANTS",
	"inventory.tenants_url": "TENANTS_URL",
	"inventory.app_name":    "APP_NAME",
	"inventory.host":        "TOPOLOGICAL_INVENTORY_HOST",
	"inventory.path":        "TOPOLOGICAL_INVENTORY_PATH",
	"collector.strategy":    "INPUT_DATA_FORMAT",
}

// Load reads configuration from the optional file at path plus environment
// overrides, then validates it.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	if err := bindLegacyEnv(v); err != nil {
		return Config{}, err
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.Collector.Strategy = normalizeStrategy(cfg.Collector.Strategy)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func bindLegacyEnv(v *viper.Viper) error {
	for key, env := range legacyEnv {
		// The prefixed name wins over the legacy one.
		prefixed := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, prefixed, env); err != nil {
			return fmt.Errorf("bind env %s: %w", env, err)
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout_seconds", 60)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("collector.strategy", string(collector.StrategyDownload))
	v.SetDefault("jobs.concurrency", 4)
	v.SetDefault("jobs.queue_depth", 64)
	v.SetDefault("jobs.admission_timeout_ms", 500)
	v.SetDefault("jobs.timeout_seconds", 900)
	v.SetDefault("transport.attempts", 3)
	v.SetDefault("transport.timeout_seconds", 30)
	v.SetDefault("transport.user_agent", "aiops-data-collector/1.0")
	v.SetDefault("ratelimit.enabled", false)
	v.SetDefault("ratelimit.default_rps", 5)
	v.SetDefault("ratelimit.default_burst", 5)
	v.SetDefault("download.chunk_size", 10240)
	v.SetDefault("inventory.entities_file", "configs/entities.yaml")
	v.SetDefault("archive.backend", ArchiveNone)
	v.SetDefault("archive.prefix", "payloads")
	v.SetDefault("archive.local_dir", "archive")
	v.SetDefault("database.outcome_table", "collector_outcomes")
	v.SetDefault("database.max_conns", 4)
	v.SetDefault("database.max_conn_lifetime", time.Hour)
	v.SetDefault("telemetry.service_name", "aiops-data-collector")

	// Registered so AutomaticEnv overrides reach Unmarshal.
	for _, key := range []string{
		"auth.api_key", "relay.destination", "download.temp_dir", "inventory.host",
		"inventory.path", "inventory.tenants_url", "inventory.app_name", "archive.bucket",
		"archive.s3.endpoint", "archive.s3.access_key", "archive.s3.secret_key", "archive.s3.region",
		"database.backend", "database.dsn", "pubsub.project_id", "pubsub.topic",
	} {
		v.SetDefault(key, "")
	}
	v.SetDefault("auth.enabled", false)
	v.SetDefault("inventory.all_tenants", false)
	v.SetDefault("archive.s3.use_ssl", true)
	v.SetDefault("telemetry.enabled", false)
}

// normalizeStrategy accepts the historical input format names.
func normalizeStrategy(s string) string {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "download", "json", "file":
		return string(collector.StrategyDownload)
	case "inventory", "topology", "topological_inventory":
		return string(collector.StrategyInventory)
	default:
		return s
	}
}

// Validate ensures required fields are present and sane.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return errors.New("server.port must be > 0")
	}
	if c.Jobs.Concurrency <= 0 {
		return errors.New("jobs.concurrency must be > 0")
	}
	if c.Jobs.QueueDepth < 0 {
		return errors.New("jobs.queue_depth must be >= 0")
	}
	if c.Transport.Attempts <= 0 {
		return errors.New("transport.attempts must be > 0")
	}
	if c.Transport.TimeoutSeconds <= 0 {
		return errors.New("transport.timeout_seconds must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return errors.New("auth.api_key must be set when auth is enabled")
	}
	if c.RateLimit.Enabled && c.RateLimit.DefaultRPS <= 0 {
		return errors.New("ratelimit.default_rps must be > 0 when rate limiting is enabled")
	}
	switch collector.Strategy(c.Collector.Strategy) {
	case collector.StrategyDownload:
	case collector.StrategyInventory:
		if c.Inventory.Host == "" {
			return errors.New("inventory.host must be set for the inventory strategy")
		}
		if c.Inventory.EntitiesFile == "" {
			return errors.New("inventory.entities_file must be set for the inventory strategy")
		}
		if c.Inventory.AllTenants && c.Inventory.TenantsURL == "" {
			return errors.New("inventory.tenants_url must be set when all_tenants is enabled")
		}
	default:
		return fmt.Errorf("collector.strategy %q is not supported", c.Collector.Strategy)
	}
	switch c.Archive.Backend {
	case "", ArchiveNone, ArchiveMemory:
	case ArchiveLocal:
		if c.Archive.LocalDir == "" {
			return errors.New("archive.local_dir must be set for the local backend")
		}
	case ArchiveGCS:
		if c.Archive.Bucket == "" {
			return errors.New("archive.bucket must be set for the gcs backend")
		}
	case ArchiveS3:
		if c.Archive.Bucket == "" || c.Archive.S3.Endpoint == "" {
			return errors.New("archive.bucket and archive.s3.endpoint must be set for the s3 backend")
		}
	default:
		return fmt.Errorf("archive.backend %q is not supported", c.Archive.Backend)
	}
	switch c.Database.Backend {
	case "", LedgerMemory:
	case LedgerPostgres:
		if c.Database.DSN == "" {
			return errors.New("database.dsn must be set for the postgres ledger")
		}
	default:
		return fmt.Errorf("database.backend %q is not supported", c.Database.Backend)
	}
	return nil
}

// JobTimeout bounds one job run.
func (c Config) JobTimeout() time.Duration {
	return time.Duration(c.Jobs.TimeoutSeconds) * time.Second
}

// AdmissionTimeout is how long a submission waits for queue space.
func (c Config) AdmissionTimeout() time.Duration {
	return time.Duration(c.Jobs.AdmissionTimeoutMs) * time.Millisecond
}

// TransportTimeout bounds connection setup and response headers.
func (c Config) TransportTimeout() time.Duration {
	return time.Duration(c.Transport.TimeoutSeconds) * time.Second
}

// RequestTimeout bounds one API request.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.Server.RequestTimeoutSeconds) * time.Second
}
