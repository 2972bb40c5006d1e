// Package config loads and validates monitor service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server     ServerConfig        `mapstructure:"server"`
	Auth       AuthConfig          `mapstructure:"auth"`
	Logging    LoggingConfig       `mapstructure:"logging"`
	DB         DBConfig            `mapstructure:"db"`
	Storage    StorageConfig       `mapstructure:"storage"`
	Pipeline   PipelineConfig      `mapstructure:"pipeline"`
	Thumbnail  ThumbnailConfig     `mapstructure:"thumbnail"`
	Screenshot ScreenshotConfig    `mapstructure:"screenshot"`
	Scorer     ScorerConfig        `mapstructure:"scorer"`
	Classifier ClassifierConfig    `mapstructure:"classifier"`
	Alerts     AlertsConfig        `mapstructure:"alerts"`
	PubSub     PubSubConfig        `mapstructure:"pubsub"`
	Roster     map[string][]string `mapstructure:"roster"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port           int `mapstructure:"port"`
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	Provider           string `mapstructure:"provider"`
	DSN                string `mapstructure:"dsn"`
	VisitsTable        string `mapstructure:"visits_table"`
	AlertsTable        string `mapstructure:"alerts_table"`
	ChildrenTable      string `mapstructure:"children_table"`
	MaxConns           int32  `mapstructure:"max_conns"`
	MinConns           int32  `mapstructure:"min_conns"`
	ConnLifetimeMinute int    `mapstructure:"max_conn_lifetime_minutes"`
}

// StorageConfig selects and parameterizes the image blob store used for
// thumbnail and screenshot staging.
type StorageConfig struct {
	Provider  string `mapstructure:"provider"`
	BaseDir   string `mapstructure:"base_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// PipelineConfig holds the coalescing and fusion policy parameters.
// LookbackMinutes and ShortIntervalSeconds are independently tunable.
type PipelineConfig struct {
	LookbackMinutes      int      `mapstructure:"lookback_minutes"`
	ShortIntervalSeconds int      `mapstructure:"short_interval_seconds"`
	MinEngagementSeconds int      `mapstructure:"min_engagement_seconds"`
	ImageRiskThreshold   float64  `mapstructure:"image_risk_threshold"`
	NightStartHour       int      `mapstructure:"night_start_hour"`
	NightEndHour         int      `mapstructure:"night_end_hour"`
	SkipHomepages        []string `mapstructure:"skip_homepages"`
}

// ThumbnailConfig governs tiered thumbnail retrieval.
type ThumbnailConfig struct {
	BaseURL        string   `mapstructure:"base_url"`
	Qualities      []string `mapstructure:"qualities"`
	UserAgent      string   `mapstructure:"user_agent"`
	TimeoutSeconds int      `mapstructure:"timeout_seconds"`
	MaxRetries     int      `mapstructure:"max_retries"`
}

// ScreenshotConfig governs the headless capture fallback for pages without a
// retrievable thumbnail.
type ScreenshotConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	MaxParallel   int    `mapstructure:"max_parallel"`
	NavTimeoutSec int    `mapstructure:"nav_timeout_seconds"`
	UserAgent     string `mapstructure:"user_agent"`
}

// ScorerConfig points at the NSFW image scoring sidecar.
type ScorerConfig struct {
	Provider       string  `mapstructure:"provider"`
	Endpoint       string  `mapstructure:"endpoint"`
	TimeoutSeconds int     `mapstructure:"timeout_seconds"`
	StaticScore    float64 `mapstructure:"static_score"`
}

// ClassifierConfig points at the behavior classification sidecar.
type ClassifierConfig struct {
	Provider       string `mapstructure:"provider"`
	Endpoint       string `mapstructure:"endpoint"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// AlertsConfig controls alert delivery.
type AlertsConfig struct {
	QueueDepth int        `mapstructure:"queue_depth"`
	Workers    int        `mapstructure:"workers"`
	SMTP       SMTPConfig `mapstructure:"smtp"`
}

// SMTPConfig holds the outbound mail credentials. An empty host disables
// email delivery (alerts are still recorded and published).
type SMTPConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
}

// PubSubConfig holds metadata for publish-subscribe alert events. The memory
// provider keeps events in-process for deployments without a Pub/Sub project.
type PubSubConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Provider  string `mapstructure:"provider"`
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("MONITOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

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

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.timeout_seconds", 60)
	v.SetDefault("logging.development", true)
	v.SetDefault("db.provider", "memory")
	v.SetDefault("db.visits_table", "visits")
	v.SetDefault("db.alerts_table", "risk_alerts")
	v.SetDefault("db.children_table", "children")
	v.SetDefault("storage.provider", "local")
	v.SetDefault("storage.base_dir", "data/thumbnails")
	v.SetDefault("storage.prefix", "thumbnails")
	v.SetDefault("pipeline.lookback_minutes", 30)
	v.SetDefault("pipeline.short_interval_seconds", 3600)
	v.SetDefault("pipeline.min_engagement_seconds", 60)
	v.SetDefault("pipeline.image_risk_threshold", 0.7)
	v.SetDefault("pipeline.night_start_hour", 22)
	v.SetDefault("pipeline.night_end_hour", 6)
	v.SetDefault("thumbnail.base_url", "https://img.youtube.com")
	v.SetDefault("thumbnail.qualities", []string{"maxresdefault", "hqdefault", "mqdefault", "default"})
	v.SetDefault("thumbnail.user_agent", "safescope-monitor/0.1")
	v.SetDefault("thumbnail.timeout_seconds", 10)
	v.SetDefault("thumbnail.max_retries", 2)
	v.SetDefault("screenshot.enabled", false)
	v.SetDefault("screenshot.max_parallel", 1)
	v.SetDefault("screenshot.nav_timeout_seconds", 25)
	v.SetDefault("scorer.provider", "static")
	v.SetDefault("scorer.timeout_seconds", 10)
	v.SetDefault("scorer.static_score", 0.0)
	v.SetDefault("classifier.provider", "static")
	v.SetDefault("classifier.timeout_seconds", 20)
	v.SetDefault("alerts.queue_depth", 64)
	v.SetDefault("alerts.workers", 2)
	v.SetDefault("alerts.smtp.port", 587)
	v.SetDefault("pubsub.enabled", false)
	v.SetDefault("pubsub.provider", "pubsub")
	v.SetDefault("pubsub.topic_name", "risk-alerts")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.DB.Provider == "postgres" && c.DB.DSN == "" {
		return fmt.Errorf("db.dsn must be set when db.provider is postgres")
	}
	if c.Storage.Provider == "gcs" && c.Storage.GCSBucket == "" {
		return fmt.Errorf("storage.gcs_bucket must be set when storage.provider is gcs")
	}
	if c.Pipeline.LookbackMinutes <= 0 {
		return fmt.Errorf("pipeline.lookback_minutes must be > 0")
	}
	if c.Pipeline.ImageRiskThreshold < 0 || c.Pipeline.ImageRiskThreshold > 1 {
		return fmt.Errorf("pipeline.image_risk_threshold must be in [0,1]")
	}
	if c.Scorer.Provider == "http" && c.Scorer.Endpoint == "" {
		return fmt.Errorf("scorer.endpoint must be set when scorer.provider is http")
	}
	if c.Classifier.Provider == "http" && c.Classifier.Endpoint == "" {
		return fmt.Errorf("classifier.endpoint must be set when classifier.provider is http")
	}
	if c.Alerts.Workers <= 0 {
		return fmt.Errorf("alerts.workers must be > 0")
	}
	if c.Alerts.SMTP.Host != "" && c.Alerts.SMTP.From == "" {
		return fmt.Errorf("alerts.smtp.from must be set when alerts.smtp.host is set")
	}
	if c.PubSub.Enabled {
		switch c.PubSub.Provider {
		case "pubsub":
			if c.PubSub.ProjectID == "" || c.PubSub.TopicName == "" {
				return fmt.Errorf("pubsub.project_id and pubsub.topic_name must be set when pubsub.provider is pubsub")
			}
		case "memory":
		default:
			return fmt.Errorf("pubsub.provider must be pubsub or memory")
		}
	}
	if c.Screenshot.Enabled && c.Screenshot.MaxParallel <= 0 {
		return fmt.Errorf("screenshot.max_parallel must be > 0 when screenshot is enabled")
	}
	return nil
}

// LookbackWindow converts the coalescing lookback into a duration.
func (c PipelineConfig) LookbackWindow() time.Duration {
	return time.Duration(c.LookbackMinutes) * time.Minute
}

// RequestTimeout converts the server request budget into a duration.
func (c ServerConfig) RequestTimeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}
