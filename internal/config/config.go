package config

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/dunamismax/assetflow/internal/asset"
	"github.com/dunamismax/assetflow/internal/codec"
	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	API       APIConfig
	Queue     QueueConfig
	Worker    WorkerConfig
	Storage   StorageConfig
	Database  DatabaseConfig
	Telemetry TelemetryConfig
	Log       LogConfig
	Fetch     FetchConfig
	Ingest    IngestConfig
	RateLimit RateLimitConfig
	Webhook   WebhookConfig
}

type APIConfig struct {
	Addr            string
	AllowLocalPaths bool
	MaxUploadBytes  int64
}

type QueueConfig struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	Name          string
}

func (q QueueConfig) RedisClientOpt() asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     q.RedisAddr,
		Password: q.RedisPassword,
		DB:       q.RedisDB,
	}
}

type WorkerConfig struct {
	Concurrency   int
	MaxActiveJobs int
	MetricsAddr   string
	OutputPrefix  string
}

type StorageConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	UseSSL    bool
}

type DatabaseConfig struct {
	DSN string
}

type TelemetryConfig struct {
	ServiceName  string
	Exporter     string
	OTLPEndpoint string
	OTLPInsecure bool
}

type LogConfig struct {
	Level  string
	Pretty bool
}

type FetchConfig struct {
	Timeout      time.Duration
	MaxBodyBytes int64
	UserAgent    string

	// AllowPrivateNetworks lets services fetch loopback, private and
	// link-local addresses.
	AllowPrivateNetworks bool
}

// IngestConfig holds the default pipeline options applied when a request
// leaves a field unset.
type IngestConfig struct {
	MaxWidth              int
	MaxHeight             int
	Quality               int
	Format                string
	SkipImageOptimization bool
}

func (c IngestConfig) Options() asset.Options {
	return asset.Options{
		MaxWidth:              c.MaxWidth,
		MaxHeight:             c.MaxHeight,
		Quality:               c.Quality,
		Format:                codec.Format(strings.ToLower(strings.TrimSpace(c.Format))),
		SkipImageOptimization: c.SkipImageOptimization,
	}
}

// RateLimitConfig sizes the per-subject buckets. AssetsCapacity applies to
// synchronous ingest, which does the transcode inline; zero means Capacity.
type RateLimitConfig struct {
	Enabled        bool
	Capacity       int
	AssetsCapacity int
	Window         time.Duration
}

type WebhookConfig struct {
	SigningSecret  string
	Timeout        time.Duration
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// Load reads configuration from defaults, an optional assetflow.toml, an
// optional .env file and ASSETFLOW_* environment variables, in increasing
// precedence.
func Load() (Config, error) {
	_ = godotenv.Load(".env")

	v := viper.New()
	setDefaults(v)

	v.SetConfigName("assetflow")
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/assetflow")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	}

	v.SetEnvPrefix("ASSETFLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := fromViper(v)
	if err := cfg.Ingest.Options().Validate(); err != nil {
		return Config{}, fmt.Errorf("ingest defaults: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	defaultWorkerSlots := max(1, runtime.NumCPU()/2)

	v.SetDefault("api.addr", ":8080")
	v.SetDefault("api.allow_local_paths", false)
	v.SetDefault("api.max_upload_bytes", 32<<20)

	v.SetDefault("queue.redis_addr", "localhost:6379")
	v.SetDefault("queue.redis_password", "")
	v.SetDefault("queue.redis_db", 0)
	v.SetDefault("queue.name", "default")

	v.SetDefault("worker.concurrency", max(2, runtime.NumCPU()))
	v.SetDefault("worker.max_active_jobs", defaultWorkerSlots)
	v.SetDefault("worker.metrics_addr", ":9091")
	v.SetDefault("worker.output_prefix", "outputs")

	v.SetDefault("storage.endpoint", "localhost:9000")
	v.SetDefault("storage.access_key", "minioadmin")
	v.SetDefault("storage.secret_key", "minioadmin")
	v.SetDefault("storage.bucket", "assetflow")
	v.SetDefault("storage.region", "us-east-1")
	v.SetDefault("storage.use_ssl", false)

	v.SetDefault("database.dsn", "")

	v.SetDefault("telemetry.service_name", "assetflow")
	v.SetDefault("telemetry.exporter", "none")
	v.SetDefault("telemetry.otlp_endpoint", "")
	v.SetDefault("telemetry.otlp_insecure", true)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)

	v.SetDefault("fetch.timeout", 30*time.Second)
	v.SetDefault("fetch.max_body_bytes", 64<<20)
	v.SetDefault("fetch.user_agent", "assetflow")
	v.SetDefault("fetch.allow_private_networks", false)

	v.SetDefault("ingest.max_width", asset.DefaultMaxWidth)
	v.SetDefault("ingest.max_height", asset.DefaultMaxHeight)
	v.SetDefault("ingest.quality", asset.DefaultQuality)
	v.SetDefault("ingest.format", string(asset.DefaultFormat))
	v.SetDefault("ingest.skip_image_optimization", false)

	v.SetDefault("rate_limit.enabled", false)
	v.SetDefault("rate_limit.capacity", 60)
	v.SetDefault("rate_limit.assets_capacity", 20)
	v.SetDefault("rate_limit.window", time.Minute)

	v.SetDefault("webhook.signing_secret", "")
	v.SetDefault("webhook.timeout", 10*time.Second)
	v.SetDefault("webhook.max_attempts", 3)
	v.SetDefault("webhook.initial_backoff", time.Second)
	v.SetDefault("webhook.max_backoff", 10*time.Second)
}

func fromViper(v *viper.Viper) Config {
	return Config{
		API: APIConfig{
			Addr:            v.GetString("api.addr"),
			AllowLocalPaths: v.GetBool("api.allow_local_paths"),
			MaxUploadBytes:  v.GetInt64("api.max_upload_bytes"),
		},
		Queue: QueueConfig{
			RedisAddr:     v.GetString("queue.redis_addr"),
			RedisPassword: v.GetString("queue.redis_password"),
			RedisDB:       v.GetInt("queue.redis_db"),
			Name:          v.GetString("queue.name"),
		},
		Worker: WorkerConfig{
			Concurrency:   v.GetInt("worker.concurrency"),
			MaxActiveJobs: v.GetInt("worker.max_active_jobs"),
			MetricsAddr:   v.GetString("worker.metrics_addr"),
			OutputPrefix:  v.GetString("worker.output_prefix"),
		},
		Storage: StorageConfig{
			Endpoint:  v.GetString("storage.endpoint"),
			AccessKey: v.GetString("storage.access_key"),
			SecretKey: v.GetString("storage.secret_key"),
			Bucket:    v.GetString("storage.bucket"),
			Region:    v.GetString("storage.region"),
			UseSSL:    v.GetBool("storage.use_ssl"),
		},
		Database: DatabaseConfig{
			DSN: v.GetString("database.dsn"),
		},
		Telemetry: TelemetryConfig{
			ServiceName:  v.GetString("telemetry.service_name"),
			Exporter:     v.GetString("telemetry.exporter"),
			OTLPEndpoint: v.GetString("telemetry.otlp_endpoint"),
			OTLPInsecure: v.GetBool("telemetry.otlp_insecure"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Pretty: v.GetBool("log.pretty"),
		},
		Fetch: FetchConfig{
			Timeout:      v.GetDuration("fetch.timeout"),
			MaxBodyBytes: v.GetInt64("fetch.max_body_bytes"),
			UserAgent:    v.GetString("fetch.user_agent"),

			AllowPrivateNetworks: v.GetBool("fetch.allow_private_networks"),
		},
		Ingest: IngestConfig{
			MaxWidth:              v.GetInt("ingest.max_width"),
			MaxHeight:             v.GetInt("ingest.max_height"),
			Quality:               v.GetInt("ingest.quality"),
			Format:                v.GetString("ingest.format"),
			SkipImageOptimization: v.GetBool("ingest.skip_image_optimization"),
		},
		RateLimit: RateLimitConfig{
			Enabled:        v.GetBool("rate_limit.enabled"),
			Capacity:       v.GetInt("rate_limit.capacity"),
			AssetsCapacity: v.GetInt("rate_limit.assets_capacity"),
			Window:         v.GetDuration("rate_limit.window"),
		},
		Webhook: WebhookConfig{
			SigningSecret:  v.GetString("webhook.signing_secret"),
			Timeout:        v.GetDuration("webhook.timeout"),
			MaxAttempts:    v.GetInt("webhook.max_attempts"),
			InitialBackoff: v.GetDuration("webhook.initial_backoff"),
			MaxBackoff:     v.GetDuration("webhook.max_backoff"),
		},
	}
}
