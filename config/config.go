// Package config loads agent configuration from a YAML file with environment
// variable overrides, via cleanenv. Every knob has a sane default so an empty
// config starts a usable in-memory agent against a local catalog.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	Catalog    CatalogConfig    `yaml:"catalog"`
	Cache      CacheConfig      `yaml:"cache"`
	Dispatcher DispatcherConfig `yaml:"dispatcher"`
	Source     SourceConfig     `yaml:"source"`
	Idempotent IdempotentConfig `yaml:"idempotency"`
	Admin      AdminConfig      `yaml:"admin"`
	LogLevel   string           `yaml:"log_level" env:"LOG_LEVEL" env-default:"info"`
}

// CatalogConfig points the SDK at the remote metadata catalog.
type CatalogConfig struct {
	BaseURL  string        `yaml:"base_url" env:"CATALOG_BASE_URL" env-default:"http://localhost:21000"`
	Token    string        `yaml:"token" env:"CATALOG_TOKEN"`
	Timeout  time.Duration `yaml:"timeout" env:"CATALOG_TIMEOUT" env-default:"15s"`
	PageSize int           `yaml:"page_size" env:"CATALOG_PAGE_SIZE" env-default:"500"`
}

type CacheConfig struct {
	RefreshTimeout time.Duration `yaml:"refresh_timeout" env:"CACHE_REFRESH_TIMEOUT" env-default:"30s"`
	RefreshRate    float64       `yaml:"refresh_rate" env:"CACHE_REFRESH_RATE" env-default:"0"`
	RefreshBurst   int           `yaml:"refresh_burst" env:"CACHE_REFRESH_BURST" env-default:"1"`
}

type DispatcherConfig struct {
	Workers     int           `yaml:"workers" env:"DISPATCH_WORKERS" env-default:"4"`
	QueueSize   int           `yaml:"queue_size" env:"DISPATCH_QUEUE_SIZE" env-default:"256"`
	MaxAttempts int           `yaml:"max_attempts" env:"DISPATCH_MAX_ATTEMPTS" env-default:"5"`
	BackoffBase time.Duration `yaml:"backoff_base" env:"DISPATCH_BACKOFF_BASE" env-default:"200ms"`
	BackoffMax  time.Duration `yaml:"backoff_max" env:"DISPATCH_BACKOFF_MAX" env-default:"30s"`
	StepTimeout time.Duration `yaml:"step_timeout" env:"DISPATCH_STEP_TIMEOUT" env-default:"30s"`
	RecordLimit int           `yaml:"record_limit" env:"DISPATCH_RECORD_LIMIT" env-default:"1024"`
}

// SourceConfig selects the inbound event transport. Kind is "kafka", "stan"
// or "none" (admin-only agent).
type SourceConfig struct {
	Kind  string      `yaml:"kind" env:"SOURCE_KIND" env-default:"none"`
	Kafka KafkaConfig `yaml:"kafka"`
	Stan  StanConfig  `yaml:"stan"`
}

type KafkaConfig struct {
	Brokers []string `yaml:"brokers" env:"KAFKA_BROKERS" env-separator:","`
	Topic   string   `yaml:"topic" env:"KAFKA_TOPIC" env-default:"catalog-events"`
	GroupID string   `yaml:"group_id" env:"KAFKA_GROUP_ID" env-default:"catalog-agent"`
}

type StanConfig struct {
	ClusterID  string        `yaml:"cluster_id" env:"STAN_CLUSTER_ID" env-default:"catalog-cluster"`
	ClientID   string        `yaml:"client_id" env:"STAN_CLIENT_ID"`
	URL        string        `yaml:"url" env:"STAN_URL" env-default:"nats://localhost:4222"`
	Subject    string        `yaml:"subject" env:"STAN_SUBJECT" env-default:"catalog-events"`
	QueueGroup string        `yaml:"queue_group" env:"STAN_QUEUE_GROUP" env-default:"catalog-agent"`
	Durable    string        `yaml:"durable" env:"STAN_DURABLE" env-default:"catalog-agent"`
	AckWait    time.Duration `yaml:"ack_wait" env:"STAN_ACK_WAIT" env-default:"30s"`
}

// IdempotentConfig selects the completion-mark store. Kind is "memory",
// "postgres" or "redis".
type IdempotentConfig struct {
	Kind      string        `yaml:"kind" env:"IDEMPOTENCY_KIND" env-default:"memory"`
	Consumer  string        `yaml:"consumer" env:"IDEMPOTENCY_CONSUMER" env-default:"catalog-agent"`
	Postgres  string        `yaml:"postgres_dsn" env:"IDEMPOTENCY_POSTGRES_DSN"`
	RedisAddr string        `yaml:"redis_addr" env:"IDEMPOTENCY_REDIS_ADDR"`
	Retention time.Duration `yaml:"retention" env:"IDEMPOTENCY_RETENTION" env-default:"168h"`
}

type AdminConfig struct {
	Addr string `yaml:"addr" env:"ADMIN_ADDR" env-default:":8080"`
}

// Load reads path (when non-empty and present) and applies environment
// overrides. A missing file is not an error; defaults plus environment apply.
func Load(path string) (Config, error) {
	var cfg Config

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := cleanenv.ReadConfig(path, &cfg); err != nil {
				return Config{}, fmt.Errorf("config: read %s: %w", path, err)
			}
			return cfg, cfg.validate()
		}
	}

	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: read environment: %w", err)
	}
	return cfg, cfg.validate()
}

func (c Config) validate() error {
	switch c.Source.Kind {
	case "none", "kafka", "stan":
	default:
		return fmt.Errorf("config: unknown source kind %q", c.Source.Kind)
	}
	switch c.Idempotent.Kind {
	case "memory":
	case "postgres":
		if c.Idempotent.Postgres == "" {
			return fmt.Errorf("config: postgres idempotency store needs a DSN")
		}
	case "redis":
		if c.Idempotent.RedisAddr == "" {
			return fmt.Errorf("config: redis idempotency store needs an address")
		}
	default:
		return fmt.Errorf("config: unknown idempotency kind %q", c.Idempotent.Kind)
	}
	if c.Source.Kind == "kafka" && len(c.Source.Kafka.Brokers) == 0 {
		return fmt.Errorf("config: kafka source needs brokers")
	}
	return nil
}
