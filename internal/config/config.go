package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	ServiceName    = "checkoutd"
	ServiceVersion = "0.1.0"
)

const (
	StorageMemory = "memory"
	StorageMySQL  = "mysql"
	StorageSQLite = "sqlite3"

	IdempotencyStorage = "storage"
	IdempotencyRedis   = "redis"

	PaymentSimulator = "simulator"
)

type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Storage     StorageConfig     `yaml:"storage"`
	Idempotency IdempotencyConfig `yaml:"idempotency"`
	Holds       HoldsConfig       `yaml:"holds"`
	Payment     PaymentConfig     `yaml:"payment"`
	Audit       AuditConfig       `yaml:"audit"`
	Log         LogConfig         `yaml:"log"`
	Tracing     TracingConfig     `yaml:"tracing"`
	// CatalogPath points at a YAML product catalog, optionally with initial stock.
	CatalogPath string `yaml:"catalog_path"`
}

type ServerConfig struct {
	HTTPAddr        string        `yaml:"http_addr"`
	GRPCAddr        string        `yaml:"grpc_addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type StorageConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

type IdempotencyConfig struct {
	Backend   string        `yaml:"backend"`
	RedisAddr string        `yaml:"redis_addr"`
	Horizon   time.Duration `yaml:"horizon"`
}

type HoldsConfig struct {
	TTL           time.Duration `yaml:"ttl"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

type PaymentConfig struct {
	Backend      string        `yaml:"backend"`
	Latency      time.Duration `yaml:"latency"`
	DeclineAbove string        `yaml:"decline_above"`
}

type AuditConfig struct {
	KafkaBrokers []string `yaml:"kafka_brokers"`
	Topic        string   `yaml:"topic"`
	QueueSize    int      `yaml:"queue_size"`
	Workers      int      `yaml:"workers"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type TracingConfig struct {
	Endpoint string `yaml:"endpoint"`
	Insecure bool   `yaml:"insecure"`
}

func Default() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPAddr:        ":8080",
			GRPCAddr:        ":50051",
			ShutdownTimeout: 10 * time.Second,
		},
		Storage: StorageConfig{Driver: StorageMemory},
		Idempotency: IdempotencyConfig{
			Backend: IdempotencyStorage,
			Horizon: 24 * time.Hour,
		},
		Holds: HoldsConfig{
			TTL:           5 * time.Minute,
			SweepInterval: 15 * time.Second,
		},
		Payment: PaymentConfig{Backend: PaymentSimulator},
		Audit: AuditConfig{
			Topic:     "checkout.audit",
			QueueSize: 1000,
			Workers:   2,
		},
		Log: LogConfig{Level: "info", Format: "json"},
	}
}

// Load reads path (when non-empty) over the defaults and then applies
// environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(os.Getenv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(getenv func(string) string) error {
	set := func(dst *string, key string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}

	set(&c.Server.HTTPAddr, "CHECKOUT_HTTP_ADDR")
	set(&c.Server.GRPCAddr, "CHECKOUT_GRPC_ADDR")
	set(&c.Storage.Driver, "CHECKOUT_STORAGE_DRIVER")
	set(&c.Storage.DSN, "CHECKOUT_STORAGE_DSN")
	set(&c.CatalogPath, "CHECKOUT_CATALOG")
	set(&c.Log.Level, "CHECKOUT_LOG_LEVEL")
	set(&c.Log.Format, "CHECKOUT_LOG_FORMAT")
	set(&c.Tracing.Endpoint, "OTEL_ENDPOINT")

	if v := getenv("MYSQL_DSN"); v != "" && c.Storage.DSN == "" {
		c.Storage.Driver = StorageMySQL
		c.Storage.DSN = v
	}
	if v := getenv("REDIS_ADDR"); v != "" {
		c.Idempotency.Backend = IdempotencyRedis
		c.Idempotency.RedisAddr = v
	}
	if v := getenv("KAFKA_BROKERS"); v != "" {
		c.Audit.KafkaBrokers = strings.Split(v, ",")
	}
	if v := getenv("CHECKOUT_HOLD_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("CHECKOUT_HOLD_TTL: %w", err)
		}
		c.Holds.TTL = d
	}
	if v := getenv("OTEL_INSECURE"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("OTEL_INSECURE: %w", err)
		}
		c.Tracing.Insecure = b
	}
	return nil
}

func (c *Config) Validate() error {
	var errs []error

	switch c.Storage.Driver {
	case StorageMemory:
	case StorageMySQL, StorageSQLite:
		if c.Storage.DSN == "" {
			errs = append(errs, fmt.Errorf("storage.dsn is required for driver %s", c.Storage.Driver))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.driver %q is not one of memory, mysql, sqlite3", c.Storage.Driver))
	}

	switch c.Idempotency.Backend {
	case IdempotencyStorage:
	case IdempotencyRedis:
		if c.Idempotency.RedisAddr == "" {
			errs = append(errs, errors.New("idempotency.redis_addr is required for the redis backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("idempotency.backend %q is not one of storage, redis", c.Idempotency.Backend))
	}
	if c.Idempotency.Horizon <= 0 {
		errs = append(errs, errors.New("idempotency.horizon must be positive"))
	}

	if c.Holds.TTL <= 0 {
		errs = append(errs, errors.New("holds.ttl must be positive"))
	}
	if c.Holds.SweepInterval <= 0 {
		errs = append(errs, errors.New("holds.sweep_interval must be positive"))
	}

	if c.Payment.Backend != PaymentSimulator {
		errs = append(errs, fmt.Errorf("payment.backend %q is not supported", c.Payment.Backend))
	}

	if len(c.Audit.KafkaBrokers) > 0 {
		if c.Audit.Topic == "" {
			errs = append(errs, errors.New("audit.topic is required when kafka brokers are set"))
		}
		if c.Audit.QueueSize <= 0 || c.Audit.Workers <= 0 {
			errs = append(errs, errors.New("audit.queue_size and audit.workers must be positive"))
		}
	}

	switch c.Log.Format {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("log.format %q is not one of json, console", c.Log.Format))
	}

	return errors.Join(errs...)
}
