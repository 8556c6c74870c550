package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	RunLocal bool `mapstructure:"run_local"`

	HTTP struct {
		Addr        string   `mapstructure:"addr"`
		CORSOrigins []string `mapstructure:"cors_origins"`
	} `mapstructure:"http"`

	Log struct {
		Mode string `mapstructure:"mode"` // dev or prod
	} `mapstructure:"log"`

	Storage struct {
		Backend string `mapstructure:"backend"` // sql or dynamodb
	} `mapstructure:"storage"`

	Database struct {
		Driver   string `mapstructure:"driver"` // sqlite, postgres or mysql
		DSN      string `mapstructure:"dsn"`
		LogLevel string `mapstructure:"log_level"`
	} `mapstructure:"database"`

	AWS struct {
		Region           string `mapstructure:"region"`
		EndpointOverride string `mapstructure:"endpoint_override"`
	} `mapstructure:"aws"`

	DynamoDB struct {
		CustomersTable   string        `mapstructure:"customers_table"`
		OrdersTable      string        `mapstructure:"orders_table"`
		ItemsTable       string        `mapstructure:"items_table"`
		CountersTable    string        `mapstructure:"counters_table"`
		IdempotencyTable string        `mapstructure:"idempotency_table"` // empty disables Idempotency-Key handling
		IdempotencyTTL   time.Duration `mapstructure:"idempotency_ttl"`
	} `mapstructure:"dynamodb"`

	Events struct {
		Backend  string `mapstructure:"backend"` // auto, none, sqs or kafka
		QueueURL string `mapstructure:"queue_url"`
	} `mapstructure:"events"`

	Kafka struct {
		Brokers []string `mapstructure:"brokers"`
		Topic   string   `mapstructure:"topic"`
	} `mapstructure:"kafka"`

	Lock struct {
		Backend   string        `mapstructure:"backend"` // local or redis
		RedisAddr string        `mapstructure:"redis_addr"`
		TTL       time.Duration `mapstructure:"ttl"` // lease, renewed while held
	} `mapstructure:"lock"`

	Metrics struct {
		Backend   string        `mapstructure:"backend"` // none or cloudwatch
		Namespace string        `mapstructure:"namespace"`
		Interval  time.Duration `mapstructure:"interval"`
	} `mapstructure:"metrics"`

	Seed struct {
		OnEmpty       bool `mapstructure:"on_empty"`
		AllowRecreate bool `mapstructure:"allow_recreate"`
	} `mapstructure:"seed"`
}

// env names shared with the deployment templates
var envBindings = map[string]string{
	"run_local":                  "RUN_LOCAL",
	"aws.region":                 "AWS_REGION",
	"aws.endpoint_override":      "AWS_ENDPOINT_OVERRIDE",
	"dynamodb.orders_table":      "ORDERS_TABLE",
	"dynamodb.idempotency_table": "IDEMPOTENCY_TABLE",
	"events.queue_url":           "ORDERS_QUEUE_URL",
	"lock.redis_addr":            "REDIS_ADDR",
	"database.dsn":               "DATABASE_URL",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("run_local", false)
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.cors_origins", []string{})
	v.SetDefault("log.mode", "dev")
	v.SetDefault("storage.backend", "sql")
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "orders.db")
	v.SetDefault("database.log_level", "silent")
	v.SetDefault("aws.region", "us-east-1")
	v.SetDefault("aws.endpoint_override", "")
	v.SetDefault("dynamodb.customers_table", "customers")
	v.SetDefault("dynamodb.orders_table", "orders")
	v.SetDefault("dynamodb.items_table", "order_items")
	v.SetDefault("dynamodb.counters_table", "id_counters")
	v.SetDefault("dynamodb.idempotency_table", "")
	v.SetDefault("dynamodb.idempotency_ttl", 48*time.Hour)
	v.SetDefault("events.backend", "auto")
	v.SetDefault("events.queue_url", "")
	v.SetDefault("kafka.brokers", []string{"127.0.0.1:9092"})
	v.SetDefault("kafka.topic", "order-events")
	v.SetDefault("lock.backend", "local")
	v.SetDefault("lock.redis_addr", "localhost:6379")
	v.SetDefault("lock.ttl", 10*time.Second)
	v.SetDefault("metrics.backend", "none")
	v.SetDefault("metrics.namespace", "CustomerOrders")
	v.SetDefault("metrics.interval", time.Minute)
	v.SetDefault("seed.on_empty", false)
	v.SetDefault("seed.allow_recreate", false)
}

// Load reads config.yaml from the given directories (./config and . by
// default), then applies environment overrides. A missing file is not an
// error. Any key can be set as ORDERS_<SECTION>_<KEY>, e.g.
// ORDERS_STORAGE_BACKEND=dynamodb.
func Load(paths ...string) (*Config, error) {
	if len(paths) == 0 {
		paths = []string{"./config", "."}
	}
	v := viper.New()
	for _, p := range paths {
		v.AddConfigPath(p)
	}
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	setDefaults(v)

	v.SetEnvPrefix("ORDERS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range envBindings {
		if err := v.BindEnv(key, env, "ORDERS_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_"))); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", env, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects unknown backend names.
func (c *Config) Validate() error {
	checks := []struct {
		key, value string
		allowed    []string
	}{
		{"storage.backend", c.Storage.Backend, []string{"sql", "dynamodb"}},
		{"database.driver", c.Database.Driver, []string{"sqlite", "postgres", "mysql"}},
		{"events.backend", c.Events.Backend, []string{"auto", "none", "sqs", "kafka"}},
		{"lock.backend", c.Lock.Backend, []string{"local", "redis"}},
		{"metrics.backend", c.Metrics.Backend, []string{"none", "cloudwatch"}},
	}
	for _, chk := range checks {
		ok := false
		for _, a := range chk.allowed {
			if strings.EqualFold(chk.value, a) {
				ok = true
				break
			}
		}
		if !ok {
			return fmt.Errorf("config %s: unknown value %q (want one of %s)", chk.key, chk.value, strings.Join(chk.allowed, ", "))
		}
	}
	if strings.EqualFold(c.Events.Backend, "sqs") && c.Events.QueueURL == "" {
		return errors.New("config events.backend is sqs but no queue url is set (ORDERS_QUEUE_URL)")
	}
	return nil
}

// EventsBackend resolves "auto": SQS when a queue URL is configured,
// otherwise no publishing.
func (c *Config) EventsBackend() string {
	b := strings.ToLower(c.Events.Backend)
	if b != "auto" {
		return b
	}
	if c.Events.QueueURL != "" {
		return "sqs"
	}
	return "none"
}
