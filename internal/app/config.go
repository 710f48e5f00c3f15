package app

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	StorageDriverMemory   = "memory"
	StorageDriverPostgres = "postgres"
)

// Config описывает настройки запуска offer-service.
type Config struct {
	HTTPAddr    string `toml:"http_addr"`
	GRPCAddr    string `toml:"grpc_addr"`
	MetricsAddr string `toml:"metrics_addr"`
	LogLevel    string `toml:"log_level"`
	// CORSAllowedOrigins: список источников через запятую, пустой отключает CORS.
	CORSAllowedOrigins string `toml:"cors_allowed_origins"`

	StorageDriver       string `toml:"storage_driver"`
	PostgresDSN         string `toml:"postgres_dsn"`
	PostgresAutoMigrate bool   `toml:"postgres_auto_migrate"`
	// SeedDemoData наполняет in-memory каталог демонстрационными объявлениями.
	SeedDemoData bool `toml:"seed_demo_data"`

	OfferTTL         time.Duration `toml:"offer_ttl"`
	SweeperInterval  time.Duration `toml:"sweeper_interval"`
	SweeperBatchSize int           `toml:"sweeper_batch_size"`

	OutboxPollInterval time.Duration `toml:"outbox_poll_interval"`
	OutboxBatchSize    int           `toml:"outbox_batch_size"`
	OutboxMaxAttempts  int           `toml:"outbox_max_attempts"`
	OutboxRetryDelay   time.Duration `toml:"outbox_retry_delay"`

	// KafkaBrokers: адреса через запятую, пустое значение отключает Kafka.
	KafkaBrokers           string `toml:"kafka_brokers"`
	KafkaClientID          string `toml:"kafka_client_id"`
	KafkaNotificationTopic string `toml:"kafka_notification_topic"`
	KafkaDLQTopic          string `toml:"kafka_dlq_topic"`

	RedisAddr          string `toml:"redis_addr"`
	RedisPassword      string `toml:"redis_password"`
	RedisDB            int    `toml:"redis_db"`
	RedisChannelPrefix string `toml:"redis_channel_prefix"`

	IdempotencyTTL              time.Duration `toml:"idempotency_ttl"`
	IdempotencyCleanupInterval  time.Duration `toml:"idempotency_cleanup_interval"`
	IdempotencyCleanupBatchSize int           `toml:"idempotency_cleanup_batch_size"`
}

// DefaultConfig возвращает настройки по умолчанию: in-memory хранилище, доставка уведомлений в лог.
func DefaultConfig() Config {
	return Config{
		HTTPAddr:    ":8080",
		GRPCAddr:    ":50051",
		MetricsAddr: ":9090",
		LogLevel:    "info",

		StorageDriver:       StorageDriverMemory,
		PostgresAutoMigrate: true,
		SeedDemoData:        true,

		OfferTTL:         48 * time.Hour,
		SweeperInterval:  5 * time.Minute,
		SweeperBatchSize: 200,

		OutboxPollInterval: time.Second,
		OutboxBatchSize:    100,
		OutboxMaxAttempts:  3,
		OutboxRetryDelay:   50 * time.Millisecond,

		KafkaClientID:          "offer-service",
		KafkaNotificationTopic: "marketplace.notifications",
		KafkaDLQTopic:          "marketplace.notifications.dlq",

		RedisChannelPrefix: "offers:notifications",

		IdempotencyTTL:              24 * time.Hour,
		IdempotencyCleanupInterval:  10 * time.Minute,
		IdempotencyCleanupBatchSize: 500,
	}
}

// LoadConfigFile накладывает значения из TOML-файла поверх cfg.
// Ключи, которых нет в файле, сохраняют прежние значения.
func LoadConfigFile(path string, cfg Config) (Config, error) {
	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return cfg, fmt.Errorf("decode config file %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, key := range undecoded {
			keys = append(keys, key.String())
		}
		return cfg, fmt.Errorf("unknown config keys in %s: %s", path, strings.Join(keys, ", "))
	}
	return cfg, nil
}

// Validate проверяет согласованность настроек перед запуском.
func (c Config) Validate() error {
	switch c.StorageDriver {
	case StorageDriverMemory:
	case StorageDriverPostgres:
		if strings.TrimSpace(c.PostgresDSN) == "" {
			return fmt.Errorf("postgres dsn is required for storage driver %q", c.StorageDriver)
		}
	default:
		return fmt.Errorf("unsupported storage driver: %s", c.StorageDriver)
	}
	if c.OfferTTL <= 0 {
		return fmt.Errorf("offer ttl must be > 0")
	}
	return nil
}

// KafkaBrokerList разбивает KafkaBrokers на адреса.
func (c Config) KafkaBrokerList() []string {
	var brokers []string
	for _, broker := range strings.Split(c.KafkaBrokers, ",") {
		if broker = strings.TrimSpace(broker); broker != "" {
			brokers = append(brokers, broker)
		}
	}
	return brokers
}

// AllowedOrigins разбивает CORSAllowedOrigins на список.
func (c Config) AllowedOrigins() []string {
	var origins []string
	for _, origin := range strings.Split(c.CORSAllowedOrigins, ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			origins = append(origins, origin)
		}
	}
	return origins
}
