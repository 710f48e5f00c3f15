package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/marketplace-offers/internal/app"
	"github.com/vladislavdragonenkov/marketplace-offers/internal/version"
)

const (
	envConfigFile = "OFFERS_CONFIG_FILE"

	envHTTPAddr                    = "OFFERS_HTTP_ADDR"
	envGRPCAddr                    = "OFFERS_GRPC_ADDR"
	envMetricsAddr                 = "OFFERS_METRICS_ADDR"
	envLogLevel                    = "OFFERS_LOG_LEVEL"
	envCORSAllowedOrigins          = "OFFERS_CORS_ALLOWED_ORIGINS"
	envStorageDriver               = "OFFERS_STORAGE_DRIVER"
	envPostgresDSN                 = "OFFERS_POSTGRES_DSN"
	envPostgresAutoMigrate         = "OFFERS_POSTGRES_AUTO_MIGRATE"
	envSeedDemoData                = "OFFERS_SEED_DEMO_DATA"
	envOfferTTL                    = "OFFERS_OFFER_TTL"
	envSweeperInterval             = "OFFERS_SWEEPER_INTERVAL"
	envSweeperBatchSize            = "OFFERS_SWEEPER_BATCH_SIZE"
	envOutboxPollInterval          = "OFFERS_OUTBOX_POLL_INTERVAL"
	envOutboxBatchSize             = "OFFERS_OUTBOX_BATCH_SIZE"
	envOutboxMaxAttempts           = "OFFERS_OUTBOX_MAX_ATTEMPTS"
	envOutboxRetryDelay            = "OFFERS_OUTBOX_RETRY_DELAY"
	envKafkaBrokers                = "OFFERS_KAFKA_BROKERS"
	envKafkaClientID               = "OFFERS_KAFKA_CLIENT_ID"
	envKafkaNotificationTopic      = "OFFERS_KAFKA_NOTIFICATION_TOPIC"
	envKafkaDLQTopic               = "OFFERS_KAFKA_DLQ_TOPIC"
	envRedisAddr                   = "OFFERS_REDIS_ADDR"
	envRedisPassword               = "OFFERS_REDIS_PASSWORD"
	envRedisDB                     = "OFFERS_REDIS_DB"
	envRedisChannelPrefix          = "OFFERS_REDIS_CHANNEL_PREFIX"
	envIdempotencyTTL              = "OFFERS_IDEMPOTENCY_TTL"
	envIdempotencyCleanupInterval  = "OFFERS_IDEMPOTENCY_CLEANUP_INTERVAL"
	envIdempotencyCleanupBatchSize = "OFFERS_IDEMPOTENCY_CLEANUP_BATCH_SIZE"
)

type envLookup func(key string) (string, bool)

// setupLogger настраивает формат и уровень логирования для сервиса.
func setupLogger(level string) error {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	if strings.TrimSpace(level) == "" {
		log.SetLevel(log.InfoLevel)
		return nil
	}
	parsed, err := log.ParseLevel(strings.TrimSpace(level))
	if err != nil {
		log.SetLevel(log.InfoLevel)
		return err
	}
	log.SetLevel(parsed)
	return nil
}

// readConfigFromEnv накладывает переменные окружения на настройки по умолчанию.
func readConfigFromEnv(lookup envLookup) (app.Config, []string) {
	return applyEnvOverrides(app.DefaultConfig(), lookup)
}

// applyEnvOverrides переопределяет поля cfg заданными переменными.
// Некорректные значения не применяются и возвращаются в виде предупреждений.
func applyEnvOverrides(cfg app.Config, lookup envLookup) (app.Config, []string) {
	var warnings []string
	warn := func(key, raw string, err error) {
		warnings = append(warnings, fmt.Sprintf("%s=%q ignored: %v", key, raw, err))
	}

	setString := func(key string, dst *string) {
		if raw, ok := lookup(key); ok && strings.TrimSpace(raw) != "" {
			*dst = strings.TrimSpace(raw)
		}
	}
	setBool := func(key string, dst *bool) {
		raw, ok := lookup(key)
		if !ok || strings.TrimSpace(raw) == "" {
			return
		}
		value, err := parseBool(raw)
		if err != nil {
			warn(key, raw, err)
			return
		}
		*dst = value
	}
	setInt := func(key string, dst *int, validate func(int) bool, msg string) {
		raw, ok := lookup(key)
		if !ok || strings.TrimSpace(raw) == "" {
			return
		}
		value, err := parseInt(raw, validate, msg)
		if err != nil {
			warn(key, raw, err)
			return
		}
		*dst = value
	}
	setDuration := func(key string, dst *time.Duration, validate func(time.Duration) bool, msg string) {
		raw, ok := lookup(key)
		if !ok || strings.TrimSpace(raw) == "" {
			return
		}
		value, err := parseDuration(raw, validate, msg)
		if err != nil {
			warn(key, raw, err)
			return
		}
		*dst = value
	}

	positive := func(v int) bool { return v > 0 }
	nonNegative := func(v int) bool { return v >= 0 }
	positiveDuration := func(v time.Duration) bool { return v > 0 }
	nonNegativeDuration := func(v time.Duration) bool { return v >= 0 }

	setString(envHTTPAddr, &cfg.HTTPAddr)
	setString(envGRPCAddr, &cfg.GRPCAddr)
	setString(envMetricsAddr, &cfg.MetricsAddr)
	setString(envLogLevel, &cfg.LogLevel)
	setString(envCORSAllowedOrigins, &cfg.CORSAllowedOrigins)

	setString(envStorageDriver, &cfg.StorageDriver)
	cfg.StorageDriver = strings.ToLower(cfg.StorageDriver)
	setString(envPostgresDSN, &cfg.PostgresDSN)
	setBool(envPostgresAutoMigrate, &cfg.PostgresAutoMigrate)
	setBool(envSeedDemoData, &cfg.SeedDemoData)

	setDuration(envOfferTTL, &cfg.OfferTTL, positiveDuration, "must be > 0")
	setDuration(envSweeperInterval, &cfg.SweeperInterval, positiveDuration, "must be > 0")
	setInt(envSweeperBatchSize, &cfg.SweeperBatchSize, positive, "must be > 0")

	setDuration(envOutboxPollInterval, &cfg.OutboxPollInterval, positiveDuration, "must be > 0")
	setInt(envOutboxBatchSize, &cfg.OutboxBatchSize, positive, "must be > 0")
	setInt(envOutboxMaxAttempts, &cfg.OutboxMaxAttempts, positive, "must be > 0")
	setDuration(envOutboxRetryDelay, &cfg.OutboxRetryDelay, nonNegativeDuration, "must be >= 0")

	setString(envKafkaBrokers, &cfg.KafkaBrokers)
	setString(envKafkaClientID, &cfg.KafkaClientID)
	setString(envKafkaNotificationTopic, &cfg.KafkaNotificationTopic)
	setString(envKafkaDLQTopic, &cfg.KafkaDLQTopic)

	setString(envRedisAddr, &cfg.RedisAddr)
	setString(envRedisPassword, &cfg.RedisPassword)
	setInt(envRedisDB, &cfg.RedisDB, nonNegative, "must be >= 0")
	setString(envRedisChannelPrefix, &cfg.RedisChannelPrefix)

	setDuration(envIdempotencyTTL, &cfg.IdempotencyTTL, positiveDuration, "must be > 0")
	setDuration(envIdempotencyCleanupInterval, &cfg.IdempotencyCleanupInterval, positiveDuration, "must be > 0")
	setInt(envIdempotencyCleanupBatchSize, &cfg.IdempotencyCleanupBatchSize, positive, "must be > 0")

	return cfg, warnings
}

func parseBool(raw string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "t", "true", "y", "yes", "on":
		return true, nil
	case "0", "f", "false", "n", "no", "off":
		return false, nil
	default:
		return false, fmt.Errorf("invalid bool value %q", raw)
	}
}

func parseInt(raw string, validate func(int) bool, msg string) (int, error) {
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, err
	}
	if validate != nil && !validate(value) {
		return 0, errors.New(msg)
	}
	return value, nil
}

func parseDuration(raw string, validate func(time.Duration) bool, msg string) (time.Duration, error) {
	value, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, err
	}
	if validate != nil && !validate(value) {
		return 0, errors.New(msg)
	}
	return value, nil
}

// loadConfig собирает настройки: значения по умолчанию, затем TOML-файл, затем окружение.
func loadConfig(lookup envLookup) (app.Config, []string, error) {
	cfg := app.DefaultConfig()
	if path, ok := lookup(envConfigFile); ok && strings.TrimSpace(path) != "" {
		loaded, err := app.LoadConfigFile(strings.TrimSpace(path), cfg)
		if err != nil {
			return cfg, nil, err
		}
		cfg = loaded
	}
	cfg, warnings := applyEnvOverrides(cfg, lookup)
	return cfg, warnings, nil
}

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.WithError(err).Warn("failed to load .env file")
	}

	cfg, warnings, err := loadConfig(os.LookupEnv)
	if err != nil {
		log.WithError(err).Fatal("failed to load configuration")
	}
	if err := setupLogger(cfg.LogLevel); err != nil {
		log.WithError(err).Warnf("unknown log level %q, using info", cfg.LogLevel)
	}
	for _, warning := range warnings {
		log.Warn(warning)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.WithFields(log.Fields{
		"version":        version.GetVersion(),
		"commit":         version.GetCommit(),
		"http_addr":      cfg.HTTPAddr,
		"grpc_addr":      cfg.GRPCAddr,
		"metrics_addr":   cfg.MetricsAddr,
		"storage_driver": cfg.StorageDriver,
	}).Info("starting offer service")

	if err := app.Run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Fatal("offer service exited with error")
	}

	log.Info("offer service stopped")
}
