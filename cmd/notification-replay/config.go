package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/marketplace-offers/internal/messaging/kafka"
)

const (
	envKafkaBrokers    = "OFFERS_KAFKA_BROKERS"
	defaultReplayLimit = 100
	defaultIdleTimeout = 2 * time.Second
)

// config задаёт параметры переотправки уведомлений из DLQ.
type config struct {
	brokers     []string
	sourceTopic string
	targetTopic string
	limit       int
	execute     bool
	fromNewest  bool
	idleTimeout time.Duration
	filter      notificationFilter
}

func (c config) mode() string {
	if c.execute {
		return "execute"
	}
	return "dry-run"
}

func (c config) validate() error {
	if len(c.brokers) == 0 {
		return fmt.Errorf("kafka brokers are required (-brokers or %s)", envKafkaBrokers)
	}
	if c.sourceTopic == "" {
		return errors.New("source-topic is required")
	}
	if c.targetTopic == "" {
		return errors.New("target-topic is required")
	}
	if c.sourceTopic == c.targetTopic {
		return errors.New("source-topic and target-topic must differ")
	}
	if c.limit <= 0 {
		return errors.New("limit must be > 0")
	}
	if c.idleTimeout <= 0 {
		return errors.New("idle-timeout must be > 0")
	}
	return nil
}

func readConfig(args []string, getenv func(string) string) (config, error) {
	cfg := config{}
	var brokers, recipient, eventType string

	fs := flag.NewFlagSet("notification-replay", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&brokers, "brokers", getenv(envKafkaBrokers), "comma-separated Kafka brokers")
	fs.StringVar(&cfg.sourceTopic, "source-topic", kafka.TopicNotificationsDLQ, "dead letter topic to read")
	fs.StringVar(&cfg.targetTopic, "target-topic", kafka.TopicNotifications, "topic to republish notifications to")
	fs.IntVar(&cfg.limit, "limit", defaultReplayLimit, "max number of dead letters to inspect")
	fs.BoolVar(&cfg.execute, "execute", false, "republish messages; without it the run is a dry-run")
	fs.BoolVar(&cfg.fromNewest, "from-newest", false, "start from the latest dead letters of each partition")
	fs.DurationVar(&cfg.idleTimeout, "idle-timeout", defaultIdleTimeout, "stop reading a partition after this idle period")
	fs.StringVar(&recipient, "recipient", "", "replay only notifications for this user id")
	fs.StringVar(&eventType, "event-type", "", "replay only notifications of this type, e.g. OFFER_ACCEPTED")
	if err := fs.Parse(args); err != nil {
		return config{}, err
	}

	cfg.brokers = splitBrokers(brokers)
	cfg.sourceTopic = strings.TrimSpace(cfg.sourceTopic)
	cfg.targetTopic = strings.TrimSpace(cfg.targetTopic)
	cfg.filter = notificationFilter{
		recipient: strings.TrimSpace(recipient),
		eventType: strings.ToUpper(strings.TrimSpace(eventType)),
	}

	if err := cfg.validate(); err != nil {
		return config{}, err
	}
	return cfg, nil
}

func splitBrokers(raw string) []string {
	return strings.FieldsFunc(raw, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t'
	})
}
