package kafka

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"
)

const defaultClientID = "offer-service"

var errNoBrokers = errors.New("kafka brokers are required")

// ProducerConfig задаёт параметры подключения.
type ProducerConfig struct {
	Brokers  []string
	ClientID string
}

// saramaConfig собирает идемпотентный producer: acks=all и одна in-flight заявка на брокер.
func (c ProducerConfig) saramaConfig() *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.ClientID = defaultClientID
	if c.ClientID != "" {
		cfg.ClientID = c.ClientID
	}
	cfg.Producer.Idempotent = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 5
	cfg.Producer.Retry.Backoff = 200 * time.Millisecond
	cfg.Producer.Return.Successes = true
	cfg.Producer.Compression = sarama.CompressionSnappy
	cfg.Producer.Partitioner = sarama.NewHashPartitioner
	cfg.Net.MaxOpenRequests = 1
	return cfg
}

// Producer отправляет JSON-события в Kafka синхронно.
type Producer struct {
	sync   sarama.SyncProducer
	logger *log.Entry
	clock  func() time.Time
}

func NewProducer(cfg ProducerConfig) (*Producer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errNoBrokers
	}
	sync, err := sarama.NewSyncProducer(cfg.Brokers, cfg.saramaConfig())
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}
	return newProducer(sync), nil
}

func newProducer(sync sarama.SyncProducer) *Producer {
	return &Producer{
		sync:   sync,
		logger: log.WithField("component", "kafka-producer"),
		clock:  func() time.Time { return time.Now().UTC() },
	}
}

// PublishEvent кодирует event в JSON и пишет его в topic. Сообщения с одним key
// попадают в одну партицию.
func (p *Producer) PublishEvent(topic, key string, event any, headers map[string]string) error {
	msg, err := p.message(topic, key, event, headers)
	if err != nil {
		return err
	}

	entry := p.logger.WithFields(log.Fields{"topic": topic, "key": key})
	partition, offset, err := p.sync.SendMessage(msg)
	if err != nil {
		entry.WithError(err).Error("kafka send failed")
		return fmt.Errorf("send to %s: %w", topic, err)
	}
	entry.WithFields(log.Fields{"partition": partition, "offset": offset}).Debug("kafka message sent")
	return nil
}

func (p *Producer) message(topic, key string, event any, headers map[string]string) (*sarama.ProducerMessage, error) {
	body, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("encode kafka event: %w", err)
	}

	names := make([]string, 0, len(headers))
	for name := range headers {
		names = append(names, name)
	}
	sort.Strings(names)

	recordHeaders := make([]sarama.RecordHeader, 0, len(names))
	for _, name := range names {
		recordHeaders = append(recordHeaders, sarama.RecordHeader{Key: []byte(name), Value: []byte(headers[name])})
	}

	return &sarama.ProducerMessage{
		Topic:     topic,
		Key:       sarama.StringEncoder(key),
		Value:     sarama.ByteEncoder(body),
		Headers:   recordHeaders,
		Timestamp: p.clock(),
	}, nil
}

func (p *Producer) Close() error {
	if err := p.sync.Close(); err != nil {
		return fmt.Errorf("close kafka producer: %w", err)
	}
	return nil
}
