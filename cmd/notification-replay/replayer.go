package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/marketplace-offers/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/marketplace-offers/internal/service/outbox"
)

var errNotNotification = errors.New("message is not a notification event")

type offsetClient interface {
	GetOffset(topic string, partition int32, time int64) (int64, error)
	Partitions(topic string) ([]int32, error)
	Close() error
}

type partitionConsumer interface {
	Messages() <-chan *sarama.ConsumerMessage
	Errors() <-chan *sarama.ConsumerError
	Close() error
}

type partitionConsumerSource interface {
	ConsumePartition(topic string, partition int32, offset int64) (partitionConsumer, error)
	Close() error
}

type replayProducer interface {
	SendMessage(msg *sarama.ProducerMessage) (partition int32, offset int64, err error)
	Close() error
}

// notificationFilter сужает выборку; пустое поле пропускает всё.
type notificationFilter struct {
	recipient string
	eventType string
}

func (f notificationFilter) match(event kafka.NotificationEvent) bool {
	if f.recipient != "" && event.RecipientID != f.recipient {
		return false
	}
	return f.eventType == "" || event.EventType == f.eventType
}

type replayStats struct {
	processed int
	replayed  int
	skipped   int
}

func (s *replayStats) merge(other replayStats) {
	s.processed += other.processed
	s.replayed += other.replayed
	s.skipped += other.skipped
}

// replayer читает DLQ уведомлений и возвращает исходные события в основной topic.
type replayer struct {
	cfg      config
	offsets  offsetClient
	consumer partitionConsumerSource
	producer replayProducer
	now      func() time.Time
}

func newReplayer(cfg config, offsets offsetClient, consumer partitionConsumerSource, producer replayProducer) (*replayer, error) {
	if offsets == nil || consumer == nil {
		return nil, errors.New("kafka client and consumer are required")
	}
	if cfg.execute && producer == nil {
		return nil, errors.New("producer is required in execute mode")
	}
	return &replayer{
		cfg:      cfg,
		offsets:  offsets,
		consumer: consumer,
		producer: producer,
		now:      func() time.Time { return time.Now().UTC() },
	}, nil
}

// Run обходит партиции по возрастанию номера, пока не исчерпан лимит.
func (r *replayer) Run(ctx context.Context) (replayStats, error) {
	var total replayStats

	partitions, err := r.offsets.Partitions(r.cfg.sourceTopic)
	if err != nil {
		return total, fmt.Errorf("list partitions of %s: %w", r.cfg.sourceTopic, err)
	}
	if len(partitions) == 0 {
		log.WithField("topic", r.cfg.sourceTopic).Warn("dead letter topic has no partitions")
		return total, nil
	}
	slices.Sort(partitions)

	for _, partition := range partitions {
		budget := r.cfg.limit - total.processed
		if budget <= 0 {
			break
		}
		stats, err := r.replayPartition(ctx, partition, budget)
		total.merge(stats)
		if err != nil {
			return total, err
		}
	}

	log.WithFields(log.Fields{
		"mode":      r.cfg.mode(),
		"processed": total.processed,
		"replayed":  total.replayed,
		"skipped":   total.skipped,
	}).Info("notification replay finished")
	return total, nil
}

// window возвращает диапазон смещений [start, end) для чтения партиции.
func (r *replayer) window(partition int32, budget int) (start, end int64, err error) {
	oldest, err := r.offsets.GetOffset(r.cfg.sourceTopic, partition, sarama.OffsetOldest)
	if err != nil {
		return 0, 0, fmt.Errorf("oldest offset of partition %d: %w", partition, err)
	}
	end, err = r.offsets.GetOffset(r.cfg.sourceTopic, partition, sarama.OffsetNewest)
	if err != nil {
		return 0, 0, fmt.Errorf("newest offset of partition %d: %w", partition, err)
	}

	start = oldest
	if r.cfg.fromNewest {
		start = max(end-int64(budget), oldest)
	}
	return start, end, nil
}

func (r *replayer) replayPartition(ctx context.Context, partition int32, budget int) (replayStats, error) {
	var stats replayStats

	start, end, err := r.window(partition, budget)
	if err != nil || start >= end {
		return stats, err
	}

	pc, err := r.consumer.ConsumePartition(r.cfg.sourceTopic, partition, start)
	if err != nil {
		return stats, fmt.Errorf("consume partition %d: %w", partition, err)
	}
	defer func() { _ = pc.Close() }()

	idle := time.NewTimer(r.cfg.idleTimeout)
	defer idle.Stop()

	for stats.processed < budget {
		select {
		case <-ctx.Done():
			return stats, ctx.Err()
		case <-idle.C:
			return stats, nil
		case cerr := <-pc.Errors():
			if cerr != nil {
				return stats, fmt.Errorf("partition %d consumer error: %w", partition, cerr)
			}
		case msg, ok := <-pc.Messages():
			if !ok || msg == nil || msg.Offset >= end {
				return stats, nil
			}
			idle.Reset(r.cfg.idleTimeout)
			stats.processed++

			replayed, err := r.handle(msg)
			if err != nil {
				return stats, err
			}
			if replayed {
				stats.replayed++
			} else {
				stats.skipped++
			}

			if msg.Offset+1 >= end {
				return stats, nil
			}
		}
	}
	return stats, nil
}

// handle возвращает ошибку только при сбое публикации; непригодные сообщения пропускаются.
func (r *replayer) handle(msg *sarama.ConsumerMessage) (bool, error) {
	logger := log.WithFields(log.Fields{"partition": msg.Partition, "offset": msg.Offset})

	event, err := restoreNotification(msg)
	if err != nil {
		logger.WithError(err).Warn("skip dead letter")
		return false, nil
	}
	if !r.cfg.filter.match(event) {
		return false, nil
	}

	out, err := r.rebuild(event)
	if err != nil {
		logger.WithError(err).Warn("skip dead letter")
		return false, nil
	}

	if !r.cfg.execute {
		logger.WithFields(log.Fields{
			"notification_id": event.ID,
			"recipient":       event.RecipientID,
			"event_type":      event.EventType,
		}).Info("notification replay candidate")
		return true, nil
	}

	if _, _, err := r.producer.SendMessage(out); err != nil {
		return false, fmt.Errorf("republish notification %s: %w", event.ID, err)
	}
	logger.WithField("notification_id", event.ID).Info("notification replayed")
	return true, nil
}

func (r *replayer) rebuild(event kafka.NotificationEvent) (*sarama.ProducerMessage, error) {
	event.PublishedAt = r.now()
	value, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("encode notification %s: %w", event.ID, err)
	}

	return &sarama.ProducerMessage{
		Topic: r.cfg.targetTopic,
		Key:   sarama.StringEncoder(event.RecipientID),
		Value: sarama.ByteEncoder(value),
		Headers: []sarama.RecordHeader{
			{Key: []byte(kafka.HeaderEventType), Value: []byte(event.EventType)},
			{Key: []byte(kafka.HeaderOutboxID), Value: []byte(event.ID)},
			{Key: []byte(kafka.HeaderRecipientID), Value: []byte(event.RecipientID)},
			{Key: []byte(kafka.HeaderReplayed), Value: []byte("true")},
		},
		Timestamp: event.PublishedAt,
	}, nil
}

// restoreNotification достаёт исходное уведомление из сообщения DLQ.
// Payload сообщения с заголовком x-dead-letter содержит outbox.DeadLetter.
func restoreNotification(msg *sarama.ConsumerMessage) (kafka.NotificationEvent, error) {
	var event kafka.NotificationEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		return kafka.NotificationEvent{}, fmt.Errorf("decode notification event: %w", err)
	}
	if event.ID == "" || event.EventType == "" {
		return kafka.NotificationEvent{}, errNotNotification
	}

	if header(msg, kafka.HeaderDeadLetter) == "true" {
		var dead outbox.DeadLetter
		if err := json.Unmarshal(event.Payload, &dead); err != nil {
			return kafka.NotificationEvent{}, fmt.Errorf("decode dead letter %s: %w", event.ID, err)
		}
		event.Payload = dead.Payload
		if event.RecipientID == "" {
			event.RecipientID = dead.RecipientID
		}
	}

	if event.RecipientID == "" {
		event.RecipientID = header(msg, kafka.HeaderRecipientID)
	}
	if event.RecipientID == "" {
		return kafka.NotificationEvent{}, fmt.Errorf("notification %s has no recipient", event.ID)
	}
	if len(event.Payload) == 0 {
		return kafka.NotificationEvent{}, fmt.Errorf("notification %s has empty payload", event.ID)
	}
	return event, nil
}

func header(msg *sarama.ConsumerMessage, name string) string {
	for _, h := range msg.Headers {
		if h != nil && string(h.Key) == name {
			return string(h.Value)
		}
	}
	return ""
}
