// Команда notification-replay переотправляет уведомления из DLQ в основной topic.
// По умолчанию работает в режиме dry-run и только выводит кандидатов.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"
)

type saramaConsumerAdapter struct {
	consumer sarama.Consumer
}

func (a saramaConsumerAdapter) ConsumePartition(topic string, partition int32, offset int64) (partitionConsumer, error) {
	return a.consumer.ConsumePartition(topic, partition, offset)
}

func (a saramaConsumerAdapter) Close() error {
	return a.consumer.Close()
}

type replayDependencies struct {
	offsets  offsetClient
	consumer partitionConsumerSource
	producer replayProducer
}

func (d replayDependencies) Close() {
	for _, c := range []interface{ Close() error }{d.producer, d.consumer, d.offsets} {
		if c != nil {
			_ = c.Close()
		}
	}
}

var connect = func(cfg config) (replayDependencies, error) {
	clientCfg := sarama.NewConfig()
	clientCfg.ClientID = "offer-notification-replay"
	clientCfg.Consumer.Return.Errors = true

	client, err := sarama.NewClient(cfg.brokers, clientCfg)
	if err != nil {
		return replayDependencies{}, fmt.Errorf("create kafka client: %w", err)
	}
	deps := replayDependencies{offsets: client}

	consumer, err := sarama.NewConsumerFromClient(client)
	if err != nil {
		deps.Close()
		return replayDependencies{}, fmt.Errorf("create kafka consumer: %w", err)
	}
	deps.consumer = saramaConsumerAdapter{consumer: consumer}
	if !cfg.execute {
		return deps, nil
	}

	producerCfg := sarama.NewConfig()
	producerCfg.ClientID = clientCfg.ClientID
	producerCfg.Producer.Idempotent = true
	producerCfg.Producer.RequiredAcks = sarama.WaitForAll
	producerCfg.Producer.Retry.Max = 5
	producerCfg.Producer.Return.Successes = true
	producerCfg.Net.MaxOpenRequests = 1

	producer, err := sarama.NewSyncProducer(cfg.brokers, producerCfg)
	if err != nil {
		deps.Close()
		return replayDependencies{}, fmt.Errorf("create kafka producer: %w", err)
	}
	deps.producer = producer
	return deps, nil
}

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	cfg, err := readConfig(os.Args[1:], os.Getenv)
	if err != nil {
		fail("%v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		fail("notification replay failed: %v", err)
	}
}

func run(ctx context.Context, cfg config) error {
	log.WithFields(log.Fields{
		"source_topic": cfg.sourceTopic,
		"target_topic": cfg.targetTopic,
		"limit":        cfg.limit,
		"mode":         cfg.mode(),
		"from_newest":  cfg.fromNewest,
		"recipient":    cfg.filter.recipient,
		"event_type":   cfg.filter.eventType,
	}).Info("starting notification replay")

	deps, err := connect(cfg)
	if err != nil {
		return err
	}
	defer deps.Close()

	r, err := newReplayer(cfg, deps.offsets, deps.consumer, deps.producer)
	if err != nil {
		return err
	}
	_, err = r.Run(ctx)
	return err
}

func fail(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
