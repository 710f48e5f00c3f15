package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/marketplace-offers/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/marketplace-offers/internal/service/outbox"
)

var replayedAt = time.Date(2026, 7, 4, 12, 30, 0, 0, time.UTC)

// deadLetter собирает сообщение DLQ в том виде, в каком его пишет outbox worker.
func deadLetter(t *testing.T, offset int64, id, recipient, eventType string) *sarama.ConsumerMessage {
	t.Helper()

	envelope, err := json.Marshal(outbox.DeadLetter{
		OutboxID:     id,
		RecipientID:  recipient,
		EventType:    eventType,
		Payload:      json.RawMessage(`{"offer_id":"offer-1"}`),
		Attempts:     5,
		PublishError: "kafka unavailable",
	})
	require.NoError(t, err)

	value, err := json.Marshal(kafka.NotificationEvent{
		ID:            id,
		AggregateType: "offer",
		RecipientID:   recipient,
		EventType:     eventType,
		Payload:       envelope,
		PublishedAt:   time.Date(2026, 7, 4, 12, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	return &sarama.ConsumerMessage{
		Offset:  offset,
		Value:   value,
		Headers: []*sarama.RecordHeader{{Key: []byte(kafka.HeaderDeadLetter), Value: []byte("true")}},
	}
}

func testConfig() config {
	return config{
		brokers:     []string{"kafka:9092"},
		sourceTopic: kafka.TopicNotificationsDLQ,
		targetTopic: kafka.TopicNotifications,
		limit:       10,
		idleTimeout: 20 * time.Millisecond,
	}
}

func testReplayer(t *testing.T, cfg config, offsets offsetClient, consumer partitionConsumerSource, producer replayProducer) *replayer {
	t.Helper()

	r, err := newReplayer(cfg, offsets, consumer, producer)
	require.NoError(t, err)
	r.now = func() time.Time { return replayedAt }
	return r
}

func TestRestoreNotification_UnwrapsDeadLetter(t *testing.T) {
	event, err := restoreNotification(deadLetter(t, 0, "n-1", "buyer-1", "OFFER_ACCEPTED"))
	require.NoError(t, err)

	assert.Equal(t, "n-1", event.ID)
	assert.Equal(t, "buyer-1", event.RecipientID)
	assert.JSONEq(t, `{"offer_id":"offer-1"}`, string(event.Payload))
}

func TestRestoreNotification_PlainEventWithHeaderRecipient(t *testing.T) {
	msg := &sarama.ConsumerMessage{
		Value:   []byte(`{"id":"n-2","event_type":"OFFER_EXPIRED","payload":{"offer_id":"offer-2"}}`),
		Headers: []*sarama.RecordHeader{{Key: []byte(kafka.HeaderRecipientID), Value: []byte("seller-1")}},
	}

	event, err := restoreNotification(msg)
	require.NoError(t, err)
	assert.Equal(t, "seller-1", event.RecipientID)
	assert.JSONEq(t, `{"offer_id":"offer-2"}`, string(event.Payload))
}

func TestRestoreNotification_Rejects(t *testing.T) {
	tests := map[string]struct {
		msg     *sarama.ConsumerMessage
		wantErr string
	}{
		"not json":     {msg: &sarama.ConsumerMessage{Value: []byte(`not-json`)}, wantErr: "decode notification event"},
		"foreign":      {msg: &sarama.ConsumerMessage{Value: []byte(`{"foo":"bar"}`)}, wantErr: errNotNotification.Error()},
		"no recipient": {msg: &sarama.ConsumerMessage{Value: []byte(`{"id":"n-3","event_type":"OFFER_EXPIRED","payload":{}}`)}, wantErr: "has no recipient"},
		"no payload":   {msg: &sarama.ConsumerMessage{Value: []byte(`{"id":"n-4","event_type":"OFFER_EXPIRED","recipient_id":"buyer-1"}`)}, wantErr: "empty payload"},
		"broken envelope": {
			msg: &sarama.ConsumerMessage{
				Value:   []byte(`{"id":"n-5","event_type":"OFFER_EXPIRED","recipient_id":"buyer-1","payload":"text"}`),
				Headers: []*sarama.RecordHeader{{Key: []byte(kafka.HeaderDeadLetter), Value: []byte("true")}},
			},
			wantErr: "decode dead letter",
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := restoreNotification(tt.msg)
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestNotificationFilter(t *testing.T) {
	event := kafka.NotificationEvent{RecipientID: "buyer-1", EventType: "OFFER_ACCEPTED"}

	assert.True(t, notificationFilter{}.match(event))
	assert.True(t, notificationFilter{recipient: "buyer-1", eventType: "OFFER_ACCEPTED"}.match(event))
	assert.False(t, notificationFilter{recipient: "buyer-2"}.match(event))
	assert.False(t, notificationFilter{eventType: "OFFER_REJECTED"}.match(event))
}

func TestNewReplayer_RequiresDependencies(t *testing.T) {
	_, err := newReplayer(testConfig(), nil, nil, nil)
	assert.Error(t, err)

	cfg := testConfig()
	cfg.execute = true
	_, err = newReplayer(cfg, &stubOffsetClient{}, &stubConsumerSource{}, nil)
	assert.ErrorContains(t, err, "producer is required")
}

func TestReplayer_DryRunSkipsForeignMessages(t *testing.T) {
	offsets := &stubOffsetClient{partitions: []int32{0}, offsets: map[int32]offsetRange{0: {oldest: 0, newest: 2}}}
	consumer := &stubConsumerSource{partitions: map[int32]partitionConsumer{
		0: drainedPartition(
			deadLetter(t, 0, "n-1", "buyer-1", "OFFER_ACCEPTED"),
			&sarama.ConsumerMessage{Offset: 1, Value: []byte(`{"foo":"bar"}`)},
		),
	}}

	stats, err := testReplayer(t, testConfig(), offsets, consumer, nil).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, replayStats{processed: 2, replayed: 1, skipped: 1}, stats)
	assert.Equal(t, []consumeCall{{partition: 0, offset: 0}}, consumer.calls)
}

func TestReplayer_ExecuteRepublishesOriginalPayload(t *testing.T) {
	offsets := &stubOffsetClient{partitions: []int32{0}, offsets: map[int32]offsetRange{0: {oldest: 0, newest: 1}}}
	consumer := &stubConsumerSource{partitions: map[int32]partitionConsumer{
		0: drainedPartition(deadLetter(t, 0, "n-1", "buyer-1", "OFFER_ACCEPTED")),
	}}

	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		if msg.Topic != kafka.TopicNotifications {
			return fmt.Errorf("unexpected topic %s", msg.Topic)
		}
		key, _ := msg.Key.Encode()
		if string(key) != "buyer-1" {
			return fmt.Errorf("unexpected key %s", key)
		}
		raw, _ := msg.Value.Encode()
		var event kafka.NotificationEvent
		if err := json.Unmarshal(raw, &event); err != nil {
			return err
		}
		if string(event.Payload) != `{"offer_id":"offer-1"}` {
			return fmt.Errorf("payload was not unwrapped: %s", event.Payload)
		}
		if !event.PublishedAt.Equal(replayedAt) {
			return fmt.Errorf("unexpected published_at %s", event.PublishedAt)
		}
		return nil
	})

	cfg := testConfig()
	cfg.execute = true

	stats, err := testReplayer(t, cfg, offsets, consumer, producer).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.replayed)
	require.NoError(t, producer.Close())
}

func TestReplayer_RebuildHeaders(t *testing.T) {
	r := testReplayer(t, testConfig(), &stubOffsetClient{}, &stubConsumerSource{}, nil)

	msg, err := r.rebuild(kafka.NotificationEvent{ID: "n-1", RecipientID: "buyer-1", EventType: "OFFER_ACCEPTED", Payload: json.RawMessage(`{}`)})
	require.NoError(t, err)

	headers := map[string]string{}
	for _, h := range msg.Headers {
		headers[string(h.Key)] = string(h.Value)
	}
	assert.Equal(t, map[string]string{
		kafka.HeaderEventType:   "OFFER_ACCEPTED",
		kafka.HeaderOutboxID:    "n-1",
		kafka.HeaderRecipientID: "buyer-1",
		kafka.HeaderReplayed:    "true",
	}, headers)
	assert.Equal(t, replayedAt, msg.Timestamp)
}

func TestReplayer_FilterCountsAsSkipped(t *testing.T) {
	offsets := &stubOffsetClient{partitions: []int32{0}, offsets: map[int32]offsetRange{0: {oldest: 0, newest: 2}}}
	consumer := &stubConsumerSource{partitions: map[int32]partitionConsumer{
		0: drainedPartition(
			deadLetter(t, 0, "n-1", "buyer-1", "OFFER_ACCEPTED"),
			deadLetter(t, 1, "n-2", "buyer-2", "OFFER_ACCEPTED"),
		),
	}}

	cfg := testConfig()
	cfg.filter = notificationFilter{recipient: "buyer-2"}

	stats, err := testReplayer(t, cfg, offsets, consumer, nil).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, replayStats{processed: 2, replayed: 1, skipped: 1}, stats)
}

func TestReplayer_FromNewestStartsNearEnd(t *testing.T) {
	offsets := &stubOffsetClient{partitions: []int32{0}, offsets: map[int32]offsetRange{0: {oldest: 3, newest: 10}}}
	consumer := &stubConsumerSource{partitions: map[int32]partitionConsumer{0: drainedPartition()}}

	cfg := testConfig()
	cfg.fromNewest = true
	cfg.limit = 2

	_, err := testReplayer(t, cfg, offsets, consumer, nil).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(8), consumer.calls[0].offset)
}

func TestReplayer_LimitSpansPartitionsInOrder(t *testing.T) {
	offsets := &stubOffsetClient{
		partitions: []int32{2, 0},
		offsets: map[int32]offsetRange{
			0: {oldest: 0, newest: 1},
			2: {oldest: 0, newest: 1},
		},
	}
	consumer := &stubConsumerSource{partitions: map[int32]partitionConsumer{
		0: drainedPartition(deadLetter(t, 0, "n-1", "buyer-1", "OFFER_ACCEPTED")),
		2: drainedPartition(deadLetter(t, 0, "n-2", "buyer-2", "OFFER_REJECTED")),
	}}

	cfg := testConfig()
	cfg.limit = 1

	stats, err := testReplayer(t, cfg, offsets, consumer, nil).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.processed)
	assert.Equal(t, []consumeCall{{partition: 0, offset: 0}}, consumer.calls)
}

func TestReplayer_EmptyPartitionsAreSkipped(t *testing.T) {
	offsets := &stubOffsetClient{partitions: []int32{0}, offsets: map[int32]offsetRange{0: {oldest: 5, newest: 5}}}
	consumer := &stubConsumerSource{}

	stats, err := testReplayer(t, testConfig(), offsets, consumer, nil).Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.processed)
	assert.Empty(t, consumer.calls)

	stats, err = testReplayer(t, testConfig(), &stubOffsetClient{}, consumer, nil).Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats)
}

func TestReplayer_Errors(t *testing.T) {
	ranged := map[int32]offsetRange{0: {oldest: 0, newest: 2}}

	t.Run("partitions", func(t *testing.T) {
		offsets := &stubOffsetClient{partitionsErr: errors.New("metadata")}
		_, err := testReplayer(t, testConfig(), offsets, &stubConsumerSource{}, nil).Run(context.Background())
		assert.ErrorContains(t, err, "list partitions")
	})

	t.Run("offsets", func(t *testing.T) {
		offsets := &stubOffsetClient{partitions: []int32{0}, offsetErr: errors.New("offset")}
		_, err := testReplayer(t, testConfig(), offsets, &stubConsumerSource{}, nil).Run(context.Background())
		assert.ErrorContains(t, err, "oldest offset of partition 0")
	})

	t.Run("consume", func(t *testing.T) {
		offsets := &stubOffsetClient{partitions: []int32{0}, offsets: ranged}
		consumer := &stubConsumerSource{consumeErr: errors.New("consume")}
		_, err := testReplayer(t, testConfig(), offsets, consumer, nil).Run(context.Background())
		assert.ErrorContains(t, err, "consume partition 0")
	})

	t.Run("consumer error", func(t *testing.T) {
		pc := newIdlePartition()
		pc.errors = make(chan *sarama.ConsumerError, 1)
		pc.errors <- &sarama.ConsumerError{Err: errors.New("boom")}

		offsets := &stubOffsetClient{partitions: []int32{0}, offsets: ranged}
		consumer := &stubConsumerSource{partitions: map[int32]partitionConsumer{0: pc}}
		_, err := testReplayer(t, testConfig(), offsets, consumer, nil).Run(context.Background())
		assert.ErrorContains(t, err, "partition 0 consumer error")
	})

	t.Run("publish", func(t *testing.T) {
		offsets := &stubOffsetClient{partitions: []int32{0}, offsets: ranged}
		consumer := &stubConsumerSource{partitions: map[int32]partitionConsumer{
			0: drainedPartition(deadLetter(t, 0, "n-1", "buyer-1", "OFFER_ACCEPTED")),
		}}
		producer := mocks.NewSyncProducer(t, nil)
		producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

		cfg := testConfig()
		cfg.execute = true
		stats, err := testReplayer(t, cfg, offsets, consumer, producer).Run(context.Background())
		assert.ErrorIs(t, err, sarama.ErrOutOfBrokers)
		assert.Equal(t, 1, stats.processed)
		require.NoError(t, producer.Close())
	})
}

func TestReplayer_IdleAndCancel(t *testing.T) {
	offsets := &stubOffsetClient{partitions: []int32{0}, offsets: map[int32]offsetRange{0: {oldest: 0, newest: 2}}}

	idle := newIdlePartition()
	consumer := &stubConsumerSource{partitions: map[int32]partitionConsumer{0: idle}}
	stats, err := testReplayer(t, testConfig(), offsets, consumer, nil).Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.processed)
	assert.True(t, idle.closed)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	cfg := testConfig()
	cfg.idleTimeout = time.Minute
	consumer = &stubConsumerSource{partitions: map[int32]partitionConsumer{0: newIdlePartition()}}
	_, err = testReplayer(t, cfg, offsets, consumer, nil).Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

type offsetRange struct {
	oldest int64
	newest int64
}

type stubOffsetClient struct {
	partitions    []int32
	partitionsErr error
	offsets       map[int32]offsetRange
	offsetErr     error
	closed        bool
}

func (s *stubOffsetClient) GetOffset(_ string, partition int32, marker int64) (int64, error) {
	if s.offsetErr != nil {
		return 0, s.offsetErr
	}
	r := s.offsets[partition]
	if marker == sarama.OffsetOldest {
		return r.oldest, nil
	}
	return r.newest, nil
}

func (s *stubOffsetClient) Partitions(string) ([]int32, error) {
	return append([]int32(nil), s.partitions...), s.partitionsErr
}

func (s *stubOffsetClient) Close() error {
	s.closed = true
	return nil
}

type consumeCall struct {
	partition int32
	offset    int64
}

type stubConsumerSource struct {
	partitions map[int32]partitionConsumer
	consumeErr error
	calls      []consumeCall
	closed     bool
}

func (s *stubConsumerSource) ConsumePartition(_ string, partition int32, offset int64) (partitionConsumer, error) {
	s.calls = append(s.calls, consumeCall{partition: partition, offset: offset})
	if s.consumeErr != nil {
		return nil, s.consumeErr
	}
	pc, ok := s.partitions[partition]
	if !ok {
		return nil, fmt.Errorf("partition %d not configured", partition)
	}
	return pc, nil
}

func (s *stubConsumerSource) Close() error {
	s.closed = true
	return nil
}

type stubPartition struct {
	messages chan *sarama.ConsumerMessage
	errors   chan *sarama.ConsumerError
	closed   bool
}

func (s *stubPartition) Messages() <-chan *sarama.ConsumerMessage { return s.messages }
func (s *stubPartition) Errors() <-chan *sarama.ConsumerError     { return s.errors }
func (s *stubPartition) Close() error {
	s.closed = true
	return nil
}

// drainedPartition отдаёт сообщения и закрывает каналы.
func drainedPartition(messages ...*sarama.ConsumerMessage) *stubPartition {
	pc := &stubPartition{
		messages: make(chan *sarama.ConsumerMessage, len(messages)),
		errors:   make(chan *sarama.ConsumerError),
	}
	for _, msg := range messages {
		pc.messages <- msg
	}
	close(pc.messages)
	close(pc.errors)
	return pc
}

func newIdlePartition() *stubPartition {
	return &stubPartition{
		messages: make(chan *sarama.ConsumerMessage),
		errors:   make(chan *sarama.ConsumerError),
	}
}
