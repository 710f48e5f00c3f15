package main

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"testing"

	"github.com/IBM/sarama"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubProducer struct {
	sent   []*sarama.ProducerMessage
	closed bool
}

func (s *stubProducer) SendMessage(msg *sarama.ProducerMessage) (int32, int64, error) {
	s.sent = append(s.sent, msg)
	return 0, int64(len(s.sent)), nil
}

func (s *stubProducer) Close() error {
	s.closed = true
	return nil
}

func stubConnect(t *testing.T, deps replayDependencies, err error) {
	t.Helper()

	original := connect
	connect = func(config) (replayDependencies, error) { return deps, err }
	t.Cleanup(func() { connect = original })
}

func TestRun_ConnectFailure(t *testing.T) {
	stubConnect(t, replayDependencies{}, errors.New("brokers unreachable"))

	assert.ErrorContains(t, run(context.Background(), testConfig()), "brokers unreachable")
}

func TestRun_ReplaysAndClosesDependencies(t *testing.T) {
	offsets := &stubOffsetClient{partitions: []int32{0}, offsets: map[int32]offsetRange{0: {oldest: 0, newest: 1}}}
	consumer := &stubConsumerSource{partitions: map[int32]partitionConsumer{
		0: drainedPartition(deadLetter(t, 0, "n-1", "buyer-1", "OFFER_ACCEPTED")),
	}}
	producer := &stubProducer{}
	stubConnect(t, replayDependencies{offsets: offsets, consumer: consumer, producer: producer}, nil)

	cfg := testConfig()
	cfg.execute = true
	require.NoError(t, run(context.Background(), cfg))

	assert.Len(t, producer.sent, 1)
	assert.True(t, offsets.closed)
	assert.True(t, consumer.closed)
	assert.True(t, producer.closed)
}

func TestRun_ExecuteWithoutProducer(t *testing.T) {
	offsets := &stubOffsetClient{}
	stubConnect(t, replayDependencies{offsets: offsets, consumer: &stubConsumerSource{}}, nil)

	cfg := testConfig()
	cfg.execute = true
	assert.ErrorContains(t, run(context.Background(), cfg), "producer is required")
	assert.True(t, offsets.closed)
}

func TestFailExits(t *testing.T) {
	if os.Getenv("REPLAY_TEST_FAIL_EXIT") == "1" {
		fail("boom")
		return
	}

	cmd := exec.Command(os.Args[0], "-test.run=TestFailExits")
	cmd.Env = append(os.Environ(), "REPLAY_TEST_FAIL_EXIT=1")
	err := cmd.Run()

	var exitErr *exec.ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, 1, exitErr.ExitCode())
}
