package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdempotencyStatus_ValidAndTerminal(t *testing.T) {
	assert.True(t, IdempotencyStatusProcessing.Valid())
	assert.False(t, IdempotencyStatusProcessing.Terminal())

	for _, status := range []IdempotencyStatus{IdempotencyStatusDone, IdempotencyStatusFailed} {
		assert.True(t, status.Valid(), status)
		assert.True(t, status.Terminal(), status)
	}

	assert.False(t, IdempotencyStatus("broken").Valid())
	assert.False(t, IdempotencyStatus("").Terminal())
}

func TestNewIdempotencyRecord(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	record, err := NewIdempotencyRecord("  buyer-1:key-1 ", " hash ", time.Time{}, now)
	require.NoError(t, err)
	assert.Equal(t, "buyer-1:key-1", record.Key)
	assert.Equal(t, "hash", record.RequestHash)
	assert.Equal(t, IdempotencyStatusProcessing, record.Status)
	assert.Equal(t, now.Add(DefaultIdempotencyTTL), record.TTLAt)
	assert.Equal(t, now, record.CreatedAt)
	assert.False(t, record.Completed())

	explicit := now.Add(time.Minute)
	record, err = NewIdempotencyRecord("k", "h", explicit, now)
	require.NoError(t, err)
	assert.Equal(t, explicit, record.TTLAt)

	_, err = NewIdempotencyRecord(" ", "h", explicit, now)
	assert.ErrorIs(t, err, ErrIdempotencyKeyRequired)
	_, err = NewIdempotencyRecord("k", "", explicit, now)
	assert.ErrorIs(t, err, ErrIdempotencyRequestHashRequired)
}

func TestIdempotencyRecord_Expired(t *testing.T) {
	ttl := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	record := IdempotencyRecord{TTLAt: ttl}

	assert.False(t, record.Expired(ttl.Add(-time.Nanosecond)))
	assert.True(t, record.Expired(ttl))
	assert.True(t, record.Expired(ttl.Add(time.Hour)))
}

func TestIdempotencyRecord_ConflictWith(t *testing.T) {
	record := IdempotencyRecord{Key: "k", RequestHash: "hash-a"}

	assert.ErrorIs(t, record.ConflictWith("hash-a"), ErrIdempotencyKeyAlreadyExists)
	assert.ErrorIs(t, record.ConflictWith(" hash-a "), ErrIdempotencyKeyAlreadyExists)
	assert.ErrorIs(t, record.ConflictWith("hash-b"), ErrIdempotencyHashMismatch)
}

func TestIdempotencyRecord_Complete(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	record := IdempotencyRecord{Key: "k", Status: IdempotencyStatusProcessing}
	body := []byte(`{"id":"offer-1"}`)

	require.NoError(t, record.Complete(IdempotencyStatusDone, body, 201, at))
	body[0] = 'X'

	assert.True(t, record.Completed())
	assert.Equal(t, `{"id":"offer-1"}`, string(record.ResponseBody))
	assert.Equal(t, 201, record.HTTPStatus)
	assert.Equal(t, at, record.UpdatedAt)

	err := record.Complete(IdempotencyStatusProcessing, nil, 0, at)
	assert.ErrorIs(t, err, ErrIdempotencyStatusInvalid)
	assert.Equal(t, IdempotencyStatusDone, record.Status)
}
