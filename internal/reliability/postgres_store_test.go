//go:build integration

package reliability

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Run with: PIPELINE_TEST_POSTGRES_DSN=postgres://... go test -tags integration ./internal/reliability
func TestPostgresStore(t *testing.T) {
	dsn := os.Getenv("PIPELINE_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("PIPELINE_TEST_POSTGRES_DSN not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	require.NoError(t, Migrate(ctx, dsn))
	require.NoError(t, Migrate(ctx, dsn))

	store, err := NewPostgresStore(ctx, dsn)
	require.NoError(t, err)
	defer store.Close()
	require.NoError(t, store.Ping(ctx))

	before, err := store.Count(ctx)
	require.NoError(t, err)

	id := uuid.NewString()
	msg := &ParkedMessage{
		ID:            id,
		SourceQueue:   "shipping_service_queue",
		MessageID:     "msg-1",
		CorrelationID: "corr-1",
		RoutingKey:    "payment.processed.successful",
		RetryCount:    3,
		LastError:     "carrier unavailable",
		Body:          `{"orderId":"ORD-1"}`,
		ParkedAt:      time.Now().UTC().Truncate(time.Microsecond),
	}

	t.Run("save and get", func(t *testing.T) {
		require.NoError(t, store.Save(ctx, msg))
		require.NoError(t, store.Save(ctx, msg))

		got, err := store.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, msg.CorrelationID, got.CorrelationID)
		assert.Equal(t, 3, got.RetryCount)
		assert.True(t, msg.ParkedAt.Equal(got.ParkedAt))

		after, err := store.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, before+1, after)
	})

	t.Run("list is newest first", func(t *testing.T) {
		records, err := store.List(ctx, 1)
		require.NoError(t, err)
		require.Len(t, records, 1)
		assert.False(t, records[0].ParkedAt.Before(msg.ParkedAt))
	})

	t.Run("unknown id", func(t *testing.T) {
		_, err := store.Get(ctx, uuid.NewString())
		assert.ErrorIs(t, err, ErrParkedMessageNotFound)
	})
}
