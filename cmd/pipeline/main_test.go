package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashu3814/rabbitMQ-2/internal/reliability"
)

func TestRootCommand(t *testing.T) {
	t.Run("command tree", func(t *testing.T) {
		root := newRootCommand()
		for _, path := range [][]string{
			{"serve"},
			{"topology", "declare"},
			{"dlq", "depth"},
			{"dlq", "list"},
			{"queues", "watch"},
			{"version"},
		} {
			cmd, _, err := root.Find(path)
			require.NoError(t, err, path)
			assert.Equal(t, path[len(path)-1], cmd.Name())
		}
	})

	t.Run("version", func(t *testing.T) {
		root := newRootCommand()
		var out bytes.Buffer
		root.SetOut(&out)
		root.SetArgs([]string{"version"})

		require.NoError(t, root.Execute())
		assert.Contains(t, out.String(), "pipeline dev")
	})

	t.Run("dlq list needs postgres", func(t *testing.T) {
		t.Setenv("PIPELINE_POSTGRES_DSN", "")
		root := newRootCommand()
		root.SetOut(&bytes.Buffer{})
		root.SetErr(&bytes.Buffer{})
		root.SetArgs([]string{"dlq", "list"})

		assert.ErrorIs(t, root.Execute(), errNoStore)
	})

	t.Run("invalid config is rejected before running", func(t *testing.T) {
		t.Setenv("PIPELINE_CONSUMER_PREFETCH", "0")
		root := newRootCommand()
		root.SetOut(&bytes.Buffer{})
		root.SetErr(&bytes.Buffer{})
		root.SetArgs([]string{"dlq", "list"})

		err := root.Execute()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "consumer.prefetch")
	})
}

func TestPrintParked(t *testing.T) {
	var out bytes.Buffer
	printParked(&out, nil)
	assert.Equal(t, "No parked messages\n", out.String())

	out.Reset()
	printParked(&out, []*reliability.ParkedMessage{{
		ID:            "p-1",
		SourceQueue:   "shipping_service_queue",
		CorrelationID: "corr-1",
		RetryCount:    3,
		LastError:     "shipping API temporarily unavailable",
		ParkedAt:      time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}})
	assert.Contains(t, out.String(), "p-1")
	assert.Contains(t, out.String(), "2024-01-01T00:00:00Z")
	assert.Contains(t, out.String(), "last error: shipping API temporarily unavailable")
}
