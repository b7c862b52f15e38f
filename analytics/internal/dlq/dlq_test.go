package dlq_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/numberoneson/nos-analytics/analytics/internal/config"
	"github.com/numberoneson/nos-analytics/analytics/internal/dlq"
	"github.com/numberoneson/nos-analytics/analytics/internal/models"
)

func failedEvent() *models.Event {
	return &models.Event{
		Site:          "portfolio",
		Type:          models.TypePageview,
		Path:          "/pricing",
		Fingerprint:   "fp-1",
		SourceAddress: "203.0.113.5",
		UserAgent:     "Mozilla/5.0",
		ReceivedAt:    time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
	}
}

func TestNewQueue(t *testing.T) {
	t.Run("creates nested directories", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "nested", "dlq")
		q, err := dlq.NewQueue(path, nil)
		require.NoError(t, err)
		require.NotNil(t, q)

		info, err := os.Stat(path)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	})

	t.Run("fails when path is a file", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), "occupied")
		require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))
		_, err := dlq.NewQueue(file, nil)
		assert.Error(t, err)
	})
}

func TestQueue_WriteAndList(t *testing.T) {
	q, err := dlq.NewQueue(t.TempDir(), nil)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, q.Write(ctx, failedEvent(), errors.New("connection refused"), dlq.ReasonStorage))
	require.NoError(t, q.Write(ctx, failedEvent(), errors.New("timeout"), dlq.ReasonStorage))

	events, err := q.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, events, 2)

	first := events[0]
	assert.NotEmpty(t, first.ID)
	assert.Equal(t, "connection refused", first.Error)
	assert.Equal(t, dlq.ReasonStorage, first.Reason)
	assert.Equal(t, 1, first.Attempts)
	assert.Equal(t, "203.0.113.5", first.SourceAddress)
	assert.Equal(t, "Mozilla/5.0", first.UserAgent)
	require.NotNil(t, first.Event)
	assert.Equal(t, "/pricing", first.Event.Path)
	assert.True(t, first.ReceivedAt.Equal(failedEvent().ReceivedAt))

	limited, err := q.List(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	stats := q.Stats(ctx)
	assert.True(t, stats.Enabled)
	assert.Equal(t, uint64(2), stats.Written)
	assert.Equal(t, 2, stats.Pending)
}

func TestQueue_ListSkipsCorruptFiles(t *testing.T) {
	dir := t.TempDir()
	q, err := dlq.NewQueue(dir, nil)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, q.Write(ctx, failedEvent(), errors.New("boom"), dlq.ReasonStorage))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "corrupt.json"), []byte("{"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644))

	events, err := q.List(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestQueue_Delete(t *testing.T) {
	q, err := dlq.NewQueue(t.TempDir(), nil)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, q.Write(ctx, failedEvent(), errors.New("boom"), dlq.ReasonStorage))
	events, err := q.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, events, 1)

	require.NoError(t, q.Delete(ctx, events[0].ID))
	assert.ErrorIs(t, q.Delete(ctx, events[0].ID), dlq.ErrNotFound)
	assert.ErrorIs(t, q.Delete(ctx, "../escape"), dlq.ErrNotFound)

	events, err = q.List(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestQueue_Purge(t *testing.T) {
	q, err := dlq.NewQueue(t.TempDir(), nil)
	require.NoError(t, err)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, q.Write(ctx, failedEvent(), errors.New("boom"), dlq.ReasonStorage))
	}
	n, err := q.Purge(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, 0, q.Stats(ctx).Pending)
}

func TestQueue_NilReceiver(t *testing.T) {
	var q *dlq.Queue
	ctx := context.Background()

	assert.NoError(t, q.Write(ctx, failedEvent(), errors.New("boom"), dlq.ReasonStorage))
	_, err := q.List(ctx, 0)
	assert.ErrorIs(t, err, dlq.ErrDisabled)
	assert.ErrorIs(t, q.Delete(ctx, "x"), dlq.ErrDisabled)
	_, err = q.Purge(ctx)
	assert.ErrorIs(t, err, dlq.ErrDisabled)
	assert.False(t, q.Stats(ctx).Enabled)
}

func TestJetStreamQueue_NilReceiver(t *testing.T) {
	var q *dlq.JetStreamQueue
	ctx := context.Background()

	assert.NoError(t, q.Write(ctx, failedEvent(), errors.New("boom"), dlq.ReasonStorage))
	_, err := q.List(ctx, 10)
	assert.ErrorIs(t, err, dlq.ErrDisabled)
	assert.ErrorIs(t, q.Delete(ctx, "x"), dlq.ErrDisabled)
	_, err = q.Purge(ctx)
	assert.ErrorIs(t, err, dlq.ErrDisabled)
	assert.False(t, q.Stats(ctx).Enabled)

	_, err = dlq.NewJetStreamQueue(ctx, nil, nil)
	assert.Error(t, err)
}

func TestSubject(t *testing.T) {
	assert.Equal(t, "analytics.dlq.storage_write", dlq.Subject(dlq.ReasonStorage))
	assert.Equal(t, "analytics.dlq.unknown", dlq.Subject(""))
}

func TestNew(t *testing.T) {
	ctx := context.Background()

	w, closeFn, err := dlq.New(ctx, config.DLQConfig{Enabled: false}, nil)
	require.NoError(t, err)
	assert.Nil(t, w)
	closeFn()

	w, closeFn, err = dlq.New(ctx, config.DLQConfig{Enabled: true, Backend: "file", BasePath: t.TempDir()}, nil)
	require.NoError(t, err)
	assert.IsType(t, &dlq.Queue{}, w)
	assert.True(t, w.Stats(ctx).Enabled)
	closeFn()

	_, _, err = dlq.New(ctx, config.DLQConfig{Enabled: true, Backend: "kafka"}, nil)
	assert.Error(t, err)
}
