package events

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/bcnelson/sid/internal/domain"
	"github.com/bcnelson/sid/internal/storage/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordLinksStackByName(t *testing.T) {
	store := memory.New()
	rec := NewRecorder(store, nil)
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rec.now = func() time.Time { return fixed }

	rec.Success(context.Background(), "Deployed", "svc-a")
	rec.Info(context.Background(), "Repository updated", "")

	events, err := store.ListEvents(context.Background(), 10, 0)
	require.NoError(t, err)
	require.Len(t, events, 2)

	byMsg := map[string]*domain.Event{}
	for _, ev := range events {
		byMsg[ev.Message] = ev
	}
	assert.Equal(t, domain.EventSuccess, byMsg["Deployed"].Kind)
	assert.Equal(t, "svc-a", byMsg["Deployed"].Stack())
	assert.True(t, byMsg["Deployed"].CreatedAt.Equal(fixed))
	assert.Nil(t, byMsg["Repository updated"].StackName)
}

func TestRecordSwallowsStoreFailure(t *testing.T) {
	store := memory.New()
	store.FailEvents = errors.New("disk full")

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	rec := NewRecorder(store, logger)

	assert.NotPanics(t, func() {
		rec.Error(context.Background(), "Deploy failed", "svc-b")
	})
	assert.Contains(t, buf.String(), "Failed to record event")
	assert.Contains(t, buf.String(), "disk full")
}

func TestRecordSurvivesCancelledContext(t *testing.T) {
	store := memory.New()
	rec := NewRecorder(store, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rec.Error(ctx, "Deploy timed out", "svc-a")

	n, err := store.CountEvents(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
