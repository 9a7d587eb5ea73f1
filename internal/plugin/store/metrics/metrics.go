package metrics

import (
	"context"
	"time"

	appmetrics "github.com/chirino/ticket-chat/internal/metrics"
	"github.com/chirino/ticket-chat/internal/model"
	"github.com/chirino/ticket-chat/internal/registry/store"
)

// Wrap returns a MessageStore that records StoreLatency for every operation.
func Wrap(inner store.MessageStore) store.MessageStore {
	return &metricsStore{inner: inner}
}

type metricsStore struct {
	inner store.MessageStore
}

func observe(op string, start time.Time) {
	if appmetrics.StoreLatency == nil {
		return
	}
	appmetrics.StoreLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func (m *metricsStore) InsertMessage(ctx context.Context, req store.InsertRequest) (*model.Message, error) {
	defer observe("insert_message", time.Now())
	return m.inner.InsertMessage(ctx, req)
}

func (m *metricsStore) ListMessages(ctx context.Context, conversationID string, limit int) ([]model.Message, error) {
	defer observe("list_messages", time.Now())
	return m.inner.ListMessages(ctx, conversationID, limit)
}

func (m *metricsStore) Close() error {
	return m.inner.Close()
}

var _ store.MessageStore = (*metricsStore)(nil)
