package chat_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/chirino/ticket-chat/internal/chat"
	"github.com/chirino/ticket-chat/internal/model"
	registrystore "github.com/chirino/ticket-chat/internal/registry/store"
	"github.com/stretchr/testify/require"
)

// flakyStore fails the first failures inserts with err, then succeeds.
type flakyStore struct {
	mu       sync.Mutex
	failures int
	err      error
	block    bool
	requests []registrystore.InsertRequest
}

func (f *flakyStore) InsertMessage(ctx context.Context, req registrystore.InsertRequest) (*model.Message, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	fail := len(f.requests) <= f.failures
	f.mu.Unlock()
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if fail {
		return nil, f.err
	}
	return &model.Message{
		ID: "srv1", ClientID: req.ClientID, ConversationID: req.ConversationID,
		SenderID: req.SenderID, Body: req.Body, CreatedAt: t0, State: model.StateConfirmed,
	}, nil
}

func (f *flakyStore) ListMessages(context.Context, string, int) ([]model.Message, error) {
	return nil, nil
}

func (f *flakyStore) Close() error { return nil }

func (f *flakyStore) attempts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

var sendReq = chat.SendRequest{ConversationID: "ticket-1", SenderID: "A", Body: "hi", ClientID: "tok-1"}

// TestStoreSender_RetriesWithSameToken verifies transient failures are retried with
// the original idempotency token.
func TestStoreSender_RetriesWithSameToken(t *testing.T) {
	store := &flakyStore{failures: 2, err: errors.New("connection refused")}
	msg, err := chat.NewStoreSender(store, 5*time.Second).Send(context.Background(), sendReq)
	require.NoError(t, err)
	require.Equal(t, "srv1", msg.ID)
	require.Equal(t, 3, store.attempts())
	for _, req := range store.requests {
		require.Equal(t, "tok-1", req.ClientID)
	}
}

// TestStoreSender_PermanentErrorsNotRetried verifies validation and conflict errors fail fast.
func TestStoreSender_PermanentErrorsNotRetried(t *testing.T) {
	for _, permanent := range []error{
		&registrystore.ValidationError{Field: "body", Message: "must not be empty"},
		&registrystore.ConflictError{Message: "reused", Code: registrystore.ConflictCodeClientIDReused},
	} {
		store := &flakyStore{failures: 5, err: permanent}
		_, err := chat.NewStoreSender(store, 5*time.Second).Send(context.Background(), sendReq)
		require.ErrorIs(t, err, permanent)
		require.Equal(t, 1, store.attempts())
	}
}

// TestStoreSender_Timeout verifies a stuck insert is bounded by the send timeout.
func TestStoreSender_Timeout(t *testing.T) {
	store := &flakyStore{block: true}
	start := time.Now()
	_, err := chat.NewStoreSender(store, 30*time.Millisecond).Send(context.Background(), sendReq)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Less(t, time.Since(start), time.Second)
}

func TestStoreSender_WithoutRetry(t *testing.T) {
	store := &flakyStore{failures: 1, err: errors.New("connection refused")}
	_, err := chat.NewStoreSender(store, time.Second).WithoutRetry().Send(context.Background(), sendReq)
	require.Error(t, err)
	require.Equal(t, 1, store.attempts())
}
