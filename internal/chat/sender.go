package chat

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/charmbracelet/log"
	"github.com/chirino/ticket-chat/internal/model"
	registrystore "github.com/chirino/ticket-chat/internal/registry/store"
)

// SendRequest is one durable send. ClientID is the idempotency token of the
// optimistic entry.
type SendRequest struct {
	ConversationID string
	SenderID       string
	Body           string
	ClientID       string
}

// Sender persists authored messages. A nil error means the message is durable and
// will be broadcast on the live feed.
type Sender interface {
	Send(ctx context.Context, req SendRequest) (model.Message, error)
}

// StoreSender sends through a MessageStore. Transient insert failures are retried
// with the same idempotency token until the per-call timeout expires.
type StoreSender struct {
	store   registrystore.MessageStore
	timeout time.Duration
	retry   func() backoff.BackOff
}

func NewStoreSender(store registrystore.MessageStore, timeout time.Duration) *StoreSender {
	return &StoreSender{
		store:   store,
		timeout: timeout,
		retry: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 100 * time.Millisecond
			b.MaxInterval = 2 * time.Second
			return b
		},
	}
}

// WithoutRetry disables retries; used by the one-shot send command and tests.
func (s *StoreSender) WithoutRetry() *StoreSender {
	s.retry = func() backoff.BackOff { return &backoff.StopBackOff{} }
	return s
}

func (s *StoreSender) Send(ctx context.Context, req SendRequest) (model.Message, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	var stored *model.Message
	attempt := 0
	op := func() error {
		attempt++
		msg, err := s.store.InsertMessage(ctx, registrystore.InsertRequest{
			ConversationID: req.ConversationID,
			SenderID:       req.SenderID,
			Body:           req.Body,
			ClientID:       req.ClientID,
		})
		if err != nil {
			if !retryable(err) {
				return backoff.Permanent(err)
			}
			log.Debug("send: insert failed, retrying", "clientId", req.ClientID, "attempt", attempt, "err", err)
			return err
		}
		stored = msg
		return nil
	}
	if err := backoff.Retry(op, backoff.WithContext(s.retry(), ctx)); err != nil {
		return model.Message{}, fmt.Errorf("insert message: %w", err)
	}
	return *stored, nil
}

func retryable(err error) bool {
	var validation *registrystore.ValidationError
	var conflict *registrystore.ConflictError
	var notFound *registrystore.NotFoundError
	switch {
	case errors.As(err, &validation), errors.As(err, &conflict), errors.As(err, &notFound):
		return false
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return false
	}
	return true
}

var _ Sender = (*StoreSender)(nil)
