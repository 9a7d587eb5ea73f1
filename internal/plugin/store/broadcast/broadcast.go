package broadcast

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/charmbracelet/log"
	"github.com/chirino/ticket-chat/internal/metrics"
	"github.com/chirino/ticket-chat/internal/model"
	registryfeed "github.com/chirino/ticket-chat/internal/registry/feed"
	"github.com/chirino/ticket-chat/internal/registry/store"
)

const publishRetryBudget = 30 * time.Second

// Publisher is the part of a feed that broadcasts stored messages.
type Publisher interface {
	Publish(ctx context.Context, msg model.Message) error
}

// Option customizes a broadcasting store.
type Option func(*broadcastStore)

// WithRetry replaces the backoff used to republish after a failed publish.
func WithRetry(newBackOff func() backoff.BackOff) Option {
	return func(b *broadcastStore) { b.retry = newBackOff }
}

// Wrap returns a MessageStore that publishes every successfully inserted message.
//
// Requests whose feed event the publisher cannot carry are rejected before they are
// stored. A failed publish does not fail the insert; the message is republished in
// the background with exponential backoff until it goes out, the retry budget runs
// out, or the store is closed.
func Wrap(inner store.MessageStore, publisher Publisher, opts ...Option) store.MessageStore {
	ctx, cancel := context.WithCancel(context.Background())
	b := &broadcastStore{
		inner:     inner,
		publisher: publisher,
		ctx:       ctx,
		cancel:    cancel,
		retry: func() backoff.BackOff {
			eb := backoff.NewExponentialBackOff()
			eb.InitialInterval = 100 * time.Millisecond
			eb.MaxInterval = 5 * time.Second
			eb.MaxElapsedTime = publishRetryBudget
			return eb
		},
	}
	if limiter, ok := publisher.(registryfeed.PayloadLimiter); ok {
		b.maxEventBytes = limiter.MaxPayloadBytes()
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

type broadcastStore struct {
	inner         store.MessageStore
	publisher     Publisher
	maxEventBytes int
	retry         func() backoff.BackOff

	ctx    context.Context
	cancel context.CancelFunc
	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

func (b *broadcastStore) InsertMessage(ctx context.Context, req store.InsertRequest) (*model.Message, error) {
	req.MaxEventBytes = b.maxEventBytes
	if err := req.Validate(); err != nil {
		return nil, err
	}
	msg, err := b.inner.InsertMessage(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := b.publisher.Publish(ctx, *msg); err != nil {
		log.Debug("broadcast: publish failed, retrying", "conversationId", msg.ConversationID, "messageId", msg.ID, "err", err)
		b.republish(*msg)
	}
	return msg, nil
}

// republish retries a failed publish on a goroutine detached from the caller, so the
// send resolves as soon as the row is durable.
func (b *broadcastStore) republish(msg model.Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		log.Warn("broadcast: store closed, message not published", "conversationId", msg.ConversationID, "messageId", msg.ID)
		metrics.Inc(metrics.FeedPublishFailuresTotal)
		return
	}
	metrics.Inc(metrics.FeedPublishRetriesTotal)
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		attempts := 1
		op := func() error {
			attempts++
			err := b.publisher.Publish(b.ctx, msg)
			if errors.Is(err, registryfeed.ErrClosed) {
				return backoff.Permanent(err)
			}
			return err
		}
		if err := backoff.Retry(op, backoff.WithContext(b.retry(), b.ctx)); err != nil {
			metrics.Inc(metrics.FeedPublishFailuresTotal)
			log.Warn("broadcast: publish failed",
				"conversationId", msg.ConversationID, "messageId", msg.ID, "attempts", attempts, "err", err)
		}
	}()
}

func (b *broadcastStore) ListMessages(ctx context.Context, conversationID string, limit int) ([]model.Message, error) {
	return b.inner.ListMessages(ctx, conversationID, limit)
}

// Close stops pending republishes before closing the inner store.
func (b *broadcastStore) Close() error {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	b.cancel()
	b.wg.Wait()
	return b.inner.Close()
}

var (
	_ store.MessageStore = (*broadcastStore)(nil)
	_ Publisher          = registryfeed.Feed(nil)
)
