package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/charmbracelet/log"
	"github.com/chirino/ticket-chat/internal/metrics"
	"github.com/chirino/ticket-chat/internal/model"
	registryfeed "github.com/chirino/ticket-chat/internal/registry/feed"
)

// Status is the connection state of a session as shown to the user.
type Status string

const (
	StatusConnecting   Status = "connecting"
	StatusLive         Status = "live"
	StatusReconnecting Status = "reconnecting"
	StatusClosed       Status = "closed"
)

// Subscriber opens live feed subscriptions.
type Subscriber interface {
	Open(ctx context.Context, conversationID string, onEvent registryfeed.EventHandler, onStatus registryfeed.StatusHandler) (registryfeed.Handle, error)
}

// BacklogSource provides the initial bulk fetch of a conversation.
type BacklogSource interface {
	ListMessages(ctx context.Context, conversationID string, limit int) ([]model.Message, error)
}

// SessionOptions configures OpenSession.
type SessionOptions struct {
	ConversationID string
	Feed           Subscriber
	Backlog        BacklogSource
	BacklogLimit   int

	MinBackoff time.Duration
	MaxBackoff time.Duration
}

// Session displays one conversation. It owns at most one live feed handle at a time
// and rebuilds the log from a fresh backlog every time the feed is (re)established.
type Session struct {
	rec   *Reconciler
	opts  SessionOptions
	epoch uint64

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once

	mu     sync.Mutex
	status Status
}

// OpenSession resets rec to the conversation and starts the subscription loop.
// Subscription failures do not fail OpenSession; they are reported through
// Callbacks.OnStatus and retried with exponential backoff.
func OpenSession(ctx context.Context, rec *Reconciler, opts SessionOptions) (*Session, error) {
	if rec == nil {
		return nil, fmt.Errorf("chat: reconciler is required")
	}
	if opts.ConversationID == "" {
		return nil, ErrNoConversation
	}
	if opts.Feed == nil || opts.Backlog == nil {
		return nil, fmt.Errorf("chat: feed and backlog are required")
	}
	if opts.MinBackoff <= 0 {
		opts.MinBackoff = 500 * time.Millisecond
	}
	if opts.MaxBackoff < opts.MinBackoff {
		opts.MaxBackoff = opts.MinBackoff
	}

	epoch := rec.Reset(opts.ConversationID)

	runCtx, cancel := context.WithCancel(ctx)
	s := &Session{rec: rec, opts: opts, epoch: epoch, cancel: cancel}
	s.setStatus(StatusConnecting, nil)
	s.wg.Add(1)
	go s.run(runCtx)
	return s, nil
}

func (s *Session) ConversationID() string { return s.opts.ConversationID }

func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// ComposeAndSend is the only mutating entry point for the UI.
func (s *Session) ComposeAndSend(ctx context.Context, body string) error {
	return s.rec.ComposeAndSend(ctx, body)
}

func (s *Session) Snapshot() []model.Message {
	return s.rec.Snapshot()
}

// Close stops the subscription loop, closes the live feed handle, and discards the
// log. When Close returns no further feed events are applied. Close must not be
// called from a callback.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		s.wg.Wait()
		s.rec.discardEpoch(s.epoch)
		s.setStatus(StatusClosed, nil)
	})
	return nil
}

func (s *Session) setStatus(status Status, err error) {
	s.mu.Lock()
	changed := s.status != status
	s.status = status
	s.mu.Unlock()
	if changed || err != nil {
		s.rec.report(status, err)
	}
}

func (s *Session) run(ctx context.Context) {
	defer s.wg.Done()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.opts.MinBackoff
	b.MaxInterval = s.opts.MaxBackoff
	b.MaxElapsedTime = 0
	b.Reset()

	for {
		err := s.subscribe(ctx, b)
		if ctx.Err() != nil || errors.Is(err, ErrConversationChanged) {
			return
		}
		wait := b.NextBackOff()
		log.Warn("feed: subscription lost, reconnecting", "conversationId", s.opts.ConversationID, "in", wait, "err", err)
		s.setStatus(StatusReconnecting, err)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		metrics.Inc(metrics.FeedReconnectsTotal)
	}
}

type feedStatus struct {
	status registryfeed.Status
	err    error
}

// subscribe holds one feed handle until it disconnects or ctx is cancelled.
// The handle is always closed before subscribe returns.
func (s *Session) subscribe(ctx context.Context, b backoff.BackOff) error {
	conversationID := s.opts.ConversationID
	if !s.rec.beginResyncAt(s.epoch) {
		return ErrConversationChanged
	}

	statuses := make(chan feedStatus, 2)
	handle, err := s.opts.Feed.Open(ctx, conversationID, s.rec.handler(ctx), func(status registryfeed.Status, err error) {
		select {
		case statuses <- feedStatus{status: status, err: err}:
		default:
		}
	})
	if err != nil {
		s.rec.abortResyncAt(ctx, s.epoch)
		return fmt.Errorf("%w: %v", ErrSubscription, err)
	}
	defer func() {
		if err := handle.Close(); err != nil {
			log.Debug("feed: close handle", "conversationId", conversationID, "err", err)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case st := <-statuses:
			switch st.status {
			case registryfeed.StatusConnected:
				backlog, err := s.opts.Backlog.ListMessages(ctx, conversationID, s.opts.BacklogLimit)
				if err != nil {
					s.rec.abortResyncAt(ctx, s.epoch)
					return fmt.Errorf("%w: fetch backlog: %v", ErrSubscription, err)
				}
				if err := s.rec.CompleteResync(ctx, conversationID, backlog); err != nil {
					return err
				}
				b.Reset()
				log.Info("feed: live", "conversationId", conversationID, "messages", len(backlog))
				s.setStatus(StatusLive, nil)
			case registryfeed.StatusDisconnected:
				s.rec.abortResyncAt(ctx, s.epoch)
				if st.err == nil {
					st.err = registryfeed.ErrClosed
				}
				return fmt.Errorf("%w: %v", ErrSubscription, st.err)
			}
		}
	}
}
