package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/chirino/ticket-chat/internal/metrics"
	"github.com/chirino/ticket-chat/internal/model"
	registryfeed "github.com/chirino/ticket-chat/internal/registry/feed"
)

const defaultBufferSize = 256

// ErrSlowConsumer is reported to a subscriber that fell too far behind and was dropped.
var ErrSlowConsumer = errors.New("memory feed: subscriber buffer overflow")

func init() {
	registryfeed.Register(registryfeed.Plugin{
		Name: "memory",
		Loader: func(ctx context.Context) (registryfeed.Feed, error) {
			return NewHub(defaultBufferSize), nil
		},
	})
}

// Hub is an in-process feed. Each subscription gets its own buffered queue and
// delivery goroutine, so publishers never run subscriber callbacks.
type Hub struct {
	bufferSize int

	mu     sync.Mutex
	subs   map[string]map[*subscription]struct{}
	closed bool
}

// NewHub creates a hub whose subscribers buffer up to bufferSize undelivered events.
func NewHub(bufferSize int) *Hub {
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	return &Hub{bufferSize: bufferSize, subs: map[string]map[*subscription]struct{}{}}
}

type subscription struct {
	hub            *Hub
	conversationID string
	onEvent        registryfeed.EventHandler
	onStatus       registryfeed.StatusHandler

	queue    chan []byte
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once

	mu      sync.Mutex
	dropErr error
}

func (h *Hub) Open(ctx context.Context, conversationID string, onEvent registryfeed.EventHandler, onStatus registryfeed.StatusHandler) (registryfeed.Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sub := &subscription{
		hub:            h,
		conversationID: conversationID,
		onEvent:        onEvent,
		onStatus:       onStatus,
		queue:          make(chan []byte, h.bufferSize),
		stop:           make(chan struct{}),
		done:           make(chan struct{}),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, registryfeed.ErrClosed
	}
	if h.subs[conversationID] == nil {
		h.subs[conversationID] = map[*subscription]struct{}{}
	}
	h.subs[conversationID][sub] = struct{}{}
	h.mu.Unlock()

	go sub.run()
	return sub, nil
}

// Publish encodes the message once and queues it for every subscriber of its conversation.
// Publishing the same message twice delivers it twice.
func (h *Hub) Publish(_ context.Context, msg model.Message) error {
	payload, err := model.EncodeFeedEvent(model.FeedEventFromMessage(msg))
	if err != nil {
		return err
	}
	return h.PublishRaw(msg.ConversationID, payload)
}

// PublishRaw queues an already encoded payload. Payloads are validated on delivery,
// like any other untrusted feed input.
func (h *Hub) PublishRaw(conversationID string, payload []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return registryfeed.ErrClosed
	}
	for sub := range h.subs[conversationID] {
		select {
		case sub.queue <- payload:
		default:
			delete(h.subs[conversationID], sub)
			sub.drop(ErrSlowConsumer)
		}
	}
	return nil
}

// Subscribers returns the number of open subscriptions for a conversation.
func (h *Hub) Subscribers(conversationID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[conversationID])
}

// Disconnect drops every subscriber of a conversation, reporting err as the cause.
// It returns the number of subscriptions dropped.
func (h *Hub) Disconnect(conversationID string, err error) int {
	if err == nil {
		err = registryfeed.ErrClosed
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	subs := h.subs[conversationID]
	for sub := range subs {
		sub.drop(err)
	}
	delete(h.subs, conversationID)
	return len(subs)
}

// Close disconnects every subscriber.
func (h *Hub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	for _, subs := range h.subs {
		for sub := range subs {
			sub.drop(registryfeed.ErrClosed)
		}
	}
	h.subs = map[string]map[*subscription]struct{}{}
	return nil
}

func (s *subscription) ConversationID() string { return s.conversationID }

// Close unregisters the subscription and waits for its delivery goroutine to exit.
func (s *subscription) Close() error {
	s.hub.mu.Lock()
	if subs := s.hub.subs[s.conversationID]; subs != nil {
		delete(subs, s)
		if len(subs) == 0 {
			delete(s.hub.subs, s.conversationID)
		}
	}
	s.hub.mu.Unlock()

	s.stopOnce.Do(func() { close(s.stop) })
	<-s.done
	return nil
}

// drop stops delivery and reports err as the disconnect cause. Called with hub.mu held.
func (s *subscription) drop(err error) {
	s.mu.Lock()
	s.dropErr = err
	s.mu.Unlock()
	s.stopOnce.Do(func() { close(s.stop) })
}

func (s *subscription) run() {
	defer close(s.done)
	s.onStatus(registryfeed.StatusConnected, nil)
	for {
		select {
		case <-s.stop:
			s.mu.Lock()
			err := s.dropErr
			s.mu.Unlock()
			if err != nil {
				s.onStatus(registryfeed.StatusDisconnected, err)
			}
			return
		case payload := <-s.queue:
			ev, err := model.ParseFeedEvent(payload)
			if err != nil {
				metrics.FeedEvent(metrics.OutcomeMalformed)
				log.Warn("memory feed: dropping malformed payload", "conversationId", s.conversationID, "err", err)
				continue
			}
			s.onEvent(ev)
		}
	}
}

var _ registryfeed.Feed = (*Hub)(nil)
