package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/chirino/ticket-chat/internal/config"
	"github.com/chirino/ticket-chat/internal/metrics"
	"github.com/chirino/ticket-chat/internal/model"
	registryfeed "github.com/chirino/ticket-chat/internal/registry/feed"
	goredis "github.com/redis/go-redis/v9"
)

const defaultChannelPrefix = "ticket-chat:messages:"

func init() {
	registryfeed.Register(registryfeed.Plugin{
		Name:   "redis",
		Loader: load,
	})
}

func load(ctx context.Context) (registryfeed.Feed, error) {
	cfg := config.FromContext(ctx)
	if cfg == nil || cfg.RedisURL == "" {
		return nil, fmt.Errorf("redis feed: TICKET_CHAT_REDIS_URL is required")
	}
	return LoadFromURL(ctx, cfg.RedisURL, cfg.RedisChannelPrefix)
}

// LoadFromURL creates a Feed from a Redis-compatible URL.
func LoadFromURL(ctx context.Context, redisURL string, channelPrefix string) (*Feed, error) {
	opts, err := goredis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("redis feed: invalid URL: %w", err)
	}
	client := goredis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis feed: ping failed: %w", err)
	}
	if strings.TrimSpace(channelPrefix) == "" {
		channelPrefix = defaultChannelPrefix
	}
	return &Feed{client: client, prefix: channelPrefix}, nil
}

// Feed broadcasts message inserts over Redis pub/sub, one channel per conversation.
// Redis pub/sub is fire-and-forget; a subscriber that loses its connection reports
// StatusDisconnected instead of silently reconnecting, so the owner can resync.
type Feed struct {
	client *goredis.Client
	prefix string
}

func (f *Feed) channel(conversationID string) string {
	return f.prefix + conversationID
}

func (f *Feed) Publish(ctx context.Context, msg model.Message) error {
	payload, err := model.EncodeFeedEvent(model.FeedEventFromMessage(msg))
	if err != nil {
		return err
	}
	return f.client.Publish(ctx, f.channel(msg.ConversationID), payload).Err()
}

func (f *Feed) Open(ctx context.Context, conversationID string, onEvent registryfeed.EventHandler, onStatus registryfeed.StatusHandler) (registryfeed.Handle, error) {
	ps := f.client.Subscribe(ctx, f.channel(conversationID))
	// Wait for the subscription confirmation so events published after Open returns are delivered.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("redis feed: subscribe %s: %w", conversationID, err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	h := &handle{
		conversationID: conversationID,
		pubsub:         ps,
		cancel:         cancel,
		done:           make(chan struct{}),
	}
	go h.run(runCtx, onEvent, onStatus)
	return h, nil
}

func (f *Feed) Close() error {
	return f.client.Close()
}

type handle struct {
	conversationID string
	pubsub         *goredis.PubSub
	cancel         context.CancelFunc
	done           chan struct{}
	closeOnce      sync.Once
}

func (h *handle) ConversationID() string { return h.conversationID }

func (h *handle) Close() error {
	var err error
	h.closeOnce.Do(func() {
		h.cancel()
		err = h.pubsub.Close()
		<-h.done
	})
	return err
}

func (h *handle) run(ctx context.Context, onEvent registryfeed.EventHandler, onStatus registryfeed.StatusHandler) {
	defer close(h.done)
	onStatus(registryfeed.StatusConnected, nil)
	for {
		msg, err := h.pubsub.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, goredis.ErrClosed) {
				return
			}
			onStatus(registryfeed.StatusDisconnected, fmt.Errorf("redis feed: receive: %w", err))
			return
		}
		switch m := msg.(type) {
		case *goredis.Message:
			ev, err := model.ParseFeedEvent([]byte(m.Payload))
			if err != nil {
				metrics.FeedEvent(metrics.OutcomeMalformed)
				log.Warn("redis feed: dropping malformed payload", "channel", m.Channel, "err", err)
				continue
			}
			onEvent(ev)
		case *goredis.Subscription:
			if m.Kind == "unsubscribe" && m.Count == 0 {
				onStatus(registryfeed.StatusDisconnected, fmt.Errorf("redis feed: unsubscribed from %s", m.Channel))
				return
			}
		}
	}
}

var _ registryfeed.Feed = (*Feed)(nil)
