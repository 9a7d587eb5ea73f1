package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/chirino/ticket-chat/internal/config"
	"github.com/chirino/ticket-chat/internal/metrics"
	"github.com/chirino/ticket-chat/internal/model"
	registryfeed "github.com/chirino/ticket-chat/internal/registry/feed"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	defaultChannel = "ticket_messages"
	// NOTIFY payloads must be shorter than 8000 bytes.
	maxNotifyPayload = 7999
)

func init() {
	registryfeed.Register(registryfeed.Plugin{
		Name: "postgres",
		Loader: func(ctx context.Context) (registryfeed.Feed, error) {
			cfg := config.FromContext(ctx)
			if cfg == nil || cfg.DBURL == "" {
				return nil, fmt.Errorf("postgres feed: TICKET_CHAT_DB_URL is required")
			}
			return Connect(ctx, cfg.DBURL, cfg.PostgresNotifyChannel)
		},
	})
}

// Feed delivers message inserts through LISTEN/NOTIFY on a single channel shared by all
// conversations; subscribers filter by the conversation id carried in each payload.
type Feed struct {
	pool    *pgxpool.Pool
	channel string
}

// Connect opens a connection pool. Each subscription holds one pooled connection for LISTEN.
func Connect(ctx context.Context, dbURL string, channel string) (*Feed, error) {
	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		return nil, fmt.Errorf("postgres feed: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres feed: ping failed: %w", err)
	}
	if strings.TrimSpace(channel) == "" {
		channel = defaultChannel
	}
	return &Feed{pool: pool, channel: channel}, nil
}

// MaxPayloadBytes reports the NOTIFY payload limit.
func (f *Feed) MaxPayloadBytes() int { return maxNotifyPayload }

// Publish sends the event with pg_notify.
func (f *Feed) Publish(ctx context.Context, msg model.Message) error {
	payload, err := model.EncodeFeedEvent(model.FeedEventFromMessage(msg))
	if err != nil {
		return err
	}
	if len(payload) > maxNotifyPayload {
		return fmt.Errorf("postgres feed: payload of %d bytes exceeds the %d byte NOTIFY limit", len(payload), maxNotifyPayload)
	}
	if _, err := f.pool.Exec(ctx, "SELECT pg_notify($1, $2)", f.channel, string(payload)); err != nil {
		return fmt.Errorf("postgres feed: notify: %w", err)
	}
	return nil
}

func (f *Feed) Open(ctx context.Context, conversationID string, onEvent registryfeed.EventHandler, onStatus registryfeed.StatusHandler) (registryfeed.Handle, error) {
	conn, err := f.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("postgres feed: acquire: %w", err)
	}
	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{f.channel}.Sanitize()); err != nil {
		conn.Release()
		return nil, fmt.Errorf("postgres feed: listen: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	h := &handle{
		conversationID: conversationID,
		conn:           conn,
		cancel:         cancel,
		done:           make(chan struct{}),
	}
	go h.run(runCtx, onEvent, onStatus)
	return h, nil
}

func (f *Feed) Close() error {
	f.pool.Close()
	return nil
}

type handle struct {
	conversationID string
	conn           *pgxpool.Conn
	cancel         context.CancelFunc
	done           chan struct{}
	closeOnce      sync.Once
}

func (h *handle) ConversationID() string { return h.conversationID }

func (h *handle) Close() error {
	h.closeOnce.Do(func() {
		h.cancel()
		<-h.done
	})
	return nil
}

func (h *handle) run(ctx context.Context, onEvent registryfeed.EventHandler, onStatus registryfeed.StatusHandler) {
	defer close(h.done)
	defer h.release()

	onStatus(registryfeed.StatusConnected, nil)
	for {
		n, err := h.conn.Conn().WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return
			}
			onStatus(registryfeed.StatusDisconnected, fmt.Errorf("postgres feed: wait: %w", err))
			return
		}
		if !mentionsConversation(n.Payload, h.conversationID) {
			continue
		}
		ev, err := model.ParseFeedEvent([]byte(n.Payload))
		if err != nil {
			metrics.FeedEvent(metrics.OutcomeMalformed)
			log.Warn("postgres feed: dropping malformed payload", "channel", n.Channel, "err", err)
			continue
		}
		if ev.ConversationID != h.conversationID {
			continue
		}
		onEvent(ev)
	}
}

// release returns the connection to the pool without its LISTEN registration.
// A connection interrupted mid-wait is closed by pgx and discarded by the pool.
func (h *handle) release() {
	if conn := h.conn.Conn(); !conn.IsClosed() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if _, err := conn.Exec(ctx, "UNLISTEN *"); err != nil {
			log.Debug("postgres feed: unlisten failed", "err", err)
		}
		cancel()
	}
	h.conn.Release()
}

// mentionsConversation is a cheap pre-filter that skips decoding payloads for other
// conversations on the shared channel.
func mentionsConversation(payload string, conversationID string) bool {
	quoted, err := json.Marshal(conversationID)
	if err != nil {
		return true
	}
	return strings.Contains(payload, string(quoted))
}

var (
	_ registryfeed.Feed           = (*Feed)(nil)
	_ registryfeed.PayloadLimiter = (*Feed)(nil)
)
