package feed

import (
	"context"
	"errors"
	"fmt"

	"github.com/chirino/ticket-chat/internal/model"
)

// Status is the connection state reported by a subscription.
type Status string

const (
	// StatusConnected means the subscription is established; events published from
	// now on will be delivered.
	StatusConnected Status = "connected"
	// StatusDisconnected means the subscription has stopped delivering events.
	// The handle must still be closed.
	StatusDisconnected Status = "disconnected"
)

// ErrClosed is returned by operations on a closed feed.
var ErrClosed = errors.New("feed: closed")

// EventHandler receives parsed canonical insert events. Calls for one handle are serialized.
type EventHandler func(model.FeedEvent)

// StatusHandler receives connection state changes. err is set for StatusDisconnected
// when the subscription failed rather than being closed.
type StatusHandler func(status Status, err error)

// Handle is an open subscription for one conversation.
type Handle interface {
	ConversationID() string
	// Close releases the subscription. When Close returns no further callbacks are made.
	// Close must not be called from inside an EventHandler or StatusHandler.
	Close() error
}

// Feed delivers an append-only, at-least-once stream of message inserts per conversation.
// No ordering is guaranteed between events.
type Feed interface {
	Open(ctx context.Context, conversationID string, onEvent EventHandler, onStatus StatusHandler) (Handle, error)
	// Publish broadcasts a stored message to every subscriber of its conversation.
	Publish(ctx context.Context, msg model.Message) error
	Close() error
}

// PayloadLimiter is implemented by feeds whose transport bounds the encoded size of
// one event. Messages whose event would exceed the limit must be rejected before
// they are stored, or live subscribers would never see them.
type PayloadLimiter interface {
	MaxPayloadBytes() int
}

// Loader creates a Feed from config.
type Loader func(ctx context.Context) (Feed, error)

// Plugin represents a feed plugin.
type Plugin struct {
	Name   string
	Loader Loader
}

var plugins []Plugin

// Register adds a feed plugin.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Names returns all registered feed plugin names.
func Names() []string {
	names := make([]string, len(plugins))
	for i, p := range plugins {
		names[i] = p.Name
	}
	return names
}

// Select returns the loader for the named feed plugin.
func Select(name string) (Loader, error) {
	for _, p := range plugins {
		if p.Name == name {
			return p.Loader, nil
		}
	}
	return nil, fmt.Errorf("unknown feed %q; valid: %v", name, Names())
}
