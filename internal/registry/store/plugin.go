package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/chirino/ticket-chat/internal/model"
)

// InsertRequest is the input for persisting one authored message.
type InsertRequest struct {
	ConversationID string
	SenderID       string
	Body           string
	// ClientID is the idempotency token. Inserting the same (ConversationID, ClientID)
	// twice returns the row stored by the first insert.
	ClientID string

	// MaxEventBytes bounds the encoded feed event of the stored message. Zero means
	// the feed imposes no limit.
	MaxEventBytes int
}

// widestEvent fills the server-assigned event fields with their longest forms.
var widestEvent = model.FeedEvent{
	ID:        strings.Repeat("0", 36),
	CreatedAt: time.Date(9999, 12, 31, 23, 59, 59, 999999999, time.UTC),
}

// Validate checks the request fields that every backend requires.
func (r InsertRequest) Validate() error {
	if strings.TrimSpace(r.ConversationID) == "" {
		return &ValidationError{Field: "conversationId", Message: "is required"}
	}
	if strings.TrimSpace(r.SenderID) == "" {
		return &ValidationError{Field: "senderId", Message: "is required"}
	}
	if strings.TrimSpace(r.Body) == "" {
		return &ValidationError{Field: "body", Message: "must not be empty"}
	}
	if r.MaxEventBytes > 0 {
		ev := widestEvent
		ev.ConversationID = r.ConversationID
		ev.SenderID = r.SenderID
		ev.Body = r.Body
		ev.ClientID = r.ClientID
		payload, err := model.EncodeFeedEvent(ev)
		if err != nil {
			return &ValidationError{Field: "body", Message: err.Error()}
		}
		if len(payload) > r.MaxEventBytes {
			return &ValidationError{
				Field:   "body",
				Message: fmt.Sprintf("is too long for the live feed (%d of %d bytes)", len(payload), r.MaxEventBytes),
			}
		}
	}
	return nil
}

// MessageStore is the durable backing store for ticket messages.
type MessageStore interface {
	// InsertMessage durably stores a message and returns its canonical form
	// (server-assigned id and timestamp).
	InsertMessage(ctx context.Context, req InsertRequest) (*model.Message, error)

	// ListMessages returns up to limit of the most recent messages of a conversation,
	// oldest first.
	ListMessages(ctx context.Context, conversationID string, limit int) ([]model.Message, error)

	// Close releases the store's connections.
	Close() error
}

// Pinger is implemented by stores that can report whether their backend is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Loader creates a MessageStore from config.
type Loader func(ctx context.Context) (MessageStore, error)

// Plugin represents a store plugin.
type Plugin struct {
	Name   string
	Loader Loader
}

var plugins []Plugin

// Register adds a store plugin.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Names returns all registered store plugin names.
func Names() []string {
	names := make([]string, len(plugins))
	for i, p := range plugins {
		names[i] = p.Name
	}
	return names
}

// Select returns the loader for the named store plugin.
func Select(name string) (Loader, error) {
	for _, p := range plugins {
		if p.Name == name {
			return p.Loader, nil
		}
	}
	return nil, fmt.Errorf("unknown store %q; valid: %v", name, Names())
}
