package model

import (
	"time"
)

// DeliveryState tracks an entry's progress from optimistic display to durable storage.
type DeliveryState string

const (
	StatePending   DeliveryState = "pending"
	StateConfirmed DeliveryState = "confirmed"
	StateFailed    DeliveryState = "failed"
)

// CanTransitionTo reports whether moving from s to next is a forward transition.
// confirmed and failed are terminal.
func (s DeliveryState) CanTransitionTo(next DeliveryState) bool {
	switch s {
	case StatePending:
		return next == StateConfirmed || next == StateFailed || next == StatePending
	case StateConfirmed:
		return next == StateConfirmed
	default:
		return false
	}
}

// Message is one chat message in a support ticket conversation as rendered by the client.
type Message struct {
	// ID is the canonical id assigned by the durable store, or the client token while pending.
	ID string `json:"id"`

	// ClientID is the idempotency token generated when the message was composed.
	// Empty for messages written by clients that do not send one.
	ClientID string `json:"clientId,omitempty"`

	ConversationID string    `json:"conversationId"`
	SenderID       string    `json:"senderId"`
	Body           string    `json:"body"`
	CreatedAt      time.Time `json:"createdAt"`

	State DeliveryState `json:"state"`

	// SenderDisplayName is resolved from the profile directory; empty until resolved.
	SenderDisplayName string `json:"senderDisplayName,omitempty"`
}

// IdentityKey returns the key under which a message is deduplicated.
// The idempotency token wins over the id so a pending entry and its canonical
// counterpart share one key.
func (m Message) IdentityKey() string {
	if m.ClientID != "" {
		return "client:" + m.ClientID
	}
	return "id:" + m.ID
}

// IsPending reports whether the message is still awaiting confirmation.
func (m Message) IsPending() bool { return m.State == StatePending }

// MessageRecord is the persisted row for a message.
type MessageRecord struct {
	ID             string    `gorm:"primaryKey;type:text"`
	ConversationID string    `gorm:"not null;type:text;index:idx_ticket_messages_conv_created,priority:1;uniqueIndex:ux_ticket_messages_conv_client,priority:1"`
	ClientID       *string   `gorm:"type:text;uniqueIndex:ux_ticket_messages_conv_client,priority:2"`
	SenderID       string    `gorm:"not null;type:text"`
	Body           string    `gorm:"not null;type:text"`
	CreatedAt      time.Time `gorm:"not null;index:idx_ticket_messages_conv_created,priority:2"`
}

func (MessageRecord) TableName() string { return "ticket_messages" }

// ToMessage converts a stored row into a confirmed Message.
func (r MessageRecord) ToMessage() Message {
	m := Message{
		ID:             r.ID,
		ConversationID: r.ConversationID,
		SenderID:       r.SenderID,
		Body:           r.Body,
		CreatedAt:      r.CreatedAt.UTC(),
		State:          StateConfirmed,
	}
	if r.ClientID != nil {
		m.ClientID = *r.ClientID
	}
	return m
}

// Profile is a participant's public profile.
type Profile struct {
	ID          string  `gorm:"primaryKey;type:text"`
	DisplayName *string `gorm:"type:text"`
}

func (Profile) TableName() string { return "profiles" }
