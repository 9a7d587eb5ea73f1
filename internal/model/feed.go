package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// FeedEvent is the canonical insert event broadcast for every stored message.
type FeedEvent struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversationId"`
	SenderID       string    `json:"senderId"`
	Body           string    `json:"body"`
	CreatedAt      time.Time `json:"createdAt"`
	ClientID       string    `json:"clientId,omitempty"`
}

// FeedEventFromMessage builds the broadcast form of a stored message.
func FeedEventFromMessage(m Message) FeedEvent {
	return FeedEvent{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		Body:           m.Body,
		CreatedAt:      m.CreatedAt,
		ClientID:       m.ClientID,
	}
}

// ToMessage converts the event into a confirmed Message.
func (e FeedEvent) ToMessage() Message {
	return Message{
		ID:             e.ID,
		ClientID:       e.ClientID,
		ConversationID: e.ConversationID,
		SenderID:       e.SenderID,
		Body:           e.Body,
		CreatedAt:      e.CreatedAt,
		State:          StateConfirmed,
	}
}

// EncodeFeedEvent serializes an event to its wire form.
func EncodeFeedEvent(e FeedEvent) ([]byte, error) {
	return json.Marshal(e)
}

// MalformedEventError reports a feed payload that failed validation.
type MalformedEventError struct {
	Field  string
	Reason string
}

func (e *MalformedEventError) Error() string {
	return fmt.Sprintf("malformed feed event: %s %s", e.Field, e.Reason)
}

// ParseFeedEvent validates an untrusted feed payload and converts it into a FeedEvent.
// Fields are checked by name and type; unknown fields are ignored.
func ParseFeedEvent(payload []byte) (FeedEvent, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(payload, &raw); err != nil {
		return FeedEvent{}, &MalformedEventError{Field: "payload", Reason: "is not a JSON object"}
	}

	var ev FeedEvent
	var err error
	if ev.ID, err = requiredString(raw, "id"); err != nil {
		return FeedEvent{}, err
	}
	if ev.ConversationID, err = requiredString(raw, "conversationId"); err != nil {
		return FeedEvent{}, err
	}
	if ev.SenderID, err = requiredString(raw, "senderId"); err != nil {
		return FeedEvent{}, err
	}
	if ev.Body, err = optionalString(raw, "body"); err != nil {
		return FeedEvent{}, err
	}
	if ev.ClientID, err = optionalString(raw, "clientId"); err != nil {
		return FeedEvent{}, err
	}

	createdAt, err := requiredString(raw, "createdAt")
	if err != nil {
		return FeedEvent{}, err
	}
	ts, parseErr := time.Parse(time.RFC3339Nano, createdAt)
	if parseErr != nil {
		return FeedEvent{}, &MalformedEventError{Field: "createdAt", Reason: "is not an RFC 3339 timestamp"}
	}
	ev.CreatedAt = ts.UTC()
	return ev, nil
}

func requiredString(raw map[string]json.RawMessage, field string) (string, error) {
	value, err := optionalString(raw, field)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(value) == "" {
		return "", &MalformedEventError{Field: field, Reason: "is required"}
	}
	return value, nil
}

func optionalString(raw map[string]json.RawMessage, field string) (string, error) {
	data, ok := raw[field]
	if !ok || string(data) == "null" {
		return "", nil
	}
	var value string
	if err := json.Unmarshal(data, &value); err != nil {
		return "", &MalformedEventError{Field: field, Reason: "must be a string"}
	}
	return value, nil
}
