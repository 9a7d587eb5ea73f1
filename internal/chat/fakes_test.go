package chat_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/chirino/ticket-chat/internal/chat"
	"github.com/chirino/ticket-chat/internal/model"
	registryprofile "github.com/chirino/ticket-chat/internal/registry/profile"
	"github.com/stretchr/testify/require"
)

// ui records everything the reconciler reports to the view.
type ui struct {
	mu            sync.Mutex
	snapshots     [][]model.Message
	notifications []string
	statuses      []chat.Status
}

func (u *ui) callbacks() chat.Callbacks {
	return chat.Callbacks{
		OnChange: func(snap []model.Message) {
			u.mu.Lock()
			defer u.mu.Unlock()
			u.snapshots = append(u.snapshots, snap)
		},
		OnPeerMessage: func(name, preview string) {
			u.mu.Lock()
			defer u.mu.Unlock()
			u.notifications = append(u.notifications, name+": "+preview)
		},
		OnStatus: func(status chat.Status, _ error) {
			u.mu.Lock()
			defer u.mu.Unlock()
			u.statuses = append(u.statuses, status)
		},
	}
}

func (u *ui) notified() []string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]string(nil), u.notifications...)
}

func (u *ui) sawState(state model.DeliveryState) bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	for _, snap := range u.snapshots {
		for _, m := range snap {
			if m.State == state {
				return true
			}
		}
	}
	return false
}

func (u *ui) lastStatus() chat.Status {
	u.mu.Lock()
	defer u.mu.Unlock()
	if len(u.statuses) == 0 {
		return ""
	}
	return u.statuses[len(u.statuses)-1]
}

func (u *ui) sawStatus(status chat.Status) bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	for _, s := range u.statuses {
		if s == status {
			return true
		}
	}
	return false
}

type sendResult struct {
	msg model.Message
	err error
}

// sendCall is one Send blocked until the test supplies its result.
type sendCall struct {
	chat.SendRequest
	result chan sendResult
}

func (c *sendCall) succeed(id string, at time.Time) {
	c.result <- sendResult{msg: model.Message{
		ID:             id,
		ClientID:       c.ClientID,
		ConversationID: c.ConversationID,
		SenderID:       c.SenderID,
		Body:           c.Body,
		CreatedAt:      at,
		State:          model.StateConfirmed,
	}}
}

func (c *sendCall) fail(err error) {
	c.result <- sendResult{err: err}
}

// gatedSender hands every Send to the test.
type gatedSender struct {
	calls chan *sendCall
}

func newGatedSender() *gatedSender {
	return &gatedSender{calls: make(chan *sendCall, 8)}
}

func (g *gatedSender) Send(ctx context.Context, req chat.SendRequest) (model.Message, error) {
	call := &sendCall{SendRequest: req, result: make(chan sendResult, 1)}
	g.calls <- call
	select {
	case r := <-call.result:
		return r.msg, r.err
	case <-ctx.Done():
		return model.Message{}, ctx.Err()
	}
}

func (g *gatedSender) next(t *testing.T) *sendCall {
	t.Helper()
	select {
	case call := <-g.calls:
		return call
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a send")
		return nil
	}
}

func directory(names map[string]string) registryprofile.Directory {
	return registryprofile.DirectoryFunc(func(_ context.Context, userID string) (string, bool, error) {
		name, ok := names[userID]
		return name, ok, nil
	})
}

func sequentialIDs(prefix string) func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("%s%d", prefix, n)
	}
}

func newReconciler(t *testing.T, sender chat.Sender, u *ui) *chat.Reconciler {
	t.Helper()
	rec, err := chat.NewReconciler(chat.ReconcilerOptions{
		UserID:    "A",
		Sender:    sender,
		Directory: directory(map[string]string{"A": "Alice", "B": "Bob"}),
		Callbacks: u.callbacks(),
		NewID:     sequentialIDs("c"),
		Now:       func() time.Time { return t0 },
	})
	require.NoError(t, err)
	return rec
}

func event(id, sender, body string, at time.Time) model.FeedEvent {
	return model.FeedEvent{
		ID:             id,
		ConversationID: "ticket-1",
		SenderID:       sender,
		Body:           body,
		CreatedAt:      at,
	}
}

type memBacklog struct {
	mu    sync.Mutex
	msgs  []model.Message
	calls int
	err   error
}

func (b *memBacklog) ListMessages(_ context.Context, conversationID string, _ int) ([]model.Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls++
	if b.err != nil {
		return nil, b.err
	}
	var out []model.Message
	for _, m := range b.msgs {
		if m.ConversationID == conversationID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (b *memBacklog) add(m model.Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.msgs = append(b.msgs, m)
}

func (b *memBacklog) fetches() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls
}
