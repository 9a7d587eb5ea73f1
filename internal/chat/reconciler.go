// Package chat keeps the message log of an open support ticket conversation in sync.
//
// Locally composed messages are shown immediately as pending entries, persisted
// through a Sender, and collapsed with their canonical copy from the live feed by
// idempotency token. Feed delivery is at-least-once and unordered; applying any
// permutation of the same events, duplicates included, converges to the same log.
package chat

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/chirino/ticket-chat/internal/metrics"
	"github.com/chirino/ticket-chat/internal/model"
	registryfeed "github.com/chirino/ticket-chat/internal/registry/feed"
	registryprofile "github.com/chirino/ticket-chat/internal/registry/profile"
	"github.com/google/uuid"
)

// ownNameLookupTimeout bounds the background lookup of the current user's display name.
const ownNameLookupTimeout = 10 * time.Second

// Callbacks are the produced interface to the UI layer. All fields are optional.
//
// OnChange is invoked synchronously while the reconciler is locked and must not call
// back into the Reconciler or Session. OnPeerMessage runs on the feed delivery
// goroutine and OnStatus on the session goroutine.
type Callbacks struct {
	OnChange      func(snapshot []model.Message)
	OnPeerMessage func(displayName, preview string)
	OnStatus      func(status Status, err error)
}

// ReconcilerOptions configures a Reconciler.
type ReconcilerOptions struct {
	// UserID is the current participant.
	UserID    string
	Sender    Sender
	Directory registryprofile.Directory
	Callbacks Callbacks

	PreviewLength int
	Placeholder   string

	// NewID generates idempotency tokens. Defaults to random UUIDs.
	NewID func() string
	Now   func() time.Time
}

// Reconciler merges optimistic local sends and live feed events into one Store.
// It is the only writer of its Store.
type Reconciler struct {
	userID    string
	sender    Sender
	directory registryprofile.Directory
	callbacks Callbacks
	notifier  *Notifier
	store     *Store

	placeholder string
	newID       func() string
	now         func() time.Time

	mu             sync.Mutex
	conversationID string
	// epoch changes on every Reset so late results from a previous conversation
	// can be recognized.
	epoch    uint64
	profiles *ProfileCache
	// pending maps idempotency tokens to entries awaiting confirmation.
	pending   map[string]model.Message
	resyncing bool
	buffered  []model.FeedEvent
}

func NewReconciler(opts ReconcilerOptions) (*Reconciler, error) {
	if strings.TrimSpace(opts.UserID) == "" {
		return nil, fmt.Errorf("chat: user id is required")
	}
	if opts.Sender == nil {
		return nil, fmt.Errorf("chat: sender is required")
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	r := &Reconciler{
		userID:      opts.UserID,
		sender:      opts.Sender,
		directory:   opts.Directory,
		callbacks:   opts.Callbacks,
		notifier:    NewNotifier(opts.UserID, opts.PreviewLength, opts.Callbacks.OnPeerMessage),
		placeholder: opts.Placeholder,
		newID:       opts.NewID,
		now:         opts.Now,
		pending:     map[string]model.Message{},
	}
	r.profiles = NewProfileCache(opts.Directory, opts.Placeholder)
	r.store = NewStore(opts.Callbacks.OnChange)
	return r, nil
}

func (r *Reconciler) UserID() string { return r.userID }

// ConversationID returns the open conversation, or "" when none is open.
func (r *Reconciler) ConversationID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.conversationID
}

// Snapshot returns the current ordered log.
func (r *Reconciler) Snapshot() []model.Message {
	return r.store.Snapshot()
}

// Reset scopes the reconciler to conversationID with an empty log. Pending sends of
// the previous conversation are forgotten and their results discarded.
// It returns the new epoch.
func (r *Reconciler) Reset(conversationID string) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resetLocked(conversationID)
	return r.epoch
}

func (r *Reconciler) resetLocked(conversationID string) {
	r.epoch++
	r.conversationID = conversationID
	r.pending = map[string]model.Message{}
	r.resyncing = false
	r.buffered = nil
	r.profiles = NewProfileCache(r.directory, r.placeholder)
	r.store.Load(nil)
}

// ComposeAndSend shows body immediately as a pending entry and persists it.
//
// Whichever of the send response and the feed echo arrives first promotes the entry;
// the other is a no-op. On failure the entry is marked failed, removed, and a
// *SendError is returned.
func (r *Reconciler) ComposeAndSend(ctx context.Context, body string) error {
	if strings.TrimSpace(body) == "" {
		return ErrEmptyBody
	}

	r.mu.Lock()
	if r.conversationID == "" {
		r.mu.Unlock()
		return ErrNoConversation
	}
	token := r.newID()
	msg := model.Message{
		ID:             token,
		ClientID:       token,
		ConversationID: r.conversationID,
		SenderID:       r.userID,
		Body:           body,
		CreatedAt:      r.now().UTC(),
		State:          model.StatePending,
	}
	msg.SenderDisplayName, _ = r.profiles.Peek(r.userID)
	r.pending[token] = msg
	_ = r.store.Upsert(msg)
	epoch, conversationID, profiles := r.epoch, r.conversationID, r.profiles
	r.mu.Unlock()

	if msg.SenderDisplayName == "" {
		// Persistence never waits on the profile directory.
		go func() {
			lookupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), ownNameLookupTimeout)
			defer cancel()
			r.fillDisplayName(lookupCtx, epoch, profiles, r.userID)
		}()
	}

	canonical, sendErr := r.sender.Send(ctx, SendRequest{
		ConversationID: conversationID,
		SenderID:       r.userID,
		Body:           body,
		ClientID:       token,
	})

	r.mu.Lock()
	defer r.mu.Unlock()

	if epoch != r.epoch {
		metrics.Send(metrics.SendDiscarded)
		log.Debug("send: discarding result for a closed conversation", "conversationId", conversationID, "clientId", token)
		return ErrConversationChanged
	}

	current, stillPending := r.pending[token]
	if sendErr != nil {
		if !stillPending {
			// The feed already delivered the canonical copy, so the message is stored.
			metrics.Send(metrics.SendConfirmed)
			log.Warn("send: error after the feed confirmed the message", "clientId", token, "err", sendErr)
			return nil
		}
		metrics.Send(metrics.SendFailed)
		delete(r.pending, token)
		if entry, ok := r.store.GetByClientID(token); ok {
			current = entry
		}
		current.State = model.StateFailed
		_ = r.store.Upsert(current)
		r.store.Remove(current.ID)
		return &SendError{ClientID: token, Body: body, Err: sendErr}
	}

	metrics.Send(metrics.SendConfirmed)
	if !stillPending {
		return nil
	}
	canonical.ConversationID = conversationID
	r.promoteLocked(token, canonical)
	return nil
}

// promoteLocked replaces the pending entry for token with its canonical form.
func (r *Reconciler) promoteLocked(token string, canonical model.Message) {
	delete(r.pending, token)
	canonical.ClientID = token
	canonical.State = model.StateConfirmed
	if canonical.SenderDisplayName == "" {
		if entry, ok := r.store.GetByClientID(token); ok {
			canonical.SenderDisplayName = entry.SenderDisplayName
		}
	}
	_ = r.store.Upsert(canonical)
}

// ApplyFeedEvent merges one live feed event.
func (r *Reconciler) ApplyFeedEvent(ctx context.Context, ev model.FeedEvent) {
	r.mu.Lock()
	appended, ok := r.applyLocked(ev)
	epoch, profiles := r.epoch, r.profiles
	r.mu.Unlock()

	if ok {
		r.announce(ctx, epoch, profiles, []model.Message{appended})
	}
}

// applyLocked returns the message when the event appended a new entry.
func (r *Reconciler) applyLocked(ev model.FeedEvent) (model.Message, bool) {
	if ev.ConversationID != r.conversationID {
		metrics.FeedEvent(metrics.OutcomeStale)
		log.Debug("feed: dropping event for another conversation", "eventConversationId", ev.ConversationID, "conversationId", r.conversationID, "id", ev.ID)
		return model.Message{}, false
	}
	if r.resyncing {
		metrics.FeedEvent(metrics.OutcomeBuffered)
		r.buffered = append(r.buffered, ev)
		return model.Message{}, false
	}

	msg := ev.ToMessage()
	if existing, ok := r.store.Get(msg.ID); ok && !existing.IsPending() {
		metrics.FeedEvent(metrics.OutcomeDuplicate)
		log.Debug("feed: redelivered event", "id", msg.ID)
		return model.Message{}, false
	}
	if msg.ClientID != "" {
		if _, ok := r.pending[msg.ClientID]; ok {
			metrics.FeedEvent(metrics.OutcomePromoted)
			r.promoteLocked(msg.ClientID, msg)
			return model.Message{}, false
		}
		if existing, ok := r.store.GetByClientID(msg.ClientID); ok && !existing.IsPending() {
			metrics.FeedEvent(metrics.OutcomeDuplicate)
			return model.Message{}, false
		}
	}

	msg.SenderDisplayName, _ = r.profiles.Peek(msg.SenderID)
	_ = r.store.Upsert(msg)
	metrics.FeedEvent(metrics.OutcomeAppended)
	return msg, true
}

// BeginResync starts buffering feed events while a fresh backlog is fetched.
func (r *Reconciler) BeginResync() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resyncing = true
	r.buffered = nil
}

// beginResyncAt is BeginResync for a session bound to epoch; it fails once the
// reconciler has been reset for another session.
func (r *Reconciler) beginResyncAt(epoch uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.epoch != epoch {
		return false
	}
	r.resyncing = true
	r.buffered = nil
	return true
}

// CompleteResync rebuilds the log from backlog, keeps local entries that are still
// pending, and replays the events buffered since BeginResync.
func (r *Reconciler) CompleteResync(ctx context.Context, conversationID string, backlog []model.Message) error {
	r.mu.Lock()
	if conversationID != r.conversationID {
		r.mu.Unlock()
		return ErrConversationChanged
	}

	rebuilt := make([]model.Message, 0, len(backlog)+len(r.pending))
	for _, m := range backlog {
		if m.ConversationID != conversationID || m.ID == "" {
			continue
		}
		m.State = model.StateConfirmed
		if _, ok := r.pending[m.ClientID]; ok && m.ClientID != "" {
			delete(r.pending, m.ClientID)
		}
		m.SenderDisplayName, _ = r.profiles.Peek(m.SenderID)
		rebuilt = append(rebuilt, m)
	}
	// Snapshot lists pending entries in composition order; Load keeps that order.
	for _, m := range r.store.Snapshot() {
		if _, ok := r.pending[m.ClientID]; ok && m.IsPending() {
			rebuilt = append(rebuilt, m)
		}
	}
	r.store.Load(rebuilt)

	appended := r.replayLocked()
	epoch, profiles := r.epoch, r.profiles

	var unnamed []string
	seen := map[string]struct{}{}
	for _, m := range rebuilt {
		if _, ok := seen[m.SenderID]; ok || m.SenderDisplayName != "" {
			continue
		}
		seen[m.SenderID] = struct{}{}
		unnamed = append(unnamed, m.SenderID)
	}
	r.mu.Unlock()

	for _, senderID := range unnamed {
		r.fillDisplayName(ctx, epoch, profiles, senderID)
	}
	r.announce(ctx, epoch, profiles, appended)
	return nil
}

// AbortResync stops buffering and applies the buffered events to the existing log.
func (r *Reconciler) AbortResync(ctx context.Context) {
	r.abortResyncAt(ctx, 0)
}

// abortResyncAt aborts only if the reconciler is still at epoch; zero matches any epoch.
func (r *Reconciler) abortResyncAt(ctx context.Context, epoch uint64) {
	r.mu.Lock()
	if !r.resyncing || (epoch != 0 && epoch != r.epoch) {
		r.mu.Unlock()
		return
	}
	appended := r.replayLocked()
	epoch, profiles := r.epoch, r.profiles
	r.mu.Unlock()

	r.announce(ctx, epoch, profiles, appended)
}

func (r *Reconciler) replayLocked() []model.Message {
	r.resyncing = false
	buffered := r.buffered
	r.buffered = nil

	var appended []model.Message
	for _, ev := range buffered {
		if msg, ok := r.applyLocked(ev); ok {
			appended = append(appended, msg)
		}
	}
	return appended
}

// Discard closes the conversation: the log is emptied and late results are ignored.
func (r *Reconciler) Discard() {
	r.Reset("")
}

// discardEpoch discards the log only if no Reset happened since epoch.
func (r *Reconciler) discardEpoch(epoch uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.epoch == epoch {
		r.resetLocked("")
	}
}

// announce resolves sender names for newly appended messages and notifies peers.
func (r *Reconciler) announce(ctx context.Context, epoch uint64, profiles *ProfileCache, appended []model.Message) {
	for _, msg := range appended {
		name := msg.SenderDisplayName
		if name == "" {
			name = r.fillDisplayName(ctx, epoch, profiles, msg.SenderID)
		}
		r.mu.Lock()
		current := epoch == r.epoch
		r.mu.Unlock()
		if current {
			r.notifier.Notify(msg, name)
		}
	}
}

// fillDisplayName resolves senderID outside the lock and writes the name into the
// log if the conversation is still the same.
func (r *Reconciler) fillDisplayName(ctx context.Context, epoch uint64, profiles *ProfileCache, senderID string) string {
	name := profiles.Resolve(ctx, senderID)
	r.mu.Lock()
	defer r.mu.Unlock()
	if epoch == r.epoch {
		r.store.SetDisplayName(senderID, name)
	}
	return name
}

// report forwards a session status change to the UI.
func (r *Reconciler) report(status Status, err error) {
	if r.callbacks.OnStatus != nil {
		r.callbacks.OnStatus(status, err)
	}
}

// handler adapts ApplyFeedEvent to a feed subscription callback.
func (r *Reconciler) handler(ctx context.Context) registryfeed.EventHandler {
	return func(ev model.FeedEvent) { r.ApplyFeedEvent(ctx, ev) }
}
