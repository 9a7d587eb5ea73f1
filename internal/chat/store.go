package chat

import (
	"cmp"
	"errors"
	"slices"
	"sync"

	"github.com/chirino/ticket-chat/internal/model"
)

var (
	errMissingID = errors.New("chat: message id is required")
	// ErrBackwardTransition is returned by Upsert when the entry with the same identity
	// is in a state that cannot move to the new one, such as confirmed to pending.
	ErrBackwardTransition = errors.New("chat: delivery state cannot move backwards")
)

// Store is the ordered in-memory log of one open conversation.
//
// Entries are keyed by logical identity (see model.Message.IdentityKey), so a pending
// entry and its confirmed counterpart occupy a single slot. Snapshot order is confirmed
// entries by (CreatedAt, ID), followed by pending entries in the order they were first
// inserted.
//
// Every mutation invokes the change hook with a fresh snapshot. The hook runs on the
// mutating goroutine after the store lock is released.
type Store struct {
	mu       sync.RWMutex
	entries  map[string]*storeEntry // identity key -> entry
	byID     map[string]string      // message id -> identity key
	seq      uint64
	onChange func([]model.Message)
}

type storeEntry struct {
	msg model.Message
	seq uint64
}

// NewStore creates an empty store. onChange may be nil.
func NewStore(onChange func([]model.Message)) *Store {
	return &Store{
		entries:  map[string]*storeEntry{},
		byID:     map[string]string{},
		onChange: onChange,
	}
}

// Load replaces the whole log. Entries without an id are skipped.
func (s *Store) Load(initial []model.Message) {
	s.mu.Lock()
	s.entries = make(map[string]*storeEntry, len(initial))
	s.byID = make(map[string]string, len(initial))
	for _, msg := range initial {
		if msg.ID == "" {
			continue
		}
		s.upsertLocked(msg)
	}
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.changed(snap)
}

// Upsert inserts msg or replaces the entry with the same logical identity.
// Any other entry already bearing msg.ID is evicted. A replacement that would move
// the entry's delivery state backwards is skipped with ErrBackwardTransition.
func (s *Store) Upsert(msg model.Message) error {
	if msg.ID == "" {
		return errMissingID
	}
	s.mu.Lock()
	if !s.upsertLocked(msg) {
		s.mu.Unlock()
		return ErrBackwardTransition
	}
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.changed(snap)
	return nil
}

func (s *Store) upsertLocked(msg model.Message) bool {
	key := msg.IdentityKey()
	if existing, ok := s.entries[key]; ok && !existing.msg.State.CanTransitionTo(msg.State) {
		return false
	}
	if otherKey, ok := s.byID[msg.ID]; ok && otherKey != key {
		delete(s.entries, otherKey)
	}
	if existing, ok := s.entries[key]; ok {
		if existing.msg.ID != msg.ID {
			delete(s.byID, existing.msg.ID)
		}
		existing.msg = msg
	} else {
		s.seq++
		s.entries[key] = &storeEntry{msg: msg, seq: s.seq}
	}
	s.byID[msg.ID] = key
	return true
}

// Remove deletes the entry with the given id and reports whether one existed.
func (s *Store) Remove(id string) bool {
	s.mu.Lock()
	key, ok := s.byID[id]
	if !ok {
		s.mu.Unlock()
		return false
	}
	delete(s.byID, id)
	delete(s.entries, key)
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.changed(snap)
	return true
}

// SetDisplayName fills in the sender display name on every entry from senderID.
// It returns the number of entries changed.
func (s *Store) SetDisplayName(senderID, name string) int {
	s.mu.Lock()
	n := 0
	for _, e := range s.entries {
		if e.msg.SenderID == senderID && e.msg.SenderDisplayName != name {
			e.msg.SenderDisplayName = name
			n++
		}
	}
	if n == 0 {
		s.mu.Unlock()
		return 0
	}
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.changed(snap)
	return n
}

// Get returns the entry with the given id.
func (s *Store) Get(id string) (model.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	key, ok := s.byID[id]
	if !ok {
		return model.Message{}, false
	}
	return s.entries[key].msg, true
}

// GetByClientID returns the entry carrying the given idempotency token.
func (s *Store) GetByClientID(clientID string) (model.Message, bool) {
	if clientID == "" {
		return model.Message{}, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[model.Message{ClientID: clientID}.IdentityKey()]
	if !ok {
		return model.Message{}, false
	}
	return e.msg, true
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Snapshot returns the ordered log.
func (s *Store) Snapshot() []model.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

func (s *Store) snapshotLocked() []model.Message {
	sorted := make([]*storeEntry, 0, len(s.entries))
	for _, e := range s.entries {
		sorted = append(sorted, e)
	}
	slices.SortFunc(sorted, compareEntries)
	out := make([]model.Message, len(sorted))
	for i, e := range sorted {
		out[i] = e.msg
	}
	return out
}

func compareEntries(a, b *storeEntry) int {
	ap, bp := a.msg.IsPending(), b.msg.IsPending()
	switch {
	case ap && bp:
		return cmp.Compare(a.seq, b.seq)
	case ap:
		return 1
	case bp:
		return -1
	}
	if c := a.msg.CreatedAt.Compare(b.msg.CreatedAt); c != 0 {
		return c
	}
	return cmp.Compare(a.msg.ID, b.msg.ID)
}

func (s *Store) changed(snap []model.Message) {
	if s.onChange != nil {
		s.onChange(snap)
	}
}
