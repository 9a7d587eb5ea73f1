package tui

import (
	"sync"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/chirino/ticket-chat/internal/chat"
	"github.com/chirino/ticket-chat/internal/model"
)

// bridgeMsg carries everything the reconciler reported since the last delivery.
type bridgeMsg struct {
	snapshot    []model.Message
	hasSnapshot bool
	notices     []string
	status      chat.Status
	statusErr   error
	hasStatus   bool
}

// bridge hands reconciler callbacks to the bubbletea loop. Callbacks run with the
// reconciler lock held, so they only record state and never block; the view pulls
// the coalesced result with next().
type bridge struct {
	wake chan struct{}
	done chan struct{}

	mu        sync.Mutex
	pending   bridgeMsg
	closeOnce sync.Once
}

func newBridge() *bridge {
	return &bridge{wake: make(chan struct{}, 1), done: make(chan struct{})}
}

func (b *bridge) callbacks() chat.Callbacks {
	return chat.Callbacks{
		OnChange: func(snap []model.Message) {
			b.update(func(m *bridgeMsg) {
				m.snapshot = snap
				m.hasSnapshot = true
			})
		},
		OnPeerMessage: func(name, preview string) {
			b.update(func(m *bridgeMsg) {
				m.notices = append(m.notices, name+": "+preview)
			})
		},
		OnStatus: func(status chat.Status, err error) {
			b.update(func(m *bridgeMsg) {
				m.status = status
				m.statusErr = err
				m.hasStatus = true
			})
		},
	}
}

func (b *bridge) update(fn func(*bridgeMsg)) {
	b.mu.Lock()
	fn(&b.pending)
	b.mu.Unlock()
	select {
	case b.wake <- struct{}{}:
	default:
	}
}

func (b *bridge) drain() bridgeMsg {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.pending
	b.pending = bridgeMsg{}
	return out
}

// next waits for the next batch of callbacks. It returns nil once the bridge is closed.
func (b *bridge) next() tea.Cmd {
	return func() tea.Msg {
		select {
		case <-b.done:
			return nil
		case <-b.wake:
			return b.drain()
		}
	}
}

func (b *bridge) close() {
	b.closeOnce.Do(func() { close(b.done) })
}
