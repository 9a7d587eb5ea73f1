package chat

import (
	"strings"

	"github.com/chirino/ticket-chat/internal/metrics"
	"github.com/chirino/ticket-chat/internal/model"
)

const (
	defaultPreviewLength = 80
	ellipsis             = "…"
)

// Notifier raises the "new message from peer" signal.
type Notifier struct {
	userID        string
	previewLength int
	onPeer        func(displayName, preview string)
}

func NewNotifier(userID string, previewLength int, onPeer func(displayName, preview string)) *Notifier {
	if previewLength <= 0 {
		previewLength = defaultPreviewLength
	}
	return &Notifier{userID: userID, previewLength: previewLength, onPeer: onPeer}
}

// Notify fires for msg unless the current user authored it. Callers guarantee that
// each canonical message is passed at most once.
func (n *Notifier) Notify(msg model.Message, displayName string) bool {
	if n == nil || n.onPeer == nil || msg.SenderID == n.userID {
		return false
	}
	n.onPeer(displayName, Preview(msg.Body, n.previewLength))
	metrics.Inc(metrics.PeerNotificationsTotal)
	return true
}

// Preview collapses whitespace and truncates body to at most maxRunes runes,
// ending in an ellipsis when shortened.
func Preview(body string, maxRunes int) string {
	flat := strings.Join(strings.Fields(body), " ")
	if maxRunes <= 0 {
		return flat
	}
	runes := []rune(flat)
	if len(runes) <= maxRunes {
		return flat
	}
	if maxRunes == 1 {
		return ellipsis
	}
	return strings.TrimRight(string(runes[:maxRunes-1]), " ") + ellipsis
}
