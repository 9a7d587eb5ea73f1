package chat_test

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/chirino/ticket-chat/internal/chat"
	"github.com/chirino/ticket-chat/internal/model"
	registryprofile "github.com/chirino/ticket-chat/internal/registry/profile"
	"github.com/stretchr/testify/require"
)

func composeAsync(rec *chat.Reconciler, body string) <-chan error {
	done := make(chan error, 1)
	go func() { done <- rec.ComposeAndSend(context.Background(), body) }()
	return done
}

func wait(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for ComposeAndSend")
		return nil
	}
}

// TestReconciler_EchoBeforeResponse covers compose, feed echo, redelivery, then the
// late send response: one confirmed "Hi" throughout.
func TestReconciler_EchoBeforeResponse(t *testing.T) {
	u := &ui{}
	sender := newGatedSender()
	rec := newReconciler(t, sender, u)
	rec.Reset("ticket-1")

	done := composeAsync(rec, "Hi")
	req := sender.next(t)
	require.Equal(t, "c1", req.ClientID)

	snap := rec.Snapshot()
	require.Len(t, snap, 1)
	require.Equal(t, model.StatePending, snap[0].State)
	require.Equal(t, "Hi", snap[0].Body)

	echo := event("srv1", "A", "Hi", t0.Add(time.Second))
	echo.ClientID = "c1"
	rec.ApplyFeedEvent(context.Background(), echo)

	require.Eventually(t, func() bool {
		snap := rec.Snapshot()
		return len(snap) == 1 && snap[0].SenderDisplayName == "Alice"
	}, 2*time.Second, 5*time.Millisecond)
	snap = rec.Snapshot()
	require.Len(t, snap, 1)
	require.Equal(t, "srv1", snap[0].ID)
	require.Equal(t, model.StateConfirmed, snap[0].State)

	rec.ApplyFeedEvent(context.Background(), echo)
	require.Equal(t, snap, rec.Snapshot())

	req.succeed("srv1", t0.Add(time.Second))
	require.NoError(t, wait(t, done))
	require.Equal(t, snap, rec.Snapshot())
	require.Empty(t, u.notified())
}

// TestReconciler_ResponseBeforeEcho verifies the response promotes and the echo is a no-op.
func TestReconciler_ResponseBeforeEcho(t *testing.T) {
	u := &ui{}
	sender := newGatedSender()
	rec := newReconciler(t, sender, u)
	rec.Reset("ticket-1")

	done := composeAsync(rec, "hello")
	req := sender.next(t)
	req.succeed("srv7", t0.Add(2*time.Second))
	require.NoError(t, wait(t, done))

	echo := event("srv7", "A", "hello", t0.Add(2*time.Second))
	echo.ClientID = req.ClientID
	rec.ApplyFeedEvent(context.Background(), echo)

	snap := rec.Snapshot()
	require.Len(t, snap, 1)
	require.Equal(t, "srv7", snap[0].ID)
	require.Equal(t, model.StateConfirmed, snap[0].State)
}

// TestReconciler_IdenticalBodiesStayDistinct verifies that two sends of the same text
// are two messages.
func TestReconciler_IdenticalBodiesStayDistinct(t *testing.T) {
	u := &ui{}
	sender := newGatedSender()
	rec := newReconciler(t, sender, u)
	rec.Reset("ticket-1")

	first := composeAsync(rec, "ok")
	r1 := sender.next(t)
	second := composeAsync(rec, "ok")
	r2 := sender.next(t)
	require.NotEqual(t, r1.ClientID, r2.ClientID)

	e1 := event("srv1", "A", "ok", t0.Add(time.Second))
	e1.ClientID = r1.ClientID
	rec.ApplyFeedEvent(context.Background(), e1)

	snap := rec.Snapshot()
	require.Len(t, snap, 2)
	require.Equal(t, model.StateConfirmed, snap[0].State)
	require.Equal(t, model.StatePending, snap[1].State)

	r1.succeed("srv1", t0.Add(time.Second))
	r2.succeed("srv2", t0.Add(2*time.Second))
	require.NoError(t, wait(t, first))
	require.NoError(t, wait(t, second))
	require.Equal(t, []string{"srv1", "srv2"}, ids(rec.Snapshot()))
}

// TestReconciler_RollbackOnFailure verifies a rejected send leaves no trace.
func TestReconciler_RollbackOnFailure(t *testing.T) {
	u := &ui{}
	sender := newGatedSender()
	rec := newReconciler(t, sender, u)
	rec.Reset("ticket-1")

	done := composeAsync(rec, "lost")
	sender.next(t).fail(errors.New("connection reset"))

	err := wait(t, done)
	require.ErrorIs(t, err, chat.ErrSendFailed)
	var sendErr *chat.SendError
	require.True(t, errors.As(err, &sendErr))
	require.Equal(t, "lost", sendErr.Body)
	require.Equal(t, "c1", sendErr.ClientID)

	require.Empty(t, rec.Snapshot())
	require.True(t, u.sawState(model.StateFailed))
}

// TestReconciler_FailureAfterEcho verifies the feed's confirmation wins over a late error.
func TestReconciler_FailureAfterEcho(t *testing.T) {
	u := &ui{}
	sender := newGatedSender()
	rec := newReconciler(t, sender, u)
	rec.Reset("ticket-1")

	done := composeAsync(rec, "made it")
	req := sender.next(t)
	echo := event("srv3", "A", "made it", t0)
	echo.ClientID = req.ClientID
	rec.ApplyFeedEvent(context.Background(), echo)
	req.fail(context.DeadlineExceeded)

	require.NoError(t, wait(t, done))
	require.Equal(t, []string{"srv3"}, ids(rec.Snapshot()))
}

// TestReconciler_ComposeValidation covers the synchronous rejections.
func TestReconciler_ComposeValidation(t *testing.T) {
	rec := newReconciler(t, newGatedSender(), &ui{})
	require.ErrorIs(t, rec.ComposeAndSend(context.Background(), "hi"), chat.ErrNoConversation)
	rec.Reset("ticket-1")
	require.ErrorIs(t, rec.ComposeAndSend(context.Background(), "  \n"), chat.ErrEmptyBody)
	require.Empty(t, rec.Snapshot())
}

// TestReconciler_SendDoesNotWaitForOwnName verifies the send starts while the profile
// directory is still resolving the sender's name, and the name lands once it answers.
func TestReconciler_SendDoesNotWaitForOwnName(t *testing.T) {
	release := make(chan struct{})
	sender := newGatedSender()
	rec, err := chat.NewReconciler(chat.ReconcilerOptions{
		UserID: "A",
		Sender: sender,
		Directory: registryprofile.DirectoryFunc(func(ctx context.Context, _ string) (string, bool, error) {
			select {
			case <-release:
				return "Alice", true, nil
			case <-ctx.Done():
				return "", false, ctx.Err()
			}
		}),
		NewID: sequentialIDs("c"),
		Now:   func() time.Time { return t0 },
	})
	require.NoError(t, err)
	rec.Reset("ticket-1")

	done := composeAsync(rec, "urgent")
	req := sender.next(t)
	req.succeed("srv1", t0)
	require.NoError(t, wait(t, done))

	snap := rec.Snapshot()
	require.Len(t, snap, 1)
	require.Equal(t, model.StateConfirmed, snap[0].State)
	require.Empty(t, snap[0].SenderDisplayName)

	close(release)
	require.Eventually(t, func() bool {
		return rec.Snapshot()[0].SenderDisplayName == "Alice"
	}, 2*time.Second, 5*time.Millisecond)
}

// TestReconciler_StaleEventsIgnored verifies events for another conversation do not mutate the log.
func TestReconciler_StaleEventsIgnored(t *testing.T) {
	u := &ui{}
	rec := newReconciler(t, newGatedSender(), u)
	rec.Reset("ticket-B")

	ev := event("srv1", "B", "for A", t0)
	ev.ConversationID = "ticket-A"
	rec.ApplyFeedEvent(context.Background(), ev)

	require.Empty(t, rec.Snapshot())
	require.Empty(t, u.notified())
}

// TestReconciler_PeerNotificationOnce covers a peer message and its redelivery.
func TestReconciler_PeerNotificationOnce(t *testing.T) {
	u := &ui{}
	rec := newReconciler(t, newGatedSender(), u)
	rec.Reset("ticket-1")

	ev := event("srv9", "B", "Hello back", t0)
	rec.ApplyFeedEvent(context.Background(), ev)
	rec.ApplyFeedEvent(context.Background(), ev)

	snap := rec.Snapshot()
	require.Len(t, snap, 1)
	require.Equal(t, "Bob", snap[0].SenderDisplayName)
	require.Equal(t, model.StateConfirmed, snap[0].State)
	require.Equal(t, []string{"Bob: Hello back"}, u.notified())
}

// TestReconciler_OwnMessageFromOtherDeviceAppended verifies an echo without a local
// pending entry is appended without a notification.
func TestReconciler_OwnMessageFromOtherDeviceAppended(t *testing.T) {
	u := &ui{}
	rec := newReconciler(t, newGatedSender(), u)
	rec.Reset("ticket-1")

	ev := event("srv4", "A", "from my phone", t0)
	ev.ClientID = "phone-token"
	rec.ApplyFeedEvent(context.Background(), ev)
	rec.ApplyFeedEvent(context.Background(), ev)

	require.Equal(t, []string{"srv4"}, ids(rec.Snapshot()))
	require.Empty(t, u.notified())
}

// TestReconciler_PendingOrderStable verifies two pending sends keep composition order
// whatever order their sends complete in.
func TestReconciler_PendingOrderStable(t *testing.T) {
	sender := newGatedSender()
	clock := t0
	rec, err := chat.NewReconciler(chat.ReconcilerOptions{
		UserID: "A",
		Sender: sender,
		NewID:  sequentialIDs("c"),
		// Later compositions get earlier local timestamps.
		Now: func() time.Time {
			clock = clock.Add(-time.Hour)
			return clock
		},
	})
	require.NoError(t, err)
	rec.Reset("ticket-1")

	d1 := composeAsync(rec, "P1")
	r1 := sender.next(t)
	d2 := composeAsync(rec, "P2")
	r2 := sender.next(t)

	bodies := func() []string {
		var out []string
		for _, m := range rec.Snapshot() {
			out = append(out, m.Body)
		}
		return out
	}
	require.Equal(t, []string{"P1", "P2"}, bodies())

	r2.succeed("srv2", t0)
	require.NoError(t, wait(t, d2))
	require.Equal(t, []string{"P2", "P1"}, bodies())

	r1.fail(errors.New("boom"))
	require.Error(t, wait(t, d1))
	require.Equal(t, []string{"P2"}, bodies())
}

// TestReconciler_MergeIsOrderIndependent applies shuffled, duplicated feed events to
// fresh reconcilers and checks they converge on one snapshot.
func TestReconciler_MergeIsOrderIndependent(t *testing.T) {
	events := []model.FeedEvent{
		event("srv1", "B", "first", t0),
		event("srv2", "A", "second", t0.Add(time.Second)),
		event("srv3", "B", "tie a", t0.Add(2*time.Second)),
		event("srv0", "B", "tie b", t0.Add(2*time.Second)),
		event("srv5", "C", "unknown sender", t0.Add(3*time.Second)),
	}
	events[1].ClientID = "other-device"
	withDupes := append(append([]model.FeedEvent{}, events...), events[0], events[2], events[1])

	apply := func(seq []model.FeedEvent) []model.Message {
		rec := newReconciler(t, newGatedSender(), &ui{})
		rec.Reset("ticket-1")
		for _, ev := range seq {
			rec.ApplyFeedEvent(context.Background(), ev)
		}
		return rec.Snapshot()
	}

	want := apply(events)
	require.Equal(t, []string{"srv1", "srv2", "srv0", "srv3", "srv5"}, ids(want))
	require.Equal(t, chat.DefaultPlaceholder, want[4].SenderDisplayName)

	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 50; i++ {
		seq := append([]model.FeedEvent{}, withDupes...)
		rng.Shuffle(len(seq), func(a, b int) { seq[a], seq[b] = seq[b], seq[a] })
		require.Equal(t, want, apply(seq), "permutation %d", i)
	}
}

// TestReconciler_SendAfterReset verifies a send result from a closed conversation is
// discarded.
func TestReconciler_SendAfterReset(t *testing.T) {
	u := &ui{}
	sender := newGatedSender()
	rec := newReconciler(t, sender, u)
	rec.Reset("ticket-1")

	done := composeAsync(rec, "late")
	req := sender.next(t)
	rec.Reset("ticket-2")
	req.succeed("srv1", t0)

	require.ErrorIs(t, wait(t, done), chat.ErrConversationChanged)
	require.Empty(t, rec.Snapshot())
	require.Equal(t, "ticket-2", rec.ConversationID())
}

// TestReconciler_ResyncBuffersEvents verifies events delivered while the backlog is
// fetched are applied after the rebuild, and local pending entries survive.
func TestReconciler_ResyncBuffersEvents(t *testing.T) {
	u := &ui{}
	sender := newGatedSender()
	rec := newReconciler(t, sender, u)
	rec.Reset("ticket-1")

	d1 := composeAsync(rec, "still sending")
	r1 := sender.next(t)
	d2 := composeAsync(rec, "already stored")
	r2 := sender.next(t)

	rec.BeginResync()
	rec.ApplyFeedEvent(context.Background(), event("srv10", "B", "during fetch", t0.Add(time.Minute)))
	require.Len(t, rec.Snapshot(), 2)

	backlog := []model.Message{
		confirmed("srv8", 0),
		{
			ID: "srv9", ClientID: r2.ClientID, ConversationID: "ticket-1", SenderID: "A",
			Body: "already stored", CreatedAt: t0.Add(time.Second), State: model.StateConfirmed,
		},
		confirmed("srv10", time.Minute),
	}
	backlog[2].SenderID = "B"
	backlog[2].Body = "during fetch"
	require.NoError(t, rec.CompleteResync(context.Background(), "ticket-1", backlog))

	snap := rec.Snapshot()
	require.Equal(t, []string{"srv8", "srv9", "srv10", r1.ClientID}, ids(snap))
	require.Equal(t, model.StatePending, snap[3].State)
	require.Equal(t, "Alice", snap[1].SenderDisplayName)
	require.Equal(t, "Bob", snap[2].SenderDisplayName)
	// Messages already in the backlog are history, not new arrivals.
	require.Empty(t, u.notified())

	r2.succeed("srv9", t0.Add(time.Second))
	require.NoError(t, wait(t, d2))
	r1.succeed("srv11", t0.Add(2*time.Minute))
	require.NoError(t, wait(t, d1))
	require.Equal(t, []string{"srv8", "srv9", "srv10", "srv11"}, ids(rec.Snapshot()))
}

// TestReconciler_AbortResyncReplays verifies buffered events are not lost when the
// backlog fetch fails.
func TestReconciler_AbortResyncReplays(t *testing.T) {
	u := &ui{}
	rec := newReconciler(t, newGatedSender(), u)
	rec.Reset("ticket-1")

	rec.BeginResync()
	rec.ApplyFeedEvent(context.Background(), event("srv1", "B", "buffered", t0))
	require.Empty(t, rec.Snapshot())

	rec.AbortResync(context.Background())
	require.Equal(t, []string{"srv1"}, ids(rec.Snapshot()))
	require.Equal(t, []string{"Bob: buffered"}, u.notified())
}

// TestReconciler_CompleteResyncStale verifies a backlog for a previous conversation is rejected.
func TestReconciler_CompleteResyncStale(t *testing.T) {
	rec := newReconciler(t, newGatedSender(), &ui{})
	rec.Reset("ticket-2")
	err := rec.CompleteResync(context.Background(), "ticket-1", []model.Message{confirmed("srv1", 0)})
	require.ErrorIs(t, err, chat.ErrConversationChanged)
	require.Empty(t, rec.Snapshot())
}

func TestNewReconciler_RequiresUserAndSender(t *testing.T) {
	_, err := chat.NewReconciler(chat.ReconcilerOptions{Sender: newGatedSender()})
	require.Error(t, err)
	_, err = chat.NewReconciler(chat.ReconcilerOptions{UserID: "A"})
	require.Error(t, err)
}
