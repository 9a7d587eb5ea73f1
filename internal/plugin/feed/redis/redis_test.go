package redis_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/chirino/ticket-chat/internal/model"
	"github.com/chirino/ticket-chat/internal/plugin/feed/redis"
	registryfeed "github.com/chirino/ticket-chat/internal/registry/feed"
	"github.com/chirino/ticket-chat/internal/testutil/testredis"
	"github.com/stretchr/testify/require"
)

// TestPubSub verifies delivery on the conversation channel and that Close stops it.
func TestPubSub(t *testing.T) {
	ctx := context.Background()
	feed, err := redis.LoadFromURL(ctx, testredis.Start(t), "")
	require.NoError(t, err)
	defer feed.Close()

	var mu sync.Mutex
	var got []model.FeedEvent
	statuses := make(chan registryfeed.Status, 4)
	h, err := feed.Open(ctx, "ticket-1", func(ev model.FeedEvent) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, ev)
	}, func(s registryfeed.Status, _ error) { statuses <- s })
	require.NoError(t, err)
	require.Equal(t, registryfeed.StatusConnected, <-statuses)

	at := time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)
	msg := model.Message{ID: "srv1", ConversationID: "ticket-1", SenderID: "staff", Body: "On it", CreatedAt: at}
	require.NoError(t, feed.Publish(ctx, msg))
	require.NoError(t, feed.Publish(ctx, model.Message{ID: "srv2", ConversationID: "ticket-9", SenderID: "staff", Body: "elsewhere", CreatedAt: at}))

	count := func() int {
		mu.Lock()
		defer mu.Unlock()
		return len(got)
	}
	require.Eventually(t, func() bool { return count() == 1 }, 5*time.Second, 10*time.Millisecond)
	require.Equal(t, "srv1", got[0].ID)

	require.NoError(t, h.Close())
	require.NoError(t, feed.Publish(ctx, msg))
	time.Sleep(100 * time.Millisecond)
	require.Equal(t, 1, count())
	require.Empty(t, statuses)
}
