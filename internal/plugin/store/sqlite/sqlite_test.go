package sqlite_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/chirino/ticket-chat/internal/config"
	"github.com/chirino/ticket-chat/internal/plugin/store/gormstore"
	_ "github.com/chirino/ticket-chat/internal/plugin/store/sqlite"
	registrymigrate "github.com/chirino/ticket-chat/internal/registry/migrate"
	registrystore "github.com/chirino/ticket-chat/internal/registry/store"
	"github.com/stretchr/testify/require"
)

func setup(t *testing.T) (context.Context, *gormstore.Store) {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.DatastoreType = "sqlite"
	cfg.DBURL = filepath.Join(t.TempDir(), "chat.db")
	ctx := config.WithContext(context.Background(), &cfg)

	ran, err := registrymigrate.RunAll(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, ran)

	loader, err := registrystore.Select("sqlite")
	require.NoError(t, err)
	s, err := loader(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return ctx, s.(*gormstore.Store)
}

// TestInsertMessage_AssignsCanonicalFields verifies the server-assigned id and timestamp.
func TestInsertMessage_AssignsCanonicalFields(t *testing.T) {
	ctx, s := setup(t)
	now := time.Date(2026, 6, 1, 8, 0, 0, 123456789, time.UTC)
	s.WithClock(func() time.Time { return now })

	msg, err := s.InsertMessage(ctx, registrystore.InsertRequest{
		ConversationID: "ticket-1", SenderID: "A", Body: "Hi", ClientID: "c1",
	})
	require.NoError(t, err)
	require.NotEmpty(t, msg.ID)
	require.NotEqual(t, "c1", msg.ID)
	require.Equal(t, "c1", msg.ClientID)
	require.Equal(t, now.Truncate(time.Microsecond), msg.CreatedAt)

	listed, err := s.ListMessages(ctx, "ticket-1", 10)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	require.Equal(t, msg.ID, listed[0].ID)
	require.True(t, msg.CreatedAt.Equal(listed[0].CreatedAt))
}

// TestInsertMessage_Idempotent verifies a retried insert returns the original row.
func TestInsertMessage_Idempotent(t *testing.T) {
	ctx, s := setup(t)
	req := registrystore.InsertRequest{ConversationID: "ticket-1", SenderID: "A", Body: "Hi", ClientID: "c1"}

	first, err := s.InsertMessage(ctx, req)
	require.NoError(t, err)
	second, err := s.InsertMessage(ctx, req)
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)

	// The same token in another conversation is a different message.
	req.ConversationID = "ticket-2"
	other, err := s.InsertMessage(ctx, req)
	require.NoError(t, err)
	require.NotEqual(t, first.ID, other.ID)

	listed, err := s.ListMessages(ctx, "ticket-1", 10)
	require.NoError(t, err)
	require.Len(t, listed, 1)
}

// TestInsertMessage_TokenReuseConflict verifies a token cannot be reused for a different body.
func TestInsertMessage_TokenReuseConflict(t *testing.T) {
	ctx, s := setup(t)
	_, err := s.InsertMessage(ctx, registrystore.InsertRequest{ConversationID: "ticket-1", SenderID: "A", Body: "Hi", ClientID: "c1"})
	require.NoError(t, err)

	_, err = s.InsertMessage(ctx, registrystore.InsertRequest{ConversationID: "ticket-1", SenderID: "A", Body: "Bye", ClientID: "c1"})
	var conflict *registrystore.ConflictError
	require.True(t, errors.As(err, &conflict))
	require.Equal(t, registrystore.ConflictCodeClientIDReused, conflict.Code)
}

// TestInsertMessage_WithoutToken verifies messages from clients without tokens are all kept.
func TestInsertMessage_WithoutToken(t *testing.T) {
	ctx, s := setup(t)
	for i := 0; i < 2; i++ {
		_, err := s.InsertMessage(ctx, registrystore.InsertRequest{ConversationID: "ticket-1", SenderID: "staff", Body: "same"})
		require.NoError(t, err)
	}
	listed, err := s.ListMessages(ctx, "ticket-1", 0)
	require.NoError(t, err)
	require.Len(t, listed, 2)
	require.Empty(t, listed[0].ClientID)
}

func TestInsertMessage_Validation(t *testing.T) {
	ctx, s := setup(t)
	_, err := s.InsertMessage(ctx, registrystore.InsertRequest{ConversationID: "ticket-1", SenderID: "A", Body: "  "})
	var validation *registrystore.ValidationError
	require.True(t, errors.As(err, &validation))
	require.Equal(t, "body", validation.Field)
}

// TestListMessages_LimitKeepsNewest verifies the backlog window is the most recent
// messages, oldest first.
func TestListMessages_LimitKeepsNewest(t *testing.T) {
	ctx, s := setup(t)
	base := time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)
	for i, body := range []string{"one", "two", "three", "four"} {
		at := base.Add(time.Duration(i) * time.Minute)
		s.WithClock(func() time.Time { return at })
		_, err := s.InsertMessage(ctx, registrystore.InsertRequest{ConversationID: "ticket-1", SenderID: "A", Body: body})
		require.NoError(t, err)
	}

	listed, err := s.ListMessages(ctx, "ticket-1", 2)
	require.NoError(t, err)
	require.Len(t, listed, 2)
	require.Equal(t, "three", listed[0].Body)
	require.Equal(t, "four", listed[1].Body)
}

// TestDisplayName verifies profile lookups through the same store.
func TestDisplayName(t *testing.T) {
	ctx, s := setup(t)
	require.NoError(t, s.UpsertProfile(ctx, "staff", "Support"))
	require.NoError(t, s.UpsertProfile(ctx, "staff", "Support Desk"))
	require.NoError(t, s.UpsertProfile(ctx, "blank", ""))

	name, ok, err := s.DisplayName(ctx, "staff")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "Support Desk", name)

	_, ok, err = s.DisplayName(ctx, "blank")
	require.NoError(t, err)
	require.False(t, ok)

	_, ok, err = s.DisplayName(ctx, "missing")
	require.NoError(t, err)
	require.False(t, ok)
}
