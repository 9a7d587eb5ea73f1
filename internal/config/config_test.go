package config

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseStaticProfiles(t *testing.T) {
	cfg := Config{StaticProfiles: " alice=Alice Doe, staff-1 = Support Desk ,broken,=nobody,bob="}
	require.Equal(t, map[string]string{
		"alice":   "Alice Doe",
		"staff-1": "Support Desk",
	}, cfg.ParseStaticProfiles())
}

func TestParseStaticProfiles_NilConfig(t *testing.T) {
	var cfg *Config
	require.Empty(t, cfg.ParseStaticProfiles())
}

func TestResolvedLogFile_ExpandsEnv(t *testing.T) {
	t.Setenv("TICKET_CHAT_TEST_DIR", "/var/log/chat")
	cfg := Config{LogFile: " ${TICKET_CHAT_TEST_DIR}/client.log "}
	require.Equal(t, "/var/log/chat/client.log", cfg.ResolvedLogFile())
}

func TestContextRoundTrip(t *testing.T) {
	cfg := DefaultConfig()
	ctx := WithContext(context.Background(), &cfg)
	require.Same(t, &cfg, FromContext(ctx))
	require.Nil(t, FromContext(context.Background()))
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.Equal(t, ModeProd, cfg.Mode)
	require.Equal(t, "memory", cfg.FeedType)
	require.Positive(t, cfg.SendTimeout)
	require.Less(t, cfg.ReconnectMinBackoff, cfg.ReconnectMaxBackoff)
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		cfg := DefaultConfig()
		cfg.UserID = "alice"
		return cfg
	}

	cfg := valid()
	require.NoError(t, cfg.Validate())

	cfg = valid()
	cfg.UserID = " "
	require.Error(t, cfg.Validate())

	cfg = valid()
	cfg.ReconnectMaxBackoff = cfg.ReconnectMinBackoff / 2
	require.Error(t, cfg.Validate())

	t.Run("postgres needs a shared feed outside testing mode", func(t *testing.T) {
		cfg := valid()
		cfg.DatastoreType = "postgres"
		require.ErrorContains(t, cfg.Validate(), "memory feed")

		cfg.FeedType = "redis"
		require.NoError(t, cfg.Validate())

		cfg.ProfileType = "static"
		require.Error(t, cfg.Validate())

		cfg.Mode = ModeTesting
		cfg.FeedType = "memory"
		require.NoError(t, cfg.Validate())
	})
}
