package config

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"
)

// ListenerConfig holds the network settings for the management listener.
type ListenerConfig struct {
	Port              int
	ReadHeaderTimeout time.Duration
}

type contextKey struct{}

// WithContext returns a new context carrying the given Config.
func WithContext(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, contextKey{}, cfg)
}

// FromContext retrieves the Config from the context.
func FromContext(ctx context.Context) *Config {
	cfg, _ := ctx.Value(contextKey{}).(*Config)
	return cfg
}

const (
	ModeProd    = "prod"
	ModeTesting = "testing"
)

// Config holds all configuration for the ticket chat client.
type Config struct {
	// Mode is "prod" (default) or "testing".
	// In testing mode the static profile directory and the in-process feed are allowed
	// to be combined with a persistent datastore.
	Mode string

	// Database
	DBURL string

	// Datastore backend type
	DatastoreType string // "postgres" or "sqlite"

	// Run datastore migrations on startup.
	DatastoreMigrateAtStart bool

	// DB pool
	DBMaxOpenConns int
	DBMaxIdleConns int

	// Live feed backend type
	FeedType string // "memory", "redis", or "postgres"

	// Redis
	RedisURL string

	// RedisChannelPrefix is prepended to the conversation id to form the pub/sub channel.
	RedisChannelPrefix string

	// PostgresNotifyChannel is the LISTEN/NOTIFY channel carrying message inserts.
	PostgresNotifyChannel string

	// Profile directory type
	ProfileType string // "db" or "static"

	// StaticProfiles is a comma-separated list of userId=Display Name pairs used by the
	// "static" profile directory.
	StaticProfiles string

	// ProfileCacheTTL enables a process-wide display-name cache shared across conversations.
	// Zero disables it; each conversation still memoizes its own lookups.
	ProfileCacheTTL time.Duration

	// ProfilePlaceholder is shown when a sender's display name cannot be resolved.
	ProfilePlaceholder string

	// Identity of the local participant and the conversation (support ticket) to open.
	UserID         string
	ConversationID string

	// SendTimeout bounds a single durable send round trip.
	SendTimeout time.Duration

	// BacklogLimit caps the initial bulk fetch.
	BacklogLimit int

	// Reconnect policy for the live feed.
	ReconnectMinBackoff time.Duration
	ReconnectMaxBackoff time.Duration

	// PreviewLength is the maximum number of runes in a peer notification preview.
	PreviewLength int

	// MetricsLabels is a comma-separated list of key=value pairs added as
	// constant labels to all Prometheus metrics. Values support ${VAR} expansion.
	// Defaults to "service=ticket-chat".
	MetricsLabels string

	// ManagementListener serves /health, /ready, /metrics. Port 0 disables it.
	ManagementListener ListenerConfig

	// Logging
	LogLevel string
	LogFile  string
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Mode:                    ModeProd,
		DatastoreType:           "sqlite",
		DBURL:                   "file:ticket-chat.db?_foreign_keys=on",
		DatastoreMigrateAtStart: true,
		DBMaxOpenConns:          10,
		DBMaxIdleConns:          2,
		FeedType:                "memory",
		RedisChannelPrefix:      "ticket-chat:messages:",
		PostgresNotifyChannel:   "ticket_messages",
		ProfileType:             "db",
		ProfileCacheTTL:         5 * time.Minute,
		ProfilePlaceholder:      "Unknown user",
		SendTimeout:             10 * time.Second,
		BacklogLimit:            200,
		ReconnectMinBackoff:     500 * time.Millisecond,
		ReconnectMaxBackoff:     30 * time.Second,
		PreviewLength:           80,
		MetricsLabels:           "service=ticket-chat",
		ManagementListener: ListenerConfig{
			ReadHeaderTimeout: 5 * time.Second,
		},
		LogLevel: "info",
	}
}

// Validate rejects combinations that would silently lose messages. Outside testing
// mode a shared postgres datastore needs a feed other processes publish to, and
// real profiles.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.UserID) == "" {
		return fmt.Errorf("a user id is required")
	}
	if c.SendTimeout <= 0 {
		return fmt.Errorf("send timeout must be positive, got %s", c.SendTimeout)
	}
	if c.ReconnectMaxBackoff < c.ReconnectMinBackoff {
		return fmt.Errorf("reconnect max backoff %s is below min backoff %s", c.ReconnectMaxBackoff, c.ReconnectMinBackoff)
	}
	if c.Mode == ModeTesting || c.DatastoreType != "postgres" {
		return nil
	}
	if c.FeedType == "memory" {
		return fmt.Errorf("the memory feed only sees messages sent by this process; use --feed-kind=postgres or redis with a postgres datastore, or --mode=testing")
	}
	if c.ProfileType == "static" {
		return fmt.Errorf("static profiles are only allowed with a postgres datastore in testing mode")
	}
	return nil
}

// ParseStaticProfiles parses StaticProfiles into a userId → display name map.
// Malformed pairs are skipped.
func (c *Config) ParseStaticProfiles() map[string]string {
	out := map[string]string{}
	if c == nil {
		return out
	}
	for _, pair := range strings.Split(c.StaticProfiles, ",") {
		idx := strings.IndexByte(pair, '=')
		if idx <= 0 {
			continue
		}
		id := strings.TrimSpace(pair[:idx])
		name := strings.TrimSpace(pair[idx+1:])
		if id == "" || name == "" {
			continue
		}
		out[id] = name
	}
	return out
}

// ResolvedLogFile returns the configured log file, or an empty string when logs go to stderr.
func (c *Config) ResolvedLogFile() string {
	if c == nil {
		return ""
	}
	return os.ExpandEnv(strings.TrimSpace(c.LogFile))
}
