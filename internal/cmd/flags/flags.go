// Package flags holds the command line flags shared by the chat and send commands.
package flags

import (
	"github.com/chirino/ticket-chat/internal/config"
	"github.com/urfave/cli/v3"
)

// Backend returns the datastore, live feed and profile directory flags.
func Backend(cfg *config.Config) []cli.Flag {
	return []cli.Flag{

		// ── Datastore ─────────────────────────────────────────────
		&cli.StringFlag{
			Name:        "db-kind",
			Category:    "Datastore:",
			Sources:     cli.EnvVars("TICKET_CHAT_DB_KIND"),
			Destination: &cfg.DatastoreType,
			Value:       cfg.DatastoreType,
			Usage:       "Message store backend (sqlite|postgres)",
		},
		&cli.StringFlag{
			Name:        "db-url",
			Category:    "Datastore:",
			Sources:     cli.EnvVars("TICKET_CHAT_DB_URL"),
			Destination: &cfg.DBURL,
			Value:       cfg.DBURL,
			Usage:       "Database connection URL",
		},
		&cli.BoolFlag{
			Name:        "db-migrate-at-start",
			Category:    "Datastore:",
			Sources:     cli.EnvVars("TICKET_CHAT_DB_MIGRATE_AT_START"),
			Destination: &cfg.DatastoreMigrateAtStart,
			Value:       cfg.DatastoreMigrateAtStart,
			Usage:       "Run schema migrations before connecting",
		},
		&cli.IntFlag{
			Name:        "db-max-open-conns",
			Category:    "Datastore:",
			Sources:     cli.EnvVars("TICKET_CHAT_DB_MAX_OPEN_CONNS"),
			Destination: &cfg.DBMaxOpenConns,
			Value:       cfg.DBMaxOpenConns,
			Usage:       "Maximum open database connections",
		},
		&cli.IntFlag{
			Name:        "db-max-idle-conns",
			Category:    "Datastore:",
			Sources:     cli.EnvVars("TICKET_CHAT_DB_MAX_IDLE_CONNS"),
			Destination: &cfg.DBMaxIdleConns,
			Value:       cfg.DBMaxIdleConns,
			Usage:       "Maximum idle database connections",
		},

		// ── Live Feed ─────────────────────────────────────────────
		&cli.StringFlag{
			Name:        "feed-kind",
			Category:    "Live Feed:",
			Sources:     cli.EnvVars("TICKET_CHAT_FEED_KIND"),
			Destination: &cfg.FeedType,
			Value:       cfg.FeedType,
			Usage:       "Live feed backend (memory|redis|postgres)",
		},
		&cli.StringFlag{
			Name:        "redis-url",
			Category:    "Live Feed:",
			Sources:     cli.EnvVars("TICKET_CHAT_REDIS_URL"),
			Destination: &cfg.RedisURL,
			Usage:       "Redis URL for the redis feed (e.g. redis://localhost:6379/0)",
		},
		&cli.StringFlag{
			Name:        "redis-channel-prefix",
			Category:    "Live Feed:",
			Sources:     cli.EnvVars("TICKET_CHAT_REDIS_CHANNEL_PREFIX"),
			Destination: &cfg.RedisChannelPrefix,
			Value:       cfg.RedisChannelPrefix,
			Usage:       "Prefix of the per-conversation pub/sub channel",
		},
		&cli.StringFlag{
			Name:        "postgres-notify-channel",
			Category:    "Live Feed:",
			Sources:     cli.EnvVars("TICKET_CHAT_POSTGRES_NOTIFY_CHANNEL"),
			Destination: &cfg.PostgresNotifyChannel,
			Value:       cfg.PostgresNotifyChannel,
			Usage:       "LISTEN/NOTIFY channel used by the postgres feed",
		},

		// ── Profiles ──────────────────────────────────────────────
		&cli.StringFlag{
			Name:        "profile-kind",
			Category:    "Profiles:",
			Sources:     cli.EnvVars("TICKET_CHAT_PROFILE_KIND"),
			Destination: &cfg.ProfileType,
			Value:       cfg.ProfileType,
			Usage:       "Profile directory (db|static)",
		},
		&cli.StringFlag{
			Name:        "static-profiles",
			Category:    "Profiles:",
			Sources:     cli.EnvVars("TICKET_CHAT_STATIC_PROFILES"),
			Destination: &cfg.StaticProfiles,
			Usage:       "Comma-separated userId=Display Name pairs for the static directory",
		},
		&cli.DurationFlag{
			Name:        "profile-cache-ttl",
			Category:    "Profiles:",
			Sources:     cli.EnvVars("TICKET_CHAT_PROFILE_CACHE_TTL"),
			Destination: &cfg.ProfileCacheTTL,
			Value:       cfg.ProfileCacheTTL,
			Usage:       "Lifetime of the shared display name cache; 0 disables it",
		},
		&cli.StringFlag{
			Name:        "profile-placeholder",
			Category:    "Profiles:",
			Sources:     cli.EnvVars("TICKET_CHAT_PROFILE_PLACEHOLDER"),
			Destination: &cfg.ProfilePlaceholder,
			Value:       cfg.ProfilePlaceholder,
			Usage:       "Name shown when a sender's profile cannot be resolved",
		},
	}
}

// Identity returns the flags naming the local participant and the send policy.
func Identity(cfg *config.Config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "user",
			Category:    "Conversation:",
			Sources:     cli.EnvVars("TICKET_CHAT_USER"),
			Destination: &cfg.UserID,
			Required:    true,
			Usage:       "User id of the local participant",
		},
		&cli.StringFlag{
			Name:        "ticket",
			Category:    "Conversation:",
			Sources:     cli.EnvVars("TICKET_CHAT_TICKET"),
			Destination: &cfg.ConversationID,
			Required:    true,
			Usage:       "Support ticket (conversation) id",
		},
		&cli.DurationFlag{
			Name:        "send-timeout",
			Category:    "Conversation:",
			Sources:     cli.EnvVars("TICKET_CHAT_SEND_TIMEOUT"),
			Destination: &cfg.SendTimeout,
			Value:       cfg.SendTimeout,
			Usage:       "Upper bound for one durable send, retries included",
		},
	}
}

// Session returns the flags tuning the live conversation view.
func Session(cfg *config.Config) []cli.Flag {
	return []cli.Flag{
		&cli.IntFlag{
			Name:        "backlog-limit",
			Category:    "Conversation:",
			Sources:     cli.EnvVars("TICKET_CHAT_BACKLOG_LIMIT"),
			Destination: &cfg.BacklogLimit,
			Value:       cfg.BacklogLimit,
			Usage:       "Maximum number of messages loaded when a conversation opens",
		},
		&cli.DurationFlag{
			Name:        "reconnect-min-backoff",
			Category:    "Conversation:",
			Sources:     cli.EnvVars("TICKET_CHAT_RECONNECT_MIN_BACKOFF"),
			Destination: &cfg.ReconnectMinBackoff,
			Value:       cfg.ReconnectMinBackoff,
			Usage:       "First delay before resubscribing after the live feed drops",
		},
		&cli.DurationFlag{
			Name:        "reconnect-max-backoff",
			Category:    "Conversation:",
			Sources:     cli.EnvVars("TICKET_CHAT_RECONNECT_MAX_BACKOFF"),
			Destination: &cfg.ReconnectMaxBackoff,
			Value:       cfg.ReconnectMaxBackoff,
			Usage:       "Upper bound for the resubscribe delay",
		},
		&cli.IntFlag{
			Name:        "preview-length",
			Category:    "Conversation:",
			Sources:     cli.EnvVars("TICKET_CHAT_PREVIEW_LENGTH"),
			Destination: &cfg.PreviewLength,
			Value:       cfg.PreviewLength,
			Usage:       "Maximum characters shown in a new message notification",
		},
	}
}

// Monitoring returns the metrics and management listener flags.
func Monitoring(cfg *config.Config) []cli.Flag {
	return []cli.Flag{
		&cli.IntFlag{
			Name:        "management-port",
			Category:    "Monitoring:",
			Sources:     cli.EnvVars("TICKET_CHAT_MANAGEMENT_PORT"),
			Destination: &cfg.ManagementListener.Port,
			Value:       cfg.ManagementListener.Port,
			Usage:       "Port serving /health, /ready, /metrics and /v1/snapshot; 0 disables it",
		},
		&cli.StringFlag{
			Name:        "metrics-labels",
			Category:    "Monitoring:",
			Sources:     cli.EnvVars("TICKET_CHAT_METRICS_LABELS"),
			Destination: &cfg.MetricsLabels,
			Value:       cfg.MetricsLabels,
			Usage:       "Comma-separated key=value pairs added as constant labels to all Prometheus metrics. Supports ${VAR} expansion.",
		},
	}
}

// Logging returns the log level and log file flags.
func Logging(cfg *config.Config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "log-level",
			Category:    "Logging:",
			Sources:     cli.EnvVars("TICKET_CHAT_LOG_LEVEL"),
			Destination: &cfg.LogLevel,
			Value:       cfg.LogLevel,
			Usage:       "Log level (debug|info|warn|error)",
		},
		&cli.StringFlag{
			Name:        "log-file",
			Category:    "Logging:",
			Sources:     cli.EnvVars("TICKET_CHAT_LOG_FILE"),
			Destination: &cfg.LogFile,
			Value:       cfg.LogFile,
			Usage:       "Write logs to this file instead of stderr. Supports ${VAR} expansion.",
		},
	}
}

// Mode returns the --mode flag.
func Mode(cfg *config.Config) cli.Flag {
	return &cli.StringFlag{
		Name:        "mode",
		Sources:     cli.EnvVars("TICKET_CHAT_MODE"),
		Destination: &cfg.Mode,
		Value:       cfg.Mode,
		Usage:       "Runtime mode (prod|testing)",
	}
}
