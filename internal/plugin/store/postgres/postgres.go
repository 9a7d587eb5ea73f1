package postgres

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/chirino/ticket-chat/internal/config"
	"github.com/chirino/ticket-chat/internal/plugin/store/gormstore"
	registrymigrate "github.com/chirino/ticket-chat/internal/registry/migrate"
	registrystore "github.com/chirino/ticket-chat/internal/registry/store"
)

func init() {
	registrystore.Register(registrystore.Plugin{
		Name: "postgres",
		Loader: func(ctx context.Context) (registrystore.MessageStore, error) {
			cfg := config.FromContext(ctx)
			if cfg == nil || cfg.DBURL == "" {
				return nil, fmt.Errorf("postgres store: TICKET_CHAT_DB_URL is required")
			}
			db, err := gormstore.OpenDB(cfg)
			if err != nil {
				return nil, err
			}
			return gormstore.New(db), nil
		},
	})

	registrymigrate.Register(registrymigrate.Plugin{Order: 100, Migrator: &postgresMigrator{}})
}

type postgresMigrator struct{}

func (m *postgresMigrator) Name() string { return "postgres-schema" }

func (m *postgresMigrator) Applies(ctx context.Context) bool {
	cfg := config.FromContext(ctx)
	return cfg != nil && cfg.DatastoreType == "postgres"
}

func (m *postgresMigrator) Migrate(ctx context.Context) error {
	cfg := config.FromContext(ctx)
	db, err := gormstore.OpenDB(cfg)
	if err != nil {
		return fmt.Errorf("migration: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	if _, err := sqlDB.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("migration: failed to execute schema: %w", err)
	}
	log.Info("Postgres schema migration complete")
	return nil
}
