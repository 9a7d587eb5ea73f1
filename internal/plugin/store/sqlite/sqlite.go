package sqlite

import (
	"context"
	"fmt"

	"github.com/chirino/ticket-chat/internal/config"
	"github.com/chirino/ticket-chat/internal/model"
	"github.com/chirino/ticket-chat/internal/plugin/store/gormstore"
	registrymigrate "github.com/chirino/ticket-chat/internal/registry/migrate"
	registrystore "github.com/chirino/ticket-chat/internal/registry/store"
)

func init() {
	registrystore.Register(registrystore.Plugin{
		Name: "sqlite",
		Loader: func(ctx context.Context) (registrystore.MessageStore, error) {
			cfg := config.FromContext(ctx)
			if cfg == nil || cfg.DBURL == "" {
				return nil, fmt.Errorf("sqlite store: TICKET_CHAT_DB_URL is required")
			}
			db, err := gormstore.OpenDB(cfg)
			if err != nil {
				return nil, err
			}
			return gormstore.New(db), nil
		},
	})

	registrymigrate.Register(registrymigrate.Plugin{Order: 100, Migrator: &sqliteMigrator{}})
}

type sqliteMigrator struct{}

func (m *sqliteMigrator) Name() string { return "sqlite-schema" }

func (m *sqliteMigrator) Applies(ctx context.Context) bool {
	cfg := config.FromContext(ctx)
	return cfg != nil && cfg.DatastoreType == "sqlite"
}

func (m *sqliteMigrator) Migrate(ctx context.Context) error {
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

	if err := db.WithContext(ctx).AutoMigrate(&model.MessageRecord{}, &model.Profile{}); err != nil {
		return fmt.Errorf("migration: auto-migrate: %w", err)
	}
	return nil
}

// ForceImport is a no-op variable that can be referenced to ensure this package's init() runs.
var ForceImport = 0
