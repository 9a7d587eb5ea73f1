package migrate

import (
	"context"

	"github.com/charmbracelet/log"
	"github.com/chirino/ticket-chat/internal/config"
	registrymigrate "github.com/chirino/ticket-chat/internal/registry/migrate"
	"github.com/urfave/cli/v3"

	// Store plugins register their migrators alongside their MessageStore loader.
	_ "github.com/chirino/ticket-chat/internal/plugin/store/postgres"
	_ "github.com/chirino/ticket-chat/internal/plugin/store/sqlite"
)

// Command returns the migrate sub-command.
func Command() *cli.Command {
	cfg := config.DefaultConfig()
	return &cli.Command{
		Name:  "migrate",
		Usage: "Create or upgrade the message and profile tables",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "db-url",
				Sources:     cli.EnvVars("TICKET_CHAT_DB_URL"),
				Destination: &cfg.DBURL,
				Value:       cfg.DBURL,
				Usage:       "Database connection URL",
			},
			&cli.StringFlag{
				Name:        "db-kind",
				Sources:     cli.EnvVars("TICKET_CHAT_DB_KIND"),
				Destination: &cfg.DatastoreType,
				Value:       cfg.DatastoreType,
				Usage:       "Store backend (sqlite|postgres)",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			ctx = config.WithContext(ctx, &cfg)

			log.Info("Running migrations...", "db", cfg.DatastoreType)
			ran, err := registrymigrate.RunAll(ctx)
			if err != nil {
				return err
			}
			if ran == 0 {
				log.Warn("No migrator applies to the configured datastore", "db", cfg.DatastoreType)
				return nil
			}
			log.Info("All migrations completed successfully", "ran", ran)
			return nil
		},
	}
}
