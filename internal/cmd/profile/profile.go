package profile

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/chirino/ticket-chat/internal/config"
	"github.com/chirino/ticket-chat/internal/plugin/store/gormstore"
	"github.com/urfave/cli/v3"
)

// Command returns the profile sub-command, which sets a participant's display name
// in the datastore used by the "db" profile directory.
func Command() *cli.Command {
	cfg := config.DefaultConfig()
	var userID, displayName string
	return &cli.Command{
		Name:  "profile",
		Usage: "Set a participant's display name",
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
			&cli.StringFlag{
				Name:        "user",
				Sources:     cli.EnvVars("TICKET_CHAT_USER"),
				Destination: &userID,
				Required:    true,
				Usage:       "User id",
			},
			&cli.StringFlag{
				Name:        "display-name",
				Destination: &displayName,
				Required:    true,
				Usage:       "Name shown next to the user's messages",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return setDisplayName(ctx, &cfg, userID, displayName)
		},
	}
}

func setDisplayName(ctx context.Context, cfg *config.Config, userID, displayName string) error {
	displayName = strings.TrimSpace(displayName)
	if displayName == "" {
		return fmt.Errorf("display name must not be empty")
	}
	db, err := gormstore.OpenDB(cfg)
	if err != nil {
		return err
	}
	s := gormstore.New(db)
	defer s.Close()
	if err := s.UpsertProfile(ctx, userID, displayName); err != nil {
		return fmt.Errorf("update profile %s: %w", userID, err)
	}
	log.Info("Profile updated", "user", userID, "displayName", displayName)
	return nil
}
