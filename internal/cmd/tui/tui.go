package tui

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/log"
	"github.com/chirino/ticket-chat/internal/chat"
	"github.com/chirino/ticket-chat/internal/client"
	"github.com/chirino/ticket-chat/internal/cmd/flags"
	"github.com/chirino/ticket-chat/internal/config"
	"github.com/urfave/cli/v3"
)

const drainTimeout = 5 * time.Second

// Command returns the chat sub-command.
func Command() *cli.Command {
	cfg := config.DefaultConfig()
	all := []cli.Flag{flags.Mode(&cfg)}
	all = append(all, flags.Identity(&cfg)...)
	all = append(all, flags.Session(&cfg)...)
	all = append(all, flags.Backend(&cfg)...)
	all = append(all, flags.Monitoring(&cfg)...)
	all = append(all, flags.Logging(&cfg)...)
	return &cli.Command{
		Name:  "chat",
		Usage: "Open a support ticket conversation in the terminal",
		Flags: all,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if err := cfg.Validate(); err != nil {
				return err
			}
			// The terminal belongs to the chat view, so logs default to a file.
			logs, err := client.ConfigureLogging(&cfg, filepath.Join(os.TempDir(), "ticket-chat.log"))
			if err != nil {
				return err
			}
			defer logs.Close()
			return run(ctx, &cfg)
		},
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	c, err := client.Start(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
		defer cancel()
		if err := c.Shutdown(drainCtx); err != nil {
			log.Error("Shutdown error", "err", err)
		}
	}()

	b := newBridge()
	defer b.close()
	rec, err := c.NewReconciler(b.callbacks())
	if err != nil {
		return err
	}
	open := func(ctx context.Context, conversationID string) (*chat.Session, error) {
		return c.OpenConversation(ctx, rec, conversationID)
	}
	session, err := open(ctx, cfg.ConversationID)
	if err != nil {
		return err
	}

	program := tea.NewProgram(newView(ctx, cfg.UserID, b, open, session),
		tea.WithAltScreen(),
		tea.WithMouseCellMotion(),
		tea.WithContext(ctx),
	)
	if _, err := program.Run(); err != nil && !(errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil) {
		return err
	}
	log.Info("Chat closed")
	return nil
}
