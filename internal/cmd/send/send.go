package send

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/chirino/ticket-chat/internal/chat"
	"github.com/chirino/ticket-chat/internal/client"
	"github.com/chirino/ticket-chat/internal/cmd/flags"
	"github.com/chirino/ticket-chat/internal/config"
	"github.com/google/uuid"
	"github.com/urfave/cli/v3"
)

// Command returns the send sub-command: one durable send, printed as JSON.
// Re-running it with the same --client-id never stores a second copy.
func Command() *cli.Command {
	cfg := config.DefaultConfig()
	var body, clientID string
	var retry bool

	all := []cli.Flag{
		flags.Mode(&cfg),
		&cli.StringFlag{
			Name:        "body",
			Category:    "Conversation:",
			Destination: &body,
			Required:    true,
			Usage:       "Message text",
		},
		&cli.StringFlag{
			Name:        "client-id",
			Category:    "Conversation:",
			Destination: &clientID,
			Usage:       "Idempotency token; a random one is generated when empty",
		},
		&cli.BoolFlag{
			Name:        "retry",
			Category:    "Conversation:",
			Destination: &retry,
			Value:       true,
			Usage:       "Retry transient store failures until --send-timeout expires",
		},
	}
	all = append(all, flags.Identity(&cfg)...)
	all = append(all, flags.Backend(&cfg)...)
	all = append(all, flags.Logging(&cfg)...)

	return &cli.Command{
		Name:  "send",
		Usage: "Send one message to a support ticket",
		Flags: all,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if err := cfg.Validate(); err != nil {
				return err
			}
			logs, err := client.ConfigureLogging(&cfg, "")
			if err != nil {
				return err
			}
			defer logs.Close()
			cfg.ManagementListener.Port = 0
			if clientID == "" {
				clientID = uuid.NewString()
			}
			return run(ctx, &cfg, chat.SendRequest{
				ConversationID: cfg.ConversationID,
				SenderID:       cfg.UserID,
				Body:           body,
				ClientID:       clientID,
			}, retry)
		},
	}
}

func run(ctx context.Context, cfg *config.Config, req chat.SendRequest, retry bool) error {
	c, err := client.Start(ctx, cfg)
	if err != nil {
		return err
	}
	defer c.Shutdown(context.Background())

	sender := c.Sender
	if !retry {
		sender = sender.WithoutRetry()
	}
	msg, err := sender.Send(ctx, req)
	if err != nil {
		return fmt.Errorf("send to %s: %w", req.ConversationID, err)
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(msg)
}
