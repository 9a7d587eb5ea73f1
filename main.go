package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/chirino/ticket-chat/internal/cmd/migrate"
	"github.com/chirino/ticket-chat/internal/cmd/profile"
	"github.com/chirino/ticket-chat/internal/cmd/send"
	"github.com/chirino/ticket-chat/internal/cmd/tui"
	"github.com/urfave/cli/v3"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := &cli.Command{
		Name:  "ticket-chat",
		Usage: "Live chat for support tickets",
		Commands: []*cli.Command{
			tui.Command(),
			send.Command(),
			profile.Command(),
			migrate.Command(),
		},
	}
	if err := app.Run(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}
