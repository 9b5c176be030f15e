package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/samber/do/v2"
	"github.com/urfave/cli/v3"

	"github.com/collabforge/authsync/di"
	"github.com/collabforge/authsync/outbox"
	"github.com/collabforge/authsync/pkg/log"
)

var runCmd = &cli.Command{
	Name:  "run",
	Usage: "Run the outbox propagation pipeline",
	Action: func(ctx context.Context, c *cli.Command) error {
		injector := di.SetupContainer(c.String("config"))

		proc, err := do.Invoke[*outbox.Processor](injector)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		log.Infof("starting propagation pipeline")
		if err := proc.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		log.Infof("propagation pipeline stopped")
		return nil
	},
}
