package main

import (
	"context"
	"log"
	"os"

	"github.com/urfave/cli/v3"
)

func main() {
	cmd := &cli.Command{
		Name:  "authsync",
		Usage: "Propagate outbox events into the authorization graph",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to the config file (toml or json)",
				Value:   "authsync.toml",
			},
		},
		Commands: []*cli.Command{
			runCmd,
			slotCmd,
			tuplesCmd,
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		log.Fatal(err)
	}
}
