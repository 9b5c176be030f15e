package main

import (
	"context"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/urfave/cli/v3"

	"github.com/collabforge/authsync/authz"
	"github.com/collabforge/authsync/config"
)

var tuplesCmd = &cli.Command{
	Name:  "tuples",
	Usage: "Dump relationship tuples from the authorization engine",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "object",
			Usage: "filter by object, e.g. Repository:42",
		},
		&cli.StringFlag{
			Name:  "relation",
			Usage: "filter by relation, e.g. reader",
		},
		&cli.StringFlag{
			Name:  "subject",
			Usage: "filter by subject, e.g. User:7",
		},
	},
	Action: func(ctx context.Context, c *cli.Command) error {
		cfg, err := config.LoadFromFile(c.String("config"))
		if err != nil {
			return err
		}

		engine, err := authz.NewFGAEngine(authz.FGAConfig{
			APIURL:  cfg.FGA.APIURL,
			StoreID: cfg.FGA.StoreID,
			ModelID: cfg.FGA.ModelID,
		})
		if err != nil {
			return err
		}
		client := authz.NewClient(engine)

		filter := authz.TupleFilter{
			Object:   c.String("object"),
			Relation: authz.Relation(c.String("relation")),
			Subject:  c.String("subject"),
		}

		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		t.AppendHeader(table.Row{"Object", "Relation", "Subject"})

		count := 0
		for tuple, err := range client.ReadTuples(ctx, filter) {
			if err != nil {
				return err
			}
			t.AppendRow(table.Row{tuple.Object, string(tuple.Relation), tuple.Subject})
			count++
		}

		t.AppendFooter(table.Row{"", "total", count})
		t.SetStyle(table.StyleLight)
		t.Render()
		return nil
	},
}
