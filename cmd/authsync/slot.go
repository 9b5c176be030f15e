package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/urfave/cli/v3"

	"github.com/collabforge/authsync/config"
	"github.com/collabforge/authsync/pgrepl"
)

var slotCmd = &cli.Command{
	Name:  "slot",
	Usage: "Show replication slot status",
	Flags: []cli.Flag{
		&cli.BoolFlag{
			Name:  "all",
			Usage: "list every slot, not just the configured one",
		},
	},
	Action: func(ctx context.Context, c *cli.Command) error {
		cfg, err := config.LoadFromFile(c.String("config"))
		if err != nil {
			return err
		}

		conn, err := pgconn.Connect(ctx, cfg.Database.ConnString())
		if err != nil {
			return fmt.Errorf("connect to database: %w", err)
		}
		defer conn.Close(ctx)

		var slots []pgrepl.ReplicationSlotInfo
		if c.Bool("all") {
			slots, err = pgrepl.ListReplicationSlots(ctx, conn)
			if err != nil {
				return err
			}
		} else {
			slot, err := pgrepl.GetReplicationSlot(ctx, conn, cfg.Replication.SlotName)
			if err != nil {
				return err
			}
			slots = append(slots, *slot)
		}

		renderSlotTable(slots)
		return nil
	},
}

func renderSlotTable(slots []pgrepl.ReplicationSlotInfo) {
	activeColor := color.New(color.FgGreen, color.Bold).SprintFunc()
	inactiveColor := color.New(color.FgRed, color.Bold).SprintFunc()

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"Slot", "Plugin", "Database", "Active", "Restart LSN", "Confirmed LSN", "Retained WAL", "Lag"})

	for _, slot := range slots {
		active := inactiveColor("no")
		if slot.Active {
			active = activeColor("yes")
		}
		t.AppendRow(table.Row{
			slot.SlotName,
			slot.Plugin,
			slot.Database,
			active,
			slot.RestartLSN.String(),
			slot.ConfirmedFlushLSN.String(),
			formatBytes(slot.RetainedWALBytes),
			slot.ReplicationLag.Round(time.Millisecond).String(),
		})
	}

	t.SetStyle(table.StyleLight)
	t.Render()
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
