package commands

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/urfave/cli/v3"

	"github.com/hay-kot/pagewatch/internal/data/db"
)

type DBCmd struct {
	flags *Flags
	rt    *Runtime

	// flags
	steps int
}

// NewDBCmd creates a new db command
func NewDBCmd(flags *Flags, rt *Runtime) *DBCmd {
	return &DBCmd{flags: flags, rt: rt}
}

// Register adds the db command to the application
func (cmd *DBCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:  "db",
		Usage: "Database maintenance commands",
		Commands: []*cli.Command{
			{
				Name:      "status",
				Usage:     "List migrations and whether they are applied",
				UsageText: "pagewatch db status",
				Action:    cmd.runStatus,
			},
			{
				Name:      "migrate-down",
				Usage:     "Revert the most recent migrations",
				UsageText: "pagewatch db migrate-down [-n N]",
				Description: `Reverts the last N applied migrations in reverse order. Pending
migrations are applied again the next time any command opens the database.`,
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:        "n",
						Usage:       "number of migrations to revert",
						Value:       1,
						Destination: &cmd.steps,
					},
				},
				Action: cmd.runDown,
			},
		},
	})

	return app
}

func (cmd *DBCmd) runStatus(ctx context.Context, c *cli.Command) error {
	statuses, err := db.Status(ctx, cmd.rt.DB.Conn())
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(c.Root().Writer, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "VERSION\tNAME\tAPPLIED")
	for _, s := range statuses {
		applied := "no"
		if s.Applied {
			applied = "yes"
		}
		fmt.Fprintf(tw, "%04d\t%s\t%s\n", s.Version, s.Name, applied)
	}
	fmt.Fprintf(tw, "\ndatabase: %s\n", cmd.rt.DB.Path())
	return tw.Flush()
}

func (cmd *DBCmd) runDown(ctx context.Context, c *cli.Command) error {
	if err := db.MigrateDown(ctx, cmd.rt.DB.Conn(), cmd.steps); err != nil {
		return err
	}
	_, err := fmt.Fprintf(c.Root().Writer, "reverted %d migration(s)\n", cmd.steps)
	return err
}
