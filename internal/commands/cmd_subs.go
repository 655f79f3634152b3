package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/urfave/cli/v3"
	"golang.org/x/term"

	"github.com/hay-kot/pagewatch/internal/core/subscription"
	"github.com/hay-kot/pagewatch/pkg/iojson"
)

type SubsCmd struct {
	flags *Flags
	rt    *Runtime

	// flags
	jsonOutput bool
}

// NewSubsCmd creates a new subs command
func NewSubsCmd(flags *Flags, rt *Runtime) *SubsCmd {
	return &SubsCmd{flags: flags, rt: rt}
}

// Register adds the subs command to the application
func (cmd *SubsCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:  "subs",
		Usage: "Inspect and manage subscriptions",
		Commands: []*cli.Command{
			{
				Name:      "ls",
				Usage:     "List all subscriptions",
				UsageText: "pagewatch subs ls [--json]",
				Description: `Displays a table of every subscription with its database, tracked
properties, notification target and status.

Use --json for one JSON object per line.`,
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:        "json",
						Usage:       "output as JSON lines",
						Destination: &cmd.jsonOutput,
					},
				},
				Action: cmd.runList,
			},
			{
				Name:      "pause",
				Usage:     "Stop notifications for a subject",
				UsageText: "pagewatch subs pause <subject-id>",
				Action: func(ctx context.Context, c *cli.Command) error {
					return cmd.setActive(ctx, c, false)
				},
			},
			{
				Name:      "resume",
				Usage:     "Resume notifications for a subject",
				UsageText: "pagewatch subs resume <subject-id>",
				Action: func(ctx context.Context, c *cli.Command) error {
					return cmd.setActive(ctx, c, true)
				},
			},
		},
	})

	return app
}

func (cmd *SubsCmd) runList(ctx context.Context, c *cli.Command) error {
	subs, err := cmd.rt.Subscriptions.List(ctx)
	if err != nil {
		return fmt.Errorf("list subscriptions: %w", err)
	}

	out := c.Root().Writer

	if cmd.jsonOutput {
		rows := make([]subJSON, 0, len(subs))
		for _, s := range subs {
			rows = append(rows, toSubJSON(s))
		}
		return iojson.Lines(out, rows)
	}

	if len(subs) == 0 {
		fmt.Fprintf(os.Stderr, "No subscriptions found\n")
		return nil
	}

	return renderSubs(out, subs, term.IsTerminal(int(os.Stdout.Fd())))
}

func (cmd *SubsCmd) setActive(ctx context.Context, c *cli.Command, active bool) error {
	if c.Args().Len() != 1 {
		return fmt.Errorf("expected exactly one subject id")
	}

	id, err := strconv.ParseInt(c.Args().First(), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid subject id %q: %w", c.Args().First(), err)
	}

	if err := cmd.rt.Subscriptions.SetActive(ctx, id, active); err != nil {
		return fmt.Errorf("update subscription %d: %w", id, err)
	}

	_, err = fmt.Fprintf(c.Root().Writer, "%d: %s\n", id, statusLabel(active))
	return err
}

type subJSON struct {
	SubjectID     int64    `json:"subject_id"`
	Connected     bool     `json:"connected"`
	DatabaseID    string   `json:"database_id,omitempty"`
	DatabaseTitle string   `json:"database_title,omitempty"`
	TrackedFields []string `json:"tracked_fields"`
	Target        string   `json:"target,omitempty"`
	Active        bool     `json:"active"`
	UpdatedAt     string   `json:"updated_at"`
}

func toSubJSON(s subscription.Subscription) subJSON {
	fields := s.TrackedFields
	if fields == nil {
		fields = []string{}
	}
	return subJSON{
		SubjectID:     s.SubjectID,
		Connected:     s.Credential != "",
		DatabaseID:    s.DatabaseID,
		DatabaseTitle: s.DatabaseTitle,
		TrackedFields: fields,
		Target:        targetLabel(s.Target),
		Active:        s.Active,
		UpdatedAt:     s.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

var subsHeaders = []string{"SUBJECT", "DATABASE", "PROPERTIES", "TARGET", "STATUS", "UPDATED"}

func subsRow(s subscription.Subscription) []string {
	db := s.DatabaseTitle
	if db == "" {
		db = "-"
	}
	fields := strings.Join(s.TrackedFields, ", ")
	if fields == "" {
		fields = "-"
	}
	target := targetLabel(s.Target)
	if target == "" {
		target = "-"
	}

	status := statusLabel(s.Active)
	if !subscription.FactsOf(s).Complete() {
		status = "setup"
	}

	return []string{
		strconv.FormatInt(s.SubjectID, 10),
		db,
		fields,
		target,
		status,
		s.UpdatedAt.Local().Format("2006-01-02 15:04"),
	}
}

// renderSubs writes a styled table for terminals and tab-separated columns
// otherwise.
func renderSubs(w io.Writer, subs []subscription.Subscription, styled bool) error {
	rows := make([][]string, 0, len(subs))
	for _, s := range subs {
		rows = append(rows, subsRow(s))
	}

	if !styled {
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, strings.Join(subsHeaders, "\t"))
		for _, r := range rows {
			fmt.Fprintln(tw, strings.Join(r, "\t"))
		}
		return tw.Flush()
	}

	var (
		header = lipgloss.NewStyle().Bold(true).Padding(0, 1)
		cell   = lipgloss.NewStyle().Padding(0, 1)
		muted  = cell.Foreground(lipgloss.Color("8"))
	)

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("8"))).
		Headers(subsHeaders...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return header
			case col == 4 && rows[row][col] != statusLabel(true):
				return muted
			default:
				return cell
			}
		})

	_, err := fmt.Fprintln(w, t.String())
	return err
}

func targetLabel(t *subscription.Target) string {
	if t == nil {
		return ""
	}
	if t.Kind == subscription.TargetGroup {
		return fmt.Sprintf("group %d", t.ChatID)
	}
	return "private"
}

func statusLabel(active bool) string {
	if active {
		return "active"
	}
	return "paused"
}
