package commands

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/hay-kot/pagewatch/internal/core/chat"
	"github.com/hay-kot/pagewatch/internal/core/page"
	"github.com/hay-kot/pagewatch/internal/core/subscription"
	"github.com/hay-kot/pagewatch/internal/pagewatch"
	"github.com/hay-kot/pagewatch/pkg/iojson"
)

type ReconcileCmd struct {
	flags *Flags
	rt    *Runtime

	// flags
	dryRun     bool
	jsonOutput bool
}

// NewReconcileCmd creates a new reconcile command
func NewReconcileCmd(flags *Flags, rt *Runtime) *ReconcileCmd {
	return &ReconcileCmd{flags: flags, rt: rt}
}

// Register adds the reconcile command to the application
func (cmd *ReconcileCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:      "reconcile",
		Usage:     "Run one tracker pass now",
		UsageText: "pagewatch reconcile [--dry-run] [--json]",
		Description: `Polls every active subscription once, delivers notifications and prints
a summary of the pass.

With --dry-run nothing is delivered or stored: notifications are printed
to stdout, snapshots are left untouched and subscriptions are not modified.`,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:        "dry-run",
				Usage:       "print notifications instead of sending them",
				Destination: &cmd.dryRun,
			},
			&cli.BoolFlag{
				Name:        "json",
				Usage:       "print the summary as JSON",
				Destination: &cmd.jsonOutput,
			},
		},
		Action: cmd.run,
	})

	return app
}

func (cmd *ReconcileCmd) run(ctx context.Context, c *cli.Command) error {
	out := c.Root().Writer

	var (
		app     *pagewatch.App
		printer *printSink
	)

	if cmd.dryRun {
		printer = &printSink{}
		app = cmd.rt.App(printer, appOptions{
			subscriptions: readOnlySubscriptions{Store: cmd.rt.Subscriptions},
			snapshots:     readOnlySnapshots{SnapshotStore: cmd.rt.Snapshots},
			connector:     cmd.rt.OAuth(),
		})
	} else {
		bot, err := cmd.rt.Bot()
		if err != nil {
			return err
		}
		app = cmd.rt.App(bot, appOptions{connector: cmd.rt.OAuth(), botUsername: bot.Username()})
	}

	report, err := app.Tracker.Tick(ctx)
	if err != nil {
		return err
	}

	if printer != nil {
		if err := printer.Flush(out); err != nil {
			return err
		}
	}

	if cmd.jsonOutput {
		return iojson.WriteWith(out, c.Root().ErrWriter, reportJSON(report))
	}

	_, err = fmt.Fprintf(out,
		"groups: %d (baseline %d, skipped %d, failed %d)\npages: +%d -%d ~%d\nfield failures: %d\ntook: %s\n",
		report.Groups, report.Baselined, report.Skipped, report.Failed,
		report.Added, report.Removed, report.Changed,
		report.FieldFailures, report.Duration.Round(time.Millisecond),
	)
	return err
}

type tickJSON struct {
	Groups             int    `json:"groups"`
	Baselined          int    `json:"baselined"`
	Skipped            int    `json:"skipped"`
	Failed             int    `json:"failed"`
	Added              int    `json:"added"`
	Removed            int    `json:"removed"`
	Changed            int    `json:"changed"`
	FieldFailures      int    `json:"field_failures"`
	SubscriberFailures int    `json:"subscriber_failures"`
	Duration           string `json:"duration"`
}

func reportJSON(r pagewatch.TickReport) tickJSON {
	return tickJSON{
		Groups:             r.Groups,
		Baselined:          r.Baselined,
		Skipped:            r.Skipped,
		Failed:             r.Failed,
		Added:              r.Added,
		Removed:            r.Removed,
		Changed:            r.Changed,
		FieldFailures:      r.FieldFailures,
		SubscriberFailures: r.SubscriberFailures,
		Duration:           r.Duration.String(),
	}
}

// printSink renders outbound messages as text. Groups deliver
// concurrently, so output is buffered until Flush.
type printSink struct {
	mu   sync.Mutex
	buf  bytes.Buffer
	next int
}

var _ chat.Sink = (*printSink)(nil)

func (p *printSink) Deliver(_ context.Context, chatID int64, msg chat.Message) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.next++
	fmt.Fprintf(&p.buf, "--- chat %d (#%d)\n%s\n", chatID, p.next, msg.Text)
	for _, row := range msg.Buttons {
		labels := make([]string, 0, len(row))
		for _, b := range row {
			labels = append(labels, "["+b.Text+"]")
		}
		fmt.Fprintln(&p.buf, strings.Join(labels, " "))
	}
	p.buf.WriteByte('\n')
	return p.next, nil
}

func (p *printSink) Edit(_ context.Context, chatID int64, messageID int, msg chat.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(&p.buf, "--- chat %d edit #%d\n%s\n\n", chatID, messageID, msg.Text)
	return nil
}

func (p *printSink) Delete(_ context.Context, chatID int64, messageID int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(&p.buf, "--- chat %d delete #%d\n\n", chatID, messageID)
	return nil
}

// Flush writes everything delivered so far to w.
func (p *printSink) Flush(w io.Writer) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, err := p.buf.WriteTo(w)
	return err
}

// readOnlySnapshots reads baselines but never stores them.
type readOnlySnapshots struct {
	page.SnapshotStore
}

func (readOnlySnapshots) SetSnapshot(context.Context, page.Snapshot) error { return nil }

// readOnlySubscriptions reads subscriptions but drops every write.
type readOnlySubscriptions struct {
	subscription.Store
}

func (readOnlySubscriptions) SetCredential(context.Context, int64, string) error { return nil }

func (readOnlySubscriptions) SetDatabase(context.Context, int64, string, string) error { return nil }

func (readOnlySubscriptions) SetTrackedFields(context.Context, int64, []string) error { return nil }

func (readOnlySubscriptions) SetTarget(context.Context, int64, subscription.Target) error { return nil }

func (readOnlySubscriptions) SetActive(context.Context, int64, bool) error { return nil }

func (readOnlySubscriptions) ClearConnection(context.Context, int64) error { return nil }

func (readOnlySubscriptions) ClearDatabase(context.Context, int64) error { return nil }

func (readOnlySubscriptions) AddArtifact(context.Context, int64, int) error { return nil }

func (readOnlySubscriptions) RemoveArtifact(context.Context, int64, int) error { return nil }
