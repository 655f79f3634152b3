package pagewatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/hay-kot/pagewatch/internal/core/config"
	"github.com/hay-kot/pagewatch/internal/core/logging"
	"github.com/hay-kot/pagewatch/internal/core/page"
	"github.com/hay-kot/pagewatch/internal/core/reconcile"
	"github.com/hay-kot/pagewatch/internal/core/source"
	"github.com/hay-kot/pagewatch/internal/core/subscription"
	"github.com/hay-kot/pagewatch/pkg/keymu"
)

type groupResult string

const (
	groupOK       groupResult = "ok"
	groupBaseline groupResult = "baseline"
	groupSkipped  groupResult = "skipped"
	groupFailed   groupResult = "failed"
)

// TickReport summarizes one tracker pass. Page counts are summed over
// subscribers, so a page added to a database with two subscribers counts
// twice.
type TickReport struct {
	Groups        int
	Baselined     int
	Skipped       int
	Failed        int
	Added         int
	Removed       int
	Changed       int
	FieldFailures int

	// SubscriberFailures counts subscribers whose pass was abandoned while
	// the rest of their group carried on.
	SubscriberFailures int
	Duration           time.Duration
}

func (r *TickReport) add(o groupOutcome) {
	r.Groups++
	switch o.result {
	case groupBaseline:
		r.Baselined++
	case groupSkipped:
		r.Skipped++
	case groupFailed:
		r.Failed++
	}
	r.Added += o.added
	r.Removed += o.removed
	r.Changed += o.changed
	r.FieldFailures += o.fieldFailures
	r.SubscriberFailures += o.subscriberFailures
}

type groupOutcome struct {
	result        groupResult
	added         int
	removed       int
	changed       int
	fieldFailures int

	subscriberFailures int
}

// group is every trackable subscription of one database. They share one
// fetch and one baseline.
type group struct {
	databaseID string
	subs       []subscription.Subscription
}

// Tracker polls tracked databases and notifies subscribers of changes.
type Tracker struct {
	cfg       config.TrackerConfig
	snapshots page.SnapshotStore
	engine    *reconcile.Engine
	flow      *flow
	locks     *keymu.Mutex[string]
	log       zerolog.Logger
	now       func() time.Time
}

func newTracker(cfg config.TrackerConfig, snapshots page.SnapshotStore, f *flow, engine *reconcile.Engine) *Tracker {
	return &Tracker{
		cfg:       cfg,
		snapshots: snapshots,
		engine:    engine,
		flow:      f,
		locks:     keymu.New[string](),
		log:       logging.Component("tracker"),
		now:       time.Now,
	}
}

// Run ticks once immediately and then on every interval until ctx is
// cancelled.
func (t *Tracker) Run(ctx context.Context) error {
	interval := t.cfg.Interval
	if interval <= 0 {
		interval = config.DefaultConfig().Tracker.Interval
	}

	t.runOnce(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			t.runOnce(ctx)
		}
	}
}

func (t *Tracker) runOnce(ctx context.Context) {
	if _, err := t.Tick(ctx); err != nil && ctx.Err() == nil {
		t.log.Error().Err(err).Msg("tracker pass failed")
	}
}

// Tick runs one pass over every trackable subscription. Groups are
// processed concurrently; passes over the same database never overlap.
// The error is non-nil only when subscriptions could not be listed.
func (t *Tracker) Tick(ctx context.Context) (TickReport, error) {
	start := t.now()
	m := t.flow.metrics
	m.Ticks.Inc()

	groups, err := t.groups(ctx)
	if err != nil {
		return TickReport{}, err
	}

	var (
		mu     sync.Mutex
		report TickReport
		g      errgroup.Group
	)
	g.SetLimit(max(1, t.cfg.Workers))

	for _, grp := range groups {
		g.Go(func() error {
			out := t.processGroup(ctx, grp)

			mu.Lock()
			report.add(out)
			mu.Unlock()

			m.GroupResults.WithLabelValues(string(out.result)).Inc()
			return nil
		})
	}
	_ = g.Wait()

	report.Duration = t.now().Sub(start)

	m.TickDuration.Observe(report.Duration.Seconds())
	m.PageEvents.WithLabelValues("added").Add(float64(report.Added))
	m.PageEvents.WithLabelValues("removed").Add(float64(report.Removed))
	m.PageEvents.WithLabelValues("changed").Add(float64(report.Changed))
	m.FieldFailures.Add(float64(report.FieldFailures))

	t.log.Info().
		Int("groups", report.Groups).
		Int("baselined", report.Baselined).
		Int("skipped", report.Skipped).
		Int("failed", report.Failed).
		Int("added", report.Added).
		Int("removed", report.Removed).
		Int("changed", report.Changed).
		Int("field_failures", report.FieldFailures).
		Int("subscriber_failures", report.SubscriberFailures).
		Dur("duration", report.Duration).
		Msg("tracker pass")

	return report, nil
}

func (t *Tracker) groups(ctx context.Context) ([]group, error) {
	subs := t.flow.subs

	ids, err := subs.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active subscriptions: %w", err)
	}

	var (
		groups []group
		index  = make(map[string]int)
	)
	for _, id := range ids {
		sub, err := subs.Get(ctx, id)
		if errors.Is(err, subscription.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("get subscription %d: %w", id, err)
		}
		if !sub.Trackable() {
			continue
		}

		i, ok := index[sub.DatabaseID]
		if !ok {
			i = len(groups)
			index[sub.DatabaseID] = i
			groups = append(groups, group{databaseID: sub.DatabaseID})
		}
		groups[i].subs = append(groups[i].subs, sub)
	}

	return groups, nil
}

func (t *Tracker) processGroup(ctx context.Context, g group) (out groupOutcome) {
	ctx = logging.WithDatabaseID(ctx, g.databaseID)

	defer func() {
		if r := recover(); r != nil {
			t.log.Error().Ctx(ctx).Interface("panic", r).Msg("tracker group panicked")
			out = groupOutcome{result: groupFailed}
		}
	}()

	unlock, err := t.locks.LockContext(ctx, g.databaseID)
	if err != nil {
		return groupOutcome{result: groupSkipped}
	}
	defer unlock()

	snap, readers, result := t.fetch(ctx, g)
	if result != groupOK {
		return groupOutcome{result: result}
	}

	snap.DatabaseID = g.databaseID
	if snap.TakenAt.IsZero() {
		snap.TakenAt = t.now()
	}

	old, found, err := t.snapshots.GetSnapshot(ctx, g.databaseID)
	if err != nil {
		t.log.Error().Ctx(ctx).Err(err).Msg("failed to load baseline")
		return groupOutcome{result: groupFailed}
	}

	var base *page.Snapshot
	switch {
	case found:
		base = &old
	case t.cfg.FirstTick != config.FirstTickAnnounce:
		if err := t.snapshots.SetSnapshot(ctx, snap); err != nil {
			t.log.Error().Ctx(ctx).Err(err).Msg("failed to store baseline")
			return groupOutcome{result: groupFailed}
		}
		t.log.Info().Ctx(ctx).Int("pages", len(snap.Pages)).Msg("first listing stored as baseline")
		return groupOutcome{result: groupBaseline}
	}

	out.result = groupOK
	for _, sub := range readers {
		if !t.processSubscriber(ctx, base, snap, sub, &out) {
			out.subscriberFailures++
		}
	}

	if err := t.snapshots.SetSnapshot(ctx, snap); err != nil {
		t.log.Error().Ctx(ctx).Err(err).Msg("failed to store baseline")
		out.result = groupFailed
	}

	return out
}

// processSubscriber reconciles and notifies one subscriber. A panic ends
// this subscriber's pass only; the group still stores its baseline.
func (t *Tracker) processSubscriber(ctx context.Context, base *page.Snapshot, snap page.Snapshot, sub subscription.Subscription, out *groupOutcome) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			t.log.Error().Ctx(ctx).
				Int64("subject_id", sub.SubjectID).
				Interface("panic", r).
				Msg("tracker subscriber panicked")
			ok = false
		}
	}()

	res := t.engine.Reconcile(base, snap, sub.TrackedFields)

	for _, ff := range res.Failures {
		t.log.Warn().Ctx(ctx).
			Int64("subject_id", sub.SubjectID).
			Str("page_id", ff.PageID).
			Str("field", ff.Field).
			Err(ff.Err).
			Msg("tracked field could not be compared")
	}

	out.added += len(res.Added)
	out.removed += len(res.Removed)
	out.changed += len(res.Changes)
	out.fieldFailures += len(res.Failures)

	t.notify(ctx, sub, res)
	return true
}

// fetch reads the database with the first credential that works. Subscribers
// whose credential or access failed are dropped from the returned readers.
func (t *Tracker) fetch(ctx context.Context, g group) (page.Snapshot, []subscription.Subscription, groupResult) {
	for i, sub := range g.subs {
		fctx, cancel := t.fetchContext(ctx)
		snap, err := t.flow.source.FetchListing(fctx, sub.Credential, g.databaseID)
		cancel()

		switch {
		case err == nil:
			return snap, g.subs[i:], groupOK

		case errors.Is(err, source.ErrAuth):
			t.log.Info().Ctx(ctx).Int64("subject_id", sub.SubjectID).Err(err).Msg("credential rejected")
			t.flow.connectionLost(ctx, sub.SubjectID)

		case errors.Is(err, source.ErrNotFound):
			t.log.Info().Ctx(ctx).Int64("subject_id", sub.SubjectID).Err(err).Msg("database not accessible")
			t.flow.databaseLost(ctx, sub)

		default:
			t.log.Warn().Ctx(ctx).Err(err).Msg("fetch failed, retrying next tick")
			return page.Snapshot{}, nil, groupSkipped
		}
	}

	return page.Snapshot{}, nil, groupFailed
}

func (t *Tracker) fetchContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if t.cfg.FetchTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, t.cfg.FetchTimeout)
}

func (t *Tracker) notify(ctx context.Context, sub subscription.Subscription, res reconcile.Result) {
	if res.Empty() || sub.Target == nil {
		return
	}

	m := t.flow.metrics
	for _, msg := range Compose(res) {
		if _, err := t.flow.sink.Deliver(ctx, sub.Target.ChatID, msg); err != nil {
			m.Deliveries.WithLabelValues("error").Inc()
			t.log.Warn().Ctx(ctx).
				Int64("subject_id", sub.SubjectID).
				Int64("chat_id", sub.Target.ChatID).
				Err(err).
				Msg("failed to deliver notification")
			continue
		}
		m.Deliveries.WithLabelValues("ok").Inc()
	}
}
