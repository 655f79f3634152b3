package pagewatch

import (
	"context"
	"errors"
	"fmt"
	"html"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/hay-kot/pagewatch/internal/core/chat"
	"github.com/hay-kot/pagewatch/internal/core/kv"
	"github.com/hay-kot/pagewatch/internal/core/setup"
	"github.com/hay-kot/pagewatch/internal/core/source"
	"github.com/hay-kot/pagewatch/internal/core/subscription"
)

const (
	stepConnect  = "connect"
	stepDatabase = "choose_database"
	stepFields   = "choose_fields"
	stepTarget   = "choose_target"

	dataDatabasePrefix = "db:"
	dataDatabaseRetry  = "db:retry"
	dataFieldsPrefix   = "fld:"
	dataFieldToggle    = "fld:toggle:"
	dataFieldsDone     = "fld:done"
	dataFieldsOtherDB  = "fld:otherdb"
	dataTargetPrefix   = "tgt:"
	dataTargetPrivate  = "tgt:private"
)

func (f *flow) facts(ctx context.Context, s setup.Subject) (subscription.Facts, error) {
	return f.subs.Facts(ctx, s.ID)
}

func (f *flow) sourceContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if f.cfg.Notion.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, f.cfg.Notion.Timeout)
}

// connectStep asks the subject to authorize access to their workspace.
// It completes when a credential arrives through the OAuth callback.
type connectStep struct{ *flow }

func (c *connectStep) Name() string { return stepConnect }

func (c *connectStep) Applicable(context.Context, setup.Subject) (bool, error) {
	return true, nil
}

func (c *connectStep) Finished(ctx context.Context, s setup.Subject) (bool, error) {
	facts, err := c.facts(ctx, s)
	return facts.CredentialPresent, err
}

func (c *connectStep) Claims(a chat.Action) bool {
	return a.Kind == chat.ActionCredential
}

func (c *connectStep) Execute(ctx context.Context, s setup.Subject) error {
	c.clearArtifacts(ctx, s.ChatID)

	url, err := c.connector.ConnectURL(s.ID)
	if err != nil {
		return fmt.Errorf("build connect url: %w", err)
	}

	return c.prompt(ctx, s.ChatID, chat.Message{
		Text:    "To get started, connect your Notion workspace and share the database you want me to watch.",
		Buttons: [][]chat.Button{{{Text: "Connect Notion", URL: url}}},
	})
}

func (c *connectStep) complete(ctx context.Context, s setup.Subject, credential string) error {
	if credential == "" {
		return fmt.Errorf("empty credential: %w", setup.ErrPreconditionUnmet)
	}
	if err := c.subs.SetCredential(ctx, s.ID, credential); err != nil {
		return err
	}

	c.clearArtifacts(ctx, s.ChatID)
	c.say(ctx, s.ChatID, chat.Message{Text: "Notion connected ✅"})

	_, err := c.chain.Advance(ctx, s)
	return err
}

// databaseStep offers the databases visible to the subject's credential.
type databaseStep struct {
	*flow
	options *kv.TypedKV[[]source.Database]
}

func newDatabaseStep(f *flow, store kv.KV) *databaseStep {
	return &databaseStep{flow: f, options: kv.Scoped[[]source.Database](store, "dbopts")}
}

func (d *databaseStep) Name() string { return stepDatabase }

func (d *databaseStep) Applicable(ctx context.Context, s setup.Subject) (bool, error) {
	facts, err := d.facts(ctx, s)
	return facts.CredentialPresent, err
}

func (d *databaseStep) Finished(ctx context.Context, s setup.Subject) (bool, error) {
	facts, err := d.facts(ctx, s)
	return facts.DatabaseChosen, err
}

func (d *databaseStep) Claims(a chat.Action) bool {
	return a.Kind == chat.ActionButton && strings.HasPrefix(a.Data, dataDatabasePrefix)
}

func (d *databaseStep) Execute(ctx context.Context, s setup.Subject) error {
	d.clearArtifacts(ctx, s.ChatID)

	sub, err := d.subs.Get(ctx, s.ID)
	if err != nil {
		return err
	}
	if sub.Credential == "" {
		return fmt.Errorf("%s without credential: %w", stepDatabase, setup.ErrPreconditionUnmet)
	}

	sctx, cancel := d.sourceContext(ctx)
	dbs, err := d.source.ListDatabases(sctx, sub.Credential)
	cancel()
	if err != nil {
		return d.sourceFailure(ctx, s, err, "")
	}

	dbs = d.filter(dbs)
	switch len(dbs) {
	case 0:
		return fmt.Errorf("no databases shared: %w", setup.ErrNoOptions)
	case 1:
		// A database that already failed to open is offered, not picked, so
		// the subject decides when to try it again.
		if !d.isUnavailable(ctx, s.ID, dbs[0].ID) {
			return d.choose(ctx, s, dbs[0], true)
		}
	}

	if err := d.options.SetTTL(ctx, strconv.FormatInt(s.ID, 10), dbs, d.cfg.Setup.OptionsTTL); err != nil {
		return fmt.Errorf("store database options: %w", err)
	}

	rows := make([][]chat.Button, 0, len(dbs))
	for i, db := range dbs {
		rows = append(rows, []chat.Button{{Text: db.Title, Data: dataDatabasePrefix + strconv.Itoa(i)}})
	}

	return d.prompt(ctx, s.ChatID, chat.Message{
		Text:    "Which database should I watch?",
		Buttons: rows,
	})
}

func (d *databaseStep) NoOptions(ctx context.Context, s setup.Subject) error {
	return d.prompt(ctx, s.ChatID, chat.Message{
		Text: "I can't see any databases yet. Share a database with the integration in Notion, then press Retry.",
		Buttons: [][]chat.Button{{{Text: "Retry", Data: dataDatabaseRetry}}},
	})
}

// filter drops databases whose title matches an exclusion pattern.
func (d *databaseStep) filter(dbs []source.Database) []source.Database {
	patterns := d.cfg.Tracker.ExcludeDatabases
	if len(patterns) == 0 {
		return dbs
	}

	out := make([]source.Database, 0, len(dbs))
	for _, db := range dbs {
		excluded := false
		for _, p := range patterns {
			if ok, _ := doublestar.Match(p, db.Title); ok {
				excluded = true
				break
			}
		}
		if !excluded {
			out = append(out, db)
		}
	}
	return out
}

func (d *databaseStep) handle(ctx context.Context, s setup.Subject, a chat.Action) error {
	if a.Data == dataDatabaseRetry {
		return d.chain.Run(ctx, s, d)
	}

	idx, err := strconv.Atoi(strings.TrimPrefix(a.Data, dataDatabasePrefix))
	if err != nil {
		return nil
	}

	dbs, ok, err := d.options.Lookup(ctx, strconv.FormatInt(s.ID, 10))
	if err != nil {
		return err
	}
	if !ok || idx < 0 || idx >= len(dbs) {
		// The offer expired; show a fresh one.
		return d.chain.Run(ctx, s, d)
	}

	if err := d.options.Delete(ctx, strconv.FormatInt(s.ID, 10)); err != nil {
		d.log.Debug().Ctx(ctx).Err(err).Msg("failed to drop database options")
	}
	return d.choose(ctx, s, dbs[idx], false)
}

func (d *databaseStep) choose(ctx context.Context, s setup.Subject, db source.Database, only bool) error {
	if err := d.subs.SetDatabase(ctx, s.ID, db.ID, db.Title); err != nil {
		return err
	}

	d.clearArtifacts(ctx, s.ChatID)

	text := fmt.Sprintf("I'll watch <b>%s</b>.", html.EscapeString(db.Title))
	if only {
		text = fmt.Sprintf("<b>%s</b> is the only database shared with me, so I'll watch that one.",
			html.EscapeString(db.Title))
	}
	d.say(ctx, s.ChatID, chat.Message{Text: text, HTML: true})

	_, err := d.chain.Advance(ctx, s)
	return err
}

// fieldDraft is a selection in progress. It is persisted only when the
// subject presses done, so the step stays unfinished while toggling.
type fieldDraft struct {
	DatabaseID string         `json:"database_id"`
	Options    []source.Field `json:"options"`
	Selected   []string       `json:"selected"`
}

func (d fieldDraft) selected(name string) bool {
	return slices.Contains(d.Selected, name)
}

func (d *fieldDraft) toggle(name string) {
	if i := slices.Index(d.Selected, name); i >= 0 {
		d.Selected = slices.Delete(d.Selected, i, i+1)
		return
	}
	d.Selected = append(d.Selected, name)
}

// fieldsStep lets the subject pick which properties to track.
type fieldsStep struct {
	*flow
	drafts *kv.TypedKV[fieldDraft]
}

func newFieldsStep(f *flow, store kv.KV) *fieldsStep {
	return &fieldsStep{flow: f, drafts: kv.Scoped[fieldDraft](store, "fields")}
}

func (p *fieldsStep) Name() string { return stepFields }

func (p *fieldsStep) Applicable(ctx context.Context, s setup.Subject) (bool, error) {
	facts, err := p.facts(ctx, s)
	return facts.DatabaseChosen, err
}

func (p *fieldsStep) Finished(ctx context.Context, s setup.Subject) (bool, error) {
	facts, err := p.facts(ctx, s)
	return facts.FieldsChosen, err
}

func (p *fieldsStep) Claims(a chat.Action) bool {
	return a.Kind == chat.ActionButton && strings.HasPrefix(a.Data, dataFieldsPrefix)
}

func (p *fieldsStep) Execute(ctx context.Context, s setup.Subject) error {
	p.clearArtifacts(ctx, s.ChatID)

	sub, err := p.subs.Get(ctx, s.ID)
	if err != nil {
		return err
	}
	if sub.DatabaseID == "" {
		return fmt.Errorf("%s without database: %w", stepFields, setup.ErrPreconditionUnmet)
	}

	sctx, cancel := p.sourceContext(ctx)
	schema, err := p.source.FetchSchema(sctx, sub.Credential, sub.DatabaseID)
	cancel()
	if err != nil {
		return p.sourceFailure(ctx, s, err, sub.DatabaseID)
	}

	supported := schema.Supported()
	if len(supported) == 0 {
		return fmt.Errorf("no supported properties: %w", setup.ErrNoOptions)
	}

	draft := fieldDraft{DatabaseID: sub.DatabaseID, Options: supported}
	for _, name := range sub.TrackedFields {
		if _, ok := supported.Type(name); ok {
			draft.Selected = append(draft.Selected, name)
		}
	}

	if err := p.drafts.SetTTL(ctx, strconv.FormatInt(s.ID, 10), draft, p.cfg.Setup.OptionsTTL); err != nil {
		return fmt.Errorf("store field draft: %w", err)
	}

	return p.prompt(ctx, s.ChatID, fieldsMessage(draft))
}

func (p *fieldsStep) NoOptions(ctx context.Context, s setup.Subject) error {
	return p.prompt(ctx, s.ChatID, chat.Message{
		Text: "This database has no properties I can track. I understand title, status, select, date, people and url properties.",
		Buttons: [][]chat.Button{{{Text: "Choose another database", Data: dataFieldsOtherDB}}},
	})
}

func (p *fieldsStep) handle(ctx context.Context, s setup.Subject, a chat.Action) error {
	key := strconv.FormatInt(s.ID, 10)

	if a.Data == dataFieldsOtherDB {
		if err := p.subs.ClearDatabase(ctx, s.ID); err != nil {
			return err
		}
		p.clearArtifacts(ctx, s.ChatID)
		_, err := p.chain.Advance(ctx, s)
		return err
	}

	draft, ok, err := p.drafts.Lookup(ctx, key)
	if err != nil {
		return err
	}
	if !ok {
		return p.chain.Run(ctx, s, p)
	}

	// A draft built from another database's schema must never be committed.
	sub, err := p.subs.Get(ctx, s.ID)
	if err != nil && !errors.Is(err, subscription.ErrNotFound) {
		return err
	}
	if err != nil || draft.DatabaseID != sub.DatabaseID {
		if err := p.drafts.Delete(ctx, key); err != nil {
			p.log.Debug().Ctx(ctx).Err(err).Msg("failed to drop stale field draft")
		}
		_, err := p.chain.Advance(ctx, s)
		return err
	}

	switch {
	case strings.HasPrefix(a.Data, dataFieldToggle):
		idx, err := strconv.Atoi(strings.TrimPrefix(a.Data, dataFieldToggle))
		if err != nil || idx < 0 || idx >= len(draft.Options) {
			return nil
		}

		draft.toggle(draft.Options[idx].Name)
		if err := p.drafts.SetTTL(ctx, key, draft, p.cfg.Setup.OptionsTTL); err != nil {
			return fmt.Errorf("store field draft: %w", err)
		}
		if err := p.sink.Edit(ctx, s.ChatID, a.MessageID, fieldsMessage(draft)); err != nil {
			p.log.Debug().Ctx(ctx).Err(err).Msg("failed to refresh field selection")
		}
		return nil

	case a.Data == dataFieldsDone:
		if len(draft.Selected) == 0 {
			p.say(ctx, s.ChatID, chat.Message{Text: "Please choose at least one property."})
			return p.chain.Run(ctx, s, p)
		}

		if err := p.subs.SetTrackedFields(ctx, s.ID, draft.Selected); err != nil {
			if errors.Is(err, subscription.ErrNotFound) {
				return p.chain.Run(ctx, s, p)
			}
			return err
		}
		if err := p.drafts.Delete(ctx, key); err != nil {
			p.log.Debug().Ctx(ctx).Err(err).Msg("failed to drop field draft")
		}

		p.clearArtifacts(ctx, s.ChatID)
		p.say(ctx, s.ChatID, chat.Message{
			Text: "Tracking: <b>" + html.EscapeString(strings.Join(draft.Selected, ", ")) + "</b>",
			HTML: true,
		})

		_, err := p.chain.Advance(ctx, s)
		return err
	}

	return nil
}

func fieldsMessage(d fieldDraft) chat.Message {
	rows := make([][]chat.Button, 0, len(d.Options)+1)
	for i, field := range d.Options {
		label := field.Name
		if d.selected(field.Name) {
			label = "✅ " + label
		}
		rows = append(rows, []chat.Button{{Text: label, Data: dataFieldToggle + strconv.Itoa(i)}})
	}
	rows = append(rows, []chat.Button{{Text: "Done selecting", Data: dataFieldsDone}})

	current := "none yet"
	if len(d.Selected) > 0 {
		current = strings.Join(d.Selected, ", ")
	}

	return chat.Message{
		Text: fmt.Sprintf("Choose the properties to track, then press <b>Done selecting</b>.\n\nCurrent tracked properties: %s",
			html.EscapeString(current)),
		HTML:    true,
		Buttons: rows,
	}
}

// targetStep asks where notifications should be posted.
type targetStep struct{ *flow }

func (t *targetStep) Name() string { return stepTarget }

func (t *targetStep) Applicable(ctx context.Context, s setup.Subject) (bool, error) {
	facts, err := t.facts(ctx, s)
	return facts.FieldsChosen, err
}

func (t *targetStep) Finished(ctx context.Context, s setup.Subject) (bool, error) {
	facts, err := t.facts(ctx, s)
	return facts.TargetChosen, err
}

func (t *targetStep) Claims(a chat.Action) bool {
	switch a.Kind {
	case chat.ActionGroupJoin:
		return true
	case chat.ActionButton:
		return strings.HasPrefix(a.Data, dataTargetPrefix)
	default:
		return false
	}
}

func (t *targetStep) Execute(ctx context.Context, s setup.Subject) error {
	t.clearArtifacts(ctx, s.ChatID)

	rows := [][]chat.Button{{{Text: "Stay here", Data: dataTargetPrivate}}}
	if t.botName != "" {
		rows = append(rows, []chat.Button{{
			Text: "Add to group",
			URL:  fmt.Sprintf("https://t.me/%s?startgroup=%s", t.botName, groupStartParam),
		}})
	}

	return t.prompt(ctx, s.ChatID, chat.Message{
		Text:    "Where should I send notifications? Stay in this chat or add me to a group.",
		Buttons: rows,
	})
}

func (t *targetStep) handle(ctx context.Context, s setup.Subject, a chat.Action) error {
	if a.Data != dataTargetPrivate {
		return nil
	}
	return t.choose(ctx, s, subscription.Target{ChatID: s.ChatID, Kind: subscription.TargetPrivate})
}

func (t *targetStep) joined(ctx context.Context, s setup.Subject, a chat.Action) error {
	if err := t.choose(ctx, s, subscription.Target{ChatID: a.ChatID, Kind: subscription.TargetGroup}); err != nil {
		return err
	}

	name := "this group"
	if a.ChatTitle != "" {
		name = html.EscapeString(a.ChatTitle)
	}
	t.say(ctx, a.ChatID, chat.Message{
		Text: fmt.Sprintf("Hi %s! I'll post Notion changes here.", name),
		HTML: true,
	})
	return nil
}

func (t *targetStep) choose(ctx context.Context, s setup.Subject, target subscription.Target) error {
	if err := t.subs.SetTarget(ctx, s.ID, target); err != nil {
		return err
	}

	t.clearArtifacts(ctx, s.ChatID)

	sub, err := t.subs.Get(ctx, s.ID)
	if err != nil {
		return err
	}

	where := "here"
	if target.Kind == subscription.TargetGroup {
		where = "to the group"
	}
	t.say(ctx, s.ChatID, chat.Message{
		Text: fmt.Sprintf("Setup complete 🎉 I'll send changes %s, checking every %s.",
			where, t.cfg.Tracker.Interval.Round(time.Second)),
		Keyboard: toggleKeyboard(sub.Active),
	})

	_, err = t.chain.Advance(ctx, s)
	return err
}
