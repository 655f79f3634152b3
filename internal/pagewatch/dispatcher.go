package pagewatch

import (
	"context"
	"fmt"
	"html"
	"strconv"
	"strings"

	"github.com/hay-kot/pagewatch/internal/core/chat"
	"github.com/hay-kot/pagewatch/internal/core/kv"
	"github.com/hay-kot/pagewatch/internal/core/logging"
	"github.com/hay-kot/pagewatch/internal/core/setup"
	"github.com/hay-kot/pagewatch/internal/core/subscription"
)

const greeting = "Hi! I watch a Notion database and tell you what changed. Let's get you set up."

const helpText = `/login - connect a different Notion workspace
/choose_database - pick the database to watch
/choose_properties - pick the properties to track
/set_notification - choose where notifications go
/status - show the current settings
/pause, /resume - stop or restart notifications`

// Dispatcher is the single entry point for inbound chat actions. Every
// action passes the setup gate before it is routed to a handler.
type Dispatcher struct {
	*flow
	seen *kv.TypedKV[bool]
}

func newDispatcher(f *flow, store kv.KV) *Dispatcher {
	return &Dispatcher{flow: f, seen: kv.Scoped[bool](store, "update")}
}

// HandleAction processes one action. Actions for the same subject are
// handled one at a time, and a repeated UpdateID is dropped.
func (d *Dispatcher) HandleAction(ctx context.Context, a chat.Action) error {
	d.metrics.Actions.WithLabelValues(string(a.Kind)).Inc()

	if a.Group() && a.Kind != chat.ActionGroupJoin {
		return nil
	}

	ctx = logging.WithSubjectID(ctx, a.SubjectID)

	unlock, err := d.subjects.LockContext(ctx, a.SubjectID)
	if err != nil {
		return err
	}
	defer unlock()

	if a.UpdateID != 0 {
		fresh, err := d.seen.SetNX(ctx, strconv.FormatInt(a.UpdateID, 10), true, d.cfg.Dispatch.DedupeTTL)
		if err != nil {
			return fmt.Errorf("dedupe update: %w", err)
		}
		if !fresh {
			d.log.Debug().Ctx(ctx).Int64("update_id", a.UpdateID).Msg("duplicate update dropped")
			return nil
		}
	}

	if a.Kind == chat.ActionButton && a.CallbackID != "" {
		if answerer, ok := d.sink.(chat.CallbackAnswerer); ok {
			if err := answerer.AnswerCallback(ctx, a.CallbackID, ""); err != nil {
				d.log.Debug().Ctx(ctx).Err(err).Msg("failed to answer callback")
			}
		}
	}

	s := subjectOf(a.SubjectID)

	decision, step, err := d.chain.Gate(ctx, s, a)
	d.metrics.GateDecisions.WithLabelValues(decision.String()).Inc()
	if err != nil {
		return d.fail(ctx, s, err)
	}
	if decision == setup.Suppressed {
		d.log.Debug().Ctx(ctx).Str("step", step.Name()).Msg("action gated")
		return nil
	}

	if err := d.route(ctx, s, a); err != nil {
		return d.fail(ctx, s, err)
	}
	return nil
}

// CredentialObtained feeds a completed authorization into the dispatcher.
func (d *Dispatcher) CredentialObtained(ctx context.Context, subjectID int64, credential string) error {
	return d.HandleAction(ctx, chat.Action{
		Kind:       chat.ActionCredential,
		SubjectID:  subjectID,
		ChatID:     subjectID,
		ChatType:   chat.ChatPrivate,
		Credential: credential,
	})
}

func (d *Dispatcher) fail(ctx context.Context, s setup.Subject, err error) error {
	d.log.Error().Ctx(ctx).Err(err).Msg("failed to handle action")
	d.say(ctx, s.ChatID, chat.Message{Text: msgTryAgain})
	return err
}

func (d *Dispatcher) route(ctx context.Context, s setup.Subject, a chat.Action) error {
	switch a.Kind {
	case chat.ActionCredential:
		return d.connect.complete(ctx, s, a.Credential)
	case chat.ActionGroupJoin:
		return d.target.joined(ctx, s, a)
	case chat.ActionButton:
		switch {
		case strings.HasPrefix(a.Data, dataDatabasePrefix):
			return d.database.handle(ctx, s, a)
		case strings.HasPrefix(a.Data, dataFieldsPrefix):
			return d.fields.handle(ctx, s, a)
		case strings.HasPrefix(a.Data, dataTargetPrefix):
			return d.target.handle(ctx, s, a)
		}
		return nil
	case chat.ActionCommand:
		return d.command(ctx, s, a)
	case chat.ActionText:
		switch a.Text {
		case labelPause:
			return d.setActive(ctx, s, false)
		case labelUnpause:
			return d.setActive(ctx, s, true)
		}
		return nil
	default:
		return nil
	}
}

func (d *Dispatcher) command(ctx context.Context, s setup.Subject, a chat.Action) error {
	switch a.Command {
	case "start":
		sub, err := d.subs.Get(ctx, s.ID)
		if err != nil {
			return err
		}
		d.say(ctx, s.ChatID, chat.Message{
			Text:     "You're all set. I'll keep an eye on your database. Send /help for the list of commands.",
			Keyboard: toggleKeyboard(sub.Active),
		})
		return nil
	case "help":
		d.say(ctx, s.ChatID, chat.Message{Text: helpText})
		return nil
	case "login":
		return d.chain.Run(ctx, s, d.connect)
	case "choose_database":
		return d.chain.Run(ctx, s, d.database)
	case "choose_properties":
		return d.chain.Run(ctx, s, d.fields)
	case "set_notification":
		return d.chain.Run(ctx, s, d.target)
	case "status":
		return d.status(ctx, s)
	case "pause":
		return d.setActive(ctx, s, false)
	case "resume":
		return d.setActive(ctx, s, true)
	default:
		d.say(ctx, s.ChatID, chat.Message{Text: "I don't know that command. Send /help for the list."})
		return nil
	}
}

func (d *Dispatcher) setActive(ctx context.Context, s setup.Subject, active bool) error {
	if err := d.subs.SetActive(ctx, s.ID, active); err != nil {
		return err
	}

	text := "Notifications paused. I'll keep quiet until you unpause them."
	if active {
		text = "Notifications are on again."
	}
	d.say(ctx, s.ChatID, chat.Message{Text: text, Keyboard: toggleKeyboard(active)})
	return nil
}

func (d *Dispatcher) status(ctx context.Context, s setup.Subject) error {
	sub, err := d.subs.Get(ctx, s.ID)
	if err != nil {
		return err
	}
	d.say(ctx, s.ChatID, chat.Message{Text: statusText(sub), HTML: true, Keyboard: toggleKeyboard(sub.Active)})
	return nil
}

func statusText(sub subscription.Subscription) string {
	where := "not set"
	if sub.Target != nil {
		where = "this chat"
		if sub.Target.Kind == subscription.TargetGroup {
			where = "a group"
		}
	}

	state := "active"
	if !sub.Active {
		state = "paused"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "<b>Database:</b> %s\n", html.EscapeString(sub.DatabaseTitle))
	fmt.Fprintf(&b, "<b>Properties:</b> %s\n", html.EscapeString(strings.Join(sub.TrackedFields, ", ")))
	fmt.Fprintf(&b, "<b>Notifications:</b> %s\n", where)
	fmt.Fprintf(&b, "<b>Status:</b> %s", state)
	return b.String()
}
