package pagewatch

import (
	"context"
	"errors"
	"fmt"
	"html"

	"github.com/rs/zerolog"

	"github.com/hay-kot/pagewatch/internal/core/chat"
	"github.com/hay-kot/pagewatch/internal/core/config"
	"github.com/hay-kot/pagewatch/internal/core/kv"
	"github.com/hay-kot/pagewatch/internal/core/logging"
	"github.com/hay-kot/pagewatch/internal/core/setup"
	"github.com/hay-kot/pagewatch/internal/core/source"
	"github.com/hay-kot/pagewatch/internal/core/subscription"
	"github.com/hay-kot/pagewatch/internal/metrics"
	"github.com/hay-kot/pagewatch/pkg/keymu"
)

const (
	msgInterrupted  = "Oops, seems like you haven't set me up yet. Let's do that first 😇"
	msgTryAgain     = "Something went wrong on my side. Please try again in a moment."
	msgUnreachable  = "I couldn't reach Notion right now. Please try again in a moment."
	msgReconnect    = "I lost access to your Notion workspace. Let's connect it again."
	labelPause      = "Pause notifications"
	labelUnpause    = "Unpause notifications"
	groupStartParam = "pagewatch"
)

// flow is the state shared by the setup steps, the dispatcher and the
// tracker. It holds no per-subject state; everything is read from the
// stores on demand.
type flow struct {
	cfg       config.Config
	subs      subscription.Store
	source    source.Source
	sink      chat.Sink
	connector Connector
	metrics   *metrics.Metrics
	botName   string
	log       zerolog.Logger

	// subjects serializes all work addressed to one subject.
	subjects *keymu.Mutex[int64]
	// unavailable remembers databases that were listed but could not be
	// read, so they are never picked automatically again.
	unavailable *kv.TypedKV[bool]

	connect  *connectStep
	database *databaseStep
	fields   *fieldsStep
	target   *targetStep
	chain    *setup.Chain
}

func newFlow(cfg config.Config, deps Deps) *flow {
	f := &flow{
		cfg:       cfg,
		subs:      deps.Subscriptions,
		source:    deps.Source,
		sink:      deps.Sink,
		connector: deps.Connector,
		metrics:   deps.Metrics,
		botName:   deps.BotUsername,
		log:       logging.Component("pagewatch"),
		subjects:  keymu.New[int64](),
	}
	f.unavailable = kv.Scoped[bool](deps.KV, "dbgone")

	f.connect = &connectStep{flow: f}
	f.database = newDatabaseStep(f, deps.KV)
	f.fields = newFieldsStep(f, deps.KV)
	f.target = &targetStep{flow: f}

	f.chain = setup.NewChain(logging.Component("setup"), setup.Options{
		MaxEmptyRetries: cfg.Setup.MaxEmptyRetries,
		EmptyRetryDelay: cfg.Setup.EmptyRetryDelay,
		OnIntercept:     f.intercepted,
	}, f.connect, f.database, f.fields, f.target)

	return f
}

func (f *flow) intercepted(ctx context.Context, s setup.Subject, a chat.Action, _ setup.Step) {
	text := msgInterrupted
	if a.Kind == chat.ActionCommand && a.Command == "start" {
		text = greeting
	}
	f.say(ctx, s.ChatID, chat.Message{Text: text})
}

// say delivers a message that is not part of a setup prompt. Failures are
// logged and otherwise ignored.
func (f *flow) say(ctx context.Context, chatID int64, msg chat.Message) {
	if _, err := f.sink.Deliver(ctx, chatID, msg); err != nil {
		f.log.Warn().Ctx(ctx).Err(err).Int64("chat_id", chatID).Msg("failed to deliver message")
	}
}

// prompt delivers a transient setup message and records it so it can be
// cleared before the next one.
func (f *flow) prompt(ctx context.Context, chatID int64, msg chat.Message) error {
	id, err := f.sink.Deliver(ctx, chatID, msg)
	if err != nil {
		return fmt.Errorf("deliver prompt: %w", err)
	}
	if err := f.subs.AddArtifact(ctx, chatID, id); err != nil {
		return fmt.Errorf("record prompt: %w", err)
	}
	return nil
}

// clearArtifacts deletes every recorded setup message of a chat. The ledger
// entry is dropped even when the message could not be deleted.
func (f *flow) clearArtifacts(ctx context.Context, chatID int64) {
	ids, err := f.subs.ListArtifacts(ctx, chatID)
	if err != nil {
		f.log.Warn().Ctx(ctx).Err(err).Int64("chat_id", chatID).Msg("failed to list artifacts")
		return
	}

	for _, id := range ids {
		if err := f.sink.Delete(ctx, chatID, id); err != nil {
			f.log.Debug().Ctx(ctx).Err(err).Int("message_id", id).Msg("failed to delete artifact")
		}
		if err := f.subs.RemoveArtifact(ctx, chatID, id); err != nil {
			f.log.Warn().Ctx(ctx).Err(err).Int("message_id", id).Msg("failed to forget artifact")
		}
	}
}

func unavailableKey(subjectID int64, databaseID string) string {
	return fmt.Sprintf("%d:%s", subjectID, databaseID)
}

// markUnavailable records that databaseID could not be read for a subject.
func (f *flow) markUnavailable(ctx context.Context, subjectID int64, databaseID string) {
	if databaseID == "" {
		return
	}
	if err := f.unavailable.SetTTL(ctx, unavailableKey(subjectID, databaseID), true, f.cfg.Setup.OptionsTTL); err != nil {
		f.log.Warn().Ctx(ctx).Err(err).Str("database_id", databaseID).Msg("failed to remember unavailable database")
	}
}

func (f *flow) isUnavailable(ctx context.Context, subjectID int64, databaseID string) bool {
	ok, err := f.unavailable.Has(ctx, unavailableKey(subjectID, databaseID))
	if err != nil {
		f.log.Warn().Ctx(ctx).Err(err).Str("database_id", databaseID).Msg("failed to check unavailable database")
		return false
	}
	return ok
}

// sourceFailure turns a page source error raised inside a setup step into
// a user-visible message. Auth failures drop the connection and re-gate.
// A vanished database is dropped only when databaseID is set, and is
// remembered so the database step does not pick it automatically again.
func (f *flow) sourceFailure(ctx context.Context, s setup.Subject, err error, databaseID string) error {
	switch {
	case errors.Is(err, source.ErrAuth):
		f.log.Info().Ctx(ctx).Err(err).Msg("credential rejected during setup")
		if err := f.subs.ClearConnection(ctx, s.ID); err != nil {
			return err
		}
		f.say(ctx, s.ChatID, chat.Message{Text: msgReconnect})
		_, err := f.chain.Advance(ctx, s)
		return err

	case databaseID != "" && errors.Is(err, source.ErrNotFound):
		f.log.Info().Ctx(ctx).Err(err).Msg("database gone during setup")
		f.markUnavailable(ctx, s.ID, databaseID)
		if err := f.subs.ClearDatabase(ctx, s.ID); err != nil {
			return err
		}
		f.say(ctx, s.ChatID, chat.Message{Text: "That database is no longer shared with me. Please choose another one."})
		_, err := f.chain.Advance(ctx, s)
		return err

	default:
		f.log.Warn().Ctx(ctx).Err(err).Msg("page source unavailable during setup")
		f.say(ctx, s.ChatID, chat.Message{Text: msgUnreachable})
		return nil
	}
}

// connectionLost is called by the tracker when a subscriber's credential
// stopped working.
func (f *flow) connectionLost(ctx context.Context, subjectID int64) {
	unlock, err := f.subjects.LockContext(ctx, subjectID)
	if err != nil {
		return
	}
	defer unlock()

	ctx = logging.WithSubjectID(ctx, subjectID)
	if err := f.subs.ClearConnection(ctx, subjectID); err != nil {
		f.log.Error().Ctx(ctx).Err(err).Msg("failed to clear connection")
		return
	}

	s := subjectOf(subjectID)
	f.say(ctx, s.ChatID, chat.Message{Text: msgReconnect})
	if _, err := f.chain.Advance(ctx, s); err != nil {
		f.log.Error().Ctx(ctx).Err(err).Msg("failed to prompt reconnect")
	}
}

// databaseLost is called by the tracker when a tracked database can no
// longer be read with a subscriber's credential.
func (f *flow) databaseLost(ctx context.Context, sub subscription.Subscription) {
	unlock, err := f.subjects.LockContext(ctx, sub.SubjectID)
	if err != nil {
		return
	}
	defer unlock()

	ctx = logging.WithSubjectID(ctx, sub.SubjectID)
	f.markUnavailable(ctx, sub.SubjectID, sub.DatabaseID)
	if err := f.subs.ClearDatabase(ctx, sub.SubjectID); err != nil {
		f.log.Error().Ctx(ctx).Err(err).Msg("failed to clear database")
		return
	}

	s := subjectOf(sub.SubjectID)
	f.say(ctx, s.ChatID, chat.Message{
		Text: fmt.Sprintf("The database <b>%s</b> is no longer available. Please choose another one.",
			html.EscapeString(sub.DatabaseTitle)),
		HTML: true,
	})
	if _, err := f.chain.Advance(ctx, s); err != nil {
		f.log.Error().Ctx(ctx).Err(err).Msg("failed to prompt database choice")
	}
}

// subjectOf returns the subject for a user. Setup prompts always go to
// the user's private chat, whose id equals the user id.
func subjectOf(subjectID int64) setup.Subject {
	return setup.Subject{ID: subjectID, ChatID: subjectID}
}

func toggleKeyboard(active bool) []string {
	if active {
		return []string{labelPause}
	}
	return []string{labelUnpause}
}
