package pagewatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hay-kot/pagewatch/internal/core/chat"
	"github.com/hay-kot/pagewatch/internal/core/config"
	"github.com/hay-kot/pagewatch/internal/core/page"
	"github.com/hay-kot/pagewatch/internal/core/source"
	"github.com/hay-kot/pagewatch/internal/core/subscription"
	"github.com/hay-kot/pagewatch/internal/data/db"
	"github.com/hay-kot/pagewatch/internal/data/stores"
	"github.com/hay-kot/pagewatch/internal/metrics"
)

const (
	alice     int64 = 101
	bob       int64 = 202
	groupChat int64 = -500
)

type fakeSource struct {
	mu sync.Mutex

	databases []source.Database
	listErr   error
	schema    source.Schema
	schemaErr error

	listings map[string]page.Snapshot
	// fetchErr fails FetchListing for a credential.
	fetchErr map[string]error
	// before runs at the start of FetchListing.
	before func(databaseID string)

	listCalls  int
	fetchCalls []string
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		listings: make(map[string]page.Snapshot),
		fetchErr: make(map[string]error),
	}
}

func (f *fakeSource) ListDatabases(context.Context, string) ([]source.Database, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	return f.databases, f.listErr
}

func (f *fakeSource) FetchSchema(context.Context, string, string) (source.Schema, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.schema, f.schemaErr
}

func (f *fakeSource) FetchListing(_ context.Context, credential, databaseID string) (page.Snapshot, error) {
	f.mu.Lock()
	before := f.before
	f.fetchCalls = append(f.fetchCalls, credential)
	err := f.fetchErr[credential]
	snap, ok := f.listings[databaseID]
	f.mu.Unlock()

	if before != nil {
		before(databaseID)
	}
	if err != nil {
		return page.Snapshot{}, err
	}
	if !ok {
		return page.Snapshot{}, source.ErrNotFound
	}
	return snap, nil
}

func (f *fakeSource) fetches() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.fetchCalls...)
}

func (f *fakeSource) setListing(databaseID string, pages ...page.Page) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listings[databaseID] = page.Snapshot{DatabaseID: databaseID, Pages: pages}
}

type sent struct {
	ChatID    int64
	MessageID int
	Msg       chat.Message
}

type fakeSink struct {
	mu       sync.Mutex
	next     int
	sent     []sent
	edits    []sent
	deleted  []int
	answered  []string
	failChat  map[int64]bool
	panicChat map[int64]bool
}

func newFakeSink() *fakeSink {
	return &fakeSink{failChat: make(map[int64]bool), panicChat: make(map[int64]bool)}
}

func (s *fakeSink) Deliver(_ context.Context, chatID int64, msg chat.Message) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failChat[chatID] {
		return 0, errors.New("chat unreachable")
	}
	if s.panicChat[chatID] {
		panic("sink exploded")
	}
	s.next++
	s.sent = append(s.sent, sent{ChatID: chatID, MessageID: s.next, Msg: msg})
	return s.next, nil
}

func (s *fakeSink) Edit(_ context.Context, chatID int64, messageID int, msg chat.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.edits = append(s.edits, sent{ChatID: chatID, MessageID: messageID, Msg: msg})
	return nil
}

func (s *fakeSink) Delete(_ context.Context, _ int64, messageID int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleted = append(s.deleted, messageID)
	return nil
}

func (s *fakeSink) AnswerCallback(_ context.Context, callbackID, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.answered = append(s.answered, callbackID)
	return nil
}

// texts returns the text of every message delivered to chatID.
func (s *fakeSink) texts(chatID int64) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, m := range s.sent {
		if m.ChatID == chatID {
			out = append(out, m.Msg.Text)
		}
	}
	return out
}

// last returns the most recent message delivered to chatID.
func (s *fakeSink) last(t *testing.T, chatID int64) sent {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.sent) - 1; i >= 0; i-- {
		if s.sent[i].ChatID == chatID {
			return s.sent[i]
		}
	}
	t.Fatalf("no message delivered to %d", chatID)
	return sent{}
}

func (s *fakeSink) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = nil
	s.edits = nil
	s.deleted = nil
}

func countContaining(texts []string, sub string) int {
	n := 0
	for _, t := range texts {
		if strings.Contains(t, sub) {
			n++
		}
	}
	return n
}

type fakeConnector struct{}

func (fakeConnector) ConnectURL(subjectID int64) (string, error) {
	return fmt.Sprintf("https://connect.test/?subject=%d", subjectID), nil
}

type testEnv struct {
	app       *App
	subs      *stores.SubscriptionStore
	snapshots *stores.SnapshotStore
	kv        *stores.KVStore
	source    *fakeSource
	sink      *fakeSink
	metrics   *metrics.Metrics
}

func newTestEnv(t *testing.T, mutate ...func(*config.Config)) *testEnv {
	t.Helper()

	database, err := db.Open(t.TempDir(), db.DefaultOpenOptions())
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })

	cfg := config.DefaultConfig()
	cfg.Setup.MaxEmptyRetries = 1
	cfg.Setup.EmptyRetryDelay = 0
	for _, fn := range mutate {
		fn(&cfg)
	}

	env := &testEnv{
		subs:      stores.NewSubscriptionStore(database),
		snapshots: stores.NewSnapshotStore(database),
		kv:        stores.NewKVStore(database),
		source:    newFakeSource(),
		sink:      newFakeSink(),
		metrics:   metrics.New(),
	}

	env.app = NewApp(cfg, Deps{
		Subscriptions: env.subs,
		Snapshots:     env.snapshots,
		KV:            env.kv,
		Source:        env.source,
		Sink:          env.sink,
		Connector:     fakeConnector{},
		Metrics:       env.metrics,
		BotUsername:   "pagewatch_bot",
	})

	return env
}

// onboard stores a complete subscription directly.
func (e *testEnv) onboard(t *testing.T, subjectID int64, credential, databaseID string, fields ...string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, e.subs.SetCredential(ctx, subjectID, credential))
	require.NoError(t, e.subs.SetDatabase(ctx, subjectID, databaseID, "Tasks"))
	require.NoError(t, e.subs.SetTrackedFields(ctx, subjectID, fields))
	require.NoError(t, e.subs.SetTarget(ctx, subjectID, subscription.Target{ChatID: subjectID, Kind: subscription.TargetPrivate}))
}

func command(subjectID int64, name string) chat.Action {
	return chat.Action{Kind: chat.ActionCommand, SubjectID: subjectID, ChatID: subjectID, ChatType: chat.ChatPrivate, Command: name}
}

func button(subjectID int64, data string, messageID int) chat.Action {
	return chat.Action{Kind: chat.ActionButton, SubjectID: subjectID, ChatID: subjectID, ChatType: chat.ChatPrivate, Data: data, MessageID: messageID}
}

func titleProp(text string) page.Property {
	return page.Property{ID: "title", Name: "Name", Type: page.TypeTitle, Raw: json.RawMessage(fmt.Sprintf(`[{"plain_text":%q}]`, text))}
}

func statusProp(name string) page.Property {
	return page.Property{ID: "s", Name: "Status", Type: page.TypeStatus, Raw: json.RawMessage(fmt.Sprintf(`{"name":%q}`, name))}
}

func notionPage(id, name, status string) page.Page {
	return page.Page{
		ID:         id,
		URL:        "https://notion.so/" + id,
		Properties: []page.Property{titleProp(name), statusProp(status)},
	}
}

var taskSchema = source.Schema{
	{Name: "Name", Type: page.TypeTitle},
	{Name: "Status", Type: page.TypeStatus},
	{Name: "Formula", Type: "formula"},
	{Name: "Due", Type: page.TypeDate},
}
