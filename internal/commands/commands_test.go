package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v3"

	"github.com/hay-kot/pagewatch/internal/core/chat"
	"github.com/hay-kot/pagewatch/internal/core/config"
	"github.com/hay-kot/pagewatch/internal/core/page"
	"github.com/hay-kot/pagewatch/internal/core/subscription"
	"github.com/hay-kot/pagewatch/internal/data/db"
)

func newTestRuntime(t *testing.T) *Runtime {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.DataDir = t.TempDir()

	database, err := db.Open(cfg.DataDir, db.DefaultOpenOptions())
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })

	return NewRuntime(&cfg, database)
}

func seed(t *testing.T, rt *Runtime, subjectID int64, active bool) {
	t.Helper()
	ctx := context.Background()
	s := rt.Subscriptions

	require.NoError(t, s.SetCredential(ctx, subjectID, "secret"))
	require.NoError(t, s.SetDatabase(ctx, subjectID, "db-1", "Tasks"))
	require.NoError(t, s.SetTrackedFields(ctx, subjectID, []string{"Name", "Status"}))
	require.NoError(t, s.SetTarget(ctx, subjectID, subscription.Target{ChatID: subjectID, Kind: subscription.TargetPrivate}))
	require.NoError(t, s.SetActive(ctx, subjectID, active))
}

func runApp(t *testing.T, register func(*cli.Command) *cli.Command, args ...string) (string, error) {
	t.Helper()

	var buf bytes.Buffer
	app := &cli.Command{
		Name:           "pagewatch",
		Writer:         &buf,
		ErrWriter:      &buf,
		ExitErrHandler: func(context.Context, *cli.Command, error) {},
	}
	app = register(app)

	err := app.Run(context.Background(), append([]string{"pagewatch"}, args...))
	return buf.String(), err
}

func TestFlags_ApplyOverrides(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Telegram.Token = "from-file"
	cfg.Notion.ClientSecret = "from-file"

	flags := &Flags{TelegramToken: "from-flag", StateSecret: "state"}
	flags.ApplyOverrides(&cfg)

	assert.Equal(t, "from-flag", cfg.Telegram.Token)
	assert.Equal(t, "from-file", cfg.Notion.ClientSecret)
	assert.Equal(t, "state", cfg.OAuth.StateSecret)
}

func TestSubsLs_JSON(t *testing.T) {
	rt := newTestRuntime(t)
	seed(t, rt, 101, true)

	out, err := runApp(t, NewSubsCmd(&Flags{}, rt).Register, "subs", "ls", "--json")
	require.NoError(t, err)

	var got subJSON
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(out)), &got))
	assert.Equal(t, int64(101), got.SubjectID)
	assert.True(t, got.Connected)
	assert.Equal(t, "Tasks", got.DatabaseTitle)
	assert.Equal(t, []string{"Name", "Status"}, got.TrackedFields)
	assert.Equal(t, "private", got.Target)
	assert.True(t, got.Active)
}

func TestSubsPauseResume(t *testing.T) {
	rt := newTestRuntime(t)
	seed(t, rt, 101, true)
	register := NewSubsCmd(&Flags{}, rt).Register

	out, err := runApp(t, register, "subs", "pause", "101")
	require.NoError(t, err)
	assert.Equal(t, "101: paused\n", out)

	sub, err := rt.Subscriptions.Get(context.Background(), 101)
	require.NoError(t, err)
	assert.False(t, sub.Active)

	_, err = runApp(t, register, "subs", "resume", "101")
	require.NoError(t, err)

	sub, err = rt.Subscriptions.Get(context.Background(), 101)
	require.NoError(t, err)
	assert.True(t, sub.Active)
}

func TestSubsPause_Errors(t *testing.T) {
	rt := newTestRuntime(t)
	register := NewSubsCmd(&Flags{}, rt).Register

	_, err := runApp(t, register, "subs", "pause")
	require.Error(t, err)

	_, err = runApp(t, register, "subs", "pause", "abc")
	require.ErrorContains(t, err, "invalid subject id")

	_, err = runApp(t, register, "subs", "pause", "999")
	require.ErrorIs(t, err, subscription.ErrNotFound)
}

func TestRenderSubs_Plain(t *testing.T) {
	subs := []subscription.Subscription{
		{
			SubjectID:     101,
			Credential:    "secret",
			DatabaseID:    "db-1",
			DatabaseTitle: "Tasks",
			TrackedFields: []string{"Name"},
			Target:        &subscription.Target{ChatID: -500, Kind: subscription.TargetGroup},
			Active:        true,
		},
		{SubjectID: 202, Credential: "secret", Active: true},
	}

	var buf bytes.Buffer
	require.NoError(t, renderSubs(&buf, subs, false))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "SUBJECT"))
	assert.Contains(t, lines[1], "group -500")
	assert.Contains(t, lines[1], "active")
	assert.Contains(t, lines[2], "setup")
}

func TestRenderSubs_Styled(t *testing.T) {
	subs := []subscription.Subscription{{SubjectID: 101, Active: false}}

	var buf bytes.Buffer
	require.NoError(t, renderSubs(&buf, subs, true))
	assert.Contains(t, buf.String(), "SUBJECT")
	assert.Contains(t, buf.String(), "101")
}

func TestConfigValidate(t *testing.T) {
	t.Run("invalid", func(t *testing.T) {
		cfg := config.DefaultConfig()
		cfg.DataDir = t.TempDir()

		out, err := runApp(t, NewConfigValidateCmd(&Flags{Config: &cfg}).Register, "config", "validate", "--format", "json")
		require.Error(t, err)

		var got validationResult
		require.NoError(t, json.Unmarshal([]byte(out), &got))
		assert.False(t, got.Valid)
		assert.NotEmpty(t, got.Errors)
	})

	t.Run("valid", func(t *testing.T) {
		cfg := config.DefaultConfig()
		cfg.DataDir = t.TempDir()
		cfg.Telegram.Token = "123456:token"
		cfg.Notion.ClientID = "client-id"
		cfg.Notion.ClientSecret = "client-secret"
		cfg.Notion.RedirectURI = "https://bot.example.com/oauth/callback"
		cfg.OAuth.StateSecret = strings.Repeat("s", 32)

		out, err := runApp(t, NewConfigValidateCmd(&Flags{Config: &cfg}).Register, "config", "validate")
		require.NoError(t, err)
		assert.Contains(t, out, "Configuration is valid")
	})
}

func TestDBStatus(t *testing.T) {
	rt := newTestRuntime(t)

	out, err := runApp(t, NewDBCmd(&Flags{}, rt).Register, "db", "status")
	require.NoError(t, err)
	assert.Contains(t, out, "VERSION")
	assert.Contains(t, out, "0001")
	assert.Contains(t, out, "yes")
}

func TestPrintSink(t *testing.T) {
	ctx := context.Background()
	p := &printSink{}

	id, err := p.Deliver(ctx, 101, chat.Message{
		Text:    "hello",
		Buttons: [][]chat.Button{{{Text: "A", Data: "a"}, {Text: "B", Data: "b"}}},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, id)

	require.NoError(t, p.Delete(ctx, 101, id))

	var buf bytes.Buffer
	require.NoError(t, p.Flush(&buf))
	assert.Contains(t, buf.String(), "--- chat 101 (#1)\nhello\n[A] [B]\n")
	assert.Contains(t, buf.String(), "delete #1")

	buf.Reset()
	require.NoError(t, p.Flush(&buf))
	assert.Empty(t, buf.String())
}

func TestReadOnlyWrappers(t *testing.T) {
	rt := newTestRuntime(t)
	seed(t, rt, 101, true)
	ctx := context.Background()

	subs := readOnlySubscriptions{Store: rt.Subscriptions}
	require.NoError(t, subs.ClearConnection(ctx, 101))
	require.NoError(t, subs.SetActive(ctx, 101, false))

	sub, err := subs.Get(ctx, 101)
	require.NoError(t, err)
	assert.True(t, sub.Trackable())

	snaps := readOnlySnapshots{SnapshotStore: rt.Snapshots}
	require.NoError(t, snaps.SetSnapshot(ctx, page.Snapshot{DatabaseID: "db-1"}))

	_, ok, err := snaps.GetSnapshot(ctx, "db-1")
	require.NoError(t, err)
	assert.False(t, ok)
}
