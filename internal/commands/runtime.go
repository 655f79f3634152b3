package commands

import (
	"github.com/hay-kot/pagewatch/internal/core/chat"
	"github.com/hay-kot/pagewatch/internal/core/config"
	"github.com/hay-kot/pagewatch/internal/core/page"
	"github.com/hay-kot/pagewatch/internal/core/subscription"
	"github.com/hay-kot/pagewatch/internal/data/db"
	"github.com/hay-kot/pagewatch/internal/data/stores"
	"github.com/hay-kot/pagewatch/internal/metrics"
	"github.com/hay-kot/pagewatch/internal/notion"
	"github.com/hay-kot/pagewatch/internal/pagewatch"
	"github.com/hay-kot/pagewatch/internal/telegram"
)

// Runtime holds what the Before hook opens. Network clients are built on
// demand so offline commands work without credentials.
type Runtime struct {
	Config        *config.Config
	DB            *db.DB
	Subscriptions *stores.SubscriptionStore
	Snapshots     *stores.SnapshotStore
	KV            *stores.KVStore
	Metrics       *metrics.Metrics
}

// NewRuntime builds the stores on top of an open database.
func NewRuntime(cfg *config.Config, database *db.DB) *Runtime {
	return &Runtime{
		Config:        cfg,
		DB:            database,
		Subscriptions: stores.NewSubscriptionStore(database),
		Snapshots:     stores.NewSnapshotStore(database),
		KV:            stores.NewKVStore(database),
		Metrics:       metrics.New(),
	}
}

// Notion returns an API client for the configured endpoint.
func (r *Runtime) Notion() *notion.Client {
	return notion.NewClient(r.Config.Notion.APIURL, r.Config.Notion.Version, notion.WithTimeout(r.Config.Notion.Timeout))
}

// OAuth returns the authorization flow used for "Connect Notion" links and
// the callback.
func (r *Runtime) OAuth() *notion.OAuth {
	states := notion.NewStateSigner(r.Config.OAuth.StateSecret, r.Config.OAuth.StateTTL)
	return notion.NewOAuth(notion.OAuthConfig{
		ClientID:     r.Config.Notion.ClientID,
		ClientSecret: r.Config.Notion.ClientSecret,
		RedirectURL:  r.Config.Notion.RedirectURI,
		BaseURL:      r.Config.Notion.APIURL,
	}, states)
}

// Bot connects to Telegram.
func (r *Runtime) Bot() (*telegram.Bot, error) {
	return telegram.New(r.Config.Telegram.Token, telegram.WithPollTimeout(r.Config.Telegram.PollTimeout))
}

// appOptions replaces pieces of the default wiring.
type appOptions struct {
	subscriptions subscription.Store
	snapshots     page.SnapshotStore
	connector     pagewatch.Connector
	botUsername   string
}

// App assembles the bot around sink.
func (r *Runtime) App(sink chat.Sink, opts appOptions) *pagewatch.App {
	deps := pagewatch.Deps{
		Subscriptions: r.Subscriptions,
		Snapshots:     r.Snapshots,
		KV:            r.KV,
		Source:        r.Notion(),
		Sink:          sink,
		Connector:     opts.connector,
		Metrics:       r.Metrics,
		BotUsername:   opts.botUsername,
	}
	if opts.subscriptions != nil {
		deps.Subscriptions = opts.subscriptions
	}
	if opts.snapshots != nil {
		deps.Snapshots = opts.snapshots
	}
	return pagewatch.NewApp(*r.Config, deps)
}
