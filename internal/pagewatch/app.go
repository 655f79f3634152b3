// Package pagewatch wires the onboarding chain, the inbound dispatcher and
// the tracker around explicit dependencies.
package pagewatch

import (
	"github.com/hay-kot/pagewatch/internal/core/chat"
	"github.com/hay-kot/pagewatch/internal/core/config"
	"github.com/hay-kot/pagewatch/internal/core/kv"
	"github.com/hay-kot/pagewatch/internal/core/page"
	"github.com/hay-kot/pagewatch/internal/core/reconcile"
	"github.com/hay-kot/pagewatch/internal/core/source"
	"github.com/hay-kot/pagewatch/internal/core/subscription"
	"github.com/hay-kot/pagewatch/internal/metrics"
)

// Connector builds the link a subject follows to grant access to their
// workspace.
type Connector interface {
	ConnectURL(subjectID int64) (string, error)
}

// Deps are the collaborators an App is built from.
type Deps struct {
	Subscriptions subscription.Store
	Snapshots     page.SnapshotStore
	KV            kv.KV
	Source        source.Source
	Sink          chat.Sink
	Connector     Connector
	Metrics       *metrics.Metrics
	// BotUsername is used for the add-to-group deep link.
	BotUsername string
}

// App is the central entry point for bot operations. Commands consume App
// instead of cherry-picking raw dependencies.
type App struct {
	Dispatcher    *Dispatcher
	Tracker       *Tracker
	Subscriptions subscription.Store
	Config        config.Config
}

// NewApp constructs an App from explicit dependencies.
func NewApp(cfg config.Config, deps Deps) *App {
	if deps.Metrics == nil {
		deps.Metrics = metrics.New()
	}

	f := newFlow(cfg, deps)

	return &App{
		Dispatcher:    newDispatcher(f, deps.KV),
		Tracker:       newTracker(cfg.Tracker, deps.Snapshots, f, reconcile.New()),
		Subscriptions: deps.Subscriptions,
		Config:        cfg,
	}
}

