package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"

	"github.com/hay-kot/pagewatch/internal/httpapi"
	"github.com/hay-kot/pagewatch/internal/pagewatch/sweep"
)

type RunCmd struct {
	flags *Flags
	rt    *Runtime
}

// NewRunCmd creates a new run command
func NewRunCmd(flags *Flags, rt *Runtime) *RunCmd {
	return &RunCmd{flags: flags, rt: rt}
}

// Register adds the run command to the application
func (cmd *RunCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:      "run",
		Usage:     "Run the bot",
		UsageText: "pagewatch run",
		Description: `Starts the Telegram poller, the tracker loop, the HTTP listener for the
OAuth callback and metrics, and the background KV sweep.

Runs until interrupted (SIGINT or SIGTERM). The configuration is deep
validated first; see 'pagewatch config validate'.`,
		Action: cmd.run,
	})

	return app
}

func (cmd *RunCmd) run(ctx context.Context, c *cli.Command) error {
	cfg := cmd.rt.Config
	if err := cfg.ValidateDeep(cmd.flags.ConfigPath); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	bot, err := cmd.rt.Bot()
	if err != nil {
		return err
	}

	oauth := cmd.rt.OAuth()
	app := cmd.rt.App(bot, appOptions{connector: oauth, botUsername: bot.Username()})

	botURL := cfg.Telegram.BotURL
	if botURL == "" {
		botURL = "https://t.me/" + bot.Username()
	}

	server := httpapi.New(cfg.HTTP.Addr, httpapi.Deps{
		Auth:        oauth,
		Credentials: app.Dispatcher,
		Metrics:     cmd.rt.Metrics.Handler(),
		BotURL:      botURL,
	})

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info().
		Str("bot", bot.Username()).
		Str("addr", cfg.HTTP.Addr).
		Dur("interval", cfg.Tracker.Interval).
		Msg("pagewatch started")

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return app.Tracker.Run(ctx) })
	g.Go(func() error { return bot.Poll(ctx, app.Dispatcher.HandleAction) })
	g.Go(func() error { return server.Run(ctx) })
	g.Go(func() error {
		sweep.Start(ctx, cmd.rt.KV, cfg.Dispatch.SweepInterval)
		return nil
	})

	err = g.Wait()
	log.Info().Msg("pagewatch stopped")
	return err
}
