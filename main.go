package main

import (
	"context"
	"fmt"
	"os"
	"runtime/debug"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"

	"github.com/hay-kot/pagewatch/internal/commands"
	"github.com/hay-kot/pagewatch/internal/core/config"
	"github.com/hay-kot/pagewatch/internal/core/logging"
	"github.com/hay-kot/pagewatch/internal/data/db"
	"github.com/hay-kot/pagewatch/internal/data/stores"
	"github.com/hay-kot/pagewatch/pkg/logutils"
)

var (
	// Build information. Populated at build-time via -ldflags flag.
	// When installed via `go install module@version`, init() populates
	// these from runtime/debug.BuildInfo instead.
	version = "dev"
	commit  = "HEAD"
	date    = "now"
)

func build() string {
	v, c, d := version, commit, date

	// When installed via `go install module@version`, ldflags aren't set
	// so version remains "dev". Fall back to runtime/debug.BuildInfo which
	// Go populates automatically with the module version and VCS metadata.
	if v == "dev" {
		if info, ok := debug.ReadBuildInfo(); ok {
			if mv := info.Main.Version; mv != "" && mv != "(devel)" {
				v = mv
			}
			for _, s := range info.Settings {
				switch s.Key {
				case "vcs.revision":
					c = s.Value
				case "vcs.time":
					d = s.Value
				}
			}
		}
	}

	short := c
	if len(c) > 7 {
		short = c[:7]
	}

	return fmt.Sprintf("%s (%s) %s", v, short, d)
}

// openDatabase opens the store, moving a corrupted file aside once.
func openDatabase(cfg *config.Config) (*db.DB, error) {
	opts := db.OpenOptions{
		MaxOpenConns: cfg.Database.MaxOpenConns,
		MaxIdleConns: cfg.Database.MaxIdleConns,
		BusyTimeout:  cfg.Database.BusyTimeout,
	}

	database, err := db.Open(cfg.DataDir, opts)
	if err == nil || !stores.IsCorruptionError(err) {
		return database, err
	}

	log.Warn().Err(err).Str("data_dir", cfg.DataDir).Msg("database corrupted, starting fresh")
	if err := stores.RecoverFromCorruption(cfg.DataDir); err != nil {
		return nil, err
	}
	return db.Open(cfg.DataDir, opts)
}

func main() {
	ctx := context.Background()

	var (
		logCloser func()
		rt        = &commands.Runtime{}
	)

	flags := &commands.Flags{}

	app := &cli.Command{
		Name:      "pagewatch",
		Usage:     "Telegram notifications for Notion database changes",
		UsageText: "pagewatch [global options] command [command options]",
		Description: `pagewatch is a Telegram bot that watches a Notion database and posts a
message whenever a page is added, removed or one of the tracked properties
changes.

Run 'pagewatch run' to start the bot.
Run 'pagewatch config validate' to check a configuration before deploying.`,
		Version: build(),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "log-level",
				Usage:       "log level (debug, info, warn, error, fatal, panic)",
				Sources:     cli.EnvVars("PAGEWATCH_LOG_LEVEL"),
				Value:       "info",
				Destination: &flags.LogLevel,
			},
			&cli.StringFlag{
				Name:        "log-file",
				Usage:       "append JSON logs to this file instead of stderr",
				Sources:     cli.EnvVars("PAGEWATCH_LOG_FILE"),
				Destination: &flags.LogFile,
			},
			&cli.BoolFlag{
				Name:        "pretty",
				Usage:       "human readable logs on stderr",
				Sources:     cli.EnvVars("PAGEWATCH_PRETTY_LOGS"),
				Destination: &flags.PrettyLogs,
			},
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "path to config file",
				Sources:     cli.EnvVars("PAGEWATCH_CONFIG"),
				Value:       commands.DefaultConfigPath(),
				Destination: &flags.ConfigPath,
			},
			&cli.StringFlag{
				Name:        "data-dir",
				Usage:       "path to data directory",
				Sources:     cli.EnvVars("PAGEWATCH_DATA_DIR"),
				Value:       commands.DefaultDataDir(),
				Destination: &flags.DataDir,
			},
			&cli.StringFlag{
				Name:        "telegram-token",
				Usage:       "Telegram bot token (overrides telegram.token)",
				Sources:     cli.EnvVars("PAGEWATCH_TELEGRAM_TOKEN"),
				Destination: &flags.TelegramToken,
			},
			&cli.StringFlag{
				Name:        "notion-client-secret",
				Usage:       "Notion OAuth client secret (overrides notion.client_secret)",
				Sources:     cli.EnvVars("PAGEWATCH_NOTION_CLIENT_SECRET"),
				Destination: &flags.NotionClientSecret,
			},
			&cli.StringFlag{
				Name:        "state-secret",
				Usage:       "key used to sign OAuth state (overrides oauth.state_secret)",
				Sources:     cli.EnvVars("PAGEWATCH_STATE_SECRET"),
				Destination: &flags.StateSecret,
			},
		},
		Before: func(ctx context.Context, c *cli.Command) (context.Context, error) {
			logger, closer, err := logutils.New(flags.LogLevel, flags.LogFile, flags.PrettyLogs)
			if err != nil {
				return ctx, fmt.Errorf("setup logger: %w", err)
			}
			log.Logger = logger.Hook(logging.ContextHook{})
			logCloser = closer

			cfg, err := config.Load(flags.ConfigPath, flags.DataDir)
			if err != nil {
				return ctx, fmt.Errorf("load config: %w", err)
			}
			flags.ApplyOverrides(cfg)
			flags.Config = cfg

			database, err := openDatabase(cfg)
			if err != nil {
				return ctx, fmt.Errorf("open database: %w", err)
			}

			// Populate the pre-allocated Runtime (commands already hold a pointer to it)
			*rt = *commands.NewRuntime(cfg, database)

			return ctx, nil
		},
		After: func(ctx context.Context, c *cli.Command) error {
			if rt.DB != nil {
				if err := rt.DB.Close(); err != nil {
					log.Error().Err(err).Msg("failed to close database")
					return err
				}
			}

			if logCloser != nil {
				logCloser()
			}
			return nil
		},
	}

	app = commands.NewRunCmd(flags, rt).Register(app)
	app = commands.NewReconcileCmd(flags, rt).Register(app)
	app = commands.NewSubsCmd(flags, rt).Register(app)
	app = commands.NewConfigValidateCmd(flags).Register(app)
	app = commands.NewDBCmd(flags, rt).Register(app)

	exitCode := 0
	runErr := app.Run(ctx, os.Args)
	if runErr != nil {
		fmt.Println()
		fmt.Println(runErr.Error())
		exitCode = 1
	}

	os.Exit(exitCode)
}
