package commands

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/hay-kot/criterio"
	"github.com/urfave/cli/v3"

	"github.com/hay-kot/pagewatch/internal/core/config"
	"github.com/hay-kot/pagewatch/pkg/iojson"
)

type ConfigValidateCmd struct {
	flags  *Flags
	format string
}

// NewConfigValidateCmd creates a new config validate command.
func NewConfigValidateCmd(flags *Flags) *ConfigValidateCmd {
	return &ConfigValidateCmd{flags: flags}
}

// Register adds the config validate command to the application.
func (cmd *ConfigValidateCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:  "config",
		Usage: "Configuration management commands",
		Commands: []*cli.Command{
			{
				Name:        "validate",
				Usage:       "Validate configuration file",
				UsageText:   "pagewatch config validate [options]",
				Description: "Validates the configuration needed to run the bot: secrets, URLs, the listen address, glob patterns and file paths.",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:        "format",
						Usage:       "output format (text, json)",
						Value:       "text",
						Destination: &cmd.format,
					},
				},
				Action: cmd.run,
			},
		},
	})

	return app
}

type validationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

type validationResult struct {
	Valid    bool                       `json:"valid"`
	Errors   []validationError          `json:"errors,omitempty"`
	Warnings []config.ValidationWarning `json:"warnings,omitempty"`
}

func validate(cfg *config.Config, configPath string) validationResult {
	result := validationResult{Warnings: cfg.Warnings()}

	err := cfg.ValidateDeep(configPath)
	if err == nil {
		result.Valid = true
		return result
	}

	var fieldErrs criterio.FieldErrors
	if errors.As(err, &fieldErrs) {
		for _, fe := range fieldErrs {
			result.Errors = append(result.Errors, validationError{Field: fe.Field, Message: fe.Err.Error()})
		}
		return result
	}

	result.Errors = append(result.Errors, validationError{Field: "config", Message: err.Error()})
	return result
}

func (cmd *ConfigValidateCmd) run(ctx context.Context, c *cli.Command) error {
	result := validate(cmd.flags.Config, cmd.flags.ConfigPath)

	if cmd.format == "json" {
		if err := iojson.WriteWith(c.Root().Writer, c.Root().ErrWriter, result); err != nil {
			return err
		}
	} else {
		writeValidation(c.Root().Writer, result)
	}

	if !result.Valid {
		return cli.Exit("", 1)
	}
	return nil
}

func writeValidation(w io.Writer, result validationResult) {
	for _, warn := range result.Warnings {
		fmt.Fprintf(w, "! %s: %s\n", warn.Category, warn.Message)
		if warn.Item != "" {
			fmt.Fprintf(w, "  Item: %s\n", warn.Item)
		}
	}

	for _, e := range result.Errors {
		fmt.Fprintf(w, "✗ %s: %s\n", e.Field, e.Message)
	}

	fmt.Fprintln(w)
	if result.Valid {
		fmt.Fprintln(w, "✓ Configuration is valid")
		return
	}
	fmt.Fprintf(w, "%d error(s) found\n", len(result.Errors))
}
