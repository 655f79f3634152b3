package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/hay-kot/criterio"
)

// minStateSecretLen is the shortest accepted HMAC key for OAuth state.
const minStateSecretLen = 32

// ValidationWarning represents a non-fatal configuration issue.
type ValidationWarning struct {
	Category string `json:"category"`
	Item     string `json:"item,omitempty"`
	Message  string `json:"message"`
}

// ValidateDeep performs comprehensive validation of the configuration needed
// to run the bot: credentials, URLs, listen address and glob patterns. The
// configPath argument specifies the config file location to validate (empty
// string skips config file check). This calls Validate() first for basic
// structural validation.
func (c *Config) ValidateDeep(configPath string) error {
	if err := c.Validate(); err != nil {
		return err
	}

	return criterio.ValidateStruct(
		c.validateFileAccess(configPath),
		c.validateSecrets(),
		c.validateEndpoints(),
		c.validateExcludePatterns(),
	)
}

// Warnings returns non-fatal configuration issues.
func (c *Config) Warnings() []ValidationWarning {
	var warnings []ValidationWarning

	if c.Tracker.Interval < 3*time.Second {
		warnings = append(warnings, ValidationWarning{
			Category: "Tracker",
			Item:     "tracker.interval",
			Message:  fmt.Sprintf("interval %s is likely to hit Notion rate limits", c.Tracker.Interval),
		})
	}

	if c.Tracker.FirstTick == FirstTickAnnounce {
		warnings = append(warnings, ValidationWarning{
			Category: "Tracker",
			Item:     "tracker.first_tick",
			Message:  "every existing page is announced as added on the first poll of a database",
		})
	}

	if c.Telegram.BotURL == "" {
		warnings = append(warnings, ValidationWarning{
			Category: "Telegram",
			Item:     "telegram.bot_url",
			Message:  "OAuth callback page will not link back to the bot",
		})
	}

	return warnings
}

// validateFileAccess checks config file and data directory.
func (c *Config) validateFileAccess(configPath string) error {
	return criterio.ValidateStruct(
		validateConfigFile(configPath),
		criterio.Run("data_dir", c.DataDir, isDirectoryOrNotExist),
	)
}

func validateConfigFile(configPath string) error {
	if configPath == "" {
		return nil
	}

	info, err := os.Stat(configPath)
	if os.IsNotExist(err) {
		return nil // not found is fine, using defaults
	}
	if err != nil {
		return criterio.NewFieldErrors("config_file", fmt.Errorf("cannot access: %w", err))
	}
	if info.IsDir() {
		return criterio.NewFieldErrors("config_file", fmt.Errorf("%s is a directory, not a file", configPath))
	}
	return nil
}

// isDirectoryOrNotExist validates that a path is a directory or doesn't exist.
func isDirectoryOrNotExist(path string) error {
	if path == "" {
		return nil
	}
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil // will be created
	}
	if err != nil {
		return fmt.Errorf("cannot access: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("exists but is not a directory")
	}
	return nil
}

func (c *Config) validateSecrets() error {
	return criterio.ValidateStruct(
		criterio.Run("telegram.token", c.Telegram.Token, required),
		criterio.Run("notion.client_id", c.Notion.ClientID, required),
		criterio.Run("notion.client_secret", c.Notion.ClientSecret, required),
		criterio.Run("oauth.state_secret", c.OAuth.StateSecret, stateSecret),
	)
}

func (c *Config) validateEndpoints() error {
	return criterio.ValidateStruct(
		criterio.Run("notion.redirect_uri", c.Notion.RedirectURI, absoluteURL),
		criterio.Run("notion.api_url", c.Notion.APIURL, absoluteURL),
		criterio.Run("http.addr", c.HTTP.Addr, listenAddr),
	)
}

// validateExcludePatterns checks database exclusion globs.
func (c *Config) validateExcludePatterns() error {
	var errs criterio.FieldErrorsBuilder
	for i, pattern := range c.Tracker.ExcludeDatabases {
		if !doublestar.ValidatePattern(pattern) {
			errs = errs.Append(fmt.Sprintf("tracker.exclude_databases[%d]", i), fmt.Errorf("invalid glob %q", pattern))
		}
	}
	return errs.ToError()
}

func required(v string) error {
	if v == "" {
		return fmt.Errorf("is required")
	}
	return nil
}

func stateSecret(v string) error {
	if len(v) < minStateSecretLen {
		return fmt.Errorf("must be at least %d characters", minStateSecretLen)
	}
	return nil
}

func absoluteURL(v string) error {
	if v == "" {
		return fmt.Errorf("is required")
	}
	u, err := url.Parse(v)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("must be an http(s) URL, got %q", v)
	}
	if u.Host == "" {
		return fmt.Errorf("missing host in %q", v)
	}
	return nil
}

func listenAddr(v string) error {
	if _, _, err := net.SplitHostPort(v); err != nil {
		return fmt.Errorf("invalid listen address: %w", err)
	}
	return nil
}
