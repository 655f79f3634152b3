package commands

import (
	"os"
	"path/filepath"

	"github.com/hay-kot/pagewatch/internal/core/config"
)

type Flags struct {
	LogLevel   string
	LogFile    string
	ConfigPath string
	DataDir    string
	PrettyLogs bool

	// Secret overrides. Non-empty values replace what the config file holds.
	TelegramToken      string
	NotionClientSecret string
	StateSecret        string

	// Config is loaded in the Before hook and available to all commands
	Config *config.Config
}

// ApplyOverrides copies non-empty secret flags onto cfg.
func (f *Flags) ApplyOverrides(cfg *config.Config) {
	if f.TelegramToken != "" {
		cfg.Telegram.Token = f.TelegramToken
	}
	if f.NotionClientSecret != "" {
		cfg.Notion.ClientSecret = f.NotionClientSecret
	}
	if f.StateSecret != "" {
		cfg.OAuth.StateSecret = f.StateSecret
	}
}

// DefaultConfigPath returns the default config file path using XDG_CONFIG_HOME.
func DefaultConfigPath() string {
	configHome := os.Getenv("XDG_CONFIG_HOME")
	if configHome == "" {
		home, _ := os.UserHomeDir()
		configHome = filepath.Join(home, ".config")
	}
	return filepath.Join(configHome, "pagewatch", "config.yaml")
}

// DefaultDataDir returns the default data directory using XDG_DATA_HOME.
func DefaultDataDir() string {
	dataHome := os.Getenv("XDG_DATA_HOME")
	if dataHome == "" {
		home, _ := os.UserHomeDir()
		dataHome = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dataHome, "pagewatch")
}
