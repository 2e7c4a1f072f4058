// Package config defines the daemon configuration and loads it from a
// YAML file with .env loading and environment variable expansion.
package config

import (
	"time"

	"github.com/durgabridge/durga/pkg/durga/budget"
	"github.com/durgabridge/durga/pkg/durga/browser"
	"github.com/durgabridge/durga/pkg/durga/suggest"
)

// UpstreamConfig points at one polled service.
type UpstreamConfig struct {
	// URL is the recent-items endpoint.
	URL string `yaml:"url"`

	// Every is the polling cadence.
	Every time.Duration `yaml:"every"`
}

// PollingConfig controls the source pollers.
type PollingConfig struct {
	Enabled  bool           `yaml:"enabled"`
	Gmail    UpstreamConfig `yaml:"gmail"`
	WhatsApp UpstreamConfig `yaml:"whatsapp"`
	Forms    UpstreamConfig `yaml:"forms"`
}

// AutoProcessConfig controls suggestion generation at ingestion time.
type AutoProcessConfig struct {
	// Enabled turns on automatic action suggestions for fresh events.
	Enabled bool `yaml:"enabled"`

	// RequireApproval keeps the human in the loop. Nothing acts on a
	// suggestion until the event is approved.
	RequireApproval bool `yaml:"require_approval"`
}

// StateConfig locates the persisted snapshot and the event archive.
type StateConfig struct {
	// File is the JSON snapshot path.
	File string `yaml:"file"`

	// ArchiveFile is the SQLite event archive path. Empty disables the
	// archive.
	ArchiveFile string `yaml:"archive_file"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	// Address is the listen address (default ":3003").
	Address string `yaml:"address"`
}

// LoggingConfig selects log verbosity and format.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info
	Format string `yaml:"format"` // text, json
}

// Config holds all daemon configuration.
type Config struct {
	Server        ServerConfig       `yaml:"server"`
	Polling       PollingConfig      `yaml:"polling"`
	AutoProcess   AutoProcessConfig  `yaml:"auto_process"`
	TokenTracking budget.Config      `yaml:"token_tracking"`
	Completion    suggest.CLIConfig  `yaml:"completion"`
	Browser       browser.Config     `yaml:"browser"`
	State         StateConfig        `yaml:"state"`
	Logging       LoggingConfig      `yaml:"logging"`
}

// Default returns the configuration used when the file sets nothing.
// The cadences and stagger mirror the deployed sibling services.
func Default() *Config {
	return &Config{
		Server: ServerConfig{Address: ":3003"},
		Polling: PollingConfig{
			Enabled:  true,
			Gmail:    UpstreamConfig{URL: "http://localhost:5002/api/emails/fetch", Every: 60 * time.Second},
			WhatsApp: UpstreamConfig{URL: "http://localhost:3004/api/messages/recent", Every: 30 * time.Second},
			Forms:    UpstreamConfig{URL: "http://localhost:3002/api/submissions/recent", Every: 120 * time.Second},
		},
		AutoProcess: AutoProcessConfig{Enabled: false, RequireApproval: true},
		TokenTracking: budget.Config{
			Enabled:    true,
			DailyLimit: 100000,
		},
		Completion: suggest.CLIConfig{
			Command: "claude",
			Args:    []string{"--print"},
		},
		Browser: browser.Config{
			Interpreter:    "python3",
			Script:         "browser_automation/open_gmail_inbox.py",
			StatusFile:     "/tmp/durga_inbox_state.json",
			ScreenshotFile: "/tmp/durga_screenshot.png",
			GraceDelay:     time.Second,
		},
		State: StateConfig{
			File:        "state.json",
			ArchiveFile: "durga.db",
		},
		Logging: LoggingConfig{Level: "info", Format: "text"},
	}
}
