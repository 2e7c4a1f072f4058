package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestParse_DefaultsSurvivePartialYAML(t *testing.T) {
	t.Parallel()
	cfg, err := Parse([]byte(`
server:
  address: ":4000"
token_tracking:
  daily_limit: 5000
`))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if cfg.Server.Address != ":4000" {
		t.Errorf("address = %q, want :4000", cfg.Server.Address)
	}
	if cfg.TokenTracking.DailyLimit != 5000 {
		t.Errorf("daily limit = %d, want 5000", cfg.TokenTracking.DailyLimit)
	}
	// Untouched sections keep defaults.
	if cfg.Polling.Gmail.Every != 60*time.Second {
		t.Errorf("gmail cadence = %v, want 60s default", cfg.Polling.Gmail.Every)
	}
	if cfg.Completion.Command != "claude" {
		t.Errorf("completion command = %q, want default", cfg.Completion.Command)
	}
}

func TestParse_Invalid(t *testing.T) {
	t.Parallel()
	if _, err := Parse([]byte("server: [not a map")); err == nil {
		t.Fatal("Parse() on broken YAML should fail")
	}
}

func TestLoadFromFile_ExpandsEnvVars(t *testing.T) {
	t.Setenv("DURGA_TEST_GMAIL_URL", "http://upstream:9999/mail")

	path := filepath.Join(t.TempDir(), "config.yaml")
	err := os.WriteFile(path, []byte(`
polling:
  gmail:
    url: ${DURGA_TEST_GMAIL_URL}
  whatsapp:
    url: ${DURGA_TEST_UNSET:-http://fallback:1234/wa}
`), 0o644)
	if err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile() error = %v", err)
	}
	if cfg.Polling.Gmail.URL != "http://upstream:9999/mail" {
		t.Errorf("gmail url = %q, want expanded env value", cfg.Polling.Gmail.URL)
	}
	if cfg.Polling.WhatsApp.URL != "http://fallback:1234/wa" {
		t.Errorf("whatsapp url = %q, want default fallback", cfg.Polling.WhatsApp.URL)
	}
}

func TestLoadFromFile_Missing(t *testing.T) {
	t.Parallel()
	if _, err := LoadFromFile(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("LoadFromFile() on missing file should fail")
	}
}
