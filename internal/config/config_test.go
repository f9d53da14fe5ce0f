package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
bookmaker:
  base_url: https://bookie.example
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Browser.Mode != "standalone" {
		t.Errorf("default browser mode = %q", cfg.Browser.Mode)
	}
	if cfg.Staking.Fraction != 0.05 {
		t.Errorf("default staking fraction = %v", cfg.Staking.Fraction)
	}
	if cfg.Staking.Ceiling != 50 {
		t.Errorf("default staking ceiling = %v", cfg.Staking.Ceiling)
	}
	if cfg.Selectors.BackupCount != 5 {
		t.Errorf("default backup count = %d", cfg.Selectors.BackupCount)
	}
	if cfg.Healing.HistoryLimit != 100 {
		t.Errorf("default history limit = %d", cfg.Healing.HistoryLimit)
	}
	if cfg.Liveness.MaxStaleSec != 60 {
		t.Errorf("default max stale = %d", cfg.Liveness.MaxStaleSec)
	}
}

func TestLoadRequiresBaseURL(t *testing.T) {
	path := writeConfig(t, `
browser:
  mode: standalone
`)

	if _, err := Load(path); err == nil {
		t.Fatal("expected an error for a missing bookmaker.base_url")
	}
}

func TestLoadRejectsUnknownBrowserMode(t *testing.T) {
	path := writeConfig(t, `
bookmaker:
  base_url: https://bookie.example
browser:
  mode: turbo
`)

	if _, err := Load(path); err == nil {
		t.Fatal("expected an error for browser.mode=turbo")
	}
}

func TestAttachedModeRequiresRemoteURL(t *testing.T) {
	path := writeConfig(t, `
bookmaker:
  base_url: https://bookie.example
browser:
  mode: attached
`)

	if _, err := Load(path); err == nil {
		t.Fatal("attached mode without remote_url must fail validation")
	}
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `
bookmaker:
  base_url: https://file.example
staking:
  fraction: 0.02
`)

	t.Setenv("BOOKMAKER_BASE_URL", "https://env.example")
	t.Setenv("STAKE_FRACTION", "0.10")

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Bookmaker.BaseURL != "https://env.example" {
		t.Errorf("base url = %q, env must win", cfg.Bookmaker.BaseURL)
	}
	if cfg.Staking.Fraction != 0.10 {
		t.Errorf("staking fraction = %v, env must win", cfg.Staking.Fraction)
	}
}

func TestSecretsRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secrets.enc")

	in := &Secrets{
		TelegramBotToken: "123:abc",
		BookmakerUser:    "better01",
		BookmakerPass:    "hunter2",
	}
	if err := SaveSecrets(path, in); err != nil {
		t.Fatal(err)
	}

	// The file on disk must not leak plaintext.
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(raw) == "" || containsAny(raw, "hunter2", "123:abc") {
		t.Error("secrets stored in plaintext")
	}

	out, err := LoadSecrets(path)
	if err != nil {
		t.Fatal(err)
	}
	if *out != *in {
		t.Errorf("round trip mismatch: %+v != %+v", out, in)
	}
}

func TestLoadSecretsRejectsTamperedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secrets.enc")
	if err := SaveSecrets(path, &Secrets{BookmakerUser: "u"}); err != nil {
		t.Fatal(err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	raw[len(raw)-1] ^= 0xFF
	if err := os.WriteFile(path, raw, 0600); err != nil {
		t.Fatal(err)
	}

	if _, err := LoadSecrets(path); err == nil {
		t.Fatal("tampered ciphertext must not decrypt")
	}
}

func TestMask(t *testing.T) {
	if got := Mask("1234567890"); got != "***7890" {
		t.Errorf("Mask = %q", got)
	}
	if got := Mask("ab"); got != "***" {
		t.Errorf("Mask short = %q", got)
	}
}

func containsAny(raw []byte, needles ...string) bool {
	for _, n := range needles {
		if strings.Contains(string(raw), n) {
			return true
		}
	}
	return false
}
