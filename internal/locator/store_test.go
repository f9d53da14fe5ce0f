package locator

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"betflow/internal/models"
)

func newTestStore(t *testing.T, backupCount, historyLimit int) (*SelectorStore, string) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "selectors.yaml")

	seed := map[string]string{
		"stake_input":      "#stake",
		"place_bet_button": "#place-bet",
	}
	data, err := yaml.Marshal(seed)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}

	s, err := NewSelectorStore(path, filepath.Join(dir, "backups"), backupCount,
		filepath.Join(dir, "history.json"), historyLimit, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	return s, dir
}

func healRecord(key, sel string) models.HealRecord {
	return models.HealRecord{
		At:          time.Now().UTC(),
		Key:         key,
		OldSelector: "#stale",
		NewSelector: sel,
		Tier:        "dom",
	}
}

func TestStoreLoadsSeedFile(t *testing.T) {
	s, _ := newTestStore(t, 5, 100)

	if got := s.Get("stake_input"); got != "#stake" {
		t.Errorf("Get(stake_input) = %q", got)
	}
	if got := s.Get("unknown_key"); got != "" {
		t.Errorf("Get(unknown_key) = %q, want empty", got)
	}
}

func TestApplyHealPersists(t *testing.T) {
	s, dir := newTestStore(t, 5, 100)

	if err := s.ApplyHeal(healRecord("stake_input", `[data-testid="stake"]`)); err != nil {
		t.Fatal(err)
	}

	// 1. The live map is updated
	if got := s.Get("stake_input"); got != `[data-testid="stake"]` {
		t.Errorf("in-memory selector = %q", got)
	}

	// 2. A fresh store sees the healed selector on disk
	reloaded, err := NewSelectorStore(filepath.Join(dir, "selectors.yaml"),
		filepath.Join(dir, "backups"), 5, filepath.Join(dir, "history.json"), 100, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	if got := reloaded.Get("stake_input"); got != `[data-testid="stake"]` {
		t.Errorf("reloaded selector = %q", got)
	}

	// 3. Untouched keys survive the rewrite
	if got := reloaded.Get("place_bet_button"); got != "#place-bet" {
		t.Errorf("unrelated key = %q", got)
	}
}

func TestApplyHealWritesBackup(t *testing.T) {
	s, dir := newTestStore(t, 5, 100)

	if err := s.ApplyHeal(healRecord("stake_input", "#new")); err != nil {
		t.Fatal(err)
	}

	backups, err := filepath.Glob(filepath.Join(dir, "backups", "selectors.yaml.*.bak"))
	if err != nil {
		t.Fatal(err)
	}
	if len(backups) != 1 {
		t.Fatalf("expected 1 backup, got %d", len(backups))
	}

	// The backup holds the pre-heal content.
	var backedUp map[string]string
	data, err := os.ReadFile(backups[0])
	if err != nil {
		t.Fatal(err)
	}
	if err := yaml.Unmarshal(data, &backedUp); err != nil {
		t.Fatal(err)
	}
	if backedUp["stake_input"] != "#stake" {
		t.Errorf("backup content = %q, want pre-heal selector", backedUp["stake_input"])
	}
}

func TestBackupRotationKeepsNewest(t *testing.T) {
	s, dir := newTestStore(t, 2, 100)

	// Heals faster than the timestamp resolution would collide on the
	// backup name, so give each write its own second.
	for i := 0; i < 3; i++ {
		if err := s.ApplyHeal(healRecord("stake_input", "#gen")); err != nil {
			t.Fatal(err)
		}
		time.Sleep(1100 * time.Millisecond)
	}

	backups, err := filepath.Glob(filepath.Join(dir, "backups", "selectors.yaml.*.bak"))
	if err != nil {
		t.Fatal(err)
	}
	if len(backups) != 2 {
		t.Errorf("expected 2 backups after rotation, got %d", len(backups))
	}
}

func TestHealingHistoryIsBounded(t *testing.T) {
	s, dir := newTestStore(t, 5, 3)

	for i := 0; i < 6; i++ {
		if err := s.ApplyHeal(healRecord("stake_input", "#gen")); err != nil {
			t.Fatal(err)
		}
	}

	hist := s.History()
	if len(hist) != 3 {
		t.Fatalf("history length = %d, want 3", len(hist))
	}

	// The persisted file is bounded too.
	reloaded, err := NewSelectorStore(filepath.Join(dir, "selectors.yaml"),
		filepath.Join(dir, "backups"), 5, filepath.Join(dir, "history.json"), 3, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	if got := len(reloaded.History()); got != 3 {
		t.Errorf("persisted history length = %d, want 3", got)
	}
}

func TestMissingSelectorFileStartsEmpty(t *testing.T) {
	dir := t.TempDir()
	s, err := NewSelectorStore(filepath.Join(dir, "none.yaml"),
		filepath.Join(dir, "backups"), 5, filepath.Join(dir, "history.json"), 100, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	if got := s.Get("anything"); got != "" {
		t.Errorf("expected empty store, got %q", got)
	}
}
