package telegram

import (
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"betflow/internal/models"
)

func TestPatternCacheRememberAndLookup(t *testing.T) {
	path := filepath.Join(t.TempDir(), "patterns.json")
	c := NewPatternCache(path, zerolog.Nop())

	raw := "BET NOW: Arsenal vs Chelsea, Over 2.5"
	sig := models.Signal{Teams: "Arsenal vs Chelsea", Market: "Over 2.5"}

	if _, ok := c.Lookup(raw); ok {
		t.Fatal("lookup hit on an empty cache")
	}

	c.Remember(raw, sig)

	got, ok := c.Lookup(raw)
	if !ok {
		t.Fatal("remembered pattern not found")
	}
	if got.Teams != sig.Teams || got.Market != sig.Market {
		t.Errorf("cached signal = %+v", got)
	}
	// RawText reflects the incoming message, not the stored sample.
	if got.RawText != raw {
		t.Errorf("RawText = %q", got.RawText)
	}
}

func TestPatternCacheNormalizesWhitespaceAndCase(t *testing.T) {
	c := NewPatternCache(filepath.Join(t.TempDir(), "patterns.json"), zerolog.Nop())

	c.Remember("BET NOW: Arsenal vs Chelsea", models.Signal{Teams: "Arsenal vs Chelsea"})

	// Same message, different casing and spacing, must hit.
	if _, ok := c.Lookup("bet now:   arsenal VS chelsea"); !ok {
		t.Error("normalized variant missed the cache")
	}
}

func TestPatternCacheDeduplicates(t *testing.T) {
	c := NewPatternCache(filepath.Join(t.TempDir(), "patterns.json"), zerolog.Nop())

	for i := 0; i < 5; i++ {
		c.Remember("same message", models.Signal{Teams: "A vs B"})
	}
	if c.Size() != 1 {
		t.Errorf("Size = %d, want 1", c.Size())
	}
}

func TestPatternCachePersistsAcrossRestarts(t *testing.T) {
	path := filepath.Join(t.TempDir(), "patterns.json")

	c := NewPatternCache(path, zerolog.Nop())
	c.Remember("BET: X vs Y, 1X2", models.Signal{Teams: "X vs Y", Market: "1X2"})

	// A fresh cache instance reads the persisted entries.
	c2 := NewPatternCache(path, zerolog.Nop())
	if c2.Size() != 1 {
		t.Fatalf("persisted size = %d, want 1", c2.Size())
	}
	got, ok := c2.Lookup("BET: X vs Y, 1X2")
	if !ok || got.Teams != "X vs Y" {
		t.Errorf("persisted lookup = %+v, ok=%v", got, ok)
	}
}
