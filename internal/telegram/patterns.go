package telegram

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"betflow/internal/models"
)

// patternEntry is one remembered message shape with its parse result.
type patternEntry struct {
	Hash      string    `json:"hash"`
	Sample    string    `json:"sample"`
	Teams     string    `json:"teams"`
	Market    string    `json:"market"`
	FirstSeen time.Time `json:"first_seen"`
	Hits      int       `json:"hits"`
}

// PatternCache remembers parsed message patterns keyed by content hash.
// Unbounded but deduplicated: a repeated message shape costs one entry
// and skips the AI oracle entirely. Persisted on every mutation.
type PatternCache struct {
	path    string
	mu      sync.Mutex
	entries map[string]*patternEntry
	log     zerolog.Logger
}

func NewPatternCache(path string, log zerolog.Logger) *PatternCache {
	c := &PatternCache{
		path:    path,
		entries: make(map[string]*patternEntry),
		log:     log.With().Str("component", "patterns").Logger(),
	}

	data, err := os.ReadFile(path)
	if err == nil {
		var list []*patternEntry
		if err := json.Unmarshal(data, &list); err != nil {
			c.log.Warn().Err(err).Msg("pattern cache unreadable, starting fresh")
		} else {
			for _, e := range list {
				c.entries[e.Hash] = e
			}
		}
	}
	return c
}

// Lookup returns the cached parse for a message, if this exact
// normalized shape was seen before.
func (c *PatternCache) Lookup(raw string) (*models.Signal, bool) {
	h := hashMessage(raw)

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[h]
	if !ok {
		return nil, false
	}
	e.Hits++
	c.persistLocked()

	return &models.Signal{Teams: e.Teams, Market: e.Market, RawText: raw}, true
}

// Remember stores a successful parse for future lookups.
func (c *PatternCache) Remember(raw string, sig models.Signal) {
	h := hashMessage(raw)

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[h]; exists {
		return
	}
	c.entries[h] = &patternEntry{
		Hash:      h,
		Sample:    raw,
		Teams:     sig.Teams,
		Market:    sig.Market,
		FirstSeen: time.Now().UTC(),
		Hits:      1,
	}
	c.persistLocked()
}

// Size returns the number of distinct remembered patterns.
func (c *PatternCache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *PatternCache) persistLocked() {
	list := make([]*patternEntry, 0, len(c.entries))
	for _, e := range c.entries {
		list = append(list, e)
	}
	data, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return
	}

	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		c.log.Warn().Err(err).Msg("failed to persist pattern cache")
		return
	}
	if err := os.Rename(tmp, c.path); err != nil {
		c.log.Warn().Err(err).Msg("failed to replace pattern cache")
	}
}

func hashMessage(raw string) string {
	normalized := strings.Join(strings.Fields(strings.ToLower(raw)), " ")
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}
