package locator

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"betflow/internal/models"
)

// SelectorStore owns the logical-key -> selector mapping file. The file
// is human-editable YAML; every programmatic rewrite is atomic and
// preceded by a timestamped backup, keeping the newest backupCount.
type SelectorStore struct {
	path         string
	backupDir    string
	backupCount  int
	historyPath  string
	historyLimit int

	mu        sync.Mutex
	selectors map[string]string
	history   []models.HealRecord
	log       zerolog.Logger
}

func NewSelectorStore(path, backupDir string, backupCount int,
	historyPath string, historyLimit int, log zerolog.Logger) (*SelectorStore, error) {

	s := &SelectorStore{
		path:         path,
		backupDir:    backupDir,
		backupCount:  backupCount,
		historyPath:  historyPath,
		historyLimit: historyLimit,
		selectors:    make(map[string]string),
		log:          log.With().Str("component", "selectors").Logger(),
	}

	if err := s.load(); err != nil {
		return nil, err
	}
	s.loadHistory()
	return s, nil
}

func (s *SelectorStore) load() error {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		s.log.Warn().Str("path", s.path).Msg("selector file missing, starting empty")
		return nil
	}
	if err != nil {
		return fmt.Errorf("read selectors: %w", err)
	}
	if err := yaml.Unmarshal(data, &s.selectors); err != nil {
		return fmt.Errorf("parse selectors: %w", err)
	}
	return nil
}

func (s *SelectorStore) loadHistory() {
	data, err := os.ReadFile(s.historyPath)
	if err != nil {
		return
	}
	if err := json.Unmarshal(data, &s.history); err != nil {
		s.log.Warn().Err(err).Msg("healing history unreadable, starting fresh")
		s.history = nil
	}
}

// Get returns the stored selector for a key, or "" when unknown.
func (s *SelectorStore) Get(key string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selectors[key]
}

// All returns a copy of the current map.
func (s *SelectorStore) All() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.selectors))
	for k, v := range s.selectors {
		out[k] = v
	}
	return out
}

// ApplyHeal persists a repaired selector: backup, atomic rewrite, and a
// bounded history append. The in-memory map is updated even if the disk
// write fails, so the running session benefits immediately.
func (s *SelectorStore) ApplyHeal(rec models.HealRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.selectors[rec.Key] = rec.NewSelector

	s.history = append(s.history, rec)
	if len(s.history) > s.historyLimit {
		s.history = s.history[len(s.history)-s.historyLimit:]
	}

	if err := s.backupLocked(); err != nil {
		s.log.Warn().Err(err).Msg("selector backup failed, writing anyway")
	}
	if err := s.writeLocked(); err != nil {
		return err
	}
	s.writeHistoryLocked()

	s.log.Info().Str("key", rec.Key).Str("selector", rec.NewSelector).
		Str("tier", rec.Tier).Msg("selector heal persisted")
	return nil
}

// backupLocked copies the current selector file into the backup dir with
// a timestamp suffix and prunes beyond backupCount, oldest first.
func (s *SelectorStore) backupLocked() error {
	current, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil // nothing to back up
	}
	if err != nil {
		return err
	}

	if err := os.MkdirAll(s.backupDir, 0755); err != nil {
		return err
	}

	name := fmt.Sprintf("%s.%s.bak", filepath.Base(s.path), time.Now().UTC().Format("20060102T150405"))
	if err := os.WriteFile(filepath.Join(s.backupDir, name), current, 0644); err != nil {
		return err
	}

	return s.pruneBackupsLocked()
}

func (s *SelectorStore) pruneBackupsLocked() error {
	pattern := filepath.Join(s.backupDir, filepath.Base(s.path)+".*.bak")
	backups, err := filepath.Glob(pattern)
	if err != nil {
		return err
	}
	if len(backups) <= s.backupCount {
		return nil
	}

	// Timestamp suffixes sort lexicographically, oldest first.
	sort.Strings(backups)
	for _, old := range backups[:len(backups)-s.backupCount] {
		if err := os.Remove(old); err != nil {
			s.log.Warn().Err(err).Str("file", old).Msg("failed to prune selector backup")
		}
	}
	return nil
}

func (s *SelectorStore) writeLocked() error {
	data, err := yaml.Marshal(s.selectors)
	if err != nil {
		return err
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

func (s *SelectorStore) writeHistoryLocked() {
	data, err := json.MarshalIndent(s.history, "", "  ")
	if err != nil {
		return
	}
	tmp := s.historyPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		s.log.Warn().Err(err).Msg("failed to write healing history")
		return
	}
	if err := os.Rename(tmp, s.historyPath); err != nil {
		s.log.Warn().Err(err).Msg("failed to replace healing history")
	}
}

// History returns a copy of the recorded heals, oldest first.
func (s *SelectorStore) History() []models.HealRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.HealRecord, len(s.history))
	copy(out, s.history)
	return out
}
