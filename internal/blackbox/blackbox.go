package blackbox

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"

	"betflow/internal/models"
)

// Recorder appends unrecoverable-failure records to a newline-delimited
// JSON file. This is the manual-reconciliation trail: every ambiguous
// money outcome lands here and is synced to disk before we move on.
type Recorder struct {
	mu   sync.Mutex
	path string
	file *os.File
	log  zerolog.Logger
}

func NewRecorder(path string, log zerolog.Logger) *Recorder {
	return &Recorder{
		path: path,
		log:  log.With().Str("component", "blackbox").Logger(),
	}
}

func (r *Recorder) ensureOpenLocked() error {
	if r.file != nil {
		return nil
	}
	if dir := filepath.Dir(r.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(r.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	r.file = f
	return nil
}

// Record writes one audit entry and fsyncs. A blackbox write failure is
// itself logged at critical level with the full record, so the context
// survives in the log stream even when the disk is gone.
func (r *Recorder) Record(rec models.BlackboxRecord) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal blackbox record: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.writeLocked(b); err != nil {
		r.log.Error().Err(err).RawJSON("record", b).
			Msg("BLACKBOX WRITE FAILED, record preserved in log only")
		return err
	}

	r.log.Warn().Str("tx_id", rec.TxID).Msg("blackbox record written, manual reconciliation required")
	return nil
}

func (r *Recorder) writeLocked(b []byte) error {
	if err := r.ensureOpenLocked(); err != nil {
		return err
	}
	if _, err := r.file.Write(append(b, '\n')); err != nil {
		return err
	}
	return r.file.Sync()
}

func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		return nil
	}
	err := r.file.Close()
	r.file = nil
	return err
}
