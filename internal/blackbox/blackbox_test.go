package blackbox

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"betflow/internal/models"
)

func TestRecordAppendsJSONLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "blackbox.jsonl")
	r := NewRecorder(path, zerolog.Nop())
	defer r.Close()

	recs := []models.BlackboxRecord{
		{
			At:     time.Now().UTC(),
			TxID:   "tx-1",
			Signal: models.Signal{Teams: "A vs B", Market: "1X2"},
			Stake:  decimal.NewFromInt(25),
			Odds:   2.5,
			Error:  "confirmation timeout",
		},
		{
			At:    time.Now().UTC(),
			TxID:  "tx-2",
			Error: "refund failed",
		},
	}
	for _, rec := range recs {
		if err := r.Record(rec); err != nil {
			t.Fatal(err)
		}
	}

	// One JSON object per line, fully parseable, in order.
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	var got []models.BlackboxRecord
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var rec models.BlackboxRecord
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			t.Fatalf("line %d unparsable: %v", len(got)+1, err)
		}
		got = append(got, rec)
	}
	if err := sc.Err(); err != nil {
		t.Fatal(err)
	}

	if len(got) != 2 {
		t.Fatalf("expected 2 records, got %d", len(got))
	}
	if got[0].TxID != "tx-1" || got[1].TxID != "tx-2" {
		t.Errorf("order lost: %q, %q", got[0].TxID, got[1].TxID)
	}
	if got[0].Signal.Teams != "A vs B" {
		t.Errorf("signal not preserved: %+v", got[0].Signal)
	}
}

func TestRecorderSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "blackbox.jsonl")

	r := NewRecorder(path, zerolog.Nop())
	if err := r.Record(models.BlackboxRecord{TxID: "tx-1"}); err != nil {
		t.Fatal(err)
	}
	if err := r.Close(); err != nil {
		t.Fatal(err)
	}

	// Append-only: a new recorder must not truncate the trail.
	r2 := NewRecorder(path, zerolog.Nop())
	defer r2.Close()
	if err := r2.Record(models.BlackboxRecord{TxID: "tx-2"}); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	lines := 0
	for _, b := range data {
		if b == '\n' {
			lines++
		}
	}
	if lines != 2 {
		t.Errorf("expected 2 lines after reopen, got %d", lines)
	}
}
