package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// EntryStatus is the lifecycle state of a journal entry.
// An entry is created PENDING and settles exactly once to SETTLED or VOID.
type EntryStatus string

const (
	StatusPending EntryStatus = "PENDING"
	StatusSettled EntryStatus = "SETTLED"
	StatusVoid    EntryStatus = "VOID"
)

// JournalEntry is one row of the money journal.
//
// The struct tags map fields to both the SQLite columns (db) and the
// JSON used in audit records (json).
type JournalEntry struct {
	ID        int64           `db:"id" json:"id"`
	TxID      string          `db:"tx_id" json:"tx_id"`
	Amount    decimal.Decimal `db:"amount" json:"amount"`
	Status    EntryStatus     `db:"status" json:"status"`
	Payout    decimal.Decimal `db:"payout" json:"payout"`
	Timestamp time.Time       `db:"ts" json:"timestamp"`
}

// Signal is one parsed betting instruction.
// Produced by the message parser, consumed exactly once by the engine.
// It is never persisted itself; the journal links back via tx_id.
type Signal struct {
	Teams   string `json:"teams"`
	Market  string `json:"market"`
	RawText string `json:"raw_text"`
}

// BlackboxRecord captures the full context of an unrecoverable or
// ambiguous failure for manual reconciliation. Written append-only;
// never pruned automatically.
type BlackboxRecord struct {
	At            time.Time       `json:"at"`
	TxID          string          `json:"tx_id"`
	Signal        Signal          `json:"signal"`
	Stake         decimal.Decimal `json:"stake"`
	Odds          float64         `json:"odds"`
	LedgerBalance decimal.Decimal `json:"ledger_balance"`
	RealBalance   decimal.Decimal `json:"real_balance"`
	Error         string          `json:"error"`
}
