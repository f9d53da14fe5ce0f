package ledger

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"betflow/internal/models"
)

var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrDuplicateTx       = errors.New("duplicate transaction id")
	ErrNotPending        = errors.New("journal entry not pending")
)

// Store is the durable money ledger: a single-row balance table plus a
// per-transaction journal. All mutations run inside an explicit SQL
// transaction under one mutex, so concurrent callers serialize and a
// failure mid-operation leaves no partial state.
//
// Accounting note, preserved deliberately: Commit credits only the payout.
// The reserved stake is never re-credited on a win, so callers must pass
// payout inclusive of the returned stake for the books to balance.
// TODO: confirm with product whether bookmaker payouts are stake-inclusive.
type Store struct {
	db  *sqlx.DB
	mu  sync.Mutex
	log zerolog.Logger
}

// Open opens (or creates) the SQLite ledger and runs migrations.
// The balance row is seeded with initialBalance only when absent.
func Open(path string, initialBalance decimal.Decimal, log zerolog.Logger) (*Store, error) {
	db, err := sqlx.Connect("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// WAL mode so the monitoring feed can read while the worker writes.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	s := &Store{db: db, log: log.With().Str("component", "ledger").Logger()}
	if err := s.migrate(initialBalance); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	s.log.Info().Str("path", path).Msg("ledger opened")
	return s, nil
}

func (s *Store) migrate(initialBalance decimal.Decimal) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS balance (
			id              INTEGER PRIMARY KEY CHECK (id = 1),
			current_balance TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS journal (
			id     INTEGER PRIMARY KEY AUTOINCREMENT,
			tx_id  TEXT NOT NULL UNIQUE,
			amount TEXT NOT NULL,
			status TEXT NOT NULL,
			payout TEXT NOT NULL DEFAULT '0',
			ts     TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_journal_status ON journal(status)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}

	var n int
	if err := s.db.Get(&n, `SELECT COUNT(*) FROM balance`); err != nil {
		return err
	}
	if n == 0 {
		_, err := s.db.Exec(`INSERT INTO balance (id, current_balance) VALUES (1, ?)`,
			initialBalance)
		return err
	}
	return nil
}

// GetBalance returns the current available balance.
func (s *Store) GetBalance() (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balance(s.db)
}

type querier interface {
	Get(dest interface{}, query string, args ...interface{}) error
}

func (s *Store) balance(q querier) (decimal.Decimal, error) {
	var b decimal.Decimal
	if err := q.Get(&b, `SELECT current_balance FROM balance WHERE id = 1`); err != nil {
		return decimal.Zero, fmt.Errorf("read balance: %w", err)
	}
	return b, nil
}

// Reserve creates a PENDING journal entry and debits the balance in one
// transaction. On any error nothing was reserved.
func (s *Store) Reserve(txID string, amount decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.inTx(func(tx *sqlx.Tx) error {
		bal, err := s.balance(tx)
		if err != nil {
			return err
		}
		if bal.LessThan(amount) {
			return fmt.Errorf("reserve %s against balance %s: %w",
				amount.StringFixed(2), bal.StringFixed(2), ErrInsufficientFunds)
		}

		var n int
		if err := tx.Get(&n, `SELECT COUNT(*) FROM journal WHERE tx_id = ?`, txID); err != nil {
			return err
		}
		if n > 0 {
			return fmt.Errorf("tx %s: %w", txID, ErrDuplicateTx)
		}

		if _, err := tx.Exec(
			`INSERT INTO journal (tx_id, amount, status, payout, ts) VALUES (?, ?, ?, '0', ?)`,
			txID, amount, models.StatusPending, time.Now().UTC()); err != nil {
			return fmt.Errorf("insert journal: %w", err)
		}
		if _, err := tx.Exec(
			`UPDATE balance SET current_balance = ? WHERE id = 1`, bal.Sub(amount)); err != nil {
			return fmt.Errorf("debit balance: %w", err)
		}
		return nil
	})
}

// Commit settles a PENDING entry with the given payout, crediting the
// balance when payout is positive. Not idempotent: calling twice returns
// ErrNotPending on the second call rather than double-crediting.
func (s *Store) Commit(txID string, payout decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.inTx(func(tx *sqlx.Tx) error {
		entry, err := s.pendingEntry(tx, txID)
		if err != nil {
			return err
		}

		if _, err := tx.Exec(
			`UPDATE journal SET status = ?, payout = ? WHERE id = ?`,
			models.StatusSettled, payout, entry.ID); err != nil {
			return fmt.Errorf("settle journal: %w", err)
		}

		if payout.IsPositive() {
			bal, err := s.balance(tx)
			if err != nil {
				return err
			}
			if _, err := tx.Exec(
				`UPDATE balance SET current_balance = ? WHERE id = 1`, bal.Add(payout)); err != nil {
				return fmt.Errorf("credit payout: %w", err)
			}
		}
		return nil
	})
}

// Rollback voids a PENDING entry and credits back its reserved amount.
// A missing or already-settled entry is a no-op, so rollback is safe to
// call on any failure path.
func (s *Store) Rollback(txID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.inTx(func(tx *sqlx.Tx) error {
		entry, err := s.pendingEntry(tx, txID)
		if errors.Is(err, ErrNotPending) {
			s.log.Debug().Str("tx_id", txID).Msg("rollback no-op, entry not pending")
			return nil
		}
		if err != nil {
			return err
		}

		if _, err := tx.Exec(
			`UPDATE journal SET status = ? WHERE id = ?`, models.StatusVoid, entry.ID); err != nil {
			return fmt.Errorf("void journal: %w", err)
		}

		bal, err := s.balance(tx)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(
			`UPDATE balance SET current_balance = ? WHERE id = 1`, bal.Add(entry.Amount)); err != nil {
			return fmt.Errorf("refund balance: %w", err)
		}
		return nil
	})
}

// Pending returns all PENDING entries oldest first. Used by the engine
// to enforce the single in-flight bet invariant.
func (s *Store) Pending() ([]models.JournalEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var entries []models.JournalEntry
	err := s.db.Select(&entries,
		`SELECT id, tx_id, amount, status, payout, ts FROM journal WHERE status = ? ORDER BY ts ASC`,
		models.StatusPending)
	if err != nil {
		return nil, fmt.Errorf("list pending: %w", err)
	}
	return entries, nil
}

// Entry looks up one journal entry by transaction id.
func (s *Store) Entry(txID string) (*models.JournalEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var e models.JournalEntry
	err := s.db.Get(&e,
		`SELECT id, tx_id, amount, status, payout, ts FROM journal WHERE tx_id = ?`, txID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("tx %s: %w", txID, sql.ErrNoRows)
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// ForceBalance overwrites the balance with an externally observed
// authoritative value. Only the reconciliation path calls this.
func (s *Store) ForceBalance(b decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.inTx(func(tx *sqlx.Tx) error {
		_, err := tx.Exec(`UPDATE balance SET current_balance = ? WHERE id = 1`, b)
		return err
	})
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) pendingEntry(tx *sqlx.Tx, txID string) (*models.JournalEntry, error) {
	var e models.JournalEntry
	err := tx.Get(&e,
		`SELECT id, tx_id, amount, status, payout, ts FROM journal WHERE tx_id = ? AND status = ?`,
		txID, models.StatusPending)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("tx %s: %w", txID, ErrNotPending)
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// inTx runs fn inside a transaction, rolling back on error or panic.
func (s *Store) inTx(fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.Beginx()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}
