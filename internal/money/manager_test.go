package money

import (
	"errors"
	"math"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"betflow/internal/models"
)

// SpyLedger records calls so tests can assert the manager's side effects.
type SpyLedger struct {
	balance decimal.Decimal

	reservedTx     string
	reservedAmount decimal.Decimal
	reserveErr     error

	committedTx     string
	committedPayout decimal.Decimal

	rolledBackTx string

	forcedBalance  decimal.Decimal
	forceCalled    bool
	pendingEntries []models.JournalEntry
}

func (l *SpyLedger) GetBalance() (decimal.Decimal, error) { return l.balance, nil }
func (l *SpyLedger) Reserve(txID string, amount decimal.Decimal) error {
	if l.reserveErr != nil {
		return l.reserveErr
	}
	l.reservedTx = txID
	l.reservedAmount = amount
	return nil
}
func (l *SpyLedger) Commit(txID string, payout decimal.Decimal) error {
	l.committedTx = txID
	l.committedPayout = payout
	return nil
}
func (l *SpyLedger) Rollback(txID string) error {
	l.rolledBackTx = txID
	return nil
}
func (l *SpyLedger) Pending() ([]models.JournalEntry, error) { return l.pendingEntries, nil }
func (l *SpyLedger) ForceBalance(b decimal.Decimal) error {
	l.forceCalled = true
	l.forcedBalance = b
	return nil
}

func newTestManager(l *SpyLedger) *Manager {
	return NewManager(l, NewFractionalPolicy(0.05, 50), 0.01, zerolog.Nop())
}

func TestFromFloatRejectsNonFinite(t *testing.T) {
	// NaN and infinities come out of corrupted upstream parsing and must
	// never reach the ledger.
	for _, v := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		if _, err := FromFloat(v); !errors.Is(err, ErrInvalidStake) {
			t.Errorf("FromFloat(%v): expected ErrInvalidStake, got %v", v, err)
		}
	}
}

func TestFromFloatRejectsNonPositive(t *testing.T) {
	for _, v := range []float64{0, -1, -0.01} {
		if _, err := FromFloat(v); !errors.Is(err, ErrInvalidStake) {
			t.Errorf("FromFloat(%v): expected ErrInvalidStake, got %v", v, err)
		}
	}
}

func TestFromFloatAccepts(t *testing.T) {
	d, err := FromFloat(12.34)
	if err != nil {
		t.Fatal(err)
	}
	if !d.Equal(decimal.NewFromFloat(12.34)) {
		t.Errorf("got %s", d)
	}
}

func TestReserveMintsTxID(t *testing.T) {
	l := &SpyLedger{balance: decimal.NewFromInt(100)}
	m := newTestManager(l)

	txID, err := m.Reserve(decimal.NewFromInt(10))
	if err != nil {
		t.Fatal(err)
	}
	if txID == "" || txID != l.reservedTx {
		t.Errorf("tx id %q not handed to the ledger (got %q)", txID, l.reservedTx)
	}
	if !l.reservedAmount.Equal(decimal.NewFromInt(10)) {
		t.Errorf("reserved %s, want 10", l.reservedAmount)
	}
}

func TestReserveRejectsNonPositiveStake(t *testing.T) {
	m := newTestManager(&SpyLedger{balance: decimal.NewFromInt(100)})

	if _, err := m.Reserve(decimal.Zero); !errors.Is(err, ErrInvalidStake) {
		t.Errorf("expected ErrInvalidStake, got %v", err)
	}
	if _, err := m.Reserve(decimal.NewFromInt(-5)); !errors.Is(err, ErrInvalidStake) {
		t.Errorf("expected ErrInvalidStake, got %v", err)
	}
}

func TestWinRejectsNegativePayout(t *testing.T) {
	l := &SpyLedger{}
	m := newTestManager(l)

	if err := m.Win("tx-1", decimal.NewFromInt(-10)); !errors.Is(err, ErrInvalidStake) {
		t.Errorf("expected ErrInvalidStake, got %v", err)
	}
	if l.committedTx != "" {
		t.Error("negative payout must never reach the ledger")
	}
}

func TestLossSettlesAtZero(t *testing.T) {
	l := &SpyLedger{}
	m := newTestManager(l)

	if err := m.Loss("tx-1"); err != nil {
		t.Fatal(err)
	}
	if l.committedTx != "tx-1" || !l.committedPayout.IsZero() {
		t.Errorf("expected zero-payout commit of tx-1, got %q %s", l.committedTx, l.committedPayout)
	}
}

func TestReconcileWithinEpsilonIsNoOp(t *testing.T) {
	// 1. Internal 100.00 vs external 100.005: inside the 0.01 epsilon
	l := &SpyLedger{balance: decimal.NewFromInt(100)}
	m := newTestManager(l)

	if err := m.ReconcileBalances(decimal.NewFromFloat(100.005)); err != nil {
		t.Fatal(err)
	}

	// 2. No overwrite may happen
	if l.forceCalled {
		t.Error("drift within epsilon must not force the balance")
	}
}

func TestReconcileBeyondEpsilonForcesExternal(t *testing.T) {
	// 1. Internal 100.00 vs external 90.00: real drift
	l := &SpyLedger{balance: decimal.NewFromInt(100)}
	m := newTestManager(l)

	if err := m.ReconcileBalances(decimal.NewFromInt(90)); err != nil {
		t.Fatal(err)
	}

	// 2. The external figure is authoritative
	if !l.forceCalled || !l.forcedBalance.Equal(decimal.NewFromInt(90)) {
		t.Errorf("expected forced balance 90, called=%v value=%s", l.forceCalled, l.forcedBalance)
	}
}

func TestFractionalPolicyBounds(t *testing.T) {
	p := NewFractionalPolicy(0.05, 50)

	cases := []struct {
		name     string
		bankroll float64
		want     float64
	}{
		// 5% of 400 = 20, under the ceiling.
		{"fraction applies", 400, 20},
		// 5% of 10000 = 500, capped at 50.
		{"ceiling applies", 10000, 50},
		{"small bankroll", 30, 1.5},
		{"zero bankroll", 0, 0},
		{"negative bankroll", -10, 0},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := p.Stake(decimal.NewFromFloat(c.bankroll), 2.0)
			if !got.Equal(decimal.NewFromFloat(c.want)) {
				t.Errorf("Stake(%v) = %s, want %v", c.bankroll, got, c.want)
			}
		})
	}
}

func TestFractionalPolicyNeverExceedsBankroll(t *testing.T) {
	// A ceiling above a tiny bankroll must not produce an unpayable stake.
	p := NewFractionalPolicy(0.9, 1000)
	bankroll := decimal.NewFromFloat(2.50)

	stake := p.Stake(bankroll, 3.0)
	if stake.GreaterThan(bankroll) {
		t.Errorf("stake %s exceeds bankroll %s", stake, bankroll)
	}
}
