package money

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"betflow/internal/models"
)

var ErrInvalidStake = errors.New("invalid stake")

// Ledger is the durable store the manager fronts. Satisfied by
// *ledger.Store; tests supply spies.
type Ledger interface {
	GetBalance() (decimal.Decimal, error)
	Reserve(txID string, amount decimal.Decimal) error
	Commit(txID string, payout decimal.Decimal) error
	Rollback(txID string) error
	Pending() ([]models.JournalEntry, error)
	ForceBalance(b decimal.Decimal) error
}

// Manager wraps the Ledger with input validation and the staking policy.
// It is the only component allowed to touch the ledger.
type Manager struct {
	ledger Ledger
	policy StakePolicy
	// epsilon bounds tolerated drift between our shadow ledger and the
	// bookmaker's real balance during reconciliation.
	epsilon decimal.Decimal
	mu      sync.Mutex
	log     zerolog.Logger
}

func NewManager(l Ledger, policy StakePolicy, driftEpsilon float64, log zerolog.Logger) *Manager {
	return &Manager{
		ledger:  l,
		policy:  policy,
		epsilon: decimal.NewFromFloat(driftEpsilon),
		log:     log.With().Str("component", "money").Logger(),
	}
}

// FromFloat converts an externally produced float amount into a ledger
// amount. This is the choke point where NaN and infinities from corrupted
// upstream parsing are rejected before they can poison the ledger.
func FromFloat(v float64) (decimal.Decimal, error) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return decimal.Zero, fmt.Errorf("non-finite amount %v: %w", v, ErrInvalidStake)
	}
	if v <= 0 {
		return decimal.Zero, fmt.Errorf("non-positive amount %v: %w", v, ErrInvalidStake)
	}
	return decimal.NewFromFloat(v), nil
}

// Bankroll returns the ledger balance.
func (m *Manager) Bankroll() (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ledger.GetBalance()
}

// GetStake sizes a bet for the given odds using the configured policy.
func (m *Manager) GetStake(odds float64) (decimal.Decimal, error) {
	bankroll, err := m.Bankroll()
	if err != nil {
		return decimal.Zero, err
	}
	return m.policy.Stake(bankroll, odds), nil
}

// Reserve validates the stake, mints a transaction id and debits the
// ledger. Returns the tx id to settle against later.
func (m *Manager) Reserve(stake decimal.Decimal) (string, error) {
	if !stake.IsPositive() {
		return "", fmt.Errorf("stake %s: %w", stake, ErrInvalidStake)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	txID := uuid.NewString()
	if err := m.ledger.Reserve(txID, stake); err != nil {
		return "", err
	}
	m.log.Info().Str("tx_id", txID).Str("stake", stake.StringFixed(2)).Msg("funds reserved")
	return txID, nil
}

// Refund voids a reservation and restores the stake. Safe to call when
// the entry was already settled; the ledger treats that as a no-op.
func (m *Manager) Refund(txID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.ledger.Rollback(txID); err != nil {
		return err
	}
	m.log.Info().Str("tx_id", txID).Msg("reservation refunded")
	return nil
}

// Win settles a bet crediting the payout.
func (m *Manager) Win(txID string, payout decimal.Decimal) error {
	if payout.IsNegative() {
		return fmt.Errorf("payout %s: %w", payout, ErrInvalidStake)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ledger.Commit(txID, payout)
}

// Loss settles a bet at zero payout; the reserved stake stays consumed.
func (m *Manager) Loss(txID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ledger.Commit(txID, decimal.Zero)
}

// Pending exposes open reservations for the single-bet gate.
func (m *Manager) Pending() ([]models.JournalEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ledger.Pending()
}

// ReconcileBalances compares the shadow ledger against the balance the
// bookmaker actually shows. Beyond epsilon the external figure wins: the
// bookmaker holds the real money, our ledger is only a shadow that can
// drift after manual bets or missed settlements.
func (m *Manager) ReconcileBalances(realBalance decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	internal, err := m.ledger.GetBalance()
	if err != nil {
		return err
	}

	drift := internal.Sub(realBalance).Abs()
	if drift.LessThanOrEqual(m.epsilon) {
		return nil
	}

	m.log.Warn().
		Str("internal", internal.StringFixed(2)).
		Str("external", realBalance.StringFixed(2)).
		Str("drift", drift.StringFixed(2)).
		Msg("balance drift detected, forcing authoritative overwrite")

	return m.ledger.ForceBalance(realBalance)
}
