package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"betflow/internal/agent"
	"betflow/internal/browser"
	"betflow/internal/models"
	"betflow/internal/money"
)

// Failure reasons surfaced in BET_FAILED events.
const (
	ReasonAgentBusy      = "Agent not ready"
	ReasonBetAlreadyOpen = "Bet already open"
	ReasonMatchNotFound  = "Match not found"
	ReasonOddsNotFound   = "Odds not found"
	ReasonStakeZero      = "Stake is zero"
	ReasonInsufficient   = "Insufficient real balance"
	ReasonReserveFailed  = "Reservation failed"
	ReasonActionFailed   = "Bet placement failed"
	ReasonUnrecoverable  = "Unrecoverable, manual reconciliation required"
)

// Actuator is the slice of browser capability the engine depends on.
// Satisfied by *browser.Actuator; tests inject stubs.
type Actuator interface {
	EnsureLoggedIn(ctx context.Context) error
	CheckOpenBet(ctx context.Context) (bool, error)
	NavigateToMatch(ctx context.Context, teams string) error
	FindOdds(ctx context.Context, market string) (string, error)
	PlaceBet(ctx context.Context, stake decimal.Decimal) error
	GetBalance(ctx context.Context) (string, error)
}

// MoneyManager is the money surface the engine is allowed to touch.
// Satisfied by *money.Manager.
type MoneyManager interface {
	Bankroll() (decimal.Decimal, error)
	GetStake(odds float64) (decimal.Decimal, error)
	Reserve(stake decimal.Decimal) (string, error)
	Refund(txID string) error
	Pending() ([]models.JournalEntry, error)
	ReconcileBalances(realBalance decimal.Decimal) error
}

// Publisher is the outbound event surface. Satisfied by *bus.Bus.
type Publisher interface {
	Publish(t models.EventType, payload interface{})
}

// Auditor records unrecoverable outcomes. Satisfied by *blackbox.Recorder.
type Auditor interface {
	Record(rec models.BlackboxRecord) error
}

// Engine turns one signal into at most one settled bet. The pipeline is
// transactional around an irreversible boundary: funds are reserved in
// the ledger before the browser submits the bet, then either the bet is
// confirmed, the reservation is refunded, or, when the submission
// outcome is unknown, nothing is rolled back and the case goes to the
// blackbox for manual reconciliation.
type Engine struct {
	actuator Actuator
	money    MoneyManager
	bus      Publisher
	audit    Auditor
	fsm      *agent.Machine
	// debounce delays the open-bet re-check to ride out transient
	// false negatives from a slow-rendering bet list.
	debounce time.Duration
	log      zerolog.Logger
}

func New(actuator Actuator, wallet MoneyManager, bus Publisher, audit Auditor,
	fsm *agent.Machine, log zerolog.Logger) *Engine {

	return &Engine{
		actuator: actuator,
		money:    wallet,
		bus:      bus,
		audit:    audit,
		fsm:      fsm,
		debounce: 2 * time.Second,
		log:      log.With().Str("component", "engine").Logger(),
	}
}

// ProcessSignal runs the full per-signal protocol and emits exactly one
// terminal event. It never lets an error escape: infrastructure
// failures are contained here so the next signal can still be served.
func (e *Engine) ProcessSignal(ctx context.Context, sig models.Signal) (outcome models.BetOutcome) {
	var (
		txID        string
		stake       decimal.Decimal
		odds        float64
		realBalance decimal.Decimal
		betPlaced   bool
	)

	log := e.log.With().Str("teams", sig.Teams).Str("market", sig.Market).Logger()
	log.Info().Msg("processing signal")

	// Single outer failure handler: anything thrown in the steps below
	// lands here. Refund is only legal while the bet was provably never
	// submitted; afterwards the case is recorded for manual review.
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		err := fmt.Errorf("panic in signal pipeline: %v", r)
		outcome = e.settleFailure(sig, txID, stake, odds, realBalance, betPlaced, err)
		e.toListening()
	}()

	// State machine gate: only a listening agent takes bets.
	if err := e.fsm.Transition(agent.StateAnalyzing); err != nil {
		return e.fail(sig, "", ReasonAgentBusy)
	}
	defer e.toListening()

	// 1. Best-effort login. A failure here surfaces later as a
	// navigation or odds failure, which carries more context anyway.
	if err := e.actuator.EnsureLoggedIn(ctx); err != nil {
		log.Warn().Err(err).Msg("login attempt failed, continuing")
	}

	// 2. PRECHECK: at most one in-flight bet globally.
	open, err := e.checkOpenBetDebounced(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("open-bet check inconclusive, treating as open")
		open = true
	}
	if !open {
		pending, err := e.money.Pending()
		if err != nil {
			return e.fail(sig, "", fmt.Sprintf("ledger unavailable: %v", err))
		}
		open = len(pending) > 0
	}
	if open {
		return e.fail(sig, "", ReasonBetAlreadyOpen)
	}

	// 3. Navigation.
	if err := e.fsm.Transition(agent.StateNavigating); err != nil {
		log.Warn().Err(err).Msg("state transition rejected")
	}
	if err := e.actuator.NavigateToMatch(ctx, sig.Teams); err != nil {
		log.Warn().Err(err).Msg("match navigation failed")
		return e.fail(sig, "", ReasonMatchNotFound)
	}

	// 4. Odds.
	rawOdds, err := e.actuator.FindOdds(ctx, sig.Market)
	if err != nil {
		log.Warn().Err(err).Msg("odds lookup failed")
		return e.fail(sig, "", ReasonOddsNotFound)
	}
	odds = ParseAmount(rawOdds)
	if odds <= 0 {
		return e.fail(sig, "", ReasonOddsNotFound)
	}

	// 5. Stake sizing.
	stake, err = e.money.GetStake(odds)
	if err != nil {
		return e.fail(sig, "", fmt.Sprintf("stake policy failed: %v", err))
	}
	if !stake.IsPositive() {
		return e.fail(sig, "", ReasonStakeZero)
	}

	// 6. Cross-check against the bookmaker's own balance. The ledger
	// must never reserve more than the external account can cover.
	if rawBalance, err := e.actuator.GetBalance(ctx); err == nil {
		if v, convErr := money.FromFloat(ParseAmount(rawBalance)); convErr == nil {
			realBalance = v
			if stake.GreaterThan(realBalance) {
				return e.fail(sig, "", ReasonInsufficient)
			}
		}
	} else {
		log.Warn().Err(err).Msg("real balance unavailable, skipping cross-check")
	}

	// 7. Point of commitment #1: reserve funds.
	txID, err = e.money.Reserve(stake)
	if err != nil {
		log.Error().Err(err).Msg("reservation failed")
		return e.fail(sig, "", ReasonReserveFailed)
	}
	log = log.With().Str("tx_id", txID).Logger()

	// 8. Point of commitment #2: the irreversible external action.
	if err := e.fsm.Transition(agent.StateBetting); err != nil {
		log.Warn().Err(err).Msg("state transition rejected")
	}
	if err := e.actuator.PlaceBet(ctx, stake); err != nil {
		if errors.Is(err, browser.ErrOutcomeUnknown) ||
			errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			// The submission may have reached the bookmaker. A caller
			// cancellation proves nothing about the browser, which keeps
			// driving the submit regardless. Money has left the model's
			// control: no rollback, ever.
			betPlaced = true
			return e.settleFailure(sig, txID, stake, odds, realBalance, betPlaced, err)
		}
		// Definite failure before anything irreversible: refund.
		return e.settleFailure(sig, txID, stake, odds, realBalance, false, err)
	}

	// Once this flag is set no code path below may refund.
	betPlaced = true

	log.Info().Str("stake", stake.StringFixed(2)).Float64("odds", odds).Msg("bet placed")
	outcome = models.BetOutcome{
		TxID: txID, Teams: sig.Teams, Market: sig.Market, Stake: stake, Odds: odds,
	}
	e.bus.Publish(models.EventBetSuccess, outcome)
	return outcome
}

// checkOpenBetDebounced probes the bet list twice. Only a positive
// first answer is trusted immediately: "no open bet" can be a transient
// false negative from a page that has not rendered the bet list yet, so
// both that and an error get a second probe after a short wait.
func (e *Engine) checkOpenBetDebounced(ctx context.Context) (bool, error) {
	open, err := e.actuator.CheckOpenBet(ctx)
	if err == nil && open {
		return true, nil
	}
	select {
	case <-time.After(e.debounce):
	case <-ctx.Done():
		return false, ctx.Err()
	}
	return e.actuator.CheckOpenBet(ctx)
}

// settleFailure is the post-reservation failure path. betPlaced decides
// between refund and blackbox; either way exactly one terminal event
// goes out.
func (e *Engine) settleFailure(sig models.Signal, txID string, stake decimal.Decimal,
	odds float64, realBalance decimal.Decimal, betPlaced bool, cause error) models.BetOutcome {

	if txID == "" {
		return e.fail(sig, "", fmt.Sprintf("%s: %v", ReasonActionFailed, cause))
	}

	if !betPlaced {
		if err := e.money.Refund(txID); err != nil {
			// The refund itself failed: escalate to the blackbox, the
			// pending entry holds real money.
			e.log.Error().Err(err).Str("tx_id", txID).Msg("refund failed")
			e.record(sig, txID, stake, odds, realBalance, fmt.Errorf("refund failed: %v (cause: %v)", err, cause))
			return e.fail(sig, txID, ReasonUnrecoverable)
		}
		return e.fail(sig, txID, fmt.Sprintf("%s: %v", ReasonActionFailed, cause))
	}

	// Bet possibly on the external books: never roll back, record
	// everything and hand the case to a human.
	e.log.Error().Err(cause).Str("tx_id", txID).
		Msg("CRITICAL: outcome unknown after submission, manual reconciliation required")
	e.record(sig, txID, stake, odds, realBalance, cause)
	return e.fail(sig, txID, ReasonUnrecoverable)
}

func (e *Engine) record(sig models.Signal, txID string, stake decimal.Decimal,
	odds float64, realBalance decimal.Decimal, cause error) {

	ledgerBalance, err := e.money.Bankroll()
	if err != nil {
		e.log.Error().Err(err).Msg("could not read ledger balance for blackbox record")
	}

	rec := models.BlackboxRecord{
		At:            time.Now().UTC(),
		TxID:          txID,
		Signal:        sig,
		Stake:         stake,
		Odds:          odds,
		LedgerBalance: ledgerBalance,
		RealBalance:   realBalance,
		Error:         cause.Error(),
	}
	if err := e.audit.Record(rec); err != nil {
		e.log.Error().Err(err).Str("tx_id", txID).Msg("blackbox record failed")
	}
}

// fail emits the single terminal BET_FAILED event for this signal.
func (e *Engine) fail(sig models.Signal, txID, reason string) models.BetOutcome {
	e.log.Warn().Str("teams", sig.Teams).Str("reason", reason).Msg("signal failed")
	outcome := models.BetOutcome{TxID: txID, Teams: sig.Teams, Market: sig.Market, Reason: reason}
	e.bus.Publish(models.EventBetFailed, outcome)
	return outcome
}

// toListening walks the FSM back to LISTENING from whatever pipeline
// state we stopped in. Rejections are expected when we never left.
func (e *Engine) toListening() {
	if e.fsm.Current() == agent.StateListening {
		return
	}
	if err := e.fsm.Transition(agent.StateListening); err != nil {
		e.log.Warn().Err(err).Msg("could not return to LISTENING")
	}
}

// ReconcileBalance reads the bookmaker balance and lets the money
// manager settle any drift. Invoked from the maintenance schedule.
func (e *Engine) ReconcileBalance(ctx context.Context) error {
	raw, err := e.actuator.GetBalance(ctx)
	if err != nil {
		return fmt.Errorf("read external balance: %w", err)
	}
	v := ParseAmount(raw)
	ext, err := money.FromFloat(v)
	if err != nil {
		return fmt.Errorf("external balance unreadable %q: %w", raw, err)
	}
	if err := e.money.ReconcileBalances(ext); err != nil {
		return err
	}
	e.bus.Publish(models.EventBalanceSync, map[string]float64{"external": v})
	return nil
}
