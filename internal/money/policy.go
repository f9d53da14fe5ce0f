package money

import "github.com/shopspring/decimal"

// StakePolicy decides how much to put on a bet. Implementations must be
// deterministic given (bankroll, odds), non-negative, and never return
// more than the bankroll.
type StakePolicy interface {
	Stake(bankroll decimal.Decimal, odds float64) decimal.Decimal
}

// FractionalPolicy stakes a fixed fraction of the bankroll, capped at an
// absolute ceiling, rounded to 2 decimals. Odds are accepted for policy
// compatibility but do not influence the current sizing.
type FractionalPolicy struct {
	Fraction decimal.Decimal // e.g. 0.05 for 5%
	Ceiling  decimal.Decimal // absolute cap per bet
}

func NewFractionalPolicy(fraction, ceiling float64) FractionalPolicy {
	return FractionalPolicy{
		Fraction: decimal.NewFromFloat(fraction),
		Ceiling:  decimal.NewFromFloat(ceiling),
	}
}

func (p FractionalPolicy) Stake(bankroll decimal.Decimal, odds float64) decimal.Decimal {
	if bankroll.IsNegative() || bankroll.IsZero() {
		return decimal.Zero
	}
	stake := bankroll.Mul(p.Fraction)
	if stake.GreaterThan(p.Ceiling) {
		stake = p.Ceiling
	}
	// The cap could still exceed a tiny bankroll; never stake more than we hold.
	if stake.GreaterThan(bankroll) {
		stake = bankroll
	}
	return stake.Round(2)
}
