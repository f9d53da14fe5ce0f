package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"betflow/internal/locator"
)

// Logical element keys resolved through the self-healing locator.
const (
	KeySearchInput      = "search_input"
	KeySearchResults    = "search_results"
	KeyOddsDisplay      = "odds_display"
	KeyStakeInput       = "stake_input"
	KeyPlaceBetButton   = "place_bet_button"
	KeyBetConfirmation  = "bet_confirmation"
	KeyBalanceDisplay   = "balance_display"
	KeyOpenBetIndicator = "open_bet_indicator"
	KeyLoginUser        = "login_user"
	KeyLoginPass        = "login_pass"
	KeyLoginSubmit      = "login_submit"
	KeyLogoutButton     = "logout_button"
)

var (
	ErrMatchNotFound = errors.New("match not found")
	ErrOddsNotFound  = errors.New("odds not found")
	// ErrOutcomeUnknown means the bet submission was dispatched to the
	// bookmaker but confirmation never arrived. The money may be on the
	// external books; callers must NOT treat this as a clean failure.
	ErrOutcomeUnknown = errors.New("bet outcome unknown")
)

// Credentials for the bookmaker session.
type Credentials struct {
	User string
	Pass string
}

// Actuator is the externally visible browser contract: idempotent
// high-level actions, each serialized through the single-worker queue
// and bounded by the session's action timeout. Calls return a definite
// value or error; they never hang past their timeout.
type Actuator struct {
	session  *Session
	queue    *taskQueue
	resolver *locator.Resolver
	baseURL  string
	loginURL string
	creds    Credentials
	log      zerolog.Logger
}

func NewActuator(session *Session, resolver *locator.Resolver, baseURL, loginURL string,
	creds Credentials, log zerolog.Logger) *Actuator {

	return &Actuator{
		session:  session,
		queue:    newTaskQueue(16, log),
		resolver: resolver,
		baseURL:  baseURL,
		loginURL: loginURL,
		creds:    creds,
		log:      log.With().Str("component", "actuator").Logger(),
	}
}

// Launch brings the session up. Safe to call repeatedly.
func (a *Actuator) Launch(ctx context.Context) error {
	return a.queue.Submit(ctx, "launch", func() error {
		return a.session.Launch(ctx)
	})
}

// HealthCheck probes the session without queueing behind long actions.
func (a *Actuator) HealthCheck(ctx context.Context) error {
	return a.session.HealthCheck(ctx)
}

// Recover restores the session using the configured mode strategy.
func (a *Actuator) Recover(ctx context.Context) error {
	return a.queue.Submit(ctx, "recover", func() error {
		return a.session.Recover(ctx)
	})
}

// WorkerAlive reports queue worker liveness for the watchdog.
func (a *Actuator) WorkerAlive(maxAge time.Duration) bool {
	return a.queue.WorkerAlive(maxAge)
}

// Close shuts the queue and the session down.
func (a *Actuator) Close() {
	a.queue.Stop()
	a.session.Close()
}

// EnsureLoggedIn logs into the bookmaker unless a session is already
// authenticated (logout button visible).
func (a *Actuator) EnsureLoggedIn(ctx context.Context) error {
	return a.queue.Submit(ctx, "login", func() error {
		if sel, err := a.resolver.Locate(ctx, KeyLogoutButton); err == nil && sel != "" {
			return nil // already authenticated
		}

		if err := a.session.Run(ctx, chromedp.Navigate(a.loginURL)); err != nil {
			return fmt.Errorf("open login page: %w", err)
		}

		userSel, err := a.resolver.Locate(ctx, KeyLoginUser)
		if err != nil {
			return fmt.Errorf("login user field: %w", err)
		}
		passSel, err := a.resolver.Locate(ctx, KeyLoginPass)
		if err != nil {
			return fmt.Errorf("login pass field: %w", err)
		}
		submitSel, err := a.resolver.Locate(ctx, KeyLoginSubmit)
		if err != nil {
			return fmt.Errorf("login submit: %w", err)
		}

		if err := a.session.Run(ctx,
			chromedp.Clear(userSel, chromedp.ByQuery),
			chromedp.SendKeys(userSel, a.creds.User, chromedp.ByQuery),
			chromedp.Clear(passSel, chromedp.ByQuery),
			chromedp.SendKeys(passSel, a.creds.Pass, chromedp.ByQuery),
			chromedp.Click(submitSel, chromedp.ByQuery),
		); err != nil {
			return fmt.Errorf("submit login: %w", err)
		}

		if _, err := a.resolver.Locate(ctx, KeyLogoutButton); err != nil {
			return fmt.Errorf("login not confirmed: %w", err)
		}
		a.log.Info().Msg("bookmaker session authenticated")
		return nil
	})
}

// NavigateToMatch searches the bookmaker for the given teams and opens
// the first matching event page.
func (a *Actuator) NavigateToMatch(ctx context.Context, teams string) error {
	return a.queue.Submit(ctx, "navigate_to_match", func() error {
		if err := a.session.Run(ctx, chromedp.Navigate(a.baseURL)); err != nil {
			return fmt.Errorf("open bookmaker: %w", err)
		}

		searchSel, err := a.resolver.Locate(ctx, KeySearchInput)
		if err != nil {
			return fmt.Errorf("%w: search box unavailable", ErrMatchNotFound)
		}

		if err := a.session.Run(ctx,
			chromedp.Clear(searchSel, chromedp.ByQuery),
			chromedp.SendKeys(searchSel, teams+"\n", chromedp.ByQuery),
		); err != nil {
			return fmt.Errorf("search %q: %w", teams, err)
		}

		if _, err := a.resolver.Locate(ctx, KeySearchResults); err != nil {
			return fmt.Errorf("%w: no results for %q", ErrMatchNotFound, teams)
		}

		clicked, err := a.clickResultMatching(ctx, teams)
		if err != nil {
			return err
		}
		if !clicked {
			return fmt.Errorf("%w: %q", ErrMatchNotFound, teams)
		}
		return nil
	})
}

// clickResultMatching clicks the first search result whose text contains
// any team token. Matching happens in-page to avoid N round trips.
func (a *Actuator) clickResultMatching(ctx context.Context, teams string) (bool, error) {
	tokens := []string{}
	for _, t := range strings.FieldsFunc(strings.ToLower(teams), func(r rune) bool {
		return r == ' ' || r == '-'
	}) {
		if t != "vs" && t != "v" && len(t) >= 3 {
			tokens = append(tokens, t)
		}
	}
	if len(tokens) == 0 {
		return false, fmt.Errorf("%w: empty team name", ErrMatchNotFound)
	}

	js := fmt.Sprintf(`(() => {
		const tokens = %s;
		const links = Array.from(document.querySelectorAll('a'));
		for (const link of links) {
			const text = (link.innerText || '').toLowerCase();
			if (tokens.some(t => text.includes(t))) { link.click(); return true; }
		}
		return false;
	})()`, jsStringArray(tokens))

	var clicked bool
	if err := a.session.Run(ctx, chromedp.Evaluate(js, &clicked)); err != nil {
		return false, fmt.Errorf("click search result: %w", err)
	}
	return clicked, nil
}

// FindOdds opens the requested market on the current event page and
// returns the displayed odds as raw text. The engine owns parsing.
func (a *Actuator) FindOdds(ctx context.Context, market string) (string, error) {
	var odds string
	err := a.queue.Submit(ctx, "find_odds", func() error {
		if market != "" {
			// Best effort market tab selection; default market otherwise.
			js := fmt.Sprintf(`(() => {
				const want = %q.toLowerCase();
				const tabs = Array.from(document.querySelectorAll('a, button, [role="tab"]'));
				for (const tab of tabs) {
					if ((tab.innerText || '').toLowerCase().includes(want)) { tab.click(); return true; }
				}
				return false;
			})()`, market)
			var ok bool
			if err := a.session.Run(ctx, chromedp.Evaluate(js, &ok)); err != nil {
				a.log.Warn().Err(err).Str("market", market).Msg("market tab selection failed")
			}
		}

		oddsSel, err := a.resolver.Locate(ctx, KeyOddsDisplay)
		if err != nil {
			return fmt.Errorf("%w: %s", ErrOddsNotFound, market)
		}

		if err := a.session.Run(ctx, chromedp.Text(oddsSel, &odds, chromedp.ByQuery)); err != nil {
			return fmt.Errorf("read odds: %w", err)
		}
		return nil
	})
	return strings.TrimSpace(odds), err
}

// CheckOpenBet reports whether the bookmaker shows an unsettled bet.
// A missing indicator element is a definite "no open bet".
func (a *Actuator) CheckOpenBet(ctx context.Context) (bool, error) {
	var open bool
	err := a.queue.Submit(ctx, "check_open_bet", func() error {
		_, err := a.resolver.Locate(ctx, KeyOpenBetIndicator)
		if errors.Is(err, locator.ErrElementNotFound) {
			open = false
			return nil
		}
		if err != nil {
			return err
		}
		open = true
		return nil
	})
	return open, err
}

// GetBalance reads the displayed account balance as raw text.
func (a *Actuator) GetBalance(ctx context.Context) (string, error) {
	var balance string
	err := a.queue.Submit(ctx, "get_balance", func() error {
		sel, err := a.resolver.Locate(ctx, KeyBalanceDisplay)
		if err != nil {
			return fmt.Errorf("balance element: %w", err)
		}
		return a.session.Run(ctx, chromedp.Text(sel, &balance, chromedp.ByQuery))
	})
	return strings.TrimSpace(balance), err
}

// PlaceBet adds the current selection to the slip, enters the stake and
// submits. Once the submit click is dispatched the outcome can no longer
// be assumed failed: any later error is reported as ErrOutcomeUnknown.
// The same holds when the caller stops waiting mid-task, since the
// worker keeps driving the submission regardless.
func (a *Actuator) PlaceBet(ctx context.Context, stake decimal.Decimal) error {
	err := a.queue.Submit(ctx, "place_bet", func() error {
		oddsSel, err := a.resolver.Locate(ctx, KeyOddsDisplay)
		if err != nil {
			return fmt.Errorf("selection unavailable: %w", err)
		}
		if err := a.session.Run(ctx, chromedp.Click(oddsSel, chromedp.ByQuery)); err != nil {
			return fmt.Errorf("add selection to slip: %w", err)
		}

		stakeSel, err := a.resolver.Locate(ctx, KeyStakeInput)
		if err != nil {
			return fmt.Errorf("stake input: %w", err)
		}
		if err := a.session.Run(ctx,
			chromedp.Clear(stakeSel, chromedp.ByQuery),
			chromedp.SendKeys(stakeSel, stake.StringFixed(2), chromedp.ByQuery),
		); err != nil {
			return fmt.Errorf("enter stake: %w", err)
		}

		submitSel, err := a.resolver.Locate(ctx, KeyPlaceBetButton)
		if err != nil {
			return fmt.Errorf("place bet button: %w", err)
		}

		// Irreversible boundary: after this click the bookmaker may have
		// accepted the bet regardless of what we observe locally.
		if err := a.session.Run(ctx, chromedp.Click(submitSel, chromedp.ByQuery)); err != nil {
			return fmt.Errorf("%w: submit click failed mid-flight: %v", ErrOutcomeUnknown, err)
		}

		if _, err := a.resolver.Locate(ctx, KeyBetConfirmation); err != nil {
			return fmt.Errorf("%w: confirmation not observed", ErrOutcomeUnknown)
		}
		return nil
	})
	if errors.Is(err, ErrTaskAbandoned) {
		return fmt.Errorf("%w: %v", ErrOutcomeUnknown, err)
	}
	return err
}

func jsStringArray(items []string) string {
	quoted := make([]string, len(items))
	for i, s := range items {
		quoted[i] = fmt.Sprintf("%q", s)
	}
	return "[" + strings.Join(quoted, ",") + "]"
}
