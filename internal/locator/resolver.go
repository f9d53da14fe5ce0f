package locator

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"betflow/internal/models"
)

var ErrElementNotFound = errors.New("element not found")

// PageProbe is the slice of browser capability the resolver needs. The
// actuator implements it; depending on the interface instead of the
// concrete session keeps the layering acyclic.
type PageProbe interface {
	WaitVisible(ctx context.Context, selector string, timeout time.Duration) error
	InteractiveElements(ctx context.Context) ([]PageElement, error)
	Screenshot(ctx context.Context) ([]byte, error)
}

// VisionOracle is tier 2 of the healing pipeline: screenshot in,
// selector out. Satisfied by *ai.Client.
type VisionOracle interface {
	SuggestSelector(screenshot []byte, key string) (string, error)
}

// Resolver resolves a logical element key to a concrete selector,
// repairing the mapping when the page has drifted. Healing runs two
// tiers: structural DOM analysis first, vision only as a last resort.
type Resolver struct {
	store       *SelectorStore
	probe       PageProbe
	vision      VisionOracle
	waitTimeout time.Duration
	maxHeals    int

	mu    sync.Mutex
	heals int // consecutive healing attempts this session, reset on success

	// onHeal, when set, is called after a heal is persisted.
	onHeal func(models.HealRecord)

	log zerolog.Logger
}

func NewResolver(store *SelectorStore, probe PageProbe, vision VisionOracle,
	waitTimeout time.Duration, maxHeals int, log zerolog.Logger) *Resolver {

	return &Resolver{
		store:       store,
		probe:       probe,
		vision:      vision,
		waitTimeout: waitTimeout,
		maxHeals:    maxHeals,
		log:         log.With().Str("component", "locator").Logger(),
	}
}

// OnHeal registers a hook invoked for every persisted heal. Set once
// during wiring, before the resolver is used.
func (r *Resolver) OnHeal(fn func(models.HealRecord)) {
	r.onHeal = fn
}

// Locate resolves key to a selector that is currently visible on the
// page. On a stale selector it runs the healing pipeline, persists any
// fix, and retries the healed selector exactly once.
func (r *Resolver) Locate(ctx context.Context, key string) (string, error) {
	selector := r.store.Get(key)
	if selector != "" && r.visible(ctx, selector) {
		r.resetHeals()
		return selector, nil
	}

	// Cap consecutive heals for the session to avoid a retry storm
	// against a page that is simply broken.
	if !r.allowHeal() {
		r.log.Warn().Str("key", key).Msg("healing budget exhausted for session")
		return "", ErrElementNotFound
	}

	healed, tier := r.heal(ctx, key)
	if healed == "" {
		return "", ErrElementNotFound
	}

	rec := models.HealRecord{
		At:          time.Now().UTC(),
		Key:         key,
		OldSelector: selector,
		NewSelector: healed,
		Tier:        tier,
	}
	if err := r.store.ApplyHeal(rec); err != nil {
		r.log.Error().Err(err).Str("key", key).Msg("failed to persist heal")
	}
	if r.onHeal != nil {
		r.onHeal(rec)
	}

	// Single bounded retry with the fresh selector, no recursion.
	if r.visible(ctx, healed) {
		r.resetHeals()
		return healed, nil
	}
	return "", ErrElementNotFound
}

func (r *Resolver) visible(ctx context.Context, selector string) bool {
	err := r.probe.WaitVisible(ctx, selector, r.waitTimeout)
	return err == nil
}

// heal runs the two repair tiers in order and reports which one fired.
func (r *Resolver) heal(ctx context.Context, key string) (string, string) {
	if sel := r.healDOM(ctx, key); sel != "" {
		return sel, "dom"
	}
	if sel := r.healVision(ctx, key); sel != "" {
		return sel, "vision"
	}
	return "", ""
}

func (r *Resolver) healDOM(ctx context.Context, key string) string {
	elements, err := r.probe.InteractiveElements(ctx)
	if err != nil {
		r.log.Warn().Err(err).Str("key", key).Msg("DOM scan failed")
		return ""
	}

	sel := bestCandidate(key, elements)
	if sel == "" {
		r.log.Debug().Str("key", key).Int("candidates", len(elements)).
			Msg("DOM healing found no match")
		return ""
	}
	r.log.Info().Str("key", key).Str("selector", sel).Msg("DOM healing candidate")
	return sel
}

func (r *Resolver) healVision(ctx context.Context, key string) string {
	if r.vision == nil {
		return ""
	}

	shot, err := r.probe.Screenshot(ctx)
	if err != nil {
		r.log.Warn().Err(err).Str("key", key).Msg("screenshot for vision healing failed")
		return ""
	}

	sel, err := r.vision.SuggestSelector(shot, key)
	if err != nil {
		r.log.Warn().Err(err).Str("key", key).Msg("vision healing failed")
		return ""
	}
	r.log.Info().Str("key", key).Str("selector", sel).Msg("vision healing candidate")
	return sel
}

func (r *Resolver) allowHeal() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.heals >= r.maxHeals {
		return false
	}
	r.heals++
	return true
}

func (r *Resolver) resetHeals() {
	r.mu.Lock()
	r.heals = 0
	r.mu.Unlock()
}
