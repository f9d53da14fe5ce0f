package locator

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// SpyProbe simulates the page: a set of currently visible selectors and
// a scripted DOM snapshot.
type SpyProbe struct {
	visible    map[string]bool
	elements   []PageElement
	screenshot []byte

	scanCalled       bool
	screenshotCalled bool
}

func (p *SpyProbe) WaitVisible(ctx context.Context, selector string, timeout time.Duration) error {
	if p.visible[selector] {
		return nil
	}
	return errors.New("timeout waiting for " + selector)
}

func (p *SpyProbe) InteractiveElements(ctx context.Context) ([]PageElement, error) {
	p.scanCalled = true
	return p.elements, nil
}

func (p *SpyProbe) Screenshot(ctx context.Context) ([]byte, error) {
	p.screenshotCalled = true
	return p.screenshot, nil
}

// SpyVision returns a canned selector.
type SpyVision struct {
	selector string
	called   bool
}

func (v *SpyVision) SuggestSelector(screenshot []byte, key string) (string, error) {
	v.called = true
	if v.selector == "" {
		return "", errors.New("no suggestion")
	}
	return v.selector, nil
}

func resolverFixture(t *testing.T, probe *SpyProbe, vision VisionOracle, maxHeals int) *Resolver {
	t.Helper()
	dir := t.TempDir()
	store, err := NewSelectorStore(filepath.Join(dir, "selectors.yaml"),
		filepath.Join(dir, "backups"), 5, filepath.Join(dir, "history.json"), 100, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	store.selectors["stake_input"] = "#stale-stake"
	return NewResolver(store, probe, vision, 10*time.Millisecond, maxHeals, zerolog.Nop())
}

func TestLocateHitsHealthySelector(t *testing.T) {
	probe := &SpyProbe{visible: map[string]bool{"#stale-stake": true}}
	r := resolverFixture(t, probe, nil, 3)

	sel, err := r.Locate(context.Background(), "stake_input")
	if err != nil {
		t.Fatal(err)
	}
	if sel != "#stale-stake" {
		t.Errorf("selector = %q", sel)
	}
	if probe.scanCalled {
		t.Error("healthy selector must not trigger a DOM scan")
	}
}

func TestLocateHealsViaDOMAndPersists(t *testing.T) {
	// 1. The stored selector is stale; the page offers a scored match
	probe := &SpyProbe{
		visible: map[string]bool{`[data-testid="stake-box"]`: true},
		elements: []PageElement{
			{Text: "Stake", Attributes: map[string]string{"data-testid": "stake-box", "name": "stake input"}},
		},
	}
	r := resolverFixture(t, probe, nil, 3)

	// 2. Locate heals and returns the fresh selector
	sel, err := r.Locate(context.Background(), "stake_input")
	if err != nil {
		t.Fatal(err)
	}
	if sel != `[data-testid="stake-box"]` {
		t.Errorf("healed selector = %q", sel)
	}

	// 3. The heal is persisted in the store and its history
	if got := r.store.Get("stake_input"); got != sel {
		t.Errorf("store not updated, got %q", got)
	}
	hist := r.store.History()
	if len(hist) != 1 || hist[0].Tier != "dom" {
		t.Errorf("history = %+v", hist)
	}
}

func TestLocateFallsBackToVision(t *testing.T) {
	// DOM scan finds nothing related; vision supplies the selector.
	probe := &SpyProbe{
		visible:    map[string]bool{"#vision-pick": true},
		elements:   []PageElement{{Text: "Home", Attributes: map[string]string{"id": "nav"}}},
		screenshot: []byte("png"),
	}
	vision := &SpyVision{selector: "#vision-pick"}
	r := resolverFixture(t, probe, vision, 3)

	sel, err := r.Locate(context.Background(), "stake_input")
	if err != nil {
		t.Fatal(err)
	}
	if sel != "#vision-pick" {
		t.Errorf("selector = %q", sel)
	}
	if !vision.called {
		t.Error("vision tier never consulted")
	}

	hist := r.store.History()
	if len(hist) != 1 || hist[0].Tier != "vision" {
		t.Errorf("history = %+v", hist)
	}
}

func TestLocateHealBudgetExhausts(t *testing.T) {
	// Nothing is visible and nothing heals: after maxHeals failures the
	// resolver refuses further healing for the session.
	probe := &SpyProbe{}
	r := resolverFixture(t, probe, nil, 2)

	for i := 0; i < 2; i++ {
		if _, err := r.Locate(context.Background(), "stake_input"); !errors.Is(err, ErrElementNotFound) {
			t.Fatalf("attempt %d: expected ErrElementNotFound, got %v", i+1, err)
		}
	}

	// Budget spent: the next call fails without another DOM scan.
	probe.scanCalled = false
	if _, err := r.Locate(context.Background(), "stake_input"); !errors.Is(err, ErrElementNotFound) {
		t.Fatalf("expected ErrElementNotFound, got %v", err)
	}
	if probe.scanCalled {
		t.Error("exhausted budget must not trigger more healing")
	}
}

func TestLocateHealedButStillInvisible(t *testing.T) {
	// The heal produces a selector the page then refuses to show: a
	// single retry, no recursion, clean failure.
	probe := &SpyProbe{
		elements: []PageElement{
			{Text: "Stake", Attributes: map[string]string{"data-testid": "stake-box"}},
		},
	}
	r := resolverFixture(t, probe, nil, 3)

	if _, err := r.Locate(context.Background(), "stake_input"); !errors.Is(err, ErrElementNotFound) {
		t.Fatalf("expected ErrElementNotFound, got %v", err)
	}
}
