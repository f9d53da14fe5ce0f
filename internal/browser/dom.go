package browser

import (
	"context"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"

	"betflow/internal/locator"
)

// This file implements locator.PageProbe on top of the session, giving
// the healing pipeline DOM access without a dependency cycle.

// interactiveElementsJS flattens the page's interactive elements into
// snapshots. Bounded to keep the payload and scoring cheap; attribute
// values are what tier-1 healing scores against.
const interactiveElementsJS = `(() => {
	const selector = 'button, input, select, textarea, a, ' +
		'[role="button"], [role="link"], [role="textbox"], [role="checkbox"], [role="tab"]';
	const els = Array.from(document.querySelectorAll(selector)).slice(0, 200);
	return els.map(el => ({
		tag: el.tagName.toLowerCase(),
		text: ((el.innerText || el.value || '') + '').slice(0, 160),
		attributes: Object.fromEntries(Array.from(el.attributes).map(a => [a.name, a.value]))
	}));
})()`

type elementSnapshot struct {
	Tag        string            `json:"tag"`
	Text       string            `json:"text"`
	Attributes map[string]string `json:"attributes"`
}

// WaitVisible waits up to timeout for the selector to be visible.
func (s *Session) WaitVisible(ctx context.Context, selector string, timeout time.Duration) error {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return s.Run(waitCtx, chromedp.WaitVisible(selector, chromedp.ByQuery))
}

// InteractiveElements snapshots the page's buttons, inputs, links and
// ARIA-role elements in one pass.
func (s *Session) InteractiveElements(ctx context.Context) ([]locator.PageElement, error) {
	var raw []elementSnapshot
	if err := s.Run(ctx, chromedp.Evaluate(interactiveElementsJS, &raw)); err != nil {
		return nil, err
	}

	elements := make([]locator.PageElement, 0, len(raw))
	for _, el := range raw {
		elements = append(elements, locator.PageElement{
			Tag:        el.Tag,
			Text:       el.Text,
			Attributes: el.Attributes,
		})
	}
	return elements, nil
}

// Screenshot captures the current viewport as PNG. The vision tier
// wants a compact image, so quality is capped at the protocol level.
func (s *Session) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	err := s.Run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		buf, err = page.CaptureScreenshot().
			WithFormat(page.CaptureScreenshotFormatPng).
			WithCaptureBeyondViewport(false).
			Do(ctx)
		return err
	}))
	if err != nil {
		return nil, err
	}
	return buf, nil
}
