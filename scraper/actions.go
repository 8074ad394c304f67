package scraper

import (
	"context"
	"fmt"
	"time"

	"github.com/sku-agent/prowl/config"
	"github.com/sku-agent/prowl/events"
	"github.com/sku-agent/prowl/failure"
)

// retryableActions is the allow-list of step kinds worth re-running. Pure
// page interactions mutate state a retry would repeat, so they stay out.
var retryableActions = map[string]bool{
	"navigate":         true,
	"wait_for":         true,
	"click":            true,
	"input_text":       true,
	"login":            true,
	"check_no_results": true,
	"detect_captcha":   true,
}

func configErr(sc Context, format string, args ...any) error {
	return failure.NewConfiguration(fmt.Sprintf(format, args...), failure.ErrorContext{Site: sc.Config().Name})
}

// stepSleep pauses for d, honoring cancellation.
func stepSleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func waitAfter(ctx context.Context, params map[string]any) error {
	if secs := paramFloat(params, "wait_after", 0); secs > 0 {
		return stepSleep(ctx, time.Duration(secs*float64(time.Second)))
	}
	return nil
}

// resolveSelectors maps a step's selector references to configs. A step may
// pass a single "selector" or a "selectors" list.
func resolveSelectors(sc Context, params map[string]any) ([]*config.SelectorConfig, error) {
	refs := paramStringSlice(params, "selectors")
	if single, ok := paramString(params, "selector"); ok {
		refs = append(refs, single)
	}
	if len(refs) == 0 {
		return nil, configErr(sc, "step requires a selector or selectors param")
	}
	out := make([]*config.SelectorConfig, 0, len(refs))
	for _, ref := range refs {
		out = append(out, sc.ResolveSelector(ref))
	}
	return out, nil
}

// --- navigate ---

type navigateAction struct{}

func (navigateAction) Execute(ctx context.Context, sc Context, params map[string]any) error {
	target, ok := paramString(params, "url")
	if !ok {
		return configErr(sc, "navigate requires a url param")
	}

	if err := sc.Browser().Driver().Navigate(ctx, target); err != nil {
		return fmt.Errorf("navigate to %s: %w", target, err)
	}

	// The first page load on a fresh browser settles slower than later
	// in-site navigations.
	if !sc.FirstNavigationDone() {
		sc.SetFirstNavigationDone()
		if err := stepSleep(ctx, time.Second); err != nil {
			return err
		}
	}
	return waitAfter(ctx, params)
}

// --- wait ---

type waitAction struct{}

func (waitAction) Execute(ctx context.Context, sc Context, params map[string]any) error {
	secs := paramFloat(params, "seconds", 1)
	return stepSleep(ctx, time.Duration(secs*float64(time.Second)))
}

// --- wait_for ---

type waitForAction struct{}

func (waitForAction) Execute(ctx context.Context, sc Context, params map[string]any) error {
	sels, err := resolveSelectors(sc, params)
	if err != nil {
		return err
	}
	timeout := stepTimeout(sc, params)

	// When several selectors are given, the first one to appear wins.
	deadline := time.Now().Add(timeout)
	for {
		for _, sel := range sels {
			el, ferr := sc.Browser().FindElement(ctx, sel.Selector, 0)
			if ferr == nil {
				sc.TrackSelector(selectorLabel(sel), events.SelectorResult{Value: sel.Selector, Found: true, Count: 1})
				_ = el
				return waitAfter(ctx, params)
			}
		}
		if time.Now().After(deadline) {
			for _, sel := range sels {
				sc.TrackSelector(selectorLabel(sel), events.SelectorResult{Value: sel.Selector, Found: false, Error: "wait_for timed out"})
			}
			return failure.NewTimeout(
				fmt.Sprintf("wait_for: no selector appeared within %s", timeout),
				failure.ErrorContext{Site: sc.Config().Name}, nil)
		}
		if err := stepSleep(ctx, 250*time.Millisecond); err != nil {
			return err
		}
	}
}

// --- wait_for_hidden ---

type waitForHiddenAction struct{}

func (waitForHiddenAction) Execute(ctx context.Context, sc Context, params map[string]any) error {
	sels, err := resolveSelectors(sc, params)
	if err != nil {
		return err
	}
	timeout := stepTimeout(sc, params)
	for _, sel := range sels {
		if err := sc.Browser().WaitGone(ctx, sel.Selector, timeout); err != nil {
			return failure.NewTimeout(err.Error(), failure.ErrorContext{Site: sc.Config().Name}, nil)
		}
	}
	return waitAfter(ctx, params)
}

func stepTimeout(sc Context, params map[string]any) time.Duration {
	if secs := paramFloat(params, "timeout", 0); secs > 0 {
		return time.Duration(secs * float64(time.Second))
	}
	return sc.StepTimeout()
}

func selectorLabel(sel *config.SelectorConfig) string {
	switch {
	case sel.Name != "":
		return sel.Name
	case sel.ID != "":
		return sel.ID
	default:
		return sel.Selector
	}
}
