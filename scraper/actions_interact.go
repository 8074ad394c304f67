package scraper

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/sku-agent/prowl/browser"
	"github.com/sku-agent/prowl/events"
)

// --- click ---

type clickAction struct{}

func (clickAction) Execute(ctx context.Context, sc Context, params map[string]any) error {
	sels, err := resolveSelectors(sc, params)
	if err != nil {
		return err
	}
	sel := sels[0]

	el, err := pickElement(ctx, sc, sel.Selector, params)
	if err != nil {
		sc.TrackSelector(selectorLabel(sel), events.SelectorResult{Value: sel.Selector, Found: false, Error: err.Error()})
		return fmt.Errorf("click %s: %w", sel.Selector, err)
	}
	sc.TrackSelector(selectorLabel(sel), events.SelectorResult{Value: sel.Selector, Found: true, Count: 1})

	if err := el.Click(); err != nil {
		return fmt.Errorf("click %s: %w", sel.Selector, err)
	}
	return waitAfter(ctx, params)
}

// pickElement finds the click target, applying optional text filters and an
// index among the matches.
func pickElement(ctx context.Context, sc Context, selector string, params map[string]any) (browser.Element, error) {
	include, hasInclude := paramString(params, "filter_text")
	exclude, hasExclude := paramString(params, "filter_text_exclude")
	index := paramInt(params, "index", 0)

	if !hasInclude && !hasExclude && index == 0 {
		return sc.Browser().FindElement(ctx, selector, sc.StepTimeout())
	}

	var includeRe, excludeRe *regexp.Regexp
	var err error
	if hasInclude {
		if includeRe, err = regexp.Compile("(?i)" + include); err != nil {
			return nil, configErr(sc, "click filter_text: %v", err)
		}
	}
	if hasExclude {
		if excludeRe, err = regexp.Compile("(?i)" + exclude); err != nil {
			return nil, configErr(sc, "click filter_text_exclude: %v", err)
		}
	}

	els, err := sc.Browser().FindElements(ctx, selector)
	if err != nil {
		return nil, err
	}
	matched := make([]browser.Element, 0, len(els))
	for _, el := range els {
		txt, terr := el.Text()
		if terr != nil {
			continue
		}
		if includeRe != nil && !includeRe.MatchString(txt) {
			continue
		}
		if excludeRe != nil && excludeRe.MatchString(txt) {
			continue
		}
		matched = append(matched, el)
	}
	if index >= len(matched) {
		return nil, fmt.Errorf("%w: %s (index %d of %d matches)", browser.ErrElementNotFound, selector, index, len(matched))
	}
	return matched[index], nil
}

// --- conditional_click ---

type conditionalClickAction struct{}

func (conditionalClickAction) Execute(ctx context.Context, sc Context, params map[string]any) error {
	sels, err := resolveSelectors(sc, params)
	if err != nil {
		return err
	}
	sel := sels[0]

	el, err := sc.Browser().FindElement(ctx, sel.Selector, 0)
	if errors.Is(err, browser.ErrElementNotFound) {
		sc.TrackSelector(selectorLabel(sel), events.SelectorResult{Value: sel.Selector, Found: false})
		return nil
	}
	if err != nil {
		return err
	}
	sc.TrackSelector(selectorLabel(sel), events.SelectorResult{Value: sel.Selector, Found: true, Count: 1})
	if err := el.Click(); err != nil {
		return fmt.Errorf("conditional_click %s: %w", sel.Selector, err)
	}
	return waitAfter(ctx, params)
}

// --- input_text ---

type inputTextAction struct{}

func (inputTextAction) Execute(ctx context.Context, sc Context, params map[string]any) error {
	sels, err := resolveSelectors(sc, params)
	if err != nil {
		return err
	}
	sel := sels[0]

	text, ok := paramString(params, "text")
	if !ok {
		return configErr(sc, "input_text requires a text param")
	}

	el, err := sc.Browser().FindElement(ctx, sel.Selector, sc.StepTimeout())
	if err != nil {
		sc.TrackSelector(selectorLabel(sel), events.SelectorResult{Value: sel.Selector, Found: false, Error: err.Error()})
		return fmt.Errorf("input_text %s: %w", sel.Selector, err)
	}
	sc.TrackSelector(selectorLabel(sel), events.SelectorResult{Value: sel.Selector, Found: true, Count: 1})

	if paramBool(params, "clear_first", true) {
		if err := el.Clear(); err != nil {
			return fmt.Errorf("input_text clear %s: %w", sel.Selector, err)
		}
	}
	if err := el.Input(text); err != nil {
		return fmt.Errorf("input_text %s: %w", sel.Selector, err)
	}
	return waitAfter(ctx, params)
}

// --- scroll ---

type scrollAction struct{}

func (scrollAction) Execute(ctx context.Context, sc Context, params map[string]any) error {
	amount := paramInt(params, "amount", 1)
	direction, _ := paramString(params, "direction")

	sign := "+"
	if strings.EqualFold(direction, "up") {
		sign = "-"
	}
	js := fmt.Sprintf(`() => window.scrollBy(0, %s1 * window.innerHeight)`, sign)

	for i := 0; i < amount; i++ {
		if err := sc.Browser().Driver().Run(ctx, js); err != nil {
			return fmt.Errorf("scroll step %d: %w", i, err)
		}
		// Brief pause between scroll steps so lazy-loaded content triggers.
		if err := stepSleep(ctx, 150*time.Millisecond); err != nil {
			return err
		}
	}
	return waitAfter(ctx, params)
}
