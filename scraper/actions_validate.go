package scraper

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sku-agent/prowl/browser"
	"github.com/sku-agent/prowl/events"
	"github.com/sku-agent/prowl/failure"
	"github.com/sku-agent/prowl/probe"
)

// --- check_no_results ---

// checkNoResultsAction inspects the page against the site's no-results
// markers. It records the outcome in results["no_results_found"]; with
// stop: true an empty page also ends the workflow, and with fail: true it
// raises a terminal no_results outcome.
type checkNoResultsAction struct{}

func (checkNoResultsAction) Execute(ctx context.Context, sc Context, params map[string]any) error {
	v := sc.Config().Validation
	selectors := paramStringSlice(params, "selectors")
	patterns := paramStringSlice(params, "text_patterns")
	if v != nil {
		selectors = append(selectors, v.NoResultsSelectors...)
		patterns = append(patterns, v.NoResultsTextPatterns...)
	}
	if len(selectors) == 0 && len(patterns) == 0 {
		return configErr(sc, "check_no_results has no markers configured")
	}

	found := false
	for _, sel := range selectors {
		els, err := sc.Browser().FindElements(ctx, sel)
		if err == nil && len(els) > 0 {
			found = true
			break
		}
	}
	if !found && len(patterns) > 0 {
		text, err := sc.Browser().Driver().VisibleText(ctx)
		if err == nil {
			lower := strings.ToLower(text)
			for _, p := range patterns {
				if strings.Contains(lower, strings.ToLower(p)) {
					found = true
					break
				}
			}
		}
	}

	sc.Results()["no_results_found"] = found
	if !found {
		return nil
	}
	if paramBool(params, "fail", false) {
		return failure.NewNoResults("page reports no results", failure.ErrorContext{Site: sc.Config().Name})
	}
	if paramBool(params, "stop", true) {
		sc.StopWorkflow("no results found")
	}
	return nil
}

// --- conditional_skip ---

// conditionalSkipAction ends the workflow early when a results flag or a
// selector presence matches. Remaining steps are reported as skipped, not
// failed.
type conditionalSkipAction struct{}

func (conditionalSkipAction) Execute(ctx context.Context, sc Context, params map[string]any) error {
	reason, _ := paramString(params, "reason")
	if reason == "" {
		reason = "conditional skip matched"
	}

	if field, ok := paramString(params, "if_field"); ok {
		want, hasWant := params["equals"]
		got, present := sc.Param(field)
		if !present {
			got, present = sc.Results()[field]
		}
		match := false
		if present {
			if hasWant {
				match = fmt.Sprint(got) == fmt.Sprint(want)
			} else {
				match = got == true
			}
		}
		if match {
			sc.StopWorkflow(reason)
		}
		return nil
	}

	if selRef, ok := paramString(params, "selector"); ok {
		sel := sc.ResolveSelector(selRef)
		if _, err := sc.Browser().FindElement(ctx, sel.Selector, 0); err == nil {
			sc.StopWorkflow(reason)
		} else if !errors.Is(err, browser.ErrElementNotFound) {
			return err
		}
		return nil
	}

	return configErr(sc, "conditional_skip requires if_field or selector")
}

// --- verify ---

// verifyAction asserts an element is present (and optionally contains
// text). It is the workflow's way to confirm a click or login landed where
// it should.
type verifyAction struct{}

func (verifyAction) Execute(ctx context.Context, sc Context, params map[string]any) error {
	sels, err := resolveSelectors(sc, params)
	if err != nil {
		return err
	}
	sel := sels[0]

	el, err := sc.Browser().FindElement(ctx, sel.Selector, stepTimeout(sc, params))
	if err != nil {
		sc.TrackSelector(selectorLabel(sel), events.SelectorResult{Value: sel.Selector, Found: false, Error: err.Error()})
		return fmt.Errorf("verify %s: %w", sel.Selector, err)
	}
	sc.TrackSelector(selectorLabel(sel), events.SelectorResult{Value: sel.Selector, Found: true, Count: 1})

	if want, ok := paramString(params, "text_contains"); ok {
		txt, terr := el.Text()
		if terr != nil {
			return fmt.Errorf("verify %s: %w", sel.Selector, terr)
		}
		if !strings.Contains(strings.ToLower(txt), strings.ToLower(want)) {
			return fmt.Errorf("verify %s: text %q does not contain %q", sel.Selector, txt, want)
		}
	}
	return nil
}

// --- validate_http_status ---

// validateHTTPStatusAction probes the current (or given) URL out of band
// and fails the step when the status code is in the error list. The failure
// kind follows the code so the retry layer backs off appropriately.
type validateHTTPStatusAction struct{}

func (validateHTTPStatusAction) Execute(ctx context.Context, sc Context, params map[string]any) error {
	prober := sc.Prober()
	if prober == nil {
		return configErr(sc, "validate_http_status requires a configured prober")
	}

	target, ok := paramString(params, "url")
	if !ok {
		var err error
		target, err = sc.Browser().Driver().CurrentURL(ctx)
		if err != nil {
			return fmt.Errorf("validate_http_status: %w", err)
		}
	}

	errorCodes := map[int]bool{403: true, 404: true, 429: true, 500: true, 502: true, 503: true}
	if codes := params["error_codes"]; codes != nil {
		errorCodes = map[int]bool{}
		if list, isList := codes.([]any); isList {
			for _, c := range list {
				errorCodes[paramInt(map[string]any{"c": c}, "c", 0)] = true
			}
		}
	}

	status, body, err := prober.Fetch(ctx, target)
	if err != nil {
		return fmt.Errorf("validate_http_status: %w", err)
	}
	if !errorCodes[status] {
		sc.Results()["http_status"] = status
		return nil
	}

	msg := fmt.Sprintf("HTTP %d for %s", status, target)
	if title := probe.Title(body); title != "" {
		msg += fmt.Sprintf(" (%s)", title)
	}
	ec := failure.ErrorContext{Site: sc.Config().Name}
	switch {
	case status == 404:
		return failure.New(failure.KindPageNotFound, msg, ec, nil)
	case status == 403:
		return failure.New(failure.KindAccessDenied, msg, ec, nil)
	case status == 429:
		return failure.New(failure.KindRateLimited, msg, ec, nil)
	default:
		return failure.New(failure.KindNetworkError, msg, ec, nil)
	}
}
