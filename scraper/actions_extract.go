package scraper

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sku-agent/prowl/browser"
	"github.com/sku-agent/prowl/config"
	"github.com/sku-agent/prowl/events"
	"github.com/sku-agent/prowl/failure"
)

// --- extract ---

// extractAction pulls every referenced selector into the results map. Single
// selectors store a string; multiple selectors store a deduplicated string
// slice. A missing required selector fails the step; optional misses record
// a "missing" extraction and continue.
type extractAction struct{}

func (extractAction) Execute(ctx context.Context, sc Context, params map[string]any) error {
	sels, err := resolveSelectors(sc, params)
	if err != nil {
		return err
	}

	for _, sel := range sels {
		if err := extractOne(ctx, sc, sel, fieldName(sel)); err != nil {
			return err
		}
	}
	return nil
}

// --- extract_single ---

type extractSingleAction struct{}

func (extractSingleAction) Execute(ctx context.Context, sc Context, params map[string]any) error {
	sels, err := resolveSelectors(sc, params)
	if err != nil {
		return err
	}
	sel := *sels[0]
	sel.Multiple = false
	overrideSelector(&sel, params)

	field, ok := paramString(params, "field")
	if !ok {
		field = fieldName(&sel)
	}
	return extractOne(ctx, sc, &sel, field)
}

// --- extract_multiple ---

type extractMultipleAction struct{}

func (extractMultipleAction) Execute(ctx context.Context, sc Context, params map[string]any) error {
	sels, err := resolveSelectors(sc, params)
	if err != nil {
		return err
	}
	sel := *sels[0]
	sel.Multiple = true
	overrideSelector(&sel, params)

	field, ok := paramString(params, "field")
	if !ok {
		field = fieldName(&sel)
	}

	values, err := extractMany(ctx, sc, &sel)
	if err != nil {
		return err
	}
	if limit := paramInt(params, "limit", 0); limit > 0 && len(values) > limit {
		values = values[:limit]
	}
	return storeExtraction(sc, &sel, field, values)
}

func overrideSelector(sel *config.SelectorConfig, params map[string]any) {
	if attr, ok := paramString(params, "attribute"); ok {
		sel.Attribute = attr
	}
	if req, ok := params["required"].(bool); ok {
		sel.Required = req
	}
}

// fieldName derives the results key for a selector: id, else a snake_cased
// name, else the raw selector string.
func fieldName(sel *config.SelectorConfig) string {
	if sel.ID != "" {
		return sel.ID
	}
	if sel.Name != "" {
		return strings.ReplaceAll(strings.ToLower(sel.Name), " ", "_")
	}
	return sel.Selector
}

func extractOne(ctx context.Context, sc Context, sel *config.SelectorConfig, field string) error {
	if sel.Multiple {
		values, err := extractMany(ctx, sc, sel)
		if err != nil {
			return err
		}
		return storeExtraction(sc, sel, field, values)
	}

	el, err := sc.Browser().FindElement(ctx, sel.Selector, sc.StepTimeout())
	if err != nil {
		sc.TrackSelector(selectorLabel(sel), events.SelectorResult{
			Value: sel.Selector, Found: false, Attribute: sel.Attribute, Error: err.Error(),
		})
		return missingField(sc, sel, field, err)
	}

	value, ok, err := sc.Browser().ExtractValue(el, sel.Attribute)
	if err != nil {
		return fmt.Errorf("extract %s: %w", field, err)
	}
	sc.TrackSelector(selectorLabel(sel), events.SelectorResult{
		Value: sel.Selector, Found: true, Count: 1, Attribute: sel.Attribute,
	})
	if !ok {
		return missingField(sc, sel, field, nil)
	}

	sc.Results()[field] = value
	sc.TrackExtraction(field, events.ExtractionResult{Value: value, Status: "success", Confidence: 1.0})
	return nil
}

func extractMany(ctx context.Context, sc Context, sel *config.SelectorConfig) ([]string, error) {
	els, err := sc.Browser().FindElements(ctx, sel.Selector)
	if err != nil {
		// Multi-element lookups never fail outright: a broken lookup is zero
		// matches, and the required-field check decides the outcome.
		sc.TrackSelector(selectorLabel(sel), events.SelectorResult{
			Value: sel.Selector, Found: false, Attribute: sel.Attribute, Error: err.Error(),
		})
		return nil, nil
	}

	seen := make(map[string]bool, len(els))
	values := make([]string, 0, len(els))
	for _, el := range els {
		v, ok, verr := sc.Browser().ExtractValue(el, sel.Attribute)
		if verr != nil || !ok || seen[v] {
			continue
		}
		seen[v] = true
		values = append(values, v)
	}

	sc.TrackSelector(selectorLabel(sel), events.SelectorResult{
		Value: sel.Selector, Found: len(values) > 0, Count: len(values), Attribute: sel.Attribute,
	})
	return values, nil
}

func storeExtraction(sc Context, sel *config.SelectorConfig, field string, values []string) error {
	if len(values) == 0 {
		if sel.Required {
			sc.TrackExtraction(field, events.ExtractionResult{Status: "failed", Error: "no elements matched"})
			return failure.New(failure.KindUnknown,
				fmt.Sprintf("required field %s matched no elements (selector %s)", field, sel.Selector),
				failure.ErrorContext{Site: sc.Config().Name}, nil)
		}
		sc.TrackExtraction(field, events.ExtractionResult{Status: "missing"})
		return nil
	}
	sc.Results()[field] = values
	sc.TrackExtraction(field, events.ExtractionResult{Value: values, Status: "success", Confidence: 1.0})
	return nil
}

func missingField(sc Context, sel *config.SelectorConfig, field string, cause error) error {
	if !sel.Required {
		sc.TrackExtraction(field, events.ExtractionResult{Status: "missing"})
		return nil
	}
	sc.TrackExtraction(field, events.ExtractionResult{Status: "failed", Error: "required field missing"})
	if cause != nil && !errors.Is(cause, browser.ErrElementNotFound) {
		return fmt.Errorf("extract required field %s: %w", field, cause)
	}
	return failure.New(failure.KindUnknown,
		fmt.Sprintf("required field %s not found (selector %s)", field, sel.Selector),
		failure.ErrorContext{Site: sc.Config().Name}, cause)
}
