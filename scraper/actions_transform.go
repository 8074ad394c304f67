package scraper

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/sku-agent/prowl/events"
)

// --- parse_table ---

// parseTableAction parses an HTML table into a key/value map stored under
// target_field. Rows with fewer cells than the configured columns are
// skipped; a missing table stores an empty map rather than failing.
type parseTableAction struct{}

func (parseTableAction) Execute(ctx context.Context, sc Context, params map[string]any) error {
	selector, ok := paramString(params, "selector")
	if !ok {
		return configErr(sc, "parse_table requires a selector param")
	}
	target, ok := paramString(params, "target_field")
	if !ok {
		return configErr(sc, "parse_table requires a target_field param")
	}
	keyCol := paramInt(params, "key_column", 0)
	valCol := paramInt(params, "value_column", 1)

	data := map[string]string{}
	html, err := sc.Browser().Driver().HTML(ctx)
	if err != nil {
		sc.Results()[target] = data
		sc.TrackExtraction(target, events.ExtractionResult{Status: "missing", Error: err.Error()})
		return nil
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		sc.Results()[target] = data
		sc.TrackExtraction(target, events.ExtractionResult{Status: "missing", Error: err.Error()})
		return nil
	}

	table := doc.Find(selector).First()
	if table.Length() == 0 {
		sc.TrackSelector(selector, events.SelectorResult{Value: selector, Found: false})
		sc.Results()[target] = data
		sc.TrackExtraction(target, events.ExtractionResult{Status: "missing"})
		return nil
	}
	sc.TrackSelector(selector, events.SelectorResult{Value: selector, Found: true, Count: 1})

	table.Find("tr").Each(func(_ int, row *goquery.Selection) {
		cells := row.Find("td")
		if cells.Length() == 0 {
			cells = row.Find("th")
		}
		if cells.Length() <= keyCol || cells.Length() <= valCol {
			return
		}
		key := strings.TrimSuffix(strings.TrimSpace(cells.Eq(keyCol).Text()), ":")
		if key == "" {
			return
		}
		data[key] = strings.TrimSpace(cells.Eq(valCol).Text())
	})

	sc.Results()[target] = data
	sc.TrackExtraction(target, events.ExtractionResult{Value: data, Status: "success", Confidence: 1.0})
	return nil
}

// --- extract_and_transform ---

// Optional fields get a short lookup wait so a missing element does not
// stall the whole step timeout.
const optionalFieldTimeout = 1500 * time.Millisecond

// extractAndTransformAction is single-pass extraction with inline
// transforms: each entry in the fields param names a selector, optional
// attribute and multiplicity, plus a transform chain applied to the value
// before it is stored. A required field that stays empty records a failed
// extraction but does not abort the step.
type extractAndTransformAction struct{}

func (extractAndTransformAction) Execute(ctx context.Context, sc Context, params map[string]any) error {
	rawFields, ok := params["fields"].([]any)
	if !ok || len(rawFields) == 0 {
		return configErr(sc, "extract_and_transform requires a fields param")
	}

	for _, raw := range rawFields {
		field, ok := raw.(map[string]any)
		if !ok {
			return configErr(sc, "extract_and_transform fields must be maps")
		}
		name, ok := paramString(field, "name")
		if !ok {
			return configErr(sc, "extract_and_transform field missing a name")
		}
		selector, ok := paramString(field, "selector")
		if !ok {
			return configErr(sc, "extract_and_transform field %q missing a selector", name)
		}
		attribute, _ := paramString(field, "attribute")
		required := paramBool(field, "required", true)
		transforms, _ := field["transform"].([]any)

		timeout := sc.StepTimeout()
		if !required {
			timeout = optionalFieldTimeout
		}
		if ms := paramInt(field, "timeout_ms", -1); ms >= 0 {
			timeout = time.Duration(ms) * time.Millisecond
		}

		if paramBool(field, "multiple", false) {
			values := lookupAll(ctx, sc, selector, attribute)
			out := make([]string, 0, len(values))
			for _, v := range values {
				if t := applyInlineTransforms(v, transforms); t != "" {
					out = append(out, t)
				}
			}
			if len(out) == 0 {
				trackMiss(sc, name, required)
				continue
			}
			sc.Results()[name] = out
			sc.TrackExtraction(name, events.ExtractionResult{Value: out, Status: "success", Confidence: 1.0})
			continue
		}

		value, found := lookupOne(ctx, sc, selector, attribute, timeout)
		if found {
			value = applyInlineTransforms(value, transforms)
		}
		if !found || value == "" {
			trackMiss(sc, name, required)
			continue
		}
		sc.Results()[name] = value
		sc.TrackExtraction(name, events.ExtractionResult{Value: value, Status: "success", Confidence: 1.0})
	}
	return nil
}

func lookupOne(ctx context.Context, sc Context, selector, attribute string, timeout time.Duration) (string, bool) {
	el, err := sc.Browser().FindElement(ctx, selector, timeout)
	if err != nil {
		sc.TrackSelector(selector, events.SelectorResult{Value: selector, Found: false, Attribute: attribute, Error: err.Error()})
		return "", false
	}
	sc.TrackSelector(selector, events.SelectorResult{Value: selector, Found: true, Count: 1, Attribute: attribute})
	v, ok, err := sc.Browser().ExtractValue(el, attribute)
	if err != nil || !ok {
		return "", false
	}
	return v, true
}

func lookupAll(ctx context.Context, sc Context, selector, attribute string) []string {
	els, err := sc.Browser().FindElements(ctx, selector)
	if err != nil {
		sc.TrackSelector(selector, events.SelectorResult{Value: selector, Found: false, Attribute: attribute, Error: err.Error()})
		return nil
	}
	seen := make(map[string]bool, len(els))
	values := make([]string, 0, len(els))
	for _, el := range els {
		v, ok, verr := sc.Browser().ExtractValue(el, attribute)
		if verr != nil || !ok || seen[v] {
			continue
		}
		seen[v] = true
		values = append(values, v)
	}
	sc.TrackSelector(selector, events.SelectorResult{Value: selector, Found: len(values) > 0, Count: len(values), Attribute: attribute})
	return values
}

func trackMiss(sc Context, field string, required bool) {
	if required {
		sc.TrackExtraction(field, events.ExtractionResult{Status: "failed", Error: "required field missing"})
		return
	}
	sc.TrackExtraction(field, events.ExtractionResult{Status: "missing"})
}

// applyInlineTransforms runs a field's transform chain in order. Invalid
// patterns and unknown types pass the value through unchanged.
func applyInlineTransforms(value string, transforms []any) string {
	out := value
	for _, raw := range transforms {
		tr, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		typ, _ := paramString(tr, "type")
		switch typ {
		case "replace":
			pat, ok := paramString(tr, "pattern")
			if !ok {
				continue
			}
			re, err := regexp.Compile("(?i)" + pat)
			if err != nil {
				continue
			}
			repl, _ := tr["replacement"].(string)
			out = strings.TrimSpace(re.ReplaceAllString(out, repl))
		case "strip":
			if chars, ok := paramString(tr, "chars"); ok {
				out = strings.Trim(out, chars)
			} else {
				out = strings.TrimSpace(out)
			}
		case "lower":
			out = strings.ToLower(out)
		case "upper":
			out = strings.ToUpper(out)
		case "title":
			out = titleCase(out)
		case "regex_extract":
			pat, ok := paramString(tr, "pattern")
			if !ok {
				continue
			}
			re, err := regexp.Compile("(?i)" + pat)
			if err != nil {
				continue
			}
			group := paramInt(tr, "group", 1)
			if m := re.FindStringSubmatch(out); m != nil && group < len(m) {
				out = m[group]
			}
		case "prefix":
			v, _ := tr["value"].(string)
			out = v + out
		case "suffix":
			v, _ := tr["value"].(string)
			out = out + v
		case "default":
			if strings.TrimSpace(out) == "" {
				v, _ := tr["value"].(string)
				out = v
			}
		}
	}
	return out
}

// --- check_sponsored ---

// checkSponsoredAction records whether any ad marker matches the page. A
// lookup failure reads as not sponsored.
type checkSponsoredAction struct{}

func (checkSponsoredAction) Execute(ctx context.Context, sc Context, params map[string]any) error {
	field, ok := paramString(params, "result_field")
	if !ok {
		field = "is_sponsored"
	}
	selector, ok := paramString(params, "selector")
	if !ok {
		sc.Results()[field] = false
		return nil
	}

	els, err := sc.Browser().FindElements(ctx, selector)
	sponsored := err == nil && len(els) > 0
	sc.Results()[field] = sponsored
	sc.TrackSelector(selector, events.SelectorResult{Value: selector, Found: sponsored, Count: len(els)})
	return nil
}
