package scraper

import (
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/sku-agent/prowl/config"
)

// Normalizer applies declarative post-extraction transforms to result
// fields. Rules run in config order; an unknown action logs a warning and
// passes the value through unchanged.
type Normalizer struct {
	logger *slog.Logger
}

// NewNormalizer creates a normalizer.
func NewNormalizer(logger *slog.Logger) *Normalizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Normalizer{logger: logger}
}

// Apply runs every rule against results in place. Rules for absent fields
// are skipped. String slices are normalized element-wise.
func (n *Normalizer) Apply(results map[string]any, rules []config.NormalizationRule) {
	for _, rule := range rules {
		raw, ok := results[rule.Field]
		if !ok {
			continue
		}
		switch v := raw.(type) {
		case string:
			results[rule.Field] = n.applyOne(v, rule)
		case []string:
			out := make([]string, len(v))
			for i, s := range v {
				out[i] = n.applyOne(s, rule)
			}
			results[rule.Field] = out
		case []any:
			out := make([]any, len(v))
			for i, item := range v {
				if s, isStr := item.(string); isStr {
					out[i] = n.applyOne(s, rule)
				} else {
					out[i] = item
				}
			}
			results[rule.Field] = out
		}
	}
}

func (n *Normalizer) applyOne(value string, rule config.NormalizationRule) string {
	out, err := Normalize(value, rule.Action, rule.Params)
	if err != nil {
		n.logger.Warn("normalization rule skipped",
			"field", rule.Field,
			"action", rule.Action,
			"error", err,
		)
		return value
	}
	return out
}

// Normalize applies one named transform to value. Unknown actions return an
// error; the caller decides whether to warn and pass through.
func Normalize(value, action string, params map[string]any) (string, error) {
	switch action {
	case "title_case":
		return titleCase(value), nil
	case "lowercase":
		return strings.ToLower(value), nil
	case "uppercase":
		return strings.ToUpper(value), nil
	case "trim", "strip":
		return strings.TrimSpace(value), nil
	case "remove_prefix":
		p, _ := params["prefix"].(string)
		return strings.TrimSpace(strings.TrimPrefix(value, p)), nil
	case "remove_suffix":
		sfx, _ := params["suffix"].(string)
		return strings.TrimSpace(strings.TrimSuffix(value, sfx)), nil
	case "replace":
		old, _ := params["old"].(string)
		new_, _ := params["new"].(string)
		return strings.ReplaceAll(value, old, new_), nil
	case "regex_replace":
		pattern, _ := params["pattern"].(string)
		repl, _ := params["replacement"].(string)
		re, err := regexp.Compile(pattern)
		if err != nil {
			return value, fmt.Errorf("regex_replace: %w", err)
		}
		return re.ReplaceAllString(value, repl), nil
	case "regex_extract":
		pattern, _ := params["pattern"].(string)
		re, err := regexp.Compile(pattern)
		if err != nil {
			return value, fmt.Errorf("regex_extract: %w", err)
		}
		m := re.FindStringSubmatch(value)
		switch {
		case m == nil:
			return "", nil
		case len(m) > 1:
			return m[1], nil
		default:
			return m[0], nil
		}
	case "extract_weight":
		return ExtractWeight(value), nil
	default:
		return value, fmt.Errorf("unknown normalization action %q", action)
	}
}

// weightRe matches a number with an optional unit suffix.
var weightRe = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*(lbs?|lb|oz|kg|g)?`)

// ExtractWeight pulls a weight out of free text and converts it to pounds,
// formatted with two decimals. Unitless values are assumed to already be
// pounds. Text with no number passes through unchanged.
func ExtractWeight(value string) string {
	m := weightRe.FindStringSubmatch(strings.ToLower(value))
	if m == nil {
		return value
	}
	n, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return value
	}

	switch m[2] {
	case "oz":
		n /= 16
	case "kg":
		n *= 2.20462
	case "g":
		n *= 0.00220462
	}
	return strconv.FormatFloat(n, 'f', 2, 64)
}

// titleCase uppercases the first letter of each word and lowercases the
// rest.
func titleCase(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	prevLetter := false
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if prevLetter {
				b.WriteRune(unicode.ToLower(r))
			} else {
				b.WriteRune(unicode.ToUpper(r))
			}
			prevLetter = true
		} else {
			b.WriteRune(r)
			prevLetter = false
		}
	}
	return b.String()
}
