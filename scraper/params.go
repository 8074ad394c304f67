package scraper

import (
	"fmt"
	"strings"
)

// substituteParams returns a deep copy of params with every {placeholder}
// token in string values replaced from the execution context. The input is
// never mutated, so retries always substitute from pristine params.
func substituteParams(params map[string]any, execCtx map[string]any) map[string]any {
	if params == nil {
		return map[string]any{}
	}
	out := make(map[string]any, len(params))
	for k, v := range params {
		out[k] = substituteValue(v, execCtx)
	}
	return out
}

func substituteValue(v any, execCtx map[string]any) any {
	switch tv := v.(type) {
	case string:
		return substituteString(tv, execCtx)
	case map[string]any:
		return substituteParams(tv, execCtx)
	case []any:
		out := make([]any, len(tv))
		for i, item := range tv {
			out[i] = substituteValue(item, execCtx)
		}
		return out
	case []string:
		out := make([]string, len(tv))
		for i, item := range tv {
			out[i] = substituteString(item, execCtx)
		}
		return out
	default:
		return v
	}
}

func substituteString(s string, execCtx map[string]any) string {
	if !strings.Contains(s, "{") {
		return s
	}
	for k, v := range execCtx {
		token := "{" + k + "}"
		if strings.Contains(s, token) {
			s = strings.ReplaceAll(s, token, fmt.Sprint(v))
		}
	}
	return s
}

// --- typed param accessors ---

func paramString(params map[string]any, key string) (string, bool) {
	v, ok := params[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok && s != ""
}

func paramBool(params map[string]any, key string, fallback bool) bool {
	if v, ok := params[key]; ok {
		if b, isBool := v.(bool); isBool {
			return b
		}
	}
	return fallback
}

func paramInt(params map[string]any, key string, fallback int) int {
	switch v := params[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return fallback
}

func paramFloat(params map[string]any, key string, fallback float64) float64 {
	switch v := params[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return fallback
}

// paramStringSlice accepts a single string, []string or []any of strings.
func paramStringSlice(params map[string]any, key string) []string {
	switch v := params[key].(type) {
	case string:
		if v == "" {
			return nil
		}
		return []string{v}
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
