package scraper

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sku-agent/prowl/config"
)

func TestExtractWeight(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"2.5 kg", "5.51"},
		{"16oz", "1.00"},
		{"3 lbs", "3.00"},
		{"1 lb", "1.00"},
		{"500 g", "1.10"},
		{"Weight: 12.8 oz (net)", "0.80"},
		{"4.2", "4.20"},
		{"heavy", "heavy"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, ExtractWeight(tc.in), tc.in)
	}
}

func TestNormalizeActions(t *testing.T) {
	cases := []struct {
		action string
		in     string
		params map[string]any
		want   string
	}{
		{"title_case", "wIDGET deluxe PRO", nil, "Widget Deluxe Pro"},
		{"lowercase", "LOUD", nil, "loud"},
		{"uppercase", "quiet", nil, "QUIET"},
		{"trim", "  padded  ", nil, "padded"},
		{"strip", "\tpadded\n", nil, "padded"},
		{"remove_prefix", "SKU: 12345", map[string]any{"prefix": "SKU:"}, "12345"},
		{"remove_suffix", "12345 (new)", map[string]any{"suffix": "(new)"}, "12345"},
		{"replace", "a-b-c", map[string]any{"old": "-", "new": "_"}, "a_b_c"},
		{"regex_replace", "$ 19 . 99", map[string]any{"pattern": `\s+`, "replacement": ""}, "$19.99"},
		{"regex_extract", "Price: $19.99", map[string]any{"pattern": `\$([\d.]+)`}, "19.99"},
		{"regex_extract", "no match here", map[string]any{"pattern": `\$([\d.]+)`}, ""},
	}
	for _, tc := range cases {
		got, err := Normalize(tc.in, tc.action, tc.params)
		require.NoError(t, err, tc.action)
		assert.Equal(t, tc.want, got, tc.action)
	}
}

func TestNormalizeUnknownActionPassesThrough(t *testing.T) {
	got, err := Normalize("value", "frobnicate", nil)
	assert.Error(t, err)
	assert.Equal(t, "value", got)

	// Through the Normalizer, unknown actions warn and keep the value.
	n := NewNormalizer(nil)
	results := map[string]any{"title": "value"}
	n.Apply(results, []config.NormalizationRule{{Field: "title", Action: "frobnicate"}})
	assert.Equal(t, "value", results["title"])
}

func TestNormalizerAppliesRulesInOrder(t *testing.T) {
	n := NewNormalizer(nil)
	results := map[string]any{
		"title":  "  ACME super WIDGET  ",
		"weight": "2.5 kg",
		"urls":   []string{"HTTP://A.TEST", "HTTP://B.TEST"},
	}
	n.Apply(results, []config.NormalizationRule{
		{Field: "title", Action: "trim"},
		{Field: "title", Action: "title_case"},
		{Field: "weight", Action: "extract_weight"},
		{Field: "urls", Action: "lowercase"},
		{Field: "missing", Action: "lowercase"},
	})

	assert.Equal(t, "Acme Super Widget", results["title"])
	assert.Equal(t, "5.51", results["weight"])
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, results["urls"])
	assert.NotContains(t, results, "missing")
}
