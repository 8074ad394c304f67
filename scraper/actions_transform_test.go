package scraper

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sku-agent/prowl/browser"
	"github.com/sku-agent/prowl/config"
	"github.com/sku-agent/prowl/failure"
)

func TestParseTableBuildsKeyValueMap(t *testing.T) {
	cfg := &config.ScraperConfig{
		Name:    "acme",
		BaseURL: "https://acme.test",
		Workflow: []config.WorkflowStep{
			{Action: "parse_table", Params: map[string]any{
				"selector":     "table.specs",
				"target_field": "specs",
			}},
		},
	}
	f := newWorkflowFixture(t, cfg)
	f.driver.Page = `<html><body><table class="specs">
		<tr><td>Brand:</td><td>Acme</td></tr>
		<tr><td>Weight:</td><td>2 kg</td></tr>
		<tr><td></td><td>orphan value</td></tr>
	</table></body></html>`

	res, err := f.w.Execute(context.Background(), nil)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, map[string]string{
		"Brand":  "Acme",
		"Weight": "2 kg",
	}, res.Results["specs"])
}

func TestParseTableMissingTableStoresEmptyMap(t *testing.T) {
	cfg := &config.ScraperConfig{
		Name:    "acme",
		BaseURL: "https://acme.test",
		Workflow: []config.WorkflowStep{
			{Action: "parse_table", Params: map[string]any{
				"selector":     "table.specs",
				"target_field": "specs",
			}},
		},
	}
	f := newWorkflowFixture(t, cfg)
	f.driver.Page = `<html><body><p>no table here</p></body></html>`

	res, err := f.w.Execute(context.Background(), nil)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, map[string]string{}, res.Results["specs"])
}

func TestExtractAndTransformAppliesChain(t *testing.T) {
	cfg := &config.ScraperConfig{
		Name:    "acme",
		BaseURL: "https://acme.test",
		Workflow: []config.WorkflowStep{
			{Action: "extract_and_transform", Params: map[string]any{
				"fields": []any{
					map[string]any{
						"name":     "title",
						"selector": "#title",
						"transform": []any{
							map[string]any{"type": "strip"},
							map[string]any{"type": "title"},
						},
					},
					map[string]any{
						"name":     "brand",
						"selector": "#byline",
						"transform": []any{
							map[string]any{"type": "regex_extract", "pattern": `Visit the (.+) Store`},
						},
					},
					map[string]any{
						"name":      "images",
						"selector":  ".thumb",
						"attribute": "src",
						"multiple":  true,
						"transform": []any{
							map[string]any{"type": "replace", "pattern": "_small", "replacement": "_large"},
						},
					},
					map[string]any{
						"name":       "price",
						"selector":   ".price",
						"required":   false,
						"timeout_ms": 0,
					},
				},
			}},
		},
	}
	f := newWorkflowFixture(t, cfg)
	f.driver.Set("#title", &browser.FakeElement{TextValue: "  wIDGET pro  "})
	f.driver.Set("#byline", &browser.FakeElement{TextValue: "Visit the Acme Store"})
	f.driver.Set(".thumb",
		&browser.FakeElement{Attributes: map[string]string{"src": "https://img.test/a_small.jpg"}},
		&browser.FakeElement{Attributes: map[string]string{"src": "https://img.test/b_small.jpg"}},
	)

	res, err := f.w.Execute(context.Background(), nil)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "Widget Pro", res.Results["title"])
	assert.Equal(t, "Acme", res.Results["brand"])
	assert.Equal(t, []string{"https://img.test/a_large.jpg", "https://img.test/b_large.jpg"}, res.Results["images"])
	assert.NotContains(t, res.Results, "price")
}

func TestExtractAndTransformRequiredMissDoesNotFailStep(t *testing.T) {
	cfg := &config.ScraperConfig{
		Name:    "acme",
		BaseURL: "https://acme.test",
		Workflow: []config.WorkflowStep{
			{Action: "extract_and_transform", Params: map[string]any{
				"fields": []any{
					map[string]any{"name": "title", "selector": "#missing", "timeout_ms": 0},
				},
			}},
		},
	}
	f := newWorkflowFixture(t, cfg)

	res, err := f.w.Execute(context.Background(), nil)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.NotContains(t, res.Results, "title")
}

func TestExtractAndTransformMissingFieldsIsConfigurationError(t *testing.T) {
	cfg := &config.ScraperConfig{
		Name:    "acme",
		BaseURL: "https://acme.test",
		Workflow: []config.WorkflowStep{
			{Action: "extract_and_transform"},
		},
	}
	f := newWorkflowFixture(t, cfg)

	_, err := f.w.Execute(context.Background(), nil)
	require.Error(t, err)
	assert.Equal(t, failure.KindConfiguration, failure.KindOf(err))
}

func TestCheckSponsoredRecordsAdMarker(t *testing.T) {
	cfg := &config.ScraperConfig{
		Name:    "acme",
		BaseURL: "https://acme.test",
		Workflow: []config.WorkflowStep{
			{Action: "check_sponsored", Params: map[string]any{"selector": ".ad-badge"}},
		},
	}

	f := newWorkflowFixture(t, cfg)
	f.driver.Set(".ad-badge", &browser.FakeElement{TextValue: "Sponsored"})
	res, err := f.w.Execute(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, true, res.Results["is_sponsored"])

	f = newWorkflowFixture(t, cfg)
	res, err = f.w.Execute(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, false, res.Results["is_sponsored"])
}

func TestHandleBlockingCleanPageIsNoop(t *testing.T) {
	cfg := &config.ScraperConfig{
		Name:    "acme",
		BaseURL: "https://acme.test",
		Workflow: []config.WorkflowStep{
			{Action: "handle_blocking"},
		},
	}
	f := newWorkflowFixture(t, cfg)
	f.driver.BodyText = "Widget Pro product page"

	res, err := f.w.Execute(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, true, res.Results["blocking_handled"])
	assert.Zero(t, f.driver.Reloads)
	assert.Zero(t, f.driver.CookiesWipes)
}

func TestHandleBlockingAttemptsRecovery(t *testing.T) {
	cfg := &config.ScraperConfig{
		Name:    "acme",
		BaseURL: "https://acme.test",
		Workflow: []config.WorkflowStep{
			{Action: "handle_blocking", Params: map[string]any{"fail": false}},
		},
	}
	f := newWorkflowFixture(t, cfg)
	f.driver.BodyText = "Access Denied: you have been blocked"

	res, err := f.w.Execute(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, false, res.Results["blocking_handled"])
	assert.Equal(t, 1, f.driver.CookiesWipes)
	assert.Equal(t, 1, f.driver.Reloads)
}

func TestHandleBlockingPersistentBlockFailsStep(t *testing.T) {
	cfg := &config.ScraperConfig{
		Name:    "acme",
		BaseURL: "https://acme.test",
		Workflow: []config.WorkflowStep{
			{Action: "handle_blocking"},
		},
	}
	f := newWorkflowFixture(t, cfg)
	f.driver.BodyText = "Pardon Our Interruption"

	_, err := f.w.Execute(context.Background(), nil)
	require.Error(t, err)
	assert.Equal(t, failure.KindAccessDenied, failure.KindOf(err))
}

func TestConfigureBrowserAppliesSettings(t *testing.T) {
	cfg := &config.ScraperConfig{
		Name:    "acme",
		BaseURL: "https://acme.test",
		Workflow: []config.WorkflowStep{
			{Action: "configure_browser", Params: map[string]any{
				"block_resources": []any{"Image", "Media"},
				"headers":         map[string]any{"Accept-Language": "en-US"},
			}},
		},
	}
	f := newWorkflowFixture(t, cfg)

	res, err := f.w.Execute(context.Background(), nil)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, []string{"Image", "Media"}, f.driver.Blocked)
	assert.Equal(t, "en-US", f.driver.Headers["Accept-Language"])
}

func TestExtractMultipleLookupErrorReadsAsNoMatches(t *testing.T) {
	cfg := &config.ScraperConfig{
		Name:    "acme",
		BaseURL: "https://acme.test",
		Selectors: []config.SelectorConfig{
			{ID: "images", Selector: ".thumb", Multiple: true},
		},
		Workflow: []config.WorkflowStep{
			{Action: "extract_multiple", Params: map[string]any{"selector": "images"}},
		},
	}
	f := newWorkflowFixture(t, cfg)
	f.driver.FindErr = func(selector string) error {
		if selector == ".thumb" {
			return errors.New("javascript context destroyed")
		}
		return nil
	}

	// An optional multi-element field treats a broken lookup as zero matches.
	res, err := f.w.Execute(context.Background(), nil)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.NotContains(t, res.Results, "images")
}

func TestExtractMultipleLookupErrorStillEnforcesRequired(t *testing.T) {
	cfg := &config.ScraperConfig{
		Name:    "acme",
		BaseURL: "https://acme.test",
		Selectors: []config.SelectorConfig{
			{ID: "images", Selector: ".thumb", Multiple: true, Required: true},
		},
		Workflow: []config.WorkflowStep{
			{Action: "extract_multiple", Params: map[string]any{"selector": "images"}},
		},
	}
	f := newWorkflowFixture(t, cfg)
	f.driver.FindErr = func(string) error { return errors.New("javascript context destroyed") }

	_, err := f.w.Execute(context.Background(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "matched no elements")
}

func TestInlineTransformChain(t *testing.T) {
	transforms := []any{
		map[string]any{"type": "replace", "pattern": `\s+`, "replacement": " "},
		map[string]any{"type": "strip"},
		map[string]any{"type": "prefix", "value": "SKU "},
		map[string]any{"type": "suffix", "value": "!"},
	}
	assert.Equal(t, "SKU widget pro!", applyInlineTransforms("  widget \n pro  ", transforms))

	assert.Equal(t, "fallback", applyInlineTransforms("   ", []any{
		map[string]any{"type": "default", "value": "fallback"},
	}))

	// Unknown types and invalid patterns pass the value through.
	assert.Equal(t, "x", applyInlineTransforms("x", []any{
		map[string]any{"type": "frobnicate"},
		map[string]any{"type": "regex_extract", "pattern": "("},
	}))
}
