package scraper

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sku-agent/prowl/browser"
	"github.com/sku-agent/prowl/config"
	"github.com/sku-agent/prowl/events"
	"github.com/sku-agent/prowl/failure"
	"github.com/sku-agent/prowl/models"
	"github.com/sku-agent/prowl/retry"
)

type wfFixture struct {
	driver  *browser.FakeDriver
	bus     *events.Bus
	breaker *retry.Breaker
	w       *WorkflowExecutor
}

func newWorkflowFixture(t *testing.T, cfg *config.ScraperConfig) *wfFixture {
	t.Helper()

	bus, err := events.NewBus(500, "", nil)
	require.NoError(t, err)

	strategy := retry.NewStrategy("")
	for _, k := range []failure.Kind{
		failure.KindNetworkError, failure.KindTimeout, failure.KindCaptchaDetected,
		failure.KindRateLimited, failure.KindAccessDenied, failure.KindUnknown,
	} {
		strategy.SetConfig(k, retry.Config{MaxRetries: 3})
	}

	driver := browser.NewFakeDriver()
	breaker := retry.NewBreaker(retry.DefaultBreakerConfig())
	w := NewWorkflowExecutor(cfg, WorkflowOptions{
		Driver:         driver,
		Registry:       NewRegistry(),
		Strategy:       strategy,
		Breaker:        breaker,
		Emitter:        events.NewEmitter(bus, "job-1"),
		StepTimeout:    2 * time.Second,
		SessionTimeout: time.Hour,
		PollInterval:   time.Millisecond,
	})
	// Skip the post-navigation settle that only matters on real pages.
	w.SetFirstNavigationDone()
	return &wfFixture{driver: driver, bus: bus, breaker: breaker, w: w}
}

func eventsOf(bus *events.Bus, typ events.Type) []events.Event {
	var out []events.Event
	for _, e := range bus.Events("") {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

func TestWorkflowHappyPath(t *testing.T) {
	cfg := &config.ScraperConfig{
		Name:    "acme",
		BaseURL: "https://acme.test",
		Selectors: []config.SelectorConfig{
			{ID: "title", Selector: "h1.title", Required: true},
		},
		Workflow: []config.WorkflowStep{
			{Action: "navigate", Params: map[string]any{"url": "https://acme.test/p/{sku}"}},
			{Action: "extract", Params: map[string]any{"selector": "title"}},
		},
	}
	f := newWorkflowFixture(t, cfg)
	f.driver.Set("h1.title", &browser.FakeElement{TextValue: "Widget Pro"})

	res, err := f.w.Execute(context.Background(), map[string]any{"sku": "SKU-1"})
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.False(t, res.NoResults)
	assert.Equal(t, 2, res.StepsExecuted)
	assert.Equal(t, 2, res.TotalSteps)
	assert.Equal(t, "Widget Pro", res.Results["title"])
	assert.Equal(t, "SKU-1", res.Results["sku"])
	assert.Equal(t, []string{"https://acme.test/p/SKU-1"}, f.driver.Navigations)

	assert.Len(t, eventsOf(f.bus, events.TypeStepStarted), 2)
	assert.Len(t, eventsOf(f.bus, events.TypeStepCompleted), 2)
	assert.Empty(t, eventsOf(f.bus, events.TypeStepFailed))
	assert.NotEmpty(t, eventsOf(f.bus, events.TypeSelectorResolved))
	assert.NotEmpty(t, eventsOf(f.bus, events.TypeExtractionCompleted))
}

func TestWorkflowNoResultsIsNotAFailure(t *testing.T) {
	cfg := &config.ScraperConfig{
		Name:    "acme",
		BaseURL: "https://acme.test",
		Validation: &config.ValidationConfig{
			NoResultsTextPatterns: []string{"no results"},
		},
		Workflow: []config.WorkflowStep{
			{Action: "check_no_results", Params: map[string]any{"fail": true}},
			{Action: "extract", Params: map[string]any{"selector": "h1"}},
		},
	}
	f := newWorkflowFixture(t, cfg)
	f.driver.BodyText = "Sorry, No Results matched your search."

	res, err := f.w.Execute(context.Background(), map[string]any{"sku": "SKU-404"})
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.True(t, res.NoResults)
	assert.Equal(t, 1, res.StepsExecuted)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, string(failure.KindNoResults), res.Errors[0].ErrorType)
	assert.False(t, res.Errors[0].Recoverable)
}

func TestWorkflowCheckNoResultsStopSkipsRemainingSteps(t *testing.T) {
	cfg := &config.ScraperConfig{
		Name:    "acme",
		BaseURL: "https://acme.test",
		Validation: &config.ValidationConfig{
			NoResultsSelectors: []string{".empty-state"},
		},
		Workflow: []config.WorkflowStep{
			{Action: "check_no_results"},
			{Action: "extract", Params: map[string]any{"selector": "h1"}},
		},
	}
	f := newWorkflowFixture(t, cfg)
	f.driver.Set(".empty-state", &browser.FakeElement{TextValue: "Nothing here"})

	res, err := f.w.Execute(context.Background(), nil)
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Equal(t, 1, res.StepsExecuted)
	assert.Equal(t, true, res.Results["no_results_found"])
	assert.Empty(t, res.Errors)
}

func TestWorkflowRetriesAreSilentInEvents(t *testing.T) {
	cfg := &config.ScraperConfig{
		Name:    "acme",
		BaseURL: "https://acme.test",
		Workflow: []config.WorkflowStep{
			{Action: "navigate", Params: map[string]any{"url": "https://acme.test"}},
		},
	}
	f := newWorkflowFixture(t, cfg)

	calls := 0
	f.driver.NavFunc = func(string) error {
		calls++
		if calls < 3 {
			return errors.New("connection refused")
		}
		return nil
	}

	res, err := f.w.Execute(context.Background(), nil)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 3, calls)

	started := eventsOf(f.bus, events.TypeStepStarted)
	completed := eventsOf(f.bus, events.TypeStepCompleted)
	require.Len(t, started, 1)
	require.Len(t, completed, 1)
	assert.Empty(t, eventsOf(f.bus, events.TypeStepFailed))

	step := completed[0].Data["step"].(map[string]any)
	assert.Equal(t, 2, step["retry_count"])
}

func TestWorkflowExhaustedRetriesFailTheRun(t *testing.T) {
	cfg := &config.ScraperConfig{
		Name:       "acme",
		BaseURL:    "https://acme.test",
		MaxRetries: 1,
		Workflow: []config.WorkflowStep{
			{Action: "navigate", Params: map[string]any{"url": "https://acme.test"}},
		},
	}
	f := newWorkflowFixture(t, cfg)
	f.driver.NavFunc = func(string) error { return errors.New("connection refused") }

	res, err := f.w.Execute(context.Background(), nil)
	require.Error(t, err)
	assert.Equal(t, failure.KindNetworkError, failure.KindOf(err))

	assert.False(t, res.Success)
	assert.Len(t, f.driver.Navigations, 2) // one attempt plus the site cap of one retry
	require.Len(t, res.Errors, 1)
	assert.Equal(t, string(failure.KindNetworkError), res.Errors[0].ErrorType)
	assert.True(t, res.Errors[0].Recoverable)

	failed := eventsOf(f.bus, events.TypeStepFailed)
	require.Len(t, failed, 1)
	step := failed[0].Data["step"].(map[string]any)
	assert.Equal(t, 1, step["retry_count"])
}

func TestWorkflowSkipsLoginWhenSessionStillValid(t *testing.T) {
	cfg := &config.ScraperConfig{
		Name:    "acme",
		BaseURL: "https://acme.test",
		Login: &config.LoginConfig{
			URL:              "https://acme.test/login",
			UsernameSelector: "#user",
			PasswordSelector: "#pass",
			SubmitSelector:   "#go",
		},
		Workflow: []config.WorkflowStep{
			{Action: "login"},
		},
	}
	f := newWorkflowFixture(t, cfg)
	f.w.session.MarkAuthenticated()

	res, err := f.w.Execute(context.Background(), nil)
	require.NoError(t, err)
	assert.True(t, res.Success)

	assert.Empty(t, f.driver.Navigations)
	assert.Len(t, eventsOf(f.bus, events.TypeStepSkipped), 1)
	assert.Empty(t, eventsOf(f.bus, events.TypeStepStarted))
}

func TestWorkflowCancellationIsNotAFailure(t *testing.T) {
	cfg := &config.ScraperConfig{
		Name:    "acme",
		BaseURL: "https://acme.test",
		Workflow: []config.WorkflowStep{
			{Action: "navigate", Params: map[string]any{"url": "https://acme.test"}},
			{Action: "extract", Params: map[string]any{"selector": "h1"}},
		},
	}
	f := newWorkflowFixture(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	f.driver.NavFunc = func(string) error {
		cancel()
		return errors.New("connection reset by peer")
	}

	res, err := f.w.Execute(ctx, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrCancelled))
	assert.False(t, res.Success)

	assert.Empty(t, eventsOf(f.bus, events.TypeStepFailed))
}

func TestWorkflowAbortsWhenCircuitOpen(t *testing.T) {
	cfg := &config.ScraperConfig{
		Name:    "acme",
		BaseURL: "https://acme.test",
		Workflow: []config.WorkflowStep{
			{Action: "navigate", Params: map[string]any{"url": "https://acme.test"}},
		},
	}
	f := newWorkflowFixture(t, cfg)
	for i := 0; i < 5; i++ {
		f.breaker.RecordFailure("acme", failure.KindNetworkError)
	}

	res, err := f.w.Execute(context.Background(), nil)
	require.Error(t, err)

	var coe *retry.CircuitOpenError
	assert.True(t, errors.As(err, &coe))
	assert.False(t, res.Success)
	assert.Empty(t, f.driver.Navigations)
	require.Len(t, res.Errors, 1)
	assert.False(t, res.Errors[0].Recoverable)
}

func TestWorkflowAppliesNormalizationRules(t *testing.T) {
	cfg := &config.ScraperConfig{
		Name:    "acme",
		BaseURL: "https://acme.test",
		Selectors: []config.SelectorConfig{
			{ID: "title", Selector: "h1.title"},
			{ID: "weight", Selector: ".weight"},
		},
		Workflow: []config.WorkflowStep{
			{Action: "extract", Params: map[string]any{"selectors": []any{"title", "weight"}}},
		},
		Normalization: []config.NormalizationRule{
			{Field: "title", Action: "title_case"},
			{Field: "weight", Action: "extract_weight"},
		},
	}
	f := newWorkflowFixture(t, cfg)
	f.driver.Set("h1.title", &browser.FakeElement{TextValue: "wIDGET pro MAX"})
	f.driver.Set(".weight", &browser.FakeElement{TextValue: "Weight: 2 kg"})

	res, err := f.w.Execute(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "Widget Pro Max", res.Results["title"])
	assert.Equal(t, "4.41", res.Results["weight"])
}

func TestWorkflowUnknownActionIsConfigurationError(t *testing.T) {
	cfg := &config.ScraperConfig{
		Name:    "acme",
		BaseURL: "https://acme.test",
		Workflow: []config.WorkflowStep{
			{Action: "teleport"},
		},
	}
	f := newWorkflowFixture(t, cfg)

	res, err := f.w.Execute(context.Background(), nil)
	require.Error(t, err)
	assert.Equal(t, failure.KindConfiguration, failure.KindOf(err))
	assert.False(t, res.Success)

	// Every terminal step event has a matching step.started.
	assert.Len(t, eventsOf(f.bus, events.TypeStepStarted), 1)
	assert.Len(t, eventsOf(f.bus, events.TypeStepFailed), 1)
}

func TestWorkflowResetsStateBetweenItems(t *testing.T) {
	cfg := &config.ScraperConfig{
		Name:    "acme",
		BaseURL: "https://acme.test",
		Selectors: []config.SelectorConfig{
			{ID: "title", Selector: "h1.title"},
		},
		Workflow: []config.WorkflowStep{
			{Action: "extract", Params: map[string]any{"selector": "title"}},
		},
	}
	f := newWorkflowFixture(t, cfg)
	f.driver.Set("h1.title", &browser.FakeElement{TextValue: "First"})

	res, err := f.w.Execute(context.Background(), map[string]any{"sku": "A"})
	require.NoError(t, err)
	assert.Equal(t, "First", res.Results["title"])

	f.driver.Set("h1.title", &browser.FakeElement{TextValue: "Second"})
	res, err = f.w.Execute(context.Background(), map[string]any{"sku": "B"})
	require.NoError(t, err)
	assert.Equal(t, "Second", res.Results["title"])
	assert.Equal(t, "B", res.Results["sku"])
	assert.Empty(t, res.Errors)
}
