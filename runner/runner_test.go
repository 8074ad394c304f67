package runner

import (
	"context"
	"errors"
	"strings"
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

func testSiteConfig(name string) *config.ScraperConfig {
	return &config.ScraperConfig{
		Name:    name,
		BaseURL: "https://" + name + ".test",
		Selectors: []config.SelectorConfig{
			{ID: "title", Selector: "h1.title"},
		},
		Workflow: []config.WorkflowStep{
			{Action: "navigate", Params: map[string]any{"url": "https://" + name + ".test/p/{sku}"}},
			{Action: "extract", Params: map[string]any{"selector": "title"}},
		},
		TestSKUs: []string{"TEST-1", "TEST-2"},
	}
}

// fastStrategy disables backoff sleeps and retries entirely so failures are
// single-shot.
func fastStrategy() *retry.Strategy {
	s := retry.NewStrategy("")
	for _, k := range []failure.Kind{
		failure.KindNetworkError, failure.KindTimeout, failure.KindCaptchaDetected,
		failure.KindRateLimited, failure.KindAccessDenied, failure.KindUnknown,
	} {
		s.SetConfig(k, retry.Config{MaxRetries: 0})
	}
	return s
}

type runnerFixture struct {
	bus     *events.Bus
	breaker *retry.Breaker
	drivers []*browser.FakeDriver
	runner  *Runner
}

func newRunnerFixture(t *testing.T, configs map[string]*config.ScraperConfig, prep func(*browser.FakeDriver)) *runnerFixture {
	t.Helper()

	bus, err := events.NewBus(1000, "", nil)
	require.NoError(t, err)

	f := &runnerFixture{bus: bus, breaker: retry.NewBreaker(retry.DefaultBreakerConfig())}
	r, err := New(Options{
		Configs:  configs,
		Strategy: fastStrategy(),
		Breaker:  f.breaker,
		Bus:      bus,
		NewDriver: func(*config.ScraperConfig) (browser.Driver, error) {
			d := browser.NewFakeDriver()
			if prep != nil {
				prep(d)
			}
			f.drivers = append(f.drivers, d)
			return d, nil
		},
		MaxWorkers:     1,
		StepTimeout:    time.Second,
		SessionTimeout: time.Hour,
		PollInterval:   time.Millisecond,
	})
	require.NoError(t, err)
	f.runner = r
	return f
}

func countEvents(bus *events.Bus, jobID string, typ events.Type) int {
	n := 0
	for _, e := range bus.Events(jobID) {
		if e.Type == typ {
			n++
		}
	}
	return n
}

func TestRunnerProcessesAllItemsAcrossSites(t *testing.T) {
	configs := map[string]*config.ScraperConfig{
		"acme":  testSiteConfig("acme"),
		"bmart": testSiteConfig("bmart"),
	}
	f := newRunnerFixture(t, configs, func(d *browser.FakeDriver) {
		d.Set("h1.title", &browser.FakeElement{TextValue: "Widget"})
	})

	res, err := f.runner.Run(context.Background(), models.JobRequest{
		JobID: "job-all",
		SKUs:  []string{"SKU-1", "SKU-2"},
	})
	require.NoError(t, err)

	assert.Equal(t, "job-all", res.JobID)
	assert.Equal(t, 4, res.SKUsProcessed)
	assert.Equal(t, []string{"acme", "bmart"}, res.ScrapersRun)
	assert.False(t, res.CompletedAt.Before(res.StartedAt))

	require.Contains(t, res.Data, "SKU-1")
	require.Contains(t, res.Data["SKU-1"], "acme")
	assert.Equal(t, "Widget", res.Data["SKU-1"]["acme"]["title"])
	require.Contains(t, res.Data["SKU-2"], "bmart")

	assert.Equal(t, 1, countEvents(f.bus, "job-all", events.TypeJobStarted))
	assert.Equal(t, 1, countEvents(f.bus, "job-all", events.TypeJobCompleted))
	assert.Equal(t, 4, countEvents(f.bus, "job-all", events.TypeSKUSuccess))
	assert.Positive(t, res.Telemetry.Steps)
	assert.Positive(t, res.Telemetry.Extractions)

	// Each site's worker tears its browser down at the end.
	for _, d := range f.drivers {
		assert.True(t, d.Closed)
	}
}

func TestRunnerFailedItemDoesNotStopOthers(t *testing.T) {
	configs := map[string]*config.ScraperConfig{"acme": testSiteConfig("acme")}
	f := newRunnerFixture(t, configs, func(d *browser.FakeDriver) {
		d.Set("h1.title", &browser.FakeElement{TextValue: "Widget"})
		d.NavFunc = func(url string) error {
			if strings.Contains(url, "BAD") {
				return errors.New("connection refused")
			}
			return nil
		}
	})

	res, err := f.runner.Run(context.Background(), models.JobRequest{
		JobID: "job-mixed",
		SKUs:  []string{"BAD", "GOOD"},
	})
	require.NoError(t, err)

	assert.Equal(t, 1, res.SKUsProcessed)
	assert.NotContains(t, res.Data, "BAD")
	require.Contains(t, res.Data, "GOOD")
	assert.Equal(t, 1, countEvents(f.bus, "job-mixed", events.TypeSKUFailed))
	assert.Equal(t, 1, countEvents(f.bus, "job-mixed", events.TypeSKUSuccess))
	assert.Equal(t, 1, countEvents(f.bus, "job-mixed", events.TypeJobCompleted))
}

func TestRunnerCircuitOpenAbortsWholeJob(t *testing.T) {
	configs := map[string]*config.ScraperConfig{"acme": testSiteConfig("acme")}
	f := newRunnerFixture(t, configs, nil)
	for i := 0; i < 5; i++ {
		f.breaker.RecordFailure("acme", failure.KindNetworkError)
	}

	res, err := f.runner.Run(context.Background(), models.JobRequest{
		JobID: "job-open",
		SKUs:  []string{"SKU-1", "SKU-2", "SKU-3"},
	})
	require.Error(t, err)

	var je *models.JobError
	require.True(t, errors.As(err, &je))
	assert.Equal(t, models.ErrCodeCircuitOpen, je.Code)

	require.NotNil(t, res)
	assert.Zero(t, res.SKUsProcessed)
	assert.Empty(t, res.Data)
	assert.Equal(t, 1, countEvents(f.bus, "job-open", events.TypeJobFailed))
	assert.Zero(t, countEvents(f.bus, "job-open", events.TypeJobCompleted))
}

func TestRunnerCacheHitSkipsWorkflow(t *testing.T) {
	configs := map[string]*config.ScraperConfig{"acme": testSiteConfig("acme")}
	f := newRunnerFixture(t, configs, func(d *browser.FakeDriver) {
		d.Set("h1.title", &browser.FakeElement{TextValue: "Fresh"})
	})
	cache := NewCache(10, time.Minute)
	cache.Put("acme", "SKU-1", map[string]any{"title": "Cached"})
	f.runner.opts.Cache = cache

	res, err := f.runner.Run(context.Background(), models.JobRequest{
		JobID: "job-cache",
		SKUs:  []string{"SKU-1"},
	})
	require.NoError(t, err)

	assert.Equal(t, "Cached", res.Data["SKU-1"]["acme"]["title"])
	assert.Equal(t, 1, res.SKUsProcessed)
	// The workflow never ran: no navigation happened and no sku.started fired.
	for _, d := range f.drivers {
		assert.Empty(t, d.Navigations)
	}
	assert.Zero(t, countEvents(f.bus, "job-cache", events.TypeSKUStarted))
	assert.Equal(t, 1, countEvents(f.bus, "job-cache", events.TypeSKUSuccess))
}

func TestRunnerTestModeFallsBackToConfiguredItems(t *testing.T) {
	configs := map[string]*config.ScraperConfig{"acme": testSiteConfig("acme")}
	f := newRunnerFixture(t, configs, func(d *browser.FakeDriver) {
		d.Set("h1.title", &browser.FakeElement{TextValue: "Widget"})
	})

	res, err := f.runner.Run(context.Background(), models.JobRequest{
		JobID:    "job-test",
		TestMode: true,
	})
	require.NoError(t, err)

	assert.Equal(t, 2, res.SKUsProcessed)
	assert.Contains(t, res.Data, "TEST-1")
	assert.Contains(t, res.Data, "TEST-2")
}

func TestRunnerUnknownScraperRejected(t *testing.T) {
	configs := map[string]*config.ScraperConfig{"acme": testSiteConfig("acme")}
	f := newRunnerFixture(t, configs, nil)

	res, err := f.runner.Run(context.Background(), models.JobRequest{
		SKUs:     []string{"SKU-1"},
		Scrapers: []string{"nope"},
	})
	require.Error(t, err)
	assert.Nil(t, res)

	var je *models.JobError
	require.True(t, errors.As(err, &je))
	assert.Equal(t, models.ErrCodeInvalidConfig, je.Code)
}

func TestRunnerBrowserLaunchFailureFailsItemsNotJob(t *testing.T) {
	bus, err := events.NewBus(1000, "", nil)
	require.NoError(t, err)

	r, err := New(Options{
		Configs:  map[string]*config.ScraperConfig{"acme": testSiteConfig("acme")},
		Strategy: fastStrategy(),
		Bus:      bus,
		NewDriver: func(*config.ScraperConfig) (browser.Driver, error) {
			return nil, errors.New("chrome not found")
		},
		MaxWorkers:     2,
		StepTimeout:    time.Second,
		SessionTimeout: time.Hour,
		PollInterval:   time.Millisecond,
	})
	require.NoError(t, err)

	// Run must return even with zero usable browsers.
	var res *models.JobResult
	done := make(chan struct{})
	go func() {
		defer close(done)
		res, err = r.Run(context.Background(), models.JobRequest{
			JobID: "job-nolaunch",
			SKUs:  []string{"SKU-1", "SKU-2"},
		})
	}()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after browser launch failure")
	}

	require.NoError(t, err)
	assert.Zero(t, res.SKUsProcessed)
	assert.Empty(t, res.Data)
	assert.Equal(t, 2, countEvents(bus, "job-nolaunch", events.TypeSKUFailed))
	assert.Equal(t, 1, countEvents(bus, "job-nolaunch", events.TypeJobCompleted))
}

func TestRunnerNoResultsItemCountsAsProcessed(t *testing.T) {
	configs := map[string]*config.ScraperConfig{"acme": testSiteConfig("acme")}
	// No title element on the page: the optional extraction comes back empty.
	f := newRunnerFixture(t, configs, nil)

	res, err := f.runner.Run(context.Background(), models.JobRequest{
		JobID: "job-empty",
		SKUs:  []string{"SKU-1"},
	})
	require.NoError(t, err)

	assert.Equal(t, 1, res.SKUsProcessed)
	assert.Empty(t, res.Data)
	assert.Equal(t, 1, countEvents(f.bus, "job-empty", events.TypeSKUNoResults))
}
