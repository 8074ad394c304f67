package scraper

import (
	"time"

	"golang.org/x/time/rate"

	"github.com/sku-agent/prowl/browser"
	"github.com/sku-agent/prowl/config"
	"github.com/sku-agent/prowl/events"
	"github.com/sku-agent/prowl/probe"
)

// Context is the shared state one workflow run exposes to its actions. The
// workflow executor implements it; action handlers stay stateless and tests
// substitute a lightweight fake.
type Context interface {
	// Config returns the site configuration driving this run.
	Config() *config.ScraperConfig

	// Browser returns the waiting-aware browser surface.
	Browser() *browser.Adapter

	// Results is the accumulated output of extraction steps. Actions may
	// read and write it directly.
	Results() map[string]any

	// Param returns a value from the execution context (sku, search_url,
	// test_mode and anything merged in by earlier steps).
	Param(key string) (any, bool)

	// ResolveSelector maps a step's selector reference to its config, by id
	// first and then by name. A raw selector string that matches neither is
	// returned as an anonymous SelectorConfig.
	ResolveSelector(identifier string) *config.SelectorConfig

	// Session is the per-site authenticated session tracker.
	Session() *Session

	// StopWorkflow marks the run to end after the current step, skipping
	// all remaining steps.
	StopWorkflow(reason string)
	Stopped() (bool, string)

	// FirstNavigationDone reports whether navigate has run yet in this
	// workflow; the first navigation gets extra settling time.
	FirstNavigationDone() bool
	SetFirstNavigationDone()

	// TrackSelector and TrackExtraction record per-step detail that the
	// step executor attaches to step.completed events and echoes as
	// selector.resolved / extraction.completed events.
	TrackSelector(name string, res events.SelectorResult)
	TrackExtraction(field string, res events.ExtractionResult)

	// Prober checks HTTP status codes out of band; may be nil when the
	// run has no probe configured.
	Prober() *probe.Prober

	// Limiter paces anti-detection waits; may be nil.
	Limiter() *rate.Limiter

	// StepTimeout bounds element waits inside a single step.
	StepTimeout() time.Duration
}
