package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/sku-agent/prowl/browser"
	"github.com/sku-agent/prowl/config"
	"github.com/sku-agent/prowl/events"
	"github.com/sku-agent/prowl/failure"
	"github.com/sku-agent/prowl/metrics"
	"github.com/sku-agent/prowl/models"
	"github.com/sku-agent/prowl/probe"
	"github.com/sku-agent/prowl/retry"
)

// WorkflowOptions wires a workflow executor's collaborators. Strategy and
// Breaker are shared across executors so circuit state and retry history
// stay coherent over a worker pool; everything else is per-executor.
type WorkflowOptions struct {
	Driver   browser.Driver
	Registry *Registry
	Strategy *retry.Strategy
	Breaker  *retry.Breaker
	Emitter  *events.Emitter
	Metrics  *metrics.Collector
	Prober   *probe.Prober
	Logger   *slog.Logger

	// StepTimeout is the default element-wait bound; the site config and
	// per-step params override it.
	StepTimeout time.Duration

	// SessionTimeout bounds how long a login is trusted.
	SessionTimeout time.Duration

	// PollInterval is how often element waits re-check the page.
	PollInterval time.Duration

	// CloseOnComplete tears the browser down at the end of each Execute.
	// The job runner keeps browsers alive across items and closes them
	// itself.
	CloseOnComplete bool
}

// WorkflowExecutor runs one site's declared step sequence for one item at a
// time. It owns a single browser and executes steps strictly in order; it is
// not safe for concurrent Execute calls. It implements Context, which is how
// actions reach the browser, the results map and the session.
type WorkflowExecutor struct {
	cfg      *config.ScraperConfig
	adapter  *browser.Adapter
	registry *Registry
	stepExec *StepExecutor
	session  *Session
	norm     *Normalizer
	emitter  *events.Emitter
	prober   *probe.Prober
	limiter  *rate.Limiter
	logger   *slog.Logger

	stepTimeout     time.Duration
	closeOnComplete bool

	execCtx      map[string]any
	results      map[string]any
	stepErrors   []models.StepError
	stopped      bool
	stopReason   string
	firstNavDone bool
	stepIndex    int

	stepSelectors   map[string]events.SelectorResult
	stepExtractions map[string]events.ExtractionResult
}

// NewWorkflowExecutor builds an executor for cfg.
func NewWorkflowExecutor(cfg *config.ScraperConfig, opts WorkflowOptions) *WorkflowExecutor {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("site", cfg.Name)

	stepTimeout := cfg.StepTimeout(opts.StepTimeout)
	if stepTimeout <= 0 {
		stepTimeout = 30 * time.Second
	}

	var classifier *failure.Classifier
	if v := cfg.Validation; v != nil {
		classifier = failure.NewClassifier(v.NoResultsSelectors, v.NoResultsTextPatterns)
	} else {
		classifier = failure.NewClassifier(nil, nil)
	}

	var limiter *rate.Limiter
	if ad := cfg.AntiDetection; ad != nil && ad.RateLimit > 0 {
		burst := ad.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(ad.RateLimit), burst)
	}

	w := &WorkflowExecutor{
		cfg:             cfg,
		adapter:         browser.NewAdapter(opts.Driver, opts.PollInterval),
		registry:        opts.Registry,
		session:         NewSession(opts.SessionTimeout),
		norm:            NewNormalizer(logger),
		emitter:         opts.Emitter,
		prober:          opts.Prober,
		limiter:         limiter,
		logger:          logger,
		stepTimeout:     stepTimeout,
		closeOnComplete: opts.CloseOnComplete,
		results:         map[string]any{},
		execCtx:         map[string]any{},
		stepSelectors:   map[string]events.SelectorResult{},
		stepExtractions: map[string]events.ExtractionResult{},
	}

	retryExec := retry.NewExecutor(opts.Strategy, opts.Breaker, classifier, logger)
	w.registerRecoveryHandlers(retryExec)

	w.stepExec = NewStepExecutor(cfg.Name, opts.Registry, retryExec, opts.Emitter, opts.Metrics, logger, cfg.MaxRetries, w.pageSnapshot)
	return w
}

// registerRecoveryHandlers installs per-kind page repair between retry
// attempts: captcha and rate limiting get a reload-and-settle, access denial
// gets a cookie wipe plus session reset.
func (w *WorkflowExecutor) registerRecoveryHandlers(re *retry.Executor) {
	re.SetRecovery(failure.KindCaptchaDetected, func(ctx context.Context, ec failure.ErrorContext) bool {
		if err := w.adapter.Driver().Reload(ctx); err != nil {
			return false
		}
		return stepSleep(ctx, 2*time.Second) == nil
	})
	re.SetRecovery(failure.KindRateLimited, func(ctx context.Context, ec failure.ErrorContext) bool {
		if err := w.adapter.Driver().Reload(ctx); err != nil {
			return false
		}
		return true
	})
	re.SetRecovery(failure.KindAccessDenied, func(ctx context.Context, ec failure.ErrorContext) bool {
		if err := w.adapter.Driver().ClearCookies(ctx); err != nil {
			return false
		}
		w.session.Reset()
		return stepSleep(ctx, 2*time.Second) == nil
	})
}

// pageSnapshot grabs the current HTML for failure classification. Errors
// just yield an empty snapshot; classification falls back to error text.
func (w *WorkflowExecutor) pageSnapshot(ctx context.Context) string {
	snapCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	html, err := w.adapter.Driver().HTML(snapCtx)
	if err != nil {
		return ""
	}
	return html
}

// Execute runs the full workflow for one item. The result is always
// populated, including the per-step error log; err is non-nil only for
// fatal outcomes (cancellation, configuration errors, an open circuit, or a
// step whose retry budget ran out). Terminal-but-expected outcomes
// (no_results, page_not_found) stop the remaining steps, mark the result
// and return err == nil.
func (w *WorkflowExecutor) Execute(ctx context.Context, execCtx map[string]any) (*models.WorkflowResult, error) {
	total := len(w.cfg.Workflow)
	w.logger.Info("workflow starting", "steps", total, "sku", execCtx["sku"])

	// Reset per-run state; an executor is reused across items.
	w.results = map[string]any{}
	w.stepErrors = nil
	w.stopped = false
	w.stopReason = ""
	w.stepIndex = 0
	w.stepSelectors = map[string]events.SelectorResult{}
	w.stepExtractions = map[string]events.ExtractionResult{}

	w.execCtx = map[string]any{}
	for k, v := range execCtx {
		w.execCtx[k] = v
		w.results[k] = v
	}

	if err := ctx.Err(); err != nil {
		return w.result(false, total), fmt.Errorf("workflow: %w", models.ErrCancelled)
	}

	result, err := w.runSteps(ctx, total)

	w.norm.Apply(w.results, w.cfg.Normalization)

	if w.closeOnComplete {
		if cerr := w.Close(); cerr != nil {
			w.logger.Warn("browser teardown failed", "error", cerr)
		}
	}
	return result, err
}

func (w *WorkflowExecutor) runSteps(ctx context.Context, total int) (*models.WorkflowResult, error) {
	noResults := false

	for i, step := range w.cfg.Workflow {
		if w.stopped {
			w.logger.Info("workflow stopped early", "reason", w.stopReason, "after_step", w.stepIndex)
			break
		}
		w.stepIndex = i + 1

		err := w.stepExec.Run(ctx, w, step, w.stepIndex)
		if err == nil {
			continue
		}

		kind := failure.KindOf(err)
		w.recordStepError(step, kind, err)

		switch {
		case errors.Is(err, models.ErrCancelled):
			return w.result(false, total), err

		case isCircuitOpen(err):
			// Fatal for the whole site, not just this item.
			w.logger.Error("circuit open, aborting run", "step", w.stepIndex, "error", err)
			return w.result(false, total), err

		case kind.Terminal():
			// Expected empty outcome: stop this item, stay successful.
			w.logger.Info("terminal outcome, halting remaining steps",
				"kind", string(kind), "step", w.stepIndex)
			noResults = true
			w.stopped = true
			w.stopReason = string(kind)

		default:
			w.logger.Error("workflow failed", "step", w.stepIndex, "action", step.Action,
				"kind", string(kind), "error", err)
			return w.result(false, total), fmt.Errorf("step %d (%s): %w", w.stepIndex, step.Action, err)
		}

		if noResults {
			break
		}
	}

	res := w.result(true, total)
	res.NoResults = noResults
	return res, nil
}

func (w *WorkflowExecutor) recordStepError(step config.WorkflowStep, kind failure.Kind, err error) {
	w.stepErrors = append(w.stepErrors, models.StepError{
		Step:        w.stepIndex,
		Action:      step.Action,
		ErrorType:   string(kind),
		Message:     err.Error(),
		Recoverable: kind.Retryable() && !isCircuitOpen(err),
	})
}

func (w *WorkflowExecutor) result(success bool, total int) *models.WorkflowResult {
	return &models.WorkflowResult{
		Success:       success,
		ConfigName:    w.cfg.Name,
		Results:       w.results,
		StepsExecuted: w.stepIndex,
		TotalSteps:    total,
		Errors:        w.stepErrors,
	}
}

// Close tears the browser down.
func (w *WorkflowExecutor) Close() error {
	return w.adapter.Driver().Close()
}

// --- Context implementation ---

func (w *WorkflowExecutor) Config() *config.ScraperConfig { return w.cfg }
func (w *WorkflowExecutor) Browser() *browser.Adapter     { return w.adapter }
func (w *WorkflowExecutor) Results() map[string]any       { return w.results }
func (w *WorkflowExecutor) Session() *Session             { return w.session }
func (w *WorkflowExecutor) Prober() *probe.Prober         { return w.prober }
func (w *WorkflowExecutor) Limiter() *rate.Limiter        { return w.limiter }
func (w *WorkflowExecutor) StepTimeout() time.Duration    { return w.stepTimeout }

func (w *WorkflowExecutor) Param(key string) (any, bool) {
	v, ok := w.execCtx[key]
	return v, ok
}

// ResolveSelector looks a reference up by id, then by name. A reference
// matching neither is treated as a raw selector string.
func (w *WorkflowExecutor) ResolveSelector(identifier string) *config.SelectorConfig {
	if sel := w.cfg.SelectorByID(identifier); sel != nil {
		return sel
	}
	if sel := w.cfg.SelectorByName(identifier); sel != nil {
		return sel
	}
	return &config.SelectorConfig{Selector: identifier}
}

func (w *WorkflowExecutor) StopWorkflow(reason string) {
	w.stopped = true
	w.stopReason = reason
}

func (w *WorkflowExecutor) Stopped() (bool, string) { return w.stopped, w.stopReason }

func (w *WorkflowExecutor) FirstNavigationDone() bool { return w.firstNavDone }
func (w *WorkflowExecutor) SetFirstNavigationDone()   { w.firstNavDone = true }

func (w *WorkflowExecutor) TrackSelector(name string, res events.SelectorResult) {
	w.stepSelectors[name] = res
	w.emitter.SelectorResolved(w.cfg.Name, skuOf(w), name, res)
}

func (w *WorkflowExecutor) TrackExtraction(field string, res events.ExtractionResult) {
	w.stepExtractions[field] = res
	w.emitter.ExtractionCompleted(w.cfg.Name, skuOf(w), field, res)
}

// --- stepContext implementation ---

func (w *WorkflowExecutor) ExecContext() map[string]any { return w.execCtx }

func (w *WorkflowExecutor) takeStepResults() (map[string]events.SelectorResult, map[string]events.ExtractionResult) {
	sels, exts := w.stepSelectors, w.stepExtractions
	w.stepSelectors = map[string]events.SelectorResult{}
	w.stepExtractions = map[string]events.ExtractionResult{}
	return sels, exts
}
