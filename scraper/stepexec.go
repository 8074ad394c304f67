package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sku-agent/prowl/config"
	"github.com/sku-agent/prowl/events"
	"github.com/sku-agent/prowl/failure"
	"github.com/sku-agent/prowl/metrics"
	"github.com/sku-agent/prowl/models"
	"github.com/sku-agent/prowl/retry"
)

// stepContext is the workflow-executor surface the step executor needs on
// top of the action-facing Context: the raw execution context for parameter
// substitution and the per-step tracking buffers.
type stepContext interface {
	Context

	// ExecContext returns the variables available for {placeholder}
	// substitution.
	ExecContext() map[string]any

	// takeStepResults drains the selector and extraction detail tracked
	// since the last call.
	takeStepResults() (map[string]events.SelectorResult, map[string]events.ExtractionResult)
}

// StepExecutor runs one workflow step at a time: parameter substitution,
// registry dispatch, the retry wrapper for eligible actions, and step
// lifecycle events. Retries happen inside a step; event consumers only ever
// see the step's final outcome.
type StepExecutor struct {
	site        string
	registry    *Registry
	retry       *retry.Executor
	emitter     *events.Emitter
	metrics     *metrics.Collector
	logger      *slog.Logger
	enableRetry bool
	maxRetries  int // per-site cap from config, 0 means per-kind defaults
	snapshot    func(ctx context.Context) string
}

// NewStepExecutor builds a step executor for one site.
func NewStepExecutor(site string, registry *Registry, retryExec *retry.Executor, emitter *events.Emitter, mc *metrics.Collector, logger *slog.Logger, maxRetries int, snapshot func(ctx context.Context) string) *StepExecutor {
	if logger == nil {
		logger = slog.Default()
	}
	return &StepExecutor{
		site:        site,
		registry:    registry,
		retry:       retryExec,
		emitter:     emitter,
		metrics:     mc,
		logger:      logger.With("site", site),
		enableRetry: true,
		maxRetries:  maxRetries,
		snapshot:    snapshot,
	}
}

// DisableRetry turns the retry wrapper off for every step; used by tests
// and by single-shot diagnostics.
func (se *StepExecutor) DisableRetry() { se.enableRetry = false }

// Run executes one step to its terminal state. stepIndex is 1-based. The
// returned error is always classified: failure.KindOf on it yields the kind
// that decided retry-vs-propagate.
func (se *StepExecutor) Run(ctx context.Context, sc stepContext, step config.WorkflowStep, stepIndex int) error {
	sku := skuOf(sc)
	info := events.StepInfo{
		Site:       se.site,
		SKU:        sku,
		Index:      stepIndex,
		Action:     step.Action,
		Name:       step.Name,
		MaxRetries: se.maxRetries,
	}

	// A still-valid session makes a login step a skip, not a re-login.
	if step.Action == "login" && sc.Session().Authenticated() {
		se.emitter.StepSkipped(info, "session still authenticated")
		se.metrics.ObserveStep(se.site, step.Action, "skipped", 0)
		se.logger.Info("login skipped, session valid", "sku", sku, "step", stepIndex)
		return nil
	}

	handler, ok := se.registry.Get(step.Action)
	if !ok {
		// Even this immediate failure keeps the started-then-terminal event
		// shape consumers rely on.
		se.emitter.StepStarted(info)
		now := time.Now()
		err := failure.NewConfiguration(
			fmt.Sprintf("unknown action %q at step %d", step.Action, stepIndex),
			failure.ErrorContext{Site: se.site, Action: step.Action, StepIndex: stepIndex, SKU: sku})
		se.emitter.StepFailed(info, now, now, err.Error(), false)
		se.metrics.ObserveStep(se.site, step.Action, "failed", 0)
		return err
	}

	se.emitter.StepStarted(info)
	started := time.Now()
	sc.takeStepResults() // reset per-step tracking

	ec := failure.ErrorContext{
		Site:       se.site,
		Action:     step.Action,
		StepIndex:  stepIndex,
		SKU:        sku,
		MaxRetries: se.maxRetries,
	}

	// Substitution happens inside the operation so every retry attempt
	// works from a fresh copy of the declared params.
	op := func(opCtx context.Context) error {
		params := substituteParams(step.Params, sc.ExecContext())
		return handler.Execute(opCtx, sc, params)
	}

	if se.enableRetry && retryableActions[step.Action] {
		return se.runWithRetry(ctx, sc, op, info, ec, started)
	}
	return se.runOnce(ctx, sc, op, info, started)
}

func (se *StepExecutor) runWithRetry(ctx context.Context, sc stepContext, op func(context.Context) error, info events.StepInfo, ec failure.ErrorContext, started time.Time) error {
	var snap func() string
	if se.snapshot != nil {
		snap = func() string { return se.snapshot(ctx) }
	}

	res := se.retry.Execute(ctx, op, retry.Options{
		Site:       se.site,
		Context:    ec,
		MaxRetries: se.maxRetries,
		Snapshot:   snap,
		OnRetry: func(attempt int, kind failure.Kind, err error, delay time.Duration) {
			se.metrics.ObserveRetry(se.site, string(kind))
		},
	})
	completed := time.Now()
	info.RetryCount = res.Attempts - 1
	if info.RetryCount < 0 {
		info.RetryCount = 0
	}

	if res.Cancelled {
		// Cancellation is not a failure: no step.failed event, no breaker
		// involvement, just an aborted step.
		se.metrics.ObserveStep(se.site, info.Action, "cancelled", completed.Sub(started))
		return fmt.Errorf("step %d (%s): %w", info.Index, info.Action, models.ErrCancelled)
	}

	if res.Err != nil {
		err := classified(res.Err, res.Kind, ec)
		retryable := res.Kind.Retryable() && !isCircuitOpen(err)
		se.emitter.StepFailed(info, started, completed, err.Error(), retryable)
		se.metrics.ObserveStep(se.site, info.Action, "failed", completed.Sub(started))
		return err
	}

	selectors, extraction := sc.takeStepResults()
	se.emitter.StepCompleted(info, started, completed, selectors, extraction)
	se.metrics.ObserveStep(se.site, info.Action, "completed", completed.Sub(started))
	return nil
}

func (se *StepExecutor) runOnce(ctx context.Context, sc stepContext, op func(context.Context) error, info events.StepInfo, started time.Time) error {
	err := op(ctx)
	completed := time.Now()

	if err != nil {
		if ctx.Err() != nil || errors.Is(err, context.Canceled) {
			se.metrics.ObserveStep(se.site, info.Action, "cancelled", completed.Sub(started))
			return fmt.Errorf("step %d (%s): %w", info.Index, info.Action, models.ErrCancelled)
		}
		kind := failure.KindOf(err)
		se.emitter.StepFailed(info, started, completed, err.Error(), kind.Retryable())
		se.metrics.ObserveStep(se.site, info.Action, "failed", completed.Sub(started))
		return err
	}

	selectors, extraction := sc.takeStepResults()
	se.emitter.StepCompleted(info, started, completed, selectors, extraction)
	se.metrics.ObserveStep(se.site, info.Action, "completed", completed.Sub(started))
	return nil
}

// classified guarantees the returned error carries its failure kind so the
// workflow executor can decide terminal-vs-fatal without re-classifying.
func classified(err error, kind failure.Kind, ec failure.ErrorContext) error {
	var fe *failure.Error
	if errors.As(err, &fe) {
		return err
	}
	var coe *retry.CircuitOpenError
	if errors.As(err, &coe) {
		return err
	}
	return failure.New(kind, err.Error(), ec, err)
}

func isCircuitOpen(err error) bool {
	var coe *retry.CircuitOpenError
	return errors.As(err, &coe)
}

func skuOf(sc Context) string {
	if v, ok := sc.Param("sku"); ok {
		return fmt.Sprint(v)
	}
	return ""
}
