package retry

import (
	"context"
	"log/slog"
	"time"

	"github.com/sku-agent/prowl/failure"
)

// RecoveryFunc attempts to repair the page or session after a failure of its
// kind, before the next retry. Returning false means recovery did not help;
// the retry proceeds regardless.
type RecoveryFunc func(ctx context.Context, ec failure.ErrorContext) bool

// Options describe one retryable operation.
type Options struct {
	Site       string
	Context    failure.ErrorContext
	MaxRetries int                                                 // caps the per-kind budget when > 0
	Snapshot   func() string                                       // page HTML for classification, may be nil
	OnRetry    func(attempt int, kind failure.Kind, err error, delay time.Duration) // invoked before each backoff sleep
}

// Result is the outcome of Execute.
type Result struct {
	Err       error
	Kind      failure.Kind
	Attempts  int
	Cancelled bool
}

// Executor runs operations under the adaptive retry strategy and circuit
// breaker. A single Executor is shared across workers for breaker and
// history coherence.
type Executor struct {
	strategy   *Strategy
	breaker    *Breaker
	classifier *failure.Classifier
	recovery   map[failure.Kind]RecoveryFunc
	logger     *slog.Logger
}

// NewExecutor builds an executor.
func NewExecutor(strategy *Strategy, breaker *Breaker, classifier *failure.Classifier, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		strategy:   strategy,
		breaker:    breaker,
		classifier: classifier,
		recovery:   make(map[failure.Kind]RecoveryFunc),
		logger:     logger,
	}
}

// SetRecovery installs a recovery handler for one failure kind.
func (e *Executor) SetRecovery(kind failure.Kind, fn RecoveryFunc) {
	e.recovery[kind] = fn
}

// Execute runs op under the retry budget of whatever failure kinds it
// produces. The budget is re-read each attempt because the kind can change
// between attempts; attempts made so far always count against it. A failure
// kind with budget N yields exactly N+1 attempts when every attempt fails
// with that kind. Context cancellation during a backoff sleep returns a
// cancelled result and does not touch the breaker.
func (e *Executor) Execute(ctx context.Context, op func(context.Context) error, opts Options) Result {
	if err := e.breaker.Allow(opts.Site); err != nil {
		return Result{Err: err, Kind: failure.KindUnknown}
	}

	attempt := 0
	var lastKind failure.Kind
	for {
		if err := ctx.Err(); err != nil {
			return Result{Err: err, Attempts: attempt, Cancelled: true}
		}

		err := op(ctx)
		attempt++
		if err == nil {
			e.breaker.RecordSuccess(opts.Site)
			if attempt > 1 {
				// The kind classified on the previous attempt is what the
				// retry just recovered from.
				e.strategy.Record(opts.Site, lastKind, true)
			}
			return Result{Attempts: attempt}
		}
		if ctx.Err() != nil {
			return Result{Err: ctx.Err(), Attempts: attempt, Cancelled: true}
		}

		var page string
		if opts.Snapshot != nil {
			page = opts.Snapshot()
		}
		kind := e.classifier.Classify(err, page)
		lastKind = kind
		e.breaker.RecordFailure(opts.Site, kind)

		budget := e.strategy.MaxRetries(kind)
		if opts.MaxRetries > 0 && opts.MaxRetries < budget {
			budget = opts.MaxRetries
		}
		if !kind.Retryable() || attempt > budget {
			if attempt > 1 {
				e.strategy.Record(opts.Site, kind, false)
			}
			return Result{Err: err, Kind: kind, Attempts: attempt}
		}

		delay := e.strategy.Delay(opts.Site, kind, attempt-1)
		if opts.OnRetry != nil {
			opts.OnRetry(attempt, kind, err, delay)
		}
		e.logger.Warn("step failed, backing off",
			"site", opts.Site,
			"action", opts.Context.Action,
			"kind", string(kind),
			"attempt", attempt,
			"delay", delay,
			"error", err,
		)

		if !sleep(ctx, delay) {
			return Result{Err: ctx.Err(), Attempts: attempt, Cancelled: true}
		}

		if fn, ok := e.recovery[kind]; ok {
			if fn(ctx, opts.Context) {
				e.logger.Info("recovery handler succeeded", "site", opts.Site, "kind", string(kind))
			}
		}

		if brErr := e.breaker.Allow(opts.Site); brErr != nil {
			return Result{Err: brErr, Kind: kind, Attempts: attempt}
		}
	}
}

// sleep waits for d or until ctx is done. Returns false on cancellation.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
