package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sku-agent/prowl/browser"
	"github.com/sku-agent/prowl/config"
	"github.com/sku-agent/prowl/events"
	"github.com/sku-agent/prowl/metrics"
	"github.com/sku-agent/prowl/models"
	"github.com/sku-agent/prowl/probe"
	"github.com/sku-agent/prowl/retry"
	"github.com/sku-agent/prowl/scraper"
)

// Options wire a Runner's collaborators. Strategy and Breaker are the
// process-wide instances shared by every workflow executor the runner
// spawns.
type Options struct {
	Configs   map[string]*config.ScraperConfig
	Registry  *scraper.Registry
	Strategy  *retry.Strategy
	Breaker   *retry.Breaker
	Bus       *events.Bus
	Metrics   *metrics.Collector
	Prober    *probe.Prober
	Cache     *Cache
	Logger    *slog.Logger
	NewDriver func(cfg *config.ScraperConfig) (browser.Driver, error)

	MaxWorkers     int
	StepTimeout    time.Duration
	SessionTimeout time.Duration
	PollInterval   time.Duration
	OutputDir      string
}

// Runner executes jobs: for each requested site it fans the item list out
// over a pool of workflow executors, each owning its own browser, and folds
// the per-item outcomes into the job result envelope. Sites run one after
// another; items within a site run concurrently.
type Runner struct {
	opts   Options
	logger *slog.Logger
}

// New builds a runner.
func New(opts Options) (*Runner, error) {
	if len(opts.Configs) == 0 {
		return nil, errors.New("runner: no scraper configs loaded")
	}
	if opts.NewDriver == nil {
		return nil, errors.New("runner: NewDriver is required")
	}
	if opts.Registry == nil {
		opts.Registry = scraper.NewRegistry()
	}
	if opts.MaxWorkers <= 0 {
		opts.MaxWorkers = 3
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Bus == nil {
		opts.Bus, _ = events.NewBus(0, "", logger)
	}
	if opts.Strategy == nil {
		opts.Strategy = retry.NewStrategy("")
	}
	if opts.Breaker == nil {
		opts.Breaker = retry.NewBreaker(retry.DefaultBreakerConfig())
	}

	// Reject configs referencing unknown actions before any job runs.
	known := opts.Registry.Kinds()
	for _, cfg := range opts.Configs {
		if err := cfg.Validate(known); err != nil {
			return nil, err
		}
	}
	return &Runner{opts: opts, logger: logger}, nil
}

// jobState carries everything shared across one job's workers.
type jobState struct {
	mu        sync.Mutex
	jobID     string
	emitter   *events.Emitter
	collector *Collector
	logs      []models.LogEntry
	processed int
	fatal     error
	cancel    context.CancelFunc
}

func (j *jobState) logf(level slog.Level, format string, args ...any) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.logs = append(j.logs, models.LogEntry{
		Level:     level.String(),
		Message:   fmt.Sprintf(format, args...),
		Timestamp: time.Now().UTC(),
	})
}

// abort records the first fatal error and cancels the whole job.
func (j *jobState) abort(err error) {
	j.mu.Lock()
	if j.fatal == nil {
		j.fatal = err
	}
	j.mu.Unlock()
	j.cancel()
}

func (j *jobState) fatalErr() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.fatal
}

func (j *jobState) addProcessed() {
	j.mu.Lock()
	j.processed++
	j.mu.Unlock()
}

// Run executes one job to completion and returns the result envelope. The
// envelope is populated even when err is non-nil, so callers always get the
// per-item data and logs gathered before the failure.
func (r *Runner) Run(ctx context.Context, req models.JobRequest) (*models.JobResult, error) {
	jobID := req.JobID
	if jobID == "" {
		jobID = "job_" + uuid.NewString()
	}
	startedAt := time.Now().UTC()

	configs, err := r.selectConfigs(req.Scrapers)
	if err != nil {
		return nil, err
	}
	skus := r.selectSKUs(req, configs)

	jobCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	job := &jobState{
		jobID:     jobID,
		emitter:   events.NewEmitter(r.opts.Bus, jobID),
		collector: NewCollector(r.opts.OutputDir, req.TestMode),
		cancel:    cancel,
	}

	tel, unsubscribe := r.trackTelemetry(jobID)
	defer unsubscribe()

	names := make([]string, len(configs))
	for i, cfg := range configs {
		names[i] = cfg.Name
	}
	job.emitter.JobStarted(len(skus), names)
	job.logf(slog.LevelInfo, "job started: %d skus, %d scrapers, test_mode=%v", len(skus), len(configs), req.TestMode)

	if len(skus) == 0 {
		job.logf(slog.LevelWarn, "no skus to process")
	}

	for _, cfg := range configs {
		if jobCtx.Err() != nil {
			break
		}
		r.runSite(jobCtx, job, cfg, skus, req)
	}

	completedAt := time.Now().UTC()
	result := &models.JobResult{
		JobID:         jobID,
		SKUsProcessed: job.processed,
		ScrapersRun:   names,
		Data:          job.collector.Data(),
		Logs:          job.logs,
		Telemetry:     tel.snapshot(),
		StartedAt:     startedAt,
		CompletedAt:   completedAt,
	}
	r.opts.Metrics.ObserveJob(completedAt.Sub(startedAt))

	if path, ferr := job.collector.Flush(jobID); ferr != nil {
		r.logger.Warn("session file write failed", "job_id", jobID, "error", ferr)
	} else if path != "" {
		r.logger.Info("session file written", "job_id", jobID, "path", path)
	}
	if serr := r.opts.Strategy.Save(); serr != nil {
		r.logger.Warn("retry history save failed", "error", serr)
	}

	if fatal := job.fatalErr(); fatal != nil {
		job.emitter.JobFailed(fatal.Error())
		return result, fatal
	}
	if err := ctx.Err(); err != nil {
		job.emitter.JobFailed("job cancelled")
		return result, models.ErrCancelled
	}

	job.emitter.JobCompleted(job.processed, completedAt.Sub(startedAt).Seconds())
	r.logger.Info("job complete", "job_id", jobID, "skus_processed", job.processed)
	return result, nil
}

// selectConfigs resolves the requested scraper names, or all configs in
// name order when the request names none.
func (r *Runner) selectConfigs(requested []string) ([]*config.ScraperConfig, error) {
	if len(requested) == 0 {
		names := make([]string, 0, len(r.opts.Configs))
		for name := range r.opts.Configs {
			names = append(names, name)
		}
		sort.Strings(names)
		out := make([]*config.ScraperConfig, len(names))
		for i, name := range names {
			out[i] = r.opts.Configs[name]
		}
		return out, nil
	}

	out := make([]*config.ScraperConfig, 0, len(requested))
	for _, name := range requested {
		cfg, ok := r.opts.Configs[name]
		if !ok {
			return nil, models.NewJobError(models.ErrCodeInvalidConfig,
				fmt.Sprintf("unknown scraper %q", name), nil)
		}
		out = append(out, cfg)
	}
	return out, nil
}

// selectSKUs returns the job's item list. A test-mode job without explicit
// items falls back to the configs' declared test items.
func (r *Runner) selectSKUs(req models.JobRequest, configs []*config.ScraperConfig) []string {
	if len(req.SKUs) > 0 || !req.TestMode {
		return req.SKUs
	}
	seen := map[string]bool{}
	var skus []string
	for _, cfg := range configs {
		for _, sku := range cfg.TestSKUs {
			if !seen[sku] {
				seen[sku] = true
				skus = append(skus, sku)
			}
		}
	}
	return skus
}

// runSite processes every item for one site through a bounded worker pool.
// Each worker owns one browser for its whole lifetime.
func (r *Runner) runSite(ctx context.Context, job *jobState, cfg *config.ScraperConfig, skus []string, req models.JobRequest) {
	if len(skus) == 0 {
		return
	}
	workers := req.MaxWorkers
	if workers <= 0 || workers > r.opts.MaxWorkers {
		workers = r.opts.MaxWorkers
	}
	if workers > len(skus) {
		workers = len(skus)
	}

	r.logger.Info("scraper starting", "site", cfg.Name, "skus", len(skus), "workers", workers)
	queue := make(chan string)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r.siteWorker(ctx, job, cfg, queue, req.TestMode, worker)
		}(i)
	}

	for _, sku := range skus {
		select {
		case queue <- sku:
		case <-ctx.Done():
		}
		if ctx.Err() != nil {
			break
		}
	}
	close(queue)
	wg.Wait()
}

func (r *Runner) siteWorker(ctx context.Context, job *jobState, cfg *config.ScraperConfig, queue <-chan string, testMode bool, worker int) {
	logger := r.logger.With("site", cfg.Name, "worker", worker)

	driver, err := r.opts.NewDriver(cfg)
	if err != nil {
		logger.Error("browser launch failed", "error", err)
		job.logf(slog.LevelError, "%s: browser launch failed: %v", cfg.Name, err)
		// Keep receiving so the feeder never blocks on a dead pool; every
		// item this worker would have handled is reported as failed.
		for sku := range queue {
			if ctx.Err() != nil {
				continue
			}
			job.emitter.SKUFailed(sku, cfg.Name, fmt.Sprintf("browser launch failed: %v", err))
			r.opts.Metrics.ObserveSKU(cfg.Name, "failed")
		}
		return
	}

	exec := scraper.NewWorkflowExecutor(cfg, scraper.WorkflowOptions{
		Driver:         driver,
		Registry:       r.opts.Registry,
		Strategy:       r.opts.Strategy,
		Breaker:        r.opts.Breaker,
		Emitter:        job.emitter,
		Metrics:        r.opts.Metrics,
		Prober:         r.opts.Prober,
		Logger:         logger,
		StepTimeout:    r.opts.StepTimeout,
		SessionTimeout: r.opts.SessionTimeout,
		PollInterval:   r.opts.PollInterval,
	})
	defer func() {
		if cerr := exec.Close(); cerr != nil {
			logger.Warn("browser teardown failed", "error", cerr)
		}
	}()

	for sku := range queue {
		if ctx.Err() != nil {
			return
		}
		r.runItem(ctx, job, exec, cfg, sku, testMode, logger)
	}
}

func (r *Runner) runItem(ctx context.Context, job *jobState, exec *scraper.WorkflowExecutor, cfg *config.ScraperConfig, sku string, testMode bool, logger *slog.Logger) {
	if fields, ok := r.opts.Cache.Get(cfg.Name, sku); ok {
		logger.Info("cache hit", "sku", sku)
		job.collector.Add(sku, cfg.Name, fields)
		job.addProcessed()
		job.emitter.SKUSuccess(sku, cfg.Name, len(fields))
		r.opts.Metrics.ObserveSKU(cfg.Name, "cached")
		return
	}

	job.emitter.SKUStarted(sku, cfg.Name)
	res, err := exec.Execute(ctx, map[string]any{"sku": sku, "test_mode": testMode})

	switch {
	case err == nil:
		job.addProcessed()
		fields := extractedFields(res.Results)
		if res.NoResults || len(fields) == 0 {
			logger.Info("no data found", "sku", sku)
			job.logf(slog.LevelInfo, "%s/%s: no results", cfg.Name, sku)
			job.emitter.SKUNoResults(sku, cfg.Name)
			r.opts.Metrics.ObserveSKU(cfg.Name, "no_results")
			return
		}
		job.collector.Add(sku, cfg.Name, fields)
		r.opts.Cache.Put(cfg.Name, sku, fields)
		job.logf(slog.LevelInfo, "%s/%s: extracted %d fields", cfg.Name, sku, len(fields))
		job.emitter.SKUSuccess(sku, cfg.Name, len(fields))
		r.opts.Metrics.ObserveSKU(cfg.Name, "success")

	case errors.Is(err, models.ErrCancelled) || ctx.Err() != nil:
		logger.Info("item cancelled", "sku", sku)

	case isCircuitOpen(err):
		// Backing off the whole site: stop the job, not just this item.
		logger.Error("circuit open, aborting job", "sku", sku, "error", err)
		job.logf(slog.LevelError, "%s: circuit breaker open, aborting job", cfg.Name)
		job.emitter.SKUFailed(sku, cfg.Name, err.Error())
		r.opts.Metrics.ObserveSKU(cfg.Name, "circuit_open")
		job.abort(models.NewJobError(models.ErrCodeCircuitOpen, err.Error(), err))

	default:
		logger.Warn("workflow failed", "sku", sku, "error", err)
		job.logf(slog.LevelWarn, "%s/%s: %v", cfg.Name, sku, err)
		job.emitter.SKUFailed(sku, cfg.Name, err.Error())
		r.opts.Metrics.ObserveSKU(cfg.Name, "failed")
	}
}

func isCircuitOpen(err error) bool {
	var coe *retry.CircuitOpenError
	return errors.As(err, &coe)
}

// contextKeys are run inputs merged into results that are not extracted
// data, along with bookkeeping flags actions write.
var contextKeys = map[string]bool{
	"sku":              true,
	"test_mode":        true,
	"no_results_found": true,
	"captcha_detected": true,
}

// extractedFields strips run context and bookkeeping flags, leaving only
// the data the workflow extracted.
func extractedFields(results map[string]any) map[string]any {
	out := make(map[string]any, len(results))
	for k, v := range results {
		if contextKeys[k] {
			continue
		}
		out[k] = v
	}
	return out
}

// telemetryCounter folds one job's event stream into envelope counts.
type telemetryCounter struct {
	mu          sync.Mutex
	steps       int
	selectors   int
	extractions int
	retries     int
}

func (t *telemetryCounter) snapshot() models.Telemetry {
	t.mu.Lock()
	defer t.mu.Unlock()
	return models.Telemetry{
		Steps:       t.steps,
		Selectors:   t.selectors,
		Extractions: t.extractions,
		Retries:     t.retries,
	}
}

func (r *Runner) trackTelemetry(jobID string) (*telemetryCounter, func()) {
	t := &telemetryCounter{}
	unsubscribe := r.opts.Bus.Subscribe(func(e events.Event) {
		if e.JobID != jobID {
			return
		}
		t.mu.Lock()
		defer t.mu.Unlock()
		switch e.Type {
		case events.TypeStepCompleted, events.TypeStepFailed, events.TypeStepSkipped:
			t.steps++
			if step, ok := e.Data["step"].(map[string]any); ok {
				if rc, ok := step["retry_count"].(int); ok {
					t.retries += rc
				}
			}
		case events.TypeSelectorResolved:
			t.selectors++
		case events.TypeExtractionCompleted:
			t.extractions++
		}
	})
	return t, unsubscribe
}
