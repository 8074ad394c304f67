package events

import (
	"time"
)

// SelectorResult is the per-selector resolution detail attached to
// step.completed events and selector.resolved events.
type SelectorResult struct {
	Value     string `json:"value"`
	Found     bool   `json:"found"`
	Count     int    `json:"count"`
	Attribute string `json:"attribute,omitempty"`
	Error     string `json:"error,omitempty"`
}

// ExtractionResult is the per-field extraction detail attached to
// step.completed events and extraction.completed events.
type ExtractionResult struct {
	Value      any     `json:"value"`
	Status     string  `json:"status"`
	Confidence float64 `json:"confidence"`
	Error      string  `json:"error,omitempty"`
}

// StepInfo identifies one workflow step inside event payloads.
type StepInfo struct {
	Site       string
	SKU        string
	Index      int
	Action     string
	Name       string
	RetryCount int
	MaxRetries int
}

// Emitter publishes lifecycle events for one job. Job and item level events
// use the legacy v1 schema; step, selector and extraction events the v2
// schema. A nil Emitter is valid and drops everything, so execution paths
// never need nil checks.
type Emitter struct {
	bus   *Bus
	jobID string
}

// NewEmitter binds a bus to a job.
func NewEmitter(bus *Bus, jobID string) *Emitter {
	return &Emitter{bus: bus, jobID: jobID}
}

func (em *Emitter) emit(typ Type, severity string, data map[string]any, v2 bool) {
	if em == nil || em.bus == nil {
		return
	}
	em.bus.Emit(newEvent(typ, em.jobID, severity, data, v2))
}

// JobStarted announces the job.
func (em *Emitter) JobStarted(totalSKUs int, scrapers []string) {
	em.emit(TypeJobStarted, SeverityInfo, map[string]any{
		"total_skus": totalSKUs,
		"scrapers":   scrapers,
	}, false)
}

// JobCompleted announces the final envelope counts.
func (em *Emitter) JobCompleted(processed int, durationSec float64) {
	em.emit(TypeJobCompleted, SeverityInfo, map[string]any{
		"skus_processed":   processed,
		"duration_seconds": durationSec,
	}, false)
}

// JobFailed announces a job-level abort.
func (em *Emitter) JobFailed(reason string) {
	em.emit(TypeJobFailed, SeverityError, map[string]any{
		"reason": reason,
	}, false)
}

// SKUStarted announces work beginning on one item at one site.
func (em *Emitter) SKUStarted(sku, scraper string) {
	em.emit(TypeSKUStarted, SeverityInfo, map[string]any{
		"sku":     sku,
		"scraper": scraper,
	}, false)
}

// SKUSuccess announces extracted fields for one item.
func (em *Emitter) SKUSuccess(sku, scraper string, fields int) {
	em.emit(TypeSKUSuccess, SeverityInfo, map[string]any{
		"sku":     sku,
		"scraper": scraper,
		"fields":  fields,
	}, false)
}

// SKUFailed announces a per-item failure.
func (em *Emitter) SKUFailed(sku, scraper, errMsg string) {
	em.emit(TypeSKUFailed, SeverityError, map[string]any{
		"sku":     sku,
		"scraper": scraper,
		"error":   errMsg,
	}, false)
}

// SKUNoResults announces a terminal-but-expected empty outcome.
func (em *Emitter) SKUNoResults(sku, scraper string) {
	em.emit(TypeSKUNoResults, SeverityInfo, map[string]any{
		"sku":     sku,
		"scraper": scraper,
	}, false)
}

func stepData(info StepInfo, status string) map[string]any {
	return map[string]any{
		"scraper": info.Site,
		"sku":     info.SKU,
		"step": map[string]any{
			"index":       info.Index,
			"action":      info.Action,
			"name":        info.Name,
			"status":      status,
			"retry_count": info.RetryCount,
			"max_retries": info.MaxRetries,
		},
	}
}

func timing(startedAt, completedAt time.Time) map[string]any {
	d := completedAt.Sub(startedAt)
	return map[string]any{
		"started_at":       startedAt.UTC().Format(time.RFC3339Nano),
		"completed_at":     completedAt.UTC().Format(time.RFC3339Nano),
		"duration_ms":      d.Milliseconds(),
		"duration_seconds": d.Seconds(),
	}
}

// StepStarted marks a step beginning. Retries inside the step do not emit
// further step.started events.
func (em *Emitter) StepStarted(info StepInfo) {
	em.emit(TypeStepStarted, SeverityInfo, stepData(info, "running"), true)
}

// StepCompleted marks a successful step with its timing and any selector or
// extraction detail gathered during execution.
func (em *Emitter) StepCompleted(info StepInfo, startedAt, completedAt time.Time, selectors map[string]SelectorResult, extraction map[string]ExtractionResult) {
	data := stepData(info, "completed")
	data["timing"] = timing(startedAt, completedAt)
	if len(selectors) > 0 {
		data["selectors"] = selectors
	}
	if len(extraction) > 0 {
		data["extraction"] = extraction
	}
	em.emit(TypeStepCompleted, SeverityInfo, data, true)
}

// StepFailed marks a step whose retry budget is exhausted.
func (em *Emitter) StepFailed(info StepInfo, startedAt, completedAt time.Time, errMsg string, retryable bool) {
	data := stepData(info, "failed")
	data["timing"] = timing(startedAt, completedAt)
	data["error"] = map[string]any{
		"message":   errMsg,
		"retryable": retryable,
	}
	em.emit(TypeStepFailed, SeverityError, data, true)
}

// StepSkipped marks a step bypassed by a conditional or an authenticated
// session.
func (em *Emitter) StepSkipped(info StepInfo, reason string) {
	data := stepData(info, "skipped")
	data["reason"] = reason
	em.emit(TypeStepSkipped, SeverityWarning, data, true)
}

// SelectorResolved records one selector lookup.
func (em *Emitter) SelectorResolved(site, sku, name string, res SelectorResult) {
	data := map[string]any{
		"scraper": site,
		"sku":     sku,
		"selector": map[string]any{
			"name":      name,
			"value":     res.Value,
			"found":     res.Found,
			"count":     res.Count,
			"attribute": res.Attribute,
			"error":     res.Error,
		},
	}
	sev := SeverityDebug
	if !res.Found {
		sev = SeverityWarning
	}
	em.emit(TypeSelectorResolved, sev, data, true)
}

// ExtractionCompleted records one field extraction.
func (em *Emitter) ExtractionCompleted(site, sku, field string, res ExtractionResult) {
	data := map[string]any{
		"scraper": site,
		"sku":     sku,
		"extraction": map[string]any{
			"field_name": field,
			"value":      res.Value,
			"status":     res.Status,
			"confidence": res.Confidence,
			"error":      res.Error,
		},
	}
	sev := SeverityInfo
	if res.Status != "success" {
		sev = SeverityWarning
	}
	em.emit(TypeExtractionCompleted, sev, data, true)
}
