package events

import (
	"time"

	"github.com/google/uuid"
)

// Event types emitted over a job's lifecycle. Job and item level events keep
// the legacy v1 shape; step, selector and extraction events are v2.
type Type string

const (
	TypeJobStarted   Type = "job.started"
	TypeJobCompleted Type = "job.completed"
	TypeJobFailed    Type = "job.failed"

	TypeSKUStarted   Type = "sku.started"
	TypeSKUSuccess   Type = "sku.success"
	TypeSKUFailed    Type = "sku.failed"
	TypeSKUNoResults Type = "sku.no_results"

	TypeStepStarted   Type = "step.started"
	TypeStepCompleted Type = "step.completed"
	TypeStepFailed    Type = "step.failed"
	TypeStepSkipped   Type = "step.skipped"

	TypeSelectorResolved    Type = "selector.resolved"
	TypeExtractionCompleted Type = "extraction.completed"
)

// Severity levels for events.
const (
	SeverityDebug   = "debug"
	SeverityInfo    = "info"
	SeverityWarning = "warning"
	SeverityError   = "error"
)

// schemaV2 is the version string carried by v2 events. Version "" means v1;
// v1 events omit the field from their serialized form entirely, which is how
// legacy consumers distinguish the schemas.
const schemaV2 = "2.0"

// Event is one lifecycle event. All timestamps are UTC.
type Event struct {
	Type      Type           `json:"event_type"`
	Timestamp time.Time      `json:"timestamp"`
	JobID     string         `json:"job_id"`
	EventID   string         `json:"event_id"`
	Severity  string         `json:"severity"`
	Data      map[string]any `json:"data"`
	Version   string         `json:"version,omitempty"`
}

// SchemaVersion returns "1.0" for legacy events and the carried version
// otherwise.
func (e Event) SchemaVersion() string {
	if e.Version == "" {
		return "1.0"
	}
	return e.Version
}

func newEvent(typ Type, jobID, severity string, data map[string]any, v2 bool) Event {
	if data == nil {
		data = map[string]any{}
	}
	e := Event{
		Type:      typ,
		Timestamp: time.Now().UTC(),
		JobID:     jobID,
		EventID:   "evt_" + uuid.NewString(),
		Severity:  severity,
		Data:      data,
	}
	if v2 {
		e.Version = schemaV2
	}
	return e
}
