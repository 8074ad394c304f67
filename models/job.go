package models

import "time"

// JobRequest is the inbound description of a scraping job: which items to
// look up and which site configurations to run them against.
type JobRequest struct {
	JobID      string   `json:"job_id,omitempty"`
	SKUs       []string `json:"skus" binding:"required,min=1"`
	Scrapers   []string `json:"scrapers,omitempty"`
	TestMode   bool     `json:"test_mode,omitempty"`
	MaxWorkers int      `json:"max_workers,omitempty"`
}

// LogEntry is a single line in the job's log buffer. Timestamps are UTC and
// serialize with a Z suffix.
type LogEntry struct {
	Level     string    `json:"level"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Telemetry summarizes the lifecycle event stream of a job.
type Telemetry struct {
	Steps       int `json:"steps"`
	Selectors   int `json:"selectors"`
	Extractions int `json:"extractions"`
	Retries     int `json:"retries"`
}

// JobResult is the envelope returned when a job finishes. Data is keyed
// sku -> scraper -> field.
type JobResult struct {
	JobID         string                               `json:"job_id"`
	SKUsProcessed int                                  `json:"skus_processed"`
	ScrapersRun   []string                             `json:"scrapers_run"`
	Data          map[string]map[string]map[string]any `json:"data"`
	Logs          []LogEntry                           `json:"logs"`
	Telemetry     Telemetry                            `json:"telemetry"`
	StartedAt     time.Time                            `json:"started_at"`
	CompletedAt   time.Time                            `json:"completed_at"`
}

// Job lifecycle statuses reported by the jobs API.
const (
	JobStatusRunning   = "running"
	JobStatusCompleted = "completed"
	JobStatusFailed    = "failed"
)

// JobStatusResponse is the response for POST /api/v1/jobs and
// GET /api/v1/jobs/:id.
type JobStatusResponse struct {
	JobID  string       `json:"job_id"`
	Status string       `json:"status"`
	Result *JobResult   `json:"result,omitempty"`
	Error  *ErrorDetail `json:"error,omitempty"`
}

// HealthResponse is the response for GET /api/v1/health.
type HealthResponse struct {
	Status       string   `json:"status"`
	Uptime       string   `json:"uptime"`
	Version      string   `json:"version"`
	Scrapers     []string `json:"scrapers"`
	OpenBreakers []string `json:"open_breakers,omitempty"`
}

// StepError records a single step failure inside a workflow run.
type StepError struct {
	Step        int    `json:"step"`
	Action      string `json:"action"`
	ErrorType   string `json:"error_type"`
	Message     string `json:"message"`
	Recoverable bool   `json:"recoverable"`
}

// WorkflowResult is the outcome of executing one workflow for one item.
type WorkflowResult struct {
	Success       bool           `json:"success"`
	ConfigName    string         `json:"config_name"`
	Results       map[string]any `json:"results"`
	StepsExecuted int            `json:"steps_executed"`
	TotalSteps    int            `json:"total_steps"`
	NoResults     bool           `json:"no_results,omitempty"`
	Errors        []StepError    `json:"errors,omitempty"`
}
