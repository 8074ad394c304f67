package handler

import (
	"sync"
	"time"

	"github.com/sku-agent/prowl/models"
)

// jobEntry is one tracked job with its creation time for expiry.
type jobEntry struct {
	status    models.JobStatusResponse
	createdAt time.Time
}

// JobStore tracks in-flight and finished jobs for the API. Entries expire
// after the retention window so the store never grows without bound.
type JobStore struct {
	mu        sync.Mutex
	jobs      map[string]*jobEntry
	retention time.Duration
}

// NewJobStore creates a store keeping finished jobs for retention (default
// 1 hour) and starts the background sweep.
func NewJobStore(retention time.Duration) *JobStore {
	if retention <= 0 {
		retention = time.Hour
	}
	s := &JobStore{
		jobs:      make(map[string]*jobEntry),
		retention: retention,
	}
	go s.sweep()
	return s
}

func (s *JobStore) sweep() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for range ticker.C {
		cutoff := time.Now().Add(-s.retention)
		s.mu.Lock()
		for id, e := range s.jobs {
			if e.createdAt.Before(cutoff) {
				delete(s.jobs, id)
			}
		}
		s.mu.Unlock()
	}
}

// Create registers a job as running.
func (s *JobStore) Create(jobID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[jobID] = &jobEntry{
		status:    models.JobStatusResponse{JobID: jobID, Status: models.JobStatusRunning},
		createdAt: time.Now(),
	}
}

// Complete marks a job finished with its result envelope.
func (s *JobStore) Complete(jobID string, result *models.JobResult) {
	s.update(jobID, models.JobStatusResponse{
		JobID:  jobID,
		Status: models.JobStatusCompleted,
		Result: result,
	})
}

// Fail marks a job failed. A partial result may still be attached.
func (s *JobStore) Fail(jobID string, result *models.JobResult, detail *models.ErrorDetail) {
	s.update(jobID, models.JobStatusResponse{
		JobID:  jobID,
		Status: models.JobStatusFailed,
		Result: result,
		Error:  detail,
	})
}

func (s *JobStore) update(jobID string, status models.JobStatusResponse) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.jobs[jobID]; ok {
		e.status = status
		return
	}
	s.jobs[jobID] = &jobEntry{status: status, createdAt: time.Now()}
}

// Get returns a job's status.
func (s *JobStore) Get(jobID string) (models.JobStatusResponse, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.jobs[jobID]
	if !ok {
		return models.JobStatusResponse{}, false
	}
	return e.status, true
}
