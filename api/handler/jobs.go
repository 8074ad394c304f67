package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/sku-agent/prowl/coordinator"
	"github.com/sku-agent/prowl/events"
	"github.com/sku-agent/prowl/models"
	"github.com/sku-agent/prowl/runner"
)

// PostJob returns a handler for POST /api/v1/jobs. The job runs in the
// background; the response carries the job id for polling. When a
// coordinator callback is configured the final envelope is also delivered
// there.
func PostJob(r *runner.Runner, store *JobStore, coord *coordinator.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.JobRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, models.NewErrorResponse(models.ErrCodeInvalidInput, err.Error()))
			return
		}

		if req.JobID == "" {
			req.JobID = "job_" + uuid.NewString()
		}
		store.Create(req.JobID)

		go runJob(r, store, coord, req)

		c.JSON(http.StatusAccepted, models.JobStatusResponse{
			JobID:  req.JobID,
			Status: models.JobStatusRunning,
		})
	}
}

// runJob executes one accepted job to completion in the background.
func runJob(r *runner.Runner, store *JobStore, coord *coordinator.Client, req models.JobRequest) {
	result, err := r.Run(context.Background(), req)
	if err != nil {
		slog.Error("job failed", "job_id", req.JobID, "error", err)
		store.Fail(req.JobID, result, errorDetail(err))
		coord.DeliverAsync(&coordinator.Callback{
			JobID:        req.JobID,
			Status:       models.JobStatusFailed,
			ErrorMessage: err.Error(),
			Results:      result,
		})
		return
	}

	store.Complete(req.JobID, result)
	coord.DeliverAsync(&coordinator.Callback{
		JobID:   req.JobID,
		Status:  models.JobStatusCompleted,
		Results: result,
	})
}

func errorDetail(err error) *models.ErrorDetail {
	var je *models.JobError
	if errors.As(err, &je) {
		return je.ToDetail()
	}
	return &models.ErrorDetail{Code: models.ErrCodeJobFailed, Message: err.Error()}
}

// GetJob returns a handler for GET /api/v1/jobs/:id.
func GetJob(store *JobStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		status, ok := store.Get(c.Param("id"))
		if !ok {
			c.JSON(http.StatusNotFound, models.NewErrorResponse(models.ErrCodeInvalidInput, "job not found"))
			return
		}
		c.JSON(http.StatusOK, status)
	}
}

// GetJobEvents returns a handler for GET /api/v1/jobs/:id/events, serving
// the buffered lifecycle events for one job.
func GetJobEvents(bus *events.Bus) gin.HandlerFunc {
	return func(c *gin.Context) {
		jobID := c.Param("id")
		c.JSON(http.StatusOK, gin.H{
			"job_id": jobID,
			"events": bus.Events(jobID),
		})
	}
}
