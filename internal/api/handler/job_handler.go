package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/cuongbtq/chapterize/internal/api/dto"
	"github.com/cuongbtq/chapterize/internal/api/tracker"
	"github.com/cuongbtq/chapterize/internal/media"
	"github.com/cuongbtq/chapterize/internal/pipeline"
	"github.com/cuongbtq/chapterize/internal/pipeline/domain"
	"github.com/cuongbtq/chapterize/internal/pipeline/health"
	"github.com/gin-gonic/gin"
)

// Health handles GET /health
func (h *JobHandler) Health(c *gin.Context) {
	if h.db != nil {
		if err := h.db.HealthCheck(c.Request.Context()); err != nil {
			h.logger.Error("Health check failed", slog.String("error", err.Error()))
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":  "unhealthy",
				"service": h.serviceName,
			})
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": h.serviceName,
	})
}

// ServicesStatus handles GET /api/v1/services/status
func (h *JobHandler) ServicesStatus(c *gin.Context) {
	statuses := h.health.CheckAll(c.Request.Context(), h.services)

	offline := health.Offline(statuses)
	if offline == nil {
		offline = []string{}
	}

	c.JSON(http.StatusOK, dto.ServicesStatusResponse{
		Services: statuses,
		Offline:  offline,
	})
}

// CreateJob handles POST /api/v1/jobs
func (h *JobHandler) CreateJob(c *gin.Context) {
	var req dto.CreateJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid request body"})
		return
	}

	if _, err := media.ExtractVideoID(req.SourceURL); err != nil {
		h.logger.Warn("Rejected source url",
			slog.String("source_url", req.SourceURL),
		)
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "source_url must contain a video id"})
		return
	}

	userID := req.UserID
	if userID == "" {
		userID = h.defaultUserID
	}

	jobID, err := h.jobs.Start(pipeline.Request{SourceURL: req.SourceURL, UserID: userID})
	if err != nil {
		if errors.Is(err, domain.ErrJobInProgress) {
			c.JSON(http.StatusConflict, dto.ErrorResponse{Error: err.Error()})
			return
		}
		h.logger.Error("Failed to start job", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "Failed to start job"})
		return
	}
	h.tracker.Begin(jobID)

	h.logger.Info("Job accepted",
		slog.String("job_id", jobID),
		slog.String("source_url", req.SourceURL),
		slog.String("user_id", userID),
	)

	c.JSON(http.StatusAccepted, dto.JobAcceptedResponse{
		JobID:  jobID,
		Status: tracker.StatusRunning,
	})
}

// RetryJob handles POST /api/v1/jobs/retry
func (h *JobHandler) RetryJob(c *gin.Context) {
	var req dto.RetryJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid request body"})
		return
	}

	stage, err := domain.ParseStage(req.Stage)
	if err != nil || stage == domain.StageComplete {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "unknown stage: " + req.Stage})
		return
	}

	jobID, err := h.jobs.StartRetry(stage)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrJobInProgress):
			c.JSON(http.StatusConflict, dto.ErrorResponse{Error: err.Error()})
		case errors.Is(err, domain.ErrNothingToRetry), errors.Is(err, domain.ErrInvalidRetryStage):
			c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error()})
		default:
			h.logger.Error("Failed to retry job", slog.String("error", err.Error()))
			c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "Failed to retry job"})
		}
		return
	}
	h.tracker.Begin(jobID)

	h.logger.Info("Job retry accepted",
		slog.String("job_id", jobID),
		slog.String("stage", stage.String()),
	)

	c.JSON(http.StatusAccepted, dto.JobAcceptedResponse{
		JobID:  jobID,
		Status: tracker.StatusRunning,
		Stage:  stage.String(),
	})
}

// CurrentJob handles GET /api/v1/jobs/current
func (h *JobHandler) CurrentJob(c *gin.Context) {
	snap, ok := h.tracker.Current()
	if !ok {
		c.JSON(http.StatusNotFound, dto.ErrorResponse{Error: "no job has been submitted"})
		return
	}

	c.JSON(http.StatusOK, toJobDTO(snap))
}

func toJobDTO(snap tracker.Snapshot) dto.JobDTO {
	out := dto.JobDTO{
		JobID:     snap.JobID,
		Stage:     snap.Stage.String(),
		Percent:   snap.Percent,
		Status:    snap.Status,
		Notice:    snap.Notice,
		Result:    snap.Result,
		UpdatedAt: dto.FormatTime(snap.UpdatedAt),
	}
	if snap.Error != nil {
		out.Error = &dto.JobErrorDTO{
			Stage:          snap.Error.Stage.String(),
			Kind:           string(snap.Error.Kind),
			Classification: string(snap.Error.Classification),
			Message:        snap.Error.Message,
		}
	}
	return out
}
