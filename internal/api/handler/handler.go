package handler

import (
	"context"
	"log/slog"

	"github.com/cuongbtq/chapterize/internal/api/tracker"
	"github.com/cuongbtq/chapterize/internal/pipeline"
	"github.com/cuongbtq/chapterize/internal/pipeline/domain"
)

// JobRunner starts jobs and retries in the background
type JobRunner interface {
	Start(req pipeline.Request) (string, error)
	StartRetry(stage domain.Stage) (string, error)
}

// JobTracker exposes the current job snapshot
type JobTracker interface {
	Begin(jobID string)
	Current() (tracker.Snapshot, bool)
}

// HealthChecker probes the remote services
type HealthChecker interface {
	CheckAll(ctx context.Context, services []domain.Service) []domain.ServiceStatus
}

// DBChecker verifies the credit database
type DBChecker interface {
	HealthCheck(ctx context.Context) error
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger      *slog.Logger
	ServiceName string
	Jobs        JobRunner
	Tracker     JobTracker
	Health      HealthChecker
	Services    []domain.Service
	// DB is optional
	DB DBChecker
	// DefaultUserID is charged when a request names no user
	DefaultUserID string
}

// JobHandler handles job-related HTTP requests
type JobHandler struct {
	logger        *slog.Logger
	serviceName   string
	jobs          JobRunner
	tracker       JobTracker
	health        HealthChecker
	services      []domain.Service
	db            DBChecker
	defaultUserID string
}

// NewJobHandler creates a new JobHandler instance
func NewJobHandler(deps *Dependencies) *JobHandler {
	return &JobHandler{
		logger:        deps.Logger,
		serviceName:   deps.ServiceName,
		jobs:          deps.Jobs,
		tracker:       deps.Tracker,
		health:        deps.Health,
		services:      deps.Services,
		db:            deps.DB,
		defaultUserID: deps.DefaultUserID,
	}
}
