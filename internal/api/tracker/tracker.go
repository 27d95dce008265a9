package tracker

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/cuongbtq/chapterize/internal/pipeline/domain"
)

// Snapshot statuses
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusDenied    = "denied"
)

// Publisher forwards serialized events to the message broker
type Publisher interface {
	PublishWithRetry(ctx context.Context, body []byte, contentType string) error
}

// Failure is the fault of a failed job
type Failure struct {
	Stage          domain.Stage
	Kind           domain.Kind
	Classification domain.Classification
	Message        string
}

// Snapshot is the latest known state of the current job
type Snapshot struct {
	JobID     string
	Stage     domain.Stage
	Percent   float64
	Status    string
	Error     *Failure
	Notice    *domain.Notice
	Result    *domain.Result
	UpdatedAt time.Time
}

// Config holds tracker dependencies
type Config struct {
	Logger *slog.Logger
	Events <-chan domain.Event
	// Publisher is optional; nil keeps events in-process
	Publisher Publisher
}

// Tracker drains orchestrator events, keeps the current job snapshot and
// forwards every event to the broker
type Tracker struct {
	logger    *slog.Logger
	events    <-chan domain.Event
	publisher Publisher
	now       func() time.Time

	mu       sync.RWMutex
	snapshot *Snapshot
}

// New creates a new Tracker
func New(cfg *Config) *Tracker {
	return &Tracker{
		logger:    cfg.Logger,
		events:    cfg.Events,
		publisher: cfg.Publisher,
		now:       time.Now,
	}
}

// Run consumes events until ctx is done or the event channel closes
func (t *Tracker) Run(ctx context.Context) {
	t.logger.Info("Event tracker started",
		slog.Bool("forwarding", t.publisher != nil),
	)
	defer t.logger.Info("Event tracker stopped")

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-t.events:
			if !ok {
				return
			}
			t.Apply(ev)
			t.forward(ctx, ev)
		}
	}
}

// Begin resets the snapshot for a job that has been accepted but has not
// emitted anything yet
func (t *Tracker) Begin(jobID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	// events may already have arrived for this run
	if t.snapshot != nil && t.snapshot.JobID == jobID && t.snapshot.Status == StatusRunning {
		return
	}
	t.snapshot = &Snapshot{
		JobID:     jobID,
		Status:    StatusRunning,
		UpdatedAt: t.now(),
	}
}

// Current returns a copy of the latest snapshot
func (t *Tracker) Current() (Snapshot, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.snapshot == nil {
		return Snapshot{}, false
	}
	return *t.snapshot, true
}

// Apply folds one event into the snapshot
func (t *Tracker) Apply(ev domain.Event) {
	t.mu.Lock()
	defer t.mu.Unlock()

	snap := t.snapshot
	if snap == nil || snap.JobID != ev.JobID {
		snap = &Snapshot{JobID: ev.JobID, Status: StatusRunning}
		t.snapshot = snap
	}
	snap.UpdatedAt = ev.Time
	if snap.UpdatedAt.IsZero() {
		snap.UpdatedAt = t.now()
	}

	switch ev.Type {
	case domain.EventProgress:
		snap.Stage = ev.Stage
		snap.Percent = ev.Percent
		// a retry reuses the job id after a terminal state
		if snap.Status != StatusRunning && ev.Stage != domain.StageComplete {
			snap.Status = StatusRunning
			snap.Error = nil
			snap.Notice = nil
			snap.Result = nil
		}
	case domain.EventError:
		snap.Stage = ev.Stage
		snap.Status = StatusFailed
		snap.Error = &Failure{
			Stage:          ev.Stage,
			Kind:           ev.Kind,
			Classification: ev.Classification,
			Message:        ev.Message,
		}
	case domain.EventNotice:
		snap.Notice = &domain.Notice{Kind: ev.Kind, Message: ev.Message}
		if ev.Result != nil {
			if ev.Result.Notice != nil {
				snap.Notice = ev.Result.Notice
			}
			if ev.Result.Status == domain.JobStatusDenied {
				snap.Stage = ev.Stage
				snap.Status = StatusDenied
				snap.Result = ev.Result
			}
		}
	case domain.EventComplete:
		snap.Stage = domain.StageComplete
		snap.Percent = 100
		snap.Status = StatusCompleted
		snap.Result = ev.Result
		if ev.Result != nil && ev.Result.Notice != nil {
			snap.Notice = ev.Result.Notice
		}
	}
}

func (t *Tracker) forward(ctx context.Context, ev domain.Event) {
	if t.publisher == nil {
		return
	}

	body, err := json.Marshal(ev)
	if err != nil {
		t.logger.Error("Failed to encode job event",
			slog.String("job_id", ev.JobID),
			slog.Any("error", err),
		)
		return
	}

	if err := t.publisher.PublishWithRetry(ctx, body, "application/json"); err != nil {
		t.logger.Error("Failed to forward job event",
			slog.String("job_id", ev.JobID),
			slog.String("type", string(ev.Type)),
			slog.Any("error", err),
		)
	}
}
