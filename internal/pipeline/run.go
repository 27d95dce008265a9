package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/chapterize/internal/pipeline/domain"
)

// outcome is what a stage hands back to the dispatcher
type outcome int

const (
	// stageDone means the stage ran and the job moves on
	stageDone outcome = iota
	// stageSkipped means the cache already satisfied the stage
	stageSkipped
	// stageStop ends the job without a fault (credit denial)
	stageStop
)

type stageFunc func(ctx context.Context, job *domain.Job) (outcome, *domain.ProcessError)

// stages returns the stage handlers in order
func (o *Orchestrator) stages() []struct {
	stage domain.Stage
	run   stageFunc
} {
	return []struct {
		stage domain.Stage
		run   stageFunc
	}{
		{domain.StageServiceCheck, o.checkServices},
		{domain.StageAcquire, o.acquire},
		{domain.StageCacheCheck, o.checkCache},
		{domain.StageGate, o.gate},
		{domain.StageUpload, o.upload},
		{domain.StageTranscribe, o.transcribe},
		{domain.StageExtractChapters, o.extractChapters},
	}
}

// execute dispatches every stage from `from` onwards, then finalizes
func (o *Orchestrator) execute(ctx context.Context, job *domain.Job, from domain.Stage) (*domain.Result, error) {
	o.logger.Info("Job started",
		slog.String("job_id", job.ID),
		slog.String("source_url", job.SourceRef),
		slog.String("from_stage", from.String()),
	)

	for _, step := range o.stages() {
		if step.stage < from {
			continue
		}
		o.enter(job, step.stage)

		result, perr := step.run(ctx, job)
		if perr != nil {
			return nil, o.fail(ctx, job, perr)
		}

		switch result {
		case stageSkipped:
			job.StageSkipped[step.stage] = true
			o.logger.Info("Stage satisfied from cache",
				slog.String("job_id", job.ID),
				slog.String("stage", step.stage.String()),
			)
			o.progress(ctx, job, step.stage, 100)
		case stageStop:
			return job.Result, nil
		default:
			o.progress(ctx, job, step.stage, 100)
		}
	}

	return o.complete(ctx, job), nil
}

// enter advances the job to stage; stages never move backwards
func (o *Orchestrator) enter(job *domain.Job, stage domain.Stage) {
	if stage < job.Stage {
		return
	}
	job.Stage = stage
	o.logger.Debug("Entering stage",
		slog.String("job_id", job.ID),
		slog.String("stage", stage.String()),
	)
}

func (o *Orchestrator) complete(ctx context.Context, job *domain.Job) *domain.Result {
	o.enter(job, domain.StageComplete)

	fromCache := false
	for _, skipped := range job.StageSkipped {
		if skipped {
			fromCache = true
			break
		}
	}
	job.FromCache = fromCache

	elapsed := o.now().Sub(job.StartedAt)
	result := job.Result
	if result == nil {
		result = &domain.Result{}
	}
	result.JobID = job.ID
	result.Status = domain.JobStatusCompleted
	if job.Artifact != nil {
		result.ArtifactPath = job.Artifact.Path
	}
	if result.Chapters == nil {
		result.Chapters = []domain.Chapter{}
	}
	result.Elapsed = elapsed
	result.ElapsedLabel = ElapsedLabel(elapsed, fromCache)
	result.FromCache = fromCache

	job.Result = result
	job.Status = domain.JobStatusCompleted

	o.logger.Info("Job completed",
		slog.String("job_id", job.ID),
		slog.Int("chapters", len(result.Chapters)),
		slog.Duration("elapsed", elapsed),
		slog.Bool("from_cache", fromCache),
	)

	o.progress(ctx, job, domain.StageComplete, 100)
	o.emit(ctx, domain.Event{
		JobID:  job.ID,
		Type:   domain.EventComplete,
		Stage:  domain.StageComplete,
		Result: result,
	})
	return result
}

// deny ends the job with a user-facing notice instead of an error
func (o *Orchestrator) deny(ctx context.Context, job *domain.Job, decision domain.CreditDecision) {
	notice := &domain.Notice{
		Kind:    domain.KindCreditDenied,
		Reason:  decision.Reason,
		Cost:    decision.Required,
		Balance: decision.Available,
	}
	if decision.Reason == domain.DenyUnauthenticated {
		notice.Message = "Your session could not be validated. Sign in again to continue."
	} else {
		notice.Message = fmt.Sprintf("Insufficient credits: this video needs %.2f credits but only %.2f are available.",
			decision.Required, decision.Available)
	}

	job.Status = domain.JobStatusDenied
	job.FailedStage = job.Stage
	job.Result = &domain.Result{
		JobID:    job.ID,
		Status:   domain.JobStatusDenied,
		Chapters: []domain.Chapter{},
		Notice:   notice,
	}

	o.logger.Warn("Job denied by credit gate",
		slog.String("job_id", job.ID),
		slog.String("stage", job.Stage.String()),
		slog.String("reason", decision.Reason),
		slog.Float64("required", decision.Required),
		slog.Float64("available", decision.Available),
	)

	o.emit(ctx, domain.Event{
		JobID:   job.ID,
		Type:    domain.EventNotice,
		Stage:   job.Stage,
		Kind:    notice.Kind,
		Message: notice.Message,
		Result:  job.Result,
	})
}

func (o *Orchestrator) fail(ctx context.Context, job *domain.Job, perr *domain.ProcessError) error {
	job.Status = domain.JobStatusFailed
	job.FailedStage = perr.Stage
	job.Err = perr

	o.logger.Error("Job failed",
		slog.String("job_id", job.ID),
		slog.String("stage", perr.Stage.String()),
		slog.String("kind", string(perr.Kind)),
		slog.String("reason", perr.Reason),
		slog.String("classification", string(perr.Classification)),
		slog.String("error", perr.Message),
	)

	o.emit(ctx, domain.Event{
		JobID:          job.ID,
		Type:           domain.EventError,
		Stage:          perr.Stage,
		Message:        perr.Message,
		Kind:           perr.Kind,
		Classification: perr.Classification,
	})
	return perr
}

func (o *Orchestrator) progress(ctx context.Context, job *domain.Job, stage domain.Stage, percent float64) {
	o.emit(ctx, domain.Event{
		JobID:   job.ID,
		Type:    domain.EventProgress,
		Stage:   stage,
		Percent: percent,
	})
}

// emit blocks until the presentation loop takes the event or ctx ends
func (o *Orchestrator) emit(ctx context.Context, ev domain.Event) {
	if ev.Time.IsZero() {
		ev.Time = o.now()
	}
	select {
	case o.events <- ev:
	case <-ctx.Done():
		o.logger.Warn("Dropping job event",
			slog.String("job_id", ev.JobID),
			slog.String("type", string(ev.Type)),
			slog.String("error", ctx.Err().Error()),
		)
	}
}

// ElapsedLabel renders the elapsed wall-clock time of a job
func ElapsedLabel(elapsed time.Duration, fromCache bool) string {
	total := int(elapsed / time.Second)
	label := fmt.Sprintf("Processing time: %d minutes and %d seconds", total/60, total%60)
	if fromCache {
		label += " (cache)"
	}
	return label
}

// AsProcessError unwraps a pipeline fault from err
func AsProcessError(err error) (*domain.ProcessError, bool) {
	var perr *domain.ProcessError
	if errors.As(err, &perr) {
		return perr, true
	}
	return nil, false
}
