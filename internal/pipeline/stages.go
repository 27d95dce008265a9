package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/cuongbtq/chapterize/internal/pipeline/credit"
	"github.com/cuongbtq/chapterize/internal/pipeline/domain"
	"github.com/cuongbtq/chapterize/internal/pipeline/health"
	"github.com/cuongbtq/chapterize/internal/pipeline/poller"
)

const chaptersCompleted = "completed"

func (o *Orchestrator) checkServices(ctx context.Context, job *domain.Job) (outcome, *domain.ProcessError) {
	if len(o.services) == 0 {
		return stageDone, nil
	}
	o.progress(ctx, job, domain.StageServiceCheck, 0)

	offline := health.Offline(o.health.CheckAll(ctx, o.services))
	if len(offline) > 0 {
		return 0, &domain.ProcessError{
			Stage:          domain.StageServiceCheck,
			Kind:           domain.KindServiceUnavailable,
			Message:        "The following services are offline: " + strings.Join(offline, ", "),
			Classification: domain.ClassTerminal,
		}
	}
	return stageDone, nil
}

func (o *Orchestrator) acquire(ctx context.Context, job *domain.Job) (outcome, *domain.ProcessError) {
	o.progress(ctx, job, domain.StageAcquire, 0)

	artifact, err := o.acquirer.Acquire(ctx, job.SourceRef)
	if err != nil {
		return 0, domain.NewProcessError(domain.StageAcquire, domain.KindAcquisitionFailed, domain.ClassTerminal, err)
	}

	job.Artifact = artifact
	job.ContentKey = artifact.Filename

	o.logger.Info("Audio acquired",
		slog.String("job_id", job.ID),
		slog.String("content_key", job.ContentKey),
		slog.Float64("duration_seconds", artifact.Duration),
	)
	return stageDone, nil
}

func (o *Orchestrator) checkCache(ctx context.Context, job *domain.Job) (outcome, *domain.ProcessError) {
	job.Cache = o.cache.Snapshot(ctx, job.ContentKey)
	return stageDone, nil
}

func (o *Orchestrator) gate(ctx context.Context, job *domain.Job) (outcome, *domain.ProcessError) {
	if job.Cache.HasAudio {
		return stageSkipped, nil
	}
	return o.authorize(ctx, job, domain.StageGate)
}

// authorize runs the credit gate once for the job
func (o *Orchestrator) authorize(ctx context.Context, job *domain.Job, stage domain.Stage) (outcome, *domain.ProcessError) {
	if job.CreditsOK {
		return stageDone, nil
	}

	duration := 0.0
	if job.Artifact != nil {
		duration = job.Artifact.Duration
	}

	decision, err := o.credits.Authorize(ctx, job.Identity, duration)
	if err != nil {
		class := domain.ClassTransient
		if errors.Is(err, credit.ErrUnknownDuration) {
			class = domain.ClassTerminal
		}
		return 0, domain.NewProcessError(stage, domain.KindUnknown, class, err)
	}
	if !decision.Authorized {
		o.deny(ctx, job, decision)
		return stageStop, nil
	}

	job.CreditsOK = true
	o.logger.Info("Credits confirmed",
		slog.String("job_id", job.ID),
		slog.Float64("required", decision.Required),
		slog.Float64("available", decision.Available),
	)
	return stageDone, nil
}

func (o *Orchestrator) upload(ctx context.Context, job *domain.Job) (outcome, *domain.ProcessError) {
	if job.Cache.HasAudio {
		if job.FilenameID == "" {
			job.FilenameID = job.Cache.VideoID
		}
		if job.FilenameID == "" {
			job.FilenameID = job.ContentKey
		}
		return stageSkipped, nil
	}
	o.progress(ctx, job, domain.StageUpload, 0)

	token, err := o.tokens.Token(ctx)
	if err != nil {
		return 0, classify(domain.StageUpload, domain.KindUploadFailed, domain.ClassTerminal, fmt.Errorf("failed to refresh auth token: %w", err))
	}

	receipt, err := o.uploader.Upload(ctx, job.Artifact.Path, token)
	if err != nil {
		return 0, classify(domain.StageUpload, domain.KindUploadFailed, domain.ClassTerminal, err)
	}

	job.FilenameID = receipt.FilenameID
	job.TaskID = receipt.TaskID

	o.logger.Info("Audio uploaded",
		slog.String("job_id", job.ID),
		slog.String("filename_id", job.FilenameID),
		slog.String("task_id", job.TaskID),
	)
	return stageDone, nil
}

func (o *Orchestrator) transcribe(ctx context.Context, job *domain.Job) (outcome, *domain.ProcessError) {
	if job.Cache.HasTranscript {
		if perr := o.loadTranscriptIfNeeded(ctx, job); perr != nil {
			return 0, perr
		}
		return stageSkipped, nil
	}

	if result, perr := o.authorize(ctx, job, domain.StageTranscribe); perr != nil || result == stageStop {
		return result, perr
	}
	o.progress(ctx, job, domain.StageTranscribe, 0)

	if job.TaskID == "" {
		taskID, perr := o.triggerTranscription(ctx, job)
		if perr != nil {
			return 0, perr
		}
		job.TaskID = taskID
	}

	if perr := o.awaitTranscription(ctx, job); perr != nil {
		return 0, perr
	}

	if perr := o.loadTranscriptIfNeeded(ctx, job); perr != nil {
		return 0, perr
	}
	return stageDone, nil
}

// triggerTranscription starts transcription after the settle delay
func (o *Orchestrator) triggerTranscription(ctx context.Context, job *domain.Job) (string, *domain.ProcessError) {
	if err := o.sleep(ctx, o.settleDelay); err != nil {
		return "", domain.NewProcessError(domain.StageTranscribe, domain.KindTranscriptionFailed, domain.ClassTransient, err)
	}

	token, err := o.tokens.Token(ctx)
	if err != nil {
		return "", classify(domain.StageTranscribe, domain.KindTranscriptionFailed, domain.ClassTerminal, fmt.Errorf("failed to refresh auth token: %w", err))
	}

	taskID, err := o.transcription.TriggerTranscription(ctx, job.FilenameID, token)
	if err != nil {
		return "", classify(domain.StageTranscribe, domain.KindTranscriptionFailed, domain.ClassTerminal, err)
	}

	o.logger.Info("Transcription triggered",
		slog.String("job_id", job.ID),
		slog.String("filename_id", job.FilenameID),
		slog.String("task_id", taskID),
	)
	return taskID, nil
}

// awaitTranscription polls the remote task until it settles
func (o *Orchestrator) awaitTranscription(ctx context.Context, job *domain.Job) *domain.ProcessError {
	var (
		lastErr     error
		remoteError string
	)

	result := poller.Poll(ctx, o.pollOptions(ctx, job, domain.StageTranscribe, o.transcriptionPoll),
		func(ctx context.Context, n int) domain.PollOutcome[struct{}] {
			status, err := o.tasks.TaskStatus(ctx, job.TaskID)
			if err != nil {
				lastErr = err
				return poller.FromError[struct{}](err)
			}
			lastErr = nil

			switch status.Result {
			case domain.TaskSuccess:
				return domain.Succeeded(struct{}{})
			case domain.TaskFailure, domain.TaskTerminated, domain.TaskTimeout, domain.TaskInitFailure, domain.TaskExpired:
				return domain.Failed[struct{}](status.Result, false)
			case domain.TaskError:
				remoteError = status.Error
				return domain.Failed[struct{}](domain.ReasonServerError, false)
			default:
				return domain.StillPending[struct{}]()
			}
		})

	switch result.Status {
	case poller.StatusSucceeded:
		return nil
	case poller.StatusTimedOut:
		return &domain.ProcessError{
			Stage:          domain.StageTranscribe,
			Kind:           domain.KindTranscriptionFailed,
			Reason:         domain.ReasonWaitExceeded,
			Message:        fmt.Sprintf("Transcription did not finish after %d attempts", result.Attempts),
			Classification: domain.ClassTransient,
			Err:            lastErr,
		}
	default:
		if ctx.Err() != nil {
			return domain.NewProcessError(domain.StageTranscribe, domain.KindTranscriptionFailed, domain.ClassTransient, ctx.Err())
		}
		if lastErr != nil {
			return classify(domain.StageTranscribe, domain.KindTranscriptionFailed, domain.ClassTerminal, lastErr)
		}
		return &domain.ProcessError{
			Stage:          domain.StageTranscribe,
			Kind:           domain.KindTranscriptionFailed,
			Reason:         result.Reason,
			Message:        taskFailureMessage(result.Reason, remoteError),
			Classification: domain.ClassTerminal,
		}
	}
}

func taskFailureMessage(reason, remoteError string) string {
	switch reason {
	case domain.TaskFailure:
		return "Transcription failed on the server"
	case domain.TaskTerminated:
		return "Transcription was terminated before completion"
	case domain.TaskTimeout:
		return "Transcription exceeded the server time limit"
	case domain.TaskInitFailure:
		return "Transcription failed to initialize"
	case domain.TaskExpired:
		return "Transcription result expired"
	case domain.ReasonServerError:
		if remoteError != "" {
			return remoteError
		}
		return "Unknown server error"
	}
	return "Transcription failed: " + reason
}

// loadTranscriptIfNeeded fetches the transcript unless chapters can be
// served straight from the cache
func (o *Orchestrator) loadTranscriptIfNeeded(ctx context.Context, job *domain.Job) *domain.ProcessError {
	if job.Transcript != "" || chaptersCached(job.Cache) {
		return nil
	}

	var lastErr error
	opts := o.pollOptions(ctx, job, domain.StageTranscribe, o.transcriptionPoll)
	opts.OnProgress = nil
	opts.Name = "transcript"

	result := poller.Poll(ctx, opts, func(ctx context.Context, n int) domain.PollOutcome[string] {
		text, err := o.transcription.Transcript(ctx, job.FilenameID)
		if err != nil {
			lastErr = err
			return poller.FromError[string](err)
		}
		return domain.Succeeded(text)
	})

	if result.Status != poller.StatusSucceeded {
		if lastErr == nil {
			lastErr = fmt.Errorf("transcript unavailable: %s", result.Reason)
		}
		return classify(domain.StageTranscribe, domain.KindTranscriptionFailed, domain.ClassTerminal, lastErr)
	}

	job.Transcript = result.Payload
	return nil
}

func chaptersCached(status domain.CacheStatus) bool {
	return status.HasChapters && status.ProcessingComplete
}

func (o *Orchestrator) extractChapters(ctx context.Context, job *domain.Job) (outcome, *domain.ProcessError) {
	if chaptersCached(job.Cache) {
		set, err := o.chapters.Chapters(ctx, job.FilenameID)
		if err != nil {
			return 0, classify(domain.StageExtractChapters, domain.KindChaptersFailed, domain.ClassTerminal, err)
		}
		job.Result = &domain.Result{Chapters: set.Chapters}
		return stageSkipped, nil
	}
	o.progress(ctx, job, domain.StageExtractChapters, 0)

	token, err := o.tokens.Token(ctx)
	if err != nil {
		return 0, classify(domain.StageExtractChapters, domain.KindChaptersFailed, domain.ClassTerminal, fmt.Errorf("failed to refresh auth token: %w", err))
	}

	taskID, err := o.chapters.GenerateChapters(ctx, job.FilenameID, job.Transcript, token)
	if err != nil {
		return 0, classify(domain.StageExtractChapters, domain.KindChaptersFailed, domain.ClassTerminal, err)
	}
	o.logger.Info("Chapter generation triggered",
		slog.String("job_id", job.ID),
		slog.String("filename_id", job.FilenameID),
		slog.String("task_id", taskID),
	)

	var lastErr error
	result := poller.Poll(ctx, o.pollOptions(ctx, job, domain.StageExtractChapters, o.chaptersPoll),
		func(ctx context.Context, n int) domain.PollOutcome[[]domain.Chapter] {
			set, err := o.chapters.Chapters(ctx, job.FilenameID)
			if err != nil {
				lastErr = err
				return poller.FromError[[]domain.Chapter](err)
			}
			lastErr = nil

			switch strings.ToLower(set.Status) {
			case chaptersCompleted:
				return domain.Succeeded(set.Chapters)
			case "failed", "failure", "error":
				return domain.Failed[[]domain.Chapter](set.Status, false)
			default:
				return domain.StillPending[[]domain.Chapter]()
			}
		})

	switch result.Status {
	case poller.StatusSucceeded:
		job.Result = &domain.Result{Chapters: result.Payload}
		return stageDone, nil
	case poller.StatusTimedOut:
		o.continueInBackground(ctx, job, result.Attempts)
		return stageDone, nil
	default:
		if ctx.Err() != nil {
			return 0, domain.NewProcessError(domain.StageExtractChapters, domain.KindChaptersFailed, domain.ClassTransient, ctx.Err())
		}
		if lastErr != nil {
			return 0, classify(domain.StageExtractChapters, domain.KindChaptersFailed, domain.ClassTerminal, lastErr)
		}
		return 0, &domain.ProcessError{
			Stage:          domain.StageExtractChapters,
			Kind:           domain.KindChaptersFailed,
			Reason:         result.Reason,
			Message:        "Chapter generation failed: " + result.Reason,
			Classification: domain.ClassTerminal,
		}
	}
}

// continueInBackground turns a chapters poll timeout into a soft result
func (o *Orchestrator) continueInBackground(ctx context.Context, job *domain.Job, attempts int) {
	notice := &domain.Notice{
		Kind:    domain.KindChaptersTimedOutBackground,
		Message: "Chapters are still being generated in the background. Check again in a few minutes.",
	}
	job.Result = &domain.Result{Chapters: []domain.Chapter{}, Notice: notice}

	o.logger.Warn("Chapter polling exhausted, continuing in background",
		slog.String("job_id", job.ID),
		slog.Int("attempts", attempts),
	)

	o.emit(ctx, domain.Event{
		JobID:   job.ID,
		Type:    domain.EventNotice,
		Stage:   domain.StageExtractChapters,
		Kind:    notice.Kind,
		Message: notice.Message,
	})
}

func (o *Orchestrator) pollOptions(ctx context.Context, job *domain.Job, stage domain.Stage, cfg PollConfig) poller.Options {
	return poller.Options{
		MaxAttempts:  cfg.MaxAttempts,
		InitialDelay: cfg.InitialDelay,
		Multiplier:   cfg.Multiplier,
		MaxDelay:     cfg.MaxDelay,
		Sleep:        o.sleep,
		Logger:       o.logger.With(slog.String("job_id", job.ID)),
		Name:         stage.String(),
		OnProgress: func(percent float64) {
			o.progress(ctx, job, stage, percent)
		},
	}
}
