package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/cuongbtq/chapterize/internal/pipeline/credit"
	"github.com/cuongbtq/chapterize/internal/pipeline/domain"
	"github.com/cuongbtq/chapterize/internal/remote"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun_ColdPipeline(t *testing.T) {
	h := newHarness()
	o := h.orchestrator(t)

	result, err := o.Run(context.Background(), Request{SourceURL: "https://youtu.be/dQw4w9WgXcQ", UserID: "u-1"})
	require.NoError(t, err)

	assert.Equal(t, "job-1", result.JobID)
	assert.Equal(t, domain.JobStatusCompleted, result.Status)
	assert.Equal(t, "/tmp/audio/dQw4w9WgXcQ.m4a", result.ArtifactPath)
	assert.Equal(t, testChapters, result.Chapters)
	assert.False(t, result.FromCache)
	assert.Equal(t, 6*time.Second, result.Elapsed)
	assert.Equal(t, "Processing time: 0 minutes and 6 seconds", result.ElapsedLabel)

	assert.Equal(t, 1, h.health.calls)
	assert.Equal(t, []string{"dQw4w9WgXcQ.m4a"}, h.cache.keys)
	assert.Equal(t, 1, h.credits.calls)
	assert.Equal(t, 1, h.transcriber.uploads)
	assert.Empty(t, h.transcriber.triggers)
	assert.Equal(t, []string{"t-1", "t-1"}, h.tasks.calls)
	assert.Equal(t, 1, h.transcriber.transcripts)
	assert.Equal(t, []string{"dQw4w9WgXcQ:hello world"}, h.chapters.generated)
	assert.Equal(t, []string{"dQw4w9WgXcQ", "dQw4w9WgXcQ"}, h.chapters.fetches)
	// one fresh token for the upload and one for chapter generation
	assert.Equal(t, 2, h.tokens.calls)
	assert.Equal(t, []time.Duration{3 * time.Second, 3 * time.Second}, h.sleeps)

	progress := func(stage domain.Stage, pct float64) transition {
		return transition{Type: domain.EventProgress, Stage: stage, Percent: pct}
	}
	want := []transition{
		progress(domain.StageServiceCheck, 0),
		progress(domain.StageServiceCheck, 100),
		progress(domain.StageAcquire, 0),
		progress(domain.StageAcquire, 100),
		progress(domain.StageCacheCheck, 100),
		progress(domain.StageGate, 100),
		progress(domain.StageUpload, 0),
		progress(domain.StageUpload, 100),
		progress(domain.StageTranscribe, 0),
		progress(domain.StageTranscribe, 9),
		progress(domain.StageTranscribe, 18),
		progress(domain.StageTranscribe, 100),
		progress(domain.StageExtractChapters, 0),
		progress(domain.StageExtractChapters, 9),
		progress(domain.StageExtractChapters, 18),
		progress(domain.StageExtractChapters, 100),
		progress(domain.StageComplete, 100),
		{Type: domain.EventComplete, Stage: domain.StageComplete},
	}
	events := drain(o)
	assert.Equal(t, want, transitions(events))
	assert.Equal(t, result, events[len(events)-1].Result)
	assert.False(t, o.Busy())
}

func TestRun_StagesNeverMoveBackwards(t *testing.T) {
	h := newHarness()
	h.cache.status = domain.CacheStatus{HasAudio: true, VideoID: "vid"}
	o := h.orchestrator(t)

	_, err := o.Run(context.Background(), Request{SourceURL: "https://youtu.be/dQw4w9WgXcQ", UserID: "u-1"})
	require.NoError(t, err)

	last := domain.StageServiceCheck
	for _, ev := range drain(o) {
		assert.GreaterOrEqual(t, ev.Stage, last, "event %+v moved backwards", ev)
		assert.LessOrEqual(t, ev.Percent, 100.0)
		last = ev.Stage
	}
}

func TestRun_FullCacheHit(t *testing.T) {
	h := newHarness()
	h.cache.status = domain.CacheStatus{
		HasAudio: true, HasTranscript: true, HasChapters: true, ProcessingComplete: true, VideoID: "vid",
	}
	h.chapters.sets = []domain.ChapterSet{{Status: "completed", Chapters: testChapters}}
	o := h.orchestrator(t)

	result, err := o.Run(context.Background(), Request{SourceURL: "https://youtu.be/dQw4w9WgXcQ", UserID: "u-1"})
	require.NoError(t, err)

	assert.Equal(t, domain.JobStatusCompleted, result.Status)
	assert.Equal(t, testChapters, result.Chapters)
	assert.True(t, result.FromCache)
	assert.Equal(t, "Processing time: 0 minutes and 0 seconds (cache)", result.ElapsedLabel)

	assert.Equal(t, []string{"vid"}, h.chapters.fetches)
	assert.Zero(t, h.transcriber.uploads)
	assert.Empty(t, h.transcriber.triggers)
	assert.Empty(t, h.tasks.calls)
	assert.Empty(t, h.chapters.generated)
	assert.Zero(t, h.transcriber.transcripts)
	assert.Zero(t, h.credits.calls)
	assert.Zero(t, h.tokens.calls)
	assert.Empty(t, h.sleeps)

	// skipped stages jump straight to 100 without polling
	for _, ev := range drain(o) {
		if ev.Stage >= domain.StageGate && ev.Type == domain.EventProgress {
			assert.Equal(t, 100.0, ev.Percent, "stage %s", ev.Stage)
		}
	}
}

func TestRun_CachedAudioNeverUploads(t *testing.T) {
	statuses := []domain.CacheStatus{
		{HasAudio: true, VideoID: "vid"},
		{HasAudio: true, HasTranscript: true, VideoID: "vid"},
		{HasAudio: true, HasChapters: true, VideoID: "vid"},
	}

	for _, status := range statuses {
		h := newHarness()
		h.cache.status = status
		o := h.orchestrator(t)

		result, err := o.Run(context.Background(), Request{SourceURL: "https://youtu.be/dQw4w9WgXcQ", UserID: "u-1"})
		require.NoError(t, err)
		assert.Equal(t, domain.JobStatusCompleted, result.Status)
		assert.True(t, result.FromCache)
		assert.Zero(t, h.transcriber.uploads, "status %+v", status)
	}
}

func TestRun_CachedAudioTriggersTranscription(t *testing.T) {
	h := newHarness()
	h.cache.status = domain.CacheStatus{HasAudio: true, VideoID: "vid"}
	o := h.orchestrator(t)

	result, err := o.Run(context.Background(), Request{SourceURL: "https://youtu.be/dQw4w9WgXcQ", UserID: "u-1"})
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCompleted, result.Status)

	// credits are confirmed before transcription since the gate was skipped
	assert.Equal(t, 1, h.credits.calls)
	assert.Equal(t, []string{"vid"}, h.transcriber.triggers)
	assert.Equal(t, []string{"t-2", "t-2"}, h.tasks.calls)
	assert.Equal(t, []time.Duration{2 * time.Second, 3 * time.Second, 3 * time.Second}, h.sleeps)
	// trigger and chapter generation each refresh the token
	assert.Equal(t, 2, h.tokens.calls)
}

func TestRun_CreditDenied(t *testing.T) {
	h := newHarness()
	h.credits.decision = domain.CreditDecision{
		Authorized: false, Required: 0.12, Available: 0.10, Reason: domain.DenyInsufficientCredits,
	}
	o := h.orchestrator(t)

	result, err := o.Run(context.Background(), Request{SourceURL: "https://youtu.be/dQw4w9WgXcQ", UserID: "u-1"})
	require.NoError(t, err)

	assert.Equal(t, domain.JobStatusDenied, result.Status)
	require.NotNil(t, result.Notice)
	assert.Equal(t, domain.KindCreditDenied, result.Notice.Kind)
	assert.Equal(t, domain.DenyInsufficientCredits, result.Notice.Reason)
	assert.InDelta(t, 0.12, result.Notice.Cost, 1e-9)
	assert.InDelta(t, 0.10, result.Notice.Balance, 1e-9)
	assert.Contains(t, result.Notice.Message, "0.12")
	assert.Zero(t, h.transcriber.uploads)

	events := drain(o)
	last := events[len(events)-1]
	assert.Equal(t, domain.EventNotice, last.Type)
	assert.Equal(t, domain.StageGate, last.Stage)
	for _, ev := range events {
		assert.NotEqual(t, domain.EventError, ev.Type)
	}

	_, err = o.Retry(context.Background(), domain.StageUpload)
	assert.ErrorIs(t, err, domain.ErrInvalidRetryStage)

	h.credits.decision = domain.CreditDecision{Authorized: true, Required: 0.12, Available: 1}
	result, err = o.Retry(context.Background(), domain.StageGate)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCompleted, result.Status)
	assert.Equal(t, 2, h.credits.calls)
	assert.Equal(t, 1, h.transcriber.uploads)
}

func TestRun_CreditLookupFailure(t *testing.T) {
	h := newHarness()
	h.credits.err = errors.New("failed to read credit balance: connection reset")
	o := h.orchestrator(t)

	_, err := o.Run(context.Background(), Request{SourceURL: "https://youtu.be/dQw4w9WgXcQ", UserID: "u-1"})
	perr, ok := AsProcessError(err)
	require.True(t, ok)
	assert.Equal(t, domain.StageGate, perr.Stage)
	assert.Equal(t, domain.ClassTransient, perr.Classification)
	assert.Zero(t, h.transcriber.uploads)
}

func TestRun_UnknownDurationIsTerminal(t *testing.T) {
	h := newHarness()
	h.acquirer.artifact.Duration = 0
	h.credits.err = fmt.Errorf("%w: 0.0 seconds", credit.ErrUnknownDuration)
	o := h.orchestrator(t)

	_, err := o.Run(context.Background(), Request{SourceURL: "https://youtu.be/dQw4w9WgXcQ", UserID: "u-1"})
	perr, ok := AsProcessError(err)
	require.True(t, ok)
	assert.Equal(t, domain.StageGate, perr.Stage)
	assert.Equal(t, domain.ClassTerminal, perr.Classification)
	assert.ErrorIs(t, err, credit.ErrUnknownDuration)
	assert.Zero(t, h.transcriber.uploads)
}

func TestRun_ServiceOffline(t *testing.T) {
	h := newHarness()
	h.health.offline = map[string]bool{"chapters": true}
	o := h.orchestrator(t)

	result, err := o.Run(context.Background(), Request{SourceURL: "https://youtu.be/dQw4w9WgXcQ"})
	require.Error(t, err)
	assert.Nil(t, result)

	perr, ok := AsProcessError(err)
	require.True(t, ok)
	assert.Equal(t, domain.StageServiceCheck, perr.Stage)
	assert.Equal(t, domain.KindServiceUnavailable, perr.Kind)
	assert.Equal(t, domain.ClassTerminal, perr.Classification)
	assert.Contains(t, perr.Message, "chapters")
	assert.NotContains(t, perr.Message, "transcriber")
	assert.Zero(t, h.acquirer.calls)

	events := drain(o)
	last := events[len(events)-1]
	assert.Equal(t, domain.EventError, last.Type)
	assert.Equal(t, domain.KindServiceUnavailable, last.Kind)
}

func TestRun_TaskFailures(t *testing.T) {
	tests := []struct {
		result  string
		errText string
		reason  string
		message string
	}{
		{result: domain.TaskFailure, reason: "failure", message: "failed on the server"},
		{result: domain.TaskTerminated, reason: "terminated", message: "terminated"},
		{result: domain.TaskTimeout, reason: "timeout", message: "time limit"},
		{result: domain.TaskInitFailure, reason: "init_failure", message: "initialize"},
		{result: domain.TaskExpired, reason: "expired", message: "expired"},
		{result: domain.TaskError, errText: "worker crashed", reason: "server_error", message: "worker crashed"},
	}

	for _, tt := range tests {
		t.Run(tt.result, func(t *testing.T) {
			h := newHarness()
			h.tasks.statuses = []domain.TaskStatus{{Result: tt.result, Error: tt.errText}}
			o := h.orchestrator(t)

			_, err := o.Run(context.Background(), Request{SourceURL: "https://youtu.be/dQw4w9WgXcQ", UserID: "u-1"})
			perr, ok := AsProcessError(err)
			require.True(t, ok)

			assert.Equal(t, "transcription", perr.Stage.String())
			assert.Equal(t, domain.KindTranscriptionFailed, perr.Kind)
			assert.Equal(t, tt.reason, perr.Reason)
			assert.Equal(t, domain.ClassTerminal, perr.Classification)
			assert.Contains(t, perr.Message, tt.message)

			// a non-retryable outcome stops polling at once
			assert.Len(t, h.tasks.calls, 1)
			assert.Empty(t, h.chapters.generated)
		})
	}
}

func TestRun_TranscriptionWaitExceeded(t *testing.T) {
	h := newHarness()
	h.tasks.statuses = []domain.TaskStatus{{Result: domain.TaskPending}}
	o := h.orchestrator(t)

	_, err := o.Run(context.Background(), Request{SourceURL: "https://youtu.be/dQw4w9WgXcQ", UserID: "u-1"})
	perr, ok := AsProcessError(err)
	require.True(t, ok)

	assert.Equal(t, domain.StageTranscribe, perr.Stage)
	assert.Equal(t, domain.ReasonWaitExceeded, perr.Reason)
	assert.Equal(t, domain.ClassTransient, perr.Classification)
	assert.Len(t, h.tasks.calls, DefaultPollConfig.MaxAttempts)
}

func TestRun_TaskStatusNotFoundIsRetried(t *testing.T) {
	h := newHarness()
	h.tasks.err = &remote.StatusError{StatusCode: http.StatusNotFound}
	o := h.orchestrator(t)

	_, err := o.Run(context.Background(), Request{SourceURL: "https://youtu.be/dQw4w9WgXcQ", UserID: "u-1"})
	perr, ok := AsProcessError(err)
	require.True(t, ok)
	assert.Equal(t, domain.ReasonWaitExceeded, perr.Reason)
	assert.Len(t, h.tasks.calls, DefaultPollConfig.MaxAttempts)
}

func TestRun_ChaptersTimeoutIsSoft(t *testing.T) {
	h := newHarness()
	h.chapters.sets = []domain.ChapterSet{{Status: "processing"}}
	o := h.orchestrator(t)

	result, err := o.Run(context.Background(), Request{SourceURL: "https://youtu.be/dQw4w9WgXcQ", UserID: "u-1"})
	require.NoError(t, err)

	assert.Equal(t, domain.JobStatusCompleted, result.Status)
	assert.NotNil(t, result.Chapters)
	assert.Empty(t, result.Chapters)
	require.NotNil(t, result.Notice)
	assert.Equal(t, domain.KindChaptersTimedOutBackground, result.Notice.Kind)
	assert.Len(t, h.chapters.fetches, 10)

	// one transcription sleep, then nine chapter backoff delays
	chapterSleeps := h.sleeps[1:]
	require.Len(t, chapterSleeps, 9)
	assert.Equal(t, 3*time.Second, chapterSleeps[0])
	assert.Equal(t, 4500*time.Millisecond, chapterSleeps[1])
	for i := 1; i < len(chapterSleeps); i++ {
		assert.GreaterOrEqual(t, chapterSleeps[i], chapterSleeps[i-1])
		assert.LessOrEqual(t, chapterSleeps[i], 30*time.Second)
	}

	var notices, errs int
	for _, ev := range drain(o) {
		switch ev.Type {
		case domain.EventNotice:
			notices++
			assert.Equal(t, domain.KindChaptersTimedOutBackground, ev.Kind)
		case domain.EventError:
			errs++
		}
	}
	assert.Equal(t, 1, notices)
	assert.Zero(t, errs)
}

func TestRun_ChaptersFailed(t *testing.T) {
	h := newHarness()
	h.chapters.sets = []domain.ChapterSet{{Status: "failed"}}
	o := h.orchestrator(t)

	_, err := o.Run(context.Background(), Request{SourceURL: "https://youtu.be/dQw4w9WgXcQ", UserID: "u-1"})
	perr, ok := AsProcessError(err)
	require.True(t, ok)
	assert.Equal(t, domain.StageExtractChapters, perr.Stage)
	assert.Equal(t, domain.KindChaptersFailed, perr.Kind)
	assert.Len(t, h.chapters.fetches, 1)
}

func TestRun_UploadErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantKind  domain.Kind
		wantClass domain.Classification
	}{
		{name: "quota", err: &remote.StatusError{StatusCode: http.StatusPaymentRequired}, wantKind: domain.KindQuotaExceeded, wantClass: domain.ClassQuotaExceeded},
		{name: "rate limit", err: &remote.StatusError{StatusCode: http.StatusTooManyRequests}, wantKind: domain.KindRateLimited, wantClass: domain.ClassRateLimited},
		{name: "server error", err: &remote.StatusError{StatusCode: http.StatusBadGateway}, wantKind: domain.KindUploadFailed, wantClass: domain.ClassTransient},
		{name: "deadline", err: context.DeadlineExceeded, wantKind: domain.KindUploadFailed, wantClass: domain.ClassTransient},
		{name: "rejected", err: errors.New("upload failed: unsupported format"), wantKind: domain.KindUploadFailed, wantClass: domain.ClassTerminal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness()
			h.transcriber.uploadErr = tt.err
			o := h.orchestrator(t)

			_, err := o.Run(context.Background(), Request{SourceURL: "https://youtu.be/dQw4w9WgXcQ", UserID: "u-1"})
			perr, ok := AsProcessError(err)
			require.True(t, ok)

			assert.Equal(t, domain.StageUpload, perr.Stage)
			assert.Equal(t, tt.wantKind, perr.Kind)
			assert.Equal(t, tt.wantClass, perr.Classification)
			assert.ErrorIs(t, err, tt.err)
			// upload is never retried automatically
			assert.Equal(t, 1, h.transcriber.uploads)
		})
	}
}

func TestRun_TokenRefreshFailure(t *testing.T) {
	h := newHarness()
	h.tokens.err = errors.New("invalid refresh token")
	o := h.orchestrator(t)

	_, err := o.Run(context.Background(), Request{SourceURL: "https://youtu.be/dQw4w9WgXcQ", UserID: "u-1"})
	perr, ok := AsProcessError(err)
	require.True(t, ok)
	assert.Equal(t, domain.StageUpload, perr.Stage)
	assert.Contains(t, perr.Message, "failed to refresh auth token")
	assert.Zero(t, h.transcriber.uploads)
}

func TestRun_AcquireFailure(t *testing.T) {
	h := newHarness()
	h.acquirer.err = errors.New("video unavailable")
	o := h.orchestrator(t)

	_, err := o.Run(context.Background(), Request{SourceURL: "https://youtu.be/dQw4w9WgXcQ"})
	perr, ok := AsProcessError(err)
	require.True(t, ok)
	assert.Equal(t, domain.StageAcquire, perr.Stage)
	assert.Equal(t, domain.KindAcquisitionFailed, perr.Kind)
	assert.Equal(t, domain.ClassTerminal, perr.Classification)
	assert.Equal(t, 1, h.acquirer.calls)
	assert.Empty(t, h.cache.keys)

	_, err = o.Retry(context.Background(), domain.StageUpload)
	assert.ErrorIs(t, err, domain.ErrInvalidRetryStage)

	h.acquirer.err = nil
	result, err := o.Retry(context.Background(), domain.StageAcquire)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCompleted, result.Status)
	assert.Equal(t, 2, h.acquirer.calls)
}

func TestRetry_IsIdempotent(t *testing.T) {
	h := newHarness()
	h.tasks.statuses = []domain.TaskStatus{{Result: domain.TaskFailure}}
	o := h.orchestrator(t)

	_, err := o.Run(context.Background(), Request{SourceURL: "https://youtu.be/dQw4w9WgXcQ", UserID: "u-1"})
	require.Error(t, err)
	drain(o)

	// the remote side kept the uploaded audio
	h.cache.status = domain.CacheStatus{HasAudio: true, VideoID: "dQw4w9WgXcQ"}

	_, err1 := o.Retry(context.Background(), domain.StageTranscribe)
	first := transitions(drain(o))
	_, err2 := o.Retry(context.Background(), domain.StageTranscribe)
	second := transitions(drain(o))

	require.Error(t, err1)
	require.Error(t, err2)
	assert.Equal(t, err1.Error(), err2.Error())
	assert.Equal(t, first, second)
	assert.NotEmpty(t, first)
	assert.Equal(t, domain.StageTranscribe, first[0].Stage)

	// earlier stages are not repeated; each retry refreshes the cache snapshot
	assert.Equal(t, 1, h.acquirer.calls)
	assert.Equal(t, 1, h.transcriber.uploads)
	assert.Equal(t, 1, h.credits.calls)
	assert.Len(t, h.cache.keys, 3)
	assert.Equal(t, []string{"dQw4w9WgXcQ", "dQw4w9WgXcQ"}, h.transcriber.triggers)
}

func TestRetry_ReentersStagesTheCacheNoLongerConfirms(t *testing.T) {
	tests := []struct {
		name        string
		failChapter bool
		cache       domain.CacheStatus
		stage       domain.Stage
		wantFrom    domain.Stage
		wantUploads int
		wantTrigger []string
	}{
		{
			name:        "audio lost before transcription retry",
			cache:       domain.CacheStatus{},
			stage:       domain.StageTranscribe,
			wantFrom:    domain.StageUpload,
			wantUploads: 2,
		},
		{
			name:        "audio confirmed",
			cache:       domain.CacheStatus{HasAudio: true, VideoID: "dQw4w9WgXcQ"},
			stage:       domain.StageTranscribe,
			wantFrom:    domain.StageTranscribe,
			wantUploads: 1,
			wantTrigger: []string{"dQw4w9WgXcQ"},
		},
		{
			name:        "transcript lost before chapters retry",
			failChapter: true,
			cache:       domain.CacheStatus{HasAudio: true, VideoID: "dQw4w9WgXcQ"},
			stage:       domain.StageExtractChapters,
			wantFrom:    domain.StageTranscribe,
			wantUploads: 1,
			wantTrigger: []string{"dQw4w9WgXcQ"},
		},
		{
			name:        "transcript confirmed",
			failChapter: true,
			cache:       domain.CacheStatus{HasAudio: true, HasTranscript: true, VideoID: "dQw4w9WgXcQ"},
			stage:       domain.StageExtractChapters,
			wantFrom:    domain.StageExtractChapters,
			wantUploads: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness()
			if tt.failChapter {
				h.chapters.sets = []domain.ChapterSet{{Status: "failed"}}
			} else {
				h.tasks.statuses = []domain.TaskStatus{{Result: domain.TaskFailure}}
			}
			o := h.orchestrator(t)

			_, err := o.Run(context.Background(), Request{SourceURL: "https://youtu.be/dQw4w9WgXcQ", UserID: "u-1"})
			require.Error(t, err)
			drain(o)

			h.cache.status = tt.cache
			_, _ = o.Retry(context.Background(), tt.stage)

			events := transitions(drain(o))
			require.NotEmpty(t, events)
			assert.Equal(t, tt.wantFrom, events[0].Stage)
			assert.Equal(t, tt.wantUploads, h.transcriber.uploads)
			assert.Equal(t, tt.wantTrigger, h.transcriber.triggers)
			assert.Equal(t, 1, h.acquirer.calls)
			// credits confirmed by the first run are not asked again
			assert.Equal(t, 1, h.credits.calls)
		})
	}
}

func TestRun_UploadWithoutTaskTriggersTranscription(t *testing.T) {
	h := newHarness()
	h.transcriber.receipt = &domain.UploadReceipt{FilenameID: "dQw4w9WgXcQ"}
	o := h.orchestrator(t)

	result, err := o.Run(context.Background(), Request{SourceURL: "https://youtu.be/dQw4w9WgXcQ", UserID: "u-1"})
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCompleted, result.Status)

	assert.Equal(t, 1, h.transcriber.uploads)
	require.NotEmpty(t, h.sleeps)
	assert.Equal(t, 2*time.Second, h.sleeps[0])
	assert.Equal(t, []string{"dQw4w9WgXcQ"}, h.transcriber.triggers)
	assert.Equal(t, []string{"t-2", "t-2"}, h.tasks.calls)
	// upload, trigger and chapter generation each refresh the token
	assert.Equal(t, 3, h.tokens.calls)
}

func TestRetry_Rejections(t *testing.T) {
	h := newHarness()
	o := h.orchestrator(t)

	_, err := o.Retry(context.Background(), domain.StageAcquire)
	assert.ErrorIs(t, err, domain.ErrNothingToRetry)

	_, err = o.Run(context.Background(), Request{SourceURL: "https://youtu.be/dQw4w9WgXcQ", UserID: "u-1"})
	require.NoError(t, err)

	_, err = o.Retry(context.Background(), domain.StageAcquire)
	assert.ErrorIs(t, err, domain.ErrNothingToRetry)
}

func TestStart_RejectsConcurrentJob(t *testing.T) {
	h := newHarness()
	h.acquirer.block = make(chan struct{})
	started := make(chan struct{})
	h.acquirer.started = started
	o := h.orchestrator(t)

	id, err := o.Start(Request{SourceURL: "https://youtu.be/dQw4w9WgXcQ", UserID: "u-1"})
	require.NoError(t, err)
	assert.Equal(t, "job-1", id)

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("job did not start")
	}

	assert.True(t, o.Busy())
	_, err = o.Start(Request{SourceURL: "https://youtu.be/other00000"})
	assert.ErrorIs(t, err, domain.ErrJobInProgress)
	_, err = o.Run(context.Background(), Request{SourceURL: "https://youtu.be/other00000"})
	assert.ErrorIs(t, err, domain.ErrJobInProgress)
	_, err = o.StartRetry(domain.StageAcquire)
	assert.ErrorIs(t, err, domain.ErrJobInProgress)

	close(h.acquirer.block)

	timeout := time.After(5 * time.Second)
	for done := false; !done; {
		select {
		case ev := <-o.Events():
			done = ev.Type == domain.EventComplete
		case <-timeout:
			t.Fatal("job did not complete")
		}
	}
	assert.Eventually(t, func() bool { return !o.Busy() }, time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, h.acquirer.calls)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, o.Shutdown(ctx))
}

func TestElapsedLabel(t *testing.T) {
	tests := []struct {
		elapsed   time.Duration
		fromCache bool
		want      string
	}{
		{elapsed: 0, want: "Processing time: 0 minutes and 0 seconds"},
		{elapsed: 125 * time.Second, want: "Processing time: 2 minutes and 5 seconds"},
		{elapsed: 59*time.Minute + 59*time.Second + 900*time.Millisecond, want: "Processing time: 59 minutes and 59 seconds"},
		{elapsed: 61 * time.Second, fromCache: true, want: "Processing time: 1 minutes and 1 seconds (cache)"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, ElapsedLabel(tt.elapsed, tt.fromCache))
		})
	}
}
