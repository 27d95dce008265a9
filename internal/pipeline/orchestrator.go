package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cuongbtq/chapterize/internal/pipeline/domain"
	"github.com/cuongbtq/chapterize/internal/pipeline/poller"
	"github.com/google/uuid"
)

// HealthChecker reports reachability of the remote services
type HealthChecker interface {
	CheckAll(ctx context.Context, services []domain.Service) []domain.ServiceStatus
}

// Acquirer fetches the source media into a local artifact
type Acquirer interface {
	Acquire(ctx context.Context, sourceURL string) (*domain.Artifact, error)
}

// CacheProber reports what the remote side already holds for a content key
type CacheProber interface {
	Snapshot(ctx context.Context, key string) domain.CacheStatus
}

// CreditAuthorizer decides whether a job may spend credits
type CreditAuthorizer interface {
	Authorize(ctx context.Context, identity domain.Identity, durationSeconds float64) (domain.CreditDecision, error)
}

// TokenSource issues a fresh auth token for every mutating call
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Uploader sends the artifact to the transcription service
type Uploader interface {
	Upload(ctx context.Context, artifactPath, authToken string) (*domain.UploadReceipt, error)
}

// TranscriptionService starts transcriptions and serves transcripts
type TranscriptionService interface {
	TriggerTranscription(ctx context.Context, filenameID, authToken string) (string, error)
	Transcript(ctx context.Context, filenameID string) (string, error)
}

// TaskTracker reads remote task state
type TaskTracker interface {
	TaskStatus(ctx context.Context, taskID string) (*domain.TaskStatus, error)
}

// ChapterService generates and serves chapters
type ChapterService interface {
	GenerateChapters(ctx context.Context, filenameID, transcript, authToken string) (string, error)
	Chapters(ctx context.Context, key string) (*domain.ChapterSet, error)
}

// PollConfig is the backoff schedule of one polled stage
type PollConfig struct {
	MaxAttempts  int
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
}

// DefaultPollConfig waits 3s, then ×1.5 per attempt up to 30s, 10 attempts
var DefaultPollConfig = PollConfig{
	MaxAttempts:  10,
	InitialDelay: 3 * time.Second,
	Multiplier:   1.5,
	MaxDelay:     30 * time.Second,
}

const (
	defaultSettleDelay = 2 * time.Second
	defaultEventBuffer = 64
)

// Config holds orchestrator dependencies and tuning
type Config struct {
	Logger   *slog.Logger
	Services []domain.Service

	Health        HealthChecker
	Acquirer      Acquirer
	Cache         CacheProber
	Credits       CreditAuthorizer
	Tokens        TokenSource
	Uploader      Uploader
	Transcription TranscriptionService
	Tasks         TaskTracker
	Chapters      ChapterService

	TranscriptionPoll PollConfig
	ChaptersPoll      PollConfig
	SettleDelay       time.Duration
	EventBuffer       int

	// Sleep replaces the real timer, mostly in tests
	Sleep poller.SleepFunc
}

// Request starts a new job
type Request struct {
	SourceURL string
	UserID    string
}

// Orchestrator runs one chaptering job at a time and reports on Events
type Orchestrator struct {
	logger   *slog.Logger
	services []domain.Service

	health        HealthChecker
	acquirer      Acquirer
	cache         CacheProber
	credits       CreditAuthorizer
	tokens        TokenSource
	uploader      Uploader
	transcription TranscriptionService
	tasks         TaskTracker
	chapters      ChapterService

	transcriptionPoll PollConfig
	chaptersPoll      PollConfig
	settleDelay       time.Duration
	sleep             poller.SleepFunc
	now               func() time.Time
	newID             func() string

	events chan domain.Event

	mu      sync.Mutex
	running bool
	last    *domain.Job

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewOrchestrator creates a new Orchestrator
func NewOrchestrator(cfg *Config) *Orchestrator {
	buffer := cfg.EventBuffer
	if buffer <= 0 {
		buffer = defaultEventBuffer
	}
	settle := cfg.SettleDelay
	if settle < 0 {
		settle = 0
	} else if settle == 0 {
		settle = defaultSettleDelay
	}
	sleep := cfg.Sleep
	if sleep == nil {
		sleep = poller.Sleep
	}

	baseCtx, cancel := context.WithCancel(context.Background())

	return &Orchestrator{
		logger:            cfg.Logger,
		services:          cfg.Services,
		health:            cfg.Health,
		acquirer:          cfg.Acquirer,
		cache:             cfg.Cache,
		credits:           cfg.Credits,
		tokens:            cfg.Tokens,
		uploader:          cfg.Uploader,
		transcription:     cfg.Transcription,
		tasks:             cfg.Tasks,
		chapters:          cfg.Chapters,
		transcriptionPoll: withPollDefaults(cfg.TranscriptionPoll),
		chaptersPoll:      withPollDefaults(cfg.ChaptersPoll),
		settleDelay:       settle,
		sleep:             sleep,
		now:               time.Now,
		newID:             uuid.NewString,
		events:            make(chan domain.Event, buffer),
		baseCtx:           baseCtx,
		cancel:            cancel,
	}
}

func withPollDefaults(p PollConfig) PollConfig {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultPollConfig.MaxAttempts
	}
	if p.InitialDelay <= 0 {
		p.InitialDelay = DefaultPollConfig.InitialDelay
	}
	if p.Multiplier < 1 {
		p.Multiplier = DefaultPollConfig.Multiplier
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = DefaultPollConfig.MaxDelay
	}
	return p
}

// Events is the stream consumed by the presentation loop
func (o *Orchestrator) Events() <-chan domain.Event {
	return o.events
}

// Busy reports whether a job is in flight
func (o *Orchestrator) Busy() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.running
}

// Run executes a new job and blocks until it reaches a terminal state.
// A denied job returns a result with status DENIED and no error.
func (o *Orchestrator) Run(ctx context.Context, req Request) (*domain.Result, error) {
	job, err := o.begin(req)
	if err != nil {
		return nil, err
	}
	defer o.release()
	return o.execute(ctx, job, domain.StageServiceCheck)
}

// Start executes a new job in the background and returns its id
func (o *Orchestrator) Start(req Request) (string, error) {
	job, err := o.begin(req)
	if err != nil {
		return "", err
	}

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer o.release()
		_, _ = o.execute(o.baseCtx, job, domain.StageServiceCheck)
	}()
	return job.ID, nil
}

// Retry re-enters the last failed or denied job at stage and blocks until
// it reaches a terminal state
func (o *Orchestrator) Retry(ctx context.Context, stage domain.Stage) (*domain.Result, error) {
	job, err := o.beginRetry(ctx, stage)
	if err != nil {
		return nil, err
	}
	defer o.release()
	return o.execute(ctx, job, job.Stage)
}

// StartRetry is Retry in the background
func (o *Orchestrator) StartRetry(stage domain.Stage) (string, error) {
	job, err := o.beginRetry(o.baseCtx, stage)
	if err != nil {
		return "", err
	}

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer o.release()
		_, _ = o.execute(o.baseCtx, job, job.Stage)
	}()
	return job.ID, nil
}

// Shutdown stops background jobs and waits for them to return
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.cancel()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *Orchestrator) begin(req Request) (*domain.Job, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.running {
		return nil, domain.ErrJobInProgress
	}

	job := &domain.Job{
		ID:           o.newID(),
		SourceRef:    req.SourceURL,
		Identity:     domain.Identity{UserID: req.UserID},
		Status:       domain.JobStatusRunning,
		StartedAt:    o.now(),
		StageSkipped: make(map[domain.Stage]bool),
	}
	o.running = true
	o.last = job
	return job, nil
}

func (o *Orchestrator) beginRetry(ctx context.Context, stage domain.Stage) (*domain.Job, error) {
	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		return nil, domain.ErrJobInProgress
	}
	last := o.last
	if last == nil || (last.Status != domain.JobStatusFailed && last.Status != domain.JobStatusDenied) {
		o.mu.Unlock()
		return nil, domain.ErrNothingToRetry
	}
	if stage > last.FailedStage {
		o.mu.Unlock()
		return nil, domain.ErrInvalidRetryStage
	}
	o.running = true
	o.mu.Unlock()

	job := resetForRetry(last, stage, o.now())

	if stage > domain.StageCacheCheck && job.ContentKey != "" {
		cache := o.cache.Snapshot(ctx, job.ContentKey)
		if from := reentryStage(last, cache, stage); from < stage {
			o.logger.Warn("Cache no longer confirms earlier stages, re-entering sooner",
				slog.String("job_id", job.ID),
				slog.String("requested_stage", stage.String()),
				slog.String("from_stage", from.String()),
				slog.Bool("has_audio", cache.HasAudio),
				slog.Bool("has_transcript", cache.HasTranscript),
			)
			job = resetForRetry(last, from, o.now())
		}
		job.Cache = cache
	}

	o.logger.Info("Retrying job",
		slog.String("job_id", job.ID),
		slog.String("from_stage", job.Stage.String()),
		slog.String("failed_stage", last.FailedStage.String()),
	)

	o.mu.Lock()
	o.last = job
	o.mu.Unlock()
	return job, nil
}

// reentryStage lowers stage to the earliest stage whose output the cache
// snapshot no longer confirms
func reentryStage(last *domain.Job, cache domain.CacheStatus, stage domain.Stage) domain.Stage {
	if stage > domain.StageUpload && !cache.HasAudio {
		if last.CreditsOK {
			return domain.StageUpload
		}
		return domain.StageGate
	}
	if stage > domain.StageTranscribe && !cache.HasTranscript {
		return domain.StageTranscribe
	}
	return stage
}

// resetForRetry copies the job, keeping what stages before stage produced
func resetForRetry(last *domain.Job, stage domain.Stage, now time.Time) *domain.Job {
	job := *last
	job.Status = domain.JobStatusRunning
	job.Err = nil
	job.Result = nil
	job.Stage = stage
	job.StartedAt = now

	job.StageSkipped = make(map[domain.Stage]bool)
	for s, skipped := range last.StageSkipped {
		if s < stage && skipped {
			job.StageSkipped[s] = true
		}
	}

	if stage <= domain.StageAcquire {
		job.Artifact = nil
		job.ContentKey = ""
		job.Cache = domain.CacheStatus{}
	}
	if stage <= domain.StageGate {
		job.CreditsOK = false
	}
	if stage <= domain.StageUpload {
		job.FilenameID = ""
	}
	if stage <= domain.StageTranscribe {
		job.TaskID = ""
		job.Transcript = ""
	}
	return &job
}

func (o *Orchestrator) release() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.running = false
}
