package pipeline

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/cuongbtq/chapterize/internal/pipeline/domain"
)

type fakeHealth struct {
	offline map[string]bool
	calls   int
}

func (f *fakeHealth) CheckAll(ctx context.Context, services []domain.Service) []domain.ServiceStatus {
	f.calls++
	statuses := make([]domain.ServiceStatus, 0, len(services))
	for _, svc := range services {
		status := domain.ServiceOnline
		if f.offline[svc.Name] {
			status = domain.ServiceOffline
		}
		statuses = append(statuses, domain.ServiceStatus{Name: svc.Name, Status: status})
	}
	return statuses
}

type fakeAcquirer struct {
	artifact *domain.Artifact
	err      error
	calls    int
	// block, when set, holds Acquire until closed
	block   chan struct{}
	started chan struct{}
}

func (f *fakeAcquirer) Acquire(ctx context.Context, sourceURL string) (*domain.Artifact, error) {
	f.calls++
	if f.started != nil {
		close(f.started)
		f.started = nil
	}
	if f.block != nil {
		<-f.block
	}
	if f.err != nil {
		return nil, f.err
	}
	artifact := *f.artifact
	return &artifact, nil
}

type fakeCache struct {
	status domain.CacheStatus
	keys   []string
}

func (f *fakeCache) Snapshot(ctx context.Context, key string) domain.CacheStatus {
	f.keys = append(f.keys, key)
	return f.status
}

type fakeCredits struct {
	decision domain.CreditDecision
	err      error
	calls    int
}

func (f *fakeCredits) Authorize(ctx context.Context, identity domain.Identity, durationSeconds float64) (domain.CreditDecision, error) {
	f.calls++
	return f.decision, f.err
}

type fakeTokens struct {
	err   error
	calls int
}

func (f *fakeTokens) Token(ctx context.Context) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return "tok", nil
}

type fakeTranscriber struct {
	receipt   *domain.UploadReceipt
	uploadErr error
	uploads   int

	triggerTaskID string
	triggerErr    error
	triggers      []string

	transcript    string
	transcriptErr error
	transcripts   int
}

func (f *fakeTranscriber) Upload(ctx context.Context, artifactPath, authToken string) (*domain.UploadReceipt, error) {
	f.uploads++
	if f.uploadErr != nil {
		return nil, f.uploadErr
	}
	receipt := *f.receipt
	return &receipt, nil
}

func (f *fakeTranscriber) TriggerTranscription(ctx context.Context, filenameID, authToken string) (string, error) {
	f.triggers = append(f.triggers, filenameID)
	return f.triggerTaskID, f.triggerErr
}

func (f *fakeTranscriber) Transcript(ctx context.Context, filenameID string) (string, error) {
	f.transcripts++
	return f.transcript, f.transcriptErr
}

// fakeTasks replays statuses; the last one repeats forever
type fakeTasks struct {
	statuses []domain.TaskStatus
	err      error
	calls    []string
}

func (f *fakeTasks) TaskStatus(ctx context.Context, taskID string) (*domain.TaskStatus, error) {
	f.calls = append(f.calls, taskID)
	if f.err != nil {
		return nil, f.err
	}
	i := len(f.calls) - 1
	if i >= len(f.statuses) {
		i = len(f.statuses) - 1
	}
	status := f.statuses[i]
	return &status, nil
}

// fakeChapters replays chapter sets; the last one repeats forever
type fakeChapters struct {
	generateErr error
	generated   []string
	sets        []domain.ChapterSet
	fetchErr    error
	fetches     []string
}

func (f *fakeChapters) GenerateChapters(ctx context.Context, filenameID, transcript, authToken string) (string, error) {
	f.generated = append(f.generated, filenameID+":"+transcript)
	if f.generateErr != nil {
		return "", f.generateErr
	}
	return "ch-task", nil
}

func (f *fakeChapters) Chapters(ctx context.Context, key string) (*domain.ChapterSet, error) {
	f.fetches = append(f.fetches, key)
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	i := len(f.fetches) - 1
	if i >= len(f.sets) {
		i = len(f.sets) - 1
	}
	set := f.sets[i]
	return &set, nil
}

type harness struct {
	health      *fakeHealth
	acquirer    *fakeAcquirer
	cache       *fakeCache
	credits     *fakeCredits
	tokens      *fakeTokens
	transcriber *fakeTranscriber
	tasks       *fakeTasks
	chapters    *fakeChapters

	clock  time.Time
	sleeps []time.Duration
}

var testChapters = []domain.Chapter{
	{Timecode: "00:00", Title: "Intro"},
	{Timecode: "02:10", Title: "Main topic"},
}

// newHarness wires fakes for a cold run: nothing cached, credits available,
// upload returns a task id, transcription succeeds on the second poll and
// chapters complete on the second poll
func newHarness() *harness {
	return &harness{
		health: &fakeHealth{},
		acquirer: &fakeAcquirer{artifact: &domain.Artifact{
			Path:     "/tmp/audio/dQw4w9WgXcQ.m4a",
			Filename: "dQw4w9WgXcQ.m4a",
			Duration: 125,
		}},
		cache: &fakeCache{},
		credits: &fakeCredits{decision: domain.CreditDecision{
			Authorized: true, Required: 0.12, Available: 5,
		}},
		tokens: &fakeTokens{},
		transcriber: &fakeTranscriber{
			receipt:       &domain.UploadReceipt{FilenameID: "dQw4w9WgXcQ", TaskID: "t-1"},
			triggerTaskID: "t-2",
			transcript:    "hello world",
		},
		tasks: &fakeTasks{statuses: []domain.TaskStatus{
			{Result: domain.TaskPending},
			{Result: domain.TaskSuccess},
		}},
		chapters: &fakeChapters{sets: []domain.ChapterSet{
			{Status: "processing"},
			{Status: "completed", Chapters: testChapters},
		}},
		clock: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

func (h *harness) orchestrator(t *testing.T) *Orchestrator {
	t.Helper()

	o := NewOrchestrator(&Config{
		Logger: slog.New(slog.DiscardHandler),
		Services: []domain.Service{
			{Name: "transcriber", Endpoint: "http://transcriber"},
			{Name: "chapters", Endpoint: "http://chapters"},
		},
		Health:            h.health,
		Acquirer:          h.acquirer,
		Cache:             h.cache,
		Credits:           h.credits,
		Tokens:            h.tokens,
		Uploader:          h.transcriber,
		Transcription:     h.transcriber,
		Tasks:             h.tasks,
		Chapters:          h.chapters,
		TranscriptionPoll: DefaultPollConfig,
		ChaptersPoll:      DefaultPollConfig,
		SettleDelay:       2 * time.Second,
		EventBuffer:       4096,
		Sleep: func(ctx context.Context, d time.Duration) error {
			h.sleeps = append(h.sleeps, d)
			h.clock = h.clock.Add(d)
			return ctx.Err()
		},
	})
	o.now = func() time.Time { return h.clock }
	o.newID = func() string { return "job-1" }
	return o
}

// drain collects every event buffered so far
func drain(o *Orchestrator) []domain.Event {
	var events []domain.Event
	for {
		select {
		case ev := <-o.events:
			events = append(events, ev)
		default:
			return events
		}
	}
}

type transition struct {
	Type    domain.EventType
	Stage   domain.Stage
	Percent float64
	Kind    domain.Kind
}

func transitions(events []domain.Event) []transition {
	out := make([]transition, 0, len(events))
	for _, ev := range events {
		out = append(out, transition{Type: ev.Type, Stage: ev.Stage, Percent: ev.Percent, Kind: ev.Kind})
	}
	return out
}
