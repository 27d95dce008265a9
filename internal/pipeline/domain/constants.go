package domain

import "fmt"

// Stage is one ordered step of the chaptering pipeline
type Stage int

const (
	StageServiceCheck Stage = iota
	StageAcquire
	StageCacheCheck
	StageGate
	StageUpload
	StageTranscribe
	StageExtractChapters
	StageComplete
)

var stageNames = map[Stage]string{
	StageServiceCheck:    "service_check",
	StageAcquire:         "acquire",
	StageCacheCheck:      "cache_check",
	StageGate:            "gate",
	StageUpload:          "upload",
	StageTranscribe:      "transcription",
	StageExtractChapters: "chapters",
	StageComplete:        "complete",
}

// Stages lists every stage in pipeline order
var Stages = []Stage{
	StageServiceCheck,
	StageAcquire,
	StageCacheCheck,
	StageGate,
	StageUpload,
	StageTranscribe,
	StageExtractChapters,
	StageComplete,
}

func (s Stage) String() string {
	if name, ok := stageNames[s]; ok {
		return name
	}
	return fmt.Sprintf("stage(%d)", int(s))
}

// ParseStage converts a wire name back into a Stage
func ParseStage(name string) (Stage, error) {
	for stage, n := range stageNames {
		if n == name {
			return stage, nil
		}
	}
	return 0, fmt.Errorf("unknown stage %q", name)
}

func (s Stage) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Stage) UnmarshalText(text []byte) error {
	parsed, err := ParseStage(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Job status constants
const (
	JobStatusIdle      = "IDLE"
	JobStatusRunning   = "RUNNING"
	JobStatusCompleted = "COMPLETED"
	JobStatusFailed    = "FAILED"
	JobStatusDenied    = "DENIED"
)

// Classification tells the caller how a failure should be presented and
// whether resubmitting may help
type Classification string

const (
	ClassTransient     Classification = "transient"
	ClassQuotaExceeded Classification = "quota_exceeded"
	ClassRateLimited   Classification = "rate_limited"
	ClassTerminal      Classification = "terminal"
	ClassUnknown       Classification = "unknown"
)

// Kind is the error taxonomy surfaced to the presentation layer
type Kind string

const (
	KindServiceUnavailable         Kind = "service_unavailable"
	KindCreditDenied               Kind = "credit_denied"
	KindAcquisitionFailed          Kind = "acquisition_failed"
	KindUploadFailed               Kind = "upload_failed"
	KindTranscriptionFailed        Kind = "transcription_failed"
	KindChaptersFailed             Kind = "chapters_failed"
	KindChaptersTimedOutBackground Kind = "chapters_timed_out_background"
	KindQuotaExceeded              Kind = "quota_exceeded"
	KindRateLimited                Kind = "rate_limited"
	KindUnknown                    Kind = "unknown"
)

// Remote task results reported by the task-status endpoint
const (
	TaskPending     = "pending"
	TaskSuccess     = "success"
	TaskFailure     = "failure"
	TaskTerminated  = "terminated"
	TaskTimeout     = "timeout"
	TaskInitFailure = "init_failure"
	TaskExpired     = "expired"
	TaskError       = "error"
)

// Transcription failure reasons that do not come from the remote task
const (
	ReasonServerError  = "server_error"
	ReasonWaitExceeded = "wait_exceeded"
)

// Denial reasons
const (
	DenyInsufficientCredits = "insufficient_credits"
	DenyUnauthenticated     = "unauthenticated"
)
