package domain

import "time"

// Job is one end-to-end request from source URL to chapters
type Job struct {
	ID           string
	SourceRef    string
	Identity     Identity
	ContentKey   string
	FilenameID   string
	TaskID       string
	Transcript   string
	Artifact     *Artifact
	Cache        CacheStatus
	Stage        Stage
	Status       string
	StartedAt    time.Time
	FromCache    bool
	CreditsOK    bool
	FailedStage  Stage
	Err          *ProcessError
	Result       *Result
	StageSkipped map[Stage]bool
}

// Identity is the user on whose balance the job runs
type Identity struct {
	UserID string `json:"user_id"`
}

// Session is a freshly validated access token and the user it belongs to
type Session struct {
	AccessToken string
	UserID      string
}

// Artifact is the locally acquired audio file
type Artifact struct {
	Path     string  `json:"path"`
	Filename string  `json:"filename"`
	Duration float64 `json:"duration_seconds"`
}

// UploadReceipt is the parsed upload response
type UploadReceipt struct {
	FilenameID string `json:"filename_id"`
	TaskID     string `json:"task_id,omitempty"`
	Error      string `json:"error,omitempty"`
}

// CacheStatus is a read-only snapshot of what the remote side already holds
// for a content key
type CacheStatus struct {
	HasAudio           bool       `json:"has_audio"`
	HasTranscript      bool       `json:"has_transcript"`
	HasChapters        bool       `json:"has_chapters"`
	ProcessingComplete bool       `json:"processing_complete"`
	VideoID            string     `json:"video_id,omitempty"`
	CreatedAt          *time.Time `json:"created_at,omitempty"`
}

// Chapter is a single timecoded chapter title
type Chapter struct {
	Timecode string `json:"timecode"`
	Title    string `json:"title"`
}

// ChapterSet is the chapters-status endpoint payload
type ChapterSet struct {
	Status   string    `json:"status"`
	Chapters []Chapter `json:"chapters"`
}

// TaskStatus is the task-status endpoint payload
type TaskStatus struct {
	Result string `json:"result"`
	Error  string `json:"error,omitempty"`
}

// Notice is a non-fault message for the user (credit denial, background
// chapter generation)
type Notice struct {
	Kind    Kind    `json:"kind"`
	Message string  `json:"message"`
	Reason  string  `json:"reason,omitempty"`
	Cost    float64 `json:"required_cost,omitempty"`
	Balance float64 `json:"available_balance,omitempty"`
}

// Result is the terminal outcome of a job that did not fail
type Result struct {
	JobID        string        `json:"job_id"`
	Status       string        `json:"status"`
	ArtifactPath string        `json:"artifact_path,omitempty"`
	Chapters     []Chapter     `json:"chapters"`
	Elapsed      time.Duration `json:"elapsed"`
	ElapsedLabel string        `json:"elapsed_label,omitempty"`
	FromCache    bool          `json:"from_cache"`
	Notice       *Notice       `json:"notice,omitempty"`
}

// Service is a remote dependency checked before every run
type Service struct {
	Name     string `json:"name" yaml:"name"`
	Endpoint string `json:"endpoint" yaml:"endpoint"`
}

// Service availability values
const (
	ServiceOnline  = "online"
	ServiceOffline = "offline"
)

// ServiceStatus is the reachability verdict for one service
type ServiceStatus struct {
	Name   string `json:"name"`
	Status string `json:"status"`
}

// CreditDecision is the outcome of a credit gate evaluation
type CreditDecision struct {
	Authorized bool
	Required   float64
	Available  float64
	Reason     string
}
