package dto

import (
	"time"

	"github.com/cuongbtq/chapterize/internal/pipeline/domain"
)

type CreateJobRequest struct {
	SourceURL string `json:"source_url" binding:"required"`
	UserID    string `json:"user_id"`
}

type RetryJobRequest struct {
	Stage string `json:"stage" binding:"required"`
}

type JobAcceptedResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
	Stage  string `json:"stage,omitempty"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

type ServicesStatusResponse struct {
	Services []domain.ServiceStatus `json:"services"`
	Offline  []string               `json:"offline"`
}

type JobErrorDTO struct {
	Stage          string `json:"stage"`
	Kind           string `json:"kind"`
	Classification string `json:"classification"`
	Message        string `json:"message"`
}

type JobDTO struct {
	JobID     string         `json:"job_id"`
	Stage     string         `json:"stage"`
	Percent   float64        `json:"percent"`
	Status    string         `json:"status"`
	Error     *JobErrorDTO   `json:"error,omitempty"`
	Notice    *domain.Notice `json:"notice,omitempty"`
	Result    *domain.Result `json:"result,omitempty"`
	UpdatedAt string         `json:"updated_at"`
}

// FormatTime renders snapshot timestamps
func FormatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
