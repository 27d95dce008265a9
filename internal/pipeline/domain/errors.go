package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrJobInProgress is returned when a run or retry is requested while a job is active
	ErrJobInProgress = errors.New("job already in progress")

	// ErrNothingToRetry is returned when retry is requested without a failed job
	ErrNothingToRetry = errors.New("no failed job to retry")

	// ErrInvalidRetryStage is returned when retry targets a stage past the failure point
	ErrInvalidRetryStage = errors.New("retry stage is past the failed stage")

	// ErrInvalidSourceURL is returned when no video ID can be extracted from a URL
	ErrInvalidSourceURL = errors.New("invalid source url")
)

// ProcessError is a pipeline fault tagged with the stage it occurred in
type ProcessError struct {
	Stage          Stage
	Kind           Kind
	Reason         string
	Message        string
	Classification Classification
	Err            error
}

func (e *ProcessError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s: %s (%s): %s", e.Stage, e.Kind, e.Reason, e.Message)
	}
	return fmt.Sprintf("%s: %s: %s", e.Stage, e.Kind, e.Message)
}

func (e *ProcessError) Unwrap() error {
	return e.Err
}

// NewProcessError creates a ProcessError wrapping the underlying cause
func NewProcessError(stage Stage, kind Kind, class Classification, err error) *ProcessError {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return &ProcessError{
		Stage:          stage,
		Kind:           kind,
		Message:        msg,
		Classification: class,
		Err:            err,
	}
}
