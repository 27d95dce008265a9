package domain

import "time"

// EventType identifies what an Event reports
type EventType string

const (
	EventProgress EventType = "progress"
	EventError    EventType = "error"
	EventNotice   EventType = "notice"
	EventComplete EventType = "complete"
)

// Event is emitted by the orchestrator for the presentation loop
type Event struct {
	JobID          string         `json:"job_id"`
	Type           EventType      `json:"type"`
	Stage          Stage          `json:"stage"`
	Percent        float64        `json:"percent,omitempty"`
	Message        string         `json:"message,omitempty"`
	Kind           Kind           `json:"kind,omitempty"`
	Classification Classification `json:"classification,omitempty"`
	Result         *Result        `json:"result,omitempty"`
	Time           time.Time      `json:"time"`
}

// PollState is the tag of a single poll attempt outcome
type PollState int

const (
	PollPending PollState = iota
	PollSuccess
	PollFailed
)

// PollOutcome is the result of one poll attempt
type PollOutcome[T any] struct {
	State     PollState
	Payload   T
	Reason    string
	Retryable bool
}

// Succeeded builds a successful poll outcome
func Succeeded[T any](payload T) PollOutcome[T] {
	return PollOutcome[T]{State: PollSuccess, Payload: payload}
}

// StillPending builds a pending poll outcome
func StillPending[T any]() PollOutcome[T] {
	return PollOutcome[T]{State: PollPending}
}

// Failed builds a failed poll outcome
func Failed[T any](reason string, retryable bool) PollOutcome[T] {
	return PollOutcome[T]{State: PollFailed, Reason: reason, Retryable: retryable}
}
