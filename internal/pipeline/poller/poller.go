package poller

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cuongbtq/chapterize/internal/pipeline/domain"
)

// Status is the terminal outcome of a polling loop
type Status int

const (
	StatusSucceeded Status = iota
	StatusTimedOut
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusSucceeded:
		return "succeeded"
	case StatusTimedOut:
		return "timed_out"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// progressShare is the part of the bar polling may fill; the remainder is
// reserved for the confirmed success transition
const progressShare = 90.0

// SleepFunc waits for d or until ctx is done
type SleepFunc func(ctx context.Context, d time.Duration) error

// Options holds polling configuration
type Options struct {
	MaxAttempts  int
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	OnProgress   func(percent float64)
	Sleep        SleepFunc
	Logger       *slog.Logger
	Name         string
}

// Result is what Poll returns
type Result[T any] struct {
	Status   Status
	Payload  T
	Reason   string
	Attempts int
}

// Poll calls attempt until it succeeds, fails without retry, or maxAttempts
// is reached. The first attempt fires immediately; later attempts wait an
// exponentially growing delay capped at MaxDelay.
func Poll[T any](ctx context.Context, opts Options, attempt func(ctx context.Context, n int) domain.PollOutcome[T]) Result[T] {
	opts = normalize(opts)
	delays := newSchedule(opts)

	var result Result[T]
	for n := 1; n <= opts.MaxAttempts; n++ {
		result.Attempts = n
		if opts.OnProgress != nil {
			opts.OnProgress(float64(n) / float64(opts.MaxAttempts) * progressShare)
		}

		outcome := attempt(ctx, n)
		switch outcome.State {
		case domain.PollSuccess:
			result.Status = StatusSucceeded
			result.Payload = outcome.Payload
			return result
		case domain.PollFailed:
			if !outcome.Retryable {
				opts.Logger.Warn("Poll attempt failed, not retrying",
					slog.String("poll", opts.Name),
					slog.Int("attempt", n),
					slog.String("reason", outcome.Reason),
				)
				result.Status = StatusFailed
				result.Reason = outcome.Reason
				return result
			}
			result.Reason = outcome.Reason
		}

		if n == opts.MaxAttempts {
			break
		}

		delay := delays.NextBackOff()
		opts.Logger.Debug("Poll attempt pending",
			slog.String("poll", opts.Name),
			slog.Int("attempt", n),
			slog.Int("max_attempts", opts.MaxAttempts),
			slog.Duration("retry_after", delay),
		)
		if err := opts.Sleep(ctx, delay); err != nil {
			result.Status = StatusFailed
			result.Reason = err.Error()
			return result
		}
	}

	result.Status = StatusTimedOut
	return result
}

// newSchedule builds a deterministic exponential delay sequence
func newSchedule(opts Options) *backoff.ExponentialBackOff {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     opts.InitialDelay,
		RandomizationFactor: 0,
		Multiplier:          opts.Multiplier,
		MaxInterval:         opts.MaxDelay,
		MaxElapsedTime:      0,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}
	b.Reset()
	return b
}

func normalize(opts Options) Options {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 1
	}
	if opts.Multiplier < 1 {
		opts.Multiplier = 1
	}
	if opts.InitialDelay < 0 {
		opts.InitialDelay = 0
	}
	if opts.MaxDelay < opts.InitialDelay {
		opts.MaxDelay = opts.InitialDelay
	}
	if opts.Sleep == nil {
		opts.Sleep = Sleep
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	return opts
}

// Sleep waits for d, returning early with ctx.Err() when ctx is done
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// pendingMarkers are error fragments meaning the remote artifact is not
// ready yet rather than broken
var pendingMarkers = []string{
	"not found",
	"still processing",
}

// IsPendingError reports whether err reads like "not ready yet"
func IsPendingError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range pendingMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// FromError turns an attempt error into a failed outcome, retryable only
// for the known "not ready yet" messages
func FromError[T any](err error) domain.PollOutcome[T] {
	return domain.Failed[T](err.Error(), IsPendingError(err))
}
