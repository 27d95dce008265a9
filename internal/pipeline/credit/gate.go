package credit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/cuongbtq/chapterize/internal/pipeline/domain"
)

// DefaultPricePerMinute is charged for every started minute of audio
const DefaultPricePerMinute = 0.04

// ErrUnknownDuration is returned for media whose length could not be measured
var ErrUnknownDuration = errors.New("media duration is unknown")

// BalanceLookup returns the credit balance of a user
type BalanceLookup interface {
	Balance(ctx context.Context, userID string) (float64, error)
}

// SessionSource issues a freshly validated identity token and names the
// user it belongs to
type SessionSource interface {
	Session(ctx context.Context) (domain.Session, error)
}

// Config holds credit gate configuration
type Config struct {
	Logger         *slog.Logger
	PricePerMinute float64
	Sessions       SessionSource
	Balances       BalanceLookup
}

// Gate decides whether a job may spend credits on a piece of media
type Gate struct {
	logger         *slog.Logger
	pricePerMinute float64
	sessions       SessionSource
	balances       BalanceLookup
}

// NewGate creates a new Gate
func NewGate(cfg *Config) *Gate {
	price := cfg.PricePerMinute
	if price <= 0 {
		price = DefaultPricePerMinute
	}
	return &Gate{
		logger:         cfg.Logger,
		pricePerMinute: price,
		sessions:       cfg.Sessions,
		balances:       cfg.Balances,
	}
}

// Cost returns ceil(durationSeconds/60) × pricePerMinute
func Cost(durationSeconds, pricePerMinute float64) float64 {
	if durationSeconds <= 0 {
		return 0
	}
	minutes := math.Ceil(durationSeconds / 60)
	return math.Round(minutes*pricePerMinute*1e6) / 1e6
}

// Authorize compares the cost of the media against the balance of the
// session user. An identity naming a different user than the session is
// denied as unauthenticated; an empty identity takes the session user.
// A denial is a normal outcome, not an error; the error return is reserved
// for media without a duration and a balance source that could not be read.
func (g *Gate) Authorize(ctx context.Context, identity domain.Identity, durationSeconds float64) (domain.CreditDecision, error) {
	if durationSeconds <= 0 {
		return domain.CreditDecision{}, fmt.Errorf("%w: %.1f seconds", ErrUnknownDuration, durationSeconds)
	}
	required := Cost(durationSeconds, g.pricePerMinute)
	unauthenticated := domain.CreditDecision{Required: required, Reason: domain.DenyUnauthenticated}

	if g.sessions == nil {
		return unauthenticated, nil
	}
	session, err := g.sessions.Session(ctx)
	if err != nil {
		g.logger.Warn("Token refresh failed, denying credits",
			slog.String("user_id", identity.UserID),
			slog.String("error", err.Error()),
		)
		return unauthenticated, nil
	}

	if identity.UserID == "" {
		identity.UserID = session.UserID
	}
	if identity.UserID == "" || identity.UserID != session.UserID {
		g.logger.Warn("Identity does not match the session, denying credits",
			slog.String("user_id", identity.UserID),
			slog.String("session_user_id", session.UserID),
		)
		return unauthenticated, nil
	}

	available, err := g.balances.Balance(ctx, identity.UserID)
	if err != nil {
		return domain.CreditDecision{}, fmt.Errorf("failed to read credit balance: %w", err)
	}

	decision := domain.CreditDecision{
		Authorized: available >= required,
		Required:   required,
		Available:  available,
	}
	if !decision.Authorized {
		decision.Reason = domain.DenyInsufficientCredits
	}

	g.logger.Info("Credit gate evaluated",
		slog.String("user_id", identity.UserID),
		slog.Float64("duration_seconds", durationSeconds),
		slog.Float64("required", required),
		slog.Float64("available", available),
		slog.Bool("authorized", decision.Authorized),
	)

	return decision, nil
}
