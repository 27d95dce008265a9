package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"
)

// Storage reads prepaid credit balances
type Storage struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStorage creates a new Storage instance
func NewStorage(db *sqlx.DB, logger *slog.Logger) *Storage {
	return &Storage{
		db:     db,
		logger: logger,
	}
}

// Balance returns the credit balance of a user. A user without a credits
// row has a zero balance.
func (s *Storage) Balance(ctx context.Context, userID string) (float64, error) {
	query := `
		SELECT credits
		FROM credits
		WHERE user_id = $1
	`

	var balance sql.NullFloat64
	err := s.db.QueryRowContext(ctx, query, userID).Scan(&balance)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.logger.Debug("No credits row for user",
				slog.String("user_id", userID),
			)
			return 0, nil
		}
		return 0, fmt.Errorf("failed to get credit balance: %w", err)
	}

	if !balance.Valid {
		return 0, nil
	}

	s.logger.Debug("Credit balance loaded",
		slog.String("user_id", userID),
		slog.Float64("credits", balance.Float64),
	)

	return balance.Float64, nil
}
