package budget

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/pietro1412/fantacontratti/internal/fault"
)

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) GetBudget(ctx context.Context, memberID uuid.UUID) (int, error) {
	var budget int
	err := r.db.QueryRowContext(ctx,
		`SELECT budget FROM members WHERE id = $1`, memberID).Scan(&budget)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, fault.ErrNotFound
		}
		return 0, fmt.Errorf("failed to get budget: %w", err)
	}
	return budget, nil
}

// Debit removes amount from the member's budget. The guard keeps settled
// budgets non-negative; admin adjustments go through ApplyAdjustment instead.
func (r *Repository) Debit(ctx context.Context, memberID uuid.UUID, amount int) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE members SET budget = budget - $2, updated_at = now()
		 WHERE id = $1 AND budget >= $2`, memberID, amount)
	if err != nil {
		return fmt.Errorf("failed to debit budget: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fault.ErrInsufficientFunds
	}
	return nil
}

func (r *Repository) Credit(ctx context.Context, memberID uuid.UUID, amount int) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE members SET budget = budget + $2, updated_at = now()
		 WHERE id = $1`, memberID, amount)
	if err != nil {
		return fmt.Errorf("failed to credit budget: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fault.ErrNotFound
	}
	return nil
}

// ApplyAdjustment applies an admin prize or penalty. It is the only write
// that may push a budget negative.
func (r *Repository) ApplyAdjustment(ctx context.Context, memberID uuid.UUID, delta int) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE members SET budget = budget + $2, updated_at = now()
		 WHERE id = $1`, memberID, delta)
	if err != nil {
		return fmt.Errorf("failed to apply adjustment: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fault.ErrNotFound
	}
	return nil
}
