package budget

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// BudgetRepository defines what the app layer needs from the budget repository
type BudgetRepository interface {
	GetBudget(ctx context.Context, memberID uuid.UUID) (int, error)
	Debit(ctx context.Context, memberID uuid.UUID, amount int) error
	Credit(ctx context.Context, memberID uuid.UUID, amount int) error
	ApplyAdjustment(ctx context.Context, memberID uuid.UUID, delta int) error
}

// App is the budget ledger. Settlement debits and credits run inside the
// auction settlement transaction; the operations here cover reads and
// out-of-settlement mutations.
type App struct {
	repo BudgetRepository
}

// NewApp creates a new budget App
func NewApp(repo BudgetRepository) *App {
	return &App{repo: repo}
}

// GetBudget returns the member's current spendable budget
func (a *App) GetBudget(ctx context.Context, memberID uuid.UUID) (int, error) {
	return a.repo.GetBudget(ctx, memberID)
}

// Debit removes amount from the member's budget, failing if uncovered
func (a *App) Debit(ctx context.Context, memberID uuid.UUID, amount int) error {
	if amount <= 0 {
		return fmt.Errorf("debit amount must be positive")
	}
	return a.repo.Debit(ctx, memberID, amount)
}

// Credit adds amount to the member's budget
func (a *App) Credit(ctx context.Context, memberID uuid.UUID, amount int) error {
	if amount <= 0 {
		return fmt.Errorf("credit amount must be positive")
	}
	return a.repo.Credit(ctx, memberID, amount)
}

// ApplyAdjustment applies an admin prize (positive) or penalty (negative)
func (a *App) ApplyAdjustment(ctx context.Context, memberID uuid.UUID, delta int) error {
	if delta == 0 {
		return fmt.Errorf("adjustment delta must be non-zero")
	}
	return a.repo.ApplyAdjustment(ctx, memberID, delta)
}
