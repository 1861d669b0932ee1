package league

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/pietro1412/fantacontratti/internal/fault"
	"github.com/pietro1412/fantacontratti/internal/models"
)

// LeagueRepository defines what the app layer needs from the league repository
type LeagueRepository interface {
	GetLeague(ctx context.Context, id uuid.UUID) (*models.League, error)
	UpdateLeagueStatus(ctx context.Context, id uuid.UUID, status models.LeagueStatus) error
	GetMember(ctx context.Context, id uuid.UUID) (*models.Member, error)
	ListActiveMembers(ctx context.Context, leagueID uuid.UUID) ([]models.Member, error)
}

// App handles league and membership lookups used by the market engine
type App struct {
	repo LeagueRepository
}

// NewApp creates a new league App
func NewApp(repo LeagueRepository) *App {
	return &App{repo: repo}
}

// GetLeague retrieves a league by ID
func (a *App) GetLeague(ctx context.Context, id uuid.UUID) (*models.League, error) {
	return a.repo.GetLeague(ctx, id)
}

// GetMember retrieves a member by ID
func (a *App) GetMember(ctx context.Context, id uuid.UUID) (*models.Member, error) {
	return a.repo.GetMember(ctx, id)
}

// ActiveMembers returns the active members of a league ordered by rubata turn position
func (a *App) ActiveMembers(ctx context.Context, leagueID uuid.UUID) ([]models.Member, error) {
	members, err := a.repo.ListActiveMembers(ctx, leagueID)
	if err != nil {
		return nil, fmt.Errorf("failed to get active members: %w", err)
	}
	return members, nil
}

// RequireAdmin verifies that the member exists, belongs to the league and
// holds the admin role.
func (a *App) RequireAdmin(ctx context.Context, leagueID, memberID uuid.UUID) (*models.Member, error) {
	member, err := a.repo.GetMember(ctx, memberID)
	if err != nil {
		return nil, err
	}
	if member.LeagueID != leagueID || member.Role != models.MemberRoleAdmin {
		return nil, fault.ErrUnauthorized
	}
	return member, nil
}

// RequireActiveMember verifies that the member exists, belongs to the league
// and is active.
func (a *App) RequireActiveMember(ctx context.Context, leagueID, memberID uuid.UUID) (*models.Member, error) {
	member, err := a.repo.GetMember(ctx, memberID)
	if err != nil {
		return nil, err
	}
	if member.LeagueID != leagueID || member.Status != models.MemberStatusActive {
		return nil, fault.ErrUnauthorized
	}
	return member, nil
}

// ActivateLeague moves a draft league to active once its initial draft
// session closes
func (a *App) ActivateLeague(ctx context.Context, id uuid.UUID) error {
	return a.repo.UpdateLeagueStatus(ctx, id, models.LeagueStatusActive)
}

// CompleteLeague marks a league completed once its final market session closes
func (a *App) CompleteLeague(ctx context.Context, id uuid.UUID) error {
	return a.repo.UpdateLeagueStatus(ctx, id, models.LeagueStatusCompleted)
}
