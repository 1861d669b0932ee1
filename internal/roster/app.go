package roster

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/pietro1412/fantacontratti/internal/fault"
	"github.com/pietro1412/fantacontratti/internal/models"
)

// RosterRepository defines what the app layer needs from the roster repository
type RosterRepository interface {
	GetEntry(ctx context.Context, id uuid.UUID) (*models.RosterEntry, error)
	GetActiveRoster(ctx context.Context, memberID uuid.UUID) ([]models.RosterEntry, error)
	GetActiveEntryByPlayer(ctx context.Context, memberID, playerID uuid.UUID) (*models.RosterEntry, error)
	CountByPosition(ctx context.Context, memberID uuid.UUID) (map[models.Position]int, error)
	GetContractByEntry(ctx context.Context, rosterEntryID uuid.UUID) (*models.Contract, error)
	ApplyRenewals(ctx context.Context, changes []ContractChange) error
	GetPlayer(ctx context.Context, id uuid.UUID) (*models.Player, error)
	PlayerOwned(ctx context.Context, leagueID, playerID uuid.UUID) (bool, error)
	ListFreeAgents(ctx context.Context, leagueID uuid.UUID) ([]models.Player, error)
}

// RenewalAction is a member's decision for one contracted player.
type RenewalAction string

const (
	RenewalActionRenew   RenewalAction = "RENEW"
	RenewalActionRelease RenewalAction = "RELEASE"
	RenewalActionKeep    RenewalAction = "KEEP"
)

// RenewalDecision pairs a roster entry with the action to apply.
type RenewalDecision struct {
	RosterEntryID uuid.UUID     `json:"roster_entry_id"`
	Action        RenewalAction `json:"action"`
}

// App handles roster and contract business logic
type App struct {
	repo RosterRepository
}

// NewApp creates a new roster App
func NewApp(repo RosterRepository) *App {
	return &App{repo: repo}
}

// GetActiveRoster returns the member's active roster entries
func (a *App) GetActiveRoster(ctx context.Context, memberID uuid.UUID) ([]models.RosterEntry, error) {
	return a.repo.GetActiveRoster(ctx, memberID)
}

// CountByPosition returns active slot counts keyed by position
func (a *App) CountByPosition(ctx context.Context, memberID uuid.UUID) (map[models.Position]int, error) {
	return a.repo.CountByPosition(ctx, memberID)
}

// GetEntry retrieves a roster entry by ID
func (a *App) GetEntry(ctx context.Context, id uuid.UUID) (*models.RosterEntry, error) {
	return a.repo.GetEntry(ctx, id)
}

// GetActiveEntryByPlayer finds the member's active entry for a player
func (a *App) GetActiveEntryByPlayer(ctx context.Context, memberID, playerID uuid.UUID) (*models.RosterEntry, error) {
	return a.repo.GetActiveEntryByPlayer(ctx, memberID, playerID)
}

// GetContractByEntry returns the contract attached to an active entry
func (a *App) GetContractByEntry(ctx context.Context, rosterEntryID uuid.UUID) (*models.Contract, error) {
	return a.repo.GetContractByEntry(ctx, rosterEntryID)
}

// GetPlayer retrieves a player by ID
func (a *App) GetPlayer(ctx context.Context, id uuid.UUID) (*models.Player, error) {
	return a.repo.GetPlayer(ctx, id)
}

// PlayerOwned reports whether the player is on any active roster in the league
func (a *App) PlayerOwned(ctx context.Context, leagueID, playerID uuid.UUID) (bool, error) {
	return a.repo.PlayerOwned(ctx, leagueID, playerID)
}

// ListFreeAgents returns players with no active roster entry in the league
func (a *App) ListFreeAgents(ctx context.Context, leagueID uuid.UUID) ([]models.Player, error) {
	return a.repo.ListFreeAgents(ctx, leagueID)
}

// MissingByPosition computes how many slots the member still needs per
// position to satisfy the league quotas exactly. Overfilled positions count
// as a negative deficit, which also blocks the free-auction exit.
func (a *App) MissingByPosition(ctx context.Context, memberID uuid.UUID, quotas models.SlotQuotas) (map[models.Position]int, error) {
	counts, err := a.repo.CountByPosition(ctx, memberID)
	if err != nil {
		return nil, err
	}
	missing := make(map[models.Position]int)
	for _, pos := range models.PositionGroups {
		if diff := quotas.ForPosition(pos) - counts[pos]; diff != 0 {
			missing[pos] = diff
		}
	}
	return missing, nil
}

// ApplyRenewalDecisions resolves a member's renewal decisions into concrete
// contract changes and applies them atomically. A renewal extends the
// contract by one semester and raises the salary by a fifth (minimum one);
// keeping a contract leaves it untouched; a release drops player and
// contract from the roster.
func (a *App) ApplyRenewalDecisions(ctx context.Context, memberID uuid.UUID, decisions []RenewalDecision) error {
	var changes []ContractChange
	for _, decision := range decisions {
		entry, err := a.repo.GetEntry(ctx, decision.RosterEntryID)
		if err != nil {
			return err
		}
		if entry.MemberID != memberID || !entry.Active {
			return fault.ErrUnauthorized
		}

		switch decision.Action {
		case RenewalActionKeep:
			continue
		case RenewalActionRelease:
			changes = append(changes, ContractChange{
				RosterEntryID: entry.ID,
				Release:       true,
			})
		case RenewalActionRenew:
			contract, err := a.repo.GetContractByEntry(ctx, entry.ID)
			if err != nil {
				return err
			}
			raise := contract.Salary / 5
			if raise < 1 {
				raise = 1
			}
			changes = append(changes, ContractChange{
				RosterEntryID: entry.ID,
				Salary:        contract.Salary + raise,
				Semesters:     contract.Semesters + 1,
				Clause:        contract.Clause,
			})
		default:
			return fmt.Errorf("unknown renewal action: %s", decision.Action)
		}
	}

	if len(changes) == 0 {
		return nil
	}
	if err := a.repo.ApplyRenewals(ctx, changes); err != nil {
		return fmt.Errorf("failed to apply renewals: %w", err)
	}
	return nil
}

// NewContractTerms derives the contract attached to a freshly auctioned
// player: two semesters, salary a tenth of the winning price (minimum one),
// clause equal to the price paid.
func NewContractTerms(price int) (salary, semesters, clause int) {
	salary = price / 10
	if salary < 1 {
		salary = 1
	}
	return salary, 2, price
}
