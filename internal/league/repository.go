package league

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/pietro1412/fantacontratti/internal/fault"
	"github.com/pietro1412/fantacontratti/internal/models"
	"github.com/sqlc-dev/pqtype"
)

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const leagueColumns = `id, name, status, min_participants, max_participants, initial_budget, slot_quotas, created_at, updated_at`

func (r *Repository) GetLeague(ctx context.Context, id uuid.UUID) (*models.League, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+leagueColumns+` FROM leagues WHERE id = $1`, id)
	league, err := scanLeague(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fault.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get league: %w", err)
	}
	return league, nil
}

func (r *Repository) UpdateLeagueStatus(ctx context.Context, id uuid.UUID, status models.LeagueStatus) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE leagues SET status = $2, updated_at = now() WHERE id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("failed to update league status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fault.ErrNotFound
	}
	return nil
}

const memberColumns = `id, league_id, user_id, team_name, role, status, budget, rubata_order, created_at, updated_at`

func (r *Repository) GetMember(ctx context.Context, id uuid.UUID) (*models.Member, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+memberColumns+` FROM members WHERE id = $1`, id)
	member, err := scanMember(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fault.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get member: %w", err)
	}
	return member, nil
}

func (r *Repository) ListActiveMembers(ctx context.Context, leagueID uuid.UUID) ([]models.Member, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+memberColumns+` FROM members
		 WHERE league_id = $1 AND status = $2
		 ORDER BY rubata_order, created_at`, leagueID, models.MemberStatusActive)
	if err != nil {
		return nil, fmt.Errorf("failed to list active members: %w", err)
	}
	defer rows.Close()

	var members []models.Member
	for rows.Next() {
		member, err := scanMember(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan member: %w", err)
		}
		members = append(members, *member)
	}
	return members, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLeague(row rowScanner) (*models.League, error) {
	var league models.League
	var quotas pqtype.NullRawMessage
	err := row.Scan(
		&league.ID,
		&league.Name,
		&league.Status,
		&league.MinParticipants,
		&league.MaxParticipants,
		&league.InitialBudget,
		&quotas,
		&league.CreatedAt,
		&league.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if quotas.Valid {
		if err := json.Unmarshal(quotas.RawMessage, &league.SlotQuotas); err != nil {
			return nil, fmt.Errorf("failed to decode slot quotas: %w", err)
		}
	}
	return &league, nil
}

func scanMember(row rowScanner) (*models.Member, error) {
	var member models.Member
	err := row.Scan(
		&member.ID,
		&member.LeagueID,
		&member.UserID,
		&member.TeamName,
		&member.Role,
		&member.Status,
		&member.Budget,
		&member.RubataOrder,
		&member.CreatedAt,
		&member.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &member, nil
}
