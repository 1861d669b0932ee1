package roster

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pietro1412/fantacontratti/internal/fault"
	"github.com/pietro1412/fantacontratti/internal/models"
	"github.com/pietro1412/fantacontratti/internal/sqlutil"
)

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const entryColumns = `id, member_id, player_id, position, acquisition_type, price, active, acquired_at`

func (r *Repository) GetEntry(ctx context.Context, id uuid.UUID) (*models.RosterEntry, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+entryColumns+` FROM roster_entries WHERE id = $1`, id)
	entry, err := scanEntry(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fault.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get roster entry: %w", err)
	}
	return entry, nil
}

func (r *Repository) GetActiveRoster(ctx context.Context, memberID uuid.UUID) ([]models.RosterEntry, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+entryColumns+` FROM roster_entries
		 WHERE member_id = $1 AND active ORDER BY position, acquired_at`, memberID)
	if err != nil {
		return nil, fmt.Errorf("failed to get active roster: %w", err)
	}
	defer rows.Close()

	var entries []models.RosterEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan roster entry: %w", err)
		}
		entries = append(entries, *entry)
	}
	return entries, rows.Err()
}

// GetActiveEntryByPlayer finds the member's active entry for a player.
func (r *Repository) GetActiveEntryByPlayer(ctx context.Context, memberID, playerID uuid.UUID) (*models.RosterEntry, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+entryColumns+` FROM roster_entries
		 WHERE member_id = $1 AND player_id = $2 AND active`, memberID, playerID)
	entry, err := scanEntry(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fault.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get roster entry by player: %w", err)
	}
	return entry, nil
}

// CountByPosition returns the number of active roster slots per position.
func (r *Repository) CountByPosition(ctx context.Context, memberID uuid.UUID) (map[models.Position]int, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT position, COUNT(*) FROM roster_entries
		 WHERE member_id = $1 AND active GROUP BY position`, memberID)
	if err != nil {
		return nil, fmt.Errorf("failed to count roster by position: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.Position]int)
	for rows.Next() {
		var pos models.Position
		var n int
		if err := rows.Scan(&pos, &n); err != nil {
			return nil, fmt.Errorf("failed to scan position count: %w", err)
		}
		counts[pos] = n
	}
	return counts, rows.Err()
}

const contractColumns = `id, roster_entry_id, salary, semesters, clause, created_at, updated_at`

func (r *Repository) GetContractByEntry(ctx context.Context, rosterEntryID uuid.UUID) (*models.Contract, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+contractColumns+` FROM contracts WHERE roster_entry_id = $1`, rosterEntryID)
	contract, err := scanContract(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fault.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get contract: %w", err)
	}
	return contract, nil
}

// ContractChange is one applied renewal decision. Release drops the entry;
// otherwise the contract is rewritten with the new terms.
type ContractChange struct {
	RosterEntryID uuid.UUID
	Release       bool
	Salary        int
	Semesters     int
	Clause        int
}

// ApplyRenewals applies a member's consolidated renewal decisions in a
// single transaction.
func (r *Repository) ApplyRenewals(ctx context.Context, changes []ContractChange) error {
	return sqlutil.Run(ctx, r.db, func(tx *sql.Tx) error {
		for _, change := range changes {
			if change.Release {
				if err := releaseEntryTx(ctx, tx, change.RosterEntryID); err != nil {
					return err
				}
				continue
			}
			res, err := tx.ExecContext(ctx,
				`UPDATE contracts SET salary = $2, semesters = $3, clause = $4, updated_at = now()
				 WHERE roster_entry_id = $1`,
				change.RosterEntryID, change.Salary, change.Semesters, change.Clause)
			if err != nil {
				return fmt.Errorf("failed to update contract: %w", err)
			}
			if n, _ := res.RowsAffected(); n == 0 {
				return fault.ErrNotFound
			}
		}
		return nil
	})
}

func releaseEntryTx(ctx context.Context, tx *sql.Tx, entryID uuid.UUID) error {
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM contracts WHERE roster_entry_id = $1`, entryID); err != nil {
		return fmt.Errorf("failed to drop contract: %w", err)
	}
	res, err := tx.ExecContext(ctx,
		`UPDATE roster_entries SET active = false WHERE id = $1 AND active`, entryID)
	if err != nil {
		return fmt.Errorf("failed to release roster entry: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fault.ErrNotFound
	}
	return nil
}

// TransferEntryTx moves an active entry (and implicitly its contract, which
// stays keyed to the entry) to a new owner inside the settlement transaction.
func (r *Repository) TransferEntryTx(ctx context.Context, tx *sql.Tx, entryID, toMemberID uuid.UUID, acq models.AcquisitionType, price int) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE roster_entries
		 SET member_id = $2, acquisition_type = $3, price = $4, acquired_at = now()
		 WHERE id = $1 AND active`, entryID, toMemberID, acq, price)
	if err != nil {
		return fmt.Errorf("failed to transfer roster entry: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fault.ErrNotFound
	}
	return nil
}

// CreateEntryWithContractTx creates a new active roster entry plus its
// contract inside the settlement transaction.
func (r *Repository) CreateEntryWithContractTx(ctx context.Context, tx *sql.Tx, entry models.RosterEntry, contract models.Contract) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO roster_entries (id, member_id, player_id, position, acquisition_type, price, active, acquired_at)
		 VALUES ($1, $2, $3, $4, $5, $6, true, now())`,
		entry.ID, entry.MemberID, entry.PlayerID, entry.Position, entry.AcquisitionType, entry.Price)
	if err != nil {
		return fmt.Errorf("failed to create roster entry: %w", err)
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO contracts (id, roster_entry_id, salary, semesters, clause, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, now(), now())`,
		contract.ID, entry.ID, contract.Salary, contract.Semesters, contract.Clause)
	if err != nil {
		return fmt.Errorf("failed to create contract: %w", err)
	}
	return nil
}

func (r *Repository) GetPlayer(ctx context.Context, id uuid.UUID) (*models.Player, error) {
	var p models.Player
	err := r.db.QueryRowContext(ctx,
		`SELECT id, full_name, position, real_team FROM players WHERE id = $1`, id).
		Scan(&p.ID, &p.FullName, &p.Position, &p.RealTeam)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fault.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get player: %w", err)
	}
	return &p, nil
}

// PlayerOwned reports whether any member of the league holds the player on
// an active roster entry.
func (r *Repository) PlayerOwned(ctx context.Context, leagueID, playerID uuid.UUID) (bool, error) {
	var owned bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (
			SELECT 1 FROM roster_entries re
			JOIN members m ON m.id = re.member_id
			WHERE re.player_id = $2 AND re.active AND m.league_id = $1
		 )`, leagueID, playerID).Scan(&owned)
	if err != nil {
		return false, fmt.Errorf("failed to check player ownership: %w", err)
	}
	return owned, nil
}

// ListFreeAgents returns players with no active roster entry in the league.
func (r *Repository) ListFreeAgents(ctx context.Context, leagueID uuid.UUID) ([]models.Player, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT p.id, p.full_name, p.position, p.real_team
		 FROM players p
		 WHERE NOT EXISTS (
			SELECT 1 FROM roster_entries re
			JOIN members m ON m.id = re.member_id
			WHERE re.player_id = p.id AND re.active AND m.league_id = $1
		 )
		 ORDER BY p.position, p.full_name`, leagueID)
	if err != nil {
		return nil, fmt.Errorf("failed to list free agents: %w", err)
	}
	defer rows.Close()

	var players []models.Player
	for rows.Next() {
		var p models.Player
		if err := rows.Scan(&p.ID, &p.FullName, &p.Position, &p.RealTeam); err != nil {
			return nil, fmt.Errorf("failed to scan player: %w", err)
		}
		players = append(players, p)
	}
	return players, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*models.RosterEntry, error) {
	var entry models.RosterEntry
	err := row.Scan(
		&entry.ID,
		&entry.MemberID,
		&entry.PlayerID,
		&entry.Position,
		&entry.AcquisitionType,
		&entry.Price,
		&entry.Active,
		&entry.AcquiredAt,
	)
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func scanContract(row rowScanner) (*models.Contract, error) {
	var c models.Contract
	var created, updated time.Time
	err := row.Scan(&c.ID, &c.RosterEntryID, &c.Salary, &c.Semesters, &c.Clause, &created, &updated)
	if err != nil {
		return nil, err
	}
	c.CreatedAt = created
	c.UpdatedAt = updated
	return &c, nil
}
