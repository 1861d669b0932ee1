package market

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/pietro1412/fantacontratti/internal/events"
	"github.com/pietro1412/fantacontratti/internal/fault"
	"github.com/pietro1412/fantacontratti/internal/models"
	"github.com/pietro1412/fantacontratti/internal/outbox"
	"github.com/pietro1412/fantacontratti/internal/sqlutil"
	"github.com/sqlc-dev/pqtype"
)

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const sessionColumns = `id, league_id, type, status, current_phase, season, semester, turn_order, nomination_pos, turn_expires_at, created_at, completed_at`

func (r *Repository) CreateSession(ctx context.Context, session models.MarketSession) (*models.MarketSession, error) {
	order, err := encodeTurnOrder(session.TurnOrder)
	if err != nil {
		return nil, err
	}
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO market_sessions (id, league_id, type, status, current_phase, season, semester, turn_order, nomination_pos, turn_expires_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now())`,
		session.ID, session.LeagueID, session.Type, session.Status,
		phaseValue(session.CurrentPhase), session.Season, session.Semester,
		order, positionValue(session.NominationPos), sqlutil.ToSqlTime(session.TurnExpiresAt))
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			// one active session per league
			return nil, fault.ErrInvalidState
		}
		return nil, fmt.Errorf("failed to create market session: %w", err)
	}
	return r.GetSession(ctx, session.ID)
}

func (r *Repository) GetSession(ctx context.Context, id uuid.UUID) (*models.MarketSession, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM market_sessions WHERE id = $1`, id)
	session, err := scanSession(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fault.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get market session: %w", err)
	}
	return session, nil
}

func (r *Repository) GetActiveSessionByLeague(ctx context.Context, leagueID uuid.UUID) (*models.MarketSession, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM market_sessions
		 WHERE league_id = $1 AND status = $2`, leagueID, models.SessionStatusActive)
	session, err := scanSession(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get active session: %w", err)
	}
	return session, nil
}

// PhaseTransition describes everything a phase change writes: the new phase,
// the fresh turn state, the boundary budget snapshots, and the PhaseAdvanced
// outbox payload.
type PhaseTransition struct {
	SessionID     uuid.UUID
	Phase         models.MarketPhase
	TurnOrder     []uuid.UUID
	NominationPos *models.Position
	TurnExpiresAt *time.Time
	Snapshots     []models.BudgetSnapshot
	EventPayload  []byte
}

// AdvancePhaseTx applies a phase transition in one transaction: set the
// phase and turn state, wipe readiness, write the boundary snapshots and
// record the PhaseAdvanced outbox event. A failure rolls all of it back,
// so the session never lands between phases.
func (r *Repository) AdvancePhaseTx(ctx context.Context, t PhaseTransition) error {
	encoded, err := encodeTurnOrder(t.TurnOrder)
	if err != nil {
		return err
	}
	return sqlutil.Run(ctx, r.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE market_sessions SET current_phase = $2, turn_order = $3, nomination_pos = $4, turn_expires_at = $5
			 WHERE id = $1 AND status = $6`,
			t.SessionID, t.Phase, encoded, positionValue(t.NominationPos),
			sqlutil.ToSqlTime(t.TurnExpiresAt), models.SessionStatusActive)
		if err != nil {
			return fmt.Errorf("failed to update phase: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fault.ErrInvalidState
		}

		if _, err := tx.ExecContext(ctx,
			`DELETE FROM readiness_records WHERE session_id = $1`, t.SessionID); err != nil {
			return fmt.Errorf("failed to reset readiness: %w", err)
		}

		for _, snap := range t.Snapshots {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO budget_snapshots (id, session_id, member_id, phase, label, budget, created_at)
				 VALUES ($1, $2, $3, $4, $5, $6, now())`,
				snap.ID, snap.SessionID, snap.MemberID, snap.Phase, snap.Label, snap.Budget); err != nil {
				return fmt.Errorf("failed to insert budget snapshot: %w", err)
			}
		}

		return outbox.InsertEventTx(ctx, tx, events.TypePhaseAdvanced, t.SessionID, t.EventPayload)
	})
}

// UpdateTurnState persists the sequencer queue, the nomination position
// group and the current turn deadline in one write.
func (r *Repository) UpdateTurnState(ctx context.Context, id uuid.UUID, order []uuid.UUID, pos *models.Position, expiresAt *time.Time) error {
	encoded, err := encodeTurnOrder(order)
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx,
		`UPDATE market_sessions SET turn_order = $2, nomination_pos = $3, turn_expires_at = $4
		 WHERE id = $1 AND status = $5`,
		id, encoded, positionValue(pos), sqlutil.ToSqlTime(expiresAt), models.SessionStatusActive)
	if err != nil {
		return fmt.Errorf("failed to update turn state: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fault.ErrInvalidState
	}
	return nil
}

func (r *Repository) CompleteSession(ctx context.Context, id uuid.UUID) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE market_sessions SET status = $2, completed_at = now(), turn_expires_at = NULL
		 WHERE id = $1 AND status = $3`,
		id, models.SessionStatusCompleted, models.SessionStatusActive)
	if err != nil {
		return fmt.Errorf("failed to complete session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fault.ErrInvalidState
	}
	return nil
}

// Readiness records

func (r *Repository) UpsertReady(ctx context.Context, sessionID, memberID uuid.UUID, scope string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO readiness_records (session_id, member_id, scope, ready, updated_at)
		 VALUES ($1, $2, $3, true, now())
		 ON CONFLICT (session_id, member_id, scope)
		 DO UPDATE SET ready = true, updated_at = now()`,
		sessionID, memberID, scope)
	if err != nil {
		return fmt.Errorf("failed to upsert readiness: %w", err)
	}
	return nil
}

func (r *Repository) SetAllReady(ctx context.Context, sessionID uuid.UUID, scope string, memberIDs []uuid.UUID) error {
	return sqlutil.Run(ctx, r.db, func(tx *sql.Tx) error {
		for _, memberID := range memberIDs {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO readiness_records (session_id, member_id, scope, ready, updated_at)
				 VALUES ($1, $2, $3, true, now())
				 ON CONFLICT (session_id, member_id, scope)
				 DO UPDATE SET ready = true, updated_at = now()`,
				sessionID, memberID, scope); err != nil {
				return fmt.Errorf("failed to force readiness: %w", err)
			}
		}
		return nil
	})
}

func (r *Repository) ListReadyMembers(ctx context.Context, sessionID uuid.UUID, scope string) ([]uuid.UUID, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT member_id FROM readiness_records
		 WHERE session_id = $1 AND scope = $2 AND ready`, sessionID, scope)
	if err != nil {
		return nil, fmt.Errorf("failed to list ready members: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan ready member: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Budget snapshots

func (r *Repository) ListSnapshots(ctx context.Context, sessionID uuid.UUID) ([]models.BudgetSnapshot, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, session_id, member_id, phase, label, budget, created_at
		 FROM budget_snapshots WHERE session_id = $1 ORDER BY created_at`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list budget snapshots: %w", err)
	}
	defer rows.Close()

	var snapshots []models.BudgetSnapshot
	for rows.Next() {
		var snap models.BudgetSnapshot
		if err := rows.Scan(&snap.ID, &snap.SessionID, &snap.MemberID, &snap.Phase, &snap.Label, &snap.Budget, &snap.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan budget snapshot: %w", err)
		}
		snapshots = append(snapshots, snap)
	}
	return snapshots, rows.Err()
}

// Deadlines for the timer coordinator

// DeadlineKind tags what a deadline belongs to.
type DeadlineKind string

const (
	DeadlineAuction DeadlineKind = "AUCTION"
	DeadlineTurn    DeadlineKind = "TURN"
)

// Deadline is an expiry the orchestrator must act on.
type Deadline struct {
	Kind      DeadlineKind `json:"kind"`
	ID        uuid.UUID    `json:"id"`
	SessionID uuid.UUID    `json:"session_id"`
	ExpiresAt time.Time    `json:"expires_at"`
}

// FetchNextDeadline returns the soonest expiry across open auctions and
// pending turns, or nil when nothing is armed.
func (r *Repository) FetchNextDeadline(ctx context.Context) (*Deadline, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT kind, id, session_id, expires_at FROM (
			SELECT 'AUCTION' AS kind, a.id, a.session_id, a.expires_at
			FROM auctions a
			WHERE a.status = $1 AND a.expires_at IS NOT NULL
			UNION ALL
			SELECT 'TURN' AS kind, s.id, s.id AS session_id, s.turn_expires_at AS expires_at
			FROM market_sessions s
			WHERE s.status = $2 AND s.turn_expires_at IS NOT NULL
		 ) deadlines
		 ORDER BY expires_at
		 LIMIT 1`,
		models.AuctionStatusActive, models.SessionStatusActive)

	var d Deadline
	err := row.Scan(&d.Kind, &d.ID, &d.SessionID, &d.ExpiresAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to fetch next deadline: %w", err)
	}
	return &d, nil
}

// FetchDueDeadlines returns every deadline at or past now, soonest first.
func (r *Repository) FetchDueDeadlines(ctx context.Context, now time.Time, limit int) ([]Deadline, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT kind, id, session_id, expires_at FROM (
			SELECT 'AUCTION' AS kind, a.id, a.session_id, a.expires_at
			FROM auctions a
			WHERE a.status = $1 AND a.expires_at IS NOT NULL AND a.expires_at <= $3
			UNION ALL
			SELECT 'TURN' AS kind, s.id, s.id AS session_id, s.turn_expires_at AS expires_at
			FROM market_sessions s
			WHERE s.status = $2 AND s.turn_expires_at IS NOT NULL AND s.turn_expires_at <= $3
		 ) deadlines
		 ORDER BY expires_at
		 LIMIT $4`,
		models.AuctionStatusActive, models.SessionStatusActive, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch due deadlines: %w", err)
	}
	defer rows.Close()

	var due []Deadline
	for rows.Next() {
		var d Deadline
		if err := rows.Scan(&d.Kind, &d.ID, &d.SessionID, &d.ExpiresAt); err != nil {
			return nil, fmt.Errorf("failed to scan deadline: %w", err)
		}
		due = append(due, d)
	}
	return due, rows.Err()
}

// helpers

func encodeTurnOrder(order []uuid.UUID) (pqtype.NullRawMessage, error) {
	if order == nil {
		order = []uuid.UUID{}
	}
	raw, err := json.Marshal(order)
	if err != nil {
		return pqtype.NullRawMessage{}, fmt.Errorf("failed to encode turn order: %w", err)
	}
	return pqtype.NullRawMessage{RawMessage: raw, Valid: true}, nil
}

func phaseValue(phase *models.MarketPhase) sql.NullString {
	if phase == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(*phase), Valid: true}
}

func positionValue(pos *models.Position) sql.NullString {
	if pos == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(*pos), Valid: true}
}

func scanSession(row interface{ Scan(dest ...any) error }) (*models.MarketSession, error) {
	var s models.MarketSession
	var phase, pos sql.NullString
	var order pqtype.NullRawMessage
	var turnExpires, completed sql.NullTime
	err := row.Scan(
		&s.ID,
		&s.LeagueID,
		&s.Type,
		&s.Status,
		&phase,
		&s.Season,
		&s.Semester,
		&order,
		&pos,
		&turnExpires,
		&s.CreatedAt,
		&completed,
	)
	if err != nil {
		return nil, err
	}
	if phase.Valid {
		p := models.MarketPhase(phase.String)
		s.CurrentPhase = &p
	}
	if pos.Valid {
		p := models.Position(pos.String)
		s.NominationPos = &p
	}
	if order.Valid {
		if err := json.Unmarshal(order.RawMessage, &s.TurnOrder); err != nil {
			return nil, fmt.Errorf("failed to decode turn order: %w", err)
		}
	}
	s.TurnExpiresAt = sqlutil.FromSqlTime(turnExpires)
	s.CompletedAt = sqlutil.FromSqlTime(completed)
	return &s, nil
}
