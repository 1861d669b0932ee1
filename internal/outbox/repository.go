package outbox

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/pietro1412/fantacontratti/internal/events"
	"github.com/pietro1412/fantacontratti/internal/fault"
)

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const insertEventSQL = `INSERT INTO market_outbox (id, session_id, event_type, payload, created_at)
	 VALUES ($1, $2, $3, $4, now())`

func (r *Repository) insertEvent(ctx context.Context, eventType string, sessionID uuid.UUID, payload []byte) error {
	_, err := r.db.ExecContext(ctx, insertEventSQL, uuid.New(), sessionID, eventType, payload)
	if err != nil {
		return fmt.Errorf("failed to insert %s outbox event: %w", eventType, err)
	}
	return nil
}

// InsertEventTx writes an outbox event inside a caller-owned domain
// transaction, so the event commits and rolls back with the write that
// caused it. Settlement and phase-transition repositories use this for
// the events that must never be lost or orphaned.
func InsertEventTx(ctx context.Context, tx *sql.Tx, eventType string, sessionID uuid.UUID, payload []byte) error {
	_, err := tx.ExecContext(ctx, insertEventSQL, uuid.New(), sessionID, eventType, payload)
	if err != nil {
		return fmt.Errorf("failed to insert %s outbox event: %w", eventType, err)
	}
	return nil
}

func (r *Repository) InsertOutboxSessionCreated(ctx context.Context, sessionID uuid.UUID, payload []byte) error {
	return r.insertEvent(ctx, events.TypeSessionCreated, sessionID, payload)
}

func (r *Repository) InsertOutboxSessionCompleted(ctx context.Context, sessionID uuid.UUID, payload []byte) error {
	return r.insertEvent(ctx, events.TypeSessionCompleted, sessionID, payload)
}

func (r *Repository) InsertOutboxAuctionOpened(ctx context.Context, sessionID uuid.UUID, payload []byte) error {
	return r.insertEvent(ctx, events.TypeAuctionOpened, sessionID, payload)
}

func (r *Repository) InsertOutboxBidPlaced(ctx context.Context, sessionID uuid.UUID, payload []byte) error {
	return r.insertEvent(ctx, events.TypeBidPlaced, sessionID, payload)
}

func (r *Repository) InsertOutboxAuctionCompleted(ctx context.Context, sessionID uuid.UUID, payload []byte) error {
	return r.insertEvent(ctx, events.TypeAuctionCompleted, sessionID, payload)
}

func (r *Repository) InsertOutboxTurnStarted(ctx context.Context, sessionID uuid.UUID, payload []byte) error {
	return r.insertEvent(ctx, events.TypeTurnStarted, sessionID, payload)
}

func (r *Repository) InsertOutboxTurnSkipped(ctx context.Context, sessionID uuid.UUID, payload []byte) error {
	return r.insertEvent(ctx, events.TypeTurnSkipped, sessionID, payload)
}

func (r *Repository) InsertOutboxMemberReady(ctx context.Context, sessionID uuid.UUID, payload []byte) error {
	return r.insertEvent(ctx, events.TypeMemberReady, sessionID, payload)
}

const outboxColumns = `id, session_id, event_type, payload, created_at, sent_at`

// FetchUnsentOutboxTx fetches a batch of unsent events with row locks so
// concurrent relays never double-publish from the polling path.
func (r *Repository) FetchUnsentOutboxTx(ctx context.Context, tx *sql.Tx, limit int32) ([]OutboxEvent, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT `+outboxColumns+` FROM market_outbox
		 WHERE sent_at IS NULL
		 ORDER BY created_at
		 LIMIT $1
		 FOR UPDATE SKIP LOCKED`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch unsent outbox events: %w", err)
	}
	defer rows.Close()
	return collectEvents(rows)
}

// MarkOutboxSentTx marks the batch sent inside the relay transaction.
func (r *Repository) MarkOutboxSentTx(ctx context.Context, tx *sql.Tx, ids []uuid.UUID) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE market_outbox SET sent_at = now() WHERE id = ANY($1)`, pq.Array(ids))
	if err != nil {
		return fmt.Errorf("failed to mark outbox events as sent: %w", err)
	}
	return nil
}

// FetchUnsentOutbox is the lock-free variant used by the notify listener's
// fallback sweep.
func (r *Repository) FetchUnsentOutbox(ctx context.Context, limit int32) ([]OutboxEvent, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+outboxColumns+` FROM market_outbox
		 WHERE sent_at IS NULL
		 ORDER BY created_at
		 LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch unsent outbox events: %w", err)
	}
	defer rows.Close()
	return collectEvents(rows)
}

func (r *Repository) FetchOutboxByID(ctx context.Context, id uuid.UUID) (*OutboxEvent, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+outboxColumns+` FROM market_outbox WHERE id = $1 AND sent_at IS NULL`, id)
	event, err := scanEvent(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fault.ErrNotFound
		}
		return nil, fmt.Errorf("failed to fetch outbox event by ID: %w", err)
	}
	return event, nil
}

func (r *Repository) MarkOutboxSent(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE market_outbox SET sent_at = now() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to mark outbox event as sent: %w", err)
	}
	return nil
}

func collectEvents(rows *sql.Rows) ([]OutboxEvent, error) {
	var out []OutboxEvent
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan outbox event: %w", err)
		}
		out = append(out, *event)
	}
	return out, rows.Err()
}

func scanEvent(row interface{ Scan(dest ...any) error }) (*OutboxEvent, error) {
	var event OutboxEvent
	var sentAt sql.NullTime
	if err := row.Scan(&event.ID, &event.SessionID, &event.EventType, &event.Payload, &event.CreatedAt, &sentAt); err != nil {
		return nil, err
	}
	if sentAt.Valid {
		event.SentAt = &sentAt.Time
	}
	return &event, nil
}
