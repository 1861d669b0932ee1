package outbox

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/pietro1412/fantacontratti/internal/events"
	"github.com/rs/zerolog/log"
)

// OutboxRepository defines what the app layer needs from the repository
type OutboxRepository interface {
	InsertOutboxSessionCreated(ctx context.Context, sessionID uuid.UUID, payload []byte) error
	InsertOutboxSessionCompleted(ctx context.Context, sessionID uuid.UUID, payload []byte) error
	InsertOutboxAuctionOpened(ctx context.Context, sessionID uuid.UUID, payload []byte) error
	InsertOutboxBidPlaced(ctx context.Context, sessionID uuid.UUID, payload []byte) error
	InsertOutboxAuctionCompleted(ctx context.Context, sessionID uuid.UUID, payload []byte) error
	InsertOutboxTurnStarted(ctx context.Context, sessionID uuid.UUID, payload []byte) error
	InsertOutboxTurnSkipped(ctx context.Context, sessionID uuid.UUID, payload []byte) error
	InsertOutboxMemberReady(ctx context.Context, sessionID uuid.UUID, payload []byte) error
	FetchUnsentOutbox(ctx context.Context, limit int32) ([]OutboxEvent, error)
	FetchOutboxByID(ctx context.Context, id uuid.UUID) (*OutboxEvent, error)
	MarkOutboxSent(ctx context.Context, id uuid.UUID) error
}

// App handles outbox business logic
type App struct {
	repo OutboxRepository
}

// NewApp creates a new outbox App
func NewApp(repo OutboxRepository) *App {
	return &App{repo: repo}
}

func (a *App) insert(ctx context.Context, eventType string, sessionID uuid.UUID, payload []byte,
	insertFn func(context.Context, uuid.UUID, []byte) error) error {
	if err := a.validateEventPayload(payload); err != nil {
		return fmt.Errorf("invalid %s payload: %w", eventType, err)
	}
	if err := insertFn(ctx, sessionID, payload); err != nil {
		return fmt.Errorf("failed to insert %s event: %w", eventType, err)
	}
	log.Info().
		Str("session_id", sessionID.String()).
		Str("event_type", eventType).
		Msg("outbox event inserted")
	return nil
}

// InsertSessionCreated inserts a SessionCreated event into the outbox
func (a *App) InsertSessionCreated(ctx context.Context, sessionID uuid.UUID, payload []byte) error {
	return a.insert(ctx, events.TypeSessionCreated, sessionID, payload, a.repo.InsertOutboxSessionCreated)
}

// InsertSessionCompleted inserts a SessionCompleted event into the outbox
func (a *App) InsertSessionCompleted(ctx context.Context, sessionID uuid.UUID, payload []byte) error {
	return a.insert(ctx, events.TypeSessionCompleted, sessionID, payload, a.repo.InsertOutboxSessionCompleted)
}

// InsertAuctionOpened inserts an AuctionOpened event into the outbox
func (a *App) InsertAuctionOpened(ctx context.Context, sessionID uuid.UUID, payload []byte) error {
	return a.insert(ctx, events.TypeAuctionOpened, sessionID, payload, a.repo.InsertOutboxAuctionOpened)
}

// InsertBidPlaced inserts a BidPlaced event into the outbox
func (a *App) InsertBidPlaced(ctx context.Context, sessionID uuid.UUID, payload []byte) error {
	return a.insert(ctx, events.TypeBidPlaced, sessionID, payload, a.repo.InsertOutboxBidPlaced)
}

// InsertAuctionCompleted inserts an AuctionCompleted event into the outbox
func (a *App) InsertAuctionCompleted(ctx context.Context, sessionID uuid.UUID, payload []byte) error {
	return a.insert(ctx, events.TypeAuctionCompleted, sessionID, payload, a.repo.InsertOutboxAuctionCompleted)
}

// InsertTurnStarted inserts a TurnStarted event into the outbox
func (a *App) InsertTurnStarted(ctx context.Context, sessionID uuid.UUID, payload []byte) error {
	return a.insert(ctx, events.TypeTurnStarted, sessionID, payload, a.repo.InsertOutboxTurnStarted)
}

// InsertTurnSkipped inserts a TurnSkipped event into the outbox
func (a *App) InsertTurnSkipped(ctx context.Context, sessionID uuid.UUID, payload []byte) error {
	return a.insert(ctx, events.TypeTurnSkipped, sessionID, payload, a.repo.InsertOutboxTurnSkipped)
}

// InsertMemberReady inserts a MemberReady event into the outbox
func (a *App) InsertMemberReady(ctx context.Context, sessionID uuid.UUID, payload []byte) error {
	return a.insert(ctx, events.TypeMemberReady, sessionID, payload, a.repo.InsertOutboxMemberReady)
}

// FetchUnsent returns up to limit unsent events, oldest first
func (a *App) FetchUnsent(ctx context.Context, limit int32) ([]OutboxEvent, error) {
	return a.repo.FetchUnsentOutbox(ctx, limit)
}

// FetchByID returns one unsent event by id
func (a *App) FetchByID(ctx context.Context, id uuid.UUID) (*OutboxEvent, error) {
	return a.repo.FetchOutboxByID(ctx, id)
}

// MarkSent flags the event as relayed
func (a *App) MarkSent(ctx context.Context, id uuid.UUID) error {
	return a.repo.MarkOutboxSent(ctx, id)
}

func (a *App) validateEventPayload(payload []byte) error {
	if len(payload) == 0 {
		return fmt.Errorf("payload is empty")
	}
	if !json.Valid(payload) {
		return fmt.Errorf("payload is not valid JSON")
	}
	return nil
}
