package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/pietro1412/fantacontratti/internal/models"
)

// StateProvider retrieves the current state of a market session so that a
// freshly connected client can render before the next event arrives.
type StateProvider interface {
	GetSessionState(ctx context.Context, sessionID uuid.UUID) (*SessionStateResponse, error)
}

// SessionStateResponse is the snapshot returned to connecting clients.
type SessionStateResponse struct {
	SessionID      string              `json:"session_id"`
	LeagueID       string              `json:"league_id"`
	Type           string              `json:"type"`
	Status         string              `json:"status"`
	Phase          string              `json:"phase,omitempty"`
	Season         int                 `json:"season"`
	Semester       int                 `json:"semester"`
	TurnOrder      []string            `json:"turn_order,omitempty"`
	CurrentTurn    string              `json:"current_turn,omitempty"`
	NominationPos  string              `json:"nomination_pos,omitempty"`
	TurnExpiresAt  *time.Time          `json:"turn_expires_at,omitempty"`
	TimeRemaining  *int                `json:"time_remaining_sec,omitempty"`
	CurrentAuction *CurrentAuctionInfo `json:"current_auction,omitempty"`
	ReadyMembers   []string            `json:"ready_members"`
}

// CurrentAuctionInfo describes the auction currently blocking the session.
type CurrentAuctionInfo struct {
	AuctionID    string     `json:"auction_id"`
	PlayerID     string     `json:"player_id"`
	Type         string     `json:"type"`
	Status       string     `json:"status"`
	BasePrice    int        `json:"base_price"`
	CurrentPrice int        `json:"current_price"`
	SellerID     string     `json:"seller_id,omitempty"`
	NominatorID  string     `json:"nominator_id,omitempty"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
	Bids         int        `json:"bids"`
}

type marketStateApp interface {
	GetSession(ctx context.Context, id uuid.UUID) (*models.MarketSession, error)
	ReadyMembers(ctx context.Context, sessionID uuid.UUID) ([]uuid.UUID, error)
}

type auctionStateApp interface {
	GetBlockingAuction(ctx context.Context, sessionID uuid.UUID) (*models.Auction, error)
	ListBids(ctx context.Context, auctionID uuid.UUID) ([]models.Bid, error)
}

// MarketStateProvider implements StateProvider over the market and auction
// applications.
type MarketStateProvider struct {
	market   marketStateApp
	auctions auctionStateApp
}

// NewMarketStateProvider creates a state provider backed by the market apps.
func NewMarketStateProvider(market marketStateApp, auctions auctionStateApp) *MarketStateProvider {
	return &MarketStateProvider{
		market:   market,
		auctions: auctions,
	}
}

// GetSessionState retrieves the full state of one market session.
func (p *MarketStateProvider) GetSessionState(ctx context.Context, sessionID uuid.UUID) (*SessionStateResponse, error) {
	session, err := p.market.GetSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	response := &SessionStateResponse{
		SessionID:     session.ID.String(),
		LeagueID:      session.LeagueID.String(),
		Type:          string(session.Type),
		Status:        string(session.Status),
		Season:        session.Season,
		Semester:      session.Semester,
		TurnExpiresAt: session.TurnExpiresAt,
		ReadyMembers:  []string{},
	}
	if session.CurrentPhase != nil {
		response.Phase = string(*session.CurrentPhase)
	}
	if session.NominationPos != nil {
		response.NominationPos = string(*session.NominationPos)
	}
	for _, id := range session.TurnOrder {
		response.TurnOrder = append(response.TurnOrder, id.String())
	}
	if len(session.TurnOrder) > 0 {
		response.CurrentTurn = session.TurnOrder[0].String()
	}

	ready, err := p.market.ReadyMembers(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list ready members: %w", err)
	}
	for _, id := range ready {
		response.ReadyMembers = append(response.ReadyMembers, id.String())
	}

	blocking, err := p.auctions.GetBlockingAuction(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get blocking auction: %w", err)
	}
	if blocking != nil {
		info := &CurrentAuctionInfo{
			AuctionID:    blocking.ID.String(),
			PlayerID:     blocking.PlayerID.String(),
			Type:         string(blocking.Type),
			Status:       string(blocking.Status),
			BasePrice:    blocking.BasePrice,
			CurrentPrice: blocking.CurrentPrice,
			ExpiresAt:    blocking.ExpiresAt,
		}
		if blocking.SellerID != nil {
			info.SellerID = blocking.SellerID.String()
		}
		if blocking.NominatorID != nil {
			info.NominatorID = blocking.NominatorID.String()
		}
		bids, err := p.auctions.ListBids(ctx, blocking.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to list bids: %w", err)
		}
		info.Bids = len(bids)
		response.CurrentAuction = info
	}

	return response, nil
}

// StateHandler serves session state over HTTP.
type StateHandler struct {
	stateProvider StateProvider
}

// NewStateHandler creates a new state handler.
func NewStateHandler(provider StateProvider) *StateHandler {
	return &StateHandler{
		stateProvider: provider,
	}
}

// HandleGetSessionState handles GET /api/sessions/{id}/state.
func (h *StateHandler) HandleGetSessionState(w http.ResponseWriter, r *http.Request) {
	sessionID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		http.Error(w, "invalid session ID format", http.StatusBadRequest)
		return
	}

	state, err := h.stateProvider.GetSessionState(r.Context(), sessionID)
	if err != nil {
		log.Error().Err(err).Str("session_id", sessionID.String()).Msg("failed to get session state")
		http.Error(w, "failed to get session state", http.StatusInternalServerError)
		return
	}

	// Derive the countdown at response time
	deadline := state.TurnExpiresAt
	if state.CurrentAuction != nil && state.CurrentAuction.ExpiresAt != nil {
		deadline = state.CurrentAuction.ExpiresAt
	}
	if deadline != nil {
		remaining := int(time.Until(*deadline).Seconds())
		if remaining > 0 {
			state.TimeRemaining = &remaining
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(state); err != nil {
		log.Error().Err(err).Msg("failed to encode session state")
	}
}

// RegisterStateRoutes registers the state routes with an HTTP mux.
func (h *StateHandler) RegisterStateRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/sessions/{id}/state", h.HandleGetSessionState)
}
