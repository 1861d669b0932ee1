package main

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/google/uuid"

	"github.com/pietro1412/fantacontratti/internal/fault"
	"github.com/pietro1412/fantacontratti/internal/market"
	"github.com/pietro1412/fantacontratti/internal/models"
	"github.com/pietro1412/fantacontratti/internal/roster"
)

// api exposes the market engine as a JSON HTTP API. The acting member is
// taken from the X-Member-ID header; in production that header is set by
// the auth proxy after token validation.
type api struct {
	services *Services
}

func newAPI(services *Services) *api {
	return &api{services: services}
}

func (a *api) registerRoutes(mux *http.ServeMux) {
	// Session lifecycle
	mux.HandleFunc("POST /api/sessions", a.handleCreateSession)
	mux.HandleFunc("GET /api/sessions/{id}", a.handleGetSession)
	mux.HandleFunc("POST /api/sessions/{id}/advance", a.handleAdvancePhase)
	mux.HandleFunc("POST /api/sessions/{id}/close", a.handleCloseSession)
	mux.HandleFunc("GET /api/sessions/{id}/snapshots", a.handleListSnapshots)

	// Readiness
	mux.HandleFunc("POST /api/sessions/{id}/ready", a.handleSetReady)
	mux.HandleFunc("POST /api/sessions/{id}/force-ready", a.handleForceAllReady)
	mux.HandleFunc("GET /api/sessions/{id}/ready", a.handleReadyMembers)

	// Phase flows
	mux.HandleFunc("POST /api/sessions/{id}/renewals", a.handleConsolidateRenewals)
	mux.HandleFunc("POST /api/sessions/{id}/plate", a.handlePutPlayerOnPlate)
	mux.HandleFunc("POST /api/sessions/{id}/pass", a.handlePassTurn)
	mux.HandleFunc("POST /api/sessions/{id}/nominations/free-agent", a.handleNominateFreeAgent)
	mux.HandleFunc("POST /api/sessions/{id}/nominations/draft", a.handleNominateDraftPlayer)

	// Auctions
	mux.HandleFunc("POST /api/sessions/{id}/auctions/{auctionID}/bids", a.handlePlaceBid)
	mux.HandleFunc("POST /api/sessions/{id}/auctions/{auctionID}/close", a.handleCloseAuction)
	mux.HandleFunc("POST /api/sessions/{id}/auctions/{auctionID}/acknowledge", a.handleAcknowledgeAuction)
	mux.HandleFunc("GET /api/auctions/{id}", a.handleGetAuction)
	mux.HandleFunc("GET /api/auctions/{id}/bids", a.handleListBids)

	// League views
	mux.HandleFunc("GET /api/leagues/{id}/sessions/active", a.handleGetActiveSession)
	mux.HandleFunc("GET /api/leagues/{id}/free-agents", a.handleListFreeAgents)
	mux.HandleFunc("GET /api/leagues/{id}/movements", a.handleListMovements)

	// Member views
	mux.HandleFunc("GET /api/members/{id}/budget", a.handleGetBudget)
	mux.HandleFunc("GET /api/members/{id}/roster", a.handleGetRoster)
}

func (a *api) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	memberID, ok := callerID(w, r)
	if !ok {
		return
	}

	var req struct {
		LeagueID uuid.UUID `json:"league_id"`
		Type     string    `json:"type"`
		Season   int       `json:"season"`
		Semester int       `json:"semester"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	session, err := a.services.Market.CreateSession(r.Context(), memberID, market.CreateSessionRequest{
		LeagueID: req.LeagueID,
		Type:     models.SessionType(req.Type),
		Season:   req.Season,
		Semester: req.Semester,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, session)
}

func (a *api) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	session, err := a.services.Market.GetSession(r.Context(), sessionID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (a *api) handleGetActiveSession(w http.ResponseWriter, r *http.Request) {
	leagueID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	session, err := a.services.Market.GetActiveSession(r.Context(), leagueID)
	if err != nil {
		writeError(w, err)
		return
	}
	if session == nil {
		writeError(w, fault.ErrNotFound)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (a *api) handleAdvancePhase(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	memberID, ok := callerID(w, r)
	if !ok {
		return
	}

	var req struct {
		Phase  string `json:"phase"`
		Forced bool   `json:"forced"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	session, err := a.services.Market.AdvancePhase(r.Context(), sessionID, memberID, models.MarketPhase(req.Phase), req.Forced)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (a *api) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	memberID, ok := callerID(w, r)
	if !ok {
		return
	}

	if err := a.services.Market.CloseSession(r.Context(), sessionID, memberID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) handleListSnapshots(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	snapshots, err := a.services.Market.ListSnapshots(r.Context(), sessionID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snapshots)
}

func (a *api) handleSetReady(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	memberID, ok := callerID(w, r)
	if !ok {
		return
	}

	if err := a.services.Market.SetReady(r.Context(), sessionID, memberID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) handleForceAllReady(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	memberID, ok := callerID(w, r)
	if !ok {
		return
	}

	if err := a.services.Market.ForceAllReady(r.Context(), sessionID, memberID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) handleReadyMembers(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	members, err := a.services.Market.ReadyMembers(r.Context(), sessionID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"ready_members": members})
}

func (a *api) handleConsolidateRenewals(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	memberID, ok := callerID(w, r)
	if !ok {
		return
	}

	var req struct {
		Decisions []roster.RenewalDecision `json:"decisions"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	if err := a.services.Market.ConsolidateRenewals(r.Context(), sessionID, memberID, req.Decisions); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) handlePutPlayerOnPlate(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	memberID, ok := callerID(w, r)
	if !ok {
		return
	}

	var req struct {
		PlayerID uuid.UUID `json:"player_id"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	auction, err := a.services.Market.PutPlayerOnPlate(r.Context(), sessionID, memberID, req.PlayerID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, auction)
}

func (a *api) handlePassTurn(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	memberID, ok := callerID(w, r)
	if !ok {
		return
	}

	if err := a.services.Market.PassTurn(r.Context(), sessionID, memberID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) handleNominateFreeAgent(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	memberID, ok := callerID(w, r)
	if !ok {
		return
	}

	var req struct {
		PlayerID  uuid.UUID `json:"player_id"`
		BasePrice int       `json:"base_price"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	auction, err := a.services.Market.NominateFreeAgent(r.Context(), sessionID, memberID, req.PlayerID, req.BasePrice)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, auction)
}

func (a *api) handleNominateDraftPlayer(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	memberID, ok := callerID(w, r)
	if !ok {
		return
	}

	var req struct {
		PlayerID uuid.UUID `json:"player_id"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	auction, err := a.services.Market.NominateDraftPlayer(r.Context(), sessionID, memberID, req.PlayerID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, auction)
}

func (a *api) handlePlaceBid(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	auctionID, ok := pathUUID(w, r, "auctionID")
	if !ok {
		return
	}
	memberID, ok := callerID(w, r)
	if !ok {
		return
	}

	var req struct {
		Amount int `json:"amount"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	bid, err := a.services.Market.PlaceBid(r.Context(), sessionID, memberID, auctionID, req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, bid)
}

func (a *api) handleCloseAuction(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	auctionID, ok := pathUUID(w, r, "auctionID")
	if !ok {
		return
	}
	memberID, ok := callerID(w, r)
	if !ok {
		return
	}

	settlement, err := a.services.Market.CloseAuction(r.Context(), sessionID, memberID, auctionID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"auction": settlement.Auction,
		"no_bids": settlement.NoBids,
		"winner":  settlement.WinnerID,
		"price":   settlement.Price,
	})
}

func (a *api) handleAcknowledgeAuction(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	auctionID, ok := pathUUID(w, r, "auctionID")
	if !ok {
		return
	}
	memberID, ok := callerID(w, r)
	if !ok {
		return
	}

	if err := a.services.Market.AcknowledgeAuction(r.Context(), sessionID, memberID, auctionID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) handleGetAuction(w http.ResponseWriter, r *http.Request) {
	auctionID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	auction, err := a.services.Auction.GetAuction(r.Context(), auctionID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, auction)
}

func (a *api) handleListBids(w http.ResponseWriter, r *http.Request) {
	auctionID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	bids, err := a.services.Auction.ListBids(r.Context(), auctionID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bids)
}

func (a *api) handleListFreeAgents(w http.ResponseWriter, r *http.Request) {
	leagueID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	players, err := a.services.Roster.ListFreeAgents(r.Context(), leagueID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, players)
}

func (a *api) handleListMovements(w http.ResponseWriter, r *http.Request) {
	leagueID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	movements, err := a.services.Auction.ListMovements(r.Context(), leagueID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, movements)
}

func (a *api) handleGetBudget(w http.ResponseWriter, r *http.Request) {
	memberID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	budget, err := a.services.Budget.GetBudget(r.Context(), memberID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"budget": budget})
}

func (a *api) handleGetRoster(w http.ResponseWriter, r *http.Request) {
	memberID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	entries, err := a.services.Roster.GetActiveRoster(r.Context(), memberID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// callerID resolves the acting member from the X-Member-ID header.
func callerID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	raw := r.Header.Get("X-Member-ID")
	if raw == "" {
		http.Error(w, `{"error":"X-Member-ID header is required"}`, http.StatusUnauthorized)
		return uuid.Nil, false
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		http.Error(w, `{"error":"invalid X-Member-ID"}`, http.StatusUnauthorized)
		return uuid.Nil, false
	}
	return id, true
}

func pathUUID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue(name))
	if err != nil {
		http.Error(w, `{"error":"invalid `+name+`"}`, http.StatusBadRequest)
		return uuid.Nil, false
	}
	return id, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("Failed to encode response: %v", err)
	}
}

// writeError maps engine failures to HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	var notReady *fault.NotReadyError
	if errors.As(err, &notReady) {
		writeJSON(w, http.StatusConflict, map[string]interface{}{
			"error":   notReady.Reason,
			"missing": notReady.Missing,
		})
		return
	}

	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, fault.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, fault.ErrUnauthorized):
		status = http.StatusForbidden
	case errors.Is(err, fault.ErrInvalidState),
		errors.Is(err, fault.ErrBidTooLow),
		errors.Is(err, fault.ErrInsufficientBudget),
		errors.Is(err, fault.ErrSellerCannotBid),
		errors.Is(err, fault.ErrInsufficientFunds):
		status = http.StatusConflict
	case errors.Is(err, fault.ErrInvalidOrder):
		status = http.StatusBadRequest
	}

	if status == http.StatusInternalServerError {
		log.Printf("Internal error: %v", err)
		writeJSON(w, status, map[string]string{"error": "internal error"})
		return
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
