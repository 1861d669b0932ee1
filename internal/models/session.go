package models

import (
	"github.com/google/uuid"
	"time"
)

// SessionType defines the type of a market session.
type SessionType string

const (
	SessionTypeInitialDraft SessionType = "INITIAL_DRAFT"
	SessionTypeRecurring    SessionType = "RECURRING"
)

// SessionStatus defines the status of a market session.
type SessionStatus string

const (
	SessionStatusActive    SessionStatus = "ACTIVE"
	SessionStatusCompleted SessionStatus = "COMPLETED"
)

// MarketPhase identifies the current phase of a market session.
type MarketPhase string

const (
	PhaseFreeAuction       MarketPhase = "FREE_AUCTION"
	PhasePreRenewalTrades  MarketPhase = "PRE_RENEWAL_TRADES"
	PhaseContractRenewal   MarketPhase = "CONTRACT_RENEWAL"
	PhaseRubata            MarketPhase = "RUBATA"
	PhaseFreeAgentAuction  MarketPhase = "FREE_AGENT_AUCTION"
	PhasePostAuctionTrades MarketPhase = "POST_AUCTION_TRADES"
)

// MarketSession represents one market window for a league. At most one
// session per league is active at a time.
type MarketSession struct {
	ID            uuid.UUID     `json:"id"`
	LeagueID      uuid.UUID     `json:"league_id"`
	Type          SessionType   `json:"type"`
	Status        SessionStatus `json:"status"`
	CurrentPhase  *MarketPhase  `json:"current_phase,omitempty"`
	Season        int           `json:"season"`
	Semester      int           `json:"semester"`
	TurnOrder     []uuid.UUID   `json:"turn_order,omitempty"`
	NominationPos *Position     `json:"nomination_pos,omitempty"`
	TurnExpiresAt *time.Time    `json:"turn_expires_at,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
	CompletedAt   *time.Time    `json:"completed_at,omitempty"`
}
