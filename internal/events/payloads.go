package events

import (
	"time"
)

// Event payload types shared between the market engine, the outbox relay and
// the gateway.

// Event type names as stored in the outbox and used in broker subjects.
const (
	TypeSessionCreated   = "SessionCreated"
	TypeSessionCompleted = "SessionCompleted"
	TypePhaseAdvanced    = "PhaseAdvanced"
	TypeAuctionOpened    = "AuctionOpened"
	TypeBidPlaced        = "BidPlaced"
	TypeAuctionClosed    = "AuctionClosed"
	TypeAuctionCompleted = "AuctionCompleted"
	TypeTurnStarted      = "TurnStarted"
	TypeTurnSkipped      = "TurnSkipped"
	TypeMemberReady      = "MemberReady"
)

// SessionCreatedPayload is the payload for a SessionCreated event
type SessionCreatedPayload struct {
	SessionID   string    `json:"session_id"`
	LeagueID    string    `json:"league_id"`
	SessionType string    `json:"session_type"`
	Phase       string    `json:"phase"`
	CreatedAt   time.Time `json:"created_at"`
}

// SessionCompletedPayload is the payload for a SessionCompleted event
type SessionCompletedPayload struct {
	SessionID   string    `json:"session_id"`
	LeagueID    string    `json:"league_id"`
	CompletedAt time.Time `json:"completed_at"`
}

// PhaseAdvancedPayload is the payload for a PhaseAdvanced event
type PhaseAdvancedPayload struct {
	SessionID  string    `json:"session_id"`
	FromPhase  string    `json:"from_phase,omitempty"`
	ToPhase    string    `json:"to_phase"`
	Forced     bool      `json:"forced"`
	AdvancedAt time.Time `json:"advanced_at"`
}

// AuctionOpenedPayload is the payload for an AuctionOpened event
type AuctionOpenedPayload struct {
	AuctionID   string     `json:"auction_id"`
	SessionID   string     `json:"session_id"`
	PlayerID    string     `json:"player_id"`
	AuctionType string     `json:"auction_type"`
	BasePrice   int        `json:"base_price"`
	SellerID    string     `json:"seller_id,omitempty"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	OpenedAt    time.Time  `json:"opened_at"`
}

// BidPlacedPayload is the payload for a BidPlaced event
type BidPlacedPayload struct {
	AuctionID string    `json:"auction_id"`
	BidderID  string    `json:"bidder_id"`
	Amount    int       `json:"amount"`
	PlacedAt  time.Time `json:"placed_at"`
}

// AuctionClosedPayload is the payload for an AuctionClosed event
type AuctionClosedPayload struct {
	AuctionID string    `json:"auction_id"`
	SessionID string    `json:"session_id"`
	PlayerID  string    `json:"player_id"`
	NoBids    bool      `json:"no_bids"`
	WinnerID  string    `json:"winner_id,omitempty"`
	Price     int       `json:"price,omitempty"`
	ClosedAt  time.Time `json:"closed_at"`
}

// AuctionCompletedPayload is the payload for an AuctionCompleted event,
// emitted once every active member acknowledged the settlement
type AuctionCompletedPayload struct {
	AuctionID   string    `json:"auction_id"`
	SessionID   string    `json:"session_id"`
	CompletedAt time.Time `json:"completed_at"`
}

// TurnStartedPayload is the payload for a TurnStarted event
type TurnStartedPayload struct {
	SessionID string     `json:"session_id"`
	MemberID  string     `json:"member_id"`
	Phase     string     `json:"phase"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	StartedAt time.Time  `json:"started_at"`
}

// TurnSkippedPayload is the payload for a TurnSkipped event
type TurnSkippedPayload struct {
	SessionID string    `json:"session_id"`
	MemberID  string    `json:"member_id"`
	Auto      bool      `json:"auto"`
	SkippedAt time.Time `json:"skipped_at"`
}

// MemberReadyPayload is the payload for a MemberReady event
type MemberReadyPayload struct {
	SessionID string    `json:"session_id"`
	MemberID  string    `json:"member_id"`
	Scope     string    `json:"scope"`
	ReadyAt   time.Time `json:"ready_at"`
}
