package models

import (
	"github.com/google/uuid"
	"time"
)

// AuctionType defines how an auction was opened.
type AuctionType string

const (
	AuctionTypeFree      AuctionType = "FREE"
	AuctionTypeRubata    AuctionType = "RUBATA"
	AuctionTypeFreeAgent AuctionType = "FREE_AGENT"
)

// AuctionStatus defines the status of an auction.
type AuctionStatus string

const (
	AuctionStatusPending    AuctionStatus = "PENDING"
	AuctionStatusActive     AuctionStatus = "ACTIVE"
	AuctionStatusPendingAck AuctionStatus = "PENDING_ACKNOWLEDGMENT"
	AuctionStatusClosed     AuctionStatus = "CLOSED"
	AuctionStatusNoBids     AuctionStatus = "NO_BIDS"
	AuctionStatusCompleted  AuctionStatus = "COMPLETED"
)

// Terminal reports whether the auction can no longer change hands.
func (s AuctionStatus) Terminal() bool {
	return s == AuctionStatusClosed || s == AuctionStatusNoBids || s == AuctionStatusCompleted
}

// Open reports whether bids may still be placed.
func (s AuctionStatus) Open() bool {
	return s == AuctionStatusPending || s == AuctionStatusActive
}

// Auction represents one auction for a player inside a market session.
// CurrentPrice only increases across the life of the auction.
type Auction struct {
	ID           uuid.UUID     `json:"id"`
	SessionID    uuid.UUID     `json:"session_id"`
	PlayerID     uuid.UUID     `json:"player_id"`
	Type         AuctionType   `json:"type"`
	BasePrice    int           `json:"base_price"`
	CurrentPrice int           `json:"current_price"`
	SellerID     *uuid.UUID    `json:"seller_id,omitempty"`
	NominatorID  *uuid.UUID    `json:"nominator_id,omitempty"`
	Status       AuctionStatus `json:"status"`
	ExpiresAt    *time.Time    `json:"expires_at,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
	ClosedAt     *time.Time    `json:"closed_at,omitempty"`
}

// Bid represents a single bid. Bids are immutable once created; a superseded
// bid only has its winning flag flipped off.
type Bid struct {
	ID        uuid.UUID `json:"id"`
	AuctionID uuid.UUID `json:"auction_id"`
	BidderID  uuid.UUID `json:"bidder_id"`
	Amount    int       `json:"amount"`
	IsWinning bool      `json:"is_winning"`
	CreatedAt time.Time `json:"created_at"`
}
