package models

import (
	"github.com/google/uuid"
	"time"
)

// Movement records a settled player transfer for league history.
type Movement struct {
	ID           uuid.UUID   `json:"id"`
	LeagueID     uuid.UUID   `json:"league_id"`
	SessionID    uuid.UUID   `json:"session_id"`
	PlayerID     uuid.UUID   `json:"player_id"`
	FromMemberID *uuid.UUID  `json:"from_member_id,omitempty"`
	ToMemberID   uuid.UUID   `json:"to_member_id"`
	Price        int         `json:"price"`
	AuctionType  AuctionType `json:"auction_type"`
	CreatedAt    time.Time   `json:"created_at"`
}

// SnapshotLabel marks when a budget snapshot was taken relative to a phase.
type SnapshotLabel string

const (
	SnapshotPhaseStart SnapshotLabel = "PHASE_START"
	SnapshotPhaseEnd   SnapshotLabel = "PHASE_END"
)

// BudgetSnapshot captures a member's budget at a phase boundary for
// financial reporting.
type BudgetSnapshot struct {
	ID        uuid.UUID     `json:"id"`
	SessionID uuid.UUID     `json:"session_id"`
	MemberID  uuid.UUID     `json:"member_id"`
	Phase     MarketPhase   `json:"phase"`
	Label     SnapshotLabel `json:"label"`
	Budget    int           `json:"budget"`
	CreatedAt time.Time     `json:"created_at"`
}

// ReadinessRecord is a per (session, member) confirmation flag scoped either
// to a phase gate or to a pending auction acknowledgment.
type ReadinessRecord struct {
	SessionID uuid.UUID `json:"session_id"`
	MemberID  uuid.UUID `json:"member_id"`
	Scope     string    `json:"scope"`
	Ready     bool      `json:"ready"`
	UpdatedAt time.Time `json:"updated_at"`
}
