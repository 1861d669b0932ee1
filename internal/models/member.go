package models

import (
	"github.com/google/uuid"
	"time"
)

// MemberRole defines the role of a member inside a league.
type MemberRole string

const (
	MemberRoleAdmin   MemberRole = "ADMIN"
	MemberRoleManager MemberRole = "MANAGER"
)

// MemberStatus defines the membership state.
type MemberStatus string

const (
	MemberStatusPending   MemberStatus = "PENDING"
	MemberStatusActive    MemberStatus = "ACTIVE"
	MemberStatusSuspended MemberStatus = "SUSPENDED"
	MemberStatusLeft      MemberStatus = "LEFT"
)

// Member represents one (user, league) membership. Budget is mutated only
// through ledger operations tied to a settled transaction.
type Member struct {
	ID          uuid.UUID    `json:"id"`
	LeagueID    uuid.UUID    `json:"league_id"`
	UserID      uuid.UUID    `json:"user_id"`
	TeamName    string       `json:"team_name"`
	Role        MemberRole   `json:"role"`
	Status      MemberStatus `json:"status"`
	Budget      int          `json:"budget"`
	RubataOrder int          `json:"rubata_order"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}
