package models

import (
	"github.com/google/uuid"
	"time"
)

// AcquisitionType records how a player joined a roster.
type AcquisitionType string

const (
	AcquisitionTypeAuction   AcquisitionType = "AUCTION"
	AcquisitionTypeRubata    AcquisitionType = "RUBATA"
	AcquisitionTypeFreeAgent AcquisitionType = "FREE_AGENT"
	AcquisitionTypeTrade     AcquisitionType = "TRADE"
)

// RosterEntry assigns a player to a member's team. An active entry carries
// exactly one contract.
type RosterEntry struct {
	ID              uuid.UUID       `json:"id"`
	MemberID        uuid.UUID       `json:"member_id"`
	PlayerID        uuid.UUID       `json:"player_id"`
	Position        Position        `json:"position"`
	AcquisitionType AcquisitionType `json:"acquisition_type"`
	Price           int             `json:"price"`
	Active          bool            `json:"active"`
	AcquiredAt      time.Time       `json:"acquired_at"`
}

// Contract is attached 1:1 to an active roster entry. The rubata base price
// for the player is Clause + Salary.
type Contract struct {
	ID            uuid.UUID `json:"id"`
	RosterEntryID uuid.UUID `json:"roster_entry_id"`
	Salary        int       `json:"salary"`
	Semesters     int       `json:"semesters"`
	Clause        int       `json:"clause"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// RubataBasePrice computes the minimum bid to steal the player.
func (c Contract) RubataBasePrice() int {
	return c.Clause + c.Salary
}
