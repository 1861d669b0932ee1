package models

import (
	"github.com/google/uuid"
	"time"
)

// LeagueStatus defines the lifecycle state of a league.
type LeagueStatus string

const (
	LeagueStatusDraft     LeagueStatus = "DRAFT"
	LeagueStatusActive    LeagueStatus = "ACTIVE"
	LeagueStatusCompleted LeagueStatus = "COMPLETED"
)

// SlotQuotas holds the required roster slots per position.
type SlotQuotas struct {
	Goalkeepers int `json:"goalkeepers"`
	Defenders   int `json:"defenders"`
	Midfielders int `json:"midfielders"`
	Forwards    int `json:"forwards"`
}

// ForPosition returns the quota for the given position.
func (q SlotQuotas) ForPosition(pos Position) int {
	switch pos {
	case PositionGoalkeeper:
		return q.Goalkeepers
	case PositionDefender:
		return q.Defenders
	case PositionMidfielder:
		return q.Midfielders
	case PositionForward:
		return q.Forwards
	default:
		return 0
	}
}

// Total returns the total number of roster slots per team.
func (q SlotQuotas) Total() int {
	return q.Goalkeepers + q.Defenders + q.Midfielders + q.Forwards
}

// League represents a fantasy football league.
type League struct {
	ID              uuid.UUID    `json:"id"`
	Name            string       `json:"name"`
	Status          LeagueStatus `json:"status"`
	MinParticipants int          `json:"min_participants"`
	MaxParticipants int          `json:"max_participants"`
	InitialBudget   int          `json:"initial_budget"`
	SlotQuotas      SlotQuotas   `json:"slot_quotas"`
	CreatedAt       time.Time    `json:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at"`
}
