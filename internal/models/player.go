package models

import (
	"github.com/google/uuid"
)

// Position identifies a player's position group.
type Position string

const (
	PositionGoalkeeper Position = "P"
	PositionDefender   Position = "D"
	PositionMidfielder Position = "C"
	PositionForward    Position = "A"
)

// PositionGroups lists position groups in initial-draft nomination order.
var PositionGroups = []Position{
	PositionGoalkeeper,
	PositionDefender,
	PositionMidfielder,
	PositionForward,
}

// Player represents a real-world player available to leagues.
type Player struct {
	ID       uuid.UUID `json:"id"`
	FullName string    `json:"full_name"`
	Position Position  `json:"position"`
	RealTeam string    `json:"real_team"`
}
