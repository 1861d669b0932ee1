package footballdata

import (
	"context"
	"fmt"

	"github.com/pietro1412/fantacontratti/clients"
	"github.com/pietro1412/fantacontratti/internal/models"
)

// Client fetches Serie A teams and squads from API-FOOTBALL, mapping their
// position names onto the four fantacalcio slots.
type Client struct {
	*clients.BaseClient
}

func NewClient(apiKey string) *Client {
	client := &Client{
		BaseClient: clients.NewBaseClient(BaseURL),
	}
	client.SetHeader(APIKeyHeader, apiKey)
	client.SetHeader(JsonHeader, JsonContentType)
	return client
}

type apiTeam struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
	Code string `json:"code"`
}

type teamsResponse struct {
	Response []struct {
		Team apiTeam `json:"team"`
	} `json:"response"`
}

type apiSquadPlayer struct {
	ID       int    `json:"id"`
	Name     string `json:"name"`
	Position string `json:"position"`
}

type squadResponse struct {
	Response []struct {
		Team    apiTeam          `json:"team"`
		Players []apiSquadPlayer `json:"players"`
	} `json:"response"`
}

// Team is a Serie A club as listed by the provider.
type Team struct {
	ID   int
	Name string
}

// SquadPlayer is one squad member mapped onto the roster position scheme.
type SquadPlayer struct {
	FullName string
	Position models.Position
	RealTeam string
}

func (c *Client) ListTeams(ctx context.Context, season int) ([]Team, error) {
	var decoded teamsResponse
	if err := c.GetJSON(ctx, teamsEndpoint(SerieALeagueID, season), &decoded); err != nil {
		return nil, fmt.Errorf("failed to fetch teams: %w", err)
	}

	teams := make([]Team, 0, len(decoded.Response))
	for _, entry := range decoded.Response {
		teams = append(teams, Team{ID: entry.Team.ID, Name: entry.Team.Name})
	}
	return teams, nil
}

func (c *Client) ListSquad(ctx context.Context, teamID int) ([]SquadPlayer, error) {
	var decoded squadResponse
	if err := c.GetJSON(ctx, squadEndpoint(teamID), &decoded); err != nil {
		return nil, fmt.Errorf("failed to fetch squad: %w", err)
	}

	var players []SquadPlayer
	for _, entry := range decoded.Response {
		for _, p := range entry.Players {
			pos, ok := mapPosition(p.Position)
			if !ok {
				continue
			}
			players = append(players, SquadPlayer{
				FullName: p.Name,
				Position: pos,
				RealTeam: entry.Team.Name,
			})
		}
	}
	return players, nil
}

func mapPosition(apiPosition string) (models.Position, bool) {
	switch apiPosition {
	case "Goalkeeper":
		return models.PositionGoalkeeper, true
	case "Defender":
		return models.PositionDefender, true
	case "Midfielder":
		return models.PositionMidfielder, true
	case "Attacker":
		return models.PositionForward, true
	default:
		return "", false
	}
}
