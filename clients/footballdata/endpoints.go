package footballdata

import "fmt"

const (
	// API-FOOTBALL v3
	BaseURL = "https://v3.football.api-sports.io"

	// Serie A competition id in the API-FOOTBALL catalog
	SerieALeagueID = 135

	APIKeyHeader    = "x-apisports-key"
	JsonHeader      = "accept"
	JsonContentType = "application/json"
)

func teamsEndpoint(leagueID, season int) string {
	return fmt.Sprintf("/teams?league=%d&season=%d", leagueID, season)
}

func squadEndpoint(teamID int) string {
	return fmt.Sprintf("/players/squads?team=%d", teamID)
}
