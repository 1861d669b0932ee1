package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/pietro1412/fantacontratti/clients/footballdata"
	"github.com/pietro1412/fantacontratti/internal/dbconfig"
	"github.com/pietro1412/fantacontratti/internal/models"
)

// listonePlayer matches the JSON layout of an exported listone file.
type listonePlayer struct {
	FullName string `json:"full_name"`
	Position string `json:"position"`
	RealTeam string `json:"real_team"`
}

func main() {
	var (
		file   = flag.String("file", "", "path to a listone JSON file")
		api    = flag.Bool("api", false, "fetch squads from API-FOOTBALL instead of a file")
		season = flag.Int("season", time.Now().Year(), "season to fetch when using -api")
	)
	flag.Parse()

	ctx := context.Background()

	players, err := loadPlayers(ctx, *file, *api, *season)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load players: %v\n", err)
		os.Exit(1)
	}
	if len(players) == 0 {
		fmt.Fprintln(os.Stderr, "no players to seed; pass -file or -api")
		os.Exit(1)
	}

	cfg := dbconfig.NewConfigFromEnv()
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		fmt.Fprintf(os.Stderr, "open database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()
	if err := db.PingContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "ping database: %v\n", err)
		os.Exit(1)
	}

	inserted, err := upsertPlayers(ctx, db, players)
	if err != nil {
		fmt.Fprintf(os.Stderr, "seed players: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Seeded %d players\n", inserted)
}

func loadPlayers(ctx context.Context, file string, api bool, season int) ([]footballdata.SquadPlayer, error) {
	if api {
		apiKey := os.Getenv("FOOTBALL_API_KEY")
		if apiKey == "" {
			return nil, fmt.Errorf("FOOTBALL_API_KEY is required with -api")
		}
		client := footballdata.NewClient(apiKey)

		teams, err := client.ListTeams(ctx, season)
		if err != nil {
			return nil, err
		}
		var all []footballdata.SquadPlayer
		for _, team := range teams {
			squad, err := client.ListSquad(ctx, team.ID)
			if err != nil {
				return nil, fmt.Errorf("squad for %s: %w", team.Name, err)
			}
			all = append(all, squad...)
		}
		return all, nil
	}

	if file == "" {
		return nil, nil
	}
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, err
	}
	var listone []listonePlayer
	if err := json.Unmarshal(data, &listone); err != nil {
		return nil, fmt.Errorf("unmarshal listone: %w", err)
	}

	players := make([]footballdata.SquadPlayer, 0, len(listone))
	for _, p := range listone {
		pos := models.Position(p.Position)
		switch pos {
		case models.PositionGoalkeeper, models.PositionDefender, models.PositionMidfielder, models.PositionForward:
		default:
			return nil, fmt.Errorf("player %q has unknown position %q", p.FullName, p.Position)
		}
		players = append(players, footballdata.SquadPlayer{
			FullName: p.FullName,
			Position: pos,
			RealTeam: p.RealTeam,
		})
	}
	return players, nil
}

func upsertPlayers(ctx context.Context, db *sql.DB, players []footballdata.SquadPlayer) (int, error) {
	const query = `
		INSERT INTO players (id, full_name, position, real_team)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (full_name, real_team) DO UPDATE SET position = EXCLUDED.position`

	inserted := 0
	for _, p := range players {
		if _, err := db.ExecContext(ctx, query, uuid.New(), p.FullName, string(p.Position), p.RealTeam); err != nil {
			return inserted, fmt.Errorf("upsert %s: %w", p.FullName, err)
		}
		inserted++
	}
	return inserted, nil
}
