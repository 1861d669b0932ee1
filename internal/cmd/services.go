package main

import (
	"database/sql"

	"github.com/jonboulle/clockwork"

	"github.com/pietro1412/fantacontratti/internal/auction"
	"github.com/pietro1412/fantacontratti/internal/budget"
	"github.com/pietro1412/fantacontratti/internal/league"
	"github.com/pietro1412/fantacontratti/internal/market"
	"github.com/pietro1412/fantacontratti/internal/outbox"
	"github.com/pietro1412/fantacontratti/internal/roster"
)

type Services struct {
	League  *league.App
	Budget  *budget.App
	Roster  *roster.App
	Auction *auction.App
	Market  *market.App
	Outbox  *outbox.App
}

func setupServices(database *sql.DB, marketCfg market.Config) *Services {
	// Wire up dependency injection chain
	// Database layer → Repository layer → App layer

	leagueApp := league.NewApp(league.NewRepository(database))
	budgetApp := budget.NewApp(budget.NewRepository(database))

	rosterRepo := roster.NewRepository(database)
	rosterApp := roster.NewApp(rosterRepo)

	outboxApp := outbox.NewApp(outbox.NewRepository(database))

	auctionApp := auction.NewApp(auction.NewRepository(database, rosterRepo), rosterApp, budgetApp, outboxApp)

	marketApp := market.NewApp(market.NewRepository(database), leagueApp, rosterApp, budgetApp, auctionApp,
		outboxApp, clockwork.NewRealClock(), marketCfg)

	return &Services{
		League:  leagueApp,
		Budget:  budgetApp,
		Roster:  rosterApp,
		Auction: auctionApp,
		Market:  marketApp,
		Outbox:  outboxApp,
	}
}
