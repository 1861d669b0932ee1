package auction

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/pietro1412/fantacontratti/internal/events"
	"github.com/pietro1412/fantacontratti/internal/fault"
	"github.com/pietro1412/fantacontratti/internal/models"
	"github.com/pietro1412/fantacontratti/internal/roster"
)

// AuctionRepository defines what the app layer needs from the auction repository
type AuctionRepository interface {
	CreateAuction(ctx context.Context, auction models.Auction) (*models.Auction, error)
	GetAuction(ctx context.Context, id uuid.UUID) (*models.Auction, error)
	GetBlockingAuction(ctx context.Context, sessionID uuid.UUID) (*models.Auction, error)
	GetWinningBid(ctx context.Context, auctionID uuid.UUID) (*models.Bid, error)
	ListBids(ctx context.Context, auctionID uuid.UUID) ([]models.Bid, error)
	RecordBid(ctx context.Context, auctionID, bidderID uuid.UUID, amount int) (*models.Bid, error)
	MarkNoBids(ctx context.Context, auctionID, sessionID uuid.UUID, closedEvent []byte) error
	Settle(ctx context.Context, req SettleRequest) error
	MarkCompleted(ctx context.Context, auctionID uuid.UUID) error
	ListMovements(ctx context.Context, leagueID uuid.UUID) ([]models.Movement, error)
}

// RosterStore defines what the bid engine needs from the roster side
type RosterStore interface {
	GetActiveEntryByPlayer(ctx context.Context, memberID, playerID uuid.UUID) (*models.RosterEntry, error)
	GetContractByEntry(ctx context.Context, rosterEntryID uuid.UUID) (*models.Contract, error)
	GetPlayer(ctx context.Context, id uuid.UUID) (*models.Player, error)
}

// BudgetLedger defines what the bid engine needs from the budget side
type BudgetLedger interface {
	GetBudget(ctx context.Context, memberID uuid.UUID) (int, error)
}

// OutboxApp defines what the bid engine needs from the outbox. AuctionClosed
// is absent on purpose: the repository writes it inside the settlement
// transaction.
type OutboxApp interface {
	InsertAuctionOpened(ctx context.Context, sessionID uuid.UUID, payload []byte) error
	InsertBidPlaced(ctx context.Context, sessionID uuid.UUID, payload []byte) error
	InsertAuctionCompleted(ctx context.Context, sessionID uuid.UUID, payload []byte) error
}

// OpenAuctionRequest describes a new auction to open.
type OpenAuctionRequest struct {
	SessionID   uuid.UUID
	PlayerID    uuid.UUID
	Type        models.AuctionType
	BasePrice   int
	SellerID    *uuid.UUID
	NominatorID *uuid.UUID
	ExpiresAt   *time.Time
}

// Settlement is the outcome of closing an auction.
type Settlement struct {
	Auction  *models.Auction
	NoBids   bool
	WinnerID uuid.UUID
	Price    int
}

// App implements the bid engine: open, bid, close, settle.
type App struct {
	repo    AuctionRepository
	rosters RosterStore
	budgets BudgetLedger
	outbox  OutboxApp
}

// NewApp creates a new auction App
func NewApp(repo AuctionRepository, rosters RosterStore, budgets BudgetLedger, outbox OutboxApp) *App {
	return &App{
		repo:    repo,
		rosters: rosters,
		budgets: budgets,
		outbox:  outbox,
	}
}

// GetAuction retrieves an auction by ID
func (a *App) GetAuction(ctx context.Context, id uuid.UUID) (*models.Auction, error) {
	return a.repo.GetAuction(ctx, id)
}

// GetBlockingAuction returns the session's non-terminal auction, if any
func (a *App) GetBlockingAuction(ctx context.Context, sessionID uuid.UUID) (*models.Auction, error) {
	return a.repo.GetBlockingAuction(ctx, sessionID)
}

// ListBids returns all bids of an auction in ascending amount order
func (a *App) ListBids(ctx context.Context, auctionID uuid.UUID) ([]models.Bid, error) {
	return a.repo.ListBids(ctx, auctionID)
}

// ListMovements returns the league's settled transfer history
func (a *App) ListMovements(ctx context.Context, leagueID uuid.UUID) ([]models.Movement, error) {
	return a.repo.ListMovements(ctx, leagueID)
}

// OpenAuction creates a new auction for the session. Only one non-terminal
// auction may exist per session at any time.
func (a *App) OpenAuction(ctx context.Context, req OpenAuctionRequest) (*models.Auction, error) {
	if req.BasePrice < 1 {
		return nil, fmt.Errorf("base price must be at least 1")
	}

	blocking, err := a.repo.GetBlockingAuction(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}
	if blocking != nil {
		return nil, fault.ErrInvalidState
	}

	auction, err := a.repo.CreateAuction(ctx, models.Auction{
		ID:           uuid.New(),
		SessionID:    req.SessionID,
		PlayerID:     req.PlayerID,
		Type:         req.Type,
		BasePrice:    req.BasePrice,
		CurrentPrice: req.BasePrice,
		SellerID:     req.SellerID,
		NominatorID:  req.NominatorID,
		Status:       models.AuctionStatusActive,
		ExpiresAt:    req.ExpiresAt,
	})
	if err != nil {
		return nil, err
	}

	a.emitAuctionOpened(ctx, auction)
	return auction, nil
}

// PlaceBid validates and records a bid, returning the accepted bid. The
// budget check runs against the bidder's raw stored budget at call time;
// budget committed in other open auctions is not subtracted.
func (a *App) PlaceBid(ctx context.Context, auctionID, bidderID uuid.UUID, amount int) (*models.Bid, error) {
	auction, err := a.repo.GetAuction(ctx, auctionID)
	if err != nil {
		return nil, err
	}
	if !auction.Status.Open() {
		return nil, fault.ErrInvalidState
	}
	if auction.SellerID != nil && *auction.SellerID == bidderID {
		return nil, fault.ErrSellerCannotBid
	}
	if amount <= auction.CurrentPrice {
		return nil, fault.ErrBidTooLow
	}

	budget, err := a.budgets.GetBudget(ctx, bidderID)
	if err != nil {
		return nil, err
	}
	if amount > budget {
		return nil, fault.ErrInsufficientBudget
	}

	bid, err := a.repo.RecordBid(ctx, auctionID, bidderID, amount)
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(events.BidPlacedPayload{
		AuctionID: auctionID.String(),
		BidderID:  bidderID.String(),
		Amount:    amount,
		PlacedAt:  bid.CreatedAt,
	})
	if err == nil {
		err = a.outbox.InsertBidPlaced(ctx, auction.SessionID, payload)
	}
	if err != nil {
		log.Printf("Failed to emit BidPlaced event: %v", err)
	}
	return bid, nil
}

// CloseAuction closes an open auction. Without a winning bid the auction
// terminates as no-bids and the seller, if any, keeps the player. With a
// winning bid the settlement runs atomically and the auction waits for
// member acknowledgment.
func (a *App) CloseAuction(ctx context.Context, auctionID, leagueID uuid.UUID) (*Settlement, error) {
	auction, err := a.repo.GetAuction(ctx, auctionID)
	if err != nil {
		return nil, err
	}
	if !auction.Status.Open() {
		return nil, fault.ErrInvalidState
	}

	winning, err := a.repo.GetWinningBid(ctx, auctionID)
	if err != nil {
		return nil, err
	}

	closedEvent, err := closedEventPayload(auction, winning)
	if err != nil {
		return nil, fmt.Errorf("failed to encode auction closed event: %w", err)
	}

	if winning == nil {
		if err := a.repo.MarkNoBids(ctx, auctionID, auction.SessionID, closedEvent); err != nil {
			return nil, err
		}
		closed, err := a.repo.GetAuction(ctx, auctionID)
		if err != nil {
			return nil, err
		}
		return &Settlement{Auction: closed, NoBids: true}, nil
	}

	req := SettleRequest{
		Auction:     *auction,
		WinnerID:    winning.BidderID,
		Price:       auction.CurrentPrice,
		LeagueID:    leagueID,
		NextStatus:  models.AuctionStatusPendingAck,
		ClosedEvent: closedEvent,
	}

	if auction.SellerID != nil {
		entry, err := a.rosters.GetActiveEntryByPlayer(ctx, *auction.SellerID, auction.PlayerID)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve seller entry: %w", err)
		}
		entryID := entry.ID
		req.TransferEntryID = &entryID
	} else {
		player, err := a.rosters.GetPlayer(ctx, auction.PlayerID)
		if err != nil {
			return nil, err
		}
		salary, semesters, clause := roster.NewContractTerms(auction.CurrentPrice)
		acq := models.AcquisitionTypeAuction
		if auction.Type == models.AuctionTypeFreeAgent {
			acq = models.AcquisitionTypeFreeAgent
		}
		req.NewEntry = &models.RosterEntry{
			ID:              uuid.New(),
			MemberID:        winning.BidderID,
			PlayerID:        auction.PlayerID,
			Position:        player.Position,
			AcquisitionType: acq,
			Price:           auction.CurrentPrice,
		}
		req.NewContract = &models.Contract{
			ID:        uuid.New(),
			Salary:    salary,
			Semesters: semesters,
			Clause:    clause,
		}
	}

	if err := a.repo.Settle(ctx, req); err != nil {
		return nil, err
	}

	settled, err := a.repo.GetAuction(ctx, auctionID)
	if err != nil {
		return nil, err
	}

	return &Settlement{
		Auction:  settled,
		WinnerID: winning.BidderID,
		Price:    auction.CurrentPrice,
	}, nil
}

// CompleteAuction flips an acknowledged settlement to its terminal state
func (a *App) CompleteAuction(ctx context.Context, auctionID uuid.UUID) error {
	if err := a.repo.MarkCompleted(ctx, auctionID); err != nil {
		return err
	}
	auction, err := a.repo.GetAuction(ctx, auctionID)
	if err != nil {
		return err
	}

	payload, err := json.Marshal(events.AuctionCompletedPayload{
		AuctionID:   auctionID.String(),
		SessionID:   auction.SessionID.String(),
		CompletedAt: time.Now(),
	})
	if err == nil {
		err = a.outbox.InsertAuctionCompleted(ctx, auction.SessionID, payload)
	}
	if err != nil {
		log.Printf("Failed to emit AuctionCompleted event: %v", err)
	}
	return nil
}

func (a *App) emitAuctionOpened(ctx context.Context, auction *models.Auction) {
	payload := events.AuctionOpenedPayload{
		AuctionID:   auction.ID.String(),
		SessionID:   auction.SessionID.String(),
		PlayerID:    auction.PlayerID.String(),
		AuctionType: string(auction.Type),
		BasePrice:   auction.BasePrice,
		ExpiresAt:   auction.ExpiresAt,
		OpenedAt:    auction.CreatedAt,
	}
	if auction.SellerID != nil {
		payload.SellerID = auction.SellerID.String()
	}
	data, err := json.Marshal(payload)
	if err == nil {
		err = a.outbox.InsertAuctionOpened(ctx, auction.SessionID, data)
	}
	if err != nil {
		log.Printf("Failed to emit AuctionOpened event: %v", err)
	}
}

// closedEventPayload encodes the AuctionClosed outbox payload the repository
// writes alongside the closing write.
func closedEventPayload(auction *models.Auction, winning *models.Bid) ([]byte, error) {
	payload := events.AuctionClosedPayload{
		AuctionID: auction.ID.String(),
		SessionID: auction.SessionID.String(),
		PlayerID:  auction.PlayerID.String(),
		NoBids:    winning == nil,
		ClosedAt:  time.Now(),
	}
	if winning != nil {
		payload.WinnerID = winning.BidderID.String()
		payload.Price = auction.CurrentPrice
	}
	return json.Marshal(payload)
}
