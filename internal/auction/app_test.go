package auction

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pietro1412/fantacontratti/internal/events"
	"github.com/pietro1412/fantacontratti/internal/fault"
	"github.com/pietro1412/fantacontratti/internal/models"
)

type fakeAuctionRepo struct {
	auctions     map[uuid.UUID]*models.Auction
	bids         map[uuid.UUID][]models.Bid
	settled      []SettleRequest
	closedEvents [][]byte
}

func newFakeAuctionRepo() *fakeAuctionRepo {
	return &fakeAuctionRepo{
		auctions: make(map[uuid.UUID]*models.Auction),
		bids:     make(map[uuid.UUID][]models.Bid),
	}
}

func (r *fakeAuctionRepo) CreateAuction(ctx context.Context, auction models.Auction) (*models.Auction, error) {
	auction.CreatedAt = time.Now()
	r.auctions[auction.ID] = &auction
	copied := auction
	return &copied, nil
}

func (r *fakeAuctionRepo) GetAuction(ctx context.Context, id uuid.UUID) (*models.Auction, error) {
	auction, ok := r.auctions[id]
	if !ok {
		return nil, fault.ErrNotFound
	}
	copied := *auction
	return &copied, nil
}

func (r *fakeAuctionRepo) GetBlockingAuction(ctx context.Context, sessionID uuid.UUID) (*models.Auction, error) {
	for _, auction := range r.auctions {
		if auction.SessionID == sessionID && !auction.Status.Terminal() {
			copied := *auction
			return &copied, nil
		}
	}
	return nil, nil
}

func (r *fakeAuctionRepo) GetWinningBid(ctx context.Context, auctionID uuid.UUID) (*models.Bid, error) {
	for _, bid := range r.bids[auctionID] {
		if bid.IsWinning {
			copied := bid
			return &copied, nil
		}
	}
	return nil, nil
}

func (r *fakeAuctionRepo) ListBids(ctx context.Context, auctionID uuid.UUID) ([]models.Bid, error) {
	return r.bids[auctionID], nil
}

func (r *fakeAuctionRepo) RecordBid(ctx context.Context, auctionID, bidderID uuid.UUID, amount int) (*models.Bid, error) {
	for i := range r.bids[auctionID] {
		r.bids[auctionID][i].IsWinning = false
	}
	bid := models.Bid{
		ID:        uuid.New(),
		AuctionID: auctionID,
		BidderID:  bidderID,
		Amount:    amount,
		IsWinning: true,
		CreatedAt: time.Now(),
	}
	r.bids[auctionID] = append(r.bids[auctionID], bid)
	r.auctions[auctionID].CurrentPrice = amount
	return &bid, nil
}

func (r *fakeAuctionRepo) MarkNoBids(ctx context.Context, auctionID, sessionID uuid.UUID, closedEvent []byte) error {
	now := time.Now()
	r.auctions[auctionID].Status = models.AuctionStatusNoBids
	r.auctions[auctionID].ClosedAt = &now
	r.closedEvents = append(r.closedEvents, closedEvent)
	return nil
}

func (r *fakeAuctionRepo) Settle(ctx context.Context, req SettleRequest) error {
	now := time.Now()
	r.settled = append(r.settled, req)
	r.closedEvents = append(r.closedEvents, req.ClosedEvent)
	r.auctions[req.Auction.ID].Status = req.NextStatus
	r.auctions[req.Auction.ID].ClosedAt = &now
	return nil
}

func (r *fakeAuctionRepo) MarkCompleted(ctx context.Context, auctionID uuid.UUID) error {
	auction, ok := r.auctions[auctionID]
	if !ok {
		return fault.ErrNotFound
	}
	if auction.Status != models.AuctionStatusPendingAck {
		return fault.ErrInvalidState
	}
	auction.Status = models.AuctionStatusCompleted
	return nil
}

func (r *fakeAuctionRepo) ListMovements(ctx context.Context, leagueID uuid.UUID) ([]models.Movement, error) {
	return nil, nil
}

type fakeRosterStore struct {
	players   map[uuid.UUID]*models.Player
	entries   map[uuid.UUID]*models.RosterEntry // keyed by player id
	contracts map[uuid.UUID]*models.Contract    // keyed by entry id
}

func newFakeRosterStore() *fakeRosterStore {
	return &fakeRosterStore{
		players:   make(map[uuid.UUID]*models.Player),
		entries:   make(map[uuid.UUID]*models.RosterEntry),
		contracts: make(map[uuid.UUID]*models.Contract),
	}
}

func (s *fakeRosterStore) GetActiveEntryByPlayer(ctx context.Context, memberID, playerID uuid.UUID) (*models.RosterEntry, error) {
	entry, ok := s.entries[playerID]
	if !ok || entry.MemberID != memberID {
		return nil, fault.ErrNotFound
	}
	return entry, nil
}

func (s *fakeRosterStore) GetContractByEntry(ctx context.Context, rosterEntryID uuid.UUID) (*models.Contract, error) {
	contract, ok := s.contracts[rosterEntryID]
	if !ok {
		return nil, fault.ErrNotFound
	}
	return contract, nil
}

func (s *fakeRosterStore) GetPlayer(ctx context.Context, id uuid.UUID) (*models.Player, error) {
	player, ok := s.players[id]
	if !ok {
		return nil, fault.ErrNotFound
	}
	return player, nil
}

type fakeBudgetLedger struct {
	budgets map[uuid.UUID]int
}

func (l *fakeBudgetLedger) GetBudget(ctx context.Context, memberID uuid.UUID) (int, error) {
	budget, ok := l.budgets[memberID]
	if !ok {
		return 0, fault.ErrNotFound
	}
	return budget, nil
}

type fakeOutbox struct {
	events []string
}

func (o *fakeOutbox) InsertAuctionOpened(ctx context.Context, sessionID uuid.UUID, payload []byte) error {
	o.events = append(o.events, "AuctionOpened")
	return nil
}

func (o *fakeOutbox) InsertBidPlaced(ctx context.Context, sessionID uuid.UUID, payload []byte) error {
	o.events = append(o.events, "BidPlaced")
	return nil
}

func (o *fakeOutbox) InsertAuctionCompleted(ctx context.Context, sessionID uuid.UUID, payload []byte) error {
	o.events = append(o.events, "AuctionCompleted")
	return nil
}

type auctionFixture struct {
	app     *App
	repo    *fakeAuctionRepo
	rosters *fakeRosterStore
	budgets *fakeBudgetLedger
	outbox  *fakeOutbox
}

func newAuctionFixture() *auctionFixture {
	repo := newFakeAuctionRepo()
	rosters := newFakeRosterStore()
	budgets := &fakeBudgetLedger{budgets: make(map[uuid.UUID]int)}
	outbox := &fakeOutbox{}
	return &auctionFixture{
		app:     NewApp(repo, rosters, budgets, outbox),
		repo:    repo,
		rosters: rosters,
		budgets: budgets,
		outbox:  outbox,
	}
}

func (f *auctionFixture) addPlayer(pos models.Position) uuid.UUID {
	id := uuid.New()
	f.rosters.players[id] = &models.Player{ID: id, FullName: "Test Player", Position: pos}
	return id
}

func TestOpenAuctionRejectsSecondOpenAuction(t *testing.T) {
	f := newAuctionFixture()
	sessionID := uuid.New()

	_, err := f.app.OpenAuction(context.Background(), OpenAuctionRequest{
		SessionID: sessionID,
		PlayerID:  f.addPlayer(models.PositionGoalkeeper),
		Type:      models.AuctionTypeFree,
		BasePrice: 1,
	})
	if err != nil {
		t.Fatalf("open first auction: %v", err)
	}

	_, err = f.app.OpenAuction(context.Background(), OpenAuctionRequest{
		SessionID: sessionID,
		PlayerID:  f.addPlayer(models.PositionDefender),
		Type:      models.AuctionTypeFree,
		BasePrice: 1,
	})
	if !errors.Is(err, fault.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState for second auction, got %v", err)
	}
}

func TestOpenAuctionRejectsBasePriceBelowOne(t *testing.T) {
	f := newAuctionFixture()

	_, err := f.app.OpenAuction(context.Background(), OpenAuctionRequest{
		SessionID: uuid.New(),
		PlayerID:  f.addPlayer(models.PositionGoalkeeper),
		Type:      models.AuctionTypeFree,
		BasePrice: 0,
	})
	if err == nil {
		t.Fatal("expected error for zero base price")
	}
}

func TestPlaceBidValidation(t *testing.T) {
	f := newAuctionFixture()
	sessionID := uuid.New()
	seller := uuid.New()
	bidder := uuid.New()
	f.budgets.budgets[bidder] = 150
	f.budgets.budgets[seller] = 500

	auction, err := f.app.OpenAuction(context.Background(), OpenAuctionRequest{
		SessionID: sessionID,
		PlayerID:  f.addPlayer(models.PositionForward),
		Type:      models.AuctionTypeRubata,
		BasePrice: 100,
		SellerID:  &seller,
	})
	if err != nil {
		t.Fatalf("open auction: %v", err)
	}

	tests := []struct {
		name    string
		bidder  uuid.UUID
		amount  int
		wantErr error
	}{
		{name: "bid at current price", bidder: bidder, amount: 100, wantErr: fault.ErrBidTooLow},
		{name: "bid below current price", bidder: bidder, amount: 50, wantErr: fault.ErrBidTooLow},
		{name: "seller bids own auction", bidder: seller, amount: 120, wantErr: fault.ErrSellerCannotBid},
		{name: "bid above budget", bidder: bidder, amount: 151, wantErr: fault.ErrInsufficientBudget},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.app.PlaceBid(context.Background(), auction.ID, tt.bidder, tt.amount)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}

	bid, err := f.app.PlaceBid(context.Background(), auction.ID, bidder, 110)
	if err != nil {
		t.Fatalf("valid bid: %v", err)
	}
	if !bid.IsWinning {
		t.Fatal("expected accepted bid to be winning")
	}

	current, _ := f.app.GetAuction(context.Background(), auction.ID)
	if current.CurrentPrice != 110 {
		t.Fatalf("expected current price 110, got %d", current.CurrentPrice)
	}
}

func TestPlaceBidPriceOnlyIncreases(t *testing.T) {
	f := newAuctionFixture()
	bidderA := uuid.New()
	bidderB := uuid.New()
	f.budgets.budgets[bidderA] = 1000
	f.budgets.budgets[bidderB] = 1000

	auction, err := f.app.OpenAuction(context.Background(), OpenAuctionRequest{
		SessionID: uuid.New(),
		PlayerID:  f.addPlayer(models.PositionMidfielder),
		Type:      models.AuctionTypeFreeAgent,
		BasePrice: 10,
	})
	if err != nil {
		t.Fatalf("open auction: %v", err)
	}

	amounts := []int{11, 25, 26, 40}
	bidders := []uuid.UUID{bidderA, bidderB, bidderA, bidderB}
	for i, amount := range amounts {
		if _, err := f.app.PlaceBid(context.Background(), auction.ID, bidders[i], amount); err != nil {
			t.Fatalf("bid %d: %v", amount, err)
		}
	}

	bids, _ := f.app.ListBids(context.Background(), auction.ID)
	if len(bids) != 4 {
		t.Fatalf("expected 4 bids, got %d", len(bids))
	}
	winning := 0
	for _, bid := range bids {
		if bid.IsWinning {
			winning++
			if bid.Amount != 40 || bid.BidderID != bidderB {
				t.Fatalf("wrong winning bid: %+v", bid)
			}
		}
	}
	if winning != 1 {
		t.Fatalf("expected exactly one winning bid, got %d", winning)
	}
}

func TestCloseAuctionNoBids(t *testing.T) {
	f := newAuctionFixture()
	seller := uuid.New()

	auction, err := f.app.OpenAuction(context.Background(), OpenAuctionRequest{
		SessionID: uuid.New(),
		PlayerID:  f.addPlayer(models.PositionDefender),
		Type:      models.AuctionTypeRubata,
		BasePrice: 60,
		SellerID:  &seller,
	})
	if err != nil {
		t.Fatalf("open auction: %v", err)
	}

	settlement, err := f.app.CloseAuction(context.Background(), auction.ID, uuid.New())
	if err != nil {
		t.Fatalf("close auction: %v", err)
	}
	if !settlement.NoBids {
		t.Fatal("expected no-bids settlement")
	}
	if settlement.Auction.Status != models.AuctionStatusNoBids {
		t.Fatalf("expected NO_BIDS status, got %s", settlement.Auction.Status)
	}
	if len(f.repo.settled) != 0 {
		t.Fatal("no-bids close must not settle")
	}

	// Terminal auction cannot be closed again
	if _, err := f.app.CloseAuction(context.Background(), auction.ID, uuid.New()); !errors.Is(err, fault.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState on double close, got %v", err)
	}
}

func TestCloseAuctionSettlesFreeAgentWithNewContract(t *testing.T) {
	f := newAuctionFixture()
	bidder := uuid.New()
	f.budgets.budgets[bidder] = 300
	playerID := f.addPlayer(models.PositionForward)

	auction, err := f.app.OpenAuction(context.Background(), OpenAuctionRequest{
		SessionID: uuid.New(),
		PlayerID:  playerID,
		Type:      models.AuctionTypeFreeAgent,
		BasePrice: 100,
	})
	if err != nil {
		t.Fatalf("open auction: %v", err)
	}

	if _, err := f.app.PlaceBid(context.Background(), auction.ID, bidder, 120); err != nil {
		t.Fatalf("bid: %v", err)
	}

	settlement, err := f.app.CloseAuction(context.Background(), auction.ID, uuid.New())
	if err != nil {
		t.Fatalf("close auction: %v", err)
	}
	if settlement.NoBids {
		t.Fatal("expected settled auction")
	}
	if settlement.WinnerID != bidder || settlement.Price != 120 {
		t.Fatalf("wrong settlement: winner=%s price=%d", settlement.WinnerID, settlement.Price)
	}
	if settlement.Auction.Status != models.AuctionStatusPendingAck {
		t.Fatalf("expected PENDING_ACKNOWLEDGMENT, got %s", settlement.Auction.Status)
	}

	if len(f.repo.settled) != 1 {
		t.Fatalf("expected one settle call, got %d", len(f.repo.settled))
	}
	req := f.repo.settled[0]
	if req.NewEntry == nil || req.NewContract == nil {
		t.Fatal("free-agent settlement must create entry and contract")
	}
	if req.NewEntry.MemberID != bidder || req.NewEntry.Price != 120 {
		t.Fatalf("wrong new entry: %+v", req.NewEntry)
	}
	// price/10 salary, two semesters, clause equal to price
	if req.NewContract.Salary != 12 || req.NewContract.Semesters != 2 || req.NewContract.Clause != 120 {
		t.Fatalf("wrong contract terms: %+v", req.NewContract)
	}
	if req.NewEntry.AcquisitionType != models.AcquisitionTypeFreeAgent {
		t.Fatalf("wrong acquisition type: %s", req.NewEntry.AcquisitionType)
	}
}

func TestCloseAuctionRubataTransfersSellerEntry(t *testing.T) {
	f := newAuctionFixture()
	seller := uuid.New()
	bidder := uuid.New()
	f.budgets.budgets[bidder] = 500
	playerID := f.addPlayer(models.PositionMidfielder)

	entryID := uuid.New()
	f.rosters.entries[playerID] = &models.RosterEntry{
		ID:       entryID,
		MemberID: seller,
		PlayerID: playerID,
		Position: models.PositionMidfielder,
		Active:   true,
	}

	auction, err := f.app.OpenAuction(context.Background(), OpenAuctionRequest{
		SessionID: uuid.New(),
		PlayerID:  playerID,
		Type:      models.AuctionTypeRubata,
		BasePrice: 110,
		SellerID:  &seller,
	})
	if err != nil {
		t.Fatalf("open auction: %v", err)
	}

	if _, err := f.app.PlaceBid(context.Background(), auction.ID, bidder, 130); err != nil {
		t.Fatalf("bid: %v", err)
	}

	settlement, err := f.app.CloseAuction(context.Background(), auction.ID, uuid.New())
	if err != nil {
		t.Fatalf("close auction: %v", err)
	}
	if settlement.WinnerID != bidder || settlement.Price != 130 {
		t.Fatalf("wrong settlement: winner=%s price=%d", settlement.WinnerID, settlement.Price)
	}

	req := f.repo.settled[0]
	if req.TransferEntryID == nil || *req.TransferEntryID != entryID {
		t.Fatal("rubata settlement must transfer the seller's entry")
	}
	if req.NewEntry != nil || req.NewContract != nil {
		t.Fatal("rubata settlement must not create a new contract")
	}
}

func TestCloseAuctionHandsClosedEventToRepository(t *testing.T) {
	t.Run("settled", func(t *testing.T) {
		f := newAuctionFixture()
		bidder := uuid.New()
		f.budgets.budgets[bidder] = 200
		playerID := f.addPlayer(models.PositionForward)

		auction, err := f.app.OpenAuction(context.Background(), OpenAuctionRequest{
			SessionID: uuid.New(),
			PlayerID:  playerID,
			Type:      models.AuctionTypeFreeAgent,
			BasePrice: 50,
		})
		if err != nil {
			t.Fatalf("open auction: %v", err)
		}
		if _, err := f.app.PlaceBid(context.Background(), auction.ID, bidder, 80); err != nil {
			t.Fatalf("bid: %v", err)
		}
		if _, err := f.app.CloseAuction(context.Background(), auction.ID, uuid.New()); err != nil {
			t.Fatalf("close auction: %v", err)
		}

		if len(f.repo.closedEvents) != 1 {
			t.Fatalf("expected one closed event with the settlement, got %d", len(f.repo.closedEvents))
		}
		var payload events.AuctionClosedPayload
		if err := json.Unmarshal(f.repo.closedEvents[0], &payload); err != nil {
			t.Fatalf("decode closed event: %v", err)
		}
		if payload.AuctionID != auction.ID.String() || payload.WinnerID != bidder.String() || payload.Price != 80 || payload.NoBids {
			t.Fatalf("wrong closed event: %+v", payload)
		}
	})

	t.Run("no bids", func(t *testing.T) {
		f := newAuctionFixture()
		auction, err := f.app.OpenAuction(context.Background(), OpenAuctionRequest{
			SessionID: uuid.New(),
			PlayerID:  f.addPlayer(models.PositionGoalkeeper),
			Type:      models.AuctionTypeFree,
			BasePrice: 1,
		})
		if err != nil {
			t.Fatalf("open auction: %v", err)
		}
		if _, err := f.app.CloseAuction(context.Background(), auction.ID, uuid.New()); err != nil {
			t.Fatalf("close auction: %v", err)
		}

		if len(f.repo.closedEvents) != 1 {
			t.Fatalf("expected one closed event with the status flip, got %d", len(f.repo.closedEvents))
		}
		var payload events.AuctionClosedPayload
		if err := json.Unmarshal(f.repo.closedEvents[0], &payload); err != nil {
			t.Fatalf("decode closed event: %v", err)
		}
		if !payload.NoBids || payload.AuctionID != auction.ID.String() {
			t.Fatalf("wrong closed event: %+v", payload)
		}
	})
}

func TestCompleteAuctionRequiresPendingAck(t *testing.T) {
	f := newFakeAuctionRepo()
	fixture := newAuctionFixture()
	fixture.repo = f
	app := NewApp(f, fixture.rosters, fixture.budgets, fixture.outbox)

	auctionID := uuid.New()
	f.auctions[auctionID] = &models.Auction{
		ID:        auctionID,
		SessionID: uuid.New(),
		Status:    models.AuctionStatusActive,
	}

	if err := app.CompleteAuction(context.Background(), auctionID); !errors.Is(err, fault.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}

	f.auctions[auctionID].Status = models.AuctionStatusPendingAck
	if err := app.CompleteAuction(context.Background(), auctionID); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if f.auctions[auctionID].Status != models.AuctionStatusCompleted {
		t.Fatalf("expected COMPLETED, got %s", f.auctions[auctionID].Status)
	}
}
