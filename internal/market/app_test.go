package market

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/pietro1412/fantacontratti/internal/auction"
	"github.com/pietro1412/fantacontratti/internal/events"
	"github.com/pietro1412/fantacontratti/internal/fault"
	"github.com/pietro1412/fantacontratti/internal/models"
	"github.com/pietro1412/fantacontratti/internal/roster"
)

type fakeSessionRepo struct {
	sessions    map[uuid.UUID]*models.MarketSession
	readiness   map[string]map[uuid.UUID]bool // scope -> member set
	snapshots   []models.BudgetSnapshot
	phaseEvents [][]byte
	advanceErr  error
}

func newFakeSessionRepo() *fakeSessionRepo {
	return &fakeSessionRepo{
		sessions:  make(map[uuid.UUID]*models.MarketSession),
		readiness: make(map[string]map[uuid.UUID]bool),
	}
}

func (r *fakeSessionRepo) CreateSession(ctx context.Context, session models.MarketSession) (*models.MarketSession, error) {
	for _, existing := range r.sessions {
		if existing.LeagueID == session.LeagueID && existing.Status == models.SessionStatusActive {
			return nil, fault.ErrInvalidState
		}
	}
	session.CreatedAt = time.Now()
	r.sessions[session.ID] = &session
	copied := session
	return &copied, nil
}

func (r *fakeSessionRepo) GetSession(ctx context.Context, id uuid.UUID) (*models.MarketSession, error) {
	session, ok := r.sessions[id]
	if !ok {
		return nil, fault.ErrNotFound
	}
	copied := *session
	return &copied, nil
}

func (r *fakeSessionRepo) GetActiveSessionByLeague(ctx context.Context, leagueID uuid.UUID) (*models.MarketSession, error) {
	for _, session := range r.sessions {
		if session.LeagueID == leagueID && session.Status == models.SessionStatusActive {
			copied := *session
			return &copied, nil
		}
	}
	return nil, nil
}

func (r *fakeSessionRepo) AdvancePhaseTx(ctx context.Context, t PhaseTransition) error {
	if r.advanceErr != nil {
		return r.advanceErr
	}
	session, ok := r.sessions[t.SessionID]
	if !ok || session.Status != models.SessionStatusActive {
		return fault.ErrInvalidState
	}
	p := t.Phase
	session.CurrentPhase = &p
	session.TurnOrder = t.TurnOrder
	session.NominationPos = t.NominationPos
	session.TurnExpiresAt = t.TurnExpiresAt
	r.readiness = make(map[string]map[uuid.UUID]bool)
	r.snapshots = append(r.snapshots, t.Snapshots...)
	r.phaseEvents = append(r.phaseEvents, t.EventPayload)
	return nil
}

func (r *fakeSessionRepo) UpdateTurnState(ctx context.Context, id uuid.UUID, order []uuid.UUID, pos *models.Position, expiresAt *time.Time) error {
	session, ok := r.sessions[id]
	if !ok || session.Status != models.SessionStatusActive {
		return fault.ErrInvalidState
	}
	session.TurnOrder = order
	session.NominationPos = pos
	session.TurnExpiresAt = expiresAt
	return nil
}

func (r *fakeSessionRepo) CompleteSession(ctx context.Context, id uuid.UUID) error {
	session, ok := r.sessions[id]
	if !ok || session.Status != models.SessionStatusActive {
		return fault.ErrInvalidState
	}
	now := time.Now()
	session.Status = models.SessionStatusCompleted
	session.CompletedAt = &now
	return nil
}

func (r *fakeSessionRepo) UpsertReady(ctx context.Context, sessionID, memberID uuid.UUID, scope string) error {
	if r.readiness[scope] == nil {
		r.readiness[scope] = make(map[uuid.UUID]bool)
	}
	r.readiness[scope][memberID] = true
	return nil
}

func (r *fakeSessionRepo) SetAllReady(ctx context.Context, sessionID uuid.UUID, scope string, memberIDs []uuid.UUID) error {
	for _, id := range memberIDs {
		if err := r.UpsertReady(ctx, sessionID, id, scope); err != nil {
			return err
		}
	}
	return nil
}

func (r *fakeSessionRepo) ListReadyMembers(ctx context.Context, sessionID uuid.UUID, scope string) ([]uuid.UUID, error) {
	var out []uuid.UUID
	for id := range r.readiness[scope] {
		out = append(out, id)
	}
	return out, nil
}

func (r *fakeSessionRepo) ListSnapshots(ctx context.Context, sessionID uuid.UUID) ([]models.BudgetSnapshot, error) {
	var out []models.BudgetSnapshot
	for _, s := range r.snapshots {
		if s.SessionID == sessionID {
			out = append(out, s)
		}
	}
	return out, nil
}

type fakeLeagueDirectory struct {
	league    *models.League
	members   []models.Member
	adminID   uuid.UUID
	activated bool
}

func (d *fakeLeagueDirectory) GetLeague(ctx context.Context, id uuid.UUID) (*models.League, error) {
	return d.league, nil
}

func (d *fakeLeagueDirectory) ActiveMembers(ctx context.Context, leagueID uuid.UUID) ([]models.Member, error) {
	return d.members, nil
}

func (d *fakeLeagueDirectory) RequireAdmin(ctx context.Context, leagueID, memberID uuid.UUID) (*models.Member, error) {
	if memberID != d.adminID {
		return nil, fault.ErrUnauthorized
	}
	return d.member(memberID), nil
}

func (d *fakeLeagueDirectory) RequireActiveMember(ctx context.Context, leagueID, memberID uuid.UUID) (*models.Member, error) {
	if m := d.member(memberID); m != nil {
		return m, nil
	}
	return nil, fault.ErrUnauthorized
}

func (d *fakeLeagueDirectory) ActivateLeague(ctx context.Context, id uuid.UUID) error {
	d.activated = true
	return nil
}

func (d *fakeLeagueDirectory) member(id uuid.UUID) *models.Member {
	for i := range d.members {
		if d.members[i].ID == id {
			return &d.members[i]
		}
	}
	return nil
}

type fakeRosterService struct {
	missing   map[uuid.UUID]map[models.Position]int // member -> deficits
	owned     map[uuid.UUID]bool                    // player -> owned
	players   map[uuid.UUID]*models.Player
	entries   map[uuid.UUID]*models.RosterEntry // player -> entry
	contracts map[uuid.UUID]*models.Contract    // entry -> contract
	renewed   []uuid.UUID
}

func newFakeRosterService() *fakeRosterService {
	return &fakeRosterService{
		missing:   make(map[uuid.UUID]map[models.Position]int),
		owned:     make(map[uuid.UUID]bool),
		players:   make(map[uuid.UUID]*models.Player),
		entries:   make(map[uuid.UUID]*models.RosterEntry),
		contracts: make(map[uuid.UUID]*models.Contract),
	}
}

func (s *fakeRosterService) MissingByPosition(ctx context.Context, memberID uuid.UUID, quotas models.SlotQuotas) (map[models.Position]int, error) {
	return s.missing[memberID], nil
}

func (s *fakeRosterService) GetActiveEntryByPlayer(ctx context.Context, memberID, playerID uuid.UUID) (*models.RosterEntry, error) {
	entry, ok := s.entries[playerID]
	if !ok || entry.MemberID != memberID {
		return nil, fault.ErrNotFound
	}
	return entry, nil
}

func (s *fakeRosterService) GetContractByEntry(ctx context.Context, rosterEntryID uuid.UUID) (*models.Contract, error) {
	contract, ok := s.contracts[rosterEntryID]
	if !ok {
		return nil, fault.ErrNotFound
	}
	return contract, nil
}

func (s *fakeRosterService) GetPlayer(ctx context.Context, id uuid.UUID) (*models.Player, error) {
	player, ok := s.players[id]
	if !ok {
		return nil, fault.ErrNotFound
	}
	return player, nil
}

func (s *fakeRosterService) PlayerOwned(ctx context.Context, leagueID, playerID uuid.UUID) (bool, error) {
	return s.owned[playerID], nil
}

func (s *fakeRosterService) ApplyRenewalDecisions(ctx context.Context, memberID uuid.UUID, decisions []roster.RenewalDecision) error {
	s.renewed = append(s.renewed, memberID)
	return nil
}

type fakeMarketBudgets struct {
	budgets map[uuid.UUID]int
}

func (l *fakeMarketBudgets) GetBudget(ctx context.Context, memberID uuid.UUID) (int, error) {
	return l.budgets[memberID], nil
}

type fakeBidEngine struct {
	auctions    map[uuid.UUID]*models.Auction
	settlements map[uuid.UUID]*auction.Settlement // configured close outcomes
	completed   []uuid.UUID
}

func newFakeBidEngine() *fakeBidEngine {
	return &fakeBidEngine{
		auctions:    make(map[uuid.UUID]*models.Auction),
		settlements: make(map[uuid.UUID]*auction.Settlement),
	}
}

func (e *fakeBidEngine) OpenAuction(ctx context.Context, req auction.OpenAuctionRequest) (*models.Auction, error) {
	if blocking, _ := e.GetBlockingAuction(ctx, req.SessionID); blocking != nil {
		return nil, fault.ErrInvalidState
	}
	a := &models.Auction{
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
	}
	e.auctions[a.ID] = a
	copied := *a
	return &copied, nil
}

func (e *fakeBidEngine) PlaceBid(ctx context.Context, auctionID, bidderID uuid.UUID, amount int) (*models.Bid, error) {
	a, ok := e.auctions[auctionID]
	if !ok {
		return nil, fault.ErrNotFound
	}
	if !a.Status.Open() {
		return nil, fault.ErrInvalidState
	}
	a.CurrentPrice = amount
	return &models.Bid{ID: uuid.New(), AuctionID: auctionID, BidderID: bidderID, Amount: amount, IsWinning: true}, nil
}

func (e *fakeBidEngine) CloseAuction(ctx context.Context, auctionID, leagueID uuid.UUID) (*auction.Settlement, error) {
	a, ok := e.auctions[auctionID]
	if !ok {
		return nil, fault.ErrNotFound
	}
	if !a.Status.Open() {
		return nil, fault.ErrInvalidState
	}
	if settlement, ok := e.settlements[auctionID]; ok {
		a.Status = models.AuctionStatusPendingAck
		settlement.Auction = a
		return settlement, nil
	}
	a.Status = models.AuctionStatusNoBids
	return &auction.Settlement{Auction: a, NoBids: true}, nil
}

func (e *fakeBidEngine) CompleteAuction(ctx context.Context, auctionID uuid.UUID) error {
	a, ok := e.auctions[auctionID]
	if !ok || a.Status != models.AuctionStatusPendingAck {
		return fault.ErrInvalidState
	}
	a.Status = models.AuctionStatusCompleted
	e.completed = append(e.completed, auctionID)
	return nil
}

func (e *fakeBidEngine) GetAuction(ctx context.Context, id uuid.UUID) (*models.Auction, error) {
	a, ok := e.auctions[id]
	if !ok {
		return nil, fault.ErrNotFound
	}
	copied := *a
	return &copied, nil
}

func (e *fakeBidEngine) GetBlockingAuction(ctx context.Context, sessionID uuid.UUID) (*models.Auction, error) {
	for _, a := range e.auctions {
		if a.SessionID == sessionID && !a.Status.Terminal() {
			copied := *a
			return &copied, nil
		}
	}
	return nil, nil
}

type fakeMarketOutbox struct {
	events []string
}

func (o *fakeMarketOutbox) insert(name string) error {
	o.events = append(o.events, name)
	return nil
}

func (o *fakeMarketOutbox) InsertSessionCreated(ctx context.Context, sessionID uuid.UUID, payload []byte) error {
	return o.insert("SessionCreated")
}

func (o *fakeMarketOutbox) InsertSessionCompleted(ctx context.Context, sessionID uuid.UUID, payload []byte) error {
	return o.insert("SessionCompleted")
}

func (o *fakeMarketOutbox) InsertTurnStarted(ctx context.Context, sessionID uuid.UUID, payload []byte) error {
	return o.insert("TurnStarted")
}

func (o *fakeMarketOutbox) InsertTurnSkipped(ctx context.Context, sessionID uuid.UUID, payload []byte) error {
	return o.insert("TurnSkipped")
}

func (o *fakeMarketOutbox) InsertMemberReady(ctx context.Context, sessionID uuid.UUID, payload []byte) error {
	return o.insert("MemberReady")
}

type marketFixture struct {
	app      *App
	sessions *fakeSessionRepo
	leagues  *fakeLeagueDirectory
	rosters  *fakeRosterService
	budgets  *fakeMarketBudgets
	auctions *fakeBidEngine
	outbox   *fakeMarketOutbox
	clock    *clockwork.FakeClock
	admin    uuid.UUID
	members  []uuid.UUID
}

func newMarketFixture(memberCount int) *marketFixture {
	leagueID := uuid.New()
	members := make([]models.Member, memberCount)
	ids := make([]uuid.UUID, memberCount)
	budgets := make(map[uuid.UUID]int, memberCount)
	for i := range members {
		id := uuid.New()
		members[i] = models.Member{ID: id, LeagueID: leagueID, Status: models.MemberStatusActive, Budget: 500}
		ids[i] = id
		budgets[id] = 500
	}

	f := &marketFixture{
		sessions: newFakeSessionRepo(),
		leagues: &fakeLeagueDirectory{
			league: &models.League{
				ID:         leagueID,
				Status:     models.LeagueStatusDraft,
				SlotQuotas: models.SlotQuotas{Goalkeepers: 1, Defenders: 2, Midfielders: 2, Forwards: 1},
			},
			members: members,
			adminID: ids[0],
		},
		rosters:  newFakeRosterService(),
		budgets:  &fakeMarketBudgets{budgets: budgets},
		auctions: newFakeBidEngine(),
		outbox:   &fakeMarketOutbox{},
		clock:    clockwork.NewFakeClock(),
		admin:    ids[0],
		members:  ids,
	}
	f.app = NewApp(f.sessions, f.leagues, f.rosters, f.budgets, f.auctions, f.outbox, f.clock, DefaultConfig())
	return f
}

// seedSession stores an active session directly, bypassing CreateSession.
func (f *marketFixture) seedSession(sessionType models.SessionType, phase models.MarketPhase) *models.MarketSession {
	p := phase
	session := &models.MarketSession{
		ID:           uuid.New(),
		LeagueID:     f.leagues.league.ID,
		Type:         sessionType,
		Status:       models.SessionStatusActive,
		CurrentPhase: &p,
		Season:       2026,
		Semester:     1,
	}
	f.sessions.sessions[session.ID] = session
	return session
}

func (f *marketFixture) setTurnState(session *models.MarketSession, order []uuid.UUID, pos *models.Position, armed bool) {
	stored := f.sessions.sessions[session.ID]
	stored.TurnOrder = order
	stored.NominationPos = pos
	if armed {
		expires := f.clock.Now().Add(DefaultConfig().TurnTimeout)
		stored.TurnExpiresAt = &expires
	} else {
		stored.TurnExpiresAt = nil
	}
}

func TestCreateSessionRequiresAdmin(t *testing.T) {
	f := newMarketFixture(4)

	_, err := f.app.CreateSession(context.Background(), f.members[1], CreateSessionRequest{
		LeagueID: f.leagues.league.ID,
		Type:     models.SessionTypeRecurring,
		Season:   2026,
		Semester: 1,
	})
	if !errors.Is(err, fault.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestCreateSessionRejectsSecondActive(t *testing.T) {
	f := newMarketFixture(4)
	f.seedSession(models.SessionTypeRecurring, models.PhasePreRenewalTrades)

	_, err := f.app.CreateSession(context.Background(), f.admin, CreateSessionRequest{
		LeagueID: f.leagues.league.ID,
		Type:     models.SessionTypeRecurring,
		Season:   2026,
		Semester: 1,
	})
	if !errors.Is(err, fault.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
}

func TestCreateSessionDraftArmsFirstNomination(t *testing.T) {
	f := newMarketFixture(3)

	session, err := f.app.CreateSession(context.Background(), f.admin, CreateSessionRequest{
		LeagueID: f.leagues.league.ID,
		Type:     models.SessionTypeInitialDraft,
		Season:   2026,
		Semester: 1,
	})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	if session.CurrentPhase == nil || *session.CurrentPhase != models.PhaseFreeAuction {
		t.Fatalf("expected FREE_AUCTION phase, got %v", session.CurrentPhase)
	}
	if session.NominationPos == nil || *session.NominationPos != models.PositionGoalkeeper {
		t.Fatalf("expected goalkeeper nomination group, got %v", session.NominationPos)
	}
	if len(session.TurnOrder) != 3 || session.TurnOrder[0] != f.members[0] {
		t.Fatalf("wrong turn order: %v", session.TurnOrder)
	}
	if session.TurnExpiresAt == nil {
		t.Fatal("expected armed turn deadline")
	}
	want := f.clock.Now().Add(DefaultConfig().TurnTimeout)
	if !session.TurnExpiresAt.Equal(want) {
		t.Fatalf("expected deadline %s, got %s", want, session.TurnExpiresAt)
	}
}

func TestAdvancePhaseRejectsNonSuccessor(t *testing.T) {
	f := newMarketFixture(3)
	session := f.seedSession(models.SessionTypeRecurring, models.PhasePreRenewalTrades)

	_, err := f.app.AdvancePhase(context.Background(), session.ID, f.admin, models.PhaseRubata, false)
	if !errors.Is(err, fault.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
}

func TestAdvancePhaseIntoRenewalTakesStartSnapshots(t *testing.T) {
	f := newMarketFixture(3)
	session := f.seedSession(models.SessionTypeRecurring, models.PhasePreRenewalTrades)

	updated, err := f.app.AdvancePhase(context.Background(), session.ID, f.admin, models.PhaseContractRenewal, false)
	if err != nil {
		t.Fatalf("advance: %v", err)
	}
	if *updated.CurrentPhase != models.PhaseContractRenewal {
		t.Fatalf("expected CONTRACT_RENEWAL, got %s", *updated.CurrentPhase)
	}

	snapshots, _ := f.sessions.ListSnapshots(context.Background(), session.ID)
	if len(snapshots) != 3 {
		t.Fatalf("expected 3 snapshots, got %d", len(snapshots))
	}
	for _, s := range snapshots {
		if s.Label != models.SnapshotPhaseStart || s.Phase != models.PhaseContractRenewal {
			t.Fatalf("wrong snapshot: %+v", s)
		}
		if s.Budget != 500 {
			t.Fatalf("expected budget 500, got %d", s.Budget)
		}
	}
}

func TestAdvancePhaseRenewalGate(t *testing.T) {
	f := newMarketFixture(3)
	session := f.seedSession(models.SessionTypeRecurring, models.PhaseContractRenewal)

	_, err := f.app.AdvancePhase(context.Background(), session.ID, f.admin, models.PhaseRubata, false)
	var notReady *fault.NotReadyError
	if !errors.As(err, &notReady) {
		t.Fatalf("expected NotReadyError, got %v", err)
	}

	// every member consolidates, then the gate opens
	for _, id := range f.members {
		if err := f.app.ConsolidateRenewals(context.Background(), session.ID, id, nil); err != nil {
			t.Fatalf("consolidate for %s: %v", id, err)
		}
	}
	if len(f.rosters.renewed) != 3 {
		t.Fatalf("expected 3 renewal applications, got %d", len(f.rosters.renewed))
	}

	updated, err := f.app.AdvancePhase(context.Background(), session.ID, f.admin, models.PhaseRubata, false)
	if err != nil {
		t.Fatalf("advance after consolidation: %v", err)
	}
	if *updated.CurrentPhase != models.PhaseRubata {
		t.Fatalf("expected RUBATA, got %s", *updated.CurrentPhase)
	}

	// leaving renewal records end-of-phase budgets
	snapshots, _ := f.sessions.ListSnapshots(context.Background(), session.ID)
	ends := 0
	for _, s := range snapshots {
		if s.Label == models.SnapshotPhaseEnd {
			ends++
		}
	}
	if ends != 3 {
		t.Fatalf("expected 3 end snapshots, got %d", ends)
	}

	// entering rubata arms the cession order
	if len(updated.TurnOrder) != 3 {
		t.Fatalf("expected cession order of 3, got %v", updated.TurnOrder)
	}
	if updated.TurnExpiresAt == nil {
		t.Fatal("expected armed turn deadline entering rubata")
	}
}

func TestAdvancePhaseForcedSkipsGate(t *testing.T) {
	f := newMarketFixture(3)
	session := f.seedSession(models.SessionTypeRecurring, models.PhaseContractRenewal)

	updated, err := f.app.AdvancePhase(context.Background(), session.ID, f.admin, models.PhaseRubata, true)
	if err != nil {
		t.Fatalf("forced advance: %v", err)
	}
	if *updated.CurrentPhase != models.PhaseRubata {
		t.Fatalf("expected RUBATA, got %s", *updated.CurrentPhase)
	}
}

func TestAdvancePhaseBlockedByOpenAuction(t *testing.T) {
	f := newMarketFixture(3)
	session := f.seedSession(models.SessionTypeRecurring, models.PhaseFreeAgentAuction)

	if _, err := f.auctions.OpenAuction(context.Background(), auction.OpenAuctionRequest{
		SessionID: session.ID,
		PlayerID:  uuid.New(),
		Type:      models.AuctionTypeFreeAgent,
		BasePrice: 10,
	}); err != nil {
		t.Fatalf("open auction: %v", err)
	}

	_, err := f.app.AdvancePhase(context.Background(), session.ID, f.admin, models.PhasePostAuctionTrades, false)
	if !fault.IsNotReady(err) {
		t.Fatalf("expected NotReadyError, got %v", err)
	}

	if _, err := f.app.AdvancePhase(context.Background(), session.ID, f.admin, models.PhasePostAuctionTrades, true); err != nil {
		t.Fatalf("forced advance past open auction: %v", err)
	}
}

func TestAdvancePhaseResetsReadiness(t *testing.T) {
	f := newMarketFixture(3)
	session := f.seedSession(models.SessionTypeRecurring, models.PhasePreRenewalTrades)

	for _, id := range f.members {
		if err := f.app.SetReady(context.Background(), session.ID, id); err != nil {
			t.Fatalf("set ready: %v", err)
		}
	}
	ready, _ := f.app.ReadyMembers(context.Background(), session.ID)
	if len(ready) != 3 {
		t.Fatalf("expected 3 ready members, got %d", len(ready))
	}

	if _, err := f.app.AdvancePhase(context.Background(), session.ID, f.admin, models.PhaseContractRenewal, false); err != nil {
		t.Fatalf("advance: %v", err)
	}

	ready, _ = f.app.ReadyMembers(context.Background(), session.ID)
	if len(ready) != 0 {
		t.Fatalf("expected readiness cleared after advance, got %d", len(ready))
	}
}

func TestAdvancePhaseFailureLeavesSessionUntouched(t *testing.T) {
	f := newMarketFixture(3)
	session := f.seedSession(models.SessionTypeRecurring, models.PhasePreRenewalTrades)

	for _, id := range f.members {
		if err := f.app.SetReady(context.Background(), session.ID, id); err != nil {
			t.Fatalf("set ready: %v", err)
		}
	}

	f.sessions.advanceErr = errors.New("connection reset")
	if _, err := f.app.AdvancePhase(context.Background(), session.ID, f.admin, models.PhaseContractRenewal, false); err == nil {
		t.Fatal("expected advance to fail")
	}

	stored, _ := f.sessions.GetSession(context.Background(), session.ID)
	if stored.CurrentPhase == nil || *stored.CurrentPhase != models.PhasePreRenewalTrades {
		t.Fatalf("expected phase unchanged after failed advance, got %v", stored.CurrentPhase)
	}
	ready, _ := f.app.ReadyMembers(context.Background(), session.ID)
	if len(ready) != 3 {
		t.Fatalf("expected readiness untouched after failed advance, got %d", len(ready))
	}

	f.sessions.advanceErr = nil
	if _, err := f.app.AdvancePhase(context.Background(), session.ID, f.admin, models.PhaseContractRenewal, false); err != nil {
		t.Fatalf("advance: %v", err)
	}
	if len(f.sessions.phaseEvents) != 1 {
		t.Fatalf("expected one phase event committed with the transition, got %d", len(f.sessions.phaseEvents))
	}
	var payload events.PhaseAdvancedPayload
	if err := json.Unmarshal(f.sessions.phaseEvents[0], &payload); err != nil {
		t.Fatalf("decode phase event: %v", err)
	}
	if payload.FromPhase != string(models.PhasePreRenewalTrades) || payload.ToPhase != string(models.PhaseContractRenewal) {
		t.Fatalf("wrong phase event: %+v", payload)
	}
}

func TestRubataExitRequiresExhaustedOrder(t *testing.T) {
	f := newMarketFixture(3)
	session := f.seedSession(models.SessionTypeRecurring, models.PhaseRubata)
	f.setTurnState(session, f.members, nil, true)

	_, err := f.app.AdvancePhase(context.Background(), session.ID, f.admin, models.PhaseFreeAgentAuction, false)
	if !fault.IsNotReady(err) {
		t.Fatalf("expected NotReadyError while turns remain, got %v", err)
	}

	f.setTurnState(session, nil, nil, false)
	if _, err := f.app.AdvancePhase(context.Background(), session.ID, f.admin, models.PhaseFreeAgentAuction, false); err != nil {
		t.Fatalf("advance after order exhausted: %v", err)
	}
}

func TestPutPlayerOnPlatePausesDeadline(t *testing.T) {
	f := newMarketFixture(3)
	session := f.seedSession(models.SessionTypeRecurring, models.PhaseRubata)
	f.setTurnState(session, f.members, nil, true)

	holder := f.members[0]
	playerID := uuid.New()
	entryID := uuid.New()
	f.rosters.entries[playerID] = &models.RosterEntry{ID: entryID, MemberID: holder, PlayerID: playerID}
	f.rosters.contracts[entryID] = &models.Contract{ID: uuid.New(), RosterEntryID: entryID, Salary: 12, Clause: 120}

	// only the turn holder may put a player on the plate
	if _, err := f.app.PutPlayerOnPlate(context.Background(), session.ID, f.members[1], playerID); !errors.Is(err, fault.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState for non-holder, got %v", err)
	}

	opened, err := f.app.PutPlayerOnPlate(context.Background(), session.ID, holder, playerID)
	if err != nil {
		t.Fatalf("put on plate: %v", err)
	}
	if opened.Type != models.AuctionTypeRubata || opened.BasePrice != 132 {
		t.Fatalf("expected rubata auction at clause+salary 132, got %+v", opened)
	}
	if opened.SellerID == nil || *opened.SellerID != holder {
		t.Fatal("expected turn holder as seller")
	}

	stored, _ := f.sessions.GetSession(context.Background(), session.ID)
	if stored.TurnExpiresAt != nil {
		t.Fatal("expected turn deadline paused while auction runs")
	}
}

func TestPassTurnAdvancesAndArms(t *testing.T) {
	f := newMarketFixture(3)
	session := f.seedSession(models.SessionTypeRecurring, models.PhaseRubata)
	f.setTurnState(session, f.members, nil, true)

	if err := f.app.PassTurn(context.Background(), session.ID, f.members[0]); err != nil {
		t.Fatalf("pass turn: %v", err)
	}

	stored, _ := f.sessions.GetSession(context.Background(), session.ID)
	if len(stored.TurnOrder) != 2 || stored.TurnOrder[0] != f.members[1] {
		t.Fatalf("wrong order after pass: %v", stored.TurnOrder)
	}
	if stored.TurnExpiresAt == nil {
		t.Fatal("expected next turn deadline armed")
	}

	// the previous holder can no longer act
	if err := f.app.PassTurn(context.Background(), session.ID, f.members[0]); !errors.Is(err, fault.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState for stale holder, got %v", err)
	}
}

func TestCloseAuctionNoBidsAdvancesTurnImmediately(t *testing.T) {
	f := newMarketFixture(3)
	session := f.seedSession(models.SessionTypeRecurring, models.PhaseRubata)
	f.setTurnState(session, f.members, nil, false)

	opened, err := f.auctions.OpenAuction(context.Background(), auction.OpenAuctionRequest{
		SessionID: session.ID,
		PlayerID:  uuid.New(),
		Type:      models.AuctionTypeRubata,
		BasePrice: 50,
		SellerID:  &f.members[0],
	})
	if err != nil {
		t.Fatalf("open auction: %v", err)
	}

	settlement, err := f.app.CloseAuction(context.Background(), session.ID, f.admin, opened.ID)
	if err != nil {
		t.Fatalf("close auction: %v", err)
	}
	if !settlement.NoBids {
		t.Fatal("expected no-bids settlement")
	}

	stored, _ := f.sessions.GetSession(context.Background(), session.ID)
	if len(stored.TurnOrder) != 2 || stored.TurnOrder[0] != f.members[1] {
		t.Fatalf("wrong order after no-bids close: %v", stored.TurnOrder)
	}
	if stored.TurnExpiresAt == nil {
		t.Fatal("expected deadline armed immediately after no-bids close")
	}
}

func TestAcknowledgeAuctionCompletesAndRearms(t *testing.T) {
	f := newMarketFixture(2)
	session := f.seedSession(models.SessionTypeRecurring, models.PhaseRubata)
	f.setTurnState(session, f.members, nil, false)

	opened, err := f.auctions.OpenAuction(context.Background(), auction.OpenAuctionRequest{
		SessionID: session.ID,
		PlayerID:  uuid.New(),
		Type:      models.AuctionTypeRubata,
		BasePrice: 50,
		SellerID:  &f.members[0],
	})
	if err != nil {
		t.Fatalf("open auction: %v", err)
	}
	f.auctions.settlements[opened.ID] = &auction.Settlement{WinnerID: f.members[1], Price: 70}

	if _, err := f.app.CloseAuction(context.Background(), session.ID, f.admin, opened.ID); err != nil {
		t.Fatalf("close auction: %v", err)
	}

	// settled close advances the turn but the deadline waits for the acks
	stored, _ := f.sessions.GetSession(context.Background(), session.ID)
	if len(stored.TurnOrder) != 1 || stored.TurnOrder[0] != f.members[1] {
		t.Fatalf("wrong order after settled close: %v", stored.TurnOrder)
	}
	if stored.TurnExpiresAt != nil {
		t.Fatal("deadline must stay paused until all members acknowledge")
	}

	if err := f.app.AcknowledgeAuction(context.Background(), session.ID, f.members[0], opened.ID); err != nil {
		t.Fatalf("first ack: %v", err)
	}
	if len(f.auctions.completed) != 0 {
		t.Fatal("auction must not complete before all members acknowledge")
	}

	if err := f.app.AcknowledgeAuction(context.Background(), session.ID, f.members[1], opened.ID); err != nil {
		t.Fatalf("second ack: %v", err)
	}
	if len(f.auctions.completed) != 1 {
		t.Fatal("expected auction completed after last acknowledgment")
	}

	stored, _ = f.sessions.GetSession(context.Background(), session.ID)
	if stored.TurnExpiresAt == nil {
		t.Fatal("expected turn deadline rearmed after last acknowledgment")
	}
}

func TestAcknowledgeAuctionRequiresPendingAck(t *testing.T) {
	f := newMarketFixture(2)
	session := f.seedSession(models.SessionTypeRecurring, models.PhaseRubata)

	opened, err := f.auctions.OpenAuction(context.Background(), auction.OpenAuctionRequest{
		SessionID: session.ID,
		PlayerID:  uuid.New(),
		Type:      models.AuctionTypeRubata,
		BasePrice: 50,
		SellerID:  &f.members[0],
	})
	if err != nil {
		t.Fatalf("open auction: %v", err)
	}

	if err := f.app.AcknowledgeAuction(context.Background(), session.ID, f.members[0], opened.ID); !errors.Is(err, fault.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState for active auction, got %v", err)
	}
}

func TestAutoSkipTurnHonorsDeadline(t *testing.T) {
	f := newMarketFixture(3)
	session := f.seedSession(models.SessionTypeRecurring, models.PhaseRubata)
	f.setTurnState(session, f.members, nil, true)

	// deadline not yet reached
	if err := f.app.AutoSkipTurn(context.Background(), session.ID); !errors.Is(err, fault.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState before deadline, got %v", err)
	}

	f.clock.Advance(DefaultConfig().TurnTimeout + time.Second)
	if err := f.app.AutoSkipTurn(context.Background(), session.ID); err != nil {
		t.Fatalf("auto skip: %v", err)
	}

	stored, _ := f.sessions.GetSession(context.Background(), session.ID)
	if len(stored.TurnOrder) != 2 || stored.TurnOrder[0] != f.members[1] {
		t.Fatalf("wrong order after auto skip: %v", stored.TurnOrder)
	}

	skips := 0
	for _, event := range f.outbox.events {
		if event == "TurnSkipped" {
			skips++
		}
	}
	if skips != 1 {
		t.Fatalf("expected one TurnSkipped event, got %d", skips)
	}
}

func TestAutoSkipTurnClearsStaleDeadlineUnderAuction(t *testing.T) {
	f := newMarketFixture(3)
	session := f.seedSession(models.SessionTypeRecurring, models.PhaseRubata)
	f.setTurnState(session, f.members, nil, true)

	if _, err := f.auctions.OpenAuction(context.Background(), auction.OpenAuctionRequest{
		SessionID: session.ID,
		PlayerID:  uuid.New(),
		Type:      models.AuctionTypeRubata,
		BasePrice: 50,
		SellerID:  &f.members[0],
	}); err != nil {
		t.Fatalf("open auction: %v", err)
	}

	f.clock.Advance(DefaultConfig().TurnTimeout + time.Second)
	if err := f.app.AutoSkipTurn(context.Background(), session.ID); !errors.Is(err, fault.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState while auction blocks, got %v", err)
	}

	stored, _ := f.sessions.GetSession(context.Background(), session.ID)
	if stored.TurnExpiresAt != nil {
		t.Fatal("expected stale deadline cleared")
	}
	if len(stored.TurnOrder) != 3 {
		t.Fatalf("turn order must not advance while auction blocks: %v", stored.TurnOrder)
	}
}

func TestNominateDraftPlayerEnforcesPositionGroup(t *testing.T) {
	f := newMarketFixture(3)
	session := f.seedSession(models.SessionTypeInitialDraft, models.PhaseFreeAuction)
	pos := models.PositionGoalkeeper
	f.setTurnState(session, f.members, &pos, true)

	keeper := uuid.New()
	striker := uuid.New()
	f.rosters.players[keeper] = &models.Player{ID: keeper, Position: models.PositionGoalkeeper}
	f.rosters.players[striker] = &models.Player{ID: striker, Position: models.PositionForward}

	if _, err := f.app.NominateDraftPlayer(context.Background(), session.ID, f.members[0], striker); !errors.Is(err, fault.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState for wrong position group, got %v", err)
	}

	opened, err := f.app.NominateDraftPlayer(context.Background(), session.ID, f.members[0], keeper)
	if err != nil {
		t.Fatalf("nominate: %v", err)
	}
	if opened.Type != models.AuctionTypeFree || opened.BasePrice != 1 {
		t.Fatalf("draft auction must start at 1: %+v", opened)
	}

	stored, _ := f.sessions.GetSession(context.Background(), session.ID)
	if stored.TurnExpiresAt != nil {
		t.Fatal("expected nomination deadline paused while auction runs")
	}
}

func TestNominateFreeAgentRejectsOwnedPlayer(t *testing.T) {
	f := newMarketFixture(3)
	session := f.seedSession(models.SessionTypeRecurring, models.PhaseFreeAgentAuction)

	playerID := uuid.New()
	f.rosters.players[playerID] = &models.Player{ID: playerID, Position: models.PositionForward}
	f.rosters.owned[playerID] = true

	if _, err := f.app.NominateFreeAgent(context.Background(), session.ID, f.members[1], playerID, 10); !errors.Is(err, fault.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState for owned player, got %v", err)
	}

	f.rosters.owned[playerID] = false
	opened, err := f.app.NominateFreeAgent(context.Background(), session.ID, f.members[1], playerID, 10)
	if err != nil {
		t.Fatalf("nominate free agent: %v", err)
	}
	if opened.Type != models.AuctionTypeFreeAgent || opened.NominatorID == nil || *opened.NominatorID != f.members[1] {
		t.Fatalf("wrong auction: %+v", opened)
	}
}

func TestCloseSessionDraftActivatesLeague(t *testing.T) {
	f := newMarketFixture(3)
	session := f.seedSession(models.SessionTypeInitialDraft, models.PhaseFreeAuction)

	if err := f.app.CloseSession(context.Background(), session.ID, f.admin); err != nil {
		t.Fatalf("close session: %v", err)
	}
	if !f.leagues.activated {
		t.Fatal("expected league activated after draft close")
	}

	stored, _ := f.sessions.GetSession(context.Background(), session.ID)
	if stored.Status != models.SessionStatusCompleted {
		t.Fatalf("expected COMPLETED, got %s", stored.Status)
	}

	// a completed session rejects further commands
	if err := f.app.SetReady(context.Background(), session.ID, f.members[1]); !errors.Is(err, fault.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState on completed session, got %v", err)
	}
}

func TestCloseSessionDraftRequiresFullRosters(t *testing.T) {
	f := newMarketFixture(3)
	session := f.seedSession(models.SessionTypeInitialDraft, models.PhaseFreeAuction)

	for _, id := range f.members {
		f.rosters.missing[id] = map[models.Position]int{
			models.PositionGoalkeeper: 1,
			models.PositionForward:    1,
		}
	}

	err := f.app.CloseSession(context.Background(), session.ID, f.admin)
	var notReady *fault.NotReadyError
	if !errors.As(err, &notReady) {
		t.Fatalf("expected NotReadyError with short rosters, got %v", err)
	}
	if len(notReady.Missing) != 3 {
		t.Fatalf("expected deficits for all 3 members, got %d", len(notReady.Missing))
	}
	if notReady.Missing[f.members[1].String()][models.PositionGoalkeeper] != 1 {
		t.Fatalf("wrong deficit map: %+v", notReady.Missing)
	}
	if f.leagues.activated {
		t.Fatal("league must not activate while rosters are short")
	}
	stored, _ := f.sessions.GetSession(context.Background(), session.ID)
	if stored.Status != models.SessionStatusActive {
		t.Fatalf("expected session still ACTIVE, got %s", stored.Status)
	}

	// filling the quotas unblocks the close
	for _, id := range f.members {
		delete(f.rosters.missing, id)
	}
	if err := f.app.CloseSession(context.Background(), session.ID, f.admin); err != nil {
		t.Fatalf("close session after rosters completed: %v", err)
	}
	if !f.leagues.activated {
		t.Fatal("expected league activated once every roster meets quota")
	}
}

func TestCloseSessionBlockedByOpenAuction(t *testing.T) {
	f := newMarketFixture(3)
	session := f.seedSession(models.SessionTypeRecurring, models.PhaseFreeAgentAuction)

	if _, err := f.auctions.OpenAuction(context.Background(), auction.OpenAuctionRequest{
		SessionID: session.ID,
		PlayerID:  uuid.New(),
		Type:      models.AuctionTypeFreeAgent,
		BasePrice: 10,
	}); err != nil {
		t.Fatalf("open auction: %v", err)
	}

	if err := f.app.CloseSession(context.Background(), session.ID, f.admin); !errors.Is(err, fault.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
}

func TestDraftTurnExhaustionRotatesPositionGroup(t *testing.T) {
	f := newMarketFixture(2)
	session := f.seedSession(models.SessionTypeInitialDraft, models.PhaseFreeAuction)
	pos := models.PositionGoalkeeper
	f.setTurnState(session, []uuid.UUID{f.members[1]}, &pos, true)

	// defenders still short for one member, so the group rotates to D
	f.rosters.missing[f.members[0]] = map[models.Position]int{models.PositionDefender: 2}

	if err := f.app.PassTurn(context.Background(), session.ID, f.members[1]); err != nil {
		t.Fatalf("pass final turn of group: %v", err)
	}

	stored, _ := f.sessions.GetSession(context.Background(), session.ID)
	if stored.NominationPos == nil || *stored.NominationPos != models.PositionDefender {
		t.Fatalf("expected rotation to defenders, got %v", stored.NominationPos)
	}
	if len(stored.TurnOrder) != 2 || stored.TurnOrder[0] != f.members[0] {
		t.Fatalf("expected order reset for new group: %v", stored.TurnOrder)
	}
	if stored.TurnExpiresAt == nil {
		t.Fatal("expected deadline armed for new group")
	}
}

func TestDraftTurnExhaustionEndsWhenQuotasMet(t *testing.T) {
	f := newMarketFixture(2)
	session := f.seedSession(models.SessionTypeInitialDraft, models.PhaseFreeAuction)
	pos := models.PositionForward
	f.setTurnState(session, []uuid.UUID{f.members[1]}, &pos, true)

	// no deficits anywhere: the draft order drains for good
	if err := f.app.PassTurn(context.Background(), session.ID, f.members[1]); err != nil {
		t.Fatalf("pass final turn: %v", err)
	}

	stored, _ := f.sessions.GetSession(context.Background(), session.ID)
	if stored.NominationPos != nil {
		t.Fatalf("expected nomination group cleared, got %v", stored.NominationPos)
	}
	if len(stored.TurnOrder) != 0 {
		t.Fatalf("expected empty order, got %v", stored.TurnOrder)
	}

	// with every roster full the free-auction exit gate holds
	if err := f.app.CloseSession(context.Background(), session.ID, f.admin); err != nil {
		t.Fatalf("close session: %v", err)
	}
}
