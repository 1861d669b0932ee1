package market

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/pietro1412/fantacontratti/internal/auction"
	"github.com/pietro1412/fantacontratti/internal/events"
	"github.com/pietro1412/fantacontratti/internal/fault"
	"github.com/pietro1412/fantacontratti/internal/models"
	"github.com/pietro1412/fantacontratti/internal/roster"
)

// SessionRepository defines what the app layer needs from the market repository
type SessionRepository interface {
	CreateSession(ctx context.Context, session models.MarketSession) (*models.MarketSession, error)
	GetSession(ctx context.Context, id uuid.UUID) (*models.MarketSession, error)
	GetActiveSessionByLeague(ctx context.Context, leagueID uuid.UUID) (*models.MarketSession, error)
	AdvancePhaseTx(ctx context.Context, transition PhaseTransition) error
	UpdateTurnState(ctx context.Context, id uuid.UUID, order []uuid.UUID, pos *models.Position, expiresAt *time.Time) error
	CompleteSession(ctx context.Context, id uuid.UUID) error
	UpsertReady(ctx context.Context, sessionID, memberID uuid.UUID, scope string) error
	SetAllReady(ctx context.Context, sessionID uuid.UUID, scope string, memberIDs []uuid.UUID) error
	ListReadyMembers(ctx context.Context, sessionID uuid.UUID, scope string) ([]uuid.UUID, error)
	ListSnapshots(ctx context.Context, sessionID uuid.UUID) ([]models.BudgetSnapshot, error)
}

// LeagueDirectory is the league/membership surface the phase machine consults
type LeagueDirectory interface {
	GetLeague(ctx context.Context, id uuid.UUID) (*models.League, error)
	ActiveMembers(ctx context.Context, leagueID uuid.UUID) ([]models.Member, error)
	RequireAdmin(ctx context.Context, leagueID, memberID uuid.UUID) (*models.Member, error)
	RequireActiveMember(ctx context.Context, leagueID, memberID uuid.UUID) (*models.Member, error)
	ActivateLeague(ctx context.Context, id uuid.UUID) error
}

// RosterService is the roster store surface the phase machine consults
type RosterService interface {
	MissingByPosition(ctx context.Context, memberID uuid.UUID, quotas models.SlotQuotas) (map[models.Position]int, error)
	GetActiveEntryByPlayer(ctx context.Context, memberID, playerID uuid.UUID) (*models.RosterEntry, error)
	GetContractByEntry(ctx context.Context, rosterEntryID uuid.UUID) (*models.Contract, error)
	GetPlayer(ctx context.Context, id uuid.UUID) (*models.Player, error)
	PlayerOwned(ctx context.Context, leagueID, playerID uuid.UUID) (bool, error)
	ApplyRenewalDecisions(ctx context.Context, memberID uuid.UUID, decisions []roster.RenewalDecision) error
}

// BudgetLedger reads member budgets for phase boundary snapshots
type BudgetLedger interface {
	GetBudget(ctx context.Context, memberID uuid.UUID) (int, error)
}

// BidEngine is the auction surface the phase machine drives
type BidEngine interface {
	OpenAuction(ctx context.Context, req auction.OpenAuctionRequest) (*models.Auction, error)
	PlaceBid(ctx context.Context, auctionID, bidderID uuid.UUID, amount int) (*models.Bid, error)
	CloseAuction(ctx context.Context, auctionID, leagueID uuid.UUID) (*auction.Settlement, error)
	CompleteAuction(ctx context.Context, auctionID uuid.UUID) error
	GetAuction(ctx context.Context, id uuid.UUID) (*models.Auction, error)
	GetBlockingAuction(ctx context.Context, sessionID uuid.UUID) (*models.Auction, error)
}

// OutboxApp writes session lifecycle events to the transactional outbox.
// PhaseAdvanced is absent on purpose: the repository writes it inside the
// phase transition.
type OutboxApp interface {
	InsertSessionCreated(ctx context.Context, sessionID uuid.UUID, payload []byte) error
	InsertSessionCompleted(ctx context.Context, sessionID uuid.UUID, payload []byte) error
	InsertTurnStarted(ctx context.Context, sessionID uuid.UUID, payload []byte) error
	InsertTurnSkipped(ctx context.Context, sessionID uuid.UUID, payload []byte) error
	InsertMemberReady(ctx context.Context, sessionID uuid.UUID, payload []byte) error
}

// Config carries the market timing defaults.
type Config struct {
	AuctionTimeout time.Duration
	TurnTimeout    time.Duration
}

// DefaultConfig returns the timing defaults used when no config file is given.
func DefaultConfig() Config {
	return Config{
		AuctionTimeout: 5 * time.Minute,
		TurnTimeout:    10 * time.Minute,
	}
}

// phaseTables maps each session type to its ordered phase sequence.
var phaseTables = map[models.SessionType][]models.MarketPhase{
	models.SessionTypeInitialDraft: {
		models.PhaseFreeAuction,
	},
	models.SessionTypeRecurring: {
		models.PhasePreRenewalTrades,
		models.PhaseContractRenewal,
		models.PhaseRubata,
		models.PhaseFreeAgentAuction,
		models.PhasePostAuctionTrades,
	},
}

func phaseScope(phase models.MarketPhase) string {
	return "PHASE:" + string(phase)
}

func auctionScope(auctionID uuid.UUID) string {
	return "AUCTION:" + auctionID.String()
}

// lockRegistry hands out one mutex per session id. All mutating session
// operations serialize on it; entries are dropped when the session completes.
type lockRegistry struct {
	mu    sync.Mutex
	locks map[uuid.UUID]*sync.Mutex
}

func newLockRegistry() *lockRegistry {
	return &lockRegistry{locks: make(map[uuid.UUID]*sync.Mutex)}
}

func (r *lockRegistry) acquire(sessionID uuid.UUID) func() {
	r.mu.Lock()
	lock, ok := r.locks[sessionID]
	if !ok {
		lock = &sync.Mutex{}
		r.locks[sessionID] = lock
	}
	r.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}

func (r *lockRegistry) drop(sessionID uuid.UUID) {
	r.mu.Lock()
	delete(r.locks, sessionID)
	r.mu.Unlock()
}

// App is the market phase state machine. It owns session lifecycle, phase
// transitions and their exit conditions, the readiness gate, and the
// phase-specific auction and turn sub-flows.
type App struct {
	sessions SessionRepository
	leagues  LeagueDirectory
	rosters  RosterService
	budgets  BudgetLedger
	auctions BidEngine
	outbox   OutboxApp
	clock    clockwork.Clock
	cfg      Config
	locks    *lockRegistry
}

// NewApp creates a new market App
func NewApp(sessions SessionRepository, leagues LeagueDirectory, rosters RosterService, budgets BudgetLedger, auctions BidEngine, outbox OutboxApp, clock clockwork.Clock, cfg Config) *App {
	return &App{
		sessions: sessions,
		leagues:  leagues,
		rosters:  rosters,
		budgets:  budgets,
		auctions: auctions,
		outbox:   outbox,
		clock:    clock,
		cfg:      cfg,
		locks:    newLockRegistry(),
	}
}

// GetSession retrieves a session by ID
func (a *App) GetSession(ctx context.Context, id uuid.UUID) (*models.MarketSession, error) {
	return a.sessions.GetSession(ctx, id)
}

// GetActiveSession returns the league's active session, or nil
func (a *App) GetActiveSession(ctx context.Context, leagueID uuid.UUID) (*models.MarketSession, error) {
	return a.sessions.GetActiveSessionByLeague(ctx, leagueID)
}

// ListSnapshots returns the session's budget snapshots in insertion order
func (a *App) ListSnapshots(ctx context.Context, sessionID uuid.UUID) ([]models.BudgetSnapshot, error) {
	return a.sessions.ListSnapshots(ctx, sessionID)
}

// CreateSessionRequest carries the admin command opening a market window.
type CreateSessionRequest struct {
	LeagueID uuid.UUID
	Type     models.SessionType
	Season   int
	Semester int
}

// CreateSession opens a new market session for the league. At most one
// session per league may be active; the unique index on active sessions
// backs this up against concurrent creates.
func (a *App) CreateSession(ctx context.Context, adminID uuid.UUID, req CreateSessionRequest) (*models.MarketSession, error) {
	if _, err := a.leagues.RequireAdmin(ctx, req.LeagueID, adminID); err != nil {
		return nil, err
	}

	phases, ok := phaseTables[req.Type]
	if !ok {
		return nil, fmt.Errorf("unknown session type: %s", req.Type)
	}

	existing, err := a.sessions.GetActiveSessionByLeague(ctx, req.LeagueID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, fault.ErrInvalidState
	}

	members, err := a.leagues.ActiveMembers(ctx, req.LeagueID)
	if err != nil {
		return nil, err
	}
	if len(members) == 0 {
		return nil, fault.ErrInvalidState
	}

	firstPhase := phases[0]
	session := models.MarketSession{
		ID:           uuid.New(),
		LeagueID:     req.LeagueID,
		Type:         req.Type,
		Status:       models.SessionStatusActive,
		CurrentPhase: &firstPhase,
		Season:       req.Season,
		Semester:     req.Semester,
		TurnOrder:    memberOrder(members),
	}

	if req.Type == models.SessionTypeInitialDraft {
		league, err := a.leagues.GetLeague(ctx, req.LeagueID)
		if err != nil {
			return nil, err
		}
		pos := firstDraftGroup(league.SlotQuotas)
		if pos == nil {
			return nil, fmt.Errorf("league has no roster quotas to draft")
		}
		session.NominationPos = pos
		expires := a.clock.Now().Add(a.cfg.TurnTimeout)
		session.TurnExpiresAt = &expires
	}

	created, err := a.sessions.CreateSession(ctx, session)
	if err != nil {
		return nil, err
	}

	a.emitSessionCreated(ctx, created)
	return created, nil
}

// AdvancePhase moves the session to the requested phase. Unforced requests
// must name the immediate successor and pass the current phase's exit
// condition; a forced request is the admin escape hatch and skips both
// checks.
func (a *App) AdvancePhase(ctx context.Context, sessionID, adminID uuid.UUID, requested models.MarketPhase, forced bool) (*models.MarketSession, error) {
	unlock := a.locks.acquire(sessionID)
	defer unlock()

	session, err := a.activeSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if _, err := a.leagues.RequireAdmin(ctx, session.LeagueID, adminID); err != nil {
		return nil, err
	}
	if session.CurrentPhase == nil {
		return nil, fault.ErrInvalidState
	}
	current := *session.CurrentPhase

	phases := phaseTables[session.Type]
	if !phaseInTable(phases, requested) || requested == current {
		return nil, fault.ErrInvalidState
	}

	if forced {
		log.Printf("forced phase override on session %s: %s -> %s", sessionID, current, requested)
	} else {
		successor := phaseSuccessor(phases, current)
		if successor == nil || *successor != requested {
			return nil, fault.ErrInvalidState
		}
		if err := a.checkExit(ctx, session, current); err != nil {
			return nil, err
		}
		blocking, err := a.auctions.GetBlockingAuction(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		if blocking != nil {
			return nil, fault.NotReady("an auction is still open")
		}
	}

	members, err := a.leagues.ActiveMembers(ctx, session.LeagueID)
	if err != nil {
		return nil, err
	}

	transition := PhaseTransition{
		SessionID: sessionID,
		Phase:     requested,
	}

	if current == models.PhaseContractRenewal {
		snapshots, err := a.buildSnapshots(ctx, session, current, models.SnapshotPhaseEnd, members)
		if err != nil {
			return nil, err
		}
		transition.Snapshots = append(transition.Snapshots, snapshots...)
	}
	if requested == models.PhaseContractRenewal {
		snapshots, err := a.buildSnapshots(ctx, session, requested, models.SnapshotPhaseStart, members)
		if err != nil {
			return nil, err
		}
		transition.Snapshots = append(transition.Snapshots, snapshots...)
	}

	if requested == models.PhaseRubata {
		// cession order follows each member's rubata position
		expires := a.clock.Now().Add(a.cfg.TurnTimeout)
		transition.TurnOrder = memberOrder(members)
		transition.TurnExpiresAt = &expires
	}

	transition.EventPayload, err = json.Marshal(events.PhaseAdvancedPayload{
		SessionID:  sessionID.String(),
		FromPhase:  string(current),
		ToPhase:    string(requested),
		Forced:     forced,
		AdvancedAt: a.clock.Now(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode phase advanced event: %w", err)
	}

	if err := a.sessions.AdvancePhaseTx(ctx, transition); err != nil {
		return nil, err
	}

	if len(transition.TurnOrder) > 0 {
		a.emitTurnStarted(ctx, sessionID, transition.TurnOrder[0], requested, transition.TurnExpiresAt)
	}
	return a.sessions.GetSession(ctx, sessionID)
}

// checkExit validates the phase's exit condition against the current state.
func (a *App) checkExit(ctx context.Context, session *models.MarketSession, phase models.MarketPhase) error {
	switch phase {
	case models.PhaseFreeAuction:
		league, err := a.leagues.GetLeague(ctx, session.LeagueID)
		if err != nil {
			return err
		}
		members, err := a.leagues.ActiveMembers(ctx, session.LeagueID)
		if err != nil {
			return err
		}
		missing := make(map[string]map[models.Position]int)
		for _, member := range members {
			deficits, err := a.rosters.MissingByPosition(ctx, member.ID, league.SlotQuotas)
			if err != nil {
				return err
			}
			if len(deficits) > 0 {
				missing[member.ID.String()] = deficits
			}
		}
		if len(missing) > 0 {
			return &fault.NotReadyError{Reason: "rosters do not match quotas", Missing: missing}
		}
		return nil

	case models.PhaseContractRenewal:
		allReady, err := a.allReady(ctx, session, phaseScope(phase))
		if err != nil {
			return err
		}
		if !allReady {
			return fault.NotReady("not every member has consolidated renewals")
		}
		return nil

	case models.PhaseRubata:
		if len(session.TurnOrder) > 0 {
			return fault.NotReady("cession turns remain")
		}
		return nil

	default:
		// trade windows and the free-agent auction close at admin discretion
		return nil
	}
}

// CloseSession completes the session. An initial draft closing also
// activates the league.
func (a *App) CloseSession(ctx context.Context, sessionID, adminID uuid.UUID) error {
	unlock := a.locks.acquire(sessionID)
	defer unlock()

	session, err := a.activeSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if _, err := a.leagues.RequireAdmin(ctx, session.LeagueID, adminID); err != nil {
		return err
	}

	blocking, err := a.auctions.GetBlockingAuction(ctx, sessionID)
	if err != nil {
		return err
	}
	if blocking != nil {
		return fault.ErrInvalidState
	}

	if session.Type == models.SessionTypeInitialDraft {
		// the league only goes live once every roster satisfies the quotas
		if err := a.checkExit(ctx, session, models.PhaseFreeAuction); err != nil {
			return err
		}
	}

	if err := a.sessions.CompleteSession(ctx, sessionID); err != nil {
		return err
	}
	a.locks.drop(sessionID)

	if session.Type == models.SessionTypeInitialDraft {
		if err := a.leagues.ActivateLeague(ctx, session.LeagueID); err != nil {
			return fmt.Errorf("failed to activate league after draft: %w", err)
		}
	}

	a.emitSessionCompleted(ctx, session)
	return nil
}

// SetReady records the member's readiness for the current phase. Idempotent.
func (a *App) SetReady(ctx context.Context, sessionID, memberID uuid.UUID) error {
	unlock := a.locks.acquire(sessionID)
	defer unlock()

	session, err := a.activeSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if session.CurrentPhase == nil {
		return fault.ErrInvalidState
	}
	if _, err := a.leagues.RequireActiveMember(ctx, session.LeagueID, memberID); err != nil {
		return err
	}

	scope := phaseScope(*session.CurrentPhase)
	if err := a.sessions.UpsertReady(ctx, sessionID, memberID, scope); err != nil {
		return err
	}
	a.emitMemberReady(ctx, sessionID, memberID, scope)
	return nil
}

// ForceAllReady is the admin override for stuck phase gates: every active
// member's readiness flag is set for the current phase.
func (a *App) ForceAllReady(ctx context.Context, sessionID, adminID uuid.UUID) error {
	unlock := a.locks.acquire(sessionID)
	defer unlock()

	session, err := a.activeSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if session.CurrentPhase == nil {
		return fault.ErrInvalidState
	}
	if _, err := a.leagues.RequireAdmin(ctx, session.LeagueID, adminID); err != nil {
		return err
	}

	members, err := a.leagues.ActiveMembers(ctx, session.LeagueID)
	if err != nil {
		return err
	}
	log.Printf("admin %s forced readiness on session %s phase %s", adminID, sessionID, *session.CurrentPhase)
	return a.sessions.SetAllReady(ctx, sessionID, phaseScope(*session.CurrentPhase), memberOrder(members))
}

// ReadyMembers returns who has confirmed readiness for the current phase
func (a *App) ReadyMembers(ctx context.Context, sessionID uuid.UUID) ([]uuid.UUID, error) {
	session, err := a.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.CurrentPhase == nil {
		return nil, nil
	}
	return a.sessions.ListReadyMembers(ctx, sessionID, phaseScope(*session.CurrentPhase))
}

// ConsolidateRenewals applies the member's renewal decisions and marks them
// consolidated, which feeds the ContractRenewal exit gate.
func (a *App) ConsolidateRenewals(ctx context.Context, sessionID, memberID uuid.UUID, decisions []roster.RenewalDecision) error {
	unlock := a.locks.acquire(sessionID)
	defer unlock()

	session, err := a.activeSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if session.CurrentPhase == nil || *session.CurrentPhase != models.PhaseContractRenewal {
		return fault.ErrInvalidState
	}
	if _, err := a.leagues.RequireActiveMember(ctx, session.LeagueID, memberID); err != nil {
		return err
	}

	if err := a.rosters.ApplyRenewalDecisions(ctx, memberID, decisions); err != nil {
		return err
	}

	scope := phaseScope(models.PhaseContractRenewal)
	if err := a.sessions.UpsertReady(ctx, sessionID, memberID, scope); err != nil {
		return err
	}
	a.emitMemberReady(ctx, sessionID, memberID, scope)
	return nil
}

// internal helpers

func (a *App) activeSession(ctx context.Context, sessionID uuid.UUID) (*models.MarketSession, error) {
	session, err := a.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Status != models.SessionStatusActive {
		return nil, fault.ErrInvalidState
	}
	return session, nil
}

func (a *App) allReady(ctx context.Context, session *models.MarketSession, scope string) (bool, error) {
	members, err := a.leagues.ActiveMembers(ctx, session.LeagueID)
	if err != nil {
		return false, err
	}
	ready, err := a.sessions.ListReadyMembers(ctx, session.ID, scope)
	if err != nil {
		return false, err
	}
	readySet := make(map[uuid.UUID]bool, len(ready))
	for _, id := range ready {
		readySet[id] = true
	}
	for _, member := range members {
		if !readySet[member.ID] {
			return false, nil
		}
	}
	return true, nil
}

func (a *App) buildSnapshots(ctx context.Context, session *models.MarketSession, phase models.MarketPhase, label models.SnapshotLabel, members []models.Member) ([]models.BudgetSnapshot, error) {
	snapshots := make([]models.BudgetSnapshot, 0, len(members))
	for _, member := range members {
		budget, err := a.budgets.GetBudget(ctx, member.ID)
		if err != nil {
			return nil, err
		}
		snapshots = append(snapshots, models.BudgetSnapshot{
			ID:        uuid.New(),
			SessionID: session.ID,
			MemberID:  member.ID,
			Phase:     phase,
			Label:     label,
			Budget:    budget,
		})
	}
	return snapshots, nil
}

func memberOrder(members []models.Member) []uuid.UUID {
	order := make([]uuid.UUID, len(members))
	for i, member := range members {
		order[i] = member.ID
	}
	return order
}

func phaseInTable(phases []models.MarketPhase, phase models.MarketPhase) bool {
	for _, p := range phases {
		if p == phase {
			return true
		}
	}
	return false
}

func phaseSuccessor(phases []models.MarketPhase, current models.MarketPhase) *models.MarketPhase {
	for i, p := range phases {
		if p == current && i+1 < len(phases) {
			return &phases[i+1]
		}
	}
	return nil
}

func firstDraftGroup(quotas models.SlotQuotas) *models.Position {
	for _, pos := range models.PositionGroups {
		if quotas.ForPosition(pos) > 0 {
			p := pos
			return &p
		}
	}
	return nil
}

// event emission; failures are logged, never surfaced

func (a *App) emitSessionCreated(ctx context.Context, session *models.MarketSession) {
	phase := ""
	if session.CurrentPhase != nil {
		phase = string(*session.CurrentPhase)
	}
	payload, err := json.Marshal(events.SessionCreatedPayload{
		SessionID:   session.ID.String(),
		LeagueID:    session.LeagueID.String(),
		SessionType: string(session.Type),
		Phase:       phase,
		CreatedAt:   session.CreatedAt,
	})
	if err != nil {
		log.Printf("failed to marshal session created event: %v", err)
		return
	}
	if err := a.outbox.InsertSessionCreated(ctx, session.ID, payload); err != nil {
		log.Printf("failed to insert session created event: %v", err)
	}
}

func (a *App) emitSessionCompleted(ctx context.Context, session *models.MarketSession) {
	payload, err := json.Marshal(events.SessionCompletedPayload{
		SessionID:   session.ID.String(),
		LeagueID:    session.LeagueID.String(),
		CompletedAt: a.clock.Now(),
	})
	if err != nil {
		log.Printf("failed to marshal session completed event: %v", err)
		return
	}
	if err := a.outbox.InsertSessionCompleted(ctx, session.ID, payload); err != nil {
		log.Printf("failed to insert session completed event: %v", err)
	}
}

func (a *App) emitTurnStarted(ctx context.Context, sessionID, memberID uuid.UUID, phase models.MarketPhase, expiresAt *time.Time) {
	payload, err := json.Marshal(events.TurnStartedPayload{
		SessionID: sessionID.String(),
		MemberID:  memberID.String(),
		Phase:     string(phase),
		ExpiresAt: expiresAt,
		StartedAt: a.clock.Now(),
	})
	if err != nil {
		log.Printf("failed to marshal turn started event: %v", err)
		return
	}
	if err := a.outbox.InsertTurnStarted(ctx, sessionID, payload); err != nil {
		log.Printf("failed to insert turn started event: %v", err)
	}
}

func (a *App) emitTurnSkipped(ctx context.Context, sessionID, memberID uuid.UUID, auto bool) {
	payload, err := json.Marshal(events.TurnSkippedPayload{
		SessionID: sessionID.String(),
		MemberID:  memberID.String(),
		Auto:      auto,
		SkippedAt: a.clock.Now(),
	})
	if err != nil {
		log.Printf("failed to marshal turn skipped event: %v", err)
		return
	}
	if err := a.outbox.InsertTurnSkipped(ctx, sessionID, payload); err != nil {
		log.Printf("failed to insert turn skipped event: %v", err)
	}
}

func (a *App) emitMemberReady(ctx context.Context, sessionID, memberID uuid.UUID, scope string) {
	payload, err := json.Marshal(events.MemberReadyPayload{
		SessionID: sessionID.String(),
		MemberID:  memberID.String(),
		Scope:     scope,
		ReadyAt:   a.clock.Now(),
	})
	if err != nil {
		log.Printf("failed to marshal member ready event: %v", err)
		return
	}
	if err := a.outbox.InsertMemberReady(ctx, sessionID, payload); err != nil {
		log.Printf("failed to insert member ready event: %v", err)
	}
}
