package market

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pietro1412/fantacontratti/internal/auction"
	"github.com/pietro1412/fantacontratti/internal/fault"
	"github.com/pietro1412/fantacontratti/internal/market/sequencer"
	"github.com/pietro1412/fantacontratti/internal/models"
)

// Phase-specific sub-flows: rubata cessions, initial-draft nominations,
// free-agent nominations, bidding, and the timer coordinator entry points.

// PlaceBid forwards a member's bid to the bid engine under the session lock.
func (a *App) PlaceBid(ctx context.Context, sessionID, memberID, auctionID uuid.UUID, amount int) (*models.Bid, error) {
	unlock := a.locks.acquire(sessionID)
	defer unlock()

	session, err := a.activeSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if _, err := a.leagues.RequireActiveMember(ctx, session.LeagueID, memberID); err != nil {
		return nil, err
	}
	if err := a.requireSessionAuction(ctx, sessionID, auctionID); err != nil {
		return nil, err
	}
	return a.auctions.PlaceBid(ctx, auctionID, memberID, amount)
}

// PutPlayerOnPlate opens a rubata auction for one of the current turn
// holder's contracted players. Base price is the contract's clause plus
// salary. The turn deadline pauses while the auction runs.
func (a *App) PutPlayerOnPlate(ctx context.Context, sessionID, memberID, playerID uuid.UUID) (*models.Auction, error) {
	unlock := a.locks.acquire(sessionID)
	defer unlock()

	session, err := a.activeSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.CurrentPhase == nil || *session.CurrentPhase != models.PhaseRubata {
		return nil, fault.ErrInvalidState
	}
	if _, err := a.leagues.RequireActiveMember(ctx, session.LeagueID, memberID); err != nil {
		return nil, err
	}
	if !holdsTurn(session, memberID) {
		return nil, fault.ErrInvalidState
	}

	entry, err := a.rosters.GetActiveEntryByPlayer(ctx, memberID, playerID)
	if err != nil {
		return nil, err
	}
	contract, err := a.rosters.GetContractByEntry(ctx, entry.ID)
	if err != nil {
		return nil, err
	}

	expires := a.clock.Now().Add(a.cfg.AuctionTimeout)
	opened, err := a.auctions.OpenAuction(ctx, auction.OpenAuctionRequest{
		SessionID: sessionID,
		PlayerID:  playerID,
		Type:      models.AuctionTypeRubata,
		BasePrice: contract.RubataBasePrice(),
		SellerID:  &memberID,
		ExpiresAt: &expires,
	})
	if err != nil {
		return nil, err
	}

	if err := a.pauseTurnDeadline(ctx, session); err != nil {
		return nil, err
	}
	return opened, nil
}

// PassTurn lets the current turn holder decline their nomination or cession.
func (a *App) PassTurn(ctx context.Context, sessionID, memberID uuid.UUID) error {
	unlock := a.locks.acquire(sessionID)
	defer unlock()

	session, err := a.activeSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if !turnPhase(session) {
		return fault.ErrInvalidState
	}
	if _, err := a.leagues.RequireActiveMember(ctx, session.LeagueID, memberID); err != nil {
		return err
	}
	if !holdsTurn(session, memberID) {
		return fault.ErrInvalidState
	}

	blocking, err := a.auctions.GetBlockingAuction(ctx, sessionID)
	if err != nil {
		return err
	}
	if blocking != nil {
		return fault.ErrInvalidState
	}

	return a.advanceTurn(ctx, session, true, false, true)
}

// NominateFreeAgent opens a free-agent auction for an unowned player. Any
// active member may nominate during the free-agent phase.
func (a *App) NominateFreeAgent(ctx context.Context, sessionID, memberID, playerID uuid.UUID, basePrice int) (*models.Auction, error) {
	unlock := a.locks.acquire(sessionID)
	defer unlock()

	session, err := a.activeSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.CurrentPhase == nil || *session.CurrentPhase != models.PhaseFreeAgentAuction {
		return nil, fault.ErrInvalidState
	}
	if _, err := a.leagues.RequireActiveMember(ctx, session.LeagueID, memberID); err != nil {
		return nil, err
	}

	if _, err := a.rosters.GetPlayer(ctx, playerID); err != nil {
		return nil, err
	}
	owned, err := a.rosters.PlayerOwned(ctx, session.LeagueID, playerID)
	if err != nil {
		return nil, err
	}
	if owned {
		return nil, fault.ErrInvalidState
	}

	expires := a.clock.Now().Add(a.cfg.AuctionTimeout)
	return a.auctions.OpenAuction(ctx, auction.OpenAuctionRequest{
		SessionID:   sessionID,
		PlayerID:    playerID,
		Type:        models.AuctionTypeFreeAgent,
		BasePrice:   basePrice,
		NominatorID: &memberID,
		ExpiresAt:   &expires,
	})
}

// NominateDraftPlayer opens an initial-draft auction for an unowned player
// in the session's current position group. Only the turn holder nominates;
// draft auctions start at the minimum price of one.
func (a *App) NominateDraftPlayer(ctx context.Context, sessionID, memberID, playerID uuid.UUID) (*models.Auction, error) {
	unlock := a.locks.acquire(sessionID)
	defer unlock()

	session, err := a.activeSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.CurrentPhase == nil || *session.CurrentPhase != models.PhaseFreeAuction {
		return nil, fault.ErrInvalidState
	}
	if _, err := a.leagues.RequireActiveMember(ctx, session.LeagueID, memberID); err != nil {
		return nil, err
	}
	if !holdsTurn(session, memberID) {
		return nil, fault.ErrInvalidState
	}

	player, err := a.rosters.GetPlayer(ctx, playerID)
	if err != nil {
		return nil, err
	}
	if session.NominationPos == nil || player.Position != *session.NominationPos {
		return nil, fault.ErrInvalidState
	}
	owned, err := a.rosters.PlayerOwned(ctx, session.LeagueID, playerID)
	if err != nil {
		return nil, err
	}
	if owned {
		return nil, fault.ErrInvalidState
	}

	expires := a.clock.Now().Add(a.cfg.AuctionTimeout)
	opened, err := a.auctions.OpenAuction(ctx, auction.OpenAuctionRequest{
		SessionID:   sessionID,
		PlayerID:    playerID,
		Type:        models.AuctionTypeFree,
		BasePrice:   1,
		NominatorID: &memberID,
		ExpiresAt:   &expires,
	})
	if err != nil {
		return nil, err
	}

	if err := a.pauseTurnDeadline(ctx, session); err != nil {
		return nil, err
	}
	return opened, nil
}

// CloseAuction closes the auction early on admin command. After settlement
// the owning turn (rubata cession or draft nomination) advances; the next
// turn's deadline is armed only once the settlement is acknowledged.
func (a *App) CloseAuction(ctx context.Context, sessionID, adminID, auctionID uuid.UUID) (*auction.Settlement, error) {
	unlock := a.locks.acquire(sessionID)
	defer unlock()

	session, err := a.activeSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if _, err := a.leagues.RequireAdmin(ctx, session.LeagueID, adminID); err != nil {
		return nil, err
	}
	if err := a.requireSessionAuction(ctx, sessionID, auctionID); err != nil {
		return nil, err
	}
	return a.closeAndAdvance(ctx, session, auctionID)
}

// AcknowledgeAuction records the member's confirmation of a settled auction.
// Once every active member has acknowledged, the auction completes and the
// paused turn deadline rearms.
func (a *App) AcknowledgeAuction(ctx context.Context, sessionID, memberID, auctionID uuid.UUID) error {
	unlock := a.locks.acquire(sessionID)
	defer unlock()

	session, err := a.activeSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if _, err := a.leagues.RequireActiveMember(ctx, session.LeagueID, memberID); err != nil {
		return err
	}

	settled, err := a.auctions.GetAuction(ctx, auctionID)
	if err != nil {
		return err
	}
	if settled.SessionID != sessionID || settled.Status != models.AuctionStatusPendingAck {
		return fault.ErrInvalidState
	}

	scope := auctionScope(auctionID)
	if err := a.sessions.UpsertReady(ctx, sessionID, memberID, scope); err != nil {
		return err
	}
	a.emitMemberReady(ctx, sessionID, memberID, scope)

	allReady, err := a.allReady(ctx, session, scope)
	if err != nil {
		return err
	}
	if !allReady {
		return nil
	}

	if err := a.auctions.CompleteAuction(ctx, auctionID); err != nil {
		return err
	}
	return a.rearmTurnDeadline(ctx, session)
}

// Timer coordinator entry points. Both return ErrInvalidState when a manual
// action already handled the entity, which callers treat as a no-op.

// AutoCloseAuction is the timer default for an expired auction.
func (a *App) AutoCloseAuction(ctx context.Context, sessionID, auctionID uuid.UUID) (*auction.Settlement, error) {
	unlock := a.locks.acquire(sessionID)
	defer unlock()

	session, err := a.activeSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := a.requireSessionAuction(ctx, sessionID, auctionID); err != nil {
		return nil, err
	}
	return a.closeAndAdvance(ctx, session, auctionID)
}

// AutoSkipTurn is the timer default for an expired nomination or cession turn.
func (a *App) AutoSkipTurn(ctx context.Context, sessionID uuid.UUID) error {
	unlock := a.locks.acquire(sessionID)
	defer unlock()

	session, err := a.activeSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if !turnPhase(session) || session.TurnExpiresAt == nil {
		return fault.ErrInvalidState
	}
	if a.clock.Now().Before(*session.TurnExpiresAt) {
		return fault.ErrInvalidState
	}

	blocking, err := a.auctions.GetBlockingAuction(ctx, sessionID)
	if err != nil {
		return err
	}
	if blocking != nil {
		// the deadline should have been paused when the auction opened;
		// clear it so the scheduler stops retrying
		if err := a.pauseTurnDeadline(ctx, session); err != nil {
			return err
		}
		return fault.ErrInvalidState
	}

	return a.advanceTurn(ctx, session, true, true, true)
}

// shared flow pieces

func (a *App) closeAndAdvance(ctx context.Context, session *models.MarketSession, auctionID uuid.UUID) (*auction.Settlement, error) {
	settlement, err := a.auctions.CloseAuction(ctx, auctionID, session.LeagueID)
	if err != nil {
		return nil, err
	}

	if turnPhase(session) && len(session.TurnOrder) > 0 {
		// a no-bids auction needs no acknowledgment, so the next turn's
		// deadline arms immediately; otherwise it waits for the ack round
		if err := a.advanceTurn(ctx, session, false, false, settlement.NoBids); err != nil {
			return nil, err
		}
	}
	return settlement, nil
}

// advanceTurn drops the current turn holder and persists the new turn state.
// On exhaustion a draft session rotates to the next incomplete position
// group; a rubata order stays empty, which is the phase's exit signal.
func (a *App) advanceTurn(ctx context.Context, session *models.MarketSession, skipped, auto, arm bool) error {
	seq := sequencer.New(session.TurnOrder)
	prev, ok := seq.Current()
	if !ok {
		return fault.ErrOrderExhausted
	}
	next, err := seq.Advance()
	exhausted := err != nil

	order := seq.Remaining()
	pos := session.NominationPos
	var expires *time.Time

	if exhausted && session.Type == models.SessionTypeInitialDraft {
		nextPos, done, err := a.nextDraftGroup(ctx, session)
		if err != nil {
			return err
		}
		if !done {
			members, err := a.leagues.ActiveMembers(ctx, session.LeagueID)
			if err != nil {
				return err
			}
			order = memberOrder(members)
			pos = nextPos
			exhausted = len(order) == 0
			if !exhausted {
				next = order[0]
			}
		} else {
			pos = nil
		}
	}
	if exhausted && session.Type == models.SessionTypeRecurring {
		pos = nil
	}

	if !exhausted && arm {
		e := a.clock.Now().Add(a.cfg.TurnTimeout)
		expires = &e
	}

	if err := a.sessions.UpdateTurnState(ctx, session.ID, order, pos, expires); err != nil {
		return err
	}
	session.TurnOrder = order
	session.NominationPos = pos
	session.TurnExpiresAt = expires

	if skipped {
		a.emitTurnSkipped(ctx, session.ID, prev, auto)
	}
	if !exhausted && arm && session.CurrentPhase != nil {
		a.emitTurnStarted(ctx, session.ID, next, *session.CurrentPhase, expires)
	}
	return nil
}

// nextDraftGroup finds the first position group, in nomination order, where
// any member's roster still falls short of the quota.
func (a *App) nextDraftGroup(ctx context.Context, session *models.MarketSession) (*models.Position, bool, error) {
	league, err := a.leagues.GetLeague(ctx, session.LeagueID)
	if err != nil {
		return nil, false, err
	}
	members, err := a.leagues.ActiveMembers(ctx, session.LeagueID)
	if err != nil {
		return nil, false, err
	}

	deficits := make([]map[models.Position]int, len(members))
	for i, member := range members {
		missing, err := a.rosters.MissingByPosition(ctx, member.ID, league.SlotQuotas)
		if err != nil {
			return nil, false, err
		}
		deficits[i] = missing
	}

	for _, pos := range models.PositionGroups {
		for _, missing := range deficits {
			if missing[pos] > 0 {
				p := pos
				return &p, false, nil
			}
		}
	}
	return nil, true, nil
}

func (a *App) pauseTurnDeadline(ctx context.Context, session *models.MarketSession) error {
	if err := a.sessions.UpdateTurnState(ctx, session.ID, session.TurnOrder, session.NominationPos, nil); err != nil {
		return err
	}
	session.TurnExpiresAt = nil
	return nil
}

func (a *App) rearmTurnDeadline(ctx context.Context, session *models.MarketSession) error {
	if !turnPhase(session) || len(session.TurnOrder) == 0 || session.TurnExpiresAt != nil {
		return nil
	}
	expires := a.clock.Now().Add(a.cfg.TurnTimeout)
	if err := a.sessions.UpdateTurnState(ctx, session.ID, session.TurnOrder, session.NominationPos, &expires); err != nil {
		return err
	}
	session.TurnExpiresAt = &expires
	if session.CurrentPhase != nil {
		a.emitTurnStarted(ctx, session.ID, session.TurnOrder[0], *session.CurrentPhase, &expires)
	}
	return nil
}

func (a *App) requireSessionAuction(ctx context.Context, sessionID, auctionID uuid.UUID) error {
	auc, err := a.auctions.GetAuction(ctx, auctionID)
	if err != nil {
		return err
	}
	if auc.SessionID != sessionID {
		return fault.ErrNotFound
	}
	return nil
}

func holdsTurn(session *models.MarketSession, memberID uuid.UUID) bool {
	return len(session.TurnOrder) > 0 && session.TurnOrder[0] == memberID
}

func turnPhase(session *models.MarketSession) bool {
	if session.CurrentPhase == nil {
		return false
	}
	return *session.CurrentPhase == models.PhaseRubata || *session.CurrentPhase == models.PhaseFreeAuction
}
