package auction

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/pietro1412/fantacontratti/internal/events"
	"github.com/pietro1412/fantacontratti/internal/fault"
	"github.com/pietro1412/fantacontratti/internal/models"
	"github.com/pietro1412/fantacontratti/internal/outbox"
	"github.com/pietro1412/fantacontratti/internal/roster"
	"github.com/pietro1412/fantacontratti/internal/sqlutil"
)

type Repository struct {
	db      *sql.DB
	rosters *roster.Repository
}

func NewRepository(db *sql.DB, rosters *roster.Repository) *Repository {
	return &Repository{db: db, rosters: rosters}
}

const auctionColumns = `id, session_id, player_id, type, base_price, current_price, seller_id, nominator_id, status, expires_at, created_at, closed_at`

func (r *Repository) CreateAuction(ctx context.Context, auction models.Auction) (*models.Auction, error) {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO auctions (id, session_id, player_id, type, base_price, current_price, seller_id, nominator_id, status, expires_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now())`,
		auction.ID, auction.SessionID, auction.PlayerID, auction.Type,
		auction.BasePrice, auction.CurrentPrice,
		sqlutil.ToNullUUID(auction.SellerID), sqlutil.ToNullUUID(auction.NominatorID),
		auction.Status, sqlutil.ToSqlTime(auction.ExpiresAt))
	if err != nil {
		return nil, fmt.Errorf("failed to create auction: %w", err)
	}
	return r.GetAuction(ctx, auction.ID)
}

func (r *Repository) GetAuction(ctx context.Context, id uuid.UUID) (*models.Auction, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+auctionColumns+` FROM auctions WHERE id = $1`, id)
	auction, err := scanAuction(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fault.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get auction: %w", err)
	}
	return auction, nil
}

// GetBlockingAuction returns the session's non-terminal auction, or nil when
// the session has none. At most one can exist at a time.
func (r *Repository) GetBlockingAuction(ctx context.Context, sessionID uuid.UUID) (*models.Auction, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+auctionColumns+` FROM auctions
		 WHERE session_id = $1 AND status IN ($2, $3, $4)`,
		sessionID, models.AuctionStatusPending, models.AuctionStatusActive, models.AuctionStatusPendingAck)
	auction, err := scanAuction(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get blocking auction: %w", err)
	}
	return auction, nil
}

func (r *Repository) GetWinningBid(ctx context.Context, auctionID uuid.UUID) (*models.Bid, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, auction_id, bidder_id, amount, is_winning, created_at
		 FROM bids WHERE auction_id = $1 AND is_winning`, auctionID)
	var bid models.Bid
	err := row.Scan(&bid.ID, &bid.AuctionID, &bid.BidderID, &bid.Amount, &bid.IsWinning, &bid.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get winning bid: %w", err)
	}
	return &bid, nil
}

func (r *Repository) ListBids(ctx context.Context, auctionID uuid.UUID) ([]models.Bid, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, auction_id, bidder_id, amount, is_winning, created_at
		 FROM bids WHERE auction_id = $1 ORDER BY amount`, auctionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list bids: %w", err)
	}
	defer rows.Close()

	var bids []models.Bid
	for rows.Next() {
		var bid models.Bid
		if err := rows.Scan(&bid.ID, &bid.AuctionID, &bid.BidderID, &bid.Amount, &bid.IsWinning, &bid.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan bid: %w", err)
		}
		bids = append(bids, bid)
	}
	return bids, rows.Err()
}

// RecordBid supersedes the current winning bid and raises the auction price
// in one transaction. The price update is guarded so a concurrent higher bid
// cannot be undercut; a lost race surfaces as ErrBidTooLow.
func (r *Repository) RecordBid(ctx context.Context, auctionID, bidderID uuid.UUID, amount int) (*models.Bid, error) {
	bidID := uuid.New()
	err := sqlutil.Run(ctx, r.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE auctions SET current_price = $2, status = $3
			 WHERE id = $1 AND current_price < $2 AND status IN ($3, $4)`,
			auctionID, amount, models.AuctionStatusActive, models.AuctionStatusPending)
		if err != nil {
			return fmt.Errorf("failed to raise auction price: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fault.ErrBidTooLow
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE bids SET is_winning = false WHERE auction_id = $1 AND is_winning`, auctionID); err != nil {
			return fmt.Errorf("failed to supersede winning bid: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO bids (id, auction_id, bidder_id, amount, is_winning, created_at)
			 VALUES ($1, $2, $3, $4, true, now())`, bidID, auctionID, bidderID, amount); err != nil {
			return fmt.Errorf("failed to insert bid: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	row := r.db.QueryRowContext(ctx,
		`SELECT id, auction_id, bidder_id, amount, is_winning, created_at FROM bids WHERE id = $1`, bidID)
	var bid models.Bid
	if err := row.Scan(&bid.ID, &bid.AuctionID, &bid.BidderID, &bid.Amount, &bid.IsWinning, &bid.CreatedAt); err != nil {
		return nil, fmt.Errorf("failed to read back bid: %w", err)
	}
	return &bid, nil
}

// MarkNoBids closes an auction that received no bids. The AuctionClosed
// outbox event commits with the status flip.
func (r *Repository) MarkNoBids(ctx context.Context, auctionID, sessionID uuid.UUID, closedEvent []byte) error {
	return sqlutil.Run(ctx, r.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE auctions SET status = $2, closed_at = now()
			 WHERE id = $1 AND status IN ($3, $4)`,
			auctionID, models.AuctionStatusNoBids, models.AuctionStatusPending, models.AuctionStatusActive)
		if err != nil {
			return fmt.Errorf("failed to mark auction no-bids: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fault.ErrInvalidState
		}
		return outbox.InsertEventTx(ctx, tx, events.TypeAuctionClosed, sessionID, closedEvent)
	})
}

// SettleRequest describes the atomic settlement of a won auction.
type SettleRequest struct {
	Auction    models.Auction
	WinnerID   uuid.UUID
	Price      int
	LeagueID   uuid.UUID
	NextStatus models.AuctionStatus

	// TransferEntryID is set for rubata settlements: the seller's entry
	// (with its contract) moves to the winner.
	TransferEntryID *uuid.UUID

	// NewEntry and NewContract are set for free and free-agent settlements.
	NewEntry    *models.RosterEntry
	NewContract *models.Contract

	// ClosedEvent is the AuctionClosed outbox payload, written inside the
	// settlement transaction so the event cannot outlive a rollback.
	ClosedEvent []byte
}

// Settle performs the whole settlement in one transaction: debit winner,
// credit seller (when present), move or create roster entry and contract,
// flip the auction status, and record the movement. Either all of it
// persists or none of it does.
func (r *Repository) Settle(ctx context.Context, req SettleRequest) error {
	return sqlutil.Run(ctx, r.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE auctions SET status = $2, closed_at = now()
			 WHERE id = $1 AND status IN ($3, $4)`,
			req.Auction.ID, req.NextStatus, models.AuctionStatusPending, models.AuctionStatusActive)
		if err != nil {
			return fmt.Errorf("failed to close auction: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fault.ErrInvalidState
		}

		res, err = tx.ExecContext(ctx,
			`UPDATE members SET budget = budget - $2, updated_at = now()
			 WHERE id = $1 AND budget >= $2`, req.WinnerID, req.Price)
		if err != nil {
			return fmt.Errorf("failed to debit winner: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fault.ErrInsufficientFunds
		}

		// Free and free-agent purchases have no seller: the price leaves
		// circulation.
		if req.Auction.SellerID != nil {
			if _, err := tx.ExecContext(ctx,
				`UPDATE members SET budget = budget + $2, updated_at = now()
				 WHERE id = $1`, *req.Auction.SellerID, req.Price); err != nil {
				return fmt.Errorf("failed to credit seller: %w", err)
			}
		}

		switch {
		case req.TransferEntryID != nil:
			acq := models.AcquisitionTypeRubata
			if err := r.rosters.TransferEntryTx(ctx, tx, *req.TransferEntryID, req.WinnerID, acq, req.Price); err != nil {
				return err
			}
		case req.NewEntry != nil && req.NewContract != nil:
			if err := r.rosters.CreateEntryWithContractTx(ctx, tx, *req.NewEntry, *req.NewContract); err != nil {
				return err
			}
		default:
			return fmt.Errorf("settle request carries no roster action")
		}

		var fromMember uuid.NullUUID
		if req.Auction.SellerID != nil {
			fromMember = uuid.NullUUID{UUID: *req.Auction.SellerID, Valid: true}
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO movements (id, league_id, session_id, player_id, from_member_id, to_member_id, price, auction_type, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())`,
			uuid.New(), req.LeagueID, req.Auction.SessionID, req.Auction.PlayerID,
			fromMember, req.WinnerID, req.Price, req.Auction.Type); err != nil {
			return fmt.Errorf("failed to record movement: %w", err)
		}

		return outbox.InsertEventTx(ctx, tx, events.TypeAuctionClosed, req.Auction.SessionID, req.ClosedEvent)
	})
}

// MarkCompleted flips an acknowledged auction to its terminal state.
func (r *Repository) MarkCompleted(ctx context.Context, auctionID uuid.UUID) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE auctions SET status = $2 WHERE id = $1 AND status = $3`,
		auctionID, models.AuctionStatusCompleted, models.AuctionStatusPendingAck)
	if err != nil {
		return fmt.Errorf("failed to complete auction: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fault.ErrInvalidState
	}
	return nil
}

// ListMovements returns the league's settled transfer history.
func (r *Repository) ListMovements(ctx context.Context, leagueID uuid.UUID) ([]models.Movement, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, league_id, session_id, player_id, from_member_id, to_member_id, price, auction_type, created_at
		 FROM movements WHERE league_id = $1 ORDER BY created_at DESC`, leagueID)
	if err != nil {
		return nil, fmt.Errorf("failed to list movements: %w", err)
	}
	defer rows.Close()

	var movements []models.Movement
	for rows.Next() {
		var m models.Movement
		var from uuid.NullUUID
		if err := rows.Scan(&m.ID, &m.LeagueID, &m.SessionID, &m.PlayerID, &from, &m.ToMemberID, &m.Price, &m.AuctionType, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan movement: %w", err)
		}
		m.FromMemberID = sqlutil.FromNullUUID(from)
		movements = append(movements, m)
	}
	return movements, rows.Err()
}

func scanAuction(row interface{ Scan(dest ...any) error }) (*models.Auction, error) {
	var a models.Auction
	var seller, nominator uuid.NullUUID
	var expires, closed sql.NullTime
	err := row.Scan(
		&a.ID,
		&a.SessionID,
		&a.PlayerID,
		&a.Type,
		&a.BasePrice,
		&a.CurrentPrice,
		&seller,
		&nominator,
		&a.Status,
		&expires,
		&a.CreatedAt,
		&closed,
	)
	if err != nil {
		return nil, err
	}
	a.SellerID = sqlutil.FromNullUUID(seller)
	a.NominatorID = sqlutil.FromNullUUID(nominator)
	a.ExpiresAt = sqlutil.FromSqlTime(expires)
	a.ClosedAt = sqlutil.FromSqlTime(closed)
	return &a, nil
}
