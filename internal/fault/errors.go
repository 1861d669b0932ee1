package fault

import (
	"errors"
	"fmt"

	"github.com/pietro1412/fantacontratti/internal/models"
)

// Typed failures returned by the market engine. Handlers map these 1:1 to
// HTTP status codes; nothing in the engine panics across a package boundary.
var (
	// ErrInvalidState means the operation is not legal in the current
	// auction or phase state.
	ErrInvalidState = errors.New("invalid state")

	// ErrBidTooLow means the bid did not exceed the current price.
	ErrBidTooLow = errors.New("bid too low")

	// ErrInsufficientBudget means the bid exceeds the bidder's budget.
	ErrInsufficientBudget = errors.New("insufficient budget")

	// ErrSellerCannotBid means the auction seller tried to bid.
	ErrSellerCannotBid = errors.New("seller cannot bid")

	// ErrInvalidOrder means a turn order did not match the active members.
	ErrInvalidOrder = errors.New("invalid turn order")

	// ErrOrderExhausted means the turn sequencer has no members left.
	ErrOrderExhausted = errors.New("turn order exhausted")

	// ErrUnauthorized means the caller lacks the required role or membership.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrNotFound means the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInsufficientFunds is returned by the budget ledger when a debit
	// would not be covered.
	ErrInsufficientFunds = errors.New("insufficient funds")
)

// NotReadyError reports that a phase exit condition does not hold. Missing
// carries per-member roster deficits by position when the blocked phase is
// the initial free auction.
type NotReadyError struct {
	Reason  string
	Missing map[string]map[models.Position]int
}

func (e *NotReadyError) Error() string {
	if len(e.Missing) == 0 {
		return fmt.Sprintf("phase not ready: %s", e.Reason)
	}
	return fmt.Sprintf("phase not ready: %s (%d rosters incomplete)", e.Reason, len(e.Missing))
}

// NotReady builds a NotReadyError with just a reason.
func NotReady(reason string) *NotReadyError {
	return &NotReadyError{Reason: reason}
}

// IsNotReady reports whether err is a NotReadyError.
func IsNotReady(err error) bool {
	var nr *NotReadyError
	return errors.As(err, &nr)
}
