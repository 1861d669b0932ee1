package orchestrator

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/pietro1412/fantacontratti/internal/auction"
	"github.com/pietro1412/fantacontratti/internal/fault"
	"github.com/pietro1412/fantacontratti/internal/market"
	"github.com/rs/zerolog/log"
)

// Clock is the interface we use for time operations.
// In production, use clockwork.NewRealClock(). In tests, a FakeClock.
type Clock interface {
	Now() time.Time
	NewTimer(d time.Duration) clockwork.Timer
}

// DeadlineSource reads pending expiries from the market store.
type DeadlineSource interface {
	FetchNextDeadline(ctx context.Context) (*market.Deadline, error)
	FetchDueDeadlines(ctx context.Context, now time.Time, limit int) ([]market.Deadline, error)
}

// MarketApp is the command surface the coordinator drives on expiry. Both
// methods return fault.ErrInvalidState when a manual action got there first,
// which the coordinator treats as a no-op.
type MarketApp interface {
	AutoCloseAuction(ctx context.Context, sessionID, auctionID uuid.UUID) (*auction.Settlement, error)
	AutoSkipTurn(ctx context.Context, sessionID uuid.UUID) error
}

// Orchestrator is the timer coordinator: it sleeps until the soonest auction
// or turn deadline and fires the phase's default action when nobody acted.
type Orchestrator struct {
	deadlines  DeadlineSource
	market     MarketApp
	batchSize  int
	clock      Clock
	wakeCh     chan struct{}
	instanceID string // unique ID for this scheduler instance

	// Worker pool configuration
	numWorkers int
	workCh     chan market.Deadline

	// Track in-flight work to prevent duplicate processing
	inFlight   map[uuid.UUID]bool
	inFlightMu sync.Mutex
}

// NewOrchestrator creates a new timer coordinator with a worker pool
func NewOrchestrator(deadlines DeadlineSource, marketApp MarketApp, batchSize int) *Orchestrator {
	numWorkers := 10
	return &Orchestrator{
		deadlines:  deadlines,
		market:     marketApp,
		batchSize:  batchSize,
		clock:      clockwork.NewRealClock(),
		wakeCh:     make(chan struct{}, 1),
		instanceID: uuid.New().String()[:8], // short ID for logging

		numWorkers: numWorkers,
		workCh:     make(chan market.Deadline, numWorkers*2), // Buffer to prevent blocking
		inFlight:   make(map[uuid.UUID]bool),
	}
}

// WithClock swaps the clock, for tests.
func (o *Orchestrator) WithClock(clock Clock) *Orchestrator {
	o.clock = clock
	return o
}

// Wake nudges the scheduler to re-read deadlines, used when a caller knows a
// sooner expiry was just armed.
func (o *Orchestrator) Wake() {
	select {
	case o.wakeCh <- struct{}{}:
	default:
	}
}

// RunScheduler loops forever, sleeping until the next deadline and firing
// default actions for everything past due.
func (o *Orchestrator) RunScheduler(ctx context.Context) error {
	log.Info().Str("instance", o.instanceID).Int("workers", o.numWorkers).Msg("scheduler started")

	// Start worker pool
	var wg sync.WaitGroup
	workerCtx, cancelWorkers := context.WithCancel(ctx)
	defer cancelWorkers()

	for i := 0; i < o.numWorkers; i++ {
		wg.Add(1)
		go o.worker(workerCtx, &wg, i)
	}

	defer func() {
		log.Info().Str("instance", o.instanceID).Msg("shutting down workers")
		cancelWorkers()
		close(o.workCh)
		wg.Wait()
		log.Info().Str("instance", o.instanceID).Msg("all workers shut down")
	}()

	timer := o.clock.NewTimer(0)
	defer timer.Stop()

	const idlePollDuration = 5 * time.Second
	retryCount := 0
	const maxRetries = 3

	for {
		select {
		case <-o.wakeCh:
			log.Debug().Str("instance", o.instanceID).Msg("drained wake channel")
		default:
		}

		next, err := o.deadlines.FetchNextDeadline(ctx)
		if err != nil {
			retryCount++
			if retryCount <= maxRetries {
				log.Error().
					Err(err).
					Int("retry", retryCount).
					Str("instance", o.instanceID).
					Msg("error fetching next deadline, retrying")
				timer.Reset(time.Second * time.Duration(retryCount))
				select {
				case <-timer.Chan():
					continue
				case <-ctx.Done():
					return nil
				}
			}
			log.Error().Err(err).Str("instance", o.instanceID).Msg("error fetching next deadline after retries")
			return err
		}
		retryCount = 0

		if next == nil {
			// Nothing armed; idle with timer reuse
			log.Info().Str("instance", o.instanceID).Msg("no pending deadlines; polling again in 5s")
			timer.Reset(idlePollDuration)
			select {
			case <-timer.Chan():
				continue
			case <-ctx.Done():
				log.Info().Str("instance", o.instanceID).Msg("shutdown during idle")
				return nil
			case <-o.wakeCh:
				log.Debug().Str("instance", o.instanceID).Msg("woken up from idle")
				continue
			}
		}

		wait := next.ExpiresAt.Sub(o.clock.Now())
		if wait > 0 {
			timer.Reset(wait)
			select {
			case <-timer.Chan():
				log.Info().Str("instance", o.instanceID).Msg("timer fired, fetching due deadlines")
			case <-ctx.Done():
				log.Info().Str("instance", o.instanceID).Msg("shutdown during wait")
				return nil
			case <-o.wakeCh:
				log.Debug().Str("instance", o.instanceID).Msg("woken up early, new sooner deadline")
				continue
			}
		}

		due, err := o.deadlines.FetchDueDeadlines(ctx, o.clock.Now(), o.batchSize)
		if err != nil {
			log.Error().Err(err).Str("instance", o.instanceID).Msg("error fetching due deadlines")
			// Don't exit on error - retry next iteration
			timer.Reset(time.Second)
			select {
			case <-timer.Chan():
				continue
			case <-ctx.Done():
				return nil
			}
		}

		if len(due) > 0 {
			log.Info().
				Int("count_due", len(due)).
				Int("batch_size", o.batchSize).
				Str("instance", o.instanceID).
				Msg("processing due deadlines")

			for _, d := range due {
				o.inFlightMu.Lock()
				if o.inFlight[d.ID] {
					log.Debug().Str("deadline_id", d.ID.String()).Str("instance", o.instanceID).Msg("skipping deadline already in flight")
					o.inFlightMu.Unlock()
					continue
				}
				o.inFlight[d.ID] = true
				o.inFlightMu.Unlock()

				select {
				case <-ctx.Done():
					o.inFlightMu.Lock()
					delete(o.inFlight, d.ID)
					o.inFlightMu.Unlock()
					log.Info().Str("instance", o.instanceID).Msg("shutdown while queueing timeouts")
					return nil
				case o.workCh <- d:
					log.Debug().Str("deadline_id", d.ID.String()).Str("instance", o.instanceID).Msg("queued timeout for worker")
				}
			}
		}
	}
}

// handleTimeout fires the default action for one expired deadline. A manual
// action that beat the timer surfaces as ErrInvalidState and is a no-op.
func (o *Orchestrator) handleTimeout(ctx context.Context, d market.Deadline) error {
	switch d.Kind {
	case market.DeadlineAuction:
		log.Info().
			Str("auction_id", d.ID.String()).
			Str("session_id", d.SessionID.String()).
			Msg("auction timeout firing")
		settlement, err := o.market.AutoCloseAuction(ctx, d.SessionID, d.ID)
		if err != nil {
			if errors.Is(err, fault.ErrInvalidState) {
				log.Debug().Str("auction_id", d.ID.String()).Msg("auction already handled manually")
				return nil
			}
			return err
		}
		if settlement.NoBids {
			log.Info().Str("auction_id", d.ID.String()).Msg("auction auto-closed with no bids")
		} else {
			log.Info().
				Str("auction_id", d.ID.String()).
				Str("winner_id", settlement.WinnerID.String()).
				Int("price", settlement.Price).
				Msg("auction auto-closed and settled")
		}
		return nil

	case market.DeadlineTurn:
		log.Info().Str("session_id", d.SessionID.String()).Msg("turn timeout firing")
		if err := o.market.AutoSkipTurn(ctx, d.SessionID); err != nil {
			if errors.Is(err, fault.ErrInvalidState) {
				log.Debug().Str("session_id", d.SessionID.String()).Msg("turn already handled manually")
				return nil
			}
			return err
		}
		return nil

	default:
		log.Warn().Str("kind", string(d.Kind)).Msg("unknown deadline kind, ignoring")
		return nil
	}
}

// worker processes deadline timeouts from the work channel
func (o *Orchestrator) worker(ctx context.Context, wg *sync.WaitGroup, workerID int) {
	defer wg.Done()

	log.Info().
		Str("instance", o.instanceID).
		Int("worker_id", workerID).
		Msg("worker started")

	for {
		select {
		case <-ctx.Done():
			log.Info().
				Str("instance", o.instanceID).
				Int("worker_id", workerID).
				Msg("worker shutting down")
			return
		case d, ok := <-o.workCh:
			if !ok {
				log.Info().
					Str("instance", o.instanceID).
					Int("worker_id", workerID).
					Msg("work channel closed, worker shutting down")
				return
			}

			log.Info().
				Str("deadline_id", d.ID.String()).
				Str("instance", o.instanceID).
				Int("worker_id", workerID).
				Msg("worker handling timeout")

			if err := o.handleTimeout(ctx, d); err != nil {
				log.Error().
					Err(err).
					Str("deadline_id", d.ID.String()).
					Str("instance", o.instanceID).
					Int("worker_id", workerID).
					Msg("worker timeout handling failed")
			}

			o.inFlightMu.Lock()
			delete(o.inFlight, d.ID)
			o.inFlightMu.Unlock()
		}
	}
}
