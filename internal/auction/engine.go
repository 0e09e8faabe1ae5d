package auction

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"auction-site/internal/clock"
	"auction-site/internal/domain"
	"auction-site/internal/session"
	"auction-site/pkg/logger"
)

// Engine owns auction creation, the bidding algorithm, winner/price
// computation, and closing for one site.
//
// All mutations of a single auction are serialized through a per-auction
// mutex; reads take the same lock so price and winner are always observed
// as a consistent pair. Auctions on different sites or with different ids
// never block each other.
//
// The bid rule is the flat English-auction form: a non-winning bidder must
// reach currentPrice + minimumBidIncrement, and an accepted bid sets the
// price to its own amount. There are no hidden proxy ceilings.
type Engine struct {
	site     *domain.Site
	store    domain.Storage
	clk      *clock.Clock
	sessions *session.Manager
	events   domain.EventPublisher
	jobs     domain.SchedulerRepository
	log      logger.Logger

	lockMutex    sync.Mutex
	auctionLocks map[int64]*sync.Mutex

	// serializes the duplicate-submission check against the save that
	// follows it.
	createMutex sync.Mutex
}

func NewEngine(
	site *domain.Site,
	store domain.Storage,
	clk *clock.Clock,
	sessions *session.Manager,
	events domain.EventPublisher,
	jobs domain.SchedulerRepository,
	log logger.Logger,
) *Engine {
	return &Engine{
		site:         site,
		store:        store,
		clk:          clk,
		sessions:     sessions,
		events:       events,
		jobs:         jobs,
		log:          log,
		auctionLocks: make(map[int64]*sync.Mutex),
	}
}

func (e *Engine) lockAuction(id int64) *sync.Mutex {
	e.lockMutex.Lock()
	defer e.lockMutex.Unlock()

	lock, ok := e.auctionLocks[id]
	if !ok {
		lock = &sync.Mutex{}
		e.auctionLocks[id] = lock
	}
	return lock
}

// Create opens a new auction sold by the session's user. The deadline must
// be strictly in the future; an identical (description, endsOn,
// startingPrice) triple by the same seller is treated as an accidental
// double-submit and rejected with KindConflict.
func (e *Engine) Create(ctx context.Context, sessionID, description string, endsOn time.Time, startingPrice float64) (*domain.Auction, error) {
	sess, err := e.sessions.Validate(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if description == "" {
		return nil, domain.E(domain.KindValidation, "description must not be empty")
	}
	if startingPrice < 0 {
		return nil, domain.E(domain.KindValidation, "starting price must not be negative")
	}

	now, err := e.clk.Now()
	if err != nil {
		return nil, err
	}
	if !endsOn.After(now) {
		return nil, domain.Ef(domain.KindValidation, "endsOn %s is not after now %s", endsOn, now)
	}

	e.createMutex.Lock()
	defer e.createMutex.Unlock()

	existing, err := e.store.AuctionsOf(ctx, e.site.Name)
	if err != nil {
		return nil, err
	}
	for _, a := range existing {
		if a.Seller == sess.Username && a.Description == description &&
			a.EndsOn.Equal(endsOn) && a.StartingPrice == startingPrice {
			return nil, domain.Ef(domain.KindConflict, "auction %d is an identical submission", a.ID)
		}
	}

	id, err := e.store.NextAuctionID(ctx, e.site.Name)
	if err != nil {
		return nil, err
	}

	auction := &domain.Auction{
		ID:            id,
		Site:          e.site.Name,
		Seller:        sess.Username,
		Description:   description,
		EndsOn:        endsOn,
		StartingPrice: startingPrice,
		CurrentPrice:  startingPrice,
		CreatedAt:     now,
	}
	if err := e.store.SaveAuction(ctx, auction); err != nil {
		return nil, err
	}

	if e.jobs != nil {
		job := &domain.ScheduledJob{
			ID:        uuid.NewString(),
			Site:      e.site.Name,
			AuctionID: id,
			JobType:   domain.JobEndAuction,
			RunAt:     endsOn,
			Status:    domain.JobPending,
			CreatedAt: now,
		}
		if err := e.jobs.CreateJob(ctx, job); err != nil {
			e.log.Error("Failed to schedule auction end", "auction_id", id, "error", err)
		}
	}

	e.log.Info("Auction created", "site", e.site.Name, "auction_id", id,
		"seller", sess.Username, "ends_on", endsOn, "starting_price", startingPrice)
	return auction, nil
}

// BidOutcome is the price/winner pair as of the bid it reports on, taken
// inside the bid's own critical section. Callers answering "what did my
// bid do" must use this rather than a separate read, which may already
// see a later bid.
type BidOutcome struct {
	Accepted bool
	Price    float64
	Winner   string
}

// Bid places an offer on behalf of the session's user. It returns false
// without mutating state when the offer does not meet the acceptance rule;
// an ended auction or a stale session is an error, not a false.
func (e *Engine) Bid(ctx context.Context, sessionID string, auctionID int64, amount float64) (bool, error) {
	outcome, err := e.PlaceBid(ctx, sessionID, auctionID, amount)
	if err != nil {
		return false, err
	}
	return outcome.Accepted, nil
}

// PlaceBid is Bid plus the resulting auction state, observed atomically
// with the bid itself.
func (e *Engine) PlaceBid(ctx context.Context, sessionID string, auctionID int64, amount float64) (*BidOutcome, error) {
	sess, err := e.sessions.Validate(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	lock := e.lockAuction(auctionID)
	lock.Lock()
	defer lock.Unlock()

	auction, now, err := e.loadChecked(ctx, auctionID)
	if err != nil {
		return nil, err
	}
	if auction.Ended {
		e.publish(ctx, domain.BidRejected, auction, sess.Username, amount)
		return nil, domain.Ef(domain.KindAuctionEnded, "auction %d has ended", auctionID)
	}

	accepted := false
	switch {
	case !auction.HasBids():
		if amount >= auction.StartingPrice {
			auction.CurrentPrice = amount
			auction.WinnerID = sess.Username
			auction.WinnerMax = amount
			accepted = true
		}
	case sess.Username == auction.WinnerID:
		// Raising one's own ceiling never moves the displayed price.
		if amount > auction.WinnerMax {
			auction.WinnerMax = amount
			accepted = true
		}
	default:
		if amount >= auction.CurrentPrice+e.site.MinimumBidIncrement {
			auction.CurrentPrice = amount
			auction.WinnerID = sess.Username
			auction.WinnerMax = amount
			accepted = true
		}
	}

	outcome := &BidOutcome{
		Accepted: accepted,
		Price:    auction.CurrentPrice,
		Winner:   auction.WinnerID,
	}
	if !accepted {
		e.publish(ctx, domain.BidRejected, auction, sess.Username, amount)
		return outcome, nil
	}

	auction.Bids = append(auction.Bids, domain.Bid{
		Bidder:   sess.Username,
		Amount:   amount,
		Sequence: int64(len(auction.Bids)) + 1,
		PlacedAt: now,
	})
	if err := e.store.SaveAuction(ctx, auction); err != nil {
		return nil, err
	}

	e.publish(ctx, domain.BidAccepted, auction, sess.Username, amount)
	e.log.Info("Bid accepted", "site", e.site.Name, "auction_id", auctionID,
		"bidder", sess.Username, "amount", amount, "price", auction.CurrentPrice)
	return outcome, nil
}

// CurrentPrice reads the auction's derived price. It is a total function:
// before the first bid it equals the starting price.
func (e *Engine) CurrentPrice(ctx context.Context, auctionID int64) (float64, error) {
	lock := e.lockAuction(auctionID)
	lock.Lock()
	defer lock.Unlock()

	auction, _, err := e.loadChecked(ctx, auctionID)
	if err != nil {
		return 0, err
	}
	return auction.CurrentPrice, nil
}

// CurrentWinner returns the leading bidder's username, or "" while no bid
// has been accepted.
func (e *Engine) CurrentWinner(ctx context.Context, auctionID int64) (string, error) {
	lock := e.lockAuction(auctionID)
	lock.Lock()
	defer lock.Unlock()

	auction, _, err := e.loadChecked(ctx, auctionID)
	if err != nil {
		return "", err
	}
	return auction.WinnerID, nil
}

// Get returns a snapshot of the auction, applying the lazy end transition.
func (e *Engine) Get(ctx context.Context, auctionID int64) (*domain.Auction, error) {
	lock := e.lockAuction(auctionID)
	lock.Lock()
	defer lock.Unlock()

	auction, _, err := e.loadChecked(ctx, auctionID)
	if err != nil {
		return nil, err
	}
	return auction, nil
}

// Close freezes the auction's winner and price. Idempotent; closing an
// already ended auction is a no-op.
func (e *Engine) Close(ctx context.Context, auctionID int64) error {
	lock := e.lockAuction(auctionID)
	lock.Lock()
	defer lock.Unlock()

	auction, err := e.store.LoadAuction(ctx, e.site.Name, auctionID)
	if err != nil {
		return err
	}
	if auction.Ended {
		return nil
	}
	return e.closeLocked(ctx, auction)
}

// Delete removes the auction and its bid log. A live auction with bids is
// contested and cannot be deleted; before any bid only the seller may
// withdraw it.
func (e *Engine) Delete(ctx context.Context, sessionID string, auctionID int64) error {
	sess, err := e.sessions.Validate(ctx, sessionID)
	if err != nil {
		return err
	}

	lock := e.lockAuction(auctionID)
	lock.Lock()
	defer lock.Unlock()

	auction, _, err := e.loadChecked(ctx, auctionID)
	if err != nil {
		return err
	}
	if !auction.Ended {
		if auction.HasBids() {
			return domain.Ef(domain.KindInvalidOperation,
				"auction %d is live and contested", auctionID)
		}
		if auction.Seller != sess.Username {
			return domain.Ef(domain.KindInvalidOperation,
				"only the seller may withdraw live auction %d", auctionID)
		}
	}

	if err := e.store.DeleteAuction(ctx, e.site.Name, auctionID); err != nil {
		return err
	}
	if e.jobs != nil {
		if err := e.jobs.CancelJobsForAuction(ctx, e.site.Name, auctionID); err != nil {
			e.log.Error("Failed to cancel jobs", "auction_id", auctionID, "error", err)
		}
	}

	e.publish(ctx, domain.AuctionRemoved, auction, sess.Username, 0)
	e.log.Info("Auction deleted", "site", e.site.Name, "auction_id", auctionID)
	return nil
}

// loadChecked loads the auction and applies the lazy Open -> Ended
// transition when the deadline has passed. Callers hold the auction lock.
func (e *Engine) loadChecked(ctx context.Context, auctionID int64) (*domain.Auction, time.Time, error) {
	auction, err := e.store.LoadAuction(ctx, e.site.Name, auctionID)
	if err != nil {
		return nil, time.Time{}, err
	}
	now, err := e.clk.Now()
	if err != nil {
		return nil, time.Time{}, err
	}
	if !auction.Ended && !now.Before(auction.EndsOn) {
		if err := e.closeLocked(ctx, auction); err != nil {
			return nil, time.Time{}, err
		}
	}
	return auction, now, nil
}

func (e *Engine) closeLocked(ctx context.Context, auction *domain.Auction) error {
	auction.Ended = true
	if err := e.store.SaveAuction(ctx, auction); err != nil {
		return err
	}
	if e.jobs != nil {
		if err := e.jobs.CancelJobsForAuction(ctx, auction.Site, auction.ID); err != nil {
			e.log.Error("Failed to cancel jobs", "auction_id", auction.ID, "error", err)
		}
	}
	e.publish(ctx, domain.AuctionClosed, auction, "", 0)
	e.log.Info("Auction ended", "site", e.site.Name, "auction_id", auction.ID,
		"winner", auction.WinnerID, "price", auction.CurrentPrice)
	return nil
}

func (e *Engine) publish(ctx context.Context, typ domain.BidEventType, auction *domain.Auction, bidder string, amount float64) {
	if e.events == nil {
		return
	}
	now, err := e.clk.Now()
	if err != nil {
		now = time.Time{}
	}
	event := &domain.BidEvent{
		Type:      typ,
		Site:      auction.Site,
		AuctionID: auction.ID,
		Bidder:    bidder,
		Amount:    amount,
		Price:     auction.CurrentPrice,
		Winner:    auction.WinnerID,
		Timestamp: now,
	}
	if err := e.events.PublishBidEvent(ctx, event); err != nil {
		e.log.Error("Failed to publish bid event", "type", typ,
			"auction_id", auction.ID, "error", err)
	}
}
