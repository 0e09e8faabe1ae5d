package site

import (
	"context"
	"time"

	"auction-site/internal/auction"
	"auction-site/internal/clock"
	"auction-site/internal/domain"
	"auction-site/internal/session"
	"auction-site/pkg/logger"
)

// Coordinator composes the clock, session manager, and auction engine for
// one site. Every mutating operation is routed through session validation;
// the read listings return materialized snapshots rather than anything
// tied to a live storage handle.
type Coordinator struct {
	site     *domain.Site
	store    domain.Storage
	clk      *clock.Clock
	sessions *session.Manager
	engine   *auction.Engine
	log      logger.Logger
}

func NewCoordinator(
	site *domain.Site,
	store domain.Storage,
	clk *clock.Clock,
	events domain.EventPublisher,
	jobs domain.SchedulerRepository,
	log logger.Logger,
) *Coordinator {
	sessions := session.NewManager(site, store, clk, log)
	engine := auction.NewEngine(site, store, clk, sessions, events, jobs, log)
	return &Coordinator{
		site:     site,
		store:    store,
		clk:      clk,
		sessions: sessions,
		engine:   engine,
		log:      log,
	}
}

func (c *Coordinator) Name() string { return c.site.Name }

// Config returns a snapshot of the site's settings.
func (c *Coordinator) Config() domain.Site { return *c.site }

// Now returns the site's current logical time.
func (c *Coordinator) Now() (time.Time, error) { return c.clk.Now() }

// Engine exposes the auction engine for callers that operate on auctions
// directly (the close sweeper).
func (c *Coordinator) Engine() *auction.Engine { return c.engine }

// CreateUser registers a new user on the site. Usernames are unique per
// site; a clash fails with KindConflict.
func (c *Coordinator) CreateUser(ctx context.Context, username, password string) error {
	if len(username) < domain.MinUsernameLen || len(username) > domain.MaxUsernameLen {
		return domain.Ef(domain.KindValidation, "username length must be in [%d,%d]",
			domain.MinUsernameLen, domain.MaxUsernameLen)
	}
	if len(password) < domain.MinPasswordLen {
		return domain.Ef(domain.KindValidation, "password must be at least %d characters",
			domain.MinPasswordLen)
	}

	if _, err := c.store.LoadUser(ctx, c.site.Name, username); err == nil {
		return domain.Ef(domain.KindConflict, "username %q already exists on site %q",
			username, c.site.Name)
	} else if !domain.IsKind(err, domain.KindNotFound) {
		return err
	}

	now, err := c.clk.Now()
	if err != nil {
		return err
	}
	user := &domain.User{
		Site:         c.site.Name,
		Username:     username,
		PasswordHash: session.HashPassword(password),
		CreatedAt:    now,
	}
	if err := c.store.SaveUser(ctx, user); err != nil {
		return err
	}

	c.log.Info("User created", "site", c.site.Name, "username", username)
	return nil
}

func (c *Coordinator) Login(ctx context.Context, username, password string) (*domain.Session, error) {
	return c.sessions.Login(ctx, username, password)
}

func (c *Coordinator) Logout(ctx context.Context, sessionID string) error {
	return c.sessions.Logout(ctx, sessionID)
}

func (c *Coordinator) ValidateSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	return c.sessions.Validate(ctx, sessionID)
}

func (c *Coordinator) CreateAuction(ctx context.Context, sessionID, description string, endsOn time.Time, startingPrice float64) (*domain.Auction, error) {
	return c.engine.Create(ctx, sessionID, description, endsOn, startingPrice)
}

func (c *Coordinator) Bid(ctx context.Context, sessionID string, auctionID int64, amount float64) (bool, error) {
	return c.engine.Bid(ctx, sessionID, auctionID, amount)
}

func (c *Coordinator) PlaceBid(ctx context.Context, sessionID string, auctionID int64, amount float64) (*auction.BidOutcome, error) {
	return c.engine.PlaceBid(ctx, sessionID, auctionID, amount)
}

func (c *Coordinator) DeleteAuction(ctx context.Context, sessionID string, auctionID int64) error {
	return c.engine.Delete(ctx, sessionID, auctionID)
}

// Users lists the site's users ordered by username.
func (c *Coordinator) Users(ctx context.Context) ([]*domain.User, error) {
	return c.store.UsersOf(ctx, c.site.Name)
}

// Sessions lists the site's sessions, oldest first.
func (c *Coordinator) Sessions(ctx context.Context) ([]*domain.Session, error) {
	return c.store.SessionsOf(ctx, c.site.Name)
}

// Auctions lists the site's auctions ordered by id, applying the lazy end
// transition, optionally restricted to the ones still open.
func (c *Coordinator) Auctions(ctx context.Context, onlyNotEnded bool) ([]*domain.Auction, error) {
	all, err := c.store.AuctionsOf(ctx, c.site.Name)
	if err != nil {
		return nil, err
	}

	auctions := make([]*domain.Auction, 0, len(all))
	for _, a := range all {
		checked, err := c.engine.Get(ctx, a.ID)
		if err != nil {
			if domain.IsKind(err, domain.KindNotFound) {
				// Deleted between enumeration and load.
				continue
			}
			return nil, err
		}
		if onlyNotEnded && checked.Ended {
			continue
		}
		auctions = append(auctions, checked)
	}
	return auctions, nil
}

// Delete removes the site and cascades to all owned users, sessions, and
// auctions.
func (c *Coordinator) Delete(ctx context.Context) error {
	if err := c.store.DeleteSite(ctx, c.site.Name); err != nil {
		return err
	}
	c.log.Info("Site deleted", "site", c.site.Name)
	return nil
}
