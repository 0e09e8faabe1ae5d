package host

import (
	"context"
	"sync"
	"time"

	"auction-site/internal/clock"
	"auction-site/internal/domain"
	"auction-site/internal/site"
	"auction-site/pkg/logger"
)

// Host provisions sites and hands out their coordinators. Each coordinator
// gets its own clock, instantiated for the site's timezone from a shared
// factory, and all of them share the same storage and event collaborators.
//
// Coordinators are cached per site name: the per-auction and per-user
// locks live inside a coordinator, so every caller touching the same site
// must go through the same instance for those locks to mean anything.
type Host struct {
	store  domain.Storage
	clocks *clock.Factory
	events domain.EventPublisher
	jobs   domain.SchedulerRepository
	log    logger.Logger

	mu           sync.Mutex
	coordinators map[string]*site.Coordinator
}

func New(
	store domain.Storage,
	clocks *clock.Factory,
	events domain.EventPublisher,
	jobs domain.SchedulerRepository,
	log logger.Logger,
) *Host {
	return &Host{
		store:        store,
		clocks:       clocks,
		events:       events,
		jobs:         jobs,
		log:          log,
		coordinators: make(map[string]*site.Coordinator),
	}
}

// CreateSite provisions a new tenant. Site names are globally unique.
func (h *Host) CreateSite(ctx context.Context, name string, timezone, sessionExpirationSeconds int, minimumBidIncrement float64) error {
	if len(name) < domain.MinSiteNameLen || len(name) > domain.MaxSiteNameLen {
		return domain.Ef(domain.KindValidation, "site name length must be in [%d,%d]",
			domain.MinSiteNameLen, domain.MaxSiteNameLen)
	}
	if timezone < domain.MinTimezone || timezone > domain.MaxTimezone {
		return domain.Ef(domain.KindValidation, "timezone must be in [%d,%d]",
			domain.MinTimezone, domain.MaxTimezone)
	}
	if sessionExpirationSeconds < 0 {
		return domain.E(domain.KindValidation, "session expiration must not be negative")
	}
	if minimumBidIncrement < 0 {
		return domain.E(domain.KindValidation, "minimum bid increment must not be negative")
	}

	if _, err := h.store.LoadSite(ctx, name); err == nil {
		return domain.Ef(domain.KindConflict, "site %q already exists", name)
	} else if !domain.IsKind(err, domain.KindNotFound) {
		return err
	}

	clk, err := h.clocks.Instantiate(timezone)
	if err != nil {
		return err
	}
	now, err := clk.Now()
	if err != nil {
		return err
	}

	s := &domain.Site{
		Name:                     name,
		Timezone:                 timezone,
		SessionExpirationSeconds: sessionExpirationSeconds,
		MinimumBidIncrement:      minimumBidIncrement,
		CreatedAt:                now,
	}
	if err := h.store.SaveSite(ctx, s); err != nil {
		return err
	}

	h.log.Info("Site created", "site", name, "timezone", timezone,
		"session_expiration_seconds", sessionExpirationSeconds,
		"minimum_bid_increment", minimumBidIncrement)
	return nil
}

// LoadSite returns the coordinator for an existing site. Repeated calls
// for the same site return the same instance as long as the site exists.
func (h *Host) LoadSite(ctx context.Context, name string) (*site.Coordinator, error) {
	if len(name) < domain.MinSiteNameLen || len(name) > domain.MaxSiteNameLen {
		return nil, domain.Ef(domain.KindValidation, "site name length must be in [%d,%d]",
			domain.MinSiteNameLen, domain.MaxSiteNameLen)
	}

	h.mu.Lock()
	cached := h.coordinators[name]
	h.mu.Unlock()

	s, err := h.store.LoadSite(ctx, name)
	if err != nil {
		if cached != nil && domain.IsKind(err, domain.KindNotFound) {
			h.evict(name, cached)
		}
		return nil, err
	}
	if cached != nil {
		if cfg := cached.Config(); sameSite(&cfg, s) {
			return cached, nil
		}
		// The site was deleted and recreated under the same name; the
		// cached coordinator belongs to the old incarnation.
		h.evict(name, cached)
	}

	clk, err := h.clocks.Instantiate(s.Timezone)
	if err != nil {
		return nil, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if cur, ok := h.coordinators[name]; ok {
		if cfg := cur.Config(); sameSite(&cfg, s) {
			return cur, nil
		}
	}
	c := site.NewCoordinator(s, h.store, clk, h.events, h.jobs, h.log)
	h.coordinators[name] = c
	return c, nil
}

// DeleteSite removes the site, cascading to everything it owns, and drops
// its coordinator from the cache.
func (h *Host) DeleteSite(ctx context.Context, name string) error {
	c, err := h.LoadSite(ctx, name)
	if err != nil {
		return err
	}
	if err := c.Delete(ctx); err != nil {
		return err
	}
	h.evict(name, c)
	return nil
}

func (h *Host) evict(name string, stale *site.Coordinator) {
	h.mu.Lock()
	if h.coordinators[name] == stale {
		delete(h.coordinators, name)
	}
	h.mu.Unlock()
}

func sameSite(a, b *domain.Site) bool {
	return a.Name == b.Name &&
		a.Timezone == b.Timezone &&
		a.SessionExpirationSeconds == b.SessionExpirationSeconds &&
		a.MinimumBidIncrement == b.MinimumBidIncrement &&
		a.CreatedAt.Equal(b.CreatedAt)
}

// SiteInfos lists all provisioned sites, ordered by name.
func (h *Host) SiteInfos(ctx context.Context) ([]*domain.Site, error) {
	return h.store.SiteInfos(ctx)
}

// SiteNow reports a site's logical time; convenience for callers that do
// not need a full coordinator.
func (h *Host) SiteNow(ctx context.Context, name string) (time.Time, error) {
	c, err := h.LoadSite(ctx, name)
	if err != nil {
		return time.Time{}, err
	}
	return c.Now()
}
