package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"auction-site/internal/clock"
	"auction-site/internal/domain"
	"auction-site/internal/host"
	"auction-site/internal/infrastructure/memory"
	"auction-site/pkg/logger"
)

var sweepEpoch = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

type fixedLeader struct {
	leading bool
}

func (l *fixedLeader) BecomeLeader(context.Context, string) (bool, error) { return l.leading, nil }
func (l *fixedLeader) IsLeader(context.Context, string) (bool, error)    { return l.leading, nil }
func (l *fixedLeader) ReleaseLeadership(context.Context, string) error   { return nil }

type sweeperFixture struct {
	sweeper *CloseSweeper
	store   *memory.Store
	sites   *host.Host
	leader  *fixedLeader
}

// newSweeperFixture seeds one site with an ended-by-deadline auction whose
// end job is still pending.
func newSweeperFixture(t *testing.T) (*sweeperFixture, int64) {
	t.Helper()
	ctx := context.Background()

	source := clock.NewManualTimeSource(sweepEpoch)
	store := memory.NewStore()
	sites := host.New(store, clock.NewFactory(source), nil, store, logger.NewNop())

	require.NoError(t, sites.CreateSite(ctx, "test-site", 0, 24*3600, 1.0))
	coordinator, err := sites.LoadSite(ctx, "test-site")
	require.NoError(t, err)
	require.NoError(t, coordinator.CreateUser(ctx, "alice", "secret99"))
	session, err := coordinator.Login(ctx, "alice", "secret99")
	require.NoError(t, err)
	auction, err := coordinator.CreateAuction(ctx, session.ID,
		"unwatched lot", sweepEpoch.Add(time.Hour), 5.0)
	require.NoError(t, err)

	// The deadline passes without anyone reading the auction; only the
	// pending job knows it should be over.
	source.Advance(2 * time.Hour)

	leader := &fixedLeader{leading: true}
	sweeper := NewCloseSweeper(store, sites, leader, "instance-1", logger.NewNop())
	return &sweeperFixture{sweeper: sweeper, store: store, sites: sites, leader: leader}, auction.ID
}

func TestSweepClosesDueAuctions(t *testing.T) {
	f, auctionID := newSweeperFixture(t)
	ctx := context.Background()

	f.sweeper.Sweep(ctx)

	stored, err := f.store.LoadAuction(ctx, "test-site", auctionID)
	require.NoError(t, err)
	assert.True(t, stored.Ended)

	// The job was consumed; the next sweep finds nothing to do.
	pending, err := f.store.GetPendingJobs(ctx, time.Now().UTC())
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestSweepIsIdempotent(t *testing.T) {
	f, auctionID := newSweeperFixture(t)
	ctx := context.Background()

	f.sweeper.Sweep(ctx)
	f.sweeper.Sweep(ctx)

	stored, err := f.store.LoadAuction(ctx, "test-site", auctionID)
	require.NoError(t, err)
	assert.True(t, stored.Ended)
}

func TestSweepOnlyWhenLeading(t *testing.T) {
	f, auctionID := newSweeperFixture(t)
	ctx := context.Background()

	f.leader.leading = false
	f.sweeper.Sweep(ctx)

	stored, err := f.store.LoadAuction(ctx, "test-site", auctionID)
	require.NoError(t, err)
	assert.False(t, stored.Ended)

	// Once leadership is acquired the backlog drains.
	f.leader.leading = true
	f.sweeper.Sweep(ctx)

	stored, err = f.store.LoadAuction(ctx, "test-site", auctionID)
	require.NoError(t, err)
	assert.True(t, stored.Ended)
}

// TestSweepHonorsSiteTimezone pins deadlines to the owning site's clock.
// A site running hours behind the shared source must not have its
// auctions closed early by a sweep.
func TestSweepHonorsSiteTimezone(t *testing.T) {
	ctx := context.Background()

	source := clock.NewManualTimeSource(sweepEpoch)
	store := memory.NewStore()
	sites := host.New(store, clock.NewFactory(source), nil, store, logger.NewNop())

	require.NoError(t, sites.CreateSite(ctx, "west", -12, 100*3600, 1.0))
	coordinator, err := sites.LoadSite(ctx, "west")
	require.NoError(t, err)
	require.NoError(t, coordinator.CreateUser(ctx, "seller", "secret99"))
	require.NoError(t, coordinator.CreateUser(ctx, "alice", "secret99"))
	sellerSession, err := coordinator.Login(ctx, "seller", "secret99")
	require.NoError(t, err)
	session, err := coordinator.Login(ctx, "alice", "secret99")
	require.NoError(t, err)

	siteNow, err := coordinator.Now()
	require.NoError(t, err)
	auction, err := coordinator.CreateAuction(ctx, sellerSession.ID,
		"west lot", siteNow.Add(time.Hour), 5.0)
	require.NoError(t, err)

	sweeper := NewCloseSweeper(store, sites, &fixedLeader{leading: true},
		"instance-1", logger.NewNop())

	// The deadline is still an hour away on the site's own clock; this
	// sweep must leave the auction open and biddable.
	sweeper.Sweep(ctx)

	stored, err := store.LoadAuction(ctx, "west", auction.ID)
	require.NoError(t, err)
	require.False(t, stored.Ended)

	accepted, err := coordinator.Bid(ctx, session.ID, auction.ID, 5.0)
	require.NoError(t, err)
	assert.True(t, accepted)

	// Once the site clock passes the deadline the job drains.
	source.Advance(2 * time.Hour)
	sweeper.Sweep(ctx)

	stored, err = store.LoadAuction(ctx, "west", auction.ID)
	require.NoError(t, err)
	assert.True(t, stored.Ended)

	pending, err := store.GetPendingJobs(ctx, time.Now().UTC().Add(24*time.Hour))
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestSweepToleratesDeletedSite(t *testing.T) {
	f, _ := newSweeperFixture(t)
	ctx := context.Background()

	require.NoError(t, f.store.DeleteSite(ctx, "test-site"))

	// DeleteSite cascades the jobs away, so the sweep sees an empty
	// backlog. A job surviving its site must still not wedge the loop.
	require.NoError(t, f.store.CreateJob(ctx, &domain.ScheduledJob{
		ID: "orphan", Site: "test-site", AuctionID: 99,
		JobType: domain.JobEndAuction, RunAt: sweepEpoch, Status: domain.JobPending,
	}))

	f.sweeper.Sweep(ctx)

	pending, err := f.store.GetPendingJobs(ctx, time.Now().UTC())
	require.NoError(t, err)
	assert.Empty(t, pending)
}
