package site

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"auction-site/internal/clock"
	"auction-site/internal/domain"
	"auction-site/internal/infrastructure/memory"
	"auction-site/pkg/logger"
)

var coordEpoch = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

type coordinatorFixture struct {
	coordinator *Coordinator
	store       *memory.Store
	source      *clock.ManualTimeSource
}

func newCoordinatorFixture(t *testing.T) *coordinatorFixture {
	t.Helper()

	site := &domain.Site{
		Name:                     "test-site",
		Timezone:                 0,
		SessionExpirationSeconds: 3600,
		MinimumBidIncrement:      1.0,
		CreatedAt:                coordEpoch,
	}

	source := clock.NewManualTimeSource(coordEpoch)
	clk, err := clock.NewFactory(source).Instantiate(site.Timezone)
	require.NoError(t, err)

	store := memory.NewStore()
	require.NoError(t, store.SaveSite(context.Background(), site))

	return &coordinatorFixture{
		coordinator: NewCoordinator(site, store, clk, nil, store, logger.NewNop()),
		store:       store,
		source:      source,
	}
}

func TestCreateUser(t *testing.T) {
	f := newCoordinatorFixture(t)
	ctx := context.Background()

	require.NoError(t, f.coordinator.CreateUser(ctx, "alice", "secret99"))

	// Usernames are unique per site.
	err := f.coordinator.CreateUser(ctx, "alice", "different")
	require.Error(t, err)
	assert.Equal(t, domain.KindConflict, domain.KindOf(err))

	user, err := f.store.LoadUser(ctx, "test-site", "alice")
	require.NoError(t, err)
	assert.NotEqual(t, "secret99", user.PasswordHash)
}

func TestCreateUserValidation(t *testing.T) {
	f := newCoordinatorFixture(t)
	ctx := context.Background()

	tests := []struct {
		name     string
		username string
		password string
	}{
		{"username too short", "al", "secret99"},
		{"username too long", string(make([]byte, 65)), "secret99"},
		{"password too short", "alice", "abc"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := f.coordinator.CreateUser(ctx, tt.username, tt.password)
			require.Error(t, err)
			assert.Equal(t, domain.KindValidation, domain.KindOf(err))
		})
	}
}

func TestLoginLogoutRoundTrip(t *testing.T) {
	f := newCoordinatorFixture(t)
	ctx := context.Background()

	require.NoError(t, f.coordinator.CreateUser(ctx, "alice", "secret99"))

	session, err := f.coordinator.Login(ctx, "alice", "secret99")
	require.NoError(t, err)

	validated, err := f.coordinator.ValidateSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice", validated.Username)

	require.NoError(t, f.coordinator.Logout(ctx, session.ID))

	_, err = f.coordinator.ValidateSession(ctx, session.ID)
	require.Error(t, err)
	assert.Equal(t, domain.KindSessionExpired, domain.KindOf(err))
}

func TestListings(t *testing.T) {
	f := newCoordinatorFixture(t)
	ctx := context.Background()

	for _, u := range []string{"carol", "alice", "bob"} {
		require.NoError(t, f.coordinator.CreateUser(ctx, u, "secret99"))
	}

	users, err := f.coordinator.Users(ctx)
	require.NoError(t, err)
	require.Len(t, users, 3)
	assert.Equal(t, "alice", users[0].Username)
	assert.Equal(t, "bob", users[1].Username)
	assert.Equal(t, "carol", users[2].Username)

	session, err := f.coordinator.Login(ctx, "alice", "secret99")
	require.NoError(t, err)

	sessions, err := f.coordinator.Sessions(ctx)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, session.ID, sessions[0].ID)
}

func TestAuctionsListing(t *testing.T) {
	f := newCoordinatorFixture(t)
	ctx := context.Background()

	require.NoError(t, f.coordinator.CreateUser(ctx, "alice", "secret99"))
	session, err := f.coordinator.Login(ctx, "alice", "secret99")
	require.NoError(t, err)

	early, err := f.coordinator.CreateAuction(ctx, session.ID,
		"closes soon", coordEpoch.Add(10*time.Minute), 5.0)
	require.NoError(t, err)
	late, err := f.coordinator.CreateAuction(ctx, session.ID,
		"closes later", coordEpoch.Add(10*time.Hour), 5.0)
	require.NoError(t, err)

	all, err := f.coordinator.Auctions(ctx, false)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, early.ID, all[0].ID)
	assert.Equal(t, late.ID, all[1].ID)

	// Past the first deadline: listing applies the end transition, and
	// the open-only view drops the ended auction.
	f.source.Advance(30 * time.Minute)

	all, err = f.coordinator.Auctions(ctx, false)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.True(t, all[0].Ended)
	assert.False(t, all[1].Ended)

	open, err := f.coordinator.Auctions(ctx, true)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, late.ID, open[0].ID)
}

func TestBidThroughCoordinator(t *testing.T) {
	f := newCoordinatorFixture(t)
	ctx := context.Background()

	require.NoError(t, f.coordinator.CreateUser(ctx, "alice", "secret99"))
	require.NoError(t, f.coordinator.CreateUser(ctx, "bobby", "secret99"))

	aliceSession, err := f.coordinator.Login(ctx, "alice", "secret99")
	require.NoError(t, err)
	bobSession, err := f.coordinator.Login(ctx, "bobby", "secret99")
	require.NoError(t, err)

	auction, err := f.coordinator.CreateAuction(ctx, aliceSession.ID,
		"old radio", coordEpoch.Add(time.Hour), 20.0)
	require.NoError(t, err)

	outcome, err := f.coordinator.PlaceBid(ctx, bobSession.ID, auction.ID, 20.0)
	require.NoError(t, err)
	assert.True(t, outcome.Accepted)
	assert.Equal(t, "bobby", outcome.Winner)
	assert.Equal(t, 20.0, outcome.Price)

	got, err := f.coordinator.Engine().Get(ctx, auction.ID)
	require.NoError(t, err)
	assert.Equal(t, "bobby", got.WinnerID)
	assert.Equal(t, 20.0, got.CurrentPrice)
}

func TestDeleteCascades(t *testing.T) {
	f := newCoordinatorFixture(t)
	ctx := context.Background()

	require.NoError(t, f.coordinator.CreateUser(ctx, "alice", "secret99"))
	session, err := f.coordinator.Login(ctx, "alice", "secret99")
	require.NoError(t, err)
	_, err = f.coordinator.CreateAuction(ctx, session.ID,
		"doomed lot", coordEpoch.Add(time.Hour), 5.0)
	require.NoError(t, err)

	require.NoError(t, f.coordinator.Delete(ctx))

	_, err = f.store.LoadSite(ctx, "test-site")
	assert.Equal(t, domain.KindNotFound, domain.KindOf(err))
	_, err = f.store.LoadUser(ctx, "test-site", "alice")
	assert.Equal(t, domain.KindNotFound, domain.KindOf(err))
	_, err = f.store.LoadSession(ctx, session.ID)
	assert.Equal(t, domain.KindNotFound, domain.KindOf(err))

	auctions, err := f.store.AuctionsOf(ctx, "test-site")
	require.NoError(t, err)
	assert.Empty(t, auctions)
}
