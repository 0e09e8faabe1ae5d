package session

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

var sessionEpoch = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

type managerFixture struct {
	manager *Manager
	store   *memory.Store
	source  *clock.ManualTimeSource
	site    *domain.Site
}

func newManagerFixture(t *testing.T) *managerFixture {
	t.Helper()

	site := &domain.Site{
		Name:                     "test-site",
		Timezone:                 0,
		SessionExpirationSeconds: 3600,
		MinimumBidIncrement:      1.0,
		CreatedAt:                sessionEpoch,
	}

	source := clock.NewManualTimeSource(sessionEpoch)
	clk, err := clock.NewFactory(source).Instantiate(site.Timezone)
	require.NoError(t, err)

	store := memory.NewStore()
	require.NoError(t, store.SaveSite(context.Background(), site))
	require.NoError(t, store.SaveUser(context.Background(), &domain.User{
		Site:         site.Name,
		Username:     "alice",
		PasswordHash: HashPassword("secret99"),
		CreatedAt:    sessionEpoch,
	}))

	return &managerFixture{
		manager: NewManager(site, store, clk, logger.NewNop()),
		store:   store,
		source:  source,
		site:    site,
	}
}

func TestPasswordHashing(t *testing.T) {
	hash := HashPassword("secret99")
	assert.NotEqual(t, "secret99", hash)
	assert.True(t, VerifyPassword("secret99", hash))
	assert.False(t, VerifyPassword("secret98", hash))
}

func TestLogin(t *testing.T) {
	f := newManagerFixture(t)
	ctx := context.Background()

	session, err := f.manager.Login(ctx, "alice", "secret99")
	require.NoError(t, err)
	assert.NotEmpty(t, session.ID)
	assert.Equal(t, "alice", session.Username)
	assert.Equal(t, domain.SessionActive, session.State)
	assert.Equal(t, sessionEpoch.Add(time.Hour), session.ValidUntil)
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	f := newManagerFixture(t)
	ctx := context.Background()

	tests := []struct {
		name     string
		username string
		password string
		wantKind domain.Kind
	}{
		{"wrong password", "alice", "nope", domain.KindInvalidCredentials},
		{"unknown user", "mallory", "secret99", domain.KindInvalidCredentials},
		{"username too short", "al", "secret99", domain.KindValidation},
		{"empty password", "alice", "", domain.KindValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.manager.Login(ctx, tt.username, tt.password)
			require.Error(t, err)
			assert.Equal(t, tt.wantKind, domain.KindOf(err))
		})
	}
}

func TestLoginRejectsSecondLiveSession(t *testing.T) {
	f := newManagerFixture(t)
	ctx := context.Background()

	_, err := f.manager.Login(ctx, "alice", "secret99")
	require.NoError(t, err)

	_, err = f.manager.Login(ctx, "alice", "secret99")
	require.Error(t, err)
	assert.Equal(t, domain.KindSessionAlreadyActive, domain.KindOf(err))
}

func TestLoginAfterExpirationSucceeds(t *testing.T) {
	f := newManagerFixture(t)
	ctx := context.Background()

	first, err := f.manager.Login(ctx, "alice", "secret99")
	require.NoError(t, err)

	// The old session lapses without anyone touching it; the next login
	// must not trip over the stale record.
	f.source.Advance(time.Hour + time.Second)

	second, err := f.manager.Login(ctx, "alice", "secret99")
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)

	// The stale session was marked expired along the way.
	stale, err := f.store.LoadSession(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionExpired, stale.State)
}

func TestValidateRenewsWindow(t *testing.T) {
	f := newManagerFixture(t)
	ctx := context.Background()

	session, err := f.manager.Login(ctx, "alice", "secret99")
	require.NoError(t, err)

	// Touch the session just inside the window, repeatedly. Each touch
	// pushes the deadline out, so total lifetime exceeds one window.
	for i := 0; i < 3; i++ {
		f.source.Advance(45 * time.Minute)
		renewed, err := f.manager.Validate(ctx, session.ID)
		require.NoError(t, err)
		assert.True(t, renewed.ValidUntil.After(session.ValidUntil))
		session = renewed
	}
}

func TestValidateExpiresStaleSession(t *testing.T) {
	f := newManagerFixture(t)
	ctx := context.Background()

	session, err := f.manager.Login(ctx, "alice", "secret99")
	require.NoError(t, err)

	f.source.Advance(time.Hour)

	_, err = f.manager.Validate(ctx, session.ID)
	require.Error(t, err)
	assert.Equal(t, domain.KindSessionExpired, domain.KindOf(err))

	stored, err := f.store.LoadSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionExpired, stored.State)

	// Expiration is terminal for this session.
	_, err = f.manager.Validate(ctx, session.ID)
	require.Error(t, err)
	assert.Equal(t, domain.KindSessionExpired, domain.KindOf(err))
}

func TestValidateUnknownSession(t *testing.T) {
	f := newManagerFixture(t)

	_, err := f.manager.Validate(context.Background(), "no-such-session")
	require.Error(t, err)
	assert.Equal(t, domain.KindNotFound, domain.KindOf(err))
}

func TestLogout(t *testing.T) {
	f := newManagerFixture(t)
	ctx := context.Background()

	session, err := f.manager.Login(ctx, "alice", "secret99")
	require.NoError(t, err)

	require.NoError(t, f.manager.Logout(ctx, session.ID))

	// A logged-out session no longer validates.
	_, err = f.manager.Validate(ctx, session.ID)
	require.Error(t, err)
	assert.Equal(t, domain.KindSessionExpired, domain.KindOf(err))

	// And logging out twice is a caller bug.
	err = f.manager.Logout(ctx, session.ID)
	require.Error(t, err)
	assert.Equal(t, domain.KindInvalidOperation, domain.KindOf(err))
}

func TestLoginAfterLogout(t *testing.T) {
	f := newManagerFixture(t)
	ctx := context.Background()

	first, err := f.manager.Login(ctx, "alice", "secret99")
	require.NoError(t, err)
	require.NoError(t, f.manager.Logout(ctx, first.ID))

	second, err := f.manager.Login(ctx, "alice", "secret99")
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)
}
