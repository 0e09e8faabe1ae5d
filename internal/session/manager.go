package session

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"sync"
	"time"

	"github.com/google/uuid"

	"auction-site/internal/clock"
	"auction-site/internal/domain"
	"auction-site/pkg/logger"
)

// Manager issues, validates, and expires sessions for one site.
//
// Expiration is lazy: a session past its window is only marked expired when
// something looks at it, so correctness never depends on a timer firing.
// Validation renews the window (renew-on-use policy): a fixed TTL from
// login would log users out mid-auction.
type Manager struct {
	site  *domain.Site
	store domain.Storage
	clk   *clock.Clock
	log   logger.Logger

	// login/logout for the same user must be serialized to keep the
	// at-most-one-live-session invariant.
	userMutex sync.Mutex
	userLocks map[string]*sync.Mutex
}

func NewManager(site *domain.Site, store domain.Storage, clk *clock.Clock, log logger.Logger) *Manager {
	return &Manager{
		site:      site,
		store:     store,
		clk:       clk,
		log:       log,
		userLocks: make(map[string]*sync.Mutex),
	}
}

// HashPassword derives the stored credential form.
func HashPassword(password string) string {
	sum := sha256.Sum256([]byte(password))
	return hex.EncodeToString(sum[:])
}

// VerifyPassword compares a candidate against a stored hash in constant
// time.
func VerifyPassword(password, storedHash string) bool {
	candidate := HashPassword(password)
	return subtle.ConstantTimeCompare([]byte(candidate), []byte(storedHash)) == 1
}

func (m *Manager) lockUser(username string) *sync.Mutex {
	m.userMutex.Lock()
	defer m.userMutex.Unlock()

	lock, ok := m.userLocks[username]
	if !ok {
		lock = &sync.Mutex{}
		m.userLocks[username] = lock
	}
	return lock
}

// Login authenticates username/password and opens a new session valid for
// the site's expiration window. A second login while a live session exists
// fails with KindSessionAlreadyActive; the caller must log out or let the
// old session lapse first.
func (m *Manager) Login(ctx context.Context, username, password string) (*domain.Session, error) {
	if len(username) < domain.MinUsernameLen || len(username) > domain.MaxUsernameLen {
		return nil, domain.Ef(domain.KindValidation, "username length must be in [%d,%d]",
			domain.MinUsernameLen, domain.MaxUsernameLen)
	}
	if password == "" {
		return nil, domain.E(domain.KindValidation, "password must not be empty")
	}

	lock := m.lockUser(username)
	lock.Lock()
	defer lock.Unlock()

	user, err := m.store.LoadUser(ctx, m.site.Name, username)
	if err != nil {
		if domain.IsKind(err, domain.KindNotFound) {
			return nil, domain.E(domain.KindInvalidCredentials, "unknown username or wrong password")
		}
		return nil, err
	}
	if !VerifyPassword(password, user.PasswordHash) {
		return nil, domain.E(domain.KindInvalidCredentials, "unknown username or wrong password")
	}

	now, err := m.clk.Now()
	if err != nil {
		return nil, err
	}

	live, err := m.liveSessionFor(ctx, username, now)
	if err != nil {
		return nil, err
	}
	if live != nil {
		return nil, domain.Ef(domain.KindSessionAlreadyActive,
			"user %q already holds session %s", username, live.ID)
	}

	session := &domain.Session{
		ID:         uuid.NewString(),
		Site:       m.site.Name,
		Username:   username,
		ValidUntil: now.Add(time.Duration(m.site.SessionExpirationSeconds) * time.Second),
		State:      domain.SessionActive,
		CreatedAt:  now,
	}
	if err := m.store.SaveSession(ctx, session); err != nil {
		return nil, err
	}

	m.log.Info("Session opened", "site", m.site.Name, "username", username,
		"session_id", session.ID, "valid_until", session.ValidUntil)
	return session, nil
}

// Validate returns the live session for id, renewing its window. An over-
// deadline session is marked expired in storage and the call fails with
// KindSessionExpired.
func (m *Manager) Validate(ctx context.Context, sessionID string) (*domain.Session, error) {
	session, err := m.store.LoadSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.State != domain.SessionActive {
		return nil, domain.Ef(domain.KindSessionExpired, "session %s is %s", sessionID, session.State)
	}

	now, err := m.clk.Now()
	if err != nil {
		return nil, err
	}
	if !now.Before(session.ValidUntil) {
		session.State = domain.SessionExpired
		if err := m.store.SaveSession(ctx, session); err != nil {
			return nil, err
		}
		return nil, domain.Ef(domain.KindSessionExpired, "session %s expired at %s",
			sessionID, session.ValidUntil)
	}

	// Renew on use.
	session.ValidUntil = now.Add(time.Duration(m.site.SessionExpirationSeconds) * time.Second)
	if err := m.store.SaveSession(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

// Logout moves an active session to its terminal LoggedOut state. A second
// logout is a caller bug and fails with KindInvalidOperation.
func (m *Manager) Logout(ctx context.Context, sessionID string) error {
	session, err := m.store.LoadSession(ctx, sessionID)
	if err != nil {
		return err
	}

	lock := m.lockUser(session.Username)
	lock.Lock()
	defer lock.Unlock()

	// Re-read under the user lock so concurrent logouts race cleanly.
	session, err = m.store.LoadSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if session.State != domain.SessionActive {
		return domain.Ef(domain.KindInvalidOperation, "session %s already %s", sessionID, session.State)
	}

	session.State = domain.SessionLoggedOut
	if err := m.store.SaveSession(ctx, session); err != nil {
		return err
	}

	m.log.Info("Session closed", "site", m.site.Name, "username", session.Username,
		"session_id", sessionID)
	return nil
}

// liveSessionFor scans the site's sessions for a live one held by username,
// marking stale ones expired along the way.
func (m *Manager) liveSessionFor(ctx context.Context, username string, now time.Time) (*domain.Session, error) {
	sessions, err := m.store.SessionsOf(ctx, m.site.Name)
	if err != nil {
		return nil, err
	}
	for _, s := range sessions {
		if s.Username != username || s.State != domain.SessionActive {
			continue
		}
		if s.Live(now) {
			return s, nil
		}
		s.State = domain.SessionExpired
		if err := m.store.SaveSession(ctx, s); err != nil {
			return nil, err
		}
	}
	return nil, nil
}
