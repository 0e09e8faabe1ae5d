package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"auction-site/internal/domain"
)

// Store is a concurrency-safe in-memory implementation of domain.Storage
// and domain.SchedulerRepository. Entities are copied on the way in and out
// so callers always hold snapshots, never aliased store state.
type Store struct {
	mu        sync.RWMutex
	sites     map[string]*domain.Site
	users     map[string]map[string]*domain.User    // site -> username -> user
	sessions  map[string]*domain.Session            // session id -> session
	auctions  map[string]map[int64]*domain.Auction  // site -> auction id -> auction
	auctionID map[string]int64                      // site -> last allocated id
	jobs      map[string]*domain.ScheduledJob       // job id -> job
}

func NewStore() *Store {
	return &Store{
		sites:     make(map[string]*domain.Site),
		users:     make(map[string]map[string]*domain.User),
		sessions:  make(map[string]*domain.Session),
		auctions:  make(map[string]map[int64]*domain.Auction),
		auctionID: make(map[string]int64),
		jobs:      make(map[string]*domain.ScheduledJob),
	}
}

func copySite(s *domain.Site) *domain.Site {
	cp := *s
	return &cp
}

func copyUser(u *domain.User) *domain.User {
	cp := *u
	return &cp
}

func copySession(s *domain.Session) *domain.Session {
	cp := *s
	return &cp
}

func copyAuction(a *domain.Auction) *domain.Auction {
	cp := *a
	cp.Bids = append([]domain.Bid(nil), a.Bids...)
	return &cp
}

func copyJob(j *domain.ScheduledJob) *domain.ScheduledJob {
	cp := *j
	return &cp
}

func (s *Store) LoadSite(_ context.Context, name string) (*domain.Site, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	site, ok := s.sites[name]
	if !ok {
		return nil, domain.Ef(domain.KindNotFound, "site %q not found", name)
	}
	return copySite(site), nil
}

func (s *Store) SaveSite(_ context.Context, site *domain.Site) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sites[site.Name] = copySite(site)
	if s.users[site.Name] == nil {
		s.users[site.Name] = make(map[string]*domain.User)
	}
	if s.auctions[site.Name] == nil {
		s.auctions[site.Name] = make(map[int64]*domain.Auction)
	}
	return nil
}

func (s *Store) DeleteSite(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sites[name]; !ok {
		return domain.Ef(domain.KindNotFound, "site %q not found", name)
	}
	delete(s.sites, name)
	delete(s.users, name)
	delete(s.auctions, name)
	delete(s.auctionID, name)
	for id, sess := range s.sessions {
		if sess.Site == name {
			delete(s.sessions, id)
		}
	}
	for id, job := range s.jobs {
		if job.Site == name {
			delete(s.jobs, id)
		}
	}
	return nil
}

func (s *Store) SiteInfos(_ context.Context) ([]*domain.Site, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sites := make([]*domain.Site, 0, len(s.sites))
	for _, site := range s.sites {
		sites = append(sites, copySite(site))
	}
	sort.Slice(sites, func(i, j int) bool {
		return strings.Compare(sites[i].Name, sites[j].Name) < 0
	})
	return sites, nil
}

func (s *Store) LoadUser(_ context.Context, site, username string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[site][username]
	if !ok {
		return nil, domain.Ef(domain.KindNotFound, "user %q not found on site %q", username, site)
	}
	return copyUser(user), nil
}

func (s *Store) SaveUser(_ context.Context, user *domain.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sites[user.Site]; !ok {
		return domain.Ef(domain.KindNotFound, "site %q not found", user.Site)
	}
	s.users[user.Site][user.Username] = copyUser(user)
	return nil
}

func (s *Store) UsersOf(_ context.Context, site string) ([]*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]*domain.User, 0, len(s.users[site]))
	for _, u := range s.users[site] {
		users = append(users, copyUser(u))
	}
	sort.Slice(users, func(i, j int) bool {
		return users[i].Username < users[j].Username
	})
	return users, nil
}

func (s *Store) LoadSession(_ context.Context, id string) (*domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, domain.Ef(domain.KindNotFound, "session %q not found", id)
	}
	return copySession(sess), nil
}

func (s *Store) SaveSession(_ context.Context, session *domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessions[session.ID] = copySession(session)
	return nil
}

func (s *Store) DeleteSession(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[id]; !ok {
		return domain.Ef(domain.KindNotFound, "session %q not found", id)
	}
	delete(s.sessions, id)
	return nil
}

func (s *Store) SessionsOf(_ context.Context, site string) ([]*domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var sessions []*domain.Session
	for _, sess := range s.sessions {
		if sess.Site == site {
			sessions = append(sessions, copySession(sess))
		}
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].CreatedAt.Before(sessions[j].CreatedAt)
	})
	return sessions, nil
}

func (s *Store) LoadAuction(_ context.Context, site string, id int64) (*domain.Auction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	auction, ok := s.auctions[site][id]
	if !ok {
		return nil, domain.Ef(domain.KindNotFound, "auction %d not found on site %q", id, site)
	}
	return copyAuction(auction), nil
}

func (s *Store) SaveAuction(_ context.Context, auction *domain.Auction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sites[auction.Site]; !ok {
		return domain.Ef(domain.KindNotFound, "site %q not found", auction.Site)
	}
	s.auctions[auction.Site][auction.ID] = copyAuction(auction)
	return nil
}

func (s *Store) DeleteAuction(_ context.Context, site string, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.auctions[site][id]; !ok {
		return domain.Ef(domain.KindNotFound, "auction %d not found on site %q", id, site)
	}
	delete(s.auctions[site], id)
	return nil
}

func (s *Store) AuctionsOf(_ context.Context, site string) ([]*domain.Auction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	auctions := make([]*domain.Auction, 0, len(s.auctions[site]))
	for _, a := range s.auctions[site] {
		auctions = append(auctions, copyAuction(a))
	}
	sort.Slice(auctions, func(i, j int) bool {
		return auctions[i].ID < auctions[j].ID
	})
	return auctions, nil
}

func (s *Store) NextAuctionID(_ context.Context, site string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sites[site]; !ok {
		return 0, domain.Ef(domain.KindNotFound, "site %q not found", site)
	}
	s.auctionID[site]++
	return s.auctionID[site], nil
}

func (s *Store) CreateJob(_ context.Context, job *domain.ScheduledJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.jobs[job.ID] = copyJob(job)
	return nil
}

func (s *Store) GetPendingJobs(_ context.Context, before time.Time) ([]*domain.ScheduledJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var jobs []*domain.ScheduledJob
	for _, job := range s.jobs {
		if job.Status == domain.JobPending && !job.RunAt.After(before) {
			jobs = append(jobs, copyJob(job))
		}
	}
	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].RunAt.Before(jobs[j].RunAt)
	})
	return jobs, nil
}

func (s *Store) UpdateJobStatus(_ context.Context, jobID string, status domain.JobStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return domain.Ef(domain.KindNotFound, "job %q not found", jobID)
	}
	job.Status = status
	return nil
}

func (s *Store) CancelJobsForAuction(_ context.Context, site string, auctionID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, job := range s.jobs {
		if job.Site == site && job.AuctionID == auctionID && job.Status == domain.JobPending {
			job.Status = domain.JobCancelled
		}
	}
	return nil
}
