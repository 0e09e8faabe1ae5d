package domain

import (
	"context"
	"time"
)

// Storage is the persistence collaborator. It deals in whole-entity
// snapshots: implementations must not hand out aliased internal state, and
// the core never assumes a query language beyond point lookups and per-site
// enumeration. Missing entities surface as KindNotFound, unreachable
// backends as KindStorageUnavailable.
type Storage interface {
	LoadSite(ctx context.Context, name string) (*Site, error)
	SaveSite(ctx context.Context, site *Site) error
	// DeleteSite removes the site and everything it owns (users, sessions,
	// auctions) as one atomic step from the caller's point of view.
	DeleteSite(ctx context.Context, name string) error
	SiteInfos(ctx context.Context) ([]*Site, error)

	LoadUser(ctx context.Context, site, username string) (*User, error)
	SaveUser(ctx context.Context, user *User) error
	UsersOf(ctx context.Context, site string) ([]*User, error)

	LoadSession(ctx context.Context, id string) (*Session, error)
	SaveSession(ctx context.Context, session *Session) error
	DeleteSession(ctx context.Context, id string) error
	SessionsOf(ctx context.Context, site string) ([]*Session, error)

	LoadAuction(ctx context.Context, site string, id int64) (*Auction, error)
	SaveAuction(ctx context.Context, auction *Auction) error
	DeleteAuction(ctx context.Context, site string, id int64) error
	AuctionsOf(ctx context.Context, site string) ([]*Auction, error)
	// NextAuctionID allocates the next monotonic auction identity for site.
	NextAuctionID(ctx context.Context, site string) (int64, error)
}

// SchedulerRepository holds durable end-of-auction jobs drained by the
// close sweeper.
type SchedulerRepository interface {
	CreateJob(ctx context.Context, job *ScheduledJob) error
	GetPendingJobs(ctx context.Context, before time.Time) ([]*ScheduledJob, error)
	UpdateJobStatus(ctx context.Context, jobID string, status JobStatus) error
	CancelJobsForAuction(ctx context.Context, site string, auctionID int64) error
}

// Event interfaces
type EventPublisher interface {
	PublishBidEvent(ctx context.Context, event *BidEvent) error
}

type EventSubscriber interface {
	SubscribeToBidEvents(ctx context.Context, handler EventHandler) error
}

type EventHandler func(event *BidEvent) error

// Leader election interface
type LeaderElection interface {
	BecomeLeader(ctx context.Context, instanceID string) (bool, error)
	IsLeader(ctx context.Context, instanceID string) (bool, error)
	ReleaseLeadership(ctx context.Context, instanceID string) error
}

// WebSocket interfaces
type WebSocketConnection interface {
	Send(message interface{}) error
	Close() error
	Username() string
	AuctionKey() string
}

type ConnectionManager interface {
	RegisterConnection(username, auctionKey string, conn WebSocketConnection) error
	UnregisterConnection(username, auctionKey string) error
	BroadcastToAuction(auctionKey string, message interface{}) error
	NotifyUser(username string, message interface{}) error
	CloseAndUnregisterConnections(auctionKey string) error
}
