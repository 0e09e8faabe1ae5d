package domain

import (
	"time"
)

// Constraint ranges for site and user identities.
const (
	MinSiteNameLen = 1
	MaxSiteNameLen = 128
	MinUsernameLen = 3
	MaxUsernameLen = 64
	MinPasswordLen = 4
	MinTimezone    = -12
	MaxTimezone    = 12
)

// Site is an isolated auction tenant. All owned entities (users, sessions,
// auctions) reference it by name.
type Site struct {
	Name                     string
	Timezone                 int
	SessionExpirationSeconds int
	MinimumBidIncrement      float64
	CreatedAt                time.Time
}

type User struct {
	Site         string
	Username     string
	PasswordHash string
	CreatedAt    time.Time
}

type SessionState int

const (
	SessionActive SessionState = iota
	SessionExpired
	SessionLoggedOut
)

func (s SessionState) String() string {
	switch s {
	case SessionActive:
		return "active"
	case SessionExpired:
		return "expired"
	case SessionLoggedOut:
		return "logged_out"
	default:
		return "unknown"
	}
}

// Session is a time-bounded authenticated context for one user. Expiration
// is lazy: State may still read Active after ValidUntil has passed; callers
// must compare against the site clock.
type Session struct {
	ID         string
	Site       string
	Username   string
	ValidUntil time.Time
	State      SessionState
	CreatedAt  time.Time
}

// Live reports whether the session is usable at instant now.
func (s *Session) Live(now time.Time) bool {
	return s.State == SessionActive && now.Before(s.ValidUntil)
}

// Bid is one accepted offer. Bids are append-only; Sequence is the per-
// auction insertion order and breaks amount ties (earlier wins).
type Bid struct {
	Bidder   string
	Amount   float64
	Sequence int64
	PlacedAt time.Time
}

// Auction is a sellable item with a deadline and an append-only bid log.
// CurrentPrice/WinnerID/WinnerMax are derived state maintained by the
// engine under the per-auction lock.
type Auction struct {
	ID            int64
	Site          string
	Seller        string
	Description   string
	EndsOn        time.Time
	StartingPrice float64
	CurrentPrice  float64
	WinnerID      string
	WinnerMax     float64
	Ended         bool
	Bids          []Bid
	CreatedAt     time.Time
}

// HasBids reports whether at least one bid has been accepted.
func (a *Auction) HasBids() bool {
	return len(a.Bids) > 0
}

type BidEvent struct {
	Type      BidEventType `json:"type"`
	Site      string       `json:"site"`
	AuctionID int64        `json:"auction_id"`
	Bidder    string       `json:"bidder,omitempty"`
	Amount    float64      `json:"amount,omitempty"`
	Price     float64      `json:"price,omitempty"`
	Winner    string       `json:"winner,omitempty"`
	Timestamp time.Time    `json:"timestamp"`
}

type BidEventType string

const (
	BidAccepted    BidEventType = "bid_accepted"
	BidRejected    BidEventType = "bid_rejected"
	AuctionClosed  BidEventType = "auction_closed"
	AuctionRemoved BidEventType = "auction_removed"
)

type ScheduledJob struct {
	ID        string
	Site      string
	AuctionID int64
	JobType   JobType
	RunAt     time.Time
	Status    JobStatus
	CreatedAt time.Time
}

type JobType string

const (
	JobEndAuction JobType = "end_auction"
)

type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobExecuted  JobStatus = "executed"
	JobCancelled JobStatus = "cancelled"
)
