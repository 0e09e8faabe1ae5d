package mysql

import (
	"context"
	"database/sql"
	"errors"

	_ "github.com/go-sql-driver/mysql"

	"auction-site/internal/domain"
)

// Store implements domain.Storage over MySQL. Rows are read and written as
// whole-entity snapshots; auction bids live in their own table and are
// rewritten together with the auction row in one transaction.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Wrap(domain.KindNotFound, op, err)
	}
	return domain.Wrap(domain.KindStorageUnavailable, op, err)
}

func (s *Store) LoadSite(ctx context.Context, name string) (*domain.Site, error) {
	query := `
        SELECT name, timezone, session_expiration_seconds, minimum_bid_increment, created_at
        FROM sites WHERE name = ?
    `

	var site domain.Site
	err := s.db.QueryRowContext(ctx, query, name).Scan(
		&site.Name, &site.Timezone, &site.SessionExpirationSeconds,
		&site.MinimumBidIncrement, &site.CreatedAt)
	if err != nil {
		return nil, wrapErr("load site", err)
	}
	return &site, nil
}

func (s *Store) SaveSite(ctx context.Context, site *domain.Site) error {
	query := `
        INSERT INTO sites (name, timezone, session_expiration_seconds, minimum_bid_increment, created_at)
        VALUES (?, ?, ?, ?, ?)
        ON DUPLICATE KEY UPDATE
            timezone = VALUES(timezone),
            session_expiration_seconds = VALUES(session_expiration_seconds),
            minimum_bid_increment = VALUES(minimum_bid_increment)
    `
	_, err := s.db.ExecContext(ctx, query,
		site.Name, site.Timezone, site.SessionExpirationSeconds,
		site.MinimumBidIncrement, site.CreatedAt)
	return wrapErr("save site", err)
}

func (s *Store) DeleteSite(ctx context.Context, name string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapErr("delete site", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `DELETE FROM sites WHERE name = ?`, name)
	if err != nil {
		return wrapErr("delete site", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return wrapErr("delete site", err)
	}
	if affected == 0 {
		return domain.Ef(domain.KindNotFound, "site %q not found", name)
	}

	for _, stmt := range []string{
		`DELETE FROM users WHERE site = ?`,
		`DELETE FROM sessions WHERE site = ?`,
		`DELETE FROM bids WHERE site = ?`,
		`DELETE FROM auctions WHERE site = ?`,
		`DELETE FROM auction_sequences WHERE site = ?`,
		`DELETE FROM scheduled_jobs WHERE site = ?`,
	} {
		if _, err := tx.ExecContext(ctx, stmt, name); err != nil {
			return wrapErr("delete site", err)
		}
	}

	return wrapErr("delete site", tx.Commit())
}

func (s *Store) SiteInfos(ctx context.Context) ([]*domain.Site, error) {
	query := `
        SELECT name, timezone, session_expiration_seconds, minimum_bid_increment, created_at
        FROM sites ORDER BY name
    `

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, wrapErr("list sites", err)
	}
	defer rows.Close()

	var sites []*domain.Site
	for rows.Next() {
		var site domain.Site
		err := rows.Scan(&site.Name, &site.Timezone, &site.SessionExpirationSeconds,
			&site.MinimumBidIncrement, &site.CreatedAt)
		if err != nil {
			return nil, wrapErr("list sites", err)
		}
		sites = append(sites, &site)
	}
	return sites, wrapErr("list sites", rows.Err())
}

func (s *Store) LoadUser(ctx context.Context, site, username string) (*domain.User, error) {
	query := `
        SELECT site, username, password_hash, created_at
        FROM users WHERE site = ? AND username = ?
    `

	var user domain.User
	err := s.db.QueryRowContext(ctx, query, site, username).Scan(
		&user.Site, &user.Username, &user.PasswordHash, &user.CreatedAt)
	if err != nil {
		return nil, wrapErr("load user", err)
	}
	return &user, nil
}

func (s *Store) SaveUser(ctx context.Context, user *domain.User) error {
	query := `
        INSERT INTO users (site, username, password_hash, created_at)
        VALUES (?, ?, ?, ?)
        ON DUPLICATE KEY UPDATE password_hash = VALUES(password_hash)
    `
	_, err := s.db.ExecContext(ctx, query,
		user.Site, user.Username, user.PasswordHash, user.CreatedAt)
	return wrapErr("save user", err)
}

func (s *Store) UsersOf(ctx context.Context, site string) ([]*domain.User, error) {
	query := `
        SELECT site, username, password_hash, created_at
        FROM users WHERE site = ? ORDER BY username
    `

	rows, err := s.db.QueryContext(ctx, query, site)
	if err != nil {
		return nil, wrapErr("list users", err)
	}
	defer rows.Close()

	var users []*domain.User
	for rows.Next() {
		var user domain.User
		err := rows.Scan(&user.Site, &user.Username, &user.PasswordHash, &user.CreatedAt)
		if err != nil {
			return nil, wrapErr("list users", err)
		}
		users = append(users, &user)
	}
	return users, wrapErr("list users", rows.Err())
}

func (s *Store) LoadSession(ctx context.Context, id string) (*domain.Session, error) {
	query := `
        SELECT id, site, username, valid_until, state, created_at
        FROM sessions WHERE id = ?
    `

	var session domain.Session
	var state int
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&session.ID, &session.Site, &session.Username,
		&session.ValidUntil, &state, &session.CreatedAt)
	if err != nil {
		return nil, wrapErr("load session", err)
	}
	session.State = domain.SessionState(state)
	return &session, nil
}

func (s *Store) SaveSession(ctx context.Context, session *domain.Session) error {
	query := `
        INSERT INTO sessions (id, site, username, valid_until, state, created_at)
        VALUES (?, ?, ?, ?, ?, ?)
        ON DUPLICATE KEY UPDATE
            valid_until = VALUES(valid_until),
            state = VALUES(state)
    `
	_, err := s.db.ExecContext(ctx, query,
		session.ID, session.Site, session.Username,
		session.ValidUntil, int(session.State), session.CreatedAt)
	return wrapErr("save session", err)
}

func (s *Store) DeleteSession(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return wrapErr("delete session", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return wrapErr("delete session", err)
	}
	if affected == 0 {
		return domain.Ef(domain.KindNotFound, "session %q not found", id)
	}
	return nil
}

func (s *Store) SessionsOf(ctx context.Context, site string) ([]*domain.Session, error) {
	query := `
        SELECT id, site, username, valid_until, state, created_at
        FROM sessions WHERE site = ? ORDER BY created_at
    `

	rows, err := s.db.QueryContext(ctx, query, site)
	if err != nil {
		return nil, wrapErr("list sessions", err)
	}
	defer rows.Close()

	var sessions []*domain.Session
	for rows.Next() {
		var session domain.Session
		var state int
		err := rows.Scan(&session.ID, &session.Site, &session.Username,
			&session.ValidUntil, &state, &session.CreatedAt)
		if err != nil {
			return nil, wrapErr("list sessions", err)
		}
		session.State = domain.SessionState(state)
		sessions = append(sessions, &session)
	}
	return sessions, wrapErr("list sessions", rows.Err())
}

func (s *Store) LoadAuction(ctx context.Context, site string, id int64) (*domain.Auction, error) {
	query := `
        SELECT site, id, seller, description, ends_on, starting_price,
               current_price, winner_id, winner_max, ended, created_at
        FROM auctions WHERE site = ? AND id = ?
    `

	var auction domain.Auction
	err := s.db.QueryRowContext(ctx, query, site, id).Scan(
		&auction.Site, &auction.ID, &auction.Seller, &auction.Description,
		&auction.EndsOn, &auction.StartingPrice, &auction.CurrentPrice,
		&auction.WinnerID, &auction.WinnerMax, &auction.Ended, &auction.CreatedAt)
	if err != nil {
		return nil, wrapErr("load auction", err)
	}

	bids, err := s.loadBids(ctx, site, id)
	if err != nil {
		return nil, err
	}
	auction.Bids = bids
	return &auction, nil
}

func (s *Store) loadBids(ctx context.Context, site string, auctionID int64) ([]domain.Bid, error) {
	query := `
        SELECT bidder, amount, sequence, placed_at
        FROM bids WHERE site = ? AND auction_id = ?
        ORDER BY sequence
    `

	rows, err := s.db.QueryContext(ctx, query, site, auctionID)
	if err != nil {
		return nil, wrapErr("load bids", err)
	}
	defer rows.Close()

	var bids []domain.Bid
	for rows.Next() {
		var bid domain.Bid
		err := rows.Scan(&bid.Bidder, &bid.Amount, &bid.Sequence, &bid.PlacedAt)
		if err != nil {
			return nil, wrapErr("load bids", err)
		}
		bids = append(bids, bid)
	}
	return bids, wrapErr("load bids", rows.Err())
}

func (s *Store) SaveAuction(ctx context.Context, auction *domain.Auction) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapErr("save auction", err)
	}
	defer tx.Rollback()

	query := `
        INSERT INTO auctions (site, id, seller, description, ends_on, starting_price,
                              current_price, winner_id, winner_max, ended, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON DUPLICATE KEY UPDATE
            current_price = VALUES(current_price),
            winner_id = VALUES(winner_id),
            winner_max = VALUES(winner_max),
            ended = VALUES(ended)
    `
	_, err = tx.ExecContext(ctx, query,
		auction.Site, auction.ID, auction.Seller, auction.Description,
		auction.EndsOn, auction.StartingPrice, auction.CurrentPrice,
		auction.WinnerID, auction.WinnerMax, auction.Ended, auction.CreatedAt)
	if err != nil {
		return wrapErr("save auction", err)
	}

	// Bids are append-only; rewrite the log to match the snapshot.
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM bids WHERE site = ? AND auction_id = ?`,
		auction.Site, auction.ID); err != nil {
		return wrapErr("save auction", err)
	}
	for _, bid := range auction.Bids {
		_, err := tx.ExecContext(ctx, `
            INSERT INTO bids (site, auction_id, bidder, amount, sequence, placed_at)
            VALUES (?, ?, ?, ?, ?, ?)
        `, auction.Site, auction.ID, bid.Bidder, bid.Amount, bid.Sequence, bid.PlacedAt)
		if err != nil {
			return wrapErr("save auction", err)
		}
	}

	return wrapErr("save auction", tx.Commit())
}

func (s *Store) DeleteAuction(ctx context.Context, site string, id int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapErr("delete auction", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx,
		`DELETE FROM auctions WHERE site = ? AND id = ?`, site, id)
	if err != nil {
		return wrapErr("delete auction", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return wrapErr("delete auction", err)
	}
	if affected == 0 {
		return domain.Ef(domain.KindNotFound, "auction %d not found on site %q", id, site)
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM bids WHERE site = ? AND auction_id = ?`, site, id); err != nil {
		return wrapErr("delete auction", err)
	}

	return wrapErr("delete auction", tx.Commit())
}

func (s *Store) AuctionsOf(ctx context.Context, site string) ([]*domain.Auction, error) {
	query := `
        SELECT site, id, seller, description, ends_on, starting_price,
               current_price, winner_id, winner_max, ended, created_at
        FROM auctions WHERE site = ? ORDER BY id
    `

	rows, err := s.db.QueryContext(ctx, query, site)
	if err != nil {
		return nil, wrapErr("list auctions", err)
	}
	defer rows.Close()

	var auctions []*domain.Auction
	for rows.Next() {
		var auction domain.Auction
		err := rows.Scan(&auction.Site, &auction.ID, &auction.Seller,
			&auction.Description, &auction.EndsOn, &auction.StartingPrice,
			&auction.CurrentPrice, &auction.WinnerID, &auction.WinnerMax,
			&auction.Ended, &auction.CreatedAt)
		if err != nil {
			return nil, wrapErr("list auctions", err)
		}
		auctions = append(auctions, &auction)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("list auctions", err)
	}

	for _, auction := range auctions {
		bids, err := s.loadBids(ctx, site, auction.ID)
		if err != nil {
			return nil, err
		}
		auction.Bids = bids
	}
	return auctions, nil
}

func (s *Store) NextAuctionID(ctx context.Context, site string) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
        INSERT INTO auction_sequences (site, last_id)
        VALUES (?, 1)
        ON DUPLICATE KEY UPDATE last_id = LAST_INSERT_ID(last_id + 1)
    `, site)
	if err != nil {
		return 0, wrapErr("next auction id", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, wrapErr("next auction id", err)
	}
	if id == 0 {
		// Fresh sequence row: the INSERT branch ran, no LAST_INSERT_ID set.
		id = 1
	}
	return id, nil
}
