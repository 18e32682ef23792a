// Package sqlite provides a SQLite-backed settlement storage implementation.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	sqlitemigrate "github.com/openclearing/settlement/internal/platform/storage/sqlitemigrate"
	"github.com/openclearing/settlement/internal/services/settlement/domain/asset"
	"github.com/openclearing/settlement/internal/services/settlement/domain/auction"
	"github.com/openclearing/settlement/internal/services/settlement/domain/custody"
	"github.com/openclearing/settlement/internal/services/settlement/domain/futures"
	"github.com/openclearing/settlement/internal/services/settlement/domain/swap"
	"github.com/openclearing/settlement/internal/services/settlement/storage"
	"github.com/openclearing/settlement/internal/services/settlement/storage/sqlite/migrations"
	_ "modernc.org/sqlite"
)

// Store persists settlement state in SQLite.
type Store struct {
	sqlDB *sql.DB
	now   func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the clock used to stamp stored rows. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

func expiryToMillis(value *time.Time) sql.NullInt64 {
	if value == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toMillis(*value), Valid: true}
}

func expiryFromMillis(value sql.NullInt64) *time.Time {
	if !value.Valid {
		return nil
	}
	expiry := fromMillis(value.Int64)
	return &expiry
}

func heldColumns(held asset.Held) (string, int) {
	if a, ok := held.Peek(); ok {
		return a.ID, 1
	}
	return "", 0
}

func heldFromColumns(assetID string, present int) asset.Held {
	if present != 0 {
		return asset.Holding(asset.Asset{ID: assetID})
	}
	return asset.Held{}
}

// Open opens a SQLite settlement store and applies embedded migrations.
func Open(path string, opts ...Option) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := sqlitemigrate.ApplyMigrations(sqlDB, migrations.FS, ""); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	store := &Store{sqlDB: sqlDB, now: time.Now}
	for _, opt := range opts {
		opt(store)
	}
	return store, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// PutSwap upserts a swap record.
func (s *Store) PutSwap(ctx context.Context, record swap.Swap) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	heldID, heldPresent := heldColumns(record.Held)
	_, err := s.sqlDB.ExecContext(
		ctx,
		`INSERT INTO swaps (id, creator, recipient, required_asset_id, held_asset_id, held_present, expiry, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   held_asset_id = excluded.held_asset_id,
		   held_present = excluded.held_present,
		   status = excluded.status,
		   updated_at = excluded.updated_at`,
		record.ID,
		record.Creator,
		record.Counterparty,
		record.RequiredAssetID,
		heldID,
		heldPresent,
		expiryToMillis(record.Expiry),
		int(record.Status),
		toMillis(record.CreatedAt),
		toMillis(record.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("put swap: %w", err)
	}
	return nil
}

// GetSwap returns a swap record by id.
func (s *Store) GetSwap(ctx context.Context, recordID string) (swap.Swap, error) {
	if err := ctx.Err(); err != nil {
		return swap.Swap{}, err
	}
	row := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT id, creator, recipient, required_asset_id, held_asset_id, held_present, expiry, status, created_at, updated_at
		 FROM swaps WHERE id = ?`,
		recordID,
	)
	var (
		record      swap.Swap
		heldID      string
		heldPresent int
		expiry      sql.NullInt64
		status      int
		createdAt   int64
		updatedAt   int64
	)
	err := row.Scan(&record.ID, &record.Creator, &record.Counterparty, &record.RequiredAssetID,
		&heldID, &heldPresent, &expiry, &status, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return swap.Swap{}, storage.ErrNotFound
	}
	if err != nil {
		return swap.Swap{}, fmt.Errorf("get swap: %w", err)
	}
	record.Held = heldFromColumns(heldID, heldPresent)
	record.Expiry = expiryFromMillis(expiry)
	record.Status = custody.Status(status)
	record.CreatedAt = fromMillis(createdAt)
	record.UpdatedAt = fromMillis(updatedAt)
	return record, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// PutAuction upserts an auction record.
func (s *Store) PutAuction(ctx context.Context, record auction.Auction) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := upsertAuction(ctx, s.sqlDB, record); err != nil {
		return fmt.Errorf("put auction: %w", err)
	}
	return nil
}

func upsertAuction(ctx context.Context, db execer, record auction.Auction) error {
	heldID, heldPresent := heldColumns(record.Held)
	hasHighest := 0
	highestBidID, highestBidder := "", ""
	var highestAmount uint64
	if record.CurrentHighest != nil {
		hasHighest = 1
		highestBidID = record.CurrentHighest.ID
		highestBidder = record.CurrentHighest.Bidder
		highestAmount = record.CurrentHighest.Amount
	}
	_, err := db.ExecContext(
		ctx,
		`INSERT INTO auctions (id, owner, auctioneer, held_asset_id, held_present, has_highest, highest_bid_id, highest_bidder, highest_amount, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   held_asset_id = excluded.held_asset_id,
		   held_present = excluded.held_present,
		   has_highest = excluded.has_highest,
		   highest_bid_id = excluded.highest_bid_id,
		   highest_bidder = excluded.highest_bidder,
		   highest_amount = excluded.highest_amount,
		   status = excluded.status,
		   updated_at = excluded.updated_at`,
		record.ID,
		record.Creator,
		record.Counterparty,
		heldID,
		heldPresent,
		hasHighest,
		highestBidID,
		highestBidder,
		int64(highestAmount),
		int(record.Status),
		toMillis(record.CreatedAt),
		toMillis(record.UpdatedAt),
	)
	return err
}

// GetAuction returns an auction record by id.
func (s *Store) GetAuction(ctx context.Context, auctionID string) (auction.Auction, error) {
	if err := ctx.Err(); err != nil {
		return auction.Auction{}, err
	}
	row := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT id, owner, auctioneer, held_asset_id, held_present, has_highest, highest_bid_id, highest_bidder, highest_amount, status, created_at, updated_at
		 FROM auctions WHERE id = ?`,
		auctionID,
	)
	var (
		record        auction.Auction
		heldID        string
		heldPresent   int
		hasHighest    int
		highestBidID  string
		highestBidder string
		highestAmount int64
		status        int
		createdAt     int64
		updatedAt     int64
	)
	err := row.Scan(&record.ID, &record.Creator, &record.Counterparty, &heldID, &heldPresent,
		&hasHighest, &highestBidID, &highestBidder, &highestAmount, &status, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return auction.Auction{}, storage.ErrNotFound
	}
	if err != nil {
		return auction.Auction{}, fmt.Errorf("get auction: %w", err)
	}
	record.Held = heldFromColumns(heldID, heldPresent)
	record.Status = custody.Status(status)
	record.CreatedAt = fromMillis(createdAt)
	record.UpdatedAt = fromMillis(updatedAt)
	if hasHighest != 0 {
		record.CurrentHighest = &auction.Bid{
			ID:        highestBidID,
			AuctionID: record.ID,
			Bidder:    highestBidder,
			Amount:    uint64(highestAmount),
		}
	}
	return record, nil
}

// PutPendingBid stores a bid message awaiting application.
func (s *Store) PutPendingBid(ctx context.Context, bid auction.Bid) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := s.sqlDB.ExecContext(
		ctx,
		`INSERT INTO pending_bids (auction_id, bid_id, bidder, amount, created_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(auction_id, bid_id) DO UPDATE SET
		   bidder = excluded.bidder,
		   amount = excluded.amount`,
		bid.AuctionID,
		bid.ID,
		bid.Bidder,
		int64(bid.Amount),
		toMillis(s.now()),
	)
	if err != nil {
		return fmt.Errorf("put pending bid: %w", err)
	}
	return nil
}

// GetPendingBid returns a pending bid message.
func (s *Store) GetPendingBid(ctx context.Context, auctionID, bidID string) (auction.Bid, error) {
	if err := ctx.Err(); err != nil {
		return auction.Bid{}, err
	}
	row := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT auction_id, bid_id, bidder, amount FROM pending_bids WHERE auction_id = ? AND bid_id = ?`,
		auctionID, bidID,
	)
	var (
		bid    auction.Bid
		amount int64
	)
	err := row.Scan(&bid.AuctionID, &bid.ID, &bid.Bidder, &amount)
	if errors.Is(err, sql.ErrNoRows) {
		return auction.Bid{}, storage.ErrNotFound
	}
	if err != nil {
		return auction.Bid{}, fmt.Errorf("get pending bid: %w", err)
	}
	bid.Amount = uint64(amount)
	return bid, nil
}

// DeletePendingBid consumes a pending bid message.
func (s *Store) DeletePendingBid(ctx context.Context, auctionID, bidID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	result, err := s.sqlDB.ExecContext(
		ctx,
		`DELETE FROM pending_bids WHERE auction_id = ? AND bid_id = ?`,
		auctionID, bidID,
	)
	if err != nil {
		return fmt.Errorf("delete pending bid: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete pending bid: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// CommitBid persists the auction and consumes the pending bid in one
// transaction. The transaction rolls back when the bid row is missing, so the
// stored auction never advances without its bid being consumed.
func (s *Store) CommitBid(ctx context.Context, record auction.Auction, bidID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("commit bid: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := upsertAuction(ctx, tx, record); err != nil {
		return fmt.Errorf("commit bid: %w", err)
	}
	result, err := tx.ExecContext(
		ctx,
		`DELETE FROM pending_bids WHERE auction_id = ? AND bid_id = ?`,
		record.ID, bidID,
	)
	if err != nil {
		return fmt.Errorf("commit bid: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("commit bid: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit bid: %w", err)
	}
	return nil
}

// PutContract upserts a futures contract.
func (s *Store) PutContract(ctx context.Context, record futures.Contract) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if record.Expiry == nil {
		return fmt.Errorf("contract expiration is required")
	}
	heldID, heldPresent := heldColumns(record.Held)
	executed := 0
	if record.Executed {
		executed = 1
	}
	_, err := s.sqlDB.ExecContext(
		ctx,
		`INSERT INTO contracts (id, seller, buyer, price, quantity, held_asset_id, held_present, executed, expiration, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   held_asset_id = excluded.held_asset_id,
		   held_present = excluded.held_present,
		   executed = excluded.executed,
		   status = excluded.status,
		   updated_at = excluded.updated_at`,
		record.ID,
		record.Creator,
		record.Counterparty,
		int64(record.Price),
		int64(record.Quantity),
		heldID,
		heldPresent,
		executed,
		toMillis(*record.Expiry),
		int(record.Status),
		toMillis(record.CreatedAt),
		toMillis(record.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("put contract: %w", err)
	}
	return nil
}

// GetContract returns a futures contract by id.
func (s *Store) GetContract(ctx context.Context, contractID string) (futures.Contract, error) {
	if err := ctx.Err(); err != nil {
		return futures.Contract{}, err
	}
	row := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT id, seller, buyer, price, quantity, held_asset_id, held_present, executed, expiration, status, created_at, updated_at
		 FROM contracts WHERE id = ?`,
		contractID,
	)
	var (
		record      futures.Contract
		price       int64
		quantity    int64
		heldID      string
		heldPresent int
		executed    int
		expiration  int64
		status      int
		createdAt   int64
		updatedAt   int64
	)
	err := row.Scan(&record.ID, &record.Creator, &record.Counterparty, &price, &quantity,
		&heldID, &heldPresent, &executed, &expiration, &status, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return futures.Contract{}, storage.ErrNotFound
	}
	if err != nil {
		return futures.Contract{}, fmt.Errorf("get contract: %w", err)
	}
	record.Price = uint64(price)
	record.Quantity = uint64(quantity)
	record.Held = heldFromColumns(heldID, heldPresent)
	record.Executed = executed != 0
	expiry := fromMillis(expiration)
	record.Expiry = &expiry
	record.Status = custody.Status(status)
	record.CreatedAt = fromMillis(createdAt)
	record.UpdatedAt = fromMillis(updatedAt)
	return record, nil
}

// OverdueRecord describes a stored-open record whose deadline has passed.
// The report is read-only; expiry stays lazy and nothing is written back.
type OverdueRecord struct {
	Kind     string
	ID       string
	Creator  string
	Deadline time.Time
}

// OverdueOpenRecords lists stored-open swap and contract records whose
// deadline is at or before now. Auctions carry no deadline and never appear.
func (s *Store) OverdueOpenRecords(ctx context.Context, now time.Time) ([]OverdueRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cutoff := toMillis(now)
	var overdue []OverdueRecord

	rows, err := s.sqlDB.QueryContext(
		ctx,
		`SELECT id, creator, expiry FROM swaps WHERE status = ? AND expiry IS NOT NULL AND expiry <= ? ORDER BY expiry, id`,
		int(custody.StatusOpen), cutoff,
	)
	if err != nil {
		return nil, fmt.Errorf("list overdue swaps: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var record OverdueRecord
		var deadline int64
		if err := rows.Scan(&record.ID, &record.Creator, &deadline); err != nil {
			return nil, fmt.Errorf("scan overdue swap: %w", err)
		}
		record.Kind = "swap"
		record.Deadline = fromMillis(deadline)
		overdue = append(overdue, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list overdue swaps: %w", err)
	}

	contractRows, err := s.sqlDB.QueryContext(
		ctx,
		`SELECT id, seller, expiration FROM contracts WHERE status = ? AND executed = 0 AND expiration <= ? ORDER BY expiration, id`,
		int(custody.StatusOpen), cutoff,
	)
	if err != nil {
		return nil, fmt.Errorf("list overdue contracts: %w", err)
	}
	defer contractRows.Close()
	for contractRows.Next() {
		var record OverdueRecord
		var deadline int64
		if err := contractRows.Scan(&record.ID, &record.Creator, &deadline); err != nil {
			return nil, fmt.Errorf("scan overdue contract: %w", err)
		}
		record.Kind = "futures"
		record.Deadline = fromMillis(deadline)
		overdue = append(overdue, record)
	}
	if err := contractRows.Err(); err != nil {
		return nil, fmt.Errorf("list overdue contracts: %w", err)
	}
	return overdue, nil
}
