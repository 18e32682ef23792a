// Package sqlite provides a SQLite-backed ownership-checked ledger. Each
// Apply batch commits inside one transaction: either every move lands or the
// transaction rolls back.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	apperrors "github.com/openclearing/settlement/internal/platform/errors"
	sqlitemigrate "github.com/openclearing/settlement/internal/platform/storage/sqlitemigrate"
	"github.com/openclearing/settlement/internal/services/settlement/gateway"
	"github.com/openclearing/settlement/internal/services/settlement/gateway/sqlite/migrations"
	_ "modernc.org/sqlite"
)

// Ledger persists asset ownership and fungible balances in SQLite.
type Ledger struct {
	sqlDB *sql.DB
}

// Open opens a SQLite ledger and applies embedded migrations.
func Open(path string) (*Ledger, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("ledger path is required")
	}
	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite ledger: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite ledger: %w", err)
	}
	if err := sqlitemigrate.ApplyMigrations(sqlDB, migrations.FS, ""); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Ledger{sqlDB: sqlDB}, nil
}

// Close closes the SQLite handle.
func (l *Ledger) Close() error {
	if l == nil || l.sqlDB == nil {
		return nil
	}
	return l.sqlDB.Close()
}

// Register records an asset handle as owned by the given address.
func (l *Ledger) Register(ctx context.Context, assetID, owner string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := l.sqlDB.ExecContext(
		ctx,
		`INSERT INTO holdings (asset_id, owner) VALUES (?, ?)
		 ON CONFLICT(asset_id) DO UPDATE SET owner = excluded.owner`,
		assetID, owner,
	)
	if err != nil {
		return fmt.Errorf("register asset: %w", err)
	}
	return nil
}

// Credit adds fungible units to an address balance.
func (l *Ledger) Credit(ctx context.Context, address string, amount uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := l.sqlDB.ExecContext(
		ctx,
		`INSERT INTO balances (address, balance) VALUES (?, ?)
		 ON CONFLICT(address) DO UPDATE SET balance = balance + excluded.balance`,
		address, int64(amount),
	)
	if err != nil {
		return fmt.Errorf("credit balance: %w", err)
	}
	return nil
}

// Owner returns the current owner of an asset handle.
func (l *Ledger) Owner(ctx context.Context, assetID string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	var owner string
	err := l.sqlDB.QueryRowContext(ctx, `SELECT owner FROM holdings WHERE asset_id = ?`, assetID).Scan(&owner)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("query owner: %w", err)
	}
	return owner, true, nil
}

// Balance returns the fungible balance of an address.
func (l *Ledger) Balance(ctx context.Context, address string) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	var balance int64
	err := l.sqlDB.QueryRowContext(ctx, `SELECT balance FROM balances WHERE address = ?`, address).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("query balance: %w", err)
	}
	return uint64(balance), nil
}

// Apply validates and commits the batch inside one transaction. Validation
// runs against a staged view so a later move may spend value an earlier move
// in the same batch delivered.
func (l *Ledger) Apply(ctx context.Context, moves []gateway.Move) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tx, err := l.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin ledger tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stagedOwners := make(map[string]string, len(moves))
	stagedBalances := make(map[string]uint64, len(moves)*2)

	ownerOf := func(assetID string) (string, bool, error) {
		if owner, ok := stagedOwners[assetID]; ok {
			return owner, true, nil
		}
		var owner string
		err := tx.QueryRowContext(ctx, `SELECT owner FROM holdings WHERE asset_id = ?`, assetID).Scan(&owner)
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		if err != nil {
			return "", false, fmt.Errorf("query owner: %w", err)
		}
		return owner, true, nil
	}
	balanceOf := func(address string) (uint64, error) {
		if balance, ok := stagedBalances[address]; ok {
			return balance, nil
		}
		var balance int64
		err := tx.QueryRowContext(ctx, `SELECT balance FROM balances WHERE address = ?`, address).Scan(&balance)
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		if err != nil {
			return 0, fmt.Errorf("query balance: %w", err)
		}
		return uint64(balance), nil
	}

	for _, move := range moves {
		switch {
		case move.AssetID != "":
			owner, ok, err := ownerOf(move.AssetID)
			if err != nil {
				return err
			}
			if !ok || owner != move.From {
				return apperrors.WithMetadata(apperrors.CodeLedgerOwnership,
					"sender does not own the asset",
					map[string]string{"asset": move.AssetID, "from": move.From})
			}
			stagedOwners[move.AssetID] = move.To
		case move.Amount > 0:
			available, err := balanceOf(move.From)
			if err != nil {
				return err
			}
			if available < move.Amount {
				return apperrors.WithMetadata(apperrors.CodeLedgerInsufficientFunds,
					"sender balance is insufficient",
					map[string]string{"from": move.From, "amount": fmt.Sprintf("%d", move.Amount)})
			}
			stagedBalances[move.From] = available - move.Amount
			to, err := balanceOf(move.To)
			if err != nil {
				return err
			}
			stagedBalances[move.To] = to + move.Amount
		default:
			return apperrors.New(apperrors.CodeAssetInvalid, "move must name an asset or a positive amount")
		}
	}

	for assetID, owner := range stagedOwners {
		if _, err := tx.ExecContext(
			ctx,
			`INSERT INTO holdings (asset_id, owner) VALUES (?, ?)
			 ON CONFLICT(asset_id) DO UPDATE SET owner = excluded.owner`,
			assetID, owner,
		); err != nil {
			return fmt.Errorf("write holding: %w", err)
		}
	}
	for address, balance := range stagedBalances {
		if _, err := tx.ExecContext(
			ctx,
			`INSERT INTO balances (address, balance) VALUES (?, ?)
			 ON CONFLICT(address) DO UPDATE SET balance = excluded.balance`,
			address, int64(balance),
		); err != nil {
			return fmt.Errorf("write balance: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit ledger tx: %w", err)
	}
	return nil
}
