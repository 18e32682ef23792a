package gateway

import (
	"context"
	"fmt"
	"sync"

	apperrors "github.com/openclearing/settlement/internal/platform/errors"
)

// Ledger is an in-memory ownership-checked ledger. It tracks which address
// owns each unique asset handle and a fungible balance per address.
type Ledger struct {
	mu       sync.Mutex
	owners   map[string]string
	balances map[string]uint64
}

// NewLedger creates an empty in-memory ledger.
func NewLedger() *Ledger {
	return &Ledger{
		owners:   make(map[string]string),
		balances: make(map[string]uint64),
	}
}

// Register records an asset handle as owned by the given address.
func (l *Ledger) Register(assetID, owner string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.owners[assetID] = owner
}

// Credit adds fungible units to an address balance.
func (l *Ledger) Credit(address string, amount uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[address] += amount
}

// Owner returns the current owner of an asset handle.
func (l *Ledger) Owner(assetID string) (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	owner, ok := l.owners[assetID]
	return owner, ok
}

// Balance returns the fungible balance of an address.
func (l *Ledger) Balance(address string) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[address]
}

// Apply validates and commits the batch under one lock. Validation runs
// against a staged view so a later move may spend value an earlier move in
// the same batch delivered.
func (l *Ledger) Apply(ctx context.Context, moves []Move) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	stagedOwners := make(map[string]string, len(moves))
	stagedBalances := make(map[string]uint64, len(moves)*2)

	ownerOf := func(assetID string) (string, bool) {
		if owner, ok := stagedOwners[assetID]; ok {
			return owner, true
		}
		owner, ok := l.owners[assetID]
		return owner, ok
	}
	balanceOf := func(address string) uint64 {
		if balance, ok := stagedBalances[address]; ok {
			return balance
		}
		return l.balances[address]
	}

	for _, move := range moves {
		switch {
		case move.AssetID != "":
			owner, ok := ownerOf(move.AssetID)
			if !ok || owner != move.From {
				return apperrors.WithMetadata(apperrors.CodeLedgerOwnership,
					"sender does not own the asset",
					map[string]string{"asset": move.AssetID, "from": move.From})
			}
			stagedOwners[move.AssetID] = move.To
		case move.Amount > 0:
			available := balanceOf(move.From)
			if available < move.Amount {
				return apperrors.WithMetadata(apperrors.CodeLedgerInsufficientFunds,
					"sender balance is insufficient",
					map[string]string{"from": move.From, "amount": fmt.Sprintf("%d", move.Amount)})
			}
			stagedBalances[move.From] = available - move.Amount
			stagedBalances[move.To] = balanceOf(move.To) + move.Amount
		default:
			return apperrors.New(apperrors.CodeAssetInvalid, "move must name an asset or a positive amount")
		}
	}

	for assetID, owner := range stagedOwners {
		l.owners[assetID] = owner
	}
	for address, balance := range stagedBalances {
		l.balances[address] = balance
	}
	return nil
}
