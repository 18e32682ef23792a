// Package gateway moves asset ownership and fungible balances between
// parties. A batch of moves commits as a single atomic unit: either every
// move applies or none do.
package gateway

import (
	"context"

	apperrors "github.com/openclearing/settlement/internal/platform/errors"
)

var (
	// ErrOwnership indicates the sender does not hold the asset being moved.
	ErrOwnership = apperrors.New(apperrors.CodeLedgerOwnership, "sender does not own the asset")
	// ErrInsufficientFunds indicates the sender's balance cannot cover the move.
	ErrInsufficientFunds = apperrors.New(apperrors.CodeLedgerInsufficientFunds, "sender balance is insufficient")
)

// Move transfers either one unique asset handle or an amount of fungible
// units from one address to another. AssetID and Amount are mutually
// exclusive.
type Move struct {
	AssetID string
	Amount  uint64
	From    string
	To      string
}

// Gateway applies ownership-checked transfers. Apply is atomic: a failed
// move aborts the whole batch with no partial transfer.
type Gateway interface {
	Apply(ctx context.Context, moves []Move) error
}
