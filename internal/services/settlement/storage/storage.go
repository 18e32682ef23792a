// Package storage defines persistence contracts for settlement state.
//
// Records are addressable by id and mutated only through the engine's
// operations; no listing primitive is part of the core contract.
package storage

import (
	"context"
	"errors"

	"github.com/openclearing/settlement/internal/services/settlement/domain/auction"
	"github.com/openclearing/settlement/internal/services/settlement/domain/futures"
	"github.com/openclearing/settlement/internal/services/settlement/domain/swap"
)

// ErrNotFound indicates a requested record or bid is missing.
var ErrNotFound = errors.New("record not found")

// SwapStore persists atomic swap records.
type SwapStore interface {
	PutSwap(ctx context.Context, record swap.Swap) error
	GetSwap(ctx context.Context, recordID string) (swap.Swap, error)
}

// AuctionStore persists auctions and the pending bid messages addressed to
// their auctioneers.
type AuctionStore interface {
	PutAuction(ctx context.Context, record auction.Auction) error
	GetAuction(ctx context.Context, auctionID string) (auction.Auction, error)
	PutPendingBid(ctx context.Context, bid auction.Bid) error
	GetPendingBid(ctx context.Context, auctionID, bidID string) (auction.Bid, error)
	DeletePendingBid(ctx context.Context, auctionID, bidID string) error
	// CommitBid persists the auction and consumes the pending bid as one
	// atomic write. Either both happen or neither does; a missing bid
	// returns ErrNotFound with the auction unchanged.
	CommitBid(ctx context.Context, record auction.Auction, bidID string) error
}

// ContractStore persists futures contracts.
type ContractStore interface {
	PutContract(ctx context.Context, record futures.Contract) error
	GetContract(ctx context.Context, contractID string) (futures.Contract, error)
}

// Store is the full persistence surface used by the engine.
type Store interface {
	SwapStore
	AuctionStore
	ContractStore
}
