// Package memory provides an in-memory settlement store for tests and
// scenario runs.
package memory

import (
	"context"
	"sync"

	"github.com/openclearing/settlement/internal/services/settlement/domain/auction"
	"github.com/openclearing/settlement/internal/services/settlement/domain/futures"
	"github.com/openclearing/settlement/internal/services/settlement/domain/swap"
	"github.com/openclearing/settlement/internal/services/settlement/storage"
)

type bidKey struct {
	auctionID string
	bidID     string
}

// Store keeps settlement records in process memory.
type Store struct {
	mu        sync.RWMutex
	swaps     map[string]swap.Swap
	auctions  map[string]auction.Auction
	bids      map[bidKey]auction.Bid
	contracts map[string]futures.Contract
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		swaps:     make(map[string]swap.Swap),
		auctions:  make(map[string]auction.Auction),
		bids:      make(map[bidKey]auction.Bid),
		contracts: make(map[string]futures.Contract),
	}
}

// PutSwap stores a swap record by id.
func (s *Store) PutSwap(ctx context.Context, record swap.Swap) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.swaps[record.ID] = record
	return nil
}

// GetSwap returns a swap record by id.
func (s *Store) GetSwap(ctx context.Context, recordID string) (swap.Swap, error) {
	if err := ctx.Err(); err != nil {
		return swap.Swap{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.swaps[recordID]
	if !ok {
		return swap.Swap{}, storage.ErrNotFound
	}
	return record, nil
}

// PutAuction stores an auction by id.
func (s *Store) PutAuction(ctx context.Context, record auction.Auction) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.auctions[record.ID] = copyAuction(record)
	return nil
}

// GetAuction returns an auction by id.
func (s *Store) GetAuction(ctx context.Context, auctionID string) (auction.Auction, error) {
	if err := ctx.Err(); err != nil {
		return auction.Auction{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.auctions[auctionID]
	if !ok {
		return auction.Auction{}, storage.ErrNotFound
	}
	return copyAuction(record), nil
}

// PutPendingBid stores a bid message awaiting application.
func (s *Store) PutPendingBid(ctx context.Context, bid auction.Bid) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bids[bidKey{auctionID: bid.AuctionID, bidID: bid.ID}] = bid
	return nil
}

// GetPendingBid returns a pending bid message.
func (s *Store) GetPendingBid(ctx context.Context, auctionID, bidID string) (auction.Bid, error) {
	if err := ctx.Err(); err != nil {
		return auction.Bid{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	bid, ok := s.bids[bidKey{auctionID: auctionID, bidID: bidID}]
	if !ok {
		return auction.Bid{}, storage.ErrNotFound
	}
	return bid, nil
}

// DeletePendingBid consumes a pending bid message.
func (s *Store) DeletePendingBid(ctx context.Context, auctionID, bidID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := bidKey{auctionID: auctionID, bidID: bidID}
	if _, ok := s.bids[key]; !ok {
		return storage.ErrNotFound
	}
	delete(s.bids, key)
	return nil
}

// CommitBid persists the auction and consumes the pending bid under one lock
// acquisition, so no partial outcome is observable.
func (s *Store) CommitBid(ctx context.Context, record auction.Auction, bidID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := bidKey{auctionID: record.ID, bidID: bidID}
	if _, ok := s.bids[key]; !ok {
		return storage.ErrNotFound
	}
	s.auctions[record.ID] = copyAuction(record)
	delete(s.bids, key)
	return nil
}

// PutContract stores a futures contract by id.
func (s *Store) PutContract(ctx context.Context, record futures.Contract) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contracts[record.ID] = record
	return nil
}

// GetContract returns a futures contract by id.
func (s *Store) GetContract(ctx context.Context, contractID string) (futures.Contract, error) {
	if err := ctx.Err(); err != nil {
		return futures.Contract{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.contracts[contractID]
	if !ok {
		return futures.Contract{}, storage.ErrNotFound
	}
	return record, nil
}

// copyAuction detaches the highest-bid pointer so callers cannot mutate
// stored state in place.
func copyAuction(record auction.Auction) auction.Auction {
	if record.CurrentHighest != nil {
		highest := *record.CurrentHighest
		record.CurrentHighest = &highest
	}
	return record
}
