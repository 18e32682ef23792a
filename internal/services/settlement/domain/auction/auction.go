// Package auction implements the English-auction release policy. Bids are
// two-phase: a bidder escrows funds and addresses a bid message to the
// auctioneer, who alone applies bids against the auction and serializes
// comparisons.
package auction

import (
	"strings"
	"time"

	apperrors "github.com/openclearing/settlement/internal/platform/errors"
	"github.com/openclearing/settlement/internal/services/settlement/domain/asset"
	"github.com/openclearing/settlement/internal/services/settlement/domain/custody"
	"github.com/openclearing/settlement/internal/services/settlement/gateway"
)

var (
	// ErrBidAuctionMismatch indicates a bid addressed to a different auction.
	ErrBidAuctionMismatch = apperrors.New(apperrors.CodeBidAuctionMismatch, "bid does not belong to this auction")
	// ErrAmountNotHigher indicates a bid at or below the current highest. The
	// bid's funds are refunded in the same operation that reports this.
	ErrAmountNotHigher = apperrors.New(apperrors.CodeBidAmountNotHigher, "bid does not beat the current highest")
	// ErrZeroBid indicates a bid carrying no value.
	ErrZeroBid = apperrors.New(apperrors.CodeAssetInvalid, "bid amount must be positive")
)

// Bid is a message from a bidder to the auctioneer. Its amount is escrowed at
// submission and the message is consumed when applied.
type Bid struct {
	ID        string
	AuctionID string
	Bidder    string
	Amount    uint64
}

// BidEscrowAddress returns the ledger address holding one bid's escrowed
// funds. Each bid escrows at its own address, so a refund drains exactly that
// bid's funds and a repeated refund fails at the ledger instead of spending
// another bid's escrow.
func BidEscrowAddress(auctionID, bidID string) string {
	return custody.EscrowAddress(auctionID) + ":" + bidID
}

// Auction is a custody record whose counterparty role is the auctioneer.
// CurrentHighest is nil until the first bid is accepted; its amount never
// decreases and strictly increases on every replacement.
type Auction struct {
	custody.Record
	CurrentHighest *Bid
}

// Auctioneer returns the address authorized to apply bids and end the auction.
func (a Auction) Auctioneer() string {
	return a.Counterparty
}

// Owner returns the address that deposited the item.
func (a Auction) Owner() string {
	return a.Creator
}

// Create deposits the item and opens the auction. Auctions carry no deadline;
// EndAuction is the only terminal path.
func Create(auctionID string, item asset.Asset, owner, auctioneer string, now time.Time) (Auction, []gateway.Move, error) {
	if strings.TrimSpace(auctioneer) == "" {
		return Auction{}, nil, custody.ErrInvalidCaller
	}
	record, err := custody.NewRecord(auctionID, owner, auctioneer, item, nil, now)
	if err != nil {
		return Auction{}, nil, err
	}
	deposit := []gateway.Move{
		{AssetID: item.ID, From: record.Creator, To: custody.EscrowAddress(auctionID)},
	}
	return Auction{Record: record}, deposit, nil
}

// NewBid builds a bid message addressed to the auctioneer, together with the
// move that escrows its funds. The auction must still be open to bid.
func NewBid(a Auction, bidID, bidder string, amount uint64) (Bid, []gateway.Move, error) {
	if a.Status.Terminal() {
		return Bid{}, nil, custody.ErrAlreadyResolved
	}
	if amount == 0 {
		return Bid{}, nil, ErrZeroBid
	}
	if strings.TrimSpace(bidder) == "" {
		return Bid{}, nil, custody.ErrInvalidCaller
	}
	bid := Bid{
		ID:        bidID,
		AuctionID: a.ID,
		Bidder:    strings.TrimSpace(bidder),
		Amount:    amount,
	}
	escrow := []gateway.Move{
		{Amount: amount, From: bid.Bidder, To: BidEscrowAddress(a.ID, bidID)},
	}
	return bid, escrow, nil
}

// ApplyResult is the decision for one applied bid. When Accepted is false,
// Reject carries the typed outcome and Moves still refund the incoming bid:
// a rejected bid is refunded, not aborted.
type ApplyResult struct {
	Auction   Auction
	Moves     []gateway.Move
	Accepted  bool
	Displaced *Bid
	Reject    error
}

// Apply compares a submitted bid against the current highest. Only the
// auctioneer may apply bids. Equality never replaces: the first strictly
// higher bid wins, and the displaced bidder is refunded in the same
// operation.
func Apply(a Auction, bid Bid, caller string) (ApplyResult, error) {
	if caller == "" || caller != a.Auctioneer() {
		return ApplyResult{}, custody.ErrInvalidCaller
	}
	if bid.AuctionID != a.ID {
		return ApplyResult{}, apperrors.WithMetadata(apperrors.CodeBidAuctionMismatch,
			"bid does not belong to this auction",
			map[string]string{"auction": a.ID, "bid_auction": bid.AuctionID})
	}

	refundBid := []gateway.Move{
		{Amount: bid.Amount, From: BidEscrowAddress(a.ID, bid.ID), To: bid.Bidder},
	}

	// A bid arriving after the auction closed is refunded rather than left
	// stranded in escrow.
	if a.Status.Terminal() {
		return ApplyResult{Auction: a, Moves: refundBid, Reject: custody.ErrAlreadyResolved}, nil
	}

	if a.CurrentHighest == nil {
		accepted := bid
		a.CurrentHighest = &accepted
		return ApplyResult{Auction: a, Accepted: true}, nil
	}

	if bid.Amount > a.CurrentHighest.Amount {
		displaced := *a.CurrentHighest
		refundDisplaced := []gateway.Move{
			{Amount: displaced.Amount, From: BidEscrowAddress(a.ID, displaced.ID), To: displaced.Bidder},
		}
		accepted := bid
		a.CurrentHighest = &accepted
		return ApplyResult{
			Auction:   a,
			Moves:     refundDisplaced,
			Accepted:  true,
			Displaced: &displaced,
		}, nil
	}

	// Ties lose: equality never replaces the standing bid.
	return ApplyResult{Auction: a, Moves: refundBid, Reject: ErrAmountNotHigher}, nil
}

// End closes the auction. With no accepted bid the item returns to the owner;
// otherwise the item goes to the highest bidder and the escrowed winning
// funds go to the owner. The returned auction is terminal before any move
// applies, so no further bid application can observe it open.
func End(a Auction, caller string, now time.Time) (Auction, []gateway.Move, error) {
	if caller == "" || caller != a.Auctioneer() {
		return Auction{}, nil, custody.ErrInvalidCaller
	}
	if a.Status.Terminal() {
		return Auction{}, nil, custody.ErrAlreadyResolved
	}

	item, ok := a.Held.Take()
	if !ok {
		return Auction{}, nil, custody.ErrAlreadyResolved
	}
	a.Status = custody.StatusResolved
	a.UpdatedAt = now.UTC()

	escrow := custody.EscrowAddress(a.ID)
	if a.CurrentHighest == nil {
		return a, []gateway.Move{
			{AssetID: item.ID, From: escrow, To: a.Owner()},
		}, nil
	}
	return a, []gateway.Move{
		{AssetID: item.ID, From: escrow, To: a.CurrentHighest.Bidder},
		{Amount: a.CurrentHighest.Amount, From: BidEscrowAddress(a.ID, a.CurrentHighest.ID), To: a.Owner()},
	}, nil
}
