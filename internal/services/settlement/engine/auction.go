package engine

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	apperrors "github.com/openclearing/settlement/internal/platform/errors"
	"github.com/openclearing/settlement/internal/services/settlement/domain/asset"
	"github.com/openclearing/settlement/internal/services/settlement/domain/auction"
	"github.com/openclearing/settlement/internal/services/settlement/domain/grant"
	"github.com/openclearing/settlement/internal/services/settlement/storage"
)

// CreateAuction escrows an item under a new auction with the given
// auctioneer.
func (e *Engine) CreateAuction(ctx context.Context, item asset.Asset, owner, auctioneer string) (record auction.Auction, err error) {
	ctx, span := e.tracer.Start(ctx, "engine.create_auction")
	defer func() { recordSpan(span, err) }()

	auctionID, err := e.newID()
	if err != nil {
		return auction.Auction{}, err
	}
	span.SetAttributes(attribute.String("settlement.record_id", auctionID))

	record, deposit, err := auction.Create(auctionID, item, owner, auctioneer, e.now())
	if err != nil {
		return auction.Auction{}, err
	}
	if err = e.commit(ctx, deposit, func(ctx context.Context) error {
		return e.store.PutAuction(ctx, record)
	}); err != nil {
		return auction.Auction{}, err
	}
	return record, nil
}

// GetAuction returns an auction by id.
func (e *Engine) GetAuction(ctx context.Context, auctionID string) (auction.Auction, error) {
	record, err := e.store.GetAuction(ctx, auctionID)
	if errors.Is(err, storage.ErrNotFound) {
		return auction.Auction{}, notFound(err, "auction not found")
	}
	if err != nil {
		return auction.Auction{}, err
	}
	return record, nil
}

// SubmitBid escrows the bid amount and stores the bid message for the
// auctioneer. Submission never compares amounts; only ApplyBid does.
func (e *Engine) SubmitBid(ctx context.Context, auctionID, bidder string, amount uint64) (bid auction.Bid, err error) {
	ctx, span := e.tracer.Start(ctx, "engine.submit_bid",
		trace.WithAttributes(attribute.String("settlement.record_id", auctionID)))
	defer func() { recordSpan(span, err) }()

	unlock := e.locks.lock(auctionID)
	defer unlock()

	record, err := e.GetAuction(ctx, auctionID)
	if err != nil {
		return auction.Bid{}, err
	}
	bidID, err := e.newID()
	if err != nil {
		return auction.Bid{}, err
	}
	bid, escrow, err := auction.NewBid(record, bidID, bidder, amount)
	if err != nil {
		return auction.Bid{}, err
	}
	if err = e.commit(ctx, escrow, func(ctx context.Context) error {
		return e.store.PutPendingBid(ctx, bid)
	}); err != nil {
		return auction.Bid{}, err
	}
	return bid, nil
}

// ApplyBid lets the auctioneer apply a submitted bid against the auction.
// The bid message is consumed either way: an accepted bid updates the
// standing highest, a rejected or late bid is refunded and its typed
// outcome returned after the refund has committed.
func (e *Engine) ApplyBid(ctx context.Context, auctionID, bidID, caller string) (result auction.ApplyResult, err error) {
	ctx, span := e.tracer.Start(ctx, "engine.apply_bid",
		trace.WithAttributes(
			attribute.String("settlement.record_id", auctionID),
			attribute.String("settlement.bid_id", bidID),
		))
	defer func() { recordSpan(span, err) }()

	unlock := e.locks.lock(auctionID)
	defer unlock()

	record, err := e.GetAuction(ctx, auctionID)
	if err != nil {
		return auction.ApplyResult{}, err
	}
	bid, err := e.store.GetPendingBid(ctx, auctionID, bidID)
	if errors.Is(err, storage.ErrNotFound) {
		return auction.ApplyResult{}, apperrors.Wrap(apperrors.CodeBidNotFound, "pending bid not found", err)
	}
	if err != nil {
		return auction.ApplyResult{}, err
	}

	result, err = auction.Apply(record, bid, caller)
	if err != nil {
		return auction.ApplyResult{}, err
	}
	// The auction write and the bid consumption are one store transaction:
	// a retry after failure re-reads the bid as still pending and the moves
	// as not yet applied, so no refund can be paid twice.
	if err = e.commit(ctx, result.Moves, func(ctx context.Context) error {
		return e.store.CommitBid(ctx, result.Auction, bidID)
	}); err != nil {
		return auction.ApplyResult{}, err
	}
	span.SetAttributes(attribute.Bool("settlement.bid_accepted", result.Accepted))
	if result.Reject != nil {
		// Funds are already refunded and the message consumed; the typed
		// outcome travels as the error.
		return result, result.Reject
	}
	return result, nil
}

// EndAuction closes the auction and settles the item and winning funds.
func (e *Engine) EndAuction(ctx context.Context, auctionID, caller string) (record auction.Auction, err error) {
	ctx, span := e.tracer.Start(ctx, "engine.end_auction",
		trace.WithAttributes(attribute.String("settlement.record_id", auctionID)))
	defer func() { recordSpan(span, err) }()

	unlock := e.locks.lock(auctionID)
	defer unlock()

	record, err = e.GetAuction(ctx, auctionID)
	if err != nil {
		return auction.Auction{}, err
	}
	record, moves, err := auction.End(record, caller, e.now())
	if err != nil {
		return auction.Auction{}, err
	}
	if err = e.commit(ctx, moves, func(ctx context.Context) error {
		return e.store.PutAuction(ctx, record)
	}); err != nil {
		return auction.Auction{}, err
	}
	return record, nil
}

// verifyGrant checks an operator grant against the auction and caller.
func (e *Engine) verifyGrant(token, auctionID, caller string) error {
	if e.grants == nil {
		return apperrors.New(apperrors.CodeGrantInvalid, "operator grants are not enabled")
	}
	_, err := grant.Verify(token, grant.Expectation{AuctionID: auctionID, Operator: caller}, *e.grants)
	return err
}

// ApplyBidSigned is ApplyBid gated on a valid operator grant for this
// auction and caller.
func (e *Engine) ApplyBidSigned(ctx context.Context, auctionID, bidID, caller, token string) (auction.ApplyResult, error) {
	if err := e.verifyGrant(token, auctionID, caller); err != nil {
		return auction.ApplyResult{}, err
	}
	return e.ApplyBid(ctx, auctionID, bidID, caller)
}

// EndAuctionSigned is EndAuction gated on a valid operator grant for this
// auction and caller.
func (e *Engine) EndAuctionSigned(ctx context.Context, auctionID, caller, token string) (auction.Auction, error) {
	if err := e.verifyGrant(token, auctionID, caller); err != nil {
		return auction.Auction{}, err
	}
	return e.EndAuction(ctx, auctionID, caller)
}
