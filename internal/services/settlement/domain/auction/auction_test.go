package auction

import (
	"errors"
	"testing"
	"time"

	"github.com/openclearing/settlement/internal/services/settlement/domain/asset"
	"github.com/openclearing/settlement/internal/services/settlement/domain/custody"
)

var baseTime = time.Date(2026, time.March, 2, 0, 0, 0, 0, time.UTC)

func openAuction(t *testing.T) Auction {
	t.Helper()
	a, moves, err := Create("auc-1", asset.Asset{ID: "widget"}, "owner", "auctioneer", baseTime)
	if err != nil {
		t.Fatalf("create auction: %v", err)
	}
	if len(moves) != 1 || moves[0].To != custody.EscrowAddress("auc-1") {
		t.Fatalf("expected item escrow move, got %+v", moves)
	}
	return a
}

func mustApply(t *testing.T, a Auction, bid Bid) ApplyResult {
	t.Helper()
	result, err := Apply(a, bid, "auctioneer")
	if err != nil {
		t.Fatalf("apply bid %s: %v", bid.ID, err)
	}
	return result
}

func TestCreateRequiresAuctioneer(t *testing.T) {
	_, _, err := Create("auc-1", asset.Asset{ID: "widget"}, "owner", "  ", baseTime)
	if !errors.Is(err, custody.ErrInvalidCaller) {
		t.Fatalf("err = %v, want ErrInvalidCaller", err)
	}
}

func TestNewBidEscrowsFunds(t *testing.T) {
	a := openAuction(t)
	bid, moves, err := NewBid(a, "bid-1", "xavier", 10)
	if err != nil {
		t.Fatalf("new bid: %v", err)
	}
	if bid.AuctionID != "auc-1" {
		t.Fatalf("bid auction = %q", bid.AuctionID)
	}
	if len(moves) != 1 || moves[0].Amount != 10 || moves[0].From != "xavier" {
		t.Fatalf("escrow moves = %+v", moves)
	}
	if moves[0].To != BidEscrowAddress("auc-1", "bid-1") {
		t.Fatalf("escrow address = %q, want per-bid address", moves[0].To)
	}
}

func TestBidEscrowAddressesAreDistinctPerBid(t *testing.T) {
	first := BidEscrowAddress("auc-1", "bid-1")
	second := BidEscrowAddress("auc-1", "bid-2")
	if first == second {
		t.Fatalf("bids must escrow at distinct addresses, both %q", first)
	}
	if first == custody.EscrowAddress("auc-1") {
		t.Fatal("bid escrow must not share the record's item escrow address")
	}
}

func TestNewBidRejectsZeroAmount(t *testing.T) {
	a := openAuction(t)
	_, _, err := NewBid(a, "bid-1", "xavier", 0)
	if !errors.Is(err, ErrZeroBid) {
		t.Fatalf("err = %v, want ErrZeroBid", err)
	}
}

func TestApplyFirstBidAcceptedUnconditionally(t *testing.T) {
	a := openAuction(t)
	result := mustApply(t, a, Bid{ID: "bid-1", AuctionID: "auc-1", Bidder: "xavier", Amount: 10})
	if !result.Accepted {
		t.Fatal("first bid must be accepted")
	}
	if len(result.Moves) != 0 {
		t.Fatalf("first accepted bid needs no refund, got %+v", result.Moves)
	}
	if result.Auction.CurrentHighest == nil || result.Auction.CurrentHighest.Amount != 10 {
		t.Fatal("expected highest bid to be stored")
	}
}

func TestApplyLowerBidRefundedImmediately(t *testing.T) {
	a := openAuction(t)
	a = mustApply(t, a, Bid{ID: "bid-1", AuctionID: "auc-1", Bidder: "xavier", Amount: 10}).Auction

	result := mustApply(t, a, Bid{ID: "bid-2", AuctionID: "auc-1", Bidder: "yara", Amount: 8})
	if result.Accepted {
		t.Fatal("lower bid must be rejected")
	}
	if !errors.Is(result.Reject, ErrAmountNotHigher) {
		t.Fatalf("reject = %v, want ErrAmountNotHigher", result.Reject)
	}
	if len(result.Moves) != 1 || result.Moves[0].To != "yara" || result.Moves[0].Amount != 8 {
		t.Fatalf("expected refund of 8 to yara, got %+v", result.Moves)
	}
	if result.Moves[0].From != BidEscrowAddress("auc-1", "bid-2") {
		t.Fatalf("refund must drain the rejected bid's own escrow, got %+v", result.Moves[0])
	}
	if result.Auction.CurrentHighest.Amount != 10 || result.Auction.CurrentHighest.Bidder != "xavier" {
		t.Fatal("highest bid must be unchanged after rejection")
	}
}

func TestApplyEqualBidNeverReplaces(t *testing.T) {
	a := openAuction(t)
	a = mustApply(t, a, Bid{ID: "bid-1", AuctionID: "auc-1", Bidder: "xavier", Amount: 10}).Auction

	result := mustApply(t, a, Bid{ID: "bid-2", AuctionID: "auc-1", Bidder: "yara", Amount: 10})
	if result.Accepted {
		t.Fatal("equal bid must not replace the standing bid")
	}
	if !errors.Is(result.Reject, ErrAmountNotHigher) {
		t.Fatalf("reject = %v, want ErrAmountNotHigher", result.Reject)
	}
	if result.Auction.CurrentHighest.Bidder != "xavier" {
		t.Fatal("first bidder keeps the tie")
	}
}

func TestApplyHigherBidRefundsDisplacedInSameOperation(t *testing.T) {
	a := openAuction(t)
	a = mustApply(t, a, Bid{ID: "bid-1", AuctionID: "auc-1", Bidder: "xavier", Amount: 10}).Auction

	result := mustApply(t, a, Bid{ID: "bid-3", AuctionID: "auc-1", Bidder: "zoe", Amount: 15})
	if !result.Accepted {
		t.Fatal("strictly higher bid must be accepted")
	}
	if result.Displaced == nil || result.Displaced.Bidder != "xavier" {
		t.Fatal("expected xavier to be displaced")
	}
	if len(result.Moves) != 1 || result.Moves[0].To != "xavier" || result.Moves[0].Amount != 10 {
		t.Fatalf("expected refund of 10 to xavier, got %+v", result.Moves)
	}
	if result.Moves[0].From != BidEscrowAddress("auc-1", "bid-1") {
		t.Fatalf("refund must drain the displaced bid's own escrow, got %+v", result.Moves[0])
	}
	if result.Auction.CurrentHighest.Bidder != "zoe" || result.Auction.CurrentHighest.Amount != 15 {
		t.Fatal("expected zoe to hold the highest bid")
	}
}

func TestApplyMonotonicHighestAcrossSequence(t *testing.T) {
	a := openAuction(t)
	amounts := []uint64{10, 8, 15, 15, 12, 20}
	var last uint64
	for i, amount := range amounts {
		bid := Bid{ID: "bid", AuctionID: "auc-1", Bidder: "b", Amount: amount}
		result := mustApply(t, a, bid)
		a = result.Auction
		if a.CurrentHighest.Amount < last {
			t.Fatalf("highest decreased at step %d: %d < %d", i, a.CurrentHighest.Amount, last)
		}
		if result.Accepted && a.CurrentHighest.Amount <= last {
			t.Fatalf("accepted bid at step %d did not strictly increase", i)
		}
		last = a.CurrentHighest.Amount
	}
	if last != 20 {
		t.Fatalf("final highest = %d, want 20", last)
	}
}

func TestApplyRejectsWrongAuctioneer(t *testing.T) {
	a := openAuction(t)
	_, err := Apply(a, Bid{ID: "bid-1", AuctionID: "auc-1", Bidder: "x", Amount: 10}, "mallory")
	if !errors.Is(err, custody.ErrInvalidCaller) {
		t.Fatalf("err = %v, want ErrInvalidCaller", err)
	}
}

func TestApplyRejectsForeignBid(t *testing.T) {
	a := openAuction(t)
	_, err := Apply(a, Bid{ID: "bid-1", AuctionID: "auc-2", Bidder: "x", Amount: 10}, "auctioneer")
	if !errors.Is(err, ErrBidAuctionMismatch) {
		t.Fatalf("err = %v, want ErrBidAuctionMismatch", err)
	}
}

func TestApplyAfterEndRefundsLateBid(t *testing.T) {
	a := openAuction(t)
	ended, _, err := End(a, "auctioneer", baseTime.Add(time.Minute))
	if err != nil {
		t.Fatalf("end: %v", err)
	}

	result, err := Apply(ended, Bid{ID: "bid-9", AuctionID: "auc-1", Bidder: "late", Amount: 99}, "auctioneer")
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if !errors.Is(result.Reject, custody.ErrAlreadyResolved) {
		t.Fatalf("reject = %v, want ErrAlreadyResolved", result.Reject)
	}
	if len(result.Moves) != 1 || result.Moves[0].To != "late" || result.Moves[0].Amount != 99 {
		t.Fatalf("late bid must be refunded, got %+v", result.Moves)
	}
}

func TestEndWithoutBidsReturnsItemToOwner(t *testing.T) {
	a := openAuction(t)
	ended, moves, err := End(a, "auctioneer", baseTime.Add(time.Minute))
	if err != nil {
		t.Fatalf("end: %v", err)
	}
	if ended.Status != custody.StatusResolved {
		t.Fatalf("status = %v, want resolved", ended.Status)
	}
	if len(moves) != 1 || moves[0].AssetID != "widget" || moves[0].To != "owner" {
		t.Fatalf("moves = %+v, want widget back to owner", moves)
	}
}

func TestEndPaysWinnerAndOwner(t *testing.T) {
	a := openAuction(t)
	a = mustApply(t, a, Bid{ID: "bid-1", AuctionID: "auc-1", Bidder: "zoe", Amount: 15}).Auction

	ended, moves, err := End(a, "auctioneer", baseTime.Add(time.Minute))
	if err != nil {
		t.Fatalf("end: %v", err)
	}
	if ended.Held.Present() {
		t.Fatal("item must leave escrow on end")
	}
	if len(moves) != 2 {
		t.Fatalf("moves = %d, want 2", len(moves))
	}
	if moves[0].AssetID != "widget" || moves[0].To != "zoe" {
		t.Fatalf("item move = %+v, want widget to zoe", moves[0])
	}
	if moves[1].Amount != 15 || moves[1].To != "owner" {
		t.Fatalf("funds move = %+v, want 15 to owner", moves[1])
	}
	if moves[1].From != BidEscrowAddress("auc-1", "bid-1") {
		t.Fatalf("funds must come from the winning bid's escrow, got %+v", moves[1])
	}
}

func TestEndTwiceFails(t *testing.T) {
	a := openAuction(t)
	ended, _, err := End(a, "auctioneer", baseTime.Add(time.Minute))
	if err != nil {
		t.Fatalf("end: %v", err)
	}
	_, _, err = End(ended, "auctioneer", baseTime.Add(2*time.Minute))
	if !errors.Is(err, custody.ErrAlreadyResolved) {
		t.Fatalf("err = %v, want ErrAlreadyResolved", err)
	}
}

func TestEndRejectsNonAuctioneer(t *testing.T) {
	a := openAuction(t)
	_, _, err := End(a, "owner", baseTime.Add(time.Minute))
	if !errors.Is(err, custody.ErrInvalidCaller) {
		t.Fatalf("err = %v, want ErrInvalidCaller", err)
	}
}
