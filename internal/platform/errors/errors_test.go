package errors

import (
	"errors"
	"fmt"
	"testing"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestErrorIsMatchesByCode(t *testing.T) {
	base := New(CodeRecordExpired, "record deadline has passed")
	wrapped := fmt.Errorf("exchange: %w", Wrap(CodeRecordExpired, "too late", errors.New("boom")))

	if !errors.Is(wrapped, base) {
		t.Fatal("expected wrapped error to match sentinel by code")
	}
	if errors.Is(wrapped, New(CodeRecordAlreadyResolved, "resolved")) {
		t.Fatal("expected different codes not to match")
	}
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("driver failure")
	err := Wrap(CodeLedgerOwnership, "move rejected", cause)
	if !errors.Is(err, cause) {
		t.Fatal("expected cause to be reachable via Unwrap")
	}
}

func TestGRPCCodeMapping(t *testing.T) {
	tests := []struct {
		code Code
		want codes.Code
	}{
		{CodeAssetInvalid, codes.InvalidArgument},
		{CodeBidAuctionMismatch, codes.InvalidArgument},
		{CodeRecordAlreadyResolved, codes.FailedPrecondition},
		{CodeRecordExpired, codes.FailedPrecondition},
		{CodeBidAmountNotHigher, codes.FailedPrecondition},
		{CodePaymentMismatch, codes.FailedPrecondition},
		{CodeInvalidCaller, codes.PermissionDenied},
		{CodeGrantMismatch, codes.PermissionDenied},
		{CodeRecordNotFound, codes.NotFound},
		{CodeBidNotFound, codes.NotFound},
		{CodeRecordInvalid, codes.Internal},
		{CodeUnknown, codes.Internal},
	}
	for _, tc := range tests {
		if got := tc.code.GRPCCode(); got != tc.want {
			t.Errorf("%s: got %v, want %v", tc.code, got, tc.want)
		}
	}
}

func TestToGRPCStatusCarriesReason(t *testing.T) {
	err := WithMetadata(CodeSwapWrongAsset, "presented asset does not match", map[string]string{
		"required":  "asset-7",
		"presented": "asset-9",
	}).ToGRPCStatus()

	st, ok := status.FromError(err)
	if !ok {
		t.Fatal("expected a grpc status error")
	}
	if st.Code() != codes.FailedPrecondition {
		t.Fatalf("status code = %v, want FailedPrecondition", st.Code())
	}
	if len(st.Details()) == 0 {
		t.Fatal("expected errdetails to be attached")
	}
}
