// Package errors provides structured error handling for settlement operations.
package errors

import "google.golang.org/grpc/codes"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Record lifecycle errors
	CodeRecordNotFound        Code = "RECORD_NOT_FOUND"
	CodeRecordAlreadyResolved Code = "RECORD_ALREADY_RESOLVED"
	CodeRecordExpired         Code = "RECORD_EXPIRED"
	CodeRecordInvalid         Code = "RECORD_INVALID"
	CodeInvalidCaller         Code = "INVALID_CALLER"

	// Deposit errors
	CodeAssetInvalid Code = "ASSET_INVALID"

	// Swap errors
	CodeSwapWrongAsset Code = "SWAP_WRONG_ASSET"

	// Auction errors
	CodeBidNotFound        Code = "BID_NOT_FOUND"
	CodeBidAuctionMismatch Code = "BID_AUCTION_MISMATCH"
	CodeBidAmountNotHigher Code = "BID_AMOUNT_NOT_HIGHER"

	// Futures errors
	CodeTermsInvalid    Code = "TERMS_INVALID"
	CodePaymentMismatch Code = "PAYMENT_MISMATCH"

	// Ledger errors
	CodeLedgerOwnership         Code = "LEDGER_OWNERSHIP"
	CodeLedgerInsufficientFunds Code = "LEDGER_INSUFFICIENT_FUNDS"

	// Operator grant errors
	CodeGrantInvalid  Code = "GRANT_INVALID"
	CodeGrantExpired  Code = "GRANT_EXPIRED"
	CodeGrantMismatch Code = "GRANT_MISMATCH"
)

// GRPCCode maps domain codes to gRPC status codes.
func (c Code) GRPCCode() codes.Code {
	switch c {
	// InvalidArgument - validation failures, bad input
	case CodeAssetInvalid,
		CodeBidAuctionMismatch,
		CodeTermsInvalid:
		return codes.InvalidArgument

	// FailedPrecondition - record state disallows the operation
	case CodeRecordAlreadyResolved,
		CodeRecordExpired,
		CodeSwapWrongAsset,
		CodeBidAmountNotHigher,
		CodePaymentMismatch,
		CodeLedgerOwnership,
		CodeLedgerInsufficientFunds,
		CodeGrantExpired:
		return codes.FailedPrecondition

	// PermissionDenied - caller is not the authorized party
	case CodeInvalidCaller,
		CodeGrantInvalid,
		CodeGrantMismatch:
		return codes.PermissionDenied

	// NotFound - record or bid doesn't exist
	case CodeRecordNotFound,
		CodeBidNotFound:
		return codes.NotFound

	// Internal - record ids are engine-generated, so a malformed one is a
	// fault in this process, not in the caller's input
	case CodeRecordInvalid:
		return codes.Internal

	default:
		return codes.Internal
	}
}
