// Package swap implements the atomic two-party exchange policy: the held
// asset is released only against presentation of the required counter-asset.
package swap

import (
	"strings"
	"time"

	apperrors "github.com/openclearing/settlement/internal/platform/errors"
	"github.com/openclearing/settlement/internal/services/settlement/domain/asset"
	"github.com/openclearing/settlement/internal/services/settlement/domain/custody"
	"github.com/openclearing/settlement/internal/services/settlement/gateway"
)

var (
	// ErrWrongRecipient indicates the caller is not the designated recipient.
	ErrWrongRecipient = apperrors.New(apperrors.CodeInvalidCaller, "caller is not the designated recipient")
	// ErrWrongAsset indicates the presented asset does not match the required one.
	ErrWrongAsset = apperrors.New(apperrors.CodeSwapWrongAsset, "presented asset does not match the required asset")
)

// Swap is a custody record released in exchange for a specific counter-asset.
// Counterparty is the only address allowed to trigger the exchange.
type Swap struct {
	custody.Record
	RequiredAssetID string
}

// CreateInput describes a new swap deposit.
type CreateInput struct {
	Creator         string
	Recipient       string
	RequiredAssetID string
	Deposit         asset.Asset
	Expiry          time.Time
}

// Create validates the deposit and returns the open swap together with the
// escrow move funding it.
func Create(recordID string, in CreateInput, now time.Time) (Swap, []gateway.Move, error) {
	if strings.TrimSpace(in.RequiredAssetID) == "" {
		return Swap{}, nil, apperrors.New(apperrors.CodeAssetInvalid, "required asset id is required")
	}
	expiry := in.Expiry
	record, err := custody.NewRecord(recordID, in.Creator, in.Recipient, in.Deposit, &expiry, now)
	if err != nil {
		return Swap{}, nil, err
	}
	created := Swap{
		Record:          record,
		RequiredAssetID: strings.TrimSpace(in.RequiredAssetID),
	}
	deposit := []gateway.Move{
		{AssetID: in.Deposit.ID, From: record.Creator, To: custody.EscrowAddress(recordID)},
	}
	return created, deposit, nil
}

// Exchange releases the held asset to the recipient against the presented
// counter-asset. Checks run in a fixed order: resolution, recipient, asset,
// expiry; the first failing check wins.
func Exchange(s Swap, presented asset.Asset, caller string, now time.Time) (Swap, []gateway.Move, error) {
	if s.Status.Terminal() {
		return Swap{}, nil, custody.ErrAlreadyResolved
	}
	if caller == "" || caller != s.Counterparty {
		return Swap{}, nil, ErrWrongRecipient
	}
	if presented.IsZero() || presented.ID != s.RequiredAssetID {
		return Swap{}, nil, apperrors.WithMetadata(apperrors.CodeSwapWrongAsset,
			"presented asset does not match the required asset",
			map[string]string{"required": s.RequiredAssetID, "presented": presented.ID})
	}
	if s.Expired(now) {
		return Swap{}, nil, custody.ErrExpired
	}

	held, ok := s.Held.Take()
	if !ok {
		return Swap{}, nil, custody.ErrAlreadyResolved
	}
	s.Status = custody.StatusResolved
	s.UpdatedAt = now.UTC()

	moves := []gateway.Move{
		{AssetID: held.ID, From: custody.EscrowAddress(s.ID), To: caller},
		{AssetID: presented.ID, From: caller, To: s.Creator},
	}
	return s, moves, nil
}

// Cancel returns the deposit to the creator. Expiry never blocks
// cancellation: the creator may always reclaim an unresolved deposit.
func Cancel(s Swap, caller string, now time.Time) (Swap, []gateway.Move, error) {
	if s.Status.Terminal() {
		return Swap{}, nil, custody.ErrAlreadyResolved
	}
	if caller == "" || caller != s.Creator {
		return Swap{}, nil, custody.ErrInvalidCaller
	}

	held, ok := s.Held.Take()
	if !ok {
		return Swap{}, nil, custody.ErrAlreadyResolved
	}
	s.Status = custody.StatusCancelled
	s.UpdatedAt = now.UTC()

	moves := []gateway.Move{
		{AssetID: held.ID, From: custody.EscrowAddress(s.ID), To: s.Creator},
	}
	return s, moves, nil
}
