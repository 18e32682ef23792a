// Package futures implements the time-bounded settlement policy: seller
// collateral is released to the buyer against an exact counter-payment
// before expiration, or unwound back to the seller.
package futures

import (
	"fmt"
	"math/bits"
	"time"

	apperrors "github.com/openclearing/settlement/internal/platform/errors"
	"github.com/openclearing/settlement/internal/services/settlement/domain/asset"
	"github.com/openclearing/settlement/internal/services/settlement/domain/custody"
	"github.com/openclearing/settlement/internal/services/settlement/gateway"
)

var (
	// ErrPaymentMismatch indicates a payment that does not equal price × quantity.
	ErrPaymentMismatch = apperrors.New(apperrors.CodePaymentMismatch, "payment does not equal the settlement amount")
	// ErrTermsInvalid indicates unusable contract terms.
	ErrTermsInvalid = apperrors.New(apperrors.CodeTermsInvalid, "contract terms are invalid")
)

// Contract is a custody record holding seller collateral under agreed terms.
// Creator is the seller, Counterparty the buyer.
type Contract struct {
	custody.Record
	Price    uint64
	Quantity uint64
	Executed bool
}

// Seller returns the address that deposited the collateral.
func (c Contract) Seller() string {
	return c.Creator
}

// Buyer returns the address entitled to the collateral on settlement.
func (c Contract) Buyer() string {
	return c.Counterparty
}

// SettlementAmount returns price × quantity.
func (c Contract) SettlementAmount() uint64 {
	return c.Price * c.Quantity
}

// CreateInput describes a new futures contract.
type CreateInput struct {
	Buyer      string
	Seller     string
	Collateral asset.Asset
	Price      uint64
	Quantity   uint64
	Expiration time.Time
}

// Create validates the terms, deposits the collateral, and opens the
// contract. Terms whose product overflows are rejected up front so the
// settlement amount stays representable.
func Create(contractID string, in CreateInput, now time.Time) (Contract, []gateway.Move, error) {
	if in.Price == 0 || in.Quantity == 0 {
		return Contract{}, nil, ErrTermsInvalid
	}
	if hi, _ := bits.Mul64(in.Price, in.Quantity); hi != 0 {
		return Contract{}, nil, apperrors.WithMetadata(apperrors.CodeTermsInvalid,
			"settlement amount overflows",
			map[string]string{"price": fmt.Sprintf("%d", in.Price), "quantity": fmt.Sprintf("%d", in.Quantity)})
	}
	expiration := in.Expiration
	record, err := custody.NewRecord(contractID, in.Seller, in.Buyer, in.Collateral, &expiration, now)
	if err != nil {
		return Contract{}, nil, err
	}
	created := Contract{
		Record:   record,
		Price:    in.Price,
		Quantity: in.Quantity,
	}
	deposit := []gateway.Move{
		{AssetID: in.Collateral.ID, From: record.Creator, To: custody.EscrowAddress(contractID)},
	}
	return created, deposit, nil
}

// Settle releases the collateral to the buyer against an exact payment to
// the seller, both as one atomic unit. Valid only before expiration and only
// once.
func Settle(c Contract, payment uint64, caller string, now time.Time) (Contract, []gateway.Move, error) {
	if c.Executed || c.Status.Terminal() {
		return Contract{}, nil, custody.ErrAlreadyResolved
	}
	if caller == "" || caller != c.Buyer() {
		return Contract{}, nil, custody.ErrInvalidCaller
	}
	if c.Expired(now) {
		return Contract{}, nil, custody.ErrExpired
	}
	if settlement := c.SettlementAmount(); payment != settlement {
		return Contract{}, nil, apperrors.WithMetadata(apperrors.CodePaymentMismatch,
			"payment does not equal the settlement amount",
			map[string]string{
				"payment":    fmt.Sprintf("%d", payment),
				"settlement": fmt.Sprintf("%d", settlement),
			})
	}

	collateral, ok := c.Held.Take()
	if !ok {
		return Contract{}, nil, custody.ErrAlreadyResolved
	}
	c.Executed = true
	c.Status = custody.StatusResolved
	c.UpdatedAt = now.UTC()

	moves := []gateway.Move{
		{AssetID: collateral.ID, From: custody.EscrowAddress(c.ID), To: c.Buyer()},
		{Amount: payment, From: c.Buyer(), To: c.Seller()},
	}
	return c, moves, nil
}

// CancelOrExpire unwinds an unexecuted contract: anyone may unwind once the
// expiration has passed, the seller may unwind early. The collateral returns
// to the seller.
func CancelOrExpire(c Contract, caller string, now time.Time) (Contract, []gateway.Move, error) {
	if c.Executed || c.Status.Terminal() {
		return Contract{}, nil, custody.ErrAlreadyResolved
	}
	if !c.Expired(now) && (caller == "" || caller != c.Seller()) {
		return Contract{}, nil, custody.ErrInvalidCaller
	}

	collateral, ok := c.Held.Take()
	if !ok {
		return Contract{}, nil, custody.ErrAlreadyResolved
	}
	c.Status = custody.StatusCancelled
	c.UpdatedAt = now.UTC()

	moves := []gateway.Move{
		{AssetID: collateral.ID, From: custody.EscrowAddress(c.ID), To: c.Seller()},
	}
	return c, moves, nil
}
