package engine

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/openclearing/settlement/internal/services/settlement/domain/futures"
	"github.com/openclearing/settlement/internal/services/settlement/storage"
)

// CreateContract escrows seller collateral under a new futures contract.
func (e *Engine) CreateContract(ctx context.Context, in futures.CreateInput) (record futures.Contract, err error) {
	ctx, span := e.tracer.Start(ctx, "engine.create_contract")
	defer func() { recordSpan(span, err) }()

	contractID, err := e.newID()
	if err != nil {
		return futures.Contract{}, err
	}
	span.SetAttributes(attribute.String("settlement.record_id", contractID))

	record, deposit, err := futures.Create(contractID, in, e.now())
	if err != nil {
		return futures.Contract{}, err
	}
	if err = e.commit(ctx, deposit, func(ctx context.Context) error {
		return e.store.PutContract(ctx, record)
	}); err != nil {
		return futures.Contract{}, err
	}
	return record, nil
}

// GetContract returns a futures contract by id.
func (e *Engine) GetContract(ctx context.Context, contractID string) (futures.Contract, error) {
	record, err := e.store.GetContract(ctx, contractID)
	if errors.Is(err, storage.ErrNotFound) {
		return futures.Contract{}, notFound(err, "futures contract not found")
	}
	if err != nil {
		return futures.Contract{}, err
	}
	return record, nil
}

// SettleContract releases the collateral to the buyer against an exact
// payment to the seller, both in one atomic batch.
func (e *Engine) SettleContract(ctx context.Context, contractID string, payment uint64, caller string) (record futures.Contract, err error) {
	ctx, span := e.tracer.Start(ctx, "engine.settle_contract",
		trace.WithAttributes(attribute.String("settlement.record_id", contractID)))
	defer func() { recordSpan(span, err) }()

	unlock := e.locks.lock(contractID)
	defer unlock()

	record, err = e.GetContract(ctx, contractID)
	if err != nil {
		return futures.Contract{}, err
	}
	record, moves, err := futures.Settle(record, payment, caller, e.now())
	if err != nil {
		return futures.Contract{}, err
	}
	if err = e.commit(ctx, moves, func(ctx context.Context) error {
		return e.store.PutContract(ctx, record)
	}); err != nil {
		return futures.Contract{}, err
	}
	return record, nil
}

// CancelOrExpireContract unwinds an unexecuted contract back to the seller.
func (e *Engine) CancelOrExpireContract(ctx context.Context, contractID, caller string) (record futures.Contract, err error) {
	ctx, span := e.tracer.Start(ctx, "engine.cancel_contract",
		trace.WithAttributes(attribute.String("settlement.record_id", contractID)))
	defer func() { recordSpan(span, err) }()

	unlock := e.locks.lock(contractID)
	defer unlock()

	record, err = e.GetContract(ctx, contractID)
	if err != nil {
		return futures.Contract{}, err
	}
	record, moves, err := futures.CancelOrExpire(record, caller, e.now())
	if err != nil {
		return futures.Contract{}, err
	}
	if err = e.commit(ctx, moves, func(ctx context.Context) error {
		return e.store.PutContract(ctx, record)
	}); err != nil {
		return futures.Contract{}, err
	}
	return record, nil
}
