package engine

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/openclearing/settlement/internal/services/settlement/domain/asset"
	"github.com/openclearing/settlement/internal/services/settlement/domain/swap"
	"github.com/openclearing/settlement/internal/services/settlement/storage"
)

// CreateSwap escrows a deposit under a new swap record.
func (e *Engine) CreateSwap(ctx context.Context, in swap.CreateInput) (record swap.Swap, err error) {
	ctx, span := e.tracer.Start(ctx, "engine.create_swap")
	defer func() { recordSpan(span, err) }()

	recordID, err := e.newID()
	if err != nil {
		return swap.Swap{}, err
	}
	span.SetAttributes(attribute.String("settlement.record_id", recordID))

	record, deposit, err := swap.Create(recordID, in, e.now())
	if err != nil {
		return swap.Swap{}, err
	}
	if err = e.commit(ctx, deposit, func(ctx context.Context) error {
		return e.store.PutSwap(ctx, record)
	}); err != nil {
		return swap.Swap{}, err
	}
	return record, nil
}

// GetSwap returns a swap record by id.
func (e *Engine) GetSwap(ctx context.Context, recordID string) (swap.Swap, error) {
	record, err := e.store.GetSwap(ctx, recordID)
	if errors.Is(err, storage.ErrNotFound) {
		return swap.Swap{}, notFound(err, "swap record not found")
	}
	if err != nil {
		return swap.Swap{}, err
	}
	return record, nil
}

// Exchange releases the held asset to the recipient against the presented
// counter-asset, atomically with the counter-transfer.
func (e *Engine) Exchange(ctx context.Context, recordID string, presented asset.Asset, caller string) (record swap.Swap, err error) {
	ctx, span := e.tracer.Start(ctx, "engine.exchange",
		trace.WithAttributes(attribute.String("settlement.record_id", recordID)))
	defer func() { recordSpan(span, err) }()

	unlock := e.locks.lock(recordID)
	defer unlock()

	record, err = e.GetSwap(ctx, recordID)
	if err != nil {
		return swap.Swap{}, err
	}
	record, moves, err := swap.Exchange(record, presented, caller, e.now())
	if err != nil {
		return swap.Swap{}, err
	}
	if err = e.commit(ctx, moves, func(ctx context.Context) error {
		return e.store.PutSwap(ctx, record)
	}); err != nil {
		return swap.Swap{}, err
	}
	return record, nil
}

// CancelSwap returns the deposit to the creator.
func (e *Engine) CancelSwap(ctx context.Context, recordID, caller string) (record swap.Swap, err error) {
	ctx, span := e.tracer.Start(ctx, "engine.cancel_swap",
		trace.WithAttributes(attribute.String("settlement.record_id", recordID)))
	defer func() { recordSpan(span, err) }()

	unlock := e.locks.lock(recordID)
	defer unlock()

	record, err = e.GetSwap(ctx, recordID)
	if err != nil {
		return swap.Swap{}, err
	}
	record, moves, err := swap.Cancel(record, caller, e.now())
	if err != nil {
		return swap.Swap{}, err
	}
	if err = e.commit(ctx, moves, func(ctx context.Context) error {
		return e.store.PutSwap(ctx, record)
	}); err != nil {
		return swap.Swap{}, err
	}
	return record, nil
}
