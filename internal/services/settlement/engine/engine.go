// Package engine orchestrates settlement operations: it serializes access
// per record, runs the pure release-policy decision, applies the resulting
// moves atomically through the gateway, and only then persists the record.
// A gateway failure aborts the operation with no stored mutation; a persist
// failure reverses the moves so ledger and store never disagree.
package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	apperrors "github.com/openclearing/settlement/internal/platform/errors"
	"github.com/openclearing/settlement/internal/platform/id"
	"github.com/openclearing/settlement/internal/services/settlement/domain/grant"
	"github.com/openclearing/settlement/internal/services/settlement/gateway"
	"github.com/openclearing/settlement/internal/services/settlement/storage"
)

// Engine coordinates custody records, the ledger gateway, and storage.
type Engine struct {
	store  storage.Store
	gw     gateway.Gateway
	now    func() time.Time
	newID  func() (string, error)
	grants *grant.Config
	tracer trace.Tracer
	locks  keyedMutex
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the engine clock.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithIDGenerator overrides record and bid id generation.
func WithIDGenerator(newID func() (string, error)) Option {
	return func(e *Engine) {
		if newID != nil {
			e.newID = newID
		}
	}
}

// WithGrantVerifier enables operator-grant verification for the signed
// auction operations.
func WithGrantVerifier(cfg grant.Config) Option {
	return func(e *Engine) {
		e.grants = &cfg
	}
}

// New creates an engine over the given store and gateway.
func New(store storage.Store, gw gateway.Gateway, opts ...Option) *Engine {
	e := &Engine{
		store:  store,
		gw:     gw,
		now:    time.Now,
		newID:  id.NewID,
		tracer: otel.Tracer("settlement/engine"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// commit applies moves through the gateway and then persists via persist.
// When persist fails, the moves are reversed so the ledger matches the stored
// record; the reversal runs even if ctx was cancelled mid-operation. If the
// reversal itself fails, both errors are returned joined.
func (e *Engine) commit(ctx context.Context, moves []gateway.Move, persist func(context.Context) error) error {
	if err := e.gw.Apply(ctx, moves); err != nil {
		return err
	}
	err := persist(ctx)
	if err == nil {
		return nil
	}
	if len(moves) > 0 {
		undoCtx := context.WithoutCancel(ctx)
		if undoErr := e.gw.Apply(undoCtx, reverseMoves(moves)); undoErr != nil {
			return errors.Join(err, undoErr)
		}
	}
	return err
}

// reverseMoves returns the compensating batch: each move flipped, in reverse
// order so intra-batch dependencies unwind cleanly.
func reverseMoves(moves []gateway.Move) []gateway.Move {
	reversed := make([]gateway.Move, 0, len(moves))
	for i := len(moves) - 1; i >= 0; i-- {
		move := moves[i]
		move.From, move.To = move.To, move.From
		reversed = append(reversed, move)
	}
	return reversed
}

// recordSpan finishes a span, recording err if non-nil.
func recordSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
	}
	span.End()
}

// notFound maps a storage miss to the typed record-not-found error.
func notFound(err error, message string) error {
	return apperrors.Wrap(apperrors.CodeRecordNotFound, message, err)
}

// keyedMutex serializes operations per record id. Mutexes are retained for
// the process lifetime; record cardinality bounds the map.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// lock acquires the mutex for key and returns its unlock function.
func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*sync.Mutex)
	}
	lock, ok := k.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		k.locks[key] = lock
	}
	k.mu.Unlock()
	lock.Lock()
	return lock.Unlock
}
