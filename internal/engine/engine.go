// Package engine runs each registry operation as one atomic unit of work.
//
// An operation loads the records it needs from storage, applies the domain
// rules from the registry, reputation, settings, pricing and payments
// packages, and writes the results back. A rejected check, an arithmetic
// fault or a failed transfer discards every write. Events are published only
// after commit.
package engine

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/mbd888/agentregistry/internal/address"
	"github.com/mbd888/agentregistry/internal/logging"
	"github.com/mbd888/agentregistry/internal/metrics"
	"github.com/mbd888/agentregistry/internal/realtime"
	"github.com/mbd888/agentregistry/internal/state"
	"github.com/mbd888/agentregistry/internal/traces"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Publisher receives committed events.
type Publisher interface {
	Publish(eventType realtime.EventType, data map[string]any)
}

type nopPublisher struct{}

func (nopPublisher) Publish(realtime.EventType, map[string]any) {}

// Engine executes registry operations against a Store.
type Engine struct {
	store     state.Store
	events    Publisher
	transfers TransferFactory
	treasury  common.Address
}

// Option configures an Engine.
type Option func(*Engine)

// WithPublisher sets where committed events are sent.
func WithPublisher(p Publisher) Option {
	return func(e *Engine) { e.events = p }
}

// WithTransfers replaces the ledger-backed transfer primitive.
func WithTransfers(f TransferFactory) Option {
	return func(e *Engine) { e.transfers = f }
}

// WithTreasury overrides the derived treasury address.
func WithTreasury(addr common.Address) Option {
	return func(e *Engine) { e.treasury = addr }
}

// New creates an engine over store.
func New(store state.Store, opts ...Option) *Engine {
	e := &Engine{
		store:     store,
		events:    nopPublisher{},
		transfers: LedgerTransfers,
		treasury:  address.Treasury(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// TreasuryAddress returns the account that receives payments.
func (e *Engine) TreasuryAddress() common.Address {
	return e.treasury
}

// begin opens a span and timer for op. The returned finish records the
// outcome, logs it and passes err through unchanged.
func (e *Engine) begin(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, func(error) error) {
	done := metrics.ObserveOperation(op)
	ctx, span := traces.StartSpan(ctx, "engine."+op, append([]attribute.KeyValue{traces.Operation(op)}, attrs...)...)

	return ctx, func(err error) error {
		defer span.End()

		if err == nil {
			done("ok")
			span.SetStatus(codes.Ok, "")
			return nil
		}

		class := Classify(err)
		done(class.Code)
		span.SetAttributes(traces.Result(class.Code))
		span.RecordError(err)

		logger := logging.L(ctx)
		if IsRejection(err) {
			logger.Warn("operation rejected", "operation", op, "code", class.Code, "error", err)
		} else {
			span.SetStatus(codes.Error, err.Error())
			logger.Error("operation failed", "operation", op, "code", class.Code, "error", err)
		}
		return err
	}
}

func (e *Engine) publish(t realtime.EventType, data map[string]any) {
	e.events.Publish(t, data)
}
