package archive

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/canopy-network/twabx/pkg/ledger"
)

// maxCarry bounds how many events a failing archive may hold back before the
// oldest are dropped. The in-memory oracle stays authoritative either way.
const maxCarry = 100_000

// Inserter is the slice of the archive client the flusher needs.
type Inserter interface {
	InsertEvents(ctx context.Context, events []ledger.Event) error
}

// Flusher drains the ledger's pending mutations into ClickHouse on a
// schedule. Events that fail to insert are carried into the next run.
type Flusher struct {
	logger *zap.Logger
	ledger *ledger.Ledger
	client Inserter

	mu    sync.Mutex
	carry []ledger.Event
}

// NewFlusher returns a flusher moving events from l into client.
func NewFlusher(logger *zap.Logger, l *ledger.Ledger, client Inserter) *Flusher {
	return &Flusher{logger: logger, ledger: l, client: client}
}

// Flush drains and archives everything recorded since the previous run. Runs
// are serialized so retried events keep their order.
func (f *Flusher) Flush(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	events := append(f.carry, f.ledger.DrainPending()...)
	f.carry = nil

	if len(events) == 0 {
		return nil
	}

	if err := f.client.InsertEvents(ctx, events); err != nil {
		f.carry = events
		if excess := len(f.carry) - maxCarry; excess > 0 {
			f.carry = f.carry[excess:]
			f.logger.Error("archive backlog overflow, dropping oldest events", zap.Int("dropped", excess))
		}
		return err
	}

	f.logger.Debug("archived observations", zap.Int("events", len(events)))
	return nil
}
