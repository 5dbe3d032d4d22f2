package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/alitto/pond/v2"
	"github.com/holiman/uint256"
	"github.com/puzpuzpuz/xsync/v4"
	"go.uber.org/zap"

	"github.com/canopy-network/twabx/pkg/twab"
)

// ObservationChannel is the Pub/Sub channel mutation events are published on.
const ObservationChannel = "twabx:observation.recorded"

// ErrUnknownAccount is returned by queries against an address that has never
// had a balance change.
var ErrUnknownAccount = errors.New("unknown account")

// Publisher publishes best-effort real-time events. Satisfied by the Redis
// client; nil disables publication.
type Publisher interface {
	Publish(ctx context.Context, channel string, message interface{})
}

// Event describes one applied mutation. Events double as the archive queue
// entries, so amounts travel as decimal strings ready for insertion.
type Event struct {
	Address     string `json:"address"`
	Timestamp   uint32 `json:"timestamp"`
	Amount      string `json:"amount"`  // accumulator value of the observation
	Balance     string `json:"balance"` // live balance after the mutation
	NewRecord   bool   `json:"newRecord"`
	Cardinality uint32 `json:"cardinality"`
}

// Config carries the ledger's tunables.
type Config struct {
	// RetentionPeriod is the per-account history window in seconds. Zero means
	// twab.DefaultRetentionPeriod.
	RetentionPeriod uint32
	// Events receives observation.recorded notifications when non-nil.
	Events Publisher
	// BatchWorkers sizes the worker pool used by ApplyBatch. Zero picks a
	// CPU-based default.
	BatchWorkers int
}

// Ledger maps account addresses to their observation histories. Accounts are
// created implicitly on the first balance change. Every account carries its
// own lock: mutations for one account are serialized while distinct accounts
// proceed independently, and queries take the same lock so they always see a
// completed mutation.
type Ledger struct {
	logger    *zap.Logger
	retention uint32
	events    Publisher

	accounts *xsync.Map[string, *entry]

	pendingMu sync.Mutex
	pending   []Event

	poolOnce sync.Once
	pool     pond.Pool
	workers  int
}

type entry struct {
	mu      sync.Mutex
	account *twab.Account
}

// New returns an empty ledger.
func New(logger *zap.Logger, cfg Config) *Ledger {
	return &Ledger{
		logger:    logger,
		retention: cfg.RetentionPeriod,
		events:    cfg.Events,
		accounts:  xsync.NewMap[string, *entry](),
		workers:   cfg.BatchWorkers,
	}
}

// load returns the entry for address, creating it when create is set.
func (l *Ledger) load(address string, create bool) (*entry, bool) {
	if e, ok := l.accounts.Load(address); ok {
		return e, true
	}
	if !create {
		return nil, false
	}
	e, _ := l.accounts.LoadOrStore(address, &entry{account: twab.NewAccount(l.retention)})
	return e, true
}

// IncreaseBalance credits amount to address at the supplied 32-bit current
// time, creating the account on first use.
func (l *Ledger) IncreaseBalance(ctx context.Context, address string, amount *uint256.Int, now uint32) (twab.AccountDetails, twab.Observation, bool, error) {
	e, _ := l.load(address, true)

	e.mu.Lock()
	details, obs, isNew, err := e.account.IncreaseBalance(amount, now)
	e.mu.Unlock()
	if err != nil {
		return twab.AccountDetails{}, twab.Observation{}, false, err
	}

	l.recorded(ctx, address, details, obs, isNew)
	return details, obs, isNew, nil
}

// DecreaseBalance debits amount from address at the supplied 32-bit current
// time. reason is carried on the insufficient-balance error.
func (l *Ledger) DecreaseBalance(ctx context.Context, address string, amount *uint256.Int, reason string, now uint32) (twab.AccountDetails, twab.Observation, bool, error) {
	e, ok := l.load(address, false)
	if !ok {
		return twab.AccountDetails{}, twab.Observation{}, false, ErrUnknownAccount
	}

	e.mu.Lock()
	details, obs, isNew, err := e.account.DecreaseBalance(amount, reason, now)
	e.mu.Unlock()
	if err != nil {
		return twab.AccountDetails{}, twab.Observation{}, false, err
	}

	l.recorded(ctx, address, details, obs, isNew)
	return details, obs, isNew, nil
}

// GetBalanceAt answers address's balance as of target, relative to now.
func (l *Ledger) GetBalanceAt(address string, target, now uint32) (*uint256.Int, error) {
	e, ok := l.load(address, false)
	if !ok {
		return nil, ErrUnknownAccount
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.account.GetBalanceAt(target, now)
}

// GetAverageBalanceBetween answers address's time-weighted average balance
// over [start, end], relative to now.
func (l *Ledger) GetAverageBalanceBetween(address string, start, end, now uint32) (*uint256.Int, error) {
	e, ok := l.load(address, false)
	if !ok {
		return nil, ErrUnknownAccount
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.account.GetAverageBalanceBetween(start, end, now)
}

// OldestObservation returns address's oldest stored observation and its slot.
func (l *Ledger) OldestObservation(address string) (uint32, twab.Observation, error) {
	e, ok := l.load(address, false)
	if !ok {
		return 0, twab.Observation{}, ErrUnknownAccount
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	index, obs := e.account.OldestObservation()
	return index, obs, nil
}

// NewestObservation returns address's newest stored observation and its slot.
func (l *Ledger) NewestObservation(address string) (uint32, twab.Observation, error) {
	e, ok := l.load(address, false)
	if !ok {
		return 0, twab.Observation{}, ErrUnknownAccount
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	index, obs := e.account.NewestObservation()
	return index, obs, nil
}

// Details returns address's current account details.
func (l *Ledger) Details(address string) (twab.AccountDetails, error) {
	e, ok := l.load(address, false)
	if !ok {
		return twab.AccountDetails{}, ErrUnknownAccount
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.account.Details, nil
}

// Size returns the number of accounts the ledger holds.
func (l *Ledger) Size() int {
	return l.accounts.Size()
}

// recorded queues the mutation for archival and publishes it to subscribers.
func (l *Ledger) recorded(ctx context.Context, address string, details twab.AccountDetails, obs twab.Observation, isNew bool) {
	event := Event{
		Address:     address,
		Timestamp:   obs.Timestamp,
		Amount:      obs.Amount.Dec(),
		Balance:     details.Balance.Dec(),
		NewRecord:   isNew,
		Cardinality: details.Cardinality,
	}

	l.pendingMu.Lock()
	l.pending = append(l.pending, event)
	l.pendingMu.Unlock()

	if l.events != nil {
		payload, err := json.Marshal(event)
		if err != nil {
			l.logger.Warn("failed to encode observation event", zap.String("address", address), zap.Error(err))
			return
		}
		l.events.Publish(ctx, ObservationChannel, string(payload))
	}
}

// DrainPending returns the mutations applied since the previous drain and
// clears the queue. The archive flusher is the only caller.
func (l *Ledger) DrainPending() []Event {
	l.pendingMu.Lock()
	defer l.pendingMu.Unlock()

	pending := l.pending
	l.pending = nil
	return pending
}
