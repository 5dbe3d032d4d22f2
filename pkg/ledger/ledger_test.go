package ledger_test

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/canopy-network/twabx/pkg/ledger"
	"github.com/canopy-network/twabx/pkg/twab"
)

type capturingPublisher struct {
	mu     sync.Mutex
	events []ledger.Event
}

func (p *capturingPublisher) Publish(_ context.Context, channel string, message interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if channel != ledger.ObservationChannel {
		return
	}
	var event ledger.Event
	if err := json.Unmarshal([]byte(message.(string)), &event); err == nil {
		p.events = append(p.events, event)
	}
}

func TestLedgerCreatesAccountsImplicitly(t *testing.T) {
	l := ledger.New(zaptest.NewLogger(t), ledger.Config{})
	ctx := context.Background()

	require.Equal(t, 0, l.Size())

	details, obs, isNew, err := l.IncreaseBalance(ctx, "alice", uint256.NewInt(100), 1000)
	require.NoError(t, err)
	assert.True(t, isNew)
	assert.Equal(t, uint32(1000), obs.Timestamp)
	assert.Equal(t, uint256.NewInt(100), &details.Balance)
	assert.Equal(t, 1, l.Size())

	// Decreasing an account that was never funded fails without creating it.
	_, _, _, err = l.DecreaseBalance(ctx, "bob", uint256.NewInt(1), "debit", 1000)
	require.ErrorIs(t, err, ledger.ErrUnknownAccount)
	assert.Equal(t, 1, l.Size())
}

func TestLedgerQueries(t *testing.T) {
	l := ledger.New(zaptest.NewLogger(t), ledger.Config{})
	ctx := context.Background()

	_, _, _, err := l.IncreaseBalance(ctx, "alice", uint256.NewInt(1000), 1000)
	require.NoError(t, err)
	_, _, _, err = l.DecreaseBalance(ctx, "alice", uint256.NewInt(500), "transfer", 2000)
	require.NoError(t, err)

	balance, err := l.GetBalanceAt("alice", 1500, 3000)
	require.NoError(t, err)
	assert.Equal(t, uint256.NewInt(1000), balance)

	avg, err := l.GetAverageBalanceBetween("alice", 1000, 2000, 3000)
	require.NoError(t, err)
	assert.Equal(t, uint256.NewInt(1000), avg)

	_, oldest, err := l.OldestObservation("alice")
	require.NoError(t, err)
	assert.Equal(t, uint32(1000), oldest.Timestamp)

	_, newest, err := l.NewestObservation("alice")
	require.NoError(t, err)
	assert.Equal(t, uint32(2000), newest.Timestamp)

	_, err = l.GetBalanceAt("nobody", 1500, 3000)
	require.ErrorIs(t, err, ledger.ErrUnknownAccount)
}

func TestLedgerPublishesAndQueuesEvents(t *testing.T) {
	pub := &capturingPublisher{}
	l := ledger.New(zaptest.NewLogger(t), ledger.Config{Events: pub})
	ctx := context.Background()

	_, _, _, err := l.IncreaseBalance(ctx, "alice", uint256.NewInt(100), 1000)
	require.NoError(t, err)
	_, _, _, err = l.IncreaseBalance(ctx, "alice", uint256.NewInt(50), 1000)
	require.NoError(t, err)

	require.Len(t, pub.events, 2)
	assert.True(t, pub.events[0].NewRecord)
	assert.False(t, pub.events[1].NewRecord, "same-instant mutation coalesces")
	assert.Equal(t, "150", pub.events[1].Balance)

	pending := l.DrainPending()
	require.Len(t, pending, 2)
	assert.Empty(t, l.DrainPending(), "drain clears the queue")
}

func TestLedgerErrorsPassThrough(t *testing.T) {
	l := ledger.New(zaptest.NewLogger(t), ledger.Config{})
	ctx := context.Background()

	_, _, _, err := l.IncreaseBalance(ctx, "alice", uint256.NewInt(100), 1000)
	require.NoError(t, err)

	_, _, _, err = l.DecreaseBalance(ctx, "alice", uint256.NewInt(500), "debit exceeds balance", 2000)
	require.ErrorIs(t, err, twab.ErrInsufficientBalance)

	_, _, _, err = l.IncreaseBalance(ctx, "alice", uint256.NewInt(1), 900)
	require.ErrorIs(t, err, twab.ErrNonMonotonicTime)
}

func TestApplyBatch(t *testing.T) {
	l := ledger.New(zaptest.NewLogger(t), ledger.Config{BatchWorkers: 4})
	ctx := context.Background()

	var deltas []ledger.Delta
	for i := 0; i < 8; i++ {
		address := fmt.Sprintf("account-%d", i)
		deltas = append(deltas,
			ledger.Delta{Address: address, Amount: uint256.NewInt(1000), Time: 100},
			ledger.Delta{Address: address, Amount: uint256.NewInt(400), Decrease: true, Reason: "spend", Time: 200},
		)
	}

	results := l.ApplyBatch(ctx, deltas)
	require.Len(t, results, len(deltas))
	for i, res := range results {
		require.NoError(t, res.Err, "delta %d", i)
	}
	assert.Equal(t, 8, l.Size())

	for i := 0; i < 8; i++ {
		address := fmt.Sprintf("account-%d", i)
		balance, err := l.GetBalanceAt(address, 200, 300)
		require.NoError(t, err)
		assert.Equal(t, uint256.NewInt(600), balance)
	}
}

func TestApplyBatchReportsPerDeltaErrors(t *testing.T) {
	l := ledger.New(zaptest.NewLogger(t), ledger.Config{BatchWorkers: 2})
	ctx := context.Background()

	deltas := []ledger.Delta{
		{Address: "alice", Amount: uint256.NewInt(100), Time: 100},
		{Address: "alice", Amount: uint256.NewInt(500), Decrease: true, Reason: "overdraft", Time: 200},
		{Address: "alice", Amount: uint256.NewInt(50), Time: 300},
	}

	results := l.ApplyBatch(ctx, deltas)
	require.Len(t, results, 3)
	assert.NoError(t, results[0].Err)
	assert.ErrorIs(t, results[1].Err, twab.ErrInsufficientBalance)
	assert.NoError(t, results[2].Err)

	balance, err := l.GetBalanceAt("alice", 300, 400)
	require.NoError(t, err)
	assert.Equal(t, uint256.NewInt(150), balance)
}
