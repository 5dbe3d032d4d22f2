package archive

import (
	"context"
	"errors"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/canopy-network/twabx/pkg/ledger"
)

type fakeInserter struct {
	fail     bool
	inserted [][]ledger.Event
}

func (f *fakeInserter) InsertEvents(_ context.Context, events []ledger.Event) error {
	if f.fail {
		return errors.New("connection refused")
	}
	f.inserted = append(f.inserted, events)
	return nil
}

func newFlusherFixture(t *testing.T) (*ledger.Ledger, *fakeInserter, *Flusher) {
	t.Helper()

	logger := zaptest.NewLogger(t)
	led := ledger.New(logger, ledger.Config{})
	sink := &fakeInserter{}
	return led, sink, NewFlusher(logger, led, sink)
}

func TestFlushDrainsPendingEvents(t *testing.T) {
	led, sink, flusher := newFlusherFixture(t)
	ctx := context.Background()

	_, _, _, err := led.IncreaseBalance(ctx, "0xaaa", uint256.NewInt(100), 10)
	require.NoError(t, err)
	_, _, _, err = led.IncreaseBalance(ctx, "0xbbb", uint256.NewInt(200), 20)
	require.NoError(t, err)

	require.NoError(t, flusher.Flush(ctx))
	require.Len(t, sink.inserted, 1)
	assert.Len(t, sink.inserted[0], 2)

	// Nothing new: no insert happens at all
	require.NoError(t, flusher.Flush(ctx))
	assert.Len(t, sink.inserted, 1)
}

func TestFlushCarriesFailedBatches(t *testing.T) {
	led, sink, flusher := newFlusherFixture(t)
	ctx := context.Background()

	_, _, _, err := led.IncreaseBalance(ctx, "0xaaa", uint256.NewInt(100), 10)
	require.NoError(t, err)

	sink.fail = true
	require.Error(t, flusher.Flush(ctx))
	assert.Empty(t, sink.inserted)

	// More events land while the archive is down
	_, _, _, err = led.IncreaseBalance(ctx, "0xaaa", uint256.NewInt(50), 20)
	require.NoError(t, err)

	// Recovery: the retried batch keeps the original order
	sink.fail = false
	require.NoError(t, flusher.Flush(ctx))
	require.Len(t, sink.inserted, 1)
	require.Len(t, sink.inserted[0], 2)
	assert.Equal(t, uint32(10), sink.inserted[0][0].Timestamp)
	assert.Equal(t, uint32(20), sink.inserted[0][1].Timestamp)
}
