package twab

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ringAccount builds an account whose ring holds the given timestamps in
// logical chronological order, rotated so the oldest entry sits at startSlot.
func ringAccount(t *testing.T, timestamps []uint32, cardinality, startSlot uint32) *Account {
	t.Helper()
	require.LessOrEqual(t, uint32(len(timestamps)), cardinality)

	account := NewAccount(0)
	for i, ts := range timestamps {
		slot := wrapIndex(startSlot+uint32(i), cardinality)
		account.setObservation(slot, Observation{
			Amount:    *uint256.NewInt(uint64(ts) * 10),
			Timestamp: ts,
		})
	}
	account.Details.Cardinality = cardinality
	account.Details.NextIndex = wrapIndex(startSlot+uint32(len(timestamps)), cardinality)
	return account
}

func TestBinarySearchFullRing(t *testing.T) {
	timestamps := []uint32{100, 200, 300, 400, 500}
	account := ringAccount(t, timestamps, 5, 0)
	now := uint32(1000)

	newestIndex, _ := account.NewestObservation()
	oldestIndex, _ := account.OldestObservation()

	for _, tc := range []struct {
		target         uint32
		before, after  uint32
	}{
		{150, 100, 200},
		{200, 100, 200},
		{250, 200, 300},
		{450, 400, 500},
		{100, 100, 200},
	} {
		beforeOrAt, atOrAfter := account.binarySearch(newestIndex, oldestIndex, tc.target, account.Details.Cardinality, now)
		assert.Equal(t, tc.before, beforeOrAt.Timestamp, "target %d", tc.target)
		assert.Equal(t, tc.after, atOrAfter.Timestamp, "target %d", tc.target)
	}
}

func TestBinarySearchRotatedRing(t *testing.T) {
	// Oldest entry sits in the middle of the physical array: the logical
	// range unwraps past the end of the ring.
	timestamps := []uint32{100, 200, 300, 400, 500}
	account := ringAccount(t, timestamps, 5, 3)
	now := uint32(1000)

	newestIndex, newest := account.NewestObservation()
	oldestIndex, oldest := account.OldestObservation()
	require.Equal(t, uint32(500), newest.Timestamp)
	require.Equal(t, uint32(100), oldest.Timestamp)
	require.Less(t, newestIndex, oldestIndex)

	beforeOrAt, atOrAfter := account.binarySearch(newestIndex, oldestIndex, 350, account.Details.Cardinality, now)
	assert.Equal(t, uint32(300), beforeOrAt.Timestamp)
	assert.Equal(t, uint32(400), atOrAfter.Timestamp)
}

func TestBinarySearchSkipsUnwrittenSlots(t *testing.T) {
	// Written entries sit at the top of a partially filled ring, so probes of
	// the low slots read the zero sentinel and must narrow the search upward.
	timestamps := []uint32{100, 200, 300}
	account := ringAccount(t, timestamps, 6, 3)
	now := uint32(1000)

	newestIndex, _ := account.NewestObservation()
	oldestIndex, _ := account.OldestObservation()
	require.Equal(t, uint32(0), oldestIndex)

	beforeOrAt, atOrAfter := account.binarySearch(newestIndex, oldestIndex, 250, account.Details.Cardinality, now)
	assert.Equal(t, uint32(200), beforeOrAt.Timestamp)
	assert.Equal(t, uint32(300), atOrAfter.Timestamp)
}

func TestBinarySearchAcrossTimestampWrap(t *testing.T) {
	preWrap := uint32(1<<32 - 1000)
	timestamps := []uint32{preWrap, preWrap + 500, 400, 900}
	account := ringAccount(t, timestamps, 4, 0)

	// now is shortly after the wrap; the two small timestamps are post-wrap
	// and chronologically newest.
	now := uint32(2000)

	newestIndex, newest := account.NewestObservation()
	oldestIndex, oldest := account.OldestObservation()
	require.Equal(t, uint32(900), newest.Timestamp)
	require.Equal(t, preWrap, oldest.Timestamp)

	// Target between the pre-wrap pair.
	beforeOrAt, atOrAfter := account.binarySearch(newestIndex, oldestIndex, preWrap+100, account.Details.Cardinality, now)
	assert.Equal(t, preWrap, beforeOrAt.Timestamp)
	assert.Equal(t, preWrap+500, atOrAfter.Timestamp)

	// Target straddling the wrap boundary.
	beforeOrAt, atOrAfter = account.binarySearch(newestIndex, oldestIndex, 100, account.Details.Cardinality, now)
	assert.Equal(t, preWrap+500, beforeOrAt.Timestamp)
	assert.Equal(t, uint32(400), atOrAfter.Timestamp)
}
