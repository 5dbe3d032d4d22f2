package twab

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimeComparisonsWithoutWrap(t *testing.T) {
	now := uint32(10_000)

	assert.True(t, timeLessThan(100, 200, now))
	assert.False(t, timeLessThan(200, 100, now))
	assert.False(t, timeLessThan(200, 200, now))

	assert.True(t, timeLessThanOrEqual(200, 200, now))
	assert.True(t, timeLessThanOrEqual(100, 200, now))
	assert.False(t, timeLessThanOrEqual(200, 100, now))

	assert.Equal(t, uint32(150), checkedSub(250, 100, now))
	assert.Equal(t, uint32(0), checkedSub(250, 250, now))
}

func TestTimeComparisonsAcrossWrap(t *testing.T) {
	// now sits just past the wrap; preWrap is a timestamp recorded shortly
	// before the counter rolled over.
	now := uint32(50)
	preWrap := uint32(1<<32 - 100)
	postWrap := uint32(10)

	// Chronologically the pre-wrap value comes first, even though it is
	// numerically larger.
	assert.True(t, timeLessThan(preWrap, postWrap, now))
	assert.False(t, timeLessThan(postWrap, preWrap, now))
	assert.True(t, timeLessThanOrEqual(preWrap, postWrap, now))

	// Ordering matches the un-wrapped values: 100 seconds before the wrap to
	// 10 seconds after it is 110 seconds.
	require.Equal(t, uint32(110), checkedSub(postWrap, preWrap, now))
}

func TestTimeComparisonBothWrapped(t *testing.T) {
	now := uint32(50)

	// Both values wrapped: plain ordering applies.
	assert.True(t, timeLessThan(10, 20, now))
	assert.Equal(t, uint32(10), checkedSub(20, 10, now))
}
