package twab

import (
	"errors"

	"github.com/holiman/uint256"
)

// MaxCardinality caps the number of ring-buffer slots an account can hold.
// The cap fits in 24 bits so a 32-bit clock cannot cycle through a full buffer
// faster than real time elapses at any realistic sampling rate.
const MaxCardinality uint32 = 1<<24 - 1

// maxBalanceBits bounds the live balance so that balance times any 32-bit
// elapsed interval still fits the 224-bit accumulator.
const maxBalanceBits = 208

var (
	// ErrInsufficientBalance is returned when a decrease would drive the live
	// balance negative. It is wrapped with the caller-supplied reason.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrNonMonotonicTime is returned when a mutation carries a current time
	// earlier than the newest recorded observation.
	ErrNonMonotonicTime = errors.New("current time precedes newest observation")

	// ErrInvalidInterval is returned when an average is requested over an
	// interval that collapses to a single instant after clamping to now.
	ErrInvalidInterval = errors.New("interval start and end coincide")

	// ErrBalanceOverflow is returned when a balance or accumulator would
	// exceed its fixed width.
	ErrBalanceOverflow = errors.New("balance exceeds 208 bits")
)

// Observation is one knot point of an account's balance history. Amount is not
// a balance snapshot: it accumulates balance multiplied by elapsed seconds, so
// the average balance across two observations is the amount delta divided by
// the timestamp delta. Amount fits in 224 bits, Timestamp in 32.
type Observation struct {
	Amount    uint256.Int
	Timestamp uint32
}

// AccountDetails is the compact per-account metadata beside the ring buffer.
// Balance is the current live balance (208 bits); NextIndex is the slot the
// next observation will occupy; Cardinality is the number of valid slots.
type AccountDetails struct {
	Balance     uint256.Int
	NextIndex   uint32
	Cardinality uint32
}

// Account is an account's live balance plus its observation ring buffer. The
// zero value is a valid empty account with the default retention period.
//
// Account is not safe for concurrent use: the owner serializes mutations and
// may only run queries while no mutation is in flight.
type Account struct {
	Details AccountDetails

	// observations is logically a ring of Details.Cardinality slots. It grows
	// as cardinality grows; slots past its length read as zero observations.
	observations []Observation

	// retentionPeriod is the window, in seconds, of history the ring must keep
	// before old slots may be overwritten. Zero means DefaultRetentionPeriod.
	retentionPeriod uint32
}

// DefaultRetentionPeriod is the history window, in seconds, an account retains
// before its ring buffer stops growing. Defaults to one year.
const DefaultRetentionPeriod uint32 = 365 * 24 * 60 * 60

// NewAccount returns an empty account that retains at least retentionPeriod
// seconds of observation history before overwriting old slots.
func NewAccount(retentionPeriod uint32) *Account {
	return &Account{retentionPeriod: retentionPeriod}
}

func (a *Account) retention() uint32 {
	if a.retentionPeriod == 0 {
		return DefaultRetentionPeriod
	}
	return a.retentionPeriod
}

// observationAt reads the physical slot at index. Slots that have never been
// written read as the zero observation.
func (a *Account) observationAt(index uint32) Observation {
	if index >= uint32(len(a.observations)) {
		return Observation{}
	}
	return a.observations[index]
}

// setObservation writes the physical slot at index, growing the backing slice
// on first touch. Slots are only ever written at or just past the current end.
func (a *Account) setObservation(index uint32, o Observation) {
	for uint32(len(a.observations)) <= index {
		a.observations = append(a.observations, Observation{})
	}
	a.observations[index] = o
}

// NewestObservation returns the most recently written observation and its
// slot. An empty account yields the zero observation at slot 0.
func (a *Account) NewestObservation() (uint32, Observation) {
	index := newestRingIndex(a.Details.NextIndex, a.Details.Cardinality)
	return index, a.observationAt(index)
}

// OldestObservation returns the chronologically oldest valid observation and
// its slot. While the ring is still growing the slot at NextIndex has never
// been written, so the oldest entry is at slot 0.
func (a *Account) OldestObservation() (uint32, Observation) {
	index := a.Details.NextIndex
	if a.Details.Cardinality > 0 {
		index = wrapIndex(a.Details.NextIndex, a.Details.Cardinality)
	}
	o := a.observationAt(index)
	if o.Timestamp == 0 {
		index = 0
		o = a.observationAt(0)
	}
	return index, o
}
