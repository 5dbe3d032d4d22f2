package twab

import (
	"fmt"

	"github.com/holiman/uint256"
)

// IncreaseBalance credits amount to the account at the supplied current time.
// It returns the updated details, the observation covering the mutation, and
// whether that observation was newly written. Mutations that share a timestamp
// with the newest observation coalesce into it: only the live balance changes
// and the returned flag is false.
//
// The observation is computed from the pre-mutation balance, so the
// accumulator integrates the balance that was actually held since the last
// record.
func (a *Account) IncreaseBalance(amount *uint256.Int, now uint32) (AccountDetails, Observation, bool, error) {
	var newBalance uint256.Int
	if _, overflow := newBalance.AddOverflow(&a.Details.Balance, amount); overflow || newBalance.BitLen() > maxBalanceBits {
		return AccountDetails{}, Observation{}, false, ErrBalanceOverflow
	}

	obs, isNew, err := a.record(now)
	if err != nil {
		return AccountDetails{}, Observation{}, false, err
	}

	a.Details.Balance = newBalance
	return a.Details, obs, isNew, nil
}

// DecreaseBalance debits amount from the account at the supplied current time.
// reason is carried on the insufficient-balance error so callers can tell
// which invariant of theirs was violated. Semantics otherwise mirror
// IncreaseBalance.
func (a *Account) DecreaseBalance(amount *uint256.Int, reason string, now uint32) (AccountDetails, Observation, bool, error) {
	if a.Details.Balance.Lt(amount) {
		return AccountDetails{}, Observation{}, false, fmt.Errorf("%s: %w", reason, ErrInsufficientBalance)
	}

	obs, isNew, err := a.record(now)
	if err != nil {
		return AccountDetails{}, Observation{}, false, err
	}

	a.Details.Balance.Sub(&a.Details.Balance, amount)
	return a.Details, obs, isNew, nil
}

// record captures the accumulator state at now, writing a new observation
// unless the newest one already carries the same timestamp. Before a write it
// applies the cardinality growth rule: the ring keeps growing while the
// record that would become the oldest after an overwrite is still inside the
// retention window (or does not exist yet), and settles into a fixed-size
// ring once enough history has accumulated.
func (a *Account) record(now uint32) (Observation, bool, error) {
	_, newest := a.NewestObservation()

	if a.Details.Cardinality > 0 {
		if now < newest.Timestamp {
			return Observation{}, false, fmt.Errorf("%w: now=%d newest=%d", ErrNonMonotonicTime, now, newest.Timestamp)
		}
		if newest.Timestamp == now {
			return newest, false, nil
		}
	}

	cardinality := a.Details.Cardinality
	if cardinality == 0 {
		cardinality = 1
	}

	obs := nextObservation(newest, &a.Details.Balance, now)

	// The slot we are about to claim is the current oldest. Discarding it is
	// only safe when the second-oldest record still covers the retention
	// window on its own; a zero timestamp means that record does not exist.
	var secondOldest Observation
	if cardinality > 1 {
		oldestIndex := wrapIndex(a.Details.NextIndex, cardinality)
		secondOldest = a.observationAt(nextRingIndex(oldestIndex, cardinality))
	}

	nextCardinality := cardinality
	if secondOldest.Timestamp == 0 || checkedSub(obs.Timestamp, secondOldest.Timestamp, now) < a.retention() {
		if cardinality < MaxCardinality {
			nextCardinality = cardinality + 1
		}
	}

	a.setObservation(a.Details.NextIndex, obs)
	a.Details.NextIndex = nextRingIndex(a.Details.NextIndex, nextCardinality)
	a.Details.Cardinality = nextCardinality

	return obs, true, nil
}

// nextObservation extends last to now, accumulating balance held over the
// elapsed seconds. A 208-bit balance times a 32-bit interval stays within the
// 224-bit accumulator width.
func nextObservation(last Observation, balance *uint256.Int, now uint32) Observation {
	elapsed := checkedSub(now, last.Timestamp, now)

	var delta uint256.Int
	delta.Mul(balance, uint256.NewInt(uint64(elapsed)))

	obs := Observation{Timestamp: now}
	obs.Amount.Add(&last.Amount, &delta)
	return obs
}
