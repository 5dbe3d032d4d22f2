package twab

import (
	"github.com/holiman/uint256"
)

// GetBalanceAt returns the account's balance as of target, relative to the
// caller-supplied now. Targets in the future are clamped to now. A target at
// or after the newest observation yields the live balance; a target before the
// oldest observation yields zero; anything in between is the average balance
// held across the bracketing pair of observations, which is the deliberate
// interpolation choice for a point-in-time answer.
func (a *Account) GetBalanceAt(target, now uint32) (*uint256.Int, error) {
	if target > now {
		target = now
	}

	newestIndex, beforeOrAt := a.NewestObservation()
	if timeLessThanOrEqual(beforeOrAt.Timestamp, target, now) {
		balance := a.Details.Balance
		return &balance, nil
	}

	oldestIndex, beforeOrAt := a.OldestObservation()
	if timeLessThan(target, beforeOrAt.Timestamp, now) {
		return uint256.NewInt(0), nil
	}

	beforeOrAt, atOrAfter := a.binarySearch(newestIndex, oldestIndex, target, a.Details.Cardinality, now)

	return averageOf(beforeOrAt, atOrAfter, now), nil
}

// GetAverageBalanceBetween returns the time-weighted average balance held over
// [start, end], relative to the caller-supplied now. end is clamped to now.
// An interval that collapses to a single instant after clamping is rejected
// with ErrInvalidInterval rather than dividing by zero.
func (a *Account) GetAverageBalanceBetween(start, end, now uint32) (*uint256.Int, error) {
	if end > now {
		end = now
	}
	if start == end {
		return nil, ErrInvalidInterval
	}

	oldestIndex, oldest := a.OldestObservation()
	newestIndex, newest := a.NewestObservation()

	startTwab := a.calculateTwab(newest, oldest, newestIndex, oldestIndex, start, now)
	endTwab := a.calculateTwab(newest, oldest, newestIndex, oldestIndex, end, now)

	var diff uint256.Int
	diff.Sub(&endTwab.Amount, &startTwab.Amount)

	elapsed := checkedSub(endTwab.Timestamp, startTwab.Timestamp, now)
	return diff.Div(&diff, uint256.NewInt(uint64(elapsed))), nil
}

// calculateTwab produces a virtual observation for target: the newest or
// oldest observation unchanged when target coincides with it, an extrapolation
// on the live balance when target is past the newest record, a zero-amount
// observation before history began, and otherwise a linear interpolation of
// the accumulator between the bracketing pair.
func (a *Account) calculateTwab(newest, oldest Observation, newestIndex, oldestIndex, target, now uint32) Observation {
	if timeLessThan(newest.Timestamp, target, now) {
		return nextObservation(newest, &a.Details.Balance, target)
	}
	if newest.Timestamp == target {
		return newest
	}
	if oldest.Timestamp == target {
		return oldest
	}
	if timeLessThan(target, oldest.Timestamp, now) {
		return Observation{Timestamp: target}
	}

	beforeOrAt, atOrAfter := a.binarySearch(newestIndex, oldestIndex, target, a.Details.Cardinality, now)
	heldBalance := averageOf(beforeOrAt, atOrAfter, now)

	return nextObservation(beforeOrAt, heldBalance, target)
}

// averageOf returns the average balance held between two adjacent
// observations. Adjacent stored observations always carry distinct timestamps,
// so the divisor is never zero.
func averageOf(beforeOrAt, atOrAfter Observation, now uint32) *uint256.Int {
	var diff uint256.Int
	diff.Sub(&atOrAfter.Amount, &beforeOrAt.Amount)

	elapsed := checkedSub(atOrAfter.Timestamp, beforeOrAt.Timestamp, now)
	return diff.Div(&diff, uint256.NewInt(uint64(elapsed)))
}
