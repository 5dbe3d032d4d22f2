package twab

// binarySearch locates the pair of adjacent observations bracketing target,
// such that beforeOrAt.Timestamp <= target <= atOrAfter.Timestamp under the
// wraparound-aware ordering. The logical range runs from oldestIndex up to
// newestIndex, unwrapped past the end of the ring when the newest slot sits
// physically below the oldest. Slots with a zero timestamp have never been
// written and are treated as lying in the future, narrowing the search upward.
//
// The bracket is only meaningful when target lies strictly between the oldest
// and newest stored observations; callers handle the boundary cases first.
func (a *Account) binarySearch(newestIndex, oldestIndex, target, cardinality, now uint32) (beforeOrAt, atOrAfter Observation) {
	left := uint64(oldestIndex)
	right := uint64(newestIndex)
	if right < left {
		right = left + uint64(cardinality) - 1
	}

	for {
		current := (left + right) / 2

		beforeOrAt = a.observationAt(wrapIndex(uint32(current), cardinality))
		if beforeOrAt.Timestamp == 0 {
			left = current + 1
			continue
		}

		atOrAfter = a.observationAt(nextRingIndex(uint32(current), cardinality))

		targetAtOrAfter := timeLessThanOrEqual(beforeOrAt.Timestamp, target, now)
		if targetAtOrAfter && timeLessThanOrEqual(target, atOrAfter.Timestamp, now) {
			return beforeOrAt, atOrAfter
		}

		if !targetAtOrAfter {
			right = current - 1
		} else {
			left = current + 1
		}
	}
}
