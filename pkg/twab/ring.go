package twab

// Ring index math. The observation history is a circular buffer of size
// cardinality: these helpers map logical positions to physical slots without
// touching the backing storage.

// wrapIndex maps an index onto the ring.
func wrapIndex(index, cardinality uint32) uint32 {
	return index % cardinality
}

// offsetIndex steps backward by amount slots from index.
func offsetIndex(index, amount, cardinality uint32) uint32 {
	return wrapIndex(index+cardinality-amount, cardinality)
}

// newestRingIndex returns the slot written most recently, given the slot the
// next write will occupy. Returns 0 when the ring is empty.
func newestRingIndex(nextIndex, cardinality uint32) uint32 {
	if cardinality == 0 {
		return 0
	}
	return offsetIndex(nextIndex, 1, cardinality)
}

// nextRingIndex returns the slot following index.
func nextRingIndex(index, cardinality uint32) uint32 {
	return wrapIndex(index+1, cardinality)
}
