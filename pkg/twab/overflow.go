package twab

// Timestamps are 32-bit and wrap around roughly every 136 years. All ordering
// decisions are made relative to a reference "now": a value numerically greater
// than now is taken to come from before the wrap, while a value at or below now
// is taken to come from after it. Extending post-wrap values by 2^32 restores
// the chronological order that the raw integers lost.

const wrapSpan = uint64(1) << 32

// timeLessThan reports whether a is chronologically before b, relative to now.
func timeLessThan(a, b, now uint32) bool {
	if a <= now && b <= now {
		return a < b
	}
	return adjusted(a, now) < adjusted(b, now)
}

// timeLessThanOrEqual reports whether a is chronologically at or before b,
// relative to now.
func timeLessThanOrEqual(a, b, now uint32) bool {
	if a <= now && b <= now {
		return a <= b
	}
	return adjusted(a, now) <= adjusted(b, now)
}

// checkedSub returns a-b with both values adjusted for wraparound relative to
// now, truncated to 32 bits. Both inputs must be chronologically at or before
// now; callers uphold this.
func checkedSub(a, b, now uint32) uint32 {
	if a <= now && b <= now {
		return a - b
	}
	return uint32(adjusted(a, now) - adjusted(b, now))
}

func adjusted(v, now uint32) uint64 {
	if v > now {
		return uint64(v)
	}
	return uint64(v) + wrapSpan
}
