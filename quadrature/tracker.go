package quadrature

// Tracker divides a free-running raw encoder count into whole detents.
//
// It covers hardware that counts for you: a quadrature counter peripheral, or
// a kernel driver emitting relative counts. Feed it the current raw position
// and a caller-defined tick value; it returns how many whole detents accrued
// since the last call, carrying sub-detent remainder across calls.
//
// All position and tick arithmetic is modular, so both counter rollover and
// tick rollover are handled. The tracker never reads a clock itself: ticks
// come from the caller, in whatever unit the caller chooses, and only
// differences of them are used.
type Tracker struct {
	// effective is the raw position already accounted for in returned
	// detents; it trails the real position by the carried remainder.
	effective int32
	// real is the raw position seen on the previous call.
	real int32
	// lastActive is the tick of the last call at which the real position
	// moved.
	lastActive uint32

	div          int32
	resetTimeout uint32
}

// NewTracker returns a tracker expecting div raw counts per detent (commonly
// 4) and discarding sub-detent remainder after resetTimeout idle ticks. A div
// below 1 is treated as 1. Both raw position and ticks start at zero.
func NewTracker(div int32, resetTimeout uint32) *Tracker {
	if div < 1 {
		div = 1
	}
	return &Tracker{div: div, resetTimeout: resetTimeout}
}

// Delta reports the whole detents accrued at the given raw position and tick.
//
// If more than resetTimeout ticks passed since the position last moved, any
// carried sub-detent remainder is discarded first by re-anchoring to the real
// position. That keeps a shaft left resting between detents from permanently
// offsetting every later detent by the stale remainder.
//
// Calling Delta with an unchanged position is always safe and returns 0; the
// idle re-anchor still takes effect, so callers may invoke it on a periodic
// tick as well as on movement.
func (t *Tracker) Delta(position int32, now uint32) int32 {
	if now-t.lastActive > t.resetTimeout {
		t.effective = t.real
	}

	delta := position - t.effective
	divisions := delta / t.div
	remainder := delta % t.div
	t.effective += delta - remainder

	if t.real != position {
		t.lastActive = now
		t.real = position
	}

	return divisions
}

// Div reports the configured raw counts per detent.
func (t *Tracker) Div() int32 {
	return t.div
}
