// Package quadrature decodes rotary encoder signals.
//
// Decoder is the core: a pure state machine that consumes raw two-bit pin
// samples (channels A and B) and emits one debounced step event per completed
// detent. Tracker covers the other common hardware shape: a free-running raw
// count (hardware counter or kernel driver) divided into whole detents.
//
// Both types are synchronous and single-owner by contract: no locking inside,
// no I/O, no timers. Callers that read several encoders concurrently must
// give each its own instance.
package quadrature

// Sample is one synchronous reading of the two encoder channels.
type Sample struct {
	A bool
	B bool
}

// index maps the pin pair onto a 2-bit table column (A is the high bit).
func (s Sample) index() int {
	i := 0
	if s.A {
		i |= 2
	}
	if s.B {
		i |= 1
	}
	return i
}

// State is a position within the encoder's electrical cycle. One mechanical
// detent spans the four Gray-code positions 00 -> 01 -> 11 -> 10 -> 00
// (clockwise); S0..S3 name them in that order. The decoder's state always
// reflects the last accepted sample; noise never moves it.
type State uint8

const (
	S0 State = iota // A=0 B=0
	S1              // A=0 B=1
	S2              // A=1 B=1
	S3              // A=1 B=0
)

func (s State) String() string {
	switch s {
	case S0:
		return "S0"
	case S1:
		return "S1"
	case S2:
		return "S2"
	case S3:
		return "S3"
	}
	return "S?"
}

// StateOf returns the cycle position matching a raw sample. Use it to seed a
// decoder from the pin levels observed at startup.
func StateOf(s Sample) State {
	switch s.index() {
	case 0b01:
		return S1
	case 0b11:
		return S2
	case 0b10:
		return S3
	}
	return S0
}

// Step is the decoded outcome of one Update call. Clockwise and
// CounterClockwise are +1 and -1 so a step can be added to a position
// counter directly.
type Step int

const (
	None             Step = 0
	Clockwise        Step = 1
	CounterClockwise Step = -1
)

func (e Step) String() string {
	switch e {
	case Clockwise:
		return "clockwise"
	case CounterClockwise:
		return "counterclockwise"
	}
	return "none"
}

// quartersPerStep is the number of Gray sub-transitions in one detent cycle.
const quartersPerStep = 4

// transition is one cell of the decode table: the state after accepting a
// sample, and its quarter-step contribution.
type transition struct {
	next  State
	delta int8
}

// transitions is the fixed 4x4 decode table, indexed by [current
// state][sample]. Moving to the adjacent state in the clockwise Gray sequence
// contributes +1 quarter, moving back contributes -1, and both the identical
// sample and the non-adjacent sample (a two-bit jump, which a contact cannot
// produce cleanly) contribute nothing and leave the state alone. Dropping
// two-bit jumps is what rejects double-bounce artifacts on mechanical
// contacts.
var transitions = [4][4]transition{
	S0: {0b00: {S0, 0}, 0b01: {S1, +1}, 0b11: {S0, 0}, 0b10: {S3, -1}},
	S1: {0b00: {S0, -1}, 0b01: {S1, 0}, 0b11: {S2, +1}, 0b10: {S1, 0}},
	S2: {0b00: {S2, 0}, 0b01: {S1, -1}, 0b11: {S2, 0}, 0b10: {S3, +1}},
	S3: {0b00: {S0, +1}, 0b01: {S3, 0}, 0b11: {S2, -1}, 0b10: {S3, 0}},
}

// Decoder turns a stream of raw samples into debounced step events.
//
// It keeps the current cycle position plus a bounded count of net quarter
// steps since the last rest. A step is emitted only when a full detent cycle
// completes (net four quarters, back at the seeded rest position); partial
// travel that retraces itself cancels out silently. Update runs in constant
// time and cannot fail.
type Decoder struct {
	state    State
	quarters int8
}

// NewDecoder returns a decoder seeded at the given cycle position, which
// becomes its rest position. Seed with StateOf(initial pin levels) when the
// levels are known; otherwise S0 is a safe default, since at worst the first
// detent is decoded one sub-transition late.
func NewDecoder(initial State) *Decoder {
	return &Decoder{state: initial & 3}
}

// Update accepts the next raw sample and reports the completed step, if any.
//
// Every one of the four possible samples is a valid input from any state;
// samples that do not correspond to an adjacent Gray transition are treated
// as noise and ignored. At most one step is reported per call, and repeating
// the resting sample reports None every time.
func (d *Decoder) Update(s Sample) Step {
	t := transitions[d.state][s.index()]
	d.state = t.next
	d.quarters += t.delta

	switch d.quarters {
	case quartersPerStep:
		d.quarters = 0
		return Clockwise
	case -quartersPerStep:
		d.quarters = 0
		return CounterClockwise
	}
	return None
}

// State reports the cycle position of the last accepted sample.
func (d *Decoder) State() State {
	return d.state
}
