package main

import (
	"sort"
	"time"

	"knobd/quadrature"
)

// DaemonState is the top-level, daemon-owned state container.
//
// Goals:
//   - Keep all reducer-owned state in one place (pure reducer, no external
//     mutation).
//   - Track each encoder's decode state and logical position together so a
//     coherent snapshot can be published to other clients (IPC/UI/etc).
//
// The decoder and tracker instances live here because they ARE reducer state:
// they are single-owner by contract and only the daemon goroutine touches
// them through Reduce.
type DaemonState struct {
	// Encoders maps encoder name to its decode and position state. Entries
	// are created on demand so IPC-injected encoders work without
	// configuration.
	Encoders map[string]*EncoderState

	// Sink tracks the health of the downstream step sink.
	Sink SinkState
}

// EncoderState is the per-encoder decode and position state.
type EncoderState struct {
	// Decoder decodes raw A/B samples. Created on the first sample, seeded
	// with the observed pin levels so startup position is never misread.
	Decoder *quadrature.Decoder

	// Tracker divides raw relative counts into detents. Created on the first
	// rel move with the encoder's configured divisions and reset timeout.
	Tracker *quadrature.Tracker

	// RawCount is the running raw count fed to the tracker. It wraps like a
	// hardware counter and is never reset.
	RawCount int32

	// Position is the logical detent position. SetPosition and ResetPosition
	// adjust it directly; raw decode state is left alone.
	Position int64

	// Lifetime step counters, by direction.
	Clockwise        int64
	CounterClockwise int64

	// Movement tracking for settle detection.
	LastMoveAt time.Time
	Moving     bool
}

// SinkState is the daemon's view of the downstream sink connection.
// It is observed state: the effects stage reports outcomes back as events
// and the reducer records them here.
type SinkState struct {
	Enabled bool

	Forwarded     int64
	Failures      int64
	LastForwardAt time.Time

	LastError   string
	LastErrorAt time.Time
}

// encoder returns the state for name, creating it on first use.
// This is intended to be called only by the daemon goroutine (single-owner).
func (s *DaemonState) encoder(name string) *EncoderState {
	if s.Encoders == nil {
		s.Encoders = make(map[string]*EncoderState)
	}
	st, ok := s.Encoders[name]
	if !ok {
		st = &EncoderState{}
		s.Encoders[name] = st
	}
	return st
}

// encoderNames returns the known encoder names in stable order, for
// deterministic iteration and snapshots.
func (s *DaemonState) encoderNames() []string {
	names := make([]string, 0, len(s.Encoders))
	for name := range s.Encoders {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// noteSteps applies a signed detent count to an encoder's position and
// counters and marks it moving.
// This is intended to be called only by the daemon goroutine (single-owner).
func (st *EncoderState) noteSteps(steps int32, at time.Time) {
	st.Position += int64(steps)
	if steps > 0 {
		st.Clockwise += int64(steps)
	} else {
		st.CounterClockwise += int64(-steps)
	}
	st.LastMoveAt = at
	st.Moving = true
}

// ============================================================================
// Snapshots
// ============================================================================

// StateSnapshot is a point-in-time copy of daemon state, safe to hand to
// other goroutines. It is what /state returns and what new websocket clients
// receive on connect.
type StateSnapshot struct {
	At       time.Time         `json:"at"`
	Encoders []EncoderSnapshot `json:"encoders"`
	Sink     SinkSnapshot      `json:"sink"`
}

type EncoderSnapshot struct {
	Name             string    `json:"name"`
	Position         int64     `json:"position"`
	RawCount         int32     `json:"raw_count"`
	Clockwise        int64     `json:"clockwise"`
	CounterClockwise int64     `json:"counter_clockwise"`
	Moving           bool      `json:"moving"`
	LastMoveAt       time.Time `json:"last_move_at"`
}

type SinkSnapshot struct {
	Enabled       bool      `json:"enabled"`
	Forwarded     int64     `json:"forwarded"`
	Failures      int64     `json:"failures"`
	LastForwardAt time.Time `json:"last_forward_at"`
	LastError     string    `json:"last_error,omitempty"`
}

// Snapshot builds a StateSnapshot from the current state. Encoders are sorted
// by name so consumers see stable output.
// This is intended to be called only by the daemon goroutine (single-owner).
func (s *DaemonState) Snapshot(now time.Time) StateSnapshot {
	snap := StateSnapshot{
		At:       now,
		Encoders: make([]EncoderSnapshot, 0, len(s.Encoders)),
		Sink: SinkSnapshot{
			Enabled:       s.Sink.Enabled,
			Forwarded:     s.Sink.Forwarded,
			Failures:      s.Sink.Failures,
			LastForwardAt: s.Sink.LastForwardAt,
			LastError:     s.Sink.LastError,
		},
	}
	for _, name := range s.encoderNames() {
		st := s.Encoders[name]
		snap.Encoders = append(snap.Encoders, EncoderSnapshot{
			Name:             name,
			Position:         st.Position,
			RawCount:         st.RawCount,
			Clockwise:        st.Clockwise,
			CounterClockwise: st.CounterClockwise,
			Moving:           st.Moving,
			LastMoveAt:       st.LastMoveAt,
		})
	}
	return snap
}
