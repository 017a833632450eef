package main

import (
	"time"

	"knobd/quadrature"
)

// This file implements the reducer at the center of the daemon:
//
//   - Events: inputs (encoder readings, IPC requests, time ticks, sink
//     observations), declared in events.go
//   - Commands: side effects requested by the reducer, declared in commands.go
//   - Broadcasts: state change notifications for websocket clients
//   - Reduce(): computes next state + commands + broadcasts, without I/O
//
// The reducer must be pure. It must not mutate anything outside the returned
// state, must not block, and must not perform I/O. All decode state (the
// quadrature decoders and trackers) is embedded in DaemonState so this holds.
//
// The daemon loop is responsible for executing Commands, delivering
// Broadcasts, and feeding effect outcomes back in as Events.

// ==============================
// Broadcasts (state notifications)
// ==============================

// Broadcast is a state change notification delivered to websocket clients.
// Unlike Commands, broadcasts are fire-and-forget: delivery is best-effort
// and losing one must never corrupt daemon state.
type Broadcast interface {
	broadcastMarker()
}

// BroadcastStep reports decoded detents the moment they happen. Steps is the
// signed detent count; Position is the logical position after applying it.
type BroadcastStep struct {
	Encoder  string
	Steps    int32
	Position int64
	At       time.Time
}

func (BroadcastStep) broadcastMarker() {}

// BroadcastPosition reports an encoder's logical position. The websocket
// layer coalesces these per encoder, so during a fast spin clients see the
// latest position rather than every intermediate. Settled marks positions
// that are final: an idle timeout, an absolute set, or a reset.
type BroadcastPosition struct {
	Encoder  string
	Position int64
	RawCount int32
	Settled  bool
	At       time.Time
}

func (BroadcastPosition) broadcastMarker() {}

// ==============================
// Reducer input/output
// ==============================

// EncoderParams is the decode tuning for one encoder.
type EncoderParams struct {
	Divisions      int32
	ResetTimeoutMS uint32
}

// ReducerConfig carries the per-encoder parameters the reducer needs when it
// creates decode state on demand.
type ReducerConfig struct {
	Encoders map[string]EncoderParams
}

// params returns the parameters for an encoder name, falling back to defaults
// for encoders that were never configured (IPC-injected ones).
func (rc ReducerConfig) params(name string) EncoderParams {
	if p, ok := rc.Encoders[name]; ok {
		return p
	}
	return EncoderParams{
		Divisions:      defaultDivisions,
		ResetTimeoutMS: defaultResetTimeoutMS,
	}
}

// resetTimeout returns the idle window after which an encoder counts as
// settled.
func (rc ReducerConfig) resetTimeout(name string) time.Duration {
	return time.Duration(rc.params(name).ResetTimeoutMS) * time.Millisecond
}

// ReduceResult is the output of Reduce(): next state plus the Commands to
// execute and the Broadcasts to deliver.
type ReduceResult struct {
	State      *DaemonState
	Commands   []Command
	Broadcasts []Broadcast
}

// msTicks converts a wall-clock time to the millisecond tick counter the
// tracker expects. Truncating to uint32 wraps roughly every 49 days; the
// tracker compares ticks with wrapping arithmetic, so that is fine.
func msTicks(t time.Time) uint32 {
	return uint32(t.UnixMilli())
}

// Reduce is the pure reducer.
//
// Rules:
// - Must not perform I/O
// - Must not block
// - Must not mutate anything outside the returned state
//
// The daemon loop must:
// - execute Commands and feed their outcomes back as Events
// - hand Broadcasts to the websocket hub
func Reduce(s *DaemonState, e Event, cfg ReducerConfig) ReduceResult {
	if s == nil {
		s = &DaemonState{}
	}

	// Unwrap the loop's timestamp so every handler sees the same clock.
	// Events fed in without a wrapper (tests, direct calls) fall back to now.
	at := time.Time{}
	if te, ok := e.(TimedEvent); ok {
		at = te.At
		e = te.Event
	}
	if at.IsZero() {
		at = time.Now()
	}

	var cmds []Command
	var bcasts []Broadcast

	// emitSteps applies decoded detents to an encoder and queues the
	// resulting notifications and sink forwarding.
	emitSteps := func(name string, st *EncoderState, steps int32) {
		st.noteSteps(steps, at)
		bcasts = append(bcasts,
			BroadcastStep{Encoder: name, Steps: steps, Position: st.Position, At: at},
			BroadcastPosition{Encoder: name, Position: st.Position, RawCount: st.RawCount, At: at},
		)
		if s.Sink.Enabled {
			cmds = append(cmds, CmdForwardStep{Encoder: name, Steps: steps, Position: st.Position})
		}
	}

	switch ev := e.(type) {
	case EncoderSample:
		st := s.encoder(ev.Encoder)
		sample := quadrature.Sample{A: ev.A, B: ev.B}

		// The first sample seeds the decoder's rest position and decodes
		// nothing: whatever the pins read at startup is "here", not movement.
		if st.Decoder == nil {
			st.Decoder = quadrature.NewDecoder(quadrature.StateOf(sample))
			break
		}

		if step := st.Decoder.Update(sample); step != quadrature.None {
			emitSteps(ev.Encoder, st, int32(step))
		}

	case EncoderRelMove:
		st := s.encoder(ev.Encoder)
		if st.Tracker == nil {
			p := cfg.params(ev.Encoder)
			st.Tracker = quadrature.NewTracker(p.Divisions, p.ResetTimeoutMS)
		}

		st.RawCount += ev.Delta
		if divisions := st.Tracker.Delta(st.RawCount, msTicks(at)); divisions != 0 {
			emitSteps(ev.Encoder, st, divisions)
		}

	case SetPosition:
		st := s.encoder(ev.Encoder)
		st.Position = ev.Position
		bcasts = append(bcasts, BroadcastPosition{
			Encoder:  ev.Encoder,
			Position: st.Position,
			RawCount: st.RawCount,
			Settled:  !st.Moving,
			At:       at,
		})

	case ResetPosition:
		st := s.encoder(ev.Encoder)
		st.Position = 0
		bcasts = append(bcasts, BroadcastPosition{
			Encoder:  ev.Encoder,
			Position: st.Position,
			RawCount: st.RawCount,
			Settled:  !st.Moving,
			At:       at,
		})

	case Tick:
		// Settle detection: an encoder idle past its reset timeout stops
		// moving, and clients get one final position for it.
		for _, name := range s.encoderNames() {
			st := s.Encoders[name]
			if !st.Moving || st.LastMoveAt.IsZero() {
				continue
			}
			if ev.Now.Sub(st.LastMoveAt) < cfg.resetTimeout(name) {
				continue
			}
			st.Moving = false
			bcasts = append(bcasts, BroadcastPosition{
				Encoder:  name,
				Position: st.Position,
				RawCount: st.RawCount,
				Settled:  true,
				At:       ev.Now,
			})
		}

	case RequestStateSnapshot:
		cmds = append(cmds, CmdPublishStateSnapshot{
			Snapshot: s.Snapshot(at),
			Reply:    ev.Reply,
		})

	case SinkStepForwarded:
		s.Sink.Forwarded++
		s.Sink.LastForwardAt = ev.At

	case SinkCommandFailed:
		s.Sink.Failures++
		if ev.Err != nil {
			s.Sink.LastError = ev.Err.Error()
		}
		s.Sink.LastErrorAt = ev.At

	default:
		// Unknown event type: no-op.
	}

	return ReduceResult{
		State:      s,
		Commands:   cmds,
		Broadcasts: bcasts,
	}
}
