package main

import (
	"encoding/json"
	"fmt"
	"time"
)

// ============================================================================
// Events
// ============================================================================
// Events are the inputs to the reducer: raw encoder readings from the input
// readers, position requests from IPC clients, time ticks from the daemon
// loop, and observations fed back from the effects stage.
// ============================================================================

// Event is the marker interface for everything the reducer consumes.
type Event interface {
	eventMarker()
}

// EncoderSample is one synchronous reading of an encoder's A/B channels,
// produced by the GPIO and evdev-keys readers (or injected over IPC).
type EncoderSample struct {
	Encoder string `json:"encoder"`
	A       bool   `json:"a"`
	B       bool   `json:"b"`
}

func (EncoderSample) eventMarker() {}

// EncoderRelMove is a raw relative count change from an evdev-rel device
// whose kernel driver already accumulates quadrature transitions.
type EncoderRelMove struct {
	Encoder string `json:"encoder"`
	Delta   int32  `json:"delta"`
}

func (EncoderRelMove) eventMarker() {}

// SetPosition sets an encoder's logical position to an absolute value.
// Raw decode state is untouched, so in-flight detents still complete cleanly.
type SetPosition struct {
	Encoder  string `json:"encoder"`
	Position int64  `json:"position"`
}

func (SetPosition) eventMarker() {}

// ResetPosition zeroes an encoder's logical position.
type ResetPosition struct {
	Encoder string `json:"encoder"`
}

func (ResetPosition) eventMarker() {}

// Tick is emitted by the daemon loop at a fixed cadence.
// Dt is wall-clock delta in seconds between ticks.
type Tick struct {
	Now time.Time
	Dt  float64
}

func (Tick) eventMarker() {}

// TimedEvent wraps an event with its arrival time at the daemon loop, so the
// reducer never has to consult the wall clock itself.
type TimedEvent struct {
	Event Event
	At    time.Time
}

func (TimedEvent) eventMarker() {}

// RequestStateSnapshot asks the reducer for a coherent snapshot of daemon
// state. The snapshot is delivered on Reply by the effects stage; the reducer
// itself never touches the channel.
type RequestStateSnapshot struct {
	Reply chan StateSnapshot
}

func (RequestStateSnapshot) eventMarker() {}

// SinkStepForwarded is emitted after a step was successfully written to the
// downstream sink.
type SinkStepForwarded struct {
	At time.Time
}

func (SinkStepForwarded) eventMarker() {}

// SinkCommandFailed is emitted when executing a Command fails.
type SinkCommandFailed struct {
	Command Command
	Err     error
	At      time.Time
}

func (SinkCommandFailed) eventMarker() {}

// ============================================================================
// JSON Encoding/Decoding Support
// ============================================================================
// EventEnvelope wraps the IPC wire events with a type discriminator. Only
// externally injectable events are accepted here; loop-internal events (Tick,
// snapshots, sink observations) never cross a process boundary.
// ============================================================================

// EventEnvelope wraps an event with a type discriminator for JSON marshaling
type EventEnvelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// UnmarshalEvent deserializes a JSON event envelope into a concrete Event
func UnmarshalEvent(data []byte) (Event, error) {
	var env EventEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("unmarshal envelope: %w", err)
	}

	switch env.Type {
	case "encoder_sample":
		var e EncoderSample
		if err := json.Unmarshal(env.Data, &e); err != nil {
			return nil, fmt.Errorf("unmarshal EncoderSample: %w", err)
		}
		return e, nil

	case "encoder_rel_move":
		var e EncoderRelMove
		if err := json.Unmarshal(env.Data, &e); err != nil {
			return nil, fmt.Errorf("unmarshal EncoderRelMove: %w", err)
		}
		return e, nil

	case "set_position":
		var e SetPosition
		if err := json.Unmarshal(env.Data, &e); err != nil {
			return nil, fmt.Errorf("unmarshal SetPosition: %w", err)
		}
		return e, nil

	case "reset_position":
		var e ResetPosition
		if err := json.Unmarshal(env.Data, &e); err != nil {
			return nil, fmt.Errorf("unmarshal ResetPosition: %w", err)
		}
		return e, nil

	default:
		return nil, fmt.Errorf("unknown event type: %q", env.Type)
	}
}

// MarshalEvent serializes an Event into a JSON envelope with type discriminator
func MarshalEvent(e Event) ([]byte, error) {
	var env EventEnvelope

	switch e := e.(type) {
	case EncoderSample:
		env.Type = "encoder_sample"
		data, err := json.Marshal(e)
		if err != nil {
			return nil, fmt.Errorf("marshal EncoderSample: %w", err)
		}
		env.Data = data

	case EncoderRelMove:
		env.Type = "encoder_rel_move"
		data, err := json.Marshal(e)
		if err != nil {
			return nil, fmt.Errorf("marshal EncoderRelMove: %w", err)
		}
		env.Data = data

	case SetPosition:
		env.Type = "set_position"
		data, err := json.Marshal(e)
		if err != nil {
			return nil, fmt.Errorf("marshal SetPosition: %w", err)
		}
		env.Data = data

	case ResetPosition:
		env.Type = "reset_position"
		data, err := json.Marshal(e)
		if err != nil {
			return nil, fmt.Errorf("marshal ResetPosition: %w", err)
		}
		env.Data = data

	default:
		return nil, fmt.Errorf("unsupported event type: %T", e)
	}

	return json.Marshal(env)
}
