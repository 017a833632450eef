package main

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
)

// inputEvent represents a Linux input event structure
// struct input_event { struct timeval time; __u16 type; __u16 code; __s32 value; };
type inputEvent struct {
	Sec   int64
	Usec  int64
	Type  uint16
	Code  uint16
	Value int32
}

// deviceEvent pairs a raw input event with the device path it came from, so a
// shared reader can route events to the right encoder bindings.
type deviceEvent struct {
	Device string
	Ev     inputEvent
}

// readInputEvents reads input events from one device file and sends them to a
// channel. This runs in a dedicated goroutine and blocks on read operations;
// closing the file unblocks it.
func readInputEvents(f *os.File, device string, events chan<- deviceEvent, readErr chan<- error) {
	evSize := binary.Size(inputEvent{})
	buf := make([]byte, evSize)
	reader := bytes.NewReader(buf) // Reusable reader, reset on each iteration

	for {
		if _, err := io.ReadFull(f, buf); err != nil {
			readErr <- err
			return
		}

		reader.Reset(buf) // Reset reader to reuse it
		var ev inputEvent
		if err := binary.Read(reader, binary.LittleEndian, &ev); err != nil {
			// Skip malformed events
			continue
		}

		events <- deviceEvent{Device: device, Ev: ev}
	}
}

// ============================================================================
// Event translation layer
// ============================================================================
// Raw input events are translated into reducer events according to each
// encoder's binding. Several encoders can share one device (a board exposing
// two knobs through a single gpio-keys device, for example); each binding
// picks out its own codes.
// ============================================================================

// evdevBinding binds one configured encoder to the events of one device.
type evdevBinding struct {
	encoder string
	mode    string

	// evdev-rel
	relCode uint16

	// evdev-keys; a and b hold the current channel levels
	keyA, keyB uint16
	a, b       bool

	invert bool
}

// newEvdevBindings groups the evdev-mode encoders by device path.
func newEvdevBindings(encoders []EncoderConfig) map[string][]*evdevBinding {
	bindings := make(map[string][]*evdevBinding)
	for i := range encoders {
		e := &encoders[i]
		switch e.Input {
		case inputEvdevRel:
			bindings[e.Device] = append(bindings[e.Device], &evdevBinding{
				encoder: e.Name,
				mode:    inputEvdevRel,
				relCode: e.relCodeValue(),
				invert:  e.Invert,
			})
		case inputEvdevKeys:
			bindings[e.Device] = append(bindings[e.Device], &evdevBinding{
				encoder: e.Name,
				mode:    inputEvdevKeys,
				keyA:    uint16(e.KeyA),
				keyB:    uint16(e.KeyB),
				invert:  e.Invert,
			})
		}
	}
	return bindings
}

// translate converts one raw input event into a reducer event, if the binding
// cares about it.
func (bd *evdevBinding) translate(ev inputEvent) (Event, bool) {
	switch bd.mode {
	case inputEvdevRel:
		if ev.Type != EV_REL || ev.Code != bd.relCode || ev.Value == 0 {
			return nil, false
		}
		delta := ev.Value
		if bd.invert {
			delta = -delta
		}
		return EncoderRelMove{Encoder: bd.encoder, Delta: delta}, true

	case inputEvdevKeys:
		if ev.Type != EV_KEY || ev.Value == evValueRepeat {
			return nil, false
		}
		if ev.Code != bd.keyA && ev.Code != bd.keyB {
			return nil, false
		}
		level := ev.Value == evValuePress
		if ev.Code == bd.keyA {
			bd.a = level
		} else {
			bd.b = level
		}
		a, b := bd.a, bd.b
		if bd.invert {
			a, b = b, a
		}
		return EncoderSample{Encoder: bd.encoder, A: a, B: b}, true
	}

	return nil, false
}

// runEvdevInput opens the devices the evdev-mode encoders are bound to,
// starts the platform readers, and translates raw events into reducer events
// until ctx is canceled.
//
// A device error is fatal: the daemon exits and lets the supervisor restart
// it, rather than silently running with a dead knob.
func runEvdevInput(ctx context.Context, encoders []EncoderConfig, events chan<- Event, logger *slog.Logger) error {
	bindings := newEvdevBindings(encoders)
	if len(bindings) == 0 {
		return nil
	}

	// Open each device once, in stable order.
	paths := make([]string, 0, len(bindings))
	for path := range bindings {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	files := make([]*os.File, 0, len(paths))
	for _, path := range paths {
		f, err := os.Open(path)
		if err != nil {
			for _, open := range files {
				open.Close()
			}
			return fmt.Errorf("open input device %s: %w", path, err)
		}
		files = append(files, f)
	}

	// Closing the files on shutdown unblocks the readers.
	go func() {
		<-ctx.Done()
		for _, f := range files {
			_ = f.Close()
		}
	}()

	raw := make(chan deviceEvent, 64)
	readErr := make(chan error, len(files))
	startEvdevReaders(files, raw, readErr)

	logger.Info("evdev input running", "devices", len(files))

	for {
		select {
		case <-ctx.Done():
			return nil

		case err := <-readErr:
			if ctx.Err() != nil {
				// Reader unblocked by our own shutdown close.
				return nil
			}
			return fmt.Errorf("input reader: %w", err)

		case de := <-raw:
			for _, bd := range bindings[de.Device] {
				ev, ok := bd.translate(de.Ev)
				if !ok {
					continue
				}
				select {
				case events <- ev:
				case <-ctx.Done():
					return nil
				}
			}
		}
	}
}
