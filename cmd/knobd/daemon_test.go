package main

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"go.uber.org/goleak"
)

// These tests drive the real daemon loop over real channels: events in,
// broadcasts out, commands executed by the effects stage in between. The
// reducer itself is covered by reducer_test.go; here we assert the loop's
// sequencing and shutdown behavior.

// startDaemon runs the daemon loop in a goroutine and returns its channels
// plus a done channel that closes when the loop exits. The sink is nil, so
// forward commands (if any) fail through the normal effects path.
func startDaemon(ctx context.Context, cfg ReducerConfig, state *DaemonState, updateHz int) (chan Event, chan Broadcast, chan struct{}) {
	events := make(chan Event, 16)
	broadcasts := make(chan Broadcast, 16)
	done := make(chan struct{})
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	go func() {
		defer close(done)
		runDaemon(ctx, events, nil, cfg, state, updateHz, broadcasts, logger)
	}()

	return events, broadcasts, done
}

// recvBroadcast waits for the next broadcast out of the loop.
func recvBroadcast(t *testing.T, ch <-chan Broadcast, timeout time.Duration) Broadcast {
	t.Helper()
	select {
	case b := <-ch:
		return b
	case <-time.After(timeout):
		t.Fatal("timed out waiting for a broadcast")
		return nil
	}
}

// stopDaemon cancels the loop and waits for it to exit.
func stopDaemon(t *testing.T, cancel context.CancelFunc, done <-chan struct{}) {
	t.Helper()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("daemon did not stop after context cancel")
	}
}

func TestDaemon_SampleCycleProducesStepBroadcast(t *testing.T) {
	defer goleak.VerifyNone(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, broadcasts, done := startDaemon(ctx, testReducerConfig(), &DaemonState{}, 100)

	// Seed at rest, then walk one full clockwise cycle. The loop stamps each
	// event with its arrival time, so no clock control is needed here.
	events <- EncoderSample{Encoder: "vol", A: false, B: false}
	for _, sm := range cycleCW {
		events <- EncoderSample{Encoder: "vol", A: sm[0], B: sm[1]}
	}

	b := recvBroadcast(t, broadcasts, time.Second)
	step, ok := b.(BroadcastStep)
	if !ok {
		t.Fatalf("expected BroadcastStep first, got %T", b)
	}
	if step.Encoder != "vol" || step.Steps != 1 || step.Position != 1 {
		t.Fatalf("expected step +1 to position 1, got %+v", step)
	}

	b = recvBroadcast(t, broadcasts, time.Second)
	pos, ok := b.(BroadcastPosition)
	if !ok {
		t.Fatalf("expected BroadcastPosition after the step, got %T", b)
	}
	if pos.Encoder != "vol" || pos.Position != 1 || pos.Settled {
		t.Fatalf("expected unsettled position 1, got %+v", pos)
	}

	stopDaemon(t, cancel, done)
}

func TestDaemon_TickSettlesIdleEncoder(t *testing.T) {
	defer goleak.VerifyNone(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Short reset timeout and a fast tick so the settle fires quickly.
	cfg := ReducerConfig{
		Encoders: map[string]EncoderParams{
			"vol": {Divisions: 4, ResetTimeoutMS: 50},
		},
	}
	events, broadcasts, done := startDaemon(ctx, cfg, &DaemonState{}, 200)

	events <- EncoderRelMove{Encoder: "vol", Delta: 4}

	if _, ok := recvBroadcast(t, broadcasts, time.Second).(BroadcastStep); !ok {
		t.Fatal("expected a step broadcast for the relative move")
	}
	pos, ok := recvBroadcast(t, broadcasts, time.Second).(BroadcastPosition)
	if !ok {
		t.Fatal("expected a position broadcast after the step")
	}
	if pos.Settled {
		t.Fatalf("expected the immediate position broadcast to be unsettled, got %+v", pos)
	}

	// The tick cadence carries the encoder past its reset timeout.
	settled, ok := recvBroadcast(t, broadcasts, 2*time.Second).(BroadcastPosition)
	if !ok {
		t.Fatal("expected a settled position broadcast from the tick path")
	}
	if !settled.Settled || settled.Position != 1 || settled.RawCount != 4 {
		t.Fatalf("expected settled position 1 (raw 4), got %+v", settled)
	}

	stopDaemon(t, cancel, done)
}

func TestDaemon_SnapshotRoundTrip(t *testing.T) {
	defer goleak.VerifyNone(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, _, done := startDaemon(ctx, testReducerConfig(), &DaemonState{}, 100)

	events <- SetPosition{Encoder: "vol", Position: 42}

	// Events are reduced in arrival order, so the snapshot sees the set.
	reply := make(chan StateSnapshot, 1)
	events <- RequestStateSnapshot{Reply: reply}

	select {
	case snap := <-reply:
		if len(snap.Encoders) != 1 {
			t.Fatalf("expected 1 encoder in snapshot, got %d", len(snap.Encoders))
		}
		enc := snap.Encoders[0]
		if enc.Name != "vol" || enc.Position != 42 {
			t.Fatalf("expected vol at position 42, got %+v", enc)
		}
		if snap.At.IsZero() {
			t.Fatal("expected snapshot timestamp to be set")
		}
	case <-time.After(time.Second):
		t.Fatal("no snapshot delivered")
	}

	stopDaemon(t, cancel, done)
}

func TestDaemon_SinkFailureFeedsBackIntoState(t *testing.T) {
	defer goleak.VerifyNone(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Forwarding enabled but no sink client: the forward command fails in the
	// effects stage and the failure observation is reduced before the next
	// event, so the snapshot below must already see it.
	state := &DaemonState{}
	state.Sink.Enabled = true
	events, broadcasts, done := startDaemon(ctx, testReducerConfig(), state, 100)

	events <- EncoderRelMove{Encoder: "vol", Delta: 4}
	recvBroadcast(t, broadcasts, time.Second) // step
	recvBroadcast(t, broadcasts, time.Second) // position

	reply := make(chan StateSnapshot, 1)
	events <- RequestStateSnapshot{Reply: reply}

	select {
	case snap := <-reply:
		if !snap.Sink.Enabled {
			t.Fatal("expected sink enabled in snapshot")
		}
		if snap.Sink.Failures != 1 {
			t.Fatalf("expected 1 sink failure, got %d", snap.Sink.Failures)
		}
		if snap.Sink.Forwarded != 0 {
			t.Fatalf("expected 0 forwarded steps, got %d", snap.Sink.Forwarded)
		}
		if snap.Sink.LastError == "" {
			t.Fatal("expected snapshot to carry the sink error")
		}
	case <-time.After(time.Second):
		t.Fatal("no snapshot delivered")
	}

	stopDaemon(t, cancel, done)
}

func TestDaemon_StopsWhenEventsChannelCloses(t *testing.T) {
	defer goleak.VerifyNone(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, _, done := startDaemon(ctx, testReducerConfig(), &DaemonState{}, 100)

	close(events)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("daemon did not stop after events channel closed")
	}
}
