package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/goleak"
)

// startIPCServer runs the IPC server on a per-test socket and returns the
// socket path plus a channel carrying the server's exit error.
func startIPCServer(t *testing.T, ctx context.Context, events chan Event) (string, chan error) {
	t.Helper()

	sock := filepath.Join(t.TempDir(), "knobd.sock")
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	serverDone := make(chan error, 1)
	go func() {
		serverDone <- runIPCServer(ctx, sock, events, logger)
	}()

	waitUntil(t, time.Second, func() bool {
		_, err := os.Stat(sock)
		return err == nil
	}, "ipc socket never appeared")

	return sock, serverDone
}

func TestIPCServer_DeliversInjectedEvents(t *testing.T) {
	defer goleak.VerifyNone(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events := make(chan Event, 4)
	sock, serverDone := startIPCServer(t, ctx, events)

	if err := SendIPCEvent(sock, SetPosition{Encoder: "vol", Position: 42}); err != nil {
		t.Fatalf("SendIPCEvent(SetPosition) failed: %v", err)
	}
	if err := SendIPCEvent(sock, EncoderSample{Encoder: "vol", A: true, B: true}); err != nil {
		t.Fatalf("SendIPCEvent(EncoderSample) failed: %v", err)
	}

	// Events arrive in send order, untouched.
	select {
	case ev := <-events:
		sp, ok := ev.(SetPosition)
		if !ok {
			t.Fatalf("expected SetPosition, got %T", ev)
		}
		if sp.Encoder != "vol" || sp.Position != 42 {
			t.Fatalf("unexpected event: %+v", sp)
		}
	case <-time.After(time.Second):
		t.Fatal("SetPosition never reached the daemon channel")
	}
	select {
	case ev := <-events:
		es, ok := ev.(EncoderSample)
		if !ok {
			t.Fatalf("expected EncoderSample, got %T", ev)
		}
		if es.Encoder != "vol" || !es.A || !es.B {
			t.Fatalf("unexpected event: %+v", es)
		}
	case <-time.After(time.Second):
		t.Fatal("EncoderSample never reached the daemon channel")
	}

	cancel()
	select {
	case err := <-serverDone:
		if err != nil {
			t.Fatalf("ipc server returned error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("ipc server did not stop after context cancel")
	}

	// The socket file is removed on shutdown.
	if _, err := os.Stat(sock); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected socket to be removed, stat err = %v", err)
	}
}

func TestIPCServer_RejectsMalformedInput(t *testing.T) {
	defer goleak.VerifyNone(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events := make(chan Event, 4)
	sock, serverDone := startIPCServer(t, ctx, events)

	conn, err := net.Dial("unix", sock)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()
	dec := json.NewDecoder(conn)

	// A bad line gets an error response but keeps the connection alive.
	fmt.Fprintln(conn, "not json")
	var resp IPCResponse
	if err := dec.Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != "error" || !strings.Contains(resp.Error, "parse event") {
		t.Fatalf("expected parse error response, got %+v", resp)
	}

	fmt.Fprintln(conn, `{"type":"warp","data":{}}`)
	if err := dec.Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != "error" || !strings.Contains(resp.Error, "unknown event type") {
		t.Fatalf("expected unknown-type error response, got %+v", resp)
	}

	// The same connection still accepts valid events afterwards.
	fmt.Fprintln(conn, `{"type":"reset_position","data":{"encoder":"vol"}}`)
	if err := dec.Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != "ok" {
		t.Fatalf("expected ok response, got %+v", resp)
	}

	select {
	case ev := <-events:
		if _, ok := ev.(ResetPosition); !ok {
			t.Fatalf("expected ResetPosition, got %T", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("valid event never reached the daemon channel")
	}

	cancel()
	select {
	case <-serverDone:
	case <-time.After(time.Second):
		t.Fatal("ipc server did not stop after context cancel")
	}
}

func TestIPCServer_ReportsQueueFull(t *testing.T) {
	defer goleak.VerifyNone(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Unbuffered channel with no reader: the enqueue cannot succeed, and the
	// server must report that instead of blocking the connection.
	events := make(chan Event)
	sock, serverDone := startIPCServer(t, ctx, events)

	err := SendIPCEvent(sock, ResetPosition{Encoder: "vol"})
	if err == nil {
		t.Fatal("expected queue-full error")
	}
	if !strings.Contains(err.Error(), "event queue full") {
		t.Fatalf("expected queue-full error, got %v", err)
	}

	cancel()
	select {
	case <-serverDone:
	case <-time.After(time.Second):
		t.Fatal("ipc server did not stop after context cancel")
	}
}
