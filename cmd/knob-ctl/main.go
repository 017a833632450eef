package main

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"strconv"
)

// ============================================================================
// knob-ctl - Command-line IPC Client
// ============================================================================
// This tool injects encoder events into the knobd daemon via IPC. It drives
// simulation setups (no hardware needed) and supervisory corrections like
// re-zeroing a position.
//
// Usage:
//   knob-ctl sample volume 1 0
//   knob-ctl rel volume -3
//   knob-ctl set volume 42
//   knob-ctl reset volume
//
// Options:
//   -socket PATH    Unix domain socket path (default: /tmp/knobd.sock)
// ============================================================================

// Event types (duplicated from the daemon package for standalone binary)
type Event interface{}

type EncoderSample struct {
	Encoder string `json:"encoder"`
	A       bool   `json:"a"`
	B       bool   `json:"b"`
}

type EncoderRelMove struct {
	Encoder string `json:"encoder"`
	Delta   int32  `json:"delta"`
}

type SetPosition struct {
	Encoder  string `json:"encoder"`
	Position int64  `json:"position"`
}

type ResetPosition struct {
	Encoder string `json:"encoder"`
}

// EventEnvelope wraps events for JSON
type EventEnvelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// IPCResponse represents the daemon's response
type IPCResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

func main() {
	socketPath := "/tmp/knobd.sock"

	// Parse arguments
	args := os.Args[1:]
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	// Check for -socket flag
	if args[0] == "-socket" || args[0] == "--socket" {
		if len(args) < 2 {
			fmt.Fprintf(os.Stderr, "error: -socket requires an argument\n")
			os.Exit(1)
		}
		socketPath = args[1]
		args = args[2:]
	}

	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	// Parse command
	var event Event

	switch args[0] {
	case "sample":
		if len(args) < 4 {
			fmt.Fprintf(os.Stderr, "error: sample requires <encoder> <a> <b>\n")
			os.Exit(1)
		}
		a, err := strconv.ParseBool(args[2])
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: invalid channel A value %q (use 0 or 1)\n", args[2])
			os.Exit(1)
		}
		b, err := strconv.ParseBool(args[3])
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: invalid channel B value %q (use 0 or 1)\n", args[3])
			os.Exit(1)
		}
		event = EncoderSample{Encoder: args[1], A: a, B: b}

	case "rel":
		if len(args) < 3 {
			fmt.Fprintf(os.Stderr, "error: rel requires <encoder> <delta>\n")
			os.Exit(1)
		}
		delta, err := strconv.ParseInt(args[2], 10, 32)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: invalid delta: %v\n", err)
			os.Exit(1)
		}
		event = EncoderRelMove{Encoder: args[1], Delta: int32(delta)}

	case "set", "set-position":
		if len(args) < 3 {
			fmt.Fprintf(os.Stderr, "error: set requires <encoder> <position>\n")
			os.Exit(1)
		}
		pos, err := strconv.ParseInt(args[2], 10, 64)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: invalid position: %v\n", err)
			os.Exit(1)
		}
		event = SetPosition{Encoder: args[1], Position: pos}

	case "reset", "reset-position":
		if len(args) < 2 {
			fmt.Fprintf(os.Stderr, "error: reset requires <encoder>\n")
			os.Exit(1)
		}
		event = ResetPosition{Encoder: args[1]}

	case "help", "-h", "--help":
		printUsage()
		os.Exit(0)

	default:
		fmt.Fprintf(os.Stderr, "error: unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}

	// Send event
	if err := sendEvent(socketPath, event); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("ok")
}

func sendEvent(socketPath string, event Event) error {
	// Connect to socket
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return fmt.Errorf("connect to %s: %w", socketPath, err)
	}
	defer conn.Close()

	// Marshal event
	data, err := marshalEvent(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	// Send event (line-delimited JSON)
	if _, err := fmt.Fprintf(conn, "%s\n", data); err != nil {
		return fmt.Errorf("send event: %w", err)
	}

	// Read response
	var response IPCResponse
	decoder := json.NewDecoder(conn)
	if err := decoder.Decode(&response); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	// Check response status
	if response.Status == "error" {
		return fmt.Errorf("daemon error: %s", response.Error)
	}

	return nil
}

func marshalEvent(event Event) ([]byte, error) {
	var env EventEnvelope

	switch e := event.(type) {
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
		return nil, fmt.Errorf("unknown event type: %T", event)
	}

	return json.Marshal(env)
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `knob-ctl - Control the knobd daemon via IPC

Usage:
  knob-ctl [options] <command> [args]

Options:
  -socket PATH    Unix domain socket path (default: /tmp/knobd.sock)

Commands:
  sample <encoder> <a> <b>     Inject one raw A/B channel sample (0 or 1 each)
  rel <encoder> <delta>        Inject a relative raw count change
  set <encoder> <position>     Set the logical position to an absolute value
  reset <encoder>              Zero the logical position
  help, -h, --help             Show this help message

Examples:
  knob-ctl sample volume 1 0
  knob-ctl rel volume -3
  knob-ctl set volume 42
  knob-ctl -socket /var/run/knobd.sock reset volume
`)
}
