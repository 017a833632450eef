package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/url"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
)

// ============================================================================
// knob-listen - State WebSocket Subscriber
// ============================================================================
// Connects to the knobd state websocket and pretty-prints the event stream:
// the initial state snapshot, step events, and position changes. Useful for
// watching what the daemon decodes without wiring up a real consumer.
// ============================================================================

// Wire types (duplicated from the daemon package for standalone binary)

type envelope struct {
	Type string          `json:"type"`
	Ts   *time.Time      `json:"ts,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

type stepData struct {
	Encoder  string `json:"encoder"`
	Steps    int32  `json:"steps"`
	Position int64  `json:"position"`
}

type positionData struct {
	Encoder  string `json:"encoder"`
	Position int64  `json:"position"`
	RawCount int32  `json:"raw_count"`
	Settled  bool   `json:"settled"`
}

func main() {
	var (
		wsURL = flag.String("ws", "ws://127.0.0.1:8088/ws", "knobd state websocket URL")
		once  = flag.Bool("once", false, "Print the first message (the state snapshot) and exit")
	)
	flag.Parse()

	// Parse websocket URL
	u, err := url.Parse(*wsURL)
	if err != nil {
		log.Fatalf("invalid websocket URL: %v", err)
	}

	// Handle shutdown
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)

	// Connect to websocket
	d := websocket.Dialer{
		HandshakeTimeout: 5 * time.Second,
	}

	log.Printf("connecting to %s...", u.String())
	conn, _, err := d.Dial(u.String(), nil)
	if err != nil {
		log.Fatalf("failed to connect: %v", err)
	}
	defer conn.Close()

	if !*once {
		log.Printf("connected! (press Ctrl+C to exit)")
	}

	// Mutex to protect concurrent writes to websocket
	var writeMu sync.Mutex

	// Set up ping/pong handlers for connection health
	conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	// Start ping ticker to keep connection alive
	pingTicker := time.NewTicker(30 * time.Second)
	defer pingTicker.Stop()

	go func() {
		for range pingTicker.C {
			writeMu.Lock()
			err := conn.WriteMessage(websocket.PingMessage, nil)
			writeMu.Unlock()
			if err != nil {
				log.Printf("ping failed: %v", err)
				return
			}
		}
	}()

	// Message reading loop
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			messageType, message, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Printf("websocket error: %v", err)
				}
				return
			}

			switch messageType {
			case websocket.TextMessage:
				handleTextMessage(message)
				if *once {
					return
				}
			case websocket.BinaryMessage:
				fmt.Printf("[BINARY] %d bytes\n", len(message))
			case websocket.CloseMessage:
				fmt.Printf("[CLOSE]\n")
				return
			}
		}
	}()

	// Wait for shutdown signal or connection close
	select {
	case <-sigc:
		log.Printf("shutting down...")
		// Clean close
		writeMu.Lock()
		err := conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		writeMu.Unlock()
		if err != nil {
			log.Printf("error closing connection: %v", err)
		}
	case <-done:
		if !*once {
			log.Printf("connection closed")
		}
	}
}

// handleTextMessage pretty-prints one incoming state message
func handleTextMessage(message []byte) {
	var env envelope
	if err := json.Unmarshal(message, &env); err != nil {
		fmt.Printf("[TEXT] %s\n", string(message))
		return
	}

	switch env.Type {
	case "step":
		var d stepData
		if err := json.Unmarshal(env.Data, &d); err != nil {
			break
		}
		direction := "cw"
		if d.Steps < 0 {
			direction = "ccw"
		}
		fmt.Printf("[STEP] %s %s %+d position=%d\n", d.Encoder, direction, d.Steps, d.Position)
		return

	case "position_changed":
		var d positionData
		if err := json.Unmarshal(env.Data, &d); err != nil {
			break
		}
		settled := ""
		if d.Settled {
			settled = " (settled)"
		}
		fmt.Printf("[POSITION] %s position=%d raw=%d%s\n", d.Encoder, d.Position, d.RawCount, settled)
		return

	case "state_init":
		var pretty json.RawMessage = env.Data
		if out, err := json.MarshalIndent(pretty, "", "  "); err == nil {
			fmt.Printf("[STATE]\n%s\n\n", string(out))
			return
		}
	}

	// Unknown or unparsable: dump the whole envelope
	var jsonData map[string]any
	if err := json.Unmarshal(message, &jsonData); err == nil {
		prettyJSON, _ := json.MarshalIndent(jsonData, "", "  ")
		fmt.Printf("[EVENT]\n%s\n\n", string(prettyJSON))
	} else {
		fmt.Printf("[TEXT] %s\n", string(message))
	}
}
