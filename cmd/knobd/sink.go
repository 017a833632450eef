package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// SinkClient manages the WebSocket connection to the downstream step sink.
//
// The sink protocol is one-way: knobd pushes step messages, the sink never
// replies. A write failure marks the connection broken and the next send
// reconnects, so a sink restart costs at most the steps sent while it was
// down (which the reducer records as failures).
type SinkClient struct {
	mu           sync.Mutex
	conn         *websocket.Conn
	url          string
	logger       *slog.Logger
	writeTimeout time.Duration
}

// sinkStepMessage is the wire format for forwarded steps.
type sinkStepMessage struct {
	Type     string `json:"type"`
	Encoder  string `json:"encoder"`
	Steps    int32  `json:"steps"`
	Position int64  `json:"position"`
}

// NewSinkClient creates a sink client and establishes the initial connection.
func NewSinkClient(wsURL string, logger *slog.Logger, writeTimeoutMS int) (*SinkClient, error) {
	if _, err := url.Parse(wsURL); err != nil {
		return nil, fmt.Errorf("invalid websocket URL: %w", err)
	}

	client := &SinkClient{
		url:          wsURL,
		logger:       logger,
		writeTimeout: time.Duration(writeTimeoutMS) * time.Millisecond,
	}

	if err := client.connectWithRetry(); err != nil {
		return nil, err
	}

	return client, nil
}

// connect establishes a WebSocket connection to the sink
func (c *SinkClient) connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}

	u, err := url.Parse(c.url)
	if err != nil {
		return fmt.Errorf("invalid ws url: %w", err)
	}

	d := websocket.Dialer{
		HandshakeTimeout: 2 * time.Second,
	}

	conn, _, err := d.Dial(u.String(), nil)
	if err != nil {
		return err
	}

	c.conn = conn
	return nil
}

// connectWithRetry attempts to connect with a short retry loop
func (c *SinkClient) connectWithRetry() error {
	var lastErr error
	for attempt := 0; attempt < 10; attempt++ {
		err := c.connect()
		if err == nil {
			c.logger.Info("connected to sink", "url", c.url)
			return nil
		}
		lastErr = err
		c.logger.Warn("sink connection failed; retrying...", "error", err, "attempt", attempt+1)
		time.Sleep(500 * time.Millisecond)
	}
	return fmt.Errorf("failed to connect after 10 attempts: %w", lastErr)
}

// ensureConnected checks connection and reconnects if necessary
func (c *SinkClient) ensureConnected() error {
	c.mu.Lock()
	if c.conn != nil {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	c.logger.Warn("sink connection lost; reconnecting...")
	return c.connectWithRetry()
}

// send writes one message to the sink (one-way, no response expected)
func (c *SinkClient) send(v any) error {
	if err := c.ensureConnected(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return fmt.Errorf("no websocket connection")
	}

	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		c.conn = nil // Mark connection as broken
		return err
	}

	return nil
}

// SendStep forwards one decoded step change to the sink.
func (c *SinkClient) SendStep(encoder string, steps int32, position int64) error {
	msg := sinkStepMessage{
		Type:     "step",
		Encoder:  encoder,
		Steps:    steps,
		Position: position,
	}
	if err := c.send(msg); err != nil {
		return fmt.Errorf("send step: %w", err)
	}
	c.logger.Debug("forwarded step", "encoder", encoder, "steps", steps, "position", position)
	return nil
}

// Close closes the WebSocket connection
func (c *SinkClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	return nil
}
