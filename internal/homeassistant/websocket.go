package homeassistant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// ErrNotConnected is returned by requests made before Connect succeeds
// or after the connection drops.
var ErrNotConnected = errors.New("websocket not connected")

// WSClient manages a WebSocket connection to Home Assistant.
type WSClient struct {
	baseURL string
	token   string
	conn    *websocket.Conn
	connMu  sync.Mutex
	msgID   atomic.Int64

	pending   map[int64]chan wsResponse
	pendingMu sync.Mutex

	events chan Event

	requestTimeout time.Duration
	logger         *slog.Logger
}

// Event represents a Home Assistant event received via WebSocket.
type Event struct {
	Type      string          `json:"event_type"`
	Data      json.RawMessage `json:"data"`
	Origin    string          `json:"origin"`
	TimeFired time.Time       `json:"time_fired"`
}

// StateChangedData represents the data payload for state_changed events.
type StateChangedData struct {
	EntityID string `json:"entity_id"`
	OldState *State `json:"old_state"`
	NewState *State `json:"new_state"`
}

type wsMessage struct {
	ID      int64           `json:"id,omitempty"`
	Type    string          `json:"type"`
	Success bool            `json:"success,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Event   *Event          `json:"event,omitempty"`
	Error   *wsError        `json:"error,omitempty"`
}

type wsError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type wsResponse struct {
	Success bool
	Result  json.RawMessage
	Error   *wsError
}

// NewWSClient creates a new WebSocket client for Home Assistant.
func NewWSClient(baseURL, token string, logger *slog.Logger) *WSClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &WSClient{
		baseURL:        baseURL,
		token:          token,
		pending:        make(map[int64]chan wsResponse),
		events:         make(chan Event, 256),
		requestTimeout: 30 * time.Second,
		logger:         logger,
	}
}

// websocketURL converts the REST base URL to the WebSocket endpoint.
func websocketURL(base string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse base URL: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	default:
		return "", fmt.Errorf("unsupported URL scheme %q", u.Scheme)
	}
	u.Path = "/api/websocket"
	return u.String(), nil
}

// Connect establishes the WebSocket connection, authenticates, and
// starts the read loop.
func (c *WSClient) Connect(ctx context.Context) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	wsURL, err := websocketURL(c.baseURL)
	if err != nil {
		return err
	}
	c.logger.Info("connecting to Home Assistant WebSocket", "url", wsURL)

	// A full get_states result can run to several megabytes.
	dialer := websocket.Dialer{
		ReadBufferSize:   1024 * 1024,
		WriteBufferSize:  64 * 1024,
		HandshakeTimeout: 15 * time.Second,
	}
	conn, _, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial websocket: %w", err)
	}
	conn.SetReadLimit(64 * 1024 * 1024)

	if err := authenticate(conn, c.token); err != nil {
		conn.Close()
		return err
	}

	c.conn = conn
	c.logger.Info("WebSocket authenticated")

	go c.readLoop(conn)
	return nil
}

func authenticate(conn *websocket.Conn, token string) error {
	var authReq wsMessage
	if err := conn.ReadJSON(&authReq); err != nil {
		return fmt.Errorf("read auth_required: %w", err)
	}
	if authReq.Type != "auth_required" {
		return fmt.Errorf("expected auth_required, got %s", authReq.Type)
	}

	if err := conn.WriteJSON(map[string]string{
		"type":         "auth",
		"access_token": token,
	}); err != nil {
		return fmt.Errorf("send auth: %w", err)
	}

	var authResp wsMessage
	if err := conn.ReadJSON(&authResp); err != nil {
		return fmt.Errorf("read auth response: %w", err)
	}
	switch authResp.Type {
	case "auth_ok":
		return nil
	case "auth_invalid":
		return errors.New("authentication failed")
	default:
		return fmt.Errorf("unexpected auth response: %s", authResp.Type)
	}
}

// Close closes the WebSocket connection.
func (c *WSClient) Close() error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

// Reconnect closes the existing connection (if any) and dials again.
// Subscriptions are not restored; callers re-subscribe.
func (c *WSClient) Reconnect(ctx context.Context) error {
	c.logger.Info("reconnecting WebSocket")
	_ = c.Close()
	return c.Connect(ctx)
}

// Events returns the channel for receiving subscribed events.
func (c *WSClient) Events() <-chan Event {
	return c.events
}

// Subscribe subscribes to a Home Assistant event type.
func (c *WSClient) Subscribe(ctx context.Context, eventType string) error {
	id := c.msgID.Add(1)
	msg := map[string]any{
		"id":         id,
		"type":       "subscribe_events",
		"event_type": eventType,
	}
	if _, err := c.sendAndWait(ctx, id, msg); err != nil {
		return fmt.Errorf("subscribe to %s: %w", eventType, err)
	}
	c.logger.Info("subscribed to events", "event_type", eventType)
	return nil
}

// GetStates retrieves all entity states over the WebSocket.
func (c *WSClient) GetStates(ctx context.Context) ([]State, error) {
	id := c.msgID.Add(1)
	resp, err := c.sendAndWait(ctx, id, map[string]any{
		"id":   id,
		"type": "get_states",
	})
	if err != nil {
		return nil, fmt.Errorf("get states: %w", err)
	}

	var states []State
	if err := json.Unmarshal(resp, &states); err != nil {
		return nil, fmt.Errorf("unmarshal states: %w", err)
	}
	return states, nil
}

func (c *WSClient) sendAndWait(ctx context.Context, id int64, msg any) (json.RawMessage, error) {
	respCh := make(chan wsResponse, 1)
	c.pendingMu.Lock()
	c.pending[id] = respCh
	c.pendingMu.Unlock()

	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
	}()

	c.connMu.Lock()
	if c.conn == nil {
		c.connMu.Unlock()
		return nil, ErrNotConnected
	}
	err := c.conn.WriteJSON(msg)
	c.connMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("send message: %w", err)
	}

	timer := time.NewTimer(c.requestTimeout)
	defer timer.Stop()

	select {
	case resp := <-respCh:
		if !resp.Success {
			if resp.Error != nil {
				return nil, fmt.Errorf("%s: %s", resp.Error.Code, resp.Error.Message)
			}
			return nil, errors.New("request failed")
		}
		return resp.Result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, errors.New("timeout waiting for response")
	}
}

// readLoop reads messages until the connection closes. Reconnection is
// driven by connwatch through Reconnect.
func (c *WSClient) readLoop(conn *websocket.Conn) {
	for {
		var msg wsMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Info("WebSocket closed normally")
			} else {
				c.logger.Warn("WebSocket read error, connection lost", "error", err)
			}
			c.connMu.Lock()
			if c.conn == conn {
				c.conn = nil
			}
			c.connMu.Unlock()
			return
		}

		switch msg.Type {
		case "result":
			c.pendingMu.Lock()
			if ch, ok := c.pending[msg.ID]; ok {
				ch <- wsResponse{Success: msg.Success, Result: msg.Result, Error: msg.Error}
			}
			c.pendingMu.Unlock()

		case "event":
			if msg.Event != nil {
				select {
				case c.events <- *msg.Event:
				default:
					c.logger.Warn("event channel full, dropping event", "type", msg.Event.Type)
				}
			}

		case "pong":

		default:
			c.logger.Debug("unhandled WebSocket message type", "type", msg.Type)
		}
	}
}
