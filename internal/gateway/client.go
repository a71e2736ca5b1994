package gateway

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

type connState int

const (
	// stateConnected is an open transport with no user yet.
	stateConnected connState = iota
	stateRegistered
	stateDisconnected
)

func (s connState) String() string {
	switch s {
	case stateConnected:
		return "connected-unregistered"
	case stateRegistered:
		return "connected-registered"
	default:
		return "disconnected"
	}
}

const ActionRegister = "register"

// inboundMessage is what clients send, e.g. {"action":"register","userId":"u1"}.
type inboundMessage struct {
	Action string `json:"action"`
	UserID string `json:"userId"`
}

type outboundMessage struct {
	Event  string `json:"event,omitempty"`
	UserID string `json:"userId,omitempty"`
	Error  string `json:"error,omitempty"`
}

var errClosed = errors.New("connection closed")

type client struct {
	id           string
	conn         *websocket.Conn
	writeTimeout time.Duration

	mu     sync.Mutex
	state  connState
	userID string
	closed bool
}

func newClient(id string, conn *websocket.Conn, writeTimeout time.Duration) *client {
	return &client{
		id:           id,
		conn:         conn,
		writeTimeout: writeTimeout,
		state:        stateConnected,
	}
}

func (c *client) writeText(payload []byte) error {
	return c.write(websocket.TextMessage, payload)
}

func (c *client) writeJSON(v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.writeText(payload)
}

func (c *client) ping() error {
	return c.write(websocket.PingMessage, nil)
}

// write serialises writers; gorilla connections allow one at a time.
func (c *client) write(messageType int, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errClosed
	}
	if c.writeTimeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	return c.conn.WriteMessage(messageType, payload)
}

// registered moves the client to stateRegistered and returns the state it
// left. A disconnected client stays disconnected and reports false.
func (c *client) registered(userID string) (connState, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	prev := c.state
	if prev == stateDisconnected {
		return prev, false
	}
	c.state = stateRegistered
	c.userID = userID
	return prev, true
}

func (c *client) snapshot() (connState, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state, c.userID
}

func (c *client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.state = stateDisconnected
	_ = c.conn.Close()
}
