package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/gorilla/websocket"
)

const (
	reconnectBaseDelay = 1 * time.Second
	reconnectMaxDelay  = 30 * time.Second
	writeTimeout       = 10 * time.Second
	pongTimeout        = 60 * time.Second
	pingInterval       = 30 * time.Second
)

var ErrNotConnected = errors.New("not connected")

// WSClient manages the WebSocket connection to the kropbot server.
type WSClient struct {
	url  string
	user string

	mu      sync.Mutex
	writeMu sync.Mutex // serialises all conn writes (ping, instructions)
	conn    *websocket.Conn
	seq     uint64
	pingCtx context.CancelFunc // cancels the active ping goroutine
}

// NewWSClient creates a client that connects to the given WebSocket URL
// and votes as user.
func NewWSClient(url, user string) *WSClient {
	return &WSClient{url: url, user: user}
}

// WSConnectedMsg is sent when the WebSocket connects.
type WSConnectedMsg struct{}

// WSDisconnectedMsg is sent when the connection drops.
type WSDisconnectedMsg struct{ Err error }

// WSStatusMsg delivers an aggregate state.
type WSStatusMsg struct{ Status Status }

// WSTelemetryMsg delivers robot telemetry.
type WSTelemetryMsg struct{ Payload Telemetry }

// WSFrameMsg reports a camera frame. Terminals cannot show JPEGs, so
// only its size is kept.
type WSFrameMsg struct {
	Size int
	At   time.Time
}

// WSSourceHealthMsg reports robot feed health changes.
type WSSourceHealthMsg struct{ Payload SourceHealthPayload }

// WSErrorMsg wraps a server-side rejection.
type WSErrorMsg struct{ Payload ErrorPayload }

// Listen returns a Bubble Tea command that connects, subscribes and
// reports WSConnectedMsg. Callers re-issue it after a disconnect.
func (c *WSClient) Listen(ctx context.Context) tea.Cmd {
	return func() tea.Msg {
		for delay := reconnectBaseDelay; ; delay = min(delay*2, reconnectMaxDelay) {
			conn, err := c.connect(ctx)
			if err == nil {
				c.attach(ctx, conn)
				return WSConnectedMsg{}
			}
			if ctx.Err() != nil {
				return nil
			}
			log.Printf("ws connect: %v (retry in %v)", err, delay)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(delay):
			}
		}
	}
}

// connect dials and subscribes. The connection is not shared until
// attach, so the ready message is written without writeMu.
func (c *WSClient) connect(ctx context.Context) (*websocket.Conn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return nil, err
	}
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteJSON(outbound{Type: MsgClientReady}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("client_ready: %w", err)
	}
	return conn, nil
}

// attach makes conn the active connection and restarts the keepalive.
// The server numbers statuses per process, so seq tracking starts over.
func (c *WSClient) attach(ctx context.Context, conn *websocket.Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pingCtx != nil {
		c.pingCtx()
	}
	conn.SetReadDeadline(time.Now().Add(pongTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongTimeout))
	})

	pingCtx, cancel := context.WithCancel(ctx)
	c.conn = conn
	c.seq = 0
	c.pingCtx = cancel
	go c.pingLoop(pingCtx, conn)
}

// ReadLoop returns a Bubble Tea command that reads until the next message
// worth reporting. It should be started after receiving WSConnectedMsg
// and re-issued after each message it returns.
func (c *WSClient) ReadLoop(ctx context.Context) tea.Cmd {
	return func() tea.Msg {
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn == nil {
			return WSDisconnectedMsg{Err: ErrNotConnected}
		}

		for {
			mt, data, err := conn.ReadMessage()
			if err != nil {
				c.detach(conn)
				return WSDisconnectedMsg{Err: err}
			}
			conn.SetReadDeadline(time.Now().Add(pongTimeout))

			if mt == websocket.BinaryMessage {
				return WSFrameMsg{Size: len(data), At: time.Now()}
			}

			var msg WSMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				continue
			}
			if teaMsg := c.dispatch(msg); teaMsg != nil {
				return teaMsg
			}
		}
	}
}

// detach drops conn if it is still the active connection.
func (c *WSClient) detach(conn *websocket.Conn) {
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
		if c.pingCtx != nil {
			c.pingCtx()
			c.pingCtx = nil
		}
	}
	c.mu.Unlock()
	conn.Close()
}

// pingLoop sends periodic pings on the given connection. It exits when the
// context is cancelled or the connection changes.
func (c *WSClient) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			cc := c.conn
			c.mu.Unlock()
			if cc != conn {
				return
			}
			c.writeMu.Lock()
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// outbound is the envelope for messages this client sends.
type outbound struct {
	Type    MessageType `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
}

type instructionPayload struct {
	User string `json:"user"`
	// nil marshals as null, the stop vote.
	Direction *int `json:"direction"`
}

type pingPayload struct {
	User string `json:"user"`
}

func (c *WSClient) send(msg outbound) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteJSON(msg)
}

// SendInstruction votes for dir. DirNone is sent as null, which is a stop
// vote rather than a withdrawal.
func (c *WSClient) SendInstruction(dir int) error {
	p := instructionPayload{User: c.user}
	if dir != DirNone {
		p.Direction = &dir
	}
	return c.send(outbound{Type: MsgInstruction, Payload: p})
}

// SendPing refreshes the session without changing the vote.
func (c *WSClient) SendPing() error {
	return c.send(outbound{Type: MsgPing, Payload: pingPayload{User: c.user}})
}

// User returns the controller id this client votes as.
func (c *WSClient) User() string {
	return c.user
}

// Seq returns the last seen status sequence number.
func (c *WSClient) Seq() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seq
}

func (c *WSClient) dispatch(msg WSMessage) tea.Msg {
	switch msg.Type {
	case MsgUpdatedStatus:
		var st Status
		if json.Unmarshal(msg.Payload, &st) != nil {
			return nil
		}
		c.mu.Lock()
		stale := st.Seq < c.seq
		if !stale {
			c.seq = st.Seq
		}
		c.mu.Unlock()
		if !stale {
			return WSStatusMsg{Status: st}
		}
	case MsgRobotTelemetry:
		var p Telemetry
		if json.Unmarshal(msg.Payload, &p) == nil {
			return WSTelemetryMsg{Payload: p}
		}
	case MsgSourceHealth:
		var p SourceHealthPayload
		if json.Unmarshal(msg.Payload, &p) == nil {
			return WSSourceHealthMsg{Payload: p}
		}
	case MsgError:
		var p ErrorPayload
		if json.Unmarshal(msg.Payload, &p) == nil {
			return WSErrorMsg{Payload: p}
		}
	}
	return nil
}
