package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/kropbot/kropbot/internal/consensus"
	"github.com/kropbot/kropbot/internal/telemetry"
)

// ErrTooManyConnections is returned by AddClient when the connection cap
// is reached.
var ErrTooManyConnections = errors.New("too many connections")

const (
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

type clientKind int

const (
	viewerClient clientKind = iota
	robotClient
)

func (k clientKind) String() string {
	if k == robotClient {
		return "robot"
	}
	return "viewer"
}

type client struct {
	id     string
	kind   clientKind
	conn   *websocket.Conn
	b      *Broadcaster
	send   chan []byte
	frames chan []byte // single slot; a busy slot drops the newer frame
	done   chan struct{}

	closeOnce  sync.Once
	subscribed atomic.Bool
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.b.RemoveClient(c)
	}()

	for {
		select {
		case <-c.done:
			return
		case msg := <-c.send:
			if err := c.write(websocket.TextMessage, msg); err != nil {
				return
			}
		case frame := <-c.frames:
			if err := c.write(websocket.BinaryMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			deadline := time.Now().Add(c.b.opts.WriteTimeout)
			if err := c.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		}
	}
}

func (c *client) write(messageType int, data []byte) error {
	c.conn.SetWriteDeadline(time.Now().Add(c.b.opts.WriteTimeout))
	return c.conn.WriteMessage(messageType, data)
}

// offer enqueues without blocking and reports whether there was room.
func (c *client) offer(data []byte) bool {
	select {
	case <-c.done:
		return true
	default:
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *client) shutdown() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

// Done is closed once the client has been removed.
func (c *client) Done() <-chan struct{} {
	return c.done
}

type BroadcastOptions struct {
	SendBuffer     int
	WriteTimeout   time.Duration
	ResendInterval time.Duration // 0 disables the periodic resend
	MaxConnections int           // 0 means unlimited
}

// RelayStats are cumulative counters reported by /api/health.
type RelayStats struct {
	Clients         int    `json:"clients"`
	Subscribers     int    `json:"subscribers"`
	StatusPublished uint64 `json:"status_published"`
	PublishFailures uint64 `json:"publish_failures"`
	FramesReceived  uint64 `json:"frames_received"`
	FramesRelayed   uint64 `json:"frames_relayed"`
	FramesDropped   uint64 `json:"frames_dropped"`
}

// Broadcaster fans consensus updates, camera frames and robot telemetry
// out to connected clients. Nothing on the publish path blocks on a
// client: status messages go to a bounded queue (full queue disconnects
// the client) and frames to a one-slot mailbox (busy slot drops the frame).
type Broadcaster struct {
	mu      sync.RWMutex
	clients map[*client]bool
	opts    BroadcastOptions
	metrics *telemetry.Metrics

	// statusMu orders publish, resend and subscribe so a client never
	// sees an older status after a newer one.
	statusMu   sync.Mutex
	lastStatus []byte

	statusPublished atomic.Uint64
	publishFailures atomic.Uint64
	framesReceived  atomic.Uint64
	framesRelayed   atomic.Uint64
	framesDropped   atomic.Uint64

	stop     chan struct{}
	stopOnce sync.Once
}

func NewBroadcaster(opts BroadcastOptions) *Broadcaster {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 64
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 5 * time.Second
	}
	b := &Broadcaster{
		clients: make(map[*client]bool),
		opts:    opts,
		stop:    make(chan struct{}),
	}
	if opts.ResendInterval > 0 {
		go b.resendLoop(opts.ResendInterval)
	}
	return b
}

// SetMetrics attaches instrumentation. Must be called before use.
func (b *Broadcaster) SetMetrics(m *telemetry.Metrics) {
	b.metrics = m
}

// AddClient registers conn and starts its write pump. The client receives
// nothing until Subscribe, except direct replies via SendTo.
func (b *Broadcaster) AddClient(conn *websocket.Conn, kind clientKind) (*client, error) {
	c := &client{
		id:     uuid.NewString(),
		kind:   kind,
		conn:   conn,
		b:      b,
		send:   make(chan []byte, b.opts.SendBuffer),
		frames: make(chan []byte, 1),
		done:   make(chan struct{}),
	}

	b.mu.Lock()
	if b.opts.MaxConnections > 0 && len(b.clients) >= b.opts.MaxConnections {
		b.mu.Unlock()
		return nil, ErrTooManyConnections
	}
	b.clients[c] = true
	b.mu.Unlock()

	go c.writePump()
	return c, nil
}

func (b *Broadcaster) RemoveClient(c *client) {
	b.mu.Lock()
	_, ok := b.clients[c]
	delete(b.clients, c)
	b.mu.Unlock()

	c.shutdown()
	if ok {
		log.Printf("ws %s client %s removed", c.kind, c.id[:8])
	}
}

// Subscribe starts status delivery to c and immediately queues the most
// recent status, if any.
func (b *Broadcaster) Subscribe(c *client) {
	b.statusMu.Lock()
	defer b.statusMu.Unlock()

	if c.subscribed.Swap(true) {
		return
	}
	if b.lastStatus != nil && !c.offer(b.lastStatus) {
		b.fail(c)
	}
}

// Publish implements consensus.Publisher. It runs under the registry lock,
// so it only encodes and enqueues.
func (b *Broadcaster) Publish(st consensus.State) {
	data, err := json.Marshal(WSMessage{
		Type:    MsgUpdatedStatus,
		Seq:     st.Seq,
		Payload: st,
	})
	if err != nil {
		log.Printf("broadcast marshal error: %v", err)
		return
	}

	b.statusMu.Lock()
	b.lastStatus = data
	failed := b.fanout(data, func(c *client) bool { return c.subscribed.Load() })
	b.statusMu.Unlock()

	b.statusPublished.Add(1)
	b.metrics.StatusPublished(context.Background())
	for _, c := range failed {
		b.fail(c)
	}
}

// fanout offers data to every client accepted by filter and returns those
// whose queue was full.
func (b *Broadcaster) fanout(data []byte, filter func(*client) bool) []*client {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var failed []*client
	for c := range b.clients {
		if !filter(c) {
			continue
		}
		if !c.offer(data) {
			failed = append(failed, c)
		}
	}
	return failed
}

func (b *Broadcaster) fail(c *client) {
	log.Printf("ws client too slow, disconnecting %s", c.id[:8])
	b.publishFailures.Add(1)
	b.metrics.PublishFailed(context.Background())
	b.RemoveClient(c)
}

func (b *Broadcaster) resendLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-b.stop:
			return
		case <-ticker.C:
			b.resend()
		}
	}
}

// resend re-queues the last status. A full queue is skipped rather than
// treated as a failure: the client already holds a newer or equal status.
func (b *Broadcaster) resend() {
	b.statusMu.Lock()
	defer b.statusMu.Unlock()
	if b.lastStatus == nil {
		return
	}
	b.fanout(b.lastStatus, func(c *client) bool { return c.subscribed.Load() })
}

// RelayFrame hands a camera frame to every subscribed viewer. The frame
// must not be modified afterwards.
func (b *Broadcaster) RelayFrame(frame []byte) {
	b.framesReceived.Add(1)

	var relayed, dropped int
	b.mu.RLock()
	for c := range b.clients {
		if c.kind != viewerClient || !c.subscribed.Load() {
			continue
		}
		select {
		case c.frames <- frame:
			relayed++
		default:
			dropped++
		}
	}
	b.mu.RUnlock()

	b.framesRelayed.Add(uint64(relayed))
	b.framesDropped.Add(uint64(dropped))
	ctx := context.Background()
	b.metrics.FrameRelayed(ctx, relayed)
	b.metrics.FrameDropped(ctx, dropped)
}

// Notify sends a best-effort message to subscribed viewers. Unlike status
// updates, a full queue just skips the message.
func (b *Broadcaster) Notify(typ MessageType, payload interface{}) {
	data, err := json.Marshal(WSMessage{Type: typ, Payload: payload})
	if err != nil {
		log.Printf("broadcast marshal error: %v", err)
		return
	}
	b.fanout(data, func(c *client) bool {
		return c.kind == viewerClient && c.subscribed.Load()
	})
}

// RelayTelemetry forwards the robot's telemetry document unchanged.
func (b *Broadcaster) RelayTelemetry(raw json.RawMessage) {
	b.Notify(MsgRobotTelemetry, raw)
}

// SendTo queues a message for one client. It reports false if the queue
// was full.
func (b *Broadcaster) SendTo(c *client, msg WSMessage) bool {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("broadcast marshal error: %v", err)
		return false
	}
	return c.offer(data)
}

func (b *Broadcaster) sendError(c *client, code, message string) {
	b.SendTo(c, WSMessage{
		Type:    MsgError,
		Payload: ErrorPayload{Code: code, Message: message},
	})
}

func (b *Broadcaster) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

func (b *Broadcaster) Stats() RelayStats {
	b.mu.RLock()
	clients := len(b.clients)
	subs := 0
	for c := range b.clients {
		if c.subscribed.Load() {
			subs++
		}
	}
	b.mu.RUnlock()

	return RelayStats{
		Clients:         clients,
		Subscribers:     subs,
		StatusPublished: b.statusPublished.Load(),
		PublishFailures: b.publishFailures.Load(),
		FramesReceived:  b.framesReceived.Load(),
		FramesRelayed:   b.framesRelayed.Load(),
		FramesDropped:   b.framesDropped.Load(),
	}
}

// Stop ends the resend loop and disconnects every client.
func (b *Broadcaster) Stop() {
	b.stopOnce.Do(func() { close(b.stop) })

	b.mu.Lock()
	clients := make([]*client, 0, len(b.clients))
	for c := range b.clients {
		clients = append(clients, c)
	}
	b.clients = make(map[*client]bool)
	b.mu.Unlock()

	for _, c := range clients {
		c.shutdown()
	}
}
