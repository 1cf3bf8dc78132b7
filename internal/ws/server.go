package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/kropbot/kropbot/internal/auth"
	"github.com/kropbot/kropbot/internal/config"
	"github.com/kropbot/kropbot/internal/consensus"
	"github.com/kropbot/kropbot/internal/monitor"
	"github.com/kropbot/kropbot/internal/session"
	"github.com/kropbot/kropbot/internal/telemetry"
)

const (
	maxClientMessageBytes = 4096
	maxUserIDLen          = 128
)

var errFrameTooLarge = errors.New("frame exceeds max_frame_bytes")

type Server struct {
	config          *config.Config
	engine          *consensus.Engine
	broadcaster     *Broadcaster
	verifier        *auth.Verifier
	feed            *monitor.FeedHealth
	feedSet         bool
	host            *monitor.HostSampler
	metrics         *telemetry.Metrics
	embeddedHandler http.Handler
	allowedOrigins  map[string]bool
	allowedHosts    map[string]bool
	started         time.Time
}

// NewServer wires the HTTP surface. verifier may be nil, which disables
// the /robot endpoint.
func NewServer(cfg *config.Config, engine *consensus.Engine, broadcaster *Broadcaster, verifier *auth.Verifier, embeddedHandler http.Handler) *Server {
	s := &Server{
		config:          cfg,
		engine:          engine,
		broadcaster:     broadcaster,
		verifier:        verifier,
		feed:            monitor.NewFeedHealth(cfg.Robot.StaleAfter),
		embeddedHandler: embeddedHandler,
		allowedOrigins:  make(map[string]bool),
		allowedHosts:    make(map[string]bool),
		started:         time.Now(),
	}

	for _, origin := range cfg.Server.AllowedOrigins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}
		s.allowedOrigins[trimmed] = true
		if parsed, err := url.Parse(trimmed); err == nil && parsed.Host != "" {
			s.allowedHosts[parsed.Host] = true
		}
	}

	return s
}

// SetFeedHealth replaces the robot feed tracker, typically with one whose
// status changes are also broadcast. A feed set here is reported by
// /api/health even when /robot is disabled. Must be called before Handler.
func (s *Server) SetFeedHealth(feed *monitor.FeedHealth) {
	s.feed = feed
	s.feedSet = true
}

// SetHostSampler enables host stats in /api/health.
func (s *Server) SetHostSampler(h *monitor.HostSampler) {
	s.host = h
}

func (s *Server) SetMetrics(m *telemetry.Metrics) {
	s.metrics = m
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/robot", s.handleRobot)
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/health", s.handleHealth)

	if s.embeddedHandler != nil {
		mux.Handle("/", s.embeddedHandler)
	}
	return securityHeaders(mux)
}

func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("X-XSS-Protection", "1; mode=block")
		h.Set("Content-Security-Policy", "default-src 'self'; img-src 'self' blob: data:; connect-src 'self' ws: wss:")
		h.Set("Referrer-Policy", "no-referrer")
		next.ServeHTTP(w, r)
	})
}

func (s *Server) upgrader() websocket.Upgrader {
	return websocket.Upgrader{
		CheckOrigin: s.checkOrigin,
	}
}

// atCapacity lets handlers refuse with 503 before upgrading. AddClient
// re-checks under its lock.
func (s *Server) atCapacity() bool {
	limit := s.config.Server.MaxConnections
	return limit > 0 && s.broadcaster.ClientCount() >= limit
}

// connState is per-connection bookkeeping owned by the read goroutine.
type connState struct {
	id      string
	ids     map[string]struct{}
	limiter *rate.Limiter
}

func (s *Server) newConnState() *connState {
	limit := rate.Inf
	burst := 0
	if r := s.config.Control.InstructionRate; r > 0 {
		limit = rate.Limit(r)
		burst = s.config.Control.InstructionBurst
	}
	return &connState{
		id:      uuid.NewString(),
		ids:     make(map[string]struct{}),
		limiter: rate.NewLimiter(limit, burst),
	}
}

// resolve picks the session id a message votes with. In connection mode
// the client-supplied user is ignored. The id is not recorded against the
// connection until a vote for it has been accepted.
func (s *Server) resolve(cs *connState, user string) (string, error) {
	if s.config.Control.IdentityMode == config.IdentityConnection {
		return cs.id, nil
	}

	user = strings.TrimSpace(user)
	if user == "" {
		return "", session.ErrEmptyID
	}
	if len(user) > maxUserIDLen {
		return "", ErrUserTooLong
	}
	if _, ok := cs.ids[user]; !ok {
		if len(cs.ids) >= s.config.Control.MaxIDsPerConnection {
			return "", ErrTooManyIDs
		}
	}
	return user, nil
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if s.atCapacity() {
		http.Error(w, ErrTooManyConnections.Error(), http.StatusServiceUnavailable)
		return
	}

	upgrader := s.upgrader()
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade error: %v", err)
		return
	}

	c, err := s.broadcaster.AddClient(conn, viewerClient)
	if err != nil {
		closeWith(conn, websocket.CloseTryAgainLater, err.Error())
		return
	}
	log.Printf("WebSocket client connected: %s", r.RemoteAddr)

	cs := s.newConnState()
	defer func() {
		s.broadcaster.RemoveClient(c)
		ids := make([]string, 0, len(cs.ids))
		for id := range cs.ids {
			ids = append(ids, id)
		}
		if s.config.Control.EvictOnDisconnect && len(ids) > 0 {
			s.engine.DisconnectFrom(cs.id, ids...)
		}
		log.Printf("WebSocket client disconnected: %s users=%v", r.RemoteAddr, session.MaskIDs(ids))
	}()

	conn.SetReadLimit(maxClientMessageBytes)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		conn.SetReadDeadline(time.Now().Add(pongWait))

		if mt != websocket.TextMessage {
			s.broadcaster.sendError(c, CodeBadMessage, "expected a text message")
			continue
		}
		var msg InboundMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.broadcaster.sendError(c, CodeBadMessage, "malformed message")
			continue
		}
		s.dispatch(c, cs, msg)
	}
}

func (s *Server) dispatch(c *client, cs *connState, msg InboundMessage) {
	switch msg.Type {
	case MsgClientReady:
		s.broadcaster.Subscribe(c)
	case MsgInstruction:
		s.handleInstruction(c, cs, msg.Payload)
	case MsgPing:
		s.handlePing(c, cs, msg.Payload)
	default:
		s.broadcaster.sendError(c, CodeBadMessage, fmt.Sprintf("unknown message type %q", msg.Type))
	}
}

func (s *Server) handleInstruction(c *client, cs *connState, raw json.RawMessage) {
	ctx := context.Background()
	if !cs.limiter.Allow() {
		s.broadcaster.sendError(c, CodeRateLimited, "too many instructions")
		return
	}

	var p InstructionPayload
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &p); err != nil {
			s.broadcaster.sendError(c, CodeBadMessage, "malformed instruction")
			return
		}
	}

	id, err := s.resolve(cs, p.User)
	if err != nil {
		s.metrics.InstructionRejected(ctx, err)
		s.broadcaster.sendError(c, errorCode(err), err.Error())
		return
	}

	dir, err := session.ParseDirection(p.Direction)
	if err != nil {
		s.metrics.InstructionRejected(ctx, err)
		s.broadcaster.sendError(c, errorCode(err), err.Error())
		return
	}

	if _, err := s.engine.SubmitFrom(cs.id, id, dir); err != nil {
		s.broadcaster.sendError(c, errorCode(err), err.Error())
		return
	}
	cs.ids[id] = struct{}{}
}

func (s *Server) handlePing(c *client, cs *connState, raw json.RawMessage) {
	var p PingPayload
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &p); err != nil {
			s.broadcaster.sendError(c, CodeBadMessage, "malformed ping")
			return
		}
	}
	id, err := s.resolve(cs, p.User)
	if err != nil {
		s.broadcaster.sendError(c, errorCode(err), err.Error())
		return
	}
	s.engine.Ping(id)
}

func (s *Server) handleRobot(w http.ResponseWriter, r *http.Request) {
	if s.verifier == nil {
		http.NotFound(w, r)
		return
	}
	if _, err := s.verifier.Verify(auth.TokenFromRequest(r)); err != nil {
		log.Printf("robot auth rejected from %s: %v", r.RemoteAddr, err)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if s.atCapacity() {
		http.Error(w, ErrTooManyConnections.Error(), http.StatusServiceUnavailable)
		return
	}

	upgrader := s.upgrader()
	upgrader.CheckOrigin = func(*http.Request) bool { return true }
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("robot upgrade error: %v", err)
		return
	}

	c, err := s.broadcaster.AddClient(conn, robotClient)
	if err != nil {
		closeWith(conn, websocket.CloseTryAgainLater, err.Error())
		return
	}
	log.Printf("robot connected: %s", r.RemoteAddr)
	s.feed.RecordConnect()

	var readErr error
	defer func() {
		s.broadcaster.RemoveClient(c)
		if websocket.IsCloseError(readErr, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			readErr = nil
		}
		s.feed.RecordDisconnect(readErr)
		log.Printf("robot disconnected: %s", r.RemoteAddr)
	}()

	s.broadcaster.Subscribe(c)

	maxFrame := s.config.Robot.MaxFrameBytes
	// Frames up to 4x the limit are read and discarded; anything larger
	// ends the stream.
	conn.SetReadLimit(maxFrame * 4)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		mt, reader, err := conn.NextReader()
		if err != nil {
			readErr = err
			return
		}
		conn.SetReadDeadline(time.Now().Add(pongWait))

		data, err := io.ReadAll(io.LimitReader(reader, maxFrame+1))
		if err != nil {
			readErr = err
			return
		}
		if int64(len(data)) > maxFrame {
			if _, err := io.Copy(io.Discard, reader); err != nil {
				readErr = err
				return
			}
			s.feed.RecordRejected(errFrameTooLarge)
			continue
		}

		switch mt {
		case websocket.BinaryMessage:
			s.feed.RecordFrame()
			s.broadcaster.RelayFrame(data)
		case websocket.TextMessage:
			s.handleRobotText(c, data)
		}
	}
}

func (s *Server) handleRobotText(c *client, data []byte) {
	var msg InboundMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		s.broadcaster.sendError(c, CodeBadMessage, "malformed message")
		return
	}
	switch msg.Type {
	case MsgTelemetry:
		if len(msg.Payload) == 0 || !json.Valid(msg.Payload) {
			s.broadcaster.sendError(c, CodeBadMessage, "telemetry without payload")
			return
		}
		s.broadcaster.RelayTelemetry(msg.Payload)
	default:
		s.broadcaster.sendError(c, CodeBadMessage, fmt.Sprintf("unknown message type %q", msg.Type))
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.engine.Current())
}

// HealthReport is the /api/health body.
type HealthReport struct {
	Status        string                `json:"status"`
	UptimeSeconds int64                 `json:"uptime_seconds"`
	Controllers   int                   `json:"controllers"`
	Seq           uint64                `json:"seq"`
	Relay         RelayStats            `json:"relay"`
	Feed          *monitor.FeedSnapshot `json:"feed,omitempty"`
	Host          *monitor.HostStats    `json:"host,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	current := s.engine.Current()
	report := HealthReport{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.started).Seconds()),
		Controllers:   current.NControllers,
		Seq:           current.Seq,
		Relay:         s.broadcaster.Stats(),
	}
	if s.verifier != nil || s.feedSet {
		feed := s.feed.Snapshot()
		report.Feed = &feed
	}
	if s.host != nil {
		if stats, err := s.host.Sample(r.Context()); err == nil {
			report.Host = &stats
		} else {
			log.Printf("health: host stats unavailable: %v", err)
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(report)
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	if len(s.allowedOrigins) > 0 {
		if s.allowedOrigins[origin] {
			return true
		}
		if parsed, err := url.Parse(origin); err == nil && parsed.Host != "" {
			return s.allowedHosts[parsed.Host]
		}
		return false
	}

	parsed, err := url.Parse(origin)
	if err != nil || parsed.Host == "" {
		return false
	}
	host := parsed.Host
	if host == r.Host {
		return true
	}
	hostname := parsed.Hostname()
	return hostname == "localhost" || hostname == "127.0.0.1" || hostname == "::1"
}

func closeWith(conn *websocket.Conn, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	conn.Close()
}

// ListenAndServe serves handler on addr until ctx is cancelled, then shuts
// down gracefully.
func ListenAndServe(ctx context.Context, addr string, handler http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("Server listening on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	}
}
