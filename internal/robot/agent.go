// Package robot is the on-board agent: it streams camera frames to the
// server and drives the motors from the consensus it receives back.
package robot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kropbot/kropbot/internal/auth"
	"github.com/kropbot/kropbot/internal/camera"
	"github.com/kropbot/kropbot/internal/consensus"
	"github.com/kropbot/kropbot/internal/drive"
	"github.com/kropbot/kropbot/internal/monitor"
	"github.com/kropbot/kropbot/internal/session"
)

const (
	reconnectBaseDelay = 1 * time.Second
	reconnectMaxDelay  = 30 * time.Second
	writeTimeout       = 5 * time.Second
)

// ErrUnauthorized means the server rejected the robot token.
var ErrUnauthorized = errors.New("server rejected robot token")

type Config struct {
	URL               string        // e.g. ws://localhost:8080/robot
	Secret            string        // shared robot secret
	FPS               int           // camera frames per second
	TelemetryInterval time.Duration // 0 disables telemetry
	// StatusTimeout releases the motors when no status arrives for this
	// long. Must exceed the server's resend interval.
	StatusTimeout time.Duration
	TokenTTL      time.Duration
}

type Agent struct {
	cfg      Config
	verifier *auth.Verifier
	source   camera.Source
	motors   drive.Motors
	dialer   *websocket.Dialer

	writeMu sync.Mutex

	mu         sync.Mutex
	last       consensus.State
	lastCmd    drive.Command
	lastStatus time.Time
}

func NewAgent(cfg Config, source camera.Source, motors drive.Motors) (*Agent, error) {
	verifier, err := auth.NewVerifier(cfg.Secret)
	if err != nil {
		return nil, err
	}
	if cfg.FPS <= 0 {
		cfg.FPS = camera.DefaultFPS
	}
	if cfg.StatusTimeout <= 0 {
		cfg.StatusTimeout = 12 * time.Second
	}
	return &Agent{
		cfg:      cfg,
		verifier: verifier,
		source:   source,
		motors:   motors,
		dialer:   &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
	}, nil
}

// Run keeps a session open until ctx is cancelled, reconnecting with
// exponential backoff. The motors are released whenever contact is lost
// and on return.
func (a *Agent) Run(ctx context.Context) error {
	defer a.release("shutdown")

	delay := reconnectBaseDelay
	for {
		connected, err := a.session(ctx)
		if ctx.Err() != nil {
			return nil
		}
		a.release("connection lost")
		if connected {
			delay = reconnectBaseDelay
		}
		log.Printf("robot: session ended: %v (retry in %v)", err, delay)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
		delay = min(delay*2, reconnectMaxDelay)
	}
}

// session runs one connection. connected reports whether the handshake
// succeeded.
func (a *Agent) session(ctx context.Context) (connected bool, err error) {
	token, err := a.verifier.Issue(a.cfg.TokenTTL, time.Now())
	if err != nil {
		return false, err
	}
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	conn, resp, err := a.dialer.DialContext(ctx, a.cfg.URL, header)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return false, ErrUnauthorized
		}
		return false, fmt.Errorf("dial %s: %w", a.cfg.URL, err)
	}
	defer conn.Close()
	log.Printf("robot: connected to %s", a.cfg.URL)

	// A restarted server numbers statuses from 1 again.
	a.mu.Lock()
	a.lastStatus = time.Now()
	a.last = consensus.State{}
	a.mu.Unlock()

	sessCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 3)
	go func() {
		errCh <- camera.Stream(sessCtx, a.source, a.cfg.FPS, func(frame []byte) error {
			return a.write(conn, websocket.BinaryMessage, frame)
		})
	}()
	go func() { errCh <- a.watchLoop(sessCtx, conn) }()
	go func() { errCh <- a.readLoop(conn) }()

	select {
	case <-ctx.Done():
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "robot shutting down")
		a.writeMu.Lock()
		conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		a.writeMu.Unlock()
		return true, ctx.Err()
	case err := <-errCh:
		return true, err
	}
}

func (a *Agent) write(conn *websocket.Conn, messageType int, data []byte) error {
	a.writeMu.Lock()
	defer a.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteMessage(messageType, data)
}

type envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func (a *Agent) readLoop(conn *websocket.Conn) error {
	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		if mt != websocket.TextMessage {
			continue
		}
		var msg envelope
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Printf("robot: malformed message: %v", err)
			continue
		}
		switch msg.Type {
		case "updated_status":
			var st consensus.State
			if err := json.Unmarshal(msg.Payload, &st); err != nil {
				log.Printf("robot: malformed status: %v", err)
				continue
			}
			a.apply(st)
		case "error":
			log.Printf("robot: server error: %s", msg.Payload)
		}
	}
}

// apply actuates a status unless it is older than the one already applied.
func (a *Agent) apply(st consensus.State) {
	a.mu.Lock()
	if st.Seq != 0 && st.Seq < a.last.Seq {
		a.mu.Unlock()
		return
	}
	a.lastStatus = time.Now()
	cmd := drive.Mix(st)
	a.last = st
	a.lastCmd = cmd
	a.mu.Unlock()

	if err := a.motors.Apply(cmd); err != nil {
		log.Printf("robot: motor error: %v", err)
	}
}

func (a *Agent) release(reason string) {
	a.mu.Lock()
	a.lastCmd = drive.Command{}
	a.mu.Unlock()
	if err := a.motors.Release(); err != nil {
		log.Printf("robot: release motors (%s): %v", reason, err)
	}
}

// watchLoop sends telemetry and stops the robot when the server goes
// quiet.
func (a *Agent) watchLoop(ctx context.Context, conn *websocket.Conn) error {
	interval := a.cfg.TelemetryInterval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		a.mu.Lock()
		quiet := time.Since(a.lastStatus) > a.cfg.StatusTimeout
		a.mu.Unlock()
		if quiet {
			a.release("no status from server")
		}

		if a.cfg.TelemetryInterval <= 0 {
			continue
		}
		data, err := json.Marshal(map[string]interface{}{
			"type":    "telemetry",
			"payload": a.Telemetry(ctx),
		})
		if err != nil {
			return err
		}
		if err := a.write(conn, websocket.TextMessage, data); err != nil {
			return err
		}
	}
}

// Telemetry is what the robot reports about itself.
type Telemetry struct {
	Seq          uint64             `json:"seq"`
	Direction    session.Direction  `json:"direction"`
	Magnitude    float64            `json:"magnitude"`
	NControllers int                `json:"n_controllers"`
	Motors       drive.Command      `json:"motors"`
	Host         *monitor.HostStats `json:"host,omitempty"`
}

func (a *Agent) Telemetry(ctx context.Context) Telemetry {
	a.mu.Lock()
	t := Telemetry{
		Seq:          a.last.Seq,
		Direction:    a.last.Direction,
		Magnitude:    a.last.Magnitude,
		NControllers: a.last.NControllers,
		Motors:       a.lastCmd,
	}
	a.mu.Unlock()

	if stats, err := monitor.ReadHost(ctx); err == nil {
		t.Host = &stats
	}
	return t
}

// Last returns the most recently applied status.
func (a *Agent) Last() consensus.State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.last
}
