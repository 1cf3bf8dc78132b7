// Package client provides WebSocket and HTTP clients for the kropbot server.
// Types mirror the server wire protocol without importing server packages.
package client

import (
	"encoding/json"
	"time"
)

// MessageType identifies the kind of WebSocket message.
type MessageType string

const (
	MsgClientReady    MessageType = "client_ready"
	MsgInstruction    MessageType = "instruction"
	MsgPing           MessageType = "ping"
	MsgUpdatedStatus  MessageType = "updated_status"
	MsgRobotTelemetry MessageType = "robot_telemetry"
	MsgSourceHealth   MessageType = "source_health"
	MsgError          MessageType = "error"
)

// WSMessage is the envelope for all inbound WebSocket text messages.
type WSMessage struct {
	Type    MessageType     `json:"type"`
	Seq     uint64          `json:"seq"`
	Payload json.RawMessage `json:"payload"`
}

// Direction codes. Zero is "no direction" and travels as null.
const (
	DirNone = iota
	DirForwardRight
	DirTurnRight
	DirBackwardRight
	DirBackward
	DirBackwardLeft
	DirTurnLeft
	DirForwardLeft
	DirForward
)

// NumDirections counts DirNone too.
const NumDirections = DirForward + 1

// DirectionKey is the key a direction has in Status.TotalCounts.
func DirectionKey(dir int) string {
	if dir == DirNone {
		return "none"
	}
	return string(rune('0' + dir))
}

// Status mirrors the server's aggregate state.
type Status struct {
	Direction    *int           `json:"direction"`
	Magnitude    float64        `json:"magnitude"`
	NControllers int            `json:"n_controllers"`
	TotalCounts  map[string]int `json:"total_counts"`
	Seq          uint64         `json:"seq"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// Dir returns the winning direction code, DirNone for null.
func (s Status) Dir() int {
	if s.Direction == nil {
		return DirNone
	}
	return *s.Direction
}

// Count returns the number of controllers voting for dir.
func (s Status) Count(dir int) int {
	return s.TotalCounts[DirectionKey(dir)]
}

type Motor struct {
	Forward bool `json:"forward"`
	Speed   int  `json:"speed"`
}

type MotorCommand struct {
	Left  Motor `json:"left"`
	Right Motor `json:"right"`
}

type HostStats struct {
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryPercent float64 `json:"memory_percent"`
	UptimeSeconds uint64  `json:"uptime_seconds"`
}

// Telemetry is the robot's self-report, relayed unchanged by the server.
type Telemetry struct {
	Seq          uint64       `json:"seq"`
	Direction    *int         `json:"direction"`
	Magnitude    float64      `json:"magnitude"`
	NControllers int          `json:"n_controllers"`
	Motors       MotorCommand `json:"motors"`
	Host         *HostStats   `json:"host,omitempty"`
}

// FeedStatus is the robot feed's health.
type FeedStatus string

const (
	FeedHealthy  FeedStatus = "healthy"
	FeedDegraded FeedStatus = "degraded"
	FeedOffline  FeedStatus = "offline"
)

type SourceHealthPayload struct {
	Status         FeedStatus `json:"status"`
	Robots         int        `json:"robots"`
	FramesReceived uint64     `json:"frames_received"`
	FramesRejected uint64     `json:"frames_rejected"`
	LastFrameAt    *time.Time `json:"last_frame_at,omitempty"`
	LastError      string     `json:"last_error,omitempty"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// RelayStats mirrors the server's /api/health relay counters.
type RelayStats struct {
	Clients         int    `json:"clients"`
	Subscribers     int    `json:"subscribers"`
	StatusPublished uint64 `json:"status_published"`
	PublishFailures uint64 `json:"publish_failures"`
	FramesReceived  uint64 `json:"frames_received"`
	FramesRelayed   uint64 `json:"frames_relayed"`
	FramesDropped   uint64 `json:"frames_dropped"`
}

// Health is the /api/health body.
type Health struct {
	Status        string               `json:"status"`
	UptimeSeconds int64                `json:"uptime_seconds"`
	Controllers   int                  `json:"controllers"`
	Seq           uint64               `json:"seq"`
	Relay         RelayStats           `json:"relay"`
	Feed          *SourceHealthPayload `json:"feed,omitempty"`
	Host          *HostStats           `json:"host,omitempty"`
}
