package ws

import (
	"encoding/json"
	"errors"

	"github.com/kropbot/kropbot/internal/session"
)

type MessageType string

// Sent by browser and terminal clients on /ws.
const (
	MsgClientReady MessageType = "client_ready"
	MsgInstruction MessageType = "instruction"
	MsgPing        MessageType = "ping"
)

// Sent by the robot on /robot. Frames arrive as binary messages.
const (
	MsgTelemetry MessageType = "telemetry"
)

// Sent by the server.
const (
	MsgUpdatedStatus  MessageType = "updated_status"
	MsgRobotTelemetry MessageType = "robot_telemetry"
	MsgSourceHealth   MessageType = "source_health"
	MsgError          MessageType = "error"
)

// Error codes carried in an error message's payload.
const (
	CodeInvalidDirection = "invalid_direction"
	CodeEmptyUser        = "empty_user"
	CodeTooManyIDs       = "too_many_ids"
	CodeRateLimited      = "rate_limited"
	CodeBadMessage       = "bad_message"
)

// WSMessage is the envelope for every JSON text message. Seq is set only
// on updated_status.
type WSMessage struct {
	Type    MessageType `json:"type"`
	Seq     uint64      `json:"seq,omitempty"`
	Payload interface{} `json:"payload,omitempty"`
}

// InboundMessage defers payload decoding until the type is known.
type InboundMessage struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// InstructionPayload is a vote. Direction is kept raw so that anything
// other than null or 1..8 can be rejected instead of coerced.
type InstructionPayload struct {
	User      string          `json:"user"`
	Direction json.RawMessage `json:"direction"`
}

type PingPayload struct {
	User string `json:"user"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

var (
	ErrTooManyIDs  = errors.New("too many user ids on one connection")
	ErrUserTooLong = errors.New("user id too long")
)

// errorCode maps a rejection to the code sent back to the client.
func errorCode(err error) string {
	switch {
	case errors.Is(err, session.ErrInvalidDirection):
		return CodeInvalidDirection
	case errors.Is(err, session.ErrEmptyID):
		return CodeEmptyUser
	case errors.Is(err, ErrTooManyIDs):
		return CodeTooManyIDs
	default:
		return CodeBadMessage
	}
}
