package session

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// ErrInvalidDirection is returned for a direction outside the fixed set.
var ErrInvalidDirection = errors.New("invalid direction")

// Direction is a steering code. None means stop; 1..8 are headings, counted
// clockwise from forward-right with 8 being straight ahead.
type Direction uint8

const (
	None Direction = iota
	ForwardRight
	TurnRight
	BackwardRight
	Backward
	BackwardLeft
	TurnLeft
	ForwardLeft
	Forward
)

// NumDirections is the size of the fixed direction set, None included.
const NumDirections = int(Forward) + 1

var directionLabels = [NumDirections]string{
	None:          "stop",
	ForwardRight:  "forward right",
	TurnRight:     "turn right",
	BackwardRight: "backward right",
	Backward:      "backward",
	BackwardLeft:  "backward left",
	TurnLeft:      "turn left",
	ForwardLeft:   "forward left",
	Forward:       "forward",
}

// Directions lists every member of the set in code order.
func Directions() []Direction {
	out := make([]Direction, NumDirections)
	for i := range out {
		out[i] = Direction(i)
	}
	return out
}

func (d Direction) Valid() bool {
	return d <= Forward
}

// String returns "none" or the decimal code.
func (d Direction) String() string {
	if d == None {
		return "none"
	}
	return strconv.Itoa(int(d))
}

// Label is a human-readable name for display.
func (d Direction) Label() string {
	if !d.Valid() {
		return "unknown"
	}
	return directionLabels[d]
}

func (d Direction) MarshalText() ([]byte, error) {
	if !d.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidDirection, uint8(d))
	}
	return []byte(d.String()), nil
}

func (d *Direction) UnmarshalText(text []byte) error {
	if string(text) == "none" {
		*d = None
		return nil
	}
	n, err := strconv.Atoi(string(text))
	if err != nil || n < int(ForwardRight) || n > int(Forward) {
		return fmt.Errorf("%w: %q", ErrInvalidDirection, text)
	}
	*d = Direction(n)
	return nil
}

// MarshalJSON encodes None as null and headings as numbers.
func (d Direction) MarshalJSON() ([]byte, error) {
	if !d.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidDirection, uint8(d))
	}
	if d == None {
		return []byte("null"), nil
	}
	return []byte(strconv.Itoa(int(d))), nil
}

// UnmarshalJSON accepts null or a number. encoding/json also routes map
// keys through here, quoted, so a JSON string is decoded as the text form.
func (d *Direction) UnmarshalJSON(data []byte) error {
	if trimmed := bytes.TrimSpace(data); len(trimmed) > 0 && trimmed[0] == '"' {
		var text string
		if err := json.Unmarshal(trimmed, &text); err != nil {
			return fmt.Errorf("%w: %s", ErrInvalidDirection, trimmed)
		}
		return d.UnmarshalText([]byte(text))
	}
	parsed, err := ParseDirection(data)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// ParseDirection decodes a raw JSON direction value. Only null (or an
// absent value) and the integers 1..8 are accepted; zero, fractions,
// strings and out-of-range numbers all fail with ErrInvalidDirection.
func ParseDirection(raw json.RawMessage) (Direction, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || string(trimmed) == "null" {
		return None, nil
	}
	n, err := strconv.Atoi(string(trimmed))
	if err != nil || n < int(ForwardRight) || n > int(Forward) {
		return None, fmt.Errorf("%w: %s", ErrInvalidDirection, trimmed)
	}
	return Direction(n), nil
}
