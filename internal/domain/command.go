package domain

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ActionCommand addresses a vendor action as a (service id, action id) pair.
type ActionCommand struct {
	ServiceID int
	ActionID  int
}

type CommandSource string

const (
	CommandSourceModel   CommandSource = "model"
	CommandSourceDefault CommandSource = "default"
	CommandSourceManual  CommandSource = "manual"
)

// ResolvedCommand is the outcome of mapping a device model to an ActionCommand.
// MatchedKey is empty unless Source is CommandSourceModel.
type ResolvedCommand struct {
	Model      string
	MatchedKey string
	Command    ActionCommand
	Source     CommandSource
}

func NewActionCommand(siid, aiid int) (ActionCommand, error) {
	cmd := ActionCommand{ServiceID: siid, ActionID: aiid}
	if !cmd.Valid() {
		return ActionCommand{}, &CommandFormatError{Value: []int{siid, aiid}}
	}
	return cmd, nil
}

func (c ActionCommand) Valid() bool {
	return c.ServiceID >= 0 && c.ActionID >= 0
}

func (c ActionCommand) String() string {
	return fmt.Sprintf("[%d,%d]", c.ServiceID, c.ActionID)
}

func (c ActionCommand) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]int{c.ServiceID, c.ActionID})
}

func (c *ActionCommand) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return &CommandFormatError{Value: string(data)}
	}
	cmd, err := ParseActionCommand(raw)
	if err != nil {
		return err
	}
	*c = cmd
	return nil
}

// ParseActionCommand accepts the loosely typed shapes a command arrives in
// from JSON, YAML or Go callers. Integral floats are truncated; anything else
// that is not a pair of non-negative integers is rejected.
func ParseActionCommand(v any) (ActionCommand, error) {
	switch t := v.(type) {
	case ActionCommand:
		if !t.Valid() {
			return ActionCommand{}, &CommandFormatError{Value: v}
		}
		return t, nil
	case *ActionCommand:
		if t == nil {
			return ActionCommand{}, &CommandFormatError{Value: v}
		}
		return ParseActionCommand(*t)
	case [2]int:
		return parsePair(v, t[0], t[1])
	case []int:
		if len(t) != 2 {
			return ActionCommand{}, &CommandFormatError{Value: v}
		}
		return parsePair(v, t[0], t[1])
	case []any:
		if len(t) != 2 {
			return ActionCommand{}, &CommandFormatError{Value: v}
		}
		return parsePair(v, t[0], t[1])
	case map[string]any:
		return parsePair(v, t["siid"], t["aiid"])
	default:
		return ActionCommand{}, &CommandFormatError{Value: v}
	}
}

// ParseActionCommandString parses "5,3", "5 3" or "[5,3]".
func ParseActionCommandString(s string) (ActionCommand, error) {
	trimmed := strings.Trim(strings.TrimSpace(s), "[]")
	fields := strings.FieldsFunc(trimmed, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t'
	})
	if len(fields) != 2 {
		return ActionCommand{}, &CommandFormatError{Value: s}
	}
	siid, err := strconv.Atoi(fields[0])
	if err != nil {
		return ActionCommand{}, &CommandFormatError{Value: s}
	}
	aiid, err := strconv.Atoi(fields[1])
	if err != nil {
		return ActionCommand{}, &CommandFormatError{Value: s}
	}
	return parsePair(s, siid, aiid)
}

func parsePair(orig, a, b any) (ActionCommand, error) {
	siid, ok := toIndex(a)
	if !ok {
		return ActionCommand{}, &CommandFormatError{Value: orig}
	}
	aiid, ok := toIndex(b)
	if !ok {
		return ActionCommand{}, &CommandFormatError{Value: orig}
	}
	cmd := ActionCommand{ServiceID: siid, ActionID: aiid}
	if !cmd.Valid() {
		return ActionCommand{}, &CommandFormatError{Value: orig}
	}
	return cmd, nil
}

func toIndex(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, n >= 0
	case int32:
		return int(n), n >= 0
	case int64:
		return int(n), n >= 0 && n <= math.MaxInt
	case uint:
		return int(n), n <= math.MaxInt
	case uint64:
		return int(n), n <= math.MaxInt
	case float32:
		return floatIndex(float64(n))
	case float64:
		return floatIndex(n)
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return int(i), i >= 0 && i <= math.MaxInt
		}
		f, err := n.Float64()
		if err != nil {
			return 0, false
		}
		return floatIndex(f)
	default:
		return 0, false
	}
}

func floatIndex(f float64) (int, bool) {
	// float64(math.MaxInt) rounds up to 2^63, so compare with >=.
	if math.IsNaN(f) || math.IsInf(f, 0) || f < 0 || f != math.Trunc(f) || f >= float64(math.MaxInt) {
		return 0, false
	}
	return int(f), true
}
