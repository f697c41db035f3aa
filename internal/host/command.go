package host

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// CommandName identifies a host-to-worker command.
type CommandName string

// Commands.
const (
	CmdInit             CommandName = "init"
	CmdPlay             CommandName = "play"
	CmdClose            CommandName = "close"
	CmdGetProperty      CommandName = "getProperty"
	CmdSetProperty      CommandName = "setProperty"
	CmdSetVideoBufferMs CommandName = "setVideoBufferMs"
)

// ErrBadValue is returned when a command value cannot be coerced.
var ErrBadValue = errors.New("host: bad command value")

// Command is one host-to-worker command.
type Command struct {
	Cmd     CommandName    `msgpack:"cmd" json:"cmd"`
	Options map[string]any `msgpack:"options,omitempty" json:"options,omitempty"`
	URL     string         `msgpack:"url,omitempty" json:"url,omitempty"`
	Name    string         `msgpack:"name,omitempty" json:"name,omitempty"`
	Value   any            `msgpack:"value,omitempty" json:"value,omitempty"`
}

// Int coerces a decoded command value to int64. JSON numbers, every integer
// and float width msgpack may produce, and numeric strings are accepted.
// Floats are truncated.
func Int(v any) (int64, error) {
	switch n := v.(type) {
	case int:
		return int64(n), nil
	case int8:
		return int64(n), nil
	case int16:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case int64:
		return n, nil
	case uint:
		return uintToInt(uint64(n))
	case uint8:
		return int64(n), nil
	case uint16:
		return int64(n), nil
	case uint32:
		return int64(n), nil
	case uint64:
		return uintToInt(n)
	case float32:
		return floatToInt(float64(n))
	case float64:
		return floatToInt(n)
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, nil
		}
		f, err := n.Float64()
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrBadValue, n)
		}
		return floatToInt(f)
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrBadValue, n)
		}
		return floatToInt(f)
	case bool:
		if n {
			return 1, nil
		}
		return 0, nil
	default:
		return 0, fmt.Errorf("%w: %T", ErrBadValue, v)
	}
}

// Bool coerces a decoded command value to bool. Numbers are true when
// non-zero; strings accept strconv.ParseBool forms.
func Bool(v any) (bool, error) {
	switch b := v.(type) {
	case bool:
		return b, nil
	case string:
		r, err := strconv.ParseBool(strings.TrimSpace(b))
		if err != nil {
			return false, fmt.Errorf("%w: %q", ErrBadValue, b)
		}
		return r, nil
	case nil:
		return false, nil
	default:
		n, err := Int(v)
		if err != nil {
			return false, err
		}
		return n != 0, nil
	}
}

func uintToInt(n uint64) (int64, error) {
	if n > math.MaxInt64 {
		return 0, fmt.Errorf("%w: %d overflows int64", ErrBadValue, n)
	}
	return int64(n), nil
}

func floatToInt(f float64) (int64, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f > math.MaxInt64 || f < math.MinInt64 {
		return 0, fmt.Errorf("%w: %v", ErrBadValue, f)
	}
	return int64(f), nil
}
