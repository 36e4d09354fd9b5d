package state_machine

import (
	"fmt"
	"strings"
)

// key and value length limits, same as the binary codec used to have
const (
	maxKeyLen   = 1024
	maxValueLen = 1024 * 1024
)

// State is the replicated application state.
// A State is a value: Apply never mutates the State it was given.
type State struct {
	// Applied counts the operations applied so far, one per decided slot / committed index
	Applied uint64 `json:"applied"`

	// Last is the op string of the most recent operation
	Last string `json:"last"`

	// Data is the key-value part touched by set/get/del
	Data map[string]string `json:"data,omitempty"`
}

// Result is what the client sees for one operation, either a value or an error.
type Result struct {
	Value string `json:"value,omitempty"`
	Err   string `json:"err,omitempty"`
}

func (r Result) OK() bool {
	return r.Err == ""
}

// Get returns the value stored under key
func (s State) Get(key string) (string, bool) {
	var v, ok = s.Data[key]
	return v, ok
}

// Apply applies op to prev and returns the new state with the client-visible result.
//
// Every op advances Applied, including the ones that fail to parse, so two replicas that
// apply the same sequence end up with identical states.
func Apply(prev State, op string) (State, Result) {
	var next = prev
	next.Applied++
	next.Last = op

	var cmd, err = decodeCmd(op)
	if err != nil {
		return next, Result{Err: err.Error()}
	}

	switch cmd.kind {
	case cmdRecord:
		return next, Result{Value: cmd.value}

	case cmdSet:
		next.Data = cloneData(prev.Data)
		next.Data[cmd.key] = cmd.value
		return next, Result{Value: cmd.value}

	case cmdGet:
		var value, ok = prev.Data[cmd.key]
		if !ok {
			return next, Result{Err: fmt.Sprintf("key not found: %s", cmd.key)}
		}
		return next, Result{Value: value}

	case cmdDel:
		var value, ok = prev.Data[cmd.key]
		if !ok {
			return next, Result{Err: fmt.Sprintf("key not found: %s", cmd.key)}
		}
		next.Data = cloneData(prev.Data)
		delete(next.Data, cmd.key)
		return next, Result{Value: value}
	}

	return next, Result{Err: fmt.Sprintf("unsupported command kind: %d", cmd.kind)}
}

func cloneData(data map[string]string) map[string]string {
	var res = make(map[string]string, len(data)+1)
	for k, v := range data {
		res[k] = v
	}
	return res
}

// decodeCmd parses an op string into a command
/*
	op string format:
	set <key> <value>  - value is the rest of the line, may contain spaces
	get <key>
	del <key>
	anything else      - opaque value, recorded as is
*/
func decodeCmd(op string) (command, error) {
	var cmd command

	var fields = strings.SplitN(op, " ", 3)
	switch strings.ToLower(fields[0]) {
	case "set":
		cmd.kind = cmdSet
		if len(fields) < 3 {
			return cmd, fmt.Errorf("set needs a key and a value: %q", op)
		}
		cmd.value = fields[2]
		if len(cmd.value) > maxValueLen {
			return cmd, fmt.Errorf("invalid value length: %d", len(cmd.value))
		}

	case "get", "del":
		cmd.kind = cmdGet
		if strings.ToLower(fields[0]) == "del" {
			cmd.kind = cmdDel
		}
		if len(fields) != 2 {
			return cmd, fmt.Errorf("%s needs exactly one key: %q", fields[0], op)
		}

	default:
		return command{kind: cmdRecord, value: op}, nil
	}

	cmd.key = fields[1]
	if len(cmd.key) == 0 || len(cmd.key) > maxKeyLen {
		return cmd, fmt.Errorf("invalid key length: %d", len(cmd.key))
	}

	return cmd, nil
}

// encodeCmd is the inverse of decodeCmd
func encodeCmd(cmd command) (string, error) {
	switch cmd.kind {
	case cmdRecord:
		return cmd.value, nil
	case cmdSet, cmdGet, cmdDel:
	default:
		return "", fmt.Errorf("unsupported command kind: %d", cmd.kind)
	}

	if len(cmd.key) == 0 {
		return "", fmt.Errorf("key cannot be empty")
	}
	if strings.Contains(cmd.key, " ") {
		return "", fmt.Errorf("key cannot contain spaces: %q", cmd.key)
	}
	if len(cmd.key) > maxKeyLen {
		return "", fmt.Errorf("key too large: %d bytes", len(cmd.key))
	}

	if cmd.kind != cmdSet {
		return cmd.kind.String() + " " + cmd.key, nil
	}

	if len(cmd.value) == 0 {
		return "", fmt.Errorf("value cannot be empty for SET")
	}
	if len(cmd.value) > maxValueLen {
		return "", fmt.Errorf("value too large: %d bytes", len(cmd.value))
	}

	return "set " + cmd.key + " " + cmd.value, nil
}

// Set builds the op string storing value under key
func Set(key, value string) string {
	var op, err = encodeCmd(command{kind: cmdSet, key: key, value: value})
	if err != nil {
		return ""
	}
	return op
}

// Get builds the op string reading key
func Get(key string) string {
	var op, err = encodeCmd(command{kind: cmdGet, key: key})
	if err != nil {
		return ""
	}
	return op
}
