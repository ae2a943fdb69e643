package handler

import (
	"encoding/json"
	"fmt"

	"github.com/composeforge/composeforge/internal/wire"
)

// arg decodes the i-th positional argument into out. Missing arguments (an
// args vector shorter than i+1) decode as the zero value rather than
// erroring, since several events accept trailing optional arguments.
func arg(args []json.RawMessage, i int, out any) error {
	if i >= len(args) {
		return nil
	}
	if err := json.Unmarshal(args[i], out); err != nil {
		return fmt.Errorf("argument %d: %w", i, err)
	}
	return nil
}

// requireArgs returns false if args has fewer than n elements; the caller
// sends the validation Fail itself.
func requireArgs(args []json.RawMessage, n int) bool {
	return len(args) >= n
}

// argString decodes the i-th argument as a bare string, defaulting to "".
func argString(args []json.RawMessage, i int) string {
	var s string
	_ = arg(args, i, &s)
	return s
}

// argInt decodes the i-th argument as a bare number, defaulting to 0.
func argInt(args []json.RawMessage, i int) int {
	var n int
	_ = arg(args, i, &n)
	return n
}

// replyOK is a small convenience wrapper around wire.OK that falls back to a
// Fail reply if the payload itself can't be marshaled (never expected in
// practice, since handlers only ever pass maps of JSON-safe values).
func replyOK(data any) json.RawMessage {
	payload, err := wire.OK(data)
	if err != nil {
		return wire.Fail(err.Error())
	}
	return payload
}
