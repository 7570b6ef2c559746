package ami

import (
	"fmt"
	"strings"
)

// KV is an ordered key/value pair, used where repeat semantics matter
// (Variable: lines) and a map would silently collapse duplicates.
type KV struct {
	Key   string
	Value string
}

// Action is an opaque-to-the-core outgoing command. The core only
// needs Name, an encoder-assigned ActionID, the flat body, the
// repeating Variable list, and how its outcome resolves.
type Action struct {
	Name string
	// Fields is the action body, in the order it should be written.
	// Do not set "Action" or "ActionID" here — the encoder owns both.
	Fields []KV
	// Variable holds repeating Variable: lines, in order. Encoding
	// three pairs produces three separate "Variable: k=v" lines, never
	// a merged comma list (spec section 8, scenario 6).
	Variable []KV
	// Shape overrides the Registry's default completion shape for this
	// specific submission (e.g. tracking an async Originate via its
	// OriginateResponse terminator). Nil means "ask the Registry".
	Shape *ActionSpec
}

// Validate rejects actions missing a name before anything is sent,
// per the InvalidArgument error kind (spec section 7).
func (a Action) Validate() error {
	if strings.TrimSpace(a.Name) == "" {
		return newError(KindInvalidArgument, "action Name is required", nil)
	}
	return nil
}

// encode renders the action as wire bytes, given the actionID the
// caller (the session) has already reserved. Encoding is deterministic
// and preserves field and variable order.
func encode(a Action, actionID string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "Action: %s\r\n", a.Name)
	for _, kv := range a.Fields {
		fmt.Fprintf(&b, "%s: %s\r\n", kv.Key, kv.Value)
	}
	for _, v := range a.Variable {
		fmt.Fprintf(&b, "Variable: %s=%s\r\n", v.Key, v.Value)
	}
	fmt.Fprintf(&b, "ActionID: %s\r\n", actionID)
	b.WriteString("\r\n")
	return []byte(b.String())
}
