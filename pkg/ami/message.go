package ami

import "strings"

// field is one "Key: Value" line, key already lowercased and trimmed.
// A packet keeps these in wire order and never collapses repeats —
// that's the decoder's job.
type field struct {
	key   string
	value string
}

// Packet is an ordered list of key/value pairs as read off the wire,
// before any type-specific decoding. Keys are compared
// case-insensitively; Packet always stores the canonical (lowercase)
// form. A key may repeat (Variable: lines, multi-line Command output).
type Packet struct {
	fields []field
	// output holds the raw command body collected inline when this
	// packet's header carries "Response: Follows". Empty otherwise.
	output string
}

// add appends a field, preserving repetition.
func (p *Packet) add(key, value string) {
	p.fields = append(p.fields, field{key: strings.ToLower(strings.TrimSpace(key)), value: value})
}

// first returns the first value stored under key, if any.
func (p *Packet) first(key string) (string, bool) {
	key = strings.ToLower(key)
	for _, f := range p.fields {
		if f.key == key {
			return f.value, true
		}
	}
	return "", false
}

// all returns every value stored under key, in wire order.
func (p *Packet) all(key string) []string {
	key = strings.ToLower(key)
	var out []string
	for _, f := range p.fields {
		if f.key == key {
			out = append(out, f.value)
		}
	}
	return out
}

// asBool follows Asterisk's boolean conventions:
// yes|no|true|false|on|off|1|0, case-insensitive.
func asBool(s string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "yes", "true", "on", "1":
		return true, true
	case "no", "false", "off", "0":
		return false, true
	default:
		return false, false
	}
}

// normalizeValue applies the <null> literal convention: it decodes to
// the empty string.
func normalizeValue(v string) string {
	if v == "<null>" {
		return ""
	}
	return v
}
