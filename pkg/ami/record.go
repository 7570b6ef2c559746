package ami

import "strings"

// Response is the value of an ActionResponse's Response field.
type Response string

const (
	ResponseSuccess Response = "Success"
	ResponseError   Response = "Error"
	ResponseFollows Response = "Follows"
	ResponseGoodbye Response = "Goodbye"
)

// Record is the decoded shape of one packet: an ActionResponse, an
// Event, or an Unknown passthrough. Callers type-switch on it.
type Record interface {
	// ActionID returns the correlating ActionID, if the record carries
	// one.
	ActionID() (string, bool)
	// Extras returns every field not claimed by the record's typed
	// accessors, keyed by lowercase field name. Repeated keys are
	// joined with '\n', per spec section 4.2.
	Extras() map[string]string
}

type base struct {
	actionID string
	hasID    bool
	extras   map[string]string
}

func (b base) ActionID() (string, bool)    { return b.actionID, b.hasID }
func (b base) Extras() map[string]string   { return b.extras }

// ActionResponse is the reply to a submitted action.
type ActionResponse struct {
	base
	Response Response
	Message  string
	// Output carries the raw Follows body, collected inline by the
	// framer while it reads the packet. Empty for non-Follows responses.
	Output string
}

// Event is an unsolicited or action-correlated notification.
type Event struct {
	base
	Name       string
	Terminator bool
}

// Unknown is any record whose packet carries neither an Event nor a
// Response field. Event/Response names are not checked against the
// Registry, so an unregistered name still decodes as Event or
// ActionResponse.
type Unknown struct {
	base
	Discriminator string
}

// decode turns a raw packet into a Record: a "response" field makes an
// ActionResponse, an "event" field an Event (marked Terminator when reg
// lists its name as a terminator), anything else Unknown. Decoding is
// total: it never errors.
func decode(p *Packet, reg *Registry) Record {
	extras := map[string]string{}
	for _, f := range p.fields {
		v := normalizeValue(f.value)
		if prev, ok := extras[f.key]; ok {
			extras[f.key] = prev + "\n" + v
		} else {
			extras[f.key] = v
		}
	}

	if resp, ok := extras["response"]; ok {
		delete(extras, "response")
		b := base{extras: extras}
		if id, ok := extras["actionid"]; ok {
			b.actionID, b.hasID = id, true
			delete(extras, "actionid")
		}
		msg := extras["message"]
		delete(extras, "message")
		return &ActionResponse{base: b, Response: Response(resp), Message: msg, Output: p.output}
	}

	if evt, ok := extras["event"]; ok {
		delete(extras, "event")
		b := base{extras: extras}
		if id, ok := extras["actionid"]; ok {
			b.actionID, b.hasID = id, true
			delete(extras, "actionid")
		}
		_, terminator := reg.terminators[strings.ToLower(evt)]
		return &Event{base: b, Name: evt, Terminator: terminator}
	}

	disc := "unknown"
	for _, key := range []string{"event", "response"} {
		if _, ok := extras[key]; ok {
			disc = key
		}
	}
	return &Unknown{base: base{extras: extras}, Discriminator: disc}
}
