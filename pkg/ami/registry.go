package ami

import "strings"

// CompletionShape describes how a submitted action's outcome is
// assembled by the correlator (spec section 4.4).
type CompletionShape int

const (
	// Single actions resolve on the first response carrying the
	// matching ActionID.
	Single CompletionShape = iota
	// EventSeries actions resolve once the response arrives and the
	// named terminator event, carrying the same ActionID, is seen.
	EventSeries
)

// ActionSpec tells the correlator how to resolve a submitted action by
// name. Actions with no registered spec default to Single.
type ActionSpec struct {
	Shape      CompletionShape
	Terminator string // event name that closes an EventSeries action
}

// Registry maps action/event names (case-insensitively) to the
// decoding and correlation behaviour the core needs. It intentionally
// does not enumerate the hundreds of concrete AMI action/event payload
// shapes — that catalogue is an external collaborator's concern (spec
// section 1); the Registry only records each action's completion shape
// and which events terminate an event-series action. Record decoding
// does not look discriminators up here: every Event/Response packet is
// decoded as an Event/ActionResponse whether or not its name is known.
type Registry struct {
	terminators map[string]struct{}
	actions     map[string]ActionSpec
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		terminators: map[string]struct{}{},
		actions:     map[string]ActionSpec{},
	}
}

// RegisterTerminator marks eventName as closing an event-series action
// when it carries that action's ActionID.
func (r *Registry) RegisterTerminator(eventName string) {
	r.terminators[strings.ToLower(eventName)] = struct{}{}
}

// RegisterAction records the completion shape for an action name.
func (r *Registry) RegisterAction(actionName string, spec ActionSpec) {
	r.actions[strings.ToLower(actionName)] = spec
	if spec.Shape == EventSeries && spec.Terminator != "" {
		r.RegisterTerminator(spec.Terminator)
	}
}

// SpecFor returns the registered ActionSpec for actionName, defaulting
// to Single if none was registered.
func (r *Registry) SpecFor(actionName string) ActionSpec {
	if spec, ok := r.actions[strings.ToLower(actionName)]; ok {
		return spec
	}
	return ActionSpec{Shape: Single}
}

// DefaultRegistry returns a Registry pre-populated with the action
// shapes named in spec section 8's end-to-end scenarios and the
// handful of AMI actions every deployment uses. Applications extend
// this (or build their own) for the rest of the catalogue.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.RegisterAction("Login", ActionSpec{Shape: Single})
	r.RegisterAction("Challenge", ActionSpec{Shape: Single})
	r.RegisterAction("Logoff", ActionSpec{Shape: Single})
	r.RegisterAction("Ping", ActionSpec{Shape: Single})
	r.RegisterAction("Command", ActionSpec{Shape: Single})
	r.RegisterAction("Hangup", ActionSpec{Shape: Single})
	r.RegisterAction("SetVar", ActionSpec{Shape: Single})
	r.RegisterAction("GetVar", ActionSpec{Shape: Single})
	r.RegisterAction("DBGet", ActionSpec{Shape: EventSeries, Terminator: "DBGetComplete"})
	r.RegisterAction("DBPut", ActionSpec{Shape: Single})
	r.RegisterAction("DBDel", ActionSpec{Shape: Single})
	r.RegisterAction("DBDelTree", ActionSpec{Shape: Single})
	r.RegisterAction("QueueStatus", ActionSpec{Shape: EventSeries, Terminator: "QueueStatusComplete"})
	r.RegisterAction("CoreShowChannels", ActionSpec{Shape: EventSeries, Terminator: "CoreShowChannelsComplete"})
	r.RegisterAction("ConfbridgeList", ActionSpec{Shape: EventSeries, Terminator: "ConfbridgeListComplete"})
	r.RegisterAction("MeetmeList", ActionSpec{Shape: EventSeries, Terminator: "MeetmeListComplete"})
	r.RegisterAction("SIPpeers", ActionSpec{Shape: EventSeries, Terminator: "PeerlistComplete"})
	// Originate resolves Single on its immediate ack. OriginateResponse
	// is registered as a terminator so that a caller asking for
	// asynchronous completion tracking (see Session.Originate helper)
	// gets its series closed by that event.
	r.RegisterAction("Originate", ActionSpec{Shape: Single})
	r.RegisterTerminator("OriginateResponse")
	return r
}
