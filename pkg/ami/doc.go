/*
Package ami implements the wire-level and session machinery for the
Asterisk Manager Interface (AMI): the line-oriented TCP control
protocol exposed by the Asterisk telephony engine.

It does not know about any particular action or event payload shape.
A packet (an ordered run of "Key: Value" lines terminated by a blank
line) is decoded into a Record discriminated by its Event/Response
field: an Event, an ActionResponse, or, for a packet with neither
field, an Unknown record carrying the raw fields. The Registry tells
the correlator how each action completes and which events terminate
an event series; callers add entries for the actions they care about.

Start working:

	conn, err := net.Dial("tcp", "astserver:5038")
	if err != nil {
		// error handling
	}

	sess := ami.NewSession(conn, ami.SessionConfig{ProviderTitle: "pbx1"})
	if err := sess.Connect(ctx, ami.Credentials{Username: "user", Secret: "secret"}); err != nil {
		// auth/transport error handling
	}

	fut, err := sess.Submit(ctx, ami.Action{Name: "Ping"})
	outcome, err := fut.Wait(ctx)

Event handlers:

	h := ami.SinkFunc(func(provider string, rec ami.Record) {
		log.Printf("%s: %v", provider, rec)
	})
	handle := sess.Subscribe(ami.AllEvents, h)
	defer sess.Unsubscribe(handle)

This package is deliberately silent by default: pass a log15.Logger via
SessionConfig.Logger to see connection lifecycle and malformed-packet
warnings.
*/
package ami
