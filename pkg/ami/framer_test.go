package ami

import (
	"strings"

	check "gopkg.in/check.v1"
)

type FramerSuite struct{}

var _ = check.Suite(&FramerSuite{})

func (s *FramerSuite) TestReadGreeting(t *check.C) {
	f := NewFramer(strings.NewReader("Asterisk Call Manager/8.0.0\r\n"))
	greeting, err := f.ReadGreeting()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if greeting != "8.0.0" {
		t.Fatalf("expected 8.0.0, got %q", greeting)
	}
}

func (s *FramerSuite) TestReadGreetingRejectsUnrecognised(t *check.C) {
	f := NewFramer(strings.NewReader("Not An Asterisk Server\r\n"))
	_, err := f.ReadGreeting()
	if err == nil {
		t.Fatalf("expected error")
	}
	kind, ok := KindOf(err)
	if !ok || kind != KindProtocolMismatch {
		t.Fatalf("expected ProtocolMismatch, got %v", kind)
	}
}

func (s *FramerSuite) TestReadPacket(t *check.C) {
	raw := "Response: Success\r\nActionID: abc-1\r\nMessage: Authentication accepted\r\n\r\n"
	f := NewFramer(strings.NewReader(raw))
	pkt, err := f.ReadPacket()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v, ok := pkt.first("response"); !ok || v != "Success" {
		t.Fatalf("expected response Success, got %q ok=%v", v, ok)
	}
	if v, ok := pkt.first("actionid"); !ok || v != "abc-1" {
		t.Fatalf("expected actionid abc-1, got %q ok=%v", v, ok)
	}
}

func (s *FramerSuite) TestReadPacketRepeatedKey(t *check.C) {
	raw := "Event: QueueParams\r\nMember: SIP/1\r\nMember: SIP/2\r\n\r\n"
	f := NewFramer(strings.NewReader(raw))
	pkt, err := f.ReadPacket()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	all := pkt.all("member")
	if len(all) != 2 || all[0] != "SIP/1" || all[1] != "SIP/2" {
		t.Fatalf("expected two Member values, got %v", all)
	}
}

func (s *FramerSuite) TestReadPacketMalformedLine(t *check.C) {
	raw := "not a valid header line\r\n\r\n"
	f := NewFramer(strings.NewReader(raw))
	_, err := f.ReadPacket()
	if err == nil {
		t.Fatalf("expected error")
	}
	kind, ok := KindOf(err)
	if !ok || kind != KindMalformedPacket {
		t.Fatalf("expected MalformedPacket, got %v", kind)
	}
}

func (s *FramerSuite) TestReadPacketCollectsFollowsBodyInline(t *check.C) {
	raw := "Response: Follows\r\nPrivilege: Command\r\nActionID: abc-1\r\n" +
		"Channel one\r\nChannel two\r\n--END COMMAND--\r\n\r\n"
	f := NewFramer(strings.NewReader(raw))
	pkt, err := f.ReadPacket()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v, ok := pkt.first("response"); !ok || v != "Follows" {
		t.Fatalf("expected response Follows, got %q ok=%v", v, ok)
	}
	if v, ok := pkt.first("actionid"); !ok || v != "abc-1" {
		t.Fatalf("expected actionid abc-1, got %q ok=%v", v, ok)
	}
	want := "Channel one\nChannel two\n"
	if pkt.output != want {
		t.Fatalf("expected output %q, got %q", want, pkt.output)
	}
}
