package ami

import (
	"strings"

	check "gopkg.in/check.v1"
)

type ActionSuite struct{}

var _ = check.Suite(&ActionSuite{})

func (s *ActionSuite) TestValidateRejectsEmptyName(t *check.C) {
	a := Action{}
	err := a.Validate()
	if err == nil {
		t.Fatalf("expected error")
	}
	kind, ok := KindOf(err)
	if !ok || kind != KindInvalidArgument {
		t.Fatalf("expected InvalidArgument, got %v", kind)
	}
}

func (s *ActionSuite) TestEncodeFieldOrder(t *check.C) {
	a := Action{
		Name: "Originate",
		Fields: []KV{
			{Key: "Channel", Value: "SIP/100"},
			{Key: "Context", Value: "default"},
		},
	}
	out := string(encode(a, "nonce-1"))

	wantOrder := []string{"Action: Originate", "Channel: SIP/100", "Context: default", "ActionID: nonce-1"}
	idx := 0
	for _, want := range wantOrder {
		pos := strings.Index(out[idx:], want)
		if pos < 0 {
			t.Fatalf("expected %q to appear after position %d in:\n%s", want, idx, out)
		}
		idx += pos + len(want)
	}
	if !strings.HasSuffix(out, "\r\n\r\n") {
		t.Fatalf("expected packet to end with blank line, got %q", out)
	}
}

func (s *ActionSuite) TestEncodePreservesRepeatedVariables(t *check.C) {
	a := Action{
		Name: "Originate",
		Variable: []KV{
			{Key: "a", Value: "1"},
			{Key: "a", Value: "2"},
			{Key: "b", Value: "3"},
		},
	}
	out := string(encode(a, "nonce-2"))
	count := strings.Count(out, "Variable: a=1") + strings.Count(out, "Variable: a=2") + strings.Count(out, "Variable: b=3")
	if count != 3 {
		t.Fatalf("expected three distinct Variable lines, got %d in:\n%s", count, out)
	}
	if strings.Contains(out, "Variable: a=1,a=2") {
		t.Fatalf("variables must not be merged into a comma list")
	}
}
