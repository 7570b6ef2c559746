package ami

import check "gopkg.in/check.v1"

type RegistrySuite struct{}

var _ = check.Suite(&RegistrySuite{})

func (s *RegistrySuite) TestSpecForDefaultsToSingle(t *check.C) {
	r := NewRegistry()
	spec := r.SpecFor("SomeUnregisteredAction")
	if spec.Shape != Single {
		t.Fatalf("expected Single, got %v", spec.Shape)
	}
}

func (s *RegistrySuite) TestRegisterActionAlsoRegistersTerminator(t *check.C) {
	r := NewRegistry()
	r.RegisterAction("QueueStatus", ActionSpec{Shape: EventSeries, Terminator: "QueueStatusComplete"})

	if _, ok := r.terminators["queuestatuscomplete"]; !ok {
		t.Fatalf("expected terminator to be registered")
	}
	spec := r.SpecFor("queuestatus")
	if spec.Shape != EventSeries || spec.Terminator != "QueueStatusComplete" {
		t.Fatalf("unexpected spec: %+v", spec)
	}
}

func (s *RegistrySuite) TestDefaultRegistryKnowsCoreActions(t *check.C) {
	r := DefaultRegistry()
	cases := map[string]CompletionShape{
		"Login":       Single,
		"Ping":        Single,
		"DBGet":       EventSeries,
		"QueueStatus": EventSeries,
	}
	for name, want := range cases {
		if got := r.SpecFor(name).Shape; got != want {
			t.Fatalf("%s: expected shape %v, got %v", name, want, got)
		}
	}
}
