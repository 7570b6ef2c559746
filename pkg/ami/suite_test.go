package ami

import (
	"testing"

	check "gopkg.in/check.v1"
)

// Test is the single entry point gocheck needs to run every
// check.Suite registered in this package; see framer_test.go,
// action_test.go and registry_test.go.
func Test(t *testing.T) {
	check.TestingT(t)
}
