package ami

import (
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
)

// idGenerator produces ActionIDs unique within one session, per spec
// section 3/4.3: a monotonically increasing counter plus a session
// nonce. The teacher generated the nonce from os.Hostname(), which
// collides across two sessions on the same host; a short uuid nonce
// does not.
type idGenerator struct {
	nonce   string
	counter uint64
}

func newIDGenerator() *idGenerator {
	return &idGenerator{nonce: uuid.New().String()[:8]}
}

func (g *idGenerator) next() string {
	n := atomic.AddUint64(&g.counter, 1)
	return fmt.Sprintf("%s-%d", g.nonce, n)
}
