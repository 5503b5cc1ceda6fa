package maildir

import (
	"math/rand/v2"
	"sync/atomic"
)

const (
	minSeed uint64 = 100000000000000000  // 10^17
	maxSeed uint64 = 1000000000000000000 // 10^18
)

// IDGenerator hands out the per-message tokens used in filenames. It is seeded
// with a random 18 digit value so repeated runs against the same store do not
// collide, and it is safe for concurrent use.
type IDGenerator struct {
	next atomic.Uint64
}

func NewIDGenerator() *IDGenerator {
	return NewIDGeneratorFrom(minSeed + rand.Uint64N(maxSeed-minSeed))
}

// NewIDGeneratorFrom starts the counter at seed.
func NewIDGeneratorFrom(seed uint64) *IDGenerator {
	g := &IDGenerator{}
	g.next.Store(seed)
	return g
}

// Next returns the current value and advances the counter by one.
func (g *IDGenerator) Next() uint64 {
	return g.next.Add(1) - 1
}
