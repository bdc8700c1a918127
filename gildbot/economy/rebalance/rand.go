package rebalance

import (
	"math/rand"
	"sync"
	"time"
)

// Rand is the random source used for intervention magnitudes. It is an
// interface so tests can pin exact draws.
type Rand interface {
	Float64() float64
	Int63n(n int64) int64
}

// NewRand returns a concurrency-safe source. A zero seed means time-seeded.
func NewRand(seed int64) Rand {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &lockedRand{rng: rand.New(rand.NewSource(seed))}
}

type lockedRand struct {
	mu  sync.Mutex
	rng *rand.Rand
}

func (r *lockedRand) Float64() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rng.Float64()
}

func (r *lockedRand) Int63n(n int64) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rng.Int63n(n)
}
