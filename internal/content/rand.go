package content

import (
	"math/rand"
	"sync"
	"time"
)

// Rand is a goroutine-safe seedable random source. Jobs for different groups run
// on different workers and share one Rand.
type Rand struct {
	mu sync.Mutex
	r  *rand.Rand
}

// NewRand returns a Rand seeded with seed; 0 seeds from the clock.
func NewRand(seed int64) *Rand {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Rand{r: rand.New(rand.NewSource(seed))}
}

// Intn returns a uniform int in [0,n). n must be positive.
func (r *Rand) Intn(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.r.Intn(n)
}
