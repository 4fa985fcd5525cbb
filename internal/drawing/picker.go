package drawing

import (
	"math/rand"
	"slices"
	"sync"
	"time"
)

// Picker draws winners uniformly without replacement.
//
// Candidates are de-duplicated and sorted before sampling, so two Pickers
// built from the same non-zero seed return the same winners for the same
// input, whatever order the input arrived in.
type Picker struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewPicker seeds from seed, or from the clock when seed is 0.
func NewPicker(seed int64) *Picker {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Picker{rng: rand.New(rand.NewSource(seed))}
}

// Pick returns min(n, len(unique candidates)) winners using a partial
// Fisher-Yates shuffle. The result is never nil.
func (p *Picker) Pick(candidates []string, n int) []string {
	pool := normalizeIDs(candidates)
	k := min(max(n, 0), len(pool))

	p.mu.Lock()
	for i := 0; i < k; i++ {
		j := i + p.rng.Intn(len(pool)-i)
		pool[i], pool[j] = pool[j], pool[i]
	}
	p.mu.Unlock()

	return slices.Clone(pool[:k])
}

// normalizeIDs returns the sorted, de-duplicated, non-empty ids of in.
func normalizeIDs(in []string) []string {
	out := make([]string, 0, len(in))
	for _, id := range in {
		if id != "" {
			out = append(out, id)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}
