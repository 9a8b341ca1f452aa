package exam

import (
	"math/rand/v2"
	"sync"
)

// Rand is the randomness source used for shuffles, codes and placeholder
// answers. *rand.Rand satisfies it; tests inject a seeded one.
type Rand interface {
	IntN(n int) int
}

// LockedRand makes a *rand.Rand safe for concurrent use.
type LockedRand struct {
	mu sync.Mutex
	r  *rand.Rand
}

// NewLockedRand wraps r. A nil r uses a randomly seeded PCG source.
func NewLockedRand(r *rand.Rand) *LockedRand {
	if r == nil {
		r = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &LockedRand{r: r}
}

func (l *LockedRand) IntN(n int) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.IntN(n)
}

// Permutation returns a uniformly random permutation of [0, n) using an
// inside-out Fisher-Yates.
func Permutation(r Rand, n int) []int {
	out := make([]int, n)
	for i := range out {
		j := r.IntN(i + 1)
		out[i] = out[j]
		out[j] = i
	}
	return out
}

// ShuffleIDs returns a shuffled copy of ids. The input is not modified.
func ShuffleIDs(r Rand, ids []string) []string {
	out := make([]string, len(ids))
	for i, p := range Permutation(r, len(ids)) {
		out[i] = ids[p]
	}
	return out
}

// IsPermutation reports whether p contains every index in [0, n) exactly once.
func IsPermutation(p []int, n int) bool {
	if len(p) != n {
		return false
	}
	seen := make([]bool, n)
	for _, v := range p {
		if v < 0 || v >= n || seen[v] {
			return false
		}
		seen[v] = true
	}
	return true
}

// SameIDs reports whether a and b hold the same ids with no duplicates.
func SameIDs(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	set := make(map[string]int, len(a))
	for _, id := range a {
		set[id]++
		if set[id] > 1 {
			return false
		}
	}
	for _, id := range b {
		if set[id] != 1 {
			return false
		}
		set[id]++
	}
	return true
}
