package popgen

import (
	"math/rand"
	"sort"
	"time"
)

// SubsampleIndices picks min(n, k) distinct indices in [0, n) uniformly
// without replacement and returns them sorted ascending. Sorting keeps
// the sliced matrix in original variant order, which the LD windows
// depend on. A nil rng gets a time-seeded source.
func SubsampleIndices(rng *rand.Rand, n, k int) []int {
	if n < 0 {
		n = 0
	}
	if k >= n {
		idx := make([]int, n)
		for i := range idx {
			idx[i] = i
		}
		return idx
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	idx := rng.Perm(n)[:k]
	sort.Ints(idx)
	return idx
}
