package popgen

import (
	"math/rand"
	"sort"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/require"
)

func TestSubsampleIndicesTakesAllWhenSmall(t *testing.T) {
	got := SubsampleIndices(rand.New(rand.NewSource(1)), 30, 50)
	require.Len(t, got, 30)
	for i, v := range got {
		if v != i {
			t.Fatalf("index %d: got %d, want %d", i, v, i)
		}
	}
}

func TestSubsampleIndicesSortedUnique(t *testing.T) {
	for seed := int64(0); seed < 5; seed++ {
		rng := rand.New(rand.NewSource(seed))
		got := SubsampleIndices(rng, 100, 10)
		require.Len(t, got, 10)
		for i := 1; i < len(got); i++ {
			if got[i] <= got[i-1] {
				t.Fatalf("seed %d: indices not strictly ascending: %v", seed, got)
			}
		}
		for _, v := range got {
			if v < 0 || v >= 100 {
				t.Fatalf("seed %d: index %d out of range", seed, v)
			}
		}
	}
}

func TestSubsampleIndicesProperty(t *testing.T) {
	params := gopter.DefaultTestParameters()
	params.MinSuccessfulTests = 100
	properties := gopter.NewProperties(params)
	properties.Property("size min(n,k), sorted, unique", prop.ForAll(
		func(n, k int) bool {
			rng := rand.New(rand.NewSource(int64(n)*1009 + int64(k)))
			idx := SubsampleIndices(rng, n, k)
			want := k
			if n < k {
				want = n
			}
			if len(idx) != want {
				return false
			}
			if !sort.IntsAreSorted(idx) {
				return false
			}
			for i := 1; i < len(idx); i++ {
				if idx[i] == idx[i-1] {
					return false
				}
			}
			for _, v := range idx {
				if v < 0 || v >= n {
					return false
				}
			}
			return true
		},
		gen.IntRange(0, 200),
		gen.IntRange(0, 300),
	))
	properties.TestingRun(t)
}
