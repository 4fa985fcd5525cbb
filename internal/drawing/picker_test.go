package drawing

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPickerDeterministicForSeed(t *testing.T) {
	t.Parallel()

	in := []string{"e", "a", "c", "b", "d", "a"}
	shuffled := []string{"d", "b", "a", "e", "c"}
	a := NewPicker(7).Pick(in, 3)
	b := NewPicker(7).Pick(shuffled, 3)
	require.Equal(t, a, b)
	require.Len(t, a, 3)
}

func TestPickerBounds(t *testing.T) {
	t.Parallel()
	p := NewPicker(1)

	require.Equal(t, []string{}, p.Pick(nil, 3))
	require.Equal(t, []string{}, p.Pick([]string{"a"}, 0))
	require.ElementsMatch(t, []string{"a", "b"}, p.Pick([]string{"b", "a", "b", ""}, 5))
}

func TestPickerUniqueWinners(t *testing.T) {
	t.Parallel()
	p := NewPicker(3)

	pool := make([]string, 50)
	for i := range pool {
		pool[i] = fmt.Sprint(i)
	}
	for range 100 {
		got := p.Pick(pool, 10)
		seen := map[string]bool{}
		for _, w := range got {
			require.False(t, seen[w], "duplicate winner %s", w)
			seen[w] = true
		}
	}
}

// Each of 4 candidates should win a single-winner draw about a quarter of
// the time.
func TestPickerRoughlyUniform(t *testing.T) {
	t.Parallel()
	p := NewPicker(11)

	counts := map[string]int{}
	const rounds = 8000
	for range rounds {
		counts[p.Pick([]string{"a", "b", "c", "d"}, 1)[0]]++
	}
	for id, n := range counts {
		require.InDelta(t, rounds/4, n, rounds/20, "candidate %s", id)
	}
	require.Len(t, counts, 4)
}
