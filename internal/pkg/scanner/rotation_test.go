package scanner

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRotationCoversPoolDeterministically(t *testing.T) {
	pool := []string{"JFK", "LAX", "ORD", "SFO", "MIA", "SEA", "BOS", "ATL", "DFW", "DEN"}
	r := NewRotation(pool, 3)

	seen := map[string]bool{}
	for cycle := 0; cycle < 4; cycle++ {
		slice := r.Next()
		assert.Len(t, slice, 3)
		for _, origin := range slice {
			seen[origin] = true
		}
	}
	// Pool of 10 with slices of 3: every origin appears within 4 cycles.
	assert.Len(t, seen, len(pool))
}

func TestRotationWrapsAround(t *testing.T) {
	r := NewRotation([]string{"JFK", "LAX", "ORD"}, 2)

	assert.Equal(t, []string{"JFK", "LAX"}, r.Next())
	assert.Equal(t, []string{"ORD", "JFK"}, r.Next())
	assert.Equal(t, []string{"LAX", "ORD"}, r.Next())
	// Same pool, same order, every time around.
	assert.Equal(t, []string{"JFK", "LAX"}, r.Next())
}

func TestRotationClampsSliceSize(t *testing.T) {
	r := NewRotation([]string{"JFK", "LAX"}, 10)
	assert.Equal(t, []string{"JFK", "LAX"}, r.Next())

	empty := NewRotation(nil, 3)
	assert.Nil(t, empty.Next())
}
