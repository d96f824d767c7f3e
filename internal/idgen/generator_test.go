package idgen

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUUIDGeneratorProducesDistinctIDs(t *testing.T) {
	g := UUIDGenerator{}
	a := g.NewID("planet")
	b := g.NewID("planet")
	assert.NotEqual(t, a, b, "expected distinct ids")
	assert.Len(t, a, 36, "expected a canonical UUID string")
}

func TestSequentialGeneratorIsDeterministicPerType(t *testing.T) {
	g := NewSequentialGenerator()
	assert.Equal(t, "planet-1", g.NewID("planet"))
	assert.Equal(t, "planet-2", g.NewID("planet"))
	assert.Equal(t, "moon-1", g.NewID("moon"), "counters are independent per type")
}
