package sentinel

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMembershipIndexRejectsBadSizing(t *testing.T) {
	tests := []struct {
		name       string
		bitCount   int
		hashRounds int
	}{
		{"zero bits", 0, 3},
		{"negative bits", -8, 3},
		{"zero rounds", 1000, 0},
		{"negative rounds", 1000, -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			idx, err := NewMembershipIndex(tt.bitCount, tt.hashRounds)
			require.Error(t, err)
			assert.Nil(t, idx)
			assert.ErrorIs(t, err, ErrInvalidConfiguration)
		})
	}
}

func TestMembershipIndexNoFalseNegatives(t *testing.T) {
	idx, err := NewMembershipIndex(DefaultBitCount, DefaultHashRounds)
	require.NoError(t, err)

	ids := make([]string, 0, 200)
	for i := 0; i < 200; i++ {
		id := fmt.Sprintf("STOLEN-%04d", i)
		ids = append(ids, id)
		idx.Insert(id)
		idx.Insert(id)
	}

	for _, id := range ids {
		assert.True(t, idx.MayContain(id), "inserted id %s must be reported", id)
	}
}

func TestMembershipIndexEmptyRejectsEverything(t *testing.T) {
	idx, err := NewMembershipIndex(64, 4)
	require.NoError(t, err)

	for i := 0; i < 100; i++ {
		assert.False(t, idx.MayContain(fmt.Sprintf("id-%d", i)))
	}

	idx.Insert("STOLEN-123")
	require.True(t, idx.MayContain("STOLEN-123"))

	idx.Reset()
	assert.False(t, idx.MayContain("STOLEN-123"))
	assert.Equal(t, 64, idx.BitCount())
	assert.Equal(t, 4, idx.HashRounds())
	assert.Zero(t, idx.Len())
}

func TestMembershipIndexInsertIsIdempotent(t *testing.T) {
	once, err := NewMembershipIndex(512, 3)
	require.NoError(t, err)
	twice, err := NewMembershipIndex(512, 3)
	require.NoError(t, err)

	once.Insert("STOLEN-456")
	twice.Insert("STOLEN-456")
	twice.Insert("STOLEN-456")

	assert.Equal(t, once.bits, twice.bits)
	assert.Equal(t, 1, twice.Len())
	assert.Equal(t, once.EstimatedFalsePositiveRate(), twice.EstimatedFalsePositiveRate())
}

func TestMembershipIndexPositionIgnoresStalePrefix(t *testing.T) {
	idx, err := NewMembershipIndex(DefaultBitCount, DefaultHashRounds)
	require.NoError(t, err)

	reused := hashInput("STOLEN-123")
	for round := 0; round < DefaultHashRounds; round++ {
		assert.Equal(t, idx.position(hashInput("STOLEN-123"), round), idx.position(reused, round))
	}
	// Rounds evaluated out of order on the same buffer still agree.
	assert.Equal(t, idx.position(hashInput("STOLEN-123"), 0), idx.position(reused, 0))
}

func TestMembershipIndexBulkLoadIdempotent(t *testing.T) {
	hotList := []string{"STOLEN-123", "STOLEN-456", "STOLEN-789"}

	idx, err := NewMembershipIndex(DefaultBitCount, DefaultHashRounds)
	require.NoError(t, err)

	idx.BulkLoad(hotList)
	first := append([]uint64(nil), idx.bits...)

	idx.BulkLoad(hotList)
	assert.Equal(t, first, idx.bits)
	assert.Equal(t, len(hotList), idx.Len())
}

func TestMembershipIndexBulkLoadReplacesContents(t *testing.T) {
	idx, err := NewMembershipIndex(DefaultBitCount, DefaultHashRounds)
	require.NoError(t, err)

	idx.BulkLoad([]string{"OLD-1", "OLD-2"})
	idx.BulkLoad([]string{"NEW-1"})

	assert.True(t, idx.MayContain("NEW-1"))
	assert.False(t, idx.MayContain("OLD-1"))
	assert.False(t, idx.MayContain("OLD-2"))
}

func TestMembershipIndexRoundsAreIndependent(t *testing.T) {
	idx, err := NewMembershipIndex(1<<20, 8)
	require.NoError(t, err)

	positions := make(map[uint64]bool)
	buf := hashInput("STOLEN-123")
	for round := 0; round < 8; round++ {
		positions[idx.position(buf, round)] = true
	}
	// Eight rounds over a million bits should not collide with each other.
	assert.Len(t, positions, 8)

	// Two ids must not share a systematic offset between rounds.
	a, b := hashInput("A"), hashInput("B")
	a0, a1 := idx.position(a, 0), idx.position(a, 1)
	b0, b1 := idx.position(b, 0), idx.position(b, 1)
	assert.NotEqual(t, a1-a0, b1-b0)
}

func TestMembershipIndexFalsePositiveRateIsBounded(t *testing.T) {
	idx, err := NewMembershipIndexForCapacity(1000, 0.01)
	require.NoError(t, err)

	for i := 0; i < 1000; i++ {
		idx.Insert(fmt.Sprintf("hot-%d", i))
	}

	falsePositives := 0
	const probes = 20000
	for i := 0; i < probes; i++ {
		if idx.MayContain(fmt.Sprintf("cold-%d", i)) {
			falsePositives++
		}
	}

	rate := float64(falsePositives) / probes
	assert.Less(t, rate, 0.03, "observed false positive rate %f", rate)
	assert.InDelta(t, 0.01, idx.EstimatedFalsePositiveRate(), 0.005)
}

func TestOptimalSize(t *testing.T) {
	m, k := OptimalSize(1000, 0.01)
	assert.Equal(t, 9586, m)
	assert.Equal(t, 7, k)

	_, err := NewMembershipIndexForCapacity(0, 0.01)
	assert.ErrorIs(t, err, ErrInvalidConfiguration)
	_, err = NewMembershipIndexForCapacity(10, 1.5)
	assert.ErrorIs(t, err, ErrInvalidConfiguration)
}

func TestFalsePositiveRate(t *testing.T) {
	assert.Zero(t, FalsePositiveRate(1000, 3, 0))
	assert.InDelta(t, 0.0174, FalsePositiveRate(1000, 3, 100), 0.001)
}

func TestMembershipIndexConcurrentReload(t *testing.T) {
	idx, err := NewMembershipIndex(DefaultBitCount, DefaultHashRounds)
	require.NoError(t, err)
	hotList := []string{"STOLEN-123", "STOLEN-456"}
	idx.BulkLoad(hotList)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 500; j++ {
				// Reloads are exclusive, so a reader never sees a half-built filter.
				assert.True(t, idx.MayContain("STOLEN-123"))
			}
		}()
	}
	for i := 0; i < 50; i++ {
		idx.BulkLoad(hotList)
	}
	wg.Wait()
}
