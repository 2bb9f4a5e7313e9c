package concurrent

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSharedAccumulatorSingleRankDegradesToAtomic(t *testing.T) {
	sa := NewSharedAccumulator("tag", 10, nil)

	assert.EqualValues(t, 10, sa.FetchAdd(5))
	assert.EqualValues(t, 15, sa.FetchAdd(1))

	// ServeRank0 must be a harmless no-op in single-rank mode.
	sa.ServeRank0()
}

func TestSharedAccumulatorMultiRankHandsOutNonOverlappingRanges(t *testing.T) {
	world := NewLocalWorld(4)

	var servers []*SharedAccumulator
	for _, rt := range world {
		servers = append(servers, NewSharedAccumulator("cursor", 0, rt))
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		servers[0].ServeRank0()
	}()

	const perRank = 50
	results := make([][]uint64, len(world))
	var rwg sync.WaitGroup
	for i := range world {
		i := i
		rwg.Add(1)
		go func() {
			defer rwg.Done()
			for j := 0; j < perRank; j++ {
				results[i] = append(results[i], servers[i].FetchAdd(1))
			}
		}()
	}
	rwg.Wait()
	world[0].Close()
	wg.Wait()

	seen := make(map[uint64]bool)
	for _, perRankResults := range results {
		require.Len(t, perRankResults, perRank)
		for _, v := range perRankResults {
			require.False(t, seen[v], "value %d handed out to more than one FetchAdd call", v)
			seen[v] = true
		}
	}
	assert.Len(t, seen, len(world)*perRank)
}
