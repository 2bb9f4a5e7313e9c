package model

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUniqueSetInsertDedupes(t *testing.T) {
	s := NewUniqueSet[string, *int]()

	calls := 0
	make_ := func() *int {
		calls++
		v := calls
		return &v
	}

	v1, inserted1 := s.Insert("a", make_)
	require.True(t, inserted1)
	v2, inserted2 := s.Insert("a", make_)
	assert.False(t, inserted2)
	assert.Same(t, v1, v2)
	assert.Equal(t, 1, calls)

	_, inserted3 := s.Insert("b", make_)
	assert.True(t, inserted3)
	assert.Equal(t, 2, s.Len())
}

func TestUniqueSetLookupMisses(t *testing.T) {
	s := NewUniqueSet[string, *int]()
	_, ok := s.Lookup("missing")
	assert.False(t, ok)
}

func TestUniqueSetConcurrentInsertSameKeyReturnsOneWinner(t *testing.T) {
	s := NewUniqueSet[int, *int]()

	const goroutines = 64
	var wg sync.WaitGroup
	results := make([]*int, goroutines)
	for i := 0; i < goroutines; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, _ := s.Insert(0, func() *int { n := 0; return &n })
			results[i] = v
		}()
	}
	wg.Wait()

	for i := 1; i < goroutines; i++ {
		assert.Same(t, results[0], results[i], "all concurrent inserts of the same key must observe the same canonical value")
	}
	assert.Equal(t, 1, s.Len())
}
