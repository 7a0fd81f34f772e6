package ids

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func nodeOf(id int64) int64 { return (id >> 12) & maxNodeID }

func TestGeneratorMonotonic(t *testing.T) {
	g := NewGenerator(7)
	prev := g.Next()
	for i := 0; i < 10000; i++ {
		id := g.Next()
		require.Greater(t, id, prev)
		prev = id
	}
	assert.Equal(t, int64(7), nodeOf(prev))
}

func TestGeneratorConcurrentUnique(t *testing.T) {
	g := NewGenerator(3)
	const workers, per = 8, 2000

	var (
		mu   sync.Mutex
		seen = make(map[int64]struct{}, workers*per)
		wg   sync.WaitGroup
	)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			local := make([]int64, 0, per)
			for i := 0; i < per; i++ {
				local = append(local, g.Next())
			}
			mu.Lock()
			for _, id := range local {
				seen[id] = struct{}{}
			}
			mu.Unlock()
		}()
	}
	wg.Wait()
	assert.Len(t, seen, workers*per)
}

func TestInvalidNodeFallsBack(t *testing.T) {
	assert.Equal(t, int64(1), nodeOf(NewGenerator(5000).Next()))
}
