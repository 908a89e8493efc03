package testutil

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSequenceIDs_Sequence(t *testing.T) {
	gen := NewSequenceIDs("batch")

	assert.Equal(t, "batch-0001", gen.Generate())
	assert.Equal(t, "batch-0002", gen.Generate())
	assert.Equal(t, "batch-0003", gen.Generate())
}

func TestSequenceIDs_EmptyPrefixDefault(t *testing.T) {
	gen := NewSequenceIDs("")
	assert.Equal(t, "batch-0001", gen.Generate())
}

func TestSequenceIDs_ThreadSafeAndUnique(t *testing.T) {
	gen := NewSequenceIDs("sync")

	var (
		mu   sync.Mutex
		seen = make(map[string]bool)
		wg   sync.WaitGroup
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				id := gen.Generate()
				mu.Lock()
				seen[id] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, 1000)
}
