package pool

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

type scratch struct{ vals []float64 }

func TestPoolResetsOnPut(t *testing.T) {
	p := New(func() *scratch { return &scratch{vals: make([]float64, 0, 8)} },
		func(s *scratch) { s.vals = s.vals[:0] })

	s := p.Get()
	s.vals = append(s.vals, 1, 2, 3)
	p.Put(s)

	again := p.Get()
	assert.Empty(t, again.vals)
	p.Put(again)

	allocated, inUse, gets := p.Stats()
	assert.GreaterOrEqual(t, allocated, int64(1))
	assert.Equal(t, int64(0), inUse)
	assert.Equal(t, int64(2), gets)
}

func TestPoolConcurrent(t *testing.T) {
	p := New(func() *scratch { return &scratch{} }, nil)
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				p.Put(p.Get())
			}
		}()
	}
	wg.Wait()
	_, inUse, gets := p.Stats()
	assert.Equal(t, int64(0), inUse)
	assert.Equal(t, int64(1600), gets)
}

func TestCopyBuffers(t *testing.T) {
	b := CopyBuffers.Get()
	assert.Len(t, *b, CopyBufferSize)
	CopyBuffers.Put(b)
}
