package pool

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSlicePool(t *testing.T) {
	t.Parallel()
	a := assert.New(t)

	p := NewSlicePoolSize[*int](2)
	_, ok := p.Acquire()
	a.False(ok)

	one, two, three := 1, 2, 3
	p.Release(&one)
	p.Release(&two)
	p.Release(&three)
	a.Equal(2, p.Len(), "released beyond the limit is dropped")

	v, ok := p.Acquire()
	a.True(ok)
	a.Same(&two, v)

	unbounded := NewSlicePool[int]()
	for i := range 10 {
		unbounded.Release(i)
	}
	a.Equal(10, unbounded.Len())
}
