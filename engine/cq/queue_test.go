package cq

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/ozontech/grpcq/engine/types"
)

func TestQueueOrder(t *testing.T) {
	t.Parallel()
	a := assert.New(t)

	q := New()
	for i := uint32(1); i <= 5; i++ {
		a.True(q.Push(types.Tag{CallID: i, Op: types.OpRead}, i%2 == 0))
	}
	a.Equal(5, q.Len())

	for i := uint32(1); i <= 5; i++ {
		ev, ok := q.Next()
		a.True(ok)
		a.Equal(i, ev.Tag.CallID)
		a.Equal(i%2 == 0, ev.OK)
	}
}

func TestQueueShutdownDrains(t *testing.T) {
	t.Parallel()
	a := assert.New(t)

	q := New()
	a.True(q.Push(types.Tag{CallID: 1, Op: types.OpStart}, true))
	q.Shutdown()
	q.Shutdown()
	a.False(q.Push(types.Tag{CallID: 1, Op: types.OpWrite}, true))

	ev, ok := q.Next()
	a.True(ok)
	a.Equal(types.OpStart, ev.Tag.Op)

	_, ok = q.Next()
	a.False(ok)
}

func TestQueueShutdownUnblocksNext(t *testing.T) {
	t.Parallel()

	q := New()
	var wg sync.WaitGroup
	wg.Add(3)
	for i := 0; i < 3; i++ {
		go func() {
			defer wg.Done()
			_, ok := q.Next()
			assert.False(t, ok)
		}()
	}

	time.Sleep(10 * time.Millisecond)
	q.Shutdown()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Next was not released by Shutdown")
	}
}
