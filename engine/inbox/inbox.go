package inbox

import (
	"io"
	"sync"
)

// Inbox is the inbound item buffer of a sync-mode stream. The pump goroutine
// pushes, a caller goroutine pops. Closing is terminal and idempotent; items
// pushed before Close are still delivered.
type Inbox struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  [][]byte
	closed bool
}

func New() *Inbox {
	b := &Inbox{}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Push appends item. It returns false if the inbox is already closed.
func (b *Inbox) Push(item []byte) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return false
	}
	b.items = append(b.items, item)
	b.cond.Signal()
	return true
}

// Pop blocks until an item is available or the inbox is closed and drained,
// in which case it returns io.EOF.
func (b *Inbox) Pop() ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for len(b.items) == 0 && !b.closed {
		b.cond.Wait()
	}
	if len(b.items) == 0 {
		return nil, io.EOF
	}
	item := b.items[0]
	b.items[0] = nil
	b.items = b.items[1:]
	return item, nil
}

func (b *Inbox) Close() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	b.cond.Broadcast()
}

func (b *Inbox) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items)
}
