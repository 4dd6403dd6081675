package pump

import (
	"sync"

	"github.com/ozontech/grpcq/engine/types"
)

// handlersMap хранилище живых вызовов на основе map
type handlersMap struct {
	m  map[uint32]types.Handler
	mu sync.RWMutex
}

func newHandlersMap() *handlersMap {
	return &handlersMap{m: make(map[uint32]types.Handler, 64)}
}

func (s *handlersMap) Set(id uint32, h types.Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[id] = h
}

func (s *handlersMap) Get(id uint32) types.Handler {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.m[id]
}

func (s *handlersMap) Delete(id uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, id)
}

func (s *handlersMap) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.m)
}

// table шардированное хранилище живых вызовов. Количество шардов - степень двойки.
type table struct {
	shards []*handlersMap
	mask   uint32
}

func newTable(shards uint32) *table {
	if shards == 0 || shards&(shards-1) != 0 {
		panic("assertion error: shards must be a power of two")
	}
	t := &table{
		shards: make([]*handlersMap, shards),
		mask:   shards - 1,
	}
	for i := range t.shards {
		t.shards[i] = newHandlersMap()
	}
	return t
}

func (t *table) shard(id uint32) *handlersMap { return t.shards[id&t.mask] }

func (t *table) Set(id uint32, h types.Handler) { t.shard(id).Set(id, h) }
func (t *table) Get(id uint32) types.Handler    { return t.shard(id).Get(id) }
func (t *table) Delete(id uint32)               { t.shard(id).Delete(id) }

func (t *table) Len() int {
	var n int
	for _, s := range t.shards {
		n += s.Len()
	}
	return n
}
