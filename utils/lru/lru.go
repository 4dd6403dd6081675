package lru

import (
	"container/list"
	"sync"
)

type entry[V any] struct {
	key   string
	value V
}

// LRU maps byte keys to values built once per key, evicting the least
// recently used entry when full. Used to intern strings on hot paths.
type LRU[V any] struct {
	maxSize int
	build   func(key string) V
	items   map[string]*list.Element
	list    *list.List
	mu      sync.Mutex
}

func New[V any](maxSize int, build func(key string) V) *LRU[V] {
	if maxSize < 1 {
		panic("assertion error: maxSize < 1")
	}
	return &LRU[V]{
		maxSize: maxSize,
		build:   build,
		items:   make(map[string]*list.Element, maxSize),
		list:    list.New(),
	}
}

// GetOrAdd fetch item from lru and increase eviction order or create
func (l *LRU[V]) GetOrAdd(keyB []byte) V {
	l.mu.Lock()
	defer l.mu.Unlock()

	element, ok := l.items[string(keyB)]
	if ok {
		l.list.MoveToFront(element)
		return element.Value.(*entry[V]).value
	}

	if len(l.items) >= l.maxSize {
		element = l.list.Back()
		l.list.Remove(element)
		delete(l.items, element.Value.(*entry[V]).key)
	}

	keyS := string(keyB)
	e := &entry[V]{key: keyS, value: l.build(keyS)}
	l.items[keyS] = l.list.PushFront(e)
	return e.value
}

func (l *LRU[V]) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.items)
}
