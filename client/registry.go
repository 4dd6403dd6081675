package client

import (
	"sync"
)

type canceller interface {
	Cancel()
}

// registry хранит живые вызовы по непрозрачному идентификатору.
type registry struct {
	mu sync.RWMutex
	m  map[string]canceller
}

func newRegistry() *registry {
	return &registry{m: make(map[string]canceller, 64)}
}

func (r *registry) Set(id string, c canceller) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.m[id] = c
}

func (r *registry) Get(id string) canceller {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.m[id]
}

func (r *registry) Delete(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.m, id)
}

func (r *registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.m)
}

// Each вызывает fn для снимка содержимого, fn может удалять из registry.
func (r *registry) Each(fn func(id string, c canceller)) {
	r.mu.RLock()
	snapshot := make(map[string]canceller, len(r.m))
	for id, c := range r.m {
		snapshot[id] = c
	}
	r.mu.RUnlock()

	for id, c := range snapshot {
		fn(id, c)
	}
}
