// Package pool implements the KVPool write buffer: an in-memory staging map
// from on-disk key to payload, accumulating pending mutations between
// sync() calls. It is not durable -- a crash loses its contents.
package pool

import "sync"

// Pool is a concurrent map from on-disk key to its staged payload. set and
// updateNGrams (elsewhere) write into it; sync drains it in one step and
// then writes the drained entries shard by shard.
type Pool struct {
	m sync.Map
}

// New returns an empty Pool.
func New() *Pool {
	return &Pool{}
}

// Set stages a payload for the given on-disk key, overwriting any prior
// staged value for that key.
func (p *Pool) Set(onDiskKey, payload string) {
	p.m.Store(onDiskKey, payload)
}

// Get returns the staged payload for an on-disk key, if any.
func (p *Pool) Get(onDiskKey string) (string, bool) {
	v, ok := p.m.Load(onDiskKey)
	if !ok {
		return "", false
	}
	return v.(string), true
}

// Delete removes any staged payload for the given on-disk key.
func (p *Pool) Delete(onDiskKey string) {
	p.m.Delete(onDiskKey)
}

// Len returns the number of currently staged entries. It is O(n) and meant
// for diagnostics/tests, not the hot path.
func (p *Pool) Len() int {
	n := 0
	p.m.Range(func(_, _ any) bool { n++; return true })
	return n
}

// Snapshot drains the pool, returning a copy of every staged (key,
// payload) pair and leaving the pool empty. sync() calls this exactly
// once per flush, before it writes any bin -- the clear happens
// unconditionally, even if the caller goes on to fail to persist some of
// the returned entries.
func (p *Pool) Snapshot() map[string]string {
	out := make(map[string]string)
	p.m.Range(func(k, v any) bool {
		out[k.(string)] = v.(string)
		return true
	})
	p.m.Range(func(k, _ any) bool {
		p.m.Delete(k)
		return true
	})
	return out
}
