package identity

import "sync"

// Allocator hands out integer surrogate keys per logical table for the
// lifetime of one run. It is safe for concurrent use.
type Allocator struct {
	mu      sync.Mutex
	next    map[string]int64
	mapping map[string]map[string]int64
}

func NewAllocator() *Allocator {
	return &Allocator{
		next:    make(map[string]int64),
		mapping: make(map[string]map[string]int64),
	}
}

// Seed makes the next key for table greater than max.
func (a *Allocator) Seed(table string, max int64) {
	a.Observe(table, max)
}

// Observe advances table's counter past an externally supplied key.
func (a *Allocator) Observe(table string, id int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if id > a.next[table] {
		a.next[table] = id
	}
}

// Next returns a fresh key for table.
func (a *Allocator) Next(table string) int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.next[table]++
	return a.next[table]
}

// Resolve returns the key assigned to naturalKey in table, assigning a fresh
// one the first time the natural key is seen.
func (a *Allocator) Resolve(table, naturalKey string) int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	ids, ok := a.mapping[table]
	if !ok {
		ids = make(map[string]int64)
		a.mapping[table] = ids
	}
	if id, ok := ids[naturalKey]; ok {
		return id
	}
	a.next[table]++
	ids[naturalKey] = a.next[table]
	return a.next[table]
}

// Preload registers known natural-key mappings, for example ones read back
// from the destination before a run.
func (a *Allocator) Preload(table string, mappings map[string]int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	ids, ok := a.mapping[table]
	if !ok {
		ids = make(map[string]int64, len(mappings))
		a.mapping[table] = ids
	}
	for key, id := range mappings {
		ids[key] = id
		if id > a.next[table] {
			a.next[table] = id
		}
	}
}
