package relay

import (
	"fmt"
	"hash/maphash"
	"sync"
)

// DefaultShards is the number of registry shards used when RegistryConfig
// leaves Shards at zero.
const DefaultShards = 32

// RegistryConfig configures a Registry.
type RegistryConfig struct {
	// Shards is the number of independently locked partitions. Keys hashing
	// to different shards never contend. Default DefaultShards.
	Shards int

	// Capacity bounds the number of pending entries per key, counting the
	// entry currently being processed. Zero means unbounded.
	Capacity int
}

// Registry holds a FIFO queue and an active flag for every key that has
// pending work. It is safe for concurrent use.
//
// State for a key exists only while the key has at least one entry; PopFront
// removes it together with the last entry.
type Registry[K comparable, E any] struct {
	seed     maphash.Seed
	shards   []*shard[K, E]
	capacity int
}

type shard[K comparable, E any] struct {
	mu     sync.Mutex
	queues map[K]*userQueue[E]
}

type userQueue[E any] struct {
	entries []E
	active  bool
}

// NewRegistry creates an empty registry.
func NewRegistry[K comparable, E any](cfg RegistryConfig) *Registry[K, E] {
	n := cfg.Shards
	if n <= 0 {
		n = DefaultShards
	}
	r := &Registry[K, E]{
		seed:     maphash.MakeSeed(),
		shards:   make([]*shard[K, E], n),
		capacity: max(cfg.Capacity, 0),
	}
	for i := range r.shards {
		r.shards[i] = &shard[K, E]{queues: make(map[K]*userQueue[E])}
	}
	return r
}

func (r *Registry[K, E]) shard(key K) *shard[K, E] {
	h := maphash.Comparable(r.seed, key)
	return r.shards[h%uint64(len(r.shards))]
}

// Enqueue appends entries to the key's queue, all or nothing.
//
// It reports first == true when no dispatch was active for the key before the
// call; the key is then marked active and the caller owns starting the
// dispatch. Calling Enqueue without entries does nothing.
func (r *Registry[K, E]) Enqueue(key K, entries ...E) (first bool, err error) {
	if len(entries) == 0 {
		return false, nil
	}
	s := r.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	q := s.queues[key]
	pending := 0
	if q != nil {
		pending = len(q.entries)
	}
	if r.capacity > 0 && pending+len(entries) > r.capacity {
		return false, fmt.Errorf("%w: key=%v pending=%d capacity=%d", ErrQueueFull, key, pending, r.capacity)
	}
	if q == nil {
		q = &userQueue[E]{entries: make([]E, 0, len(entries))}
		s.queues[key] = q
	}
	q.entries = append(q.entries, entries...)
	first = !q.active
	q.active = true
	return first, nil
}

// Peek returns the head entry of the key's queue without removing it.
// It panics with ErrUnknownKey if the key has no state.
func (r *Registry[K, E]) Peek(key K) (E, bool) {
	s := r.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	q, ok := s.queues[key]
	if !ok {
		panic(fmt.Errorf("%w: peek key=%v", ErrUnknownKey, key))
	}
	if len(q.entries) == 0 {
		var zero E
		return zero, false
	}
	return q.entries[0], true
}

// PopFront removes the head entry of the key's queue. If that was the last
// entry, the key is marked inactive and its state is deleted before the lock
// is released, and PopFront reports more == false.
//
// It panics with ErrUnknownKey if the key has no state or no entries.
func (r *Registry[K, E]) PopFront(key K) (more bool) {
	s := r.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	q, ok := s.queues[key]
	if !ok || len(q.entries) == 0 {
		panic(fmt.Errorf("%w: pop key=%v", ErrUnknownKey, key))
	}
	var zero E
	q.entries[0] = zero
	q.entries = q.entries[1:]
	if len(q.entries) == 0 {
		q.active = false
		delete(s.queues, key)
		return false
	}
	return true
}

// release drops the key's state if it holds no entries.
func (r *Registry[K, E]) release(key K) {
	s := r.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	if q, ok := s.queues[key]; ok && len(q.entries) == 0 {
		delete(s.queues, key)
	}
}

// IsEmpty reports whether the key has no pending entries.
func (r *Registry[K, E]) IsEmpty(key K) bool {
	return r.Pending(key) == 0
}

// Remove deletes the key's state if it has no entries and no active
// dispatch. It reports whether state was deleted; unknown keys are a no-op.
func (r *Registry[K, E]) Remove(key K) bool {
	s := r.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	q, ok := s.queues[key]
	if !ok || len(q.entries) > 0 || q.active {
		return false
	}
	delete(s.queues, key)
	return true
}

// Pending returns the number of entries queued for the key, including the
// one being processed.
func (r *Registry[K, E]) Pending(key K) int {
	s := r.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	if q, ok := s.queues[key]; ok {
		return len(q.entries)
	}
	return 0
}

// Len returns the number of keys holding state.
func (r *Registry[K, E]) Len() int {
	n := 0
	for _, s := range r.shards {
		s.mu.Lock()
		n += len(s.queues)
		s.mu.Unlock()
	}
	return n
}

// Keys returns a snapshot of the keys holding state, in no particular order.
func (r *Registry[K, E]) Keys() []K {
	var keys []K
	for _, s := range r.shards {
		s.mu.Lock()
		for k := range s.queues {
			keys = append(keys, k)
		}
		s.mu.Unlock()
	}
	return keys
}

// total returns the number of entries across all keys.
func (r *Registry[K, E]) total() int {
	n := 0
	for _, s := range r.shards {
		s.mu.Lock()
		for _, q := range s.queues {
			n += len(q.entries)
		}
		s.mu.Unlock()
	}
	return n
}
