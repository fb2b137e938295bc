// Package keylock provides per-key exclusive locks with bounded acquisition.
//
// Locks live in a sharded registry; the shard for a key is chosen with
// murmur3. Entries are reference counted and removed once no holder or
// waiter remains, so the registry only grows with the number of keys in use.
package keylock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/spaolacci/murmur3"
)

// DefaultShardCount is the default number of shards.
const DefaultShardCount = 16

// ErrTimeout is returned when a lock could not be acquired in time.
var ErrTimeout = errors.New("keylock: acquire timed out")

// Registry hands out per-key locks.
type Registry struct {
	shards    []*shard
	shardMask uint32
	timeout   time.Duration
}

type shard struct {
	mu    sync.Mutex
	locks map[string]*entry
}

type entry struct {
	sem  chan struct{}
	refs int
}

// Option configures a Registry.
type Option func(*Registry)

// WithShards sets the shard count. n must be a power of 2.
func WithShards(n int) Option {
	return func(r *Registry) {
		if n > 0 && n&(n-1) == 0 {
			r.shards = make([]*shard, n)
		}
	}
}

// WithTimeout bounds every acquisition. Zero means only the caller's
// context bounds it.
func WithTimeout(d time.Duration) Option {
	return func(r *Registry) {
		r.timeout = d
	}
}

// New creates a registry.
func New(opts ...Option) *Registry {
	r := &Registry{shards: make([]*shard, DefaultShardCount)}
	for _, opt := range opts {
		opt(r)
	}
	r.shardMask = uint32(len(r.shards) - 1)
	for i := range r.shards {
		r.shards[i] = &shard{locks: make(map[string]*entry)}
	}
	return r
}

func (r *Registry) shardFor(key string) *shard {
	return r.shards[murmur3.Sum32([]byte(key))&r.shardMask]
}

// Acquire takes the exclusive lock for key. It blocks until the lock is
// free, the registry timeout expires (ErrTimeout) or ctx is done (ctx.Err()).
// The returned function releases the lock and must be called exactly once.
func (r *Registry) Acquire(ctx context.Context, key string) (func(), error) {
	s := r.shardFor(key)

	s.mu.Lock()
	e, ok := s.locks[key]
	if !ok {
		e = &entry{sem: make(chan struct{}, 1)}
		s.locks[key] = e
	}
	e.refs++
	s.mu.Unlock()

	var timer <-chan time.Time
	if r.timeout > 0 {
		t := time.NewTimer(r.timeout)
		defer t.Stop()
		timer = t.C
	}

	select {
	case e.sem <- struct{}{}:
	case <-timer:
		r.unref(s, key, e)
		return nil, ErrTimeout
	case <-ctx.Done():
		r.unref(s, key, e)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.sem
			r.unref(s, key, e)
		})
	}, nil
}

// TryAcquire takes the lock for key only if it is free.
func (r *Registry) TryAcquire(key string) (func(), bool) {
	s := r.shardFor(key)

	s.mu.Lock()
	e, ok := s.locks[key]
	if !ok {
		e = &entry{sem: make(chan struct{}, 1)}
		s.locks[key] = e
	}
	select {
	case e.sem <- struct{}{}:
		e.refs++
	default:
		if e.refs == 0 {
			delete(s.locks, key)
		}
		s.mu.Unlock()
		return nil, false
	}
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.sem
			r.unref(s, key, e)
		})
	}, true
}

func (r *Registry) unref(s *shard, key string, e *entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(s.locks, key)
	}
}

// Len returns the number of keys currently held or waited on.
func (r *Registry) Len() int {
	n := 0
	for _, s := range r.shards {
		s.mu.Lock()
		n += len(s.locks)
		s.mu.Unlock()
	}
	return n
}
