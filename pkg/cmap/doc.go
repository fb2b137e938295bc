// Package cmap provides a string-keyed concurrent map split into shards.
//
// Keys are spread over the shards by their murmur3 hash, and each shard has
// its own RWMutex, so unrelated keys rarely contend.
//
// Usage:
//
//	m := cmap.New[*rate.Limiter]()
//	l := m.GetOrCreate(ip, func() *rate.Limiter { return rate.NewLimiter(10, 10) })
//
// Range visits one shard at a time; the view it gives is not a snapshot.
package cmap
