package ratelimit

import (
	"hash/fnv"
	"strconv"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
)

const shardCount = 16

// Limiter enforces a fixed-window request budget per client key. Windows are
// aligned to the wall clock, so every client's window rolls at the same
// instants. State is sharded by key hash to keep contention off a single
// lock under concurrent traffic.
type Limiter struct {
	limit  int
	window time.Duration
	shards [shardCount]*shard

	// now is swappable so tests can pin the window clock.
	now func() time.Time
}

type shard struct {
	mu       sync.Mutex
	counters *cache.Cache
}

func NewLimiter(limit int, window time.Duration) *Limiter {
	if limit <= 0 {
		limit = 100
	}
	if window <= 0 {
		window = time.Minute
	}
	l := &Limiter{
		limit:  limit,
		window: window,
		now:    time.Now,
	}
	for i := range l.shards {
		// Expired buckets linger one extra window before cleanup reaps them.
		l.shards[i] = &shard{counters: cache.New(2*window, 2*window)}
	}
	return l
}

// Allow records one request for key and reports whether it fits the current
// window's budget. When the budget is spent it returns the time remaining
// until the window rolls over.
func (l *Limiter) Allow(key string) (bool, time.Duration) {
	now := l.now()
	bucket := now.Truncate(l.window)
	counterKey := key + "|" + strconv.FormatInt(bucket.UnixNano(), 10)

	sh := l.shards[shardFor(key)]
	sh.mu.Lock()
	defer sh.mu.Unlock()

	var count int
	if v, ok := sh.counters.Get(counterKey); ok {
		count = v.(int)
	}
	if count >= l.limit {
		return false, bucket.Add(l.window).Sub(now)
	}

	sh.counters.Set(counterKey, count+1, cache.DefaultExpiration)
	return true, 0
}

// Remaining reports the unused budget for key in the current window.
func (l *Limiter) Remaining(key string) int {
	bucket := l.now().Truncate(l.window)
	counterKey := key + "|" + strconv.FormatInt(bucket.UnixNano(), 10)

	sh := l.shards[shardFor(key)]
	sh.mu.Lock()
	defer sh.mu.Unlock()

	if v, ok := sh.counters.Get(counterKey); ok {
		if rem := l.limit - v.(int); rem > 0 {
			return rem
		}
		return 0
	}
	return l.limit
}

func shardFor(key string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(key))
	return h.Sum32() % shardCount
}
