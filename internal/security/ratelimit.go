package security

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type ipBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// ConnLimiter throttles connection attempts per client IP using token
// buckets, evicting idle entries so the map cannot grow without bound.
type ConnLimiter struct {
	buckets    map[string]*ipBucket
	mu         sync.Mutex
	limit      rate.Limit
	burst      int
	ttl        time.Duration // evict entries not seen within this window
	maxEntries int           // cap on number of tracked IPs
	cancel     context.CancelFunc
}

// NewConnLimiter creates a per-IP connection limiter allowing perMinute
// new connections per minute from each address, with a burst of the same
// size so reconnect storms after a network blip are not rejected outright.
func NewConnLimiter(perMinute int) *ConnLimiter {
	ctx, cancel := context.WithCancel(context.Background())
	cl := &ConnLimiter{
		buckets:    make(map[string]*ipBucket),
		limit:      rate.Limit(float64(perMinute) / 60.0),
		burst:      perMinute,
		ttl:        10 * time.Minute,
		maxEntries: 10000,
		cancel:     cancel,
	}
	go cl.evictLoop(ctx)
	return cl
}

// Allow reports whether a new connection from the given IP may proceed.
func (cl *ConnLimiter) Allow(ip string) bool {
	cl.mu.Lock()
	b, ok := cl.buckets[ip]
	if !ok {
		if len(cl.buckets) >= cl.maxEntries {
			cl.mu.Unlock()
			return false // reject rather than grow the map unbounded
		}
		b = &ipBucket{limiter: rate.NewLimiter(cl.limit, cl.burst)}
		cl.buckets[ip] = b
	}
	b.lastSeen = time.Now()
	cl.mu.Unlock()

	return b.limiter.Allow()
}

// Stop shuts down the eviction goroutine.
func (cl *ConnLimiter) Stop() {
	cl.cancel()
}

// UpdateRate changes the per-minute allowance. Existing buckets are
// discarded so every IP picks up the new rate on its next attempt.
func (cl *ConnLimiter) UpdateRate(perMinute int) {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	cl.limit = rate.Limit(float64(perMinute) / 60.0)
	cl.burst = perMinute
	cl.buckets = make(map[string]*ipBucket)
}

func (cl *ConnLimiter) evictLoop(ctx context.Context) {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cl.mu.Lock()
			for ip, b := range cl.buckets {
				if time.Since(b.lastSeen) > cl.ttl {
					delete(cl.buckets, ip)
				}
			}
			cl.mu.Unlock()
		}
	}
}
