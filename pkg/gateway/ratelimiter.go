package gateway

import (
	"sync"
	"time"
)

const rateWindow = time.Minute

// ClientRateLimiter implements sliding window rate limiting for one client.
type ClientRateLimiter struct {
	mu                sync.Mutex
	requestsPerMinute int
	requests          []time.Time
	lastSeen          time.Time
}

// NewClientRateLimiter creates a limiter allowing requestsPerMinute per sliding minute.
func NewClientRateLimiter(requestsPerMinute int) *ClientRateLimiter {
	return &ClientRateLimiter{
		requestsPerMinute: requestsPerMinute,
		requests:          make([]time.Time, 0),
		lastSeen:          time.Now(),
	}
}

// prune drops requests older than the window.
func (r *ClientRateLimiter) prune(now time.Time) {
	cutoff := now.Add(-rateWindow)
	valid := r.requests[:0]
	for _, reqTime := range r.requests {
		if reqTime.After(cutoff) {
			valid = append(valid, reqTime)
		}
	}
	r.requests = valid
}

// Allow records a request if the window has room. Otherwise it reports how
// long until the oldest request leaves the window.
func (r *ClientRateLimiter) Allow() (bool, time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	r.lastSeen = now
	r.prune(now)

	if len(r.requests) >= r.requestsPerMinute {
		retryAfter := r.requests[0].Add(rateWindow).Sub(now)
		if retryAfter < time.Second {
			retryAfter = time.Second
		}
		return false, retryAfter
	}

	r.requests = append(r.requests, now)
	return true, 0
}

// UpdateLimit changes the per-minute budget.
func (r *ClientRateLimiter) UpdateLimit(requestsPerMinute int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requestsPerMinute = requestsPerMinute
}

// Count returns the requests in the current window.
func (r *ClientRateLimiter) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.prune(time.Now())
	return len(r.requests)
}

func (r *ClientRateLimiter) idleSince(cutoff time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastSeen.Before(cutoff)
}

// RateLimiter keeps one sliding window per client address. A limit of zero
// or less disables limiting.
type RateLimiter struct {
	mu                sync.Mutex
	requestsPerMinute int
	clients           map[string]*ClientRateLimiter
	lastSweep         time.Time
}

// NewRateLimiter creates a per-client limiter.
func NewRateLimiter(requestsPerMinute int) *RateLimiter {
	return &RateLimiter{
		requestsPerMinute: requestsPerMinute,
		clients:           make(map[string]*ClientRateLimiter),
		lastSweep:         time.Now(),
	}
}

// Allow checks and records one request from client.
func (l *RateLimiter) Allow(client string) (bool, time.Duration) {
	if l == nil || l.requestsPerMinute <= 0 {
		return true, 0
	}

	l.mu.Lock()
	now := time.Now()
	if now.Sub(l.lastSweep) > rateWindow {
		l.sweepLocked(now.Add(-rateWindow))
		l.lastSweep = now
	}
	limiter, ok := l.clients[client]
	if !ok {
		limiter = NewClientRateLimiter(l.requestsPerMinute)
		l.clients[client] = limiter
	}
	l.mu.Unlock()

	return limiter.Allow()
}

// sweepLocked forgets clients with no request since cutoff.
func (l *RateLimiter) sweepLocked(cutoff time.Time) {
	for client, limiter := range l.clients {
		if limiter.idleSince(cutoff) {
			delete(l.clients, client)
		}
	}
}

// ClientCount returns the number of tracked clients.
func (l *RateLimiter) ClientCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.clients)
}
