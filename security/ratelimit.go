package security

import (
	"container/list"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	// DefaultRegistrationsPerHour is the default limit for client
	// registrations per caller per hour.
	DefaultRegistrationsPerHour = 10

	// DefaultRegistrationBurst is the default burst size for registrations.
	DefaultRegistrationBurst = 5

	// defaultMaxLimiterEntries bounds the number of callers tracked
	// simultaneously; least recently used entries are evicted past it.
	defaultMaxLimiterEntries = 10000

	// limiterIdleTimeout is how long an entry may sit unused before the
	// cleanup pass drops it.
	limiterIdleTimeout = 30 * time.Minute

	// limiterCleanupInterval is how often idle entries are swept.
	limiterCleanupInterval = 5 * time.Minute
)

// limiterEntry tracks a token bucket and its last access time.
type limiterEntry struct {
	identifier string
	limiter    *rate.Limiter
	lastAccess time.Time
}

// RegistrationLimiter rate-limits client registrations per caller identifier
// using a token bucket per identifier, with LRU eviction to keep memory
// bounded under distributed abuse.
type RegistrationLimiter struct {
	mu       sync.Mutex
	limiters map[string]*list.Element // identifier -> element in lruList
	lruList  *list.List               // front = most recently used

	perHour    int
	burst      int
	maxEntries int

	logger      *slog.Logger
	stopCleanup chan struct{}
	stopOnce    sync.Once
}

// NewRegistrationLimiter creates a limiter allowing perHour registrations per
// identifier with the given burst. Non-positive values fall back to defaults.
func NewRegistrationLimiter(perHour, burst int, logger *slog.Logger) *RegistrationLimiter {
	if logger == nil {
		logger = slog.Default()
	}
	if perHour <= 0 {
		perHour = DefaultRegistrationsPerHour
	}
	if burst <= 0 {
		burst = DefaultRegistrationBurst
	}

	rl := &RegistrationLimiter{
		limiters:    make(map[string]*list.Element),
		lruList:     list.New(),
		perHour:     perHour,
		burst:       burst,
		maxEntries:  defaultMaxLimiterEntries,
		logger:      logger,
		stopCleanup: make(chan struct{}),
	}

	go rl.cleanupLoop()

	return rl
}

// Allow reports whether the identifier may register another client now.
func (rl *RegistrationLimiter) Allow(identifier string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	elem, ok := rl.limiters[identifier]
	if !ok {
		if rl.lruList.Len() >= rl.maxEntries {
			rl.evictOldestLocked()
		}
		entry := &limiterEntry{
			identifier: identifier,
			limiter:    rate.NewLimiter(rate.Limit(float64(rl.perHour)/3600.0), rl.burst),
			lastAccess: time.Now(),
		}
		elem = rl.lruList.PushFront(entry)
		rl.limiters[identifier] = elem
	} else {
		rl.lruList.MoveToFront(elem)
		elem.Value.(*limiterEntry).lastAccess = time.Now()
	}

	allowed := elem.Value.(*limiterEntry).limiter.Allow()
	if !allowed {
		rl.logger.Warn("Client registration rate limit exceeded", "identifier", identifier)
	}
	return allowed
}

// Stop terminates the background cleanup goroutine.
func (rl *RegistrationLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopCleanup) })
}

func (rl *RegistrationLimiter) evictOldestLocked() {
	back := rl.lruList.Back()
	if back == nil {
		return
	}
	entry := back.Value.(*limiterEntry)
	rl.lruList.Remove(back)
	delete(rl.limiters, entry.identifier)
}

func (rl *RegistrationLimiter) cleanupLoop() {
	ticker := time.NewTicker(limiterCleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rl.stopCleanup:
			return
		case <-ticker.C:
			rl.cleanup()
		}
	}
}

func (rl *RegistrationLimiter) cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := time.Now().Add(-limiterIdleTimeout)
	for elem := rl.lruList.Back(); elem != nil; {
		entry := elem.Value.(*limiterEntry)
		if entry.lastAccess.After(cutoff) {
			break // list is LRU ordered, the rest are fresher
		}
		prev := elem.Prev()
		rl.lruList.Remove(elem)
		delete(rl.limiters, entry.identifier)
		elem = prev
	}
}
