// Package ratelimit guards the public messaging webhook with three-tier
// token-bucket admission control: one global bucket, one per source phone,
// one per conversation handle. Callers learn only admitted or rejected;
// which tier rejected never leaks.
package ratelimit

import (
	"sync"
	"time"
)

// Config sizes the limiter. Zero values fall back to the defaults.
type Config struct {
	// Tokens per refill window for each tier.
	GlobalPerWindow int
	PhonePerWindow  int
	ConvPerWindow   int
	// Window is the fixed refill window.
	Window time.Duration
	// PhoneTTL is how long an idle per-phone bucket lives.
	PhoneTTL time.Duration
	// ConvTTL is how long a per-conversation bucket lives from creation,
	// regardless of activity.
	ConvTTL time.Duration
}

func (c *Config) applyDefaults() {
	if c.GlobalPerWindow == 0 {
		c.GlobalPerWindow = 100
	}
	if c.PhonePerWindow == 0 {
		c.PhonePerWindow = 10
	}
	if c.ConvPerWindow == 0 {
		c.ConvPerWindow = 20
	}
	if c.Window == 0 {
		c.Window = time.Minute
	}
	if c.PhoneTTL == 0 {
		c.PhoneTTL = 5 * time.Minute
	}
	if c.ConvTTL == 0 {
		c.ConvTTL = 5 * time.Minute
	}
}

// bucket is a fixed-window token bucket: it refills to capacity once the
// window has fully elapsed, so exactly capacity admissions succeed within
// any window starting from full.
type bucket struct {
	capacity   int
	tokens     int
	window     time.Duration
	lastRefill time.Time
	cleanup    *time.Timer
}

func (b *bucket) take(now time.Time) bool {
	if now.Sub(b.lastRefill) >= b.window {
		b.tokens = b.capacity
		b.lastRefill = now
	}
	if b.tokens <= 0 {
		return false
	}
	b.tokens--
	return true
}

// Limiter applies the three tiers in increasing cost order. Per-phone and
// per-conversation buckets are created lazily on first use and self-destruct
// on their own timers, so idle sources never accumulate memory.
type Limiter struct {
	cfg Config

	mu     sync.Mutex
	global *bucket
	phones map[string]*bucket
	convs  map[string]*bucket
	closed bool
}

// New creates a limiter.
func New(cfg Config) *Limiter {
	cfg.applyDefaults()
	return &Limiter{
		cfg: cfg,
		global: &bucket{
			capacity:   cfg.GlobalPerWindow,
			tokens:     cfg.GlobalPerWindow,
			window:     cfg.Window,
			lastRefill: time.Now(),
		},
		phones: make(map[string]*bucket),
		convs:  make(map[string]*bucket),
	}
}

// Allow consumes one token from each tier in order (global, phone,
// conversation) and short-circuits on the first exhausted bucket. Empty keys
// skip their tier.
func (l *Limiter) Allow(phone, conversation string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return false
	}
	now := time.Now()

	if !l.global.take(now) {
		return false
	}
	if phone != "" && !l.phoneBucket(phone, now).take(now) {
		return false
	}
	if conversation != "" && !l.convBucket(conversation, now).take(now) {
		return false
	}
	return true
}

func (l *Limiter) phoneBucket(key string, now time.Time) *bucket {
	if b, ok := l.phones[key]; ok {
		// Idle lifetime: every touch pushes destruction out again.
		b.cleanup.Reset(l.cfg.PhoneTTL)
		return b
	}
	b := &bucket{
		capacity:   l.cfg.PhonePerWindow,
		tokens:     l.cfg.PhonePerWindow,
		window:     l.cfg.Window,
		lastRefill: now,
	}
	b.cleanup = time.AfterFunc(l.cfg.PhoneTTL, func() { l.drop(l.phones, key) })
	l.phones[key] = b
	return b
}

func (l *Limiter) convBucket(key string, now time.Time) *bucket {
	if b, ok := l.convs[key]; ok {
		return b
	}
	b := &bucket{
		capacity:   l.cfg.ConvPerWindow,
		tokens:     l.cfg.ConvPerWindow,
		window:     l.cfg.Window,
		lastRefill: now,
	}
	// Fixed lifetime from creation: conversation lifetime can exceed the
	// refill cadence, so the bucket dies on schedule even while active.
	b.cleanup = time.AfterFunc(l.cfg.ConvTTL, func() { l.drop(l.convs, key) })
	l.convs[key] = b
	return b
}

func (l *Limiter) drop(m map[string]*bucket, key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if b, ok := m[key]; ok {
		b.cleanup.Stop()
		delete(m, key)
	}
}

// Close stops every outstanding cleanup timer. The limiter rejects all
// traffic afterwards.
func (l *Limiter) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.closed = true
	for _, b := range l.phones {
		b.cleanup.Stop()
	}
	for _, b := range l.convs {
		b.cleanup.Stop()
	}
	l.phones = make(map[string]*bucket)
	l.convs = make(map[string]*bucket)
}
