package ratelimit

import (
	"sync"
	"time"
)

// refill periods of the two bucket families.
const (
	apiKeyRefillPeriod = 60 * time.Second
	nodeRefillPeriod   = 10 * time.Second
)

// Limiter is a keyed token bucket family. One bucket materializes per
// identity on first use; no pre-registration and no eviction.
type Limiter interface {
	// TryConsume takes one token from the bucket of identity. When the
	// bucket is dry it consumes nothing and returns false.
	TryConsume(identity string) bool
}

type bucket struct {
	tokens     int
	lastRefill time.Time
}

type family struct {
	mu       sync.Mutex
	buckets  map[string]*bucket
	capacity int
	period   time.Duration
	now      func() time.Time
}

var _ Limiter = &family{}

type Option func(*family)

// WithClock replaces the time source. For tests.
func WithClock(now func() time.Time) Option {
	return func(f *family) {
		f.now = now
	}
}

// NewAPIKeyLimiter buckets API-key identities. Full refill once per 60s.
func NewAPIKeyLimiter(tokens int, options ...Option) Limiter {
	return newFamily(tokens, apiKeyRefillPeriod, options...)
}

// NewNodeLimiter buckets short node ids used on the low-bandwidth
// bootstrap path. Full refill once per 10s.
func NewNodeLimiter(tokens int, options ...Option) Limiter {
	return newFamily(tokens, nodeRefillPeriod, options...)
}

func newFamily(capacity int, period time.Duration, options ...Option) *family {
	f := &family{
		buckets:  map[string]*bucket{},
		capacity: capacity,
		period:   period,
		now:      time.Now,
	}
	for _, o := range options {
		o(f)
	}
	return f
}

func (f *family) TryConsume(identity string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	now := f.now()
	b, ok := f.buckets[identity]
	if !ok {
		b = &bucket{tokens: f.capacity, lastRefill: now}
		f.buckets[identity] = b
	} else if now.Sub(b.lastRefill) >= f.period {
		b.tokens = f.capacity
		b.lastRefill = now
	}

	if b.tokens <= 0 {
		return false
	}
	b.tokens--
	return true
}

// IdentityKind selects which bucket family judges a request.
type IdentityKind string

const (
	APIKey      IdentityKind = "api-key"
	ShortNodeId IdentityKind = "short-node-id"
)

// Service bundles the two families behind one check.
type Service struct {
	apiKey Limiter
	node   Limiter
}

func NewService(apiKeyTokens, nodeTokens int, options ...Option) *Service {
	return &Service{
		apiKey: NewAPIKeyLimiter(apiKeyTokens, options...),
		node:   NewNodeLimiter(nodeTokens, options...),
	}
}

// Check returns true when the request of identity may proceed.
// Unknown kinds are rejected.
func (s *Service) Check(kind IdentityKind, identity string) bool {
	switch kind {
	case APIKey:
		return s.apiKey.TryConsume(identity)
	case ShortNodeId:
		return s.node.TryConsume(identity)
	default:
		return false
	}
}
