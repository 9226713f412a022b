package auth

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/gjson"

	"github.com/compresr/guard-gateway/internal/oracle"
)

// StaticEntitlements grants a fixed set of identities.
type StaticEntitlements struct {
	entitled map[string]struct{}
}

// NewStaticEntitlements builds the grant set. Identities compare case-insensitively.
func NewStaticEntitlements(identities []string) *StaticEntitlements {
	set := make(map[string]struct{}, len(identities))
	for _, id := range identities {
		set[strings.ToLower(strings.TrimSpace(id))] = struct{}{}
	}
	return &StaticEntitlements{entitled: set}
}

// IsEntitled reports membership.
func (s *StaticEntitlements) IsEntitled(_ context.Context, identity string) (bool, error) {
	_, ok := s.entitled[strings.ToLower(identity)]
	return ok, nil
}

// HTTPEntitlements asks a remote entitlement oracle.
//
// Request:  GET {base}/entitlement?identity=...
// Response: {"entitled": true}
type HTTPEntitlements struct {
	client *oracle.Client
}

// NewHTTPEntitlements wraps an oracle client.
func NewHTTPEntitlements(client *oracle.Client) *HTTPEntitlements {
	return &HTTPEntitlements{client: client}
}

// IsEntitled returns the oracle's answer.
func (h *HTTPEntitlements) IsEntitled(ctx context.Context, identity string) (bool, error) {
	body, err := h.client.Get(ctx, "/entitlement", url.Values{"identity": {identity}})
	if err != nil {
		return false, oracle.Unavailable(oracle.Entitlement, err)
	}
	entitled := gjson.GetBytes(body, "entitled")
	if !entitled.Exists() {
		return false, oracle.Unavailable(oracle.Entitlement, fmt.Errorf("response missing entitled flag"))
	}
	return entitled.Bool(), nil
}

// =============================================================================
// CACHE
// =============================================================================

// CachedEntitlements remembers positive answers for a TTL.
// Negative answers are never cached so a fresh payment takes effect at once.
type CachedEntitlements struct {
	next EntitlementChecker
	ttl  time.Duration

	mu      sync.RWMutex
	granted map[string]time.Time // identity -> when the grant was observed
	stopCh  chan struct{}
	once    sync.Once
}

// NewCachedEntitlements wraps next. Starts a background cleanup goroutine; call Stop.
func NewCachedEntitlements(next EntitlementChecker, ttl, cleanupInterval time.Duration) *CachedEntitlements {
	c := &CachedEntitlements{
		next:    next,
		ttl:     ttl,
		granted: make(map[string]time.Time),
		stopCh:  make(chan struct{}),
	}
	if cleanupInterval > 0 {
		go c.cleanupLoop(cleanupInterval)
	}
	return c
}

// IsEntitled serves a fresh cached grant or asks the wrapped checker.
func (c *CachedEntitlements) IsEntitled(ctx context.Context, identity string) (bool, error) {
	c.mu.RLock()
	t, ok := c.granted[identity]
	c.mu.RUnlock()
	if ok && time.Since(t) <= c.ttl {
		return true, nil
	}

	entitled, err := c.next.IsEntitled(ctx, identity)
	if err != nil {
		return false, err
	}

	c.mu.Lock()
	if entitled {
		c.granted[identity] = time.Now()
	} else {
		delete(c.granted, identity)
	}
	c.mu.Unlock()
	return entitled, nil
}

// Invalidate drops a cached grant, e.g. after a cancelled subscription.
func (c *CachedEntitlements) Invalidate(identity string) {
	c.mu.Lock()
	delete(c.granted, identity)
	c.mu.Unlock()
}

func (c *CachedEntitlements) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.cleanup()
		}
	}
}

func (c *CachedEntitlements) cleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	for id, t := range c.granted {
		if now.Sub(t) > c.ttl {
			delete(c.granted, id)
		}
	}
}

// Stop stops the cleanup goroutine.
func (c *CachedEntitlements) Stop() {
	c.once.Do(func() { close(c.stopCh) })
}
