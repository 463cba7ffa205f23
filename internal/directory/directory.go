// Package directory resolves source account ids to human display names,
// caching the answers.
package directory

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
)

// Lookup fetches a display name from the authoritative service.
type Lookup interface {
	DisplayName(ctx context.Context, accountID string) (string, error)
}

// Cache stores resolved names. Get reports ok=false on a miss.
type Cache interface {
	Get(ctx context.Context, accountID string) (name string, ok bool, err error)
	Set(ctx context.Context, accountID, name string) error
}

// IsAccountID reports whether a user identifier is an opaque account id
// rather than an email address or the "unknown" placeholder. Both the
// "<site>:<uuid>" form and the older 24-hex form qualify.
func IsAccountID(identifier string) bool {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" || strings.EqualFold(identifier, "unknown") {
		return false
	}
	return !strings.Contains(identifier, "@")
}

// Directory resolves names through a cache in front of a Lookup.
type Directory struct {
	lookup Lookup
	cache  Cache
}

// New returns a Directory. A nil cache means an in-memory one.
func New(lookup Lookup, cache Cache) *Directory {
	if cache == nil {
		cache = NewMemoryCache()
	}
	return &Directory{lookup: lookup, cache: cache}
}

// DisplayName returns the name for accountID. Failed or empty lookups are
// not cached, so they are retried on the next call.
func (d *Directory) DisplayName(ctx context.Context, accountID string) (string, error) {
	name, ok, err := d.cache.Get(ctx, accountID)
	if err != nil {
		slog.Warn("display name cache read failed", "account_id", accountID, "error", err)
	} else if ok {
		return name, nil
	}

	if d.lookup == nil {
		return "", fmt.Errorf("display name %s: no lookup configured", accountID)
	}
	name, err = d.lookup.DisplayName(ctx, accountID)
	if err != nil {
		return "", fmt.Errorf("display name %s: %w", accountID, err)
	}
	if name == "" {
		return "", nil
	}

	if err := d.cache.Set(ctx, accountID, name); err != nil {
		slog.Warn("display name cache write failed", "account_id", accountID, "error", err)
	}
	return name, nil
}

// MemoryCache is a process-local Cache.
type MemoryCache struct {
	mu    sync.RWMutex
	names map[string]string
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{names: make(map[string]string)}
}

func (c *MemoryCache) Get(_ context.Context, accountID string) (string, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	name, ok := c.names[accountID]
	return name, ok, nil
}

func (c *MemoryCache) Set(_ context.Context, accountID, name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.names[accountID] = name
	return nil
}
