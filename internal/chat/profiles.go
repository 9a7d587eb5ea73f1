package chat

import (
	"context"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/chirino/ticket-chat/internal/metrics"
	registryprofile "github.com/chirino/ticket-chat/internal/registry/profile"
	"golang.org/x/sync/singleflight"
)

// DefaultPlaceholder is the display name used when a sender cannot be resolved.
const DefaultPlaceholder = "Unknown user"

// ProfileCache memoizes display names for the lifetime of one conversation.
// Concurrent misses for the same user share a single directory lookup. Failed or
// empty lookups resolve to the placeholder and are retried on the next reference.
type ProfileCache struct {
	directory   registryprofile.Directory
	placeholder string

	mu    sync.RWMutex
	names map[string]string
	group singleflight.Group
}

// NewProfileCache creates a cache over directory. A nil directory resolves every
// user to the placeholder.
func NewProfileCache(directory registryprofile.Directory, placeholder string) *ProfileCache {
	if placeholder == "" {
		placeholder = DefaultPlaceholder
	}
	return &ProfileCache{
		directory:   directory,
		placeholder: placeholder,
		names:       map[string]string{},
	}
}

// Peek returns a memoized name without calling the directory.
func (c *ProfileCache) Peek(userID string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	name, ok := c.names[userID]
	return name, ok
}

// Resolve returns the user's display name, or the placeholder.
func (c *ProfileCache) Resolve(ctx context.Context, userID string) string {
	if name, ok := c.Peek(userID); ok {
		metrics.Inc(metrics.ProfileCacheHitsTotal)
		return name
	}
	if c.directory == nil {
		return c.placeholder
	}
	metrics.Inc(metrics.ProfileCacheMissesTotal)

	v, _, _ := c.group.Do(userID, func() (any, error) {
		name, ok, err := c.directory.DisplayName(ctx, userID)
		if err != nil {
			log.Warn("profile lookup failed", "userId", userID, "err", err)
			return c.placeholder, nil
		}
		if !ok || name == "" {
			return c.placeholder, nil
		}
		c.mu.Lock()
		c.names[userID] = name
		c.mu.Unlock()
		return name, nil
	})
	return v.(string)
}

func (c *ProfileCache) Placeholder() string { return c.placeholder }
