package cached

import (
	"context"
	"fmt"
	"time"

	registryprofile "github.com/chirino/ticket-chat/internal/registry/profile"
	"github.com/dgraph-io/ristretto/v2"
)

// Directory is a process-wide display name cache in front of another directory.
// Only positive lookups are cached so a user who sets their name later is picked up.
type Directory struct {
	inner registryprofile.Directory
	cache *ristretto.Cache[string, string]
	ttl   time.Duration
}

// Wrap returns a caching Directory. maxEntries bounds the number of cached names.
func Wrap(inner registryprofile.Directory, ttl time.Duration, maxEntries int64) (*Directory, error) {
	if maxEntries <= 0 {
		maxEntries = 10_000
	}
	cache, err := ristretto.NewCache(&ristretto.Config[string, string]{
		NumCounters: maxEntries * 10,
		MaxCost:     maxEntries,
		BufferItems: 64,
		// Each entry costs 1 so MaxCost is an entry count.
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("profile cache: %w", err)
	}
	return &Directory{inner: inner, cache: cache, ttl: ttl}, nil
}

func (d *Directory) DisplayName(ctx context.Context, userID string) (string, bool, error) {
	if name, ok := d.cache.Get(userID); ok {
		return name, true, nil
	}

	name, ok, err := d.inner.DisplayName(ctx, userID)
	if err != nil || !ok {
		return name, ok, err
	}
	d.cache.SetWithTTL(userID, name, 1, d.ttl)
	return name, true, nil
}

// Wait blocks until pending cache writes are visible.
func (d *Directory) Wait() { d.cache.Wait() }

func (d *Directory) Close() { d.cache.Close() }

var _ registryprofile.Directory = (*Directory)(nil)
