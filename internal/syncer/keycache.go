package syncer

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/quiverhq/quiver/internal/cryptox"
	"github.com/quiverhq/quiver/internal/logging"
	"github.com/quiverhq/quiver/internal/session"
	"github.com/quiverhq/quiver/internal/transport"
)

// groupKeyCache memoizes resource group metadata and the unwrapped symmetric
// key per group id for the process lifetime. Concurrent fetches of the same
// group collapse into one network call via singleflight; failed fetches are
// not memoized, so a later retry starts clean.
//
// Keys are never rotated in this design. Invalidate exists as the hook a
// rotation path would need, but nothing calls it outside tests.
type groupKeyCache struct {
	api  transport.Client
	sess *session.Manager
	log  logging.Logger

	// ensureConfig guarantees a local config row exists the first time an
	// unknown group is fetched, so full-pull blacklists see it.
	ensureConfig func(ctx context.Context, groupID string) error

	flight singleflight.Group

	mu     sync.Mutex
	groups map[string]*transport.ResourceGroup
	keys   map[string][]byte
}

func newGroupKeyCache(api transport.Client, sess *session.Manager, log logging.Logger,
	ensureConfig func(ctx context.Context, groupID string) error) *groupKeyCache {
	return &groupKeyCache{
		api:          api,
		sess:         sess,
		log:          log,
		ensureConfig: ensureConfig,
		groups:       map[string]*transport.ResourceGroup{},
		keys:         map[string][]byte{},
	}
}

// SymmetricKey returns the group's content key, fetching and unwrapping it
// on first use.
func (c *groupKeyCache) SymmetricKey(ctx context.Context, groupID string) ([]byte, error) {
	c.mu.Lock()
	if key, ok := c.keys[groupID]; ok {
		c.mu.Unlock()
		return key, nil
	}
	c.mu.Unlock()

	v, err, _ := c.flight.Do(groupID, func() (any, error) {
		// A concurrent caller may have won the race before our Do started.
		c.mu.Lock()
		if key, ok := c.keys[groupID]; ok {
			c.mu.Unlock()
			return key, nil
		}
		c.mu.Unlock()

		group, err := c.fetchGroup(ctx, groupID)
		if err != nil {
			return nil, err
		}

		priv, err := c.sess.PrivateKey()
		if err != nil {
			return nil, err
		}
		key, err := cryptox.UnwrapKeyAsymmetric(priv, group.EncSymmetricKey)
		if err != nil {
			return nil, fmt.Errorf("unwrapping key for group %s: %w", groupID, err)
		}

		c.mu.Lock()
		c.keys[groupID] = key
		c.mu.Unlock()
		return key, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

func (c *groupKeyCache) fetchGroup(ctx context.Context, groupID string) (*transport.ResourceGroup, error) {
	c.mu.Lock()
	if group, ok := c.groups[groupID]; ok {
		c.mu.Unlock()
		return group, nil
	}
	c.mu.Unlock()

	group, err := c.api.GetResourceGroup(ctx, groupID)
	if err != nil {
		c.log.Error(ctx, "failed to get resource group", "groupId", groupID, "error", err)
		return nil, err
	}

	// First sight of this group locally: give it a config so sync-mode
	// bookkeeping covers it.
	if err := c.ensureConfig(ctx, groupID); err != nil {
		return nil, err
	}

	// Groups never change server-side, so cache for the process lifetime.
	c.mu.Lock()
	c.groups[groupID] = group
	c.mu.Unlock()
	return group, nil
}

// Seed installs a freshly created group and its plaintext key, so the first
// encryption under a new group skips the fetch round-trip.
func (c *groupKeyCache) Seed(group *transport.ResourceGroup, key []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.groups[group.ID] = group
	c.keys[group.ID] = key
}

// Invalidate drops cached state for one group.
func (c *groupKeyCache) Invalidate(groupID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.groups, groupID)
	delete(c.keys, groupID)
}
