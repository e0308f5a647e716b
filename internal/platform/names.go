package platform

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

// NameCache resolves role display names, preferring statically configured
// names and caching directory lookups in an LRU.
type NameCache struct {
	static    map[RoleID]string
	directory RoleDirectory
	cache     *lru.Cache[RoleID, string]
}

// NewNameCache creates a cache of the given size. directory may be nil, in
// which case unknown roles render as their mention.
func NewNameCache(static map[RoleID]string, directory RoleDirectory, size int) (*NameCache, error) {
	if size <= 0 {
		size = 128
	}
	cache, err := lru.New[RoleID, string](size)
	if err != nil {
		return nil, fmt.Errorf("create role name cache: %w", err)
	}
	return &NameCache{static: static, directory: directory, cache: cache}, nil
}

// Name returns the display name of a role. Lookup failures fall back to the
// role mention so notifications can still be sent.
func (c *NameCache) Name(ctx context.Context, role RoleID) string {
	if name, ok := c.static[role]; ok && name != "" {
		return name
	}
	if name, ok := c.cache.Get(role); ok {
		return name
	}
	if c.directory == nil {
		return role.Mention()
	}
	name, err := c.directory.RoleName(ctx, role)
	if err != nil || name == "" {
		return role.Mention()
	}
	c.cache.Add(role, name)
	return name
}

// Names resolves a list of roles in order.
func (c *NameCache) Names(ctx context.Context, roles []RoleID) []string {
	out := make([]string, 0, len(roles))
	for _, r := range roles {
		out = append(out, c.Name(ctx, r))
	}
	return out
}
