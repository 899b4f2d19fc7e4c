package cache

import (
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
)

const defaultSlugTTL = time.Hour

// SlugResolverCache stores hot-path owner/repo to application lookups.
// Entries are idempotent re-derivations of the durable mapping table, so a
// stale hit only costs one extra storage round trip after expiry.
type SlugResolverCache interface {
	Get(owner, repo string) (snowflake.ID, bool)
	Set(owner, repo string, appID snowflake.ID)
}

type slugResolverCache struct {
	apps Cache[string, snowflake.ID]
	ttl  time.Duration
}

// NewSlugResolverCache returns an in-memory cache tuned for slug resolution.
func NewSlugResolverCache() SlugResolverCache {
	return &slugResolverCache{
		apps: NewTTLCache[string, snowflake.ID](),
		ttl:  defaultSlugTTL,
	}
}

func (c *slugResolverCache) Get(owner, repo string) (snowflake.ID, bool) {
	return c.apps.Get(cacheKey(owner, repo))
}

func (c *slugResolverCache) Set(owner, repo string, appID snowflake.ID) {
	if appID == 0 {
		return
	}
	c.apps.Set(cacheKey(owner, repo), appID, c.ttl)
}

func cacheKey(parts ...string) string {
	values := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		values = append(values, strings.ToLower(trimmed))
	}
	return strings.Join(values, "/")
}
