package cache

import (
	"strings"
	"time"

	quotadomain "github.com/smallbiznis/insightzen/internal/quota/domain"
)

const defaultSchemeTTL = 30 * time.Second

// SchemeCache holds catalog lookups for reserve_next. Entries are keyed by
// project and the requested scheme id ("" for the default pick).
type SchemeCache interface {
	GetPublished(projectID, schemeID string) (*quotadomain.QuotaScheme, bool)
	SetPublished(projectID, schemeID string, scheme *quotadomain.QuotaScheme)
	InvalidateProject(projectID string)
}

type schemeCache struct {
	schemes Cache[string, *quotadomain.QuotaScheme]
	ttl     time.Duration
}

func NewSchemeCache() SchemeCache {
	return &schemeCache{
		schemes: NewTTLCache[string, *quotadomain.QuotaScheme](),
		ttl:     defaultSchemeTTL,
	}
}

func (c *schemeCache) GetPublished(projectID, schemeID string) (*quotadomain.QuotaScheme, bool) {
	scheme, ok := c.schemes.Get(cacheKey(projectID, schemeOrDefault(schemeID)))
	if !ok {
		return nil, false
	}
	copied := *scheme
	return &copied, true
}

func (c *schemeCache) SetPublished(projectID, schemeID string, scheme *quotadomain.QuotaScheme) {
	if scheme == nil || scheme.ID == 0 {
		return
	}
	copied := *scheme
	c.schemes.Set(cacheKey(projectID, schemeOrDefault(schemeID)), &copied, c.ttl)
}

func (c *schemeCache) InvalidateProject(projectID string) {
	prefix := cacheKey(projectID) + "|"
	c.schemes.DeleteFunc(func(key string) bool {
		return strings.HasPrefix(key, prefix)
	})
}

func schemeOrDefault(schemeID string) string {
	if strings.TrimSpace(schemeID) == "" {
		return "default"
	}
	return schemeID
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
	return strings.Join(values, "|")
}
