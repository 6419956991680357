package cache

import (
	"strings"
	"time"

	catalogdomain "github.com/smallbiznis/railmeter/internal/catalog/domain"
)

const (
	defaultEventTTL = 5 * time.Minute
	activeListKey   = "active"
)

// CatalogCache keeps read-mostly event catalog lookups off the database.
// Metered transactions never read through it; they query the catalog inside tx.
type CatalogCache interface {
	GetEvent(eventKey string) (catalogdomain.EventTypeSnapshot, bool)
	SetEvent(snapshot catalogdomain.EventTypeSnapshot)
	GetActive() ([]catalogdomain.EventTypeSnapshot, bool)
	SetActive(events []catalogdomain.EventTypeSnapshot)
	Invalidate(eventKey string)
}

type catalogCache struct {
	events Cache[string, catalogdomain.EventTypeSnapshot]
	lists  Cache[string, []catalogdomain.EventTypeSnapshot]
	ttl    time.Duration
}

func NewCatalogCache() CatalogCache {
	return &catalogCache{
		events: NewTTLCache[string, catalogdomain.EventTypeSnapshot](),
		lists:  NewTTLCache[string, []catalogdomain.EventTypeSnapshot](),
		ttl:    defaultEventTTL,
	}
}

func (c *catalogCache) GetEvent(eventKey string) (catalogdomain.EventTypeSnapshot, bool) {
	return c.events.Get(cacheKey(eventKey))
}

func (c *catalogCache) SetEvent(snapshot catalogdomain.EventTypeSnapshot) {
	c.events.Set(cacheKey(snapshot.EventKey), snapshot, c.ttl)
}

func (c *catalogCache) GetActive() ([]catalogdomain.EventTypeSnapshot, bool) {
	return c.lists.Get(activeListKey)
}

func (c *catalogCache) SetActive(events []catalogdomain.EventTypeSnapshot) {
	c.lists.Set(activeListKey, events, c.ttl)
}

func (c *catalogCache) Invalidate(eventKey string) {
	c.events.Delete(cacheKey(eventKey))
	c.lists.Delete(activeListKey)
}

func cacheKey(parts ...string) string {
	normalized := make([]string, 0, len(parts))
	for _, part := range parts {
		normalized = append(normalized, strings.ToLower(strings.TrimSpace(part)))
	}
	return strings.Join(normalized, "|")
}
