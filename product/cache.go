package product

import (
	"github.com/ReneKroon/ttlcache"
)

// Cache maps product ids to descriptors retrieved from the store. Entries
// are kept for the lifetime of the process; a later retrieval for the same
// id overwrites the previous descriptor.
type Cache struct {
	cache *ttlcache.Cache
}

func NewCache() *Cache {
	// No TTL is configured, so entries never expire.
	return &Cache{
		cache: ttlcache.NewCache(),
	}
}

func (c *Cache) Get(id string) (*Product, bool) {
	cached, ok := c.cache.Get(id)
	if !ok {
		return nil, false
	}

	return cached.(*Product).Clone(), true
}

func (c *Cache) Put(p *Product) {
	c.cache.Set(p.ID, p.Clone())
}

func (c *Cache) PutAll(products []*Product) {
	for _, p := range products {
		c.Put(p)
	}
}

func (c *Cache) Len() int {
	return c.cache.Count()
}
