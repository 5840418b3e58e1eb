// Package hashtag provides the bounded, bidirectional name<->id cache used
// to resolve hashtag timelines to and from their wire channel form.
package hashtag

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCapacity is the number of entries kept per direction.
const DefaultCapacity = 1000

// Cache keeps a name->id map and an id->name map in lockstep, each bounded
// to the same LRU capacity. Eviction from one direction's LRU is wired to
// remove the paired entry from the other direction, so the two maps never
// drift out of consistency.
type Cache struct {
	nameToID *lru.Cache[string, int64]
	idToName *lru.Cache[int64, string]
}

// New creates a cache with the given per-direction capacity.
func New(capacity int) (*Cache, error) {
	c := &Cache{}

	nameToID, err := lru.NewWithEvict[string, int64](capacity, func(name string, id int64) {
		c.idToName.Remove(id)
	})
	if err != nil {
		return nil, err
	}

	idToName, err := lru.NewWithEvict[int64, string](capacity, func(id int64, name string) {
		c.nameToID.Remove(name)
	})
	if err != nil {
		return nil, err
	}

	c.nameToID = nameToID
	c.idToName = idToName
	return c, nil
}

// Put records a name<->id pair, evicting any stale pairing for either side
// before inserting, so a name or id is never cached under two values at once.
func (c *Cache) Put(name string, id int64) {
	if oldID, ok := c.nameToID.Peek(name); ok && oldID != id {
		c.nameToID.Remove(name)
	}
	if oldName, ok := c.idToName.Peek(id); ok && oldName != name {
		c.idToName.Remove(id)
	}
	c.nameToID.Add(name, id)
	c.idToName.Add(id, name)
}

// GetID returns the id for a hashtag name, touching recency on hit.
func (c *Cache) GetID(name string) (int64, bool) {
	return c.nameToID.Get(name)
}

// GetName returns the name for a hashtag id, touching recency on hit.
func (c *Cache) GetName(id int64) (string, bool) {
	return c.idToName.Get(id)
}

// Len reports the number of entries currently cached (same in both
// directions, since Put keeps them in lockstep).
func (c *Cache) Len() int {
	return c.nameToID.Len()
}
