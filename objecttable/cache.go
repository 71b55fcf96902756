// Copyright 2024 The jsondb Authors
// This file is part of jsondb.
//
// jsondb is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// jsondb is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with jsondb. If not, see <http://www.gnu.org/licenses/>.

package objecttable

import (
	"sync"

	"github.com/google/btree"
)

// cacheEntry is one slot of a Cache, ordered by identity text per
// btree.BTreeG's comparator contract.
type cacheEntry struct {
	key string
	doc Document
	ok  bool // ok=false records a confirmed miss, so repeated lookups of a
	// missing join target don't keep re-hitting the Object Table.
}

func cacheEntryLess(a, b cacheEntry) bool { return a.key < b.key }

// Cache is a bounded, ordered, read-through cache of decoded documents
// keyed by identity text. It exists for query join/projection (spec.md
// §4.4.1): a single IndexQuery may dereference the same identity many
// times across result rows, and re-decoding CBOR bodies for every
// dereference would dominate join-heavy query cost.
//
// Entries live in a github.com/google/btree tree ordered by ObjectKey;
// eviction is first-in-first-out, driven by the separate insertion-order
// slice, so the oldest inserted entry goes first once the cache is full.
type Cache struct {
	mu       sync.Mutex
	tree     *btree.BTreeG[cacheEntry]
	order    []string // insertion order, for FIFO eviction
	maxItems int
}

// NewCache returns a Cache that holds at most maxItems documents, evicting
// the oldest insertion once full.
func NewCache(maxItems int) *Cache {
	if maxItems <= 0 {
		maxItems = 256
	}
	return &Cache{
		tree:     btree.NewG(32, cacheEntryLess),
		maxItems: maxItems,
	}
}

// Get returns the cached document for identity key, and whether the
// lookup was already resolved (hit=true covers both a cached document and
// a cached miss; ok reports whether a document was actually found).
func (c *Cache) Get(key string) (doc Document, ok bool, hit bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, found := c.tree.Get(cacheEntry{key: key})
	if !found {
		return nil, false, false
	}
	return e.doc, e.ok, true
}

// Put records the resolution (found or not) of identity key.
func (c *Cache) Put(key string, doc Document, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, existed := c.tree.Get(cacheEntry{key: key}); !existed {
		if len(c.order) >= c.maxItems {
			oldest := c.order[0]
			c.order = c.order[1:]
			c.tree.Delete(cacheEntry{key: oldest})
		}
		c.order = append(c.order, key)
	}
	c.tree.ReplaceOrInsert(cacheEntry{key: key, doc: doc, ok: ok})
}

// Len reports the number of entries currently cached.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tree.Len()
}
