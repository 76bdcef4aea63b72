package layout

import "github.com/llir/llvm/ir/types"

// Types are keyed by identity. Named structs are unique per module, so a
// cache never outlives the module it was filled from in practice.
type cacheEntry struct {
	Layout TypeLayout
	Err    *LayoutError
}

type cache struct {
	byType map[types.Type]cacheEntry
}

func newCache() *cache {
	return &cache{byType: make(map[types.Type]cacheEntry, 32)}
}

func (c *cache) get(t types.Type) (cacheEntry, bool) {
	if c == nil {
		return cacheEntry{}, false
	}
	e, ok := c.byType[t]
	return e, ok
}

func (c *cache) put(t types.Type, e *cacheEntry) {
	if c == nil {
		return
	}
	if e == nil {
		delete(c.byType, t)
		return
	}
	c.byType[t] = *e
}
