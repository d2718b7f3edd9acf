package resource

import (
	"sync"

	"github.com/spaghettifunk/kiln/engine/renderer/metadata"
)

type garbage struct {
	use     *SharedUse
	destroy func()
}

// GarbageList defers the destruction of objects released while a command
// stream may still reference them. It is shared between contexts.
type GarbageList struct {
	mu    sync.Mutex
	items []garbage
}

func NewGarbageList() *GarbageList {
	return &GarbageList{}
}

// Add takes over the reference held by use and calls destroy once the
// record is no longer in use. An invalid use is destroyed on the next
// Collect.
func (g *GarbageList) Add(use *SharedUse, destroy func()) {
	item := garbage{destroy: destroy}
	if use.Valid() {
		item.use = use.Move()
	}
	g.mu.Lock()
	g.items = append(g.items, item)
	g.mu.Unlock()
}

// Collect destroys every object whose use completed by lastCompleted and
// returns how many were destroyed.
func (g *GarbageList) Collect(lastCompleted metadata.Serial) int {
	g.mu.Lock()
	var ready []garbage
	kept := g.items[:0]
	for _, item := range g.items {
		if item.use != nil && item.use.IsCurrentlyInUse(lastCompleted) {
			kept = append(kept, item)
			continue
		}
		ready = append(ready, item)
	}
	for i := len(kept); i < len(g.items); i++ {
		g.items[i] = garbage{}
	}
	g.items = kept
	g.mu.Unlock()

	for _, item := range ready {
		item.destroy()
		if item.use != nil {
			item.use.Release()
		}
	}
	return len(ready)
}

// DestroyAll destroys everything regardless of use. The device must be idle.
func (g *GarbageList) DestroyAll() int {
	g.mu.Lock()
	items := g.items
	g.items = nil
	g.mu.Unlock()

	for _, item := range items {
		item.destroy()
		if item.use != nil {
			item.use.Release()
		}
	}
	return len(items)
}

func (g *GarbageList) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.items)
}
