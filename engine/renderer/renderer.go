// Package renderer records GPU work from any number of contexts into
// deferred command graphs and submits it to one shared device queue.
package renderer

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/spaghettifunk/kiln/engine/core"
	"github.com/spaghettifunk/kiln/engine/renderer/backend"
	"github.com/spaghettifunk/kiln/engine/renderer/resource"
	"github.com/spaghettifunk/kiln/engine/renderer/shader"
)

// Renderer holds the state shared by every context of a device: the queue,
// the pool of use records and the garbage released while still in use.
type Renderer struct {
	config  core.RendererConfig
	device  backend.Device
	queue   *Queue
	uses    *resource.UsePool
	garbage *resource.GarbageList
	shaders *shader.Service
	stats   *core.FrameStats

	mu       sync.Mutex
	contexts map[uuid.UUID]*Context
}

// New wraps device. shaders may be nil when no context compiles shaders.
func New(device backend.Device, shaders *shader.Service, config core.RendererConfig) *Renderer {
	blockSize := config.UsePoolBlockSize
	if blockSize <= 0 {
		blockSize = resource.DefaultUsePoolBlockSize
	}
	if config.MaxFramesInFlight == 0 {
		config.MaxFramesInFlight = 2
	}
	return &Renderer{
		config:   config,
		device:   device,
		queue:    NewQueue(device),
		uses:     resource.NewUsePool(blockSize),
		garbage:  resource.NewGarbageList(),
		shaders:  shaders,
		stats:    core.NewFrameStats(),
		contexts: make(map[uuid.UUID]*Context),
	}
}

func (r *Renderer) Device() backend.Device {
	return r.device
}

func (r *Renderer) Queue() *Queue {
	return r.queue
}

func (r *Renderer) UsePool() *resource.UsePool {
	return r.uses
}

func (r *Renderer) Garbage() *resource.GarbageList {
	return r.garbage
}

func (r *Renderer) Shaders() *shader.Service {
	return r.shaders
}

func (r *Renderer) Stats() *core.FrameStats {
	return r.stats
}

func (r *Renderer) Config() core.RendererConfig {
	return r.config
}

func (r *Renderer) fenceTimeout() time.Duration {
	return time.Duration(r.config.FenceTimeoutMs) * time.Millisecond
}

// CollectGarbage destroys the released objects the device is done with.
func (r *Renderer) CollectGarbage() int {
	n := r.garbage.Collect(r.queue.LastCompletedSerial())
	if n > 0 {
		r.stats.AddGarbageDeleted(n)
	}
	return n
}

func (r *Renderer) ContextCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.contexts)
}

func (r *Renderer) register(c *Context) {
	r.mu.Lock()
	r.contexts[c.id] = c
	r.mu.Unlock()
}

func (r *Renderer) unregister(c *Context) {
	r.mu.Lock()
	delete(r.contexts, c.id)
	r.mu.Unlock()
}

// Shutdown destroys the remaining contexts, waits for the device and frees
// every pending garbage object. Objects owning use records, such as
// surfaces, must have been destroyed already.
func (r *Renderer) Shutdown() error {
	r.mu.Lock()
	contexts := make([]*Context, 0, len(r.contexts))
	for _, c := range r.contexts {
		contexts = append(contexts, c)
	}
	r.mu.Unlock()

	for _, c := range contexts {
		core.LogWarn("context %s still alive at renderer shutdown", c.id)
		c.Destroy()
	}

	err := r.queue.WaitIdle()
	if err != nil {
		core.LogError("renderer shutdown: %s", err)
	}
	if n := r.garbage.DestroyAll(); n > 0 {
		r.stats.AddGarbageDeleted(n)
	}
	r.uses.Destroy()
	return err
}
