package renderer

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spaghettifunk/kiln/engine/containers"
	"github.com/spaghettifunk/kiln/engine/core"
	"github.com/spaghettifunk/kiln/engine/renderer/backend"
	"github.com/spaghettifunk/kiln/engine/renderer/graph"
	"github.com/spaghettifunk/kiln/engine/renderer/metadata"
	"github.com/spaghettifunk/kiln/engine/renderer/resource"
)

var ErrContextLost = errors.New("context lost")

// RenderPassBeginInfo describes the attachments a run of draws renders to.
type RenderPassBeginInfo struct {
	// Owner is the object the render pass writes, usually a surface. When
	// nil, the image of the first color target is used.
	Owner        *graph.Resource
	Framebuffer  backend.Framebuffer
	Area         metadata.Rect
	ColorTargets []*graph.RenderTarget
	DepthStencil *graph.RenderTarget
	ClearValues  []metadata.ClearValue
	// LoadAttachments lists the attachments whose contents are kept instead
	// of cleared.
	LoadAttachments []uint32
	// Reads are buffers the draws consume. Their pending writes are ordered
	// before the render pass.
	Reads []*graph.Buffer
}

// Releasable is a GPU object whose destruction must wait for the work
// referencing it.
type Releasable interface {
	Use() *resource.SharedUse
	WriteUse() *resource.SharedUse
	Destroy()
}

type inFlightBatch struct {
	serial         metadata.Serial
	commandBuffers []backend.CommandBuffer
}

// Context records commands from a single goroutine. Several contexts may
// record and flush concurrently against the same Renderer.
type Context struct {
	id       uuid.UUID
	renderer *Renderer
	graph    *graph.CommandGraph
	pool     backend.CommandPool
	uses     *resource.UseList
	inFlight *containers.RingQueue[inFlightBatch]

	fenceTimeout time.Duration
	lastSerial   metadata.Serial

	renderPassNode     *graph.Node
	renderPassCommands backend.CommandBuffer

	lost      bool
	destroyed bool
}

func (r *Renderer) NewContext() (*Context, error) {
	pool, err := r.device.CreateCommandPool()
	if err != nil {
		core.LogError("failed to create command pool: %s", err)
		return nil, err
	}
	if r.shaders != nil {
		if err := r.shaders.Acquire(); err != nil {
			pool.Destroy()
			return nil, fmt.Errorf("acquiring shader service: %w", err)
		}
	}

	c := &Context{
		id:           uuid.New(),
		renderer:     r,
		graph:        graph.NewCommandGraph(),
		pool:         pool,
		uses:         resource.NewUseList(r.uses),
		inFlight:     containers.NewRingQueue[inFlightBatch](int(r.config.MaxFramesInFlight)),
		fenceTimeout: r.fenceTimeout(),
	}
	r.register(c)
	core.LogDebug("context %s created", c.id)
	return c, nil
}

func (c *Context) ID() uuid.UUID {
	return c.id
}

func (c *Context) Renderer() *Renderer {
	return c.renderer
}

func (c *Context) Graph() *graph.CommandGraph {
	return c.graph
}

func (c *Context) CommandPool() backend.CommandPool {
	return c.pool
}

// Uses is the list of use records retained by the work recorded so far.
func (c *Context) Uses() *resource.UseList {
	return c.uses
}

// LastSerial is the serial of the context's latest submission.
func (c *Context) LastSerial() metadata.Serial {
	return c.lastSerial
}

func (c *Context) IsLost() bool {
	return c.lost
}

func (c *Context) InsideRenderPass() bool {
	return c.renderPassCommands != nil
}

func (c *Context) Stats() core.Snapshot {
	return c.renderer.stats.Snapshot()
}

// BeginRenderPass opens a render pass. Consecutive render passes on the same
// framebuffer whose area fits the first one are merged into it.
func (c *Context) BeginRenderPass(info RenderPassBeginInfo) error {
	core.Assert(!c.destroyed, "context used after destroy")
	core.Assert(c.renderPassCommands == nil, "render pass begun twice")
	core.Assert(info.Framebuffer != nil, "render pass without a framebuffer")
	if c.lost {
		return ErrContextLost
	}

	owner := info.Owner
	if owner == nil {
		switch {
		case len(info.ColorTargets) > 0:
			owner = &info.ColorTargets[0].Image().Resource
		case info.DepthStencil != nil:
			owner = &info.DepthStencil.Image().Resource
		}
	}
	core.Assert(owner != nil, "render pass without render targets")

	if c.appendRenderPass(owner, info) {
		return nil
	}

	node := owner.NewRenderPassNode(c.graph)
	node.StoreRenderPassFramebuffer(info.Framebuffer, info.Area)
	node.StoreRenderPassClearValues(info.ClearValues)
	for _, rt := range info.ColorTargets {
		node.AppendColorRenderTarget(rt)
		rt.Image().RetainReadWrite(c.uses)
	}
	if info.DepthStencil != nil {
		node.AppendDepthStencilRenderTarget(info.DepthStencil)
		info.DepthStencil.Image().RetainReadWrite(c.uses)
	}
	desc := node.RenderPassDesc()
	containers.Indices(uint(desc.AttachmentCount()), info.LoadAttachments...).ForEach(func(i uint) {
		node.LoadAttachment(uint32(i))
	})
	for _, buf := range info.Reads {
		owner.AddDependency(c.graph, &buf.Resource)
		buf.RetainReadOnly(c.uses)
	}

	rp, err := c.renderer.device.GetCompatibleRenderPass(node.RenderPassDesc())
	if err != nil {
		core.LogError("failed to get render pass %v: %s", node.RenderPassDesc(), err)
		return err
	}
	cb, err := node.StartRenderPassRecording(c.pool, rp)
	if err != nil {
		return err
	}
	c.renderPassNode = node
	c.renderPassCommands = cb
	return nil
}

// appendRenderPass continues the owner's open render pass when it targets
// the same framebuffer over an enclosing area, the pending work of every
// read is ordered before it, and the clears it asks for are ones the open
// render pass still performs. The new clear values replace the old ones.
func (c *Context) appendRenderPass(owner *graph.Resource, info RenderPassBeginInfo) bool {
	if !c.canAppend(owner, info.Reads) {
		return false
	}
	cb, ok := owner.AppendToStartedRenderPass(c.graph, info.Framebuffer, info.Area)
	if !ok {
		return false
	}
	node := owner.WritingNode(c.graph)
	desc := node.RenderPassDesc()
	clears := containers.Indices(uint(desc.AttachmentCount()), info.LoadAttachments...)
	clears.Flip()
	if !node.AcceptsClears(clears) {
		return false
	}
	if clears.Any() {
		node.StoreRenderPassClearValues(info.ClearValues)
	}

	for _, buf := range info.Reads {
		owner.AddDependency(c.graph, &buf.Resource)
		buf.RetainReadOnly(c.uses)
	}
	core.Assert(owner.WritingNode(c.graph) == node, "merged render pass node %d replaced", node.ID())
	c.renderPassNode = node
	c.renderPassCommands = cb
	return true
}

// canAppend reports whether everything recorded against reads is ordered
// before the owner's open render pass, so appending keeps them in order. A
// read whose chain continued past the render pass, even through an
// unrelated consumer, needs a new render pass.
func (c *Context) canAppend(owner *graph.Resource, reads []*graph.Buffer) bool {
	writer := owner.WritingNode(c.graph)
	if writer == nil {
		return false
	}
	for _, buf := range reads {
		if last := buf.LatestNode(c.graph); last != nil && last.ID() > writer.ID() {
			return false
		}
	}
	return true
}

// EndRenderPass stops recording draws. The render pass itself ends when the
// graph is flushed, so a following compatible pass can continue it.
func (c *Context) EndRenderPass() {
	core.Assert(c.renderPassCommands != nil, "render pass ended without being begun")
	c.renderPassNode = nil
	c.renderPassCommands = nil
}

func (c *Context) Draw(vertexCount, instanceCount, firstVertex, firstInstance uint32) {
	core.Assert(c.renderPassCommands != nil, "draw outside of a render pass")
	c.renderPassCommands.Draw(vertexCount, instanceCount, firstVertex, firstInstance)
	c.renderPassNode.CountDraw()
}

func (c *Context) DrawIndexed(indexCount, instanceCount, firstIndex uint32, vertexOffset int32, firstInstance uint32) {
	core.Assert(c.renderPassCommands != nil, "indexed draw outside of a render pass")
	c.renderPassCommands.DrawIndexed(indexCount, instanceCount, firstIndex, vertexOffset, firstInstance)
	c.renderPassNode.CountDraw()
}

// ClearColorAttachment turns the load of attachment index into a clear. It
// is only valid before the first draw of the render pass.
func (c *Context) ClearColorAttachment(index uint32, color [4]float32) {
	core.Assert(c.renderPassNode != nil, "attachment clear outside of a render pass")
	core.Assert(c.renderPassNode.Draws() == 0, "attachment clear after %d draws", c.renderPassNode.Draws())
	c.renderPassNode.ClearColorAttachment(index, color)
}

func (c *Context) ClearDepthStencilAttachment(depth float32, stencil uint32) {
	core.Assert(c.renderPassNode != nil, "attachment clear outside of a render pass")
	core.Assert(c.renderPassNode.Draws() == 0, "attachment clear after %d draws", c.renderPassNode.Draws())
	c.renderPassNode.ClearDepthAttachment(depth)
	desc := c.renderPassNode.RenderPassDesc()
	if idx, ok := desc.DepthStencilIndex(); ok && desc.Attachment(idx).Format.HasStencil() {
		c.renderPassNode.ClearStencilAttachment(stencil)
	}
}

// CopyBuffer copies between buffers after every pending write of src.
func (c *Context) CopyBuffer(src, dst *graph.Buffer, regions ...backend.BufferCopy) error {
	core.Assert(!c.destroyed, "context used after destroy")
	if c.lost {
		return ErrContextLost
	}
	dst.AddDependency(c.graph, &src.Resource)
	cb, err := dst.RecordCommands(c.graph, c.pool)
	if err != nil {
		return err
	}
	cb.CopyBuffer(src.Handle(), dst.Handle(), regions...)
	src.RetainReadOnly(c.uses)
	dst.RetainReadWrite(c.uses)
	return nil
}

// ClearImage fills a color image outside of any render pass.
func (c *Context) ClearImage(img *graph.Image, color [4]float32) error {
	cb, err := c.recordImage(img)
	if err != nil {
		return err
	}
	img.ChangeLayout(metadata.IMAGE_LAYOUT_TRANSFER_DST, cb)
	cb.ClearColorImage(img.Handle(), metadata.IMAGE_LAYOUT_TRANSFER_DST, color)
	return nil
}

// TransitionImage moves img to layout after its pending work. Nothing is
// recorded when the image already is in layout.
func (c *Context) TransitionImage(img *graph.Image, layout metadata.ImageLayout) error {
	if img.Layout() == layout {
		return nil
	}
	cb, err := c.recordImage(img)
	if err != nil {
		return err
	}
	img.ChangeLayout(layout, cb)
	return nil
}

func (c *Context) recordImage(img *graph.Image) (backend.CommandBuffer, error) {
	core.Assert(!c.destroyed, "context used after destroy")
	if c.lost {
		return nil, ErrContextLost
	}
	cb, err := img.RecordCommands(c.graph, c.pool)
	if err != nil {
		return nil, err
	}
	img.RetainReadWrite(c.uses)
	return cb, nil
}

// ReleaseObject gives up the caller's ownership of obj. It is destroyed once
// the device completed every submission using it.
func (c *Context) ReleaseObject(obj Releasable) {
	if w := obj.WriteUse(); w.Valid() {
		w.Release()
	}
	c.renderer.garbage.Add(obj.Use(), obj.Destroy)
}

// Flush submits everything recorded since the previous flush. The
// submission waits on waits and signals signals. An open render pass is
// ended first.
func (c *Context) Flush(waits, signals []backend.Semaphore) (metadata.Serial, error) {
	core.Assert(!c.destroyed, "context used after destroy")
	if c.lost {
		return metadata.InvalidSerial, ErrContextLost
	}
	if c.renderPassCommands != nil {
		c.EndRenderPass()
	}
	if c.graph.Empty() && len(waits) == 0 && len(signals) == 0 {
		return c.lastSerial, nil
	}

	// Throttle before touching the graph so a timeout leaves it intact.
	if c.inFlight.IsFull() {
		if err := c.retireOldest(); err != nil {
			return metadata.InvalidSerial, err
		}
	}

	primary, err := c.pool.AllocatePrimary()
	if err != nil {
		core.LogError("failed to allocate primary command buffer: %s", err)
		return metadata.InvalidSerial, err
	}

	nodes := c.graph.Len()
	if c.renderer.config.Debug {
		core.LogDebug("context %s flushing %d nodes:\n%s", c.id, nodes, c.graph.Dump())
	}
	secondaries, err := c.graph.Flush(c.renderer.device, primary)
	commandBuffers := append(secondaries, primary)
	if err != nil {
		c.abandon(commandBuffers, err)
		return metadata.InvalidSerial, err
	}

	serial, err := c.renderer.queue.Submit(backend.SubmitInfo{
		CommandBuffers:   []backend.CommandBuffer{primary},
		WaitSemaphores:   waits,
		SignalSemaphores: signals,
	}, c.uses.ReleaseAndUpdateSerials)
	if err != nil {
		c.abandon(commandBuffers, err)
		return metadata.InvalidSerial, err
	}

	if err := c.inFlight.Enqueue(inFlightBatch{serial: serial, commandBuffers: commandBuffers}); err != nil {
		core.Assert(false, "in-flight ring full after throttling: %s", err)
	}
	c.lastSerial = serial
	c.renderer.stats.AddFlush(nodes)
	c.renderer.stats.AddSubmission()

	c.retireCompleted()
	c.renderer.CollectGarbage()
	return serial, nil
}

// abandon drops work that never reached the device.
func (c *Context) abandon(commandBuffers []backend.CommandBuffer, err error) {
	c.pool.Free(commandBuffers...)
	c.uses.Release()
	if core.IsDeviceLost(err) {
		core.LogError("context %s lost: %s", c.id, err)
		c.lost = true
	}
}

// retireCompleted frees the command buffers of completed submissions.
func (c *Context) retireCompleted() {
	queue := c.renderer.queue
	for !c.inFlight.IsEmpty() {
		batch, _ := c.inFlight.Peek()
		if !queue.HasCompletedSerial(batch.serial) {
			return
		}
		c.inFlight.Dequeue()
		c.pool.Free(batch.commandBuffers...)
	}
}

// retireOldest waits for the oldest submission and frees its command
// buffers.
func (c *Context) retireOldest() error {
	batch, err := c.inFlight.Peek()
	if err != nil {
		return nil
	}
	if err := c.renderer.queue.FinishToSerial(batch.serial, c.fenceTimeout); err != nil {
		if core.IsDeviceLost(err) {
			c.lost = true
		}
		return err
	}
	c.inFlight.Dequeue()
	c.pool.Free(batch.commandBuffers...)
	return nil
}

// Finish flushes pending work and waits until the device completed it.
// core.ErrTimeout means the work is still running.
func (c *Context) Finish() error {
	if _, err := c.Flush(nil, nil); err != nil {
		return err
	}
	if c.lastSerial.Valid() {
		if err := c.renderer.queue.FinishToSerial(c.lastSerial, c.fenceTimeout); err != nil {
			if core.IsDeviceLost(err) {
				c.lost = true
			}
			return err
		}
	}
	c.retireCompleted()
	c.renderer.CollectGarbage()
	return nil
}

// Destroy waits for the context's work and frees everything it owns. A lost
// context frees its command buffers without waiting.
func (c *Context) Destroy() {
	if c.destroyed {
		return
	}
	if !c.lost {
		if err := c.Finish(); err != nil {
			core.LogError("context %s: finishing before destroy: %s", c.id, err)
		}
	}
	if c.renderPassCommands != nil {
		c.EndRenderPass()
	}
	// Work recorded but never submitted is dropped.
	if dropped := c.graph.Discard(); len(dropped) > 0 {
		c.pool.Free(dropped...)
	}
	for !c.inFlight.IsEmpty() {
		batch, _ := c.inFlight.Dequeue()
		c.pool.Free(batch.commandBuffers...)
	}
	c.uses.Release()
	c.pool.Destroy()
	if c.renderer.shaders != nil {
		c.renderer.shaders.Release()
	}
	c.renderer.unregister(c)
	c.destroyed = true
	core.LogDebug("context %s destroyed", c.id)
}
