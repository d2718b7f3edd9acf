package graph

import (
	"github.com/spaghettifunk/kiln/engine/core"
	"github.com/spaghettifunk/kiln/engine/renderer/backend"
	"github.com/spaghettifunk/kiln/engine/renderer/metadata"
	"github.com/spaghettifunk/kiln/engine/renderer/resource"
)

// Lifetime tracks the recorded and submitted uses of an object.
type Lifetime = resource.ReadWriteResource

// Resource remembers which node of a graph last wrote an object, so work
// recorded later on, or against dependent objects, is ordered after it.
// The memory is per graph: when the object is used by another graph, or the
// graph was flushed in between, the previous writer is forgotten.
type Resource struct {
	graph      *CommandGraph
	generation uint64
	writer     NodeID
}

// WritingNode returns the node currently writing the resource in g, or nil.
func (r *Resource) WritingNode(g *CommandGraph) *Node {
	if r.graph != g || r.generation != g.generation || r.graph == nil {
		return nil
	}
	return g.Node(r.writer)
}

func (r *Resource) hasChildlessWritingNode(g *CommandGraph) bool {
	n := r.WritingNode(g)
	return n != nil && !n.HasAfterDependency()
}

func (r *Resource) setWriter(n *Node) {
	r.graph = n.graph
	r.generation = n.graph.generation
	r.writer = n.id
}

// chainNewCommands makes n the writer of the resource, ordered after
// everything previously recorded against it in the same graph.
func (r *Resource) chainNewCommands(n *Node) {
	if prev := r.WritingNode(n.graph); prev != nil {
		tail := n.graph.chainTail(prev.id)
		if tail != n.id {
			n.graph.SetHappensBefore(tail, n.id)
		}
	}
	r.setWriter(n)
}

// newWriteNode allocates a fresh node for the resource.
func (r *Resource) newWriteNode(g *CommandGraph) *Node {
	n := g.AllocateNode()
	r.chainNewCommands(n)
	return n
}

// LatestNode returns the last node of the chain started by the writer of r,
// the one work depending on r has to follow. It is nil when r has no writer
// in g.
func (r *Resource) LatestNode(g *CommandGraph) *Node {
	n := r.WritingNode(g)
	if n == nil {
		return nil
	}
	return g.Node(g.chainTail(n.id))
}

// HasStartedRenderPass reports whether the resource's writer has an open
// render pass that can still be appended to.
func (r *Resource) HasStartedRenderPass(g *CommandGraph) bool {
	return r.hasChildlessWritingNode(g) && r.WritingNode(g).HasStartedRenderPass()
}

// RecordCommands returns a command buffer for work outside of a render pass
// on this resource, appending to the current writer when it is still open.
func (r *Resource) RecordCommands(g *CommandGraph, pool backend.CommandPool) (backend.CommandBuffer, error) {
	n := r.WritingNode(g)
	if n == nil || n.HasAfterDependency() || n.HasStartedRenderPass() {
		n = r.newWriteNode(g)
	}
	if cb := n.OutsideRenderPassCommands(); cb != nil {
		return cb, nil
	}
	return n.StartRecording(pool)
}

// AppendToStartedRenderPass returns the inside render pass commands of the
// current writer when it renders to framebuffer over an area enclosing
// renderArea.
func (r *Resource) AppendToStartedRenderPass(g *CommandGraph, framebuffer backend.Framebuffer, renderArea metadata.Rect) (backend.CommandBuffer, bool) {
	if !r.HasStartedRenderPass(g) {
		return nil, false
	}
	n := r.WritingNode(g)
	if n.Framebuffer() != framebuffer || !n.RenderArea().Encloses(renderArea) {
		return nil, false
	}
	return n.InsideRenderPassCommands(), true
}

// NewRenderPassNode allocates the node that will hold a new render pass
// written by this resource.
func (r *Resource) NewRenderPassNode(g *CommandGraph) *Node {
	return r.newWriteNode(g)
}

// AddDependency orders the commands recorded from now on for r after
// everything recorded so far for used. It may start a new node for r, so
// command buffers previously returned for r must not be used anymore.
func (r *Resource) AddDependency(g *CommandGraph, used *Resource) {
	usedWriter := used.WritingNode(g)
	if usedWriter == nil {
		return
	}
	tail := g.chainTail(usedWriter.id)

	n := r.WritingNode(g)
	if n != nil && n.id == tail {
		return
	}
	if n == nil || n.HasAfterDependency() || tail > n.id {
		n = r.newWriteNode(g)
	}
	core.Assert(!g.Node(tail).HasAfterDependency(), "chain tail %d has a successor", tail)
	g.SetHappensBefore(tail, n.id)
}

// Image is a GPU image tracked by the command graph. Its layout is the one
// the last recorded command leaves it in.
type Image struct {
	Resource
	Lifetime

	image  backend.Image
	layout metadata.ImageLayout
}

func NewImage(image backend.Image) *Image {
	return &Image{image: image, layout: metadata.IMAGE_LAYOUT_UNDEFINED}
}

func (i *Image) Handle() backend.Image {
	return i.image
}

func (i *Image) Desc() metadata.ImageDesc {
	return i.image.Desc()
}

func (i *Image) Layout() metadata.ImageLayout {
	return i.layout
}

func (i *Image) setLayout(l metadata.ImageLayout) {
	i.layout = l
}

// ChangeLayout records a barrier moving the image to newLayout on cb. It
// reports whether a barrier was needed.
func (i *Image) ChangeLayout(newLayout metadata.ImageLayout, cb backend.CommandBuffer) bool {
	if i.layout == newLayout {
		return false
	}
	cb.PipelineBarrier(backend.ImageBarrier{
		Image:     i.image,
		OldLayout: i.layout,
		NewLayout: newLayout,
	})
	i.layout = newLayout
	return true
}

func (i *Image) Destroy() {
	i.image.Destroy()
}

// Buffer is a GPU buffer tracked by the command graph.
type Buffer struct {
	Resource
	Lifetime

	buffer backend.Buffer
}

func NewBuffer(buffer backend.Buffer) *Buffer {
	return &Buffer{buffer: buffer}
}

func (b *Buffer) Handle() backend.Buffer {
	return b.buffer
}

func (b *Buffer) Size() uint64 {
	return b.buffer.Size()
}

func (b *Buffer) Destroy() {
	b.buffer.Destroy()
}
