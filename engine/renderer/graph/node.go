package graph

import (
	"github.com/spaghettifunk/kiln/engine/containers"
	"github.com/spaghettifunk/kiln/engine/core"
	"github.com/spaghettifunk/kiln/engine/renderer/backend"
	"github.com/spaghettifunk/kiln/engine/renderer/metadata"
)

// NodeID indexes a node in the arena of the graph that allocated it. IDs are
// only meaningful until the graph is flushed.
type NodeID int32

const InvalidNodeID NodeID = -1

type NodeState int

const (
	NODE_STATE_EMPTY NodeState = iota
	NODE_STATE_RECORDING
	NODE_STATE_RENDER_PASS_RECORDING
	NODE_STATE_CLOSED
	NODE_STATE_FLUSHED
)

var nodeStateNames = [...]string{"empty", "recording", "render_pass_recording", "closed", "flushed"}

func (s NodeState) String() string {
	return nodeStateNames[s]
}

type VisitedState int

const (
	VISITED_STATE_UNVISITED VisitedState = iota
	VISITED_STATE_READY
	VISITED_STATE_VISITED
)

// Node is one span of deferred GPU work. Commands outside of a render pass
// (copies, layout transitions) go to the outside buffer; draws go to the
// inside buffer, which executes within the render pass described by the
// node. The outside buffer always runs first.
type Node struct {
	id    NodeID
	graph *CommandGraph
	state NodeState

	outsideRenderPassCommands backend.CommandBuffer
	insideRenderPassCommands  backend.CommandBuffer

	renderPassDesc        metadata.RenderPassDesc
	renderPassFramebuffer backend.Framebuffer
	renderPassRenderArea  metadata.Rect
	renderPassClearValues [metadata.MAX_COLOR_ATTACHMENTS + 1]metadata.ClearValue
	previousLayouts       [metadata.MAX_COLOR_ATTACHMENTS + 1]metadata.ImageLayout
	clearedAttachments    *containers.BitSet
	draws                 int

	beforeDependencies []NodeID
	afterDependency    NodeID
	visitedState       VisitedState
}

func newNode(g *CommandGraph, id NodeID) *Node {
	return &Node{
		id:                 id,
		graph:              g,
		afterDependency:    InvalidNodeID,
		clearedAttachments: containers.NewBitSet(metadata.MAX_COLOR_ATTACHMENTS + 1),
	}
}

func (n *Node) ID() NodeID                 { return n.id }
func (n *Node) State() NodeState           { return n.state }
func (n *Node) VisitedState() VisitedState { return n.visitedState }
func (n *Node) RenderArea() metadata.Rect  { return n.renderPassRenderArea }
func (n *Node) Framebuffer() backend.Framebuffer {
	return n.renderPassFramebuffer
}

func (n *Node) RenderPassDesc() metadata.RenderPassDesc {
	return n.renderPassDesc
}

func (n *Node) OutsideRenderPassCommands() backend.CommandBuffer {
	return n.outsideRenderPassCommands
}

func (n *Node) InsideRenderPassCommands() backend.CommandBuffer {
	return n.insideRenderPassCommands
}

func (n *Node) HasStartedRenderPass() bool {
	return n.insideRenderPassCommands != nil
}

// StartRecording allocates and begins the secondary command buffer used for
// work outside of a render pass.
func (n *Node) StartRecording(pool backend.CommandPool) (backend.CommandBuffer, error) {
	core.Assert(n.state != NODE_STATE_FLUSHED, "node %d recorded after flush", n.id)
	core.Assert(n.outsideRenderPassCommands == nil, "node %d started recording twice", n.id)

	cb, err := pool.AllocateSecondary()
	if err != nil {
		core.LogError("failed to allocate outside render pass commands for node %d: %s", n.id, err)
		return nil, err
	}
	if err := cb.Begin(nil); err != nil {
		pool.Free(cb)
		core.LogError("failed to begin outside render pass commands for node %d: %s", n.id, err)
		return nil, err
	}
	n.outsideRenderPassCommands = cb
	if n.state == NODE_STATE_EMPTY {
		n.state = NODE_STATE_RECORDING
	}
	return cb, nil
}

// StartRenderPassRecording allocates and begins the secondary command buffer
// for draws, inheriting compatibleRenderPass and the stored framebuffer.
func (n *Node) StartRenderPassRecording(pool backend.CommandPool, compatibleRenderPass backend.RenderPass) (backend.CommandBuffer, error) {
	core.Assert(n.state != NODE_STATE_FLUSHED, "node %d recorded after flush", n.id)
	core.Assert(n.insideRenderPassCommands == nil, "node %d started its render pass twice", n.id)

	cb, err := pool.AllocateSecondary()
	if err != nil {
		core.LogError("failed to allocate render pass commands for node %d: %s", n.id, err)
		return nil, err
	}
	inheritance := &backend.Inheritance{
		RenderPass:  compatibleRenderPass,
		Subpass:     0,
		Framebuffer: n.renderPassFramebuffer,
	}
	if err := cb.Begin(inheritance); err != nil {
		pool.Free(cb)
		core.LogError("failed to begin render pass commands for node %d: %s", n.id, err)
		return nil, err
	}
	n.insideRenderPassCommands = cb
	n.state = NODE_STATE_RENDER_PASS_RECORDING
	return cb, nil
}

// StoreRenderPassFramebuffer records where the render pass will be begun at
// flush time. The node does not own the framebuffer.
func (n *Node) StoreRenderPassFramebuffer(framebuffer backend.Framebuffer, renderArea metadata.Rect) {
	n.renderPassFramebuffer = framebuffer
	n.renderPassRenderArea = renderArea
}

func (n *Node) StoreRenderPassClearValues(values []metadata.ClearValue) {
	core.Assert(len(values) <= len(n.renderPassClearValues), "%d clear values for at most %d attachments", len(values), len(n.renderPassClearValues))
	copy(n.renderPassClearValues[:], values)
}

// ClearValues returns one clear value per attachment.
func (n *Node) ClearValues() []metadata.ClearValue {
	return n.renderPassClearValues[:n.renderPassDesc.AttachmentCount()]
}

// AppendColorRenderTarget adds target as the next color attachment and makes
// this node the producer of the target's image.
func (n *Node) AppendColorRenderTarget(target *RenderTarget) {
	image := target.Image()
	core.Assert(image != nil, "color render target without an image")
	idx := n.renderPassDesc.ColorAttachmentCount()
	n.renderPassDesc.PackColorAttachment(metadata.DefaultAttachmentDesc(
		target.Format(), target.Samples(), metadata.IMAGE_LAYOUT_COLOR_ATTACHMENT))
	n.previousLayouts[idx] = image.Layout()
	n.clearedAttachments.Set(uint(idx))
	image.setLayout(metadata.IMAGE_LAYOUT_COLOR_ATTACHMENT)
	image.chainNewCommands(n)
}

// AppendDepthStencilRenderTarget adds target as the depth/stencil
// attachment, which is always the last one.
func (n *Node) AppendDepthStencilRenderTarget(target *RenderTarget) {
	image := target.Image()
	core.Assert(image != nil, "depth/stencil render target without an image")
	idx := n.renderPassDesc.ColorAttachmentCount()
	desc := metadata.DefaultAttachmentDesc(
		target.Format(), target.Samples(), metadata.IMAGE_LAYOUT_DEPTH_STENCIL_ATTACHMENT)
	if target.Format().HasStencil() {
		desc.StencilLoadOp = metadata.LOAD_OP_CLEAR
		desc.StencilStoreOp = metadata.STORE_OP_STORE
	}
	n.renderPassDesc.PackDepthStencilAttachment(desc)
	n.previousLayouts[idx] = image.Layout()
	n.clearedAttachments.Set(uint(idx))
	image.setLayout(metadata.IMAGE_LAYOUT_DEPTH_STENCIL_ATTACHMENT)
	image.chainNewCommands(n)
}

// LoadAttachment keeps the previous contents of attachment index instead of
// clearing them. The image enters the render pass in the layout it was in
// when it was appended.
func (n *Node) LoadAttachment(index uint32) {
	a := n.renderPassDesc.Attachment(index)
	a.LoadOp = metadata.LOAD_OP_LOAD
	if a.Format.HasStencil() {
		a.StencilLoadOp = metadata.LOAD_OP_LOAD
	}
	a.InitialLayout = n.previousLayouts[index]
	n.clearedAttachments.Reset(uint(index))
}

// ClearColorAttachment makes the render pass clear color attachment index to
// color when it begins.
func (n *Node) ClearColorAttachment(index uint32, color [4]float32) {
	core.Assert(index < n.renderPassDesc.ColorAttachmentCount(), "color attachment %d out of range", index)
	a := n.renderPassDesc.Attachment(index)
	a.LoadOp = metadata.LOAD_OP_CLEAR
	a.InitialLayout = metadata.IMAGE_LAYOUT_UNDEFINED
	n.renderPassClearValues[index].Color = color
	n.clearedAttachments.Set(uint(index))
}

func (n *Node) ClearDepthAttachment(depth float32) {
	index, ok := n.renderPassDesc.DepthStencilIndex()
	core.Assert(ok, "node %d has no depth/stencil attachment", n.id)
	a := n.renderPassDesc.Attachment(index)
	a.LoadOp = metadata.LOAD_OP_CLEAR
	if a.StencilLoadOp != metadata.LOAD_OP_LOAD {
		a.InitialLayout = metadata.IMAGE_LAYOUT_UNDEFINED
	}
	n.renderPassClearValues[index].Depth = depth
	n.clearedAttachments.Set(uint(index))
}

func (n *Node) ClearStencilAttachment(stencil uint32) {
	index, ok := n.renderPassDesc.DepthStencilIndex()
	core.Assert(ok, "node %d has no depth/stencil attachment", n.id)
	a := n.renderPassDesc.Attachment(index)
	core.Assert(a.Format.HasStencil(), "attachment format %s has no stencil", a.Format)
	a.StencilLoadOp = metadata.LOAD_OP_CLEAR
	a.StencilStoreOp = metadata.STORE_OP_STORE
	if a.LoadOp != metadata.LOAD_OP_LOAD {
		a.InitialLayout = metadata.IMAGE_LAYOUT_UNDEFINED
	}
	n.renderPassClearValues[index].Stencil = stencil
	n.clearedAttachments.Set(uint(index))
}

// ClearedAttachments returns the attachments the render pass clears when it
// begins.
func (n *Node) ClearedAttachments() *containers.BitSet {
	return n.clearedAttachments
}

// CountDraw notes a draw recorded into the inside render pass commands.
func (n *Node) CountDraw() {
	n.draws++
}

func (n *Node) Draws() int {
	return n.draws
}

// AcceptsClears reports whether a render pass clearing the attachments in
// clears can continue the render pass of n. Every one of them must already
// be cleared by n, before anything was drawn.
func (n *Node) AcceptsClears(clears *containers.BitSet) bool {
	if !clears.Any() {
		return true
	}
	if n.draws > 0 {
		return false
	}
	accepted := true
	count := uint(n.renderPassDesc.AttachmentCount())
	clears.ForEach(func(i uint) {
		if i >= count || !n.clearedAttachments.Test(i) {
			accepted = false
		}
	})
	return accepted
}

func (n *Node) AddBeforeDependency(before NodeID) {
	core.Assert(before != n.id, "node %d depends on itself", n.id)
	core.Assert(before < n.id, "node %d cannot depend on later node %d", n.id, before)
	n.beforeDependencies = append(n.beforeDependencies, before)
}

// SetAfterDependency records the single successor of the node. A node with a
// successor is closed for further recording.
func (n *Node) SetAfterDependency(after NodeID) {
	core.Assert(n.afterDependency == InvalidNodeID, "node %d already has successor %d", n.id, n.afterDependency)
	n.afterDependency = after
	if n.state != NODE_STATE_FLUSHED {
		n.state = NODE_STATE_CLOSED
	}
}

func (n *Node) HasBeforeDependencies() bool {
	return len(n.beforeDependencies) > 0
}

func (n *Node) HasAfterDependency() bool {
	return n.afterDependency != InvalidNodeID
}

func (n *Node) AfterDependency() NodeID {
	return n.afterDependency
}

func (n *Node) BeforeDependencies() []NodeID {
	return n.beforeDependencies
}

// AddBeforeDependenciesToStack pushes the predecessors on stack and marks the
// node ready for execution. It reports whether anything was pushed.
func (n *Node) AddBeforeDependenciesToStack(stack *[]NodeID) bool {
	core.Assert(n.visitedState == VISITED_STATE_UNVISITED, "node %d visited twice", n.id)
	*stack = append(*stack, n.beforeDependencies...)
	n.visitedState = VISITED_STATE_READY
	return len(n.beforeDependencies) > 0
}

// MarkFlushedAndReleaseDependencies drops every edge once the node was
// emitted.
func (n *Node) MarkFlushedAndReleaseDependencies() {
	core.Assert(n.state != NODE_STATE_FLUSHED, "node %d flushed twice", n.id)
	n.state = NODE_STATE_FLUSHED
	n.visitedState = VISITED_STATE_VISITED
	n.beforeDependencies = nil
	n.afterDependency = InvalidNodeID
}

// visitAndExecute ends the node's command buffers and emits them into
// primary, wrapping the inside buffer in its render pass.
func (n *Node) visitAndExecute(cache RenderPassCache, primary backend.CommandBuffer) error {
	if n.outsideRenderPassCommands != nil {
		if err := n.outsideRenderPassCommands.End(); err != nil {
			core.LogError("failed to end outside render pass commands of node %d: %s", n.id, err)
			return err
		}
		primary.ExecuteCommands(n.outsideRenderPassCommands)
	}

	if n.insideRenderPassCommands != nil {
		core.Assert(n.renderPassDesc.AttachmentCount() > 0, "node %d flushed a render pass without render targets", n.id)
		core.Assert(n.renderPassFramebuffer != nil, "node %d flushed a render pass without a framebuffer", n.id)

		renderPass, err := cache.GetCompatibleRenderPass(n.renderPassDesc)
		if err != nil {
			core.LogError("failed to get render pass for node %d: %s", n.id, err)
			return err
		}
		if err := n.insideRenderPassCommands.End(); err != nil {
			core.LogError("failed to end render pass commands of node %d: %s", n.id, err)
			return err
		}
		primary.BeginRenderPass(renderPass, n.renderPassFramebuffer, n.renderPassRenderArea, n.ClearValues())
		primary.ExecuteCommands(n.insideRenderPassCommands)
		primary.EndRenderPass()
	}

	n.MarkFlushedAndReleaseDependencies()
	return nil
}

// commandBuffers returns the secondaries allocated by the node.
func (n *Node) commandBuffers() []backend.CommandBuffer {
	var out []backend.CommandBuffer
	if n.outsideRenderPassCommands != nil {
		out = append(out, n.outsideRenderPassCommands)
	}
	if n.insideRenderPassCommands != nil {
		out = append(out, n.insideRenderPassCommands)
	}
	return out
}
