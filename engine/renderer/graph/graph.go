// Package graph defers GPU work into a dependency graph of command buffer
// nodes and flushes it into a single primary command buffer in dependency
// order.
package graph

import (
	"fmt"
	"strings"

	"github.com/spaghettifunk/kiln/engine/core"
	"github.com/spaghettifunk/kiln/engine/renderer/backend"
	"github.com/spaghettifunk/kiln/engine/renderer/metadata"
)

// RenderPassCache resolves a render pass description to a native render
// pass. backend.Device satisfies it.
type RenderPassCache interface {
	GetCompatibleRenderPass(desc metadata.RenderPassDesc) (backend.RenderPass, error)
}

// CommandGraph owns the nodes recorded by one context since its last flush.
// It is not safe for concurrent use.
type CommandGraph struct {
	nodes []*Node
	// generation changes on every flush so resources can tell that the node
	// they remember belongs to an older graph.
	generation uint64
}

func NewCommandGraph() *CommandGraph {
	return &CommandGraph{generation: 1}
}

func (g *CommandGraph) AllocateNode() *Node {
	n := newNode(g, NodeID(len(g.nodes)))
	g.nodes = append(g.nodes, n)
	return n
}

func (g *CommandGraph) Node(id NodeID) *Node {
	core.Assert(id >= 0 && int(id) < len(g.nodes), "node %d not in graph (%d nodes)", id, len(g.nodes))
	return g.nodes[id]
}

func (g *CommandGraph) Empty() bool {
	return len(g.nodes) == 0
}

func (g *CommandGraph) Len() int {
	return len(g.nodes)
}

// SetHappensBefore makes after wait for before.
func (g *CommandGraph) SetHappensBefore(before, after NodeID) {
	g.Node(after).AddBeforeDependency(before)
	g.Node(before).SetAfterDependency(after)
}

// chainTail follows the successor edges starting at id and returns the last
// node of the chain.
func (g *CommandGraph) chainTail(id NodeID) NodeID {
	for {
		next := g.Node(id).afterDependency
		if next == InvalidNodeID {
			return id
		}
		id = next
	}
}

// Flush begins primary, emits every node in dependency order and ends
// primary. It returns the secondary command buffers the nodes recorded; they
// must stay alive until the submission carrying primary completes. The graph
// is emptied whether or not the flush succeeds. On error the recorded work is
// lost.
func (g *CommandGraph) Flush(cache RenderPassCache, primary backend.CommandBuffer) ([]backend.CommandBuffer, error) {
	var secondaries []backend.CommandBuffer
	for _, n := range g.nodes {
		secondaries = append(secondaries, n.commandBuffers()...)
	}
	defer g.reset()

	if err := primary.Begin(nil); err != nil {
		core.LogError("failed to begin primary command buffer: %s", err)
		return secondaries, err
	}

	var stack []NodeID
	for _, top := range g.nodes {
		// Nodes with a successor are pulled in by it.
		if top.HasAfterDependency() || top.visitedState != VISITED_STATE_UNVISITED {
			continue
		}
		stack = append(stack, top.id)

		for len(stack) > 0 {
			node := g.nodes[stack[len(stack)-1]]
			switch node.visitedState {
			case VISITED_STATE_UNVISITED:
				node.AddBeforeDependenciesToStack(&stack)
			case VISITED_STATE_READY:
				if err := node.visitAndExecute(cache, primary); err != nil {
					return secondaries, err
				}
				stack = stack[:len(stack)-1]
			case VISITED_STATE_VISITED:
				stack = stack[:len(stack)-1]
			}
		}
	}

	if err := primary.End(); err != nil {
		core.LogError("failed to end primary command buffer: %s", err)
		return secondaries, err
	}
	return secondaries, nil
}

// Discard empties the graph without emitting it and returns the secondary
// command buffers its nodes allocated.
func (g *CommandGraph) Discard() []backend.CommandBuffer {
	var secondaries []backend.CommandBuffer
	for _, n := range g.nodes {
		secondaries = append(secondaries, n.commandBuffers()...)
	}
	g.reset()
	return secondaries
}

func (g *CommandGraph) reset() {
	for i := range g.nodes {
		g.nodes[i] = nil
	}
	g.nodes = g.nodes[:0]
	g.generation++
}

// Dump renders the graph in Graphviz dot syntax.
func (g *CommandGraph) Dump() string {
	var b strings.Builder
	b.WriteString("digraph {\n")
	for _, n := range g.nodes {
		label := n.state.String()
		if n.HasStartedRenderPass() {
			label += fmt.Sprintf(" rp=%v area=%v", n.renderPassDesc, n.renderPassRenderArea)
		}
		fmt.Fprintf(&b, "  N%d [label=%q];\n", n.id, fmt.Sprintf("N%d %s", n.id, label))
	}
	for _, n := range g.nodes {
		for _, before := range n.beforeDependencies {
			fmt.Fprintf(&b, "  N%d -> N%d;\n", before, n.id)
		}
	}
	b.WriteString("}\n")
	return b.String()
}
