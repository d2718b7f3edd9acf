package graph

import (
	"errors"
	"math/rand"
	"reflect"
	"strconv"
	"strings"
	"testing"

	"github.com/spaghettifunk/kiln/engine/containers"
	"github.com/spaghettifunk/kiln/engine/core"
	"github.com/spaghettifunk/kiln/engine/renderer/backend"
	"github.com/spaghettifunk/kiln/engine/renderer/backend/backendtest"
	"github.com/spaghettifunk/kiln/engine/renderer/metadata"
)

func mustPanic(t *testing.T, name string, fn func()) {
	t.Helper()
	defer func() {
		r := recover()
		if r == nil {
			t.Fatalf("%s: expected an assertion", name)
		}
		if _, ok := r.(*core.AssertionError); !ok {
			t.Fatalf("%s: recovered %v, want *core.AssertionError", name, r)
		}
	}()
	fn()
}

var colorDesc = metadata.ImageDesc{
	Extent:    metadata.Extent2D{Width: 64, Height: 64},
	Format:    metadata.FORMAT_B8G8R8A8_UNORM,
	Samples:   metadata.SAMPLE_COUNT_1,
	Usage:     metadata.IMAGE_USAGE_COLOR_ATTACHMENT,
	MipLevels: 1,
	Layers:    1,
}

var depthDesc = metadata.ImageDesc{
	Extent:    metadata.Extent2D{Width: 64, Height: 64},
	Format:    metadata.FORMAT_D24_UNORM_S8_UINT,
	Samples:   metadata.SAMPLE_COUNT_1,
	Usage:     metadata.IMAGE_USAGE_DEPTH_STENCIL_ATTACHMENT,
	MipLevels: 1,
	Layers:    1,
}

type fixture struct {
	dev  *backendtest.Device
	pool *backendtest.CommandPool
	g    *CommandGraph
}

func newFixture() *fixture {
	return &fixture{
		dev:  backendtest.NewDevice(),
		pool: &backendtest.CommandPool{},
		g:    NewCommandGraph(),
	}
}

func (f *fixture) renderTarget(t *testing.T, name string, desc metadata.ImageDesc) *RenderTarget {
	t.Helper()
	img := NewImage(backendtest.NewImage(name, desc))
	view, err := f.dev.CreateImageView(img.Handle())
	if err != nil {
		t.Fatal(err)
	}
	rt := &RenderTarget{}
	rt.Init(img, view, 0, 0)
	return rt
}

func (f *fixture) flush(t *testing.T) []backendtest.Op {
	t.Helper()
	primary, err := f.pool.AllocatePrimary()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.g.Flush(f.dev, primary); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	return primary.(*backendtest.CommandBuffer).Ops()
}

// startRenderPass sets up node n to render to the given targets.
func (f *fixture) startRenderPass(t *testing.T, n *Node, area metadata.Rect, targets ...*RenderTarget) backend.CommandBuffer {
	t.Helper()
	fb := &backendtest.Framebuffer{ID: int(n.ID()) + 100}
	n.StoreRenderPassFramebuffer(fb, area)
	clears := make([]metadata.ClearValue, len(targets))
	n.StoreRenderPassClearValues(clears)
	for _, rt := range targets {
		if rt.Format().IsDepthOrStencil() {
			n.AppendDepthStencilRenderTarget(rt)
		} else {
			n.AppendColorRenderTarget(rt)
		}
	}
	rp, err := f.dev.GetCompatibleRenderPass(n.RenderPassDesc())
	if err != nil {
		t.Fatal(err)
	}
	cb, err := n.StartRenderPassRecording(f.pool, rp)
	if err != nil {
		t.Fatalf("StartRenderPassRecording: %v", err)
	}
	return cb
}

func TestFlushSingleRenderPass(t *testing.T) {
	f := newFixture()
	color := f.renderTarget(t, "color", colorDesc)
	n := f.g.AllocateNode()
	cb := f.startRenderPass(t, n, metadata.Rect{Width: 64, Height: 64}, color)
	for i := uint32(0); i < 3; i++ {
		cb.Draw(3, 1, i*3, 0)
	}

	ops := f.flush(t)
	want := []string{"begin_render_pass", "draw", "draw", "draw", "end_render_pass"}
	if got := backendtest.Names(ops); !reflect.DeepEqual(got, want) {
		t.Fatalf("ops = %v, want %v", got, want)
	}
	if !strings.Contains(ops[0].Args, "fb100") || !strings.Contains(ops[0].Args, "clears=1") {
		t.Errorf("begin_render_pass args = %q", ops[0].Args)
	}
	if !f.g.Empty() {
		t.Errorf("graph not emptied by flush")
	}
}

func TestFlushOutsideCommandsRunBeforeRenderPass(t *testing.T) {
	f := newFixture()
	color := f.renderTarget(t, "color", colorDesc)
	n := f.g.AllocateNode()
	inside := f.startRenderPass(t, n, metadata.Rect{Width: 64, Height: 64}, color)
	inside.Draw(3, 1, 0, 0)
	outside, err := n.StartRecording(f.pool)
	if err != nil {
		t.Fatal(err)
	}
	outside.ClearColorImage(color.Image().Handle(), metadata.IMAGE_LAYOUT_TRANSFER_DST, [4]float32{})

	got := backendtest.Names(f.flush(t))
	want := []string{"clear_color_image", "begin_render_pass", "draw", "end_render_pass"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("ops = %v, want %v", got, want)
	}
}

func TestFlushEmitsDependencyFirst(t *testing.T) {
	f := newFixture()
	n1 := f.g.AllocateNode()
	cb1, _ := n1.StartRecording(f.pool)
	cb1.Draw(1, 1, 0, 0)
	n2 := f.g.AllocateNode()
	cb2, _ := n2.StartRecording(f.pool)
	cb2.Draw(2, 1, 0, 0)
	f.g.SetHappensBefore(n1.ID(), n2.ID())

	ops := f.flush(t)
	if len(ops) != 2 || ops[0].Args != "1 1 0 0" || ops[1].Args != "2 1 0 0" {
		t.Fatalf("ops = %v", ops)
	}
}

// Every node is emitted exactly once, after all of its predecessors, for
// arbitrary DAGs built with before edges only.
func TestFlushTopologicalOrder(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for iter := 0; iter < 50; iter++ {
		f := newFixture()
		count := 2 + rng.Intn(30)
		befores := make([][]int, count)
		for i := 0; i < count; i++ {
			n := f.g.AllocateNode()
			cb, err := n.StartRecording(f.pool)
			if err != nil {
				t.Fatal(err)
			}
			cb.Draw(uint32(i), 1, 0, 0)
			for j := 0; j < i; j++ {
				if rng.Intn(4) == 0 {
					n.AddBeforeDependency(NodeID(j))
					befores[i] = append(befores[i], j)
				}
			}
		}

		position := map[int]int{}
		for pos, op := range f.flush(t) {
			id, err := strconv.Atoi(strings.Fields(op.Args)[0])
			if err != nil {
				t.Fatal(err)
			}
			if _, dup := position[id]; dup {
				t.Fatalf("iteration %d: node %d emitted twice", iter, id)
			}
			position[id] = pos
		}
		if len(position) != count {
			t.Fatalf("iteration %d: emitted %d of %d nodes", iter, len(position), count)
		}
		for i, bs := range befores {
			for _, b := range bs {
				if position[b] > position[i] {
					t.Fatalf("iteration %d: node %d emitted before its dependency %d", iter, i, b)
				}
			}
		}
	}
}

func TestLongChainDoesNotRecurse(t *testing.T) {
	f := newFixture()
	const length = 20000
	prev := InvalidNodeID
	for i := 0; i < length; i++ {
		n := f.g.AllocateNode()
		if prev != InvalidNodeID {
			f.g.SetHappensBefore(prev, n.ID())
		}
		prev = n.ID()
	}
	f.flush(t)
}

func TestNodeContractViolations(t *testing.T) {
	f := newFixture()
	mustPanic(t, "double flush", func() {
		n := f.g.AllocateNode()
		n.MarkFlushedAndReleaseDependencies()
		n.MarkFlushedAndReleaseDependencies()
	})
	mustPanic(t, "second after edge", func() {
		a, b, c := f.g.AllocateNode(), f.g.AllocateNode(), f.g.AllocateNode()
		a.SetAfterDependency(b.ID())
		a.SetAfterDependency(c.ID())
	})
	mustPanic(t, "double begin", func() {
		n := f.g.AllocateNode()
		if _, err := n.StartRecording(f.pool); err != nil {
			t.Fatal(err)
		}
		n.StartRecording(f.pool)
	})
	mustPanic(t, "dependency on a later node", func() {
		a, b := f.g.AllocateNode(), f.g.AllocateNode()
		a.AddBeforeDependency(b.ID())
	})
}

func TestFlushRenderPassWithoutTargetsAsserts(t *testing.T) {
	f := newFixture()
	n := f.g.AllocateNode()
	n.StoreRenderPassFramebuffer(&backendtest.Framebuffer{ID: 1}, metadata.Rect{Width: 1, Height: 1})
	rp, _ := f.dev.GetCompatibleRenderPass(metadata.RenderPassDesc{})
	if _, err := n.StartRenderPassRecording(f.pool, rp); err != nil {
		t.Fatal(err)
	}
	primary, _ := f.pool.AllocatePrimary()
	mustPanic(t, "render pass without targets", func() {
		f.g.Flush(f.dev, primary)
	})
}

func TestFlushFailureDiscardsGraph(t *testing.T) {
	f := newFixture()
	n := f.g.AllocateNode()
	cb, _ := n.StartRecording(f.pool)
	// ending the buffer early makes the flush fail to end it again
	if err := cb.End(); err != nil {
		t.Fatal(err)
	}
	primary, _ := f.pool.AllocatePrimary()
	secondaries, err := f.g.Flush(f.dev, primary)
	if err == nil {
		t.Fatal("expected flush to fail")
	}
	if len(secondaries) != 1 {
		t.Errorf("secondaries = %d, want 1", len(secondaries))
	}
	if !f.g.Empty() {
		t.Errorf("failed flush left nodes behind")
	}
}

func TestFlushPropagatesAllocationErrors(t *testing.T) {
	f := newFixture()
	n := f.g.AllocateNode()
	f.pool.AllocErr = core.ErrOutOfDeviceMemory
	if _, err := n.StartRecording(f.pool); !errors.Is(err, core.ErrOutOfDeviceMemory) {
		t.Fatalf("StartRecording error = %v", err)
	}
	if n.OutsideRenderPassCommands() != nil {
		t.Errorf("failed start left a command buffer")
	}
}

func TestResourceRecordCommandsAppends(t *testing.T) {
	f := newFixture()
	img := NewImage(backendtest.NewImage("x", colorDesc))

	cb1, err := img.RecordCommands(f.g, f.pool)
	if err != nil {
		t.Fatal(err)
	}
	cb2, _ := img.RecordCommands(f.g, f.pool)
	if cb1 != cb2 || f.g.Len() != 1 {
		t.Fatalf("second record did not append to the open node")
	}
	if !img.ChangeLayout(metadata.IMAGE_LAYOUT_TRANSFER_DST, cb1) {
		t.Errorf("layout change from undefined not recorded")
	}
	if img.ChangeLayout(metadata.IMAGE_LAYOUT_TRANSFER_DST, cb1) {
		t.Errorf("redundant layout change recorded")
	}

	f.flush(t)
	if img.WritingNode(f.g) != nil {
		t.Errorf("writer survived the flush")
	}
	if _, err := img.RecordCommands(f.g, f.pool); err != nil {
		t.Fatal(err)
	}
	if f.g.Len() != 1 {
		t.Errorf("recording after flush must start a fresh node")
	}
}

// A reader recorded after a writer is emitted after it, and the writer's
// next commands go to a new node ordered after the reader.
func TestResourceAddDependencyOrdersWork(t *testing.T) {
	f := newFixture()
	src := NewImage(backendtest.NewImage("src", colorDesc))
	dst := NewBuffer(&backendtest.Buffer{Name: "dst"})

	cb, _ := src.RecordCommands(f.g, f.pool)
	cb.Draw(1, 1, 0, 0)

	dst.AddDependency(f.g, &src.Resource)
	cb, _ = dst.RecordCommands(f.g, f.pool)
	cb.Draw(2, 1, 0, 0)

	cb, _ = src.RecordCommands(f.g, f.pool)
	cb.Draw(3, 1, 0, 0)

	if f.g.Len() != 3 {
		t.Fatalf("nodes = %d, want 3\n%s", f.g.Len(), f.g.Dump())
	}
	dump := f.g.Dump()
	if !strings.Contains(dump, "N0 -> N1") || !strings.Contains(dump, "N1 -> N2") {
		t.Errorf("unexpected edges:\n%s", dump)
	}

	var args []string
	for _, op := range f.flush(t) {
		args = append(args, strings.Fields(op.Args)[0])
	}
	if !reflect.DeepEqual(args, []string{"1", "2", "3"}) {
		t.Fatalf("emission order = %v", args)
	}
}

func TestAddDependencyOnUnwrittenResourceIsNoop(t *testing.T) {
	f := newFixture()
	a := NewBuffer(&backendtest.Buffer{Name: "a"})
	b := NewBuffer(&backendtest.Buffer{Name: "b"})
	a.AddDependency(f.g, &b.Resource)
	if !f.g.Empty() {
		t.Errorf("dependency on an unwritten resource allocated a node")
	}
}

func TestAppendToStartedRenderPass(t *testing.T) {
	f := newFixture()
	color := f.renderTarget(t, "color", colorDesc)
	var fbResource Resource

	n := fbResource.NewRenderPassNode(f.g)
	cb := f.startRenderPass(t, n, metadata.Rect{Width: 64, Height: 64}, color)
	fb := n.Framebuffer()

	got, ok := fbResource.AppendToStartedRenderPass(f.g, fb, metadata.Rect{X: 8, Y: 8, Width: 16, Height: 16})
	if !ok || got != cb {
		t.Fatalf("enclosed area should append to the started render pass")
	}
	if _, ok := fbResource.AppendToStartedRenderPass(f.g, fb, metadata.Rect{Width: 128, Height: 64}); ok {
		t.Errorf("larger area must not append")
	}
	if _, ok := fbResource.AppendToStartedRenderPass(f.g, &backendtest.Framebuffer{ID: 9}, metadata.Rect{Width: 1, Height: 1}); ok {
		t.Errorf("other framebuffer must not append")
	}

	// the attachment image is now produced by the render pass node
	if color.Image().WritingNode(f.g) != n {
		t.Errorf("render target image not chained to the render pass node")
	}
	if color.Image().Layout() != metadata.IMAGE_LAYOUT_COLOR_ATTACHMENT {
		t.Errorf("layout = %s", color.Image().Layout())
	}
	// recording on the image after the render pass opens a node after it
	post, _ := color.Image().RecordCommands(f.g, f.pool)
	color.Image().ChangeLayout(metadata.IMAGE_LAYOUT_PRESENT_SRC, post)
	if _, ok := fbResource.AppendToStartedRenderPass(f.g, fb, metadata.Rect{Width: 1, Height: 1}); ok {
		t.Errorf("closed render pass must not be appended to")
	}
	got2 := backendtest.Names(f.flush(t))
	want := []string{"begin_render_pass", "end_render_pass", "barrier"}
	if !reflect.DeepEqual(got2, want) {
		t.Fatalf("ops = %v, want %v", got2, want)
	}
}

func TestRenderPassAttachmentsAndClears(t *testing.T) {
	f := newFixture()
	color := f.renderTarget(t, "color", colorDesc)
	depth := f.renderTarget(t, "depth", depthDesc)
	n := f.g.AllocateNode()
	f.startRenderPass(t, n, metadata.Rect{Width: 64, Height: 64}, color, depth)

	desc := n.RenderPassDesc()
	if desc.AttachmentCount() != 2 || !desc.HasDepthStencil() {
		t.Fatalf("desc = %v", desc)
	}
	if a := desc.Attachment(0); a.FinalLayout != metadata.IMAGE_LAYOUT_COLOR_ATTACHMENT || a.LoadOp != metadata.LOAD_OP_CLEAR {
		t.Errorf("color attachment = %+v", a)
	}
	if a := desc.Attachment(1); a.FinalLayout != metadata.IMAGE_LAYOUT_DEPTH_STENCIL_ATTACHMENT {
		t.Errorf("depth attachment = %+v", a)
	}
	if len(n.ClearValues()) != 2 {
		t.Errorf("clear values = %d, want one per attachment", len(n.ClearValues()))
	}

	n.LoadAttachment(0)
	desc = n.RenderPassDesc()
	if a := desc.Attachment(0); a.LoadOp != metadata.LOAD_OP_LOAD || a.InitialLayout != metadata.IMAGE_LAYOUT_UNDEFINED {
		t.Errorf("loaded attachment = %+v", a)
	}
	n.ClearColorAttachment(0, [4]float32{1, 0, 0, 1})
	n.ClearDepthAttachment(1)
	n.ClearStencilAttachment(0x80)
	cv := n.ClearValues()
	if cv[0].Color != [4]float32{1, 0, 0, 1} || cv[1].Depth != 1 || cv[1].Stencil != 0x80 {
		t.Errorf("clear values = %+v", cv)
	}
	if n.ClearedAttachments().Count() != 2 {
		t.Errorf("cleared attachments = %d", n.ClearedAttachments().Count())
	}
	desc = n.RenderPassDesc()
	if a := desc.Attachment(0); a.LoadOp != metadata.LOAD_OP_CLEAR {
		t.Errorf("clear did not switch the load op back")
	}

	// the flush fetches the render pass for the updated description
	before := f.dev.RenderPassCount()
	f.flush(t)
	if f.dev.RenderPassCount() != before {
		t.Errorf("flush created a new render pass for an unchanged description")
	}
}

func TestNodeAcceptsClears(t *testing.T) {
	f := newFixture()
	color := f.renderTarget(t, "color", colorDesc)
	depth := f.renderTarget(t, "depth", depthDesc)
	n := f.g.AllocateNode()
	f.startRenderPass(t, n, metadata.Rect{Width: 64, Height: 64}, color, depth)
	n.LoadAttachment(1)

	if !n.ClearedAttachments().Test(0) || n.ClearedAttachments().Test(1) {
		t.Fatalf("cleared attachments = %d, want only the color one", n.ClearedAttachments().Count())
	}
	tests := []struct {
		name  string
		loads []uint32
		want  bool
	}{
		{"loads everything", []uint32{0, 1}, true},
		{"clears what the pass clears", []uint32{1}, true},
		{"clears a loaded attachment", []uint32{0}, false},
		{"clears everything", nil, false},
	}
	for _, tt := range tests {
		clears := containers.Indices(2, tt.loads...)
		clears.Flip()
		if got := n.AcceptsClears(clears); got != tt.want {
			t.Errorf("%s: AcceptsClears = %v, want %v", tt.name, got, tt.want)
		}
	}

	n.CountDraw()
	clears := containers.Indices[uint32](2, 1)
	clears.Flip()
	if n.AcceptsClears(clears) {
		t.Errorf("clears accepted after a draw")
	}
	if !n.AcceptsClears(containers.NewBitSet(2)) {
		t.Errorf("a render pass loading every attachment must be accepted after draws")
	}
}

func TestRenderTargetUpdateSwapchainImage(t *testing.T) {
	f := newFixture()
	rt := f.renderTarget(t, "swap0", colorDesc)
	next := NewImage(backendtest.NewImage("swap1", colorDesc))
	view, _ := f.dev.CreateImageView(next.Handle())
	rt.UpdateSwapchainImage(next, view)
	if rt.Image() != next || rt.View() != view {
		t.Fatalf("render target not repointed")
	}
	if rt.LevelIndex() != 0 || rt.LayerIndex() != 0 || rt.Format() != colorDesc.Format {
		t.Errorf("identity changed by update")
	}
}
