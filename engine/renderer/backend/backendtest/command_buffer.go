package backendtest

import (
	"errors"
	"fmt"

	"github.com/spaghettifunk/kiln/engine/renderer/backend"
	"github.com/spaghettifunk/kiln/engine/renderer/metadata"
)

// Op is one recorded command.
type Op struct {
	Name string
	Args string
}

func (o Op) String() string {
	if o.Args == "" {
		return o.Name
	}
	return o.Name + " " + o.Args
}

// Names returns the op names of ops, in order.
func Names(ops []Op) []string {
	names := make([]string, len(ops))
	for i, op := range ops {
		names[i] = op.Name
	}
	return names
}

type CommandBuffer struct {
	Secondary   bool
	Inheritance *backend.Inheritance
	Freed       bool

	recording bool
	ended     bool
	ops       []Op
}

func (c *CommandBuffer) Begin(inheritance *backend.Inheritance) error {
	if c.recording {
		return errors.New("command buffer already recording")
	}
	if inheritance != nil && !c.Secondary {
		return errors.New("inheritance info on a primary command buffer")
	}
	c.recording = true
	c.ended = false
	c.Inheritance = inheritance
	c.ops = nil
	return nil
}

func (c *CommandBuffer) End() error {
	if !c.recording {
		return errors.New("command buffer not recording")
	}
	c.recording = false
	c.ended = true
	return nil
}

func (c *CommandBuffer) Reset() error {
	c.recording = false
	c.ended = false
	c.ops = nil
	return nil
}

func (c *CommandBuffer) Recording() bool { return c.recording }
func (c *CommandBuffer) Ended() bool     { return c.ended }

// Ops returns a copy of the recorded commands.
func (c *CommandBuffer) Ops() []Op {
	out := make([]Op, len(c.ops))
	copy(out, c.ops)
	return out
}

func (c *CommandBuffer) record(name, format string, args ...interface{}) {
	c.ops = append(c.ops, Op{Name: name, Args: fmt.Sprintf(format, args...)})
}

func (c *CommandBuffer) BeginRenderPass(rp backend.RenderPass, fb backend.Framebuffer, area metadata.Rect, clears []metadata.ClearValue) {
	c.record("begin_render_pass", "%v area=%v attachments=%d clears=%d", fb, area, rp.Desc().AttachmentCount(), len(clears))
}

func (c *CommandBuffer) EndRenderPass() {
	c.record("end_render_pass", "")
}

// ExecuteCommands inlines the commands of the secondaries in the stream.
func (c *CommandBuffer) ExecuteCommands(secondaries ...backend.CommandBuffer) {
	for _, s := range secondaries {
		sc := s.(*CommandBuffer)
		c.ops = append(c.ops, sc.ops...)
	}
}

func (c *CommandBuffer) Draw(vertexCount, instanceCount, firstVertex, firstInstance uint32) {
	c.record("draw", "%d %d %d %d", vertexCount, instanceCount, firstVertex, firstInstance)
}

func (c *CommandBuffer) DrawIndexed(indexCount, instanceCount, firstIndex uint32, vertexOffset int32, firstInstance uint32) {
	c.record("draw_indexed", "%d %d %d %d %d", indexCount, instanceCount, firstIndex, vertexOffset, firstInstance)
}

func (c *CommandBuffer) CopyBuffer(src, dst backend.Buffer, regions ...backend.BufferCopy) {
	c.record("copy_buffer", "%v->%v regions=%d", src, dst, len(regions))
}

func (c *CommandBuffer) PipelineBarrier(barriers ...backend.ImageBarrier) {
	for _, b := range barriers {
		c.record("barrier", "%v %s->%s", b.Image, b.OldLayout, b.NewLayout)
	}
}

func (c *CommandBuffer) ClearColorImage(img backend.Image, layout metadata.ImageLayout, color [4]float32) {
	c.record("clear_color_image", "%v %s %v", img, layout, color)
}

type CommandPool struct {
	Allocated []*CommandBuffer
	Destroyed bool
	// AllocErr, when set, is returned by the next allocation.
	AllocErr error
}

func (p *CommandPool) allocate(secondary bool) (backend.CommandBuffer, error) {
	if p.AllocErr != nil {
		err := p.AllocErr
		p.AllocErr = nil
		return nil, err
	}
	cb := &CommandBuffer{Secondary: secondary}
	p.Allocated = append(p.Allocated, cb)
	return cb, nil
}

func (p *CommandPool) AllocatePrimary() (backend.CommandBuffer, error) {
	return p.allocate(false)
}

func (p *CommandPool) AllocateSecondary() (backend.CommandBuffer, error) {
	return p.allocate(true)
}

func (p *CommandPool) Free(cbs ...backend.CommandBuffer) {
	for _, cb := range cbs {
		cb.(*CommandBuffer).Freed = true
	}
}

func (p *CommandPool) Destroy() { p.Destroyed = true }

// Live returns the number of allocated command buffers not yet freed.
func (p *CommandPool) Live() int {
	n := 0
	for _, cb := range p.Allocated {
		if !cb.Freed {
			n++
		}
	}
	return n
}
