package metadata

import (
	"fmt"

	"github.com/spaghettifunk/kiln/engine/core"
)

const MAX_COLOR_ATTACHMENTS = 8

type LoadOp uint8

const (
	LOAD_OP_LOAD LoadOp = iota
	LOAD_OP_CLEAR
	LOAD_OP_DONT_CARE
)

type StoreOp uint8

const (
	STORE_OP_STORE StoreOp = iota
	STORE_OP_DONT_CARE
)

type ClearValue struct {
	Color   [4]float32
	Depth   float32
	Stencil uint32
}

func ClearColor(r, g, b, a float32) ClearValue {
	return ClearValue{Color: [4]float32{r, g, b, a}}
}

func ClearDepthStencil(depth float32, stencil uint32) ClearValue {
	return ClearValue{Depth: depth, Stencil: stencil}
}

type AttachmentDesc struct {
	Format         Format
	Samples        SampleCount
	LoadOp         LoadOp
	StoreOp        StoreOp
	StencilLoadOp  LoadOp
	StencilStoreOp StoreOp
	InitialLayout  ImageLayout
	FinalLayout    ImageLayout
}

// DefaultAttachmentDesc is what a freshly appended attachment starts with:
// cleared and stored, stencil ignored, contents undefined on entry.
func DefaultAttachmentDesc(format Format, samples SampleCount, finalLayout ImageLayout) AttachmentDesc {
	return AttachmentDesc{
		Format:         format,
		Samples:        samples,
		LoadOp:         LOAD_OP_CLEAR,
		StoreOp:        STORE_OP_STORE,
		StencilLoadOp:  LOAD_OP_DONT_CARE,
		StencilStoreOp: STORE_OP_DONT_CARE,
		InitialLayout:  IMAGE_LAYOUT_UNDEFINED,
		FinalLayout:    finalLayout,
	}
}

// RenderPassDesc describes the attachments of a single-subpass render pass.
// Color attachments come first in append order, the depth/stencil
// attachment, if any, is always last. The value is comparable and is used
// directly as a cache key for compatible native render passes.
type RenderPassDesc struct {
	attachments     [MAX_COLOR_ATTACHMENTS + 1]AttachmentDesc
	colorCount      uint32
	hasDepthStencil bool
}

func (d *RenderPassDesc) PackColorAttachment(a AttachmentDesc) {
	core.Assert(!d.hasDepthStencil, "color attachment appended after depth/stencil")
	core.Assert(d.colorCount < MAX_COLOR_ATTACHMENTS, "too many color attachments")
	d.attachments[d.colorCount] = a
	d.colorCount++
}

func (d *RenderPassDesc) PackDepthStencilAttachment(a AttachmentDesc) {
	core.Assert(!d.hasDepthStencil, "depth/stencil attachment appended twice")
	core.Assert(a.Format.IsDepthOrStencil(), "format %s has no depth or stencil", a.Format)
	d.attachments[d.colorCount] = a
	d.hasDepthStencil = true
}

func (d RenderPassDesc) ColorAttachmentCount() uint32 {
	return d.colorCount
}

func (d RenderPassDesc) HasDepthStencil() bool {
	return d.hasDepthStencil
}

func (d RenderPassDesc) AttachmentCount() uint32 {
	if d.hasDepthStencil {
		return d.colorCount + 1
	}
	return d.colorCount
}

// Attachment returns a pointer to attachment i so load/store ops can be
// adjusted after the attachment was packed.
func (d *RenderPassDesc) Attachment(i uint32) *AttachmentDesc {
	core.Assert(i < d.AttachmentCount(), "attachment %d out of range (%d)", i, d.AttachmentCount())
	return &d.attachments[i]
}

func (d RenderPassDesc) DepthStencilIndex() (uint32, bool) {
	return d.colorCount, d.hasDepthStencil
}

func (d RenderPassDesc) String() string {
	s := "["
	for i := uint32(0); i < d.AttachmentCount(); i++ {
		if i > 0 {
			s += " "
		}
		a := d.attachments[i]
		s += fmt.Sprintf("%s/x%d", a.Format, a.Samples)
	}
	return s + "]"
}
