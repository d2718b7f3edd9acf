// Package surface provides the render targets contexts draw to: swapchain
// backed window surfaces and fixed size offscreen surfaces.
package surface

import (
	"github.com/spaghettifunk/kiln/engine/renderer"
	"github.com/spaghettifunk/kiln/engine/renderer/backend"
	"github.com/spaghettifunk/kiln/engine/renderer/graph"
	"github.com/spaghettifunk/kiln/engine/renderer/metadata"
)

type Surface interface {
	Extent() metadata.Extent2D
	ColorRenderTarget() *graph.RenderTarget
	// DepthStencilRenderTarget is nil for surfaces without depth.
	DepthStencilRenderTarget() *graph.RenderTarget
	CurrentFramebuffer() backend.Framebuffer
	// RenderPassInfo describes a render pass covering the whole surface.
	RenderPassInfo(clears ...metadata.ClearValue) renderer.RenderPassBeginInfo
	Swap(ctx *renderer.Context) error
	Destroy()
}

// renderPassDesc describes the render pass the surface framebuffers are
// created against.
func renderPassDesc(color metadata.Format, depth metadata.Format) metadata.RenderPassDesc {
	var desc metadata.RenderPassDesc
	desc.PackColorAttachment(metadata.DefaultAttachmentDesc(color, metadata.SAMPLE_COUNT_1, metadata.IMAGE_LAYOUT_COLOR_ATTACHMENT))
	if depth != metadata.FORMAT_UNDEFINED {
		desc.PackDepthStencilAttachment(metadata.DefaultAttachmentDesc(depth, metadata.SAMPLE_COUNT_1, metadata.IMAGE_LAYOUT_DEPTH_STENCIL_ATTACHMENT))
	}
	return desc
}

// depthBuffer is the depth/stencil image shared by all images of a surface.
type depthBuffer struct {
	image *graph.Image
	view  backend.ImageView
}

func newDepthBuffer(device backend.Device, format metadata.Format, extent metadata.Extent2D) (*depthBuffer, error) {
	img, err := device.CreateImage(metadata.ImageDesc{
		Extent:    extent,
		Format:    format,
		Samples:   metadata.SAMPLE_COUNT_1,
		Usage:     metadata.IMAGE_USAGE_DEPTH_STENCIL_ATTACHMENT,
		MipLevels: 1,
		Layers:    1,
	})
	if err != nil {
		return nil, err
	}
	view, err := device.CreateImageView(img)
	if err != nil {
		img.Destroy()
		return nil, err
	}
	return &depthBuffer{image: graph.NewImage(img), view: view}, nil
}

func (d *depthBuffer) Destroy() {
	d.view.Destroy()
	d.image.Destroy()
}

// release hands obj's destruction to the renderer's garbage list, so it
// waits for the submissions still using it.
func release(r *renderer.Renderer, obj *graph.Image, destroy func()) {
	if w := obj.WriteUse(); w.Valid() {
		w.Release()
	}
	r.Garbage().Add(obj.Use(), destroy)
}
