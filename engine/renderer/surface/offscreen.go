package surface

import (
	"github.com/spaghettifunk/kiln/engine/core"
	"github.com/spaghettifunk/kiln/engine/renderer"
	"github.com/spaghettifunk/kiln/engine/renderer/backend"
	"github.com/spaghettifunk/kiln/engine/renderer/graph"
	"github.com/spaghettifunk/kiln/engine/renderer/metadata"
)

// OffscreenSurface is a fixed size color (and optional depth) target that is
// never presented.
type OffscreenSurface struct {
	graph.Resource

	renderer    *renderer.Renderer
	extent      metadata.Extent2D
	image       *graph.Image
	view        backend.ImageView
	depth       *depthBuffer
	framebuffer backend.Framebuffer

	color        graph.RenderTarget
	depthStencil graph.RenderTarget
}

func NewOffscreenSurface(r *renderer.Renderer, extent metadata.Extent2D, format, depthFormat metadata.Format) (*OffscreenSurface, error) {
	core.Assert(!extent.Empty(), "offscreen surface with an empty extent")
	device := r.Device()
	s := &OffscreenSurface{renderer: r, extent: extent}

	handle, err := device.CreateImage(metadata.ImageDesc{
		Extent:    extent,
		Format:    format,
		Samples:   metadata.SAMPLE_COUNT_1,
		Usage:     metadata.IMAGE_USAGE_COLOR_ATTACHMENT | metadata.IMAGE_USAGE_TRANSFER_SRC | metadata.IMAGE_USAGE_SAMPLED,
		MipLevels: 1,
		Layers:    1,
	})
	if err != nil {
		core.LogError("failed to create offscreen image: %s", err)
		return nil, err
	}
	s.image = graph.NewImage(handle)
	if s.view, err = device.CreateImageView(handle); err != nil {
		handle.Destroy()
		return nil, err
	}
	s.color.Init(s.image, s.view, 0, 0)
	views := []backend.ImageView{s.view}

	if depthFormat != metadata.FORMAT_UNDEFINED {
		if s.depth, err = newDepthBuffer(device, depthFormat, extent); err != nil {
			s.destroyColor()
			return nil, err
		}
		s.depthStencil.Init(s.depth.image, s.depth.view, 0, 0)
		views = append(views, s.depth.view)
	}

	rp, err := device.GetCompatibleRenderPass(renderPassDesc(format, depthFormat))
	if err == nil {
		s.framebuffer, err = device.CreateFramebuffer(rp, views, extent)
	}
	if err != nil {
		core.LogError("failed to create offscreen framebuffer: %s", err)
		s.destroyColor()
		if s.depth != nil {
			s.depth.Destroy()
		}
		return nil, err
	}
	return s, nil
}

func (s *OffscreenSurface) destroyColor() {
	s.view.Destroy()
	s.image.Destroy()
}

func (s *OffscreenSurface) Extent() metadata.Extent2D              { return s.extent }
func (s *OffscreenSurface) ColorRenderTarget() *graph.RenderTarget { return &s.color }
func (s *OffscreenSurface) CurrentFramebuffer() backend.Framebuffer {
	return s.framebuffer
}

func (s *OffscreenSurface) DepthStencilRenderTarget() *graph.RenderTarget {
	if s.depth == nil {
		return nil
	}
	return &s.depthStencil
}

func (s *OffscreenSurface) RenderPassInfo(clears ...metadata.ClearValue) renderer.RenderPassBeginInfo {
	if len(clears) == 0 {
		clears = []metadata.ClearValue{metadata.ClearColor(0, 0, 0, 0), metadata.ClearDepthStencil(1, 0)}
	}
	return renderer.RenderPassBeginInfo{
		Owner:        &s.Resource,
		Framebuffer:  s.framebuffer,
		Area:         metadata.RectFromExtent(s.extent),
		ColorTargets: []*graph.RenderTarget{&s.color},
		DepthStencil: s.DepthStencilRenderTarget(),
		ClearValues:  clears,
	}
}

// Swap has nothing to present.
func (s *OffscreenSurface) Swap(ctx *renderer.Context) error {
	return nil
}

// Destroy releases the images. They are freed once the submissions using
// them completed.
func (s *OffscreenSurface) Destroy() {
	framebuffer := s.framebuffer
	release(s.renderer, s.image, func() {
		framebuffer.Destroy()
		s.destroyColor()
	})
	if s.depth != nil {
		depth := s.depth
		release(s.renderer, depth.image, depth.Destroy)
	}
	s.framebuffer = nil
}
