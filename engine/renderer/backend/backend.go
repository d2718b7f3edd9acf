// Package backend declares the native graphics objects the command graph,
// the resource tracker and the surfaces are built on. The Vulkan renderer
// implements them; backendtest provides a recording implementation.
package backend

import (
	"time"

	"github.com/spaghettifunk/kiln/engine/renderer/metadata"
)

type Image interface {
	Desc() metadata.ImageDesc
	Destroy()
}

type ImageView interface {
	Image() Image
	Destroy()
}

type Buffer interface {
	Size() uint64
	Destroy()
}

type Framebuffer interface {
	Extent() metadata.Extent2D
	Destroy()
}

// RenderPass is owned by the device render pass cache and is never destroyed
// by callers.
type RenderPass interface {
	Desc() metadata.RenderPassDesc
}

type Semaphore interface {
	Destroy()
}

// Surface is the presentation surface created by the windowing layer.
type Surface interface {
	Destroy()
}

type SurfaceCapabilities struct {
	MinImageCount uint32
	// MaxImageCount is zero when there is no upper bound.
	MaxImageCount uint32
	CurrentExtent metadata.Extent2D
	MinExtent     metadata.Extent2D
	MaxExtent     metadata.Extent2D
	Formats       []metadata.Format
	PresentModes  []metadata.PresentMode
}

type SwapchainDesc struct {
	Extent        metadata.Extent2D
	Format        metadata.Format
	PresentMode   metadata.PresentMode
	MinImageCount uint32
}

type Swapchain interface {
	Images() []Image
	Extent() metadata.Extent2D
	Format() metadata.Format
	// AcquireNextImage returns the index of the next presentable image. The
	// signal semaphore is signaled once the image can be rendered to. A
	// suboptimal swapchain is not an error. core.ErrSwapchainOutOfDate and
	// core.ErrSurfaceLost ask for recreation.
	AcquireNextImage(timeout time.Duration, signal Semaphore) (uint32, error)
	Present(waits []Semaphore, imageIndex uint32) error
	Destroy()
}

type BufferCopy struct {
	SrcOffset uint64
	DstOffset uint64
	Size      uint64
}

type ImageBarrier struct {
	Image     Image
	OldLayout metadata.ImageLayout
	NewLayout metadata.ImageLayout
}

// Inheritance describes the render pass a secondary command buffer will be
// executed in.
type Inheritance struct {
	RenderPass  RenderPass
	Subpass     uint32
	Framebuffer Framebuffer
}

type CommandBuffer interface {
	// Begin starts recording. A nil inheritance begins a primary command
	// buffer or a secondary one used outside of a render pass.
	Begin(inheritance *Inheritance) error
	End() error
	Reset() error

	// BeginRenderPass begins a render pass whose contents are provided by
	// secondary command buffers.
	BeginRenderPass(rp RenderPass, fb Framebuffer, area metadata.Rect, clears []metadata.ClearValue)
	EndRenderPass()
	ExecuteCommands(secondaries ...CommandBuffer)

	Draw(vertexCount, instanceCount, firstVertex, firstInstance uint32)
	DrawIndexed(indexCount, instanceCount, firstIndex uint32, vertexOffset int32, firstInstance uint32)
	CopyBuffer(src, dst Buffer, regions ...BufferCopy)
	PipelineBarrier(barriers ...ImageBarrier)
	ClearColorImage(img Image, layout metadata.ImageLayout, color [4]float32)
}

type CommandPool interface {
	AllocatePrimary() (CommandBuffer, error)
	AllocateSecondary() (CommandBuffer, error)
	Free(cbs ...CommandBuffer)
	Destroy()
}

type SubmitInfo struct {
	CommandBuffers   []CommandBuffer
	WaitSemaphores   []Semaphore
	SignalSemaphores []Semaphore
	// Serial is signaled by the device once the submission completes.
	Serial metadata.Serial
}

// Device is the logical device and its graphics/present queue. Submit is
// called with the queue lock held by the caller.
type Device interface {
	CreateCommandPool() (CommandPool, error)
	// GetCompatibleRenderPass returns the cached native render pass for desc,
	// creating it on first use.
	GetCompatibleRenderPass(desc metadata.RenderPassDesc) (RenderPass, error)
	CreateFramebuffer(rp RenderPass, views []ImageView, extent metadata.Extent2D) (Framebuffer, error)
	CreateSemaphore() (Semaphore, error)
	CreateImage(desc metadata.ImageDesc) (Image, error)
	CreateImageView(img Image) (ImageView, error)
	CreateBuffer(size uint64, usage metadata.BufferUsage) (Buffer, error)

	SurfaceCapabilities(surface Surface) (SurfaceCapabilities, error)
	CreateSwapchain(surface Surface, desc SwapchainDesc, old Swapchain) (Swapchain, error)

	Submit(info SubmitInfo) error
	// HasCompletedSerial polls the device for the completion of serial.
	HasCompletedSerial(serial metadata.Serial) bool
	// WaitForSerial blocks until serial completed or timeout expired, in which
	// case core.ErrTimeout is returned.
	WaitForSerial(serial metadata.Serial, timeout time.Duration) error
	WaitIdle() error
	Destroy()
}
