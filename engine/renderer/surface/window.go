package surface

import (
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/spaghettifunk/kiln/engine/core"
	"github.com/spaghettifunk/kiln/engine/math"
	"github.com/spaghettifunk/kiln/engine/renderer"
	"github.com/spaghettifunk/kiln/engine/renderer/backend"
	"github.com/spaghettifunk/kiln/engine/renderer/graph"
	"github.com/spaghettifunk/kiln/engine/renderer/metadata"
)

// undefinedExtent in the current extent of the capabilities means the
// window size decides.
const undefinedExtent = 0xFFFFFFFF

type WindowConfig struct {
	// Width and Height are the window size, used when the surface does not
	// dictate an extent.
	Width  uint32
	Height uint32
	Format metadata.Format
	// DepthFormat is FORMAT_UNDEFINED for surfaces without depth.
	DepthFormat    metadata.Format
	PresentMode    metadata.PresentMode
	MinImageCount  uint32
	AcquireTimeout time.Duration
	// DeferAcquire postpones acquiring the next image from Swap to the next
	// NextImage call.
	DeferAcquire bool
	// Events, when set, receives EVENT_CODE_SURFACE_RECREATED.
	Events *core.EventBus
}

type swapchainImage struct {
	image          *graph.Image
	view           backend.ImageView
	framebuffer    backend.Framebuffer
	renderComplete backend.Semaphore
	// frameNumber is the frame the image was last presented in, 0 if never.
	frameNumber uint64
}

// WindowSurface renders into the images of a swapchain. The images are
// presented in Swap, which acquires the next one right away.
type WindowSurface struct {
	graph.Resource

	id       uuid.UUID
	renderer *renderer.Renderer
	device   backend.Device
	native   backend.Surface
	config   WindowConfig

	swapchain   backend.Swapchain
	extent      metadata.Extent2D
	format      metadata.Format
	presentMode metadata.PresentMode
	renderPass  backend.RenderPass
	images      []swapchainImage
	depth       *depthBuffer

	acquireSemaphores []backend.Semaphore
	nextAcquire       int
	acquireSemaphore  backend.Semaphore
	currentImage      uint32
	acquired          bool
	needsRecreate     bool
	frameCount        uint64

	color        graph.RenderTarget
	depthStencil graph.RenderTarget
}

func NewWindowSurface(r *renderer.Renderer, native backend.Surface, config WindowConfig) *WindowSurface {
	if config.AcquireTimeout == 0 {
		config.AcquireTimeout = time.Duration(r.Config().AcquireTimeoutMs) * time.Millisecond
	}
	if config.Format == metadata.FORMAT_UNDEFINED {
		config.Format = metadata.FORMAT_B8G8R8A8_UNORM
	}
	return &WindowSurface{
		id:         uuid.New(),
		renderer:   r,
		device:     r.Device(),
		native:     native,
		config:     config,
		frameCount: 1,
	}
}

// Initialize creates the swapchain and, unless acquisition is deferred,
// acquires the first image.
func (s *WindowSurface) Initialize(ctx *renderer.Context) error {
	if err := s.createSwapchain(nil); err != nil {
		return err
	}
	core.LogInfo("window surface %s: %dx%d %s, %d images, present mode %s",
		s.id, s.extent.Width, s.extent.Height, s.format, len(s.images), s.presentMode)
	if s.config.DeferAcquire {
		return nil
	}
	return s.acquire(ctx)
}

func (s *WindowSurface) ID() uuid.UUID                     { return s.id }
func (s *WindowSurface) Extent() metadata.Extent2D         { return s.extent }
func (s *WindowSurface) Format() metadata.Format           { return s.format }
func (s *WindowSurface) PresentMode() metadata.PresentMode { return s.presentMode }
func (s *WindowSurface) ImageCount() int                   { return len(s.images) }

// CurrentImageIndex is the index of the acquired image. It is only
// meaningful while an image is acquired.
func (s *WindowSurface) CurrentImageIndex() (uint32, bool) {
	return s.currentImage, s.acquired
}

func (s *WindowSurface) ColorRenderTarget() *graph.RenderTarget {
	return &s.color
}

func (s *WindowSurface) DepthStencilRenderTarget() *graph.RenderTarget {
	if s.depth == nil {
		return nil
	}
	return &s.depthStencil
}

func (s *WindowSurface) CurrentFramebuffer() backend.Framebuffer {
	return s.images[s.currentImage].framebuffer
}

func (s *WindowSurface) RenderPassInfo(clears ...metadata.ClearValue) renderer.RenderPassBeginInfo {
	if len(clears) == 0 {
		clears = []metadata.ClearValue{metadata.ClearColor(0, 0, 0, 1), metadata.ClearDepthStencil(1, 0)}
	}
	return renderer.RenderPassBeginInfo{
		Owner:        &s.Resource,
		Framebuffer:  s.CurrentFramebuffer(),
		Area:         metadata.RectFromExtent(s.extent),
		ColorTargets: []*graph.RenderTarget{&s.color},
		DepthStencil: s.DepthStencilRenderTarget(),
		ClearValues:  clears,
	}
}

func choosePresentMode(desired metadata.PresentMode, supported []metadata.PresentMode) metadata.PresentMode {
	if slices.Contains(supported, desired) {
		return desired
	}
	if desired == metadata.PRESENT_MODE_MAILBOX && slices.Contains(supported, metadata.PRESENT_MODE_IMMEDIATE) {
		return metadata.PRESENT_MODE_IMMEDIATE
	}
	return metadata.PRESENT_MODE_FIFO
}

func (s *WindowSurface) chooseExtent(caps backend.SurfaceCapabilities) metadata.Extent2D {
	if caps.CurrentExtent.Width != undefinedExtent {
		return caps.CurrentExtent
	}
	return metadata.Extent2D{
		Width:  math.Clamp(s.config.Width, caps.MinExtent.Width, caps.MaxExtent.Width),
		Height: math.Clamp(s.config.Height, caps.MinExtent.Height, caps.MaxExtent.Height),
	}
}

// createSwapchain builds the swapchain and everything sized after it. old,
// when set, is handed to the device and destroyed.
func (s *WindowSurface) createSwapchain(old backend.Swapchain) error {
	if old != nil {
		defer old.Destroy()
	}

	caps, err := s.device.SurfaceCapabilities(s.native)
	if err != nil {
		core.LogError("failed to query surface capabilities: %s", err)
		return err
	}
	extent := s.chooseExtent(caps)
	if extent.Empty() {
		return fmt.Errorf("surface has an empty extent: %w", core.ErrSwapchainOutOfDate)
	}
	format := s.config.Format
	if !slices.Contains(caps.Formats, format) && len(caps.Formats) > 0 {
		format = caps.Formats[0]
	}
	maxImages := caps.MaxImageCount
	if maxImages == 0 {
		maxImages = ^uint32(0)
	}
	desc := backend.SwapchainDesc{
		Extent:        extent,
		Format:        format,
		PresentMode:   choosePresentMode(s.config.PresentMode, caps.PresentModes),
		MinImageCount: math.Clamp(s.config.MinImageCount, caps.MinImageCount, maxImages),
	}

	swapchain, err := s.device.CreateSwapchain(s.native, desc, old)
	if err != nil {
		core.LogError("failed to create swapchain: %s", err)
		return err
	}
	s.swapchain = swapchain
	s.extent = swapchain.Extent()
	s.format = swapchain.Format()
	s.presentMode = desc.PresentMode

	if err := s.createImages(); err != nil {
		s.destroySwapchainResources()
		s.swapchain.Destroy()
		s.swapchain = nil
		return err
	}
	return nil
}

func (s *WindowSurface) createImages() error {
	rp, err := s.device.GetCompatibleRenderPass(renderPassDesc(s.format, s.config.DepthFormat))
	if err != nil {
		return err
	}
	s.renderPass = rp

	if s.config.DepthFormat != metadata.FORMAT_UNDEFINED {
		depth, err := newDepthBuffer(s.device, s.config.DepthFormat, s.extent)
		if err != nil {
			return err
		}
		s.depth = depth
		s.depthStencil.Init(depth.image, depth.view, 0, 0)
	}

	for _, handle := range s.swapchain.Images() {
		img := swapchainImage{image: graph.NewImage(handle)}
		if img.view, err = s.device.CreateImageView(handle); err != nil {
			return err
		}
		views := []backend.ImageView{img.view}
		if s.depth != nil {
			views = append(views, s.depth.view)
		}
		if img.framebuffer, err = s.device.CreateFramebuffer(rp, views, s.extent); err != nil {
			img.view.Destroy()
			return err
		}
		if img.renderComplete, err = s.device.CreateSemaphore(); err != nil {
			img.framebuffer.Destroy()
			img.view.Destroy()
			return err
		}
		s.images = append(s.images, img)
	}

	for i := 0; i <= len(s.images); i++ {
		sem, err := s.device.CreateSemaphore()
		if err != nil {
			return err
		}
		s.acquireSemaphores = append(s.acquireSemaphores, sem)
	}
	s.nextAcquire = 0
	s.currentImage = 0
	s.color.Init(s.images[0].image, s.images[0].view, 0, 0)
	return nil
}

// destroySwapchainResources frees everything created for the current
// swapchain except the swapchain itself. The device must be idle.
func (s *WindowSurface) destroySwapchainResources() {
	for _, img := range s.images {
		img.framebuffer.Destroy()
		img.view.Destroy()
		img.renderComplete.Destroy()
		img.image.ReleaseUse()
	}
	s.images = nil
	for _, sem := range s.acquireSemaphores {
		sem.Destroy()
	}
	s.acquireSemaphores = nil
	s.acquireSemaphore = nil
	if s.depth != nil {
		s.depth.image.ReleaseUse()
		s.depth.Destroy()
		s.depth = nil
	}
	s.acquired = false
}

// recreate rebuilds the swapchain after ctx's work and the device are idle.
func (s *WindowSurface) recreate(ctx *renderer.Context) error {
	if err := ctx.Finish(); err != nil {
		return err
	}
	if err := s.renderer.Queue().WaitIdle(); err != nil {
		return err
	}
	old := s.swapchain
	s.destroySwapchainResources()
	s.swapchain = nil
	if err := s.createSwapchain(old); err != nil {
		return err
	}
	s.needsRecreate = false
	s.renderer.Stats().AddRecreation()
	core.LogInfo("window surface %s recreated at %dx%d", s.id, s.extent.Width, s.extent.Height)
	if s.config.Events != nil {
		var data core.EventContext
		data.Data.U32 = [4]uint32{s.extent.Width, s.extent.Height}
		s.config.Events.Fire(core.EVENT_CODE_SURFACE_RECREATED, s, data)
	}
	return nil
}

// acquire gets the next image, recreating the swapchain once if it is out
// of date.
func (s *WindowSurface) acquire(ctx *renderer.Context) error {
	if s.needsRecreate || s.swapchain == nil {
		if err := s.recreate(ctx); err != nil {
			return err
		}
	}
	for attempt := 0; ; attempt++ {
		sem := s.acquireSemaphores[s.nextAcquire]
		idx, err := s.swapchain.AcquireNextImage(s.config.AcquireTimeout, sem)
		if err == nil {
			s.nextAcquire = (s.nextAcquire + 1) % len(s.acquireSemaphores)
			s.acquireSemaphore = sem
			s.currentImage = idx
			s.acquired = true
			img := &s.images[idx]
			s.color.UpdateSwapchainImage(img.image, img.view)
			return nil
		}
		if !core.IsRecoverableSurfaceError(err) || attempt > 0 {
			core.LogError("failed to acquire swapchain image: %s", err)
			return err
		}
		core.LogWarn("swapchain of surface %s needs recreation on acquire: %s", s.id, err)
		if err := s.recreate(ctx); err != nil {
			return err
		}
	}
}

// NextImage makes sure an image is acquired.
func (s *WindowSurface) NextImage(ctx *renderer.Context) error {
	if s.acquired {
		return nil
	}
	return s.acquire(ctx)
}

// Swap submits ctx's work, presents the current image and acquires the next
// one. An out of date or lost swapchain is recreated instead of failing.
func (s *WindowSurface) Swap(ctx *renderer.Context) error {
	if err := s.NextImage(ctx); err != nil {
		return err
	}
	img := &s.images[s.currentImage]
	if err := ctx.TransitionImage(img.image, metadata.IMAGE_LAYOUT_PRESENT_SRC); err != nil {
		return err
	}
	waits := []backend.Semaphore{s.acquireSemaphore}
	signals := []backend.Semaphore{img.renderComplete}
	if _, err := ctx.Flush(waits, signals); err != nil {
		return err
	}
	s.acquired = false
	s.acquireSemaphore = nil

	err := s.swapchain.Present(signals, s.currentImage)
	img.frameNumber = s.frameCount
	s.frameCount++
	s.renderer.Stats().AddSwap()
	if err != nil {
		if !core.IsRecoverableSurfaceError(err) {
			core.LogError("failed to present image %d: %s", s.currentImage, err)
			return err
		}
		core.LogWarn("swapchain of surface %s needs recreation on present: %s", s.id, err)
		s.needsRecreate = true
	}
	if s.needsRecreate {
		if err := s.recreate(ctx); err != nil {
			return err
		}
	}
	if s.config.DeferAcquire {
		return nil
	}
	return s.acquire(ctx)
}

// Resize records the new window size. The swapchain is recreated on the
// next swap.
func (s *WindowSurface) Resize(width, height uint32) {
	if width == s.config.Width && height == s.config.Height {
		return
	}
	s.config.Width = width
	s.config.Height = height
	s.needsRecreate = true
}

// SetSwapInterval switches between vsync (interval > 0) and tearing
// presentation. The swapchain is recreated on the next swap when the
// present mode changes.
func (s *WindowSurface) SetSwapInterval(interval int) {
	mode := metadata.PRESENT_MODE_FIFO
	if interval <= 0 {
		mode = metadata.PRESENT_MODE_MAILBOX
	}
	if mode == s.config.PresentMode {
		return
	}
	s.config.PresentMode = mode
	s.needsRecreate = true
}

// BufferAge returns how many frames ago the current image was presented,
// 0 when its contents are undefined.
func (s *WindowSurface) BufferAge(ctx *renderer.Context) (uint64, error) {
	if err := s.NextImage(ctx); err != nil {
		return 0, err
	}
	frame := s.images[s.currentImage].frameNumber
	if frame == 0 {
		return 0, nil
	}
	return s.frameCount - frame, nil
}

// Destroy waits for the device and frees the swapchain and the native
// surface.
func (s *WindowSurface) Destroy() {
	if err := s.renderer.Queue().WaitIdle(); err != nil {
		core.LogError("window surface %s: waiting before destroy: %s", s.id, err)
	}
	s.destroySwapchainResources()
	if s.swapchain != nil {
		s.swapchain.Destroy()
		s.swapchain = nil
	}
	if s.native != nil {
		s.native.Destroy()
		s.native = nil
	}
}
