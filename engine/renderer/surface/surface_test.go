package surface

import (
	"errors"
	"reflect"
	"testing"

	"github.com/spaghettifunk/kiln/engine/core"
	"github.com/spaghettifunk/kiln/engine/renderer"
	"github.com/spaghettifunk/kiln/engine/renderer/backend/backendtest"
	"github.com/spaghettifunk/kiln/engine/renderer/metadata"
)

type harness struct {
	dev    *backendtest.Device
	r      *renderer.Renderer
	ctx    *renderer.Context
	native *backendtest.Surface
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dev := backendtest.NewDevice()
	r := renderer.New(dev, nil, core.DefaultConfig().Renderer)
	ctx, err := r.NewContext()
	if err != nil {
		t.Fatal(err)
	}
	return &harness{dev: dev, r: r, ctx: ctx, native: &backendtest.Surface{}}
}

func (h *harness) window(t *testing.T, config WindowConfig) *WindowSurface {
	t.Helper()
	if config.MinImageCount == 0 {
		config.MinImageCount = 3
	}
	s := NewWindowSurface(h.r, h.native, config)
	if err := s.Initialize(h.ctx); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	return s
}

func (h *harness) shutdown(t *testing.T, s Surface) {
	t.Helper()
	h.ctx.Destroy()
	s.Destroy()
	if err := h.r.Shutdown(); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
}

func (h *harness) swapchain(i int) *backendtest.Swapchain {
	return h.dev.Swapchains[i]
}

func (h *harness) drawFrame(t *testing.T, s Surface) {
	t.Helper()
	if err := h.ctx.BeginRenderPass(s.RenderPassInfo()); err != nil {
		t.Fatal(err)
	}
	h.ctx.Draw(3, 1, 0, 0)
	h.ctx.EndRenderPass()
}

func TestWindowSurfacePresentsAndRotates(t *testing.T) {
	h := newHarness(t)
	s := h.window(t, WindowConfig{Width: 640, Height: 480})

	if s.ImageCount() != 3 {
		t.Fatalf("ImageCount = %d, want 3", s.ImageCount())
	}
	if idx, ok := s.CurrentImageIndex(); !ok || idx != 0 {
		t.Fatalf("first image = %d (acquired %v), want 0", idx, ok)
	}

	h.drawFrame(t, s)
	if err := s.Swap(h.ctx); err != nil {
		t.Fatal(err)
	}

	sc := h.swapchain(0)
	if len(sc.Presents) != 1 || sc.Presents[0].Index != 0 {
		t.Fatalf("presents = %+v, want image 0", sc.Presents)
	}
	idx, ok := s.CurrentImageIndex()
	if !ok || idx == 0 {
		t.Fatalf("next image = %d (acquired %v), want a different image", idx, ok)
	}
	if s.ColorRenderTarget().Image() != s.images[idx].image {
		t.Fatal("color render target not moved to the acquired image")
	}

	sub := h.dev.LastSubmission()
	got := backendtest.Names(sub.Ops)
	want := []string{"begin_render_pass", "draw", "end_render_pass", "barrier"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("ops = %v, want %v", got, want)
	}
	if len(sub.Waits) != 1 || len(sub.Signals) != 1 {
		t.Fatalf("submission waits %d and signals %d semaphores", len(sub.Waits), len(sub.Signals))
	}
	if sc.Presents[0].Waits[0] != sub.Signals[0] {
		t.Fatal("present does not wait for the rendering semaphore")
	}
	if s.images[0].image.Layout() != metadata.IMAGE_LAYOUT_PRESENT_SRC {
		t.Fatalf("presented image layout = %s", s.images[0].image.Layout())
	}
	if h.ctx.Stats().Swaps != 1 {
		t.Fatalf("Swaps = %d", h.ctx.Stats().Swaps)
	}

	h.shutdown(t, s)
	if !sc.Destroyed || !h.native.Destroyed {
		t.Fatal("swapchain or native surface not destroyed")
	}
}

func TestWindowSurfaceRecreatesOnOutOfDateAcquire(t *testing.T) {
	h := newHarness(t)
	s := h.window(t, WindowConfig{Width: 640, Height: 480})

	h.drawFrame(t, s)
	h.swapchain(0).AcquireErrs = []error{core.ErrSwapchainOutOfDate}
	if err := s.Swap(h.ctx); err != nil {
		t.Fatalf("Swap: %v", err)
	}

	if len(h.dev.Swapchains) != 2 {
		t.Fatalf("%d swapchains created, want 2", len(h.dev.Swapchains))
	}
	if !h.swapchain(0).Destroyed {
		t.Fatal("old swapchain not destroyed")
	}
	if acquires := h.swapchain(1).Acquires; len(acquires) != 1 {
		t.Fatalf("new swapchain acquires = %v", acquires)
	}
	if _, ok := s.CurrentImageIndex(); !ok {
		t.Fatal("no image acquired after recreation")
	}
	if h.ctx.Stats().Recreations != 1 {
		t.Fatalf("Recreations = %d", h.ctx.Stats().Recreations)
	}

	h.shutdown(t, s)
}

func TestWindowSurfaceRecreatesOnOutOfDatePresent(t *testing.T) {
	h := newHarness(t)
	events := core.NewEventBus()
	var recreated [4]uint32
	events.Register(core.EVENT_CODE_SURFACE_RECREATED, t, func(code core.SystemEventCode, sender, listener interface{}, data core.EventContext) bool {
		recreated = data.Data.U32
		return true
	})
	s := h.window(t, WindowConfig{Width: 640, Height: 480, Events: events})

	h.drawFrame(t, s)
	h.swapchain(0).PresentErrs = []error{core.ErrSurfaceLost}
	if err := s.Swap(h.ctx); err != nil {
		t.Fatalf("Swap: %v", err)
	}
	if len(h.dev.Swapchains) != 2 {
		t.Fatalf("%d swapchains created, want 2", len(h.dev.Swapchains))
	}
	if recreated[0] != 640 || recreated[1] != 480 {
		t.Fatalf("recreation event carried %v", recreated)
	}

	h.shutdown(t, s)
}

func TestWindowSurfaceFatalPresentError(t *testing.T) {
	h := newHarness(t)
	s := h.window(t, WindowConfig{Width: 640, Height: 480})

	h.swapchain(0).PresentErrs = []error{core.ErrOutOfHostMemory}
	if err := s.Swap(h.ctx); !errors.Is(err, core.ErrOutOfHostMemory) {
		t.Fatalf("expected ErrOutOfHostMemory, got %v", err)
	}
	if len(h.dev.Swapchains) != 1 {
		t.Fatal("a non surface error must not recreate the swapchain")
	}

	h.shutdown(t, s)
}

func TestWindowSurfaceResize(t *testing.T) {
	h := newHarness(t)
	h.dev.Caps.CurrentExtent = metadata.Extent2D{Width: undefinedExtent, Height: undefinedExtent}
	s := h.window(t, WindowConfig{Width: 640, Height: 480})

	if s.Extent() != (metadata.Extent2D{Width: 640, Height: 480}) {
		t.Fatalf("extent = %v", s.Extent())
	}

	s.Resize(8000, 300)
	if err := s.Swap(h.ctx); err != nil {
		t.Fatal(err)
	}
	if s.Extent() != (metadata.Extent2D{Width: 4096, Height: 300}) {
		t.Fatalf("extent after resize = %v, want clamped 4096x300", s.Extent())
	}
	if fb := s.CurrentFramebuffer().(*backendtest.Framebuffer); fb.Extent() != s.Extent() {
		t.Fatalf("framebuffer extent = %v", fb.Extent())
	}

	s.Resize(8000, 300)
	if err := s.Swap(h.ctx); err != nil {
		t.Fatal(err)
	}
	if len(h.dev.Swapchains) != 2 {
		t.Fatalf("%d swapchains, want 2", len(h.dev.Swapchains))
	}

	h.shutdown(t, s)
}

func TestWindowSurfaceSwapInterval(t *testing.T) {
	h := newHarness(t)
	s := h.window(t, WindowConfig{Width: 640, Height: 480, PresentMode: metadata.PRESENT_MODE_FIFO})

	s.SetSwapInterval(0)
	if err := s.Swap(h.ctx); err != nil {
		t.Fatal(err)
	}
	if s.PresentMode() != metadata.PRESENT_MODE_MAILBOX || h.swapchain(1).Mode != metadata.PRESENT_MODE_MAILBOX {
		t.Fatalf("present mode = %s", s.PresentMode())
	}

	h.dev.Caps.PresentModes = []metadata.PresentMode{metadata.PRESENT_MODE_FIFO, metadata.PRESENT_MODE_IMMEDIATE}
	s.SetSwapInterval(1)
	s.SetSwapInterval(0)
	if err := s.Swap(h.ctx); err != nil {
		t.Fatal(err)
	}
	if s.PresentMode() != metadata.PRESENT_MODE_IMMEDIATE {
		t.Fatalf("present mode = %s, want immediate fallback", s.PresentMode())
	}

	h.shutdown(t, s)
}

func TestWindowSurfaceBufferAge(t *testing.T) {
	h := newHarness(t)
	h.dev.Caps.MinImageCount = 2
	s := h.window(t, WindowConfig{Width: 640, Height: 480, MinImageCount: 2, DeferAcquire: true})

	if _, ok := s.CurrentImageIndex(); ok {
		t.Fatal("deferred surface acquired an image on initialize")
	}
	ages := []uint64{}
	for frame := 0; frame < 4; frame++ {
		age, err := s.BufferAge(h.ctx)
		if err != nil {
			t.Fatal(err)
		}
		ages = append(ages, age)
		if err := s.Swap(h.ctx); err != nil {
			t.Fatal(err)
		}
		if _, ok := s.CurrentImageIndex(); ok {
			t.Fatal("deferred surface acquired an image on swap")
		}
	}
	// Two images alternate: undefined twice, then presented two frames ago.
	if want := []uint64{0, 0, 2, 2}; !reflect.DeepEqual(ages, want) {
		t.Fatalf("ages = %v, want %v", ages, want)
	}

	h.shutdown(t, s)
}

func TestWindowSurfaceDepthAttachment(t *testing.T) {
	h := newHarness(t)
	s := h.window(t, WindowConfig{Width: 640, Height: 480, DepthFormat: metadata.FORMAT_D24_UNORM_S8_UINT})

	if s.DepthStencilRenderTarget() == nil {
		t.Fatal("no depth render target")
	}
	fb := s.CurrentFramebuffer().(*backendtest.Framebuffer)
	if len(fb.Views) != 2 {
		t.Fatalf("framebuffer has %d views, want 2", len(fb.Views))
	}
	h.drawFrame(t, s)
	if err := s.Swap(h.ctx); err != nil {
		t.Fatal(err)
	}
	begin := h.dev.Submissions[0].Ops[0]
	if begin.Name != "begin_render_pass" {
		t.Fatalf("first op = %v", begin)
	}

	h.shutdown(t, s)
}

func TestOffscreenSurface(t *testing.T) {
	h := newHarness(t)
	s, err := NewOffscreenSurface(h.r, metadata.Extent2D{Width: 128, Height: 128}, metadata.FORMAT_R8G8B8A8_UNORM, metadata.FORMAT_D32_SFLOAT)
	if err != nil {
		t.Fatal(err)
	}
	var _ Surface = s

	h.drawFrame(t, s)
	if err := s.Swap(h.ctx); err != nil {
		t.Fatal(err)
	}
	if len(h.dev.Submissions) != 0 {
		t.Fatal("offscreen swap submitted work")
	}
	serial, err := h.ctx.Flush(nil, nil)
	if err != nil {
		t.Fatal(err)
	}

	color := s.ColorRenderTarget().Image().Handle().(*backendtest.Image)
	s.Destroy()
	if color.Destroyed {
		t.Fatal("offscreen image destroyed while in use")
	}
	h.dev.CompleteSerial(serial)
	h.r.CollectGarbage()
	if !color.Destroyed {
		t.Fatal("offscreen image not destroyed after its work completed")
	}

	h.ctx.Destroy()
	if err := h.r.Shutdown(); err != nil {
		t.Fatal(err)
	}
}

func TestChoosePresentMode(t *testing.T) {
	all := []metadata.PresentMode{metadata.PRESENT_MODE_FIFO, metadata.PRESENT_MODE_MAILBOX, metadata.PRESENT_MODE_IMMEDIATE}
	tests := []struct {
		desired   metadata.PresentMode
		supported []metadata.PresentMode
		want      metadata.PresentMode
	}{
		{metadata.PRESENT_MODE_MAILBOX, all, metadata.PRESENT_MODE_MAILBOX},
		{metadata.PRESENT_MODE_MAILBOX, all[:1], metadata.PRESENT_MODE_FIFO},
		{metadata.PRESENT_MODE_MAILBOX, []metadata.PresentMode{metadata.PRESENT_MODE_FIFO, metadata.PRESENT_MODE_IMMEDIATE}, metadata.PRESENT_MODE_IMMEDIATE},
		{metadata.PRESENT_MODE_IMMEDIATE, all[:2], metadata.PRESENT_MODE_FIFO},
	}
	for _, tt := range tests {
		if got := choosePresentMode(tt.desired, tt.supported); got != tt.want {
			t.Errorf("choosePresentMode(%s, %v) = %s, want %s", tt.desired, tt.supported, got, tt.want)
		}
	}
}
