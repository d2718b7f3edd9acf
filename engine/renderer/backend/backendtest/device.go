package backendtest

import (
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/spaghettifunk/kiln/engine/core"
	"github.com/spaghettifunk/kiln/engine/renderer/backend"
	"github.com/spaghettifunk/kiln/engine/renderer/metadata"
)

// Submission is a snapshot of one Submit call.
type Submission struct {
	Serial  metadata.Serial
	Ops     []Op
	Waits   []backend.Semaphore
	Signals []backend.Semaphore
}

type Device struct {
	mu sync.Mutex

	Submissions []Submission
	Pools       []*CommandPool
	Swapchains  []*Swapchain
	Caps        backend.SurfaceCapabilities

	// CompleteOnWait makes WaitForSerial complete the awaited serial instead
	// of timing out.
	CompleteOnWait bool
	// SubmitErr, when set, is returned by the next Submit.
	SubmitErr error
	// SwapchainErr, when set, is returned by the next CreateSwapchain.
	SwapchainErr error

	completed    metadata.Serial
	renderPasses map[metadata.RenderPassDesc]*RenderPass
	framebuffers int
	semaphores   int
	images       int
	lost         bool
	Destroyed    bool
}

func NewDevice() *Device {
	return &Device{
		CompleteOnWait: true,
		renderPasses:   make(map[metadata.RenderPassDesc]*RenderPass),
		Caps: backend.SurfaceCapabilities{
			MinImageCount: 2,
			MaxImageCount: 4,
			CurrentExtent: metadata.Extent2D{Width: 640, Height: 480},
			MinExtent:     metadata.Extent2D{Width: 1, Height: 1},
			MaxExtent:     metadata.Extent2D{Width: 4096, Height: 4096},
			Formats:       []metadata.Format{metadata.FORMAT_B8G8R8A8_UNORM},
			PresentModes:  []metadata.PresentMode{metadata.PRESENT_MODE_FIFO, metadata.PRESENT_MODE_MAILBOX},
		},
	}
}

func (d *Device) CreateCommandPool() (backend.CommandPool, error) {
	p := &CommandPool{}
	d.mu.Lock()
	d.Pools = append(d.Pools, p)
	d.mu.Unlock()
	return p, nil
}

func (d *Device) GetCompatibleRenderPass(desc metadata.RenderPassDesc) (backend.RenderPass, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if rp, ok := d.renderPasses[desc]; ok {
		return rp, nil
	}
	rp := &RenderPass{desc: desc}
	d.renderPasses[desc] = rp
	return rp, nil
}

func (d *Device) RenderPassCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.renderPasses)
}

func (d *Device) CreateFramebuffer(rp backend.RenderPass, views []backend.ImageView, extent metadata.Extent2D) (backend.Framebuffer, error) {
	if uint32(len(views)) != rp.Desc().AttachmentCount() {
		return nil, errors.New("framebuffer attachment count does not match render pass")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.framebuffers++
	return &Framebuffer{ID: d.framebuffers, Views: views, extent: extent}, nil
}

func (d *Device) CreateSemaphore() (backend.Semaphore, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.semaphores++
	return &Semaphore{ID: d.semaphores}, nil
}

func (d *Device) CreateImage(desc metadata.ImageDesc) (backend.Image, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.images++
	return NewImage("image"+strconv.Itoa(d.images), desc), nil
}

func (d *Device) CreateImageView(img backend.Image) (backend.ImageView, error) {
	return &ImageView{image: img.(*Image)}, nil
}

func (d *Device) CreateBuffer(size uint64, usage metadata.BufferUsage) (backend.Buffer, error) {
	return &Buffer{Name: "buffer", size: size}, nil
}

func (d *Device) SurfaceCapabilities(surface backend.Surface) (backend.SurfaceCapabilities, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.Caps, nil
}

func (d *Device) CreateSwapchain(surface backend.Surface, desc backend.SwapchainDesc, old backend.Swapchain) (backend.Swapchain, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.SwapchainErr != nil {
		err := d.SwapchainErr
		d.SwapchainErr = nil
		return nil, err
	}
	count := desc.MinImageCount
	if count < d.Caps.MinImageCount {
		count = d.Caps.MinImageCount
	}
	if d.Caps.MaxImageCount > 0 && count > d.Caps.MaxImageCount {
		count = d.Caps.MaxImageCount
	}
	sc := &Swapchain{
		extent: desc.Extent,
		format: desc.Format,
		Mode:   desc.PresentMode,
	}
	gen := strconv.Itoa(len(d.Swapchains))
	for i := uint32(0); i < count; i++ {
		sc.images = append(sc.images, NewImage("swap"+gen+"_"+strconv.Itoa(int(i)), metadata.ImageDesc{
			Extent:    desc.Extent,
			Format:    desc.Format,
			Samples:   metadata.SAMPLE_COUNT_1,
			Usage:     metadata.IMAGE_USAGE_COLOR_ATTACHMENT,
			MipLevels: 1,
			Layers:    1,
		}))
	}
	d.Swapchains = append(d.Swapchains, sc)
	return sc, nil
}

func (d *Device) Submit(info backend.SubmitInfo) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.lost {
		return core.ErrDeviceLost
	}
	if d.SubmitErr != nil {
		err := d.SubmitErr
		d.SubmitErr = nil
		if errors.Is(err, core.ErrDeviceLost) {
			d.lost = true
		}
		return err
	}
	sub := Submission{
		Serial:  info.Serial,
		Waits:   info.WaitSemaphores,
		Signals: info.SignalSemaphores,
	}
	for _, cb := range info.CommandBuffers {
		sub.Ops = append(sub.Ops, cb.(*CommandBuffer).Ops()...)
	}
	d.Submissions = append(d.Submissions, sub)
	return nil
}

// CompleteSerial marks every submission up to serial as executed.
func (d *Device) CompleteSerial(serial metadata.Serial) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if serial > d.completed {
		d.completed = serial
	}
}

func (d *Device) HasCompletedSerial(serial metadata.Serial) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return serial <= d.completed
}

func (d *Device) WaitForSerial(serial metadata.Serial, timeout time.Duration) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.lost {
		return core.ErrDeviceLost
	}
	if serial <= d.completed {
		return nil
	}
	if !d.CompleteOnWait {
		return core.ErrTimeout
	}
	d.completed = serial
	return nil
}

func (d *Device) WaitIdle() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.lost {
		return core.ErrDeviceLost
	}
	for _, s := range d.Submissions {
		if s.Serial > d.completed {
			d.completed = s.Serial
		}
	}
	return nil
}

// LastSubmission returns the most recent submission.
func (d *Device) LastSubmission() Submission {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.Submissions) == 0 {
		return Submission{}
	}
	return d.Submissions[len(d.Submissions)-1]
}

func (d *Device) Destroy() { d.Destroyed = true }
