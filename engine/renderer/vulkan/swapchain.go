package vulkan

import (
	"time"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/kiln/engine/core"
	"github.com/spaghettifunk/kiln/engine/renderer/backend"
	"github.com/spaghettifunk/kiln/engine/renderer/metadata"
)

// VulkanSurface wraps the VkSurfaceKHR the windowing layer created.
type VulkanSurface struct {
	instance vk.Instance
	Handle   vk.Surface
}

// NewSurface takes ownership of a surface created outside of Vulkan's Go
// bindings, e.g. by glfw.
func NewSurface(instance *VulkanInstance, handle uintptr) *VulkanSurface {
	return &VulkanSurface{
		instance: instance.Handle,
		Handle:   vk.SurfaceFromPointer(handle),
	}
}

func (s *VulkanSurface) Destroy() {
	if s.Handle != vk.NullSurface {
		vk.DestroySurface(s.instance, s.Handle, nil)
		s.Handle = vk.NullSurface
	}
}

type VulkanSwapchainSupportInfo struct {
	Capabilities vk.SurfaceCapabilities
	Formats      []vk.SurfaceFormat
	PresentModes []vk.PresentMode
}

func DeviceQuerySwapchainSupport(physicalDevice vk.PhysicalDevice, surface vk.Surface) (*VulkanSwapchainSupportInfo, error) {
	supportInfo := &VulkanSwapchainSupportInfo{}
	if res := vk.GetPhysicalDeviceSurfaceCapabilities(physicalDevice, surface, &supportInfo.Capabilities); res != vk.Success {
		return nil, ResultToError("vkGetPhysicalDeviceSurfaceCapabilitiesKHR", res)
	}
	supportInfo.Capabilities.Deref()
	supportInfo.Capabilities.CurrentExtent.Deref()
	supportInfo.Capabilities.MinImageExtent.Deref()
	supportInfo.Capabilities.MaxImageExtent.Deref()

	var formatCount uint32
	if res := vk.GetPhysicalDeviceSurfaceFormats(physicalDevice, surface, &formatCount, nil); res != vk.Success {
		return nil, ResultToError("vkGetPhysicalDeviceSurfaceFormatsKHR", res)
	}
	if formatCount != 0 {
		supportInfo.Formats = make([]vk.SurfaceFormat, formatCount)
		if res := vk.GetPhysicalDeviceSurfaceFormats(physicalDevice, surface, &formatCount, supportInfo.Formats); res != vk.Success {
			return nil, ResultToError("vkGetPhysicalDeviceSurfaceFormatsKHR", res)
		}
		for i := range supportInfo.Formats {
			supportInfo.Formats[i].Deref()
		}
	}

	var presentModeCount uint32
	if res := vk.GetPhysicalDeviceSurfacePresentModes(physicalDevice, surface, &presentModeCount, nil); res != vk.Success {
		return nil, ResultToError("vkGetPhysicalDeviceSurfacePresentModesKHR", res)
	}
	if presentModeCount != 0 {
		supportInfo.PresentModes = make([]vk.PresentMode, presentModeCount)
		if res := vk.GetPhysicalDeviceSurfacePresentModes(physicalDevice, surface, &presentModeCount, supportInfo.PresentModes); res != vk.Success {
			return nil, ResultToError("vkGetPhysicalDeviceSurfacePresentModesKHR", res)
		}
	}
	return supportInfo, nil
}

func (vd *VulkanDevice) SurfaceCapabilities(surface backend.Surface) (backend.SurfaceCapabilities, error) {
	support, err := DeviceQuerySwapchainSupport(vd.PhysicalDevice, surface.(*VulkanSurface).Handle)
	if err != nil {
		return backend.SurfaceCapabilities{}, err
	}
	caps := support.Capabilities
	out := backend.SurfaceCapabilities{
		MinImageCount: caps.MinImageCount,
		MaxImageCount: caps.MaxImageCount,
		CurrentExtent: fromVkExtent(caps.CurrentExtent),
		MinExtent:     fromVkExtent(caps.MinImageExtent),
		MaxExtent:     fromVkExtent(caps.MaxImageExtent),
	}
	for _, f := range support.Formats {
		// Only the sRGB nonlinear color space is presented.
		if f.ColorSpace != vk.ColorSpaceSrgbNonlinear {
			continue
		}
		if format := fromVkFormat(f.Format); format != metadata.FORMAT_UNDEFINED {
			out.Formats = append(out.Formats, format)
		}
	}
	for _, m := range support.PresentModes {
		if mode, ok := fromVkPresentMode(m); ok {
			out.PresentModes = append(out.PresentModes, mode)
		}
	}
	return out, nil
}

type VulkanSwapchain struct {
	device *VulkanDevice
	Handle vk.Swapchain
	images []backend.Image
	extent metadata.Extent2D
	format metadata.Format
}

func (vd *VulkanDevice) CreateSwapchain(surface backend.Surface, desc backend.SwapchainDesc, old backend.Swapchain) (backend.Swapchain, error) {
	swapchainCreateInfo := vk.SwapchainCreateInfo{
		SType:            vk.StructureTypeSwapchainCreateInfo,
		Surface:          surface.(*VulkanSurface).Handle,
		MinImageCount:    desc.MinImageCount,
		ImageFormat:      toVkFormat(desc.Format),
		ImageColorSpace:  vk.ColorSpaceSrgbNonlinear,
		ImageExtent:      toVkExtent(desc.Extent),
		ImageArrayLayers: 1,
		ImageUsage:       vk.ImageUsageFlags(vk.ImageUsageColorAttachmentBit | vk.ImageUsageTransferDstBit),
		// Graphics and present share the one queue family the device uses.
		ImageSharingMode: vk.SharingModeExclusive,
		PreTransform:     vk.SurfaceTransformIdentityBit,
		CompositeAlpha:   vk.CompositeAlphaOpaqueBit,
		PresentMode:      toVkPresentMode(desc.PresentMode),
		Clipped:          vk.True,
		OldSwapchain:     vk.NullSwapchain,
	}
	if old != nil {
		swapchainCreateInfo.OldSwapchain = old.(*VulkanSwapchain).Handle
	}

	swapchain := &VulkanSwapchain{
		device: vd,
		extent: desc.Extent,
		format: desc.Format,
	}
	err := vd.locks.SafeCall(SwapchainManagement, func() error {
		if res := vk.CreateSwapchain(vd.LogicalDevice, &swapchainCreateInfo, nil, &swapchain.Handle); res != vk.Success {
			return ResultToError("vkCreateSwapchainKHR", res)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	var imageCount uint32
	if res := vk.GetSwapchainImages(vd.LogicalDevice, swapchain.Handle, &imageCount, nil); res != vk.Success {
		swapchain.Destroy()
		return nil, ResultToError("vkGetSwapchainImagesKHR", res)
	}
	handles := make([]vk.Image, imageCount)
	if res := vk.GetSwapchainImages(vd.LogicalDevice, swapchain.Handle, &imageCount, handles); res != vk.Success {
		swapchain.Destroy()
		return nil, ResultToError("vkGetSwapchainImagesKHR", res)
	}

	imageDesc := metadata.ImageDesc{
		Extent:    desc.Extent,
		Format:    desc.Format,
		Samples:   metadata.SAMPLE_COUNT_1,
		Usage:     metadata.IMAGE_USAGE_COLOR_ATTACHMENT | metadata.IMAGE_USAGE_TRANSFER_DST,
		MipLevels: 1,
		Layers:    1,
	}
	swapchain.images = make([]backend.Image, imageCount)
	for i, h := range handles {
		swapchain.images[i] = &VulkanImage{device: vd, Handle: h, desc: imageDesc}
	}
	core.LogDebug("swapchain created: %dx%d, %d images, %s", desc.Extent.Width, desc.Extent.Height, imageCount, desc.PresentMode)
	return swapchain, nil
}

func (vs *VulkanSwapchain) Images() []backend.Image {
	return vs.images
}

func (vs *VulkanSwapchain) Extent() metadata.Extent2D {
	return vs.extent
}

func (vs *VulkanSwapchain) Format() metadata.Format {
	return vs.format
}

func (vs *VulkanSwapchain) AcquireNextImage(timeout time.Duration, signal backend.Semaphore) (uint32, error) {
	semaphore := vk.NullSemaphore
	if signal != nil {
		semaphore = signal.(*VulkanSemaphore).Handle
	}
	var imageIndex uint32
	result := vk.AcquireNextImage(vs.device.LogicalDevice, vs.Handle, timeoutNanos(timeout), semaphore, vk.NullFence, &imageIndex)
	if err := ResultToError("vkAcquireNextImageKHR", result); err != nil {
		vs.device.checkLost(err)
		return 0, err
	}
	return imageIndex, nil
}

func (vs *VulkanSwapchain) Present(waits []backend.Semaphore, imageIndex uint32) error {
	waitHandles := semaphoreHandles(waits)
	presentInfo := vk.PresentInfo{
		SType:              vk.StructureTypePresentInfo,
		WaitSemaphoreCount: uint32(len(waitHandles)),
		PWaitSemaphores:    waitHandles,
		SwapchainCount:     1,
		PSwapchains:        []vk.Swapchain{vs.Handle},
		PImageIndices:      []uint32{imageIndex},
	}

	err := vs.device.locks.SafeQueueCall(vs.device.GraphicsQueueIndex, func() error {
		return ResultToError("vkQueuePresentKHR", vk.QueuePresent(vs.device.GraphicsQueue, &presentInfo))
	})
	vs.device.checkLost(err)
	return err
}

func (vs *VulkanSwapchain) Destroy() {
	if vs.Handle == vk.NullSwapchain {
		return
	}
	vs.device.locks.SafeCall(SwapchainManagement, func() error {
		vk.DestroySwapchain(vs.device.LogicalDevice, vs.Handle, nil)
		return nil
	})
	vs.Handle = vk.NullSwapchain
	vs.images = nil
}
