package vulkan

import (
	"fmt"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/kiln/engine/core"
	"github.com/spaghettifunk/kiln/engine/renderer/backend"
	"github.com/spaghettifunk/kiln/engine/renderer/metadata"
)

var (
	_ backend.Device        = (*VulkanDevice)(nil)
	_ backend.CommandPool   = (*VulkanCommandPool)(nil)
	_ backend.CommandBuffer = (*VulkanCommandBuffer)(nil)
	_ backend.Swapchain     = (*VulkanSwapchain)(nil)
	_ backend.Surface       = (*VulkanSurface)(nil)
	_ backend.Image         = (*VulkanImage)(nil)
	_ backend.ImageView     = (*VulkanImageView)(nil)
	_ backend.Buffer        = (*VulkanBuffer)(nil)
	_ backend.Framebuffer   = (*VulkanFramebuffer)(nil)
	_ backend.RenderPass    = (*VulkanRenderpass)(nil)
	_ backend.Semaphore     = (*VulkanSemaphore)(nil)
)

// VulkanDevice is the logical device with its single graphics and present
// queue. Every submission signals a fence; the fences are polled in
// submission order to learn which serials completed.
type VulkanDevice struct {
	PhysicalDevice     vk.PhysicalDevice
	LogicalDevice      vk.Device
	GraphicsQueueIndex uint32
	GraphicsQueue      vk.Queue

	Properties vk.PhysicalDeviceProperties
	Features   vk.PhysicalDeviceFeatures
	Memory     vk.PhysicalDeviceMemoryProperties

	locks        *VulkanLockPool
	renderpasses map[metadata.RenderPassDesc]*VulkanRenderpass

	serialMu  sync.Mutex
	fences    fenceRecycler
	inFlight  []inFlightFence
	completed metadata.Serial

	lost atomic.Bool
}

type VulkanPhysicalDeviceRequirements struct {
	DeviceExtensionNames []string
	DiscreteGPU          bool
}

// NewDevice picks a physical device that can render to and present on
// surface, and creates the logical device.
func NewDevice(instance *VulkanInstance, surface *VulkanSurface) (*VulkanDevice, error) {
	device := &VulkanDevice{
		locks:        NewVulkanLockPool(),
		renderpasses: make(map[metadata.RenderPassDesc]*VulkanRenderpass),
	}
	if err := device.selectPhysicalDevice(instance, surface); err != nil {
		return nil, err
	}

	core.LogInfo("Creating logical device...")

	queueCreateInfos := []vk.DeviceQueueCreateInfo{{
		SType:            vk.StructureTypeDeviceQueueCreateInfo,
		QueueFamilyIndex: device.GraphicsQueueIndex,
		QueueCount:       1,
		PQueuePriorities: []float32{1.0},
	}}

	extensionNames := []string{vk.KhrSwapchainExtensionName}
	if device.hasExtension("VK_KHR_portability_subset") {
		core.LogInfo("Adding required extension 'VK_KHR_portability_subset'.")
		extensionNames = append(extensionNames, "VK_KHR_portability_subset")
	}

	deviceCreateInfo := vk.DeviceCreateInfo{
		SType:                   vk.StructureTypeDeviceCreateInfo,
		QueueCreateInfoCount:    uint32(len(queueCreateInfos)),
		PQueueCreateInfos:       queueCreateInfos,
		PEnabledFeatures:        []vk.PhysicalDeviceFeatures{{}},
		EnabledExtensionCount:   uint32(len(extensionNames)),
		PpEnabledExtensionNames: VulkanSafeStrings(extensionNames),
	}

	if res := vk.CreateDevice(device.PhysicalDevice, &deviceCreateInfo, nil, &device.LogicalDevice); res != vk.Success {
		return nil, ResultToError("vkCreateDevice", res)
	}
	core.LogInfo("Logical device created.")

	vk.GetDeviceQueue(device.LogicalDevice, device.GraphicsQueueIndex, 0, &device.GraphicsQueue)
	device.locks.SetQueueFamily(device.GraphicsQueueIndex)
	device.fences.device = device.LogicalDevice
	return device, nil
}

func (vd *VulkanDevice) selectPhysicalDevice(instance *VulkanInstance, surface *VulkanSurface) error {
	var physicalDeviceCount uint32
	if res := vk.EnumeratePhysicalDevices(instance.Handle, &physicalDeviceCount, nil); res != vk.Success {
		return ResultToError("vkEnumeratePhysicalDevices", res)
	}
	if physicalDeviceCount == 0 {
		return fmt.Errorf("no devices which support Vulkan were found: %w", core.ErrNotInitialized)
	}
	physicalDevices := make([]vk.PhysicalDevice, physicalDeviceCount)
	if res := vk.EnumeratePhysicalDevices(instance.Handle, &physicalDeviceCount, physicalDevices); res != vk.Success {
		return ResultToError("vkEnumeratePhysicalDevices", res)
	}

	requirements := VulkanPhysicalDeviceRequirements{
		DeviceExtensionNames: []string{vk.KhrSwapchainExtensionName},
		DiscreteGPU:          runtime.GOOS != "darwin",
	}

	type candidate struct {
		device     vk.PhysicalDevice
		properties vk.PhysicalDeviceProperties
		family     uint32
	}
	var candidates []candidate
	for _, physicalDevice := range physicalDevices {
		var properties vk.PhysicalDeviceProperties
		vk.GetPhysicalDeviceProperties(physicalDevice, &properties)
		properties.Deref()

		family, ok := PhysicalDeviceMeetsRequirements(physicalDevice, surface.Handle, &properties, &requirements)
		if ok {
			candidates = append(candidates, candidate{physicalDevice, properties, family})
		}
	}
	if len(candidates) == 0 {
		return fmt.Errorf("no physical devices were found which meet the requirements: %w", core.ErrNotInitialized)
	}
	// Discrete GPUs first when one is preferred, enumeration order otherwise.
	sort.SliceStable(candidates, func(i, j int) bool {
		return requirements.DiscreteGPU &&
			candidates[i].properties.DeviceType == vk.PhysicalDeviceTypeDiscreteGpu &&
			candidates[j].properties.DeviceType != vk.PhysicalDeviceTypeDiscreteGpu
	})

	selected := candidates[0]
	vd.PhysicalDevice = selected.device
	vd.GraphicsQueueIndex = selected.family
	vd.Properties = selected.properties
	vk.GetPhysicalDeviceFeatures(vd.PhysicalDevice, &vd.Features)
	vd.Features.Deref()
	vk.GetPhysicalDeviceMemoryProperties(vd.PhysicalDevice, &vd.Memory)
	vd.Memory.Deref()

	core.LogInfo("Selected device: '%s' (%s).", cString(vd.Properties.DeviceName[:]), deviceTypeName(vd.Properties.DeviceType))
	core.LogInfo(
		"GPU Driver version: %d.%d.%d",
		vk.Version.Major(vk.Version(vd.Properties.DriverVersion)),
		vk.Version.Minor(vk.Version(vd.Properties.DriverVersion)),
		vk.Version.Patch(vk.Version(vd.Properties.DriverVersion)),
	)
	core.LogInfo(
		"Vulkan API version: %d.%d.%d",
		vk.Version.Major(vk.Version(vd.Properties.ApiVersion)),
		vk.Version.Minor(vk.Version(vd.Properties.ApiVersion)),
		vk.Version.Patch(vk.Version(vd.Properties.ApiVersion)),
	)
	for j := uint32(0); j < vd.Memory.MemoryHeapCount; j++ {
		heap := vd.Memory.MemoryHeaps[j]
		heap.Deref()
		memorySizeGib := float64(heap.Size) / 1024.0 / 1024.0 / 1024.0
		if vk.MemoryHeapFlagBits(heap.Flags)&vk.MemoryHeapDeviceLocalBit != 0 {
			core.LogInfo("Local GPU memory: %.2f GiB", memorySizeGib)
		} else {
			core.LogInfo("Shared System memory: %.2f GiB", memorySizeGib)
		}
	}
	return nil
}

func deviceTypeName(t vk.PhysicalDeviceType) string {
	switch t {
	case vk.PhysicalDeviceTypeIntegratedGpu:
		return "integrated"
	case vk.PhysicalDeviceTypeDiscreteGpu:
		return "discrete"
	case vk.PhysicalDeviceTypeVirtualGpu:
		return "virtual"
	case vk.PhysicalDeviceTypeCpu:
		return "cpu"
	}
	return "unknown"
}

// PhysicalDeviceMeetsRequirements returns the queue family that supports
// both graphics and presentation on surface.
func PhysicalDeviceMeetsRequirements(device vk.PhysicalDevice, surface vk.Surface, properties *vk.PhysicalDeviceProperties, requirements *VulkanPhysicalDeviceRequirements) (uint32, bool) {
	name := cString(properties.DeviceName[:])

	var queueFamilyCount uint32
	vk.GetPhysicalDeviceQueueFamilyProperties(device, &queueFamilyCount, nil)
	queueFamilies := make([]vk.QueueFamilyProperties, queueFamilyCount)
	vk.GetPhysicalDeviceQueueFamilyProperties(device, &queueFamilyCount, queueFamilies)

	family, found := uint32(0), false
	for i := range queueFamilies {
		queueFamilies[i].Deref()
		if vk.QueueFlagBits(queueFamilies[i].QueueFlags)&vk.QueueGraphicsBit == 0 {
			continue
		}
		var supportsPresent vk.Bool32 = vk.False
		if res := vk.GetPhysicalDeviceSurfaceSupport(device, uint32(i), surface, &supportsPresent); res != vk.Success {
			continue
		}
		if supportsPresent == vk.True {
			family, found = uint32(i), true
			break
		}
	}
	if !found {
		core.LogInfo("Device '%s' has no graphics queue that can present, skipping.", name)
		return 0, false
	}

	support, err := DeviceQuerySwapchainSupport(device, surface)
	if err != nil || len(support.Formats) == 0 || len(support.PresentModes) == 0 {
		core.LogInfo("Required swapchain support not present on '%s', skipping device.", name)
		return 0, false
	}

	available := deviceExtensions(device)
	for _, required := range requirements.DeviceExtensionNames {
		if !available[required] {
			core.LogInfo("Required extension not found: '%s', skipping device '%s'.", required, name)
			return 0, false
		}
	}
	core.LogDebug("Device '%s' meets the requirements, queue family %d.", name, family)
	return family, true
}

func deviceExtensions(device vk.PhysicalDevice) map[string]bool {
	var availableExtensionCount uint32
	if res := vk.EnumerateDeviceExtensionProperties(device, "", &availableExtensionCount, nil); res != vk.Success {
		return nil
	}
	availableExtensions := make([]vk.ExtensionProperties, availableExtensionCount)
	if res := vk.EnumerateDeviceExtensionProperties(device, "", &availableExtensionCount, availableExtensions); res != vk.Success {
		return nil
	}
	names := make(map[string]bool, len(availableExtensions))
	for i := range availableExtensions {
		availableExtensions[i].Deref()
		names[cString(availableExtensions[i].ExtensionName[:])] = true
	}
	return names
}

func (vd *VulkanDevice) hasExtension(name string) bool {
	return deviceExtensions(vd.PhysicalDevice)[name]
}

// checkLost latches the device lost state once any call reported it.
func (vd *VulkanDevice) checkLost(err error) {
	if core.IsDeviceLost(err) && !vd.lost.Swap(true) {
		core.LogError("Vulkan device lost")
	}
}

func (vd *VulkanDevice) CreateCommandPool() (backend.CommandPool, error) {
	var pool *VulkanCommandPool
	err := vd.locks.SafeCall(CommandPoolManagement, func() error {
		var err error
		pool, err = commandPoolCreate(vd.LogicalDevice, vd.GraphicsQueueIndex)
		return err
	})
	if err != nil {
		return nil, err
	}
	return pool, nil
}

func (vd *VulkanDevice) GetCompatibleRenderPass(desc metadata.RenderPassDesc) (backend.RenderPass, error) {
	var rp *VulkanRenderpass
	err := vd.locks.SafeCall(RenderpassManagement, func() error {
		if cached, ok := vd.renderpasses[desc]; ok {
			rp = cached
			return nil
		}
		created, err := renderpassCreate(vd.LogicalDevice, desc)
		if err != nil {
			return err
		}
		core.LogDebug("render pass created for %s", desc)
		vd.renderpasses[desc] = created
		rp = created
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rp, nil
}

func (vd *VulkanDevice) CreateFramebuffer(rp backend.RenderPass, views []backend.ImageView, extent metadata.Extent2D) (backend.Framebuffer, error) {
	vViews := make([]*VulkanImageView, len(views))
	for i, v := range views {
		vViews[i] = v.(*VulkanImageView)
	}
	fb, err := framebufferCreate(vd.LogicalDevice, rp.(*VulkanRenderpass), extent, vViews)
	if err != nil {
		return nil, err
	}
	return fb, nil
}

func (vd *VulkanDevice) CreateSemaphore() (backend.Semaphore, error) {
	sem, err := newSemaphore(vd.LogicalDevice)
	if err != nil {
		return nil, err
	}
	return sem, nil
}

func (vd *VulkanDevice) CreateImage(desc metadata.ImageDesc) (backend.Image, error) {
	img, err := imageCreate(vd, desc)
	if err != nil {
		return nil, err
	}
	return img, nil
}

func (vd *VulkanDevice) CreateImageView(img backend.Image) (backend.ImageView, error) {
	view, err := imageViewCreate(vd.LogicalDevice, img.(*VulkanImage))
	if err != nil {
		return nil, err
	}
	return view, nil
}

func (vd *VulkanDevice) CreateBuffer(size uint64, usage metadata.BufferUsage) (backend.Buffer, error) {
	buf, err := bufferCreate(vd, size, usage)
	if err != nil {
		return nil, err
	}
	return buf, nil
}

func (vd *VulkanDevice) Submit(info backend.SubmitInfo) error {
	if vd.lost.Load() {
		return core.ErrDeviceLost
	}

	commandBuffers := make([]vk.CommandBuffer, len(info.CommandBuffers))
	for i, cb := range info.CommandBuffers {
		commandBuffers[i] = cb.(*VulkanCommandBuffer).Handle
	}
	waits := semaphoreHandles(info.WaitSemaphores)
	waitStages := make([]vk.PipelineStageFlags, len(waits))
	for i := range waitStages {
		waitStages[i] = vk.PipelineStageFlags(vk.PipelineStageAllCommandsBit)
	}
	signals := semaphoreHandles(info.SignalSemaphores)

	submitInfo := vk.SubmitInfo{
		SType:                vk.StructureTypeSubmitInfo,
		WaitSemaphoreCount:   uint32(len(waits)),
		PWaitSemaphores:      waits,
		PWaitDstStageMask:    waitStages,
		CommandBufferCount:   uint32(len(commandBuffers)),
		PCommandBuffers:      commandBuffers,
		SignalSemaphoreCount: uint32(len(signals)),
		PSignalSemaphores:    signals,
	}

	vd.serialMu.Lock()
	defer vd.serialMu.Unlock()

	fence, err := vd.fences.get()
	if err != nil {
		return err
	}
	err = vd.locks.SafeQueueCall(vd.GraphicsQueueIndex, func() error {
		return ResultToError("vkQueueSubmit", vk.QueueSubmit(vd.GraphicsQueue, 1, []vk.SubmitInfo{submitInfo}, fence.Handle))
	})
	if err != nil {
		// The fence was never handed to the queue.
		vd.fences.free = append(vd.fences.free, fence)
		vd.checkLost(err)
		return err
	}
	vd.inFlight = append(vd.inFlight, inFlightFence{serial: info.Serial, fence: fence})
	return nil
}

// poll retires every in flight fence that signaled, in submission order.
// serialMu must be held.
func (vd *VulkanDevice) poll() {
	for len(vd.inFlight) > 0 {
		front := vd.inFlight[0]
		res := vk.GetFenceStatus(vd.LogicalDevice, front.fence.Handle)
		if res != vk.Success {
			if res == vk.ErrorDeviceLost {
				vd.checkLost(ResultToError("vkGetFenceStatus", res))
			}
			return
		}
		vd.completed = front.serial
		vd.inFlight = vd.inFlight[1:]
		if front.fence.retire() {
			vd.fences.recycle(front.fence)
		}
	}
}

func (vd *VulkanDevice) HasCompletedSerial(serial metadata.Serial) bool {
	vd.serialMu.Lock()
	defer vd.serialMu.Unlock()
	vd.poll()
	return serial <= vd.completed
}

// WaitForSerial pins the fence of serial and waits on it without holding
// serialMu, so other contexts keep submitting and polling meanwhile.
func (vd *VulkanDevice) WaitForSerial(serial metadata.Serial, timeout time.Duration) error {
	if vd.lost.Load() {
		return core.ErrDeviceLost
	}
	vd.serialMu.Lock()
	vd.poll()
	if serial <= vd.completed {
		vd.serialMu.Unlock()
		return nil
	}
	i := sort.Search(len(vd.inFlight), func(i int) bool {
		return vd.inFlight[i].serial >= serial
	})
	if i == len(vd.inFlight) {
		vd.serialMu.Unlock()
		core.Assert(false, "waiting for serial %d that was never submitted", serial)
	}
	fence := vd.inFlight[i].fence
	fence.pin()
	vd.serialMu.Unlock()

	res := vk.WaitForFences(vd.LogicalDevice, 1, []vk.Fence{fence.Handle}, vk.True, timeoutNanos(timeout))

	vd.serialMu.Lock()
	defer vd.serialMu.Unlock()
	if fence.unpin() {
		vd.fences.recycle(fence)
	}
	if err := ResultToError("vkWaitForFences", res); err != nil {
		vd.checkLost(err)
		return err
	}
	vd.poll()
	return nil
}

func (vd *VulkanDevice) WaitIdle() error {
	if vd.lost.Load() {
		return core.ErrDeviceLost
	}
	err := vd.locks.SafeQueueCall(vd.GraphicsQueueIndex, func() error {
		return ResultToError("vkQueueWaitIdle", vk.QueueWaitIdle(vd.GraphicsQueue))
	})
	if err != nil {
		vd.checkLost(err)
		return err
	}
	vd.serialMu.Lock()
	vd.poll()
	vd.serialMu.Unlock()
	return nil
}

func (vd *VulkanDevice) Destroy() {
	if vd.LogicalDevice == nil {
		return
	}
	vk.DeviceWaitIdle(vd.LogicalDevice)

	vd.serialMu.Lock()
	for _, f := range vd.inFlight {
		f.fence.destroy(vd.LogicalDevice)
	}
	vd.inFlight = nil
	vd.fences.destroy()
	vd.serialMu.Unlock()

	core.LogInfo("Destroying %d cached render passes...", len(vd.renderpasses))
	for desc, rp := range vd.renderpasses {
		rp.destroy(vd.LogicalDevice)
		delete(vd.renderpasses, desc)
	}

	core.LogInfo("Destroying logical device...")
	vk.DestroyDevice(vd.LogicalDevice, nil)
	vd.LogicalDevice = nil
	vd.GraphicsQueue = nil
	vd.PhysicalDevice = nil
}
