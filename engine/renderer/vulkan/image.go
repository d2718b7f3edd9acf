package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/kiln/engine/core"
	"github.com/spaghettifunk/kiln/engine/renderer/backend"
	"github.com/spaghettifunk/kiln/engine/renderer/metadata"
)

type VulkanImage struct {
	device *VulkanDevice
	Handle vk.Image
	Memory vk.DeviceMemory
	desc   metadata.ImageDesc
	// Swapchain images are owned by their swapchain.
	owned bool
}

func (vi *VulkanImage) Desc() metadata.ImageDesc {
	return vi.desc
}

func (vi *VulkanImage) Destroy() {
	if !vi.owned {
		return
	}
	dev := vi.device.LogicalDevice
	if vi.Handle != vk.NullImage {
		vk.DestroyImage(dev, vi.Handle, nil)
		vi.Handle = vk.NullImage
	}
	if vi.Memory != vk.NullDeviceMemory {
		vk.FreeMemory(dev, vi.Memory, nil)
		vi.Memory = vk.NullDeviceMemory
	}
}

func imageCreate(device *VulkanDevice, desc metadata.ImageDesc) (*VulkanImage, error) {
	if desc.MipLevels == 0 {
		desc.MipLevels = 1
	}
	if desc.Layers == 0 {
		desc.Layers = 1
	}
	if desc.Samples == 0 {
		desc.Samples = metadata.SAMPLE_COUNT_1
	}

	imageCreateInfo := vk.ImageCreateInfo{
		SType:     vk.StructureTypeImageCreateInfo,
		ImageType: vk.ImageType2d,
		Extent: vk.Extent3D{
			Width:  desc.Extent.Width,
			Height: desc.Extent.Height,
			Depth:  1,
		},
		MipLevels:     desc.MipLevels,
		ArrayLayers:   desc.Layers,
		Format:        toVkFormat(desc.Format),
		Tiling:        vk.ImageTilingOptimal,
		InitialLayout: vk.ImageLayoutUndefined,
		Usage:         toVkImageUsage(desc.Usage),
		Samples:       toVkSamples(desc.Samples),
		SharingMode:   vk.SharingModeExclusive,
	}

	outImage := &VulkanImage{device: device, desc: desc, owned: true}
	dev := device.LogicalDevice
	if res := vk.CreateImage(dev, &imageCreateInfo, nil, &outImage.Handle); res != vk.Success {
		return nil, ResultToError("vkCreateImage", res)
	}

	var memoryRequirements vk.MemoryRequirements
	vk.GetImageMemoryRequirements(dev, outImage.Handle, &memoryRequirements)
	memoryRequirements.Deref()

	memory, err := device.allocate(memoryRequirements, vk.MemoryPropertyDeviceLocalBit)
	if err != nil {
		outImage.Destroy()
		return nil, err
	}
	outImage.Memory = memory

	if res := vk.BindImageMemory(dev, outImage.Handle, outImage.Memory, 0); res != vk.Success {
		outImage.Destroy()
		return nil, ResultToError("vkBindImageMemory", res)
	}
	return outImage, nil
}

type VulkanImageView struct {
	device vk.Device
	Handle vk.ImageView
	image  *VulkanImage
}

func (v *VulkanImageView) Image() backend.Image {
	return v.image
}

func (v *VulkanImageView) Destroy() {
	if v.Handle != vk.NullImageView {
		vk.DestroyImageView(v.device, v.Handle, nil)
		v.Handle = vk.NullImageView
	}
}

func imageViewCreate(device vk.Device, image *VulkanImage) (*VulkanImageView, error) {
	viewCreateInfo := vk.ImageViewCreateInfo{
		SType:    vk.StructureTypeImageViewCreateInfo,
		Image:    image.Handle,
		ViewType: vk.ImageViewType2d,
		Format:   toVkFormat(image.desc.Format),
		SubresourceRange: vk.ImageSubresourceRange{
			AspectMask:     aspectMask(image.desc.Format),
			BaseMipLevel:   0,
			LevelCount:     1,
			BaseArrayLayer: 0,
			LayerCount:     1,
		},
	}

	view := &VulkanImageView{device: device, image: image}
	if res := vk.CreateImageView(device, &viewCreateInfo, nil, &view.Handle); res != vk.Success {
		return nil, ResultToError("vkCreateImageView", res)
	}
	return view, nil
}

type VulkanBuffer struct {
	device *VulkanDevice
	Handle vk.Buffer
	Memory vk.DeviceMemory
	size   uint64
}

func (b *VulkanBuffer) Size() uint64 {
	return b.size
}

func (b *VulkanBuffer) Destroy() {
	dev := b.device.LogicalDevice
	if b.Handle != vk.NullBuffer {
		vk.DestroyBuffer(dev, b.Handle, nil)
		b.Handle = vk.NullBuffer
	}
	if b.Memory != vk.NullDeviceMemory {
		vk.FreeMemory(dev, b.Memory, nil)
		b.Memory = vk.NullDeviceMemory
	}
}

// bufferCreate allocates a host visible buffer. Uploads go through it
// directly; the engine has no staging allocator.
func bufferCreate(device *VulkanDevice, size uint64, usage metadata.BufferUsage) (*VulkanBuffer, error) {
	bufferCreateInfo := vk.BufferCreateInfo{
		SType:       vk.StructureTypeBufferCreateInfo,
		Size:        vk.DeviceSize(size),
		Usage:       toVkBufferUsage(usage),
		SharingMode: vk.SharingModeExclusive,
	}

	outBuffer := &VulkanBuffer{device: device, size: size}
	dev := device.LogicalDevice
	if res := vk.CreateBuffer(dev, &bufferCreateInfo, nil, &outBuffer.Handle); res != vk.Success {
		return nil, ResultToError("vkCreateBuffer", res)
	}

	var memoryRequirements vk.MemoryRequirements
	vk.GetBufferMemoryRequirements(dev, outBuffer.Handle, &memoryRequirements)
	memoryRequirements.Deref()

	memory, err := device.allocate(memoryRequirements, vk.MemoryPropertyHostVisibleBit|vk.MemoryPropertyHostCoherentBit)
	if err != nil {
		outBuffer.Destroy()
		return nil, err
	}
	outBuffer.Memory = memory

	if res := vk.BindBufferMemory(dev, outBuffer.Handle, outBuffer.Memory, 0); res != vk.Success {
		outBuffer.Destroy()
		return nil, ResultToError("vkBindBufferMemory", res)
	}
	return outBuffer, nil
}

// FindMemoryIndex returns the index of a memory type allowed by typeFilter
// that has all of propertyFlags, or -1.
func (vd *VulkanDevice) FindMemoryIndex(typeFilter uint32, propertyFlags vk.MemoryPropertyFlagBits) int32 {
	for i := uint32(0); i < vd.Memory.MemoryTypeCount; i++ {
		memoryType := vd.Memory.MemoryTypes[i]
		memoryType.Deref()
		if typeFilter&(1<<i) != 0 && memoryType.PropertyFlags&vk.MemoryPropertyFlags(propertyFlags) == vk.MemoryPropertyFlags(propertyFlags) {
			return int32(i)
		}
	}
	core.LogWarn("unable to find a suitable memory type")
	return -1
}

func (vd *VulkanDevice) allocate(reqs vk.MemoryRequirements, flags vk.MemoryPropertyFlagBits) (vk.DeviceMemory, error) {
	index := vd.FindMemoryIndex(reqs.MemoryTypeBits, flags)
	if index < 0 {
		return vk.NullDeviceMemory, fmt.Errorf("no memory type for flags %#x: %w", uint32(flags), core.ErrOutOfDeviceMemory)
	}
	allocateInfo := vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  reqs.Size,
		MemoryTypeIndex: uint32(index),
	}
	var memory vk.DeviceMemory
	if res := vk.AllocateMemory(vd.LogicalDevice, &allocateInfo, nil, &memory); res != vk.Success {
		return vk.NullDeviceMemory, ResultToError("vkAllocateMemory", res)
	}
	return memory, nil
}
