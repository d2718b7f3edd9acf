package vulkan

import (
	"unsafe"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/kiln/engine/core"
	"github.com/spaghettifunk/kiln/engine/renderer/backend"
	"github.com/spaghettifunk/kiln/engine/renderer/metadata"
)

type VulkanCommandBufferState int

const (
	COMMAND_BUFFER_STATE_READY VulkanCommandBufferState = iota
	COMMAND_BUFFER_STATE_RECORDING
	COMMAND_BUFFER_STATE_IN_RENDER_PASS
	COMMAND_BUFFER_STATE_RECORDING_ENDED
	COMMAND_BUFFER_STATE_NOT_ALLOCATED
)

// VulkanCommandPool belongs to a single context and is only used from the
// goroutine that owns it.
type VulkanCommandPool struct {
	device vk.Device
	Handle vk.CommandPool
}

func commandPoolCreate(device vk.Device, queueFamilyIndex uint32) (*VulkanCommandPool, error) {
	poolCreateInfo := vk.CommandPoolCreateInfo{
		SType:            vk.StructureTypeCommandPoolCreateInfo,
		QueueFamilyIndex: queueFamilyIndex,
		Flags:            vk.CommandPoolCreateFlags(vk.CommandPoolCreateResetCommandBufferBit),
	}
	pool := &VulkanCommandPool{device: device}
	if res := vk.CreateCommandPool(device, &poolCreateInfo, nil, &pool.Handle); res != vk.Success {
		return nil, ResultToError("vkCreateCommandPool", res)
	}
	return pool, nil
}

func (p *VulkanCommandPool) AllocatePrimary() (backend.CommandBuffer, error) {
	return p.allocate(true)
}

func (p *VulkanCommandPool) AllocateSecondary() (backend.CommandBuffer, error) {
	return p.allocate(false)
}

func (p *VulkanCommandPool) allocate(isPrimary bool) (*VulkanCommandBuffer, error) {
	level := vk.CommandBufferLevelSecondary
	if isPrimary {
		level = vk.CommandBufferLevelPrimary
	}

	allocateInfo := vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		CommandPool:        p.Handle,
		CommandBufferCount: 1,
		Level:              level,
	}

	handles := make([]vk.CommandBuffer, 1)
	if res := vk.AllocateCommandBuffers(p.device, &allocateInfo, handles); res != vk.Success {
		return nil, ResultToError("vkAllocateCommandBuffers", res)
	}
	return &VulkanCommandBuffer{
		Handle:    handles[0],
		State:     COMMAND_BUFFER_STATE_READY,
		IsPrimary: isPrimary,
	}, nil
}

func (p *VulkanCommandPool) Free(cbs ...backend.CommandBuffer) {
	if len(cbs) == 0 {
		return
	}
	handles := make([]vk.CommandBuffer, 0, len(cbs))
	for _, cb := range cbs {
		v := cb.(*VulkanCommandBuffer)
		if v.State == COMMAND_BUFFER_STATE_NOT_ALLOCATED {
			continue
		}
		handles = append(handles, v.Handle)
		v.Handle = nil
		v.State = COMMAND_BUFFER_STATE_NOT_ALLOCATED
	}
	if len(handles) > 0 {
		vk.FreeCommandBuffers(p.device, p.Handle, uint32(len(handles)), handles)
	}
}

func (p *VulkanCommandPool) Destroy() {
	if p.Handle != vk.NullCommandPool {
		vk.DestroyCommandPool(p.device, p.Handle, nil)
		p.Handle = vk.NullCommandPool
	}
}

type VulkanCommandBuffer struct {
	Handle vk.CommandBuffer
	// Command buffer state.
	State     VulkanCommandBufferState
	IsPrimary bool
	// Render pass of the active BeginRenderPass, used to lay out clears.
	renderpass *VulkanRenderpass
}

func (v *VulkanCommandBuffer) Begin(inheritance *backend.Inheritance) error {
	vBeginInfo := vk.CommandBufferBeginInfo{
		SType: vk.StructureTypeCommandBufferBeginInfo,
		Flags: vk.CommandBufferUsageFlags(vk.CommandBufferUsageOneTimeSubmitBit),
	}

	if !v.IsPrimary {
		inheritanceInfo := vk.CommandBufferInheritanceInfo{
			SType: vk.StructureTypeCommandBufferInheritanceInfo,
		}
		if inheritance != nil {
			inheritanceInfo.RenderPass = inheritance.RenderPass.(*VulkanRenderpass).Handle
			inheritanceInfo.Subpass = inheritance.Subpass
			if inheritance.Framebuffer != nil {
				inheritanceInfo.Framebuffer = inheritance.Framebuffer.(*VulkanFramebuffer).Handle
			}
			vBeginInfo.Flags |= vk.CommandBufferUsageFlags(vk.CommandBufferUsageRenderPassContinueBit)
		}
		vBeginInfo.PInheritanceInfo = []vk.CommandBufferInheritanceInfo{inheritanceInfo}
	}

	if res := vk.BeginCommandBuffer(v.Handle, &vBeginInfo); res != vk.Success {
		return ResultToError("vkBeginCommandBuffer", res)
	}
	v.State = COMMAND_BUFFER_STATE_RECORDING
	return nil
}

func (v *VulkanCommandBuffer) End() error {
	if res := vk.EndCommandBuffer(v.Handle); res != vk.Success {
		return ResultToError("vkEndCommandBuffer", res)
	}
	v.State = COMMAND_BUFFER_STATE_RECORDING_ENDED
	return nil
}

func (v *VulkanCommandBuffer) Reset() error {
	if res := vk.ResetCommandBuffer(v.Handle, 0); res != vk.Success {
		return ResultToError("vkResetCommandBuffer", res)
	}
	v.State = COMMAND_BUFFER_STATE_READY
	return nil
}

func (v *VulkanCommandBuffer) BeginRenderPass(rp backend.RenderPass, fb backend.Framebuffer, area metadata.Rect, clears []metadata.ClearValue) {
	core.Assert(v.State == COMMAND_BUFFER_STATE_RECORDING, "render pass begun outside of recording")
	renderpass := rp.(*VulkanRenderpass)
	clearValues := toVkClearValues(renderpass.desc, clears)

	beginInfo := vk.RenderPassBeginInfo{
		SType:           vk.StructureTypeRenderPassBeginInfo,
		RenderPass:      renderpass.Handle,
		Framebuffer:     fb.(*VulkanFramebuffer).Handle,
		RenderArea:      toVkRect(area),
		ClearValueCount: uint32(len(clearValues)),
		PClearValues:    clearValues,
	}

	vk.CmdBeginRenderPass(v.Handle, &beginInfo, vk.SubpassContentsSecondaryCommandBuffers)
	v.renderpass = renderpass
	v.State = COMMAND_BUFFER_STATE_IN_RENDER_PASS
}

func (v *VulkanCommandBuffer) EndRenderPass() {
	vk.CmdEndRenderPass(v.Handle)
	v.renderpass = nil
	v.State = COMMAND_BUFFER_STATE_RECORDING
}

func (v *VulkanCommandBuffer) ExecuteCommands(secondaries ...backend.CommandBuffer) {
	if len(secondaries) == 0 {
		return
	}
	handles := make([]vk.CommandBuffer, len(secondaries))
	for i, cb := range secondaries {
		handles[i] = cb.(*VulkanCommandBuffer).Handle
	}
	vk.CmdExecuteCommands(v.Handle, uint32(len(handles)), handles)
}

func (v *VulkanCommandBuffer) Draw(vertexCount, instanceCount, firstVertex, firstInstance uint32) {
	vk.CmdDraw(v.Handle, vertexCount, instanceCount, firstVertex, firstInstance)
}

func (v *VulkanCommandBuffer) DrawIndexed(indexCount, instanceCount, firstIndex uint32, vertexOffset int32, firstInstance uint32) {
	vk.CmdDrawIndexed(v.Handle, indexCount, instanceCount, firstIndex, vertexOffset, firstInstance)
}

func (v *VulkanCommandBuffer) CopyBuffer(src, dst backend.Buffer, regions ...backend.BufferCopy) {
	copies := make([]vk.BufferCopy, len(regions))
	for i, r := range regions {
		copies[i] = vk.BufferCopy{
			SrcOffset: vk.DeviceSize(r.SrcOffset),
			DstOffset: vk.DeviceSize(r.DstOffset),
			Size:      vk.DeviceSize(r.Size),
		}
	}
	vk.CmdCopyBuffer(v.Handle, src.(*VulkanBuffer).Handle, dst.(*VulkanBuffer).Handle, uint32(len(copies)), copies)
}

// PipelineBarrier records one barrier covering every image transition. The
// stage masks are the union of what the old and new layouts need.
func (v *VulkanCommandBuffer) PipelineBarrier(barriers ...backend.ImageBarrier) {
	if len(barriers) == 0 {
		return
	}
	var srcStages, dstStages vk.PipelineStageFlags
	imageBarriers := make([]vk.ImageMemoryBarrier, len(barriers))
	for i, b := range barriers {
		img := b.Image.(*VulkanImage)
		srcAccess, srcStage := layoutAccess(b.OldLayout)
		dstAccess, dstStage := layoutAccess(b.NewLayout)
		srcStages |= srcStage
		dstStages |= dstStage
		imageBarriers[i] = vk.ImageMemoryBarrier{
			SType:               vk.StructureTypeImageMemoryBarrier,
			SrcAccessMask:       srcAccess,
			DstAccessMask:       dstAccess,
			OldLayout:           toVkLayout(b.OldLayout),
			NewLayout:           toVkLayout(b.NewLayout),
			SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
			DstQueueFamilyIndex: vk.QueueFamilyIgnored,
			Image:               img.Handle,
			SubresourceRange: vk.ImageSubresourceRange{
				AspectMask:     aspectMask(img.desc.Format),
				BaseMipLevel:   0,
				LevelCount:     img.desc.MipLevels,
				BaseArrayLayer: 0,
				LayerCount:     img.desc.Layers,
			},
		}
	}
	vk.CmdPipelineBarrier(v.Handle, srcStages, dstStages, 0, 0, nil, 0, nil, uint32(len(imageBarriers)), imageBarriers)
}

func (v *VulkanCommandBuffer) ClearColorImage(img backend.Image, layout metadata.ImageLayout, color [4]float32) {
	vImage := img.(*VulkanImage)
	var clearColor vk.ClearColorValue
	*(*[4]float32)(unsafe.Pointer(&clearColor)) = color

	subresource := vk.ImageSubresourceRange{
		AspectMask: vk.ImageAspectFlags(vk.ImageAspectColorBit),
		LevelCount: vImage.desc.MipLevels,
		LayerCount: vImage.desc.Layers,
	}
	vk.CmdClearColorImage(v.Handle, vImage.Handle, toVkLayout(layout), &clearColor, 1, []vk.ImageSubresourceRange{subresource})
}
