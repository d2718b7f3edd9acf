package vulkan

import (
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/kiln/engine/renderer/metadata"
)

// VulkanRenderpass is a single subpass render pass built from a
// RenderPassDesc. Instances live in the device cache until the device is
// destroyed.
type VulkanRenderpass struct {
	Handle vk.RenderPass
	desc   metadata.RenderPassDesc
}

func (vr *VulkanRenderpass) Desc() metadata.RenderPassDesc {
	return vr.desc
}

func renderpassCreate(device vk.Device, desc metadata.RenderPassDesc) (*VulkanRenderpass, error) {
	outRenderpass := &VulkanRenderpass{desc: desc}

	attachmentDescriptionCount := desc.AttachmentCount()
	attachmentDescriptions := make([]vk.AttachmentDescription, attachmentDescriptionCount)
	for i := uint32(0); i < attachmentDescriptionCount; i++ {
		a := desc.Attachment(i)
		attachmentDescriptions[i] = vk.AttachmentDescription{
			Format:         toVkFormat(a.Format),
			Samples:        toVkSamples(a.Samples),
			LoadOp:         toVkLoadOp(a.LoadOp),
			StoreOp:        toVkStoreOp(a.StoreOp),
			StencilLoadOp:  toVkLoadOp(a.StencilLoadOp),
			StencilStoreOp: toVkStoreOp(a.StencilStoreOp),
			InitialLayout:  toVkLayout(a.InitialLayout),
			FinalLayout:    toVkLayout(a.FinalLayout),
		}
	}

	// Main subpass
	subpass := vk.SubpassDescription{
		PipelineBindPoint: vk.PipelineBindPointGraphics,
	}

	colorAttachmentReferences := make([]vk.AttachmentReference, desc.ColorAttachmentCount())
	for i := range colorAttachmentReferences {
		colorAttachmentReferences[i] = vk.AttachmentReference{
			Attachment: uint32(i),
			Layout:     vk.ImageLayoutColorAttachmentOptimal,
		}
	}
	subpass.ColorAttachmentCount = uint32(len(colorAttachmentReferences))
	subpass.PColorAttachments = colorAttachmentReferences

	dstStage := vk.PipelineStageColorAttachmentOutputBit
	dstAccess := vk.AccessColorAttachmentReadBit | vk.AccessColorAttachmentWriteBit
	if index, ok := desc.DepthStencilIndex(); ok {
		depthAttachmentReference := vk.AttachmentReference{
			Attachment: index,
			Layout:     vk.ImageLayoutDepthStencilAttachmentOptimal,
		}
		subpass.PDepthStencilAttachment = &depthAttachmentReference
		dstStage |= vk.PipelineStageEarlyFragmentTestsBit
		dstAccess |= vk.AccessDepthStencilAttachmentWriteBit
	}

	dependency := vk.SubpassDependency{
		SrcSubpass:    vk.SubpassExternal,
		DstSubpass:    0,
		SrcStageMask:  vk.PipelineStageFlags(dstStage),
		SrcAccessMask: 0,
		DstStageMask:  vk.PipelineStageFlags(dstStage),
		DstAccessMask: vk.AccessFlags(dstAccess),
	}

	renderpassCreateInfo := vk.RenderPassCreateInfo{
		SType:           vk.StructureTypeRenderPassCreateInfo,
		AttachmentCount: attachmentDescriptionCount,
		PAttachments:    attachmentDescriptions,
		SubpassCount:    1,
		PSubpasses:      []vk.SubpassDescription{subpass},
		DependencyCount: 1,
		PDependencies:   []vk.SubpassDependency{dependency},
	}

	var pRenderPass vk.RenderPass
	if res := vk.CreateRenderPass(device, &renderpassCreateInfo, nil, &pRenderPass); res != vk.Success {
		return nil, ResultToError("vkCreateRenderPass", res)
	}
	outRenderpass.Handle = pRenderPass
	return outRenderpass, nil
}

func (vr *VulkanRenderpass) destroy(device vk.Device) {
	if vr.Handle != vk.NullRenderPass {
		vk.DestroyRenderPass(device, vr.Handle, nil)
		vr.Handle = vk.NullRenderPass
	}
}
