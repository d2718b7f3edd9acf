package vulkan

import (
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/kiln/engine/renderer/metadata"
)

var formats = map[metadata.Format]vk.Format{
	metadata.FORMAT_UNDEFINED:           vk.FormatUndefined,
	metadata.FORMAT_R8G8B8A8_UNORM:      vk.FormatR8g8b8a8Unorm,
	metadata.FORMAT_R8G8B8A8_SRGB:       vk.FormatR8g8b8a8Srgb,
	metadata.FORMAT_B8G8R8A8_UNORM:      vk.FormatB8g8r8a8Unorm,
	metadata.FORMAT_B8G8R8A8_SRGB:       vk.FormatB8g8r8a8Srgb,
	metadata.FORMAT_R16G16B16A16_SFLOAT: vk.FormatR16g16b16a16Sfloat,
	metadata.FORMAT_D16_UNORM:           vk.FormatD16Unorm,
	metadata.FORMAT_D32_SFLOAT:          vk.FormatD32Sfloat,
	metadata.FORMAT_D24_UNORM_S8_UINT:   vk.FormatD24UnormS8Uint,
	metadata.FORMAT_D32_SFLOAT_S8_UINT:  vk.FormatD32SfloatS8Uint,
}

func toVkFormat(f metadata.Format) vk.Format {
	return formats[f]
}

// fromVkFormat returns FORMAT_UNDEFINED for formats the engine has no name for.
func fromVkFormat(f vk.Format) metadata.Format {
	for k, v := range formats {
		if v == f {
			return k
		}
	}
	return metadata.FORMAT_UNDEFINED
}

var layouts = [...]vk.ImageLayout{
	metadata.IMAGE_LAYOUT_UNDEFINED:                vk.ImageLayoutUndefined,
	metadata.IMAGE_LAYOUT_GENERAL:                  vk.ImageLayoutGeneral,
	metadata.IMAGE_LAYOUT_COLOR_ATTACHMENT:         vk.ImageLayoutColorAttachmentOptimal,
	metadata.IMAGE_LAYOUT_DEPTH_STENCIL_ATTACHMENT: vk.ImageLayoutDepthStencilAttachmentOptimal,
	metadata.IMAGE_LAYOUT_SHADER_READ_ONLY:         vk.ImageLayoutShaderReadOnlyOptimal,
	metadata.IMAGE_LAYOUT_TRANSFER_SRC:             vk.ImageLayoutTransferSrcOptimal,
	metadata.IMAGE_LAYOUT_TRANSFER_DST:             vk.ImageLayoutTransferDstOptimal,
	metadata.IMAGE_LAYOUT_PRESENT_SRC:              vk.ImageLayoutPresentSrc,
}

func toVkLayout(l metadata.ImageLayout) vk.ImageLayout {
	return layouts[l]
}

// layoutAccess returns the access mask and pipeline stages that touch an
// image while it is in layout l.
func layoutAccess(l metadata.ImageLayout) (vk.AccessFlags, vk.PipelineStageFlags) {
	switch l {
	case metadata.IMAGE_LAYOUT_UNDEFINED:
		return 0, vk.PipelineStageFlags(vk.PipelineStageTopOfPipeBit)
	case metadata.IMAGE_LAYOUT_COLOR_ATTACHMENT:
		return vk.AccessFlags(vk.AccessColorAttachmentReadBit | vk.AccessColorAttachmentWriteBit),
			vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit)
	case metadata.IMAGE_LAYOUT_DEPTH_STENCIL_ATTACHMENT:
		return vk.AccessFlags(vk.AccessDepthStencilAttachmentReadBit | vk.AccessDepthStencilAttachmentWriteBit),
			vk.PipelineStageFlags(vk.PipelineStageEarlyFragmentTestsBit | vk.PipelineStageLateFragmentTestsBit)
	case metadata.IMAGE_LAYOUT_SHADER_READ_ONLY:
		return vk.AccessFlags(vk.AccessShaderReadBit), vk.PipelineStageFlags(vk.PipelineStageFragmentShaderBit)
	case metadata.IMAGE_LAYOUT_TRANSFER_SRC:
		return vk.AccessFlags(vk.AccessTransferReadBit), vk.PipelineStageFlags(vk.PipelineStageTransferBit)
	case metadata.IMAGE_LAYOUT_TRANSFER_DST:
		return vk.AccessFlags(vk.AccessTransferWriteBit), vk.PipelineStageFlags(vk.PipelineStageTransferBit)
	case metadata.IMAGE_LAYOUT_PRESENT_SRC:
		return 0, vk.PipelineStageFlags(vk.PipelineStageBottomOfPipeBit)
	}
	return vk.AccessFlags(vk.AccessMemoryReadBit | vk.AccessMemoryWriteBit),
		vk.PipelineStageFlags(vk.PipelineStageAllCommandsBit)
}

func aspectMask(f metadata.Format) vk.ImageAspectFlags {
	if !f.IsDepthOrStencil() {
		return vk.ImageAspectFlags(vk.ImageAspectColorBit)
	}
	var mask vk.ImageAspectFlagBits
	if f.HasDepth() {
		mask |= vk.ImageAspectDepthBit
	}
	if f.HasStencil() {
		mask |= vk.ImageAspectStencilBit
	}
	return vk.ImageAspectFlags(mask)
}

func toVkSamples(s metadata.SampleCount) vk.SampleCountFlagBits {
	if s == 0 {
		return vk.SampleCount1Bit
	}
	return vk.SampleCountFlagBits(s)
}

func toVkLoadOp(op metadata.LoadOp) vk.AttachmentLoadOp {
	switch op {
	case metadata.LOAD_OP_LOAD:
		return vk.AttachmentLoadOpLoad
	case metadata.LOAD_OP_CLEAR:
		return vk.AttachmentLoadOpClear
	}
	return vk.AttachmentLoadOpDontCare
}

func toVkStoreOp(op metadata.StoreOp) vk.AttachmentStoreOp {
	if op == metadata.STORE_OP_STORE {
		return vk.AttachmentStoreOpStore
	}
	return vk.AttachmentStoreOpDontCare
}

func toVkPresentMode(m metadata.PresentMode) vk.PresentMode {
	switch m {
	case metadata.PRESENT_MODE_MAILBOX:
		return vk.PresentModeMailbox
	case metadata.PRESENT_MODE_IMMEDIATE:
		return vk.PresentModeImmediate
	}
	return vk.PresentModeFifo
}

func fromVkPresentMode(m vk.PresentMode) (metadata.PresentMode, bool) {
	switch m {
	case vk.PresentModeFifo:
		return metadata.PRESENT_MODE_FIFO, true
	case vk.PresentModeMailbox:
		return metadata.PRESENT_MODE_MAILBOX, true
	case vk.PresentModeImmediate:
		return metadata.PRESENT_MODE_IMMEDIATE, true
	}
	return 0, false
}

func toVkImageUsage(u metadata.ImageUsage) vk.ImageUsageFlags {
	var flags vk.ImageUsageFlagBits
	if u&metadata.IMAGE_USAGE_TRANSFER_SRC != 0 {
		flags |= vk.ImageUsageTransferSrcBit
	}
	if u&metadata.IMAGE_USAGE_TRANSFER_DST != 0 {
		flags |= vk.ImageUsageTransferDstBit
	}
	if u&metadata.IMAGE_USAGE_SAMPLED != 0 {
		flags |= vk.ImageUsageSampledBit
	}
	if u&metadata.IMAGE_USAGE_COLOR_ATTACHMENT != 0 {
		flags |= vk.ImageUsageColorAttachmentBit
	}
	if u&metadata.IMAGE_USAGE_DEPTH_STENCIL_ATTACHMENT != 0 {
		flags |= vk.ImageUsageDepthStencilAttachmentBit
	}
	return vk.ImageUsageFlags(flags)
}

func toVkBufferUsage(u metadata.BufferUsage) vk.BufferUsageFlags {
	var flags vk.BufferUsageFlagBits
	if u&metadata.BUFFER_USAGE_TRANSFER_SRC != 0 {
		flags |= vk.BufferUsageTransferSrcBit
	}
	if u&metadata.BUFFER_USAGE_TRANSFER_DST != 0 {
		flags |= vk.BufferUsageTransferDstBit
	}
	if u&metadata.BUFFER_USAGE_VERTEX != 0 {
		flags |= vk.BufferUsageVertexBufferBit
	}
	if u&metadata.BUFFER_USAGE_INDEX != 0 {
		flags |= vk.BufferUsageIndexBufferBit
	}
	if u&metadata.BUFFER_USAGE_UNIFORM != 0 {
		flags |= vk.BufferUsageUniformBufferBit
	}
	return vk.BufferUsageFlags(flags)
}

func toVkRect(r metadata.Rect) vk.Rect2D {
	return vk.Rect2D{
		Offset: vk.Offset2D{X: r.X, Y: r.Y},
		Extent: vk.Extent2D{Width: r.Width, Height: r.Height},
	}
}

func toVkExtent(e metadata.Extent2D) vk.Extent2D {
	return vk.Extent2D{Width: e.Width, Height: e.Height}
}

func fromVkExtent(e vk.Extent2D) metadata.Extent2D {
	return metadata.Extent2D{Width: e.Width, Height: e.Height}
}

// toVkClearValues lays out clears in attachment order. Clear values of
// attachments that are not cleared are ignored by Vulkan.
func toVkClearValues(desc metadata.RenderPassDesc, clears []metadata.ClearValue) []vk.ClearValue {
	out := make([]vk.ClearValue, desc.AttachmentCount())
	for i := range out {
		if i >= len(clears) {
			break
		}
		if desc.Attachment(uint32(i)).Format.IsDepthOrStencil() {
			out[i].SetDepthStencil(clears[i].Depth, clears[i].Stencil)
		} else {
			out[i].SetColor(clears[i].Color[:])
		}
	}
	return out
}
