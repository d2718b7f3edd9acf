package vulkan

import (
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/kiln/engine/renderer/metadata"
)

type VulkanFramebuffer struct {
	device      vk.Device
	Handle      vk.Framebuffer
	Attachments []vk.ImageView
	Renderpass  *VulkanRenderpass
	extent      metadata.Extent2D
}

func framebufferCreate(device vk.Device, renderpass *VulkanRenderpass, extent metadata.Extent2D, views []*VulkanImageView) (*VulkanFramebuffer, error) {
	outFramebuffer := &VulkanFramebuffer{
		device:      device,
		Attachments: make([]vk.ImageView, len(views)),
		Renderpass:  renderpass,
		extent:      extent,
	}
	for i, v := range views {
		outFramebuffer.Attachments[i] = v.Handle
	}

	framebufferCreateInfo := vk.FramebufferCreateInfo{
		SType:           vk.StructureTypeFramebufferCreateInfo,
		RenderPass:      renderpass.Handle,
		AttachmentCount: uint32(len(views)),
		PAttachments:    outFramebuffer.Attachments,
		Width:           extent.Width,
		Height:          extent.Height,
		Layers:          1,
	}

	var pFramebuffer vk.Framebuffer
	if res := vk.CreateFramebuffer(device, &framebufferCreateInfo, nil, &pFramebuffer); res != vk.Success {
		return nil, ResultToError("vkCreateFramebuffer", res)
	}
	outFramebuffer.Handle = pFramebuffer
	return outFramebuffer, nil
}

func (vfb *VulkanFramebuffer) Extent() metadata.Extent2D {
	return vfb.extent
}

func (vfb *VulkanFramebuffer) Destroy() {
	if vfb.Handle != vk.NullFramebuffer {
		vk.DestroyFramebuffer(vfb.device, vfb.Handle, nil)
		vfb.Handle = vk.NullFramebuffer
	}
	vfb.Attachments = nil
	vfb.Renderpass = nil
}
