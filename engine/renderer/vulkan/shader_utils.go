package vulkan

import (
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/kiln/engine/renderer/shader"
)

/**
 * @brief Represents a single shader stage.
 */
type VulkanShaderStage struct {
	device vk.Device
	/** @brief The internal shader module Handle. */
	Handle vk.ShaderModule
	/** @brief The pipeline shader stage creation info. */
	ShaderStageCreateInfo vk.PipelineShaderStageCreateInfo
}

func shaderStageFlag(stage shader.Stage) vk.ShaderStageFlagBits {
	switch stage {
	case shader.STAGE_FRAGMENT:
		return vk.ShaderStageFragmentBit
	case shader.STAGE_COMPUTE:
		return vk.ShaderStageComputeBit
	}
	return vk.ShaderStageVertexBit
}

// CreateShaderModule hands the SPIR-V of a compiled module to the driver.
func (vd *VulkanDevice) CreateShaderModule(module *shader.Module) (*VulkanShaderStage, error) {
	createInfo := vk.ShaderModuleCreateInfo{
		SType:    vk.StructureTypeShaderModuleCreateInfo,
		CodeSize: uint(len(module.Code) * 4),
		PCode:    module.Code,
	}

	stage := &VulkanShaderStage{device: vd.LogicalDevice}
	if res := vk.CreateShaderModule(vd.LogicalDevice, &createInfo, nil, &stage.Handle); res != vk.Success {
		return nil, ResultToError("vkCreateShaderModule "+module.Name, res)
	}

	stage.ShaderStageCreateInfo = vk.PipelineShaderStageCreateInfo{
		SType:  vk.StructureTypePipelineShaderStageCreateInfo,
		Stage:  shaderStageFlag(module.Stage),
		Module: stage.Handle,
		PName:  VulkanSafeString(module.EntryPoint),
	}
	return stage, nil
}

func (s *VulkanShaderStage) Destroy() {
	if s.Handle != vk.NullShaderModule {
		vk.DestroyShaderModule(s.device, s.Handle, nil)
		s.Handle = vk.NullShaderModule
	}
}
