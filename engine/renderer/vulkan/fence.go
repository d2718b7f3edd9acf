package vulkan

import (
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/kiln/engine/renderer/backend"
	"github.com/spaghettifunk/kiln/engine/renderer/metadata"
)

type VulkanFence struct {
	Handle vk.Fence

	// waiters and retired are guarded by the device's serial mutex. A fence
	// with waiters is not recycled when its serial retires; the last waiter
	// recycles it instead.
	waiters int
	retired bool
}

// pin keeps f out of the recycler while it is waited on without the serial
// mutex.
func (vf *VulkanFence) pin() {
	vf.waiters++
}

// unpin drops a pin and reports whether f retired in the meantime and can
// now be recycled.
func (vf *VulkanFence) unpin() bool {
	vf.waiters--
	if vf.waiters == 0 && vf.retired {
		vf.retired = false
		return true
	}
	return false
}

// retire reports whether f can be recycled right away. A pinned fence is
// only marked.
func (vf *VulkanFence) retire() bool {
	if vf.waiters > 0 {
		vf.retired = true
		return false
	}
	return true
}

func newFence(device vk.Device) (*VulkanFence, error) {
	fenceCreateInfo := vk.FenceCreateInfo{
		SType: vk.StructureTypeFenceCreateInfo,
	}
	var pFence vk.Fence
	if res := vk.CreateFence(device, &fenceCreateInfo, nil, &pFence); res != vk.Success {
		return nil, ResultToError("vkCreateFence", res)
	}
	return &VulkanFence{Handle: pFence}, nil
}

func (vf *VulkanFence) destroy(device vk.Device) {
	if vf.Handle != vk.NullFence {
		vk.DestroyFence(device, vf.Handle, nil)
		vf.Handle = vk.NullFence
	}
}

// fenceRecycler keeps reset fences around so every submission does not
// create a new one. It is guarded by the device's serial mutex.
type fenceRecycler struct {
	device vk.Device
	free   []*VulkanFence
}

func (r *fenceRecycler) get() (*VulkanFence, error) {
	if n := len(r.free); n > 0 {
		f := r.free[n-1]
		r.free = r.free[:n-1]
		return f, nil
	}
	return newFence(r.device)
}

func (r *fenceRecycler) recycle(f *VulkanFence) {
	if res := vk.ResetFences(r.device, 1, []vk.Fence{f.Handle}); res != vk.Success {
		ResultToError("vkResetFences", res)
		f.destroy(r.device)
		return
	}
	r.free = append(r.free, f)
}

func (r *fenceRecycler) destroy() {
	for _, f := range r.free {
		f.destroy(r.device)
	}
	r.free = nil
}

// inFlightFence is the fence signaled by the submission of serial.
type inFlightFence struct {
	serial metadata.Serial
	fence  *VulkanFence
}

type VulkanSemaphore struct {
	device vk.Device
	Handle vk.Semaphore
}

func newSemaphore(device vk.Device) (*VulkanSemaphore, error) {
	info := vk.SemaphoreCreateInfo{
		SType: vk.StructureTypeSemaphoreCreateInfo,
	}
	var sem vk.Semaphore
	if res := vk.CreateSemaphore(device, &info, nil, &sem); res != vk.Success {
		return nil, ResultToError("vkCreateSemaphore", res)
	}
	return &VulkanSemaphore{device: device, Handle: sem}, nil
}

func (s *VulkanSemaphore) Destroy() {
	if s.Handle != vk.NullSemaphore {
		vk.DestroySemaphore(s.device, s.Handle, nil)
		s.Handle = vk.NullSemaphore
	}
}

func semaphoreHandles(sems []backend.Semaphore) []vk.Semaphore {
	if len(sems) == 0 {
		return nil
	}
	handles := make([]vk.Semaphore, len(sems))
	for i, s := range sems {
		handles[i] = s.(*VulkanSemaphore).Handle
	}
	return handles
}
