package vulkan

import (
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/kiln/engine/core"
	"github.com/spaghettifunk/kiln/engine/renderer/metadata"
)

func TestResultToError(t *testing.T) {
	tests := []struct {
		result vk.Result
		want   error
	}{
		{vk.Success, nil},
		{vk.Suboptimal, nil},
		{vk.Timeout, core.ErrTimeout},
		{vk.NotReady, core.ErrTimeout},
		{vk.ErrorOutOfHostMemory, core.ErrOutOfHostMemory},
		{vk.ErrorOutOfDeviceMemory, core.ErrOutOfDeviceMemory},
		{vk.ErrorDeviceLost, core.ErrDeviceLost},
		{vk.ErrorSurfaceLost, core.ErrSurfaceLost},
		{vk.ErrorOutOfDate, core.ErrSwapchainOutOfDate},
		{vk.ErrorFragmentedPool, core.ErrUnknown},
	}
	for _, tt := range tests {
		err := ResultToError("op", tt.result)
		if tt.want == nil {
			if err != nil {
				t.Errorf("%s: expected no error, got %v", VulkanResultString(tt.result), err)
			}
			continue
		}
		if !errors.Is(err, tt.want) {
			t.Errorf("%s: expected %v, got %v", VulkanResultString(tt.result), tt.want, err)
		}
	}
	if !core.IsRecoverableSurfaceError(ResultToError("present", vk.ErrorOutOfDate)) {
		t.Error("out of date swapchain should be recoverable")
	}
}

func TestVulkanResultStringUnknown(t *testing.T) {
	if s := VulkanResultString(vk.Result(12345)); s != "VkResult(12345)" {
		t.Errorf("unexpected name %q", s)
	}
}

func TestTimeoutNanos(t *testing.T) {
	if got := timeoutNanos(-1); got != math.MaxUint64 {
		t.Errorf("negative timeout should wait forever, got %d", got)
	}
	if got := timeoutNanos(2 * time.Millisecond); got != 2000000 {
		t.Errorf("expected 2000000ns, got %d", got)
	}
}

func TestSafeStrings(t *testing.T) {
	if VulkanSafeString("") != "\x00" {
		t.Error("empty string should become a lone terminator")
	}
	if VulkanSafeString("abc\x00") != "abc\x00" {
		t.Error("terminated string should be left alone")
	}
	got := VulkanSafeStrings([]string{"a", "b\x00"})
	if got[0] != "a\x00" || got[1] != "b\x00" {
		t.Errorf("unexpected %q", got)
	}
	if s := cString([]byte{'v', 'k', 0, 'x'}); s != "vk" {
		t.Errorf("expected vk, got %q", s)
	}
	if s := cString([]byte("full")); s != "full" {
		t.Errorf("expected full, got %q", s)
	}
}

func TestFormatConversion(t *testing.T) {
	for f := range formats {
		if got := fromVkFormat(toVkFormat(f)); got != f {
			t.Errorf("%s converted back to %s", f, got)
		}
	}
	if fromVkFormat(vk.FormatR8Unorm) != metadata.FORMAT_UNDEFINED {
		t.Error("unknown formats should map to undefined")
	}
}

func TestPresentModeConversion(t *testing.T) {
	for _, m := range []metadata.PresentMode{metadata.PRESENT_MODE_FIFO, metadata.PRESENT_MODE_MAILBOX, metadata.PRESENT_MODE_IMMEDIATE} {
		got, ok := fromVkPresentMode(toVkPresentMode(m))
		if !ok || got != m {
			t.Errorf("%s converted back to %s", m, got)
		}
	}
	if _, ok := fromVkPresentMode(vk.PresentModeFifoRelaxed); ok {
		t.Error("fifo relaxed is not exposed")
	}
}

func TestAspectMask(t *testing.T) {
	tests := []struct {
		format metadata.Format
		want   vk.ImageAspectFlagBits
	}{
		{metadata.FORMAT_B8G8R8A8_UNORM, vk.ImageAspectColorBit},
		{metadata.FORMAT_D32_SFLOAT, vk.ImageAspectDepthBit},
		{metadata.FORMAT_D24_UNORM_S8_UINT, vk.ImageAspectDepthBit | vk.ImageAspectStencilBit},
	}
	for _, tt := range tests {
		if got := aspectMask(tt.format); got != vk.ImageAspectFlags(tt.want) {
			t.Errorf("%s: expected %#x, got %#x", tt.format, tt.want, got)
		}
	}
}

func TestLayoutAccess(t *testing.T) {
	access, stage := layoutAccess(metadata.IMAGE_LAYOUT_UNDEFINED)
	if access != 0 || stage != vk.PipelineStageFlags(vk.PipelineStageTopOfPipeBit) {
		t.Error("undefined layout waits on nothing")
	}
	access, stage = layoutAccess(metadata.IMAGE_LAYOUT_TRANSFER_DST)
	if access != vk.AccessFlags(vk.AccessTransferWriteBit) || stage != vk.PipelineStageFlags(vk.PipelineStageTransferBit) {
		t.Error("transfer destination is written by transfers")
	}
	if _, stage = layoutAccess(metadata.IMAGE_LAYOUT_PRESENT_SRC); stage != vk.PipelineStageFlags(vk.PipelineStageBottomOfPipeBit) {
		t.Error("present source is consumed at the bottom of the pipe")
	}
}

func TestUsageConversion(t *testing.T) {
	got := toVkImageUsage(metadata.IMAGE_USAGE_COLOR_ATTACHMENT | metadata.IMAGE_USAGE_SAMPLED)
	want := vk.ImageUsageFlags(vk.ImageUsageColorAttachmentBit | vk.ImageUsageSampledBit)
	if got != want {
		t.Errorf("expected %#x, got %#x", want, got)
	}
	if toVkBufferUsage(metadata.BUFFER_USAGE_VERTEX) != vk.BufferUsageFlags(vk.BufferUsageVertexBufferBit) {
		t.Error("vertex usage lost")
	}
}

func TestLockPoolSerializesQueueCalls(t *testing.T) {
	pool := NewVulkanLockPool()
	pool.SetQueueFamily(0)

	var wg sync.WaitGroup
	inside := 0
	maxInside := 0
	var mu sync.Mutex
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			pool.SafeQueueCall(0, func() error {
				mu.Lock()
				inside++
				if inside > maxInside {
					maxInside = inside
				}
				mu.Unlock()
				time.Sleep(time.Millisecond)
				mu.Lock()
				inside--
				mu.Unlock()
				return nil
			})
		}()
	}
	wg.Wait()
	if maxInside != 1 {
		t.Errorf("expected one caller at a time, saw %d", maxInside)
	}

	want := errors.New("boom")
	if err := pool.SafeCall(RenderpassManagement, func() error { return want }); err != want {
		t.Errorf("expected the callback error, got %v", err)
	}
}

func TestPinnedFenceIsRecycledByLastWaiter(t *testing.T) {
	f := &VulkanFence{}
	if !f.retire() {
		t.Fatal("unpinned fence must be recyclable on retire")
	}

	f = &VulkanFence{}
	f.pin()
	f.pin()
	if f.retire() {
		t.Fatal("pinned fence recycled while waited on")
	}
	if f.unpin() {
		t.Fatal("fence recycled while a second waiter remains")
	}
	if !f.unpin() {
		t.Fatal("last waiter must recycle the retired fence")
	}
	if f.waiters != 0 || f.retired {
		t.Errorf("fence state not reset: waiters=%d retired=%v", f.waiters, f.retired)
	}

	// a waiter that finishes before the serial retires leaves the fence to poll
	f.pin()
	if f.unpin() {
		t.Fatal("fence still in flight must not be recycled by its waiter")
	}
	if !f.retire() {
		t.Fatal("fence without waiters must be recyclable on retire")
	}
}
