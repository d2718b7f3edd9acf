package backendtest

import (
	"time"

	"github.com/spaghettifunk/kiln/engine/renderer/backend"
	"github.com/spaghettifunk/kiln/engine/renderer/metadata"
)

type Present struct {
	Index uint32
	Waits []backend.Semaphore
}

// Swapchain hands images out in round-robin order. Errors queued in
// AcquireErrs and PresentErrs are returned by the following calls, one per
// call.
type Swapchain struct {
	Mode        metadata.PresentMode
	Presents    []Present
	Acquires    []uint32
	AcquireErrs []error
	PresentErrs []error
	Destroyed   bool

	images []backend.Image
	extent metadata.Extent2D
	format metadata.Format
	next   uint32
}

func (s *Swapchain) Images() []backend.Image   { return s.images }
func (s *Swapchain) Extent() metadata.Extent2D { return s.extent }
func (s *Swapchain) Format() metadata.Format   { return s.format }
func (s *Swapchain) Destroy()                  { s.Destroyed = true }

func (s *Swapchain) AcquireNextImage(timeout time.Duration, signal backend.Semaphore) (uint32, error) {
	if len(s.AcquireErrs) > 0 {
		err := s.AcquireErrs[0]
		s.AcquireErrs = s.AcquireErrs[1:]
		if err != nil {
			return 0, err
		}
	}
	idx := s.next
	s.next = (s.next + 1) % uint32(len(s.images))
	s.Acquires = append(s.Acquires, idx)
	return idx, nil
}

func (s *Swapchain) Present(waits []backend.Semaphore, imageIndex uint32) error {
	s.Presents = append(s.Presents, Present{Index: imageIndex, Waits: waits})
	if len(s.PresentErrs) > 0 {
		err := s.PresentErrs[0]
		s.PresentErrs = s.PresentErrs[1:]
		return err
	}
	return nil
}
