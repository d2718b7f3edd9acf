package renderer

import (
	"errors"
	"sync"
	"time"

	"github.com/spaghettifunk/kiln/engine/core"
	"github.com/spaghettifunk/kiln/engine/renderer/backend"
	"github.com/spaghettifunk/kiln/engine/renderer/metadata"
)

// Queue serializes submissions from every context of a device and hands
// out their serials.
type Queue struct {
	mu            sync.Mutex
	device        backend.Device
	lastSubmitted metadata.Serial
	lastCompleted metadata.Serial
	lost          bool
}

func NewQueue(device backend.Device) *Queue {
	return &Queue{device: device}
}

// Submit assigns the next serial to info and submits it. onSubmitted runs
// with the queue lock held once the device accepted the work, so use
// records shared between contexts see their serials in submission order.
func (q *Queue) Submit(info backend.SubmitInfo, onSubmitted func(serial metadata.Serial)) (metadata.Serial, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.lost {
		return metadata.InvalidSerial, core.ErrDeviceLost
	}
	info.Serial = q.lastSubmitted + 1
	if err := q.device.Submit(info); err != nil {
		if errors.Is(err, core.ErrDeviceLost) {
			q.lost = true
		}
		core.LogError("queue submit of serial %d failed: %s", info.Serial, err)
		return metadata.InvalidSerial, err
	}
	q.lastSubmitted = info.Serial
	if onSubmitted != nil {
		onSubmitted(info.Serial)
	}
	return info.Serial, nil
}

func (q *Queue) LastSubmittedSerial() metadata.Serial {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.lastSubmitted
}

// LastCompletedSerial polls the device and returns the newest serial known
// to have finished executing.
func (q *Queue) LastCompletedSerial() metadata.Serial {
	q.mu.Lock()
	defer q.mu.Unlock()
	for q.lastCompleted < q.lastSubmitted && q.device.HasCompletedSerial(q.lastCompleted+1) {
		q.lastCompleted++
	}
	return q.lastCompleted
}

func (q *Queue) HasCompletedSerial(serial metadata.Serial) bool {
	return serial <= q.LastCompletedSerial()
}

// FinishToSerial blocks until serial completed. core.ErrTimeout is returned
// when timeout expires first; the caller decides whether to keep waiting.
func (q *Queue) FinishToSerial(serial metadata.Serial, timeout time.Duration) error {
	if q.HasCompletedSerial(serial) {
		return nil
	}
	if err := q.device.WaitForSerial(serial, timeout); err != nil {
		if errors.Is(err, core.ErrDeviceLost) {
			q.mu.Lock()
			q.lost = true
			q.mu.Unlock()
		}
		return err
	}
	q.mu.Lock()
	if serial > q.lastCompleted {
		q.lastCompleted = serial
	}
	q.mu.Unlock()
	return nil
}

func (q *Queue) WaitIdle() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if err := q.device.WaitIdle(); err != nil {
		if errors.Is(err, core.ErrDeviceLost) {
			q.lost = true
		}
		return err
	}
	q.lastCompleted = q.lastSubmitted
	return nil
}

func (q *Queue) IsLost() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.lost
}
