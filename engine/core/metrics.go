package core

import "sync"

const AVG_COUNT uint8 = 30

// FrameStats keeps the rolling frame time average, the frames per second and
// the counters reported by the renderer on every flush.
type FrameStats struct {
	mu sync.Mutex

	frameAVGCounter    uint8
	msTimes            [AVG_COUNT]float64
	msAvg              float64
	frames             int32
	accumulatedFrameMS float64
	fps                float64

	flushes        uint64
	nodesFlushed   uint64
	submissions    uint64
	swaps          uint64
	recreations    uint64
	garbageDeleted uint64
}

func NewFrameStats() *FrameStats {
	return &FrameStats{}
}

// Update records the duration of the last frame, in seconds.
func (m *FrameStats) Update(frameElapsedTime float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	frameMS := frameElapsedTime * 1000.0
	m.msTimes[m.frameAVGCounter] = frameMS
	if m.frameAVGCounter == AVG_COUNT-1 {
		m.msAvg = 0
		for i := uint8(0); i < AVG_COUNT; i++ {
			m.msAvg += m.msTimes[i]
		}
		m.msAvg /= float64(AVG_COUNT)
	}
	m.frameAVGCounter++
	m.frameAVGCounter %= AVG_COUNT

	m.accumulatedFrameMS += frameMS
	if m.accumulatedFrameMS > 1000 {
		m.fps = float64(m.frames)
		m.accumulatedFrameMS -= 1000
		m.frames = 0
	}
	m.frames++
}

func (m *FrameStats) AddFlush(nodes int) {
	m.mu.Lock()
	m.flushes++
	m.nodesFlushed += uint64(nodes)
	m.mu.Unlock()
}

func (m *FrameStats) AddSubmission() {
	m.mu.Lock()
	m.submissions++
	m.mu.Unlock()
}

func (m *FrameStats) AddSwap() {
	m.mu.Lock()
	m.swaps++
	m.mu.Unlock()
}

func (m *FrameStats) AddRecreation() {
	m.mu.Lock()
	m.recreations++
	m.mu.Unlock()
}

func (m *FrameStats) AddGarbageDeleted(n int) {
	m.mu.Lock()
	m.garbageDeleted += uint64(n)
	m.mu.Unlock()
}

// Snapshot is a copy of the counters at one point in time.
type Snapshot struct {
	FPS            float64
	FrameTimeMS    float64
	Flushes        uint64
	NodesFlushed   uint64
	Submissions    uint64
	Swaps          uint64
	Recreations    uint64
	GarbageDeleted uint64
}

func (m *FrameStats) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Snapshot{
		FPS:            m.fps,
		FrameTimeMS:    m.msAvg,
		Flushes:        m.flushes,
		NodesFlushed:   m.nodesFlushed,
		Submissions:    m.submissions,
		Swaps:          m.swaps,
		Recreations:    m.recreations,
		GarbageDeleted: m.garbageDeleted,
	}
}
