package core

import (
	"errors"
	"fmt"
	"testing"
)

func TestAssertPanicsWithAssertionError(t *testing.T) {
	defer func() {
		r := recover()
		ae, ok := r.(*AssertionError)
		if !ok {
			t.Fatalf("recovered %v, want *AssertionError", r)
		}
		if ae.Message != "node 3 flushed twice" {
			t.Errorf("Message = %q", ae.Message)
		}
	}()
	Assert(true, "never")
	Assert(false, "node %d flushed twice", 3)
	t.Fatal("Assert(false) returned")
}

func TestRecoverableSurfaceErrors(t *testing.T) {
	wrapped := fmt.Errorf("present: %w", ErrSwapchainOutOfDate)
	if !IsRecoverableSurfaceError(wrapped) {
		t.Errorf("out of date should be recoverable")
	}
	if !IsRecoverableSurfaceError(ErrSurfaceLost) {
		t.Errorf("surface lost should be recoverable")
	}
	if IsRecoverableSurfaceError(ErrDeviceLost) {
		t.Errorf("device lost must not be recoverable")
	}
	if !IsDeviceLost(fmt.Errorf("submit: %w", ErrDeviceLost)) {
		t.Errorf("IsDeviceLost did not unwrap")
	}
	if errors.Is(ErrTimeout, ErrDeviceLost) {
		t.Errorf("sentinels must be distinct")
	}
}

func TestEventBus(t *testing.T) {
	bus := NewEventBus()
	var got []string
	first := "first"
	second := "second"
	handler := func(name string, handled bool) FnOnEvent {
		return func(code SystemEventCode, sender, listener interface{}, data EventContext) bool {
			got = append(got, fmt.Sprintf("%s:%d", name, data.Data.U32[0]))
			return handled
		}
	}
	if !bus.Register(EVENT_CODE_RESIZED, first, handler("a", false)) {
		t.Fatal("first registration failed")
	}
	if bus.Register(EVENT_CODE_RESIZED, first, handler("dup", false)) {
		t.Fatal("duplicate registration succeeded")
	}
	bus.Register(EVENT_CODE_RESIZED, second, handler("b", true))

	var ctx EventContext
	ctx.Data.U32[0] = 800
	if !bus.Fire(EVENT_CODE_RESIZED, nil, ctx) {
		t.Errorf("event should have been handled")
	}
	if len(got) != 2 || got[0] != "a:800" || got[1] != "b:800" {
		t.Errorf("dispatch order = %v", got)
	}

	if !bus.Unregister(EVENT_CODE_RESIZED, second) {
		t.Fatal("Unregister failed")
	}
	if bus.Unregister(EVENT_CODE_RESIZED, second) {
		t.Fatal("second Unregister succeeded")
	}
	if bus.Fire(EVENT_CODE_RESIZED, nil, ctx) {
		t.Errorf("no remaining handler returns true")
	}
	if bus.Fire(EVENT_CODE_DEVICE_LOST, nil, ctx) {
		t.Errorf("nothing registered for device lost")
	}
}

func TestFrameStats(t *testing.T) {
	s := NewFrameStats()
	for i := 0; i < int(AVG_COUNT); i++ {
		s.Update(0.010)
	}
	s.AddFlush(4)
	s.AddFlush(2)
	s.AddSubmission()
	s.AddGarbageDeleted(3)
	snap := s.Snapshot()
	if snap.FrameTimeMS < 9.99 || snap.FrameTimeMS > 10.01 {
		t.Errorf("FrameTimeMS = %f, want 10", snap.FrameTimeMS)
	}
	if snap.Flushes != 2 || snap.NodesFlushed != 6 || snap.Submissions != 1 || snap.GarbageDeleted != 3 {
		t.Errorf("unexpected counters %+v", snap)
	}
}
