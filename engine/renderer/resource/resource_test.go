package resource

import (
	"testing"

	"github.com/spaghettifunk/kiln/engine/core"
	"github.com/spaghettifunk/kiln/engine/renderer/metadata"
)

func mustPanic(t *testing.T, name string, fn func()) {
	t.Helper()
	defer func() {
		r := recover()
		if r == nil {
			t.Fatalf("%s: expected an assertion", name)
		}
		if _, ok := r.(*core.AssertionError); !ok {
			t.Fatalf("%s: recovered %v, want *core.AssertionError", name, r)
		}
	}()
	fn()
}

func TestSharedUseRefCount(t *testing.T) {
	pool := NewUsePool(8)
	var a, b, c SharedUse
	a.Init(pool)
	if a.RefCount() != 1 || a.UsedInRecordedCommands() {
		t.Fatalf("fresh use: refcount %d", a.RefCount())
	}
	b.Set(&a)
	c.Set(&b)
	if a.RefCount() != 3 || !a.UsedInRecordedCommands() {
		t.Fatalf("refcount = %d, want 3", a.RefCount())
	}
	c.Release()
	if c.Valid() {
		t.Errorf("released handle is still valid")
	}
	b.Release()
	if pool.Outstanding() != 1 {
		t.Fatalf("record freed before the last release")
	}
	a.Release()
	if pool.Outstanding() != 0 {
		t.Fatalf("record not returned to the pool, outstanding %d", pool.Outstanding())
	}
}

func TestSharedUseContractViolations(t *testing.T) {
	pool := NewUsePool(8)

	mustPanic(t, "double init", func() {
		var s SharedUse
		s.Init(pool)
		defer s.Release()
		s.Init(pool)
	})
	mustPanic(t, "release invalid", func() {
		var s SharedUse
		s.Release()
	})
	mustPanic(t, "set from invalid", func() {
		var s, other SharedUse
		s.Set(&other)
	})
	mustPanic(t, "query invalid", func() {
		var s SharedUse
		s.UsedInRecordedCommands()
	})
	if pool.Outstanding() != 0 {
		t.Fatalf("outstanding = %d", pool.Outstanding())
	}
}

func TestReleaseAndUpdateSerialIsMonotonic(t *testing.T) {
	pool := NewUsePool(8)
	var owner SharedUse
	owner.Init(pool)
	defer owner.Release()

	for _, serial := range []metadata.Serial{1, 1, 4, 9} {
		var h SharedUse
		h.Set(&owner)
		h.ReleaseAndUpdateSerial(serial)
		if owner.Serial() != serial {
			t.Fatalf("serial = %d, want %d", owner.Serial(), serial)
		}
	}
	var late SharedUse
	late.Set(&owner)
	mustPanic(t, "serial backwards", func() {
		late.ReleaseAndUpdateSerial(3)
	})
	late.Release()
	if owner.Serial() != 9 {
		t.Fatalf("serial changed by a rejected update: %d", owner.Serial())
	}
}

func TestIdleUseIsNotInUse(t *testing.T) {
	pool := NewUsePool(8)
	var owner, h SharedUse
	owner.Init(pool)
	h.Set(&owner)
	h.ReleaseAndUpdateSerial(5)

	for _, completed := range []metadata.Serial{5, 6, 100} {
		if owner.IsCurrentlyInUse(completed) {
			t.Errorf("IsCurrentlyInUse(%d) = true with baseline refcount and serial 5", completed)
		}
	}
	if !owner.IsCurrentlyInUse(4) {
		t.Errorf("serial 5 is still running when only 4 completed")
	}
	owner.Release()
}

func TestPoolGrowsByBlocksAndReusesSlots(t *testing.T) {
	pool := NewUsePool(4)
	var uses []*Use
	for i := 0; i < 5; i++ {
		uses = append(uses, pool.Acquire())
	}
	if pool.Blocks() != 2 {
		t.Fatalf("blocks = %d, want 2", pool.Blocks())
	}
	first := uses[0]
	first.refCount = 7
	// growing the pool must not move earlier records
	for i := 0; i < 8; i++ {
		uses = append(uses, pool.Acquire())
	}
	if uses[0] != first || first.refCount != 7 {
		t.Fatalf("record moved or clobbered by pool growth")
	}
	pool.Release(first)
	again := pool.Acquire()
	if again != first {
		t.Errorf("released slot was not reused")
	}
	if again.refCount != 0 || again.serial != 0 {
		t.Errorf("reused slot not zeroed: %+v", *again)
	}
}

func TestPoolDestroyRequiresReleasedRecords(t *testing.T) {
	pool := NewUsePool(4)
	u := pool.Acquire()
	mustPanic(t, "destroy with outstanding", pool.Destroy)
	pool.Release(u)
	pool.Destroy()
	if pool.Blocks() != 0 {
		t.Fatalf("blocks not freed")
	}
}

// A resource retained by one recorded command stream is in use until the
// stream is submitted and the device completes its serial.
func TestResourceLifetimeAcrossSubmission(t *testing.T) {
	pool := NewUsePool(16)
	list := NewUseList(pool)
	var img Resource

	if img.IsCurrentlyInUse(0) {
		t.Fatalf("never used resource reports in use")
	}
	img.Retain(list)
	if img.Use().RefCount() != 2 || !img.UsedInRecordedCommands() {
		t.Fatalf("retained resource: refcount %d", img.Use().RefCount())
	}

	list.ReleaseAndUpdateSerials(3)
	if img.UsedInRecordedCommands() {
		t.Errorf("still recorded after submission")
	}
	if !img.UsedInRunningCommands(2) || !img.IsCurrentlyInUse(2) {
		t.Errorf("submission 3 must still be running at completed serial 2")
	}
	if img.IsCurrentlyInUse(3) {
		t.Errorf("resource in use after the device completed serial 3")
	}
	img.ReleaseUse()
	if pool.Outstanding() != 0 {
		t.Fatalf("outstanding = %d", pool.Outstanding())
	}
}

func TestReadWriteResource(t *testing.T) {
	pool := NewUsePool(16)
	list := NewUseList(pool)
	var buf ReadWriteResource

	buf.RetainReadOnly(list)
	if !buf.UsedInRecordedCommands() || buf.UsedInRecordedCommandsForWrite() {
		t.Fatalf("read-only retain must not track a write")
	}
	buf.RetainReadWrite(list)
	if !buf.UsedInRecordedCommandsForWrite() {
		t.Fatalf("read-write retain not tracked")
	}
	if list.Len() != 3 {
		t.Fatalf("list length = %d, want 3", list.Len())
	}
	list.ReleaseAndUpdateSerials(2)
	if !buf.IsCurrentlyInUseForWrite(1) || buf.IsCurrentlyInUseForWrite(2) {
		t.Errorf("write use serial not updated")
	}
	buf.ReleaseUse()
	if pool.Outstanding() != 0 {
		t.Fatalf("outstanding = %d", pool.Outstanding())
	}
}

func TestUseListReleaseWithoutSubmission(t *testing.T) {
	pool := NewUsePool(16)
	list := NewUseList(pool)
	var r Resource
	r.Retain(list)
	r.Retain(list)
	list.Release()
	if r.Serial() != metadata.InvalidSerial || r.UsedInRecordedCommands() {
		t.Errorf("discarded recording left state behind")
	}
	r.ReleaseUse()
}

func TestGarbageList(t *testing.T) {
	pool := NewUsePool(16)
	list := NewUseList(pool)
	garbage := NewGarbageList()

	var busy, idle Resource
	busy.Retain(list)
	destroyed := map[string]bool{}
	garbage.Add(busy.Use(), func() { destroyed["busy"] = true })
	garbage.Add(idle.Use(), func() { destroyed["idle"] = true })
	if busy.Use().Valid() {
		t.Fatalf("garbage list did not take over the reference")
	}

	if n := garbage.Collect(0); n != 1 || !destroyed["idle"] || destroyed["busy"] {
		t.Fatalf("first collect destroyed %d: %v", n, destroyed)
	}
	list.ReleaseAndUpdateSerials(7)
	if n := garbage.Collect(6); n != 0 {
		t.Fatalf("collected an object still running")
	}
	if n := garbage.Collect(7); n != 1 || !destroyed["busy"] {
		t.Fatalf("object not destroyed after completion")
	}
	if garbage.Len() != 0 || pool.Outstanding() != 0 {
		t.Fatalf("len %d outstanding %d", garbage.Len(), pool.Outstanding())
	}
}
