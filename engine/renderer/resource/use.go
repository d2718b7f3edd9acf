// Package resource tracks how GPU objects are referenced by recorded and by
// submitted command streams.
package resource

import (
	"github.com/spaghettifunk/kiln/engine/core"
	"github.com/spaghettifunk/kiln/engine/renderer/metadata"
)

// Use is the shared record behind SharedUse handles. The owning resource
// holds one reference; every command stream that retained the resource
// holds another.
type Use struct {
	refCount uint32
	serial   metadata.Serial
}

// noCopy lets go vet flag accidental copies of SharedUse.
type noCopy struct{}

func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}

// SharedUse is a counted reference to a Use. The zero value is invalid and
// must be initialized with Init or Set before it is queried. A handle must
// not be copied; hand it over with Move.
type SharedUse struct {
	_    noCopy
	use  *Use
	pool *UsePool
}

// Init allocates a fresh record from pool with a reference count of one.
func (s *SharedUse) Init(pool *UsePool) {
	core.Assert(s.use == nil, "shared use initialized twice")
	s.use = pool.Acquire()
	s.use.refCount = 1
	s.pool = pool
}

// Set makes s another reference to other's record.
func (s *SharedUse) Set(other *SharedUse) {
	core.Assert(s.use == nil, "shared use already set")
	core.Assert(other.use != nil, "shared use set from an invalid handle")
	s.use = other.use
	s.pool = other.pool
	s.use.refCount++
}

// Move transfers the reference held by s to the returned pointer and leaves
// s invalid.
func (s *SharedUse) Move() *SharedUse {
	out := &SharedUse{use: s.use, pool: s.pool}
	s.use = nil
	s.pool = nil
	return out
}

// Release drops the reference. The record goes back to its pool when the
// last reference is released.
func (s *SharedUse) Release() {
	core.Assert(s.use != nil, "release of an invalid shared use")
	core.Assert(s.use.refCount > 0, "shared use reference count underflow")
	s.use.refCount--
	if s.use.refCount == 0 {
		s.pool.Release(s.use)
	}
	s.use = nil
	s.pool = nil
}

// ReleaseAndUpdateSerial stamps the record with the serial of the submission
// that carried the retaining command stream, then releases.
func (s *SharedUse) ReleaseAndUpdateSerial(serial metadata.Serial) {
	core.Assert(s.use != nil, "release of an invalid shared use")
	core.Assert(serial >= s.use.serial, "serial went backwards: %d < %d", serial, s.use.serial)
	s.use.serial = serial
	s.Release()
}

func (s *SharedUse) Valid() bool {
	return s.use != nil
}

// UsedInRecordedCommands reports whether a command stream that has not been
// submitted yet references the record.
func (s *SharedUse) UsedInRecordedCommands() bool {
	core.Assert(s.use != nil, "query of an invalid shared use")
	return s.use.refCount > 1
}

// UsedInRunningCommands reports whether the device may still execute a
// submission that referenced the record.
func (s *SharedUse) UsedInRunningCommands(lastCompleted metadata.Serial) bool {
	core.Assert(s.use != nil, "query of an invalid shared use")
	return s.use.serial > lastCompleted
}

func (s *SharedUse) IsCurrentlyInUse(lastCompleted metadata.Serial) bool {
	return s.UsedInRecordedCommands() || s.UsedInRunningCommands(lastCompleted)
}

func (s *SharedUse) Serial() metadata.Serial {
	core.Assert(s.use != nil, "query of an invalid shared use")
	return s.use.serial
}

func (s *SharedUse) RefCount() uint32 {
	core.Assert(s.use != nil, "query of an invalid shared use")
	return s.use.refCount
}
