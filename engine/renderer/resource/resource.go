package resource

import "github.com/spaghettifunk/kiln/engine/renderer/metadata"

// Resource is embedded by GPU backed objects. It starts without a use
// record; the first Retain creates one.
type Resource struct {
	use SharedUse
}

// Retain records that the command stream owning list references r.
func (r *Resource) Retain(list *UseList) {
	if !r.use.Valid() {
		r.use.Init(list.Pool())
	}
	list.Add(&r.use)
}

func (r *Resource) UsedInRecordedCommands() bool {
	return r.use.Valid() && r.use.UsedInRecordedCommands()
}

func (r *Resource) UsedInRunningCommands(lastCompleted metadata.Serial) bool {
	return r.use.Valid() && r.use.UsedInRunningCommands(lastCompleted)
}

// IsCurrentlyInUse is the only safe gate for destroying or overwriting r.
func (r *Resource) IsCurrentlyInUse(lastCompleted metadata.Serial) bool {
	return r.use.Valid() && r.use.IsCurrentlyInUse(lastCompleted)
}

func (r *Resource) Serial() metadata.Serial {
	if !r.use.Valid() {
		return metadata.InvalidSerial
	}
	return r.use.Serial()
}

// Use exposes the resource's handle, for example to hand it to a
// GarbageList.
func (r *Resource) Use() *SharedUse {
	return &r.use
}

// ReleaseUse drops the resource's own reference. References still held by
// use lists keep the record alive until they are released.
func (r *Resource) ReleaseUse() {
	if r.use.Valid() {
		r.use.Release()
	}
}

// ReadWriteResource tracks write accesses separately so readers can tell
// whether an outstanding access may modify the object.
type ReadWriteResource struct {
	Resource
	writeUse SharedUse
}

func (r *ReadWriteResource) RetainReadOnly(list *UseList) {
	r.Retain(list)
}

func (r *ReadWriteResource) RetainReadWrite(list *UseList) {
	r.Retain(list)
	if !r.writeUse.Valid() {
		r.writeUse.Init(list.Pool())
	}
	list.Add(&r.writeUse)
}

func (r *ReadWriteResource) UsedInRecordedCommandsForWrite() bool {
	return r.writeUse.Valid() && r.writeUse.UsedInRecordedCommands()
}

func (r *ReadWriteResource) IsCurrentlyInUseForWrite(lastCompleted metadata.Serial) bool {
	return r.writeUse.Valid() && r.writeUse.IsCurrentlyInUse(lastCompleted)
}

func (r *ReadWriteResource) WriteUse() *SharedUse {
	return &r.writeUse
}

func (r *ReadWriteResource) ReleaseUse() {
	r.Resource.ReleaseUse()
	if r.writeUse.Valid() {
		r.writeUse.Release()
	}
}
