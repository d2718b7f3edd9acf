package resource

import "github.com/spaghettifunk/kiln/engine/renderer/metadata"

// UseList collects the references a context took while recording. At
// submission every reference is released with the submission serial.
type UseList struct {
	pool *UsePool
	uses []*SharedUse
}

func NewUseList(pool *UsePool) *UseList {
	return &UseList{pool: pool}
}

func (l *UseList) Pool() *UsePool {
	return l.pool
}

// Add takes a new reference to use's record.
func (l *UseList) Add(use *SharedUse) {
	h := &SharedUse{}
	h.Set(use)
	l.uses = append(l.uses, h)
}

func (l *UseList) Len() int {
	return len(l.uses)
}

func (l *UseList) ReleaseAndUpdateSerials(serial metadata.Serial) {
	for _, u := range l.uses {
		u.ReleaseAndUpdateSerial(serial)
	}
	l.uses = l.uses[:0]
}

// Release drops every reference without recording a submission, used when
// the recorded work is discarded.
func (l *UseList) Release() {
	for _, u := range l.uses {
		u.Release()
	}
	l.uses = l.uses[:0]
}
