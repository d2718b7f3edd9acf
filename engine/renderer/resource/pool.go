package resource

import (
	"sync"

	"github.com/spaghettifunk/kiln/engine/core"
)

const DefaultUsePoolBlockSize = 4096

// UsePool hands out Use records from fixed size blocks. Blocks are never
// resized or moved, so a record's address stays valid until it is released.
// The pool is shared by every context of a device; its mutex is the only
// lock taken on the use tracking paths.
type UsePool struct {
	mu          sync.Mutex
	blockSize   int
	blocks      [][]Use
	free        []*Use
	outstanding int
}

func NewUsePool(blockSize int) *UsePool {
	if blockSize <= 0 {
		blockSize = DefaultUsePoolBlockSize
	}
	return &UsePool{blockSize: blockSize}
}

// Acquire returns a zeroed record, growing the pool by one block when the
// free list is empty.
func (p *UsePool) Acquire() *Use {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.free) == 0 {
		block := make([]Use, p.blockSize)
		p.blocks = append(p.blocks, block)
		for i := len(block) - 1; i >= 0; i-- {
			p.free = append(p.free, &block[i])
		}
	}
	u := p.free[len(p.free)-1]
	p.free = p.free[:len(p.free)-1]
	p.outstanding++
	return u
}

// Release returns u to the free list.
func (p *UsePool) Release(u *Use) {
	*u = Use{}

	p.mu.Lock()
	defer p.mu.Unlock()
	core.Assert(p.outstanding > 0, "use record released to a pool with no outstanding records")
	p.free = append(p.free, u)
	p.outstanding--
}

// Outstanding returns the number of records acquired and not yet released.
func (p *UsePool) Outstanding() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.outstanding
}

func (p *UsePool) Blocks() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.blocks)
}

// Destroy drops every block. All records must have been released first.
func (p *UsePool) Destroy() {
	p.mu.Lock()
	defer p.mu.Unlock()
	core.Assert(p.outstanding == 0, "use pool destroyed with %d records still in use", p.outstanding)
	p.blocks = nil
	p.free = nil
}
