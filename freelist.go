package fixalloc

import "sync/atomic"

// freelistEnd terminates the free list.
const freelistEnd = uint32(0xffffffff)

// freetracker tracks the set of free block indices, pop and push are
// O(1) and LIFO, most recently freed block is reused first.
type freetracker interface {
	// pop the head of the free-set, false when exhausted.
	pop() (nthblock int64, ok bool)

	// push block to the head of the free-set. The caller guarantees
	// the block is not already in the free-set.
	push(nthblock int64)
}

// freelist is the lock-free tracker, a Treiber stack threaded
// through a side table of next links, one per block. The head word
// packs {generation:32, index:32}, the generation bumps on every
// successful swap so that a stale head never matches, the classic
// ABA defence for lock-free stacks.
type freelist struct {
	head  uint64
	links []uint64 // next free index, low 32 bits
}

func newfreelist(numblocks int64) *freelist {
	flist := &freelist{links: make([]uint64, numblocks)}
	for i := int64(0); i < numblocks-1; i++ {
		flist.links[i] = uint64(i + 1)
	}
	flist.links[numblocks-1] = uint64(freelistEnd)
	flist.head = uint64(0) // block 0 first, generation 0
	return flist
}

func (flist *freelist) pop() (int64, bool) {
	for {
		old := atomic.LoadUint64(&flist.head)
		nthblock := uint32(old)
		if nthblock == freelistEnd {
			return -1, false
		}
		next := uint32(atomic.LoadUint64(&flist.links[nthblock]))
		gen := (old >> 32) + 1
		newhead := (gen << 32) | uint64(next)
		if atomic.CompareAndSwapUint64(&flist.head, old, newhead) {
			return int64(nthblock), true
		}
	}
}

func (flist *freelist) push(nthblock int64) {
	for {
		old := atomic.LoadUint64(&flist.head)
		atomic.StoreUint64(&flist.links[nthblock], uint64(uint32(old)))
		gen := (old >> 32) + 1
		newhead := (gen << 32) | uint64(uint32(nthblock))
		if atomic.CompareAndSwapUint64(&flist.head, old, newhead) {
			return
		}
	}
}

// flatlist is the single-threaded tracker, an explicit index stack
// with a top offset, no atomics on the hot path.
type flatlist struct {
	freelist []uint32
	freeoff  int
}

func newflatlist(numblocks int64) *flatlist {
	flist := &flatlist{
		freelist: make([]uint32, numblocks),
		freeoff:  int(numblocks - 1),
	}
	// top of the stack holds block 0.
	for i := int64(0); i < numblocks; i++ {
		flist.freelist[i] = uint32(numblocks - 1 - i)
	}
	return flist
}

func (flist *flatlist) pop() (int64, bool) {
	if flist.freeoff < 0 {
		return -1, false
	}
	nthblock := int64(flist.freelist[flist.freeoff])
	flist.freeoff--
	return nthblock, true
}

func (flist *flatlist) push(nthblock int64) {
	flist.freeoff++
	flist.freelist[flist.freeoff] = uint32(nthblock)
}
