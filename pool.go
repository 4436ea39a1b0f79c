package fixalloc

import "unsafe"

// mempool owns the single contiguous byte region backing all blocks.
// Geometry is immutable for the allocator's lifetime, the region is
// reserved exactly once by newmempool and dropped exactly once by
// release.
type mempool struct {
	buf       []byte  // keeps the reservation reachable
	base      uintptr // aligned up from &buf[0]
	blocksize int64   // aligned block size
	numblocks int64
	alignment int64
	capacity  int64 // blocksize * numblocks
}

// size of each block and no. of blocks in the pool, blocksize is
// already aligned by the caller.
func newmempool(blocksize, numblocks, alignment int64) *mempool {
	capacity := blocksize * numblocks
	// over-reserve so that base can be rounded up to alignment.
	buf := make([]byte, capacity+alignment)
	base := alignup(int64(uintptr(unsafe.Pointer(&buf[0]))), alignment)
	return &mempool{
		buf:       buf,
		base:      uintptr(base),
		blocksize: blocksize,
		numblocks: numblocks,
		alignment: alignment,
		capacity:  capacity,
	}
}

// blockptr does the inverse of blockindex.
func (pool *mempool) blockptr(nthblock int64) unsafe.Pointer {
	return unsafe.Pointer(pool.base + uintptr(nthblock*pool.blocksize))
}

// blockindex assumes ptr was accepted by validpointer.
func (pool *mempool) blockindex(ptr unsafe.Pointer) int64 {
	return int64(uintptr(ptr)-pool.base) / pool.blocksize
}

// owns is a pure pointer-value bounds check, safe for arbitrary
// pointers, nothing is dereferenced.
func (pool *mempool) owns(ptr unsafe.Pointer) bool {
	if ptr == nil {
		return false
	}
	p := uintptr(ptr)
	return p >= pool.base && p < pool.base+uintptr(pool.capacity)
}

// validpointer checks bounds and block-boundary alignment, again
// without dereferencing ptr.
func (pool *mempool) validpointer(ptr unsafe.Pointer) bool {
	if pool.owns(ptr) == false {
		return false
	}
	diffptr := uint64(uintptr(ptr) - pool.base)
	return (diffptr % uint64(pool.blocksize)) == 0
}

// blockbytes return the user-visible bytes of the nth block.
func (pool *mempool) blockbytes(nthblock int64) []byte {
	off := int64(pool.base-uintptr(unsafe.Pointer(&pool.buf[0]))) +
		nthblock*pool.blocksize
	return pool.buf[off : off+pool.blocksize]
}

func (pool *mempool) release() {
	pool.buf, pool.base, pool.capacity = nil, 0, 0
}
