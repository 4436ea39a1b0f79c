package fixalloc

import "sync/atomic"

// freebits is one bit of liveness per block, bit set means the block
// is free. This bitmap, not the debug header, is the single source
// of truth for Free vs Allocated: the state flip is a compare-and-
// swap on the containing word, so of two racing Free calls exactly
// one wins the set and the loser observes a double-free, and the
// flip always happens before the block re-enters the free-set.
type freebits struct {
	nblocks int64
	bitmaps []uint64
}

func newfreebits(nblocks int64) *freebits {
	fbits := &freebits{
		nblocks: nblocks,
		bitmaps: make([]uint64, (nblocks+63)>>6),
	}
	for i := int64(0); i < nblocks; i++ {
		fbits.bitmaps[i>>6] |= uint64(1) << uint(i&63)
	}
	return fbits
}

// setbit marks block free, false if it was already free.
func (fbits *freebits) setbit(nthblock int64) bool {
	mask := uint64(1) << uint(nthblock&63)
	word := &fbits.bitmaps[nthblock>>6]
	for {
		old := atomic.LoadUint64(word)
		if (old & mask) != 0 {
			return false
		}
		if atomic.CompareAndSwapUint64(word, old, old|mask) {
			return true
		}
	}
}

// clearbit marks block allocated, false if it was already allocated.
func (fbits *freebits) clearbit(nthblock int64) bool {
	mask := uint64(1) << uint(nthblock&63)
	word := &fbits.bitmaps[nthblock>>6]
	for {
		old := atomic.LoadUint64(word)
		if (old & mask) == 0 {
			return false
		}
		if atomic.CompareAndSwapUint64(word, old, old&^mask) {
			return true
		}
	}
}

// isfree without mutating, racy by nature, callers treat the answer
// as a snapshot.
func (fbits *freebits) isfree(nthblock int64) bool {
	word := atomic.LoadUint64(&fbits.bitmaps[nthblock>>6])
	return (word & (uint64(1) << uint(nthblock&63))) != 0
}

// freeblocks counts set bits, off the hot path.
func (fbits *freebits) freeblocks() (n int64) {
	for i := int64(0); i < fbits.nblocks; i++ {
		if fbits.isfree(i) {
			n++
		}
	}
	return n
}
