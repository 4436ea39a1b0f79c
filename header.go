package fixalloc

// Block headers live in a side table, one per block, allocated once
// at construction. Keeping them out of the pool region preserves the
// invariant that returned pointers are block boundaries and that the
// allocator never aliases user bytes with its own metadata.

const magicAllocated = uint32(0xa110ca7e)
const magicFreed = uint32(0xf7eeb10c)

// blockheader is written on Alloc, verified and rewritten on Free,
// only when "diagnostics" is enabled.
type blockheader struct {
	magic uint32 // magicAllocated or magicFreed, zero if never touched
	nth   uint32 // owning block index, cross-checked on Free
	since int64  // allocation timestamp, nanoseconds
	xsum  uint32
}

func (hdr *blockheader) checksum() uint32 {
	x := hdr.magic ^ hdr.nth
	x ^= uint32(hdr.since) ^ uint32(uint64(hdr.since)>>32)
	x ^= x >> 16
	return x
}

func (hdr *blockheader) stamp(magic uint32, nthblock, since int64) {
	hdr.magic, hdr.nth, hdr.since = magic, uint32(nthblock), since
	hdr.xsum = hdr.checksum()
}

// verify the checksum and the owning index against pointer
// arithmetic.
func (hdr *blockheader) verify(nthblock int64) bool {
	return hdr.xsum == hdr.checksum() && int64(hdr.nth) == nthblock
}
