package fixalloc

import "fmt"
import "sync"
import "sync/atomic"
import "time"
import "unsafe"

import s "github.com/bnclabs/gosettings"
import "github.com/dustin/go-humanize"
import "github.com/bnclabs/golog"

// Allocator hands out fixed size blocks from one contiguous region
// reserved at construction time. Geometry is immutable, the region
// is released exactly once via Release. With "threadsafe" settings
// Alloc, Free, IsValidPointer and the statistics accessors can be
// called concurrently, Validateheap and Findleaks serialize among
// themselves on a coarse mutex.
type Allocator struct {
	stat statistics // 64-bit aligned fields, keep first

	pool    *mempool
	flist   freetracker
	fbits   *freebits
	headers []blockheader // non-nil only with "diagnostics"

	// configuration
	zeroonalloc  bool
	poisononfree bool
	diagnostics  bool
	threadsafe   bool
	logprefix    string

	debugmu sync.Mutex
}

// New create an allocator managing `numblocks` blocks of `blocksize`
// bytes each, blocksize is rounded up to the configured alignment.
// The backing region is reserved here, zero-initialized, and no
// further reservation happens for the allocator's lifetime. Refer to
// Defaultsettings() for a description of settings keys.
func New(blocksize, numblocks int64, setts s.Settings) (*Allocator, error) {
	if blocksize <= 0 || numblocks <= 0 || numblocks > Maxblocks {
		return nil, ErrInvalidArgument
	}
	setts = Defaultsettings().Mixin(setts)
	alignment := setts.Int64("alignment")
	if ispowerof2(alignment) == false ||
		alignment < Alignment || alignment > Maxalignment {
		return nil, ErrInvalidArgument
	}
	// bound blocksize before rounding it up, alignup on an unbounded
	// value can overflow int64.
	if blocksize > Maxpoolsize {
		return nil, ErrOutofmemory
	}
	blocksize = alignup(blocksize, alignment)
	if blocksize > (Maxpoolsize / numblocks) {
		return nil, ErrOutofmemory
	}
	fxa := &Allocator{
		pool:         newmempool(blocksize, numblocks, alignment),
		fbits:        newfreebits(numblocks),
		zeroonalloc:  setts.Bool("zero.onalloc"),
		poisononfree: setts.Bool("poison.onfree"),
		diagnostics:  setts.Bool("diagnostics"),
		threadsafe:   setts.Bool("threadsafe"),
		logprefix:    fmt.Sprintf("fixalloc [%vx%v]", blocksize, numblocks),
	}
	if fxa.threadsafe {
		fxa.flist = newfreelist(numblocks)
	} else {
		fxa.flist = newflatlist(numblocks)
	}
	if fxa.diagnostics {
		fxa.headers = make([]blockheader, numblocks)
	}
	capacity := uint64(fxa.pool.capacity)
	if _, _, free := getsysmem(); capacity > free {
		fmsg := "%v reservation %v exceeds free system memory %v\n"
		log.Warnf(fmsg, fxa.logprefix,
			humanize.Bytes(capacity), humanize.Bytes(free))
	}
	fmsg := "%v created %v blocks of %v each (total %v)\n"
	log.Infof(fmsg, fxa.logprefix, numblocks,
		humanize.Bytes(uint64(blocksize)), humanize.Bytes(capacity))
	return fxa, nil
}

//---- operations

// Alloc one block, nil when the pool is exhausted. Never blocks and
// never grows the pool, exhaustion bumps n_allocfails. The returned
// pointer is aligned to the configured alignment and distinct from
// every other live pointer handed out by this allocator.
func (fxa *Allocator) Alloc() unsafe.Pointer {
	if fxa.pool.buf == nil {
		panicerr("allocator released")
	}
	var since time.Time
	if fxa.diagnostics {
		since = time.Now()
	}
	nthblock, ok := fxa.flist.pop()
	if ok == false {
		atomic.AddInt64(&fxa.stat.n_allocfails, 1)
		return nil
	}
	if fxa.fbits.clearbit(nthblock) == false {
		panicerr("Alloc(): block %v allocated twice", nthblock)
	}
	if fxa.zeroonalloc {
		zeroblock(fxa.pool.blockbytes(nthblock))
	}
	if fxa.diagnostics {
		fxa.headers[nthblock].stamp(magicAllocated, nthblock, since.UnixNano())
	}
	fxa.stat.allocated()
	if fxa.diagnostics {
		fxa.stat.alloctimed(int64(time.Since(since)))
	}
	return fxa.pool.blockptr(nthblock)
}

// Free the block at ptr back into the free-set.
//
// Returns ErrInvalidPointer if ptr is nil, outside the pool, or not
// on a block boundary, ErrDoubleFree if the block is already free,
// and, with "diagnostics" enabled, ErrCorruption if the block's
// header fails verification, in which case the block stays
// allocated. All failures are counted, the allocator remains usable
// after any bad call.
func (fxa *Allocator) Free(ptr unsafe.Pointer) error {
	if fxa.pool.buf == nil {
		panicerr("allocator released")
	}
	var since time.Time
	if fxa.diagnostics {
		since = time.Now()
	}
	if fxa.pool.validpointer(ptr) == false {
		atomic.AddInt64(&fxa.stat.n_invalidfrees, 1)
		return ErrInvalidPointer
	}
	nthblock := fxa.pool.blockindex(ptr)
	if fxa.fbits.isfree(nthblock) {
		atomic.AddInt64(&fxa.stat.n_doublefrees, 1)
		return ErrDoubleFree
	}
	if fxa.diagnostics {
		hdr := &fxa.headers[nthblock]
		if hdr.magic == magicFreed {
			atomic.AddInt64(&fxa.stat.n_doublefrees, 1)
			return ErrDoubleFree
		} else if hdr.magic != magicAllocated || hdr.verify(nthblock) == false {
			atomic.AddInt64(&fxa.stat.n_corruptions, 1)
			fmsg := "%v Free(): block %v header corrupted\n"
			log.Errorf(fmsg, fxa.logprefix, nthblock)
			return ErrCorruption
		}
	}
	// the liveness flip arbitrates racing frees, and happens before
	// the block re-enters the free-set.
	if fxa.fbits.setbit(nthblock) == false {
		atomic.AddInt64(&fxa.stat.n_doublefrees, 1)
		return ErrDoubleFree
	}
	if fxa.diagnostics {
		fxa.headers[nthblock].stamp(magicFreed, nthblock, since.UnixNano())
	}
	if fxa.poisononfree {
		poisonblock(fxa.pool.blockbytes(nthblock))
	}
	fxa.flist.push(nthblock)
	fxa.stat.freed()
	if fxa.diagnostics {
		fxa.stat.freetimed(int64(time.Since(since)))
	}
	return nil
}

// IsValidPointer return whether ptr is a currently allocated block
// boundary of this pool. Safe to call with arbitrary pointers, the
// bounds and alignment checks use only pointer arithmetic, the
// header is consulted after they pass.
func (fxa *Allocator) IsValidPointer(ptr unsafe.Pointer) bool {
	if fxa.pool.validpointer(ptr) == false {
		return false
	}
	nthblock := fxa.pool.blockindex(ptr)
	if fxa.fbits.isfree(nthblock) {
		return false
	}
	if fxa.diagnostics {
		hdr := &fxa.headers[nthblock]
		if hdr.magic != magicAllocated || hdr.verify(nthblock) == false {
			return false
		}
	}
	return true
}

// Owns is the bounds-only ownership test, true for any pointer into
// the pool region, allocated or not.
func (fxa *Allocator) Owns(ptr unsafe.Pointer) bool {
	return fxa.pool.owns(ptr)
}

// Allocationsize return the usable size of the block at ptr, which
// is the aligned block-size, 0 if ptr is not a live block.
func (fxa *Allocator) Allocationsize(ptr unsafe.Pointer) int64 {
	if fxa.IsValidPointer(ptr) {
		return fxa.pool.blocksize
	}
	return 0
}

//---- geometry and occupancy

// Name of this allocator instance.
func (fxa *Allocator) Name() string {
	return fxa.logprefix
}

// Blocksize after alignment, every Alloc returns this many usable
// bytes.
func (fxa *Allocator) Blocksize() int64 {
	return fxa.pool.blocksize
}

// Totalblocks managed by this allocator.
func (fxa *Allocator) Totalblocks() int64 {
	return fxa.pool.numblocks
}

// Freeblocks available for allocation.
func (fxa *Allocator) Freeblocks() int64 {
	return fxa.pool.numblocks - atomic.LoadInt64(&fxa.stat.n_used)
}

// Usedblocks currently allocated.
func (fxa *Allocator) Usedblocks() int64 {
	return atomic.LoadInt64(&fxa.stat.n_used)
}

// Isfull return true when no block is free.
func (fxa *Allocator) Isfull() bool {
	return fxa.Freeblocks() == 0
}

// Isempty return true when no block is allocated.
func (fxa *Allocator) Isempty() bool {
	return fxa.Usedblocks() == 0
}

// Base of the pool region.
func (fxa *Allocator) Base() unsafe.Pointer {
	return unsafe.Pointer(fxa.pool.base)
}

// Capacity of the pool region in bytes.
func (fxa *Allocator) Capacity() int64 {
	return fxa.pool.capacity
}

// Info return memory accounting for this allocator, `capacity` and
// `heap` are the reserved region, `alloc` the bytes handed out to
// callers, `overhead` the book-keeping bytes.
func (fxa *Allocator) Info() (capacity, heap, alloc, overhead int64) {
	capacity = fxa.pool.capacity
	alloc = atomic.LoadInt64(&fxa.stat.n_used) * fxa.pool.blocksize
	overhead = int64(unsafe.Sizeof(*fxa)) + int64(unsafe.Sizeof(*fxa.pool))
	switch flist := fxa.flist.(type) {
	case *freelist:
		overhead += int64(len(flist.links)) * 8
	case *flatlist:
		overhead += int64(len(flist.freelist)) * 4
	}
	overhead += int64(len(fxa.fbits.bitmaps)) * 8
	overhead += int64(len(fxa.headers)) * int64(unsafe.Sizeof(blockheader{}))
	return capacity, capacity, alloc, overhead
}

//---- maintenance

// Validateheap walk every block and cross check the liveness bitmap
// against debug headers and poison patterns. Meaningful when run
// quiescent, concurrent Alloc/Free can fail the poison check
// spuriously. Corruption findings are logged and false is returned.
func (fxa *Allocator) Validateheap() bool {
	if fxa.pool.buf == nil {
		panicerr("allocator released")
	}
	fxa.debugmu.Lock()
	defer fxa.debugmu.Unlock()

	ok := true
	for nthblock := int64(0); nthblock < fxa.pool.numblocks; nthblock++ {
		if fxa.fbits.isfree(nthblock) {
			ok = fxa.validatefree(nthblock) && ok
		} else {
			ok = fxa.validatelive(nthblock) && ok
		}
	}
	return ok
}

func (fxa *Allocator) validatelive(nthblock int64) bool {
	if fxa.diagnostics == false {
		return true
	}
	hdr := &fxa.headers[nthblock]
	if hdr.magic != magicAllocated || hdr.verify(nthblock) == false {
		fmsg := "%v Validateheap(): live block %v header corrupted\n"
		log.Errorf(fmsg, fxa.logprefix, nthblock)
		return false
	}
	return true
}

func (fxa *Allocator) validatefree(nthblock int64) bool {
	if fxa.diagnostics == false {
		return true
	}
	hdr := &fxa.headers[nthblock]
	if hdr.magic == 0 { // never allocated
		return true
	} else if hdr.magic != magicFreed || hdr.verify(nthblock) == false {
		fmsg := "%v Validateheap(): free block %v header corrupted\n"
		log.Errorf(fmsg, fxa.logprefix, nthblock)
		return false
	}
	if fxa.poisononfree {
		for _, byt := range fxa.pool.blockbytes(nthblock) {
			if byt != Poisonbyte {
				fmsg := "%v Validateheap(): free block %v written after free\n"
				log.Errorf(fmsg, fxa.logprefix, nthblock)
				return false
			}
		}
	}
	return true
}

// Findleaks return a pointer to every block currently allocated.
// With "diagnostics" enabled each leak is logged with its age.
func (fxa *Allocator) Findleaks() []unsafe.Pointer {
	if fxa.pool.buf == nil {
		panicerr("allocator released")
	}
	fxa.debugmu.Lock()
	defer fxa.debugmu.Unlock()

	var leaks []unsafe.Pointer
	for nthblock := int64(0); nthblock < fxa.pool.numblocks; nthblock++ {
		if fxa.fbits.isfree(nthblock) {
			continue
		}
		leaks = append(leaks, fxa.pool.blockptr(nthblock))
		if fxa.diagnostics {
			age := time.Since(time.Unix(0, fxa.headers[nthblock].since))
			fmsg := "%v Findleaks(): block %v allocated %v ago\n"
			log.Warnf(fmsg, fxa.logprefix, nthblock, age)
		}
	}
	return leaks
}

// Release the reserved region, exactly once, further operations on
// this allocator panic. Outstanding allocations are reported, not
// fatal, and their user data is discarded.
func (fxa *Allocator) Release() {
	if fxa.pool.buf == nil {
		panicerr("allocator released")
	}
	if used := atomic.LoadInt64(&fxa.stat.n_used); used > 0 {
		fmsg := "%v releasing with %v blocks still allocated\n"
		log.Warnf(fmsg, fxa.logprefix, used)
		if fxa.diagnostics {
			fxa.Findleaks()
		}
	}
	fxa.debugmu.Lock()
	defer fxa.debugmu.Unlock()
	fxa.pool.release()
	fxa.flist, fxa.headers = nil, nil
	log.Infof("%v destroyed\n", fxa.logprefix)
}
