package fixalloc

import "sync/atomic"

import "github.com/dustin/go-humanize"
import "github.com/bnclabs/golog"

// statistics counters, all fields updated with atomic arithmetic and
// read without locks, snapshots are best-effort under concurrency,
// meant for monitoring not for correctness.
type statistics struct {
	n_allocs       int64 // successful Alloc calls
	n_frees        int64 // successful Free calls
	n_allocfails   int64 // Alloc calls that found the pool exhausted
	n_invalidfrees int64 // Free calls with foreign/unaligned/nil ptr
	n_doublefrees  int64 // Free calls on an already free block
	n_corruptions  int64 // Free calls that found a mangled header
	n_used         int64 // blocks currently allocated
	n_peakused     int64 // high water mark of n_used
	allocns        int64 // cumulative Alloc latency, diagnostics only
	freens         int64 // cumulative Free latency, diagnostics only
	maxallocns     int64
	maxfreens      int64
}

func (stat *statistics) allocated() int64 {
	atomic.AddInt64(&stat.n_allocs, 1)
	used := atomic.AddInt64(&stat.n_used, 1)
	for {
		peak := atomic.LoadInt64(&stat.n_peakused)
		if used <= peak {
			return used
		}
		if atomic.CompareAndSwapInt64(&stat.n_peakused, peak, used) {
			return used
		}
	}
}

func (stat *statistics) freed() int64 {
	atomic.AddInt64(&stat.n_frees, 1)
	return atomic.AddInt64(&stat.n_used, -1)
}

func (stat *statistics) alloctimed(elapsed int64) {
	atomic.AddInt64(&stat.allocns, elapsed)
	for {
		max := atomic.LoadInt64(&stat.maxallocns)
		if elapsed <= max {
			return
		}
		if atomic.CompareAndSwapInt64(&stat.maxallocns, max, elapsed) {
			return
		}
	}
}

func (stat *statistics) freetimed(elapsed int64) {
	atomic.AddInt64(&stat.freens, elapsed)
	for {
		max := atomic.LoadInt64(&stat.maxfreens)
		if elapsed <= max {
			return
		}
		if atomic.CompareAndSwapInt64(&stat.maxfreens, max, elapsed) {
			return
		}
	}
}

func (stat *statistics) reset() {
	atomic.StoreInt64(&stat.n_allocs, 0)
	atomic.StoreInt64(&stat.n_frees, 0)
	atomic.StoreInt64(&stat.n_allocfails, 0)
	atomic.StoreInt64(&stat.n_invalidfrees, 0)
	atomic.StoreInt64(&stat.n_doublefrees, 0)
	atomic.StoreInt64(&stat.n_corruptions, 0)
	atomic.StoreInt64(&stat.n_peakused, atomic.LoadInt64(&stat.n_used))
	atomic.StoreInt64(&stat.allocns, 0)
	atomic.StoreInt64(&stat.freens, 0)
	atomic.StoreInt64(&stat.maxallocns, 0)
	atomic.StoreInt64(&stat.maxfreens, 0)
}

// Stats return a snapshot of the allocator counters. Under
// concurrent load, or concurrent with Resetstats, individual
// counters may be mutually out of date by a few operations.
func (fxa *Allocator) Stats() map[string]interface{} {
	stat := &fxa.stat
	return map[string]interface{}{
		"n_allocs":       atomic.LoadInt64(&stat.n_allocs),
		"n_frees":        atomic.LoadInt64(&stat.n_frees),
		"n_allocfails":   atomic.LoadInt64(&stat.n_allocfails),
		"n_invalidfrees": atomic.LoadInt64(&stat.n_invalidfrees),
		"n_doublefrees":  atomic.LoadInt64(&stat.n_doublefrees),
		"n_corruptions":  atomic.LoadInt64(&stat.n_corruptions),
		"n_used":         atomic.LoadInt64(&stat.n_used),
		"n_peakused":     atomic.LoadInt64(&stat.n_peakused),
		"allocns":        atomic.LoadInt64(&stat.allocns),
		"freens":         atomic.LoadInt64(&stat.freens),
		"maxallocns":     atomic.LoadInt64(&stat.maxallocns),
		"maxfreens":      atomic.LoadInt64(&stat.maxfreens),
	}
}

// Resetstats zero the counters, n_used is carried over and becomes
// the new peak. Best-effort with respect to concurrent readers.
func (fxa *Allocator) Resetstats() {
	fxa.stat.reset()
}

// Logstats dump a one line summary of occupancy and counters.
func (fxa *Allocator) Logstats() {
	stat, pool := &fxa.stat, fxa.pool
	used := atomic.LoadInt64(&stat.n_used)
	fmsg := "%v blocks:%v/%v inuse:%v peak:%v allocs:%v frees:%v " +
		"fails:%v badfrees:%v\n"
	log.Infof(
		fmsg, fxa.logprefix, pool.numblocks-used, pool.numblocks,
		humanize.Bytes(uint64(used*pool.blocksize)),
		atomic.LoadInt64(&stat.n_peakused),
		atomic.LoadInt64(&stat.n_allocs), atomic.LoadInt64(&stat.n_frees),
		atomic.LoadInt64(&stat.n_allocfails),
		atomic.LoadInt64(&stat.n_invalidfrees)+
			atomic.LoadInt64(&stat.n_doublefrees)+
			atomic.LoadInt64(&stat.n_corruptions))
}
