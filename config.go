package fixalloc

import s "github.com/bnclabs/gosettings"
import "github.com/cloudfoundry/gosigar"

// Alignment default block alignment, one machine word.
const Alignment = int64(8)

// Maxalignment largest configurable alignment, one page.
const Maxalignment = int64(4096)

// Maxpoolsize maximum size of the reserved region.
const Maxpoolsize = int64(1024 * 1024 * 1024 * 1024) // 1TB

// Maxblocks maximum number of blocks in a pool, block indices must
// stay clear of the free-list sentinel.
const Maxblocks = int64(1) << 31

// Defaultsettings for a fixalloc instance.
//
// "zero.onalloc" (bool, default: false)
//		Zero the block's user bytes before Alloc returns it.
//
// "poison.onfree" (bool, default: false)
//		Fill freed blocks with Poisonbyte, to catch use-after-free
//		writes. With "diagnostics" enabled, Validateheap verifies
//		the poison is intact.
//
// "diagnostics" (bool, default: false)
//		Maintain a per-block debug header with magic, owning index,
//		allocation timestamp and checksum. Enables corruption
//		detection on Free, Validateheap, Findleaks, leak reporting
//		on Release and operation timing in Stats.
//
// "threadsafe" (bool, default: true)
//		Track free blocks with the lock-free list so that Alloc and
//		Free can be called concurrently. When false, a plain index
//		stack without atomics on the head is used instead.
//
// "alignment" (int64, default: <Alignment>)
//		Block alignment, power of two between 8 and <Maxalignment>.
func Defaultsettings() s.Settings {
	return s.Settings{
		"zero.onalloc":  false,
		"poison.onfree": false,
		"diagnostics":   false,
		"threadsafe":    true,
		"alignment":     Alignment,
	}
}

func getsysmem() (total, used, free uint64) {
	mem := sigar.Mem{}
	mem.Get()
	return mem.Total, mem.Used, mem.Free
}
