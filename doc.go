// Package fixalloc supplies a fixed block-size memory allocator for
// latency sensitive data structures, with a limited scope:
//
//   - One contiguous memory region is reserved when the allocator is
//     created, nothing more is requested from the go runtime for the
//     allocator's lifetime.
//   - Every allocation returns a block of the same, pre-configured,
//     aligned size. Variable sized allocation is not supported.
//   - Alloc() and Free() complete in constant time. Under the
//     thread-safe configuration they are lock-free, free blocks are
//     tracked by a Treiber stack whose head carries a generation tag.
//   - Pool exhaustion is reported immediately as a nil pointer from
//     Alloc(), callers are never blocked.
//   - Free() validates its argument, foreign pointers, unaligned
//     pointers and double-frees are rejected with distinct errors and
//     counted in statistics.
//   - Optional diagnostics maintain a per-block header with magic,
//     owning index, allocation timestamp and checksum, enabling
//     corruption detection, heap validation and leak enumeration.
//   - Freed blocks can optionally be poisoned with a recognizable
//     byte pattern to catch use-after-free writes.
//
// Blocks handed out by this package are always aligned to the
// configured alignment, 8-byte by default. Contents of a live block
// are entirely the caller's responsibility, the allocator never
// reads or writes user bytes except for optional zeroing on Alloc()
// and poisoning on Free().
package fixalloc

// TODO: speed up Validateheap() on large pools by checking poison
// bytes a word at a time.
