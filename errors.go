package fixalloc

import "errors"

// ErrInvalidArgument from New when block-size, block-count or
// alignment is invalid.
var ErrInvalidArgument = errors.New("fixalloc.invalidargument")

// ErrOutofmemory from New when the requested reservation cannot
// be satisfied.
var ErrOutofmemory = errors.New("fixalloc.outofmemory")

// ErrInvalidPointer from Free when the pointer is nil, outside the
// pool, or not on a block boundary.
var ErrInvalidPointer = errors.New("fixalloc.invalidpointer")

// ErrDoubleFree from Free when the block is already in the free-set.
var ErrDoubleFree = errors.New("fixalloc.doublefree")

// ErrCorruption from Free when diagnostics find the block's header
// mangled, the block remains allocated.
var ErrCorruption = errors.New("fixalloc.corruption")
