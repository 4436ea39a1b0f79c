package fixalloc

import "fmt"
import "math"
import "testing"
import "unsafe"

import s "github.com/bnclabs/gosettings"

var _ = fmt.Sprintf("dummy")

func TestNewallocator(t *testing.T) {
	blocksize, numblocks := int64(96), int64(1024)
	fxa, err := New(blocksize, numblocks, nil)
	if err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	defer fxa.Release()

	if x := fxa.Blocksize(); x != 96 {
		t.Errorf("expected %v, got %v", 96, x)
	} else if x := fxa.Totalblocks(); x != numblocks {
		t.Errorf("expected %v, got %v", numblocks, x)
	} else if x := fxa.Freeblocks(); x != numblocks {
		t.Errorf("expected %v, got %v", numblocks, x)
	} else if x := fxa.Usedblocks(); x != 0 {
		t.Errorf("expected %v, got %v", 0, x)
	} else if fxa.Isempty() == false {
		t.Errorf("expected empty allocator")
	} else if fxa.Isfull() == true {
		t.Errorf("unexpected full allocator")
	} else if x := fxa.Capacity(); x != blocksize*numblocks {
		t.Errorf("expected %v, got %v", blocksize*numblocks, x)
	}
}

func TestNewallocatorAlign(t *testing.T) {
	// blocksize is rounded up to alignment.
	fxa, err := New(33, 10, nil)
	if err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	if x := fxa.Blocksize(); x != 40 {
		t.Errorf("expected %v, got %v", 40, x)
	}
	fxa.Release()

	fxa, err = New(33, 10, s.Settings{"alignment": int64(64)})
	if err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	defer fxa.Release()
	if x := fxa.Blocksize(); x != 64 {
		t.Errorf("expected %v, got %v", 64, x)
	}
	ptr := fxa.Alloc()
	if (uintptr(ptr) & 63) != 0 {
		t.Errorf("pointer %p is not 64 byte aligned", ptr)
	}
	if err := fxa.Free(ptr); err != nil {
		t.Errorf("unexpected error %v", err)
	}
}

func TestNewallocatorErrors(t *testing.T) {
	if _, err := New(0, 10, nil); err != ErrInvalidArgument {
		t.Errorf("expected %v, got %v", ErrInvalidArgument, err)
	}
	if _, err := New(64, 0, nil); err != ErrInvalidArgument {
		t.Errorf("expected %v, got %v", ErrInvalidArgument, err)
	}
	if _, err := New(-1, 10, nil); err != ErrInvalidArgument {
		t.Errorf("expected %v, got %v", ErrInvalidArgument, err)
	}
	setts := s.Settings{"alignment": int64(24)}
	if _, err := New(64, 10, setts); err != ErrInvalidArgument {
		t.Errorf("expected %v, got %v", ErrInvalidArgument, err)
	}
	setts = s.Settings{"alignment": int64(4)}
	if _, err := New(64, 10, setts); err != ErrInvalidArgument {
		t.Errorf("expected %v, got %v", ErrInvalidArgument, err)
	}
	if _, err := New(Maxpoolsize, 2, nil); err != ErrOutofmemory {
		t.Errorf("expected %v, got %v", ErrOutofmemory, err)
	}
	// rounding up a huge blocksize must not wrap around int64.
	if _, err := New(math.MaxInt64, 1, nil); err != ErrOutofmemory {
		t.Errorf("expected %v, got %v", ErrOutofmemory, err)
	}
	if _, err := New(math.MaxInt64-1, 1, nil); err != ErrOutofmemory {
		t.Errorf("expected %v, got %v", ErrOutofmemory, err)
	}
}

func TestAllocBitmapInvariant(t *testing.T) {
	fxa, err := New(64, 4, nil)
	if err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	defer fxa.Release()

	// a block popped off the free-list must still be marked free in
	// the bitmap, anything else is internal corruption.
	fxa.fbits.clearbit(0)
	func() {
		defer func() {
			if r := recover(); r == nil {
				t.Errorf("expected panic")
			}
		}()
		fxa.Alloc()
	}()
	fxa.fbits.setbit(0)
}

func TestAllocFree(t *testing.T) {
	blocksize, numblocks := int64(64), int64(100)
	fxa, err := New(blocksize, numblocks, nil)
	if err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	defer fxa.Release()

	base := uintptr(fxa.Base())
	ptrs := make([]unsafe.Pointer, 0, numblocks)
	seen := map[uintptr]bool{}
	for i := int64(0); i < numblocks; i++ {
		ptr := fxa.Alloc()
		if ptr == nil {
			t.Fatalf("unexpected exhaustion at block %v", i)
		}
		p := uintptr(ptr)
		if seen[p] {
			t.Errorf("duplicate pointer %p", ptr)
		} else if p < base || p >= base+uintptr(blocksize*numblocks) {
			t.Errorf("pointer %p outside pool", ptr)
		} else if ((p - base) % uintptr(blocksize)) != 0 {
			t.Errorf("pointer %p not on block boundary", ptr)
		}
		seen[p] = true
		ptrs = append(ptrs, ptr)
	}
	if fxa.Isfull() == false {
		t.Errorf("expected full allocator")
	} else if ptr := fxa.Alloc(); ptr != nil {
		t.Errorf("expected nil, got %p", ptr)
	} else if x := fxa.Stats()["n_allocfails"].(int64); x != 1 {
		t.Errorf("expected %v, got %v", 1, x)
	}

	for _, ptr := range ptrs {
		if err := fxa.Free(ptr); err != nil {
			t.Errorf("unexpected error %v", err)
		}
	}
	if x := fxa.Freeblocks(); x != numblocks {
		t.Errorf("expected %v, got %v", numblocks, x)
	} else if fxa.Isempty() == false {
		t.Errorf("expected empty allocator")
	}
}

func TestAllocReuseLIFO(t *testing.T) {
	fxa, err := New(32, 8, nil)
	if err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	defer fxa.Release()

	ptr1 := fxa.Alloc()
	ptr2 := fxa.Alloc()
	if err := fxa.Free(ptr2); err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	// most recently freed block is reused first.
	if ptr3 := fxa.Alloc(); ptr3 != ptr2 {
		t.Errorf("expected %p, got %p", ptr2, ptr3)
	}
	_ = ptr1
}

func TestIsValidPointer(t *testing.T) {
	blocksize, numblocks := int64(64), int64(10)
	fxa, err := New(blocksize, numblocks, nil)
	if err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	defer fxa.Release()

	if fxa.IsValidPointer(nil) {
		t.Errorf("nil pointer should not validate")
	}
	foreign := make([]byte, 64)
	if fxa.IsValidPointer(unsafe.Pointer(&foreign[0])) {
		t.Errorf("foreign pointer should not validate")
	}

	ptr := fxa.Alloc()
	if fxa.IsValidPointer(ptr) == false {
		t.Errorf("live pointer should validate")
	}
	inside := unsafe.Pointer(uintptr(ptr) + 1)
	if fxa.IsValidPointer(inside) {
		t.Errorf("unaligned pointer should not validate")
	}
	past := unsafe.Pointer(uintptr(fxa.Base()) + uintptr(blocksize*numblocks))
	if fxa.IsValidPointer(past) {
		t.Errorf("past-the-end pointer should not validate")
	}
	if fxa.Owns(past) {
		t.Errorf("past-the-end pointer should not be owned")
	}
	if fxa.Owns(inside) == false {
		t.Errorf("interior pointer should be owned")
	}

	if err := fxa.Free(ptr); err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	if fxa.IsValidPointer(ptr) {
		t.Errorf("freed pointer should not validate")
	}
}

func TestFreeErrors(t *testing.T) {
	fxa, err := New(64, 10, nil)
	if err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	defer fxa.Release()

	if err := fxa.Free(nil); err != ErrInvalidPointer {
		t.Errorf("expected %v, got %v", ErrInvalidPointer, err)
	}
	foreign := make([]byte, 64)
	if err := fxa.Free(unsafe.Pointer(&foreign[0])); err != ErrInvalidPointer {
		t.Errorf("expected %v, got %v", ErrInvalidPointer, err)
	}

	ptr := fxa.Alloc()
	if err := fxa.Free(unsafe.Pointer(uintptr(ptr) + 8)); err != ErrInvalidPointer {
		t.Errorf("expected %v, got %v", ErrInvalidPointer, err)
	}
	if err := fxa.Free(ptr); err != nil {
		t.Errorf("unexpected error %v", err)
	}
	if err := fxa.Free(ptr); err != ErrDoubleFree {
		t.Errorf("expected %v, got %v", ErrDoubleFree, err)
	}
	if x := fxa.Usedblocks(); x != 0 {
		t.Errorf("expected %v, got %v", 0, x)
	}

	stats := fxa.Stats()
	if x := stats["n_invalidfrees"].(int64); x != 3 {
		t.Errorf("expected %v, got %v", 3, x)
	} else if x := stats["n_doublefrees"].(int64); x != 1 {
		t.Errorf("expected %v, got %v", 1, x)
	}
}

func TestExhaustScenario(t *testing.T) {
	// 3 blocks of 32 bytes, 5 allocation attempts.
	fxa, err := New(32, 3, nil)
	if err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	defer fxa.Release()

	ptrs := make([]unsafe.Pointer, 0, 3)
	for i := 0; i < 5; i++ {
		ptr := fxa.Alloc()
		if i < 3 {
			if ptr == nil {
				t.Errorf("allocation %v should succeed", i)
			}
			ptrs = append(ptrs, ptr)
		} else if ptr != nil {
			t.Errorf("allocation %v should fail", i)
		}
	}
	if ptrs[0] == ptrs[1] || ptrs[1] == ptrs[2] || ptrs[0] == ptrs[2] {
		t.Errorf("expected distinct pointers %v", ptrs)
	}
	if x := fxa.Stats()["n_allocfails"].(int64); x != 2 {
		t.Errorf("expected %v, got %v", 2, x)
	}
	for _, ptr := range ptrs {
		if err := fxa.Free(ptr); err != nil {
			t.Errorf("unexpected error %v", err)
		}
	}
	if x := fxa.Freeblocks(); x != 3 {
		t.Errorf("expected %v, got %v", 3, x)
	} else if x := fxa.Usedblocks(); x != 0 {
		t.Errorf("expected %v, got %v", 0, x)
	}
}

func TestZeroOnAlloc(t *testing.T) {
	setts := s.Settings{"zero.onalloc": true, "poison.onfree": true}
	fxa, err := New(128, 4, setts)
	if err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	defer fxa.Release()

	ptr := fxa.Alloc()
	nthblock := fxa.pool.blockindex(ptr)
	block := fxa.pool.blockbytes(nthblock)
	for i := range block {
		block[i] = 0xab
	}
	if err := fxa.Free(ptr); err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	for _, byt := range block {
		if byt != Poisonbyte {
			t.Fatalf("expected %v, got %v", Poisonbyte, byt)
		}
	}
	ptr = fxa.Alloc()
	block = fxa.pool.blockbytes(fxa.pool.blockindex(ptr))
	for _, byt := range block {
		if byt != 0 {
			t.Fatalf("expected %v, got %v", 0, byt)
		}
	}
}

func TestAllocationsize(t *testing.T) {
	fxa, err := New(48, 4, nil)
	if err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	defer fxa.Release()

	ptr := fxa.Alloc()
	if x := fxa.Allocationsize(ptr); x != 48 {
		t.Errorf("expected %v, got %v", 48, x)
	}
	fxa.Free(ptr)
	if x := fxa.Allocationsize(ptr); x != 0 {
		t.Errorf("expected %v, got %v", 0, x)
	}
	if x := fxa.Allocationsize(nil); x != 0 {
		t.Errorf("expected %v, got %v", 0, x)
	}
}

func TestInfo(t *testing.T) {
	fxa, err := New(64, 128, nil)
	if err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	defer fxa.Release()

	ptrs := []unsafe.Pointer{fxa.Alloc(), fxa.Alloc(), fxa.Alloc()}
	capacity, heap, alloc, overhead := fxa.Info()
	if capacity != 64*128 {
		t.Errorf("unexpected capacity %v", capacity)
	} else if heap != capacity {
		t.Errorf("unexpected heap %v", heap)
	} else if alloc != 3*64 {
		t.Errorf("unexpected alloc %v", alloc)
	} else if overhead <= 0 {
		t.Errorf("unexpected overhead %v", overhead)
	}
	for _, ptr := range ptrs {
		fxa.Free(ptr)
	}
}

func TestRelease(t *testing.T) {
	fxa, err := New(64, 10, nil)
	if err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	ptr := fxa.Alloc()
	if fxa.IsValidPointer(ptr) == false {
		t.Errorf("live pointer should validate")
	}
	fxa.Release() // outstanding block is reported, not fatal

	if fxa.IsValidPointer(ptr) {
		t.Errorf("pointer should not validate after release")
	}
	func() {
		defer func() {
			if r := recover(); r == nil {
				t.Errorf("expected panic")
			}
		}()
		fxa.Alloc()
	}()
	func() {
		defer func() {
			if r := recover(); r == nil {
				t.Errorf("expected panic")
			}
		}()
		fxa.Free(ptr)
	}()
	func() {
		defer func() {
			if r := recover(); r == nil {
				t.Errorf("expected panic")
			}
		}()
		fxa.Release()
	}()
}

func BenchmarkAlloc(b *testing.B) {
	fxa, err := New(96, int64(b.N)+1, nil)
	if err != nil {
		b.Fatalf("unexpected error %v", err)
	}
	defer fxa.Release()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		fxa.Alloc()
	}
}

func BenchmarkAllocFree(b *testing.B) {
	fxa, err := New(96, 1024, nil)
	if err != nil {
		b.Fatalf("unexpected error %v", err)
	}
	defer fxa.Release()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		fxa.Free(fxa.Alloc())
	}
}

func BenchmarkAllocFreeDiag(b *testing.B) {
	setts := s.Settings{"diagnostics": true, "poison.onfree": true}
	fxa, err := New(96, 1024, setts)
	if err != nil {
		b.Fatalf("unexpected error %v", err)
	}
	defer fxa.Release()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		fxa.Free(fxa.Alloc())
	}
}
