package heap

import (
	"testing"
	"unsafe"

	gomock "go.uber.org/mock/gomock"

	"github.com/orizon-lang/btalloc/internal/mock"
	"github.com/orizon-lang/btalloc/provider"
)

// newTestHeap builds a heap with no initial reserve beyond the
// prologue/epilogue, so every test can reason about exact block
// adjacency without an amortized initial free block in the way.
// Tests that want to exercise InitialReserve do so explicitly.
func newTestHeap(t *testing.T, opts ...Option) *Heap {
	t.Helper()

	p := provider.NewSliceProvider(1 << 20)
	opts = append([]Option{WithInitialReserve(0)}, opts...)

	h, err := Init(p, opts...)
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	return h
}

func TestAllocate(t *testing.T) {
	h := newTestHeap(t)

	t.Run("BasicAllocation", func(t *testing.T) {
		ptr := h.Allocate(64)
		if ptr == nil {
			t.Fatal("allocation failed")
		}

		data := (*[64]byte)(ptr)
		for i := range data {
			data[i] = byte(i % 256)
		}

		for i := range data {
			if data[i] != byte(i%256) {
				t.Errorf("data corruption at index %d", i)
			}
		}

		h.Free(ptr)
	})

	t.Run("ZeroAllocation", func(t *testing.T) {
		if ptr := h.Allocate(0); ptr != nil {
			t.Error("allocate(0) should return nil")
		}
	})

	t.Run("GrowsHeapWhenNoFit", func(t *testing.T) {
		h := newTestHeap(t, WithInitialReserve(64))

		ptrs := make([]unsafe.Pointer, 0, 32)
		for i := 0; i < 32; i++ {
			p := h.Allocate(64)
			if p == nil {
				t.Fatalf("allocation %d failed", i)
			}

			ptrs = append(ptrs, p)
		}

		if err := h.CheckHeap(false); err != nil {
			t.Fatalf("heap invariants broken after growth: %v", err)
		}
	})

	t.Run("BestFitPicksSmallestSufficientBlock", func(t *testing.T) {
		h := newTestHeap(t)

		small := h.Allocate(16)
		mid := h.Allocate(256)
		guard := h.Allocate(16) // keeps mid and large from coalescing
		large := h.Allocate(1024)

		h.Free(mid)
		h.Free(large)

		// A request that fits in the freed mid block should reuse it
		// rather than the larger freed block at the head of the list.
		reused := h.Allocate(200)
		if reused != mid {
			t.Errorf("expected best-fit to reuse mid block %p, got %p", mid, reused)
		}

		h.Free(small)
		h.Free(guard)
		h.Free(reused)
	})

	t.Run("FirstFitReturnsFirstSufficientBlock", func(t *testing.T) {
		h := newTestHeap(t, WithFitStrategy(FirstFit))

		a := h.Allocate(64)
		b := h.Allocate(64)
		c := h.Allocate(64)

		h.Free(a)
		h.Free(c)

		// list_add pushes onto the head, so c (freed last) is found
		// before a under first-fit.
		reused := h.Allocate(32)
		if reused != c {
			t.Errorf("expected first-fit to return %p (last freed), got %p", c, reused)
		}

		h.Free(b)
		h.Free(reused)
	})
}

func TestFree(t *testing.T) {
	h := newTestHeap(t)

	t.Run("NilIsNoop", func(t *testing.T) {
		h.Free(nil)
	})

	t.Run("CoalescesWithFreeNeighbors", func(t *testing.T) {
		a := h.Allocate(64)
		b := h.Allocate(64)
		c := h.Allocate(64)

		h.Free(a)
		h.Free(c)
		h.Free(b)

		if err := h.CheckHeap(false); err != nil {
			t.Fatalf("invariants broken after coalescing all three: %v", err)
		}

		if n := h.FreeBlockCount(); n != 1 {
			t.Errorf("expected exactly one merged free block, got %d", n)
		}
	})
}

func TestRealloc(t *testing.T) {
	t.Run("NilActsAsAllocate", func(t *testing.T) {
		h := newTestHeap(t)

		ptr := h.Realloc(nil, 32)
		if ptr == nil {
			t.Fatal("Realloc(nil, n) should allocate")
		}
	})

	t.Run("ZeroSizeActsAsFree", func(t *testing.T) {
		h := newTestHeap(t)

		ptr := h.Allocate(32)
		if got := h.Realloc(ptr, 0); got != nil {
			t.Error("Realloc(ptr, 0) should return nil")
		}
	})

	t.Run("ShrinkInPlaceKeepsAddress", func(t *testing.T) {
		h := newTestHeap(t)

		ptr := h.Allocate(256)
		shrunk := h.Realloc(ptr, 16)

		if shrunk != ptr {
			t.Errorf("shrink-in-place should keep the same address, got %p want %p", shrunk, ptr)
		}

		h.Free(shrunk)
	})

	t.Run("GrowIntoFreeRightNeighborKeepsAddress", func(t *testing.T) {
		h := newTestHeap(t)

		a := h.Allocate(64)
		b := h.Allocate(64)
		h.Free(b)

		grown := h.Realloc(a, 96)
		if grown != a {
			t.Errorf("growing into a free right neighbor should keep the address, got %p want %p", grown, a)
		}

		h.Free(grown)
	})

	t.Run("GrowFallsBackToCopyWhenNoRoom", func(t *testing.T) {
		h := newTestHeap(t)

		a := h.Allocate(32)
		data := (*[32]byte)(a)
		for i := range data {
			data[i] = byte(i + 1)
		}

		b := h.Allocate(32) // keeps a's right neighbor USED

		grown := h.Realloc(a, 4096)
		if grown == nil {
			t.Fatal("realloc with fallback should still succeed")
		}

		newData := (*[32]byte)(grown)
		for i := range newData {
			if newData[i] != byte(i+1) {
				t.Errorf("payload not preserved across fallback copy at index %d", i)
			}
		}

		h.Free(b)
		h.Free(grown)
	})

	t.Run("PreservesPayloadAcrossGrowLeft", func(t *testing.T) {
		h := newTestHeap(t)

		left := h.Allocate(64)
		mid := h.Allocate(64)
		guard := h.Allocate(16) // keeps mid off the heap tail, so it cannot grow in place
		h.Free(left)

		data := (*[64]byte)(mid)
		for i := range data {
			data[i] = byte(i * 3)
		}

		grown := h.Realloc(mid, 120)

		newData := (*[120]byte)(grown)
		for i := 0; i < 64; i++ {
			if newData[i] != byte(i*3) {
				t.Errorf("payload not preserved across grow-left at index %d", i)
			}
		}

		h.Free(guard)
		h.Free(grown)
	})
}

func TestCalloc(t *testing.T) {
	h := newTestHeap(t)

	t.Run("ZeroesMemory", func(t *testing.T) {
		ptr := h.Calloc(16, 8)
		if ptr == nil {
			t.Fatal("calloc failed")
		}

		data := (*[128]byte)(ptr)
		for i, b := range data {
			if b != 0 {
				t.Fatalf("byte %d not zeroed: %d", i, b)
			}
		}

		h.Free(ptr)
	})

	t.Run("OverflowIsRejected", func(t *testing.T) {
		huge := ^uintptr(0)

		if ptr := h.Calloc(2, huge); ptr != nil {
			t.Error("calloc should reject an overflowing nmemb*size")
		}

		if h.LastError() == nil {
			t.Error("expected LastError to record the overflow")
		} else if h.LastError().Category != CategoryOverflow {
			t.Errorf("expected CategoryOverflow, got %v", h.LastError().Category)
		}
	})

	t.Run("ZeroCountOrSizeActsAsZeroAllocate", func(t *testing.T) {
		if ptr := h.Calloc(0, 8); ptr != nil {
			t.Error("calloc(0, n) should return nil")
		}

		if ptr := h.Calloc(8, 0); ptr != nil {
			t.Error("calloc(n, 0) should return nil")
		}
	})
}

// TestAllocateReportsOutOfMemory uses a gomock double for
// provider.Provider to force a deterministic Extend failure, rather
// than exhausting real address space.
func TestAllocateReportsOutOfMemory(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mp := mock.NewMockProvider(ctrl)

	// The mock must still hand out addresses backed by real memory:
	// Init and Allocate write through them with unsafe.Pointer, so a
	// fabricated address would segfault. Only the second Extend call,
	// the one actually under test, needs to be a pure failure.
	region := make([]byte, 4096)
	base := uintptr(unsafe.Pointer(&region[0]))

	// Init needs one successful Extend for the prologue/epilogue.
	mp.EXPECT().Base().Return(base).AnyTimes()
	mp.EXPECT().Extend(gomock.Any()).Return(base, true)

	h, err := Init(mp, WithInitialReserve(0))
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	mp.EXPECT().Extend(gomock.Any()).Return(uintptr(0), false)

	if ptr := h.Allocate(4096); ptr != nil {
		t.Fatal("expected Allocate to fail when the provider refuses to grow")
	}

	if h.LastError() == nil {
		t.Fatal("expected LastError to be recorded")
	}

	if h.LastError().Category != CategoryOutOfMemory {
		t.Errorf("expected CategoryOutOfMemory, got %v", h.LastError().Category)
	}
}
