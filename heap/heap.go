// Package heap implements a boundary-tag, explicit-free-list dynamic
// memory allocator over a single, contiguous, monotonically growable
// heap region obtained from a provider.Provider. It is not safe for
// concurrent use: callers serialize access to a given *Heap
// themselves, exactly as the C allocator this was distilled from
// assumes a single-threaded caller.
package heap

import (
	"fmt"
	"unsafe"

	"github.com/orizon-lang/btalloc/provider"
)

// FitStrategy selects how Heap.Allocate searches the free list.
type FitStrategy int

const (
	// BestFit scans the whole free list and returns the smallest
	// block that satisfies the request. This is the default.
	BestFit FitStrategy = iota
	// FirstFit returns the first block encountered that satisfies the
	// request. mm.c carries this behind an `#if 0` in favor of
	// BestFit; kept here as a selectable strategy.
	FirstFit
)

// Config configures a Heap, mirroring the functional-options
// Config/Option pattern internal/allocator.Config uses.
type Config struct {
	// InitialReserve is the total size, in bytes, Init requests from
	// the provider up front. Any amount beyond the prologue/epilogue
	// overhead becomes one initial FREE block, amortizing the first
	// several allocations into a single Extend call instead of one
	// morecore round trip apiece.
	InitialReserve uintptr
	// FitStrategy selects bestFit (default) or firstFit.
	Fit FitStrategy
	// EnableDebug gates verbose CheckHeap output, matching
	// internal/allocator.Config.EnableDebug and mm.c's DEBUG macro.
	EnableDebug bool
	// EnableLeakCheck gates whether Heap tracks outstanding
	// allocation counts for CheckLeaks-style reporting, matching
	// internal/allocator.Config.EnableLeakCheck.
	EnableLeakCheck bool
}

type Option func(*Config)

func defaultConfig() *Config {
	return &Config{
		InitialReserve:  4096,
		Fit:             BestFit,
		EnableDebug:     false,
		EnableLeakCheck: true,
	}
}

func WithInitialReserve(n uintptr) Option {
	return func(c *Config) { c.InitialReserve = n }
}

func WithFitStrategy(s FitStrategy) Option {
	return func(c *Config) { c.Fit = s }
}

func WithDebug(enabled bool) Option {
	return func(c *Config) { c.EnableDebug = enabled }
}

func WithLeakCheck(enabled bool) Option {
	return func(c *Config) { c.EnableLeakCheck = enabled }
}

// Heap encapsulates the allocator instance state: heap_start, heap_end,
// list_head, list_tail and friends, all unexported fields instead of
// package globals.
type Heap struct {
	provider provider.Provider
	config   *Config

	base     uintptr // provider.Base(), cached
	start    blockTag
	end      uintptr // one past the last managed byte; also the epilogue's address
	listHead blockTag
	listTail blockTag

	liveAllocations int64 // only maintained when config.EnableLeakCheck
	lastErr         *AllocError
}

// LastError returns the AllocError recorded by the most recent failed
// operation, or nil if none has failed yet. The public API keeps the
// C contract of returning nil/void on failure; LastError is a
// diagnostic side channel that the allocation path itself never reads.
func (h *Heap) LastError() *AllocError {
	return h.lastErr
}

// prologueSize is the fixed 16-byte USED sentinel block at heap_start:
// one header word, padded to the 16-byte minimum block size, with no
// usable payload.
const prologueSize = alignment

// Init establishes the prologue and epilogue and returns a ready-to-use
// Heap backed by p.
func Init(p provider.Provider, opts ...Option) (*Heap, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	h := &Heap{
		provider: p,
		config:   cfg,
		base:     p.Base(),
	}

	// Reserve room for the prologue (16 bytes) plus one epilogue word,
	// rounded up to alignment so the first real block starts aligned.
	minimal := alignUp(prologueSize+wordSize, alignment)

	// InitialReserve amortizes the first few allocations into a single
	// Extend call instead of growing one morecore request at a time;
	// any amount beyond the prologue/epilogue overhead becomes one
	// initial FREE block on the list.
	initial := minimal
	if reserve := alignUp(cfg.InitialReserve, alignment); reserve > minimal {
		initial = reserve
	}

	start, ok := p.Extend(initial)
	if !ok {
		return nil, fmt.Errorf("heap: init: %w", errOutOfMemory("init", initial))
	}

	prologue := blockTag(start)
	prologue.make(prologueSize, false, false)

	h.start = blockTag(start + prologueSize)
	h.end = start + initial - alignment
	storeWord(h.end, flagUsed) // epilogue: zero-size USED sentinel

	if extra := initial - minimal; extra > 0 {
		h.start.make(extra, true, false)
		h.listAdd(h.start)
	}

	return h, nil
}

// debugCheck runs CheckHeap after a mutation when Config.EnableDebug is
// set, panicking on the first broken invariant. This mirrors mm.c's
// DEBUG macro, which calls mm_checkheap after every malloc/free/realloc
// and aborts on the first inconsistency it finds.
func (h *Heap) debugCheck() {
	if !h.config.EnableDebug {
		return
	}

	if err := h.CheckHeap(true); err != nil {
		panic(err)
	}
}

// Allocate reserves n bytes and returns a pointer to the payload, or
// nil if the heap cannot be grown to satisfy the request.
func (h *Heap) Allocate(n uintptr) unsafe.Pointer {
	defer h.debugCheck()

	if n == 0 {
		return nil
	}

	asize := blockSizeFor(n)

	if bt := h.findFit(asize); bt != 0 {
		h.split(bt, asize)
		h.trackAlloc(1)

		return unsafe.Pointer(bt.payload())
	}

	bt, ok := h.morecore(asize)
	if !ok {
		h.lastErr = errOutOfMemory("allocate", asize)

		return nil
	}

	bt.makePreserving(asize, false)
	h.trackAlloc(1)

	return unsafe.Pointer(bt.payload())
}

// Free releases a block previously returned by Allocate, Realloc or
// Calloc, coalescing it with any free neighbors. Free(nil) is a no-op.
func (h *Heap) Free(ptr unsafe.Pointer) {
	defer h.debugCheck()

	if ptr == nil {
		return
	}

	bt := fromPayload(uintptr(ptr))
	bt.makePreserving(bt.size(), true)
	h.coalesce(bt)
	h.trackAlloc(-1)
}

// Realloc resizes the block at ptr to n bytes, preferring in-place
// shrink or grow-into-neighbors before falling back to allocate+copy+
// free. Realloc(nil, n) behaves as Allocate(n); Realloc(ptr, 0)
// behaves as Free(ptr) and returns nil.
func (h *Heap) Realloc(ptr unsafe.Pointer, n uintptr) unsafe.Pointer {
	defer h.debugCheck()

	if ptr == nil {
		return h.Allocate(n)
	}

	if n == 0 {
		h.Free(ptr)

		return nil
	}

	bt := fromPayload(uintptr(ptr))
	oldSize := bt.size()
	asize := blockSizeFor(n)

	// Shrink in place.
	if asize <= oldSize {
		h.shrinkInPlace(bt, asize, oldSize)

		return ptr
	}

	// Tail of heap: grow the heap itself and extend in place.
	if uintptr(bt.next()) == h.end {
		need := asize - oldSize
		if _, ok := h.morecore(need); !ok {
			h.lastErr = errOutOfMemory("realloc", need)

			return nil
		}

		bt.makePreserving(asize, false)

		return ptr
	}

	// Grow into neighboring free space, trying {both, left, right}.
	if newPtr, ok := h.reallocGrowNeighbors(bt, ptr, oldSize, asize, n); ok {
		return newPtr
	}

	// Fallback: allocate, copy, free.
	q := h.Allocate(n)
	if q == nil {
		return nil
	}

	copySize := oldSize - wordSize
	if n < copySize {
		copySize = n
	}

	forwardCopy(uintptr(q), uintptr(ptr), copySize)
	h.Free(ptr)

	return q
}

// Calloc allocates space for nmemb objects of size bytes each and
// zeroes it, rejecting nmemb*size overflow that mm.c's original source
// left unchecked.
func (h *Heap) Calloc(nmemb, size uintptr) unsafe.Pointer {
	if nmemb == 0 || size == 0 {
		return h.Allocate(0)
	}

	if size > ^uintptr(0)/nmemb {
		h.lastErr = errCallocOverflow(nmemb, size)

		return nil // overflow
	}

	total := nmemb * size

	p := h.Allocate(total)
	if p == nil {
		return nil
	}

	zero(uintptr(p), total)

	return p
}

func (h *Heap) trackAlloc(delta int64) {
	if h.config.EnableLeakCheck {
		h.liveAllocations += delta
	}
}

// LiveAllocations returns the number of outstanding (unfreed)
// allocations, when leak checking is enabled.
func (h *Heap) LiveAllocations() int64 {
	return h.liveAllocations
}

func (h *Heap) findFit(asize uintptr) blockTag {
	if h.config.Fit == FirstFit {
		return h.firstFit(asize)
	}

	return h.bestFit(asize)
}

// split consumes all of bt if the leftover would be smaller than the
// 16-byte minimum free block, otherwise carves off a USED front of
// asize and a FREE tail, then coalesces the tail.
func (h *Heap) split(bt blockTag, asize uintptr) {
	total := bt.size()
	h.listRemove(bt)

	if total-asize >= alignment {
		bt.makePreserving(asize, false)

		tail := bt.next()
		tail.make(total-asize, true, false)
		h.coalesce(tail)

		return
	}

	bt.makePreserving(total, false)
}

// shrinkInPlace carves the unused tail of bt into a new FREE block when
// the new size leaves at least one minimum-sized block behind.
func (h *Heap) shrinkInPlace(bt blockTag, asize, oldSize uintptr) {
	if oldSize-asize < alignment {
		return
	}

	bt.makePreserving(asize, false)

	tail := bt.next()
	tail.make(oldSize-asize, true, false)
	h.coalesce(tail)
}

// reallocGrowNeighbors tries growing bt into its free neighbors in
// order {both sides, left, right}, returning the new payload pointer
// on success.
func (h *Heap) reallocGrowNeighbors(bt blockTag, oldPtr unsafe.Pointer, oldSize, asize, n uintptr) (unsafe.Pointer, bool) {
	prevFree := bt.prevIsFree()
	nxt := bt.next()
	nextFree := uintptr(nxt) != h.end && nxt.isFree()

	copyLen := n
	if oldSize-wordSize < copyLen {
		copyLen = oldSize - wordSize
	}

	if prevFree && nextFree {
		prev := bt.prev()
		combined := prev.size() + oldSize + nxt.size()

		if combined >= asize {
			h.listRemove(prev)
			h.listRemove(nxt)
			forwardCopy(prev.payload(), uintptr(oldPtr), copyLen)
			h.finishGrowLeft(prev, combined, asize)

			return unsafe.Pointer(prev.payload()), true
		}
	}

	if prevFree {
		prev := bt.prev()
		combined := prev.size() + oldSize

		if combined >= asize {
			h.listRemove(prev)
			forwardCopy(prev.payload(), uintptr(oldPtr), copyLen)
			h.finishGrowLeft(prev, combined, asize)

			return unsafe.Pointer(prev.payload()), true
		}
	}

	if nextFree {
		combined := oldSize + nxt.size()

		if combined >= asize {
			h.listRemove(nxt)
			// bt doesn't move: no copy needed.
			h.finishGrowRight(bt, combined, asize)

			return unsafe.Pointer(bt.payload()), true
		}
	}

	return nil, false
}

// finishGrowLeft writes dst (a former left/both-side free neighbor) as
// USED of size asize, carving and coalescing a FREE tail fragment if
// the merged region left more than asize behind. dst MUST NOT have had
// PREVFREE set: dst was itself FREE immediately before this merge, and
// no two adjacent blocks can both be FREE, so a free block's own
// predecessor can never also be free, so dst.prevIsFree() is always
// false here.
func (h *Heap) finishGrowLeft(dst blockTag, combined, asize uintptr) {
	if h.config.EnableDebug && dst.prevIsFree() {
		panic(errInvariantViolation(fmt.Sprintf(
			"grow-left target %#x has PREVFREE set", uintptr(dst))))
	}

	if combined-asize >= alignment {
		dst.make(asize, false, false)

		tail := dst.next()
		tail.make(combined-asize, true, false)
		h.coalesce(tail)

		return
	}

	dst.make(combined, false, false)
}

// finishGrowRight writes bt (which does not move: only its free right
// neighbor was absorbed) as USED of the combined size, preserving bt's
// own PREVFREE bit. Unlike finishGrowLeft's dst, bt's predecessor's
// freeness is untouched by a right-only merge.
func (h *Heap) finishGrowRight(bt blockTag, combined, asize uintptr) {
	if combined-asize >= alignment {
		bt.makePreserving(asize, false)

		tail := bt.next()
		tail.make(combined-asize, true, false)
		h.coalesce(tail)

		return
	}

	bt.makePreserving(combined, false)
}

// coalesce merges bt with any FREE neighbors and returns the resulting
// block, which this call leaves correctly reflected in the free list.
func (h *Heap) coalesce(bt blockTag) blockTag {
	prevFree := bt.prevIsFree()
	nxt := bt.next()
	nextFree := uintptr(nxt) != h.end && nxt.isFree()

	switch {
	case !prevFree && !nextFree:
		h.listAdd(bt)

		return bt

	case !prevFree && nextFree:
		h.listRemove(nxt)
		bt.make(bt.size()+nxt.size(), true, false)
		h.listAdd(bt)

		return bt

	case prevFree && !nextFree:
		prev := bt.prev()
		h.listRemove(prev)
		prev.make(prev.size()+bt.size(), true, false)
		h.listAdd(prev)

		return prev

	default:
		prev := bt.prev()
		h.listRemove(prev)
		h.listRemove(nxt)
		prev.make(prev.size()+bt.size()+nxt.size(), true, false)
		h.listAdd(prev)

		return prev
	}
}

// morecore asks the provider for `need` more bytes and relocates the
// epilogue, returning the address of the old epilogue word: the new
// block's header reclaims that word exactly as mm.c's morecore does,
// rather than starting at whatever fresh address the provider commits
// next. The caller writes the returned tag's header.
func (h *Heap) morecore(need uintptr) (blockTag, bool) {
	old := h.end

	if _, ok := h.provider.Extend(need); !ok {
		return 0, false
	}

	h.end = old + need
	storeWord(h.end, flagUsed)

	return blockTag(old), true
}

// forwardCopy copies n bytes from src to dst, tolerating the case
// where dst is before src and the ranges overlap: the realloc-left/
// both copy moves a block's payload into a lower address that
// partially overlaps it. A byte-by-byte forward copy is always
// overlap-safe when dst <= src, which is the only direction these
// call sites ever use.
func forwardCopy(dst, src, n uintptr) {
	if n == 0 || dst == src {
		return
	}

	d := (*[1 << 30]byte)(unsafe.Pointer(dst))[:n:n]
	s := (*[1 << 30]byte)(unsafe.Pointer(src))[:n:n]

	for i := uintptr(0); i < n; i++ {
		d[i] = s[i]
	}
}

func zero(addr, n uintptr) {
	b := (*[1 << 30]byte)(unsafe.Pointer(addr))[:n:n]
	for i := range b {
		b[i] = 0
	}
}
