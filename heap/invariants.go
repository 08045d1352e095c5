package heap

import "fmt"

// CheckHeap walks the heap from the prologue to the epilogue and
// verifies the boundary-tag and free-list invariants. It returns the
// first violation found as an *AllocError (CategoryInvariant), or nil
// if the heap is consistent. When verbose is true it also prints a
// per-block trace, matching mm.c's mm_checkheap/getblockinfo.
func (h *Heap) CheckHeap(verbose bool) error {
	if verbose {
		fmt.Printf("heap: start=%#x end=%#x listHead=%#x listTail=%#x\n",
			uintptr(h.start), h.end, uintptr(h.listHead), uintptr(h.listTail))
	}

	var (
		sawSizes    uintptr
		prevWasFree bool
	)

	cur := h.start
	for uintptr(cur) < h.end {
		size := cur.size()

		if verbose {
			kind := "USED"
			if cur.isFree() {
				kind = "FREE"
			}

			fmt.Printf("  block %#x size=%d %s prevFree=%v\n",
				uintptr(cur), size, kind, cur.prevIsFree())
		}

		// Every block size is >= the minimum block size and a multiple
		// of the alignment.
		if size < alignment || size%alignment != 0 {
			return errInvariantViolation(fmt.Sprintf(
				"block %#x has invalid size %d (must be >=%d and a multiple of %d)",
				uintptr(cur), size, alignment, alignment))
		}

		// For every FREE block, header and footer must match.
		if cur.isFree() {
			headerVal := loadWord(uintptr(cur))
			footerVal := loadWord(uintptr(cur.footer()))

			if headerVal != footerVal {
				return errInvariantViolation(fmt.Sprintf(
					"block %#x is FREE but header (%d) != footer (%d)",
					uintptr(cur), headerVal, footerVal))
			}
		}

		// PREVFREE(cur) must hold iff the physically preceding block is FREE.
		if cur.prevIsFree() != prevWasFree {
			return errInvariantViolation(fmt.Sprintf(
				"block %#x has PREVFREE=%v but predecessor free=%v",
				uintptr(cur), cur.prevIsFree(), prevWasFree))
		}

		// No two physically adjacent blocks may both be FREE.
		if cur.isFree() && prevWasFree {
			return errInvariantViolation(fmt.Sprintf(
				"block %#x and its predecessor are both FREE (missed coalesce)",
				uintptr(cur)))
		}

		sawSizes += size
		prevWasFree = cur.isFree()
		cur = cur.next()
	}

	// Walking blocks from heap_start must reach the epilogue exactly,
	// with sum of sizes equal to heap_end - heap_start.
	if uintptr(cur) != h.end {
		return errInvariantViolation(fmt.Sprintf(
			"block walk overshot the epilogue: landed at %#x, epilogue at %#x",
			uintptr(cur), h.end))
	}

	if sawSizes != h.end-uintptr(h.start) {
		return errInvariantViolation(fmt.Sprintf(
			"sum of block sizes %d != heap_end - heap_start %d",
			sawSizes, h.end-uintptr(h.start)))
	}

	if err := h.checkFreeListConsistency(); err != nil {
		return err
	}

	return nil
}

// checkFreeListConsistency verifies that the set of blocks reachable
// from list_head forward equals the set reachable from list_tail
// backward equals the set of FREE blocks found in the heap walk, and
// that list_head.prev / list_tail.next are the null sentinel.
func (h *Heap) checkFreeListConsistency() error {
	forward := map[blockTag]bool{}

	for cur := h.listHead; cur != 0; cur = h.listNext(cur) {
		if forward[cur] {
			return errInvariantViolation(fmt.Sprintf("free list forward walk cycles at %#x", uintptr(cur)))
		}

		forward[cur] = true
	}

	if h.listHead != 0 && h.listPrev(h.listHead) != 0 {
		return errInvariantViolation("list_head.prev is not the null sentinel")
	}

	if h.listTail != 0 && h.listNext(h.listTail) != 0 {
		return errInvariantViolation("list_tail.next is not the null sentinel")
	}

	backward := map[blockTag]bool{}
	for cur := h.listTail; cur != 0; cur = h.listPrev(cur) {
		if backward[cur] {
			return errInvariantViolation(fmt.Sprintf("free list backward walk cycles at %#x", uintptr(cur)))
		}

		if !forward[cur] {
			return errInvariantViolation(fmt.Sprintf(
				"block %#x is reachable from list_tail but not from list_head", uintptr(cur)))
		}

		backward[cur] = true
	}

	if len(forward) != len(backward) {
		return errInvariantViolation("free list forward and backward walks disagree on length")
	}

	for cur := h.start; uintptr(cur) < h.end; cur = cur.next() {
		if cur.isFree() != forward[cur] {
			return errInvariantViolation(fmt.Sprintf(
				"block %#x free=%v but free-list membership=%v",
				uintptr(cur), cur.isFree(), forward[cur]))
		}
	}

	return nil
}

// FreeBlockCount returns the number of blocks currently on the free
// list.
func (h *Heap) FreeBlockCount() int {
	n := 0
	for cur := h.listHead; cur != 0; cur = h.listNext(cur) {
		n++
	}

	return n
}
