package heap

import "unsafe"

// word is the fixed-width metadata unit the heap is viewed as an array
// of: W=4 bytes, the same width as a boundary tag header or footer.
type word = uint32

const (
	wordSize  = unsafe.Sizeof(word(0)) // W = 4
	alignment = 16                     // A = 16

	flagUsed     word = 1 << 0
	flagPrevFree word = 1 << 1
	flagMask          = flagUsed | flagPrevFree
)

// blockTag is a pointer to the first word of a block's header, i.e. a
// boundary tag in place. All boundary-tag operations are O(1) pointer
// arithmetic over the managed region.
type blockTag uintptr

func loadWord(addr uintptr) word {
	return *(*word)(unsafe.Pointer(addr))
}

func storeWord(addr uintptr, v word) {
	*(*word)(unsafe.Pointer(addr)) = v
}

// size returns the block's size in bytes with flag bits masked off.
func (bt blockTag) size() uintptr {
	return uintptr(loadWord(uintptr(bt)) &^ flagMask)
}

func (bt blockTag) isUsed() bool {
	return loadWord(uintptr(bt))&flagUsed != 0
}

func (bt blockTag) isFree() bool {
	return !bt.isUsed()
}

func (bt blockTag) prevIsFree() bool {
	return loadWord(uintptr(bt))&flagPrevFree != 0
}

// footer returns the address of a FREE block's footer word, the last
// word of the block. Only valid when bt.isFree().
func (bt blockTag) footer() blockTag {
	return blockTag(uintptr(bt) + bt.size() - wordSize)
}

// payload returns the address of the block's payload, immediately
// after the header word.
func (bt blockTag) payload() uintptr {
	return uintptr(bt) + wordSize
}

// fromPayload recovers the boundary tag from a payload pointer
// previously returned by allocate/realloc.
func fromPayload(p uintptr) blockTag {
	return blockTag(p - wordSize)
}

// next returns the address of the physically following block. For the
// last block that address is heapEnd, where the epilogue lives; callers
// compare against heapEnd directly.
func (bt blockTag) next() blockTag {
	return blockTag(uintptr(bt) + bt.size())
}

// prev returns the address of the physically preceding block. The
// caller MUST only invoke this when bt.prevIsFree() holds: every FREE
// block's footer is a duplicate of its header, and that footer sits in
// the word immediately before bt; a USED predecessor has no footer to
// read.
func (bt blockTag) prev() blockTag {
	footerWord := loadWord(uintptr(bt) - wordSize)
	prevSize := uintptr(footerWord &^ flagMask)

	return blockTag(uintptr(bt) - prevSize)
}

// make writes bt's header (and, for FREE blocks, its footer, kept
// identical to the header) with the given size, freeness and PREVFREE
// bit, and fixes up the PREVFREE bit of the physically following block
// accordingly. make is the sole owner of every block's PREVFREE bit: no
// other function may set or clear it directly, on bt or on any neighbor.
func (bt blockTag) make(size uintptr, free, prevFree bool) {
	var flags word
	if !free {
		flags |= flagUsed
	}

	if prevFree {
		flags |= flagPrevFree
	}

	tagValue := word(size) | flags
	storeWord(uintptr(bt), tagValue)

	nxt := bt.next()
	if free {
		storeWord(uintptr(bt.footer()), tagValue)
		setPrevFree(nxt)
	} else {
		clearPrevFree(nxt)
	}
}

// makePreserving is make, but keeps bt's own current PREVFREE bit
// instead of forcing it; used whenever a block is rewritten in place
// (the used front of a split or shrink, a freed block, a block grown in
// place) and its predecessor's freeness hasn't changed.
func (bt blockTag) makePreserving(size uintptr, free bool) {
	bt.make(size, free, bt.prevIsFree())
}

func setPrevFree(bt blockTag) {
	storeWord(uintptr(bt), loadWord(uintptr(bt))|flagPrevFree)
}

func clearPrevFree(bt blockTag) {
	storeWord(uintptr(bt), loadWord(uintptr(bt))&^flagPrevFree)
}

// alignUp rounds size up to the nearest multiple of alignment.
func alignUp(size, align uintptr) uintptr {
	return (size + align - 1) &^ (align - 1)
}

// blockSizeFor computes the aligned total block size (header + payload,
// rounded to alignment) required to satisfy a user request of n bytes,
// mirroring mm.c's blksz.
func blockSizeFor(n uintptr) uintptr {
	return alignUp(n+wordSize, alignment)
}
