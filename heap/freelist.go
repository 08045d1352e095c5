package heap

// Free-list links are stored as offsets from the owning Heap's
// provider.Base(), reconstructed as base+offset; mm.c's
// ptr_address/ptr_size encode links the same way against a fixed base,
// as `0x800000000 | toadd`.
// nullLink (offset 0) is the list's sentinel: both list ends point at
// it, so list_head.prev and list_tail.next never need a separate
// "is this the end" test.
const nullLink word = 0

func (h *Heap) linkOffset(bt blockTag) word {
	if bt == 0 {
		return nullLink
	}

	return word(uintptr(bt) - h.base)
}

func (h *Heap) linkTag(offset word) blockTag {
	if offset == nullLink {
		return 0
	}

	return blockTag(h.base + uintptr(offset))
}

// nextLinkAddr / prevLinkAddr address the two in-payload words a FREE block
// reserves for its list links: next at payload+0, prev at payload+W.
func (bt blockTag) nextLinkAddr() uintptr { return bt.payload() }
func (bt blockTag) prevLinkAddr() uintptr { return bt.payload() + wordSize }

func (h *Heap) listNext(bt blockTag) blockTag {
	return h.linkTag(loadWord(bt.nextLinkAddr()))
}

func (h *Heap) listPrev(bt blockTag) blockTag {
	return h.linkTag(loadWord(bt.prevLinkAddr()))
}

func (h *Heap) setListNext(bt, next blockTag) {
	storeWord(bt.nextLinkAddr(), h.linkOffset(next))
}

func (h *Heap) setListPrev(bt, prev blockTag) {
	storeWord(bt.prevLinkAddr(), h.linkOffset(prev))
}

// listAdd pushes bt onto the head of the free list (LIFO).
func (h *Heap) listAdd(bt blockTag) {
	if h.listHead == 0 {
		h.listHead = bt
		h.listTail = bt
		h.setListNext(bt, 0)
		h.setListPrev(bt, 0)

		return
	}

	h.setListNext(bt, h.listHead)
	h.setListPrev(h.listHead, bt)
	h.setListPrev(bt, 0)
	h.listHead = bt
}

// listRemove unlinks bt from the free list. Four cases: sole element,
// head, tail, middle.
func (h *Heap) listRemove(bt blockTag) {
	switch {
	case h.listHead == bt && h.listTail == bt:
		h.listHead = 0
		h.listTail = 0
	case h.listHead == bt:
		h.listHead = h.listNext(bt)
		h.setListPrev(h.listHead, 0)
	case h.listTail == bt:
		h.listTail = h.listPrev(bt)
		h.setListNext(h.listTail, 0)
	default:
		prev := h.listPrev(bt)
		next := h.listNext(bt)
		h.setListNext(prev, next)
		h.setListPrev(next, prev)
	}
}

// bestFit scans the entire free list and returns the smallest block
// whose size is at least reqSize, ties broken by list order. Returns
// the zero tag if none fits.
func (h *Heap) bestFit(reqSize uintptr) blockTag {
	var best blockTag

	for cur := h.listHead; cur != 0; cur = h.listNext(cur) {
		sz := cur.size()
		if sz < reqSize {
			continue
		}

		if best == 0 || sz < best.size() {
			best = cur
		}
	}

	return best
}

// firstFit is the strategy mm.c disables with `#if 0` in favor of
// best-fit. Kept as a selectable FitStrategy rather than deleted
// outright.
func (h *Heap) firstFit(reqSize uintptr) blockTag {
	for cur := h.listHead; cur != 0; cur = h.listNext(cur) {
		if cur.size() >= reqSize {
			return cur
		}
	}

	return 0
}
