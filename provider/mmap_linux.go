//go:build linux

package provider

import (
	"fmt"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"
)

// reservationSize is the size of the address-space reservation backing
// an mmapProvider. It is reserved with PROT_NONE up front and committed
// page by page as Extend is called, so the reservation's base address
// can serve as a fixed high-bit prefix without ever needing to move
// already-handed-out memory.
const reservationSize = 1 << 31 // 2 GiB of address space, never all resident; keeps link offsets within 32 bits

// mmapProvider is a Provider backed by a single large anonymous mmap
// reservation. It never calls munmap: the heap only grows.
type mmapProvider struct {
	mu        sync.Mutex
	region    []byte
	base      uintptr
	committed uintptr
}

// NewMmapProvider reserves reservationSize bytes of address space with
// no backing pages (PROT_NONE) and returns a Provider that commits
// pages into that reservation on demand.
func NewMmapProvider() (Provider, error) {
	region, err := unix.Mmap(-1, 0, reservationSize,
		unix.PROT_NONE, unix.MAP_PRIVATE|unix.MAP_ANON|unix.MAP_NORESERVE)
	if err != nil {
		return nil, fmt.Errorf("provider: reserve address space: %w", err)
	}

	return &mmapProvider{
		region: region,
		base:   uintptr(unsafe.Pointer(&region[0])),
	}, nil
}

func (p *mmapProvider) Extend(delta uintptr) (uintptr, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.committed+delta > reservationSize {
		return 0, false
	}

	start := p.committed
	// mprotect needs a page-aligned address; the page holding start may
	// already be writable from an earlier Extend.
	pageStart := start &^ uintptr(unix.Getpagesize()-1)
	if err := unix.Mprotect(p.region[pageStart:start+delta], unix.PROT_READ|unix.PROT_WRITE); err != nil {
		return 0, false
	}

	p.committed += delta

	return p.base + start, true
}

func (p *mmapProvider) Base() uintptr {
	return p.base
}
