package heap

import "unsafe"

// Default is the package-level Heap instance the Allocate/Free/Realloc/
// Calloc/CheckHeap functions below operate on, mirroring the role
// internal/allocator.GlobalAllocator plays for that package's
// Alloc/Free/Realloc wrappers. It is nil until SetDefault is called;
// callers that want dependency injection should use a *Heap directly
// instead of the package-level functions.
var Default *Heap

// SetDefault installs h as the heap the package-level functions
// operate on. Typically called once at process startup with the
// result of Init.
func SetDefault(h *Heap) {
	Default = h
}

func Allocate(n uintptr) unsafe.Pointer {
	return Default.Allocate(n)
}

func Free(ptr unsafe.Pointer) {
	Default.Free(ptr)
}

func Realloc(ptr unsafe.Pointer, n uintptr) unsafe.Pointer {
	return Default.Realloc(ptr, n)
}

func Calloc(nmemb, size uintptr) unsafe.Pointer {
	return Default.Calloc(nmemb, size)
}

func CheckHeap(verbose bool) error {
	return Default.CheckHeap(verbose)
}
