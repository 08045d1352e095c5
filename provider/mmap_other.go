//go:build !linux

package provider

import "fmt"

// NewMmapProvider is only implemented on linux; other platforms fall
// back to NewSliceProvider.
func NewMmapProvider() (Provider, error) {
	return nil, fmt.Errorf("provider: mmap-backed provider is only available on linux")
}
