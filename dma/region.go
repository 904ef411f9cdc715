// Package dma provides the process-lifetime, physically-stable memory
// regions that bus-mastering devices DMA into and out of. The RTL8139's
// receive ring comes from here.
//
// Regions are anonymous mmaps: sized and aligned up front, never resized,
// and explicitly unmapped on Close.
package dma

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Region is a fixed-size, page-backed byte buffer with a stable address for
// the lifetime of the process. It is not safe to use after Close.
type Region struct {
	buf []byte
}

// NewRegion allocates a region of at least size bytes, rounded up to the
// host page size so the mapping is always page-aligned (4-byte alignment is
// all the RTL8139 ring strictly needs, but page alignment is what mmap gives
// us for free and keeps the mapping independently unmappable).
func NewRegion(size int) (*Region, error) {
	if size <= 0 {
		return nil, fmt.Errorf("dma: region size must be positive, got %d", size)
	}
	pageSize := unix.Getpagesize()
	mapped := ((size + pageSize - 1) / pageSize) * pageSize

	buf, err := unix.Mmap(-1, 0, mapped, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, fmt.Errorf("dma: mmap %d bytes: %w", mapped, err)
	}
	// Locking is best-effort: a DMA target that gets paged out mid-transfer
	// is a correctness bug, but an unprivileged process may not hold
	// CAP_IPC_LOCK, so the allocation doesn't fail over it.
	_ = unix.Mlock(buf)
	return &Region{buf: buf[:size:mapped]}, nil
}

// Bytes returns the region's backing slice, sized exactly as requested.
func (r *Region) Bytes() []byte {
	return r.buf
}

// VirtAddr returns the virtual address of the region's first byte, the
// value a MemoryTranslator expects as input.
func (r *Region) VirtAddr() uintptr {
	if len(r.buf) == 0 {
		return 0
	}
	return uintptr(unsafe.Pointer(&r.buf[0]))
}

// Close releases the underlying mapping. It is idempotent.
func (r *Region) Close() error {
	if r.buf == nil {
		return nil
	}
	// Munmap needs the whole page-rounded mapping, not the requested-size view.
	err := unix.Munmap(r.buf[:cap(r.buf)])
	r.buf = nil
	return err
}
