package simio

import "unsafe"

// physToBytes reinterprets a physical address as a Go byte slice. This is
// only valid because the simulator and the code DMA-ing into it share one
// process's address space and hwio.IdentityTranslator makes physical and
// virtual addresses numerically identical — the same trick real emulators
// play when they keep guest-physical memory backed by host-virtual memory,
// just without a second address space to translate between.
func physToBytes(addr uint64, length int) []byte {
	if addr == 0 || length <= 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(uintptr(addr))), length)
}
