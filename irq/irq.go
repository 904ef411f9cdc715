// Package irq defines the interrupt controller collaborator and a
// human-readable vector name index. The actual 8259A/APIC programming
// lives outside this module; this package only names the shape a driver
// needs.
package irq

import "sync"

// HandlerFunc is invoked when the vector it was registered for fires.
type HandlerFunc func(vector uint8)

// Controller is the external collaborator for interrupt controller
// programming: registering a handler for a vector, and acknowledging
// end-of-interrupt once a handler has finished servicing its device.
type Controller interface {
	RegisterHandler(vector uint8, fn HandlerFunc)
	Acknowledge(vector uint8)
}

// PIC1Offset is the conventional remapped vector base for the master 8259A.
// Cascaded PC hardware remaps the master to 0x20 and the slave to 0x28 so
// neither overlaps the CPU's reserved exception vectors 0x00-0x1F.
const PIC1Offset uint8 = 0x20

// NameIndex maps human-readable handler names ("Timer", "Keyboard",
// "RTL8139") to absolute CPU vectors, populated at boot and extensible at
// runtime. Looked up during IDT setup and occasionally during driver
// registration, from thread context only.
type NameIndex struct {
	mu      sync.Mutex
	vectors map[string]uint8
}

// NewNameIndex creates an empty index.
func NewNameIndex() *NameIndex {
	return &NameIndex{vectors: make(map[string]uint8)}
}

// Register stores PIC1Offset + relativeLine under name and returns the
// absolute vector.
func (n *NameIndex) Register(name string, relativeLine uint8) uint8 {
	vector := PIC1Offset + relativeLine
	n.mu.Lock()
	defer n.mu.Unlock()
	n.vectors[name] = vector
	return vector
}

// Lookup returns the vector registered for name, if any.
func (n *NameIndex) Lookup(name string) (uint8, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	v, ok := n.vectors[name]
	return v, ok
}
