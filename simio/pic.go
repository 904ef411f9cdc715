package simio

import (
	"sync"

	"netcore/irq"
)

// PIC is a minimal stand-in for the 8259A pair: just the surface
// irq.Controller needs plus a synchronous Raise. A device never programs
// ICWs/OCWs itself; it raises a line and trusts something else to turn
// that into a CPU vector.
type PIC struct {
	mu            sync.Mutex
	handlers      map[uint8]irq.HandlerFunc
	Acknowledged  []uint8
}

// NewPIC creates an empty simulated interrupt controller.
func NewPIC() *PIC {
	return &PIC{handlers: make(map[uint8]irq.HandlerFunc)}
}

// RegisterHandler implements irq.Controller.
func (p *PIC) RegisterHandler(vector uint8, fn irq.HandlerFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers[vector] = fn
}

// Acknowledge implements irq.Controller. It records the EOI for test
// assertions rather than programming real 8259A OCW2 bits.
func (p *PIC) Acknowledge(vector uint8) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Acknowledged = append(p.Acknowledged, vector)
}

// Raise synchronously invokes the handler registered for vector, standing
// in for the PIC asserting the CPU's INTR line and the CPU vectoring into
// the IDT entry. There is no real CPU here, so the call just happens inline.
func (p *PIC) Raise(vector uint8) {
	p.mu.Lock()
	fn := p.handlers[vector]
	p.mu.Unlock()
	if fn != nil {
		fn(vector)
	}
}
