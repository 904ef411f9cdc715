package simio

import (
	"encoding/binary"
	"sync"

	"github.com/pkg/errors"
)

// Register offsets, duplicated here rather than imported from the rtl8139
// driver package: the simulator models the chip, not the driver, and must
// stay correct even if the driver's constants drift.
const (
	regMAC0    = 0x00
	regTSAD0   = 0x10
	regTSAL0   = 0x20
	regRBSTART = 0x30
	regCommand = 0x37
	regCAPR    = 0x38
	regIMR     = 0x3C
	regISR     = 0x3E
	regRCR     = 0x44
	regConfig1 = 0x52

	regFileSize = 0x60

	cmdReset       = 0x10
	cmdBufferEmpty = 0x01

	txOwn = 0x2000
	txOK  = 0x8000

	isrROK = 0x0001
	isrTOK = 0x0004

	rxRingSize = 8192 + 16 + 1500
)

var errRingNotConfigured = errors.New("simio: receive ring buffer not configured")

// RTL8139Device is a simulated RTL8139 register file. It answers the
// driver's port reads and writes directly, performs the transmit DMA by
// reinterpreting the physical address the driver programmed as a byte
// slice, and injects inbound frames into the receive ring via
// DeliverFrame.
type RTL8139Device struct {
	mu     sync.Mutex
	ioBase uint16
	pic    *PIC
	vec    uint8

	regs [regFileSize]byte

	rbstart  uint64
	rxCursor uint32

	// TransmitLog records each frame handed to the simulated wire, in the
	// order Out32 writes to a transmit-status slot completed them.
	TransmitLog [][]byte
}

// NewRTL8139Device creates a simulated NIC occupying [ioBase, ioBase+0x60)
// and wired to pic, which it raises vec on for every receive-ok or
// transmit-ok interrupt.
func NewRTL8139Device(ioBase uint16, mac [6]byte, pic *PIC, vec uint8) *RTL8139Device {
	d := &RTL8139Device{ioBase: ioBase, pic: pic, vec: vec}
	copy(d.regs[regMAC0:regMAC0+6], mac[:])
	d.presetTransmitSlots()
	d.regs[regCommand] = cmdBufferEmpty
	return d
}

func (d *RTL8139Device) presetTransmitSlots() {
	for i := 0; i < 4; i++ {
		binary.LittleEndian.PutUint32(d.regs[regTSAD0+4*i:], txOwn)
	}
}

func (d *RTL8139Device) reset() {
	var mac [6]byte
	copy(mac[:], d.regs[regMAC0:regMAC0+6])
	d.regs = [regFileSize]byte{}
	copy(d.regs[regMAC0:regMAC0+6], mac[:])
	d.presetTransmitSlots()
	d.regs[regCommand] = cmdBufferEmpty
	d.rbstart = 0
	d.rxCursor = 0
}

func (d *RTL8139Device) offset(port uint16) uint16 {
	return port - d.ioBase
}

func (d *RTL8139Device) reg(off uint16) byte {
	if int(off) >= len(d.regs) {
		return 0xFF
	}
	return d.regs[off]
}

func (d *RTL8139Device) In8(port uint16) uint8 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.reg(d.offset(port))
}

func (d *RTL8139Device) In16(port uint16) uint16 {
	d.mu.Lock()
	defer d.mu.Unlock()
	off := d.offset(port)
	return uint16(d.reg(off)) | uint16(d.reg(off+1))<<8
}

func (d *RTL8139Device) In32(port uint16) uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	off := d.offset(port)
	return uint32(d.reg(off)) | uint32(d.reg(off+1))<<8 |
		uint32(d.reg(off+2))<<16 | uint32(d.reg(off+3))<<24
}

func (d *RTL8139Device) Out8(port uint16, value uint8) {
	d.mu.Lock()
	defer d.mu.Unlock()

	off := d.offset(port)
	switch off {
	case regCommand:
		if value&cmdReset != 0 {
			d.reset()
		} else {
			// BUFFER_EMPTY is a hardware-maintained status bit, not a
			// software-writable one on real silicon; preserve it across a
			// software write to the RE/TE/RST control bits.
			d.regs[regCommand] = (d.regs[regCommand] & cmdBufferEmpty) | (value &^ cmdBufferEmpty)
		}
	default:
		if int(off) < len(d.regs) {
			d.regs[off] = value
		}
	}
}

func (d *RTL8139Device) Out16(port uint16, value uint16) {
	off := d.offset(port)
	switch off {
	case regCAPR:
		d.mu.Lock()
		binary.LittleEndian.PutUint16(d.regs[off:], value)
		// The driver reports its read position as receiveIndex-0x10; once
		// that catches up with the ring's write cursor, the ring is empty
		// and the driver's receive loop must see BUFFER_EMPTY set, or it
		// would spin forever re-parsing the same exhausted frame.
		if (uint32(value)+0x10)%8192 == d.rxCursor {
			d.regs[regCommand] |= cmdBufferEmpty
		}
		d.mu.Unlock()
	case regIMR:
		d.mu.Lock()
		binary.LittleEndian.PutUint16(d.regs[off:], value)
		d.mu.Unlock()
	case regISR:
		d.mu.Lock()
		cur := binary.LittleEndian.Uint16(d.regs[regISR:])
		binary.LittleEndian.PutUint16(d.regs[regISR:], cur&^value)
		d.mu.Unlock()
	default:
		d.Out8(port, byte(value))
		d.Out8(port+1, byte(value>>8))
	}
}

func (d *RTL8139Device) Out32(port uint16, value uint32) {
	off := d.offset(port)

	switch {
	case off == regRBSTART:
		d.mu.Lock()
		binary.LittleEndian.PutUint32(d.regs[regRBSTART:], value)
		d.rbstart = uint64(value)
		d.mu.Unlock()

	case off == regRCR:
		d.mu.Lock()
		binary.LittleEndian.PutUint32(d.regs[regRCR:], value)
		d.mu.Unlock()

	case off >= regTSAL0 && off < regTSAL0+16:
		d.mu.Lock()
		binary.LittleEndian.PutUint32(d.regs[off:], value)
		d.mu.Unlock()

	case off >= regTSAD0 && off < regTSAD0+16:
		d.transmit(off, value)

	default:
		d.Out16(port, uint16(value))
		d.Out16(port+2, uint16(value>>16))
	}
}

// transmit simulates the DMA a real RTL8139 performs when the driver writes
// a length into a transmit-status slot: it reads the frame straight out of
// the physical address the matching TSAD register holds, records it, and
// reports completion by setting OWN and TOK in the slot's status register.
func (d *RTL8139Device) transmit(statusOff uint16, value uint32) {
	slot := (statusOff - regTSAD0) / 4
	length := value & 0x1FFF

	d.mu.Lock()
	addr := binary.LittleEndian.Uint32(d.regs[regTSAL0+4*slot:])
	d.mu.Unlock()

	frame := physToBytes(uint64(addr), int(length))
	cp := make([]byte, len(frame))
	copy(cp, frame)

	d.mu.Lock()
	d.TransmitLog = append(d.TransmitLog, cp)
	binary.LittleEndian.PutUint32(d.regs[statusOff:], length|txOwn|txOK)
	isr := binary.LittleEndian.Uint16(d.regs[regISR:]) | isrTOK
	binary.LittleEndian.PutUint16(d.regs[regISR:], isr)
	d.mu.Unlock()

	d.pic.Raise(d.vec)
}

// DeliverFrame simulates an inbound packet arriving on the wire: it writes
// the RTL8139's 4-byte receive descriptor (status, length) followed by the
// frame bytes into the ring at rbstart+rxCursor, advances rxCursor by the
// same dword-aligned, wrap-at-8KiB rule the driver's receive loop uses to
// advance its own read index, and raises the NIC's interrupt.
func (d *RTL8139Device) DeliverFrame(frame []byte) error {
	d.mu.Lock()

	if d.rbstart == 0 {
		d.mu.Unlock()
		return errRingNotConfigured
	}

	ring := physToBytes(d.rbstart, rxRingSize)
	if ring == nil {
		d.mu.Unlock()
		return errRingNotConfigured
	}

	status := uint16(isrROK)
	length := uint16(len(frame)) + 4

	binary.LittleEndian.PutUint16(ring[d.rxCursor:], status)
	binary.LittleEndian.PutUint16(ring[d.rxCursor+2:], length)
	copy(ring[d.rxCursor+4:], frame)

	advance := (uint32(length) + 4 + 3) &^ 3
	d.rxCursor = (d.rxCursor + advance) % 8192

	binary.LittleEndian.PutUint16(d.regs[regISR:], binary.LittleEndian.Uint16(d.regs[regISR:])|isrROK)
	d.regs[regCommand] &^= cmdBufferEmpty

	// The handler Raise invokes reads this device's registers, so the lock
	// must be dropped before the interrupt is delivered.
	d.mu.Unlock()
	d.pic.Raise(d.vec)
	return nil
}
