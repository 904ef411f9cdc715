package rtl8139

import (
	"log"
	"sync"
	"unsafe"

	"github.com/pkg/errors"

	"netcore/dma"
	"netcore/hwio"
	"netcore/irq"
	"netcore/pci"
)

// ErrDeviceNotFound is returned by BringUp when the catalog has no
// vendor/device match. This is a soft failure: callers are expected to log
// it and continue without a NIC, not treat it as fatal.
var ErrDeviceNotFound = errors.New("rtl8139: device not found in PCI catalog")

// ErrFrameTooLarge is returned by Send when the caller's buffer exceeds the
// chip's 1792-byte transmit limit.
var ErrFrameTooLarge = errors.New("rtl8139: frame exceeds maximum transmit length")

// Config gathers the external collaborators BringUp needs. Everything is
// injected explicitly; the driver reads no globals.
type Config struct {
	Catalog *pci.Catalog
	Bus     hwio.PortBus
	Mem     hwio.MemoryTranslator
	IRQ     irq.Controller

	// Names, when non-nil, records the driver's IRQ vector under "RTL8139"
	// so IDT setup can find it by name.
	Names *irq.NameIndex

	// Logger receives soft-failure diagnostics (absent device, RER/TER).
	// Defaults to log.Default() when nil.
	Logger *log.Logger

	// OnFrame is invoked from interrupt context with each received frame's
	// raw bytes (the ring's frame data, CRC already stripped — still a
	// complete Ethernet frame, header included). A nil OnFrame silently
	// drops frames.
	OnFrame func(frame []byte)
}

// Driver is the bring-up result: the NIC's I/O base and MAC, its receive
// ring, and its transmit rotor. BringUp is single-shot, so one Driver is
// the only thing that ever touches its ring buffer and rotor.
type Driver struct {
	bus     hwio.PortBus
	mem     hwio.MemoryTranslator
	irqCtrl irq.Controller
	logger  *log.Logger
	onFrame func([]byte)

	ioBase uint16
	mac    [6]byte
	vector uint8

	rx           *dma.Region
	receiveIndex uint16

	lock  sync.Mutex
	rotor uint8
}

// IoBase returns the I/O base address bring-up discovered.
func (d *Driver) IoBase() uint16 { return d.ioBase }

// MAC returns the six station address bytes read from the device during
// bring-up.
func (d *Driver) MAC() [6]byte { return d.mac }

// BringUp locates the RTL8139 in cfg.Catalog, enables bus mastering and
// I/O space in its PCI command register, registers the IRQ handler, wakes
// and resets the chip, and programs the receive ring. It is single-shot
// and not re-entrant.
func BringUp(cfg Config) (*Driver, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}

	dev, ok := cfg.Catalog.Find(VendorID, DeviceID)
	if !ok {
		logger.Printf("rtl8139: no RTL8139 found in PCI catalog")
		return nil, ErrDeviceNotFound
	}

	dev.SetCommandBit(pci.CommandBusMaster | pci.CommandIOSpace)

	ioBase32, err := dev.Iobase(0)
	if err != nil {
		return nil, errors.Wrap(err, "rtl8139: reading BAR0 io base")
	}
	ioBase := uint16(ioBase32)

	vector := irq.PIC1Offset + dev.InterruptLine
	if cfg.Names != nil {
		vector = cfg.Names.Register("RTL8139", dev.InterruptLine)
	}

	d := &Driver{
		bus:     cfg.Bus,
		mem:     cfg.Mem,
		irqCtrl: cfg.IRQ,
		logger:  logger,
		onFrame: cfg.OnFrame,
		ioBase:  ioBase,
		vector:  vector,
	}

	for i := 0; i < 6; i++ {
		d.mac[i] = d.bus.In8(ioBase + regID0 + uint16(i))
	}

	d.irqCtrl.RegisterHandler(d.vector, d.HandleInterrupt)

	// Wake the chip.
	d.bus.Out8(ioBase+regConfig1, 0x00)

	// Software reset; busy-wait until the chip clears the bit itself.
	d.bus.Out8(ioBase+regCommand, cmdReset)
	for d.bus.In8(ioBase+regCommand)&cmdReset != 0 {
	}

	d.bus.Out16(ioBase+regInterruptMask, isrAll)
	d.bus.Out8(ioBase+regCommand, cmdEnableRX|cmdEnableTX)

	rx, err := dma.NewRegion(receiveBufferSize)
	if err != nil {
		return nil, errors.Wrap(err, "rtl8139: allocating receive ring")
	}
	d.rx = rx

	phys, err := d.mem.Translate(rx.VirtAddr())
	if err != nil {
		return nil, errors.Wrap(err, "rtl8139: translating receive ring address")
	}
	d.bus.Out32(ioBase+regRBStart, uint32(phys))
	d.bus.Out32(ioBase+regReceiveConfig, receiveConfigValue)

	return d, nil
}

// Send transmits buf through the next transmit descriptor in rotor order.
// Concurrent senders would corrupt the rotor, so Send serializes itself
// with a mutex rather than leaving that to caller discipline. The caller's
// buffer must stay alive until the chip's DMA has drained it.
func (d *Driver) Send(buf []byte) error {
	if len(buf) == 0 {
		return errors.New("rtl8139: cannot send an empty buffer")
	}
	if len(buf) > maxTransmitLength {
		return errors.Wrapf(ErrFrameTooLarge, "length %d", len(buf))
	}

	d.lock.Lock()
	defer d.lock.Unlock()

	slot := uint16(d.rotor)
	statusPort := d.ioBase + regTransmitStatus + 4*slot
	addressPort := d.ioBase + regTransmitAddress + 4*slot

	for d.bus.In32(statusPort)&txOwn == 0 {
	}

	phys, err := d.mem.Translate(uintptr(unsafe.Pointer(&buf[0])))
	if err != nil {
		return errors.Wrap(err, "rtl8139: translating transmit buffer")
	}

	d.bus.Out32(addressPort, uint32(phys))
	d.bus.Out32(statusPort, uint32(len(buf)))

	d.rotor = (d.rotor + 1) % numTransmitSlots
	return nil
}

// HandleInterrupt is the IRQ entry point registered during BringUp. It
// always acknowledges the PIC before returning, even when the status
// register carries no bit this driver recognizes.
func (d *Driver) HandleInterrupt(vector uint8) {
	defer d.irqCtrl.Acknowledge(vector)

	status := d.bus.In16(d.ioBase + regInterruptStatus)
	d.bus.Out16(d.ioBase+regInterruptStatus, isrAll)

	switch {
	case status&isrROK != 0:
		for d.bus.In8(d.ioBase+regCommand)&cmdBufferEmpty == 0 {
			d.parseFrame()
		}
	case status&(isrRER|isrTOK|isrTER) != 0:
		d.logger.Printf("rtl8139: interrupt status 0x%04x", status)
	}
}

// parseFrame walks a single frame out of the receive ring at receiveIndex:
// a 4-byte little-endian descriptor (status, then length including the
// 4-byte CRC), the frame data, then pad to the next dword. It runs only
// from interrupt context and needs no lock against Send: the two never
// touch overlapping state.
func (d *Driver) parseFrame() {
	ring := d.rx.Bytes()
	i := d.receiveIndex

	header := uint16(ring[i]) | uint16(ring[i+1])<<8
	if header&isrROK == 0 {
		return
	}

	length := uint16(ring[i+2]) | uint16(ring[i+3])<<8

	payload := make([]byte, length-4)
	copy(payload, ring[i+4:i+length])

	if d.onFrame != nil {
		d.onFrame(payload)
	}

	advance := (length + 4 + 3) &^ 3
	d.receiveIndex = (d.receiveIndex + advance) & receiveRingMask
	d.bus.Out16(d.ioBase+regCAPR, d.receiveIndex-0x10)
}
