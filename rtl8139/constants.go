// Package rtl8139 drives a Realtek RTL8139 Fast Ethernet controller: PCI
// bring-up, the four-slot transmit descriptor rotor, and the wrap-around
// receive ring. It speaks to the chip only through the hwio.PortBus,
// hwio.MemoryTranslator, and irq.Controller interfaces so it never assumes
// anything about how port I/O or interrupts are actually delivered on the
// host it runs on.
package rtl8139

// PCI identity.
const (
	VendorID uint16 = 0x10EC
	DeviceID uint16 = 0x8139
)

// Register offsets from the device's I/O base.
const (
	regID0             = 0x00
	regTransmitStatus  = 0x10
	regTransmitAddress = 0x20
	regRBStart         = 0x30
	regCommand         = 0x37
	regCAPR            = 0x38
	regInterruptMask   = 0x3C
	regInterruptStatus = 0x3E
	regReceiveConfig   = 0x44
	regConfig1         = 0x52
)

// Command register bits.
const (
	cmdBufferEmpty = 0x01
	cmdEnableTX    = 0x04
	cmdEnableRX    = 0x08
	cmdReset       = 0x10
)

// Interrupt status/mask bits (word at INTERRUPT_STATUS/INTERRUPT_MASK).
const (
	isrROK uint16 = 0x0001
	isrRER uint16 = 0x0002
	isrTOK uint16 = 0x0004
	isrTER uint16 = 0x0008

	isrAll = isrROK | isrRER | isrTOK | isrTER
)

// Receive-config bits.
const (
	rcrWrap            uint32 = 0x80
	rcrAcceptPhys      uint32 = 0x02
	rcrAcceptBroadcast uint32 = 0x08
	rcrLength8K        uint32 = 0x00

	receiveConfigValue = rcrWrap | rcrAcceptPhys | rcrAcceptBroadcast | rcrLength8K
)

// Transmit-status register bits.
const (
	txOwn uint32 = 0x2000
)

const (
	// receiveBufferSize is the 8 KiB ring plus the 1500+16 byte overflow
	// window WRAP mode lets the chip write a boundary-straddling frame into.
	receiveBufferSize = 8*1024 + 16 + 1500

	// receiveRingMask bounds the cursor arithmetic to the nominal 8 KiB
	// ring, independent of the larger physical allocation.
	receiveRingMask = 0x2000 - 1

	// maxTransmitLength is the largest frame a transmit descriptor can
	// carry.
	maxTransmitLength = 1792

	numTransmitSlots = 4
)
