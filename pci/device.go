package pci

import (
	"github.com/pkg/errors"

	"netcore/hwio"
)

// ErrBARIndexOutOfRange is returned by Iobase/MemBase/MemSize when asked
// about a BAR slot that doesn't exist.
var ErrBARIndexOutOfRange = errors.New("pci: BAR index out of range")

// Standard configuration header offsets.
const (
	offsetVendorID         = 0x00
	offsetDeviceID         = 0x02
	offsetCommand          = 0x04
	offsetStatus           = 0x06
	offsetRevisionID       = 0x08
	offsetProgIF           = 0x09
	offsetSubclass         = 0x0A
	offsetClass            = 0x0B
	offsetCacheLineSize    = 0x0C
	offsetLatencyTimer     = 0x0D
	offsetHeaderType       = 0x0E
	offsetBIST             = 0x0F
	offsetBAR0             = 0x10
	offsetInterruptLine    = 0x3C
	offsetInterruptPin     = 0x3D
	headerTypeMultiFunction = 0x80
	numBARs                = 6
)

// Device is a Location plus a frozen snapshot of its standard configuration
// header, captured at scan time. The hardware values may drift afterwards;
// the snapshot is never re-read.
//
// Device embeds its Location, so the config-space accessors
// (ReadU8/ReadU16/ReadU32/WriteU32/SetCommandBit) are promoted onto it.
type Device struct {
	Location

	VendorID uint16
	DeviceID uint16
	Command  uint16
	Status   uint16

	Class           uint8
	Subclass        uint8
	ProgIF          uint8
	RevisionID      uint8
	HeaderType      uint8
	BIST            uint8
	CacheLineSize   uint8
	LatencyTimer    uint8
	InterruptPin    uint8
	InterruptLine   uint8

	BARs [numBARs]uint32
}

// readDevice materializes a Device snapshot from config space at loc. The
// caller is responsible for having already confirmed VendorID != 0xFFFF.
func readDevice(loc Location) Device {
	d := Device{
		Location:      loc,
		VendorID:      loc.ReadU16(offsetVendorID),
		DeviceID:      loc.ReadU16(offsetDeviceID),
		Command:       loc.ReadU16(offsetCommand),
		Status:        loc.ReadU16(offsetStatus),
		RevisionID:    loc.ReadU8(offsetRevisionID),
		ProgIF:        loc.ReadU8(offsetProgIF),
		Subclass:      loc.ReadU8(offsetSubclass),
		Class:         loc.ReadU8(offsetClass),
		CacheLineSize: loc.ReadU8(offsetCacheLineSize),
		LatencyTimer:  loc.ReadU8(offsetLatencyTimer),
		HeaderType:    loc.ReadU8(offsetHeaderType),
		BIST:          loc.ReadU8(offsetBIST),
		InterruptLine: loc.ReadU8(offsetInterruptLine),
		InterruptPin:  loc.ReadU8(offsetInterruptPin),
	}
	for i := 0; i < numBARs; i++ {
		d.BARs[i] = loc.ReadU32(uint8(offsetBAR0 + i*4))
	}
	return d
}

// Iobase returns the I/O base address held in BARs[barIndex], with the
// low two type bits masked off.
func (d Device) Iobase(barIndex int) (uint32, error) {
	if barIndex < 0 || barIndex >= numBARs {
		return 0, errors.Wrapf(ErrBARIndexOutOfRange, "bar %d", barIndex)
	}
	return d.BARs[barIndex] &^ 0x3, nil
}

// MemBase returns the physical base address held in BARs[barIndex],
// transparently combining a 64-bit BAR pair when bits [2:1] of the BAR
// equal 0b10 (the next BAR slot then holds the upper 32 address bits).
func (d Device) MemBase(barIndex int) (hwio.PhysAddr, error) {
	if barIndex < 0 || barIndex >= numBARs {
		return 0, errors.Wrapf(ErrBARIndexOutOfRange, "bar %d", barIndex)
	}
	bar := d.BARs[barIndex]
	low := uint64(bar &^ 0xF)
	if (bar>>1)&0x3 == 0b10 {
		if barIndex+1 >= numBARs {
			return 0, errors.Wrapf(ErrBARIndexOutOfRange, "bar %d (high half of 64-bit bar %d)", barIndex+1, barIndex)
		}
		high := uint64(d.BARs[barIndex+1])
		return hwio.PhysAddr(low | (high << 32)), nil
	}
	return hwio.PhysAddr(low), nil
}

// MemSize returns the size of the memory region mapped by BARs[barIndex],
// probed with the standard write-all-ones / read back / complement /
// add-one sequence, restoring the original BAR value afterwards.
func (d Device) MemSize(barIndex int) (uint32, error) {
	if barIndex < 0 || barIndex >= numBARs {
		return 0, errors.Wrapf(ErrBARIndexOutOfRange, "bar %d", barIndex)
	}
	offset := uint8(offsetBAR0 + barIndex*4)
	original := d.Location.ReadU32(offset)
	d.Location.WriteU32(offset, 0xFFFFFFFF)
	probe := d.Location.ReadU32(offset)
	d.Location.WriteU32(offset, original)

	mask := probe &^ 0xF
	if mask == 0 {
		return 0, nil
	}
	return ^mask + 1, nil
}
