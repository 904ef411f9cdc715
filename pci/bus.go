package pci

import (
	"sync"

	"netcore/hwio"
)

const (
	maxBuses     = 256
	maxSlots     = 32
	maxFunctions = 8

	vendorIDAbsent = 0xFFFF
)

// Bus is a single PCI bus number and the ordered list of devices discovered
// on it. A bus with no devices never appears in a Catalog.
type Bus struct {
	BusNumber uint8
	Devices   []Device
}

// Catalog is the process-wide, read-only result of a single PCI scan. It is
// lazily initialized on first access and never torn down.
type Catalog struct {
	bus   hwio.PortBus
	once  sync.Once
	buses []Bus
}

// NewCatalog builds a Catalog bound to the given port bus. The scan itself
// does not happen until the first call to Buses, Find, FindBSF, or
// IterDevices.
func NewCatalog(bus hwio.PortBus) *Catalog {
	return &Catalog{bus: bus}
}

// Buses returns the frozen catalog, scanning on first call.
func (c *Catalog) Buses() []Bus {
	c.once.Do(c.scan)
	return c.buses
}

// scan walks every bus/slot/function exactly once. A slot whose function 0
// reads vendor 0xFFFF is empty; a slot whose function-0 header type has the
// multi-function bit set is probed across all eight functions.
func (c *Catalog) scan() {
	var buses []Bus

	for busNum := 0; busNum < maxBuses; busNum++ {
		var devices []Device

		for slot := 0; slot < maxSlots; slot++ {
			fn0 := newLocation(c.bus, uint8(busNum), uint8(slot), 0)
			if fn0.ReadU16(offsetVendorID) == vendorIDAbsent {
				continue
			}

			headerType := fn0.ReadU8(offsetHeaderType)
			numFunctions := 1
			if headerType&headerTypeMultiFunction != 0 {
				numFunctions = maxFunctions
			}

			for fn := 0; fn < numFunctions; fn++ {
				loc := newLocation(c.bus, uint8(busNum), uint8(slot), uint8(fn))
				if loc.ReadU16(offsetVendorID) == vendorIDAbsent {
					continue
				}
				devices = append(devices, readDevice(loc))
			}
		}

		if len(devices) > 0 {
			buses = append(buses, Bus{BusNumber: uint8(busNum), Devices: devices})
		}
	}

	c.buses = buses
}

// Find returns the first device matching vendor and device IDs, searching
// every bus in catalog order.
func (c *Catalog) Find(vendor, device uint16) (Device, bool) {
	for _, bus := range c.Buses() {
		for _, d := range bus.Devices {
			if d.VendorID == vendor && d.DeviceID == device {
				return d, true
			}
		}
	}
	return Device{}, false
}

// FindBSF returns the device at the given bus/slot/function, if the scan
// found one there.
func (c *Catalog) FindBSF(bus, slot, function uint8) (Device, bool) {
	for _, b := range c.Buses() {
		if b.BusNumber != bus {
			continue
		}
		for _, d := range b.Devices {
			if d.Slot == slot && d.Function == function {
				return d, true
			}
		}
	}
	return Device{}, false
}

// IterDevices calls fn for every device in the catalog, in bus/slot/function
// order, stopping early if fn returns false.
func (c *Catalog) IterDevices(fn func(Device) bool) {
	for _, bus := range c.Buses() {
		for _, d := range bus.Devices {
			if !fn(d) {
				return
			}
		}
	}
}
