package rtl8139_test

import (
	"bytes"
	"log"
	"testing"

	"netcore/hwio"
	"netcore/irq"
	"netcore/pci"
	"netcore/rtl8139"
	"netcore/simio"
)

const (
	testIoBase        = 0xC000
	testInterruptLine = 11
)

func newFabric(t *testing.T, mac [6]byte) (*pci.Catalog, *simio.Bus, *simio.RTL8139Device, *simio.PIC) {
	t.Helper()

	vector := irq.PIC1Offset + testInterruptLine
	pic := simio.NewPIC()
	bus := simio.NewBus()

	bridge := simio.NewHostBridge()
	header := simio.BuildHeader(rtl8139.VendorID, rtl8139.DeviceID, 0, uint32(testIoBase)|0x1)
	header[0x3C] = testInterruptLine
	bridge.AddDevice(0, 3, 0, header)
	bus.Register(0x0CF8, 0x0CFF, bridge)

	nic := simio.NewRTL8139Device(testIoBase, mac, pic, vector)
	bus.Register(testIoBase, testIoBase+0x5F, nic)

	return pci.NewCatalog(bus), bus, nic, pic
}

func bringUp(t *testing.T, mac [6]byte) (*rtl8139.Driver, *simio.RTL8139Device) {
	t.Helper()
	catalog, bus, nic, pic := newFabric(t, mac)

	driver, err := rtl8139.BringUp(rtl8139.Config{
		Catalog: catalog,
		Bus:     bus,
		Mem:     hwio.IdentityTranslator{},
		IRQ:     pic,
		Logger:  log.New(bytes.NewBuffer(nil), "", 0),
	})
	if err != nil {
		t.Fatalf("BringUp: %v", err)
	}
	return driver, nic
}

func TestBringUpFindsDeviceAndReadsMAC(t *testing.T) {
	mac := [6]byte{0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0xFF}
	driver, _ := bringUp(t, mac)

	if driver.IoBase() != testIoBase {
		t.Fatalf("expected io_base 0x%04x, got 0x%04x", testIoBase, driver.IoBase())
	}
	if driver.MAC() != mac {
		t.Fatalf("expected mac %x, got %x", mac, driver.MAC())
	}
}

func TestBringUpProgramsChip(t *testing.T) {
	mac := [6]byte{0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0xFF}
	catalog, bus, _, pic := newFabric(t, mac)

	_, err := rtl8139.BringUp(rtl8139.Config{
		Catalog: catalog,
		Bus:     bus,
		Mem:     hwio.IdentityTranslator{},
		IRQ:     pic,
		Logger:  log.New(bytes.NewBuffer(nil), "", 0),
	})
	if err != nil {
		t.Fatalf("BringUp: %v", err)
	}

	if imr := bus.In16(testIoBase + 0x3C); imr != 0x000F {
		t.Fatalf("expected interrupt mask 0x000F, got 0x%04x", imr)
	}
	if cmd := bus.In8(testIoBase + 0x37); cmd&0x0C != 0x0C {
		t.Fatalf("expected RX and TX enabled in command register, got 0x%02x", cmd)
	}
	if rcr := bus.In32(testIoBase + 0x44); rcr != 0x8A {
		t.Fatalf("expected receive config 0x8A (WRAP|ACCEPT_PHYS|ACCEPT_BROADCAST), got 0x%02x", rcr)
	}
	if rbstart := bus.In32(testIoBase + 0x30); rbstart == 0 {
		t.Fatal("expected the receive ring's physical address programmed into RBSTART")
	}

	dev, ok := catalog.FindBSF(0, 3, 0)
	if !ok {
		t.Fatal("expected the device in the catalog")
	}
	if cmd := dev.Location.ReadU16(0x04); cmd&(pci.CommandBusMaster|pci.CommandIOSpace) != pci.CommandBusMaster|pci.CommandIOSpace {
		t.Fatalf("expected bus-master and io-space enabled in the PCI command register, got 0x%04x", cmd)
	}
}

func TestBringUpRegistersVectorName(t *testing.T) {
	mac := [6]byte{0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0xFF}
	catalog, bus, _, pic := newFabric(t, mac)

	names := irq.NewNameIndex()
	_, err := rtl8139.BringUp(rtl8139.Config{
		Catalog: catalog,
		Bus:     bus,
		Mem:     hwio.IdentityTranslator{},
		IRQ:     pic,
		Names:   names,
		Logger:  log.New(bytes.NewBuffer(nil), "", 0),
	})
	if err != nil {
		t.Fatalf("BringUp: %v", err)
	}

	vector, ok := names.Lookup("RTL8139")
	if !ok {
		t.Fatal(`expected BringUp to register its vector under "RTL8139"`)
	}
	if want := irq.PIC1Offset + testInterruptLine; vector != want {
		t.Fatalf("expected vector 0x%02x, got 0x%02x", want, vector)
	}
}

func TestBringUpAbsentDeviceIsNonFatal(t *testing.T) {
	bus := simio.NewBus()
	bridge := simio.NewHostBridge()
	bus.Register(0x0CF8, 0x0CFF, bridge)
	catalog := pci.NewCatalog(bus)

	_, err := rtl8139.BringUp(rtl8139.Config{
		Catalog: catalog,
		Bus:     bus,
		Mem:     hwio.IdentityTranslator{},
		IRQ:     simio.NewPIC(),
	})
	if err != rtl8139.ErrDeviceNotFound {
		t.Fatalf("expected ErrDeviceNotFound, got %v", err)
	}
}

func TestSendWritesDescriptorAndAdvancesRotor(t *testing.T) {
	mac := [6]byte{0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0xFF}
	driver, nic := bringUp(t, mac)

	frame := []byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0xFF, 0x12, 0x34}
	if err := driver.Send(frame); err != nil {
		t.Fatalf("Send: %v", err)
	}

	if len(nic.TransmitLog) != 1 {
		t.Fatalf("expected one transmitted frame, got %d", len(nic.TransmitLog))
	}
	if !bytes.Equal(nic.TransmitLog[0], frame) {
		t.Fatalf("expected transmitted bytes %x, got %x", frame, nic.TransmitLog[0])
	}
}

func TestSendRotatesThroughAllFourSlots(t *testing.T) {
	mac := [6]byte{0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0xFF}
	driver, nic := bringUp(t, mac)

	for i := 0; i < 5; i++ {
		if err := driver.Send([]byte{byte(i), 1, 2, 3}); err != nil {
			t.Fatalf("Send #%d: %v", i, err)
		}
	}
	if len(nic.TransmitLog) != 5 {
		t.Fatalf("expected 5 transmitted frames, got %d", len(nic.TransmitLog))
	}
	if nic.TransmitLog[0][0] != 0 || nic.TransmitLog[4][0] != 4 {
		t.Fatalf("expected rotor to wrap back to slot 0 on the 5th send without losing data")
	}
}

func TestSendRejectsOversizedFrame(t *testing.T) {
	mac := [6]byte{0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0xFF}
	driver, _ := bringUp(t, mac)

	if err := driver.Send(make([]byte, 1793)); err == nil {
		t.Fatal("expected an error for a frame over 1792 bytes")
	}
}

func TestReceiveOneFrameInvokesOnFrameAndAdvancesIndex(t *testing.T) {
	mac := [6]byte{0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0xFF}
	catalog, bus, nic, pic := newFabric(t, mac)

	var received []byte
	_, err := rtl8139.BringUp(rtl8139.Config{
		Catalog: catalog,
		Bus:     bus,
		Mem:     hwio.IdentityTranslator{},
		IRQ:     pic,
		OnFrame: func(frame []byte) { received = append([]byte(nil), frame...) },
	})
	if err != nil {
		t.Fatalf("BringUp: %v", err)
	}

	payload := make([]byte, 12)
	for i := range payload {
		payload[i] = byte(i)
	}
	if err := nic.DeliverFrame(payload); err != nil {
		t.Fatalf("DeliverFrame: %v", err)
	}

	if !bytes.Equal(received, payload) {
		t.Fatalf("expected the driver to deliver %x, got %x", payload, received)
	}
	if len(pic.Acknowledged) == 0 {
		t.Fatal("expected the IRQ handler to acknowledge the interrupt")
	}

	// A 12-byte frame plus the 4-byte descriptor and 4-byte CRC advances the
	// read index to 20; the driver reports 20-16=4 through CAPR.
	if capr := bus.In16(testIoBase + 0x38); capr != 4 {
		t.Fatalf("expected CAPR 4 after one 12-byte frame, got %d", capr)
	}
}

func TestReceiveWrapsRingBoundary(t *testing.T) {
	mac := [6]byte{0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0xFF}
	catalog, bus, nic, pic := newFabric(t, mac)

	var frames int
	_, err := rtl8139.BringUp(rtl8139.Config{
		Catalog: catalog,
		Bus:     bus,
		Mem:     hwio.IdentityTranslator{},
		IRQ:     pic,
		Logger:  log.New(bytes.NewBuffer(nil), "", 0),
		OnFrame: func([]byte) { frames++ },
	})
	if err != nil {
		t.Fatalf("BringUp: %v", err)
	}

	// 66 frames of 116-byte payload each advance the cursor by 124 bytes,
	// landing it exactly on 0x1FF8, the last dword pair before the 8 KiB
	// boundary.
	for i := 0; i < 66; i++ {
		if err := nic.DeliverFrame(make([]byte, 116)); err != nil {
			t.Fatalf("DeliverFrame #%d: %v", i, err)
		}
	}

	// One more frame with a 32-byte on-ring length: the cursor must come out
	// at (0x1FF8 + 32 + 4 + 3) &^ 3 mod 0x2000 = 0x1C.
	if err := nic.DeliverFrame(make([]byte, 28)); err != nil {
		t.Fatalf("DeliverFrame across the boundary: %v", err)
	}

	if frames != 67 {
		t.Fatalf("expected 67 delivered frames, got %d", frames)
	}
	if capr := bus.In16(testIoBase + 0x38); capr != 0x1C-0x10 {
		t.Fatalf("expected CAPR 0x%02x after the wrap, got 0x%02x", 0x1C-0x10, capr)
	}
}
