// Command netcoredemo wires the simulated PCI host bridge, RTL8139 register
// file, and interrupt controller together and runs bring-up, an empty-frame
// broadcast, and a simulated inbound frame as an executable smoke test.
package main

import (
	"fmt"
	"log"

	"netcore/ethernet"
	"netcore/hwio"
	"netcore/irq"
	"netcore/pci"
	"netcore/rtl8139"
	"netcore/simio"
)

const (
	demoIoBase        = 0xC000
	demoInterruptLine = 11
)

func main() {
	mac := [6]byte{0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0xFF}
	vector := irq.PIC1Offset + demoInterruptLine

	names := irq.NewNameIndex()
	pic := simio.NewPIC()
	bus := simio.NewBus()

	hostBridge := simio.NewHostBridge()
	header := simio.BuildHeader(rtl8139.VendorID, rtl8139.DeviceID, 0, uint32(demoIoBase)|0x1)
	header[0x3C] = demoInterruptLine // InterruptLine
	hostBridge.AddDevice(0, 3, 0, header)
	bus.Register(0x0CF8, 0x0CFF, hostBridge)

	nic := simio.NewRTL8139Device(demoIoBase, mac, pic, vector)
	bus.Register(demoIoBase, demoIoBase+0x5F, nic)

	catalog := pci.NewCatalog(bus)

	driver, err := rtl8139.BringUp(rtl8139.Config{
		Catalog: catalog,
		Bus:     bus,
		Mem:     hwio.IdentityTranslator{},
		IRQ:     pic,
		Names:   names,
		Logger:  log.Default(),
		OnFrame: func(frameBytes []byte) {
			frame, err := ethernet.Decode(frameBytes)
			if err != nil {
				log.Printf("netcoredemo: failed to decode received frame: %v", err)
				return
			}
			fmt.Printf("received frame from %x: %d byte payload\n", frame.Header.SrcMAC, len(frame.Payload))
		},
	})
	if err != nil {
		log.Fatalf("netcoredemo: bring-up failed: %v", err)
	}

	fmt.Printf("rtl8139 up: io_base=0x%04x mac=%x\n", driver.IoBase(), driver.MAC())
	if vec, ok := names.Lookup("RTL8139"); ok {
		fmt.Printf("rtl8139 registered on vector 0x%02x\n", vec)
	}

	if err := ethernet.SendEmptyFrame(driver, driver.MAC()); err != nil {
		log.Fatalf("netcoredemo: send empty frame failed: %v", err)
	}
	fmt.Printf("sent %d frame(s), last on the wire: % x\n", len(nic.TransmitLog), nic.TransmitLog[len(nic.TransmitLog)-1])

	inbound := ethernet.Frame{
		Header: ethernet.Header{
			DstMAC:    mac,
			SrcMAC:    [6]byte{0x11, 0x22, 0x33, 0x44, 0x55, 0x66},
			EtherType: 0x0800,
		},
		Payload: []byte("hello from the wire"),
	}
	if err := nic.DeliverFrame(inbound.Encode()); err != nil {
		log.Fatalf("netcoredemo: simulated receive failed: %v", err)
	}
}
