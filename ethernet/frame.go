// Package ethernet builds and parses Ethernet II frames and hands encoded
// frames to an rtl8139.Driver for transmission.
package ethernet

import (
	"encoding/binary"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/pkg/errors"

	"netcore/rtl8139"
)

// testEtherType is the ether type SendEmptyFrame stamps on its bring-up
// sanity frame: not a registered EtherType, just a recognizable marker.
const testEtherType = 0x1234

var broadcastMAC = [6]byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}

// Header is the fixed 14-byte-on-the-wire portion of a frame.
type Header struct {
	DstMAC    [6]byte
	SrcMAC    [6]byte
	EtherType uint16
}

// Frame is a header plus its variable-length payload.
type Frame struct {
	Header  Header
	Payload []byte
}

// Encode produces the wire bytes: 6-byte destination, 6-byte source,
// 2-byte big-endian EtherType, then payload verbatim. No padding and no
// CRC are added; the NIC pads short frames to 60 bytes and appends the
// CRC itself.
func (f Frame) Encode() []byte {
	out := make([]byte, 14+len(f.Payload))
	copy(out[0:6], f.Header.DstMAC[:])
	copy(out[6:12], f.Header.SrcMAC[:])
	binary.BigEndian.PutUint16(out[12:14], f.Header.EtherType)
	copy(out[14:], f.Payload)
	return out
}

// Decode parses data as an Ethernet II frame using gopacket/layers, an
// independent reader of the wire format rather than a hand-rolled mirror
// of Encode.
//
// Type-field values below 0x0600 are an IEEE 802.3 length to the parser:
// it reports EthernetTypeLLC, re-slices the payload to the stated length,
// and rejects the frame when the length exceeds the bytes present. This
// framer has no 802.3 mode — the field is always an ether type — so that
// range is decoded by hand.
func Decode(data []byte) (Frame, error) {
	if len(data) < 14 {
		return Frame{}, errors.New("ethernet: frame shorter than the 14-byte header")
	}

	var frame Frame
	if rawType := binary.BigEndian.Uint16(data[12:14]); rawType < 0x0600 {
		copy(frame.Header.DstMAC[:], data[0:6])
		copy(frame.Header.SrcMAC[:], data[6:12])
		frame.Header.EtherType = rawType
		frame.Payload = append([]byte(nil), data[14:]...)
		return frame, nil
	}

	packet := gopacket.NewPacket(data, layers.LayerTypeEthernet, gopacket.Default)
	layer := packet.Layer(layers.LayerTypeEthernet)
	if layer == nil {
		return Frame{}, errors.New("ethernet: no Ethernet layer decoded")
	}
	eth, ok := layer.(*layers.Ethernet)
	if !ok {
		return Frame{}, errors.New("ethernet: unexpected layer type")
	}

	copy(frame.Header.DstMAC[:], eth.DstMAC)
	copy(frame.Header.SrcMAC[:], eth.SrcMAC)
	frame.Header.EtherType = uint16(eth.EthernetType)
	frame.Payload = append([]byte(nil), eth.Payload...)
	return frame, nil
}

// SendFrame encodes frame and hands it to driver's transmit path.
func SendFrame(driver *rtl8139.Driver, frame Frame) error {
	return driver.Send(frame.Encode())
}

// SendEmptyFrame sends a zero-payload broadcast frame with the bring-up
// sanity EtherType.
func SendEmptyFrame(driver *rtl8139.Driver, srcMAC [6]byte) error {
	frame := Frame{Header: Header{
		DstMAC:    broadcastMAC,
		SrcMAC:    srcMAC,
		EtherType: testEtherType,
	}}
	return SendFrame(driver, frame)
}
