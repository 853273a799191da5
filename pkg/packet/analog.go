package packet

import "encoding/binary"

// AnalogPacket is the short V2 packet carrying only the raw analog readings.
// It is sent more frequently than the environmental packet.
//
//	version(0x03) | type(0x02) | device[2] | seq[2] | uptime[4] | gas[2] | wind[2] | crc[2]
type AnalogPacket struct {
	Version  uint8
	Type     uint8
	DeviceID uint16
	Sequence uint16
	Uptime   uint32
	Gas      uint16
	Wind     uint16
	CRC      uint16
}

// NewAnalog returns an initialized analog packet.
func NewAnalog(deviceID uint16) AnalogPacket {
	var p AnalogPacket
	p.Init(deviceID)
	return p
}

// Init resets every field and stamps version, type and device id.
func (p *AnalogPacket) Init(deviceID uint16) {
	*p = AnalogPacket{
		Version:  VersionV2,
		Type:     TypeAnalog,
		DeviceID: deviceID,
	}
}

// Populate fills the per-transmission fields.
func (p *AnalogPacket) Populate(sequence uint16, uptime uint32, gas, wind uint16) {
	p.Sequence = sequence
	p.Uptime = uptime
	p.Gas = gas
	p.Wind = wind
}

// Encode writes the packet into buf and returns the number of bytes written.
func (p *AnalogPacket) Encode(buf []byte) (int, error) {
	if len(buf) < SizeAnalog {
		return 0, ErrShortBuffer
	}

	buf[0] = p.Version
	buf[1] = p.Type
	i := putHeader(buf, 2, p.DeviceID, p.Sequence, p.Uptime)
	binary.BigEndian.PutUint16(buf[i:], p.Gas)
	binary.BigEndian.PutUint16(buf[i+2:], p.Wind)
	i += 4

	p.CRC = CRC16(buf[:i])
	binary.BigEndian.PutUint16(buf[i:], p.CRC)
	return i + crcSize, nil
}

// Decode parses buf. Checks run in order: size, version, type, CRC.
func (p *AnalogPacket) Decode(buf []byte) error {
	if len(buf) < SizeAnalog {
		return ErrShortBuffer
	}

	p.Version = buf[0]
	if p.Version != VersionV2 {
		return ErrVersion
	}
	p.Type = buf[1]
	if p.Type != TypeAnalog {
		return ErrType
	}

	var i int
	p.DeviceID, p.Sequence, p.Uptime, i = getHeader(buf, 2)
	p.Gas = binary.BigEndian.Uint16(buf[i:])
	p.Wind = binary.BigEndian.Uint16(buf[i+2:])
	i += 4

	p.CRC = binary.BigEndian.Uint16(buf[i:])
	if CRC16(buf[:SizeAnalog-crcSize]) != p.CRC {
		return ErrCRC
	}
	return nil
}
