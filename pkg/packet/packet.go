// Package packet implements the fixed-width legacy telemetry packets.
//
// All multi-byte fields are big-endian. The trailing CRC-16/CCITT covers
// every byte before it. Two generations exist:
//
//	V1: version(0x02) | device[2] | seq[2] | uptime[4] | env | crc[2]          30 bytes
//	V2: version(0x03) | type(0x01) | device[2] | seq[2] | uptime[4] | env | crc[2] 31 bytes
//
// where env is temperature[2, signed] humidity[2] pressure[3] iaq[2]
// accuracy[1] staticIaq[2] co2[2] breathVoc[2] gasPct[1] stab[1] runIn[1].
// V2 also defines the short analog packet, see AnalogPacket.
package packet

import (
	"encoding/binary"

	"github.com/itohio/telenode/pkg/sensor"
)

// Format selects the packet generation.
type Format uint8

const (
	FormatV1 Format = iota + 1
	FormatV2
)

const (
	VersionV1 = 0x02
	VersionV2 = 0x03

	TypeEnv    = 0x01
	TypeAnalog = 0x02

	SizeV1     = 30
	SizeV2     = 31
	SizeAnalog = 16

	// PressureMask limits pressure to the 24 bits carried on the wire.
	PressureMask = 0x00FFFFFF

	crcSize = 2
)

// Packet is the environmental telemetry packet.
type Packet struct {
	Format   Format
	Version  uint8
	Type     uint8 // V2 only
	DeviceID uint16
	Sequence uint16
	Uptime   uint32 // seconds
	Env      sensor.Environment
	CRC      uint16
}

// New returns an initialized packet for the given device and format.
func New(deviceID uint16, f Format) Packet {
	var p Packet
	p.Init(deviceID, f)
	return p
}

// Init resets every field and stamps version, type and device id.
func (p *Packet) Init(deviceID uint16, f Format) {
	*p = Packet{Format: f, DeviceID: deviceID}
	switch f {
	case FormatV2:
		p.Version = VersionV2
		p.Type = TypeEnv
	default:
		p.Format = FormatV1
		p.Version = VersionV1
	}
}

// Populate fills the per-transmission fields. Pressure is masked to 24 bits.
func (p *Packet) Populate(sequence uint16, uptime uint32, env sensor.Environment) {
	p.Sequence = sequence
	p.Uptime = uptime
	p.Env = env
	p.Env.Pressure &= PressureMask
}

// Size returns the encoded size of the packet.
func (p *Packet) Size() int {
	if p.Format == FormatV2 {
		return SizeV2
	}
	return SizeV1
}

// Encode writes the packet into buf, stores the computed CRC in p.CRC and
// returns the number of bytes written.
func (p *Packet) Encode(buf []byte) (int, error) {
	size := p.Size()
	if len(buf) < size {
		return 0, ErrShortBuffer
	}

	i := 0
	buf[i] = p.Version
	i++
	if p.Format == FormatV2 {
		buf[i] = p.Type
		i++
	}
	i = putHeader(buf, i, p.DeviceID, p.Sequence, p.Uptime)

	binary.BigEndian.PutUint16(buf[i:], uint16(p.Env.Temperature))
	i += 2
	binary.BigEndian.PutUint16(buf[i:], p.Env.Humidity)
	i += 2
	pressure := p.Env.Pressure & PressureMask
	buf[i] = byte(pressure >> 16)
	buf[i+1] = byte(pressure >> 8)
	buf[i+2] = byte(pressure)
	i += 3
	binary.BigEndian.PutUint16(buf[i:], p.Env.IAQ)
	i += 2
	buf[i] = p.Env.Accuracy
	i++
	binary.BigEndian.PutUint16(buf[i:], p.Env.StaticIAQ)
	i += 2
	binary.BigEndian.PutUint16(buf[i:], p.Env.CO2)
	i += 2
	binary.BigEndian.PutUint16(buf[i:], p.Env.BreathVOC)
	i += 2
	buf[i] = p.Env.GasPercent
	buf[i+1] = p.Env.StabStatus
	buf[i+2] = p.Env.RunInStatus
	i += 3

	p.CRC = CRC16(buf[:i])
	binary.BigEndian.PutUint16(buf[i:], p.CRC)
	i += crcSize

	return i, nil
}

// Decode parses buf according to p.Format (set it with Init first).
// Checks run in order: size, version, type (V2), CRC. Fields after a failed
// check may be left unpopulated.
func (p *Packet) Decode(buf []byte) error {
	size := p.Size()
	if len(buf) < size {
		return ErrShortBuffer
	}

	i := 0
	p.Version = buf[i]
	i++
	if p.Format == FormatV2 {
		if p.Version != VersionV2 {
			return ErrVersion
		}
		p.Type = buf[i]
		i++
		if p.Type != TypeEnv {
			return ErrType
		}
	} else if p.Version != VersionV1 {
		return ErrVersion
	}

	p.DeviceID, p.Sequence, p.Uptime, i = getHeader(buf, i)

	p.Env.Temperature = int16(binary.BigEndian.Uint16(buf[i:]))
	i += 2
	p.Env.Humidity = binary.BigEndian.Uint16(buf[i:])
	i += 2
	p.Env.Pressure = uint32(buf[i])<<16 | uint32(buf[i+1])<<8 | uint32(buf[i+2])
	i += 3
	p.Env.IAQ = binary.BigEndian.Uint16(buf[i:])
	i += 2
	p.Env.Accuracy = buf[i]
	i++
	p.Env.StaticIAQ = binary.BigEndian.Uint16(buf[i:])
	i += 2
	p.Env.CO2 = binary.BigEndian.Uint16(buf[i:])
	i += 2
	p.Env.BreathVOC = binary.BigEndian.Uint16(buf[i:])
	i += 2
	p.Env.GasPercent = buf[i]
	p.Env.StabStatus = buf[i+1]
	p.Env.RunInStatus = buf[i+2]
	i += 3

	p.CRC = binary.BigEndian.Uint16(buf[i:])
	if CRC16(buf[:size-crcSize]) != p.CRC {
		return ErrCRC
	}
	return nil
}

func putHeader(buf []byte, i int, deviceID, sequence uint16, uptime uint32) int {
	binary.BigEndian.PutUint16(buf[i:], deviceID)
	i += 2
	binary.BigEndian.PutUint16(buf[i:], sequence)
	i += 2
	binary.BigEndian.PutUint32(buf[i:], uptime)
	return i + 4
}

func getHeader(buf []byte, i int) (deviceID, sequence uint16, uptime uint32, next int) {
	deviceID = binary.BigEndian.Uint16(buf[i:])
	sequence = binary.BigEndian.Uint16(buf[i+2:])
	uptime = binary.BigEndian.Uint32(buf[i+4:])
	return deviceID, sequence, uptime, i + 8
}
