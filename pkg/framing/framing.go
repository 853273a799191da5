// Package framing wraps encoded samples into checksummed, byte-stuffed wire
// frames and parses them back.
//
// Pre-escape layout, big-endian:
//
//	marker(0x7E) | device[1] | flags[4] | sequence[2] | length[2] | payload[length] | crc[2]
//
// The CRC-16/ANSI covers every byte from the marker through the payload.
// After the CRC is appended, everything but the leading marker is escaped.
package framing

import (
	"encoding/binary"
	"fmt"

	"github.com/itohio/telenode/pkg/delta"
	"github.com/itohio/telenode/pkg/subsystem"
)

const (
	Marker     = 0x7E
	EscapeByte = 0x7F

	HeaderLen = 10
	CRCLen    = 2
	// MaxRawLen is the largest frame before escaping.
	MaxRawLen = HeaderLen + delta.MaxPayload + CRCLen
	// MaxFrameLen bounds an escaped frame: every byte doubled.
	MaxFrameLen = 2 * MaxRawLen
)

// Buffer holds one escaped frame.
type Buffer [MaxFrameLen]byte

// Header is the decoded frame header. Length is the pre-escape payload length.
type Header struct {
	DeviceID uint8
	Flags    delta.Flag
	Sequence uint16
	Length   uint16
}

// Frame is a parsed frame.
type Frame struct {
	Header
	Payload []byte
	CRC     uint16
}

// Framer builds outgoing frames for one device.
type Framer struct {
	subsystem.NoRun

	deviceID uint8
	raw      [MaxRawLen]byte
}

// NewFramer returns a framer stamping deviceID into every header.
func NewFramer(deviceID uint8) *Framer {
	return &Framer{deviceID: deviceID}
}

// Setup has nothing to prepare.
func (f *Framer) Setup() error { return nil }

// DeviceID returns the id written into headers.
func (f *Framer) DeviceID() uint8 { return f.deviceID }

// Frame writes res as a frame with the given sequence number into buf and
// returns the escaped length.
func (f *Framer) Frame(res *delta.Result, sequence uint16, buf *Buffer) (int, error) {
	if int(res.Len) > delta.MaxPayload {
		return 0, fmt.Errorf("%w: %d bytes", ErrPayloadTooLong, res.Len)
	}

	raw := f.raw[:0]
	raw = append(raw, Marker, f.deviceID)
	raw = binary.BigEndian.AppendUint32(raw, uint32(res.Flags))
	raw = binary.BigEndian.AppendUint16(raw, sequence)
	raw = binary.BigEndian.AppendUint16(raw, uint16(res.Len))
	raw = append(raw, res.Payload()...)
	raw = binary.BigEndian.AppendUint16(raw, CRC16(raw))

	out := AppendEscaped(buf[:0], raw)
	return len(out), nil
}

// Parse unescapes and validates one frame. The returned payload does not
// alias raw.
func Parse(raw []byte) (Frame, error) {
	if len(raw) == 0 {
		return Frame{}, ErrShortFrame
	}
	if raw[0] != Marker {
		return Frame{}, ErrNoMarker
	}

	b, err := Unescape(raw)
	if err != nil {
		return Frame{}, err
	}
	if len(b) < HeaderLen+CRCLen {
		return Frame{}, fmt.Errorf("%w: %d bytes", ErrShortFrame, len(b))
	}

	hdr := parseHeader(b)
	if hdr.Length > delta.MaxPayload || len(b) != HeaderLen+int(hdr.Length)+CRCLen {
		return Frame{}, fmt.Errorf("%w: header says %d, frame carries %d", ErrLength, hdr.Length, len(b)-HeaderLen-CRCLen)
	}

	body := b[:len(b)-CRCLen]
	crc := binary.BigEndian.Uint16(b[len(body):])
	if want := CRC16(body); crc != want {
		return Frame{}, fmt.Errorf("%w: got %#04x want %#04x", ErrCRC, crc, want)
	}

	return Frame{
		Header:  hdr,
		Payload: body[HeaderLen:],
		CRC:     crc,
	}, nil
}

func parseHeader(b []byte) Header {
	return Header{
		DeviceID: b[1],
		Flags:    delta.Flag(binary.BigEndian.Uint32(b[2:])),
		Sequence: binary.BigEndian.Uint16(b[6:]),
		Length:   binary.BigEndian.Uint16(b[8:]),
	}
}
