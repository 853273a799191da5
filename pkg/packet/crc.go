package packet

const (
	crcPoly = 0x1021
	crcInit = 0xFFFF
)

// CRC16 computes CRC-16/CCITT (poly 0x1021, init 0xFFFF, MSB first, no
// final XOR) over data.
func CRC16(data []byte) uint16 {
	crc := uint16(crcInit)
	for _, b := range data {
		crc ^= uint16(b) << 8
		for range 8 {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ crcPoly
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}
