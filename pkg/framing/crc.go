package framing

// CRC16 computes CRC-16/ANSI (reflected polynomial 0xA001, initial value
// 0xFFFF, LSB first). It is a different checksum from the legacy packet CRC.
func CRC16(data []byte) uint16 {
	crc := uint16(0xFFFF)
	for _, b := range data {
		crc ^= uint16(b)
		for range 8 {
			if crc&0x0001 != 0 {
				crc = crc>>1 ^ 0xA001
			} else {
				crc >>= 1
			}
		}
	}
	return crc
}
