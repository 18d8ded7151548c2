// Package codec implements the Nikobus PC-Link wire format: the binary-as-
// ASCII-hex '$' frame (CRC16 over the payload bytes, CRC8 over the ASCII
// prefix) and the plain-ASCII '#N'/'#E1' button frame.
package codec

// CRC16 computes the CRC used inside a '$' frame's PAYLOAD field.
// Poly 0x1021, init 0xFFFF, no reflection, no final XOR — the classic
// CCITT/X-25 bitwise form, not the reflected table-driven ARC variant the
// nRF52 link uses on the teacher's UART (pkg/usock's calculateCRC16).
func CRC16(data []byte) uint16 {
	crc := uint16(0xFFFF)
	for _, b := range data {
		crc ^= uint16(b) << 8
		for i := 0; i < 8; i++ {
			if crc&0x8000 != 0 {
				crc = (crc << 1) ^ 0x1021
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}

// CRC8 computes the CRC over the ASCII characters "$"+LL+PAYLOAD+CRC16.
// Poly 0x99, init 0x00, no reflection.
func CRC8(data []byte) uint8 {
	var crc uint8
	for _, b := range data {
		crc ^= b
		for i := 0; i < 8; i++ {
			if crc&0x80 != 0 {
				crc = (crc << 1) ^ 0x99
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}
