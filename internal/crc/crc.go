// Package crc implements the link's CRC-16 by plain modulo-2 division,
// one bit at a time, most significant bit first.
//
// Parameters: width 16, polynomial 0x8005, initial value 0, no reflection,
// no final XOR (catalogued as CRC-16/UMTS, also known as CRC-16/BUYPASS).
package crc

const (
	// Polynomial is the generator, x^16 + x^15 + x^2 + 1 with the top term implied.
	Polynomial = 0x8005

	// Init is the register value before the first byte.
	Init = 0x0000

	topBit = 1 << 15
)

// Checksum returns the CRC-16 of data.
func Checksum(data []byte) uint16 {
	return Update(Init, data)
}

// Update continues a CRC computation with more data.
func Update(reg uint16, data []byte) uint16 {
	for _, b := range data {
		// Bring the next byte into the top of the register
		reg ^= uint16(b) << 8

		for bit := 0; bit < 8; bit++ {
			if reg&topBit != 0 {
				reg = reg<<1 ^ Polynomial
			} else {
				reg <<= 1
			}
		}
	}
	return reg
}
