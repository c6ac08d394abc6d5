package frame

// Reserved wire bytes
const (
	Flag    = 0x7D // frame delimiter
	Esc     = 0x7E // escape marker
	EscMask = 0x20 // XORed into an escaped byte
)

// Addressing
const (
	Broadcast      = 0xFF
	DefaultAddress = 0x00
)

// Frame sizing
const (
	// DefaultCapacity is the number of payload bytes carried per frame.
	DefaultCapacity = 8

	// MaxCapacity is bounded by the 8-bit length field.
	MaxCapacity = 0xFF

	// MaxFrames is bounded by the 8-bit control indices.
	MaxFrames = 0x100

	// Layout (logical message, before stuffing):
	//   Control(2) | Addressing(2) | Length(1) | Payload(Length) | Checksum(2)
	ControlSize    = 2
	AddressingSize = 2
	LengthSize     = 1
	ChecksumSize   = 2

	// HeaderSize is the CRC-protected prefix ahead of the payload.
	HeaderSize = ControlSize + AddressingSize + LengthSize

	// MinMessageSize is a message with an empty payload.
	MinMessageSize = HeaderSize + ChecksumSize
)

// Field offsets inside a logical message
const (
	offIndex  = 0
	offLast   = 1
	offSource = 2
	offDest   = 3
	offLength = 4
)
