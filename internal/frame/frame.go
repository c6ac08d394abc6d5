package frame

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/bigbag/dllink/internal/crc"
)

var (
	ErrShortMessage   = errors.New("frame: message too short")
	ErrLengthMismatch = errors.New("frame: length field does not match payload")
	ErrPayloadTooLong = errors.New("frame: payload exceeds length field")
)

// Frame is one link-layer protocol data unit.
type Frame struct {
	Header     byte
	Control    [2]byte // [0] own index, [1] index of the last frame of the packet
	Addressing [2]byte // [0] source, [1] destination
	Length     byte
	Payload    []byte
	Checksum   [2]byte // CRC-16, big-endian
	Footer     byte
}

// New returns an empty frame bracketed by Flag.
func New() *Frame {
	return &Frame{
		Header: Flag,
		Footer: Flag,
	}
}

// SetPayload stores p and keeps Length in step with it.
func (f *Frame) SetPayload(p []byte) error {
	if len(p) > MaxCapacity {
		return fmt.Errorf("%w: %d bytes", ErrPayloadTooLong, len(p))
	}
	f.Payload = p
	f.Length = byte(len(p))
	return nil
}

// Release drops the payload.
func (f *Frame) Release() {
	f.Payload = nil
	f.Length = 0
}

// Index returns the frame's position within its packet.
func (f *Frame) Index() byte { return f.Control[0] }

// Last returns the index of the packet's final frame.
func (f *Frame) Last() byte { return f.Control[1] }

// Source returns the sender address.
func (f *Frame) Source() byte { return f.Addressing[0] }

// Destination returns the receiver address.
func (f *Frame) Destination() byte { return f.Addressing[1] }

// IsSingle reports whether the packet fits in this one frame.
func (f *Frame) IsSingle() bool { return f.Control[1] == 0 }

// IsFinal reports whether this is the last fragment of its packet.
func (f *Frame) IsFinal() bool { return f.Control[0] == f.Control[1] }

// Sum returns the stored checksum.
func (f *Frame) Sum() uint16 { return binary.BigEndian.Uint16(f.Checksum[:]) }

// Protected returns the bytes covered by the checksum.
func (f *Frame) Protected() []byte {
	buf := make([]byte, HeaderSize+len(f.Payload))
	f.putHeader(buf)
	copy(buf[HeaderSize:], f.Payload)
	return buf
}

// Compute returns the CRC-16 over the protected fields.
func (f *Frame) Compute() uint16 {
	var hdr [HeaderSize]byte
	f.putHeader(hdr[:])
	return crc.Update(crc.Checksum(hdr[:]), f.Payload)
}

// Seal computes the checksum and stores it.
func (f *Frame) Seal() {
	binary.BigEndian.PutUint16(f.Checksum[:], f.Compute())
}

// Verify recomputes the checksum and compares it with the stored one.
func (f *Frame) Verify() bool {
	return f.Compute() == f.Sum()
}

// Message serializes the frame to its logical form (before stuffing).
func (f *Frame) Message() []byte {
	msg := make([]byte, MinMessageSize+len(f.Payload))
	f.putHeader(msg)
	copy(msg[HeaderSize:], f.Payload)
	copy(msg[len(msg)-ChecksumSize:], f.Checksum[:])
	return msg
}

func (f *Frame) putHeader(buf []byte) {
	buf[offIndex] = f.Control[0]
	buf[offLast] = f.Control[1]
	buf[offSource] = f.Addressing[0]
	buf[offDest] = f.Addressing[1]
	buf[offLength] = f.Length
}

// ParseMessage splits a de-stuffed message back into a frame.
// The checksum is copied as received; callers verify it.
func ParseMessage(msg []byte) (*Frame, error) {
	if len(msg) < MinMessageSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrShortMessage, len(msg))
	}

	length := int(msg[offLength])
	if have := len(msg) - MinMessageSize; have != length {
		return nil, fmt.Errorf("%w: declared %d, have %d", ErrLengthMismatch, length, have)
	}

	f := New()
	f.Control = [2]byte{msg[offIndex], msg[offLast]}
	f.Addressing = [2]byte{msg[offSource], msg[offDest]}
	f.Length = msg[offLength]
	f.Payload = make([]byte, length)
	copy(f.Payload, msg[HeaderSize:HeaderSize+length])
	copy(f.Checksum[:], msg[len(msg)-ChecksumSize:])

	return f, nil
}

// String returns a compact one-line description.
func (f *Frame) String() string {
	return fmt.Sprintf("frame %d/%d %02X->%02X len=%d crc=%04X payload=% X",
		f.Control[0], f.Control[1], f.Addressing[0], f.Addressing[1], f.Length, f.Sum(), f.Payload)
}
