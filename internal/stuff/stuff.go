// Package stuff escapes link messages so the Flag delimiter never appears
// inside a frame, and recovers messages from the escaped form.
//
// Every Flag or Esc byte in a message is sent as Esc followed by the byte
// XORed with EscMask; the result is bracketed by Flag on both sides.
package stuff

import (
	"errors"

	"github.com/bigbag/dllink/internal/frame"
)

const (
	Flag    = frame.Flag
	Esc     = frame.Esc
	EscMask = frame.EscMask
)

var (
	ErrShortFrame      = errors.New("stuff: frame too short")
	ErrMissingFlag     = errors.New("stuff: frame not bracketed by flag")
	ErrUnexpectedFlag  = errors.New("stuff: flag inside frame body")
	ErrTruncatedEscape = errors.New("stuff: escape at end of frame")
)

// Stuff escapes msg and wraps it in Flag bytes.
func Stuff(msg []byte) []byte {
	// Pre-allocate with some extra space for escapes
	result := make([]byte, 0, len(msg)+len(msg)/4+2)
	result = append(result, Flag)

	for _, b := range msg {
		if b == Flag || b == Esc {
			result = append(result, Esc, b^EscMask)
			continue
		}
		result = append(result, b)
	}

	result = append(result, Flag)
	return result
}

// Unstuff strips the bracketing Flag bytes and reverses the escaping.
func Unstuff(stuffed []byte) ([]byte, error) {
	if len(stuffed) < 2 {
		return nil, ErrShortFrame
	}
	if stuffed[0] != Flag || stuffed[len(stuffed)-1] != Flag {
		return nil, ErrMissingFlag
	}

	body := stuffed[1 : len(stuffed)-1]
	result := make([]byte, 0, len(body))

	for i := 0; i < len(body); i++ {
		switch body[i] {
		case Flag:
			return nil, ErrUnexpectedFlag
		case Esc:
			i++
			if i == len(body) {
				return nil, ErrTruncatedEscape
			}
			result = append(result, body[i]^EscMask)
		default:
			result = append(result, body[i])
		}
	}

	return result, nil
}

// ReadFrame extracts the first complete frame from a byte stream.
// Returns the frame (including both Flag bytes) and the bytes after it.
// Bytes before the opening Flag are discarded; back-to-back Flags between
// frames collapse into one opening Flag.
func ReadFrame(data []byte) (stuffed []byte, remaining []byte) {
	start := -1
	for i, b := range data {
		if b != Flag {
			continue
		}
		if start >= 0 && i > start+1 {
			return data[start : i+1], data[i+1:]
		}
		// Empty body, treat this Flag as the new opening delimiter
		start = i
	}

	if start == -1 {
		return nil, data[len(data):]
	}

	// Frame not complete yet
	return nil, data[start:]
}
