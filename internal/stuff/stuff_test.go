package stuff

import (
	"bytes"
	"errors"
	"math/rand"
	"testing"
)

func TestStuff_EmptyMessage(t *testing.T) {
	result := Stuff(nil)
	expected := []byte{Flag, Flag}
	if !bytes.Equal(result, expected) {
		t.Errorf("Stuff(nil) = % X, want % X", result, expected)
	}

	result = Stuff([]byte{})
	if !bytes.Equal(result, expected) {
		t.Errorf("Stuff([]) = % X, want % X", result, expected)
	}
}

func TestStuff_NoReservedBytes(t *testing.T) {
	input := []byte{0x01, 0x02, 0x03, 0x04}
	result := Stuff(input)
	expected := []byte{Flag, 0x01, 0x02, 0x03, 0x04, Flag}
	if !bytes.Equal(result, expected) {
		t.Errorf("Stuff(% X) = % X, want % X", input, result, expected)
	}
}

func TestStuff_EscapeFlag(t *testing.T) {
	input := []byte{0x01, Flag, 0x03}
	result := Stuff(input)
	expected := []byte{Flag, 0x01, Esc, 0x5D, 0x03, Flag}
	if !bytes.Equal(result, expected) {
		t.Errorf("Stuff(% X) = % X, want % X", input, result, expected)
	}
}

func TestStuff_EscapeEsc(t *testing.T) {
	input := []byte{0x01, Esc, 0x03}
	result := Stuff(input)
	expected := []byte{Flag, 0x01, Esc, 0x5E, 0x03, Flag}
	if !bytes.Equal(result, expected) {
		t.Errorf("Stuff(% X) = % X, want % X", input, result, expected)
	}
}

func TestStuff_AllReservedBytes(t *testing.T) {
	// Escaped bytes are never rescanned
	input := []byte{Flag, Flag, Esc, Esc}
	result := Stuff(input)
	expected := []byte{Flag, Esc, 0x5D, Esc, 0x5D, Esc, 0x5E, Esc, 0x5E, Flag}
	if !bytes.Equal(result, expected) {
		t.Errorf("Stuff(% X) = % X, want % X", input, result, expected)
	}
}

func TestStuff_SinglePayloadFlag(t *testing.T) {
	// Single frame carrying one 0x7D payload byte, control [0 0], to address 0
	msg := []byte{0x00, 0x00, 0x00, 0x00, 0x01, 0x7D, 0x87, 0x0D}
	result := Stuff(msg)
	expected := []byte{Flag, 0x00, 0x00, 0x00, 0x00, 0x01, Esc, 0x5D, 0x87, 0x0D, Flag}
	if !bytes.Equal(result, expected) {
		t.Errorf("Stuff(% X) = % X, want % X", msg, result, expected)
	}
}

func TestStuff_NoFlagInBody(t *testing.T) {
	input := make([]byte, 256)
	for i := range input {
		input[i] = byte(i)
	}
	result := Stuff(input)
	if bytes.IndexByte(result[1:len(result)-1], Flag) != -1 {
		t.Errorf("Stuff() body contains Flag: % X", result)
	}
}

func TestUnstuff_ValidFrame(t *testing.T) {
	stuffed := []byte{Flag, 0x01, 0x02, 0x03, Flag}
	result, err := Unstuff(stuffed)
	if err != nil {
		t.Fatalf("Unstuff(% X) error = %v", stuffed, err)
	}
	expected := []byte{0x01, 0x02, 0x03}
	if !bytes.Equal(result, expected) {
		t.Errorf("Unstuff(% X) = % X, want % X", stuffed, result, expected)
	}
}

func TestUnstuff_Escapes(t *testing.T) {
	stuffed := []byte{Flag, 0x01, Esc, 0x5D, Esc, 0x5E, 0x03, Flag}
	result, err := Unstuff(stuffed)
	if err != nil {
		t.Fatalf("Unstuff(% X) error = %v", stuffed, err)
	}
	expected := []byte{0x01, Flag, Esc, 0x03}
	if !bytes.Equal(result, expected) {
		t.Errorf("Unstuff(% X) = % X, want % X", stuffed, result, expected)
	}
}

func TestUnstuff_EscapedByteNotRescanned(t *testing.T) {
	// Esc^0x20 == 0x5E; an escaped Esc followed by a literal 0x5E stays two bytes
	stuffed := []byte{Flag, Esc, 0x5E, 0x5E, Flag}
	result, err := Unstuff(stuffed)
	if err != nil {
		t.Fatalf("Unstuff(% X) error = %v", stuffed, err)
	}
	expected := []byte{Esc, 0x5E}
	if !bytes.Equal(result, expected) {
		t.Errorf("Unstuff(% X) = % X, want % X", stuffed, result, expected)
	}
}

func TestUnstuff_EmptyBody(t *testing.T) {
	result, err := Unstuff([]byte{Flag, Flag})
	if err != nil {
		t.Fatalf("Unstuff(Flag Flag) error = %v", err)
	}
	if len(result) != 0 {
		t.Errorf("Unstuff(Flag Flag) = % X, want empty", result)
	}
}

func TestUnstuff_Malformed(t *testing.T) {
	tests := []struct {
		name    string
		stuffed []byte
		want    error
	}{
		{"nil", nil, ErrShortFrame},
		{"single flag", []byte{Flag}, ErrShortFrame},
		{"missing opening flag", []byte{0x01, 0x02, Flag}, ErrMissingFlag},
		{"missing closing flag", []byte{Flag, 0x01, 0x02}, ErrMissingFlag},
		{"flag in body", []byte{Flag, 0x01, Flag, 0x02, Flag}, ErrUnexpectedFlag},
		{"trailing escape", []byte{Flag, 0x01, Esc, Flag}, ErrTruncatedEscape},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := Unstuff(tt.stuffed)
			if !errors.Is(err, tt.want) {
				t.Errorf("Unstuff(% X) error = %v, want %v", tt.stuffed, err, tt.want)
			}
			if result != nil {
				t.Errorf("Unstuff(% X) = % X, want nil", tt.stuffed, result)
			}
		})
	}
}

func TestStuffUnstuff_RoundTrip(t *testing.T) {
	testCases := [][]byte{
		{},
		{0x00},
		{0x01, 0x02, 0x03},
		{Flag},
		{Esc},
		{Flag, Esc},
		{Esc, Flag, Esc, Flag},
		{0x5D, 0x5E, Esc, 0x5D},
		{0x00, Flag, 0x00, Esc, 0x00},
		{0xFF, 0xFE, 0xFD},
	}

	for i, tc := range testCases {
		decoded, err := Unstuff(Stuff(tc))
		if err != nil {
			t.Errorf("Case %d: Unstuff error = %v", i, err)
			continue
		}
		if !bytes.Equal(decoded, tc) {
			t.Errorf("Case %d: RoundTrip(% X) = % X, want % X", i, tc, decoded, tc)
		}
	}
}

func TestStuffUnstuff_RoundTripRandom(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	alphabet := []byte{Flag, Esc, 0x00, 0x5D, 0x5E, 0xFF}

	for n := 0; n <= 255; n++ {
		msg := make([]byte, n)
		for i := range msg {
			// Bias heavily toward reserved and look-alike bytes
			if rng.Intn(2) == 0 {
				msg[i] = alphabet[rng.Intn(len(alphabet))]
			} else {
				msg[i] = byte(rng.Intn(256))
			}
		}

		decoded, err := Unstuff(Stuff(msg))
		if err != nil {
			t.Fatalf("len %d: Unstuff error = %v", n, err)
		}
		if !bytes.Equal(decoded, msg) {
			t.Fatalf("len %d: RoundTrip(% X) = % X", n, msg, decoded)
		}
	}
}

func TestReadFrame_SingleFrame(t *testing.T) {
	data := []byte{Flag, 0x01, 0x02, 0x03, Flag}
	stuffed, remaining := ReadFrame(data)
	if !bytes.Equal(stuffed, data) {
		t.Errorf("ReadFrame(% X) frame = % X, want % X", data, stuffed, data)
	}
	if len(remaining) != 0 {
		t.Errorf("ReadFrame(% X) remaining = % X, want []", data, remaining)
	}
}

func TestReadFrame_MultipleFrames(t *testing.T) {
	frame1 := []byte{Flag, 0x01, 0x02, Flag}
	frame2 := []byte{Flag, 0x03, 0x04, Flag}
	data := append(append([]byte{}, frame1...), frame2...)

	stuffed, remaining := ReadFrame(data)
	if !bytes.Equal(stuffed, frame1) {
		t.Errorf("ReadFrame first frame = % X, want % X", stuffed, frame1)
	}
	if !bytes.Equal(remaining, frame2) {
		t.Errorf("ReadFrame remaining = % X, want % X", remaining, frame2)
	}

	stuffed, remaining = ReadFrame(remaining)
	if !bytes.Equal(stuffed, frame2) {
		t.Errorf("ReadFrame second frame = % X, want % X", stuffed, frame2)
	}
	if len(remaining) != 0 {
		t.Errorf("ReadFrame remaining = % X, want []", remaining)
	}
}

func TestReadFrame_BackToBackFlags(t *testing.T) {
	data := []byte{Flag, Flag, Flag, 0x01, Flag}
	stuffed, _ := ReadFrame(data)
	expected := []byte{Flag, 0x01, Flag}
	if !bytes.Equal(stuffed, expected) {
		t.Errorf("ReadFrame(% X) = % X, want % X", data, stuffed, expected)
	}
}

func TestReadFrame_IncompleteFrame(t *testing.T) {
	data := []byte{0xAA, Flag, 0x01, 0x02}
	stuffed, remaining := ReadFrame(data)
	if stuffed != nil {
		t.Errorf("ReadFrame incomplete = % X, want nil", stuffed)
	}
	expected := []byte{Flag, 0x01, 0x02}
	if !bytes.Equal(remaining, expected) {
		t.Errorf("ReadFrame remaining = % X, want % X", remaining, expected)
	}
}

func TestReadFrame_NoFlag(t *testing.T) {
	data := []byte{0x01, 0x02, 0x03}
	stuffed, remaining := ReadFrame(data)
	if stuffed != nil {
		t.Errorf("ReadFrame no frame = % X, want nil", stuffed)
	}
	if len(remaining) != 0 {
		t.Errorf("ReadFrame remaining = % X, want [] (garbage discarded)", remaining)
	}
}

func TestReadFrame_EmptyInput(t *testing.T) {
	stuffed, remaining := ReadFrame(nil)
	if stuffed != nil || len(remaining) != 0 {
		t.Errorf("ReadFrame(nil) = % X, % X, want nil, []", stuffed, remaining)
	}
}

func TestReadFrame_LeadingGarbage(t *testing.T) {
	data := []byte{0x01, 0x02, Flag, 0x03, 0x04, Flag}
	stuffed, remaining := ReadFrame(data)
	expected := []byte{Flag, 0x03, 0x04, Flag}
	if !bytes.Equal(stuffed, expected) {
		t.Errorf("ReadFrame with garbage = % X, want % X", stuffed, expected)
	}
	if len(remaining) != 0 {
		t.Errorf("ReadFrame remaining = % X, want []", remaining)
	}
}

func TestReadFrame_FrameWithEscapes(t *testing.T) {
	data := []byte{Flag, 0x01, Esc, 0x5D, 0x02, Flag}
	stuffed, remaining := ReadFrame(data)
	if !bytes.Equal(stuffed, data) {
		t.Errorf("ReadFrame with escapes = % X, want % X", stuffed, data)
	}
	if len(remaining) != 0 {
		t.Errorf("ReadFrame remaining = % X, want []", remaining)
	}
}
