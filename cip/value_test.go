package cip

import (
	"strings"
	"testing"
)

func TestDecodeRoundTripScalars(t *testing.T) {
	cases := []struct {
		name     string
		typeCode uint16
		value    Value
	}{
		{"BOOL true", TypeBOOL, NewBool(true)},
		{"BOOL false", TypeBOOL, NewBool(false)},
		{"SINT min", TypeSINT, NewSint(-128)},
		{"SINT max", TypeSINT, NewSint(127)},
		{"USINT min", TypeUSINT, NewUsint(0)},
		{"USINT max", TypeUSINT, NewUsint(255)},
		{"INT min", TypeINT, NewInt(-32768)},
		{"INT max", TypeINT, NewInt(32767)},
		{"UINT max", TypeUINT, NewUint(65535)},
		{"DINT min", TypeDINT, NewDint(-2147483648)},
		{"DINT max", TypeDINT, NewDint(2147483647)},
		{"UDINT max", TypeUDINT, NewUdint(4294967295)},
		{"LINT min", TypeLINT, NewLint(-9223372036854775808)},
		{"LINT max", TypeLINT, NewLint(9223372036854775807)},
		{"ULINT max", TypeULINT, NewUlint(18446744073709551615)},
		{"REAL", TypeREAL, NewReal(3.5)},
		{"LREAL", TypeLREAL, NewLreal(-2.25)},
	}
	for _, c := range cases {
		raw, err := c.value.Bytes()
		if err != nil {
			t.Errorf("%s: Bytes: %v", c.name, err)
			continue
		}
		decoded, err := Decode(c.typeCode, raw)
		if err != nil {
			t.Errorf("%s: Decode: %v", c.name, err)
			continue
		}
		if !decoded.Equal(c.value) {
			t.Errorf("%s: round trip mismatch: got %+v, want %+v", c.name, decoded, c.value)
		}
	}
}

func TestDecodeShortBufferRejected(t *testing.T) {
	cases := []struct {
		typeCode uint16
		raw      []byte
	}{
		{TypeBOOL, nil},
		{TypeSINT, nil},
		{TypeINT, []byte{0x01}},
		{TypeDINT, []byte{0x01, 0x02, 0x03}},
		{TypeLINT, make([]byte, 7)},
		{TypeREAL, []byte{0x00, 0x00, 0x00}},
		{TypeLREAL, make([]byte, 7)},
	}
	for _, c := range cases {
		if _, err := Decode(c.typeCode, c.raw); err == nil {
			t.Errorf("Decode(0x%04X, %d bytes): expected an error", c.typeCode, len(c.raw))
		}
	}
}

func TestDecodeUnknownTypeCodeIsUDT(t *testing.T) {
	v, err := Decode(0x1234, []byte{0xAA, 0xBB})
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if v.Kind() != KindUdt {
		t.Fatalf("Kind() = %v, want KindUdt", v.Kind())
	}
	typeID, data, err := v.UDT()
	if err != nil {
		t.Fatalf("UDT: %v", err)
	}
	if typeID != 0x1234 {
		t.Errorf("typeID = 0x%04X, want 0x1234", typeID)
	}
	if string(data) != "\xAA\xBB" {
		t.Errorf("data = % X, want AA BB", data)
	}
}

func TestStringEmpty(t *testing.T) {
	v, err := NewString("")
	if err != nil {
		t.Fatalf("NewString: %v", err)
	}
	raw, err := v.Bytes()
	if err != nil {
		t.Fatalf("Bytes: %v", err)
	}
	decoded, err := Decode(TypeSTRING, raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	s, err := decoded.String()
	if err != nil {
		t.Fatalf("String: %v", err)
	}
	if s != "" {
		t.Fatalf("decoded string = %q, want empty", s)
	}
}

func TestStringMaxLength(t *testing.T) {
	text := strings.Repeat("a", MaxStringLength)
	v, err := NewString(text)
	if err != nil {
		t.Fatalf("NewString at MaxStringLength: %v", err)
	}
	raw, err := v.Bytes()
	if err != nil {
		t.Fatalf("Bytes: %v", err)
	}
	if len(raw) != 4+MaxStringLength {
		t.Fatalf("encoded STRING is %d bytes, want %d", len(raw), 4+MaxStringLength)
	}
	decoded, err := Decode(TypeSTRING, raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	s, err := decoded.String()
	if err != nil {
		t.Fatalf("String: %v", err)
	}
	if s != text {
		t.Fatalf("decoded string mismatch: got %d bytes, want %d", len(s), len(text))
	}
}

func TestStringOneOverMaxLengthRejected(t *testing.T) {
	text := strings.Repeat("a", MaxStringLength+1)
	if _, err := NewString(text); err == nil {
		t.Fatal("expected NewString to reject a string one byte over MaxStringLength")
	}
	if _, err := encodeABString(text); err == nil {
		t.Fatal("expected encodeABString to reject a string one byte over MaxStringLength")
	}
}

func TestDecodeStringDeclaredLengthBeyondBufferRejected(t *testing.T) {
	// len=10 but only 2 data bytes follow the 4-byte header.
	raw := []byte{10, 0, 82, 0, 'a', 'b'}
	if _, err := Decode(TypeSTRING, raw); err == nil {
		t.Fatal("expected an error when the declared STRING length exceeds the available data")
	}
}

func TestDecodeStringNonASCIIRejected(t *testing.T) {
	raw := make([]byte, 4+1)
	raw[0] = 1 // length = 1
	raw[2] = 82
	raw[4] = 0xFF // non-ASCII byte
	if _, err := Decode(TypeSTRING, raw); err == nil {
		t.Fatal("expected an error for a non-ASCII STRING byte")
	}
}

func TestValueBitExtraction(t *testing.T) {
	v := NewDint(0x0000000A) // binary ...1010
	bit0, err := v.Bit(0)
	if err != nil {
		t.Fatalf("Bit(0): %v", err)
	}
	if b, _ := bit0.Bool(); b {
		t.Fatal("bit 0 of 0b1010 should be false")
	}
	bit1, err := v.Bit(1)
	if err != nil {
		t.Fatalf("Bit(1): %v", err)
	}
	if b, _ := bit1.Bool(); !b {
		t.Fatal("bit 1 of 0b1010 should be true")
	}
}

func TestValueBitExtractionOutOfRangeRejected(t *testing.T) {
	v := NewSint(1) // 8 bits wide
	if _, err := v.Bit(8); err == nil {
		t.Fatal("expected an error selecting bit 8 of an 8-bit SINT")
	}
}

func TestValueBitExtractionWidthBoundary(t *testing.T) {
	cases := []struct {
		name string
		v    Value
		bit  uint8
	}{
		{"SINT top bit", NewSint(-1), 7},
		{"USINT top bit", NewUsint(0xFF), 7},
		{"INT top bit", NewInt(-1), 15},
		{"UINT top bit", NewUint(0xFFFF), 15},
		{"DINT top bit", NewDint(-1), 31},
		{"UDINT top bit", NewUdint(0xFFFFFFFF), 31},
		{"LINT top bit", NewLint(-1), 63},
		{"ULINT top bit", NewUlint(0xFFFFFFFFFFFFFFFF), 63},
	}
	for _, c := range cases {
		got, err := c.v.Bit(c.bit)
		if err != nil {
			t.Errorf("%s: Bit(%d): %v", c.name, c.bit, err)
			continue
		}
		b, _ := got.Bool()
		if !b {
			t.Errorf("%s: expected bit %d set", c.name, c.bit)
		}
	}
}

func TestValueBitExtractionOnNonIntegerKindRejected(t *testing.T) {
	cases := []Value{
		NewBool(true),
		NewReal(1.5),
		NewLreal(1.5),
	}
	for _, v := range cases {
		if _, err := v.Bit(0); err == nil {
			t.Errorf("Bit(0) on a %v value: expected an error", v.Kind())
		}
	}
}

func TestValueAccessorTypeMismatch(t *testing.T) {
	v := NewDint(1)
	_, err := v.Bool()
	if err == nil {
		t.Fatal("Bool() on a DINT value: expected a type mismatch error")
	}
	tm, ok := err.(*TypeMismatchError)
	if !ok {
		t.Fatalf("got %T, want *TypeMismatchError", err)
	}
	if tm.Expected != TypeBOOL || tm.Actual != TypeDINT {
		t.Fatalf("TypeMismatchError = %+v, want Expected=0x%04X Actual=0x%04X", tm, TypeBOOL, TypeDINT)
	}
}

func TestUDTRoundTrip(t *testing.T) {
	data := []byte{1, 2, 3, 4}
	v := NewUDT(0x00FF, data)
	raw, err := v.Bytes()
	if err != nil {
		t.Fatalf("Bytes: %v", err)
	}
	if string(raw) != string(data) {
		t.Fatalf("Bytes() = % X, want % X", raw, data)
	}
	typeID, got, err := v.UDT()
	if err != nil {
		t.Fatalf("UDT: %v", err)
	}
	if typeID != 0x00FF {
		t.Errorf("typeID = 0x%04X, want 0x00FF", typeID)
	}
	if string(got) != string(data) {
		t.Errorf("data = % X, want % X", got, data)
	}
}

func TestUDTCopiesInputBytes(t *testing.T) {
	data := []byte{1, 2, 3}
	v := NewUDT(1, data)
	data[0] = 0xFF
	_, got, _ := v.UDT()
	if got[0] == 0xFF {
		t.Fatal("NewUDT aliased the caller's byte slice instead of copying it")
	}
}
