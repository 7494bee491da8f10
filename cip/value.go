package cip

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Kind discriminates the variants of Value.
type Kind int

const (
	KindBool Kind = iota
	KindSint
	KindInt
	KindDint
	KindLint
	KindUsint
	KindUint
	KindUdint
	KindUlint
	KindReal
	KindLreal
	KindString
	KindUdt
)

func (k Kind) String() string {
	switch k {
	case KindBool:
		return "BOOL"
	case KindSint:
		return "SINT"
	case KindInt:
		return "INT"
	case KindDint:
		return "DINT"
	case KindLint:
		return "LINT"
	case KindUsint:
		return "USINT"
	case KindUint:
		return "UINT"
	case KindUdint:
		return "UDINT"
	case KindUlint:
		return "ULINT"
	case KindReal:
		return "REAL"
	case KindLreal:
		return "LREAL"
	case KindString:
		return "STRING"
	case KindUdt:
		return "UDT"
	default:
		return "UNKNOWN"
	}
}

// Value is the PlcValue tagged union (spec §3): exactly one of the thirteen
// supported Logix data types. The zero Value is not meaningful; construct
// one with the New* functions.
type Value struct {
	kind Kind

	boolVal bool
	i8      int8
	i16     int16
	i32     int32
	i64     int64
	u8      uint8
	u16     uint16
	u32     uint32
	u64     uint64
	f32     float32
	f64     float64
	str     string

	udtTypeID uint16
	udtBytes  []byte
}

func NewBool(v bool) Value    { return Value{kind: KindBool, boolVal: v} }
func NewSint(v int8) Value    { return Value{kind: KindSint, i8: v} }
func NewInt(v int16) Value    { return Value{kind: KindInt, i16: v} }
func NewDint(v int32) Value   { return Value{kind: KindDint, i32: v} }
func NewLint(v int64) Value   { return Value{kind: KindLint, i64: v} }
func NewUsint(v uint8) Value  { return Value{kind: KindUsint, u8: v} }
func NewUint(v uint16) Value  { return Value{kind: KindUint, u16: v} }
func NewUdint(v uint32) Value { return Value{kind: KindUdint, u32: v} }
func NewUlint(v uint64) Value { return Value{kind: KindUlint, u64: v} }
func NewReal(v float32) Value { return Value{kind: KindReal, f32: v} }
func NewLreal(v float64) Value { return Value{kind: KindLreal, f64: v} }

// NewString builds an AB STRING value. It rejects text longer than
// MaxStringLength bytes with an EncodingError, matching the controller's
// fixed 82-byte data buffer.
func NewString(text string) (Value, error) {
	if len(text) > MaxStringLength {
		return Value{}, &EncodingError{Reason: fmt.Sprintf("string of %d bytes exceeds maximum length %d", len(text), MaxStringLength)}
	}
	return Value{kind: KindString, str: text}, nil
}

// NewUDT wraps opaque structure bytes with the 16-bit type id the
// controller reported for them. The engine never decomposes the bytes.
func NewUDT(typeID uint16, data []byte) Value {
	return Value{kind: KindUdt, udtTypeID: typeID, udtBytes: append([]byte(nil), data...)}
}

func (v Value) Kind() Kind { return v.kind }

func (v Value) Bool() (bool, error) {
	if v.kind != KindBool {
		return false, &TypeMismatchError{Expected: TypeBOOL, Actual: v.typeCodeOrZero()}
	}
	return v.boolVal, nil
}

func (v Value) Sint() (int8, error) {
	if v.kind != KindSint {
		return 0, &TypeMismatchError{Expected: TypeSINT, Actual: v.typeCodeOrZero()}
	}
	return v.i8, nil
}

func (v Value) Int() (int16, error) {
	if v.kind != KindInt {
		return 0, &TypeMismatchError{Expected: TypeINT, Actual: v.typeCodeOrZero()}
	}
	return v.i16, nil
}

func (v Value) Dint() (int32, error) {
	if v.kind != KindDint {
		return 0, &TypeMismatchError{Expected: TypeDINT, Actual: v.typeCodeOrZero()}
	}
	return v.i32, nil
}

func (v Value) Lint() (int64, error) {
	if v.kind != KindLint {
		return 0, &TypeMismatchError{Expected: TypeLINT, Actual: v.typeCodeOrZero()}
	}
	return v.i64, nil
}

func (v Value) Usint() (uint8, error) {
	if v.kind != KindUsint {
		return 0, &TypeMismatchError{Expected: TypeUSINT, Actual: v.typeCodeOrZero()}
	}
	return v.u8, nil
}

func (v Value) Uint() (uint16, error) {
	if v.kind != KindUint {
		return 0, &TypeMismatchError{Expected: TypeUINT, Actual: v.typeCodeOrZero()}
	}
	return v.u16, nil
}

func (v Value) Udint() (uint32, error) {
	if v.kind != KindUdint {
		return 0, &TypeMismatchError{Expected: TypeUDINT, Actual: v.typeCodeOrZero()}
	}
	return v.u32, nil
}

func (v Value) Ulint() (uint64, error) {
	if v.kind != KindUlint {
		return 0, &TypeMismatchError{Expected: TypeULINT, Actual: v.typeCodeOrZero()}
	}
	return v.u64, nil
}

func (v Value) Real() (float32, error) {
	if v.kind != KindReal {
		return 0, &TypeMismatchError{Expected: TypeREAL, Actual: v.typeCodeOrZero()}
	}
	return v.f32, nil
}

func (v Value) Lreal() (float64, error) {
	if v.kind != KindLreal {
		return 0, &TypeMismatchError{Expected: TypeLREAL, Actual: v.typeCodeOrZero()}
	}
	return v.f64, nil
}

func (v Value) String() (string, error) {
	if v.kind != KindString {
		return "", &TypeMismatchError{Expected: TypeSTRING, Actual: v.typeCodeOrZero()}
	}
	return v.str, nil
}

// UDT returns the opaque structure bytes and their controller-reported type
// id. The engine never interprets the bytes further.
func (v Value) UDT() (typeID uint16, data []byte, err error) {
	if v.kind != KindUdt {
		return 0, nil, &TypeMismatchError{Expected: TypeUDT, Actual: v.typeCodeOrZero()}
	}
	return v.udtTypeID, v.udtBytes, nil
}

// Bit extracts bit index (0..63) out of an integer-kind value, returning it
// as a Bool (spec §4.2: bit selection is applied post-read by masking and
// shifting the decoded word, never encoded into the CIP path itself). It
// returns a TypeMismatchError if v is not one of the integer kinds, and an
// EncodingError if index is beyond the value's own bit width.
func (v Value) Bit(index uint8) (Value, error) {
	bits, width, err := v.asUint64()
	if err != nil {
		return Value{}, err
	}
	if int(index) >= width {
		return Value{}, &EncodingError{Reason: fmt.Sprintf("bit index %d out of range for a %d-bit value", index, width)}
	}
	return NewBool((bits>>uint(index))&1 != 0), nil
}

// asUint64 reinterprets an integer-kind value's bit pattern as an unsigned
// 64-bit integer, along with its native width, for bit extraction. BOOL is
// not an integer type for this purpose: a single-bit tag has no further bit
// to select within it.
func (v Value) asUint64() (value uint64, width int, err error) {
	switch v.kind {
	case KindSint:
		return uint64(uint8(v.i8)), 8, nil
	case KindInt:
		return uint64(uint16(v.i16)), 16, nil
	case KindDint:
		return uint64(uint32(v.i32)), 32, nil
	case KindLint:
		return uint64(v.i64), 64, nil
	case KindUsint:
		return uint64(v.u8), 8, nil
	case KindUint:
		return uint64(v.u16), 16, nil
	case KindUdint:
		return uint64(v.u32), 32, nil
	case KindUlint:
		return v.u64, 64, nil
	default:
		return 0, 0, &TypeMismatchError{Expected: TypeDINT, Actual: v.typeCodeOrZero()}
	}
}

// TypeCode returns the fixed CIP type code for this value's kind (spec
// §6.3). For UDT values it returns the controller-reported template type
// word, which is not fixed.
func (v Value) TypeCode() uint16 {
	switch v.kind {
	case KindBool:
		return TypeBOOL
	case KindSint:
		return TypeSINT
	case KindInt:
		return TypeINT
	case KindDint:
		return TypeDINT
	case KindLint:
		return TypeLINT
	case KindUsint:
		return TypeUSINT
	case KindUint:
		return TypeUINT
	case KindUdint:
		return TypeUDINT
	case KindUlint:
		return TypeULINT
	case KindReal:
		return TypeREAL
	case KindLreal:
		return TypeLREAL
	case KindString:
		return TypeSTRING
	case KindUdt:
		return v.udtTypeID
	default:
		return 0
	}
}

func (v Value) typeCodeOrZero() uint16 { return v.TypeCode() }

// Equal reports whether two values have the same kind and content. Used by
// the subscription scheduler's change detection.
func (v Value) Equal(other Value) bool {
	if v.kind != other.kind {
		return false
	}
	switch v.kind {
	case KindBool:
		return v.boolVal == other.boolVal
	case KindSint:
		return v.i8 == other.i8
	case KindInt:
		return v.i16 == other.i16
	case KindDint:
		return v.i32 == other.i32
	case KindLint:
		return v.i64 == other.i64
	case KindUsint:
		return v.u8 == other.u8
	case KindUint:
		return v.u16 == other.u16
	case KindUdint:
		return v.u32 == other.u32
	case KindUlint:
		return v.u64 == other.u64
	case KindReal:
		return v.f32 == other.f32
	case KindLreal:
		return v.f64 == other.f64
	case KindString:
		return v.str == other.str
	case KindUdt:
		if v.udtTypeID != other.udtTypeID || len(v.udtBytes) != len(other.udtBytes) {
			return false
		}
		for i := range v.udtBytes {
			if v.udtBytes[i] != other.udtBytes[i] {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// Bytes encodes the value's little-endian CIP wire representation, not
// including its type code (which travels as a separate field in the Write
// Tag Service request and is returned by TypeCode).
func (v Value) Bytes() ([]byte, error) {
	switch v.kind {
	case KindBool:
		if v.boolVal {
			return []byte{0xFF}, nil
		}
		return []byte{0x00}, nil
	case KindSint:
		return []byte{byte(v.i8)}, nil
	case KindInt:
		return binary.LittleEndian.AppendUint16(nil, uint16(v.i16)), nil
	case KindDint:
		return binary.LittleEndian.AppendUint32(nil, uint32(v.i32)), nil
	case KindLint:
		return binary.LittleEndian.AppendUint64(nil, uint64(v.i64)), nil
	case KindUsint:
		return []byte{v.u8}, nil
	case KindUint:
		return binary.LittleEndian.AppendUint16(nil, v.u16), nil
	case KindUdint:
		return binary.LittleEndian.AppendUint32(nil, v.u32), nil
	case KindUlint:
		return binary.LittleEndian.AppendUint64(nil, v.u64), nil
	case KindReal:
		return binary.LittleEndian.AppendUint32(nil, math.Float32bits(v.f32)), nil
	case KindLreal:
		return binary.LittleEndian.AppendUint64(nil, math.Float64bits(v.f64)), nil
	case KindString:
		return encodeABString(v.str)
	case KindUdt:
		return append([]byte(nil), v.udtBytes...), nil
	default:
		return nil, fmt.Errorf("cip: cannot encode value of unknown kind")
	}
}

// encodeABString writes the Allen-Bradley fixed-layout STRING structure:
// { len: u16, max_len: u16 = 82, data: [u8; 82] }, zero-padded.
func encodeABString(text string) ([]byte, error) {
	if len(text) > MaxStringLength {
		return nil, &EncodingError{Reason: fmt.Sprintf("string of %d bytes exceeds maximum length %d", len(text), MaxStringLength)}
	}
	out := make([]byte, 0, 4+MaxStringLength)
	out = binary.LittleEndian.AppendUint16(out, uint16(len(text)))
	out = binary.LittleEndian.AppendUint16(out, MaxStringLength)
	data := make([]byte, MaxStringLength)
	copy(data, text)
	out = append(out, data...)
	return out, nil
}

// Decode interprets raw as a value of the given CIP type code, as returned
// alongside a Read Tag Service response. Any type code outside the twelve
// fixed primitive/STRING codes is treated as a structure (UDT): real Logix
// controllers report UDTs with the structure-type-mask bit set and a
// template instance id in the low bits, rather than the literal 0x00A0
// placeholder code; both forms decode to a Udt value carrying the raw code.
func Decode(typeCode uint16, raw []byte) (Value, error) {
	switch typeCode {
	case TypeBOOL:
		if len(raw) < 1 {
			return Value{}, shortValue(typeCode, 1, len(raw))
		}
		return NewBool(raw[0] != 0), nil
	case TypeSINT:
		if len(raw) < 1 {
			return Value{}, shortValue(typeCode, 1, len(raw))
		}
		return NewSint(int8(raw[0])), nil
	case TypeINT:
		if len(raw) < 2 {
			return Value{}, shortValue(typeCode, 2, len(raw))
		}
		return NewInt(int16(binary.LittleEndian.Uint16(raw))), nil
	case TypeDINT:
		if len(raw) < 4 {
			return Value{}, shortValue(typeCode, 4, len(raw))
		}
		return NewDint(int32(binary.LittleEndian.Uint32(raw))), nil
	case TypeLINT:
		if len(raw) < 8 {
			return Value{}, shortValue(typeCode, 8, len(raw))
		}
		return NewLint(int64(binary.LittleEndian.Uint64(raw))), nil
	case TypeUSINT:
		if len(raw) < 1 {
			return Value{}, shortValue(typeCode, 1, len(raw))
		}
		return NewUsint(raw[0]), nil
	case TypeUINT:
		if len(raw) < 2 {
			return Value{}, shortValue(typeCode, 2, len(raw))
		}
		return NewUint(binary.LittleEndian.Uint16(raw)), nil
	case TypeUDINT:
		if len(raw) < 4 {
			return Value{}, shortValue(typeCode, 4, len(raw))
		}
		return NewUdint(binary.LittleEndian.Uint32(raw)), nil
	case TypeULINT:
		if len(raw) < 8 {
			return Value{}, shortValue(typeCode, 8, len(raw))
		}
		return NewUlint(binary.LittleEndian.Uint64(raw)), nil
	case TypeREAL:
		if len(raw) < 4 {
			return Value{}, shortValue(typeCode, 4, len(raw))
		}
		return NewReal(math.Float32frombits(binary.LittleEndian.Uint32(raw))), nil
	case TypeLREAL:
		if len(raw) < 8 {
			return Value{}, shortValue(typeCode, 8, len(raw))
		}
		return NewLreal(math.Float64frombits(binary.LittleEndian.Uint64(raw))), nil
	case TypeSTRING:
		return decodeABString(raw)
	default:
		return NewUDT(typeCode, raw), nil
	}
}

func shortValue(typeCode uint16, want, got int) error {
	return &EncodingError{Reason: fmt.Sprintf("value for type 0x%04X too short: need %d bytes, have %d", typeCode, want, got)}
}

// decodeABString reads { len: u16, max_len: u16, data: [u8; 82] } and
// returns the first len bytes as a UTF-8 string; only ASCII is guaranteed by
// the controller, and invalid bytes surface as EncodingError.
func decodeABString(raw []byte) (Value, error) {
	if len(raw) < 4 {
		return Value{}, shortValue(TypeSTRING, 4, len(raw))
	}
	length := int(binary.LittleEndian.Uint16(raw[0:2]))
	maxLen := int(binary.LittleEndian.Uint16(raw[2:4]))
	data := raw[4:]
	if length > maxLen || length > len(data) {
		return Value{}, &EncodingError{Reason: fmt.Sprintf("STRING declares length %d beyond available %d bytes", length, len(data))}
	}
	text := data[:length]
	for _, b := range text {
		if b > 127 {
			return Value{}, &EncodingError{Reason: "STRING contains non-ASCII byte"}
		}
	}
	return Value{kind: KindString, str: string(text)}, nil
}
