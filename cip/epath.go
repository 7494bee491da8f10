package cip

import (
	"encoding/binary"
	"fmt"
)

// Path segment type/format bits (ODVA CIP Vol 1, §C-1.4).
type logicalType byte
type logicalFormat byte

const (
	segmentLogical  byte = 0b001
	segmentSymbolic byte = 0b011

	logicalTypeClassID    logicalType = 0x0
	logicalTypeInstanceID logicalType = 0b1
	logicalTypeAttributeID logicalType = 0b100

	logicalFormat8  logicalFormat = 0b00
	logicalFormat16 logicalFormat = 0b01
	logicalFormat32 logicalFormat = 0b10
)

// Path segment prefixes (spec §6.3, bit-exact).
const (
	SegmentSymbolic byte = 0x91
	SegmentElement8  byte = 0x28
	SegmentElement16 byte = 0x29
	SegmentElement32 byte = 0x2A
)

// MaxPathWords is the largest packed CIP path this engine will build, per
// the Read/Write Tag service's one-byte path_words field.
const MaxPathWords = 255

// EncodedPath is a packed CIP path ready to prepend to a request body.
type EncodedPath struct {
	Bytes []byte
}

// WordLen returns the path length in 16-bit words, as required by the
// Read/Write Tag Service request format.
func (p EncodedPath) WordLen() (byte, error) {
	if len(p.Bytes)%2 != 0 {
		return 0, fmt.Errorf("epath: odd byte length %d is not word-aligned", len(p.Bytes))
	}
	words := len(p.Bytes) / 2
	if words > MaxPathWords {
		return 0, fmt.Errorf("epath: path length %d words exceeds maximum of %d", words, MaxPathWords)
	}
	return byte(words), nil
}

// Encode builds the packed CIP path for a tag path's data-addressing steps.
// The trailing Bit step, if any, is never part of the wire path — callers
// apply it to the decoded value after a successful read.
func Encode(tp TagPath) (EncodedPath, error) {
	var out []byte
	steps := tp.WithoutBit().Steps

	for _, s := range steps {
		switch s.Kind {
		case StepProgram:
			seg, err := symbolicSegment("Program:" + s.Name)
			if err != nil {
				return EncodedPath{}, err
			}
			out = append(out, seg...)

		case StepSymbolic:
			seg, err := symbolicSegment(s.Name)
			if err != nil {
				return EncodedPath{}, err
			}
			out = append(out, seg...)

		case StepElement:
			for _, idx := range s.Indices {
				out = append(out, elementSegment(idx)...)
			}

		case StepBit:
			// handled by WithoutBit above
		}
	}

	if len(out)%2 != 0 {
		out = append(out, 0x00)
	}
	if len(out)/2 > MaxPathWords {
		return EncodedPath{}, fmt.Errorf("epath: path length %d words exceeds maximum of %d", len(out)/2, MaxPathWords)
	}
	return EncodedPath{Bytes: out}, nil
}

// symbolicSegment encodes an ASCII Extended Symbol Segment: 0x91, name_len,
// name_bytes, padded to an even length.
func symbolicSegment(name string) ([]byte, error) {
	if len(name) == 0 {
		return nil, fmt.Errorf("epath: empty symbolic segment")
	}
	if len(name) > 255 {
		return nil, fmt.Errorf("epath: symbolic segment %q exceeds 255 bytes", name)
	}
	out := make([]byte, 0, 2+len(name)+1)
	out = append(out, SegmentSymbolic, byte(len(name)))
	out = append(out, name...)
	if len(out)%2 != 0 {
		out = append(out, 0x00)
	}
	return out, nil
}

// elementSegment encodes a single array-element index, upgrading from the
// 8-bit to 16-bit to 32-bit form as the index grows past 0xFF / 0xFFFF.
func elementSegment(index uint32) []byte {
	switch {
	case index <= 0xFF:
		return []byte{SegmentElement8, byte(index)}
	case index <= 0xFFFF:
		return elementSegment16(index)
	default:
		return elementSegment32(index)
	}
}

func elementSegment16(index uint32) []byte {
	out := make([]byte, 0, 4)
	out = append(out, SegmentElement16, 0x00)
	out = binary.LittleEndian.AppendUint16(out, uint16(index))
	return out
}

func elementSegment32(index uint32) []byte {
	out := make([]byte, 0, 6)
	out = append(out, SegmentElement32, 0x00)
	out = binary.LittleEndian.AppendUint32(out, index)
	return out
}

// servicePath is a small fluent builder for the Class/Instance/Attribute
// paths used to address CIP objects directly (Symbol Object, Template
// Object, Identity Object) rather than a symbolic tag.
type servicePath struct {
	bytes []byte
	err   error
}

func newServicePath() *servicePath { return &servicePath{} }

func (b *servicePath) logical(lt logicalType, lf logicalFormat, value []byte) *servicePath {
	if b.err != nil {
		return b
	}
	head := byte(segmentLogical)<<5 | byte(lt)<<2 | byte(lf)
	out := []byte{head}
	if lf != logicalFormat8 {
		out = append(out, 0x00) // pad byte for 16/32-bit logical segments
	}
	out = append(out, value...)
	b.bytes = append(b.bytes, out...)
	return b
}

func (b *servicePath) Class(id byte) *servicePath {
	return b.logical(logicalTypeClassID, logicalFormat8, []byte{id})
}

func (b *servicePath) Instance(id byte) *servicePath {
	return b.logical(logicalTypeInstanceID, logicalFormat8, []byte{id})
}

func (b *servicePath) Instance16(id uint16) *servicePath {
	return b.logical(logicalTypeInstanceID, logicalFormat16, binary.LittleEndian.AppendUint16(nil, id))
}

func (b *servicePath) Attribute(id byte) *servicePath {
	return b.logical(logicalTypeAttributeID, logicalFormat8, []byte{id})
}

// NewObjectPath builds the packed CIP path addressing a class/instance pair
// directly — the form used to query the Symbol, Template, and Identity
// objects rather than a symbolic tag.
func NewObjectPath(class byte, instance byte) (EncodedPath, error) {
	return newServicePath().Class(class).Instance(instance).Build()
}

// NewObjectAttributePath builds a class/instance/attribute path, for
// Get_Attributes_Single-style requests.
func NewObjectAttributePath(class byte, instance byte, attribute byte) (EncodedPath, error) {
	return newServicePath().Class(class).Instance(instance).Attribute(attribute).Build()
}

func (b *servicePath) Build() (EncodedPath, error) {
	if b.err != nil {
		return EncodedPath{}, b.err
	}
	out := append([]byte{}, b.bytes...)
	if len(out)%2 != 0 {
		out = append(out, 0x00)
	}
	return EncodedPath{Bytes: out}, nil
}
