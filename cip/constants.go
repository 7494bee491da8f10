package cip

// CIP type codes (spec §6.3, bit-exact — the real ODVA assignments, not the
// placeholder STRING/UDT codes some Logix drivers use internally).
const (
	TypeBOOL   uint16 = 0x00C1
	TypeSINT   uint16 = 0x00C2
	TypeINT    uint16 = 0x00C3
	TypeDINT   uint16 = 0x00C4
	TypeLINT   uint16 = 0x00C5
	TypeUSINT  uint16 = 0x00C6
	TypeUINT   uint16 = 0x00C7
	TypeUDINT  uint16 = 0x00C8
	TypeULINT  uint16 = 0x00C9
	TypeREAL   uint16 = 0x00CA
	TypeLREAL  uint16 = 0x00CB
	TypeSTRING uint16 = 0x02A0
	TypeUDT    uint16 = 0x00A0
)

// StructureTypeMask marks a type code returned by Get_Instance_Attribute_List
// as a structure (UDT) whose low 12 bits are a template instance id, per the
// Logix symbol-type encoding carried over from the donor drivers.
const StructureTypeMask uint16 = 0x8000

// ArrayDimensionMask, when set in a symbol type code, flags an array tag;
// the dimension count occupies bits 13-14 in the Symbol Object's type word.
const ArrayDimensionMask uint16 = 0x6000

// CIP service codes used by this engine (spec §6.3, §4.4).
const (
	SvcGetAttributesSingle      byte = 0x0E
	SvcGetAttributeList         byte = 0x03
	SvcReadTag                  byte = 0x4C
	SvcWriteTag                 byte = 0x4D
	SvcReadTagFragmented        byte = 0x52
	SvcMultipleServicePacket    byte = 0x0A
	SvcGetInstanceAttributeList byte = 0x55
)

// ReplyServiceBit is OR'd into the request service code to form the reply
// service code, per CIP's common request/reply framing.
const ReplyServiceBit byte = 0x80

// CIP object classes addressed directly by this engine.
const (
	ClassSymbolObject      byte = 0x6B
	ClassTemplateObject    byte = 0x6C
	ClassIdentityObject    byte = 0x01
	ClassMessageRouter     byte = 0x02
	InstanceMessageRouter  byte = 0x01
	InstanceIdentityObject byte = 0x01
)

// CIP general status codes (spec §7; named per the errata/spec subset, the
// rest of the ODVA table is passed through as a raw code).
const (
	StatusSuccess          byte = 0x00
	StatusPathSegmentError byte = 0x04
	StatusPathUnknown      byte = 0x05
	StatusPartialTransfer  byte = 0x06
	StatusServiceNotSupported byte = 0x08
	StatusInsufficientData byte = 0x13
	StatusAttributeListShort byte = 0x1C
	StatusGeneralError     byte = 0xFF
)

// generalStatusNames names the well-known general status codes spec §7
// singles out for host convenience; anything else is reported numerically.
var generalStatusNames = map[byte]string{
	StatusPathSegmentError:    "PathSegmentError",
	StatusPathUnknown:         "PathDestinationUnknown",
	StatusPartialTransfer:     "PartialTransfer",
	StatusServiceNotSupported: "ServiceNotSupported",
	StatusInsufficientData:    "InsufficientData",
	StatusAttributeListShort:  "AttributeListShort",
	StatusGeneralError:        "ExtendedStatus",
}

// GeneralStatusName returns the spec-named label for a CIP general status
// code, or "" if it is not one of the well-known codes.
func GeneralStatusName(status byte) string {
	return generalStatusNames[status]
}

// DefaultPort is the EtherNet/IP TCP port Logix controllers listen on.
const DefaultPort = 44818

// MaxStringLength is the largest string this engine's AB STRING codec
// supports, matching the controller's fixed 82-byte data buffer.
const MaxStringLength = 82
