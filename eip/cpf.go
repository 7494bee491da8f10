package eip

import "encoding/binary"

// CPF item type ids (spec §6.3). Only Null Address and Unconnected Data are
// used by unconnected Class 3 explicit messaging.
const (
	ItemNullAddress    uint16 = 0x0000
	ItemUnconnectedData uint16 = 0x00B2
)

// CommonPacket is the Common Packet Format item list carried inside
// SendRRData: an address item followed by a data item.
type CommonPacket struct {
	Items []CommonPacketItem
}

// CommonPacketItem is one `{ type_id, length, data }` entry of a CommonPacket.
type CommonPacketItem struct {
	TypeID uint16
	Data   []byte
}

// NewUnconnectedRequest builds the two-item CPF list unconnected explicit
// messaging always sends: a zero-length Null Address item followed by an
// Unconnected Data item carrying the CIP request bytes.
func NewUnconnectedRequest(cipRequest []byte) CommonPacket {
	return CommonPacket{Items: []CommonPacketItem{
		{TypeID: ItemNullAddress, Data: nil},
		{TypeID: ItemUnconnectedData, Data: cipRequest},
	}}
}

// UnconnectedData returns the payload of the first Unconnected Data item, or
// false if none is present.
func (p CommonPacket) UnconnectedData() ([]byte, bool) {
	for _, it := range p.Items {
		if it.TypeID == ItemUnconnectedData {
			return it.Data, true
		}
	}
	return nil, false
}

// Marshal encodes item_count followed by each item's bytes.
func (p CommonPacket) Marshal() []byte {
	buf := binary.LittleEndian.AppendUint16(nil, uint16(len(p.Items)))
	for _, it := range p.Items {
		buf = binary.LittleEndian.AppendUint16(buf, it.TypeID)
		buf = binary.LittleEndian.AppendUint16(buf, uint16(len(it.Data)))
		buf = append(buf, it.Data...)
	}
	return buf
}

// ParseCommonPacket parses an item_count-prefixed CPF item list. It never
// trusts a declared item length past the bounds of raw.
func ParseCommonPacket(raw []byte) (CommonPacket, error) {
	c := NewCursor(raw)
	count, err := c.U16()
	if err != nil {
		return CommonPacket{}, &ProtocolError{Reason: "short CPF item count", Cause: err}
	}

	items := make([]CommonPacketItem, 0, count)
	for i := 0; i < int(count); i++ {
		typeID, err := c.U16()
		if err != nil {
			return CommonPacket{}, &ProtocolError{Reason: "unknown item type", Offset: c.Pos(), Cause: err}
		}
		length, err := c.U16()
		if err != nil {
			return CommonPacket{}, &ProtocolError{Reason: "truncated CPF item header", Offset: c.Pos(), Cause: err}
		}
		data, err := c.Bytes(int(length))
		if err != nil {
			return CommonPacket{}, &ProtocolError{Reason: "truncated CPF item data", Offset: c.Pos(), Cause: err}
		}
		items = append(items, CommonPacketItem{TypeID: typeID, Data: data})
	}

	return CommonPacket{Items: items}, nil
}
