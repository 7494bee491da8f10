package goenip

import (
	"context"
	"encoding/binary"
	"fmt"

	"goenip/cip"
	"goenip/eip"
)

// Identity is a one-shot snapshot of a controller's Identity Object
// (Class 0x01, Instance 1), queried with Get_Attribute_List rather than the
// single Attribute 1 the health probe reads — grounded on the donor
// driver's DeviceInfo, trimmed to what the object itself reports (no
// network-discovery fields, since this is a query against an address
// already connected to, not a broadcast scan).
type Identity struct {
	VendorID      uint16
	DeviceType    uint16
	ProductCode   uint16
	RevisionMajor byte
	RevisionMinor byte
	Status        uint16
	SerialNumber  uint32
	ProductName   string
}

var identityAttributes = []uint16{1, 2, 3, 4, 5, 6, 7}

// Identity queries the controller's Identity Object for vendor, product,
// serial, and revision information. Unlike the health probe (which only
// reads Attribute 1 to confirm the controller still answers), this reads
// every attribute the object exposes for host diagnostics.
func (c *Client) Identity(ctx context.Context) (Identity, error) {
	path, err := cip.NewObjectPath(cip.ClassIdentityObject, cip.InstanceIdentityObject)
	if err != nil {
		return Identity{}, classify(err)
	}

	data := make([]byte, 0, 2+2*len(identityAttributes))
	data = binary.LittleEndian.AppendUint16(data, uint16(len(identityAttributes)))
	for _, a := range identityAttributes {
		data = binary.LittleEndian.AppendUint16(data, a)
	}

	req := cip.Request{Service: cip.SvcGetAttributeList, Path: path, Data: data}
	reqBytes, err := req.Marshal()
	if err != nil {
		return Identity{}, classify(err)
	}

	packet := eip.NewUnconnectedRequest(reqBytes)
	respPacket, err := c.sess.SendRRData(ctx, packet)
	if err != nil {
		return Identity{}, classify(err)
	}
	respData, ok := respPacket.UnconnectedData()
	if !ok {
		return Identity{}, classify(fmt.Errorf("goenip: identity response carried no unconnected data item"))
	}
	resp, err := cip.ParseResponse(respData)
	if err != nil {
		return Identity{}, classify(err)
	}
	if err := resp.Err(); err != nil {
		return Identity{}, classify(err)
	}

	return parseIdentityAttributeList(resp.Data)
}

// parseIdentityAttributeList walks a Get_Attribute_List reply body:
// count(u16), then per attribute {id(u16), status(u16), value}, where
// value's width depends on which Identity Object attribute id it is.
func parseIdentityAttributeList(data []byte) (Identity, error) {
	if len(data) < 2 {
		return Identity{}, classify(fmt.Errorf("goenip: identity response truncated before attribute count"))
	}
	count := int(binary.LittleEndian.Uint16(data[0:2]))
	pos := 2
	var id Identity

	for i := 0; i < count; i++ {
		if pos+4 > len(data) {
			return Identity{}, classify(fmt.Errorf("goenip: identity response truncated at attribute %d", i))
		}
		attrID := binary.LittleEndian.Uint16(data[pos : pos+2])
		status := binary.LittleEndian.Uint16(data[pos+2 : pos+4])
		pos += 4
		if status != 0 {
			// Skip attributes the controller declined (e.g. an older
			// firmware without attribute 7); the rest are still useful.
			continue
		}

		switch attrID {
		case 1: // VendorID, UINT
			if pos+2 > len(data) {
				return Identity{}, classify(fmt.Errorf("goenip: identity response truncated reading vendor id"))
			}
			id.VendorID = binary.LittleEndian.Uint16(data[pos : pos+2])
			pos += 2
		case 2: // DeviceType, UINT
			if pos+2 > len(data) {
				return Identity{}, classify(fmt.Errorf("goenip: identity response truncated reading device type"))
			}
			id.DeviceType = binary.LittleEndian.Uint16(data[pos : pos+2])
			pos += 2
		case 3: // ProductCode, UINT
			if pos+2 > len(data) {
				return Identity{}, classify(fmt.Errorf("goenip: identity response truncated reading product code"))
			}
			id.ProductCode = binary.LittleEndian.Uint16(data[pos : pos+2])
			pos += 2
		case 4: // Revision, 2x USINT (major, minor)
			if pos+2 > len(data) {
				return Identity{}, classify(fmt.Errorf("goenip: identity response truncated reading revision"))
			}
			id.RevisionMajor = data[pos]
			id.RevisionMinor = data[pos+1]
			pos += 2
		case 5: // Status, WORD
			if pos+2 > len(data) {
				return Identity{}, classify(fmt.Errorf("goenip: identity response truncated reading status"))
			}
			id.Status = binary.LittleEndian.Uint16(data[pos : pos+2])
			pos += 2
		case 6: // SerialNumber, UDINT
			if pos+4 > len(data) {
				return Identity{}, classify(fmt.Errorf("goenip: identity response truncated reading serial number"))
			}
			id.SerialNumber = binary.LittleEndian.Uint32(data[pos : pos+4])
			pos += 4
		case 7: // ProductName, SHORT_STRING (1-byte length prefix)
			if pos+1 > len(data) {
				return Identity{}, classify(fmt.Errorf("goenip: identity response truncated reading product name length"))
			}
			nameLen := int(data[pos])
			pos++
			if pos+nameLen > len(data) {
				return Identity{}, classify(fmt.Errorf("goenip: identity response truncated reading product name"))
			}
			id.ProductName = string(data[pos : pos+nameLen])
			pos += nameLen
		default:
			return Identity{}, classify(fmt.Errorf("goenip: identity response named unknown attribute %d", attrID))
		}
	}

	return id, nil
}
