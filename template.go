package goenip

import (
	"context"
	"encoding/binary"
	"fmt"

	"goenip/cip"
	"goenip/eip"
)

// TemplateInfo is the Template Object metadata for a UDT type code: enough
// to size a buffer or report member count to a host, without decomposing
// individual members (Open Question 1: UDTs stay opaque).
type TemplateInfo struct {
	MemberCount      uint16
	StructureSizeBytes uint32
}

// templateAttributes requests member count (attribute 2) and structure size
// in bytes (attribute 4), matching the donor driver's getTemplateAttribute
// family, expressed here as one Get_Attribute_List call instead of two
// Get_Attribute_Single round trips.
var templateAttributes = []uint16{2, 4}

// TemplateInfo queries the Template Object for typeCode's member count and
// byte size. typeCode must carry cip.StructureTypeMask (i.e. be a UDT type
// code as returned by a directory entry or a Read Tag response), otherwise
// it returns a *cip.UnsupportedError.
func (c *Client) TemplateInfo(ctx context.Context, typeCode uint16) (TemplateInfo, error) {
	if typeCode&cip.StructureTypeMask == 0 {
		return TemplateInfo{}, classify(&cip.UnsupportedError{Reason: fmt.Sprintf("type code 0x%04X is not a structure", typeCode)})
	}
	templateID := typeCode & 0x0FFF // low 12 bits; drops the structure and array flags

	path, err := templateObjectPath(templateID)
	if err != nil {
		return TemplateInfo{}, classify(err)
	}

	data := make([]byte, 0, 2+2*len(templateAttributes))
	data = binary.LittleEndian.AppendUint16(data, uint16(len(templateAttributes)))
	for _, a := range templateAttributes {
		data = binary.LittleEndian.AppendUint16(data, a)
	}

	req := cip.Request{Service: cip.SvcGetAttributeList, Path: path, Data: data}
	reqBytes, err := req.Marshal()
	if err != nil {
		return TemplateInfo{}, classify(err)
	}

	packet := eip.NewUnconnectedRequest(reqBytes)
	respPacket, err := c.sess.SendRRData(ctx, packet)
	if err != nil {
		return TemplateInfo{}, classify(err)
	}
	respData, ok := respPacket.UnconnectedData()
	if !ok {
		return TemplateInfo{}, classify(fmt.Errorf("goenip: template response carried no unconnected data item"))
	}
	resp, err := cip.ParseResponse(respData)
	if err != nil {
		return TemplateInfo{}, classify(err)
	}
	if err := resp.Err(); err != nil {
		return TemplateInfo{}, classify(err)
	}

	return parseTemplateAttributeList(resp.Data)
}

func templateObjectPath(templateID uint16) (cip.EncodedPath, error) {
	if templateID <= 0xFF {
		return cip.NewObjectPath(cip.ClassTemplateObject, byte(templateID))
	}
	out := []byte{0x20, cip.ClassTemplateObject, 0x29, 0x00}
	out = binary.LittleEndian.AppendUint16(out, templateID)
	return cip.EncodedPath{Bytes: out}, nil
}

func parseTemplateAttributeList(data []byte) (TemplateInfo, error) {
	if len(data) < 2 {
		return TemplateInfo{}, classify(fmt.Errorf("goenip: template response truncated before attribute count"))
	}
	count := int(binary.LittleEndian.Uint16(data[0:2]))
	pos := 2
	var info TemplateInfo

	for i := 0; i < count; i++ {
		if pos+4 > len(data) {
			return TemplateInfo{}, classify(fmt.Errorf("goenip: template response truncated at attribute %d", i))
		}
		attrID := binary.LittleEndian.Uint16(data[pos : pos+2])
		status := binary.LittleEndian.Uint16(data[pos+2 : pos+4])
		pos += 4
		if status != 0 {
			continue
		}

		switch attrID {
		case 2: // member count, UINT
			if pos+2 > len(data) {
				return TemplateInfo{}, classify(fmt.Errorf("goenip: template response truncated reading member count"))
			}
			info.MemberCount = binary.LittleEndian.Uint16(data[pos : pos+2])
			pos += 2
		case 4: // structure size in bytes, UDINT
			if pos+4 > len(data) {
				return TemplateInfo{}, classify(fmt.Errorf("goenip: template response truncated reading structure size"))
			}
			info.StructureSizeBytes = binary.LittleEndian.Uint32(data[pos : pos+4])
			pos += 4
		default:
			return TemplateInfo{}, classify(fmt.Errorf("goenip: template response named unknown attribute %d", attrID))
		}
	}

	return info, nil
}
