package cip

import (
	"encoding/binary"
	"fmt"

	"goenip/eip"
)

// Request is a CIP message: a service code, an encoded path, and
// service-specific request data (spec §4.4).
type Request struct {
	Service byte
	Path    EncodedPath
	Data    []byte
}

// Marshal produces the wire form of a CIP request: service, path_words,
// path_bytes, service_specific_data.
func (r Request) Marshal() ([]byte, error) {
	words, err := r.Path.WordLen()
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, 2+len(r.Path.Bytes)+len(r.Data))
	out = append(out, r.Service, words)
	out = append(out, r.Path.Bytes...)
	out = append(out, r.Data...)
	return out, nil
}

// Response is a parsed CIP response header plus its service-specific reply
// data (spec §4.4, §7).
type Response struct {
	ReplyService   byte
	GeneralStatus  byte
	ExtendedStatus []byte
	Data           []byte
}

// ParseResponse parses the common CIP response header:
// reply_service, reserved(0x00), general_status, extended_status_size,
// extended_status[extended_status_size], response_data.
func ParseResponse(raw []byte) (Response, error) {
	c := eip.NewCursor(raw)
	replyService, err := c.U8()
	if err != nil {
		return Response{}, fmt.Errorf("cip: response truncated reading reply service: %w", err)
	}
	if _, err := c.U8(); err != nil { // reserved byte
		return Response{}, fmt.Errorf("cip: response truncated reading reserved byte: %w", err)
	}
	generalStatus, err := c.U8()
	if err != nil {
		return Response{}, fmt.Errorf("cip: response truncated reading general status: %w", err)
	}
	extSize, err := c.U8()
	if err != nil {
		return Response{}, fmt.Errorf("cip: response truncated reading extended status size: %w", err)
	}
	extBytes := int(extSize) * 2
	ext, err := c.Bytes(extBytes)
	if err != nil {
		return Response{}, fmt.Errorf("cip: response truncated reading extended status: %w", err)
	}
	return Response{
		ReplyService:   replyService,
		GeneralStatus:  generalStatus,
		ExtendedStatus: ext,
		Data:           c.Rest(),
	}, nil
}

// Err returns nil when the response's general status is success, otherwise
// a *CipStatusError.
func (r Response) Err() error {
	if r.GeneralStatus == StatusSuccess {
		return nil
	}
	return &CipStatusError{General: r.GeneralStatus, Extended: r.ExtendedStatus}
}

// BuildReadTagRequest builds a Read Tag Service (0x4C) request for
// elementCount contiguous elements starting at path's addressed element.
func BuildReadTagRequest(path EncodedPath, elementCount uint16) Request {
	data := binary.LittleEndian.AppendUint16(nil, elementCount)
	return Request{Service: SvcReadTag, Path: path, Data: data}
}

// ReadTagResult is the decoded payload of a Read Tag Service response.
type ReadTagResult struct {
	TypeCode uint16
	Value    Value
}

// ParseReadTagResponse decodes a Read Tag Service response body
// (type_code: u16, value data) into a Value.
func ParseReadTagResponse(resp Response) (ReadTagResult, error) {
	if err := resp.Err(); err != nil {
		return ReadTagResult{}, err
	}
	if len(resp.Data) < 2 {
		return ReadTagResult{}, &EncodingError{Reason: "Read Tag response missing type code"}
	}
	typeCode := binary.LittleEndian.Uint16(resp.Data[0:2])
	val, err := Decode(typeCode, resp.Data[2:])
	if err != nil {
		return ReadTagResult{}, err
	}
	return ReadTagResult{TypeCode: typeCode, Value: val}, nil
}

// BuildWriteTagRequest builds a Write Tag Service (0x4D) request: type_code,
// element_count, value data.
func BuildWriteTagRequest(path EncodedPath, value Value, elementCount uint16) (Request, error) {
	raw, err := value.Bytes()
	if err != nil {
		return Request{}, err
	}
	data := binary.LittleEndian.AppendUint16(nil, value.TypeCode())
	data = binary.LittleEndian.AppendUint16(data, elementCount)
	data = append(data, raw...)
	return Request{Service: SvcWriteTag, Path: path, Data: data}, nil
}

// ParseWriteTagResponse returns the response's status as an error, or nil on
// success. A Write Tag Service response carries no reply data.
func ParseWriteTagResponse(resp Response) error {
	return resp.Err()
}

// BuildReadTagFragmentedRequest builds a Read Tag Fragmented Service (0x52)
// request, used to read values too large for a single unconnected message.
func BuildReadTagFragmentedRequest(path EncodedPath, elementCount uint16, byteOffset uint32) Request {
	data := binary.LittleEndian.AppendUint16(nil, elementCount)
	data = binary.LittleEndian.AppendUint32(data, byteOffset)
	return Request{Service: SvcReadTagFragmented, Path: path, Data: data}
}

// ReadTagFragmentedResult is one fragment of a Read Tag Fragmented response.
type ReadTagFragmentedResult struct {
	TypeCode uint16
	Data     []byte
	More     bool // true when general status is StatusPartialTransfer
}

// ParseReadTagFragmentedResponse decodes one fragment. More is set when the
// controller reports StatusPartialTransfer, meaning the caller should issue
// another request at an advanced byteOffset.
func ParseReadTagFragmentedResponse(resp Response) (ReadTagFragmentedResult, error) {
	if resp.GeneralStatus != StatusSuccess && resp.GeneralStatus != StatusPartialTransfer {
		return ReadTagFragmentedResult{}, resp.Err()
	}
	if len(resp.Data) < 2 {
		return ReadTagFragmentedResult{}, &EncodingError{Reason: "Read Tag Fragmented response missing type code"}
	}
	typeCode := binary.LittleEndian.Uint16(resp.Data[0:2])
	return ReadTagFragmentedResult{
		TypeCode: typeCode,
		Data:     resp.Data[2:],
		More:     resp.GeneralStatus == StatusPartialTransfer,
	}, nil
}
