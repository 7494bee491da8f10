package eip

import "encoding/binary"

// Encapsulation commands (spec §6.3). Only the subset a Class 3 unconnected
// explicit-messaging client needs.
const (
	CommandNOP               uint16 = 0x0000
	CommandRegisterSession   uint16 = 0x0065
	CommandUnRegisterSession uint16 = 0x0066
	CommandSendRRData        uint16 = 0x006F
)

// HeaderSize is the fixed length of the EtherNet/IP encapsulation header.
const HeaderSize = 24

// Header is the 24-byte EtherNet/IP encapsulation header that precedes every
// command's payload on the wire.
type Header struct {
	Command       uint16
	Length        uint16 // byte length of the payload that follows
	SessionHandle uint32
	Status        uint32
	Context       uint64 // sender_context, echoed verbatim by the controller
	Options       uint32 // MUST be 0
}

// Marshal encodes the header as its 24-byte wire representation.
func (h Header) Marshal() []byte {
	buf := make([]byte, 0, HeaderSize)
	buf = binary.LittleEndian.AppendUint16(buf, h.Command)
	buf = binary.LittleEndian.AppendUint16(buf, h.Length)
	buf = binary.LittleEndian.AppendUint32(buf, h.SessionHandle)
	buf = binary.LittleEndian.AppendUint32(buf, h.Status)
	buf = binary.LittleEndian.AppendUint64(buf, h.Context)
	buf = binary.LittleEndian.AppendUint32(buf, h.Options)
	return buf
}

// ParseHeader decodes the 24-byte header from the front of raw. It never
// trusts Length against anything but the caller-supplied slice length.
func ParseHeader(raw []byte) (Header, error) {
	c := NewCursor(raw)
	var h Header
	var err error
	if h.Command, err = c.U16(); err != nil {
		return Header{}, errShortHeader(err)
	}
	if h.Length, err = c.U16(); err != nil {
		return Header{}, errShortHeader(err)
	}
	if h.SessionHandle, err = c.U32(); err != nil {
		return Header{}, errShortHeader(err)
	}
	if h.Status, err = c.U32(); err != nil {
		return Header{}, errShortHeader(err)
	}
	if h.Context, err = c.U64(); err != nil {
		return Header{}, errShortHeader(err)
	}
	if h.Options, err = c.U32(); err != nil {
		return Header{}, errShortHeader(err)
	}
	return h, nil
}

func errShortHeader(cause error) error {
	return &ProtocolError{Reason: "short header", Cause: cause}
}

// ProtocolError reports malformed encapsulation or CPF framing received from
// the controller. Offset, when non-negative, is a byte offset into the frame
// that triggered the failure.
type ProtocolError struct {
	Reason string
	Offset int
	Cause  error
}

func (e *ProtocolError) Error() string {
	if e.Cause != nil {
		return "eip: " + e.Reason + ": " + e.Cause.Error()
	}
	return "eip: " + e.Reason
}

func (e *ProtocolError) Unwrap() error { return e.Cause }

// RegisterSessionRequest is the command-specific data of a RegisterSession
// request: protocol version (always 1) and option flags (always 0).
type RegisterSessionRequest struct {
	ProtocolVersion uint16
	OptionFlags     uint16
}

// Marshal encodes the 4-byte RegisterSession request body.
func (r RegisterSessionRequest) Marshal() []byte {
	buf := make([]byte, 0, 4)
	buf = binary.LittleEndian.AppendUint16(buf, r.ProtocolVersion)
	buf = binary.LittleEndian.AppendUint16(buf, r.OptionFlags)
	return buf
}

// ParseRegisterSessionResponse decodes the RegisterSession reply body, which
// has the same shape as the request.
func ParseRegisterSessionResponse(raw []byte) (RegisterSessionRequest, error) {
	c := NewCursor(raw)
	var resp RegisterSessionRequest
	var err error
	if resp.ProtocolVersion, err = c.U16(); err != nil {
		return RegisterSessionRequest{}, &ProtocolError{Reason: "short RegisterSession response", Cause: err}
	}
	if resp.OptionFlags, err = c.U16(); err != nil {
		return RegisterSessionRequest{}, &ProtocolError{Reason: "short RegisterSession response", Cause: err}
	}
	return resp, nil
}

// SendRRDataRequest is the command-specific data that precedes the CPF item
// list inside a SendRRData (or SendUnitData) command.
type SendRRDataRequest struct {
	InterfaceHandle uint32 // always 0 for CIP
	Timeout         uint16 // seconds; 0 means host-controlled
	CPF             CommonPacket
}

// Marshal encodes interface_handle + timeout + the CPF item list.
func (r SendRRDataRequest) Marshal() []byte {
	buf := make([]byte, 0, 6)
	buf = binary.LittleEndian.AppendUint32(buf, r.InterfaceHandle)
	buf = binary.LittleEndian.AppendUint16(buf, r.Timeout)
	buf = append(buf, r.CPF.Marshal()...)
	return buf
}

// ParseSendRRDataResponse decodes the interface handle + CPF item list from
// a SendRRData reply's payload.
func ParseSendRRDataResponse(raw []byte) (CommonPacket, error) {
	c := NewCursor(raw)
	if _, err := c.U32(); err != nil { // interface handle, ignored
		return CommonPacket{}, &ProtocolError{Reason: "short SendRRData response", Cause: err}
	}
	if _, err := c.U16(); err != nil { // timeout, ignored
		return CommonPacket{}, &ProtocolError{Reason: "short SendRRData response", Cause: err}
	}
	return ParseCommonPacket(c.Rest())
}
