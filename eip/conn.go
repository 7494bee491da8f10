package eip

import (
	"io"
)

// MaxPayloadLength is the largest encapsulation payload this engine accepts;
// anything larger is treated as a malformed frame rather than read into memory.
const MaxPayloadLength = 65511

// WriteFrame writes an encapsulation header followed by its payload to w.
// h.Length is overwritten with len(payload) so callers never have to keep
// the two in sync by hand.
func WriteFrame(w io.Writer, h Header, payload []byte) error {
	h.Length = uint16(len(payload))
	if _, err := w.Write(h.Marshal()); err != nil {
		return err
	}
	if len(payload) == 0 {
		return nil
	}
	_, err := w.Write(payload)
	return err
}

// ReadFrame reads one encapsulation header and its payload from r, blocking
// until the full frame arrives, r returns an error, or the connection closes.
func ReadFrame(r io.Reader) (Header, []byte, error) {
	raw := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, raw); err != nil {
		return Header{}, nil, err
	}
	h, err := ParseHeader(raw)
	if err != nil {
		return Header{}, nil, err
	}
	if int(h.Length) > MaxPayloadLength {
		return Header{}, nil, &ProtocolError{Reason: "payload too large", Offset: 2}
	}
	payload := make([]byte, h.Length)
	if len(payload) > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return Header{}, nil, err
		}
	}
	return h, payload, nil
}
