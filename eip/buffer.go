// Package eip implements the EtherNet/IP encapsulation layer: the 24-byte
// encapsulation header and the Common Packet Format (CPF) item list carried
// inside SendRRData. It has no notion of sessions, CIP services, or tags —
// that belongs to the session and cip packages built on top of it.
package eip

import "fmt"

// Cursor reads length-prefixed, bounds-checked fields out of a byte slice.
// Every wire parser in this module uses it instead of hand-indexing, so a
// truncated or malicious frame fails with a precise error instead of a panic.
type Cursor struct {
	buf []byte
	pos int
}

// NewCursor wraps buf for sequential reads starting at offset 0.
func NewCursor(buf []byte) *Cursor {
	return &Cursor{buf: buf}
}

// Pos returns the current read offset.
func (c *Cursor) Pos() int { return c.pos }

// Remaining returns the number of unread bytes.
func (c *Cursor) Remaining() int { return len(c.buf) - c.pos }

func (c *Cursor) need(n int) error {
	if c.Remaining() < n {
		return fmt.Errorf("short buffer at offset %d: need %d bytes, have %d", c.pos, n, c.Remaining())
	}
	return nil
}

// Bytes reads and returns the next n bytes without copying.
func (c *Cursor) Bytes(n int) ([]byte, error) {
	if err := c.need(n); err != nil {
		return nil, err
	}
	b := c.buf[c.pos : c.pos+n]
	c.pos += n
	return b, nil
}

// Rest returns every remaining unread byte.
func (c *Cursor) Rest() []byte {
	b := c.buf[c.pos:]
	c.pos = len(c.buf)
	return b
}

func (c *Cursor) U8() (byte, error) {
	b, err := c.Bytes(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (c *Cursor) U16() (uint16, error) {
	b, err := c.Bytes(2)
	if err != nil {
		return 0, err
	}
	return leUint16(b), nil
}

func (c *Cursor) U32() (uint32, error) {
	b, err := c.Bytes(4)
	if err != nil {
		return 0, err
	}
	return leUint32(b), nil
}

func (c *Cursor) U64() (uint64, error) {
	b, err := c.Bytes(8)
	if err != nil {
		return 0, err
	}
	return leUint64(b), nil
}

func leUint16(b []byte) uint16 {
	return uint16(b[0]) | uint16(b[1])<<8
}

func leUint32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func leUint64(b []byte) uint64 {
	var v uint64
	for i := 7; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v
}
