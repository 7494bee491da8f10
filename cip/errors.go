package cip

import "fmt"

// TypeMismatchError reports that a Value accessor was called on a Value of
// a different Kind than requested.
type TypeMismatchError struct {
	Expected uint16
	Actual   uint16
}

func (e *TypeMismatchError) Error() string {
	return fmt.Sprintf("cip: type mismatch: expected type code 0x%04X, have 0x%04X", e.Expected, e.Actual)
}

// EncodingError reports a value that cannot be represented on the wire:
// an oversize STRING, a truncated buffer, or a malformed structure.
type EncodingError struct {
	Reason string
}

func (e *EncodingError) Error() string { return "cip: encoding error: " + e.Reason }

// CipStatusError wraps a non-success CIP general/extended status returned
// by a controller in response to a request (spec §7).
type CipStatusError struct {
	General  byte
	Extended []byte
}

func (e *CipStatusError) Error() string {
	name := GeneralStatusName(e.General)
	if name == "" {
		name = fmt.Sprintf("0x%02X", e.General)
	}
	if len(e.Extended) == 0 {
		return fmt.Sprintf("cip: general status %s", name)
	}
	return fmt.Sprintf("cip: general status %s, extended status % X", name, e.Extended)
}

// IsStatus reports whether err is a CipStatusError carrying the given
// general status code.
func IsStatus(err error, general byte) bool {
	var cs *CipStatusError
	if e, ok := err.(*CipStatusError); ok {
		cs = e
	} else {
		return false
	}
	return cs.General == general
}

// UnsupportedError reports a request this engine deliberately does not
// implement (a bit-level write, a Template Object query for a type code
// that is not a structure).
type UnsupportedError struct {
	Reason string
}

func (e *UnsupportedError) Error() string { return "cip: unsupported: " + e.Reason }
