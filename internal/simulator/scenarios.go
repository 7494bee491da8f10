package simulator

import (
	"bytes"
	"sync/atomic"

	"goenip/cip"
)

// ByTag builds a Handler that dispatches on the tag path encoded into the
// request, so a test can script "Counter reads 42" without hand-building
// the encoded path bytes itself. table keys are tag path text as accepted
// by cip.Parse; a request whose path matches none of them falls through to
// fallback.
func ByTag(table map[string]Handler, fallback Handler) Handler {
	encoded := make(map[string][]byte, len(table))
	handlers := make(map[string]Handler, len(table))
	for text, h := range table {
		tp, err := cip.Parse(text)
		if err != nil {
			continue
		}
		ep, err := cip.Encode(tp)
		if err != nil {
			continue
		}
		encoded[text] = ep.Bytes
		handlers[text] = h
	}
	return func(req Request) cip.Response {
		for text, pathBytes := range encoded {
			if bytes.Equal(pathBytes, req.Path.Bytes) {
				return handlers[text](req)
			}
		}
		if fallback != nil {
			return fallback(req)
		}
		return StatusError(req, cip.StatusPathUnknown)
	}
}

// Sequence returns a Handler that answers the Nth call (0-indexed) with
// steps[N], repeating the last step once the sequence is exhausted. It is
// used to script a multi-page response, such as Get_Instance_Attribute_List
// pagination where the first page reports StatusPartialTransfer and the
// second reports success.
func Sequence(steps ...Handler) Handler {
	var n int32
	return func(req Request) cip.Response {
		i := int(atomic.AddInt32(&n, 1)) - 1
		if i >= len(steps) {
			i = len(steps) - 1
		}
		return steps[i](req)
	}
}

// ConstDint answers any request with a successful Read Tag Service reply
// carrying a single DINT value.
func ConstDint(value int32) Handler {
	return func(req Request) cip.Response {
		data, err := cip.NewDint(value).Bytes()
		if err != nil {
			return StatusError(req, cip.StatusGeneralError)
		}
		out := append(uint16Bytes(cip.TypeDINT), data...)
		return Success(req, out)
	}
}

func uint16Bytes(v uint16) []byte {
	return []byte{byte(v), byte(v >> 8)}
}
