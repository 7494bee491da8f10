// The JSON encoding of PlcValue and BatchOperation used at the C ABI
// boundary, kept separate from cip.Value itself so the core value codec
// stays free of any particular host-facing wire format; JSON is an ABI
// concern, not a protocol concern.
package main

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"goenip/cip"
)

// JSONValue is the over-the-wire shape of a PlcValue at the C ABI boundary.
// Value holds a JSON number, string, or bool depending on Kind; UDT values
// carry their raw bytes as base64 in Data.
type JSONValue struct {
	Kind   string          `json:"kind"`
	Value  json.RawMessage `json:"value,omitempty"`
	TypeID uint16          `json:"type_id,omitempty"` // UDT only
	Data   string          `json:"data,omitempty"`    // UDT only, base64
}

// EncodeValue converts a cip.Value into its JSON-ready form.
func EncodeValue(v cip.Value) (JSONValue, error) {
	jv := JSONValue{Kind: kindName(v.Kind())}
	var raw interface{}
	switch v.Kind() {
	case cip.KindBool:
		b, err := v.Bool()
		if err != nil {
			return JSONValue{}, err
		}
		raw = b
	case cip.KindSint:
		n, err := v.Sint()
		if err != nil {
			return JSONValue{}, err
		}
		raw = n
	case cip.KindInt:
		n, err := v.Int()
		if err != nil {
			return JSONValue{}, err
		}
		raw = n
	case cip.KindDint:
		n, err := v.Dint()
		if err != nil {
			return JSONValue{}, err
		}
		raw = n
	case cip.KindLint:
		n, err := v.Lint()
		if err != nil {
			return JSONValue{}, err
		}
		raw = n
	case cip.KindUsint:
		n, err := v.Usint()
		if err != nil {
			return JSONValue{}, err
		}
		raw = n
	case cip.KindUint:
		n, err := v.Uint()
		if err != nil {
			return JSONValue{}, err
		}
		raw = n
	case cip.KindUdint:
		n, err := v.Udint()
		if err != nil {
			return JSONValue{}, err
		}
		raw = n
	case cip.KindUlint:
		n, err := v.Ulint()
		if err != nil {
			return JSONValue{}, err
		}
		raw = n
	case cip.KindReal:
		n, err := v.Real()
		if err != nil {
			return JSONValue{}, err
		}
		raw = n
	case cip.KindLreal:
		n, err := v.Lreal()
		if err != nil {
			return JSONValue{}, err
		}
		raw = n
	case cip.KindString:
		s, err := v.String()
		if err != nil {
			return JSONValue{}, err
		}
		raw = s
	case cip.KindUdt:
		typeID, data, err := v.UDT()
		if err != nil {
			return JSONValue{}, err
		}
		jv.TypeID = typeID
		jv.Data = base64.StdEncoding.EncodeToString(data)
		return jv, nil
	default:
		return JSONValue{}, fmt.Errorf("cabi: unknown value kind %v", v.Kind())
	}

	encoded, err := json.Marshal(raw)
	if err != nil {
		return JSONValue{}, fmt.Errorf("cabi: encoding value: %w", err)
	}
	jv.Value = encoded
	return jv, nil
}

// DecodeValue converts a JSONValue back into a cip.Value.
func DecodeValue(jv JSONValue) (cip.Value, error) {
	switch jv.Kind {
	case "BOOL":
		var b bool
		if err := json.Unmarshal(jv.Value, &b); err != nil {
			return cip.Value{}, err
		}
		return cip.NewBool(b), nil
	case "SINT":
		var n int8
		if err := json.Unmarshal(jv.Value, &n); err != nil {
			return cip.Value{}, err
		}
		return cip.NewSint(n), nil
	case "INT":
		var n int16
		if err := json.Unmarshal(jv.Value, &n); err != nil {
			return cip.Value{}, err
		}
		return cip.NewInt(n), nil
	case "DINT":
		var n int32
		if err := json.Unmarshal(jv.Value, &n); err != nil {
			return cip.Value{}, err
		}
		return cip.NewDint(n), nil
	case "LINT":
		var n int64
		if err := json.Unmarshal(jv.Value, &n); err != nil {
			return cip.Value{}, err
		}
		return cip.NewLint(n), nil
	case "USINT":
		var n uint8
		if err := json.Unmarshal(jv.Value, &n); err != nil {
			return cip.Value{}, err
		}
		return cip.NewUsint(n), nil
	case "UINT":
		var n uint16
		if err := json.Unmarshal(jv.Value, &n); err != nil {
			return cip.Value{}, err
		}
		return cip.NewUint(n), nil
	case "UDINT":
		var n uint32
		if err := json.Unmarshal(jv.Value, &n); err != nil {
			return cip.Value{}, err
		}
		return cip.NewUdint(n), nil
	case "ULINT":
		var n uint64
		if err := json.Unmarshal(jv.Value, &n); err != nil {
			return cip.Value{}, err
		}
		return cip.NewUlint(n), nil
	case "REAL":
		var n float32
		if err := json.Unmarshal(jv.Value, &n); err != nil {
			return cip.Value{}, err
		}
		return cip.NewReal(n), nil
	case "LREAL":
		var n float64
		if err := json.Unmarshal(jv.Value, &n); err != nil {
			return cip.Value{}, err
		}
		return cip.NewLreal(n), nil
	case "STRING":
		var s string
		if err := json.Unmarshal(jv.Value, &s); err != nil {
			return cip.Value{}, err
		}
		return cip.NewString(s)
	case "UDT":
		data, err := base64.StdEncoding.DecodeString(jv.Data)
		if err != nil {
			return cip.Value{}, fmt.Errorf("cabi: decoding UDT data: %w", err)
		}
		return cip.NewUDT(jv.TypeID, data), nil
	default:
		return cip.Value{}, fmt.Errorf("cabi: unknown value kind %q", jv.Kind)
	}
}

func kindName(k cip.Kind) string { return k.String() }

// JSONOperation is the over-the-wire shape of a batch.Operation.
type JSONOperation struct {
	Path         string    `json:"path"`
	Kind         string    `json:"kind"` // "read" or "write"
	Value        JSONValue `json:"value,omitempty"`
	ElementCount uint16    `json:"element_count,omitempty"`
}

// JSONResult is the over-the-wire shape of a batch.Result.
type JSONResult struct {
	Value JSONValue `json:"value,omitempty"`
	Error string    `json:"error,omitempty"`
}
