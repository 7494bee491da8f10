package simulator

import (
	"context"
	"encoding/binary"
	"sync/atomic"
	"testing"
	"time"

	"goenip/batch"
	"goenip/cip"
	"goenip/directory"
	"goenip/session"
)

func dial(t *testing.T, host string, port uint16) *session.Session {
	t.Helper()
	sess := session.New(host, session.Options{Port: port, DialTimeout: 2 * time.Second, RequestTimeout: 2 * time.Second})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := sess.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	return sess
}

// Scenario 1: connect, register, close.
func TestConnectRegisterClose(t *testing.T) {
	ctrl := New(0xABCD1234, func(req Request) cip.Response { return Success(req, nil) })
	host, port, err := ctrl.Start()
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer ctrl.Close()

	sess := dial(t, host, port)
	if sess.State() != session.StateRegistered {
		t.Fatalf("expected registered state, got %s", sess.State())
	}
	if err := sess.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if sess.State() != session.StateDisconnected {
		t.Fatalf("expected disconnected state after Close, got %s", sess.State())
	}
}

// Scenario 2: Read Counter (DINT) returning 42.
func TestReadDintTag(t *testing.T) {
	ctrl := New(0x11, ByTag(map[string]Handler{
		"Counter": ConstDint(42),
	}, nil))
	host, port, err := ctrl.Start()
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer ctrl.Close()

	sess := dial(t, host, port)
	defer sess.Close(context.Background())

	tp, err := cip.Parse("Counter")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	ctx := context.Background()
	results, err := batch.Execute(ctx, sess, []batch.Operation{{Path: tp, Kind: batch.OpRead, ElementCount: 1}}, batch.DefaultConfig())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	dint, err := results[0].Value.Dint()
	if err != nil {
		t.Fatalf("Dint: %v", err)
	}
	if dint != 42 {
		t.Fatalf("expected 42, got %d", dint)
	}
}

// Scenario 3: write StatusMessage (STRING) = "UNCONNECTED_TEST", verifying
// the exact wire layout: len(u16)=16, max(u16)=82, 16 ASCII bytes, 66 zero
// pad bytes.
func TestWriteStringTagWireLayout(t *testing.T) {
	const text = "UNCONNECTED_TEST"

	var captured []byte
	ctrl := New(0x22, ByTag(map[string]Handler{
		"StatusMessage": func(req Request) cip.Response {
			captured = append([]byte(nil), req.Data...)
			return Success(req, nil)
		},
	}, nil))
	host, port, err := ctrl.Start()
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer ctrl.Close()

	sess := dial(t, host, port)
	defer sess.Close(context.Background())

	tp, err := cip.Parse("StatusMessage")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	value, err := cip.NewString(text)
	if err != nil {
		t.Fatalf("NewString: %v", err)
	}
	ctx := context.Background()
	results, err := batch.Execute(ctx, sess, []batch.Operation{{Path: tp, Kind: batch.OpWrite, Value: value, ElementCount: 1}}, batch.DefaultConfig())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if results[0].Err != nil {
		t.Fatalf("write failed: %v", results[0].Err)
	}

	// Write Tag Service request data is type_code(u16) + element_count(u16)
	// + value bytes; the STRING value bytes themselves are len(u16) +
	// max(u16) + 82 fixed data bytes.
	if len(captured) < 4 {
		t.Fatalf("write request too short: %d bytes", len(captured))
	}
	valueBytes := captured[4:]
	if len(valueBytes) != 4+82 {
		t.Fatalf("expected 86-byte STRING encoding, got %d", len(valueBytes))
	}
	gotLen := binary.LittleEndian.Uint16(valueBytes[0:2])
	gotMax := binary.LittleEndian.Uint16(valueBytes[2:4])
	if gotLen != uint16(len(text)) {
		t.Fatalf("expected len=%d, got %d", len(text), gotLen)
	}
	if gotMax != 82 {
		t.Fatalf("expected max=82, got %d", gotMax)
	}
	if string(valueBytes[4:4+len(text)]) != text {
		t.Fatalf("expected ASCII payload %q, got %q", text, valueBytes[4:4+len(text)])
	}
	for i := 4 + len(text); i < len(valueBytes); i++ {
		if valueBytes[i] != 0 {
			t.Fatalf("expected zero pad at byte %d, got 0x%02X", i, valueBytes[i])
		}
	}
}

// Scenario 4: read a program-scoped REAL tag, exercising the two-symbolic-
// segment path encoding.
func TestReadProgramScopedRealTag(t *testing.T) {
	const tagText = "Program:LS18_Rewind.CoreDiamMin"

	ctrl := New(0x33, ByTag(map[string]Handler{
		tagText: func(req Request) cip.Response {
			data, err := cip.NewReal(3.25).Bytes()
			if err != nil {
				return StatusError(req, cip.StatusGeneralError)
			}
			out := append([]byte{byte(cip.TypeREAL), byte(cip.TypeREAL >> 8)}, data...)
			return Success(req, out)
		},
	}, nil))
	host, port, err := ctrl.Start()
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer ctrl.Close()

	sess := dial(t, host, port)
	defer sess.Close(context.Background())

	tp, err := cip.Parse(tagText)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(tp.Steps) < 2 {
		t.Fatalf("expected at least two path steps for a program-scoped tag, got %d", len(tp.Steps))
	}

	ctx := context.Background()
	results, err := batch.Execute(ctx, sess, []batch.Operation{{Path: tp, Kind: batch.OpRead, ElementCount: 1}}, batch.DefaultConfig())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	real, err := results[0].Value.Real()
	if err != nil {
		t.Fatalf("Real: %v", err)
	}
	if real != 3.25 {
		t.Fatalf("expected 3.25, got %v", real)
	}
}

// Scenario 5: a 5-op batch with max_ops_per_packet=3 splits into two
// packets, with results returned in input order.
func TestBatchSplitsAcrossPackets(t *testing.T) {
	ctrl := New(0x44, func(req Request) cip.Response {
		switch req.Service {
		case cip.SvcReadTag:
			return ConstDint(7)(req)
		default:
			return StatusError(req, cip.StatusServiceNotSupported)
		}
	})
	host, port, err := ctrl.Start()
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer ctrl.Close()

	sess := dial(t, host, port)
	defer sess.Close(context.Background())

	names := []string{"A", "B", "C", "D", "E"}
	ops := make([]batch.Operation, len(names))
	for i, name := range names {
		tp, err := cip.Parse(name)
		if err != nil {
			t.Fatalf("Parse(%s): %v", name, err)
		}
		ops[i] = batch.Operation{Path: tp, Kind: batch.OpRead, ElementCount: 1}
	}

	cfg := batch.DefaultConfig()
	cfg.MaxOpsPerPacket = 3
	cfg.OptimizePacking = false

	ctx := context.Background()
	results, err := batch.Execute(ctx, sess, ops, cfg)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(results) != 5 {
		t.Fatalf("expected 5 results, got %d", len(results))
	}
	for i, r := range results {
		if r.Err != nil {
			t.Fatalf("result %d: %v", i, r.Err)
		}
	}
	if got := ctrl.PacketCount(); got != 2 {
		t.Fatalf("expected 2 packets sent, got %d", got)
	}
}

// Scenario 6: discovery merges a 0x06 partial-transfer page with a terminal
// 0x00 page into the union of both.
func TestDiscoveryMergesPaginatedPages(t *testing.T) {
	page := func(status byte, entries ...directoryEntryBytes) Handler {
		return func(req Request) cip.Response {
			data := make([]byte, 0, 64)
			for _, e := range entries {
				data = append(data, e.encode()...)
			}
			return cip.Response{ReplyService: req.Service | cip.ReplyServiceBit, GeneralStatus: status, Data: data}
		}
	}

	handler := Sequence(
		page(cip.StatusPartialTransfer, directoryEntryBytes{instance: 1, name: "Alpha", typeCode: cip.TypeDINT}),
		page(cip.StatusSuccess, directoryEntryBytes{instance: 2, name: "Beta", typeCode: cip.TypeREAL}),
	)

	ctrl := New(0x55, handler)
	host, port, err := ctrl.Start()
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer ctrl.Close()

	sess := dial(t, host, port)
	defer sess.Close(context.Background())

	dir := directory.New(sess)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := dir.Discover(ctx); err != nil {
		t.Fatalf("Discover: %v", err)
	}

	if _, ok := dir.Get("Alpha"); !ok {
		t.Fatalf("expected Alpha from the partial-transfer page to be cached")
	}
	if _, ok := dir.Get("Beta"); !ok {
		t.Fatalf("expected Beta from the terminal page to be cached")
	}
}

// Scenario 7: a read whose first reply reports a partial transfer falls
// back to Read Tag Fragmented continuation requests, reassembling the full
// value before returning it.
func TestReadFallsBackToFragmentedContinuation(t *testing.T) {
	const want int32 = 0x11223344
	full, err := cip.NewDint(want).Bytes()
	if err != nil {
		t.Fatalf("Bytes: %v", err)
	}
	if len(full) != 4 {
		t.Fatalf("expected 4-byte DINT encoding, got %d", len(full))
	}

	var calls int32
	ctrl := New(0x66, func(req Request) cip.Response {
		switch n := atomic.AddInt32(&calls, 1); n {
		case 1:
			if req.Service != cip.SvcReadTag {
				t.Errorf("expected first request to be Read Tag Service, got 0x%02X", req.Service)
			}
			out := append(uint16Bytes(cip.TypeDINT), full[:2]...)
			return cip.Response{ReplyService: req.Service | cip.ReplyServiceBit, GeneralStatus: cip.StatusPartialTransfer, Data: out}
		case 2:
			if req.Service != cip.SvcReadTagFragmented {
				t.Errorf("expected continuation request to be Read Tag Fragmented, got 0x%02X", req.Service)
			}
			out := append(uint16Bytes(cip.TypeDINT), full[2:]...)
			return Success(req, out)
		default:
			t.Errorf("unexpected extra request %d", n)
			return StatusError(req, cip.StatusGeneralError)
		}
	})
	host, port, err := ctrl.Start()
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer ctrl.Close()

	sess := dial(t, host, port)
	defer sess.Close(context.Background())

	tp, err := cip.Parse("BigValue")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	ctx := context.Background()
	results, err := batch.Execute(ctx, sess, []batch.Operation{{Path: tp, Kind: batch.OpRead, ElementCount: 1}}, batch.DefaultConfig())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if results[0].Err != nil {
		t.Fatalf("read failed: %v", results[0].Err)
	}
	dint, err := results[0].Value.Dint()
	if err != nil {
		t.Fatalf("Dint: %v", err)
	}
	if dint != want {
		t.Fatalf("expected %d, got %d", want, dint)
	}
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Fatalf("expected exactly 2 requests to have reached the controller, got %d", got)
	}
}

// directoryEntryBytes builds one Get_Instance_Attribute_List reply entry:
// instance(u16) + reserved(u16) + name_len(u16) + name + type_code(u16) +
// array_size(u16), matching the directory package's own parser.
type directoryEntryBytes struct {
	instance uint32
	name     string
	typeCode uint16
}

func (e directoryEntryBytes) encode() []byte {
	out := make([]byte, 0, 10+len(e.name))
	out = binary.LittleEndian.AppendUint16(out, uint16(e.instance))
	out = binary.LittleEndian.AppendUint16(out, 0) // reserved
	out = binary.LittleEndian.AppendUint16(out, uint16(len(e.name)))
	out = append(out, e.name...)
	out = binary.LittleEndian.AppendUint16(out, e.typeCode)
	out = binary.LittleEndian.AppendUint16(out, 0) // array size
	out = append(out, make([]byte, 10)...)          // trailing per-instance metadata this driver ignores
	return out
}
