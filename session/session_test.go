package session

import (
	"context"
	"net"
	"testing"
	"time"

	"goenip/eip"
)

// fakeController accepts one connection, completes the RegisterSession
// handshake, then echoes back a canned SendRRData reply carrying the
// request's sender_context untouched.
func fakeController(t *testing.T, ln net.Listener, reply []byte) {
	conn, err := ln.Accept()
	if err != nil {
		return
	}
	defer conn.Close()

	h, _, err := eip.ReadFrame(conn)
	if err != nil {
		t.Errorf("fakeController: reading RegisterSession request: %v", err)
		return
	}
	if h.Command != eip.CommandRegisterSession {
		t.Errorf("fakeController: expected RegisterSession, got 0x%04X", h.Command)
		return
	}
	respBody := eip.RegisterSessionRequest{ProtocolVersion: 1}.Marshal()
	respH := eip.Header{Command: eip.CommandRegisterSession, SessionHandle: 0xCAFEBABE}
	if err := eip.WriteFrame(conn, respH, respBody); err != nil {
		t.Errorf("fakeController: writing RegisterSession response: %v", err)
		return
	}

	for {
		reqH, _, err := eip.ReadFrame(conn)
		if err != nil {
			return
		}
		if reqH.Command != eip.CommandSendRRData {
			continue
		}
		respH := eip.Header{Command: eip.CommandSendRRData, SessionHandle: 0xCAFEBABE, Context: reqH.Context}
		if err := eip.WriteFrame(conn, respH, reply); err != nil {
			return
		}
	}
}

func TestSessionConnectAndSendRRData(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	reply := eip.SendRRDataRequest{CPF: eip.NewUnconnectedRequest([]byte{0xCC, 0x00})}.Marshal()
	go fakeController(t, ln, reply)

	addr := ln.Addr().(*net.TCPAddr)
	s := New("127.0.0.1", Options{Port: uint16(addr.Port)})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer s.Close(context.Background())

	if s.State() != StateRegistered {
		t.Fatalf("expected StateRegistered, got %v", s.State())
	}

	req := eip.NewUnconnectedRequest([]byte{0x4C, 0x02, 0x91, 0x03, 0x00, 0x01, 0x00})
	resp, err := s.SendRRData(ctx, req)
	if err != nil {
		t.Fatalf("SendRRData: %v", err)
	}
	data, ok := resp.UnconnectedData()
	if !ok {
		t.Fatal("expected unconnected data item in reply")
	}
	if len(data) != 2 || data[0] != 0xCC {
		t.Fatalf("unexpected reply data: % X", data)
	}
}

func TestSessionConcurrentSendRRData(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	reply := eip.SendRRDataRequest{CPF: eip.NewUnconnectedRequest([]byte{0xAA})}.Marshal()
	go fakeController(t, ln, reply)

	addr := ln.Addr().(*net.TCPAddr)
	s := New("127.0.0.1", Options{Port: uint16(addr.Port)})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer s.Close(context.Background())

	const n = 8
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		go func() {
			_, err := s.SendRRData(ctx, eip.NewUnconnectedRequest([]byte{0x01}))
			errs <- err
		}()
	}
	for i := 0; i < n; i++ {
		if err := <-errs; err != nil {
			t.Errorf("concurrent SendRRData: %v", err)
		}
	}
}
