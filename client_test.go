package goenip

import (
	"context"
	"encoding/binary"
	"net"
	"testing"
	"time"

	"goenip/cip"
	"goenip/eip"
)

// fakeController accepts one connection, completes the RegisterSession
// handshake, then answers every SendRRData request by CIP service code:
// a Multiple Service Packet is unpacked and each embedded request answered
// in turn, Read Tag returns a canned DINT, Write Tag returns bare success,
// anything else (Get_Attribute_List, used by Identity/TemplateInfo) is
// answered from a caller-supplied table keyed by service code.
type fakeController struct {
	t   *testing.T
	ln  net.Listener
	dint int32
	extra map[byte][]byte // service code -> full CIP response body (reply svc onward)
}

func (f *fakeController) run() {
	conn, err := f.ln.Accept()
	if err != nil {
		return
	}
	defer conn.Close()

	h, _, err := eip.ReadFrame(conn)
	if err != nil || h.Command != eip.CommandRegisterSession {
		return
	}
	respBody := eip.RegisterSessionRequest{ProtocolVersion: 1}.Marshal()
	respH := eip.Header{Command: eip.CommandRegisterSession, SessionHandle: 0xABCD1234}
	if err := eip.WriteFrame(conn, respH, respBody); err != nil {
		return
	}

	for {
		reqH, payload, err := eip.ReadFrame(conn)
		if err != nil {
			return
		}
		if reqH.Command != eip.CommandSendRRData {
			continue
		}
		cpf, err := eip.ParseSendRRDataResponse(payload)
		if err != nil {
			f.t.Errorf("fakeController: parsing request CPF: %v", err)
			return
		}
		data, ok := cpf.UnconnectedData()
		if !ok {
			f.t.Errorf("fakeController: request carried no unconnected data item")
			return
		}
		replyBody := f.reply(data)

		respPacket := eip.NewUnconnectedRequest(replyBody)
		respReq := eip.SendRRDataRequest{CPF: respPacket}
		respH := eip.Header{Command: eip.CommandSendRRData, SessionHandle: 0xABCD1234, Context: reqH.Context}
		if err := eip.WriteFrame(conn, respH, respReq.Marshal()); err != nil {
			return
		}
	}
}

// reply builds the CIP response body (reply service onward) for one request.
func (f *fakeController) reply(data []byte) []byte {
	service := data[0]
	switch service {
	case cip.SvcMultipleServicePacket:
		body := data[2+int(data[1])*2:]
		count := int(binary.LittleEndian.Uint16(body[0:2]))
		replies := make([][]byte, count)
		for i := 0; i < count; i++ {
			start := int(binary.LittleEndian.Uint16(body[2+i*2:]))
			end := len(body)
			if i < count-1 {
				end = int(binary.LittleEndian.Uint16(body[4+i*2:]))
			}
			replies[i] = f.reply(body[start:end])
		}
		out := []byte{service | cip.ReplyServiceBit, 0x00, cip.StatusSuccess, 0x00}
		out = binary.LittleEndian.AppendUint16(out, uint16(count))
		offset := 2 + 2*count
		for _, r := range replies {
			out = binary.LittleEndian.AppendUint16(out, uint16(offset))
			offset += len(r)
		}
		for _, r := range replies {
			out = append(out, r...)
		}
		return out
	case cip.SvcReadTag:
		out := []byte{service | cip.ReplyServiceBit, 0x00, cip.StatusSuccess, 0x00}
		out = binary.LittleEndian.AppendUint16(out, cip.TypeDINT)
		return binary.LittleEndian.AppendUint32(out, uint32(f.dint))
	case cip.SvcWriteTag:
		return []byte{service | cip.ReplyServiceBit, 0x00, cip.StatusSuccess, 0x00}
	default:
		if body, ok := f.extra[service]; ok {
			return body
		}
		return []byte{service | cip.ReplyServiceBit, 0x00, cip.StatusServiceNotSupported, 0x00}
	}
}

func startFakeController(t *testing.T, dint int32, extra map[byte][]byte) (addr string, port uint16) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })
	fc := &fakeController{t: t, ln: ln, dint: dint, extra: extra}
	go fc.run()
	tcpAddr := ln.Addr().(*net.TCPAddr)
	return "127.0.0.1", uint16(tcpAddr.Port)
}

func TestClientConnectReadWriteClose(t *testing.T) {
	host, port := startFakeController(t, 42, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	client, err := Connect(ctx, host, Options{Port: port})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer client.Close(context.Background())

	val, err := client.Read(ctx, "Counter")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	dint, err := val.Dint()
	if err != nil {
		t.Fatalf("Dint: %v", err)
	}
	if dint != 42 {
		t.Fatalf("expected 42, got %d", dint)
	}

	if err := client.Write(ctx, "Setpoint", cip.NewDint(7)); err != nil {
		t.Fatalf("Write: %v", err)
	}
}

func TestClientIdentity(t *testing.T) {
	// Build a canned Get_Attribute_List reply for attributes 1,2,3,4,5,6,7.
	body := []byte{cip.SvcGetAttributeList | cip.ReplyServiceBit, 0x00, cip.StatusSuccess, 0x00}
	attrData := make([]byte, 0, 64)
	attrData = binary.LittleEndian.AppendUint16(attrData, 7) // attribute count

	appendAttr := func(id uint16, value []byte) {
		attrData = binary.LittleEndian.AppendUint16(attrData, id)
		attrData = binary.LittleEndian.AppendUint16(attrData, 0) // status success
		attrData = append(attrData, value...)
	}
	appendAttr(1, le16(1))          // VendorID
	appendAttr(2, le16(0x0E))       // DeviceType
	appendAttr(3, le16(54))         // ProductCode
	appendAttr(4, []byte{32, 11})   // Revision major/minor
	appendAttr(5, le16(0x3060))     // Status
	appendAttr(6, le32(123456789))  // SerialNumber
	name := "1756-L83E/B"
	appendAttr(7, append([]byte{byte(len(name))}, name...))

	body = append(body, attrData...)

	host, port := startFakeController(t, 0, map[byte][]byte{
		cip.SvcGetAttributeList: body,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	client, err := Connect(ctx, host, Options{Port: port})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer client.Close(context.Background())

	id, err := client.Identity(ctx)
	if err != nil {
		t.Fatalf("Identity: %v", err)
	}
	if id.VendorID != 1 || id.ProductName != name || id.SerialNumber != 123456789 {
		t.Fatalf("unexpected identity: %+v", id)
	}
	if id.RevisionMajor != 32 || id.RevisionMinor != 11 {
		t.Fatalf("unexpected revision: %d.%d", id.RevisionMajor, id.RevisionMinor)
	}
}

func le16(v uint16) []byte { return binary.LittleEndian.AppendUint16(nil, v) }
func le32(v uint32) []byte { return binary.LittleEndian.AppendUint32(nil, v) }
