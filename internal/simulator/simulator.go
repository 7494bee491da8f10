// Package simulator is a canned-bytes stand-in for a Logix controller's
// EtherNet/IP encapsulation and CIP layer, used by the end-to-end tests that
// exercise session, directory, and batch together over a real TCP socket
// instead of a single in-package fake. It mirrors the donor driver's own
// test rigs that replayed fixed byte sequences rather than talking to
// hardware.
package simulator

import (
	"encoding/binary"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"goenip/cip"
	"goenip/eip"
)

// Request is one decoded CIP request the Controller received: service code,
// the still-encoded path, and whatever service-specific data followed it.
type Request struct {
	Service byte
	Path    cip.EncodedPath
	Data    []byte
}

// Handler answers one CIP request. It is called once per embedded service
// inside a Multiple Service Packet as well as for a standalone request, so a
// Handler never needs to know whether it was reached directly or packed.
type Handler func(req Request) cip.Response

// Success builds a success Response carrying data, setting the reply
// service bit on req's service code automatically.
func Success(req Request, data []byte) cip.Response {
	return cip.Response{ReplyService: req.Service | cip.ReplyServiceBit, GeneralStatus: cip.StatusSuccess, Data: data}
}

// StatusError builds a Response reporting a non-success general status,
// with no extended status and no data.
func StatusError(req Request, status byte) cip.Response {
	return cip.Response{ReplyService: req.Service | cip.ReplyServiceBit, GeneralStatus: status}
}

// Controller is one simulated controller endpoint: it accepts a connection,
// completes the RegisterSession handshake with Handle, then answers every
// SendRRData request (including Multiple Service Packet requests, which it
// unpacks and re-packs transparently) by calling Handler.
type Controller struct {
	Handle  uint32
	Handler Handler

	ln net.Listener

	mu       sync.Mutex
	requests []Request
	packets  int32
}

// New creates a Controller with the given session handle and Handler.
func New(handle uint32, handler Handler) *Controller {
	return &Controller{Handle: handle, Handler: handler}
}

// Start listens on an ephemeral loopback port and begins accepting
// connections in the background. It returns the host and port a Session
// should dial.
func (c *Controller) Start() (host string, port uint16, err error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return "", 0, fmt.Errorf("simulator: listen: %w", err)
	}
	c.ln = ln
	go c.acceptLoop()
	tcpAddr := ln.Addr().(*net.TCPAddr)
	return "127.0.0.1", uint16(tcpAddr.Port), nil
}

// Close stops accepting connections and closes the listener.
func (c *Controller) Close() {
	if c.ln != nil {
		c.ln.Close()
	}
}

// Requests returns every CIP request received so far, in arrival order,
// including each sub-request unpacked out of a Multiple Service Packet.
func (c *Controller) Requests() []Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Request, len(c.requests))
	copy(out, c.requests)
	return out
}

// PacketCount returns the number of SendRRData frames (EtherNet/IP
// encapsulation frames, i.e. TCP-level CIP packets) received so far.
func (c *Controller) PacketCount() int {
	return int(atomic.LoadInt32(&c.packets))
}

func (c *Controller) acceptLoop() {
	for {
		conn, err := c.ln.Accept()
		if err != nil {
			return
		}
		go c.serve(conn)
	}
}

func (c *Controller) serve(conn net.Conn) {
	defer conn.Close()

	h, _, err := eip.ReadFrame(conn)
	if err != nil || h.Command != eip.CommandRegisterSession {
		return
	}
	respBody := eip.RegisterSessionRequest{ProtocolVersion: 1}.Marshal()
	respH := eip.Header{Command: eip.CommandRegisterSession, SessionHandle: c.Handle}
	if err := eip.WriteFrame(conn, respH, respBody); err != nil {
		return
	}

	for {
		reqH, payload, err := eip.ReadFrame(conn)
		if err != nil {
			return
		}
		switch reqH.Command {
		case eip.CommandUnRegisterSession:
			return
		case eip.CommandSendRRData:
			atomic.AddInt32(&c.packets, 1)
			cpf, err := eip.ParseSendRRDataResponse(payload)
			if err != nil {
				return
			}
			data, ok := cpf.UnconnectedData()
			if !ok {
				return
			}
			replyBody, err := c.dispatch(data)
			if err != nil {
				return
			}
			respPacket := eip.NewUnconnectedRequest(replyBody)
			respReq := eip.SendRRDataRequest{CPF: respPacket}
			respH := eip.Header{Command: eip.CommandSendRRData, SessionHandle: c.Handle, Context: reqH.Context}
			if err := eip.WriteFrame(conn, respH, respReq.Marshal()); err != nil {
				return
			}
		default:
			// NOP and anything else the engine never sends unconnected is
			// ignored rather than torn down, matching a tolerant controller.
		}
	}
}

// dispatch parses a top-level CIP request and answers it, unpacking and
// re-packing a Multiple Service Packet one embedded request at a time.
func (c *Controller) dispatch(raw []byte) ([]byte, error) {
	req, err := parseRequest(raw)
	if err != nil {
		return nil, err
	}

	if req.Service == cip.SvcMultipleServicePacket {
		return c.dispatchMultiple(req)
	}

	c.record(req)
	resp := c.Handler(req)
	return marshalResponse(resp), nil
}

func (c *Controller) dispatchMultiple(outer Request) ([]byte, error) {
	subs, err := unpackMultipleServiceRequests(outer.Data)
	if err != nil {
		return nil, err
	}

	responses := make([]cip.Response, len(subs))
	for i, sub := range subs {
		c.record(sub)
		responses[i] = c.Handler(sub)
	}

	body := packMultipleServiceResponses(responses)
	return marshalResponse(cip.Response{
		ReplyService:  cip.SvcMultipleServicePacket | cip.ReplyServiceBit,
		GeneralStatus: cip.StatusSuccess,
		Data:          body,
	}), nil
}

func (c *Controller) record(req Request) {
	c.mu.Lock()
	c.requests = append(c.requests, req)
	c.mu.Unlock()
}

// parseRequest decodes a bare CIP request: service, path_words, path_bytes,
// service_specific_data, the mirror image of cip.Request.Marshal.
func parseRequest(data []byte) (Request, error) {
	if len(data) < 2 {
		return Request{}, fmt.Errorf("simulator: request shorter than header")
	}
	service := data[0]
	wordLen := int(data[1])
	pathBytes := wordLen * 2
	if len(data) < 2+pathBytes {
		return Request{}, fmt.Errorf("simulator: request path truncated")
	}
	path := append([]byte(nil), data[2:2+pathBytes]...)
	rest := append([]byte(nil), data[2+pathBytes:]...)
	return Request{Service: service, Path: cip.EncodedPath{Bytes: path}, Data: rest}, nil
}

// marshalResponse encodes a cip.Response back to wire form: reply_service,
// reserved(0x00), general_status, extended_status_size, extended_status,
// response_data: the controller side of cip.ParseResponse.
func marshalResponse(r cip.Response) []byte {
	buf := make([]byte, 0, 4+len(r.ExtendedStatus)+len(r.Data))
	buf = append(buf, r.ReplyService, 0x00, r.GeneralStatus, byte(len(r.ExtendedStatus)/2))
	buf = append(buf, r.ExtendedStatus...)
	buf = append(buf, r.Data...)
	return buf
}

// unpackMultipleServiceRequests splits a Multiple Service Packet request
// body (service_count, offset table, back-to-back requests) into its
// individual Requests, the server-side mirror of
// cip.BuildMultipleServiceRequest.
func unpackMultipleServiceRequests(data []byte) ([]Request, error) {
	if len(data) < 2 {
		return nil, fmt.Errorf("simulator: Multiple Service Packet request too short")
	}
	count := int(binary.LittleEndian.Uint16(data[0:2]))
	minSize := 2 + count*2
	if len(data) < minSize {
		return nil, fmt.Errorf("simulator: Multiple Service Packet request too short for %d entries", count)
	}

	offsets := make([]int, count)
	for i := 0; i < count; i++ {
		offsets[i] = int(binary.LittleEndian.Uint16(data[2+i*2 : 4+i*2]))
	}

	out := make([]Request, count)
	for i := 0; i < count; i++ {
		start := offsets[i]
		end := len(data)
		if i < count-1 {
			end = offsets[i+1]
		}
		if start < 0 || start > len(data) || start > end || end > len(data) {
			return nil, fmt.Errorf("simulator: Multiple Service Packet entry %d has invalid offset", i)
		}
		req, err := parseRequest(data[start:end])
		if err != nil {
			return nil, fmt.Errorf("simulator: Multiple Service Packet entry %d: %w", i, err)
		}
		out[i] = req
	}
	return out, nil
}

// packMultipleServiceResponses is the inverse of cip.ParseMultipleServiceResponse:
// service_count, offset table, then each response's marshaled bytes.
func packMultipleServiceResponses(responses []cip.Response) []byte {
	bodies := make([][]byte, len(responses))
	for i, r := range responses {
		bodies[i] = marshalResponse(r)
	}

	headerSize := 2 + len(responses)*2
	offsets := make([]uint16, len(responses))
	offset := uint16(headerSize)
	for i, b := range bodies {
		offsets[i] = offset
		offset += uint16(len(b))
	}

	out := make([]byte, 0, int(offset))
	out = binary.LittleEndian.AppendUint16(out, uint16(len(responses)))
	for _, o := range offsets {
		out = binary.LittleEndian.AppendUint16(out, o)
	}
	for _, b := range bodies {
		out = append(out, b...)
	}
	return out
}
