// Package session owns the EtherNet/IP session lifecycle: the TCP
// connection, RegisterSession/UnRegisterSession handshake, and a
// multiplexed SendRRData that lets many callers have requests in flight on
// one socket at once, each tracked by its own sender_context.
//
// This generalizes the donor driver's single-mutex-serialized transaction
// model: where it held one lock around an entire send-then-receive round
// trip, Session runs one reader goroutine that demultiplexes replies to
// whichever caller is waiting on that context, so a slow request from one
// caller never blocks another's.
package session

import (
	"context"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"goenip/cip"
	"goenip/eip"
	"goenip/logging"
)

// State is a Session's position in its connection lifecycle.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateRegistered
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateRegistered:
		return "registered"
	case StateClosing:
		return "closing"
	default:
		return "unknown"
	}
}

// Options configures a Session.
type Options struct {
	// Port defaults to cip.DefaultPort (44818) when zero.
	Port uint16
	// DialTimeout bounds the initial TCP connect and RegisterSession
	// handshake. Defaults to 5 seconds, matching common driver defaults.
	DialTimeout time.Duration
	// RequestTimeout bounds each SendRRData call when the caller's context
	// carries no deadline of its own. Defaults to 5 seconds.
	RequestTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.Port == 0 {
		o.Port = cip.DefaultPort
	}
	if o.DialTimeout == 0 {
		o.DialTimeout = 5 * time.Second
	}
	if o.RequestTimeout == 0 {
		o.RequestTimeout = 5 * time.Second
	}
	return o
}

type pendingCall struct {
	resp chan eip.CommonPacket
	err  chan error
}

// Session is a single EtherNet/IP connection to one controller.
type Session struct {
	host string
	opts Options
	log  *zap.Logger

	stateMu sync.RWMutex
	state   State

	connMu sync.Mutex
	conn   net.Conn
	handle uint32

	writeMu sync.Mutex

	pendingMu sync.Mutex
	pending   map[uint64]pendingCall

	ctxSeq  uint64
	ctxSalt uint64

	closeOnce sync.Once
	readerDone chan struct{}
}

// New creates a Session targeting host (an IP or DNS name). Connect must be
// called before any request is sent.
func New(host string, opts Options) *Session {
	salt := uuid.New()
	// fold the 16-byte uuid down to a 64-bit salt for the sender_context
	// namespace; uniqueness across sessions, not cryptographic strength, is
	// all that's required here.
	var saltBits uint64
	for i, b := range salt {
		saltBits ^= uint64(b) << uint(8*(i%8))
	}
	return &Session{
		host:       host,
		opts:       opts.withDefaults(),
		log:        logging.L("session"),
		pending:    make(map[uint64]pendingCall),
		ctxSalt:    saltBits,
		readerDone: make(chan struct{}),
	}
}

// State returns the session's current lifecycle state.
func (s *Session) State() State {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.state
}

func (s *Session) setState(st State) {
	s.stateMu.Lock()
	s.state = st
	s.stateMu.Unlock()
}

// Connect dials the controller, performs the RegisterSession handshake, and
// starts the background reader that demultiplexes SendRRData replies.
func (s *Session) Connect(ctx context.Context) error {
	s.setState(StateConnecting)
	addr := fmt.Sprintf("%s:%d", s.host, s.opts.Port)

	s.log.Debug("connecting", zap.String("addr", addr))

	d := net.Dialer{Timeout: s.opts.DialTimeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		s.setState(StateDisconnected)
		s.log.Debug("connect failed", zap.String("addr", addr), zap.Error(err))
		return &ConnectError{Addr: addr, Cause: err}
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetKeepAlive(true)
		_ = tc.SetKeepAlivePeriod(30 * time.Second)
	}

	s.connMu.Lock()
	s.conn = conn
	s.connMu.Unlock()

	handle, err := s.registerSession(ctx)
	if err != nil {
		_ = conn.Close()
		s.connMu.Lock()
		s.conn = nil
		s.connMu.Unlock()
		s.setState(StateDisconnected)
		return fmt.Errorf("session: register session: %w", err)
	}

	s.connMu.Lock()
	s.handle = handle
	s.connMu.Unlock()

	s.setState(StateRegistered)
	s.log.Info("registered", zap.String("addr", addr), zap.Uint32("session", handle))

	go s.readLoop()
	return nil
}

func (s *Session) registerSession(ctx context.Context) (uint32, error) {
	_ = ctx
	conn := s.conn
	body := eip.RegisterSessionRequest{ProtocolVersion: 1, OptionFlags: 0}.Marshal()
	h := eip.Header{Command: eip.CommandRegisterSession}
	if err := conn.SetWriteDeadline(time.Now().Add(s.opts.DialTimeout)); err != nil {
		return 0, err
	}
	if err := eip.WriteFrame(conn, h, body); err != nil {
		return 0, fmt.Errorf("writing RegisterSession request: %w", err)
	}
	if err := conn.SetReadDeadline(time.Now().Add(s.opts.DialTimeout)); err != nil {
		return 0, err
	}
	respH, respBody, err := eip.ReadFrame(conn)
	if err != nil {
		return 0, fmt.Errorf("reading RegisterSession response: %w", err)
	}
	if respH.Status != 0 {
		return 0, fmt.Errorf("controller returned encapsulation status 0x%08X", respH.Status)
	}
	if _, err := eip.ParseRegisterSessionResponse(respBody); err != nil {
		return 0, err
	}
	if respH.SessionHandle == 0 {
		return 0, fmt.Errorf("controller returned session_handle 0")
	}
	return respH.SessionHandle, nil
}

// Close unregisters the session (best effort) and closes the connection.
func (s *Session) Close(ctx context.Context) error {
	s.setState(StateClosing)

	s.connMu.Lock()
	conn := s.conn
	handle := s.handle
	s.connMu.Unlock()

	if conn == nil {
		s.setState(StateDisconnected)
		return nil
	}

	if handle != 0 {
		s.writeMu.Lock()
		_ = conn.SetWriteDeadline(time.Now().Add(s.opts.RequestTimeout))
		h := eip.Header{Command: eip.CommandUnRegisterSession, SessionHandle: handle}
		_ = eip.WriteFrame(conn, h, nil)
		s.writeMu.Unlock()
	}

	err := conn.Close()
	s.connMu.Lock()
	s.conn = nil
	s.handle = 0
	s.connMu.Unlock()

	s.closeOnce.Do(func() { close(s.readerDone) })
	s.failAllPending(fmt.Errorf("session: closed"))
	s.setState(StateDisconnected)
	return err
}

func (s *Session) nextContext() uint64 {
	seq := atomic.AddUint64(&s.ctxSeq, 1)
	return seq ^ s.ctxSalt
}

// SendRRData sends an unconnected explicit message and waits for its reply,
// demultiplexed from any other requests in flight on this session.
func (s *Session) SendRRData(ctx context.Context, packet eip.CommonPacket) (eip.CommonPacket, error) {
	if s.State() != StateRegistered {
		return eip.CommonPacket{}, &DisconnectedError{}
	}

	s.connMu.Lock()
	conn := s.conn
	handle := s.handle
	s.connMu.Unlock()
	if conn == nil {
		return eip.CommonPacket{}, &DisconnectedError{}
	}

	reqCtx := s.nextContext()
	call := pendingCall{resp: make(chan eip.CommonPacket, 1), err: make(chan error, 1)}
	s.pendingMu.Lock()
	s.pending[reqCtx] = call
	s.pendingMu.Unlock()
	defer func() {
		s.pendingMu.Lock()
		delete(s.pending, reqCtx)
		s.pendingMu.Unlock()
	}()

	req := eip.SendRRDataRequest{InterfaceHandle: 0, Timeout: 0, CPF: packet}
	body := req.Marshal()
	h := eip.Header{Command: eip.CommandSendRRData, SessionHandle: handle, Context: reqCtx}

	s.writeMu.Lock()
	_ = conn.SetWriteDeadline(time.Now().Add(s.requestTimeout(ctx)))
	err := eip.WriteFrame(conn, h, body)
	s.writeMu.Unlock()
	if err != nil {
		return eip.CommonPacket{}, fmt.Errorf("session: sending SendRRData: %w", err)
	}

	deadline := s.requestDeadline(ctx)
	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()

	select {
	case resp := <-call.resp:
		return resp, nil
	case err := <-call.err:
		return eip.CommonPacket{}, err
	case <-timer.C:
		return eip.CommonPacket{}, &TimeoutError{Op: "SendRRData"}
	case <-ctx.Done():
		return eip.CommonPacket{}, ctx.Err()
	case <-s.readerDone:
		return eip.CommonPacket{}, &DisconnectedError{}
	}
}

func (s *Session) requestTimeout(ctx context.Context) time.Duration {
	if dl, ok := ctx.Deadline(); ok {
		return time.Until(dl)
	}
	return s.opts.RequestTimeout
}

func (s *Session) requestDeadline(ctx context.Context) time.Time {
	if dl, ok := ctx.Deadline(); ok {
		return dl
	}
	return time.Now().Add(s.opts.RequestTimeout)
}

// readLoop reads frames off the socket for the lifetime of the connection
// and dispatches each SendRRData reply to whichever caller is waiting on
// its sender_context.
func (s *Session) readLoop() {
	s.connMu.Lock()
	conn := s.conn
	s.connMu.Unlock()

	for {
		h, payload, err := eip.ReadFrame(conn)
		if err != nil {
			if err != io.EOF {
				s.log.Debug("read loop ended", zap.Error(err))
			}
			s.failAllPending(fmt.Errorf("session: connection lost: %w", err))
			s.setState(StateDisconnected)
			s.closeOnce.Do(func() { close(s.readerDone) })
			return
		}

		if h.Command != eip.CommandSendRRData {
			continue
		}

		s.pendingMu.Lock()
		call, ok := s.pending[h.Context]
		s.pendingMu.Unlock()
		if !ok {
			s.log.Debug("reply for unknown context", zap.Uint64("context", h.Context))
			continue
		}

		if h.Status != 0 {
			call.err <- fmt.Errorf("session: encapsulation status 0x%08X", h.Status)
			continue
		}

		cpf, err := eip.ParseSendRRDataResponse(payload)
		if err != nil {
			call.err <- err
			continue
		}
		call.resp <- cpf
	}
}

func (s *Session) failAllPending(err error) {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	for ctx, call := range s.pending {
		call.err <- err
		delete(s.pending, ctx)
	}
}
