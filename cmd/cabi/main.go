// Command cabi is the stable C ABI for the goenip engine: a package built
// with `-buildmode=c-shared` so a host written in C, Python, .NET, or any
// other language with a C FFI can drive a Logix connection without linking
// against Go directly. Every exported function returns an int32 status
// code (0 success, negative an error class, positive wrapper-defined
// info), matching the donor driver's own convention of a status-code
// return plus richer detail the caller can look up separately.
//
// Opaque handles are int32 ids indexing a process-wide registry: one for
// connected clients, one for active subscriptions. The registry is
// lazily initialized on first use; Disconnect/SubscriptionCancel release
// one entry each. Go has no hook for process exit in a shared library, so
// a host embedding this ABI must call Shutdown once at teardown to release
// every session; failing to do so leaks the underlying TCP connections
// until the process itself exits. This is a known limitation, not a bug:
// there is no portable way around it from inside a c-shared plugin.
package main

/*
#include <stdint.h>
*/
import "C"

import (
	"context"
	"encoding/json"
	"sync"
	"time"
	"unsafe"

	"goenip"
	"goenip/batch"
	"goenip/cip"
	"goenip/subscribe"
)

// Status codes. Negative values are error classes mirroring goenip.Kind;
// positive values are wrapper-defined info, not errors.
const (
	statusOK                C.int32_t = 0
	statusNoNewData         C.int32_t = 1 // SubscriptionPoll: nothing changed since the last poll
	statusBufferTooSmall    C.int32_t = 2 // out_len now holds the required capacity; retry with a bigger buffer
	statusInvalidClientID   C.int32_t = -100
	statusInvalidSubID      C.int32_t = -101
	statusInvalidJSON       C.int32_t = -102
	statusInvalidUTF8       C.int32_t = -103
)

// kindStatus maps a goenip.Kind to its negative status code. KindUnknown
// and anything unrecognized map to -1.
func kindStatus(k goenip.Kind) C.int32_t {
	return C.int32_t(-1 - int32(k))
}

func statusFromError(err error) C.int32_t {
	if err == nil {
		return statusOK
	}
	var gerr *goenip.Error
	if ok := asGoenipError(err, &gerr); ok {
		return kindStatus(gerr.Kind)
	}
	return -1
}

var registry = newClientRegistry()

type clientRegistry struct {
	mu      sync.Mutex
	clients map[int32]*goenip.Client
	nextID  int32

	subs   map[int32]*subscriptionState
	nextSubID int32
}

func newClientRegistry() *clientRegistry {
	return &clientRegistry{
		clients: make(map[int32]*goenip.Client),
		subs:    make(map[int32]*subscriptionState),
	}
}

func (r *clientRegistry) add(c *goenip.Client) int32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	id := r.nextID
	r.clients[id] = c
	return id
}

func (r *clientRegistry) get(id int32) (*goenip.Client, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.clients[id]
	return c, ok
}

func (r *clientRegistry) remove(id int32) (*goenip.Client, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.clients[id]
	if ok {
		delete(r.clients, id)
	}
	return c, ok
}

func (r *clientRegistry) addSub(s *subscriptionState) int32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextSubID++
	id := r.nextSubID
	r.subs[id] = s
	return id
}

func (r *clientRegistry) getSub(id int32) (*subscriptionState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.subs[id]
	return s, ok
}

func (r *clientRegistry) removeSub(id int32) (*subscriptionState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.subs[id]
	if ok {
		delete(r.subs, id)
	}
	return s, ok
}

// shutdown disconnects every registered client and cancels every active
// subscription, releasing the registry entirely. Intended to run once at
// host teardown, since a c-shared library cannot hook process exit itself.
func (r *clientRegistry) shutdown() {
	r.mu.Lock()
	clients := r.clients
	subs := r.subs
	r.clients = make(map[int32]*goenip.Client)
	r.subs = make(map[int32]*subscriptionState)
	r.mu.Unlock()

	for _, s := range subs {
		s.handle.Cancel()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, c := range clients {
		_ = c.Close(ctx)
	}
}

// subscriptionState caches the latest value or error from a running
// subscription between SubscriptionPoll calls, since the C ABI has no
// callback mechanism of its own.
type subscriptionState struct {
	handle subscribe.Handle

	mu     sync.Mutex
	value  cip.Value
	hasNew bool
	err    error
	hasErr bool
}

func (s *subscriptionState) onValue(v cip.Value) {
	s.mu.Lock()
	s.value = v
	s.hasNew = true
	s.mu.Unlock()
}

func (s *subscriptionState) onError(err error) {
	s.mu.Lock()
	s.err = err
	s.hasErr = true
	s.mu.Unlock()
}

// asGoenipError is errors.As spelled out locally so this file reads
// top-to-bottom without an extra import alias; goenip.Error already
// implements Unwrap, so a plain type assertion on err (never wrapped
// further once classify has run) is sufficient here.
func asGoenipError(err error, target **goenip.Error) bool {
	if g, ok := err.(*goenip.Error); ok {
		*target = g
		return true
	}
	return false
}

// copyOut writes data into the caller-allocated buffer described by
// (outBuf, outCap), reporting the byte count through outLen. When data
// does not fit, it reports the required size through outLen and returns
// statusBufferTooSmall without writing anything, so the host can retry
// with a larger buffer.
func copyOut(data []byte, outBuf *C.uint8_t, outCap C.int32_t, outLen *C.int32_t) C.int32_t {
	if outLen != nil {
		*outLen = C.int32_t(len(data))
	}
	if len(data) > int(outCap) {
		return statusBufferTooSmall
	}
	if len(data) == 0 || outBuf == nil {
		return statusOK
	}
	dst := unsafe.Slice((*byte)(unsafe.Pointer(outBuf)), int(outCap))
	copy(dst, data)
	return statusOK
}

//export GoenipConnect
func GoenipConnect(host *C.char, port C.int, dialTimeoutMs C.int, requestTimeoutMs C.int, outClientID *C.int32_t) C.int32_t {
	opts := goenip.Options{
		Port:           uint16(port),
		DialTimeout:    time.Duration(dialTimeoutMs) * time.Millisecond,
		RequestTimeout: time.Duration(requestTimeoutMs) * time.Millisecond,
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	client, err := goenip.Connect(ctx, C.GoString(host), opts)
	if err != nil {
		return statusFromError(err)
	}
	id := registry.add(client)
	if outClientID != nil {
		*outClientID = C.int32_t(id)
	}
	return statusOK
}

//export GoenipDisconnect
func GoenipDisconnect(clientID C.int32_t) C.int32_t {
	client, ok := registry.remove(int32(clientID))
	if !ok {
		return statusInvalidClientID
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return statusFromError(client.Close(ctx))
}

//export GoenipDiscover
func GoenipDiscover(clientID C.int32_t) C.int32_t {
	client, ok := registry.get(int32(clientID))
	if !ok {
		return statusInvalidClientID
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return statusFromError(client.Discover(ctx))
}

//export GoenipReadTag
func GoenipReadTag(clientID C.int32_t, tagPath *C.char, outBuf *C.uint8_t, outCap C.int32_t, outLen *C.int32_t) C.int32_t {
	client, ok := registry.get(int32(clientID))
	if !ok {
		return statusInvalidClientID
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	val, err := client.Read(ctx, C.GoString(tagPath))
	if err != nil {
		return statusFromError(err)
	}
	jv, err := EncodeValue(val)
	if err != nil {
		return statusFromError(err)
	}
	data, err := json.Marshal(jv)
	if err != nil {
		return statusInvalidJSON
	}
	return copyOut(data, outBuf, outCap, outLen)
}

//export GoenipWriteTag
func GoenipWriteTag(clientID C.int32_t, tagPath *C.char, valueJSON *C.char) C.int32_t {
	client, ok := registry.get(int32(clientID))
	if !ok {
		return statusInvalidClientID
	}
	var jv JSONValue
	if err := json.Unmarshal([]byte(C.GoString(valueJSON)), &jv); err != nil {
		return statusInvalidJSON
	}
	val, err := DecodeValue(jv)
	if err != nil {
		return statusInvalidJSON
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return statusFromError(client.Write(ctx, C.GoString(tagPath), val))
}

//export GoenipBatch
func GoenipBatch(clientID C.int32_t, opsJSON *C.char, outBuf *C.uint8_t, outCap C.int32_t, outLen *C.int32_t) C.int32_t {
	client, ok := registry.get(int32(clientID))
	if !ok {
		return statusInvalidClientID
	}

	var jsonOps []JSONOperation
	if err := json.Unmarshal([]byte(C.GoString(opsJSON)), &jsonOps); err != nil {
		return statusInvalidJSON
	}

	ops := make([]batch.Operation, len(jsonOps))
	for i, jo := range jsonOps {
		tp, err := cip.Parse(jo.Path)
		if err != nil {
			return statusFromError(err)
		}
		op := batch.Operation{Path: tp, ElementCount: jo.ElementCount}
		switch jo.Kind {
		case "read":
			op.Kind = batch.OpRead
		case "write":
			op.Kind = batch.OpWrite
			val, err := DecodeValue(jo.Value)
			if err != nil {
				return statusInvalidJSON
			}
			op.Value = val
		default:
			return statusInvalidJSON
		}
		ops[i] = op
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	results, err := client.Batch(ctx, ops)
	if err != nil && results == nil {
		return statusFromError(err)
	}

	out := make([]JSONResult, len(results))
	for i, r := range results {
		if r.Err != nil {
			out[i] = JSONResult{Error: r.Err.Error()}
			continue
		}
		if r.HasValue {
			jv, jerr := EncodeValue(r.Value)
			if jerr != nil {
				out[i] = JSONResult{Error: jerr.Error()}
				continue
			}
			out[i] = JSONResult{Value: jv}
		}
	}
	data, merr := json.Marshal(out)
	if merr != nil {
		return statusInvalidJSON
	}
	return copyOut(data, outBuf, outCap, outLen)
}

//export GoenipIdentity
func GoenipIdentity(clientID C.int32_t, outBuf *C.uint8_t, outCap C.int32_t, outLen *C.int32_t) C.int32_t {
	client, ok := registry.get(int32(clientID))
	if !ok {
		return statusInvalidClientID
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	id, err := client.Identity(ctx)
	if err != nil {
		return statusFromError(err)
	}
	data, err := json.Marshal(id)
	if err != nil {
		return statusInvalidJSON
	}
	return copyOut(data, outBuf, outCap, outLen)
}

//export GoenipTemplateInfo
func GoenipTemplateInfo(clientID C.int32_t, typeCode C.uint16_t, outBuf *C.uint8_t, outCap C.int32_t, outLen *C.int32_t) C.int32_t {
	client, ok := registry.get(int32(clientID))
	if !ok {
		return statusInvalidClientID
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	info, err := client.TemplateInfo(ctx, uint16(typeCode))
	if err != nil {
		return statusFromError(err)
	}
	data, err := json.Marshal(info)
	if err != nil {
		return statusInvalidJSON
	}
	return copyOut(data, outBuf, outCap, outLen)
}

//export GoenipHealthCheck
func GoenipHealthCheck(clientID C.int32_t, outBuf *C.uint8_t, outCap C.int32_t, outLen *C.int32_t) C.int32_t {
	client, ok := registry.get(int32(clientID))
	if !ok {
		return statusInvalidClientID
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	health := client.HealthCheck(ctx)
	data, err := json.Marshal(health)
	if err != nil {
		return statusInvalidJSON
	}
	return copyOut(data, outBuf, outCap, outLen)
}

//export GoenipSubscribe
func GoenipSubscribe(clientID C.int32_t, tagPath *C.char, periodMs C.int32_t, elementCount C.uint16_t, outSubID *C.int32_t) C.int32_t {
	client, ok := registry.get(int32(clientID))
	if !ok {
		return statusInvalidClientID
	}

	state := &subscriptionState{}
	handle, err := client.Subscribe(C.GoString(tagPath), time.Duration(periodMs)*time.Millisecond, uint16(elementCount), state.onValue, state.onError)
	if err != nil {
		return statusFromError(err)
	}
	state.handle = handle

	id := registry.addSub(state)
	if outSubID != nil {
		*outSubID = C.int32_t(id)
	}
	return statusOK
}

//export GoenipSubscriptionPoll
func GoenipSubscriptionPoll(subID C.int32_t, outBuf *C.uint8_t, outCap C.int32_t, outLen *C.int32_t) C.int32_t {
	state, ok := registry.getSub(int32(subID))
	if !ok {
		return statusInvalidSubID
	}

	state.mu.Lock()
	defer state.mu.Unlock()

	if state.hasErr {
		state.hasErr = false
		return statusFromError(state.err)
	}
	if !state.hasNew {
		if outLen != nil {
			*outLen = 0
		}
		return statusNoNewData
	}

	jv, err := EncodeValue(state.value)
	if err != nil {
		return statusFromError(err)
	}
	data, err := json.Marshal(jv)
	if err != nil {
		return statusInvalidJSON
	}
	status := copyOut(data, outBuf, outCap, outLen)
	if status == statusOK {
		state.hasNew = false
	}
	return status
}

//export GoenipSubscriptionCancel
func GoenipSubscriptionCancel(subID C.int32_t) C.int32_t {
	state, ok := registry.removeSub(int32(subID))
	if !ok {
		return statusInvalidSubID
	}
	state.handle.Cancel()
	return statusOK
}

//export GoenipShutdown
func GoenipShutdown() C.int32_t {
	registry.shutdown()
	return statusOK
}

func main() {}
