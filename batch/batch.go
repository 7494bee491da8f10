// Package batch implements the Multiple Service Packet planner: it packs a
// heterogeneous sequence of tag reads and writes into as few Multiple
// Service Packet requests as the configured operation-count and byte-size
// budgets allow, then scatters the responses back to the caller's original
// order.
package batch

import (
	"context"
	"encoding/binary"
	"fmt"
	"sort"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"goenip/cip"
	"goenip/eip"
	"goenip/logging"
)

// OpKind discriminates a batch operation's direction.
type OpKind int

const (
	OpRead OpKind = iota
	OpWrite
)

// Operation is one unit of work submitted to a batch: a tag path plus
// either a read request or a value to write. ElementCount defaults to 1
// when zero. A Path carrying a trailing bit selector is masked/shifted out
// of the decoded word on a read, and rejected with an UnsupportedError on a
// write.
type Operation struct {
	Path         cip.TagPath
	Kind         OpKind
	Value        cip.Value // only read for OpWrite
	ElementCount uint16
}

func (o Operation) elementCount() uint16 {
	if o.ElementCount == 0 {
		return 1
	}
	return o.ElementCount
}

// Config tunes the planner (spec defaults noted per field).
type Config struct {
	MaxOpsPerPacket int  // 1..500, default 20
	MaxPacketBytes  int  // 200..4000, default 504
	ContinueOnError bool // default true
	OptimizePacking bool // default true
}

// DefaultConfig returns the engine's documented defaults.
func DefaultConfig() Config {
	return Config{
		MaxOpsPerPacket: 20,
		MaxPacketBytes:  504,
		ContinueOnError: true,
		OptimizePacking: true,
	}
}

// Result is one operation's outcome: a decoded value for a successful read,
// nothing for a successful write, or an error.
type Result struct {
	Value    cip.Value
	HasValue bool
	Err      error
}

// OversizeOperationError reports a single operation whose encoded request
// cannot fit within MaxPacketBytes even alone in a packet.
type OversizeOperationError struct {
	Index int
	Size  int
	Limit int
}

func (e *OversizeOperationError) Error() string {
	return fmt.Sprintf("batch: operation %d encodes to %d bytes, exceeding the %d byte packet limit", e.Index, e.Size, e.Limit)
}

// AbortedError marks an operation skipped because an earlier packet failed
// and ContinueOnError is false.
type AbortedError struct{ Index int }

func (e *AbortedError) Error() string { return fmt.Sprintf("batch: operation %d aborted", e.Index) }

// RequestSender is the subset of *session.Session the planner needs.
type RequestSender interface {
	SendRRData(ctx context.Context, packet eip.CommonPacket) (eip.CommonPacket, error)
}

type plannedOp struct {
	origIndex int
	req       cip.Request
	reqBytes  []byte
	bit       uint8
	hasBit    bool
}

type packet struct {
	ops []plannedOp
}

// messageRouterOverhead is the byte cost of the Multiple Service Packet's
// own request wrapper (service + path + count field), not counting any
// sub-request or its offset table entry.
func messageRouterOverhead() (int, error) {
	path, err := cip.NewObjectPath(cip.ClassMessageRouter, cip.InstanceMessageRouter)
	if err != nil {
		return 0, err
	}
	words, err := path.WordLen()
	if err != nil {
		return 0, err
	}
	return 1 + 1 + int(words)*2 + 2, nil // service + path_words + path + count
}

const perOpOverhead = 2 // one offset table entry

// Execute plans and runs ops against sender, returning one Result per op in
// ops' original order.
func Execute(ctx context.Context, sender RequestSender, ops []Operation, cfg Config) ([]Result, error) {
	log := logging.L("batch")
	results := make([]Result, len(ops))
	if len(ops) == 0 {
		return results, nil
	}

	baseOverhead, err := messageRouterOverhead()
	if err != nil {
		return nil, err
	}

	planned := make([]plannedOp, 0, len(ops))
	order := planOrder(ops, cfg.OptimizePacking)

	for _, idx := range order {
		op := ops[idx]
		req, err := buildRequest(op)
		if err != nil {
			results[idx] = Result{Err: err}
			continue
		}
		reqBytes, err := req.Marshal()
		if err != nil {
			results[idx] = Result{Err: err}
			continue
		}
		if baseOverhead+perOpOverhead+len(reqBytes) > cfg.MaxPacketBytes {
			results[idx] = Result{Err: &OversizeOperationError{Index: idx, Size: len(reqBytes), Limit: cfg.MaxPacketBytes}}
			continue
		}
		bit, hasBit := op.Path.Bit()
		planned = append(planned, plannedOp{origIndex: idx, req: req, reqBytes: reqBytes, bit: bit, hasBit: hasBit})
	}

	packets := packPlanned(planned, cfg, baseOverhead)
	log.Debug("planned batch", zap.Int("ops", len(ops)), zap.Int("packets", len(packets)))

	aborted := false
	for _, pkt := range packets {
		if aborted {
			for _, op := range pkt.ops {
				results[op.origIndex] = Result{Err: &AbortedError{Index: op.origIndex}}
			}
			continue
		}

		if err := sendPacket(ctx, sender, pkt, results); err != nil {
			if !cfg.ContinueOnError {
				aborted = true
			}
		}
	}

	return results, nil
}

func buildRequest(op Operation) (cip.Request, error) {
	path, err := cip.Encode(op.Path)
	if err != nil {
		return cip.Request{}, err
	}
	switch op.Kind {
	case OpRead:
		return cip.BuildReadTagRequest(path, op.elementCount()), nil
	case OpWrite:
		// A bit-level Write Tag has no CIP service of its own: writing one
		// bit requires reading the enclosing word, modifying it, and writing
		// it back, which is not atomic over a TCP round trip. The engine
		// refuses rather than perform that read-modify-write itself (spec
		// §4.2, §7 Unsupported).
		if _, ok := op.Path.Bit(); ok {
			return cip.Request{}, &cip.UnsupportedError{Reason: "bit write"}
		}
		return cip.BuildWriteTagRequest(path, op.Value, op.elementCount())
	default:
		return cip.Request{}, fmt.Errorf("batch: unknown operation kind %d", op.Kind)
	}
}

// planOrder returns the scan order over ops' indices: identity order, or,
// when optimizing, a stable partition by {Read, Write} and within Write by
// CIP type code.
func planOrder(ops []Operation, optimize bool) []int {
	order := make([]int, len(ops))
	for i := range ops {
		order[i] = i
	}
	if !optimize {
		return order
	}
	sort.SliceStable(order, func(a, b int) bool {
		oa, ob := ops[order[a]], ops[order[b]]
		if oa.Kind != ob.Kind {
			return oa.Kind < ob.Kind
		}
		if oa.Kind == OpWrite {
			return oa.Value.TypeCode() < ob.Value.TypeCode()
		}
		return false
	})
	return order
}

// packPlanned groups planned ops into packets bounded by cfg, in scan
// order, emitting a packet whenever the next op would exceed either bound.
func packPlanned(planned []plannedOp, cfg Config, baseOverhead int) []packet {
	var packets []packet
	var current []plannedOp
	currentBytes := baseOverhead

	flush := func() {
		if len(current) > 0 {
			packets = append(packets, packet{ops: current})
			current = nil
			currentBytes = baseOverhead
		}
	}

	for _, op := range planned {
		added := perOpOverhead + len(op.reqBytes)
		if len(current) >= cfg.MaxOpsPerPacket || currentBytes+added > cfg.MaxPacketBytes {
			flush()
		}
		current = append(current, op)
		currentBytes += added
	}
	flush()

	return packets
}

func sendPacket(ctx context.Context, sender RequestSender, pkt packet, results []Result) error {
	reqs := make([]cip.Request, len(pkt.ops))
	for i, op := range pkt.ops {
		reqs[i] = op.req
	}
	msp, err := cip.BuildMultipleServiceRequest(reqs)
	if err != nil {
		fillError(pkt, results, err)
		return err
	}
	mspBytes, err := msp.Marshal()
	if err != nil {
		fillError(pkt, results, err)
		return err
	}

	outer := eip.NewUnconnectedRequest(mspBytes)
	respPacket, err := sender.SendRRData(ctx, outer)
	if err != nil {
		fillError(pkt, results, err)
		return err
	}
	data, ok := respPacket.UnconnectedData()
	if !ok {
		err := fmt.Errorf("batch: response carried no unconnected data item")
		fillError(pkt, results, err)
		return err
	}

	outerResp, err := cip.ParseResponse(data)
	if err != nil {
		fillError(pkt, results, err)
		return err
	}
	if err := outerResp.Err(); err != nil {
		fillError(pkt, results, err)
		return err
	}

	subResponses, err := cip.ParseMultipleServiceResponse(outerResp.Data)
	if err != nil {
		fillError(pkt, results, err)
		return err
	}
	if len(subResponses) != len(pkt.ops) {
		err := fmt.Errorf("batch: expected %d sub-responses, got %d", len(pkt.ops), len(subResponses))
		fillError(pkt, results, err)
		return err
	}

	// Individual sub-op failures (a bad path, a type mismatch) only affect
	// that operation's Result; only a failure of the outer response, or a
	// transport-level error reaching this packet at all, counts as the
	// packet-level failure that continue_on_error=false reacts to.
	for i, op := range pkt.ops {
		resp := subResponses[i]
		if op.req.Service == cip.SvcWriteTag {
			if err := cip.ParseWriteTagResponse(resp); err != nil {
				results[op.origIndex] = Result{Err: err}
				continue
			}
			results[op.origIndex] = Result{}
			continue
		}
		value, err := readTagResult(ctx, sender, op, resp)
		if err != nil {
			results[op.origIndex] = Result{Err: err}
			continue
		}
		if op.hasBit {
			value, err = value.Bit(op.bit)
			if err != nil {
				results[op.origIndex] = Result{Err: err}
				continue
			}
		}
		results[op.origIndex] = Result{Value: value, HasValue: true}
	}
	return nil
}

// readTagResult decodes a read sub-response, falling back to a Read Tag
// Fragmented continuation loop when resp reports StatusPartialTransfer: the
// controller's way of saying a single operation's own reply didn't fit in
// one encapsulated message, orthogonal to the packet-count and byte-size
// limits the planner itself enforces.
func readTagResult(ctx context.Context, sender RequestSender, op plannedOp, resp cip.Response) (cip.Value, error) {
	if resp.GeneralStatus != cip.StatusPartialTransfer {
		rt, err := cip.ParseReadTagResponse(resp)
		if err != nil {
			return cip.Value{}, err
		}
		return rt.Value, nil
	}
	return readTagFragmented(ctx, sender, op, resp)
}

// readTagFragmented reassembles a value too large for one Read Tag Service
// reply, continuing with Read Tag Fragmented Service requests that each
// advance byteOffset past the bytes already collected, until the controller
// stops reporting StatusPartialTransfer.
func readTagFragmented(ctx context.Context, sender RequestSender, op plannedOp, first cip.Response) (cip.Value, error) {
	frag, err := cip.ParseReadTagFragmentedResponse(first)
	if err != nil {
		return cip.Value{}, err
	}
	typeCode := frag.TypeCode
	data := append([]byte(nil), frag.Data...)
	elementCount := readTagElementCount(op.req)

	for frag.More {
		req := cip.BuildReadTagFragmentedRequest(op.req.Path, elementCount, uint32(len(data)))
		reqBytes, err := req.Marshal()
		if err != nil {
			return cip.Value{}, err
		}
		respPacket, err := sender.SendRRData(ctx, eip.NewUnconnectedRequest(reqBytes))
		if err != nil {
			return cip.Value{}, err
		}
		respData, ok := respPacket.UnconnectedData()
		if !ok {
			return cip.Value{}, fmt.Errorf("batch: fragmented read response carried no unconnected data item")
		}
		resp, err := cip.ParseResponse(respData)
		if err != nil {
			return cip.Value{}, err
		}
		frag, err = cip.ParseReadTagFragmentedResponse(resp)
		if err != nil {
			return cip.Value{}, err
		}
		data = append(data, frag.Data...)
	}

	return cip.Decode(typeCode, data)
}

// readTagElementCount pulls the element count back out of a built Read Tag
// Service request's data (element_count: u16), the only field it carries.
func readTagElementCount(req cip.Request) uint16 {
	if len(req.Data) < 2 {
		return 1
	}
	return binary.LittleEndian.Uint16(req.Data[0:2])
}

func fillError(pkt packet, results []Result, err error) {
	for _, op := range pkt.ops {
		results[op.origIndex] = Result{Err: err}
	}
}

// ExecuteConcurrent runs independent batches concurrently, returning the
// first error encountered. It is for callers that need to dispatch several
// unrelated batches without serializing them; the subscription scheduler
// does not use it (it issues one Execute per tick).
func ExecuteConcurrent(ctx context.Context, sender RequestSender, batches [][]Operation, cfg Config) ([][]Result, error) {
	out := make([][]Result, len(batches))
	g, gctx := errgroup.WithContext(ctx)
	for i, ops := range batches {
		i, ops := i, ops
		g.Go(func() error {
			res, err := Execute(gctx, sender, ops, cfg)
			out[i] = res
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return out, err
	}
	return out, nil
}
