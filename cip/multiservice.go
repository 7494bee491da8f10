package cip

import (
	"encoding/binary"
	"fmt"
)

// maxMultiServiceRequests bounds a single Multiple Service Packet, matching
// the largest MaxOpsPerPacket the batch planner accepts.
const maxMultiServiceRequests = 500

// BuildMultipleServiceRequest packs several Requests into a single Multiple
// Service Packet (service 0x0A) body: service_count, offset table, then each
// request's bytes back to back. The returned Request addresses the Message
// Router object, which is where Multiple Service Packet is always sent.
func BuildMultipleServiceRequest(requests []Request) (Request, error) {
	if len(requests) == 0 {
		return Request{}, fmt.Errorf("cip: Multiple Service Packet needs at least one request")
	}
	if len(requests) > maxMultiServiceRequests {
		return Request{}, fmt.Errorf("cip: Multiple Service Packet request count %d exceeds maximum of %d", len(requests), maxMultiServiceRequests)
	}

	serviceData := make([][]byte, len(requests))
	for i, req := range requests {
		b, err := req.Marshal()
		if err != nil {
			return Request{}, fmt.Errorf("cip: Multiple Service Packet entry %d: %w", i, err)
		}
		serviceData[i] = b
	}

	headerSize := 2 + len(requests)*2
	offsets := make([]uint16, len(requests))
	offset := uint16(headerSize)
	for i, svc := range serviceData {
		offsets[i] = offset
		offset += uint16(len(svc))
	}

	body := make([]byte, 0, int(offset))
	body = binary.LittleEndian.AppendUint16(body, uint16(len(requests)))
	for _, o := range offsets {
		body = binary.LittleEndian.AppendUint16(body, o)
	}
	for _, svc := range serviceData {
		body = append(body, svc...)
	}

	path, err := newServicePath().Class(ClassMessageRouter).Instance(InstanceMessageRouter).Build()
	if err != nil {
		return Request{}, err
	}
	return Request{Service: SvcMultipleServicePacket, Path: path, Data: body}, nil
}

// MultiServiceError wraps one embedded response's non-success status, tagged
// with its position within the batch.
type MultiServiceError struct {
	Index  int
	Status byte
	Err    error
}

func (e *MultiServiceError) Error() string {
	return fmt.Sprintf("cip: Multiple Service Packet entry %d: %v", e.Index, e.Err)
}

func (e *MultiServiceError) Unwrap() error { return e.Err }

// ParseMultipleServiceResponse splits a Multiple Service Packet response
// body into its per-request Responses, in request order. It does not fail
// the whole batch when an individual entry carries a non-success status;
// callers inspect each Response's Err() (or use ResponseErrors) to find
// which entries failed.
func ParseMultipleServiceResponse(data []byte) ([]Response, error) {
	if len(data) < 2 {
		return nil, fmt.Errorf("cip: Multiple Service Packet response too short: %d bytes", len(data))
	}

	count := int(binary.LittleEndian.Uint16(data[0:2]))
	minSize := 2 + count*2
	if len(data) < minSize {
		return nil, fmt.Errorf("cip: Multiple Service Packet response too short for %d entries", count)
	}

	offsets := make([]int, count)
	for i := 0; i < count; i++ {
		offsets[i] = int(binary.LittleEndian.Uint16(data[2+i*2 : 4+i*2]))
	}

	responses := make([]Response, count)
	for i := 0; i < count; i++ {
		start := offsets[i]
		end := len(data)
		if i < count-1 {
			end = offsets[i+1]
		}
		if start < 0 || start > len(data) || start > end || end > len(data) {
			return nil, fmt.Errorf("cip: Multiple Service Packet entry %d has invalid offset %d", i, start)
		}
		resp, err := ParseResponse(data[start:end])
		if err != nil {
			return nil, fmt.Errorf("cip: Multiple Service Packet entry %d: %w", i, err)
		}
		responses[i] = resp
	}

	return responses, nil
}

// ResponseErrors reports the first failing entry in responses, or nil if
// every entry succeeded.
func ResponseErrors(responses []Response) error {
	for i, r := range responses {
		if err := r.Err(); err != nil {
			return &MultiServiceError{Index: i, Status: r.GeneralStatus, Err: err}
		}
	}
	return nil
}
