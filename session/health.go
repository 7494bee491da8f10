package session

import (
	"context"
	"time"

	"goenip/cip"
	"goenip/eip"
)

// DefaultHealthPeriod is the interval Monitor uses when the caller doesn't
// specify one: 30 seconds, matching the donor driver's TCP keep-alive
// period.
const DefaultHealthPeriod = 30 * time.Second

// Ping issues a single Get_Attributes_Single request against the Identity
// Object (Class 0x01, Instance 1, Attribute 1 — vendor id) to confirm the
// controller is still answering unconnected explicit messages. It returns
// the raw attribute bytes on success.
func (s *Session) Ping(ctx context.Context) ([]byte, error) {
	path, err := cip.NewObjectAttributePath(cip.ClassIdentityObject, cip.InstanceIdentityObject, 1)
	if err != nil {
		return nil, err
	}
	req := cip.Request{Service: cip.SvcGetAttributesSingle, Path: path}
	reqBytes, err := req.Marshal()
	if err != nil {
		return nil, err
	}

	packet := eip.NewUnconnectedRequest(reqBytes)
	respPacket, err := s.SendRRData(ctx, packet)
	if err != nil {
		return nil, err
	}
	data, ok := respPacket.UnconnectedData()
	if !ok {
		return nil, &DisconnectedError{}
	}
	resp, err := cip.ParseResponse(data)
	if err != nil {
		return nil, err
	}
	if err := resp.Err(); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// Monitor runs Ping on a ticker until ctx is cancelled, reporting each
// failure to onError. Nothing in the engine starts it on its own; a caller
// that wants periodic liveness checks runs it on its own goroutine.
func (s *Session) Monitor(ctx context.Context, period time.Duration, onError func(error)) {
	if period <= 0 {
		period = DefaultHealthPeriod
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Ping(ctx); err != nil && onError != nil {
				onError(err)
			}
		}
	}
}
