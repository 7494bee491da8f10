// Package goenip is the in-process typed API for the EtherNet/IP and CIP
// client engine: connect to a Logix controller, read and write tags by
// path, discover the tag directory, run a mixed batch through the Multiple
// Service Packet planner, subscribe to periodic tag changes, and probe
// controller health.
//
// This generalizes the donor driver's top-level PLC type — one struct that
// owned a connection, a tag cache, and a worker loop — into a thin facade
// over the independently testable session, directory, batch, and subscribe
// packages, so each concern keeps its own fake-backed test suite instead of
// requiring a live controller to exercise.
package goenip

import (
	"context"
	"fmt"
	"time"

	"goenip/batch"
	"goenip/cip"
	"goenip/directory"
	"goenip/session"
	"goenip/subscribe"
)

// Options configures a Client. Zero values take the documented defaults.
type Options struct {
	Port           uint16
	DialTimeout    time.Duration
	RequestTimeout time.Duration
	BatchConfig    batch.Config
	HealthPeriod   time.Duration
	CoalesceWindow time.Duration
}

func (o Options) withDefaults() Options {
	if o.BatchConfig == (batch.Config{}) {
		o.BatchConfig = batch.DefaultConfig()
	}
	if o.HealthPeriod <= 0 {
		o.HealthPeriod = session.DefaultHealthPeriod
	}
	if o.CoalesceWindow <= 0 {
		o.CoalesceWindow = subscribe.DefaultCoalesceWindow
	}
	return o
}

// Client is a connection to one Logix controller, plus the directory,
// batch, and subscription facilities built on top of it.
type Client struct {
	sess  *session.Session
	dir   *directory.Directory
	sched *subscribe.Scheduler

	opts Options

	healthState healthState
}

type healthState struct {
	lastProbeOK bool
	lastProbeAt time.Time
	rttLast     time.Duration
}

// Health reports the client's connection state and last keep-alive result.
type Health struct {
	Connected   bool
	LastProbeOK bool
	RttLast     time.Duration
}

// Connect dials host (an IP or DNS name; Options.Port selects the TCP port,
// defaulting to cip.DefaultPort) and performs the RegisterSession handshake.
func Connect(ctx context.Context, host string, opts Options) (*Client, error) {
	opts = opts.withDefaults()
	sessOpts := session.Options{
		Port:           opts.Port,
		DialTimeout:    opts.DialTimeout,
		RequestTimeout: opts.RequestTimeout,
	}
	sess := session.New(host, sessOpts)
	if err := sess.Connect(ctx); err != nil {
		return nil, classify(err)
	}

	c := &Client{
		sess: sess,
		opts: opts,
	}
	c.dir = directory.New(sess)
	c.sched = subscribe.New(sess, subscribe.Options{
		CoalesceWindow: opts.CoalesceWindow,
		BatchConfig:    opts.BatchConfig,
	})
	c.sched.Start()
	return c, nil
}

// Read performs a single tag read, resolving the element count from the
// directory cache when the tag is already known, defaulting to one element
// otherwise. A tagPath with a trailing bit selector (e.g. "Tag.5") returns a
// Bool masked and shifted out of the enclosing word rather than the word
// itself.
func (c *Client) Read(ctx context.Context, tagPath string) (cip.Value, error) {
	tp, err := cip.Parse(tagPath)
	if err != nil {
		return cip.Value{}, classify(err)
	}
	results, err := batch.Execute(ctx, c.sess, []batch.Operation{
		{Path: tp, Kind: batch.OpRead, ElementCount: c.elementCountFor(tagPath)},
	}, c.opts.BatchConfig)
	if err != nil {
		return cip.Value{}, classify(err)
	}
	r := results[0]
	if r.Err != nil {
		return cip.Value{}, classify(r.Err)
	}
	return r.Value, nil
}

// Write performs a single tag write. A tagPath with a trailing bit selector
// is rejected with a KindUnsupported error: a bit-level write would require
// a read-modify-write the engine does not perform.
func (c *Client) Write(ctx context.Context, tagPath string, value cip.Value) error {
	tp, err := cip.Parse(tagPath)
	if err != nil {
		return classify(err)
	}
	results, err := batch.Execute(ctx, c.sess, []batch.Operation{
		{Path: tp, Kind: batch.OpWrite, Value: value, ElementCount: c.elementCountFor(tagPath)},
	}, c.opts.BatchConfig)
	if err != nil {
		return classify(err)
	}
	return classify(results[0].Err)
}

func (c *Client) elementCountFor(tagPath string) uint16 {
	if entry, ok := c.dir.Get(tagPath); ok {
		count := entry.ElementCount()
		if count > 0 && count <= 0xFFFF {
			return uint16(count)
		}
	}
	return 1
}

// Discover populates the tag directory. Idempotent; callers may call
// Metadata afterward.
func (c *Client) Discover(ctx context.Context) error {
	return classify(c.dir.Discover(ctx))
}

// Metadata returns the cached directory entry for name, if known.
func (c *Client) Metadata(name string) (directory.Entry, bool) {
	return c.dir.Get(name)
}

// Batch runs a mixed sequence of reads and writes through the Multiple
// Service Packet planner, returning one Result per operation in submission
// order.
func (c *Client) Batch(ctx context.Context, ops []batch.Operation) ([]batch.Result, error) {
	cfg := c.opts.BatchConfig
	results, err := batch.Execute(ctx, c.sess, ops, cfg)
	if err != nil {
		return results, classify(err)
	}
	return results, nil
}

// Subscribe starts a periodic read of tagPath, invoking sink on the first
// read and on every subsequent change, and sinkErr on read failure.
func (c *Client) Subscribe(tagPath string, period time.Duration, elementCount uint16, sink subscribe.ValueCallback, sinkErr subscribe.ErrorCallback) (subscribe.Handle, error) {
	tp, err := cip.Parse(tagPath)
	if err != nil {
		return subscribe.Handle{}, classify(err)
	}
	return c.sched.Subscribe(tp, period, elementCount, sink, sinkErr), nil
}

// HealthCheck issues one Get_Attributes_Single probe against the Identity
// Object and updates the client's cached health state, returning it.
func (c *Client) HealthCheck(ctx context.Context) Health {
	start := time.Now()
	_, err := c.sess.Ping(ctx)
	c.healthState.lastProbeAt = start
	c.healthState.rttLast = time.Since(start)
	c.healthState.lastProbeOK = err == nil
	return c.currentHealth()
}

func (c *Client) currentHealth() Health {
	return Health{
		Connected:   c.sess.State() == session.StateRegistered,
		LastProbeOK: c.healthState.lastProbeOK,
		RttLast:     c.healthState.rttLast,
	}
}

// Close unregisters the session, stops the subscription scheduler, and
// releases the connection. No subscription callback fires after Close
// returns.
func (c *Client) Close(ctx context.Context) error {
	c.sched.Stop()
	return classify(c.sess.Close(ctx))
}

// String identifies the client for logging, e.g. in a host's own log lines.
func (c *Client) String() string {
	return fmt.Sprintf("goenip.Client{state=%s}", c.sess.State())
}
