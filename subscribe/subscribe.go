// Package subscribe implements the tag-subscription scheduler: a single
// background loop that ticks at a configurable coalescing window, collects
// whichever subscriptions are due, and reads them together through the
// batch planner (package batch) in one round trip when more than one
// lands in the same window.
//
// This generalizes the donor driver's per-PLC PLCWorker poll loop (one
// goroutine, one ticker, one slice of tags read every tick) into a
// per-subscription model where each tag has its own period, while still
// running on a single goroutine so per-subscription callback ordering
// falls out for free.
package subscribe

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"goenip/batch"
	"goenip/cip"
	"goenip/logging"
)

// ValueCallback receives a subscription's decoded value, on first read and
// on every change thereafter.
type ValueCallback func(cip.Value)

// ErrorCallback receives a subscription's read errors. Errors never cancel
// the subscription; they're reported and polling continues.
type ErrorCallback func(error)

// DefaultCoalesceWindow is the scheduling quantum the scheduler uses to
// decide which due subscriptions can share one batched read.
const DefaultCoalesceWindow = 5 * time.Millisecond

// Options configures a Scheduler.
type Options struct {
	CoalesceWindow time.Duration
	BatchConfig    batch.Config
}

func (o Options) withDefaults() Options {
	if o.CoalesceWindow <= 0 {
		o.CoalesceWindow = DefaultCoalesceWindow
	}
	if o.BatchConfig == (batch.Config{}) {
		o.BatchConfig = batch.DefaultConfig()
	}
	return o
}

type subscriptionState struct {
	id           uint64
	path         cip.TagPath
	elementCount uint16
	period       time.Duration
	nextDue      time.Time
	sink         ValueCallback
	sinkErr      ErrorCallback

	lastValue cip.Value
	hasLast   bool

	cancelled atomic.Bool
}

// Handle is a weak, non-owning reference a caller uses to cancel a
// subscription. The subscription record itself is owned by the Scheduler.
type Handle struct {
	id    uint64
	sched *Scheduler
}

// Cancel stops the subscription. It is safe to call more than once and
// safe to call from any goroutine. Cancellation takes effect at the next
// tick boundary.
func (h Handle) Cancel() {
	h.sched.cancel(h.id)
}

// Scheduler runs every active subscription's periodic read.
type Scheduler struct {
	sess batch.RequestSender
	opts Options
	log  *zap.Logger

	mu     sync.Mutex
	subs   map[uint64]*subscriptionState
	nextID uint64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Scheduler that reads tags through sess. Call Start to begin
// ticking.
func New(sess batch.RequestSender, opts Options) *Scheduler {
	return &Scheduler{
		sess: sess,
		opts: opts.withDefaults(),
		log:  logging.L("subscribe"),
		subs: make(map[uint64]*subscriptionState),
	}
}

// Start begins the scheduler's background loop.
func (s *Scheduler) Start() {
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.wg.Add(1)
	go s.loop()
}

// Stop cancels every subscription and waits for the background loop to
// exit. No callback fires after Stop returns.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

// Subscribe registers a periodic read of path, invoking sink on the first
// read and on every subsequent change, and sinkErr on read failure.
// elementCount defaults to 1 when zero.
func (s *Scheduler) Subscribe(path cip.TagPath, period time.Duration, elementCount uint16, sink ValueCallback, sinkErr ErrorCallback) Handle {
	if elementCount == 0 {
		elementCount = 1
	}
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.subs[id] = &subscriptionState{
		id:           id,
		path:         path,
		elementCount: elementCount,
		period:       period,
		nextDue:      time.Now(),
		sink:         sink,
		sinkErr:      sinkErr,
	}
	s.mu.Unlock()
	return Handle{id: id, sched: s}
}

func (s *Scheduler) cancel(id uint64) {
	s.mu.Lock()
	if sub, ok := s.subs[id]; ok {
		sub.cancelled.Store(true)
	}
	s.mu.Unlock()
}

func (s *Scheduler) loop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.opts.CoalesceWindow)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case now := <-ticker.C:
			s.tick(now)
		}
	}
}

func (s *Scheduler) tick(now time.Time) {
	due := s.collectDue(now)
	if len(due) == 0 {
		return
	}

	ops := make([]batch.Operation, len(due))
	for i, sub := range due {
		ops[i] = batch.Operation{Path: sub.path, Kind: batch.OpRead, ElementCount: sub.elementCount}
	}

	results, err := batch.Execute(s.ctx, s.sess, ops, s.opts.BatchConfig)
	if err != nil {
		s.log.Debug("subscription batch failed", zap.Error(err))
		for _, sub := range due {
			if sub.sinkErr != nil {
				sub.sinkErr(err)
			}
		}
		return
	}

	for i, sub := range due {
		r := results[i]
		if r.Err != nil {
			if sub.sinkErr != nil {
				sub.sinkErr(r.Err)
			}
			continue
		}
		if !sub.hasLast || !sub.lastValue.Equal(r.Value) {
			sub.hasLast = true
			sub.lastValue = r.Value
			if sub.sink != nil {
				sub.sink(r.Value)
			}
		}
	}
}

// collectDue removes cancelled subscriptions, gathers every subscription
// whose nextDue has arrived, and reschedules them for their next period.
func (s *Scheduler) collectDue(now time.Time) []*subscriptionState {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []*subscriptionState
	for id, sub := range s.subs {
		if sub.cancelled.Load() {
			delete(s.subs, id)
			continue
		}
		if !sub.nextDue.After(now) {
			due = append(due, sub)
			sub.nextDue = now.Add(sub.period)
		}
	}
	return due
}
