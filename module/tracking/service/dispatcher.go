package service

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/nandanugg/hazard-watch/module/tracking/domain"
	"github.com/nandanugg/hazard-watch/module/tracking/internal/metrics"
	"github.com/nandanugg/hazard-watch/module/tracking/internal/queue"
)

// maxPerTurn bounds how many samples a worker drains from one vehicle before
// yielding to the next ready vehicle.
const maxPerTurn = 32

// SampleHandler processes one sample. It is never called concurrently for
// the same vehicle.
type SampleHandler func(ctx context.Context, s domain.LocationSample) error

type job struct {
	sample domain.LocationSample
	reply  func(error)
}

type vehicleQueue struct {
	ring      *queue.Ring[job]
	scheduled bool
}

// Dispatcher serializes samples per vehicle through bounded queues and lets
// a fixed pool of workers drain whichever vehicles are ready.
type Dispatcher struct {
	mu       sync.Mutex
	queues   map[string]*vehicleQueue
	ready    []string
	wake     chan struct{}
	queueCap int
	workers  int
	handle   SampleHandler
	logger   *slog.Logger
	dropped  atomic.Uint64
}

func NewDispatcher(workers, queueCap int, handle SampleHandler, logger *slog.Logger) *Dispatcher {
	if workers < 1 {
		workers = 1
	}
	return &Dispatcher{
		queues:   make(map[string]*vehicleQueue),
		wake:     make(chan struct{}, workers),
		queueCap: queueCap,
		workers:  workers,
		handle:   handle,
		logger:   logger.With("component", "dispatcher"),
	}
}

// Submit enqueues the sample without blocking. reply, when set, receives the
// handler's result; samples evicted by overflow never get a reply.
func (d *Dispatcher) Submit(s domain.LocationSample, reply func(error)) {
	d.mu.Lock()
	q, ok := d.queues[s.VehicleID]
	if !ok {
		q = &vehicleQueue{ring: queue.NewRing[job](d.queueCap)}
		d.queues[s.VehicleID] = q
	}
	if q.ring.Push(job{sample: s, reply: reply}) {
		d.dropped.Add(1)
		metrics.SamplesDropped.Inc()
		d.logger.Warn("vehicle queue full, dropped oldest sample", "vehicle_id", s.VehicleID)
	}
	if !q.scheduled {
		q.scheduled = true
		d.ready = append(d.ready, s.VehicleID)
		d.signal()
	}
	d.mu.Unlock()
}

func (d *Dispatcher) signal() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// Run starts the workers and blocks until ctx is cancelled and every worker
// has finished the sample it was processing.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < d.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.work(ctx)
		}()
	}
	wg.Wait()
}

func (d *Dispatcher) work(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		vehicleID, q, ok := d.next()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-d.wake:
			}
			continue
		}
		// A popped batch is always finished; cancellation is honoured
		// between turns.
		for _, j := range q.ring.PopN(maxPerTurn) {
			d.process(ctx, j)
		}
		d.release(vehicleID, q)
	}
}

func (d *Dispatcher) next() (string, *vehicleQueue, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.ready) == 0 {
		return "", nil, false
	}
	id := d.ready[0]
	d.ready[0] = ""
	d.ready = d.ready[1:]
	return id, d.queues[id], true
}

// release hands the vehicle back: requeued when more samples arrived,
// forgotten when drained.
func (d *Dispatcher) release(vehicleID string, q *vehicleQueue) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if q.ring.Len() > 0 {
		d.ready = append(d.ready, vehicleID)
		d.signal()
		return
	}
	q.scheduled = false
	delete(d.queues, vehicleID)
}

func (d *Dispatcher) process(ctx context.Context, j job) {
	err := d.safeHandle(ctx, j.sample)
	if j.reply != nil {
		j.reply(err)
	}
}

// safeHandle turns a panic in the handler into a Fatal error for that
// sample so the worker survives.
func (d *Dispatcher) safeHandle(ctx context.Context, s domain.LocationSample) (err error) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("panic while handling sample", "vehicle_id", s.VehicleID, "panic", r, "stack", string(debug.Stack()))
			err = domain.NewError(domain.KindFatal, fmt.Sprintf("internal error: %v", r))
		}
	}()
	return d.handle(ctx, s)
}

func (d *Dispatcher) Dropped() uint64 {
	return d.dropped.Load()
}

// Pending counts samples waiting across all vehicles.
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, q := range d.queues {
		n += q.ring.Len()
	}
	return n
}
