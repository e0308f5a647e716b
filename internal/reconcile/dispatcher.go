package reconcile

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/terraconstructs/rolewarden/internal/platform"
	"github.com/terraconstructs/rolewarden/internal/telemetry"
)

// ErrQueueFull is returned by TryEnqueue when the intake channel is full.
var ErrQueueFull = errors.New("event queue full")

// Handler evaluates one event. *Coordinator implements it.
type Handler interface {
	Reconcile(ctx context.Context, ev Event) ([]Action, error)
}

// backlogWarnThreshold is the per-member backlog at which a WARNING is
// logged. The backlog itself is unbounded so one slow member never blocks
// dispatch for the others.
const backlogWarnThreshold = 64

// Dispatcher consumes a bounded channel of events and fans them out to one
// worker goroutine per member. Events for the same member are processed
// sequentially in arrival order; different members run concurrently. Idle
// workers exit after the idle timeout and are recreated on demand.
type Dispatcher struct {
	handler     Handler
	events      chan Event
	idleTimeout time.Duration
	metrics     *telemetry.ReconcileMetrics

	mu      sync.Mutex
	workers map[platform.MemberID]*worker
	wg      sync.WaitGroup
}

// worker owns the FIFO of one member. backlog and closed are guarded by
// Dispatcher.mu; wake carries at most one pending signal.
type worker struct {
	member  platform.MemberID
	backlog []Event
	wake    chan struct{}
	closed  bool
}

func (w *worker) signal() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// NewDispatcher creates a dispatcher with an intake buffer of queueSize.
func NewDispatcher(handler Handler, queueSize int, idleTimeout time.Duration, metrics *telemetry.ReconcileMetrics) *Dispatcher {
	if queueSize <= 0 {
		queueSize = 1
	}
	if idleTimeout <= 0 {
		idleTimeout = time.Minute
	}
	return &Dispatcher{
		handler:     handler,
		events:      make(chan Event, queueSize),
		idleTimeout: idleTimeout,
		metrics:     metrics,
		workers:     make(map[platform.MemberID]*worker),
	}
}

// Enqueue blocks until the event is accepted or ctx is done.
func (d *Dispatcher) Enqueue(ctx context.Context, ev Event) error {
	select {
	case d.events <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryEnqueue accepts the event only if the intake buffer has room.
func (d *Dispatcher) TryEnqueue(ev Event) error {
	select {
	case d.events <- ev:
		return nil
	default:
		return ErrQueueFull
	}
}

// QueueDepth returns the number of events waiting for dispatch.
func (d *Dispatcher) QueueDepth() int {
	return len(d.events)
}

// ActiveWorkers returns the number of live per-member workers.
func (d *Dispatcher) ActiveWorkers() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.workers)
}

// Run dispatches events until ctx is cancelled. On cancellation it hands the
// already buffered events to their workers, closes every worker and waits for
// the workers to finish their backlog. Workers process with a context
// detached from ctx; each remote call stays bounded by the coordinator's
// timeout.
func (d *Dispatcher) Run(ctx context.Context) error {
	workCtx := context.WithoutCancel(ctx)

	for {
		select {
		case ev := <-d.events:
			d.dispatch(workCtx, ev)
		case <-ctx.Done():
			d.drain(workCtx)
			d.shutdown()
			return nil
		}
	}
}

func (d *Dispatcher) drain(ctx context.Context) {
	for {
		select {
		case ev := <-d.events:
			d.dispatch(ctx, ev)
		default:
			return
		}
	}
}

// dispatch appends ev to its member's backlog, starting a worker if needed.
// It never blocks on a worker.
func (d *Dispatcher) dispatch(ctx context.Context, ev Event) {
	d.mu.Lock()
	w, ok := d.workers[ev.Member]
	if !ok {
		w = &worker{member: ev.Member, wake: make(chan struct{}, 1)}
		d.workers[ev.Member] = w
		d.wg.Add(1)
		d.metrics.WorkerStarted(ctx)
		go d.runWorker(ctx, w)
	}
	w.backlog = append(w.backlog, ev)
	depth := len(w.backlog)
	d.mu.Unlock()

	w.signal()
	if depth == backlogWarnThreshold {
		log.Printf("WARNING: Dispatcher: member %s has %d events waiting; its reconciliation is falling behind", ev.Member, depth)
	}
}

// next pops the member's oldest event. ok is false when the backlog is empty;
// exit is true when the worker has been closed and has nothing left.
func (d *Dispatcher) next(w *worker) (ev Event, ok, exit bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(w.backlog) == 0 {
		return Event{}, false, w.closed
	}
	ev = w.backlog[0]
	w.backlog[0] = Event{}
	w.backlog = w.backlog[1:]
	return ev, true, false
}

func (d *Dispatcher) runWorker(ctx context.Context, w *worker) {
	defer d.wg.Done()
	defer d.metrics.WorkerStopped(ctx)

	idle := time.NewTimer(d.idleTimeout)
	defer idle.Stop()

	for {
		ev, ok, exit := d.next(w)
		if exit {
			return
		}
		if ok {
			d.process(ctx, ev)
			idle.Reset(d.idleTimeout)
			continue
		}

		select {
		case <-w.wake:
		case <-idle.C:
			d.mu.Lock()
			if len(w.backlog) == 0 && !w.closed {
				if d.workers[w.member] == w {
					delete(d.workers, w.member)
				}
				d.mu.Unlock()
				return
			}
			d.mu.Unlock()
			idle.Reset(d.idleTimeout)
		}
	}
}

func (d *Dispatcher) process(ctx context.Context, ev Event) {
	actions, err := d.handler.Reconcile(ctx, ev)
	if err != nil {
		log.Printf("ERROR: Dispatcher: event %s for member %s: %v", ev.ID, ev.Member, err)
	}
	for _, act := range actions {
		log.Printf("INFO: Dispatcher: member %s: %s removed %v (retained %v, action %s)",
			ev.Member, act.Kind, act.Removed, act.Retained, act.ID)
	}
}

func (d *Dispatcher) shutdown() {
	d.mu.Lock()
	for member, w := range d.workers {
		w.closed = true
		w.signal()
		delete(d.workers, member)
	}
	d.mu.Unlock()

	d.wg.Wait()
}
