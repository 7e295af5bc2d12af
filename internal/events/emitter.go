package events

import (
	"context"
	"sync"

	"github.com/videocore/pipeline/internal/logging"
)

var log = logging.L("events")

// sinkWorker delivers events to one Sink, strictly in the order Emit was
// called, from a single dedicated goroutine. A single goroutine per sink
// (rather than a shared worker pool) is what makes FIFO delivery possible:
// two goroutines pulling from the same queue can interleave deliveries,
// which would violate spec.md's per-sink frame_seq/kind-priority ordering.
type sinkWorker struct {
	sink  Sink
	queue chan Event
	done  chan struct{}
}

func newSinkWorker(s Sink, queueSize int) *sinkWorker {
	if queueSize < 1 {
		queueSize = 1
	}
	w := &sinkWorker{sink: s, queue: make(chan Event, queueSize), done: make(chan struct{})}
	go w.run()
	return w
}

// push enqueues ev, evicting the oldest still-queued event for this sink if
// the queue is full — spec.md's SinkBackpressure rule is drop-oldest, never
// block the emitting goroutine.
func (w *sinkWorker) push(ev Event) {
	for {
		select {
		case w.queue <- ev:
			return
		default:
		}
		select {
		case <-w.queue:
			log.Warn("sink queue full, dropping oldest queued event", "sink", w.sink.Name())
		default:
		}
	}
}

func (w *sinkWorker) run() {
	defer close(w.done)
	for ev := range w.queue {
		if res := w.sink.TryPush(ev); res == Full {
			log.Warn("sink reported full, event dropped", "sink", w.sink.Name(), "kind", ev.Kind)
		}
	}
}

// Emitter fans an ordered stream of events out to every registered Sink,
// preserving per-sink delivery order: events for the same frame_seq arrive
// in KindPriority order, and events across frames never arrive out of
// frame_seq order, provided callers call Emit in that order (the analysis
// worker's single-goroutine ownership of event production guarantees this).
type Emitter struct {
	mu        sync.RWMutex
	workers   []*sinkWorker
	queueSize int
}

// NewEmitter creates an Emitter whose per-sink delivery queues hold
// queueSize pending events each. fanWorkers is accepted for compatibility
// with the session wiring call site but no longer controls concurrency —
// ordering requires exactly one delivery goroutine per sink.
func NewEmitter(fanWorkers, queueSize int) *Emitter {
	_ = fanWorkers
	return &Emitter{queueSize: queueSize}
}

// Register adds a sink. Not safe to call concurrently with Emit.
func (e *Emitter) Register(s Sink) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.workers = append(e.workers, newSinkWorker(s, e.queueSize))
}

// Emit delivers ev to every registered sink without blocking the caller
// longer than it takes to enqueue each delivery. Callers must call Emit in
// the order events should be observed by sinks.
func (e *Emitter) Emit(ev Event) {
	e.mu.RLock()
	workers := make([]*sinkWorker, len(e.workers))
	copy(workers, e.workers)
	e.mu.RUnlock()

	for _, w := range workers {
		w.push(ev)
	}
}

// Close stops accepting new events and waits (bounded by ctx) for
// in-flight deliveries to finish.
func (e *Emitter) Close(ctx context.Context) {
	e.mu.Lock()
	workers := e.workers
	e.workers = nil
	e.mu.Unlock()

	for _, w := range workers {
		close(w.queue)
	}
	for _, w := range workers {
		select {
		case <-w.done:
		case <-ctx.Done():
			return
		}
	}
}
