// Package scheduler implements the Smart Scheduler: the bounded frame
// buffer between capture and analysis, the adaptive analyze-rate
// controller, and the atomic session counters.
package scheduler

import (
	"github.com/videocore/pipeline/internal/frame"
	"github.com/videocore/pipeline/internal/logging"
)

var log = logging.L("scheduler")

// DropPolicy controls what happens when Push is called against a full
// buffer.
type DropPolicy string

const (
	DropOldest DropPolicy = "drop_oldest"
	DropNewest DropPolicy = "drop_newest"
	Block      DropPolicy = "block"
)

// Buffer is a single-producer/single-consumer bounded queue of frames
// between the capture goroutine and the analysis worker.
type Buffer struct {
	ch     chan frame.Frame
	policy DropPolicy
	drops  *Counters
}

// NewBuffer creates a Buffer of the given capacity and drop policy.
func NewBuffer(capacity int, policy DropPolicy, counters *Counters) *Buffer {
	if capacity < 1 {
		capacity = 1
	}
	return &Buffer{ch: make(chan frame.Frame, capacity), policy: policy, drops: counters}
}

// Push enqueues f according to the configured drop policy. DropOldest
// evicts the head to make room; DropNewest discards f itself; Block waits
// for room (only valid against a seekable, non-live source per
// config.ValidateTiered). Push never blocks indefinitely unless policy is
// Block.
func (b *Buffer) Push(f frame.Frame) {
	switch b.policy {
	case DropNewest:
		select {
		case b.ch <- f:
		default:
			f.Release()
			b.drops.FramesDroppedQueue.Add(1)
			log.Warn("buffer full, dropping newest frame", "seq", f.Seq)
		}
	case Block:
		b.ch <- f
	default: // DropOldest
		for {
			select {
			case b.ch <- f:
				return
			default:
			}
			select {
			case old := <-b.ch:
				old.Release()
				b.drops.FramesDroppedQueue.Add(1)
			default:
			}
		}
	}
}

// Pop returns the next frame, or ok=false if the buffer was closed and
// drained.
func (b *Buffer) Pop() (frame.Frame, bool) {
	f, ok := <-b.ch
	return f, ok
}

// Close closes the channel; callers must stop calling Push first.
func (b *Buffer) Close() {
	close(b.ch)
}

// Len reports the number of frames currently queued.
func (b *Buffer) Len() int {
	return len(b.ch)
}
