package scheduler

import (
	"sync/atomic"

	"github.com/videocore/pipeline/internal/events"
)

// Counters are the session's lock-free observability counters, exposed via
// the Session API's Counters() call. Every field is an atomic.Uint64/Int64
// so readers never take a lock on the hot path.
type Counters struct {
	FramesCaptured      atomic.Uint64
	FramesAnalyzed      atomic.Uint64
	FramesDroppedSource atomic.Uint64 // dropped before reaching the buffer (always 0 today; no source-side buffering exists independent of Buffer)
	FramesDroppedQueue  atomic.Uint64 // evicted/rejected by the bounded analysis Buffer
	MotionEvents        atomic.Uint64
	DetectionCalls      atomic.Uint64
	TrackEnters         atomic.Uint64
	TrackExits          atomic.Uint64
	VLMCalls            atomic.Uint64
	VLMTimeouts         atomic.Uint64
	GuarderCalls        atomic.Uint64
	GuarderFailOpen     atomic.Uint64
	GuarderSuppressions atomic.Uint64
	EventsEmitted       atomic.Uint64
	EventsEnter         atomic.Uint64
	EventsExit          atomic.Uint64
	EventsMove          atomic.Uint64
	EventsCount         atomic.Uint64
	EventsDescribe      atomic.Uint64
	EventsTrigger       atomic.Uint64
	EventsHeartbeat     atomic.Uint64
}

// AddEvent increments EventsEmitted and the counter for kind specifically.
func (c *Counters) AddEvent(kind events.Kind) {
	c.EventsEmitted.Add(1)
	switch kind {
	case events.KindEnter:
		c.EventsEnter.Add(1)
	case events.KindExit:
		c.EventsExit.Add(1)
	case events.KindMove:
		c.EventsMove.Add(1)
	case events.KindCount:
		c.EventsCount.Add(1)
	case events.KindDescribe:
		c.EventsDescribe.Add(1)
	case events.KindTrigger:
		c.EventsTrigger.Add(1)
	case events.KindHeartbeat:
		c.EventsHeartbeat.Add(1)
	}
}

// Snapshot is a point-in-time copy of Counters suitable for logging or
// returning from the Session API.
type Snapshot struct {
	FramesCaptured      uint64
	FramesAnalyzed      uint64
	FramesDroppedSource uint64
	FramesDroppedQueue  uint64
	MotionEvents        uint64
	DetectionCalls      uint64
	TrackEnters         uint64
	TrackExits          uint64
	VLMCalls            uint64
	VLMTimeouts         uint64
	GuarderCalls        uint64
	GuarderFailOpen     uint64
	GuarderSuppressions uint64
	EventsEmitted       uint64
	EventsEnter         uint64
	EventsExit          uint64
	EventsMove          uint64
	EventsCount         uint64
	EventsDescribe      uint64
	EventsTrigger       uint64
	EventsHeartbeat     uint64
}

// Snapshot reads every counter. Individual fields may be slightly
// inconsistent with each other (no global lock), which is acceptable for
// observability counters that are inherently approximate under concurrency.
func (c *Counters) Snapshot() Snapshot {
	return Snapshot{
		FramesCaptured:      c.FramesCaptured.Load(),
		FramesAnalyzed:      c.FramesAnalyzed.Load(),
		FramesDroppedSource: c.FramesDroppedSource.Load(),
		FramesDroppedQueue:  c.FramesDroppedQueue.Load(),
		MotionEvents:        c.MotionEvents.Load(),
		DetectionCalls:      c.DetectionCalls.Load(),
		TrackEnters:         c.TrackEnters.Load(),
		TrackExits:          c.TrackExits.Load(),
		VLMCalls:            c.VLMCalls.Load(),
		VLMTimeouts:         c.VLMTimeouts.Load(),
		GuarderCalls:        c.GuarderCalls.Load(),
		GuarderFailOpen:     c.GuarderFailOpen.Load(),
		GuarderSuppressions: c.GuarderSuppressions.Load(),
		EventsEmitted:       c.EventsEmitted.Load(),
		EventsEnter:         c.EventsEnter.Load(),
		EventsExit:          c.EventsExit.Load(),
		EventsMove:          c.EventsMove.Load(),
		EventsCount:         c.EventsCount.Load(),
		EventsDescribe:      c.EventsDescribe.Load(),
		EventsTrigger:       c.EventsTrigger.Load(),
		EventsHeartbeat:     c.EventsHeartbeat.Load(),
	}
}
