// Package tracker implements greedy IoU-based multi-object tracking and the
// Track lifecycle state machine (New -> Stable -> Lost -> destroyed).
// Association is deterministic descending-IoU greedy matching, not the
// Hungarian/Munkres optimal assignment some trackers use — spec.md calls
// for a simpler, fully deterministic rule so replaying the same detection
// sequence always produces the same track IDs.
package tracker

import (
	"math"
	"sort"
	"time"

	"github.com/videocore/pipeline/internal/detector"
	"github.com/videocore/pipeline/internal/logging"
)

var log = logging.L("tracker")

// State is a Track's position in the lifecycle state machine.
type State string

const (
	StateNew    State = "new"
	StateStable State = "stable"
	StateLost   State = "lost"
)

// EventKind identifies a lifecycle transition worth emitting as an Event.
type EventKind string

const (
	EventEnter EventKind = "enter"
	EventMove  EventKind = "move"
	EventExit  EventKind = "exit"
)

// LifecycleEvent is emitted whenever a track changes state in a way the
// Event Emitter cares about.
type LifecycleEvent struct {
	Kind  EventKind
	Track Track
}

// Track is one tracked object across frames.
type Track struct {
	ID            int
	ClassName     string
	Box           detector.Box
	State         State
	ConfirmFrames int       // consecutive frames seen since creation, until Stable
	LostFrames    int       // consecutive frames missed since last matched
	FirstSeen     time.Time // wall-clock time the track was created
	LastSeen      time.Time // wall-clock time of the last matched detection

	lastMoveCX, lastMoveCY float64   // centroid at the last emitted Move (or Enter)
	lastMoveAt             time.Time // wall-clock time of the last emitted Move (or Enter)
}

// Config tunes track lifecycle timing. Field names mirror spec.md.
type Config struct {
	ConfirmFrames     int           // frames of consecutive detection before New -> Stable
	TrackBuffer       int           // analyzed frames a Lost track is kept before destruction
	TrackTimeout      time.Duration // wall-clock a Lost track is kept before destruction
	IOUThreshold      float64       // minimum IoU to consider a detection/track a match
	MoveEpsilonPx     float64       // minimum centroid shift to emit a Move
	MoveMinInterval   time.Duration // minimum wall-clock time between Move events for one track
}

// Tracker maintains the set of live tracks across successive Update calls.
// Not safe for concurrent use — owned exclusively by the analysis worker.
type Tracker struct {
	cfg    Config
	tracks []*Track
	nextID int
}

// New creates a Tracker with the given lifecycle configuration.
func New(cfg Config) *Tracker {
	if cfg.ConfirmFrames < 1 {
		cfg.ConfirmFrames = 1
	}
	return &Tracker{cfg: cfg}
}

// Update associates detections with existing tracks via greedy descending-
// IoU matching, advances lifecycle state, and returns the lifecycle events
// produced this frame. frameSeq and timestamp identify the frame the
// detections came from, per spec.md's update(detections, frame_seq,
// timestamp) -> [Event] tracker contract.
func (t *Tracker) Update(detections []detector.Detection, frameSeq uint64, timestamp time.Time) []LifecycleEvent {
	_ = frameSeq // carried for contract symmetry with spec.md; events reference it via the caller

	matchedTrack := make(map[int]bool, len(t.tracks))
	matchedDet := make(map[int]bool, len(detections))

	type pair struct {
		trackIdx, detIdx int
		iou              float64
	}
	var candidates []pair
	for ti, tr := range t.tracks {
		for di, d := range detections {
			iou := iouOf(tr.Box, d.Box)
			if iou >= t.cfg.IOUThreshold {
				candidates = append(candidates, pair{ti, di, iou})
			}
		}
	}
	// Deterministic tie-break: sort by IoU descending, then by track index,
	// then by detection index, so two equal-IoU candidates always resolve
	// the same way on a replay of the same input.
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].iou != candidates[j].iou {
			return candidates[i].iou > candidates[j].iou
		}
		if candidates[i].trackIdx != candidates[j].trackIdx {
			return candidates[i].trackIdx < candidates[j].trackIdx
		}
		return candidates[i].detIdx < candidates[j].detIdx
	})

	var events []LifecycleEvent
	for _, c := range candidates {
		if matchedTrack[c.trackIdx] || matchedDet[c.detIdx] {
			continue
		}
		matchedTrack[c.trackIdx] = true
		matchedDet[c.detIdx] = true

		tr := t.tracks[c.trackIdx]
		d := detections[c.detIdx]
		tr.Box = d.Box
		tr.ClassName = d.ClassName
		tr.LostFrames = 0
		tr.LastSeen = timestamp

		switch tr.State {
		case StateNew:
			tr.ConfirmFrames++
			if tr.ConfirmFrames >= t.cfg.ConfirmFrames {
				tr.State = StateStable
				t.markMoveBaseline(tr, timestamp)
				events = append(events, LifecycleEvent{Kind: EventEnter, Track: *tr})
			}
		case StateLost:
			// Continuation within the buffer window: identity is preserved
			// and no event is emitted, per spec.md §4.4 step 4.
			tr.State = StateStable
			t.markMoveBaseline(tr, timestamp)
		case StateStable:
			if ev, ok := t.maybeMove(tr, timestamp); ok {
				events = append(events, ev)
			}
		}
	}

	// Unmatched existing tracks age toward Lost, then destruction — either
	// by exceeding the frame-count track_buffer or the wall-clock
	// track_timeout, whichever comes first.
	var survivors []*Track
	for i, tr := range t.tracks {
		if matchedTrack[i] {
			survivors = append(survivors, tr)
			continue
		}
		tr.LostFrames++
		if tr.State == StateNew {
			tr.ConfirmFrames = 0 // a miss breaks the consecutive confirmation run
		}
		if tr.State == StateStable && tr.LostFrames == 1 {
			tr.State = StateLost
		}
		timedOut := t.cfg.TrackTimeout > 0 && !tr.LastSeen.IsZero() && timestamp.Sub(tr.LastSeen) > t.cfg.TrackTimeout
		if tr.LostFrames > t.cfg.TrackBuffer || timedOut {
			if tr.State == StateStable || tr.State == StateLost {
				events = append(events, LifecycleEvent{Kind: EventExit, Track: *tr})
			}
			log.Debug("track destroyed", "id", tr.ID, "class", tr.ClassName, "timed_out", timedOut)
			continue // destroyed — dropped from survivors
		}
		survivors = append(survivors, tr)
	}
	t.tracks = survivors

	// Unmatched detections spawn new tracks in State New. A confirm
	// threshold of 1 means the creation frame itself is sufficient, so
	// such tracks go Stable and emit Enter immediately instead of waiting
	// for a match on a future frame that would never otherwise arrive for
	// the frame the track was born on.
	for di, d := range detections {
		if matchedDet[di] {
			continue
		}
		t.nextID++
		nt := &Track{
			ID:            t.nextID,
			ClassName:     d.ClassName,
			Box:           d.Box,
			State:         StateNew,
			ConfirmFrames: 1,
			FirstSeen:     timestamp,
			LastSeen:      timestamp,
		}
		if t.cfg.ConfirmFrames <= 1 {
			nt.State = StateStable
			t.markMoveBaseline(nt, timestamp)
			events = append(events, LifecycleEvent{Kind: EventEnter, Track: *nt})
		}
		t.tracks = append(t.tracks, nt)
	}

	return events
}

// markMoveBaseline records tr's current centroid/time as the reference a
// future Move is measured against, without emitting an event itself.
func (t *Tracker) markMoveBaseline(tr *Track, timestamp time.Time) {
	tr.lastMoveCX, tr.lastMoveCY = centroidOf(tr.Box)
	tr.lastMoveAt = timestamp
}

// maybeMove emits a Move event only if tr's centroid has shifted by more
// than MoveEpsilonPx since the last emitted Move, and at least
// MoveMinInterval has elapsed since then — spec.md §4.4/§4.5.
func (t *Tracker) maybeMove(tr *Track, timestamp time.Time) (LifecycleEvent, bool) {
	cx, cy := centroidOf(tr.Box)
	dx, dy := cx-tr.lastMoveCX, cy-tr.lastMoveCY
	if math.Hypot(dx, dy) <= t.cfg.MoveEpsilonPx {
		return LifecycleEvent{}, false
	}
	if !tr.lastMoveAt.IsZero() && timestamp.Sub(tr.lastMoveAt) < t.cfg.MoveMinInterval {
		return LifecycleEvent{}, false
	}
	t.markMoveBaseline(tr, timestamp)
	return LifecycleEvent{Kind: EventMove, Track: *tr}, true
}

// Tracks returns a snapshot of all currently live tracks.
func (t *Tracker) Tracks() []Track {
	out := make([]Track, len(t.tracks))
	for i, tr := range t.tracks {
		out[i] = *tr
	}
	return out
}

func centroidOf(b detector.Box) (float64, float64) {
	return float64(b.X) + float64(b.W)/2, float64(b.Y) + float64(b.H)/2
}

// iouOf computes intersection-over-union between two boxes.
func iouOf(a, b detector.Box) float64 {
	ax1, ay1, ax2, ay2 := a.X, a.Y, a.X+a.W, a.Y+a.H
	bx1, by1, bx2, by2 := b.X, b.Y, b.X+b.W, b.Y+b.H

	ix1, iy1 := max(ax1, bx1), max(ay1, by1)
	ix2, iy2 := min(ax2, bx2), min(ay2, by2)

	iw, ih := ix2-ix1, iy2-iy1
	if iw <= 0 || ih <= 0 {
		return 0
	}
	intersection := float64(iw * ih)
	union := float64(a.W*a.H+b.W*b.H) - intersection
	if union <= 0 {
		return 0
	}
	return intersection / union
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
