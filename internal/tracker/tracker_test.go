package tracker

import (
	"testing"
	"time"

	"github.com/videocore/pipeline/internal/detector"
)

func box(x, y, w, h int) detector.Box { return detector.Box{X: x, Y: y, W: w, H: h} }

func det(class string, b detector.Box) detector.Detection {
	return detector.Detection{ClassName: class, Confidence: 0.9, Box: b}
}

var baseTime = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func tick(n int) time.Time {
	return baseTime.Add(time.Duration(n) * 100 * time.Millisecond)
}

func TestNewTrackRequiresConfirmFramesBeforeEnter(t *testing.T) {
	tr := New(Config{ConfirmFrames: 3, TrackBuffer: 5, IOUThreshold: 0.3})

	b := box(10, 10, 20, 20)
	events := tr.Update([]detector.Detection{det("person", b)}, 1, tick(1))
	if len(events) != 0 {
		t.Fatalf("frame 1: expected no lifecycle events yet, got %v", events)
	}

	events = tr.Update([]detector.Detection{det("person", b)}, 2, tick(2))
	if len(events) != 0 {
		t.Fatalf("frame 2: expected no lifecycle events yet, got %v", events)
	}

	events = tr.Update([]detector.Detection{det("person", b)}, 3, tick(3))
	if len(events) != 1 || events[0].Kind != EventEnter {
		t.Fatalf("frame 3: expected a single Enter event, got %v", events)
	}
}

func TestUnmatchedStableTrackGoesLostThenExits(t *testing.T) {
	tr := New(Config{ConfirmFrames: 1, TrackBuffer: 2, IOUThreshold: 0.3})

	b := box(0, 0, 10, 10)
	events := tr.Update([]detector.Detection{det("car", b)}, 1, tick(1))
	if len(events) != 1 || events[0].Kind != EventEnter {
		t.Fatalf("expected immediate Enter with ConfirmFrames=1, got %v", events)
	}

	// No detections for TrackBuffer+1 frames -> track must exit.
	tr.Update(nil, 2, tick(2))
	events = tr.Update(nil, 3, tick(3))
	if len(events) != 0 {
		t.Fatalf("track should still be within buffer window, got %v", events)
	}
	events = tr.Update(nil, 4, tick(4))
	found := false
	for _, e := range events {
		if e.Kind == EventExit {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected an Exit event once TrackBuffer is exceeded, got %v", events)
	}
}

func TestUnmatchedTrackExitsOnWallClockTimeout(t *testing.T) {
	tr := New(Config{ConfirmFrames: 1, TrackBuffer: 1000, TrackTimeout: time.Second, IOUThreshold: 0.3})

	b := box(0, 0, 10, 10)
	tr.Update([]detector.Detection{det("car", b)}, 1, baseTime)

	// TrackBuffer would keep this alive for 1000 frames, but TrackTimeout
	// of 1s must still force an exit once wall-clock time elapses.
	events := tr.Update(nil, 2, baseTime.Add(2*time.Second))
	found := false
	for _, e := range events {
		if e.Kind == EventExit {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected Exit once track_timeout elapsed, got %v", events)
	}
}

func TestGreedyIoUPrefersHighestOverlap(t *testing.T) {
	tr := New(Config{ConfirmFrames: 1, TrackBuffer: 5, IOUThreshold: 0.1, MoveEpsilonPx: 0})

	tr.Update([]detector.Detection{det("person", box(0, 0, 10, 10))}, 1, tick(1))

	// Two candidate detections next frame: one nearly identical (high IoU),
	// one far away (no overlap) — the near box must match the existing
	// track and the far box must spawn a new one.
	events := tr.Update([]detector.Detection{
		det("person", box(1, 1, 10, 10)),
		det("person", box(100, 100, 10, 10)),
	}, 2, tick(2))

	tracks := tr.Tracks()
	if len(tracks) != 2 {
		t.Fatalf("expected 2 tracks (1 continued + 1 new), got %d", len(tracks))
	}

	moveSeen := false
	for _, e := range events {
		if e.Kind == EventMove {
			moveSeen = true
		}
	}
	if !moveSeen {
		t.Fatalf("expected a Move event for the continued track, got %v", events)
	}
}

func TestMoveEventGatedByEpsilonAndInterval(t *testing.T) {
	tr := New(Config{
		ConfirmFrames:   1,
		TrackBuffer:     5,
		IOUThreshold:    0.1,
		MoveEpsilonPx:   50,
		MoveMinInterval: time.Second,
	})

	tr.Update([]detector.Detection{det("person", box(0, 0, 200, 200))}, 1, tick(1))

	// Shift of 1px is well under MoveEpsilonPx=50 -> no Move.
	events := tr.Update([]detector.Detection{det("person", box(1, 1, 200, 200))}, 2, tick(2))
	for _, e := range events {
		if e.Kind == EventMove {
			t.Fatalf("shift below move_epsilon must not emit Move, got %v", events)
		}
	}

	// Large shift, but still within MoveMinInterval of the last baseline
	// (track creation itself sets the baseline) -> still no Move.
	events = tr.Update([]detector.Detection{det("person", box(61, 1, 200, 200))}, 3, tick(3))
	for _, e := range events {
		if e.Kind == EventMove {
			t.Fatalf("shift within move_min_interval must not emit Move, got %v", events)
		}
	}

	// Large shift after MoveMinInterval has elapsed -> Move fires.
	later := tick(3).Add(2 * time.Second)
	events = tr.Update([]detector.Detection{det("person", box(121, 1, 200, 200))}, 4, later)
	found := false
	for _, e := range events {
		if e.Kind == EventMove {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a Move event once epsilon and interval are both satisfied, got %v", events)
	}
}

func TestLostToStableContinuationEmitsNothing(t *testing.T) {
	tr := New(Config{ConfirmFrames: 1, TrackBuffer: 5, IOUThreshold: 0.1, MoveEpsilonPx: 0})

	tr.Update([]detector.Detection{det("person", box(0, 0, 10, 10))}, 1, tick(1))
	// Miss one frame: track goes Lost, no events.
	events := tr.Update(nil, 2, tick(2))
	if len(events) != 0 {
		t.Fatalf("expected no events while track is freshly Lost, got %v", events)
	}
	// Re-matched on the next frame: Lost -> Stable must not emit Move or Enter.
	events = tr.Update([]detector.Detection{det("person", box(0, 0, 10, 10))}, 3, tick(3))
	if len(events) != 0 {
		t.Fatalf("Lost->Stable continuation must emit no event, got %v", events)
	}
}

func TestIoUOfNonOverlappingBoxesIsZero(t *testing.T) {
	if got := iouOf(box(0, 0, 10, 10), box(100, 100, 10, 10)); got != 0 {
		t.Fatalf("iouOf for disjoint boxes = %v, want 0", got)
	}
}

func TestIoUOfIdenticalBoxesIsOne(t *testing.T) {
	b := box(5, 5, 10, 10)
	if got := iouOf(b, b); got != 1 {
		t.Fatalf("iouOf for identical boxes = %v, want 1", got)
	}
}
