package scheduler

import (
	"testing"
	"time"

	"gocv.io/x/gocv"

	"github.com/videocore/pipeline/internal/frame"
)

func testFrame(seq uint64) frame.Frame {
	return frame.New(gocv.NewMat(), frame.PixelFormatBGR, seq)
}

func TestDropOldestEvictsHeadWhenFull(t *testing.T) {
	c := &Counters{}
	b := NewBuffer(2, DropOldest, c)

	b.Push(testFrame(1))
	b.Push(testFrame(2))
	b.Push(testFrame(3)) // buffer full, must evict seq=1

	f, ok := b.Pop()
	if !ok || f.Seq != 2 {
		t.Fatalf("expected seq=2 to survive eviction, got seq=%d ok=%v", f.Seq, ok)
	}
	if c.FramesDroppedQueue.Load() != 1 {
		t.Fatalf("FramesDroppedQueue = %d, want 1", c.FramesDroppedQueue.Load())
	}
}

func TestDropNewestDiscardsIncomingWhenFull(t *testing.T) {
	c := &Counters{}
	b := NewBuffer(1, DropNewest, c)

	b.Push(testFrame(1))
	b.Push(testFrame(2)) // buffer full, seq=2 must be dropped

	f, ok := b.Pop()
	if !ok || f.Seq != 1 {
		t.Fatalf("expected seq=1 to remain, got seq=%d ok=%v", f.Seq, ok)
	}
	if c.FramesDroppedQueue.Load() != 1 {
		t.Fatalf("FramesDroppedQueue = %d, want 1", c.FramesDroppedQueue.Load())
	}
}

func TestRateControllerRequiresConsecutiveChangedBeforeIncrease(t *testing.T) {
	rc := NewRateController(RateConfig{FPSMin: 1, FPSMax: 10, StableRequired: 2, ChangedRequired: 2, IncreaseFactor: 1.25, DecreaseFactor: 0.5, Cooldown: 0})
	rc.current = 2 // start below max so an increase is observable

	now := time.Now()
	rc.OnWindow(now, true) // 1st changed — not enough yet
	if rc.FPS() != 2 {
		t.Fatalf("FPS should not change after a single Changed window, got %v", rc.FPS())
	}

	rc.OnWindow(now.Add(time.Millisecond), true) // 2nd changed — triggers increase
	if rc.FPS() <= 2 {
		t.Fatalf("expected FPS to increase after ChangedRequired consecutive Changed windows, got %v", rc.FPS())
	}
}

func TestRateControllerRequiresConsecutiveStableBeforeDecrease(t *testing.T) {
	rc := NewRateController(RateConfig{FPSMin: 1, FPSMax: 10, StableRequired: 2, ChangedRequired: 2, IncreaseFactor: 1.25, DecreaseFactor: 0.5, Cooldown: 0})
	start := rc.FPS()

	now := time.Now()
	rc.OnWindow(now, false) // 1st stable — not enough yet
	if rc.FPS() != start {
		t.Fatalf("FPS should not change after a single Stable window, got %v", rc.FPS())
	}

	rc.OnWindow(now.Add(time.Millisecond), false) // 2nd stable — triggers decrease
	if rc.FPS() >= start {
		t.Fatalf("expected FPS to decrease after StableRequired consecutive Stable windows, got %v", rc.FPS())
	}
}

func TestRateControllerRespectsCooldown(t *testing.T) {
	rc := NewRateController(RateConfig{FPSMin: 1, FPSMax: 10, StableRequired: 1, ChangedRequired: 1, IncreaseFactor: 2, DecreaseFactor: 0.5, Cooldown: time.Hour})
	rc.current = 2

	now := time.Now()
	rc.OnWindow(now, false)
	after1 := rc.FPS()

	rc.OnWindow(now.Add(time.Millisecond), true) // should be ignored: within cooldown
	if rc.FPS() != after1 {
		t.Fatalf("expected cooldown to suppress the second change: got %v, want %v", rc.FPS(), after1)
	}
}

func TestRateControllerForceFloorBypassesCooldown(t *testing.T) {
	rc := NewRateController(RateConfig{FPSMin: 1, FPSMax: 10, StableRequired: 1, ChangedRequired: 1, IncreaseFactor: 2, DecreaseFactor: 0.5, Cooldown: time.Hour})
	rc.current = 8
	rc.lastChange = time.Now()

	rc.ForceFloor()
	if rc.FPS() != 1 {
		t.Fatalf("ForceFloor should drop to fps_min immediately, got %v", rc.FPS())
	}

	// A subsequent OnWindow must not be blocked by a stale cooldown.
	rc.OnWindow(time.Now(), true)
}
