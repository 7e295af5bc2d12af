package motion

import (
	"testing"

	"gocv.io/x/gocv"

	"github.com/videocore/pipeline/internal/frame"
)

func solidFrame(gray uint8, seq uint64) frame.Frame {
	mat := gocv.NewMatWithSize(64, 64, gocv.MatTypeCV8UC3)
	mat.SetTo(gocv.NewScalar(float64(gray), float64(gray), float64(gray), 0))
	return frame.New(mat, frame.PixelFormatBGR, seq)
}

func halfSolidFrame(lo, hi uint8, seq uint64) frame.Frame {
	mat := gocv.NewMatWithSize(64, 64, gocv.MatTypeCV8UC3)
	mat.SetTo(gocv.NewScalar(float64(lo), float64(lo), float64(lo), 0))
	roi := mat.Region(gocv.NewRect(0, 0, 64, 32))
	roi.SetTo(gocv.NewScalar(float64(hi), float64(hi), float64(hi), 0))
	roi.Close()
	return frame.New(mat, frame.PixelFormatBGR, seq)
}

func TestFirstFrameIsAlwaysPeriodicForced(t *testing.T) {
	g := New(Config{MotionThreshold: 0.02, MinRegionPx: 10, BackgroundAlpha: 0.05})
	defer g.Close()

	f := solidFrame(100, 1)
	defer f.Release()

	v := g.Evaluate(f)
	if v.Kind != PeriodicForced {
		t.Fatalf("first frame must report PeriodicForced (no baseline yet), got %v", v.Kind)
	}
}

func TestIdenticalFramesAreStable(t *testing.T) {
	g := New(Config{MotionThreshold: 0.02, MinRegionPx: 10, BackgroundAlpha: 0.05})
	defer g.Close()

	f1 := solidFrame(100, 1)
	defer f1.Release()
	g.Evaluate(f1)

	f2 := solidFrame(100, 2)
	defer f2.Release()
	v := g.Evaluate(f2)

	if v.Kind != Stable {
		t.Fatalf("identical frames should be Stable, got %v", v.Kind)
	}
}

func TestLargeChangeIsChanged(t *testing.T) {
	g := New(Config{MotionThreshold: 0.02, MinRegionPx: 10, BackgroundAlpha: 0.05})
	defer g.Close()

	f1 := solidFrame(20, 1)
	defer f1.Release()
	g.Evaluate(f1)

	f2 := halfSolidFrame(20, 220, 2)
	defer f2.Release()
	v := g.Evaluate(f2)

	if v.Kind != Changed {
		t.Fatalf("half-frame brightness swing should be Changed, got %v (fraction=%v)", v.Kind, v.ChangedFraction)
	}
	if v.ChangedFraction < 0.3 {
		t.Fatalf("expected a large changed fraction, got %v", v.ChangedFraction)
	}
}

func TestPeriodicIntervalTriggersPeriodically(t *testing.T) {
	g := New(Config{MotionThreshold: 0.02, MinRegionPx: 10, BackgroundAlpha: 0.05, PeriodicInterval: 2})
	defer g.Close()

	f1 := solidFrame(100, 1)
	defer f1.Release()
	g.Evaluate(f1) // frame 1: first-frame forced, resets counter

	f2 := solidFrame(100, 2)
	defer f2.Release()
	v2 := g.Evaluate(f2) // framesSinceForce=1, no force yet
	if v2.Kind != Stable {
		t.Fatalf("unexpected forced analysis before interval elapsed, got %v", v2.Kind)
	}

	f3 := solidFrame(100, 3)
	defer f3.Release()
	v3 := g.Evaluate(f3) // framesSinceForce=2 >= PeriodicInterval
	if v3.Kind != PeriodicForced {
		t.Fatalf("expected PeriodicForced at PeriodicInterval, got %v", v3.Kind)
	}
}

func TestMotionThresholdZeroAlwaysChanged(t *testing.T) {
	g := New(Config{MotionThreshold: 0, MinRegionPx: 0, BackgroundAlpha: 0.05})
	defer g.Close()

	f1 := solidFrame(100, 1)
	defer f1.Release()
	g.Evaluate(f1)

	f2 := solidFrame(101, 2)
	defer f2.Release()
	v := g.Evaluate(f2)
	if v.Kind != Changed {
		t.Fatalf("motion_threshold=0 should make every frame Changed, got %v", v.Kind)
	}
}

func TestMotionThresholdOneOnlyPeriodicForced(t *testing.T) {
	g := New(Config{MotionThreshold: 1, MinRegionPx: 0, BackgroundAlpha: 0.05, PeriodicInterval: 3})
	defer g.Close()

	f1 := solidFrame(20, 1)
	defer f1.Release()
	g.Evaluate(f1)

	f2 := halfSolidFrame(20, 220, 2)
	defer f2.Release()
	v2 := g.Evaluate(f2)
	if v2.Kind == Changed {
		t.Fatalf("motion_threshold=1 should never classify a frame as Changed, got %v", v2.Kind)
	}
}

func TestResetReinitializesReference(t *testing.T) {
	g := New(Config{MotionThreshold: 0.02, MinRegionPx: 10, BackgroundAlpha: 0.05})
	defer g.Close()

	f1 := solidFrame(100, 1)
	defer f1.Release()
	g.Evaluate(f1)

	g.Reset()

	f2 := solidFrame(200, 2)
	defer f2.Release()
	v := g.Evaluate(f2)
	if v.Kind != PeriodicForced {
		t.Fatalf("first frame after Reset must report PeriodicForced, got %v", v.Kind)
	}
}

func TestResolutionChangeResetsReference(t *testing.T) {
	g := New(Config{MotionThreshold: 0.02, MinRegionPx: 10, BackgroundAlpha: 0.05})
	defer g.Close()

	f1 := solidFrame(100, 1)
	defer f1.Release()
	g.Evaluate(f1)

	mat := gocv.NewMatWithSize(32, 32, gocv.MatTypeCV8UC3)
	mat.SetTo(gocv.NewScalar(100, 100, 100, 0))
	f2 := frame.New(mat, frame.PixelFormatBGR, 2)
	defer f2.Release()

	v := g.Evaluate(f2)
	if v.Kind != PeriodicForced {
		t.Fatalf("a resolution change must reset the reference and report PeriodicForced, got %v", v.Kind)
	}
}
