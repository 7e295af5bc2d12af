package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"gocv.io/x/gocv"

	"github.com/videocore/pipeline/internal/config"
	"github.com/videocore/pipeline/internal/detector"
	"github.com/videocore/pipeline/internal/events"
	"github.com/videocore/pipeline/internal/frame"
	"github.com/videocore/pipeline/internal/guarder"
	"github.com/videocore/pipeline/internal/health"
	"github.com/videocore/pipeline/internal/motion"
	"github.com/videocore/pipeline/internal/scheduler"
	"github.com/videocore/pipeline/internal/tracker"
	"github.com/videocore/pipeline/internal/vision"
)

// fakeDetector returns a fixed set of detections on every call.
type fakeDetector struct {
	dets []detector.Detection
}

func (f *fakeDetector) Detect(frame.Frame) ([]detector.Detection, error) { return f.dets, nil }
func (f *fakeDetector) Close() error                                     { return nil }

func newTestFrame(seq uint64) frame.Frame {
	return frame.New(gocv.NewMatWithSize(4, 4, gocv.MatTypeCV8UC3), frame.PixelFormatBGR, seq)
}

func newRunner(t *testing.T, dets []detector.Detection) (*pipelineRunner, *SessionHandle) {
	t.Helper()
	counters := &scheduler.Counters{}
	buf := scheduler.NewBuffer(4, scheduler.DropOldest, counters)
	rate := scheduler.NewRateController(scheduler.RateConfig{FPSMin: 1, FPSMax: 10, StableRequired: 2, ChangedRequired: 2, IncreaseFactor: 1.25, DecreaseFactor: 0.5})
	emitter := events.NewEmitter(2, 16)

	h := &SessionHandle{
		emitter:  emitter,
		counters: counters,
		health:   health.NewMonitor(),
		subs:     make(chan events.Event, 16),
	}

	p := &pipelineRunner{
		cfg: &config.Config{
			Mode:             "track",
			PullTimeoutMS:    50,
			VLMTimeoutMS:     50,
			GuarderTimeoutMS: 50,
			SkipLLMThreshold: 1, // every detection is below threshold, forcing the describer gate open
		},
		gate: motion.New(motion.Config{
			MotionThreshold: 1,
			MinRegionPx:     1,
			BackgroundAlpha: 0.5,
		}),
		detector:     &fakeDetector{dets: dets},
		tracker:      tracker.New(tracker.Config{ConfirmFrames: 1, TrackBuffer: 1, IOUThreshold: 0.3}),
		vision:       vision.NewClient("http://127.0.0.1:0", ""),
		guarder:      guarder.New(guarder.Config{Enabled: false}),
		buffer:       buf,
		rate:         rate,
		handle:       h,
		focusClasses: map[string]bool{"person": true},
	}
	return p, h
}

func TestRunDetectionEmitsEnterEventForNewTrack(t *testing.T) {
	p, h := newRunner(t, []detector.Detection{
		{ClassName: "person", Confidence: 0.9, Box: detector.Box{X: 0, Y: 0, W: 2, H: 2}},
	})

	f := newTestFrame(1)
	verdict := motion.Verdict{Kind: motion.Changed}
	p.runDetection(context.Background(), f, verdict)

	if got := h.counters.TrackEnters.Load(); got != 1 {
		t.Fatalf("TrackEnters = %d, want 1", got)
	}

	select {
	case ev := <-h.subs:
		if ev.Kind != events.KindEnter {
			t.Fatalf("first event kind = %v, want KindEnter", ev.Kind)
		}
	default:
		t.Fatal("expected an event on the subscriber channel")
	}
}

func TestRunDetectionSkipsDescribeWhenNoDetections(t *testing.T) {
	p, h := newRunner(t, nil)

	f := newTestFrame(1)
	verdict := motion.Verdict{Kind: motion.Changed}
	p.runDetection(context.Background(), f, verdict)

	if h.counters.VLMCalls.Load() != 0 {
		t.Fatalf("expected no VLM call when there are no detections, got %d calls", h.counters.VLMCalls.Load())
	}
}

func TestCaptureLoopStopsOnContextCancellation(t *testing.T) {
	p, h := newRunner(t, nil)
	p.source = &blockingSource{}

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go p.captureLoop(ctx, &wg)

	cancel()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("captureLoop did not exit after context cancellation")
	}
	_ = h
}

// blockingSource blocks Read until its context is done, then returns the
// context's error, exercising captureLoop's cancellation path without
// touching a real capture device.
type blockingSource struct{}

func (s *blockingSource) Open(context.Context) error { return nil }
func (s *blockingSource) Close() error                { return nil }
func (s *blockingSource) IsLive() bool                { return true }
func (s *blockingSource) Read(ctx context.Context) (frame.Frame, error) {
	<-ctx.Done()
	return frame.Frame{}, ctx.Err()
}
