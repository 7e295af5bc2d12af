package pipeline

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/videocore/pipeline/internal/config"
	"github.com/videocore/pipeline/internal/detector"
	"github.com/videocore/pipeline/internal/events"
	"github.com/videocore/pipeline/internal/frame"
	"github.com/videocore/pipeline/internal/guarder"
	"github.com/videocore/pipeline/internal/health"
	"github.com/videocore/pipeline/internal/motion"
	"github.com/videocore/pipeline/internal/scheduler"
	"github.com/videocore/pipeline/internal/tracker"
	"github.com/videocore/pipeline/internal/videosource"
	"github.com/videocore/pipeline/internal/vision"
)

// operating mode constants, mirroring config.Config.Mode.
const (
	modeTrack = "track"
	modeDiff  = "diff"
	modeFull  = "full"
	modeCount = "count"
)

// pipelineRunner holds every component wired by StartSession; its two
// goroutines (captureLoop, analysisLoop) are the only places that touch
// them, matching spec.md's single-owner concurrency model.
type pipelineRunner struct {
	cfg          *config.Config
	source       videosource.Source
	gate         *motion.Gate
	detector     detector.Detector
	tracker      *tracker.Tracker
	vision       *vision.Client
	guarder      *guarder.Guarder
	buffer       *scheduler.Buffer
	rate         *scheduler.RateController
	handle       *SessionHandle
	focusClasses map[string]bool

	lastFocusCounts map[string]int
	lastHeartbeat   time.Time

	vlmFailStreak int
	vlmDegraded   bool
}

// pendingEvent batches one analyzed frame's candidate events so they can be
// sorted into spec.md's within-frame kind-priority order before emission.
type pendingEvent struct {
	priority int
	ev       Event
}

// captureLoop pulls frames from the source as fast as it can and pushes
// them into the bounded buffer; backpressure is the buffer's job (via
// DropPolicy), not the capture loop's.
func (p *pipelineRunner) captureLoop(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()
	defer p.source.Close()
	defer p.buffer.Close()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		f, err := p.source.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return // session is stopping; not a source failure
			}
			if errors.Is(err, videosource.ErrEndOfStream) {
				log.Info("source reached end of stream")
				p.handle.health.Update("source", health.Healthy, "end of stream")
				return
			}
			log.Error("source read failed fatally", "error", err)
			p.handle.health.Update("source", health.Unhealthy, err.Error())
			p.handle.setErr(err)
			return
		}

		p.handle.counters.FramesCaptured.Add(1)
		p.buffer.Push(f)
	}
}

// analysisLoop pulls frames at the rate the adaptive controller currently
// targets, runs the Motion Gate, and — unless mode is Full — drops frames
// the gate reports Stable before they ever reach the detector. Changed and
// PeriodicForced frames (and, in Full mode, every frame) go on to
// detection/tracking/description.
func (p *pipelineRunner) analysisLoop(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()
	defer p.gate.Close()
	defer p.detector.Close()

	pullTimeout := time.Duration(p.cfg.PullTimeoutMS) * time.Millisecond
	heartbeatInterval := time.Duration(p.cfg.HeartbeatIntervalMS) * time.Millisecond

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		interval := time.Duration(float64(time.Second) / p.rate.FPS())
		timer := time.NewTimer(interval)

		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		f, ok := p.pullWithTimeout(pullTimeout)
		if !ok {
			p.maybeHeartbeat(heartbeatInterval, 0, false)
			continue // no frame arrived within pull_timeout, or buffer closed; try again
		}

		p.handle.counters.FramesAnalyzed.Add(1)
		verdict := p.gate.Evaluate(f)
		p.rate.OnWindow(time.Now(), verdict.Kind == motion.Changed)

		if verdict.Kind == motion.Changed || verdict.Kind == motion.PeriodicForced {
			p.handle.counters.MotionEvents.Add(1)
		}

		p.maybeHeartbeat(heartbeatInterval, f.Seq, false)

		if verdict.Kind == motion.Stable && p.cfg.Mode != modeFull {
			f.Release()
			continue
		}

		p.runDetection(ctx, f, verdict)
	}
}

// maybeHeartbeat emits a periodic Heartbeat once heartbeat_interval has
// elapsed since the last one, or unconditionally when forced (shutdown,
// degrade transitions call their own Heartbeat directly instead).
func (p *pipelineRunner) maybeHeartbeat(interval time.Duration, frameSeq uint64, force bool) {
	if interval <= 0 && !force {
		return
	}
	now := time.Now()
	if !force && !p.lastHeartbeat.IsZero() && now.Sub(p.lastHeartbeat) < interval {
		return
	}
	p.lastHeartbeat = now
	p.handle.emit(Event{
		Kind:     events.KindHeartbeat,
		Time:     now,
		FrameSeq: frameSeq,
		Summary:  "periodic heartbeat",
		Priority: events.PriorityLow,
		Payload:  map[string]any{"reason": "periodic"},
	})
}

// pullWithTimeout waits up to timeout for a frame; returning ok=false on
// either a timeout or a closed buffer (end of capture) lets the caller fall
// through to the next tick without distinguishing the two.
func (p *pipelineRunner) pullWithTimeout(timeout time.Duration) (frame.Frame, bool) {
	type result struct {
		f  frame.Frame
		ok bool
	}
	done := make(chan result, 1)
	go func() {
		f, ok := p.buffer.Pop()
		done <- result{f, ok}
	}()

	select {
	case r := <-done:
		return r.f, r.ok
	case <-time.After(timeout):
		return frame.Frame{}, false
	}
}

// runDetection runs the Object Detector and Tracker against an
// analysis-worthy frame, batches every candidate event it produces this
// frame (lifecycle transitions, Count), sorts them into spec.md's
// kind-priority order, and emits them — then, if the gate for running the
// Vision Describer is satisfied, hands a cloned frame to it; any Describe
// event is emitted by describeAndGuard after the batch.
func (p *pipelineRunner) runDetection(ctx context.Context, f frame.Frame, verdict motion.Verdict) {
	defer f.Release()

	p.handle.counters.DetectionCalls.Add(1)
	detections, err := p.detector.Detect(f)
	if err != nil {
		log.Error("detector failed", "error", err)
		p.handle.health.Update("detector", health.Degraded, err.Error())
		return
	}

	var pending []pendingEvent

	lifecycle := p.tracker.Update(detections, f.Seq, f.Timestamp)
	for _, ev := range lifecycle {
		le := p.lifecycleToEvent(f.Seq, ev)
		pending = append(pending, pendingEvent{priority: events.KindPriority(le.Kind), ev: le})
	}

	for _, ev := range p.countEvents(f.Seq) {
		pending = append(pending, pendingEvent{priority: events.KindPriority(ev.Kind), ev: ev})
	}

	sort.SliceStable(pending, func(i, j int) bool { return pending[i].priority < pending[j].priority })
	for _, pe := range pending {
		p.handle.emit(pe.ev)
	}

	var bestConfidence float32
	for _, d := range detections {
		if d.Confidence > bestConfidence {
			bestConfidence = d.Confidence
		}
	}

	// spec.md §4.6 step 6: describe when operating in Full or Diff mode,
	// OR the detector's best confidence is below skip_llm_threshold
	// (ambiguous scenes get a second opinion from the VLM), OR a trigger
	// condition fires. No trigger source is wired yet — Trigger events are
	// defined in the event model but nothing in this revision produces one.
	const triggerFired = false
	runDescriber := p.cfg.Mode == modeFull || p.cfg.Mode == modeDiff ||
		(len(detections) > 0 && bestConfidence < float32(p.cfg.SkipLLMThreshold)) ||
		triggerFired
	if !runDescriber {
		return
	}

	p.describeAndGuard(ctx, f.Seq, f.Clone())
}

// lifecycleToEvent builds (without emitting) the Event a tracker lifecycle
// transition corresponds to.
func (p *pipelineRunner) lifecycleToEvent(frameSeq uint64, ev tracker.LifecycleEvent) Event {
	var kind events.Kind
	switch ev.Kind {
	case tracker.EventEnter:
		kind = events.KindEnter
		p.handle.counters.TrackEnters.Add(1)
	case tracker.EventMove:
		kind = events.KindMove
	case tracker.EventExit:
		kind = events.KindExit
		p.handle.counters.TrackExits.Add(1)
	}
	return Event{
		Kind:     kind,
		Time:     time.Now(),
		FrameSeq: frameSeq,
		Summary:  string(ev.Kind) + ": " + ev.Track.ClassName,
		Priority: events.PriorityNormal,
		Payload: map[string]any{
			"trackId":   ev.Track.ID,
			"className": ev.Track.ClassName,
			"box":       ev.Track.Box,
		},
	}
}

// countEvents compares the current number of Stable tracks per focused
// class against the last reported counts and builds a Count event for
// every class whose count changed this frame.
func (p *pipelineRunner) countEvents(frameSeq uint64) []Event {
	if p.lastFocusCounts == nil {
		p.lastFocusCounts = make(map[string]int)
	}

	current := make(map[string]int)
	for _, tr := range p.tracker.Tracks() {
		if tr.State != tracker.StateStable {
			continue
		}
		if len(p.focusClasses) > 0 && !p.focusClasses[tr.ClassName] {
			continue
		}
		current[tr.ClassName]++
	}

	var out []Event
	seen := make(map[string]bool, len(current))
	for class, count := range current {
		seen[class] = true
		if p.lastFocusCounts[class] == count {
			continue
		}
		out = append(out, Event{
			Kind:     events.KindCount,
			Time:     time.Now(),
			FrameSeq: frameSeq,
			Summary:  class + " count: " + strconv.Itoa(count),
			Priority: events.PriorityNormal,
			Payload:  map[string]any{"className": class, "count": count},
		})
	}
	for class, prev := range p.lastFocusCounts {
		if seen[class] || prev == 0 {
			continue
		}
		out = append(out, Event{
			Kind:     events.KindCount,
			Time:     time.Now(),
			FrameSeq: frameSeq,
			Summary:  class + " count: 0",
			Priority: events.PriorityNormal,
			Payload:  map[string]any{"className": class, "count": 0},
		})
	}
	p.lastFocusCounts = current

	return out
}

// describeAndGuard calls the Vision Describer on fc (a frame clone owned by
// this call) and, on success, runs the description through the Guarder
// before emitting a Describe event. fc is released unconditionally. A run
// of vlm_fail_threshold consecutive failures forces the adaptive rate
// controller down to fps_min and emits a degraded Heartbeat, since a
// repeatedly-failing VLM endpoint means the session should shed analysis
// load rather than keep paying for calls that won't succeed.
func (p *pipelineRunner) describeAndGuard(ctx context.Context, frameSeq uint64, fc frame.Frame) {
	defer fc.Release()

	vlmTimeout := time.Duration(p.cfg.VLMTimeoutMS) * time.Millisecond
	p.handle.counters.VLMCalls.Add(1)
	result, err := p.vision.Describe(ctx, fc, "Describe any notable activity in this frame.", p.cfg.VisionModelID, vlmTimeout)
	if err != nil {
		p.handle.counters.VLMTimeouts.Add(1)
		log.Warn("vision describer call failed, skipping description for this frame", "error", err)
		p.onVLMFailure(frameSeq)
		return
	}
	p.onVLMSuccess()

	p.handle.counters.GuarderCalls.Add(1)
	guarderTimeout := time.Duration(p.cfg.GuarderTimeoutMS) * time.Millisecond
	guardCtx, cancel := context.WithTimeout(ctx, guarderTimeout)
	defer cancel()
	verdict := p.guarder.Check(guardCtx, result.Text)
	if verdict.Reason == "guarder error, failing open" {
		p.handle.counters.GuarderFailOpen.Add(1)
	}
	if !verdict.Significant {
		p.handle.counters.GuarderSuppressions.Add(1)
		return
	}

	p.handle.emit(Event{
		Kind:     events.KindDescribe,
		Time:     time.Now(),
		FrameSeq: frameSeq,
		Summary:  result.Text,
		Priority: events.PriorityHigh,
		Payload: map[string]any{
			"latencyMs":     result.LatencyMs,
			"guarderReason": verdict.Reason,
		},
	})
}

func (p *pipelineRunner) onVLMFailure(frameSeq uint64) {
	p.vlmFailStreak++
	if p.vlmDegraded || p.vlmFailStreak < p.cfg.VLMFailThreshold {
		return
	}
	p.vlmDegraded = true
	p.rate.ForceFloor()
	p.handle.health.Update("vision", health.Degraded, "vlm_fail_threshold exceeded, forcing fps_min")
	p.handle.emit(Event{
		Kind:     events.KindHeartbeat,
		Time:     time.Now(),
		FrameSeq: frameSeq,
		Summary:  "vision describer degraded",
		Priority: events.PriorityNormal,
		Payload:  map[string]any{"reason": "degraded"},
	})
}

func (p *pipelineRunner) onVLMSuccess() {
	p.vlmFailStreak = 0
	if p.vlmDegraded {
		p.vlmDegraded = false
		p.handle.health.Update("vision", health.Healthy, "")
	}
}
