// Package pipeline is the embeddable entry point for the video analysis
// core: it wires Frame Source, Motion Gate, Object Detector/Tracker,
// Vision Describer, Guarder, and Event Emitter behind a single Session API,
// following spec.md §6.
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/videocore/pipeline/internal/config"
	"github.com/videocore/pipeline/internal/detector"
	"github.com/videocore/pipeline/internal/events"
	"github.com/videocore/pipeline/internal/guarder"
	"github.com/videocore/pipeline/internal/health"
	"github.com/videocore/pipeline/internal/logging"
	"github.com/videocore/pipeline/internal/motion"
	"github.com/videocore/pipeline/internal/scheduler"
	"github.com/videocore/pipeline/internal/tracker"
	"github.com/videocore/pipeline/internal/videosource"
	"github.com/videocore/pipeline/internal/vision"
)

var log = logging.L("pipeline")

// SessionHandle is the caller-facing control surface for a running session.
type SessionHandle struct {
	cancel context.CancelFunc

	wg        sync.WaitGroup
	emitter   *events.Emitter
	counters  *scheduler.Counters
	health    *health.Monitor
	subs      chan events.Event

	stopOnce sync.Once

	errMu sync.Mutex
	err   error
}

// StartSession builds every component from cfg and starts the capture and
// analysis goroutines. The returned handle is live immediately; call
// SubscribeEvents to receive the event stream and StopSession to shut down.
func StartSession(cfg *config.Config) (*SessionHandle, error) {
	src, err := videosource.New(videosource.Config{
		Mode:          videosource.Mode(cfg.SourceMode),
		URI:           cfg.SourceURI,
		RTSPTransport: cfg.RTSPTransport,
	})
	if err != nil {
		return nil, fmt.Errorf("pipeline: build source: %w", err)
	}

	var source videosource.Source = src
	if src.IsLive() {
		factory := func() (videosource.Source, error) {
			return videosource.New(videosource.Config{
				Mode:          videosource.Mode(cfg.SourceMode),
				URI:           cfg.SourceURI,
				RTSPTransport: cfg.RTSPTransport,
			})
		}
		source = videosource.NewReconnecting(factory, videosource.DefaultReconnectConfig())
	}

	ctx, cancel := context.WithCancel(context.Background())
	if err := source.Open(ctx); err != nil {
		cancel()
		return nil, fmt.Errorf("pipeline: open source: %w", err)
	}

	gate := motion.New(motion.Config{
		MotionThreshold:  cfg.MotionThreshold,
		MinRegionPx:      cfg.MinRegionPx,
		BackgroundAlpha:  cfg.BackgroundAlpha,
		PeriodicInterval: cfg.PeriodicInterval,
	})

	if rc, ok := source.(*videosource.Reconnecting); ok {
		rc.SetGapHandler(gate.Reset)
	}

	focusClasses := make(map[string]bool, len(cfg.FocusClasses))
	for _, c := range cfg.FocusClasses {
		focusClasses[c] = true
	}
	det, err := detector.New(detector.Config{
		ModelPath:       cfg.DetectorModelPath,
		ConfigPath:      cfg.DetectorConfigPath,
		ConfidenceFloor: float32(cfg.ConfidenceFloor),
		NMSThreshold:    float32(cfg.NMSThreshold),
		FocusClasses:    focusClasses,
	})
	if err != nil {
		cancel()
		source.Close()
		gate.Close()
		return nil, fmt.Errorf("pipeline: build detector: %w", err)
	}

	trk := tracker.New(tracker.Config{
		ConfirmFrames:   cfg.TrackConfirmFrames,
		TrackBuffer:     cfg.TrackBuffer,
		TrackTimeout:    time.Duration(cfg.TrackTimeoutMS) * time.Millisecond,
		IOUThreshold:    cfg.TrackIOUThreshold,
		MoveEpsilonPx:   cfg.MoveEpsilonPx,
		MoveMinInterval: time.Duration(cfg.MoveMinIntervalMS) * time.Millisecond,
	})

	visionClient := vision.NewClient(cfg.VisionModelURL, cfg.VisionAPIKey)
	gd := guarder.New(guarder.Config{
		Enabled:      cfg.GuarderEnabled,
		ModelURL:      cfg.GuarderModelURL,
		Timeout:      time.Duration(cfg.GuarderTimeoutMS) * time.Millisecond,
		AllowPhrases: cfg.GuarderAllowPhrases,
	})

	counters := &scheduler.Counters{}
	buf := scheduler.NewBuffer(cfg.BufferCapacity, scheduler.DropPolicy(cfg.DropPolicy), counters)
	rateCfg := scheduler.DefaultRateConfig()
	rateCfg.FPSMin, rateCfg.FPSMax = cfg.FPSMin, cfg.FPSMax
	rate := scheduler.NewRateController(rateCfg)

	emitter := events.NewEmitter(4, 64)
	if cfg.EventLogPath != "" {
		sink, err := events.NewLogSink(cfg.EventLogPath, cfg.LogMaxSizeMB, cfg.LogMaxBackups)
		if err != nil {
			log.Error("failed to open event log sink, continuing without it", "error", err)
		} else {
			emitter.Register(sink)
		}
	}
	if cfg.WebhookURL != "" {
		emitter.Register(events.NewWebhookSink(cfg.WebhookURL))
	}

	h := &SessionHandle{
		cancel:   cancel,
		emitter:  emitter,
		counters: counters,
		health:   health.NewMonitor(),
		subs:     make(chan events.Event, 256),
	}
	h.health.Update("source", health.Healthy, "")

	p := &pipelineRunner{
		cfg:          cfg,
		source:       source,
		gate:         gate,
		detector:     det,
		tracker:      trk,
		vision:       visionClient,
		guarder:      gd,
		buffer:       buf,
		rate:         rate,
		handle:       h,
		focusClasses: focusClasses,
	}

	h.wg.Add(2)
	go p.captureLoop(ctx, &h.wg)
	go p.analysisLoop(ctx, &h.wg)

	return h, nil
}

// SubscribeEvents returns a channel of every event emitted by the session.
// The channel is also fed to any registered sinks independently; this
// channel exists for embedders that want to observe events in-process
// without standing up a sink.
func (h *SessionHandle) SubscribeEvents() <-chan events.Event {
	return h.subs
}

// Counters returns a snapshot of the session's lock-free counters.
func (h *SessionHandle) Counters() scheduler.Snapshot {
	return h.counters.Snapshot()
}

// Health returns the worst reported health status across all components.
func (h *SessionHandle) Health() health.Status {
	return h.health.Overall()
}

// Err returns the fatal error that ended the session, if any. Only
// meaningful after the event channel has closed.
func (h *SessionHandle) Err() error {
	h.errMu.Lock()
	defer h.errMu.Unlock()
	return h.err
}

func (h *SessionHandle) setErr(err error) {
	h.errMu.Lock()
	defer h.errMu.Unlock()
	if h.err == nil {
		h.err = err
	}
}

// StopSession cancels the session's context, waits (bounded by
// shutdown_grace) for the capture/analysis goroutines to exit, drains the
// emitter, and closes the subscriber channel. Safe to call more than once.
func (h *SessionHandle) StopSession(shutdownGrace time.Duration) {
	h.stopOnce.Do(func() {
		h.cancel()

		done := make(chan struct{})
		go func() {
			h.wg.Wait()
			close(done)
		}()

		select {
		case <-done:
		case <-time.After(shutdownGrace):
			log.Warn("session shutdown grace period exceeded, forcing close")
		}

		// spec.md §8 Scenario F: a session always emits a final shutdown
		// Heartbeat as the last event a sink observes, so consumers can
		// tell a clean stop from a silently stalled pipeline.
		h.emit(Event{
			Kind:     events.KindHeartbeat,
			Time:     time.Now(),
			Summary:  "session stopped",
			Priority: events.PriorityNormal,
			Payload:  map[string]any{"reason": "shutdown"},
		})

		ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		h.emitter.Close(ctx)

		close(h.subs)
	})
}

// emit pushes ev to the emitter's registered sinks and, best-effort, to the
// in-process subscriber channel (dropped if the subscriber isn't keeping
// up — the channel is an observability convenience, not a sink of record).
func (h *SessionHandle) emit(ev Event) {
	h.emitter.Emit(ev)
	h.counters.AddEvent(ev.Kind)
	select {
	case h.subs <- ev:
	default:
	}
}

// Event is a type alias so pipeline callers can reference the event shape
// without importing internal/events directly.
type Event = events.Event
