package events

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/videocore/pipeline/internal/httputil"
	"github.com/videocore/pipeline/internal/logging"
)

// PushResult tells the Emitter whether a sink accepted an event immediately.
type PushResult int

const (
	Accepted PushResult = iota
	Full
)

// Sink receives events from the Emitter. TryPush is called from the sink's
// own delivery goroutine, so a TryPush that takes time (WebhookSink waits up
// to 5s on its HTTP POST) delays only that sink's queue: the emitting
// goroutine and the other sinks are not stalled, and once the sink's queue
// is full its oldest event is dropped.
type Sink interface {
	Name() string
	TryPush(Event) PushResult
}

// jsonLine is the on-disk representation for LogSink.
type jsonLine struct {
	Timestamp string         `json:"timestamp"`
	Kind      Kind           `json:"kind"`
	FrameSeq  uint64         `json:"frameSeq"`
	Summary   string         `json:"summary"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// LogSink appends events as JSONL to a rotating file, grounded on the
// pack's size-rotating writer. Unlike an audit trail, there is no hash
// chain here — these are operational event logs, not tamper-evidence
// records, so the extra bookkeeping isn't worth carrying.
type LogSink struct {
	writer *logging.RotatingWriter
}

// NewLogSink opens (or creates) the event log at path, rotating at
// maxSizeMB with maxBackups retained.
func NewLogSink(path string, maxSizeMB, maxBackups int) (*LogSink, error) {
	w, err := logging.NewRotatingWriter(path, maxSizeMB, maxBackups)
	if err != nil {
		return nil, fmt.Errorf("events: open log sink: %w", err)
	}
	return &LogSink{writer: w}, nil
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) TryPush(e Event) PushResult {
	line := jsonLine{
		Timestamp: e.Time.UTC().Format(time.RFC3339Nano),
		Kind:      e.Kind,
		FrameSeq:  e.FrameSeq,
		Summary:   e.Summary,
		Payload:   e.Payload,
	}
	data, err := json.Marshal(line)
	if err != nil {
		log.Error("failed to marshal event for log sink", "error", err)
		return Accepted // drop silently rather than retry a malformed event forever
	}
	data = append(data, '\n')

	if _, err := s.writer.Write(data); err != nil {
		log.Error("log sink write failed", "error", err)
	}
	return Accepted
}

func (s *LogSink) Close() error { return s.writer.Close() }

// WebhookSink POSTs each event as JSON to a configured URL, with the same
// zero-retry HTTP helper the Vision/Guarder clients use — a dropped webhook
// delivery is reported, not retried, since by the time a retry would land
// a newer event has likely superseded it.
type WebhookSink struct {
	url    string
	client *http.Client
}

// NewWebhookSink builds a WebhookSink posting to url.
func NewWebhookSink(url string) *WebhookSink {
	return &WebhookSink{url: url, client: &http.Client{Timeout: 5 * time.Second}}
}

func (s *WebhookSink) Name() string { return "webhook" }

func (s *WebhookSink) TryPush(e Event) PushResult {
	payload, err := json.Marshal(e)
	if err != nil {
		log.Error("failed to marshal event for webhook sink", "error", err)
		return Accepted
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, err := httputil.Do(ctx, s.client, http.MethodPost, s.url, payload,
		http.Header{"Content-Type": []string{"application/json"}}, httputil.RetryConfig{MaxRetries: 0})
	if err != nil {
		log.Warn("webhook delivery failed", "error", err)
		return Accepted
	}
	defer resp.Body.Close()
	return Accepted
}

// TTSSink is implemented by the host application (spec.md excludes speech
// synthesis itself from this module's scope; only the hook is provided).
type TTSSink interface {
	Sink
	Speak(text string) error
}
