// Package videosource implements the Frame Source component: a uniform
// capture abstraction over RTSP/HLS/HTTP streams, webcams, screen capture,
// and local files, backed by gocv's VideoCapture for every transport that
// speaks a decodable video container, plus a reconnect-with-backoff wrapper
// for live sources.
package videosource

import (
	"context"
	"errors"
	"fmt"

	"gocv.io/x/gocv"

	"github.com/videocore/pipeline/internal/frame"
	"github.com/videocore/pipeline/internal/logging"
)

var log = logging.L("videosource")

// Sentinel errors, in the teacher's capability-error style: callers branch
// on errors.Is rather than parsing messages.
var (
	ErrUnsupportedMode = errors.New("videosource: unsupported source mode")
	ErrOpenFailed      = errors.New("videosource: failed to open capture device")
	ErrEndOfStream     = errors.New("videosource: end of stream")
	ErrReadFailed      = errors.New("videosource: frame read failed")
)

// Mode identifies a Frame Source variant.
type Mode string

const (
	ModeRTSP   Mode = "rtsp"
	ModeHLS    Mode = "hls"
	ModeHTTP   Mode = "http"
	ModeWebcam Mode = "webcam"
	ModeScreen Mode = "screen"
	ModeFile   Mode = "file"
)

// Config describes how to open a Frame Source.
type Config struct {
	Mode          Mode
	URI           string // RTSP/HLS/HTTP URL or file path; ignored for webcam/screen
	WebcamIndex   int
	RTSPTransport string // "tcp" or "udp"
	Loop          bool   // file sources only: restart at EOF instead of returning ErrEndOfStream
}

// Source is the Frame Source contract every variant implements. Read blocks
// until a frame is available, the source errs, or ctx is done.
type Source interface {
	Open(ctx context.Context) error
	Read(ctx context.Context) (frame.Frame, error)
	Close() error
	// IsLive reports whether this source represents a real-time feed
	// (true for rtsp/hls/http/webcam/screen) as opposed to a seekable
	// file the scheduler may be allowed to block against.
	IsLive() bool
}

// New constructs the Source variant named by cfg.Mode.
func New(cfg Config) (Source, error) {
	switch cfg.Mode {
	case ModeRTSP:
		transport := cfg.RTSPTransport
		if transport == "" {
			transport = "tcp"
		}
		return &captureSource{uri: rtspURI(cfg.URI, transport), live: true}, nil
	case ModeHLS, ModeHTTP:
		return &captureSource{uri: cfg.URI, live: true}, nil
	case ModeWebcam:
		return &captureSource{deviceIndex: cfg.WebcamIndex, useDevice: true, live: true}, nil
	case ModeScreen:
		return newScreenSource(), nil
	case ModeFile:
		return &captureSource{uri: cfg.URI, live: false, loop: cfg.Loop}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedMode, cfg.Mode)
	}
}

// rtspURI appends an rtsp_transport hint understood by gocv's FFmpeg
// backend, mirroring how the pack's OpenCVCamera picks a capture backend
// explicitly rather than relying on OpenCV's default probing.
func rtspURI(uri, transport string) string {
	if transport == "" {
		return uri
	}
	return uri + "|rtsp_transport;" + transport
}

// captureSource wraps gocv.VideoCapture for every transport OpenCV's FFmpeg
// backend can decode directly: RTSP, HLS, HTTP(S), local device indices,
// and files.
type captureSource struct {
	uri         string
	deviceIndex int
	useDevice   bool
	live        bool
	loop        bool

	cap *gocv.VideoCapture
	mat gocv.Mat
	seq uint64
}

func (s *captureSource) Open(ctx context.Context) error {
	var cap *gocv.VideoCapture
	var err error
	if s.useDevice {
		cap, err = gocv.OpenVideoCapture(s.deviceIndex)
	} else {
		cap, err = gocv.OpenVideoCapture(s.uri)
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrOpenFailed, err)
	}
	if !cap.IsOpened() {
		cap.Close()
		return fmt.Errorf("%w: device did not open", ErrOpenFailed)
	}

	s.cap = cap
	s.mat = gocv.NewMat()
	log.Info("capture opened", "uri", s.uri, "device", s.deviceIndex, "live", s.live)
	return nil
}

func (s *captureSource) Read(ctx context.Context) (frame.Frame, error) {
	if s.cap == nil {
		return frame.Frame{}, fmt.Errorf("%w: source not opened", ErrReadFailed)
	}

	ok := s.cap.Read(&s.mat)
	if !ok || s.mat.Empty() {
		if !s.live && s.loop {
			if err := s.cap.Set(gocv.VideoCapturePosFrames, 0); err != nil {
				return frame.Frame{}, fmt.Errorf("%w: loop seek failed: %v", ErrReadFailed, err)
			}
			return s.Read(ctx)
		}
		if !s.live {
			return frame.Frame{}, ErrEndOfStream
		}
		return frame.Frame{}, fmt.Errorf("%w: capture returned no frame", ErrReadFailed)
	}

	s.seq++
	return frame.New(s.mat.Clone(), frame.PixelFormatBGR, s.seq), nil
}

func (s *captureSource) Close() error {
	if s.mat.Ptr() != nil {
		s.mat.Close()
	}
	if s.cap != nil {
		return s.cap.Close()
	}
	return nil
}

func (s *captureSource) IsLive() bool { return s.live }
