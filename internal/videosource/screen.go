package videosource

import (
	"context"
	"errors"
	"image"

	"gocv.io/x/gocv"

	"github.com/videocore/pipeline/internal/frame"
)

// ErrNotSupported is returned by a platform screen capturer that has no
// implementation for the current OS/display server.
var ErrNotSupported = errors.New("videosource: screen capture not supported on this platform")

// screenCapturer is implemented per-platform (build-tag-selected, the way
// the teacher's desktop package selects a ScreenCapturer per OS) and
// produces raw RGBA frames of the primary display.
type screenCapturer interface {
	Open() error
	Grab() (image.Image, error)
	Close() error
}

// screenSource adapts a screenCapturer to the Source interface, converting
// each captured image.Image to a BGR gocv.Mat the rest of the pipeline
// expects.
type screenSource struct {
	capturer screenCapturer
	seq      uint64
}

func newScreenSource() Source {
	return &screenSource{capturer: newPlatformScreenCapturer()}
}

func (s *screenSource) Open(ctx context.Context) error {
	return s.capturer.Open()
}

func (s *screenSource) Read(ctx context.Context) (frame.Frame, error) {
	img, err := s.capturer.Grab()
	if err != nil {
		return frame.Frame{}, err
	}

	mat, err := imageToMat(img)
	if err != nil {
		return frame.Frame{}, err
	}

	s.seq++
	return frame.New(mat, frame.PixelFormatBGR, s.seq), nil
}

func (s *screenSource) Close() error {
	return s.capturer.Close()
}

func (s *screenSource) IsLive() bool { return true }

// imageToMat converts a standard image.Image (as produced by screen
// capturers) into a BGR gocv.Mat via its RGBA representation.
func imageToMat(img image.Image) (gocv.Mat, error) {
	bounds := img.Bounds()
	rgba := image.NewRGBA(bounds)
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			rgba.Set(x, y, img.At(x, y))
		}
	}

	mat, err := gocv.NewMatFromBytes(bounds.Dy(), bounds.Dx(), gocv.MatTypeCV8UC4, rgba.Pix)
	if err != nil {
		return gocv.Mat{}, err
	}
	defer mat.Close()

	bgr := gocv.NewMat()
	gocv.CvtColor(mat, &bgr, gocv.ColorRGBAToBGR)
	return bgr, nil
}

// unsupportedScreenCapturer is the fallback used on platforms without a
// registered capturer; Open fails fast with ErrNotSupported rather than
// letting the session hang waiting on frames that never arrive.
type unsupportedScreenCapturer struct{}

func (unsupportedScreenCapturer) Open() error                  { return ErrNotSupported }
func (unsupportedScreenCapturer) Grab() (image.Image, error)   { return nil, ErrNotSupported }
func (unsupportedScreenCapturer) Close() error                 { return nil }

// newPlatformScreenCapturer is overridden by platform-specific build-tagged
// files (screen_windows.go, screen_darwin.go, screen_linux.go) in a full
// port; none are wired in this build, so every platform falls back to the
// unsupported capturer.
func newPlatformScreenCapturer() screenCapturer {
	return unsupportedScreenCapturer{}
}
