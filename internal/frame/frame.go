// Package frame defines the pixel-buffer type passed between pipeline
// stages and the pixel formats the rest of the pipeline understands.
package frame

import (
	"fmt"
	"time"

	"gocv.io/x/gocv"
)

// PixelFormat identifies the channel layout of a Frame's backing Mat.
type PixelFormat int

const (
	PixelFormatBGR PixelFormat = iota
	PixelFormatGray
	PixelFormatRGBA
)

func (f PixelFormat) String() string {
	switch f {
	case PixelFormatBGR:
		return "bgr"
	case PixelFormatGray:
		return "gray"
	case PixelFormatRGBA:
		return "rgba"
	default:
		return "unknown"
	}
}

// Frame is a single decoded video frame with its sequence metadata. A Frame
// owns its Mat: whoever holds it is responsible for calling Release() to
// return the underlying buffer. Ownership transfers on handoff — once a
// Frame is pushed into a Buffer, the producer must not touch it again.
type Frame struct {
	Mat       gocv.Mat
	Format    PixelFormat
	Seq       uint64
	Timestamp time.Time
}

// New wraps a gocv.Mat as a Frame with the given sequence number.
func New(mat gocv.Mat, format PixelFormat, seq uint64) Frame {
	return Frame{
		Mat:       mat,
		Format:    format,
		Seq:       seq,
		Timestamp: time.Now(),
	}
}

// Release returns the backing Mat's memory. Safe to call once; calling it
// twice on the same Frame is a programmer error (gocv.Mat.Close panics on a
// Mat that is already closed in some builds, so callers must not double-free).
func (f Frame) Release() {
	f.Mat.Close()
}

// Empty reports whether the frame carries no pixel data.
func (f Frame) Empty() bool {
	return f.Mat.Empty()
}

// Clone deep-copies the frame's pixel buffer, producing an independent Frame
// that can be handed to a second consumer (e.g. the describer) while the
// original continues through the motion/detector path.
func (f Frame) Clone() Frame {
	return Frame{
		Mat:       f.Mat.Clone(),
		Format:    f.Format,
		Seq:       f.Seq,
		Timestamp: f.Timestamp,
	}
}

// String implements fmt.Stringer for log messages.
func (f Frame) String() string {
	return fmt.Sprintf("frame{seq=%d format=%s size=%dx%d}", f.Seq, f.Format, f.Mat.Cols(), f.Mat.Rows())
}
