// Package motion implements the Motion Gate: a cheap per-frame change
// detector that decides whether a frame is worth handing to the (far more
// expensive) object detector, and maintains an exponentially-averaged
// background model so slow lighting drift doesn't look like motion forever.
package motion

import (
	"image"

	"gocv.io/x/gocv"

	"github.com/videocore/pipeline/internal/frame"
	"github.com/videocore/pipeline/internal/logging"
)

var log = logging.L("motion")

// VerdictKind is the Motion Gate's classification of one frame.
type VerdictKind string

const (
	Stable         VerdictKind = "stable"
	Changed        VerdictKind = "changed"
	PeriodicForced VerdictKind = "periodic_forced"
)

// Verdict is the Motion Gate's decision for one frame.
type Verdict struct {
	Kind            VerdictKind
	ChangedFraction float64 // fraction of pixels that changed, 0.0-1.0
	LargestRegionPx int     // area in pixels of the largest connected changed region
	LargestRegion   Region
}

// Region is an axis-aligned changed region in pixel coordinates.
type Region struct {
	X, Y, W, H int
}

// Config tunes the gate's sensitivity. Field names mirror spec.md exactly.
type Config struct {
	MotionThreshold  float64 // changed-pixel fraction, [0,1], above which a frame is Changed
	MinRegionPx      int     // minimum largest-region area to count as real motion, not sensor noise
	BackgroundAlpha  float64 // EWMA weight for background model updates, 0 < alpha <= 1
	PeriodicInterval int     // force a verdict at least once every N frames (0 disables)
}

// Gate holds the running background model between calls to Evaluate. It is
// not safe for concurrent use — the analysis worker owns it exclusively,
// matching spec.md's single analysis goroutine.
type Gate struct {
	cfg Config

	background gocv.Mat
	kernel     gocv.Mat

	framesSinceForce int
	initialized      bool
}

// New creates a Gate. Call Close when the session ends to release the
// backing Mats.
func New(cfg Config) *Gate {
	if cfg.BackgroundAlpha <= 0 {
		cfg.BackgroundAlpha = 0.05
	}
	return &Gate{
		cfg:    cfg,
		kernel: gocv.GetStructuringElement(gocv.MorphRect, newSize(3, 3)),
	}
}

// Evaluate compares f against the running background model and classifies
// it as Stable, Changed, or PeriodicForced. The background reference is
// updated by EWMA only on Stable frames, so a moving object never bleeds
// into the background it's being compared against.
func (g *Gate) Evaluate(f frame.Frame) Verdict {
	g.framesSinceForce++

	rows, cols := f.Mat.Rows(), f.Mat.Cols()

	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(f.Mat, &gray, gocv.ColorBGRToGray)

	if !g.initialized {
		g.background = gray.Clone()
		g.initialized = true
		g.framesSinceForce = 0
		return Verdict{Kind: PeriodicForced}
	}

	if g.background.Rows() != rows || g.background.Cols() != cols {
		log.Warn("frame size changed, resetting motion reference", "rows", rows, "cols", cols)
		g.background.Close()
		g.background = gray.Clone()
		g.framesSinceForce = 0
		return Verdict{Kind: PeriodicForced}
	}

	diff := gocv.NewMat()
	defer diff.Close()
	gocv.AbsDiff(gray, g.background, &diff)

	thresh := gocv.NewMat()
	defer thresh.Close()
	gocv.Threshold(diff, &thresh, 25, 255, gocv.ThresholdBinary)

	opened := gocv.NewMat()
	defer opened.Close()
	gocv.MorphologyEx(thresh, &opened, gocv.MorphOpen, g.kernel)
	closed := gocv.NewMat()
	defer closed.Close()
	gocv.MorphologyEx(opened, &closed, gocv.MorphClose, g.kernel)

	changedPixels := gocv.CountNonZero(closed)
	changedFraction := 0.0
	if totalPixels := rows * cols; totalPixels > 0 {
		changedFraction = float64(changedPixels) / float64(totalPixels)
	}

	contours := gocv.FindContours(closed, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer contours.Close()

	largestAreaPx := 0
	var largestRegion Region
	for i := 0; i < contours.Size(); i++ {
		c := contours.At(i)
		area := int(gocv.ContourArea(c))
		if area > largestAreaPx {
			largestAreaPx = area
			rect := gocv.BoundingRect(c)
			largestRegion = Region{X: rect.Min.X, Y: rect.Min.Y, W: rect.Dx(), H: rect.Dy()}
		}
	}

	verdict := Verdict{
		ChangedFraction: changedFraction,
		LargestRegionPx: largestAreaPx,
		LargestRegion:   largestRegion,
	}

	motionDetected := changedFraction >= g.cfg.MotionThreshold && largestAreaPx >= g.cfg.MinRegionPx
	switch {
	case motionDetected:
		verdict.Kind = Changed
		g.framesSinceForce = 0
	case g.cfg.PeriodicInterval > 0 && g.framesSinceForce >= g.cfg.PeriodicInterval:
		verdict.Kind = PeriodicForced
		g.framesSinceForce = 0
	default:
		verdict.Kind = Stable
	}

	if verdict.Kind == Stable {
		blended := gocv.NewMat()
		gocv.AddWeighted(gray, g.cfg.BackgroundAlpha, g.background, 1-g.cfg.BackgroundAlpha, 0, &blended)
		g.background.Close()
		g.background = blended
	}

	return verdict
}

// Reset invalidates the background reference. The next call to Evaluate
// reinitializes it from scratch and returns PeriodicForced, matching
// spec.md's rule that a reference built before a TransientGap must not be
// compared against the first frame recovered after it.
func (g *Gate) Reset() {
	if g.initialized {
		g.background.Close()
	}
	g.initialized = false
	g.framesSinceForce = 0
}

// Close releases the Gate's backing Mats.
func (g *Gate) Close() {
	if g.initialized {
		g.background.Close()
	}
	g.kernel.Close()
}

func newSize(w, h int) image.Point {
	return image.Point{X: w, Y: h}
}
