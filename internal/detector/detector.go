// Package detector implements the Object Detector: a gocv DNN-backed
// YOLO-class inference wrapper that turns a frame into a confidence- and
// focus-class-filtered list of detections.
package detector

import (
	"fmt"
	"image"

	"gocv.io/x/gocv"

	"github.com/videocore/pipeline/internal/frame"
	"github.com/videocore/pipeline/internal/logging"
)

var log = logging.L("detector")

// Box is an axis-aligned bounding box in pixel coordinates.
type Box struct {
	X, Y, W, H int
}

// Detection is a single classified object found in a frame.
type Detection struct {
	ClassName  string
	Confidence float32
	Box        Box
}

// Detector is the Object Detector contract. Implementations must be safe
// to call from a single goroutine only (spec.md's single analysis worker).
type Detector interface {
	Detect(f frame.Frame) ([]Detection, error)
	Close() error
}

// Config tunes inference. Field names mirror spec.md.
type Config struct {
	ModelPath       string
	ConfigPath      string // empty for ONNX models, set for Darknet cfg+weights pairs
	ConfidenceFloor float32
	NMSThreshold    float32
	InputSize       int // square blob side, e.g. 640
	FocusClasses    map[string]bool
	ClassNames      []string // index-ordered label list
}

// yoloDetector wraps a gocv.Net loaded from an ONNX or Darknet model.
type yoloDetector struct {
	cfg Config
	net gocv.Net
}

// New loads the model named by cfg.ModelPath (and cfg.ConfigPath, for
// Darknet) and returns a ready-to-use Detector.
func New(cfg Config) (Detector, error) {
	if cfg.InputSize == 0 {
		cfg.InputSize = 640
	}

	var net gocv.Net
	if cfg.ConfigPath != "" {
		net = gocv.ReadNetFromDarknet(cfg.ConfigPath, cfg.ModelPath)
	} else {
		net = gocv.ReadNetFromONNX(cfg.ModelPath)
	}
	if net.Empty() {
		return nil, fmt.Errorf("detector: failed to load model %q", cfg.ModelPath)
	}

	log.Info("detector model loaded", "model", cfg.ModelPath, "inputSize", cfg.InputSize)
	return &yoloDetector{cfg: cfg, net: net}, nil
}

// Detect runs one forward pass and returns detections that pass both the
// confidence floor and (if configured) the focus-class allowlist, after
// non-max suppression collapses overlapping boxes for the same object.
func (d *yoloDetector) Detect(f frame.Frame) ([]Detection, error) {
	blob := gocv.BlobFromImage(f.Mat, 1.0/255.0, image.Pt(d.cfg.InputSize, d.cfg.InputSize), gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	d.net.SetInput(blob, "")
	output := d.net.Forward("")
	defer output.Close()

	boxes, confidences, classIDs := decodeYOLOOutput(output, d.cfg.ConfidenceFloor, f.Mat.Cols(), f.Mat.Rows(), d.cfg.InputSize)

	indices := gocv.NMSBoxes(boxes, confidences, d.cfg.ConfidenceFloor, d.cfg.NMSThreshold)
	defer indices.Close()

	var out []Detection
	n := indices.Cols() * indices.Rows()
	indexData, err := indices.DataPtrInt32()
	if err != nil {
		return nil, fmt.Errorf("detector: reading NMS indices: %w", err)
	}
	for i := 0; i < n && i < len(indexData); i++ {
		idx := int(indexData[i])
		if idx < 0 || idx >= len(boxes) {
			continue
		}
		name := className(d.cfg.ClassNames, classIDs[idx])
		if len(d.cfg.FocusClasses) > 0 && !d.cfg.FocusClasses[name] {
			continue
		}
		r := boxes[idx]
		out = append(out, Detection{
			ClassName:  name,
			Confidence: confidences[idx],
			Box:        Box{X: r.Min.X, Y: r.Min.Y, W: r.Dx(), H: r.Dy()},
		})
	}
	return out, nil
}

func (d *yoloDetector) Close() error {
	return d.net.Close()
}

func className(names []string, id int) string {
	if id >= 0 && id < len(names) {
		return names[id]
	}
	return fmt.Sprintf("class_%d", id)
}
