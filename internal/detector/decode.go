package detector

import (
	"image"

	"gocv.io/x/gocv"
)

// decodeYOLOOutput converts a raw YOLO output Mat of shape [1, N, 5+classes]
// (one row per candidate) into pixel-space boxes,
// confidences, and class IDs, scaled from the model's square input back to
// the original frame dimensions. Detections below confFloor are dropped
// before NMS to keep the candidate set small. The transposed
// [1, 5+classes, N] layout some exports produce is not recognized: the last
// dimension is always read as 5+classes.
func decodeYOLOOutput(output gocv.Mat, confFloor float32, frameW, frameH, inputSize int) ([]image.Rectangle, []float32, []int) {
	rows := output.Total() / output.Size()[len(output.Size())-1]
	cols := output.Size()[len(output.Size())-1]
	numClasses := cols - 5

	var boxes []image.Rectangle
	var confidences []float32
	var classIDs []int

	scaleX := float32(frameW) / float32(inputSize)
	scaleY := float32(frameH) / float32(inputSize)

	data, err := output.DataPtrFloat32()
	if err != nil {
		return nil, nil, nil
	}

	for i := 0; i < rows; i++ {
		base := i * cols
		if base+cols > len(data) {
			break
		}
		objectness := data[base+4]
		if objectness < confFloor {
			continue
		}

		bestClass := 0
		bestScore := float32(0)
		for c := 0; c < numClasses; c++ {
			score := data[base+5+c]
			if score > bestScore {
				bestScore = score
				bestClass = c
			}
		}

		conf := objectness * bestScore
		if conf < confFloor {
			continue
		}

		cx, cy, w, h := data[base], data[base+1], data[base+2], data[base+3]
		x0 := int((cx - w/2) * scaleX)
		y0 := int((cy - h/2) * scaleY)
		x1 := int((cx + w/2) * scaleX)
		y1 := int((cy + h/2) * scaleY)

		boxes = append(boxes, image.Rect(x0, y0, x1, y1))
		confidences = append(confidences, conf)
		classIDs = append(classIDs, bestClass)
	}

	return boxes, confidences, classIDs
}
