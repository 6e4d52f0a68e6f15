package postprocess

import (
	"fmt"

	"github.com/chewxy/math32"
	"github.com/nvr-ai/go-wardrobe/images"
)

// Letterbox records how an image was fitted into a square model input so that model-space
// coordinates can be mapped back to the original resolution.
type Letterbox struct {
	// Scale is the uniform factor applied to the original image.
	Scale float32
	// PadLeft is the horizontal padding added before the scaled image.
	PadLeft float32
	// PadTop is the vertical padding added above the scaled image.
	PadTop float32
	// OrigWidth is the width of the original image.
	OrigWidth int
	// OrigHeight is the height of the original image.
	OrigHeight int
}

// NewLetterbox computes the aspect-preserving fit of a width×height image into a size×size
// input with the remainder split evenly as padding.
func NewLetterbox(width, height, size int) Letterbox {
	scale := math32.Min(float32(size)/float32(width), float32(size)/float32(height))
	newW := int(round(float32(width) * scale))
	newH := int(round(float32(height) * scale))
	return Letterbox{
		Scale:      scale,
		PadLeft:    float32((size - newW) / 2),
		PadTop:     float32((size - newH) / 2),
		OrigWidth:  width,
		OrigHeight: height,
	}
}

// ScaledSize returns the dimensions of the image after scaling, before padding.
func (l Letterbox) ScaledSize() (int, int) {
	return int(round(float32(l.OrigWidth) * l.Scale)), int(round(float32(l.OrigHeight) * l.Scale))
}

// ToOriginal maps a model-space point into the original image, clamped to its bounds.
func (l Letterbox) ToOriginal(x, y float32) (float32, float32) {
	ox := (x - l.PadLeft) / l.Scale
	oy := (y - l.PadTop) / l.Scale
	return clamp(ox, 0, float32(l.OrigWidth)), clamp(oy, 0, float32(l.OrigHeight))
}

func round(v float32) float32 {
	return math32.Floor(v + 0.5)
}

func clamp(v, lo, hi float32) float32 {
	return math32.Max(lo, math32.Min(hi, v))
}

// PoseConfig describes the layout of a YOLO-pose output tensor.
type PoseConfig struct {
	// NumKeypoints is the number of joints per detection (17 for COCO).
	NumKeypoints int
	// ConfidenceThreshold drops candidates whose person score is below it.
	ConfidenceThreshold float32
	// KeypointThreshold zeroes the coordinates of joints whose confidence is below it, so
	// occluded or out-of-frame joints come out as (0, 0).
	KeypointThreshold float32
	// NMS configures de-duplication of overlapping candidates.
	NMS NMSConfig
}

// Channels returns the number of values per candidate: 4 box, 1 score, 3 per keypoint.
func (c PoseConfig) Channels() int {
	return 5 + 3*c.NumKeypoints
}

// DecodePose decodes a channel-major YOLO-pose output of shape [1, Channels, N].
//
// Each candidate carries (cx, cy, w, h, score, kx0, ky0, kc0, ...). Candidates under the
// confidence threshold are dropped, the rest are sorted, de-duplicated with greedy NMS and
// mapped back through the letterbox. Keypoints under KeypointThreshold are reported at (0, 0).
//
// Arguments:
//   - output: The flat output tensor.
//   - config: The tensor layout and thresholds.
//   - box: The letterbox used to produce the model input.
//
// Returns:
//   - []Result: One result per detected person, highest score first. Never nil.
//   - error: An error if the output length does not match the layout.
func DecodePose(output []float32, config PoseConfig, box Letterbox) ([]Result, error) {
	channels := config.Channels()
	if channels <= 5 || len(output)%channels != 0 {
		return nil, fmt.Errorf("pose output of length %d is not a multiple of %d channels", len(output), channels)
	}
	if box.Scale <= 0 {
		return nil, fmt.Errorf("invalid letterbox scale %f", box.Scale)
	}
	anchors := len(output) / channels
	at := func(c, i int) float32 { return output[c*anchors+i] }

	candidates := make([]Result, 0)
	for i := 0; i < anchors; i++ {
		score := at(4, i)
		if math32.IsNaN(score) || score < config.ConfidenceThreshold {
			continue
		}

		cx, cy, w, h := at(0, i), at(1, i), at(2, i), at(3, i)
		candidates = append(candidates, Result{
			Box:   images.Rect{X1: cx - w/2, Y1: cy - h/2, X2: cx + w/2, Y2: cy + h/2},
			Score: score,
			Class: 0,
		})
		kps := make([]Point, config.NumKeypoints)
		for k := 0; k < config.NumKeypoints; k++ {
			base := 5 + 3*k
			kps[k] = Point{X: at(base, i), Y: at(base+1, i), Score: at(base+2, i)}
		}
		candidates[len(candidates)-1].Keypoints = kps
	}

	SortByScore(candidates)
	kept := ApplyGreedyNMS(candidates, &config.NMS)

	results := make([]Result, 0, len(kept))
	for _, r := range kept {
		x1, y1 := box.ToOriginal(r.Box.X1, r.Box.Y1)
		x2, y2 := box.ToOriginal(r.Box.X2, r.Box.Y2)
		r.Box = images.Rect{X1: x1, Y1: y1, X2: x2, Y2: y2}
		for k := range r.Keypoints {
			kp := &r.Keypoints[k]
			if !(kp.Score >= config.KeypointThreshold) {
				kp.X, kp.Y = 0, 0
				continue
			}
			kp.X, kp.Y = box.ToOriginal(kp.X, kp.Y)
		}
		results = append(results, r)
	}
	return results, nil
}
