// Package postprocess - Postprocessing utilities for models.
package postprocess

import "github.com/nvr-ai/go-wardrobe/images"

// Point is a single keypoint in pixel space with the model's visibility confidence.
type Point struct {
	X     float32
	Y     float32
	Score float32
}

// Result represents a single detection result.
type Result struct {
	// The bounding box of the result.
	Box images.Rect
	// The confidence score of the result.
	Score float32
	// The predicted class index of the result.
	Class int
	// Keypoints attached to the detection, in joint order. Empty for plain detectors.
	Keypoints []Point
}
