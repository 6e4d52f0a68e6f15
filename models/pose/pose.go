// Package pose - Human pose keypoint estimation behind a black-box model.
//
// A Model returns one KeypointSet per detected person with coordinates in the pixel space of
// the image it was given. Estimator wraps a Model together with the outcome of loading it, so
// a model that failed to load degrades into a permanently unavailable component instead of
// stopping the process.
package pose

import (
	"encoding/json"
	"fmt"
	"image"
)

// JointNames lists the COCO-17 joints in the order every KeypointSet uses.
var JointNames = []string{
	"nose",
	"left_eye",
	"right_eye",
	"left_ear",
	"right_ear",
	"left_shoulder",
	"right_shoulder",
	"left_elbow",
	"right_elbow",
	"left_wrist",
	"right_wrist",
	"left_hip",
	"right_hip",
	"left_knee",
	"right_knee",
	"left_ankle",
	"right_ankle",
}

// Keypoint is a single joint's pixel coordinate in the original image.
type Keypoint struct {
	X float32
	Y float32
}

// MarshalJSON encodes the keypoint as an [x, y] pair.
func (k Keypoint) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]float32{k.X, k.Y})
}

// UnmarshalJSON decodes an [x, y] pair.
func (k *Keypoint) UnmarshalJSON(data []byte) error {
	var pair []float32
	if err := json.Unmarshal(data, &pair); err != nil {
		return err
	}
	if len(pair) != 2 {
		return fmt.Errorf("keypoint must have 2 coordinates, got %d", len(pair))
	}
	k.X, k.Y = pair[0], pair[1]
	return nil
}

// KeypointSet is the ordered joints of one detected person.
type KeypointSet []Keypoint

// Joint returns the keypoint for a named joint.
func (s KeypointSet) Joint(name string) (Keypoint, bool) {
	for i, n := range JointNames {
		if n == name && i < len(s) {
			return s[i], true
		}
	}
	return Keypoint{}, false
}

// Model is the capability every pose backend provides.
type Model interface {
	// Estimate returns one KeypointSet per detected person. No detections is an empty slice.
	Estimate(img image.Image) ([]KeypointSet, error)
	// Close releases the model's resources.
	Close() error
}
