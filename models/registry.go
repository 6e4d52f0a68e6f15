package models

import (
	"fmt"

	"github.com/nvr-ai/go-wardrobe/models/pose"
	"github.com/nvr-ai/go-wardrobe/models/pose/yolo"
)

// NewPoseModel creates a pose backend by name.
//
// This factory is the single place new backends are wired in.
//
// Arguments:
//   - args: The backend name and its configuration.
//
// Returns:
//   - pose.Model: The loaded model.
//   - error: An error if the name is unknown or the model fails to load.
//
// Example:
//
// ```go
//
//	m, err := NewPoseModel(PoseArgs{
//	    Name:     ModelNameYOLOPose,
//	    YOLO:     yolo.DefaultConfig(),
//	    Provider: providers.DefaultConfig(),
//	})
//
// ```
func NewPoseModel(args PoseArgs) (pose.Model, error) {
	switch args.Name {
	case ModelNameYOLOPose:
		m, err := yolo.NewModel(args.YOLO, args.Provider)
		if err != nil {
			return nil, err
		}
		return m, nil
	case ModelNameStatic:
		return &pose.StaticModel{}, nil
	default:
		return nil, fmt.Errorf("unsupported model name: %s", args.Name)
	}
}
