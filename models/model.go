// Package models - Registry of pose model backends.
package models

import (
	"fmt"
	"strings"

	"github.com/nvr-ai/go-wardrobe/inference/providers"
	"github.com/nvr-ai/go-wardrobe/models/pose/yolo"
)

// Name is the unique identifier of a pose backend.
type Name string

const (
	// ModelNameYOLOPose is a YOLO-pose ONNX export.
	ModelNameYOLOPose Name = "yolo-pose"
	// ModelNameStatic finds nobody in any image. Useful for running the service without
	// model artifacts.
	ModelNameStatic Name = "static"
)

// Names lists every registered backend.
var Names = []Name{ModelNameYOLOPose, ModelNameStatic}

// ParseName converts a configuration string into a Name.
func ParseName(s string) (Name, error) {
	n := Name(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Names {
		if n == known {
			return n, nil
		}
	}
	return "", fmt.Errorf("unsupported model name: %s", s)
}

// PoseArgs selects and configures a pose backend.
type PoseArgs struct {
	Name     Name
	YOLO     yolo.Config
	Provider providers.Config
}
