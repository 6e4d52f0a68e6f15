// Package config loads the service configuration from defaults, an optional YAML file and
// WARDROBE_ prefixed environment variables, in that order of precedence.
package config

import (
	"strings"
	"time"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/pkg/errors"

	"github.com/nvr-ai/go-wardrobe/inference/providers"
	"github.com/nvr-ai/go-wardrobe/logger"
	"github.com/nvr-ai/go-wardrobe/models"
	"github.com/nvr-ai/go-wardrobe/models/garment"
	"github.com/nvr-ai/go-wardrobe/models/pose/yolo"
)

// EnvPrefix prefixes every environment override. WARDROBE_POSE_MODELPATH sets pose.modelpath.
const EnvPrefix = "WARDROBE_"

// ServerConfig defines HTTP server configurations.
type ServerConfig struct {
	Host string `koanf:"host"`
	Port int    `koanf:"port"`
	// MaxUploadBytes bounds the multipart request body.
	MaxUploadBytes  int64         `koanf:"maxuploadbytes"`
	ReadTimeout     time.Duration `koanf:"readtimeout"`
	WriteTimeout    time.Duration `koanf:"writetimeout"`
	ShutdownTimeout time.Duration `koanf:"shutdowntimeout"`
}

// PoseConfig selects the pose backend. The YOLO settings sit directly under pose.
type PoseConfig struct {
	Model       string `koanf:"model"`
	yolo.Config `koanf:",squash"`
}

// AppConfig is the whole configuration tree.
type AppConfig struct {
	Server  ServerConfig     `koanf:"server"`
	Log     logger.Config    `koanf:"log"`
	Runtime providers.Config `koanf:"runtime"`
	Pose    PoseConfig       `koanf:"pose"`
	Garment garment.Config   `koanf:"garment"`
}

// PoseArgs returns the arguments for models.NewPoseModel.
func (c AppConfig) PoseArgs() (models.PoseArgs, error) {
	name, err := models.ParseName(c.Pose.Model)
	if err != nil {
		return models.PoseArgs{}, err
	}
	return models.PoseArgs{Name: name, YOLO: c.Pose.Config, Provider: c.Runtime}, nil
}

// Default returns the configuration used when nothing is overridden.
func Default() AppConfig {
	return AppConfig{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8000,
			MaxUploadBytes:  32 << 20,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Log:     logger.DefaultConfig(),
		Runtime: providers.DefaultConfig(),
		Pose: PoseConfig{
			Model:  string(models.ModelNameYOLOPose),
			Config: yolo.DefaultConfig(),
		},
		Garment: garment.DefaultConfig(),
	}
}

// defaults flattens Default into koanf keys.
func defaults() map[string]any {
	d := Default()
	return map[string]any{
		"server.host":            d.Server.Host,
		"server.port":            d.Server.Port,
		"server.maxuploadbytes":  d.Server.MaxUploadBytes,
		"server.readtimeout":     d.Server.ReadTimeout,
		"server.writetimeout":    d.Server.WriteTimeout,
		"server.shutdowntimeout": d.Server.ShutdownTimeout,

		"log.level":      d.Log.Level,
		"log.debug":      d.Log.Debug,
		"log.file":       d.Log.File,
		"log.maxsize":    d.Log.MaxSize,
		"log.maxbackups": d.Log.MaxBackups,
		"log.maxage":     d.Log.MaxAge,
		"log.compress":   d.Log.Compress,

		"runtime.backend":           d.Runtime.Backend,
		"runtime.librarypath":       d.Runtime.LibraryPath,
		"runtime.graphoptimization": d.Runtime.GraphOptimization,
		"runtime.parallelexecution": d.Runtime.ParallelExecution,
		"runtime.intraopthreads":    d.Runtime.IntraOpThreads,
		"runtime.interopthreads":    d.Runtime.InterOpThreads,

		"pose.model":               d.Pose.Model,
		"pose.modelpath":           d.Pose.ModelPath,
		"pose.inputsize":           d.Pose.InputSize,
		"pose.numkeypoints":        d.Pose.NumKeypoints,
		"pose.anchors":             d.Pose.Anchors,
		"pose.confidencethreshold": d.Pose.ConfidenceThreshold,
		"pose.keypointthreshold":   d.Pose.KeypointThreshold,
		"pose.iouthreshold":        d.Pose.IoUThreshold,
		"pose.inputname":           d.Pose.InputName,
		"pose.outputname":          d.Pose.OutputName,

		"garment.backbone.modelpath":              d.Garment.Backbone.ModelPath,
		"garment.backbone.inputname":              d.Garment.Backbone.InputName,
		"garment.backbone.outputname":             d.Garment.Backbone.OutputName,
		"garment.weightsdir":                      d.Garment.WeightsDir,
		"garment.architecture.inputsize":          d.Garment.Architecture.InputSize,
		"garment.architecture.backbonedim":        d.Garment.Architecture.BackboneDim,
		"garment.architecture.projectiondim":      d.Garment.Architecture.ProjectionDim,
		"garment.architecture.headwidths":         d.Garment.Architecture.HeadWidths,
		"garment.architecture.numclasses":         d.Garment.Architecture.NumClasses,
		"garment.architecture.dropout":            d.Garment.Architecture.Dropout,
		"garment.architecture.batchnormeps":       d.Garment.Architecture.BatchNormEps,
		"garment.freeze.trainablebackbonetensors": d.Garment.Freeze.TrainableBackboneTensors,
	}
}

// Load reads the configuration.
//
// Arguments:
//   - filePath: A YAML file. Empty skips the file.
//
// Returns:
//   - AppConfig: The merged and validated configuration.
//   - error: An error if a source cannot be read or the result is invalid.
func Load(filePath string) (AppConfig, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return AppConfig{}, errors.Wrap(err, "error loading defaults")
	}

	if filePath != "" {
		if err := k.Load(file.Provider(filePath), yaml.Parser()); err != nil {
			return AppConfig{}, errors.Wrapf(err, "error loading config file %s", filePath)
		}
	}

	if err := k.Load(env.ProviderWithValue(EnvPrefix, ".", func(s string, v string) (string, any) {
		key := strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "_", ".")
		if strings.Contains(v, ",") {
			return key, strings.Split(strings.TrimSpace(v), ",")
		}
		return key, v
	}), nil); err != nil {
		return AppConfig{}, errors.Wrap(err, "error loading environment")
	}

	var config AppConfig
	if err := k.Unmarshal("", &config); err != nil {
		return AppConfig{}, errors.Wrap(err, "error decoding config")
	}

	return config, config.Validate()
}

// Validate checks every section.
func (c AppConfig) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return errors.Errorf("server.port out of range: %d", c.Server.Port)
	}
	if c.Server.MaxUploadBytes <= 0 {
		return errors.New("server.maxuploadbytes must be positive")
	}
	if err := c.Log.Validate(); err != nil {
		return errors.Wrap(err, "log")
	}
	if err := c.Runtime.Validate(); err != nil {
		return errors.Wrap(err, "runtime")
	}
	if _, err := models.ParseName(c.Pose.Model); err != nil {
		return errors.Wrap(err, "pose")
	}
	if err := c.Garment.Validate(); err != nil {
		return errors.Wrap(err, "garment")
	}
	return nil
}
