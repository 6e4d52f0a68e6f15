// Package logger builds the zap logger shared by the commands.
package logger

import (
	"os"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config controls the log level, encoders and the optional rotating file sink.
type Config struct {
	// Level is the minimum level: debug, info, warn or error.
	Level string `koanf:"level"`
	// Debug switches to the development encoder config.
	Debug bool `koanf:"debug"`
	// File enables a rotating JSON log file when set.
	File string `koanf:"file"`
	// MaxSize is the size in megabytes at which the file is rotated.
	MaxSize int `koanf:"maxsize"`
	// MaxBackups is the number of rotated files kept.
	MaxBackups int `koanf:"maxbackups"`
	// MaxAge is the number of days rotated files are kept.
	MaxAge int `koanf:"maxage"`
	// Compress gzips rotated files.
	Compress bool `koanf:"compress"`
}

// DefaultConfig returns info level logging to stdout/stderr with no file sink.
func DefaultConfig() Config {
	return Config{
		Level:      "info",
		MaxSize:    10,
		MaxBackups: 5,
		MaxAge:     7,
		Compress:   true,
	}
}

// ParseLevel parses a level name. Empty means info.
func ParseLevel(s string) (zapcore.Level, error) {
	if s == "" {
		return zapcore.InfoLevel, nil
	}
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(strings.ToLower(s))); err != nil {
		return level, errors.Errorf("unknown log level %q", s)
	}
	return level, nil
}

// Validate checks the level and rotation settings.
func (c Config) Validate() error {
	if _, err := ParseLevel(c.Level); err != nil {
		return err
	}
	if c.File != "" && (c.MaxSize < 0 || c.MaxBackups < 0 || c.MaxAge < 0) {
		return errors.New("log rotation settings must not be negative")
	}
	return nil
}

// New builds a logger from config.
//
// Debug and info entries go to stdout, warn and above to stderr. When File is set every entry
// at or above the level is also written to a lumberjack rotated file.
//
// Arguments:
//   - config: The logging configuration.
//
// Returns:
//   - *zap.Logger: The logger.
//   - error: An error if the level is unknown.
func New(config Config) (*zap.Logger, error) {
	return newWithSyncers(config, zapcore.Lock(os.Stdout), zapcore.Lock(os.Stderr))
}

func newWithSyncers(config Config, stdout, stderr zapcore.WriteSyncer) (*zap.Logger, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	threshold, _ := ParseLevel(config.Level)

	encoderConfig := zap.NewProductionEncoderConfig()
	if config.Debug {
		encoderConfig = zap.NewDevelopmentEncoderConfig()
	}
	encoder := zapcore.NewJSONEncoder(encoderConfig)

	lowLevel := zap.LevelEnablerFunc(func(level zapcore.Level) bool {
		return level >= threshold && level < zapcore.WarnLevel
	})
	highLevel := zap.LevelEnablerFunc(func(level zapcore.Level) bool {
		return level >= threshold && level >= zapcore.WarnLevel
	})

	cores := []zapcore.Core{
		zapcore.NewCore(encoder, stdout, lowLevel),
		zapcore.NewCore(encoder.Clone(), stderr, highLevel),
	}
	if config.File != "" {
		rotator := &lumberjack.Logger{
			Filename:   config.File,
			MaxSize:    config.MaxSize,
			MaxBackups: config.MaxBackups,
			MaxAge:     config.MaxAge,
			Compress:   config.Compress,
		}
		cores = append(cores, zapcore.NewCore(
			zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()),
			zapcore.AddSync(rotator),
			zap.NewAtomicLevelAt(threshold),
		))
	}

	options := []zap.Option{zap.AddCaller()}
	if config.Debug {
		options = append(options, zap.Development())
	}
	return zap.New(zapcore.NewTee(cores...), options...), nil
}
