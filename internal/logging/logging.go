package logging

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config contains logging configuration
type Config struct {
	// Level is one of debug, info, warn, error.
	Level    string `yaml:"level" validate:"oneof=debug info warn error"`
	Encoding string `yaml:"encoding" validate:"oneof=json console"`

	Development bool `yaml:"development"`

	// OutputPath is "stdout", "stderr" or a file path. Files are rotated.
	OutputPath string `yaml:"output_path"`

	// Rotation settings
	MaxSizeMB  int  `yaml:"max_size_mb" validate:"gte=0"`
	MaxBackups int  `yaml:"max_backups" validate:"gte=0"`
	MaxAgeDays int  `yaml:"max_age_days" validate:"gte=0"`
	Compress   bool `yaml:"compress"`

	DisableCaller     bool `yaml:"disable_caller"`
	DisableStacktrace bool `yaml:"disable_stacktrace"`
}

// DefaultConfig returns default logging configuration
func DefaultConfig() Config {
	return Config{
		Level:      "info",
		Encoding:   "console",
		OutputPath: "stderr",
		MaxSizeMB:  100,
		MaxBackups: 7,
		MaxAgeDays: 30,
		Compress:   true,
	}
}

// New builds the root logger described by config.
func New(config Config) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(config.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}

	writer, err := buildWriter(config)
	if err != nil {
		return nil, err
	}

	encoderConfig := buildEncoderConfig(config)
	var encoder zapcore.Encoder
	if config.Encoding == "json" {
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	} else {
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	}

	core := zapcore.NewCore(encoder, writer, level)
	return zap.New(core, buildOptions(config)...), nil
}

// buildEncoderConfig builds the encoder configuration
func buildEncoderConfig(config Config) zapcore.EncoderConfig {
	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		FunctionKey:    zapcore.OmitKey,
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	if config.Development && config.Encoding != "json" {
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	if config.DisableCaller {
		encoderConfig.CallerKey = zapcore.OmitKey
	}
	if config.DisableStacktrace {
		encoderConfig.StacktraceKey = zapcore.OmitKey
	}

	return encoderConfig
}

func buildWriter(config Config) (zapcore.WriteSyncer, error) {
	switch config.OutputPath {
	case "", "stderr":
		return zapcore.Lock(os.Stderr), nil
	case "stdout":
		return zapcore.Lock(os.Stdout), nil
	}

	if err := os.MkdirAll(filepath.Dir(config.OutputPath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	fileWriter := zapcore.AddSync(&lumberjack.Logger{
		Filename:   config.OutputPath,
		MaxSize:    config.MaxSizeMB,
		MaxBackups: config.MaxBackups,
		MaxAge:     config.MaxAgeDays,
		Compress:   config.Compress,
	})
	if config.Development {
		return zapcore.NewMultiWriteSyncer(fileWriter, zapcore.Lock(os.Stderr)), nil
	}
	return fileWriter, nil
}

// buildOptions builds logger options
func buildOptions(config Config) []zap.Option {
	var options []zap.Option
	if !config.DisableCaller {
		options = append(options, zap.AddCaller())
	}
	if !config.DisableStacktrace {
		options = append(options, zap.AddStacktrace(zapcore.ErrorLevel))
	}
	if config.Development {
		options = append(options, zap.Development())
	}
	return options
}

// WithComponent adds component context
func WithComponent(logger *zap.Logger, component string) *zap.Logger {
	return logger.Named(component).With(zap.String("component", component))
}
