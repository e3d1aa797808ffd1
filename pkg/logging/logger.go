package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options configures the root logger.
type Options struct {
	Level         string // debug, info, warn, error
	Format        string // json, console
	Output        string // stdout, stderr, file path
	IncludeCaller bool
	Quiet         bool
	Sampling      SamplingOptions
}

// SamplingOptions mirrors zap.SamplingConfig: once Initial messages of a
// given level+message have been logged within a second, only every
// Thereafter'th one after that is kept. Grounded on loggingConfig.Sampling.
type SamplingOptions struct {
	Enabled    bool
	Initial    int
	Thereafter int
}

// New builds the process-wide structured logger. There is no global logger
// instance in this module; New is called once in cmd/mcpbridge and the
// result is threaded explicitly through every component, per the "no shared
// globals besides the logger configured at startup" design note.
func New(opts Options) (*zap.Logger, error) {
	if opts.Quiet {
		return zap.NewNop(), nil
	}

	var level zapcore.Level
	if opts.Level == "" {
		opts.Level = "info"
	}

	if err := level.UnmarshalText([]byte(opts.Level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", opts.Level, err)
	}

	encoding := opts.Format
	if encoding == "" {
		encoding = "json"
	}

	output := opts.Output
	if output == "" {
		output = "stderr"
	}

	cfg := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Development:      false,
		Encoding:         encoding,
		EncoderConfig:    zap.NewProductionEncoderConfig(),
		OutputPaths:      []string{output},
		ErrorOutputPaths: []string{"stderr"},
	}

	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	if opts.IncludeCaller {
		cfg.EncoderConfig.CallerKey = "caller"
		cfg.EncoderConfig.EncodeCaller = zapcore.ShortCallerEncoder
	} else {
		cfg.EncoderConfig.CallerKey = ""
	}

	if opts.Sampling.Enabled {
		cfg.Sampling = &zap.SamplingConfig{
			Initial:    opts.Sampling.Initial,
			Thereafter: opts.Sampling.Thereafter,
		}
	}

	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}

	return logger, nil
}
