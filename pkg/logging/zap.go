package logging

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ZapConfig selects the zap backend behind the host loggers.
type ZapConfig struct {
	Level      string `yaml:"level"`  // "debug", "info", "warn", "error"
	Format     string `yaml:"format"` // "json", "console"
	Output     string `yaml:"output"` // "stdout", "stderr", or a file path
	Caller     bool   `yaml:"caller"`
	Stacktrace bool   `yaml:"stacktrace"`
}

func DefaultZapConfig() ZapConfig {
	return ZapConfig{
		Level:      "info",
		Format:     "console",
		Output:     "stdout",
		Caller:     false,
		Stacktrace: true,
	}
}

// ZapBackend turns a sugared zap logger into LogFuncs so that every prefix
// logger in the host, and the hsu-core logger, share one sink.
type ZapBackend struct {
	logger *zap.Logger
	sugar  *zap.SugaredLogger
	output *os.File
}

func NewZapBackend(config ZapConfig) (*ZapBackend, error) {
	level, err := ParseLevel(config.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "timestamp"
	encoderConfig.EncodeTime = zapcore.RFC3339TimeEncoder
	encoderConfig.LevelKey = "level"
	encoderConfig.EncodeLevel = zapcore.LowercaseLevelEncoder

	var encoder zapcore.Encoder
	switch config.Format {
	case "json":
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	default:
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	}

	backend := &ZapBackend{}

	var writeSyncer zapcore.WriteSyncer
	switch config.Output {
	case "stdout", "":
		writeSyncer = zapcore.Lock(zapcore.AddSync(os.Stdout))
	case "stderr":
		writeSyncer = zapcore.Lock(zapcore.AddSync(os.Stderr))
	default:
		file, err := os.OpenFile(config.Output, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log output %s: %w", config.Output, err)
		}
		backend.output = file
		writeSyncer = zapcore.Lock(zapcore.AddSync(file))
	}

	core := zapcore.NewCore(encoder, writeSyncer, level)

	// Skip logger.logf and the LogFuncs indirection.
	opts := []zap.Option{zap.AddCallerSkip(3)}
	if config.Caller {
		opts = append(opts, zap.AddCaller())
	}
	if config.Stacktrace {
		opts = append(opts, zap.AddStacktrace(zapcore.ErrorLevel))
	}

	backend.logger = zap.New(core, opts...)
	backend.sugar = backend.logger.Sugar()
	return backend, nil
}

func (z *ZapBackend) Debugf(format string, args ...interface{}) { z.sugar.Debugf(format, args...) }
func (z *ZapBackend) Infof(format string, args ...interface{})  { z.sugar.Infof(format, args...) }
func (z *ZapBackend) Warnf(format string, args ...interface{})  { z.sugar.Warnf(format, args...) }
func (z *ZapBackend) Errorf(format string, args ...interface{}) { z.sugar.Errorf(format, args...) }

// Funcs exposes the backend in the shape NewLogger expects.
func (z *ZapBackend) Funcs() LogFuncs {
	return LogFuncs{
		Debugf: z.Debugf,
		Infof:  z.Infof,
		Warnf:  z.Warnf,
		Errorf: z.Errorf,
	}
}

// Sync flushes buffered entries and closes a file output.
func (z *ZapBackend) Sync() error {
	err := z.logger.Sync()
	if z.output != nil {
		if closeErr := z.output.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
		z.output = nil
	}
	return err
}

// ParseLevel maps a level name to zapcore.Level; zap v1.20 has no
// zapcore.ParseLevel.
func ParseLevel(levelStr string) (zapcore.Level, error) {
	switch levelStr {
	case "debug":
		return zap.DebugLevel, nil
	case "info", "":
		return zap.InfoLevel, nil
	case "warn":
		return zap.WarnLevel, nil
	case "error":
		return zap.ErrorLevel, nil
	default:
		return zap.InfoLevel, fmt.Errorf("invalid log level: %s", levelStr)
	}
}
