package logger

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/wprank/backend/pkg/config"
)

// Log is the process-wide logger. It is a no-op until Init is called so that
// packages and tests can log without any setup.
var Log = zap.NewNop()

// level is shared by every logger built from Log, so SetLevel also reaches
// loggers already stored in contexts.
var level = zap.NewAtomicLevel()

// Init builds Log from cfg. Every entry carries service=wprank.
func Init(cfg config.LoggingConfig) error {
	if err := SetLevel(cfg.Level); err != nil {
		return err
	}

	encoder, err := newEncoder(cfg.Format)
	if err != nil {
		return err
	}

	sink, err := newSink(cfg.OutputPath)
	if err != nil {
		return err
	}

	core := zapcore.NewCore(encoder, sink, level)
	Log = zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1), zap.AddStacktrace(zapcore.ErrorLevel)).
		With(zap.String("service", "wprank"))

	return nil
}

// SetLevel changes the minimum level at runtime.
func SetLevel(name string) error {
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(name)); err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	level.SetLevel(l)
	return nil
}

func newEncoder(format string) (zapcore.Encoder, error) {
	ec := zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		FunctionKey:    zapcore.OmitKey,
		MessageKey:     "message",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.MillisDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	switch format {
	case "json":
		return zapcore.NewJSONEncoder(ec), nil
	case "console", "":
		ec.EncodeLevel = zapcore.CapitalColorLevelEncoder
		return zapcore.NewConsoleEncoder(ec), nil
	default:
		return nil, fmt.Errorf("invalid log format %q", format)
	}
}

func newSink(path string) (zapcore.WriteSyncer, error) {
	switch path {
	case "stdout", "":
		return zapcore.AddSync(os.Stdout), nil
	case "stderr":
		return zapcore.AddSync(os.Stderr), nil
	}

	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return zapcore.AddSync(file), nil
}

// Named returns a child logger for a component. The caller-skip added for the
// package helpers is undone so callers see their own file and line.
func Named(name string) *zap.Logger {
	return direct().Named(name)
}

func direct() *zap.Logger {
	return Log.WithOptions(zap.AddCallerSkip(-1))
}

func Info(msg string, fields ...zap.Field) {
	Log.Info(msg, fields...)
}

func Error(msg string, fields ...zap.Field) {
	Log.Error(msg, fields...)
}

func Debug(msg string, fields ...zap.Field) {
	Log.Debug(msg, fields...)
}

func Warn(msg string, fields ...zap.Field) {
	Log.Warn(msg, fields...)
}

func Fatal(msg string, fields ...zap.Field) {
	Log.Fatal(msg, fields...)
}

func Sync() {
	_ = Log.Sync()
}
