package logging

import (
	"context"
	"errors"
	"fmt"
	"syscall"

	"go.opentelemetry.io/otel/log"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is a zap logger whose methods take a context. Request, tenant,
// execution and trace identifiers carried by the context are attached to
// every entry.
type Logger struct {
	z *zap.Logger
}

// NewLogger builds the process logger. A nil otelProvider leaves the OTel
// bridge off even when cfg.OTel is set.
func NewLogger(cfg *Config, otelProvider log.LoggerProvider) (*Logger, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid logging config: %w", err)
	}
	core, err := newDualCore(cfg, otelProvider)
	if err != nil {
		return nil, fmt.Errorf("building log core: %w", err)
	}
	z := zap.New(core, zapOptions(cfg)...).With(zap.String("service", cfg.Service))
	return &Logger{z: z}, nil
}

func zapOptions(cfg *Config) []zap.Option {
	var opts []zap.Option
	if cfg.StacktraceLevel > zapcore.InfoLevel {
		opts = append(opts, zap.AddStacktrace(cfg.StacktraceLevel))
	}
	if cfg.Caller {
		// Level method + Logger.log.
		opts = append(opts, zap.AddCaller(), zap.AddCallerSkip(2))
	}
	return opts
}

func NewNop() *Logger { return &Logger{z: zap.NewNop()} }

// Wrap adapts a zap logger built elsewhere, such as by zaptest.
func Wrap(z *zap.Logger) *Logger {
	if z == nil {
		return NewNop()
	}
	return &Logger{z: z}
}

func newEncoder(format string) zapcore.Encoder {
	ec := zap.NewProductionEncoderConfig()
	ec.TimeKey = "ts"
	ec.EncodeTime = zapcore.ISO8601TimeEncoder
	ec.EncodeLevel = encodeLevel
	if format == "console" {
		return zapcore.NewConsoleEncoder(ec)
	}
	return zapcore.NewJSONEncoder(ec)
}

func (l *Logger) log(ctx context.Context, level zapcore.Level, msg string, fields []zap.Field) {
	ce := l.z.Check(level, msg)
	if ce == nil {
		return
	}
	ce.Write(append(ContextFields(ctx), fields...)...)
}

func (l *Logger) Trace(ctx context.Context, msg string, fields ...zap.Field) {
	l.log(ctx, TraceLevel, msg, fields)
}

func (l *Logger) Debug(ctx context.Context, msg string, fields ...zap.Field) {
	l.log(ctx, zapcore.DebugLevel, msg, fields)
}

func (l *Logger) Info(ctx context.Context, msg string, fields ...zap.Field) {
	l.log(ctx, zapcore.InfoLevel, msg, fields)
}

func (l *Logger) Warn(ctx context.Context, msg string, fields ...zap.Field) {
	l.log(ctx, zapcore.WarnLevel, msg, fields)
}

func (l *Logger) Error(ctx context.Context, msg string, fields ...zap.Field) {
	l.log(ctx, zapcore.ErrorLevel, msg, fields)
}

func (l *Logger) With(fields ...zap.Field) *Logger { return &Logger{z: l.z.With(fields...)} }

func (l *Logger) Named(name string) *Logger { return &Logger{z: l.z.Named(name)} }

func (l *Logger) Enabled(level zapcore.Level) bool { return l.z.Core().Enabled(level) }

// Underlying exposes the zap logger for packages that take one directly.
func (l *Logger) Underlying() *zap.Logger { return l.z }

// Sync flushes buffered entries. Syncing a terminal or pipe fails with
// EINVAL or ENOTTY on Linux; those are ignored.
func (l *Logger) Sync() error {
	err := l.z.Sync()
	var errno syscall.Errno
	if errors.As(err, &errno) && (errno == syscall.EINVAL || errno == syscall.ENOTTY) {
		return nil
	}
	return err
}
