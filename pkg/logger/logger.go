package logger

import (
	"context"
	"fmt"
	"os"

	"camwatch/pkg/config"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Log is the structured logger; most code uses the printf helpers below.
var Log *zap.Logger
var sugar *zap.SugaredLogger

const (
	defaultTraceID = "0"
	timeLayout     = "2006-01-02 15:04:05.000"
)

func init() {
	dev := zap.NewDevelopmentConfig()
	dev.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	dev.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout(timeLayout)

	l, _ := dev.Build(zap.AddCallerSkip(1))
	replace(l)
}

func replace(l *zap.Logger) {
	Log = l
	sugar = l.Sugar()
}

// Init initializes logger from the global configuration
func Init() error {
	return Setup(config.GlobalConfig.Logger)
}

// Setup builds the global logger from cfg. Unknown levels fall back to info.
func Setup(cfg config.LoggerConfig) error {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	var encoder zapcore.Encoder
	switch cfg.Format {
	case "json":
		// one object per line for CloudWatch Logs and other collectors
		encoder = zapcore.NewJSONEncoder(encoderConfig(zapcore.ISO8601TimeEncoder))
	case "", "console":
		encoder = zapcore.NewConsoleEncoder(encoderConfig(zapcore.TimeEncoderOfLayout(timeLayout)))
	default:
		return fmt.Errorf("unknown log format %q", cfg.Format)
	}

	var sinks []zapcore.WriteSyncer
	if cfg.Output != "file" {
		sinks = append(sinks, zapcore.AddSync(os.Stdout))
	}
	if cfg.Output == "file" || cfg.Output == "both" {
		sinks = append(sinks, zapcore.AddSync(newRotatingFile(cfg.File)))
	}

	core := zapcore.NewCore(encoder, zapcore.NewMultiWriteSyncer(sinks...), zap.NewAtomicLevelAt(level))
	replace(zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1)))
	return nil
}

func encoderConfig(timeEncoder zapcore.TimeEncoder) zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		TimeKey:        "time",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.CapitalLevelEncoder,
		EncodeTime:     timeEncoder,
		EncodeDuration: zapcore.SecondsDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
}

// newRotatingFile returns a size-rotated log file writer
func newRotatingFile(cfg config.LoggerFileConfig) *lumberjack.Logger {
	return &lumberjack.Logger{
		Filename:   cfg.Path,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   true,
	}
}

// Info logs msg with the default trace id
func Info(msg string, fields ...zap.Field) {
	Log.Info(msg, append([]zap.Field{zap.String("trace_id", defaultTraceID)}, fields...)...)
}

// Warn logs msg with the default trace id
func Warn(msg string, fields ...zap.Field) {
	Log.Warn(msg, append([]zap.Field{zap.String("trace_id", defaultTraceID)}, fields...)...)
}

// Infof formats an info line without a context
func Infof(format string, args ...interface{}) {
	sugar.Infof(defaultTraceID+"\t"+format, args...)
}

type traceKey struct{}

// WithTrace returns a context whose log lines are prefixed with id
// (the reconcile cycle id, the HTTP request id).
func WithTrace(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, traceKey{}, id)
}

// getTraceFields retrieves trace-related fields
func getTraceFields(ctx context.Context) string {
	if ctx == nil {
		return defaultTraceID
	}
	if id, ok := ctx.Value(traceKey{}).(string); ok && id != "" {
		return id
	}
	return defaultTraceID
}

func prefixed(ctx context.Context, format string) string {
	return getTraceFields(ctx) + "\t" + format
}

func DebugCtx(ctx context.Context, format string, args ...interface{}) {
	sugar.Debugf(prefixed(ctx, format), args...)
}

func InfoCtx(ctx context.Context, format string, args ...interface{}) {
	sugar.Infof(prefixed(ctx, format), args...)
}

func WarnCtx(ctx context.Context, format string, args ...interface{}) {
	sugar.Warnf(prefixed(ctx, format), args...)
}

func ErrorCtx(ctx context.Context, format string, args ...interface{}) {
	sugar.Errorf(prefixed(ctx, format), args...)
}

func FatalCtx(ctx context.Context, format string, args ...interface{}) {
	sugar.Fatalf(prefixed(ctx, format), args...)
}

// Sync flushes any buffered log entries
func Sync() error {
	return Log.Sync()
}
