package logging

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"syscall"

	"go.opentelemetry.io/contrib/bridges/otelzap"
	"go.opentelemetry.io/otel/log"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const otelScope = "github.com/fyrsmithlabs/council"

// New builds a logger from cfg. otelProvider may be nil.
func New(cfg *Config, otelProvider log.LoggerProvider) (*zap.Logger, error) {
	if cfg == nil {
		cfg = NewDefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid logging config: %w", err)
	}
	return build(cfg, zapcore.Lock(os.Stdout), otelProvider), nil
}

func build(cfg *Config, out zapcore.WriteSyncer, otelProvider log.LoggerProvider) *zap.Logger {
	var enc zapcore.Encoder = newEncoder(cfg.Format)
	if cfg.Redaction.Enabled {
		enc = newRedactingEncoder(enc, cfg.Redaction.Keys)
	}
	core := zapcore.NewCore(enc, out, cfg.Level)
	if cfg.OTel && otelProvider != nil {
		core = zapcore.NewTee(core, otelzap.NewCore(otelScope, otelzap.WithLoggerProvider(otelProvider)))
	}
	core = newSampledCore(core, cfg.Sampling)

	logger := zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))

	keys := make([]string, 0, len(cfg.Fields))
	for k := range cfg.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		logger = logger.With(zap.String(k, cfg.Fields[k]))
	}
	return logger
}

func newEncoder(format string) zapcore.Encoder {
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderCfg.EncodeLevel = encodeLevel

	if format == "console" {
		return zapcore.NewConsoleEncoder(encoderCfg)
	}
	return zapcore.NewJSONEncoder(encoderCfg)
}

func encodeLevel(l zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
	if l == TraceLevel {
		enc.AppendString("trace")
		return
	}
	zapcore.LowercaseLevelEncoder(l, enc)
}

// Sync flushes the logger, ignoring the EINVAL/ENOTTY that syncing a
// terminal returns on Linux.
func Sync(logger *zap.Logger) error {
	err := logger.Sync()
	var errno syscall.Errno
	if errors.As(err, &errno) && (errno == syscall.EINVAL || errno == syscall.ENOTTY) {
		return nil
	}
	return err
}
