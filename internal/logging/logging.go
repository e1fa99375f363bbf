package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger constructs a zap logger with the provided level (default info).
// It uses console encoding and ISO8601 timestamps.
func NewLogger(level string) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	zcfg.Encoding = "console"
	lvl := level
	if lvl == "" {
		lvl = "info"
	}
	l, err := zapcore.ParseLevel(lvl)
	if err != nil {
		return nil, fmt.Errorf("parse log level: %w", err)
	}
	zcfg.Level = zap.NewAtomicLevelAt(l)
	zcfg.EncoderConfig.TimeKey = "ts"
	zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	zcfg.EncoderConfig.CallerKey = "caller"
	return zcfg.Build()
}

// Fields bundles common structured fields used across master and worker.
type Fields struct {
	Component string
	JobID     string
	Worker    string
	RequestID string
}

// WithFields attaches standard fields to the logger.
func WithFields(logger *zap.Logger, f Fields) *zap.Logger {
	fields := make([]zap.Field, 0, 4)
	if f.Component != "" {
		fields = append(fields, zap.String("component", f.Component))
	}
	if f.JobID != "" {
		fields = append(fields, zap.String("job_id", f.JobID))
	}
	if f.Worker != "" {
		fields = append(fields, zap.String("worker", f.Worker))
	}
	if f.RequestID != "" {
		fields = append(fields, zap.String("request_id", f.RequestID))
	}
	return logger.With(fields...)
}

// WithComponent attaches a component field.
func WithComponent(logger *zap.Logger, component string) *zap.Logger {
	if component == "" {
		return logger
	}
	return logger.With(zap.String("component", component))
}

// WithJob attaches a job_id field.
func WithJob(logger *zap.Logger, jobID string) *zap.Logger {
	if jobID == "" {
		return logger
	}
	return logger.With(zap.String("job_id", jobID))
}

// WithWorker attaches a worker field.
func WithWorker(logger *zap.Logger, worker string) *zap.Logger {
	if worker == "" {
		return logger
	}
	return logger.With(zap.String("worker", worker))
}

// RedactSecret masks all but a short fingerprint of a shared secret, the
// way the teacher's RedactDSN masked credentials embedded in a DSN.
func RedactSecret(secret string) string {
	if secret == "" {
		return ""
	}
	if len(secret) <= 8 {
		return "***"
	}
	return secret[:4] + "..." + secret[len(secret)-4:] + " (redacted)"
}

// FieldSecret masks secret values entirely.
func FieldSecret(key string) zap.Field {
	return zap.String(key, "***")
}
