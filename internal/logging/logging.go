// Package logging wires the process-wide loggers. Most packages use
// log/slog directly, the way the teacher does throughout server/images.go
// (slog.Error/slog.Info with key-value pairs). internal/coordinator, which
// emits structured per-request and startup-fan-out fields at high volume,
// uses zap's field-typed API instead and writes to the same destination
// and level, so operators see one interleaved, chronologically ordered
// log regardless of which API produced a given line.
package logging

import (
	"log/slog"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Setup installs the process-wide slog default handler for format
// ("text" or "json") and returns a zap.Logger configured against the
// same writer and an equivalent level, for subsystems that prefer zap's
// structured fields.
func Setup(format string) *zap.Logger {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	var handler slog.Handler
	var encoder zapcore.Encoder
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
		encoder = zapcore.NewJSONEncoder(encCfg)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
		encoder = zapcore.NewConsoleEncoder(encCfg)
	}
	slog.SetDefault(slog.New(handler))

	core := zapcore.NewCore(encoder, zapcore.AddSync(os.Stderr), zapcore.InfoLevel)
	return zap.New(core)
}
