package logging

import (
	"strings"

	"go.uber.org/zap/zapcore"
)

// TraceLevel sits one step below Debug. The worker logs per-row claim
// details and vector payload sizes at this level.
const TraceLevel = zapcore.DebugLevel - 1

// LevelFromString parses a level name case-insensitively. "trace" maps to
// TraceLevel and an empty name to Info.
func LevelFromString(name string) (zapcore.Level, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	switch name {
	case "":
		return zapcore.InfoLevel, nil
	case "trace":
		return TraceLevel, nil
	}
	return zapcore.ParseLevel(name)
}

func encodeLevel(l zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
	if l == TraceLevel {
		enc.AppendString("trace")
		return
	}
	enc.AppendString(l.String())
}
