package logging

import (
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// TestLogger captures entries at every level, Trace included, so tests can
// assert on what a component logged.
type TestLogger struct {
	*Logger
	logs *observer.ObservedLogs
}

func NewTestLogger() *TestLogger {
	core, logs := observer.New(TraceLevel)
	return &TestLogger{Logger: Wrap(zap.New(core)), logs: logs}
}

// Entries returns everything logged so far.
func (t *TestLogger) Entries() []observer.LoggedEntry { return t.logs.All() }

// AssertLogged fails tb unless some entry at level has a message containing
// substr.
func (t *TestLogger) AssertLogged(tb testing.TB, level zapcore.Level, substr string) {
	tb.Helper()
	if t.find(level, substr) == nil {
		tb.Errorf("no %s entry containing %q among %d entries", level, substr, t.logs.Len())
	}
}

// FieldValue returns the string field key from the first entry whose
// message contains substr.
func (t *TestLogger) FieldValue(substr, key string) (string, bool) {
	for _, e := range t.logs.All() {
		if !strings.Contains(e.Message, substr) {
			continue
		}
		if s, ok := e.ContextMap()[key].(string); ok {
			return s, true
		}
	}
	return "", false
}

func (t *TestLogger) find(level zapcore.Level, substr string) *observer.LoggedEntry {
	for _, e := range t.logs.All() {
		if e.Level == level && strings.Contains(e.Message, substr) {
			return &e
		}
	}
	return nil
}
