package logging

import (
	"go.uber.org/zap/zapcore"
)

// newSampledCore samples each configured level independently. Levels
// without an entry, and Error and above, are never sampled.
func newSampledCore(core zapcore.Core, cfg Sampling) zapcore.Core {
	if !cfg.Enabled || len(cfg.Rates) == 0 {
		return core
	}

	cores := make([]zapcore.Core, 0, len(cfg.Rates)+1)
	for lvl, rate := range cfg.Rates {
		if lvl >= zapcore.ErrorLevel {
			continue
		}
		only := &levelGateCore{Core: core, allow: func(l zapcore.Level) bool { return l == lvl }}
		cores = append(cores, zapcore.NewSamplerWithOptions(only, cfg.Tick, rate.Initial, rate.Thereafter))
	}

	cores = append(cores, &levelGateCore{Core: core, allow: func(l zapcore.Level) bool {
		if l >= zapcore.ErrorLevel {
			return true
		}
		_, sampled := cfg.Rates[l]
		return !sampled
	}})

	return zapcore.NewTee(cores...)
}

// levelGateCore admits only the levels allow accepts.
type levelGateCore struct {
	zapcore.Core
	allow func(zapcore.Level) bool
}

func (c *levelGateCore) Enabled(lvl zapcore.Level) bool {
	return c.allow(lvl) && c.Core.Enabled(lvl)
}

func (c *levelGateCore) Check(e zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if !c.allow(e.Level) {
		return ce
	}
	return c.Core.Check(e, ce)
}

func (c *levelGateCore) With(fields []zapcore.Field) zapcore.Core {
	return &levelGateCore{Core: c.Core.With(fields), allow: c.allow}
}
