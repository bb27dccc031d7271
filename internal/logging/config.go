package logging

import (
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/fyrsmithlabs/waypoint/internal/config"
	"go.uber.org/zap/zapcore"
)

// maxPatternLen bounds redaction regexes supplied by operators.
const maxPatternLen = 200

// Config controls the process logger. Services build it from the
// observability section with ConfigFromSettings.
type Config struct {
	Level   zapcore.Level
	Format  string // "json" or "console"
	Service string

	Stdout bool
	OTel   bool

	Caller          bool
	StacktraceLevel zapcore.Level

	Sampling  Sampling
	Redaction Redaction
}

// Sampling thins repetitive entries per level within each Tick. Error and
// above are never sampled.
type Sampling struct {
	Enabled bool
	Tick    time.Duration
	Rates   map[zapcore.Level]Rate
}

// Rate keeps the first Initial entries of a level per tick and then every
// Thereafter-th one. Thereafter zero drops the rest.
type Rate struct {
	Initial    int
	Thereafter int
}

// Redaction masks values under sensitive Keys and any text matching
// Patterns on the stdout encoder.
type Redaction struct {
	Keys     []string
	Patterns []string
}

func (r Redaction) enabled() bool {
	return len(r.Keys) > 0 || len(r.Patterns) > 0
}

// NewDefaultConfig returns the production configuration: JSON on stdout,
// Info and up, per-level sampling, and redaction of credentials and DSNs.
func NewDefaultConfig() *Config {
	return &Config{
		Level:           zapcore.InfoLevel,
		Format:          "json",
		Service:         "waypoint",
		Stdout:          true,
		Caller:          true,
		StacktraceLevel: zapcore.ErrorLevel,
		Sampling: Sampling{
			Enabled: true,
			Tick:    time.Second,
			Rates:   defaultRates(),
		},
		Redaction: Redaction{
			Keys: []string{
				"password", "secret", "token", "api_key",
				"authorization", "dsn", "credential",
			},
			Patterns: []string{
				`(?i)bearer\s+\S+`,
				`(?i)api[_-]?key[=:]\s*\S+`,
				`(?i)postgres(ql)?://[^:\s]+:[^@\s]+@`,
			},
		},
	}
}

// defaultRates keeps worker tick chatter at Trace and Debug from flooding
// output while leaving warnings mostly intact.
func defaultRates() map[zapcore.Level]Rate {
	return map[zapcore.Level]Rate{
		TraceLevel:         {Initial: 1},
		zapcore.DebugLevel: {Initial: 10},
		zapcore.InfoLevel:  {Initial: 100, Thereafter: 10},
		zapcore.WarnLevel:  {Initial: 100, Thereafter: 100},
	}
}

// ConfigFromSettings derives the logger configuration from the service's
// observability settings.
func ConfigFromSettings(obs config.ObservabilityConfig) (*Config, error) {
	cfg := NewDefaultConfig()

	level, err := LevelFromString(obs.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", obs.LogLevel, err)
	}
	cfg.Level = level

	if obs.LogFormat != "" {
		cfg.Format = obs.LogFormat
	}
	if obs.ServiceName != "" {
		cfg.Service = obs.ServiceName
	}
	cfg.OTel = obs.EnableTelemetry
	return cfg, cfg.Validate()
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch {
	case c.Format != "json" && c.Format != "console":
		return fmt.Errorf("format must be json or console, got %q", c.Format)
	case !c.Stdout && !c.OTel:
		return errors.New("at least one output (stdout or otel) must be enabled")
	case c.Service == "":
		return errors.New("service name is required")
	case c.Sampling.Enabled && c.Sampling.Tick <= 0:
		return errors.New("sampling tick must be positive")
	}
	for _, p := range c.Redaction.Patterns {
		if _, err := compilePattern(p); err != nil {
			return err
		}
	}
	return nil
}

func compilePattern(p string) (*regexp.Regexp, error) {
	if len(p) > maxPatternLen {
		return nil, fmt.Errorf("redaction pattern longer than %d chars: %q", maxPatternLen, p)
	}
	re, err := regexp.Compile(p)
	if err != nil {
		return nil, fmt.Errorf("invalid redaction pattern %q: %w", p, err)
	}
	return re, nil
}
