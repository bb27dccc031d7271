package config

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Duration is a non-negative time.Duration read from YAML or the
// environment. Besides Go duration syntax it accepts a bare integer as a
// number of seconds, so WAYPOINT_WORKER_INTERVAL=5 works.
type Duration time.Duration

func (d *Duration) UnmarshalText(text []byte) error {
	s := string(text)
	var parsed time.Duration
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		parsed = time.Duration(n) * time.Second
	} else if parsed, err = time.ParseDuration(s); err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	if parsed < 0 {
		return fmt.Errorf("negative duration %q", s)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d Duration) Duration() time.Duration { return time.Duration(d) }

const redacted = "[REDACTED]"

// Secret holds a credential (DSN, API key, password). Every formatting and
// marshaling path prints a redaction marker; only Value returns the text.
type Secret string

func (s Secret) Value() string { return string(s) }
func (s Secret) IsSet() bool   { return s != "" }

func (s Secret) String() string {
	if !s.IsSet() {
		return ""
	}
	return redacted
}

func (s Secret) GoString() string { return "config.Secret(" + redacted + ")" }

func (s Secret) MarshalJSON() ([]byte, error) { return json.Marshal(s.String()) }

func (s Secret) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Secret) UnmarshalText(text []byte) error {
	*s = Secret(text)
	return nil
}
