// Package secrets redacts credentials from free text, such as error messages
// returned by processes, before that text is persisted or logged.
package secrets

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"
	gitleaksconfig "github.com/zricethezav/gitleaks/v8/config"
	"github.com/zricethezav/gitleaks/v8/detect"
	gitleaksregexp "github.com/zricethezav/gitleaks/v8/regexp"
)

// Redacted replaces every detected secret.
const Redacted = "[REDACTED]"

var (
	// ErrInvalidAllowlist indicates the allowlist file could not be parsed.
	ErrInvalidAllowlist = errors.New("invalid allowlist")
)

// Config controls the scrubber.
type Config struct {
	Disabled      bool
	AllowlistPath string
}

// Finding is one detected secret.
type Finding struct {
	RuleID string
	Line   int
	Secret string
}

// Scrubber detects secrets with the gitleaks default rule set.
// A nil *Scrubber passes text through unchanged.
type Scrubber struct {
	// gitleaks detectors keep per-scan state and are not safe for
	// concurrent use.
	mu       sync.Mutex
	detector *detect.Detector
}

// New builds a scrubber. A disabled config returns nil.
func New(cfg Config) (*Scrubber, error) {
	if cfg.Disabled {
		return nil, nil
	}

	detector, err := detect.NewDetectorDefaultConfig()
	if err != nil {
		return nil, fmt.Errorf("creating gitleaks detector: %w", err)
	}

	if cfg.AllowlistPath != "" {
		patterns, err := LoadAllowlist(cfg.AllowlistPath)
		if err != nil {
			return nil, err
		}
		if len(patterns) > 0 {
			allow := &gitleaksconfig.Allowlist{Description: "waypoint allowlist"}
			for _, re := range patterns {
				allow.Regexes = append(allow.Regexes, (*gitleaksregexp.Regexp)(re))
			}
			detector.Config.Allowlists = append(detector.Config.Allowlists, allow)
		}
	}

	return &Scrubber{detector: detector}, nil
}

// Detect returns the secrets found in text.
func (s *Scrubber) Detect(text string) []Finding {
	if s == nil || text == "" {
		return nil
	}

	s.mu.Lock()
	found := s.detector.DetectString(text)
	s.mu.Unlock()

	out := make([]Finding, 0, len(found))
	for _, f := range found {
		if f.Secret == "" {
			continue
		}
		out = append(out, Finding{RuleID: f.RuleID, Line: f.StartLine, Secret: f.Secret})
	}
	return out
}

// Scrub replaces every detected secret in text with Redacted.
func (s *Scrubber) Scrub(text string) string {
	findings := s.Detect(text)
	if len(findings) == 0 {
		return text
	}

	// Longest first so a secret containing another is replaced whole.
	sort.Slice(findings, func(i, j int) bool {
		return len(findings[i].Secret) > len(findings[j].Secret)
	})
	for _, f := range findings {
		text = strings.ReplaceAll(text, f.Secret, Redacted)
	}
	return text
}

// LoadAllowlist reads a gitleaks-style TOML file:
//
//	[allowlist]
//	regexes = ['''EXAMPLE[0-9]+''']
//
// A missing file yields no patterns.
func LoadAllowlist(path string) ([]*regexp.Regexp, error) {
	var doc struct {
		Allowlist struct {
			Regexes []string `toml:"regexes"`
		} `toml:"allowlist"`
	}

	if _, err := toml.DecodeFile(path, &doc); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidAllowlist, path, err)
	}

	patterns := make([]*regexp.Regexp, 0, len(doc.Allowlist.Regexes))
	for _, p := range doc.Allowlist.Regexes {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("%w: pattern %q in %s: %v", ErrInvalidAllowlist, p, path, err)
		}
		patterns = append(patterns, re)
	}
	return patterns, nil
}
