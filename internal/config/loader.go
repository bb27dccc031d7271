package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "WAYPOINT_"

const maxConfigFileSize = 1 << 20

// nestedSections lists sub-sections whose fields can be addressed from the
// environment, e.g. WAYPOINT_VECTORSTORE_QDRANT_HOST -> vectorstore.qdrant.host.
var nestedSections = map[string][]string{
	"vectorstore": {"chromem", "qdrant", "milvus", "pgvector"},
}

// listKeys are split on commas when read from the environment.
var listKeys = map[string]bool{
	"vectorstore.dimensions": true,
}

// LoadWithFile layers defaults, the YAML file at configPath and WAYPOINT_*
// environment variables, in increasing precedence, and validates the result.
// An empty configPath means ~/.config/waypoint/config.yaml. A missing file is
// not an error.
//
// The file must live under ~/.config/waypoint/ or /etc/waypoint/ (after
// resolving symlinks), be mode 0600 or 0400, and be at most 1MiB.
//
// Environment keys drop the prefix; the first underscore splits section
// from field, and the sub-sections in nestedSections take one more:
//
//	WAYPOINT_SERVER_HTTP_PORT        -> server.http_port
//	WAYPOINT_WORKER_BATCH_SIZE       -> worker.batch_size
//	WAYPOINT_VECTORSTORE_QDRANT_HOST -> vectorstore.qdrant.host
//	WAYPOINT_VECTORSTORE_DIMENSIONS  -> vectorstore.dimensions (comma separated)
func LoadWithFile(configPath string) (*Config, error) {
	if configPath == "" {
		dir, err := userConfigDir()
		if err != nil {
			return nil, err
		}
		configPath = filepath.Join(dir, "config.yaml")
	}
	if err := checkConfigLocation(configPath); err != nil {
		return nil, fmt.Errorf("config path validation failed: %w", err)
	}

	k := koanf.New(".")

	raw, err := readConfigFile(configPath)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, err
	default:
		if err := k.Load(rawbytes.Provider(raw), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.ProviderWithValue(EnvPrefix, ".", envTransform), nil); err != nil {
		return nil, fmt.Errorf("reading environment: %w", err)
	}

	cfg := new(Config)
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// Default returns the configuration with nothing loaded.
func Default() *Config {
	cfg := new(Config)
	applyDefaults(cfg)
	return cfg
}

// readConfigFile checks mode and size on the open descriptor, so the file
// cannot be swapped between the check and the read.
func readConfigFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		return nil, fmt.Errorf("opening config file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat config file: %w", err)
	}
	if runtime.GOOS != "windows" {
		if perm := info.Mode().Perm(); perm != 0o600 && perm != 0o400 {
			return nil, fmt.Errorf("insecure config file permissions %v on %s, want 0600 or 0400", perm, path)
		}
	}
	if info.Size() > maxConfigFileSize {
		return nil, fmt.Errorf("config file %s is %d bytes, limit %d", path, info.Size(), maxConfigFileSize)
	}
	return io.ReadAll(io.LimitReader(f, maxConfigFileSize))
}

func userConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".config", "waypoint"), nil
}

// checkConfigLocation rejects paths outside the allowed directories. The
// file itself need not exist.
func checkConfigLocation(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}
	userDir, err := userConfigDir()
	if err != nil {
		return err
	}
	for _, dir := range []string{userDir, "/etc/waypoint"} {
		if rel, err := filepath.Rel(dir, abs); err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return nil
		}
	}
	return fmt.Errorf("%s is outside ~/.config/waypoint and /etc/waypoint", path)
}

// envTransform maps WAYPOINT_SECTION_FIELD to section.field.
func envTransform(key, value string) (string, any) {
	trimmed := strings.ToLower(strings.TrimPrefix(key, EnvPrefix))
	section, field, ok := strings.Cut(trimmed, "_")
	if !ok {
		return trimmed, value
	}

	path := section + "." + field
	for _, sub := range nestedSections[section] {
		if rest, ok := strings.CutPrefix(field, sub+"_"); ok {
			path = section + "." + sub + "." + rest
			break
		}
	}
	if !listKeys[path] {
		return path, value
	}
	items := strings.Split(value, ",")
	for i, item := range items {
		items[i] = strings.TrimSpace(item)
	}
	return path, items
}

// ExpandPath replaces a leading ~ with the user's home directory.
func ExpandPath(path string) (string, error) {
	rest, ok := strings.CutPrefix(path, "~")
	if !ok || (rest != "" && rest[0] != '/') {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, rest), nil
}
