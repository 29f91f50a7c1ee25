package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

// maxConfigFileSize caps how much of a config file the loader will read.
const maxConfigFileSize = 1 << 20

// envPrefix namespaces relayd environment overrides.
const envPrefix = "RELAY_"

// systemConfigDir is the machine-wide config location.
const systemConfigDir = "/etc/relay"

// LoadWithFile loads configuration from a YAML file, then overrides with
// RELAY_* environment variables.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (RELAY_SERVER_PORT, RELAY_EVENTS_URL, ...)
//  2. YAML config file (~/.config/relay/config.yaml)
//  3. Defaults (NewDefaultConfig)
//
// The configPath parameter specifies the YAML file to load. If empty, the
// default path is used.
//
// # Security Considerations
//
// The config file may carry agent API keys, so weak permissions are
// rejected: the file must be 0600 or 0400. Only files under
// ~/.config/relay/ or /etc/relay/ can be loaded, and files larger than
// 1MB are rejected.
func LoadWithFile(configPath string) (*Config, error) {
	if configPath == "" {
		dir, err := userConfigDir()
		if err != nil {
			return nil, err
		}
		configPath = filepath.Join(dir, "config.yaml")
	}

	// The path is checked even when the file does not exist yet.
	if err := checkConfigPath(configPath); err != nil {
		return nil, fmt.Errorf("config path validation failed: %w", err)
	}

	k := koanf.New(".")

	content, err := readConfigFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("config file validation failed: %w", err)
	}
	if content != nil {
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", envToKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := NewDefaultConfig()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// envToKey maps an environment variable name to a koanf key.
//
// The section is the first underscore-delimited token; the rest is the
// field name with underscores preserved:
//
//	RELAY_SERVER_PORT            -> server.port
//	RELAY_EVENTS_MAX_RECONNECTS  -> events.max_reconnects
//
// The agents section nests one level deeper (section.stage.field):
//
//	RELAY_AGENTS_LEADING_URL     -> agents.leading.url
func envToKey(s string) string {
	lower := strings.ToLower(strings.TrimPrefix(s, envPrefix))

	parts := strings.SplitN(lower, "_", 2)
	if len(parts) == 1 {
		return lower
	}

	if parts[0] == "agents" {
		nested := strings.SplitN(parts[1], "_", 2)
		if len(nested) == 2 {
			return "agents." + nested[0] + "." + nested[1]
		}
	}

	return parts[0] + "." + parts[1]
}

// EnsureConfigDir creates the relay config directory if it doesn't exist.
// The directory is created with 0700 permissions.
func EnsureConfigDir() error {
	dir, err := userConfigDir()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory %s: %w", dir, err)
	}
	return nil
}

// userConfigDir returns ~/.config/relay without creating it.
func userConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".config", "relay"), nil
}

// checkConfigPath rejects config files outside ~/.config/relay and
// /etc/relay. Symlinks are resolved first so a link cannot point the
// loader at a file elsewhere; when evaluation fails the file does not
// exist yet and the absolute path is checked as written.
func checkConfigPath(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}

	userDir, err := userConfigDir()
	if err != nil {
		return err
	}

	for _, dir := range []string{userDir, systemConfigDir} {
		rel, err := filepath.Rel(dir, abs)
		if err != nil {
			continue
		}
		// A prefix match alone would accept siblings like /etc/relayd.
		if rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return nil
		}
	}

	return fmt.Errorf("config file must be in ~/.config/relay/ or /etc/relay/")
}

// readConfigFile reads path after checking permissions and the size cap
// through the open descriptor, so the checks hold for the bytes actually
// read. A missing file returns nil content and no error.
func readConfigFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}

	// Windows has a different permission model.
	if runtime.GOOS != "windows" {
		if perm := info.Mode().Perm(); perm != 0600 && perm != 0400 {
			return nil, fmt.Errorf("insecure config file permissions: %v (expected 0600 or 0400)", perm)
		}
	}
	if info.Size() > maxConfigFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}

	content, err := io.ReadAll(io.LimitReader(f, maxConfigFileSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return content, nil
}
