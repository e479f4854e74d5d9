package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/mattjoyce/accel/internal/lock"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads a launch config file. JSON and YAML are both accepted.
// ${VAR} references are expanded from the environment, and a BLAKE3
// sidecar, when present, must match the file contents.
func Load(configPath string) (*LaunchConfig, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s\n"+
				"Hint: Check the path or run 'accel config init'", absPath)
		}
		return nil, fmt.Errorf("failed to read config %s: %w", absPath, err)
	}

	if _, err := verifyData(absPath, data); err != nil {
		return nil, err
	}

	cfg, err := parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", absPath, err)
	}
	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration %s: %w", absPath, err)
	}

	cfg.SourcePath = absPath
	cfg.Fingerprint = hashBytes(data)
	return cfg, nil
}

// LoadDefaults applies the lookup policy for persisted launch defaults:
// an explicit path must exist; otherwise the default file is used when it
// exists. With neither, it returns nil, nil.
func LoadDefaults(explicitPath string) (*LaunchConfig, error) {
	if explicitPath != "" {
		return Load(explicitPath)
	}
	defaultPath := DefaultConfigFile()
	if !fileExists(defaultPath) {
		return nil, nil
	}
	return Load(defaultPath)
}

func parse(data []byte) (*LaunchConfig, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("config is empty")
	}

	var cfg LaunchConfig
	if trimmed[0] == '{' {
		if err := json.Unmarshal(trimmed, &cfg); err != nil {
			return nil, err
		}
	} else if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	expandFields(&cfg)

	dt, err := ParseDistributedType(string(cfg.DistributedType))
	if err != nil {
		return nil, err
	}
	cfg.DistributedType = dt
	return &cfg, nil
}

// expandFields interpolates ${VAR} in decoded string fields only, so an
// environment value can never add keys to the document.
func expandFields(cfg *LaunchConfig) {
	cfg.ComputeEnvironment = ComputeEnvironment(interpolateEnv(string(cfg.ComputeEnvironment)))
	cfg.DistributedType = DistributedType(interpolateEnv(string(cfg.DistributedType)))
	cfg.MainProcessIP = interpolateEnv(cfg.MainProcessIP)
}

// Save writes cfg to path, as JSON when the extension is .json and YAML
// otherwise. Writers are serialized through a lock file next to the config.
// An existing checksum sidecar is refreshed so the new contents stay trusted.
func Save(path string, cfg *LaunchConfig) error {
	if err := validate(cfg); err != nil {
		return fmt.Errorf("refusing to save invalid configuration: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	l, err := lock.Acquire(path + ".lock")
	if err != nil {
		return fmt.Errorf("config %s is being written by another process: %w", path, err)
	}
	defer func() { _ = l.Release() }()

	data, err := Marshal(cfg, formatForPath(path))
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	if fileExists(ChecksumPath(path)) {
		if _, err := WriteChecksum(path); err != nil {
			return err
		}
	}
	return nil
}

// Marshal renders cfg as "json" or "yaml".
func Marshal(cfg *LaunchConfig, format string) ([]byte, error) {
	switch format {
	case "json":
		data, err := json.MarshalIndent(cfg, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("failed to marshal config: %w", err)
		}
		return append(data, '\n'), nil
	case "yaml":
		data, err := yaml.Marshal(cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal config: %w", err)
		}
		return data, nil
	default:
		return nil, fmt.Errorf("unsupported config format %q", format)
	}
}

func formatForPath(path string) string {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return "json"
	}
	return "yaml"
}

// interpolateEnv replaces ${VAR} with environment variable values.
// Unknown variables are left in place.
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		return match
	})
}
