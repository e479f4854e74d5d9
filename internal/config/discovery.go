package config

import (
	"os"
	"path/filepath"
)

const defaultConfigName = "default_config.json"

// CacheHome returns the huggingface cache root.
// Priority order: $HF_HOME, $XDG_CACHE_HOME/huggingface, ~/.cache/huggingface
func CacheHome() string {
	if dir := os.Getenv("HF_HOME"); dir != "" {
		return expandHome(dir)
	}
	xdg := os.Getenv("XDG_CACHE_HOME")
	if xdg == "" {
		xdg = filepath.Join("~", ".cache")
	}
	return filepath.Join(expandHome(xdg), "huggingface")
}

// DefaultConfigFile returns the well-known location of the persisted launch defaults.
func DefaultConfigFile() string {
	return filepath.Join(CacheHome(), "accelerate", defaultConfigName)
}

func expandHome(path string) string {
	if path != "~" && !hasHomePrefix(path) {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	if path == "~" {
		return home
	}
	return filepath.Join(home, path[2:])
}

func hasHomePrefix(path string) bool {
	return len(path) >= 2 && path[0] == '~' && (path[1] == '/' || path[1] == filepath.Separator)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
