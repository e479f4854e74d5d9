package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/zeebo/blake3"
	"gopkg.in/yaml.v3"
)

const checksumSuffix = ".b3"

// ChecksumManifest is the sidecar written next to a locked config file.
type ChecksumManifest struct {
	Version     int    `yaml:"version"`
	GeneratedAt string `yaml:"generated_at"`
	File        string `yaml:"file"`
	Hash        string `yaml:"blake3"`
}

// ComputeBlake3Hash computes the BLAKE3 hash of a file.
func ComputeBlake3Hash(filePath string) (string, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return "", fmt.Errorf("failed to read file: %w", err)
	}
	return hashBytes(data), nil
}

func hashBytes(data []byte) string {
	hash := blake3.Sum256(data)
	return hex.EncodeToString(hash[:])
}

// ChecksumPath returns the sidecar location for a config file.
func ChecksumPath(configPath string) string {
	return configPath + checksumSuffix
}

// WriteChecksum hashes configPath and writes its sidecar manifest.
func WriteChecksum(configPath string) (*ChecksumManifest, error) {
	hash, err := ComputeBlake3Hash(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to hash %s: %w", filepath.Base(configPath), err)
	}

	manifest := &ChecksumManifest{
		Version:     1,
		GeneratedAt: time.Now().UTC().Format(time.RFC3339),
		File:        filepath.Base(configPath),
		Hash:        hash,
	}
	data, err := yaml.Marshal(manifest)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal checksum: %w", err)
	}
	if err := os.WriteFile(ChecksumPath(configPath), data, 0o600); err != nil {
		return nil, fmt.Errorf("failed to write checksum: %w", err)
	}
	return manifest, nil
}

// LoadChecksum reads the sidecar for configPath. A missing sidecar returns nil, nil.
func LoadChecksum(configPath string) (*ChecksumManifest, error) {
	data, err := os.ReadFile(ChecksumPath(configPath))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read checksum: %w", err)
	}

	var manifest ChecksumManifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("failed to parse checksum: %w", err)
	}
	if manifest.Version != 1 {
		return nil, fmt.Errorf("unsupported checksum version: %d", manifest.Version)
	}
	return &manifest, nil
}

// verifyData checks raw config bytes against the sidecar, if one exists.
// It returns whether a sidecar was present.
func verifyData(configPath string, data []byte) (bool, error) {
	manifest, err := LoadChecksum(configPath)
	if err != nil {
		return false, err
	}
	if manifest == nil {
		return false, nil
	}

	actual := hashBytes(data)
	if actual != manifest.Hash {
		return true, fmt.Errorf("hash mismatch for %s: expected %s, got %s\n"+
			"If you edited this file intentionally, run: accel config lock",
			filepath.Base(configPath), manifest.Hash, actual)
	}
	return true, nil
}

// VerifyChecksum verifies configPath against its sidecar.
// It returns false, nil when the file has never been locked.
func VerifyChecksum(configPath string) (bool, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return false, fmt.Errorf("failed to read file: %w", err)
	}
	return verifyData(configPath, data)
}
