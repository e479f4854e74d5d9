package config

import (
	"fmt"
	"strings"
)

// DistributedType selects how a training script is launched.
type DistributedType string

const (
	DistributedNo       DistributedType = "NO"
	DistributedMultiGPU DistributedType = "MULTI_GPU"
	DistributedTPU      DistributedType = "TPU"
)

// ComputeEnvironment describes where the launch happens. Only the local
// machine is supported.
type ComputeEnvironment string

const (
	ComputeLocalMachine ComputeEnvironment = "LOCAL_MACHINE"
)

// ParseDistributedType accepts the canonical names case-insensitively.
// An empty string maps to DistributedNo.
func ParseDistributedType(s string) (DistributedType, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "NO":
		return DistributedNo, nil
	case "MULTI_GPU":
		return DistributedMultiGPU, nil
	case "TPU":
		return DistributedTPU, nil
	default:
		return "", fmt.Errorf("unknown distributed_type %q (expected NO, MULTI_GPU or TPU)", s)
	}
}

// LaunchConfig is the persisted set of launch defaults.
// Zero values mean "not set" and never override CLI values.
type LaunchConfig struct {
	ComputeEnvironment ComputeEnvironment `yaml:"compute_environment,omitempty" json:"compute_environment,omitempty"`
	DistributedType    DistributedType    `yaml:"distributed_type" json:"distributed_type"`
	NumProcesses       int                `yaml:"num_processes" json:"num_processes"`
	FP16               bool               `yaml:"fp16" json:"fp16"`
	MachineRank        int                `yaml:"machine_rank,omitempty" json:"machine_rank,omitempty"`
	NumMachines        int                `yaml:"num_machines,omitempty" json:"num_machines,omitempty"`
	MainProcessIP      string             `yaml:"main_process_ip,omitempty" json:"main_process_ip,omitempty"`
	MainProcessPort    int                `yaml:"main_process_port,omitempty" json:"main_process_port,omitempty"`

	// SourcePath is the file this config was loaded from, if any.
	SourcePath string `yaml:"-" json:"-"`
	// Fingerprint is the BLAKE3 digest of the source file.
	Fingerprint string `yaml:"-" json:"-"`
}

// Defaults returns the config written by a fresh `accel config init`.
func Defaults() *LaunchConfig {
	return &LaunchConfig{
		ComputeEnvironment: ComputeLocalMachine,
		DistributedType:    DistributedNo,
		NumProcesses:       1,
		NumMachines:        1,
	}
}

// IsMultiNode reports whether the config describes a multi-machine launch.
func (c *LaunchConfig) IsMultiNode() bool {
	return c.MainProcessIP != ""
}
