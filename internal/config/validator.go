package config

import "fmt"

// validate rejects values that can never produce a launch.
// Softer problems are reported by the doctor package instead.
func validate(cfg *LaunchConfig) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	if _, err := ParseDistributedType(string(cfg.DistributedType)); err != nil {
		return err
	}
	if cfg.NumProcesses < 0 {
		return fmt.Errorf("num_processes must not be negative, got %d", cfg.NumProcesses)
	}
	if cfg.NumMachines < 0 {
		return fmt.Errorf("num_machines must not be negative, got %d", cfg.NumMachines)
	}
	if cfg.MachineRank < 0 {
		return fmt.Errorf("machine_rank must not be negative, got %d", cfg.MachineRank)
	}
	if cfg.MainProcessPort < 0 || cfg.MainProcessPort > 65535 {
		return fmt.Errorf("main_process_port %d is out of range", cfg.MainProcessPort)
	}
	return nil
}
