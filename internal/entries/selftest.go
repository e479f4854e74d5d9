// Package entries holds training entry points compiled into the accel binary.
package entries

import (
	"context"
	"fmt"
	"strconv"

	"github.com/mattjoyce/accel/internal/launch"
	"github.com/mattjoyce/accel/internal/log"
)

// SelfTestModule is the module name `accel test` launches.
const SelfTestModule = "selftest"

// Register adds every built-in entry point to reg.
func Register(reg *launch.Registry) error {
	return reg.Register(SelfTestModule, SelfTest)
}

// SelfTest checks that a replica received a consistent launch: a valid
// index and a --tpu_num_cores value matching the replica count.
func SelfTest(ctx context.Context, r launch.Replica) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if r.Index < 0 || r.Index >= r.NumProcesses {
		return fmt.Errorf("replica index %d outside [0, %d)", r.Index, r.NumProcesses)
	}

	cores, err := flagValue(r.Argv, "--tpu_num_cores")
	if err != nil {
		return err
	}
	n, err := strconv.Atoi(cores)
	if err != nil {
		return fmt.Errorf("--tpu_num_cores %q is not a number", cores)
	}
	if n != r.NumProcesses {
		return fmt.Errorf("--tpu_num_cores is %d but %d replicas were spawned", n, r.NumProcesses)
	}

	log.WithReplica(r.LaunchID, r.Index).Info("selftest replica ok",
		"num_processes", r.NumProcesses,
		"fp16", r.MixedPrecision,
	)
	return nil
}

// flagValue returns the value following the last occurrence of name.
func flagValue(argv []string, name string) (string, error) {
	for i := len(argv) - 2; i >= 0; i-- {
		if argv[i] == name {
			return argv[i+1], nil
		}
	}
	return "", fmt.Errorf("%s missing from argv %v", name, argv)
}
