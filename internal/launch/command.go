package launch

import (
	"os"
	"os/exec"
	"strconv"
	"strings"
)

const (
	// EnvMixedPrecision carries the fp16 flag to the child.
	EnvMixedPrecision = "USE_FP16"
	// EnvLaunchID identifies one launch across its children and logs.
	EnvLaunchID = "ACCELERATE_LAUNCH_ID"
	// EnvPython overrides the interpreter used for subprocess launches.
	EnvPython = "ACCEL_PYTHON"

	distributedLaunchModule = "torch.distributed.launch"
)

// Command is a fully built child invocation.
type Command struct {
	Args []string
	Env  []string
}

func (c Command) String() string {
	return strings.Join(c.Args, " ")
}

// DefaultInterpreter returns $ACCEL_PYTHON, else the first of python3 and
// python found on PATH, else "python3".
func DefaultInterpreter() string {
	if py := os.Getenv(EnvPython); py != "" {
		return py
	}
	for _, name := range []string{"python3", "python"} {
		if path, err := exec.LookPath(name); err == nil {
			return path
		}
	}
	return "python3"
}

// SingleProcessArgs builds [interpreter, script, args...].
func SingleProcessArgs(interpreter string, p Parameters) []string {
	args := make([]string, 0, 2+len(p.TrainingScriptArgs))
	args = append(args, interpreter, p.TrainingScript)
	return append(args, p.TrainingScriptArgs...)
}

// MultiGPUArgs builds the torch.distributed.launch invocation.
// Multi-node launches divide the process count across machines and pass
// the coordinator port as --master_port.
func MultiGPUArgs(interpreter string, p Parameters) []string {
	args := []string{interpreter, "-m", distributedLaunchModule,
		"--nproc_per_node", strconv.Itoa(p.ProcessesPerNode()),
	}
	if p.MultiNode() {
		args = append(args,
			"--nnodes", strconv.Itoa(p.NumMachines),
			"--node_rank", strconv.Itoa(p.MachineRank),
			"--master_addr", p.MainProcessIP,
			"--master_port", strconv.Itoa(p.MainProcessPort),
		)
	}
	args = append(args, p.TrainingScript)
	return append(args, p.TrainingScriptArgs...)
}

// TPUArgv is the argument vector replicas see: the script, its arguments
// and --tpu_num_cores.
func TPUArgv(p Parameters) []string {
	argv := make([]string, 0, 3+len(p.TrainingScriptArgs))
	argv = append(argv, p.TrainingScript)
	argv = append(argv, p.TrainingScriptArgs...)
	return append(argv, "--tpu_num_cores", strconv.Itoa(p.NumProcesses))
}

// FormatBool renders a flag the way Python's str(bool) does.
func FormatBool(b bool) string {
	if b {
		return "True"
	}
	return "False"
}

// childEnv copies base and sets the launch variables, replacing any
// inherited values.
func childEnv(base []string, fp16 bool, launchID string) []string {
	overrides := map[string]string{
		EnvMixedPrecision: FormatBool(fp16),
		EnvLaunchID:       launchID,
	}
	env := make([]string, 0, len(base)+len(overrides))
	for _, kv := range base {
		key, _, _ := strings.Cut(kv, "=")
		if _, ok := overrides[key]; ok {
			continue
		}
		env = append(env, kv)
	}
	for _, key := range []string{EnvMixedPrecision, EnvLaunchID} {
		env = append(env, key+"="+overrides[key])
	}
	return env
}

// LookupEnv returns the value of key in an environ-style slice.
func LookupEnv(env []string, key string) (string, bool) {
	for i := len(env) - 1; i >= 0; i-- {
		k, v, ok := strings.Cut(env[i], "=")
		if ok && k == key {
			return v, true
		}
	}
	return "", false
}
