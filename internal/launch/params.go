package launch

import (
	"github.com/mattjoyce/accel/internal/config"
)

// DefaultMainProcessPort is used for multi-node launches that name a
// coordinator address but no port. It matches torch.distributed.launch.
const DefaultMainProcessPort = 29500

// Mode is the launch strategy.
type Mode int

const (
	ModeSingleProcess Mode = iota
	ModeMultiGPU
	ModeTPU
)

func (m Mode) String() string {
	switch m {
	case ModeMultiGPU:
		return "multi_gpu"
	case ModeTPU:
		return "tpu"
	default:
		return "single_process"
	}
}

// Request is the unresolved launch request as given on the command line.
// Zero values mean "not given", except MachineRank which is nil when unset.
type Request struct {
	MultiGPU     bool
	TPU          bool
	FP16         bool
	NumProcesses int

	NumMachines     int
	MachineRank     *int
	MainProcessIP   string
	MainProcessPort int

	TrainingScript     string
	TrainingScriptArgs []string
}

// Parameters is a fully resolved launch.
type Parameters struct {
	Mode           Mode
	NumProcesses   int
	MixedPrecision bool

	TrainingScript     string
	TrainingScriptArgs []string

	MainProcessIP   string
	MainProcessPort int
	NumMachines     int
	MachineRank     int
}

// MultiNode reports whether the launch spans several machines.
func (p Parameters) MultiNode() bool {
	return p.Mode == ModeMultiGPU && p.MainProcessIP != ""
}

// ProcessesPerNode is the local process count handed to the launch helper.
func (p Parameters) ProcessesPerNode() int {
	if !p.MultiNode() || p.NumMachines <= 1 {
		return p.NumProcesses
	}
	return p.NumProcesses / p.NumMachines
}

// Validate rejects requests that are contradictory before any defaults apply.
func Validate(req Request) error {
	if req.MultiGPU && req.TPU {
		return invalid("mode", "you can only pick one between --multi_gpu and --tpu")
	}
	if req.TrainingScript == "" {
		return invalid("training_script", "a training script is required")
	}
	if req.NumProcesses < 0 {
		return invalid("num_processes", "must be positive, got %d", req.NumProcesses)
	}
	if req.NumMachines < 0 {
		return invalid("num_machines", "must be positive, got %d", req.NumMachines)
	}
	return nil
}

// Resolve validates req and fills every field it leaves unset from defaults.
// Explicit request values always win. defaults may be nil.
func Resolve(req Request, defaults *config.LaunchConfig) (Parameters, error) {
	if err := Validate(req); err != nil {
		return Parameters{}, err
	}

	p := Parameters{
		NumProcesses:       req.NumProcesses,
		MixedPrecision:     req.FP16,
		TrainingScript:     req.TrainingScript,
		TrainingScriptArgs: append([]string(nil), req.TrainingScriptArgs...),
		MainProcessIP:      req.MainProcessIP,
		MainProcessPort:    req.MainProcessPort,
		NumMachines:        req.NumMachines,
	}
	multiGPU, tpu := req.MultiGPU, req.TPU
	rankSet := req.MachineRank != nil
	if rankSet {
		p.MachineRank = *req.MachineRank
	}

	if defaults != nil {
		if !multiGPU && !tpu {
			multiGPU = defaults.DistributedType == config.DistributedMultiGPU
			tpu = defaults.DistributedType == config.DistributedTPU
		}
		if p.NumProcesses == 0 {
			p.NumProcesses = defaults.NumProcesses
		}
		if !p.MixedPrecision {
			p.MixedPrecision = defaults.FP16
		}
		if p.MainProcessIP == "" {
			p.MainProcessIP = defaults.MainProcessIP
		}
		if p.MainProcessPort == 0 {
			p.MainProcessPort = defaults.MainProcessPort
		}
		if p.NumMachines == 0 {
			p.NumMachines = defaults.NumMachines
		}
		if !rankSet {
			p.MachineRank = defaults.MachineRank
		}
	}

	if p.NumProcesses == 0 {
		p.NumProcesses = 1
	}
	if p.NumMachines == 0 {
		p.NumMachines = 1
	}

	switch {
	case multiGPU:
		p.Mode = ModeMultiGPU
	case tpu:
		p.Mode = ModeTPU
	default:
		p.Mode = ModeSingleProcess
	}

	if err := checkResolved(&p); err != nil {
		return Parameters{}, err
	}
	return p, nil
}

func checkResolved(p *Parameters) error {
	if p.NumProcesses < 1 {
		return invalid("num_processes", "must be positive, got %d", p.NumProcesses)
	}
	if !p.MultiNode() {
		return nil
	}
	if p.MainProcessPort == 0 {
		p.MainProcessPort = DefaultMainProcessPort
	}
	if p.MainProcessPort < 1 || p.MainProcessPort > 65535 {
		return invalid("main_process_port", "%d is out of range", p.MainProcessPort)
	}
	if p.MachineRank < 0 || p.MachineRank >= p.NumMachines {
		return invalid("machine_rank", "must be in [0, %d), got %d", p.NumMachines, p.MachineRank)
	}
	if p.NumProcesses < p.NumMachines {
		return invalid("num_processes", "%d processes cannot be spread over %d machines", p.NumProcesses, p.NumMachines)
	}
	return nil
}
