package launch

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"slices"

	"github.com/google/uuid"

	"github.com/mattjoyce/accel/internal/config"
	"github.com/mattjoyce/accel/internal/log"
)

// Options configures a Dispatcher. Zero fields get production defaults.
type Options struct {
	Runner      Runner
	Spawner     Spawner
	Registry    *Registry
	Interpreter string
	Environ     func() []string
	NewID       func() string
}

// Dispatcher resolves launch requests and runs the selected strategy.
type Dispatcher struct {
	runner      Runner
	spawner     Spawner
	registry    *Registry
	interpreter string
	environ     func() []string
	newID       func() string
	searchPath  []string
	logger      *slog.Logger
}

// Plan is a resolved launch, ready to execute.
type Plan struct {
	LaunchID string
	Params   Parameters

	// Command is set for subprocess strategies.
	Command *Command

	// Module, ModuleDir and Argv are set for the TPU strategy.
	Module    string
	ModuleDir string
	Argv      []string
}

// New creates a Dispatcher.
func New(opts Options) *Dispatcher {
	d := &Dispatcher{
		runner:      opts.Runner,
		spawner:     opts.Spawner,
		registry:    opts.Registry,
		interpreter: opts.Interpreter,
		environ:     opts.Environ,
		newID:       opts.NewID,
		logger:      log.WithComponent("launch"),
	}
	if d.runner == nil {
		d.runner = NewExecRunner()
	}
	if d.spawner == nil {
		d.spawner = LocalSpawner{}
	}
	if d.registry == nil {
		d.registry = NewRegistry()
	}
	if d.interpreter == "" {
		d.interpreter = DefaultInterpreter()
	}
	if d.environ == nil {
		d.environ = os.Environ
	}
	if d.newID == nil {
		d.newID = uuid.NewString
	}
	return d
}

// SearchPath returns the directories added by TPU launches, in order.
func (d *Dispatcher) SearchPath() []string {
	return slices.Clone(d.searchPath)
}

// Plan resolves req against defaults and builds the command or TPU argv
// without running anything.
func (d *Dispatcher) Plan(req Request, defaults *config.LaunchConfig) (*Plan, error) {
	params, err := Resolve(req, defaults)
	if err != nil {
		return nil, err
	}

	plan := &Plan{LaunchID: d.newID(), Params: params}
	switch params.Mode {
	case ModeTPU:
		dir, module, err := ModuleForScript(params.TrainingScript)
		if err != nil {
			return nil, err
		}
		plan.ModuleDir = dir
		plan.Module = module
		plan.Argv = TPUArgv(params)
	case ModeMultiGPU:
		plan.Command = &Command{
			Args: MultiGPUArgs(d.interpreter, params),
			Env:  childEnv(d.environ(), params.MixedPrecision, plan.LaunchID),
		}
	default:
		plan.Command = &Command{
			Args: SingleProcessArgs(d.interpreter, params),
			Env:  childEnv(d.environ(), params.MixedPrecision, plan.LaunchID),
		}
	}
	return plan, nil
}

// Launch validates, resolves and runs req. It blocks until the child or
// all TPU replicas finish.
func (d *Dispatcher) Launch(ctx context.Context, req Request, defaults *config.LaunchConfig) error {
	plan, err := d.Plan(req, defaults)
	if err != nil {
		return err
	}
	return d.Execute(ctx, plan)
}

// Execute runs a plan produced by Plan.
func (d *Dispatcher) Execute(ctx context.Context, plan *Plan) error {
	logger := log.WithLaunch(plan.LaunchID).With("component", "launch", "mode", plan.Params.Mode.String())
	logger.Info("launching",
		"script", plan.Params.TrainingScript,
		"num_processes", plan.Params.NumProcesses,
		"fp16", plan.Params.MixedPrecision,
	)
	if plan.Params.MultiNode() && plan.Params.NumProcesses%plan.Params.NumMachines != 0 {
		logger.Warn("num_processes is not divisible by num_machines",
			"num_processes", plan.Params.NumProcesses,
			"num_machines", plan.Params.NumMachines,
			"per_node", plan.Params.ProcessesPerNode(),
		)
	}

	if plan.Params.Mode == ModeTPU {
		return d.executeTPU(ctx, plan, logger)
	}
	return d.executeCommand(ctx, plan, logger)
}

func (d *Dispatcher) executeCommand(ctx context.Context, plan *Plan, logger *slog.Logger) error {
	if plan.Command == nil {
		return fmt.Errorf("plan for %s launch has no command", plan.Params.Mode)
	}
	logger.Debug("spawning child", "command", plan.Command.String())

	code, err := d.runner.Run(ctx, *plan.Command)
	if err != nil {
		return fmt.Errorf("run %s: %w", plan.Command.Args[0], err)
	}
	if code != 0 {
		logger.Warn("child exited with non-zero status", "exit_code", code)
		return &ChildProcessError{ExitCode: code, Cmd: slices.Clone(plan.Command.Args)}
	}
	logger.Info("child completed successfully")
	return nil
}

func (d *Dispatcher) executeTPU(ctx context.Context, plan *Plan, logger *slog.Logger) error {
	if !slices.Contains(d.searchPath, plan.ModuleDir) {
		d.searchPath = append(d.searchPath, plan.ModuleDir)
	}

	fn, ok := d.registry.Lookup(plan.Module)
	if !ok {
		return &ImportError{Module: plan.Module, Dir: plan.ModuleDir}
	}

	logger.Debug("spawning replicas", "module", plan.Module, "argv", plan.Argv)
	if err := d.spawner.Spawn(ctx, fn, buildReplicas(plan.Params, plan.Argv, plan.LaunchID)); err != nil {
		return fmt.Errorf("tpu spawn of %s: %w", plan.Module, err)
	}
	logger.Info("all replicas completed successfully")
	return nil
}
