package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/mattjoyce/accel/internal/config"
	"github.com/mattjoyce/accel/internal/entries"
	"github.com/mattjoyce/accel/internal/launch"
)

type launchFlags struct {
	configFile  string
	interpreter string
	dryRun      bool
	req         launch.Request
}

func parseLaunchFlags(args []string) (*launchFlags, error) {
	lf := &launchFlags{}
	var machineRank int

	fs := flag.NewFlagSet("launch", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&lf.configFile, "config_file", "", "Path to launch config")
	fs.BoolVar(&lf.req.MultiGPU, "multi_gpu", false, "Launch a multi-GPU run")
	fs.BoolVar(&lf.req.TPU, "tpu", false, "Launch a TPU run")
	fs.BoolVar(&lf.req.FP16, "fp16", false, "Use mixed precision")
	fs.IntVar(&lf.req.NumProcesses, "num_processes", 0, "Total number of processes")
	fs.IntVar(&lf.req.NumMachines, "num_machines", 0, "Number of machines")
	fs.IntVar(&machineRank, "machine_rank", 0, "Rank of this machine")
	fs.StringVar(&lf.req.MainProcessIP, "main_process_ip", "", "Address of the rank 0 machine")
	fs.IntVar(&lf.req.MainProcessPort, "main_process_port", 0, "Port of the rank 0 machine")
	fs.StringVar(&lf.interpreter, "python", "", "Interpreter for the training script")
	fs.BoolVar(&lf.dryRun, "dry_run", false, "Print the resolved launch and exit")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "machine_rank" {
			lf.req.MachineRank = &machineRank
		}
	})

	if fs.NArg() < 1 {
		return nil, errors.New("missing training_script")
	}
	lf.req.TrainingScript = fs.Arg(0)
	lf.req.TrainingScriptArgs = fs.Args()[1:]
	return lf, nil
}

func runLaunch(args []string) int {
	lf, err := parseLaunchFlags(args)
	if errors.Is(err, flag.ErrHelp) {
		printLaunchHelp(os.Stdout)
		return 0
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n\n", err)
		printLaunchHelp(os.Stderr)
		return 1
	}
	if err := launch.Validate(lf.req); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	defaults, err := config.LoadDefaults(lf.configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config load error: %v\n", err)
		return 1
	}

	registry, err := newRegistry()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Entry point registration failed: %v\n", err)
		return 1
	}
	d := launch.New(launch.Options{Registry: registry, Interpreter: lf.interpreter})

	plan, err := d.Plan(lf.req, defaults)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	if lf.dryRun {
		printPlan(os.Stdout, plan, defaults)
		return 0
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return exitStatus(d.Execute(ctx, plan))
}

// exitStatus maps a launch error to the process exit code.
func exitStatus(err error) int {
	if err == nil {
		return 0
	}
	var childErr *launch.ChildProcessError
	if errors.As(err, &childErr) {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if childErr.ExitCode > 0 {
			return childErr.ExitCode
		}
		return 1
	}
	fmt.Fprintf(os.Stderr, "Launch failed: %v\n", err)
	return 1
}

func printPlan(w io.Writer, plan *launch.Plan, defaults *config.LaunchConfig) {
	p := plan.Params
	source := "none"
	if defaults != nil {
		source = defaults.SourcePath
	}
	fmt.Fprintf(w, "launch_id: %s\n", plan.LaunchID)
	fmt.Fprintf(w, "defaults: %s\n", source)
	fmt.Fprintf(w, "mode: %s\n", p.Mode)
	fmt.Fprintf(w, "num_processes: %d\n", p.NumProcesses)
	fmt.Fprintf(w, "fp16: %t\n", p.MixedPrecision)
	if p.MultiNode() {
		fmt.Fprintf(w, "num_machines: %d\n", p.NumMachines)
		fmt.Fprintf(w, "machine_rank: %d\n", p.MachineRank)
		fmt.Fprintf(w, "main_process: %s:%d\n", p.MainProcessIP, p.MainProcessPort)
	}
	if plan.Command != nil {
		fmt.Fprintf(w, "command: %s\n", plan.Command)
		fmt.Fprintf(w, "env: %s=%s\n", launch.EnvMixedPrecision, launch.FormatBool(p.MixedPrecision))
		return
	}
	fmt.Fprintf(w, "module: %s\n", plan.Module)
	fmt.Fprintf(w, "module_dir: %s\n", plan.ModuleDir)
	fmt.Fprintf(w, "argv: %s\n", strings.Join(plan.Argv, " "))
}

// runTest launches the selftest entry point on every replica, the way a
// user's TPU script would run.
func runTest(args []string) int {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	configFile := fs.String("config_file", "", "Path to launch config")
	numProcesses := fs.Int("num_processes", 0, "Number of replicas")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	defaults, err := config.LoadDefaults(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config load error: %v\n", err)
		return 1
	}
	registry, err := newRegistry()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Entry point registration failed: %v\n", err)
		return 1
	}

	req := launch.Request{
		TPU:            true,
		NumProcesses:   *numProcesses,
		TrainingScript: entries.SelfTestModule,
	}
	if defaults != nil {
		// Only the process count and precision carry over; the self test
		// always runs on the TPU path.
		req.FP16 = defaults.FP16
		if req.NumProcesses == 0 {
			req.NumProcesses = defaults.NumProcesses
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	d := launch.New(launch.Options{Registry: registry})
	if err := d.Launch(ctx, req, nil); err != nil {
		fmt.Fprintf(os.Stderr, "Test failed: %v\n", err)
		return 1
	}
	n := max(req.NumProcesses, 1)
	fmt.Printf("Test is a success! %d replica(s) ran %s.\n", n, entries.SelfTestModule)
	return 0
}
