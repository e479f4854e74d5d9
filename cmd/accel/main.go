package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"runtime"
	"runtime/debug"
	"strings"
	"time"

	"github.com/mattjoyce/accel/internal/config"
	"github.com/mattjoyce/accel/internal/entries"
	"github.com/mattjoyce/accel/internal/launch"
	"github.com/mattjoyce/accel/internal/log"
)

var (
	version   = "0.1.0-dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	log.SetupFromEnv()
	os.Exit(runCLI(os.Args[1:]))
}

func runCLI(cliArgs []string) int {
	if len(cliArgs) < 1 {
		printUsage()
		return 1
	}

	cmd := cliArgs[0]
	args := cliArgs[1:]

	switch cmd {
	// --- NOUNS ---
	case "config":
		return runConfigNoun(args)

	// --- VERBS ---
	case "launch":
		if isHelpToken(firstArg(args)) {
			printLaunchHelp(os.Stdout)
			return 0
		}
		return runLaunch(args)
	case "test":
		if hasHelpFlag(args) {
			printTestHelp()
			return 0
		}
		return runTest(args)
	case "env":
		return runEnv(args)
	case "version", "--version":
		return runVersion(args)
	case "help", "--help", "-h":
		printUsage()
		return 0

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		return 1
	}
}

// newRegistry returns the entry points available to TPU launches.
func newRegistry() (*launch.Registry, error) {
	reg := launch.NewRegistry()
	if err := entries.Register(reg); err != nil {
		return nil, err
	}
	return reg, nil
}

type versionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
}

func runVersion(args []string) int {
	fs := flag.NewFlagSet("version", flag.ContinueOnError)
	jsonOut := fs.Bool("json", false, "Output version metadata as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(os.Stderr, "Usage: accel version [--json]")
		return 1
	}

	info := currentVersionInfo()

	if *jsonOut {
		return printJSON(info, "version")
	}

	fmt.Printf("accel %s\n", info.Version)
	fmt.Printf("commit: %s\n", info.Commit)
	fmt.Printf("built_at: %s\n", info.BuildTime)
	return 0
}

func currentVersionInfo() versionInfo {
	info := versionInfo{
		Version:   strings.TrimSpace(version),
		Commit:    "unknown",
		BuildTime: "unknown",
	}

	if info.Version == "" {
		info.Version = "0.0.0-dev"
	}

	resolvedCommit := strings.TrimSpace(gitCommit)
	if resolvedCommit == "" || resolvedCommit == "unknown" {
		resolvedCommit = strings.TrimSpace(readBuildSetting("vcs.revision"))
	}
	if resolvedCommit != "" {
		info.Commit = shortenCommit(resolvedCommit)
	}

	resolvedBuildTime := strings.TrimSpace(buildDate)
	if resolvedBuildTime == "" || resolvedBuildTime == "unknown" {
		resolvedBuildTime = strings.TrimSpace(readBuildSetting("vcs.time"))
	}
	if normalized, ok := normalizeBuildTimeUTC(resolvedBuildTime); ok {
		info.BuildTime = normalized
	}

	return info
}

func shortenCommit(commit string) string {
	if len(commit) <= 12 {
		return commit
	}
	return commit[:12]
}

func normalizeBuildTimeUTC(raw string) (string, bool) {
	if raw == "" || raw == "unknown" {
		return "", false
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return "", false
	}
	return t.UTC().Format(time.RFC3339), true
}

func readBuildSetting(key string) string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, setting := range info.Settings {
		if setting.Key == key {
			return setting.Value
		}
	}
	return ""
}

type envReport struct {
	Version       string   `json:"accel_version"`
	GoVersion     string   `json:"go_version"`
	Platform      string   `json:"platform"`
	Interpreter   string   `json:"interpreter"`
	ConfigFile    string   `json:"config_file"`
	ConfigPresent bool     `json:"config_present"`
	Locked        bool     `json:"config_locked"`
	EntryPoints   []string `json:"entry_points"`

	Config *config.LaunchConfig `json:"config,omitempty"`
}

// runEnv prints the details worth pasting into a bug report.
func runEnv(args []string) int {
	fs := flag.NewFlagSet("env", flag.ContinueOnError)
	configFile := fs.String("config_file", "", "Path to launch config")
	jsonOut := fs.Bool("json", false, "Output in JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	report := envReport{
		Version:     currentVersionInfo().Version,
		GoVersion:   runtime.Version(),
		Platform:    runtime.GOOS + "/" + runtime.GOARCH,
		Interpreter: launch.DefaultInterpreter(),
		ConfigFile:  *configFile,
	}
	if report.ConfigFile == "" {
		report.ConfigFile = config.DefaultConfigFile()
	}
	if reg, err := newRegistry(); err == nil {
		report.EntryPoints = reg.Modules()
	}

	if _, err := os.Stat(report.ConfigFile); err == nil {
		report.ConfigPresent = true
		cfg, err := config.Load(report.ConfigFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Config load error: %v\n", err)
			return 1
		}
		report.Config = cfg
		report.Locked, _ = config.VerifyChecksum(report.ConfigFile)
	}

	if *jsonOut {
		return printJSON(report, "env")
	}

	fmt.Printf("- accel version: %s\n", report.Version)
	fmt.Printf("- Go version: %s\n", report.GoVersion)
	fmt.Printf("- Platform: %s\n", report.Platform)
	fmt.Printf("- Python interpreter: %s\n", report.Interpreter)
	fmt.Printf("- TPU entry points: %s\n", strings.Join(report.EntryPoints, ", "))
	if !report.ConfigPresent {
		fmt.Printf("- Default config: not found (%s)\n", report.ConfigFile)
		return 0
	}
	fmt.Printf("- Default config: %s (locked: %t)\n", report.ConfigFile, report.Locked)
	data, err := config.Marshal(report.Config, "yaml")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config render error: %v\n", err)
		return 1
	}
	for _, line := range strings.Split(strings.TrimRight(string(data), "\n"), "\n") {
		fmt.Printf("\t%s\n", line)
	}
	return 0
}

// printJSON writes v as indented JSON and returns the exit code.
func printJSON(v any, what string) int {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to render %s JSON: %v\n", what, err)
		return 1
	}
	fmt.Println(string(data))
	return 0
}

func firstArg(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[0]
}

func isHelpToken(token string) bool {
	return token == "help" || token == "--help" || token == "-h"
}

func hasHelpFlag(args []string) bool {
	for _, arg := range args {
		if arg == "--help" || arg == "-h" {
			return true
		}
	}
	return false
}

func printUsage() {
	fmt.Print(`accel - launch training scripts on one process, several GPUs, or TPU cores

Usage:
  accel <command> [flags]
  accel <noun> <action> [flags]

Commands:
  launch        Launch a training script
  test          Run the built-in self test through the TPU path
  env           Show environment and default config details
  version       Show version information
  help          Show this help message

Config Commands:
  config show   Print the launch defaults
  config check  Validate the launch defaults
  config lock   Write the BLAKE3 integrity sidecar
  config init   Answer questions and write the launch defaults

Use 'accel launch --help' or 'accel config help' for flags.
`)
}

func printLaunchHelp(w *os.File) {
	fmt.Fprint(w, `Usage: accel launch [flags] training_script [script args...]

Flags stop at the training script; everything after it is passed verbatim.

  --config_file PATH       Launch defaults (default: `+config.DefaultConfigFile()+`)
  --multi_gpu              Launch through torch.distributed.launch
  --tpu                    Launch registered entry points on TPU cores
  --fp16                   Enable mixed precision (USE_FP16)
  --num_processes N        Total number of processes
  --num_machines M         Number of machines (multi-GPU)
  --machine_rank R         Rank of this machine (multi-GPU)
  --main_process_ip IP     Address of the rank 0 machine (multi-GPU)
  --main_process_port P    Port of the rank 0 machine (multi-GPU)
  --python EXE             Interpreter (default: $ACCEL_PYTHON, python3, python)
  --dry_run                Print the resolved launch and exit
`)
}

func printTestHelp() {
	fmt.Println("Usage: accel test [--config_file PATH] [--num_processes N]")
	fmt.Println("Run the selftest entry point on every TPU replica.")
}
