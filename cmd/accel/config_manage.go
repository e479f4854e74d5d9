package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/mattjoyce/accel/internal/config"
	"github.com/mattjoyce/accel/internal/doctor"
	"github.com/mattjoyce/accel/internal/tui/questionnaire"
)

func runConfigNoun(args []string) int {
	if len(args) < 1 {
		printConfigNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printConfigNounHelp(os.Stdout)
		return 0
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "show":
		if hasHelpFlag(actionArgs) {
			printConfigShowHelp()
			return 0
		}
		return runConfigShow(actionArgs)
	case "check":
		if hasHelpFlag(actionArgs) {
			printConfigCheckHelp()
			return 0
		}
		return runConfigCheck(actionArgs)
	case "lock":
		if hasHelpFlag(actionArgs) {
			printConfigLockHelp()
			return 0
		}
		return runConfigLock(actionArgs)
	case "init":
		if hasHelpFlag(actionArgs) {
			printConfigInitHelp()
			return 0
		}
		return runConfigInit(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown config action: %s\n", action)
		return 1
	}
}

// configTarget returns the explicit path or the default config file.
func configTarget(explicit string) string {
	if explicit != "" {
		return explicit
	}
	return config.DefaultConfigFile()
}

func runConfigShow(args []string) int {
	fs := flag.NewFlagSet("show", flag.ContinueOnError)
	configFile := fs.String("config_file", "", "Path to launch config")
	jsonOut := fs.Bool("json", false, "Output in structured JSON format")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	cfg, err := config.Load(configTarget(*configFile))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Load error: %v\n", err)
		return 1
	}

	format := "yaml"
	if *jsonOut {
		format = "json"
	}
	data, err := config.Marshal(cfg, format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Render error: %v\n", err)
		return 1
	}
	fmt.Print(string(data))
	return 0
}

func runConfigCheck(args []string) int {
	var configFile string
	var strict, jsonOut bool

	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	fs.StringVar(&configFile, "config_file", "", "Path to launch config")
	fs.BoolVar(&strict, "strict", false, "Treat warnings as errors")
	fs.BoolVar(&jsonOut, "json", false, "Output in JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	cfg, err := config.Load(configTarget(configFile))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config load error: %v\n", err)
		return 1
	}
	registry, err := newRegistry()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Entry point registration failed: %v\n", err)
		return 1
	}

	result := doctor.New(cfg, registry).Validate()

	if jsonOut {
		out, err := doctor.FormatJSON(result)
		if err != nil {
			fmt.Fprintf(os.Stderr, "JSON format error: %v\n", err)
			return 1
		}
		fmt.Println(out)
	} else {
		fmt.Print(doctor.FormatStyled(result))
	}

	if !result.Valid {
		return 1
	}
	if strict && len(result.Warnings) > 0 {
		return 2
	}
	return 0
}

func runConfigLock(args []string) int {
	fs := flag.NewFlagSet("lock", flag.ContinueOnError)
	configFile := fs.String("config_file", "", "Path to launch config")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	path := configTarget(*configFile)
	if _, err := os.Stat(path); err != nil {
		fmt.Fprintf(os.Stderr, "Config not found: %s\n", path)
		return 1
	}

	manifest, err := config.WriteChecksum(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to lock config: %v\n", err)
		return 1
	}
	fmt.Printf("Locked %s\n", manifest.File)
	fmt.Printf("  blake3: %s\n", manifest.Hash)
	fmt.Printf("  sidecar: %s\n", config.ChecksumPath(path))
	return 0
}

func runConfigInit(args []string) int {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	configFile := fs.String("config_file", "", "Where to write the launch config")
	acceptDefaults := fs.Bool("yes", false, "Write the current defaults without asking")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	path := configTarget(*configFile)

	// An existing file seeds the answers.
	base := config.Defaults()
	if _, err := os.Stat(path); err == nil {
		existing, err := config.Load(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Existing config is unreadable: %v\n", err)
			return 1
		}
		base = existing
	}

	cfg := base
	if !*acceptDefaults {
		answers, err := questionnaire.Run(base)
		if errors.Is(err, questionnaire.ErrAborted) {
			fmt.Fprintln(os.Stderr, "Aborted, nothing written.")
			return 1
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "Questionnaire failed: %v\n", err)
			return 1
		}
		cfg = answers
	}
	if cfg.ComputeEnvironment == "" {
		cfg.ComputeEnvironment = config.ComputeLocalMachine
	}

	if err := config.Save(path, cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to write config: %v\n", err)
		return 1
	}
	fmt.Printf("accel configuration saved at %s\n", path)
	return 0
}

func printConfigNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: accel config <action> [flags]")
	fmt.Fprintln(w, "Actions: show, check, lock, init")
}

func printConfigShowHelp() {
	fmt.Println("Usage: accel config show [--config_file PATH] [--json]")
	fmt.Println("Print the launch defaults as YAML (or JSON).")
}

func printConfigCheckHelp() {
	fmt.Println("Usage: accel config check [--config_file PATH] [--strict] [--json]")
	fmt.Println("Validate the launch defaults and their integrity sidecar.")
	fmt.Println("")
	fmt.Println("Exit codes:")
	fmt.Println("  0  Valid")
	fmt.Println("  1  Errors found")
	fmt.Println("  2  Warnings found with --strict")
}

func printConfigLockHelp() {
	fmt.Println("Usage: accel config lock [--config_file PATH]")
	fmt.Println("Record the BLAKE3 digest of the config in a .b3 sidecar.")
}

func printConfigInitHelp() {
	fmt.Println("Usage: accel config init [--config_file PATH] [--yes]")
	fmt.Println("Ask the launch questions and write the answers.")
}
