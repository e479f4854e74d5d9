// Package doctor validates a launch config before it is used.
package doctor

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/mattjoyce/accel/internal/config"
	"github.com/mattjoyce/accel/internal/launch"
)

// Result holds the outcome of a validation run.
type Result struct {
	Valid    bool    `json:"valid"`
	Source   string  `json:"source,omitempty"`
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`
}

// Issue describes a single validation error or warning.
type Issue struct {
	Category string `json:"category"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
}

// Doctor validates a launch config against the entry points compiled in.
type Doctor struct {
	cfg      *config.LaunchConfig
	registry *launch.Registry
}

// New creates a Doctor from a loaded config and entry-point registry.
func New(cfg *config.LaunchConfig, registry *launch.Registry) *Doctor {
	return &Doctor{cfg: cfg, registry: registry}
}

// Validate runs all checks and returns a result.
func (d *Doctor) Validate() *Result {
	r := &Result{Valid: true, Source: d.cfg.SourcePath}

	d.validateDistributedType(r)
	d.validateProcesses(r)
	d.validateTopology(r)
	d.warnUnusedTopology(r)
	d.warnNoEntryPoints(r)
	d.warnMissingEnvVars(r)
	d.warnUnlocked(r)

	r.Valid = len(r.Errors) == 0
	return r
}

func (d *Doctor) addError(r *Result, category, field, msg string) {
	r.Errors = append(r.Errors, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) addWarning(r *Result, category, field, msg string) {
	r.Warnings = append(r.Warnings, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) validateDistributedType(r *Result) {
	if _, err := config.ParseDistributedType(string(d.cfg.DistributedType)); err != nil {
		d.addError(r, "mode", "distributed_type", err.Error())
	}
	switch d.cfg.ComputeEnvironment {
	case "", config.ComputeLocalMachine:
	default:
		d.addError(r, "mode", "compute_environment",
			fmt.Sprintf("unsupported compute environment %q (only %s)", d.cfg.ComputeEnvironment, config.ComputeLocalMachine))
	}
}

func (d *Doctor) validateProcesses(r *Result) {
	switch {
	case d.cfg.NumProcesses < 0:
		d.addError(r, "processes", "num_processes", "num_processes must be positive")
	case d.cfg.NumProcesses == 0:
		d.addWarning(r, "processes", "num_processes", "num_processes not set, launches default to 1")
	case d.cfg.NumProcesses == 1 && d.cfg.DistributedType == config.DistributedMultiGPU:
		d.addWarning(r, "processes", "num_processes", "MULTI_GPU with a single process gains nothing over NO")
	}
}

// validateTopology checks multi-node settings. They only apply to MULTI_GPU.
func (d *Doctor) validateTopology(r *Result) {
	if d.cfg.DistributedType != config.DistributedMultiGPU {
		return
	}
	machines := d.cfg.NumMachines
	if machines == 0 {
		machines = 1
	}

	if machines > 1 && !d.cfg.IsMultiNode() {
		d.addError(r, "topology", "main_process_ip",
			fmt.Sprintf("num_machines is %d but main_process_ip is not set", machines))
	}
	if !d.cfg.IsMultiNode() {
		return
	}

	if d.cfg.MachineRank < 0 || d.cfg.MachineRank >= machines {
		d.addError(r, "topology", "machine_rank",
			fmt.Sprintf("machine_rank %d must be in [0, %d)", d.cfg.MachineRank, machines))
	}
	if d.cfg.MainProcessPort < 0 || d.cfg.MainProcessPort > 65535 {
		d.addError(r, "topology", "main_process_port",
			fmt.Sprintf("main_process_port %d is out of range", d.cfg.MainProcessPort))
	}
	if d.cfg.MainProcessPort == 0 {
		d.addWarning(r, "topology", "main_process_port",
			fmt.Sprintf("main_process_port not set, using %d", launch.DefaultMainProcessPort))
	}
	if n := d.cfg.NumProcesses; n > 0 {
		if n < machines {
			d.addError(r, "topology", "num_processes",
				fmt.Sprintf("%d processes cannot be spread over %d machines", n, machines))
		} else if n%machines != 0 {
			d.addWarning(r, "topology", "num_processes",
				fmt.Sprintf("%d processes over %d machines leaves %d unused (per node: %d)",
					n, machines, n%machines, n/machines))
		}
	}
}

func (d *Doctor) warnUnusedTopology(r *Result) {
	if d.cfg.DistributedType == config.DistributedMultiGPU {
		return
	}
	if d.cfg.MainProcessIP != "" || d.cfg.NumMachines > 1 {
		d.addWarning(r, "topology", "distributed_type",
			fmt.Sprintf("multi-node settings are ignored for distributed_type %s", d.cfg.DistributedType))
	}
}

func (d *Doctor) warnNoEntryPoints(r *Result) {
	if d.cfg.DistributedType != config.DistributedTPU {
		return
	}
	if len(d.registry.Modules()) == 0 {
		d.addWarning(r, "entry_points", "distributed_type",
			"TPU launches need a registered entry point but none are compiled in")
	}
}

var envVarRe = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// warnMissingEnvVars warns about ${VAR} references that survived interpolation.
func (d *Doctor) warnMissingEnvVars(r *Result) {
	for _, m := range envVarRe.FindAllStringSubmatch(d.cfg.MainProcessIP, -1) {
		if os.Getenv(m[1]) == "" {
			d.addWarning(r, "env_vars", "main_process_ip",
				fmt.Sprintf("environment variable ${%s} not set", m[1]))
		}
	}
}

func (d *Doctor) warnUnlocked(r *Result) {
	if d.cfg.SourcePath == "" {
		return
	}
	locked, err := config.VerifyChecksum(d.cfg.SourcePath)
	switch {
	case err != nil:
		d.addError(r, "integrity", "", err.Error())
	case !locked:
		d.addWarning(r, "integrity", "", "config is not locked (run 'accel config lock')")
	}
}

// FormatHuman renders a result as plain text.
func FormatHuman(r *Result) string {
	return format(r, plainStyles())
}

// FormatJSON returns the result as indented JSON.
func FormatJSON(r *Result) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func format(r *Result, s styles) string {
	var b strings.Builder

	if r.Source != "" {
		fmt.Fprintf(&b, "%s\n", s.dim(r.Source))
	}

	switch {
	case r.Valid && len(r.Warnings) == 0:
		b.WriteString(s.ok("Configuration valid.") + "\n")
		return b.String()
	case r.Valid:
		b.WriteString(s.ok(fmt.Sprintf("Configuration valid (%d warning(s))", len(r.Warnings))) + "\n")
	default:
		b.WriteString(s.fail(fmt.Sprintf("Configuration invalid (%d error(s), %d warning(s))",
			len(r.Errors), len(r.Warnings))) + "\n")
	}

	for _, e := range r.Errors {
		writeIssue(&b, s.fail("ERROR"), e)
	}
	for _, w := range r.Warnings {
		writeIssue(&b, s.warn("WARN "), w)
	}
	return b.String()
}

func writeIssue(b *strings.Builder, label string, i Issue) {
	if i.Field != "" {
		fmt.Fprintf(b, "  %s [%s] %s: %s\n", label, i.Category, i.Field, i.Message)
	} else {
		fmt.Fprintf(b, "  %s [%s] %s\n", label, i.Category, i.Message)
	}
}
