package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/accel/internal/config"
	"github.com/mattjoyce/accel/internal/launch"
	"github.com/mattjoyce/accel/internal/log"
)

func TestMain(m *testing.M) {
	log.Setup("ERROR", "json")
	os.Exit(m.Run())
}

func captureOutputWithExitCode(t *testing.T, run func() int) (int, string, string) {
	t.Helper()

	oldStdout := os.Stdout
	oldStderr := os.Stderr

	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe stdout failed: %v", err)
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe stderr failed: %v", err)
	}

	os.Stdout = stdoutW
	os.Stderr = stderrW

	code := run()

	_ = stdoutW.Close()
	_ = stderrW.Close()
	os.Stdout = oldStdout
	os.Stderr = oldStderr

	stdoutBytes, _ := io.ReadAll(stdoutR)
	stderrBytes, _ := io.ReadAll(stderrR)

	_ = stdoutR.Close()
	_ = stderrR.Close()

	return code, string(stdoutBytes), string(stderrBytes)
}

func runCLIForTest(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	return captureOutputWithExitCode(t, func() int {
		return runCLI(args)
	})
}

// isolateHome points the default config lookup at an empty temp dir.
func isolateHome(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HF_HOME", home)
	t.Setenv(launch.EnvPython, "")
	return home
}

func writeConfig(t *testing.T, path string, cfg string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o644))
}

func setVersionMetadataForTest(t *testing.T, v, commit, built string) {
	t.Helper()

	origVersion := version
	origCommit := gitCommit
	origBuildDate := buildDate

	version = v
	gitCommit = commit
	buildDate = built

	t.Cleanup(func() {
		version = origVersion
		gitCommit = origCommit
		buildDate = origBuildDate
	})
}

func TestRunVersionJSON(t *testing.T) {
	setVersionMetadataForTest(t, "1.2.3", "0123456789abcdef", "2026-01-02T03:04:05+10:00")

	code, stdout, _ := runCLIForTest(t, "version", "--json")
	require.Equal(t, 0, code)

	var info versionInfo
	require.NoError(t, json.Unmarshal([]byte(stdout), &info))
	assert.Equal(t, "1.2.3", info.Version)
	assert.Equal(t, "0123456789ab", info.Commit)
	assert.Equal(t, "2026-01-01T17:04:05Z", info.BuildTime)
}

func TestRunCLIUsage(t *testing.T) {
	code, stdout, _ := runCLIForTest(t)
	assert.Equal(t, 1, code)
	assert.Contains(t, stdout, "accel <command>")

	code, _, stderr := runCLIForTest(t, "bogus")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "Unknown command: bogus")

	code, stdout, _ = runCLIForTest(t, "launch", "--help")
	assert.Equal(t, 0, code)
	assert.Contains(t, stdout, "--main_process_port")
}

func TestLaunchDryRunSingleProcess(t *testing.T) {
	isolateHome(t)

	code, stdout, stderr := runCLIForTest(t,
		"launch", "--python", "/usr/bin/python3", "--dry_run", "--fp16", "train.py", "--lr", "0.1", "--fp16")
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "mode: single_process")
	assert.Contains(t, stdout, "defaults: none")
	assert.Contains(t, stdout, "command: /usr/bin/python3 train.py --lr 0.1 --fp16")
	assert.Contains(t, stdout, "env: USE_FP16=True")
}

func TestLaunchDefaultsFromConfigFile(t *testing.T) {
	home := isolateHome(t)
	writeConfig(t, config.DefaultConfigFile(), `{
  "compute_environment": "LOCAL_MACHINE",
  "distributed_type": "MULTI_GPU",
  "num_processes": 4,
  "fp16": false
}`)
	require.True(t, strings.HasPrefix(config.DefaultConfigFile(), home))

	code, stdout, stderr := runCLIForTest(t, "launch", "--python", "py", "--dry_run", "train.py")
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "mode: multi_gpu")
	assert.Contains(t, stdout, "command: py -m torch.distributed.launch --nproc_per_node 4 train.py")
	assert.Contains(t, stdout, "env: USE_FP16=False")
}

func TestLaunchExplicitFlagsOverrideConfig(t *testing.T) {
	isolateHome(t)
	path := filepath.Join(t.TempDir(), "cluster.yaml")
	writeConfig(t, path, `distributed_type: MULTI_GPU
num_processes: 16
num_machines: 2
machine_rank: 1
main_process_ip: 10.0.0.1
main_process_port: 1234
`)

	code, stdout, stderr := runCLIForTest(t,
		"launch", "--config_file", path, "--python", "py", "--machine_rank", "0", "--dry_run", "train.py")
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "machine_rank: 0")
	assert.Contains(t, stdout, "main_process: 10.0.0.1:1234")
	assert.Contains(t, stdout,
		"command: py -m torch.distributed.launch --nproc_per_node 8 --nnodes 2 --node_rank 0 "+
			"--master_addr 10.0.0.1 --master_port 1234 train.py")
}

func TestLaunchRejectsBothModes(t *testing.T) {
	isolateHome(t)
	code, stdout, stderr := runCLIForTest(t, "launch", "--multi_gpu", "--tpu", "train.py")
	assert.Equal(t, 1, code)
	assert.Empty(t, stdout)
	assert.Contains(t, stderr, "mode")
}

func TestLaunchMissingScript(t *testing.T) {
	isolateHome(t)
	code, _, stderr := runCLIForTest(t, "launch", "--fp16")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "missing training_script")
}

func TestLaunchMissingExplicitConfig(t *testing.T) {
	isolateHome(t)
	code, _, stderr := runCLIForTest(t,
		"launch", "--config_file", filepath.Join(t.TempDir(), "nope.json"), "train.py")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "config file not found")
}

func TestLaunchPropagatesChildExitCode(t *testing.T) {
	isolateHome(t)
	script := filepath.Join(t.TempDir(), "train.sh")
	require.NoError(t, os.WriteFile(script, []byte("echo \"fp16=$USE_FP16 $1\"\nexit 3\n"), 0o644))

	code, stdout, stderr := runCLIForTest(t, "launch", "--python", "/bin/sh", script, "hello")
	assert.Equal(t, 3, code)
	assert.Contains(t, stdout, "fp16=False hello")
	assert.Contains(t, stderr, "returned non-zero exit status 3")
}

func TestLaunchSuccessfulChild(t *testing.T) {
	isolateHome(t)
	script := filepath.Join(t.TempDir(), "train.sh")
	require.NoError(t, os.WriteFile(script, []byte("test -n \"$ACCELERATE_LAUNCH_ID\"\n"), 0o644))

	code, _, stderr := runCLIForTest(t, "launch", "--python", "/bin/sh", script)
	assert.Equal(t, 0, code, stderr)
}

func TestLaunchTPUDryRun(t *testing.T) {
	isolateHome(t)
	code, stdout, stderr := runCLIForTest(t,
		"launch", "--tpu", "--num_processes", "8", "--dry_run", "scripts/selftest.py", "--epochs", "2")
	require.Equal(t, 0, code, stderr)

	wantDir, err := filepath.Abs("scripts")
	require.NoError(t, err)
	assert.Contains(t, stdout, "mode: tpu")
	assert.Contains(t, stdout, "module: selftest")
	assert.Contains(t, stdout, "module_dir: "+wantDir)
	assert.Contains(t, stdout, "argv: scripts/selftest.py --epochs 2 --tpu_num_cores 8")
}

func TestLaunchTPUUnknownModule(t *testing.T) {
	isolateHome(t)
	code, _, stderr := runCLIForTest(t, "launch", "--tpu", "train.py")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "train")
}

func TestRunTest(t *testing.T) {
	isolateHome(t)
	code, stdout, stderr := runCLIForTest(t, "test", "--num_processes", "3")
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "Test is a success! 3 replica(s)")
}

func TestRunTestUsesConfigProcessCount(t *testing.T) {
	isolateHome(t)
	writeConfig(t, config.DefaultConfigFile(), `{"distributed_type": "TPU", "num_processes": 2}`)

	code, stdout, stderr := runCLIForTest(t, "test")
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "2 replica(s)")
}

func TestExitStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "success", err: nil, want: 0},
		{name: "child exit code", err: &launch.ChildProcessError{ExitCode: 42, Cmd: []string{"py"}}, want: 42},
		{name: "wrapped child", err: fmt.Errorf("outer: %w", &launch.ChildProcessError{ExitCode: 7}), want: 7},
		{name: "other error", err: &launch.ImportError{Module: "x"}, want: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, _, _ := captureOutputWithExitCode(t, func() int { return exitStatus(tt.err) })
			assert.Equal(t, tt.want, code)
		})
	}
}

func TestConfigInitLockShowCheck(t *testing.T) {
	isolateHome(t)
	path := filepath.Join(t.TempDir(), "accel.yaml")

	code, stdout, stderr := runCLIForTest(t, "config", "init", "--config_file", path, "--yes")
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "saved at "+path)

	code, stdout, _ = runCLIForTest(t, "config", "show", "--config_file", path)
	require.Equal(t, 0, code)
	assert.Contains(t, stdout, "distributed_type:")
	assert.Contains(t, stdout, "NO")

	code, stdout, _ = runCLIForTest(t, "config", "show", "--config_file", path, "--json")
	require.Equal(t, 0, code)
	var shown config.LaunchConfig
	require.NoError(t, json.Unmarshal([]byte(stdout), &shown))
	assert.Equal(t, 1, shown.NumProcesses)

	// Unlocked config is valid but warns.
	code, _, _ = runCLIForTest(t, "config", "check", "--config_file", path)
	assert.Equal(t, 0, code)
	code, _, _ = runCLIForTest(t, "config", "check", "--config_file", path, "--strict")
	assert.Equal(t, 2, code)

	code, stdout, stderr = runCLIForTest(t, "config", "lock", "--config_file", path)
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "blake3:")
	assert.FileExists(t, config.ChecksumPath(path))

	code, stdout, _ = runCLIForTest(t, "config", "check", "--config_file", path, "--strict", "--json")
	assert.Equal(t, 0, code, stdout)
	assert.Contains(t, stdout, `"valid": true`)

	// Tampering after the lock is caught on load.
	require.NoError(t, os.WriteFile(path, []byte("distributed_type: TPU\nnum_processes: 8\n"), 0o644))
	code, _, stderr = runCLIForTest(t, "config", "check", "--config_file", path)
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "hash mismatch")

	code, _, stderr = runCLIForTest(t, "launch", "--config_file", path, "--dry_run", "train.py")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "hash mismatch")
}

func TestConfigInitKeepsExistingValues(t *testing.T) {
	isolateHome(t)
	path := config.DefaultConfigFile()
	writeConfig(t, path, `{"distributed_type": "MULTI_GPU", "num_processes": 8, "fp16": true}`)

	code, _, stderr := runCLIForTest(t, "config", "init", "--yes")
	require.Equal(t, 0, code, stderr)

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, config.DistributedMultiGPU, cfg.DistributedType)
	assert.Equal(t, 8, cfg.NumProcesses)
	assert.True(t, cfg.FP16)
	assert.Equal(t, config.ComputeLocalMachine, cfg.ComputeEnvironment)
}

func TestConfigErrors(t *testing.T) {
	isolateHome(t)

	code, _, _ := runCLIForTest(t, "config")
	assert.Equal(t, 1, code)

	code, _, stderr := runCLIForTest(t, "config", "frobnicate")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "Unknown config action")

	code, _, stderr = runCLIForTest(t, "config", "lock")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "Config not found")

	code, _, stderr = runCLIForTest(t, "config", "show")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "config file not found")
}

func TestRunEnv(t *testing.T) {
	isolateHome(t)
	t.Setenv(launch.EnvPython, "/opt/py/bin/python")

	code, stdout, _ := runCLIForTest(t, "env")
	require.Equal(t, 0, code)
	assert.Contains(t, stdout, "- Python interpreter: /opt/py/bin/python")
	assert.Contains(t, stdout, "- Default config: not found")
	assert.Contains(t, stdout, "selftest")

	writeConfig(t, config.DefaultConfigFile(), `{"distributed_type": "TPU", "num_processes": 8}`)
	code, stdout, _ = runCLIForTest(t, "env", "--json")
	require.Equal(t, 0, code)

	var report envReport
	require.NoError(t, json.Unmarshal([]byte(stdout), &report))
	assert.True(t, report.ConfigPresent)
	assert.False(t, report.Locked)
	require.NotNil(t, report.Config)
	assert.Equal(t, 8, report.Config.NumProcesses)
}

func TestPrintJSONReportsMarshalFailure(t *testing.T) {
	code, stdout, stderr := captureOutputWithExitCode(t, func() int {
		return printJSON(map[string]any{"bad": make(chan int)}, "env")
	})
	assert.Equal(t, 1, code)
	assert.Empty(t, stdout)
	assert.Contains(t, stderr, "Failed to render env JSON")

	code, stdout, _ = captureOutputWithExitCode(t, func() int {
		return printJSON(versionInfo{Version: "1.0.0"}, "version")
	})
	assert.Equal(t, 0, code)
	assert.Contains(t, stdout, `"version": "1.0.0"`)
}
