package launch

import (
	"fmt"
	"strings"
)

// InvalidConfigurationError reports a request that cannot be launched.
type InvalidConfigurationError struct {
	Field  string
	Reason string
}

func (e *InvalidConfigurationError) Error() string {
	if e.Field == "" {
		return "invalid launch configuration: " + e.Reason
	}
	return fmt.Sprintf("invalid launch configuration (%s): %s", e.Field, e.Reason)
}

func invalid(field, format string, args ...any) error {
	return &InvalidConfigurationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// ChildProcessError reports a child that exited with a non-zero status.
type ChildProcessError struct {
	ExitCode int
	Cmd      []string
}

func (e *ChildProcessError) Error() string {
	return fmt.Sprintf("command '%s' returned non-zero exit status %d", strings.Join(e.Cmd, " "), e.ExitCode)
}

// ImportError reports a TPU training module that has no registered entry point.
type ImportError struct {
	Module string
	Dir    string
}

func (e *ImportError) Error() string {
	return fmt.Sprintf("no module named %q (searched %s): register its entry function before launching", e.Module, e.Dir)
}
