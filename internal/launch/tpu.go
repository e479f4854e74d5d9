package launch

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/mattjoyce/accel/internal/log"
)

// Replica describes one spawned copy of a TPU training entry.
type Replica struct {
	Index          int
	NumProcesses   int
	Argv           []string
	LaunchID       string
	MixedPrecision bool
}

// EntryFunc is a training module's per-core entry point.
type EntryFunc func(ctx context.Context, r Replica) error

// Registry maps module names to entry points. A module name is the
// training script's file name without its extension.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]EntryFunc
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]EntryFunc)}
}

// Register adds fn under module. Names must be unique.
func (r *Registry) Register(module string, fn EntryFunc) error {
	if module == "" {
		return fmt.Errorf("module name is empty")
	}
	if fn == nil {
		return fmt.Errorf("module %q: entry function is nil", module)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[module]; exists {
		return fmt.Errorf("module %q already registered", module)
	}
	r.entries[module] = fn
	return nil
}

// Lookup returns the entry point for module.
func (r *Registry) Lookup(module string) (EntryFunc, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.entries[module]
	return fn, ok
}

// Modules returns registered module names, sorted.
func (r *Registry) Modules() []string {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ModuleForScript splits a script path into its absolute directory and
// module name: foo/bar.py → (/abs/foo, bar).
func ModuleForScript(script string) (dir, module string, err error) {
	dir, err = filepath.Abs(filepath.Dir(script))
	if err != nil {
		return "", "", fmt.Errorf("resolve script directory: %w", err)
	}
	base := filepath.Base(script)
	module = strings.TrimSuffix(base, filepath.Ext(base))
	return dir, module, nil
}

// Spawner runs nprocs replicas of fn and waits for all of them.
type Spawner interface {
	Spawn(ctx context.Context, fn EntryFunc, replicas []Replica) error
}

// LocalSpawner runs replicas as goroutines in this process.
// The first failure cancels the others' context and is returned.
type LocalSpawner struct{}

func (LocalSpawner) Spawn(ctx context.Context, fn EntryFunc, replicas []Replica) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, r := range replicas {
		g.Go(func() (err error) {
			logger := log.WithReplica(r.LaunchID, r.Index)
			defer func() {
				if p := recover(); p != nil {
					err = fmt.Errorf("replica %d panicked: %v", r.Index, p)
				}
			}()
			logger.Debug("replica started")
			if err := fn(gctx, r); err != nil {
				logger.Warn("replica failed", "error", err)
				return fmt.Errorf("replica %d: %w", r.Index, err)
			}
			logger.Debug("replica finished")
			return nil
		})
	}
	return g.Wait()
}

func buildReplicas(p Parameters, argv []string, launchID string) []Replica {
	replicas := make([]Replica, p.NumProcesses)
	for i := range replicas {
		replicas[i] = Replica{
			Index:          i,
			NumProcesses:   p.NumProcesses,
			Argv:           append([]string(nil), argv...),
			LaunchID:       launchID,
			MixedPrecision: p.MixedPrecision,
		}
	}
	return replicas
}
