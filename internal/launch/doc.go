// Package launch turns a launch request into exactly one running training job.
//
// A Dispatcher validates the request, fills unset fields from persisted
// defaults, and picks one of three strategies:
//   - single process: `python script args...`
//   - multi-GPU: `python -m torch.distributed.launch --nproc_per_node N ... script args...`
//   - TPU: no subprocess; a registered EntryFunc is spawned once per core
//
// Subprocess strategies block until the child exits. Each child gets a copy
// of the parent environment with USE_FP16 and ACCELERATE_LAUNCH_ID set.
// A non-zero exit becomes a *ChildProcessError carrying the exit code and
// the exact command.
//
// Error handling:
//   - --multi_gpu together with --tpu → *InvalidConfigurationError, nothing spawned
//   - inconsistent topology or process counts → *InvalidConfigurationError
//   - child exits non-zero → *ChildProcessError
//   - TPU module not registered → *ImportError
//
// Nothing is retried.
package launch
