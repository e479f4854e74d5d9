package entries

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/accel/internal/launch"
	"github.com/mattjoyce/accel/internal/log"
)

func TestMain(m *testing.M) {
	log.Setup("ERROR", "json")
	os.Exit(m.Run())
}

func TestRegister(t *testing.T) {
	reg := launch.NewRegistry()
	require.NoError(t, Register(reg))
	_, ok := reg.Lookup(SelfTestModule)
	assert.True(t, ok)
	assert.Error(t, Register(reg), "second registration must fail")
}

func TestSelfTest(t *testing.T) {
	tests := []struct {
		name    string
		replica launch.Replica
		wantErr string
	}{
		{
			name:    "valid",
			replica: launch.Replica{Index: 1, NumProcesses: 4, Argv: []string{"selftest", "--tpu_num_cores", "4"}},
		},
		{
			name:    "missing flag",
			replica: launch.Replica{Index: 0, NumProcesses: 1, Argv: []string{"selftest"}},
			wantErr: "missing",
		},
		{
			name:    "mismatched cores",
			replica: launch.Replica{Index: 0, NumProcesses: 2, Argv: []string{"selftest", "--tpu_num_cores", "8"}},
			wantErr: "replicas were spawned",
		},
		{
			name:    "non numeric",
			replica: launch.Replica{Index: 0, NumProcesses: 2, Argv: []string{"selftest", "--tpu_num_cores", "x"}},
			wantErr: "not a number",
		},
		{
			name:    "index out of range",
			replica: launch.Replica{Index: 5, NumProcesses: 2, Argv: []string{"selftest", "--tpu_num_cores", "2"}},
			wantErr: "outside",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := SelfTest(context.Background(), tt.replica)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestSelfTestThroughDispatcher(t *testing.T) {
	reg := launch.NewRegistry()
	require.NoError(t, Register(reg))

	d := launch.New(launch.Options{Registry: reg, Interpreter: "python3"})
	err := d.Launch(context.Background(), launch.Request{
		TPU:            true,
		NumProcesses:   4,
		TrainingScript: SelfTestModule + ".go",
	}, nil)
	require.NoError(t, err)
}

func TestSelfTestCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := SelfTest(ctx, launch.Replica{NumProcesses: 1, Argv: []string{"--tpu_num_cores", "1"}})
	assert.ErrorIs(t, err, context.Canceled)
}
