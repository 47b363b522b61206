package runner

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dbforge/compute-acceptor/compose"
	"github.com/dbforge/compute-acceptor/registry"
	"github.com/dbforge/compute-acceptor/types"
)

type execCall struct {
	service string
	env     map[string]string
	command []string
}

type copyCall struct {
	service string
	remote  string
	local   string
}

// fakeCompose is a scriptable in-memory ComposeClient.
type fakeCompose struct {
	mu sync.Mutex

	downCalls int
	upEnvs    []map[string]string
	logsCalls int
	execCalls []execCall
	copiesOut []copyCall
	copiesIn  []copyCall

	// logsScript returns the log output for the nth logs call (0-based).
	logsScript func(call int) string
	// execErr returns the error for an exec call, keyed by the command path.
	execErr map[string]error
	// execOutput is written to the exec writer, keyed by the command path.
	execOutput map[string]string
	// copyFromErr forces CopyFrom failures when the remote path contains the key.
	copyFromErr map[string]error
	// copyFromContent, when set, writes a file named after the remote base
	// into the local destination directory.
	copyFromContent map[string]string

	upErr   error
	downErr error
}

func (f *fakeCompose) Up(ctx context.Context, env map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upEnvs = append(f.upEnvs, env)
	return f.upErr
}

func (f *fakeCompose) Down(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.downCalls++
	return f.downErr
}

func (f *fakeCompose) Logs(ctx context.Context, service string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	call := f.logsCalls
	f.logsCalls++
	if f.logsScript == nil {
		return "", nil
	}
	return f.logsScript(call), nil
}

func (f *fakeCompose) PS(ctx context.Context) (string, error) {
	return "", nil
}

func (f *fakeCompose) Exec(ctx context.Context, service string, env map[string]string, stdout io.Writer, command ...string) error {
	f.mu.Lock()
	f.execCalls = append(f.execCalls, execCall{service: service, env: env, command: command})
	f.mu.Unlock()
	key := command[len(command)-1]
	if out, ok := f.execOutput[key]; ok {
		_, _ = io.WriteString(stdout, out)
	}
	if err, ok := f.execErr[key]; ok {
		return err
	}
	return nil
}

func (f *fakeCompose) CopyFrom(ctx context.Context, service, remotePath, localPath string) error {
	f.mu.Lock()
	f.copiesOut = append(f.copiesOut, copyCall{service: service, remote: remotePath, local: localPath})
	f.mu.Unlock()
	for key, err := range f.copyFromErr {
		if key != "" && containsPath(remotePath, key) {
			return err
		}
	}
	for key, content := range f.copyFromContent {
		if containsPath(remotePath, key) {
			dst := localPath
			if fi, err := os.Stat(localPath); err == nil && fi.IsDir() {
				dst = filepath.Join(localPath, filepath.Base(remotePath))
			}
			return os.WriteFile(dst, []byte(content), 0o644)
		}
	}
	return nil
}

func (f *fakeCompose) CopyTo(ctx context.Context, localPath, service, remotePath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.copiesIn = append(f.copiesIn, copyCall{service: service, remote: remotePath, local: localPath})
	return nil
}

func containsPath(p, key string) bool {
	return key != "" && bytes.Contains([]byte(p), []byte(key))
}

// harnessExecCount returns how many exec calls ran the harness entrypoint.
func (f *fakeCompose) harnessExecCount(path string) int {
	n := 0
	for _, c := range f.execCalls {
		if c.command[len(c.command)-1] == path {
			n++
		}
	}
	return n
}

func newTestMatrix(t *testing.T, versions ...int) *registry.Registry {
	t.Helper()
	reg, err := registry.NewRegistry(registry.Config{Versions: versions})
	require.NoError(t, err)
	m := reg.Matrix()
	m.PollInterval = registry.Duration(time.Millisecond)
	m.ReadinessTimeout = registry.Duration(250 * time.Millisecond)
	return reg
}

func newTestRunner(t *testing.T, reg *registry.Registry, fake *fakeCompose) (*runner, *bytes.Buffer) {
	t.Helper()
	out := &bytes.Buffer{}
	r, err := NewRunner(Config{
		Registry:  reg,
		Compose:   fake,
		Log:       slog.New(slog.NewTextHandler(io.Discard, nil)),
		OutputDir: t.TempDir(),
		Output:    out,
	})
	require.NoError(t, err)
	return r.(*runner), out
}

func readyLogs(call int) string {
	return "compute-1 | database system is ready: accepting connections"
}

func TestRunVersionsAllPass(t *testing.T) {
	fake := &fakeCompose{logsScript: readyLogs}
	reg := newTestMatrix(t, 14, 16)
	r, _ := newTestRunner(t, reg, fake)

	result, err := r.RunVersions(context.Background())
	require.NoError(t, err)

	assert.Equal(t, types.StatusPass, result.Status)
	require.Len(t, result.Versions, 2)
	assert.Equal(t, 2, result.Stats.Passed)
	assert.NotEmpty(t, result.RunID)

	// cleanup precedes setup on every iteration
	assert.Equal(t, 2, fake.downCalls)
	require.Len(t, fake.upEnvs, 2)
	// version below the minimum test variant is coerced up
	assert.Equal(t, map[string]string{"PG_VERSION": "14", "PG_TEST_VERSION": "16"}, fake.upEnvs[0])
	assert.Equal(t, map[string]string{"PG_VERSION": "16", "PG_TEST_VERSION": "16"}, fake.upEnvs[1])
	// harness ran for both versions, fixups only for >= 16
	assert.Equal(t, 2, fake.harnessExecCount(reg.Matrix().HarnessPath))
	assert.Equal(t, 1, fake.harnessExecCount(reg.Matrix().OverrideFile))
}

func TestRunVersionsFailsFastOnSuiteFailure(t *testing.T) {
	reg := newTestMatrix(t, 16, 17)
	m := reg.Matrix()
	fake := &fakeCompose{
		logsScript: readyLogs,
		execErr:    map[string]error{m.HarnessPath: &compose.ExitError{Code: 1}},
		execOutput: map[string]string{m.HarnessPath: "running suites...\npg_hint_plan-src\n"},
	}
	r, _ := newTestRunner(t, reg, fake)

	result, err := r.RunVersions(context.Background())
	require.Error(t, err)
	assert.True(t, IsSuiteFailure(err))

	assert.Equal(t, types.StatusFail, result.Status)
	// second version never attempted
	require.Len(t, result.Versions, 1)
	assert.Equal(t, []string{"pg_hint_plan-src"}, result.Versions[0].FailedSuites)
	assert.Equal(t, 1, fake.harnessExecCount(m.HarnessPath))
}

func TestReadinessTimeoutAbortsBeforeSmoke(t *testing.T) {
	reg := newTestMatrix(t, 14)
	fake := &fakeCompose{logsScript: func(int) string { return "still starting up" }}
	r, _ := newTestRunner(t, reg, fake)

	result, err := r.RunVersions(context.Background())
	require.Error(t, err)
	assert.True(t, IsReadinessTimeout(err))

	require.Len(t, result.Versions, 1)
	assert.Equal(t, types.StatusTimeout, result.Versions[0].Status)
	assert.Equal(t, types.StatusFail, result.Status)
	// no smoke query, no harness
	assert.Empty(t, fake.execCalls)
}

func TestSmokeQueryRunsOnceAfterReadiness(t *testing.T) {
	reg := newTestMatrix(t, 14)
	// marker appears only at the second poll
	fake := &fakeCompose{logsScript: func(call int) string {
		if call == 0 {
			return "starting"
		}
		return "accepting connections"
	}}
	r, _ := newTestRunner(t, reg, fake)

	_, err := r.RunVersions(context.Background())
	require.NoError(t, err)

	assert.GreaterOrEqual(t, fake.logsCalls, 2)
	smoke := 0
	for _, c := range fake.execCalls {
		if c.service == reg.Matrix().ComputeService && c.command[0] == "/bin/bash" {
			smoke++
		}
	}
	assert.Equal(t, 1, smoke)
}

func TestRunVersionsUpFailureIsRuntime(t *testing.T) {
	reg := newTestMatrix(t, 14)
	fake := &fakeCompose{upErr: fmt.Errorf("compose up: boom")}
	r, _ := newTestRunner(t, reg, fake)

	result, err := r.RunVersions(context.Background())
	require.Error(t, err)
	assert.False(t, IsSuiteFailure(err))
	assert.False(t, IsReadinessTimeout(err))
	assert.Equal(t, types.StatusError, result.Versions[0].Status)
}

func TestRunVersionsContextCancellation(t *testing.T) {
	reg := newTestMatrix(t, 14)
	fake := &fakeCompose{logsScript: func(int) string { return "starting" }}
	r, _ := newTestRunner(t, reg, fake)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := r.RunVersions(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}
