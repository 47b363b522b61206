// Package runner drives the acceptance cycle for each database major
// version: teardown of leftovers, environment startup, readiness wait,
// smoke query, version fixups, and the extension regression harness.
package runner

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/dbforge/compute-acceptor/compose"
	"github.com/dbforge/compute-acceptor/metrics"
	"github.com/dbforge/compute-acceptor/registry"
	"github.com/dbforge/compute-acceptor/types"
)

// ComposeClient is the subset of the compose client the runner needs.
type ComposeClient interface {
	Up(ctx context.Context, env map[string]string) error
	Down(ctx context.Context) error
	Logs(ctx context.Context, service string) (string, error)
	PS(ctx context.Context) (string, error)
	Exec(ctx context.Context, service string, env map[string]string, stdout io.Writer, command ...string) error
	CopyFrom(ctx context.Context, service, remotePath, localPath string) error
	CopyTo(ctx context.Context, localPath, service, remotePath string) error
}

var _ ComposeClient = (*compose.Client)(nil)

// Runner runs the whole version matrix.
type Runner interface {
	RunVersions(ctx context.Context) (*types.RunResult, error)
}

// Config contains the runner configuration.
type Config struct {
	Registry  *registry.Registry
	Compose   ComposeClient
	Log       *slog.Logger
	OutputDir string    // Where the capture file and failure artifacts land
	Output    io.Writer // Harness and diagnostic output, defaults to os.Stdout
}

type runner struct {
	matrix  *registry.Matrix
	compose ComposeClient
	log     *slog.Logger
	outDir  string
	out     io.Writer
	tracer  trace.Tracer
	runID   string

	// sleep and now are injectable for tests of the bounded readiness wait.
	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

// NewRunner creates a runner for the resolved matrix.
func NewRunner(cfg Config) (Runner, error) {
	if cfg.Registry == nil {
		return nil, fmt.Errorf("registry is required")
	}
	if cfg.Compose == nil {
		return nil, fmt.Errorf("compose client is required")
	}
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	if cfg.OutputDir == "" {
		cfg.OutputDir = "."
	}
	if cfg.Output == nil {
		cfg.Output = os.Stdout
	}
	return &runner{
		matrix:  cfg.Registry.Matrix(),
		compose: cfg.Compose,
		log:     cfg.Log,
		outDir:  cfg.OutputDir,
		out:     cfg.Output,
		tracer:  otel.Tracer("version runner"),
		sleep:   sleepCtx,
		now:     time.Now,
	}, nil
}

// RunVersions implements the Runner interface. It aborts on the first
// version whose cycle fails; remaining versions are not attempted.
func (r *runner) RunVersions(ctx context.Context) (*types.RunResult, error) {
	r.runID = uuid.New().String()
	defer func() {
		r.runID = ""
	}()

	start := r.now()
	result := &types.RunResult{
		RunID: r.runID,
		Stats: types.RunStats{StartTime: start},
	}
	r.log.Info("starting matrix run", "run_id", result.RunID, "versions", r.matrix.Versions)

	var runErr error
	for _, version := range r.matrix.Versions {
		vres, err := r.runVersion(ctx, version)
		result.AddVersion(vres)
		metrics.RecordVersionResult(result.RunID, vres)
		if err != nil {
			r.log.Error("version cycle failed, aborting run",
				"version", version, "status", vres.Status, "error", err)
			runErr = err
			break
		}
	}

	result.Duration = r.now().Sub(start)
	result.Stats.EndTime = r.now()
	result.Status = types.DetermineRunStatus(result)
	metrics.RecordRun(result.Status)
	return result, runErr
}

// runVersion performs one full cycle for a single major version. The
// returned result is always non-nil; err is non-nil whenever the cycle
// must abort the run.
func (r *runner) runVersion(ctx context.Context, version int) (*types.VersionResult, error) {
	ctx, span := r.tracer.Start(ctx, fmt.Sprintf("version %d", version))
	defer span.End()

	vres := &types.VersionResult{
		Version:     version,
		TestVersion: r.matrix.TestVersion(version),
	}
	start := r.now()
	defer func() {
		vres.Duration = r.now().Sub(start)
	}()

	r.log.Info("starting version cycle",
		"version", version, "test_version", vres.TestVersion)

	// Cleanup runs before setup, not after: a failing run deliberately
	// leaves its containers behind for inspection until the next run.
	if ps, err := r.compose.PS(ctx); err == nil && ps != "" {
		r.log.Debug("container status before teardown", "ps", ps)
	}
	if err := r.compose.Down(ctx); err != nil {
		vres.Status = types.StatusError
		vres.Err = err
		return vres, fmt.Errorf("cleanup before version %d: %w", version, err)
	}

	env := map[string]string{
		"PG_VERSION":      strconv.Itoa(version),
		"PG_TEST_VERSION": strconv.Itoa(vres.TestVersion),
	}
	if err := r.compose.Up(ctx, env); err != nil {
		vres.Status = types.StatusError
		vres.Err = err
		return vres, fmt.Errorf("starting environment for version %d: %w", version, err)
	}

	readyAfter, err := r.waitForReadiness(ctx, r.now().Add(time.Duration(r.matrix.ReadinessTimeout)))
	if err != nil {
		if IsReadinessTimeout(err) {
			vres.Status = types.StatusTimeout
		} else {
			vres.Status = types.StatusError
		}
		vres.Err = err
		return vres, err
	}
	vres.ReadyAfter = readyAfter
	metrics.RecordReadinessWait(r.runID, version, readyAfter)
	r.log.Info("compute is ready", "version", version, "after", readyAfter.Round(time.Millisecond))

	if err := r.smokeQuery(ctx); err != nil {
		vres.Status = types.StatusError
		vres.Err = err
		return vres, fmt.Errorf("smoke query for version %d: %w", version, err)
	}

	// Fixups only apply at or above the fixup version and only once the
	// compute has started: the override file's directory is created lazily
	// by the compute process itself.
	if r.matrix.NeedsFixups(version) {
		if err := r.applyFixups(ctx); err != nil {
			vres.Status = types.StatusError
			vres.Err = err
			return vres, fmt.Errorf("fixups for version %d: %w", version, err)
		}
	}

	failed, err := r.runHarness(ctx, version)
	if err != nil {
		vres.FailedSuites = failed
		if IsSuiteFailure(err) {
			vres.Status = types.StatusFail
		} else {
			vres.Status = types.StatusError
		}
		vres.Err = err
		return vres, err
	}

	vres.Status = types.StatusPass
	r.log.Info("version cycle passed", "version", version)
	return vres, nil
}

// smokeQuery executes exactly one query through the command-line client
// inside the compute container.
func (r *runner) smokeQuery(ctx context.Context) error {
	r.log.Info("executing smoke query", "command", r.matrix.SmokeCommand)
	return r.compose.Exec(ctx, r.matrix.ComputeService, nil, r.out,
		"/bin/bash", "-c", r.matrix.SmokeCommand)
}

// sleepCtx sleeps for d or until the context is canceled.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
