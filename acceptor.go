// Package acceptor ties the pieces together: it resolves the matrix,
// builds the compose client and runner, and runs acceptance cycles either
// once or on an interval.
package acceptor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dbforge/compute-acceptor/compose"
	"github.com/dbforge/compute-acceptor/exitcodes"
	"github.com/dbforge/compute-acceptor/registry"
	"github.com/dbforge/compute-acceptor/results"
	"github.com/dbforge/compute-acceptor/runner"
	"github.com/dbforge/compute-acceptor/types"
)

// acceptor runs compute-image acceptance tests across the version matrix.
type acceptor struct {
	ctx      context.Context
	config   *Config
	version  string
	registry *registry.Registry
	runner   runner.Runner
	store    results.Store
	result   *types.RunResult

	running atomic.Bool
	done    chan struct{}
	wg      sync.WaitGroup

	shutdownCallback func(error) // Callback to signal application shutdown
}

func New(ctx context.Context, config *Config, version string, shutdownCallback func(error)) (*acceptor, error) {
	if config == nil {
		return nil, errors.New("config is required")
	}

	config.Log.Debug("creating acceptor",
		"composeFile", config.ComposeFile,
		"profile", config.Profile,
		"versions", config.Versions,
		"runInterval", config.RunInterval,
		"runOnce", config.RunOnce)

	reg, err := registry.NewRegistry(registry.Config{
		Log:        config.Log,
		MatrixFile: config.MatrixFile,
		Versions:   config.Versions,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create registry: %w", err)
	}

	// Timing flags override whatever the matrix resolved to.
	m := reg.Matrix()
	if config.ReadinessTimeout > 0 {
		m.ReadinessTimeout = registry.Duration(config.ReadinessTimeout)
	}
	if config.PollInterval > 0 {
		m.PollInterval = registry.Duration(config.PollInterval)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}

	composeClient, err := compose.NewClient(compose.Config{
		ComposeFile:  config.ComposeFile,
		Profile:      config.Profile,
		DockerBinary: config.DockerBinary,
		Log:          config.Log,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create compose client: %w", err)
	}

	versionRunner, err := runner.NewRunner(runner.Config{
		Registry:  reg,
		Compose:   composeClient,
		Log:       config.Log,
		OutputDir: config.OutputDir,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create runner: %w", err)
	}

	var store results.Store = results.NopStore{}
	if config.DatabaseURI != "" {
		store, err = results.New(ctx, config.DatabaseURI)
		if err != nil {
			return nil, fmt.Errorf("failed to create results store: %w", err)
		}
		config.Log.Info("results persistence enabled")
	}

	return &acceptor{
		ctx:              ctx,
		config:           config,
		version:          version,
		registry:         reg,
		runner:           versionRunner,
		store:            store,
		done:             make(chan struct{}),
		shutdownCallback: shutdownCallback,
	}, nil
}

// Start runs the acceptance matrix, once or periodically at the configured
// interval.
func (a *acceptor) Start(ctx context.Context) error {
	// Panic safety net: runtime errors must exit with code 2.
	defer func() {
		if r := recover(); r != nil {
			a.config.Log.Error("runtime error occurred", "error", r)
			os.Exit(exitcodes.RuntimeErr)
		}
	}()

	a.ctx = ctx
	a.done = make(chan struct{})
	a.running.Store(true)

	if a.config.RunOnce {
		a.config.Log.Info("starting compute-acceptor in run-once mode", "version", a.version)
	} else {
		a.config.Log.Info("starting compute-acceptor in continuous mode",
			"version", a.version, "interval", a.config.RunInterval)
	}

	err := a.runMatrix(ctx)
	if a.config.RunOnce {
		a.store.Close()
		if err != nil {
			return err
		}
		a.config.Log.Info("run completed, exiting (run-once mode)")
		go func() {
			a.shutdownCallback(nil)
		}()
		return nil
	}
	if err != nil {
		// In continuous mode a failed run is reported and the next tick
		// tries again; only runtime errors abort the service.
		if IsRuntimeError(err) {
			a.store.Close()
			return err
		}
		a.config.Log.Warn("matrix run failed, continuing", "error", err)
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		for {
			select {
			case <-time.After(a.config.RunInterval):
				if !a.running.Load() {
					return
				}
				a.config.Log.Info("running periodic acceptance matrix")
				if err := a.runMatrix(ctx); err != nil {
					a.config.Log.Error("error running periodic matrix", "error", err)
				}
			case <-a.done:
				a.config.Log.Debug("done signal received, stopping periodic runner")
				return
			case <-ctx.Done():
				a.config.Log.Debug("context canceled, stopping periodic runner")
				a.running.Store(false)
				return
			}
		}
	}()
	return nil
}

// runMatrix runs the whole version matrix once and processes the results.
// The returned error is typed: TestFailureError for readiness timeouts and
// suite failures, RuntimeError for everything else.
func (a *acceptor) runMatrix(ctx context.Context) error {
	result, err := a.runner.RunVersions(ctx)
	a.result = result

	if result != nil {
		a.printResultsTable(result)
		fmt.Println(result.String())
		if serr := a.store.RecordRun(ctx, result); serr != nil {
			a.config.Log.Error("failed to record run", "error", serr)
		}
	}

	if err != nil {
		if runner.IsSuiteFailure(err) || runner.IsReadinessTimeout(err) {
			return NewTestFailureError(err.Error())
		}
		return NewRuntimeError(err)
	}
	a.config.Log.Info("matrix run completed",
		"run_id", result.RunID, "status", result.Status)
	return nil
}

// Stop stops the acceptor service.
func (a *acceptor) Stop(ctx context.Context) error {
	a.config.Log.Info("stopping compute-acceptor")

	if !a.running.Load() {
		a.config.Log.Debug("service already stopped, nothing to do")
		return nil
	}

	a.running.Store(false)
	close(a.done)
	a.wg.Wait()
	a.store.Close()

	a.config.Log.Info("compute-acceptor stopped")
	return nil
}

// Stopped returns true if the acceptor service is stopped.
func (a *acceptor) Stopped() bool {
	return !a.running.Load()
}

// Result returns the most recent run result.
func (a *acceptor) Result() *types.RunResult {
	return a.result
}
