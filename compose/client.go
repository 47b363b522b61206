// Package compose wraps the docker compose CLI used to drive the test
// environment. All container lifecycle operations go through subprocess
// invocations; the command runner is injectable for testing.
package compose

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sort"

	"github.com/pkg/errors"
)

const DefaultDockerBinary = "docker"

// ExitError reports a command that started successfully but exited non-zero.
// The harness run depends on distinguishing this from invocation failures.
type ExitError struct {
	Code int
	Argv []string
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("command %v exited with code %d", e.Argv, e.Code)
}

// ExitCode extracts the exit code from an ExitError, if err is one.
func ExitCode(err error) (int, bool) {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code, true
	}
	return 0, false
}

// CommandRunner executes a command line. env entries ("KEY=VALUE") are
// appended to the inherited environment. Implementations return *ExitError
// for non-zero exits so callers can classify them.
type CommandRunner interface {
	Run(ctx context.Context, env []string, stdout, stderr io.Writer, argv ...string) error
}

// execRunner is the production CommandRunner backed by os/exec.
type execRunner struct{}

func (execRunner) Run(ctx context.Context, env []string, stdout, stderr io.Writer, argv ...string) error {
	if len(argv) == 0 {
		return errors.New("empty command")
	}
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Env = append(os.Environ(), env...)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return &ExitError{Code: exitErr.ExitCode(), Argv: argv}
		}
		return errors.Wrapf(err, "running %v", argv)
	}
	return nil
}

// Config contains the compose client configuration.
type Config struct {
	ComposeFile  string // Path to the compose file
	Profile      string // Compose profile scoping every operation, may be empty
	DockerBinary string // Defaults to "docker"
	Log          *slog.Logger
	Runner       CommandRunner // Defaults to an os/exec backed runner
}

// Client is a thin wrapper over `docker compose` scoped to one compose file
// and profile. It holds no state of its own; container state lives entirely
// in the runtime.
type Client struct {
	file    string
	profile string
	binary  string
	log     *slog.Logger
	runner  CommandRunner
}

func NewClient(cfg Config) (*Client, error) {
	if cfg.ComposeFile == "" {
		return nil, errors.New("compose file is required")
	}
	if cfg.DockerBinary == "" {
		cfg.DockerBinary = DefaultDockerBinary
	}
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	if cfg.Runner == nil {
		cfg.Runner = execRunner{}
	}
	return &Client{
		file:    cfg.ComposeFile,
		profile: cfg.Profile,
		binary:  cfg.DockerBinary,
		log:     cfg.Log,
		runner:  cfg.Runner,
	}, nil
}

// baseArgs returns the common `docker compose` prefix with file and profile.
func (c *Client) baseArgs() []string {
	args := []string{c.binary, "compose"}
	if c.profile != "" {
		args = append(args, "--profile", c.profile)
	}
	args = append(args, "-f", c.file)
	return args
}

// Version returns the `docker compose version` output, used as an early
// sanity check that the runtime is reachable.
func (c *Client) Version(ctx context.Context) (string, error) {
	var out bytes.Buffer
	argv := []string{c.binary, "compose", "version"}
	if err := c.runner.Run(ctx, nil, &out, &out, argv...); err != nil {
		return "", errors.Wrap(err, "compose version")
	}
	return out.String(), nil
}

// Up builds and starts the environment detached. env entries are visible to
// the compose file for variable interpolation and build args.
func (c *Client) Up(ctx context.Context, env map[string]string) error {
	argv := append(c.baseArgs(), "up", "--build", "-d")
	c.log.Info("starting compose environment", "file", c.file, "profile", c.profile)
	if err := c.runner.Run(ctx, flattenEnv(env), os.Stdout, os.Stderr, argv...); err != nil {
		return errors.Wrap(err, "compose up")
	}
	return nil
}

// Down stops and removes the environment. Idempotent: running it against an
// already-clean environment succeeds.
func (c *Client) Down(ctx context.Context) error {
	argv := append(c.baseArgs(), "down")
	c.log.Info("stopping compose environment", "file", c.file, "profile", c.profile)
	if err := c.runner.Run(ctx, nil, os.Stdout, os.Stderr, argv...); err != nil {
		return errors.Wrap(err, "compose down")
	}
	return nil
}

// Logs returns the accumulated log output of one service.
func (c *Client) Logs(ctx context.Context, service string) (string, error) {
	var out bytes.Buffer
	argv := append(c.baseArgs(), "logs", "--no-color", service)
	if err := c.runner.Run(ctx, nil, &out, io.Discard, argv...); err != nil {
		return "", errors.Wrapf(err, "compose logs %s", service)
	}
	return out.String(), nil
}

// PS returns the container status listing for the project.
func (c *Client) PS(ctx context.Context) (string, error) {
	var out bytes.Buffer
	argv := append(c.baseArgs(), "ps", "-a")
	if err := c.runner.Run(ctx, nil, &out, io.Discard, argv...); err != nil {
		return "", errors.Wrap(err, "compose ps")
	}
	return out.String(), nil
}

// Exec runs a command inside a service container, streaming combined output
// to stdout. env entries are exported into the container process.
func (c *Client) Exec(ctx context.Context, service string, env map[string]string, stdout io.Writer, command ...string) error {
	if len(command) == 0 {
		return errors.New("exec requires a command")
	}
	argv := append(c.baseArgs(), "exec", "-T")
	for _, kv := range flattenEnv(env) {
		argv = append(argv, "-e", kv)
	}
	argv = append(argv, service)
	argv = append(argv, command...)
	if stdout == nil {
		stdout = os.Stdout
	}
	if err := c.runner.Run(ctx, nil, stdout, stdout, argv...); err != nil {
		if _, ok := ExitCode(err); ok {
			return err // preserve the exit code for callers
		}
		return errors.Wrapf(err, "compose exec %s", service)
	}
	return nil
}

// CopyFrom copies a path out of a service container to the local filesystem.
func (c *Client) CopyFrom(ctx context.Context, service, remotePath, localPath string) error {
	argv := append(c.baseArgs(), "cp", fmt.Sprintf("%s:%s", service, remotePath), localPath)
	if err := c.runner.Run(ctx, nil, io.Discard, io.Discard, argv...); err != nil {
		return errors.Wrapf(err, "compose cp from %s:%s", service, remotePath)
	}
	return nil
}

// CopyTo copies a local path into a service container. Direct
// container-to-container copies are not supported by the runtime, so
// cross-container moves must stage through CopyFrom + CopyTo.
func (c *Client) CopyTo(ctx context.Context, localPath, service, remotePath string) error {
	argv := append(c.baseArgs(), "cp", localPath, fmt.Sprintf("%s:%s", service, remotePath))
	if err := c.runner.Run(ctx, nil, io.Discard, io.Discard, argv...); err != nil {
		return errors.Wrapf(err, "compose cp to %s:%s", service, remotePath)
	}
	return nil
}

// flattenEnv converts an env map to sorted KEY=VALUE form. Sorted so that
// invocations are deterministic and assertable in tests.
func flattenEnv(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, fmt.Sprintf("%s=%s", k, v))
	}
	sort.Strings(out)
	return out
}
