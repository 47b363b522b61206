package flags

import (
	"fmt"

	"github.com/urfave/cli/v2"
)

const EnvVarPrefix = "COMPUTE_ACCEPTOR"

func prefixEnvVars(name string) []string {
	return []string{EnvVarPrefix + "_" + name}
}

var (
	ComposeFile = &cli.StringFlag{
		Name:    "compose-file",
		Value:   "docker-compose.yml",
		EnvVars: prefixEnvVars("COMPOSE_FILE"),
		Usage:   "Path to the compose file describing the compute and test services",
	}
	Profile = &cli.StringFlag{
		Name:    "profile",
		Value:   "test-extensions",
		EnvVars: prefixEnvVars("PROFILE"),
		Usage:   "Compose profile scoping every up/down/exec/cp operation",
	}
	Versions = &cli.StringFlag{
		Name:    "versions",
		Value:   "",
		EnvVars: []string{EnvVarPrefix + "_VERSIONS", "TEST_VERSION_ONLY"},
		Usage:   "Restrict the major versions tested (space or comma separated, eg. '16' or '14 15'); empty runs the full matrix",
	}
	MatrixFile = &cli.StringFlag{
		Name:    "matrix",
		Value:   "",
		EnvVars: prefixEnvVars("MATRIX"),
		Usage:   "Path to a YAML matrix file overriding the built-in defaults",
	}
	OutputDir = &cli.StringFlag{
		Name:    "output-dir",
		Value:   ".",
		EnvVars: prefixEnvVars("OUTPUT_DIR"),
		Usage:   "Directory for the harness capture file and failure artifacts",
	}
	ReadinessTimeout = &cli.DurationFlag{
		Name:    "readiness-timeout",
		Value:   0,
		EnvVars: prefixEnvVars("READINESS_TIMEOUT"),
		Usage:   "Ceiling for the compute readiness wait (eg. '60s'). Zero uses the matrix value.",
	}
	PollInterval = &cli.DurationFlag{
		Name:    "poll-interval",
		Value:   0,
		EnvVars: prefixEnvVars("POLL_INTERVAL"),
		Usage:   "Delay between readiness log checks. Zero uses the matrix value.",
	}
	RunInterval = &cli.DurationFlag{
		Name:    "run-interval",
		Value:   0,
		EnvVars: prefixEnvVars("RUN_INTERVAL"),
		Usage:   "Interval between matrix runs (e.g. '1h', '30m'). Set to 0 or omit for run-once mode.",
	}
	DatabaseURI = &cli.StringFlag{
		Name:    "database-uri",
		Value:   "",
		EnvVars: prefixEnvVars("DATABASE_URI"),
		Usage:   "Postgres URI for recording run results; empty disables persistence",
	}
	DockerBinary = &cli.StringFlag{
		Name:    "docker-binary",
		Value:   "docker",
		EnvVars: prefixEnvVars("DOCKER_BINARY"),
		Usage:   "Path to the docker binary used for every compose operation",
	}
	LogLevel = &cli.StringFlag{
		Name:    "log-level",
		Value:   "info",
		EnvVars: prefixEnvVars("LOG_LEVEL"),
		Usage:   "Log level: debug, info, warn, error",
	}
	LogFormat = &cli.StringFlag{
		Name:    "log-format",
		Value:   "text",
		EnvVars: prefixEnvVars("LOG_FORMAT"),
		Usage:   "Log format: text or json",
	}
)

var requiredFlags = []cli.Flag{
	ComposeFile,
}

var optionalFlags = []cli.Flag{
	Profile,
	Versions,
	MatrixFile,
	OutputDir,
	ReadinessTimeout,
	PollInterval,
	RunInterval,
	DatabaseURI,
	DockerBinary,
	LogLevel,
	LogFormat,
}

var Flags []cli.Flag

func init() {
	Flags = append(requiredFlags, optionalFlags...)
}

func CheckRequired(ctx *cli.Context) error {
	for _, f := range requiredFlags {
		name := f.Names()[0]
		if ctx.String(name) == "" {
			return fmt.Errorf("flag %s is required", name)
		}
	}
	return nil
}
