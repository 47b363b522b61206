package acceptor

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/dbforge/compute-acceptor/flags"
)

// Config holds the application configuration
type Config struct {
	ComposeFile      string
	Profile          string
	DockerBinary     string
	MatrixFile       string
	Versions         []int         // Optional restriction of the matrix versions
	OutputDir        string        // Where capture files and failure artifacts land
	ReadinessTimeout time.Duration // Zero means "use the matrix value"
	PollInterval     time.Duration // Zero means "use the matrix value"
	RunInterval      time.Duration // Interval between matrix runs
	RunOnce          bool          // Indicates if the service should exit after one run
	DatabaseURI      string        // Optional Postgres URI for result persistence
	Log              *slog.Logger
}

// NewConfig creates a new Config from cli context
func NewConfig(ctx *cli.Context, log *slog.Logger) (*Config, error) {
	if err := flags.CheckRequired(ctx); err != nil {
		return nil, fmt.Errorf("missing required flags: %w", err)
	}

	composeFile, err := filepath.Abs(ctx.String(flags.ComposeFile.Name))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve compose file path: %w", err)
	}

	outputDir, err := filepath.Abs(ctx.String(flags.OutputDir.Name))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve output directory: %w", err)
	}

	versions, err := ParseVersions(ctx.String(flags.Versions.Name))
	if err != nil {
		return nil, err
	}

	matrixFile := ctx.String(flags.MatrixFile.Name)
	if matrixFile != "" {
		matrixFile, err = filepath.Abs(matrixFile)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve matrix file path: %w", err)
		}
	}

	runInterval := ctx.Duration(flags.RunInterval.Name)
	runOnce := runInterval == 0

	return &Config{
		ComposeFile:      composeFile,
		Profile:          ctx.String(flags.Profile.Name),
		DockerBinary:     ctx.String(flags.DockerBinary.Name),
		MatrixFile:       matrixFile,
		Versions:         versions,
		OutputDir:        outputDir,
		ReadinessTimeout: ctx.Duration(flags.ReadinessTimeout.Name),
		PollInterval:     ctx.Duration(flags.PollInterval.Name),
		RunInterval:      runInterval,
		RunOnce:          runOnce,
		DatabaseURI:      ctx.String(flags.DatabaseURI.Name),
		Log:              log,
	}, nil
}

// ParseVersions parses a space- or comma-separated version list, e.g. "14 15"
// or "16,17". An empty input means no restriction.
func ParseVersions(raw string) ([]int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	fields := strings.FieldsFunc(raw, func(r rune) bool {
		return r == ' ' || r == ',' || r == '\t'
	})
	versions := make([]int, 0, len(fields))
	for _, f := range fields {
		v, err := strconv.Atoi(f)
		if err != nil {
			return nil, fmt.Errorf("invalid version %q in %q", f, raw)
		}
		versions = append(versions, v)
	}
	return versions, nil
}
