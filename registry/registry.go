// Package registry loads the acceptance matrix: which major versions to
// test, which extension suites to skip, and the readiness parameters.
package registry

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from YAML duration strings
// such as "90s" or "2m", or from plain integer nanoseconds.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err == nil {
		parsed, perr := time.ParseDuration(raw)
		if perr != nil {
			return fmt.Errorf("invalid duration %q: %w", raw, perr)
		}
		*d = Duration(parsed)
		return nil
	}
	var ns int64
	if err := value.Decode(&ns); err != nil {
		return fmt.Errorf("invalid duration value: %w", err)
	}
	*d = Duration(ns)
	return nil
}

func (d Duration) String() string {
	return time.Duration(d).String()
}

// Matrix describes one acceptance run over a set of major versions.
type Matrix struct {
	// Versions are the database major versions to cycle through, in order.
	Versions []int `yaml:"versions"`

	// MinTestVersion is the floor for the test-image version; versions below
	// it are coerced up because older test variants don't exist.
	MinTestVersion int `yaml:"min_test_version"`

	// FixupVersion is the version at or above which the compute container
	// needs the override marker and the fixture copy before the harness runs.
	FixupVersion int `yaml:"fixup_version"`

	// SkipSuites are harness suites excluded via the SKIP environment variable.
	SkipSuites []string `yaml:"skip_suites"`

	// ComputeService and TestService are compose service names.
	ComputeService string `yaml:"compute_service"`
	TestService    string `yaml:"test_service"`

	// ReadinessMarker is the log substring indicating the database accepts
	// connections. ReadinessTimeout bounds the whole wait; PollInterval is
	// the delay between log checks.
	ReadinessMarker  string   `yaml:"readiness_marker"`
	ReadinessTimeout Duration `yaml:"readiness_timeout"`
	PollInterval     Duration `yaml:"poll_interval"`

	// SmokeCommand is run once inside the compute container after readiness.
	SmokeCommand string `yaml:"smoke_command"`

	// HarnessPath is the regression harness entrypoint in the test container.
	// ExtensionsRoot is the directory holding per-suite sources and results.
	HarnessPath    string `yaml:"harness_path"`
	ExtensionsRoot string `yaml:"extensions_root"`

	// OverrideFile is the marker file created in the compute container to
	// suppress a noisy log line that a suite would flag as a failure.
	// FixtureSuite is the suite whose data directory must be copied from the
	// test container into the compute container.
	OverrideFile string `yaml:"override_file"`
	FixtureSuite string `yaml:"fixture_suite"`
}

// Default returns the built-in matrix matching the standard compose setup.
func Default() *Matrix {
	return &Matrix{
		Versions:       []int{14, 15, 16, 17},
		MinTestVersion: 16,
		FixupVersion:   16,
		SkipSuites: []string{
			"timescaledb-src",
			"rdkit-src",
			"postgis-src",
			"pgx_ulid-src",
			"pgtap-src",
			"wal2json_2_5-src",
		},
		ComputeService:   "compute",
		TestService:      "test-extensions",
		ReadinessMarker:  "accepting connections",
		ReadinessTimeout: Duration(60 * time.Second),
		PollInterval:     Duration(3 * time.Second),
		SmokeCommand:     "psql -h localhost -U cloud_admin -p 55433 -d postgres -c 'SELECT 1'",
		HarnessPath:      "/run-tests.sh",
		ExtensionsRoot:   "/ext-src",
		OverrideFile:     "/var/db/postgres/compute/compute_ctl_temp_override.conf",
		FixtureSuite:     "pg_hint_plan-src",
	}
}

// Config contains registry configuration.
type Config struct {
	Log        *slog.Logger
	MatrixFile string // Optional YAML file overriding the defaults
	Versions   []int  // Optional version restriction, applied after the file
}

// Registry holds the resolved matrix for a run.
type Registry struct {
	matrix *Matrix
}

// NewRegistry resolves the matrix: built-in defaults, then the optional
// matrix file, then an explicit version restriction.
func NewRegistry(cfg Config) (*Registry, error) {
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}

	m := Default()
	if cfg.MatrixFile != "" {
		if err := loadInto(cfg.MatrixFile, m); err != nil {
			return nil, fmt.Errorf("failed to load matrix file: %w", err)
		}
		cfg.Log.Debug("loaded matrix file", "path", cfg.MatrixFile)
	}
	if len(cfg.Versions) > 0 {
		m.Versions = cfg.Versions
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}

	cfg.Log.Debug("matrix resolved",
		"versions", m.Versions,
		"skip_suites", len(m.SkipSuites),
		"readiness_timeout", m.ReadinessTimeout)
	return &Registry{matrix: m}, nil
}

// Matrix returns the resolved matrix.
func (r *Registry) Matrix() *Matrix {
	return r.matrix
}

// loadInto overlays a YAML matrix file onto m. Absent keys keep defaults.
func loadInto(path string, m *Matrix) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, m); err != nil {
		return fmt.Errorf("invalid matrix yaml %s: %w", path, err)
	}
	return nil
}

// Validate checks the matrix for values the runner cannot work with.
func (m *Matrix) Validate() error {
	if len(m.Versions) == 0 {
		return fmt.Errorf("matrix has no versions")
	}
	for _, v := range m.Versions {
		if v <= 0 {
			return fmt.Errorf("invalid version %d", v)
		}
	}
	if m.ReadinessTimeout <= 0 {
		return fmt.Errorf("readiness timeout must be positive")
	}
	if m.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive")
	}
	if m.PollInterval > m.ReadinessTimeout {
		return fmt.Errorf("poll interval %s exceeds readiness timeout %s", m.PollInterval, m.ReadinessTimeout)
	}
	if m.ComputeService == "" || m.TestService == "" {
		return fmt.Errorf("compute and test service names are required")
	}
	if m.ReadinessMarker == "" {
		return fmt.Errorf("readiness marker is required")
	}
	return nil
}

// TestVersion returns the test-image version for a compute version,
// coercing anything below the minimum test variant up to it.
func (m *Matrix) TestVersion(version int) int {
	if version < m.MinTestVersion {
		return m.MinTestVersion
	}
	return version
}

// NeedsFixups reports whether a version requires the pre-harness fixups.
func (m *Matrix) NeedsFixups(version int) bool {
	return version >= m.FixupVersion
}
