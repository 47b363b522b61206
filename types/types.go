package types

import (
	"fmt"
	"strings"
	"time"
)

// Status represents the possible outcomes of a version cycle or a whole run.
type Status string

const (
	StatusPass    Status = "pass"
	StatusFail    Status = "fail"
	StatusTimeout Status = "timeout"
	StatusSkip    Status = "skip"
	StatusError   Status = "error"
)

// VersionResult captures the outcome of a single major-version cycle:
// cleanup, startup, readiness wait, smoke query, fixups and harness run.
type VersionResult struct {
	Version      int           // Major version under test
	TestVersion  int           // Version of the test image (coerced to the minimum test variant)
	Status       Status
	Duration     time.Duration
	ReadyAfter   time.Duration // How long the compute took to report readiness
	FailedSuites []string      // Suites reported failed by the harness, in report order
	Err          error         // Terminal error of the cycle, if any
}

// Failed reports whether the cycle ended in any non-passing state.
func (v *VersionResult) Failed() bool {
	return v.Status != StatusPass && v.Status != StatusSkip
}

// RunResult aggregates the version cycles of one matrix run.
type RunResult struct {
	RunID    string
	Status   Status
	Duration time.Duration
	Versions []*VersionResult
	Stats    RunStats
}

// RunStats tracks aggregate pass/fail counts for a run.
type RunStats struct {
	Total     int
	Passed    int
	Failed    int
	Skipped   int
	StartTime time.Time
	EndTime   time.Time
}

// AddVersion appends a version result and updates the aggregate stats.
func (r *RunResult) AddVersion(v *VersionResult) {
	r.Versions = append(r.Versions, v)
	r.Stats.Total++
	switch v.Status {
	case StatusPass:
		r.Stats.Passed++
	case StatusSkip:
		r.Stats.Skipped++
	default:
		r.Stats.Failed++
	}
}

// String returns a one-line human-readable summary of the run.
func (r *RunResult) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "run %s: %s (%d versions, %d passed, %d failed",
		r.RunID, r.Status, r.Stats.Total, r.Stats.Passed, r.Stats.Failed)
	if r.Stats.Skipped > 0 {
		fmt.Fprintf(&b, ", %d skipped", r.Stats.Skipped)
	}
	fmt.Fprintf(&b, ", duration %s)", r.Duration.Round(time.Millisecond))
	return b.String()
}

// DetermineRunStatus derives the overall status from the per-version results.
// Any failing version fails the run; a run with no versions is an error.
func DetermineRunStatus(r *RunResult) Status {
	if len(r.Versions) == 0 {
		return StatusError
	}
	for _, v := range r.Versions {
		if v.Failed() {
			return StatusFail
		}
	}
	return StatusPass
}
